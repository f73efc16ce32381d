package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/clientportal/internal/domain/model"
)

// FormRepository — интерфейс для таблицы forms.
type FormRepository interface {
	// Create создаёт форму. ID задаётся вызывающим.
	Create(ctx context.Context, f *model.Form) error
	// GetByID возвращает форму по ID.
	GetByID(ctx context.Context, id string) (*model.Form, error)
	// List возвращает формы, отсортированные по названию.
	List(ctx context.Context, limit, offset int) ([]*model.Form, error)
	// Count возвращает количество форм.
	Count(ctx context.Context) (int, error)
	// Update перезаписывает форму (без версионирования).
	Update(ctx context.Context, f *model.Form) error
	// Upsert создаёт форму или перезаписывает существующую с тем же ID.
	Upsert(ctx context.Context, f *model.Form) error
	// Delete удаляет форму вместе с отправками.
	Delete(ctx context.Context, id string) error
}

type formRepo struct {
	db DBTX
}

// NewFormRepository создаёт репозиторий форм.
func NewFormRepository(db DBTX) FormRepository {
	return &formRepo{db: db}
}

const formColumns = `id, name, description, fields, settings, is_public, is_active,
	created_by, created_at, updated_at`

// encodeForm сериализует поля и настройки формы в JSONB.
func encodeForm(f *model.Form) (fields, settings []byte, err error) {
	if f.Fields == nil {
		f.Fields = []model.FormField{}
	}
	if fields, err = json.Marshal(f.Fields); err != nil {
		return nil, nil, fmt.Errorf("ошибка сериализации полей формы: %w", err)
	}
	if settings, err = json.Marshal(f.Settings); err != nil {
		return nil, nil, fmt.Errorf("ошибка сериализации настроек формы: %w", err)
	}
	return fields, settings, nil
}

func scanForm(row pgx.Row) (*model.Form, error) {
	f := &model.Form{}
	var fields, settings []byte
	if err := row.Scan(
		&f.ID, &f.Name, &f.Description, &fields, &settings, &f.IsPublic, &f.IsActive,
		&f.CreatedBy, &f.CreatedAt, &f.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(fields, &f.Fields); err != nil {
		return nil, fmt.Errorf("ошибка разбора полей формы %s: %w", f.ID, err)
	}
	if err := json.Unmarshal(settings, &f.Settings); err != nil {
		return nil, fmt.Errorf("ошибка разбора настроек формы %s: %w", f.ID, err)
	}
	return f, nil
}

func (r *formRepo) Create(ctx context.Context, f *model.Form) error {
	fields, settings, err := encodeForm(f)
	if err != nil {
		return err
	}
	err = r.db.QueryRow(ctx, `
		INSERT INTO forms (id, name, description, fields, settings, is_public, is_active, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		f.ID, f.Name, f.Description, fields, settings, f.IsPublic, f.IsActive, f.CreatedBy,
	).Scan(&f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: форма %s уже существует", ErrConflict, f.ID)
		}
		return fmt.Errorf("ошибка создания формы: %w", err)
	}
	return nil
}

func (r *formRepo) GetByID(ctx context.Context, id string) (*model.Form, error) {
	row := r.db.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM forms WHERE id = $1`, formColumns), id)
	f, err := scanForm(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения формы: %w", err)
	}
	return f, nil
}

func (r *formRepo) List(ctx context.Context, limit, offset int) ([]*model.Form, error) {
	rows, err := r.db.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM forms
		ORDER BY name, id
		LIMIT $1 OFFSET $2`, formColumns), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка форм: %w", err)
	}
	defer rows.Close()

	var result []*model.Form
	for rows.Next() {
		f, err := scanForm(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования формы: %w", err)
		}
		result = append(result, f)
	}
	return result, rows.Err()
}

func (r *formRepo) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM forms`).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта форм: %w", err)
	}
	return count, nil
}

func (r *formRepo) Update(ctx context.Context, f *model.Form) error {
	fields, settings, err := encodeForm(f)
	if err != nil {
		return err
	}
	err = r.db.QueryRow(ctx, `
		UPDATE forms
		SET name = $2, description = $3, fields = $4, settings = $5,
			is_public = $6, is_active = $7, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		f.ID, f.Name, f.Description, fields, settings, f.IsPublic, f.IsActive,
	).Scan(&f.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка обновления формы: %w", err)
	}
	return nil
}

func (r *formRepo) Upsert(ctx context.Context, f *model.Form) error {
	fields, settings, err := encodeForm(f)
	if err != nil {
		return err
	}
	err = r.db.QueryRow(ctx, `
		INSERT INTO forms (id, name, description, fields, settings, is_public, is_active, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			fields = EXCLUDED.fields,
			settings = EXCLUDED.settings,
			is_public = EXCLUDED.is_public,
			is_active = EXCLUDED.is_active,
			updated_at = NOW()
		RETURNING created_at, updated_at`,
		f.ID, f.Name, f.Description, fields, settings, f.IsPublic, f.IsActive, f.CreatedBy,
	).Scan(&f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return fmt.Errorf("ошибка upsert формы: %w", err)
	}
	return nil
}

func (r *formRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM forms WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ошибка удаления формы: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
