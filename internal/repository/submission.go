package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/clientportal/internal/domain/model"
)

// SubmissionFilter — фильтр выборки отправок.
type SubmissionFilter struct {
	FormID   string
	ClientID string
	Status   string
}

// SubmissionRepository — интерфейс для таблицы form_submissions.
type SubmissionRepository interface {
	// Create сохраняет отправку. ID задаётся вызывающим.
	Create(ctx context.Context, s *model.FormSubmission) error
	// GetByID возвращает отправку по ID.
	GetByID(ctx context.Context, id string) (*model.FormSubmission, error)
	// List возвращает отправки по фильтру, новые первыми.
	List(ctx context.Context, filter SubmissionFilter, limit, offset int) ([]*model.FormSubmission, error)
	// Count возвращает количество отправок по фильтру.
	Count(ctx context.Context, filter SubmissionFilter) (int, error)
	// UpdateStatus меняет статус, если текущий статус равен from.
	// Если запись есть, но статус другой — ErrConflict.
	UpdateStatus(ctx context.Context, id, from, to string) error
}

type submissionRepo struct {
	db DBTX
}

// NewSubmissionRepository создаёт репозиторий отправок форм.
func NewSubmissionRepository(db DBTX) SubmissionRepository {
	return &submissionRepo{db: db}
}

const submissionColumns = `id, form_id, client_id, submitter_id, submitter_email, data,
	status, created_at, updated_at`

func scanSubmission(row pgx.Row) (*model.FormSubmission, error) {
	s := &model.FormSubmission{}
	var data []byte
	if err := row.Scan(
		&s.ID, &s.FormID, &s.ClientID, &s.SubmitterID, &s.SubmitterEmail, &data,
		&s.Status, &s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &s.Data); err != nil {
		return nil, fmt.Errorf("ошибка разбора данных отправки %s: %w", s.ID, err)
	}
	return s, nil
}

func (r *submissionRepo) Create(ctx context.Context, s *model.FormSubmission) error {
	data, err := json.Marshal(s.Data)
	if err != nil {
		return fmt.Errorf("ошибка сериализации данных отправки: %w", err)
	}
	if s.Status == "" {
		s.Status = model.SubmissionNew
	}
	err = r.db.QueryRow(ctx, `
		INSERT INTO form_submissions (id, form_id, client_id, submitter_id, submitter_email, data, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		s.ID, s.FormID, s.ClientID, s.SubmitterID, s.SubmitterEmail, data, s.Status,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка сохранения отправки: %w", err)
	}
	return nil
}

func (r *submissionRepo) GetByID(ctx context.Context, id string) (*model.FormSubmission, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM form_submissions WHERE id = $1`, submissionColumns), id)
	s, err := scanSubmission(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения отправки: %w", err)
	}
	return s, nil
}

func submissionWhere(filter SubmissionFilter) (string, []any) {
	var conditions []string
	var args []any
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("form_id", filter.FormID)
	add("client_id", filter.ClientID)
	add("status", filter.Status)

	if len(conditions) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}

func (r *submissionRepo) List(ctx context.Context, filter SubmissionFilter, limit, offset int) ([]*model.FormSubmission, error) {
	where, args := submissionWhere(filter)
	query := fmt.Sprintf(`
		SELECT %s FROM form_submissions
		%s
		ORDER BY created_at DESC, id
		LIMIT $%d OFFSET $%d`, submissionColumns, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения отправок: %w", err)
	}
	defer rows.Close()

	var result []*model.FormSubmission
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования отправки: %w", err)
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

func (r *submissionRepo) Count(ctx context.Context, filter SubmissionFilter) (int, error) {
	where, args := submissionWhere(filter)
	var count int
	if err := r.db.QueryRow(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM form_submissions %s`, where), args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта отправок: %w", err)
	}
	return count, nil
}

func (r *submissionRepo) UpdateStatus(ctx context.Context, id, from, to string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE form_submissions
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2`, id, from, to)
	if err != nil {
		return fmt.Errorf("ошибка изменения статуса отправки: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// Отличаем отсутствие записи от гонки смены статуса
	var exists bool
	if err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM form_submissions WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("ошибка проверки отправки: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return fmt.Errorf("%w: статус отправки изменён параллельно", ErrConflict)
}
