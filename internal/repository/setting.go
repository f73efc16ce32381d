package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/clientportal/internal/domain/model"
)

// SettingsRepository — интерфейс для таблицы system_settings (ключ-значение).
type SettingsRepository interface {
	// Get возвращает настройку по ключу. Если не найдена — ErrNotFound.
	Get(ctx context.Context, key string) (*model.SystemSetting, error)
	// Set создаёт или обновляет настройку (upsert).
	Set(ctx context.Context, key, value, updatedBy string) error
	// SetMany сохраняет несколько настроек одним вызовом.
	SetMany(ctx context.Context, values map[string]string, updatedBy string) error
	// List возвращает все настройки.
	List(ctx context.Context) ([]model.SystemSetting, error)
	// ListByPrefix возвращает настройки с ключами, начинающимися на prefix.
	ListByPrefix(ctx context.Context, prefix string) ([]model.SystemSetting, error)
	// Delete удаляет настройку по ключу.
	Delete(ctx context.Context, key string) error
}

// settingsRepo — реализация SettingsRepository.
type settingsRepo struct {
	db DBTX
}

// NewSettingsRepository создаёт репозиторий системных настроек.
func NewSettingsRepository(db DBTX) SettingsRepository {
	return &settingsRepo{db: db}
}

// Get возвращает настройку по ключу.
func (r *settingsRepo) Get(ctx context.Context, key string) (*model.SystemSetting, error) {
	query := `
		SELECT key, value, updated_at, updated_by
		FROM system_settings
		WHERE key = $1`

	s := &model.SystemSetting{}
	err := r.db.QueryRow(ctx, query, key).Scan(
		&s.Key, &s.Value, &s.UpdatedAt, &s.UpdatedBy,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения system_settings[%s]: %w", key, err)
	}
	return s, nil
}

// Set создаёт или обновляет настройку (INSERT ... ON CONFLICT DO UPDATE).
func (r *settingsRepo) Set(ctx context.Context, key, value, updatedBy string) error {
	query := `
		INSERT INTO system_settings (key, value, updated_by)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value,
			updated_by = EXCLUDED.updated_by,
			updated_at = NOW()`

	_, err := r.db.Exec(ctx, query, key, value, updatedBy)
	if err != nil {
		return fmt.Errorf("ошибка сохранения system_settings[%s]: %w", key, err)
	}
	return nil
}

// SetMany сохраняет настройки по одной; атомарность — через TxRunner у вызывающего.
func (r *settingsRepo) SetMany(ctx context.Context, values map[string]string, updatedBy string) error {
	for key, value := range values {
		if err := r.Set(ctx, key, value, updatedBy); err != nil {
			return err
		}
	}
	return nil
}

// List возвращает все настройки, отсортированные по ключу.
func (r *settingsRepo) List(ctx context.Context) ([]model.SystemSetting, error) {
	query := `
		SELECT key, value, updated_at, updated_by
		FROM system_settings
		ORDER BY key`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка system_settings: %w", err)
	}
	defer rows.Close()

	var settings []model.SystemSetting
	for rows.Next() {
		var s model.SystemSetting
		if err := rows.Scan(&s.Key, &s.Value, &s.UpdatedAt, &s.UpdatedBy); err != nil {
			return nil, fmt.Errorf("ошибка сканирования system_settings: %w", err)
		}
		settings = append(settings, s)
	}
	return settings, rows.Err()
}

// ListByPrefix возвращает настройки с ключами, начинающимися на prefix.
// Например, prefix="branding." вернёт "branding.company_name", "branding.logo_url" и т.д.
func (r *settingsRepo) ListByPrefix(ctx context.Context, prefix string) ([]model.SystemSetting, error) {
	query := `
		SELECT key, value, updated_at, updated_by
		FROM system_settings
		WHERE starts_with(key, $1)
		ORDER BY key`

	rows, err := r.db.Query(ctx, query, prefix)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения system_settings по префиксу %q: %w", prefix, err)
	}
	defer rows.Close()

	var settings []model.SystemSetting
	for rows.Next() {
		var s model.SystemSetting
		if err := rows.Scan(&s.Key, &s.Value, &s.UpdatedAt, &s.UpdatedBy); err != nil {
			return nil, fmt.Errorf("ошибка сканирования system_settings: %w", err)
		}
		settings = append(settings, s)
	}
	return settings, rows.Err()
}

// Delete удаляет настройку по ключу.
func (r *settingsRepo) Delete(ctx context.Context, key string) error {
	query := `DELETE FROM system_settings WHERE key = $1`
	tag, err := r.db.Exec(ctx, query, key)
	if err != nil {
		return fmt.Errorf("ошибка удаления system_settings[%s]: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
