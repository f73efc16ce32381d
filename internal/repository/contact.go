package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/clientportal/internal/domain/model"
)

// ContactRepository — интерфейс для таблицы client_contacts.
type ContactRepository interface {
	// Create создаёт контакт. Повтор пары (client_id, user_id) — ErrConflict.
	Create(ctx context.Context, c *model.ClientContact) error
	// Upsert создаёт контакт или обновляет существующий по (client_id, user_id).
	// Возвращает true, если запись создана.
	Upsert(ctx context.Context, c *model.ClientContact) (bool, error)
	// GetByID возвращает контакт по ID.
	GetByID(ctx context.Context, id string) (*model.ClientContact, error)
	// Update обновляет флаги, подпись и признак основного контакта.
	Update(ctx context.Context, c *model.ClientContact) error
	// SetActive включает или выключает контакт.
	SetActive(ctx context.Context, id string, active bool) error
	// Delete удаляет контакт.
	Delete(ctx context.Context, id string) error
	// ListByClient возвращает контакты клиента в порядке привязки.
	ListByClient(ctx context.Context, clientID string) ([]*model.ClientContact, error)
	// ListActiveByUser возвращает активные контакты пользователя у активных
	// клиентов в порядке привязки (created_at, затем id).
	ListActiveByUser(ctx context.Context, userID string) ([]*model.ContactWithClient, error)
	// FindActive возвращает контакт пользователя у клиента, если активны
	// и контакт, и клиент. Иначе — ErrNotFound.
	FindActive(ctx context.Context, clientID, userID string) (*model.ContactWithClient, error)
	// FirstActive возвращает самый ранний активный контакт пользователя
	// у активного клиента. Иначе — ErrNotFound.
	FirstActive(ctx context.Context, userID string) (*model.ContactWithClient, error)
}

// contactRepo — реализация ContactRepository.
type contactRepo struct {
	db DBTX
}

// NewContactRepository создаёт репозиторий контактов.
func NewContactRepository(db DBTX) ContactRepository {
	return &contactRepo{db: db}
}

const contactColumns = `id, client_id, user_id, email, name, role_label, is_primary, is_active,
	can_dashboard, can_billing, can_analytics, can_uptime, can_support, can_site_health,
	created_at, updated_at`

// joinedColumns — колонки контакта и клиента для выборок с JOIN.
const joinedColumns = `cc.id, cc.client_id, cc.user_id, cc.email, cc.name, cc.role_label,
	cc.is_primary, cc.is_active, cc.can_dashboard, cc.can_billing, cc.can_analytics,
	cc.can_uptime, cc.can_support, cc.can_site_health, cc.created_at, cc.updated_at,
	c.id, c.name, c.website_url, c.email, c.billing_customer_id, c.analytics_site_id,
	c.uptime_monitor_id, c.hidden_features, c.is_active, c.created_at, c.updated_at`

func contactScanTargets(c *model.ClientContact) []any {
	return []any{
		&c.ID, &c.ClientID, &c.UserID, &c.Email, &c.Name, &c.RoleLabel, &c.IsPrimary, &c.IsActive,
		&c.CanDashboard, &c.CanBilling, &c.CanAnalytics, &c.CanUptime, &c.CanSupport, &c.CanSiteHealth,
		&c.CreatedAt, &c.UpdatedAt,
	}
}

func joinedScanTargets(cw *model.ContactWithClient) []any {
	return append(contactScanTargets(&cw.Contact), clientScanTargets(&cw.Client)...)
}

func (r *contactRepo) Create(ctx context.Context, c *model.ClientContact) error {
	query := `
		INSERT INTO client_contacts (id, client_id, user_id, email, name, role_label,
			is_primary, is_active, can_dashboard, can_billing, can_analytics,
			can_uptime, can_support, can_site_health)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		c.ID, c.ClientID, c.UserID, c.Email, c.Name, c.RoleLabel,
		c.IsPrimary, c.IsActive, c.CanDashboard, c.CanBilling, c.CanAnalytics,
		c.CanUptime, c.CanSupport, c.CanSiteHealth,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: пользователь %s уже привязан к клиенту %s", ErrConflict, c.UserID, c.ClientID)
		}
		return fmt.Errorf("ошибка создания контакта: %w", err)
	}
	return nil
}

func (r *contactRepo) Upsert(ctx context.Context, c *model.ClientContact) (bool, error) {
	// xmax = 0 только у вставленной строки
	query := `
		INSERT INTO client_contacts (id, client_id, user_id, email, name, role_label,
			is_primary, is_active, can_dashboard, can_billing, can_analytics,
			can_uptime, can_support, can_site_health)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (client_id, user_id) DO UPDATE SET
			email = EXCLUDED.email,
			name = EXCLUDED.name,
			role_label = EXCLUDED.role_label,
			is_primary = EXCLUDED.is_primary,
			is_active = EXCLUDED.is_active,
			can_dashboard = EXCLUDED.can_dashboard,
			can_billing = EXCLUDED.can_billing,
			can_analytics = EXCLUDED.can_analytics,
			can_uptime = EXCLUDED.can_uptime,
			can_support = EXCLUDED.can_support,
			can_site_health = EXCLUDED.can_site_health,
			updated_at = NOW()
		RETURNING id, created_at, updated_at, (xmax = 0)`

	var inserted bool
	err := r.db.QueryRow(ctx, query,
		c.ID, c.ClientID, c.UserID, c.Email, c.Name, c.RoleLabel,
		c.IsPrimary, c.IsActive, c.CanDashboard, c.CanBilling, c.CanAnalytics,
		c.CanUptime, c.CanSupport, c.CanSiteHealth,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt, &inserted)
	if err != nil {
		return false, fmt.Errorf("ошибка upsert контакта: %w", err)
	}
	return inserted, nil
}

func (r *contactRepo) GetByID(ctx context.Context, id string) (*model.ClientContact, error) {
	query := fmt.Sprintf(`SELECT %s FROM client_contacts WHERE id = $1`, contactColumns)

	c := &model.ClientContact{}
	if err := r.db.QueryRow(ctx, query, id).Scan(contactScanTargets(c)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения контакта: %w", err)
	}
	return c, nil
}

func (r *contactRepo) Update(ctx context.Context, c *model.ClientContact) error {
	query := `
		UPDATE client_contacts
		SET email = $2, name = $3, role_label = $4, is_primary = $5,
			can_dashboard = $6, can_billing = $7, can_analytics = $8,
			can_uptime = $9, can_support = $10, can_site_health = $11,
			updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`

	err := r.db.QueryRow(ctx, query,
		c.ID, c.Email, c.Name, c.RoleLabel, c.IsPrimary,
		c.CanDashboard, c.CanBilling, c.CanAnalytics,
		c.CanUptime, c.CanSupport, c.CanSiteHealth,
	).Scan(&c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка обновления контакта: %w", err)
	}
	return nil
}

func (r *contactRepo) SetActive(ctx context.Context, id string, active bool) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE client_contacts SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("ошибка изменения активности контакта: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *contactRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM client_contacts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ошибка удаления контакта: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *contactRepo) ListByClient(ctx context.Context, clientID string) ([]*model.ClientContact, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM client_contacts
		WHERE client_id = $1
		ORDER BY created_at, id`, contactColumns)

	rows, err := r.db.Query(ctx, query, clientID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения контактов клиента: %w", err)
	}
	defer rows.Close()

	var result []*model.ClientContact
	for rows.Next() {
		c := &model.ClientContact{}
		if err := rows.Scan(contactScanTargets(c)...); err != nil {
			return nil, fmt.Errorf("ошибка сканирования контакта: %w", err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func (r *contactRepo) ListActiveByUser(ctx context.Context, userID string) ([]*model.ContactWithClient, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM client_contacts cc
		JOIN clients c ON c.id = cc.client_id
		WHERE cc.user_id = $1 AND cc.is_active AND c.is_active
		ORDER BY cc.created_at, cc.id`, joinedColumns)

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения контактов пользователя: %w", err)
	}
	defer rows.Close()

	var result []*model.ContactWithClient
	for rows.Next() {
		cw := &model.ContactWithClient{}
		if err := rows.Scan(joinedScanTargets(cw)...); err != nil {
			return nil, fmt.Errorf("ошибка сканирования контакта: %w", err)
		}
		result = append(result, cw)
	}
	return result, rows.Err()
}

func (r *contactRepo) FindActive(ctx context.Context, clientID, userID string) (*model.ContactWithClient, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM client_contacts cc
		JOIN clients c ON c.id = cc.client_id
		WHERE cc.client_id = $1 AND cc.user_id = $2 AND cc.is_active AND c.is_active`, joinedColumns)

	cw := &model.ContactWithClient{}
	if err := r.db.QueryRow(ctx, query, clientID, userID).Scan(joinedScanTargets(cw)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка поиска контакта: %w", err)
	}
	return cw, nil
}

func (r *contactRepo) FirstActive(ctx context.Context, userID string) (*model.ContactWithClient, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM client_contacts cc
		JOIN clients c ON c.id = cc.client_id
		WHERE cc.user_id = $1 AND cc.is_active AND c.is_active
		ORDER BY cc.created_at, cc.id
		LIMIT 1`, joinedColumns)

	cw := &model.ContactWithClient{}
	if err := r.db.QueryRow(ctx, query, userID).Scan(joinedScanTargets(cw)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка поиска первого контакта: %w", err)
	}
	return cw, nil
}
