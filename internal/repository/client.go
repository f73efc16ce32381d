package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/clientportal/internal/domain/model"
)

// ClientFilter — фильтр выборки клиентов.
type ClientFilter struct {
	// Active — nil: все, true/false: только активные/неактивные
	Active *bool
	// Search — подстрока названия или сайта (без учёта регистра)
	Search string
}

// ClientRepository — интерфейс CRUD для таблицы clients.
type ClientRepository interface {
	// Create создаёт клиента. ID задаётся вызывающим.
	Create(ctx context.Context, c *model.Client) error
	// GetByID возвращает клиента по ID.
	GetByID(ctx context.Context, id string) (*model.Client, error)
	// List возвращает клиентов по фильтру, отсортированных по названию.
	List(ctx context.Context, filter ClientFilter, limit, offset int) ([]*model.Client, error)
	// Count возвращает количество клиентов по фильтру.
	Count(ctx context.Context, filter ClientFilter) (int, error)
	// Update обновляет редактируемые поля клиента.
	Update(ctx context.Context, c *model.Client) error
	// SetActive включает или выключает клиента.
	SetActive(ctx context.Context, id string, active bool) error
	// SetHiddenFeatures заменяет список скрытых возможностей.
	SetHiddenFeatures(ctx context.Context, id string, hidden []string) error
}

// clientRepo — реализация ClientRepository.
type clientRepo struct {
	db DBTX
}

// NewClientRepository создаёт репозиторий клиентов.
func NewClientRepository(db DBTX) ClientRepository {
	return &clientRepo{db: db}
}

const clientColumns = `id, name, website_url, email, billing_customer_id, analytics_site_id,
	uptime_monitor_id, hidden_features, is_active, created_at, updated_at`

// clientScanTargets возвращает указатели на поля клиента в порядке clientColumns.
func clientScanTargets(c *model.Client) []any {
	return []any{
		&c.ID, &c.Name, &c.WebsiteURL, &c.Email, &c.BillingCustomerID, &c.AnalyticsSiteID,
		&c.UptimeMonitorID, &c.HiddenFeatures, &c.IsActive, &c.CreatedAt, &c.UpdatedAt,
	}
}

func (r *clientRepo) Create(ctx context.Context, c *model.Client) error {
	if c.HiddenFeatures == nil {
		c.HiddenFeatures = []string{}
	}
	query := `
		INSERT INTO clients (id, name, website_url, email, billing_customer_id,
			analytics_site_id, uptime_monitor_id, hidden_features, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		c.ID, c.Name, c.WebsiteURL, c.Email, c.BillingCustomerID,
		c.AnalyticsSiteID, c.UptimeMonitorID, c.HiddenFeatures, c.IsActive,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: клиент %s уже существует", ErrConflict, c.ID)
		}
		return fmt.Errorf("ошибка создания клиента: %w", err)
	}
	return nil
}

func (r *clientRepo) GetByID(ctx context.Context, id string) (*model.Client, error) {
	query := fmt.Sprintf(`SELECT %s FROM clients WHERE id = $1`, clientColumns)

	c := &model.Client{}
	if err := r.db.QueryRow(ctx, query, id).Scan(clientScanTargets(c)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения клиента: %w", err)
	}
	return c, nil
}

// clientWhere строит WHERE по фильтру и возвращает аргументы.
func clientWhere(filter ClientFilter) (string, []any) {
	var conditions []string
	var args []any
	argNum := 1

	if filter.Active != nil {
		conditions = append(conditions, fmt.Sprintf("is_active = $%d", argNum))
		args = append(args, *filter.Active)
		argNum++
	}
	if s := strings.TrimSpace(filter.Search); s != "" {
		conditions = append(conditions,
			fmt.Sprintf("(name ILIKE $%d OR website_url ILIKE $%d)", argNum, argNum))
		args = append(args, "%"+s+"%")
	}

	if len(conditions) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}

func (r *clientRepo) List(ctx context.Context, filter ClientFilter, limit, offset int) ([]*model.Client, error) {
	where, args := clientWhere(filter)
	query := fmt.Sprintf(`
		SELECT %s FROM clients
		%s
		ORDER BY name, id
		LIMIT $%d OFFSET $%d`, clientColumns, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка клиентов: %w", err)
	}
	defer rows.Close()

	var result []*model.Client
	for rows.Next() {
		c := &model.Client{}
		if err := rows.Scan(clientScanTargets(c)...); err != nil {
			return nil, fmt.Errorf("ошибка сканирования клиента: %w", err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func (r *clientRepo) Count(ctx context.Context, filter ClientFilter) (int, error) {
	where, args := clientWhere(filter)
	query := fmt.Sprintf(`SELECT COUNT(*) FROM clients %s`, where)

	var count int
	if err := r.db.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта клиентов: %w", err)
	}
	return count, nil
}

func (r *clientRepo) Update(ctx context.Context, c *model.Client) error {
	query := `
		UPDATE clients
		SET name = $2, website_url = $3, email = $4, billing_customer_id = $5,
			analytics_site_id = $6, uptime_monitor_id = $7, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`

	err := r.db.QueryRow(ctx, query,
		c.ID, c.Name, c.WebsiteURL, c.Email, c.BillingCustomerID,
		c.AnalyticsSiteID, c.UptimeMonitorID,
	).Scan(&c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка обновления клиента: %w", err)
	}
	return nil
}

func (r *clientRepo) SetActive(ctx context.Context, id string, active bool) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE clients SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("ошибка изменения активности клиента: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *clientRepo) SetHiddenFeatures(ctx context.Context, id string, hidden []string) error {
	if hidden == nil {
		hidden = []string{}
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE clients SET hidden_features = $2, updated_at = NOW() WHERE id = $1`, id, hidden)
	if err != nil {
		return fmt.Errorf("ошибка сохранения скрытых возможностей: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
