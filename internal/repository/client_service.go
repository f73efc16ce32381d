package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/clientportal/internal/domain/model"
)

// ClientServiceRepository — услуги клиента (client_services)
// и каталог рекомендуемых услуг (recommended_services).
type ClientServiceRepository interface {
	// ListByClient возвращает услуги клиента, отсортированные по типу.
	ListByClient(ctx context.Context, clientID string) ([]model.ClientService, error)
	// ReplaceAll удаляет все услуги клиента и создаёт заданные.
	// Атомарность обеспечивает вызывающий (транзакция через TxRunner).
	ReplaceAll(ctx context.Context, clientID string, serviceTypes []string) error
	// ListRecommended возвращает каталог рекомендаций.
	ListRecommended(ctx context.Context) ([]model.RecommendedService, error)
	// UpsertRecommended создаёт или обновляет рекомендацию по service_type.
	UpsertRecommended(ctx context.Context, rs *model.RecommendedService) error
}

type clientServiceRepo struct {
	db DBTX
}

// NewClientServiceRepository создаёт репозиторий услуг клиента.
func NewClientServiceRepository(db DBTX) ClientServiceRepository {
	return &clientServiceRepo{db: db}
}

func (r *clientServiceRepo) ListByClient(ctx context.Context, clientID string) ([]model.ClientService, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, client_id, service_type, created_at
		FROM client_services
		WHERE client_id = $1
		ORDER BY service_type`, clientID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения услуг клиента: %w", err)
	}
	defer rows.Close()

	var result []model.ClientService
	for rows.Next() {
		var s model.ClientService
		if err := rows.Scan(&s.ID, &s.ClientID, &s.ServiceType, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования услуги: %w", err)
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

func (r *clientServiceRepo) ReplaceAll(ctx context.Context, clientID string, serviceTypes []string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM client_services WHERE client_id = $1`, clientID); err != nil {
		return fmt.Errorf("ошибка удаления услуг клиента: %w", err)
	}

	for _, st := range serviceTypes {
		_, err := r.db.Exec(ctx, `
			INSERT INTO client_services (id, client_id, service_type)
			VALUES ($1, $2, $3)`, uuid.NewString(), clientID, st)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: услуга %s указана дважды", ErrConflict, st)
			}
			if isForeignKeyViolation(err) {
				return ErrNotFound
			}
			return fmt.Errorf("ошибка создания услуги %s: %w", st, err)
		}
	}
	return nil
}

func (r *clientServiceRepo) ListRecommended(ctx context.Context) ([]model.RecommendedService, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, service_type, title, description, url, sort_order
		FROM recommended_services
		ORDER BY sort_order, title`)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения рекомендаций: %w", err)
	}
	defer rows.Close()

	var result []model.RecommendedService
	for rows.Next() {
		var s model.RecommendedService
		if err := rows.Scan(&s.ID, &s.ServiceType, &s.Title, &s.Description, &s.URL, &s.SortOrder); err != nil {
			return nil, fmt.Errorf("ошибка сканирования рекомендации: %w", err)
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

func (r *clientServiceRepo) UpsertRecommended(ctx context.Context, rs *model.RecommendedService) error {
	if rs.ID == "" {
		rs.ID = uuid.NewString()
	}
	err := r.db.QueryRow(ctx, `
		INSERT INTO recommended_services (id, service_type, title, description, url, sort_order)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (service_type) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			url = EXCLUDED.url,
			sort_order = EXCLUDED.sort_order
		RETURNING id`,
		rs.ID, rs.ServiceType, rs.Title, rs.Description, rs.URL, rs.SortOrder,
	).Scan(&rs.ID)
	if err != nil {
		return fmt.Errorf("ошибка сохранения рекомендации: %w", err)
	}
	return nil
}

// SiteCheckRepository — снимки проверок сайта (site_checks).
type SiteCheckRepository interface {
	// Insert сохраняет снимок проверки.
	Insert(ctx context.Context, sc *model.SiteCheck) error
	// Latest возвращает последний снимок каждого типа проверки клиента.
	Latest(ctx context.Context, clientID string) ([]model.SiteCheck, error)
	// LatestByType возвращает последний снимок проверки заданного типа.
	LatestByType(ctx context.Context, clientID, checkType string) (*model.SiteCheck, error)
}

type siteCheckRepo struct {
	db DBTX
}

// NewSiteCheckRepository создаёт репозиторий проверок сайта.
func NewSiteCheckRepository(db DBTX) SiteCheckRepository {
	return &siteCheckRepo{db: db}
}

func (r *siteCheckRepo) Insert(ctx context.Context, sc *model.SiteCheck) error {
	if sc.ID == "" {
		sc.ID = uuid.NewString()
	}
	details, err := json.Marshal(sc.Details)
	if err != nil {
		return fmt.Errorf("ошибка сериализации деталей проверки: %w", err)
	}
	err = r.db.QueryRow(ctx, `
		INSERT INTO site_checks (id, client_id, check_type, score, status, details)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING checked_at`,
		sc.ID, sc.ClientID, sc.CheckType, sc.Score, sc.Status, details,
	).Scan(&sc.CheckedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка сохранения проверки сайта: %w", err)
	}
	return nil
}

func scanSiteCheck(row pgx.Row) (*model.SiteCheck, error) {
	sc := &model.SiteCheck{}
	var details []byte
	if err := row.Scan(&sc.ID, &sc.ClientID, &sc.CheckType, &sc.Score, &sc.Status, &details, &sc.CheckedAt); err != nil {
		return nil, err
	}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &sc.Details); err != nil {
			return nil, fmt.Errorf("ошибка разбора деталей проверки: %w", err)
		}
	}
	return sc, nil
}

func (r *siteCheckRepo) Latest(ctx context.Context, clientID string) ([]model.SiteCheck, error) {
	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT ON (check_type)
			id, client_id, check_type, score, status, details, checked_at
		FROM site_checks
		WHERE client_id = $1
		ORDER BY check_type, checked_at DESC`, clientID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения проверок сайта: %w", err)
	}
	defer rows.Close()

	var result []model.SiteCheck
	for rows.Next() {
		sc, err := scanSiteCheck(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования проверки сайта: %w", err)
		}
		result = append(result, *sc)
	}
	return result, rows.Err()
}

func (r *siteCheckRepo) LatestByType(ctx context.Context, clientID, checkType string) (*model.SiteCheck, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, client_id, check_type, score, status, details, checked_at
		FROM site_checks
		WHERE client_id = $1 AND check_type = $2
		ORDER BY checked_at DESC
		LIMIT 1`, clientID, checkType)

	sc, err := scanSiteCheck(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения проверки сайта: %w", err)
	}
	return sc, nil
}
