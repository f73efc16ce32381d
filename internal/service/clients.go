// clients.go — сервис управления клиентами портала:
// карточка клиента, скрытые возможности, подключённые услуги.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"net/url"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/bigkaa/clientportal/internal/domain/model"
	"github.com/bigkaa/clientportal/internal/domain/permission"
	"github.com/bigkaa/clientportal/internal/repository"
)

// TxRunner выполняет функцию в транзакции БД.
// Реализуется repository.TxRunner.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(tx repository.DBTX) error) error
}

// ClientInput — редактируемые поля клиента.
type ClientInput struct {
	Name              string
	WebsiteURL        string
	Email             string
	BillingCustomerID *string
	AnalyticsSiteID   *string
	UptimeMonitorID   *string
}

// ClientService — сервис управления клиентами.
type ClientService struct {
	clients  repository.ClientRepository
	services repository.ClientServiceRepository
	checks   repository.SiteCheckRepository
	tx       TxRunner
	// servicesInTx создаёт репозиторий услуг поверх транзакции
	servicesInTx func(tx repository.DBTX) repository.ClientServiceRepository
	logger       *slog.Logger
}

// NewClientService создаёт сервис клиентов.
func NewClientService(
	clients repository.ClientRepository,
	services repository.ClientServiceRepository,
	checks repository.SiteCheckRepository,
	tx TxRunner,
	logger *slog.Logger,
) *ClientService {
	return &ClientService{
		clients:      clients,
		services:     services,
		checks:       checks,
		tx:           tx,
		servicesInTx: repository.NewClientServiceRepository,
		logger:       logger.With(slog.String("component", "client_service")),
	}
}

// Create создаёт активного клиента.
func (s *ClientService) Create(ctx context.Context, in ClientInput) (*model.Client, error) {
	if err := validateClientInput(&in); err != nil {
		return nil, err
	}

	c := &model.Client{
		ID:                uuid.NewString(),
		Name:              in.Name,
		WebsiteURL:        in.WebsiteURL,
		Email:             in.Email,
		BillingCustomerID: in.BillingCustomerID,
		AnalyticsSiteID:   in.AnalyticsSiteID,
		UptimeMonitorID:   in.UptimeMonitorID,
		HiddenFeatures:    []string{},
		IsActive:          true,
	}
	if err := s.clients.Create(ctx, c); err != nil {
		return nil, mapRepoErr(err, "ошибка создания клиента")
	}

	s.logger.Info("Клиент создан",
		slog.String("client_id", c.ID),
		slog.String("name", c.Name),
	)
	return c, nil
}

// Get возвращает клиента по ID.
func (s *ClientService) Get(ctx context.Context, id string) (*model.Client, error) {
	c, err := s.clients.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoErr(err, "ошибка получения клиента")
	}
	return c, nil
}

// List возвращает страницу клиентов и общее количество по фильтру.
func (s *ClientService) List(ctx context.Context, filter repository.ClientFilter, limit, offset int) ([]*model.Client, int, error) {
	clients, err := s.clients.List(ctx, filter, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("ошибка получения списка клиентов: %w", err)
	}
	total, err := s.clients.Count(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("ошибка подсчёта клиентов: %w", err)
	}
	return clients, total, nil
}

// Update обновляет карточку клиента.
func (s *ClientService) Update(ctx context.Context, id string, in ClientInput) (*model.Client, error) {
	if err := validateClientInput(&in); err != nil {
		return nil, err
	}

	c, err := s.clients.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoErr(err, "ошибка получения клиента")
	}
	c.Name = in.Name
	c.WebsiteURL = in.WebsiteURL
	c.Email = in.Email
	c.BillingCustomerID = in.BillingCustomerID
	c.AnalyticsSiteID = in.AnalyticsSiteID
	c.UptimeMonitorID = in.UptimeMonitorID

	if err := s.clients.Update(ctx, c); err != nil {
		return nil, mapRepoErr(err, "ошибка обновления клиента")
	}

	s.logger.Info("Клиент обновлён", slog.String("client_id", id))
	return c, nil
}

// SetActive включает или выключает клиента. Выключенный клиент
// перестаёт находиться при разрешении контекста сразу, без выхода пользователей.
func (s *ClientService) SetActive(ctx context.Context, id string, active bool) error {
	if err := s.clients.SetActive(ctx, id, active); err != nil {
		return mapRepoErr(err, "ошибка изменения активности клиента")
	}
	s.logger.Info("Активность клиента изменена",
		slog.String("client_id", id),
		slog.Bool("active", active),
	)
	return nil
}

// SetHiddenFeatures заменяет список скрытых возможностей клиента.
// Неизвестный ключ — ErrValidation. Возвращает сохранённый список.
func (s *ClientService) SetHiddenFeatures(ctx context.Context, id string, hidden []string) ([]string, error) {
	for _, h := range hidden {
		if !permission.IsValidKey(h) {
			return nil, fmt.Errorf("%w: неизвестная возможность %q", ErrValidation, h)
		}
	}
	normalized := permission.NormalizeHidden(hidden)

	if err := s.clients.SetHiddenFeatures(ctx, id, normalized); err != nil {
		return nil, mapRepoErr(err, "ошибка сохранения скрытых возможностей")
	}

	s.logger.Info("Скрытые возможности клиента обновлены",
		slog.String("client_id", id),
		slog.Any("hidden", normalized),
	)
	return normalized, nil
}

// Services возвращает подключённые услуги клиента.
func (s *ClientService) Services(ctx context.Context, clientID string) ([]model.ClientService, error) {
	if _, err := s.Get(ctx, clientID); err != nil {
		return nil, err
	}
	list, err := s.services.ListByClient(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения услуг клиента: %w", err)
	}
	return list, nil
}

// SetServices заменяет набор услуг клиента. Удаление старых и создание
// новых записей выполняется в одной транзакции.
func (s *ClientService) SetServices(ctx context.Context, clientID string, serviceTypes []string) ([]model.ClientService, error) {
	types := make([]string, 0, len(serviceTypes))
	for _, st := range serviceTypes {
		st = strings.TrimSpace(st)
		if st == "" {
			return nil, fmt.Errorf("%w: пустой тип услуги", ErrValidation)
		}
		if !slices.Contains(types, st) {
			types = append(types, st)
		}
	}

	if _, err := s.Get(ctx, clientID); err != nil {
		return nil, err
	}

	err := s.tx.RunInTx(ctx, func(tx repository.DBTX) error {
		return s.servicesInTx(tx).ReplaceAll(ctx, clientID, types)
	})
	if err != nil {
		return nil, mapRepoErr(err, "ошибка сохранения услуг клиента")
	}

	s.logger.Info("Услуги клиента обновлены",
		slog.String("client_id", clientID),
		slog.Int("count", len(types)),
	)
	return s.Services(ctx, clientID)
}

// SiteChecks возвращает последние проверки сайта клиента по каждому типу.
func (s *ClientService) SiteChecks(ctx context.Context, clientID string) ([]model.SiteCheck, error) {
	checks, err := s.checks.Latest(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения проверок сайта: %w", err)
	}
	return checks, nil
}

// RecordSiteCheck сохраняет результат проверки сайта.
func (s *ClientService) RecordSiteCheck(ctx context.Context, sc *model.SiteCheck) error {
	if sc.CheckType != model.SiteCheckPageSpeed && sc.CheckType != model.SiteCheckSSL {
		return fmt.Errorf("%w: неизвестный тип проверки %q", ErrValidation, sc.CheckType)
	}
	if sc.Score != nil && (*sc.Score < 0 || *sc.Score > 100) {
		return fmt.Errorf("%w: оценка должна быть от 0 до 100", ErrValidation)
	}
	if sc.ID == "" {
		sc.ID = uuid.NewString()
	}
	if err := s.checks.Insert(ctx, sc); err != nil {
		return mapRepoErr(err, "ошибка сохранения проверки сайта")
	}
	return nil
}

// Recommended возвращает каталог рекомендуемых услуг.
func (s *ClientService) Recommended(ctx context.Context) ([]model.RecommendedService, error) {
	list, err := s.services.ListRecommended(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения рекомендаций: %w", err)
	}
	return list, nil
}

// --- Валидация --- //

func validateClientInput(in *ClientInput) error {
	in.Name = strings.TrimSpace(in.Name)
	in.WebsiteURL = strings.TrimSpace(in.WebsiteURL)
	in.Email = strings.TrimSpace(in.Email)

	if in.Name == "" {
		return fmt.Errorf("%w: название клиента обязательно", ErrValidation)
	}
	if in.WebsiteURL != "" && !isHTTPURL(in.WebsiteURL) {
		return fmt.Errorf("%w: адрес сайта должен начинаться с http:// или https://", ErrValidation)
	}
	if in.Email != "" {
		if _, err := mail.ParseAddress(in.Email); err != nil {
			return fmt.Errorf("%w: некорректный email %q", ErrValidation, in.Email)
		}
	}
	in.BillingCustomerID = trimOptional(in.BillingCustomerID)
	in.AnalyticsSiteID = trimOptional(in.AnalyticsSiteID)
	in.UptimeMonitorID = trimOptional(in.UptimeMonitorID)
	return nil
}

// trimOptional обрезает пробелы; пустая строка становится nil.
func trimOptional(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func isHTTPURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// mapRepoErr переводит ошибки репозитория в ошибки сервиса.
func mapRepoErr(err error, msg string) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, repository.ErrConflict):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	default:
		return fmt.Errorf("%s: %w", msg, err)
	}
}
