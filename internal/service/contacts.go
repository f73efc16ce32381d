// contacts.go — сервис связей пользователей IdP с клиентами.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/bigkaa/clientportal/internal/domain/model"
	"github.com/bigkaa/clientportal/internal/domain/permission"
	"github.com/bigkaa/clientportal/internal/identity"
	"github.com/bigkaa/clientportal/internal/repository"
)

// ContactInput — данные привязки пользователя к клиенту.
type ContactInput struct {
	UserID    string
	RoleLabel string
	IsPrimary bool
	// Flags — флаги возможностей контакта
	Flags permission.Set
}

// ContactImport — строка пакетного импорта контактов.
type ContactImport struct {
	ClientID  string
	UserID    string
	Email     string
	Name      string
	RoleLabel string
	IsPrimary bool
	Flags     permission.Set
}

// ImportResult — итог пакетного импорта.
type ImportResult struct {
	Created int
	Updated int
}

// ContactService — сервис контактов клиентов.
type ContactService struct {
	contacts repository.ContactRepository
	clients  repository.ClientRepository
	provider identity.Provider
	logger   *slog.Logger
}

// NewContactService создаёт сервис контактов.
func NewContactService(
	contacts repository.ContactRepository,
	clients repository.ClientRepository,
	provider identity.Provider,
	logger *slog.Logger,
) *ContactService {
	return &ContactService{
		contacts: contacts,
		clients:  clients,
		provider: provider,
		logger:   logger.With(slog.String("component", "contact_service")),
	}
}

// Link привязывает пользователя IdP к клиенту. Email и имя берутся из IdP.
// Повторная привязка той же пары — ErrConflict.
func (s *ContactService) Link(ctx context.Context, clientID string, in ContactInput) (*model.ClientContact, error) {
	in.UserID = strings.TrimSpace(in.UserID)
	if in.UserID == "" {
		return nil, fmt.Errorf("%w: user_id обязателен", ErrValidation)
	}

	if _, err := s.clients.GetByID(ctx, clientID); err != nil {
		return nil, mapRepoErr(err, "ошибка получения клиента")
	}

	user, err := s.provider.GetIdentity(ctx, in.UserID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return nil, fmt.Errorf("%w: пользователь %s не найден в IdP", ErrValidation, in.UserID)
		}
		return nil, fmt.Errorf("%w: %v", ErrIDPUnavailable, err)
	}

	c := &model.ClientContact{
		ID:        uuid.NewString(),
		ClientID:  clientID,
		UserID:    user.ID,
		Email:     user.Email,
		Name:      user.Name,
		RoleLabel: strings.TrimSpace(in.RoleLabel),
		IsPrimary: in.IsPrimary,
		IsActive:  true,
	}
	applyFlags(c, in.Flags)

	if err := s.contacts.Create(ctx, c); err != nil {
		return nil, mapRepoErr(err, "ошибка привязки контакта")
	}

	s.logger.Info("Пользователь привязан к клиенту",
		slog.String("client_id", clientID),
		slog.String("user_id", c.UserID),
		slog.String("contact_id", c.ID),
	)
	return c, nil
}

// Update меняет флаги, подпись роли и признак основного контакта.
func (s *ContactService) Update(ctx context.Context, contactID string, in ContactInput) (*model.ClientContact, error) {
	c, err := s.contacts.GetByID(ctx, contactID)
	if err != nil {
		return nil, mapRepoErr(err, "ошибка получения контакта")
	}

	c.RoleLabel = strings.TrimSpace(in.RoleLabel)
	c.IsPrimary = in.IsPrimary
	applyFlags(c, in.Flags)

	if err := s.contacts.Update(ctx, c); err != nil {
		return nil, mapRepoErr(err, "ошибка обновления контакта")
	}

	s.logger.Info("Контакт обновлён",
		slog.String("contact_id", contactID),
		slog.Any("flags", in.Flags),
	)
	return c, nil
}

// SetActive включает или выключает контакт.
func (s *ContactService) SetActive(ctx context.Context, contactID string, active bool) error {
	if err := s.contacts.SetActive(ctx, contactID, active); err != nil {
		return mapRepoErr(err, "ошибка изменения активности контакта")
	}
	s.logger.Info("Активность контакта изменена",
		slog.String("contact_id", contactID),
		slog.Bool("active", active),
	)
	return nil
}

// Delete удаляет контакт.
func (s *ContactService) Delete(ctx context.Context, contactID string) error {
	if err := s.contacts.Delete(ctx, contactID); err != nil {
		return mapRepoErr(err, "ошибка удаления контакта")
	}
	s.logger.Info("Контакт удалён", slog.String("contact_id", contactID))
	return nil
}

// ListByClient возвращает контакты клиента в порядке привязки.
func (s *ContactService) ListByClient(ctx context.Context, clientID string) ([]*model.ClientContact, error) {
	if _, err := s.clients.GetByID(ctx, clientID); err != nil {
		return nil, mapRepoErr(err, "ошибка получения клиента")
	}
	list, err := s.contacts.ListByClient(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения контактов клиента: %w", err)
	}
	return list, nil
}

// AvailableClients возвращает клиентов, между которыми может
// переключаться пользователь: активные контакты у активных клиентов.
func (s *ContactService) AvailableClients(ctx context.Context, userID string) ([]*model.ContactWithClient, error) {
	list, err := s.contacts.ListActiveByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения клиентов пользователя: %w", err)
	}
	return list, nil
}

// Import создаёт или обновляет контакты по паре (клиент, пользователь).
// Повторный импорт того же файла безопасен. Ошибка строки прерывает импорт,
// уже записанные строки остаются.
func (s *ContactService) Import(ctx context.Context, rows []ContactImport) (ImportResult, error) {
	var res ImportResult
	for i, row := range rows {
		if row.ClientID == "" || row.UserID == "" {
			return res, fmt.Errorf("%w: строка %d: client_id и user_id обязательны", ErrValidation, i+1)
		}
		c := &model.ClientContact{
			ID:        uuid.NewString(),
			ClientID:  row.ClientID,
			UserID:    row.UserID,
			Email:     strings.TrimSpace(row.Email),
			Name:      strings.TrimSpace(row.Name),
			RoleLabel: strings.TrimSpace(row.RoleLabel),
			IsPrimary: row.IsPrimary,
			IsActive:  true,
		}
		applyFlags(c, row.Flags)

		inserted, err := s.contacts.Upsert(ctx, c)
		if err != nil {
			return res, fmt.Errorf("строка %d: %w", i+1, err)
		}
		if inserted {
			res.Created++
		} else {
			res.Updated++
		}
	}

	s.logger.Info("Импорт контактов завершён",
		slog.Int("created", res.Created),
		slog.Int("updated", res.Updated),
	)
	return res, nil
}

func applyFlags(c *model.ClientContact, f permission.Set) {
	c.CanDashboard = f.Dashboard
	c.CanBilling = f.Billing
	c.CanAnalytics = f.Analytics
	c.CanUptime = f.Uptime
	c.CanSupport = f.Support
	c.CanSiteHealth = f.SiteHealth
}

// ContactFlags возвращает сырые флаги контакта без учёта скрытых возможностей.
func ContactFlags(c model.ClientContact) permission.Set {
	return permission.Compute(c, nil)
}
