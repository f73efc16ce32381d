// Пакет clientctx — определение клиента, от имени которого действует
// идентичность, и набора её возможностей у этого клиента.
package clientctx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/bigkaa/clientportal/internal/domain/model"
	"github.com/bigkaa/clientportal/internal/domain/permission"
	"github.com/bigkaa/clientportal/internal/identity"
	"github.com/bigkaa/clientportal/internal/repository"
)

// ClientContext — текущий клиент идентичности.
type ClientContext struct {
	Client  model.Client
	Contact model.ClientContact
	// Permissions — флаги контакта с учётом скрытых возможностей клиента.
	Permissions permission.Set
	// UserEmail — email эффективной идентичности (по нему ищутся тикеты поддержки).
	UserEmail string
}

// EffectivePermissions — Permissions с правилом основного контакта.
func (cc *ClientContext) EffectivePermissions() permission.Set {
	return permission.Effective(cc.Permissions, cc.Contact.IsPrimary, cc.Client.HiddenFeatures)
}

// Store — выборки контактов для разрешения контекста.
// Реализуется repository.ContactRepository.
type Store interface {
	FindActive(ctx context.Context, clientID, userID string) (*model.ContactWithClient, error)
	FirstActive(ctx context.Context, userID string) (*model.ContactWithClient, error)
}

// Resolver разрешает контекст клиента.
type Resolver struct {
	store  Store
	logger *slog.Logger
}

// NewResolver создаёт Resolver.
func NewResolver(store Store, logger *slog.Logger) *Resolver {
	return &Resolver{
		store:  store,
		logger: logger.With(slog.String("component", "client_context")),
	}
}

// Resolve возвращает контекст клиента для идентичности.
//
// selectedClientID — выбор из cookie активного клиента, пустая строка если нет.
// Выбор используется, только если у пары (клиент, пользователь) есть активный
// контакт у активного клиента; иначе берётся самый ранний такой контакт.
// Отсутствие доступа — nil, nil, а не ошибка.
func (r *Resolver) Resolve(ctx context.Context, id identity.Identity, selectedClientID string) (*ClientContext, error) {
	if id.ID == "" {
		return nil, nil
	}

	if selectedClientID != "" {
		if _, err := uuid.Parse(selectedClientID); err != nil {
			r.logger.Debug("Некорректный ID клиента в cookie",
				slog.String("user_id", id.ID),
				slog.String("client_id", selectedClientID),
			)
		} else {
			cw, err := r.store.FindActive(ctx, selectedClientID, id.ID)
			switch {
			case err == nil:
				return build(cw, id), nil
			case errors.Is(err, repository.ErrNotFound):
				r.logger.Debug("Выбранный клиент недоступен, используется клиент по умолчанию",
					slog.String("user_id", id.ID),
					slog.String("client_id", selectedClientID),
				)
			default:
				return nil, fmt.Errorf("поиск контакта у выбранного клиента: %w", err)
			}
		}
	}

	cw, err := r.store.FirstActive(ctx, id.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("поиск контакта по умолчанию: %w", err)
	}
	return build(cw, id), nil
}

func build(cw *model.ContactWithClient, id identity.Identity) *ClientContext {
	return &ClientContext{
		Client:      cw.Client,
		Contact:     cw.Contact,
		Permissions: permission.Compute(cw.Contact, cw.Client.HiddenFeatures),
		UserEmail:   id.Email,
	}
}
