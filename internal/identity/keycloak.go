package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/bigkaa/clientportal/internal/domain/rbac"
	"github.com/bigkaa/clientportal/internal/keycloak"
)

// keycloakAPI — используемое подмножество keycloak.Client.
type keycloakAPI interface {
	GetUser(ctx context.Context, id string) (*keycloak.User, error)
	ListUsers(ctx context.Context, query string, first, max int) ([]keycloak.User, error)
	CountUsers(ctx context.Context, query string) (int, error)
	SearchUsersByAttribute(ctx context.Context, name, value string, first, max int) ([]keycloak.User, error)
	UpdateUserAttributes(ctx context.Context, id string, attrs map[string][]string) error
}

// KeycloakProvider — Provider поверх Keycloak Admin API.
// Роль хранится в атрибуте пользователя roleAttribute.
type KeycloakProvider struct {
	client        keycloakAPI
	roleAttribute string
}

// NewKeycloakProvider создаёт провайдер. roleAttribute по умолчанию "role".
func NewKeycloakProvider(client keycloakAPI, roleAttribute string) *KeycloakProvider {
	if roleAttribute == "" {
		roleAttribute = "role"
	}
	return &KeycloakProvider{client: client, roleAttribute: roleAttribute}
}

// GetIdentity возвращает пользователя с нормализованной ролью.
func (p *KeycloakProvider) GetIdentity(ctx context.Context, id string) (Identity, error) {
	u, err := p.client.GetUser(ctx, id)
	if err != nil {
		if errors.Is(err, keycloak.ErrUserNotFound) {
			return Identity{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return Identity{}, fmt.Errorf("получение пользователя %s: %w", id, err)
	}
	return p.toIdentity(u), nil
}

// ListIdentities возвращает страницу пользователей.
func (p *KeycloakProvider) ListIdentities(ctx context.Context, search string, first, max int) ([]Identity, error) {
	users, err := p.client.ListUsers(ctx, search, first, max)
	if err != nil {
		return nil, fmt.Errorf("список пользователей: %w", err)
	}
	return p.toIdentities(users), nil
}

// CountIdentities возвращает количество пользователей.
func (p *KeycloakProvider) CountIdentities(ctx context.Context, search string) (int, error) {
	n, err := p.client.CountUsers(ctx, search)
	if err != nil {
		return 0, fmt.Errorf("количество пользователей: %w", err)
	}
	return n, nil
}

// SetRole записывает роль в атрибут пользователя.
func (p *KeycloakProvider) SetRole(ctx context.Context, id string, role rbac.Role) error {
	err := p.client.UpdateUserAttributes(ctx, id, map[string][]string{
		p.roleAttribute: {role.String()},
	})
	if err != nil {
		if errors.Is(err, keycloak.ErrUserNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return fmt.Errorf("запись роли пользователя %s: %w", id, err)
	}
	return nil
}

// ListByRawRole ищет пользователей по точному значению атрибута роли.
func (p *KeycloakProvider) ListByRawRole(ctx context.Context, raw string, first, max int) ([]Identity, error) {
	users, err := p.client.SearchUsersByAttribute(ctx, p.roleAttribute, raw, first, max)
	if err != nil {
		return nil, fmt.Errorf("поиск пользователей по роли %q: %w", raw, err)
	}
	return p.toIdentities(users), nil
}

func (p *KeycloakProvider) toIdentity(u *keycloak.User) Identity {
	return NewIdentity(u.ID, u.Email, u.DisplayName(), rbac.NormalizeRole(u.Attribute(p.roleAttribute)))
}

func (p *KeycloakProvider) toIdentities(users []keycloak.User) []Identity {
	out := make([]Identity, 0, len(users))
	for i := range users {
		out = append(out, p.toIdentity(&users[i]))
	}
	return out
}
