// Пакет identity — нормализованная идентичность пользователя портала:
// чтение роли из IdP, реальная и эффективная (с учётом имперсонации) идентичность.
package identity

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/bigkaa/clientportal/internal/domain/rbac"
)

// ErrNotFound — пользователь не найден в IdP.
var ErrNotFound = errors.New("пользователь не найден")

// Identity — нормализованная запись пользователя IdP.
// Флаги всегда согласованы с Role: создавать только через NewIdentity.
type Identity struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Role         rbac.Role `json:"role"`
	IsAdmin      bool      `json:"isAdmin"`
	IsTeamMember bool      `json:"isTeamMember"`
	IsStaff      bool      `json:"isStaff"`
}

// NewIdentity создаёт Identity и вычисляет производные флаги из роли.
func NewIdentity(id, email, name string, role rbac.Role) Identity {
	return Identity{
		ID:           id,
		Email:        email,
		Name:         name,
		Role:         role,
		IsAdmin:      role.IsAdmin(),
		IsTeamMember: role.IsTeamMember(),
		IsStaff:      role.IsStaff(),
	}
}

// Provider — адаптер IdP. Роль хранится в метаданных пользователя на стороне IdP.
type Provider interface {
	// GetIdentity возвращает пользователя по ID. ErrNotFound, если его нет.
	GetIdentity(ctx context.Context, id string) (Identity, error)
	// ListIdentities возвращает страницу пользователей (search — подстрока).
	ListIdentities(ctx context.Context, search string, first, max int) ([]Identity, error)
	// CountIdentities возвращает количество пользователей по search.
	CountIdentities(ctx context.Context, search string) (int, error)
	// SetRole записывает роль в метаданные пользователя.
	SetRole(ctx context.Context, id string, role rbac.Role) error
	// ListByRawRole возвращает пользователей с точным сырым значением роли
	// (до нормализации). Нужен для миграции устаревших ролей.
	ListByRawRole(ctx context.Context, raw string, first, max int) ([]Identity, error)
}

// Claims — данные аутентифицированного субъекта из access token.
type Claims struct {
	Subject string
	Email   string
	Name    string
	// Role — сырое значение claim роли (mapper атрибута IdP), пустое если нет.
	Role string
}

// Resolver определяет реальную идентичность по claims.
// Если роль пришла в токене, обращения к IdP не нужно.
type Resolver struct {
	provider Provider
	logger   *slog.Logger
}

// NewResolver создаёт Resolver.
func NewResolver(provider Provider, logger *slog.Logger) *Resolver {
	return &Resolver{
		provider: provider,
		logger:   logger.With(slog.String("component", "identity_resolver")),
	}
}

// Real возвращает реальную (без имперсонации) идентичность.
// Пустой Subject означает неаутентифицированный запрос: nil, nil.
func (r *Resolver) Real(ctx context.Context, claims Claims) (*Identity, error) {
	if claims.Subject == "" {
		return nil, nil
	}

	if strings.TrimSpace(claims.Role) != "" || r.provider == nil {
		id := NewIdentity(claims.Subject, claims.Email, claims.Name, rbac.NormalizeRole(claims.Role))
		return &id, nil
	}

	id, err := r.provider.GetIdentity(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}

	// Email и имя из токена приоритетнее данных IdP
	if claims.Email != "" {
		id.Email = claims.Email
	}
	if claims.Name != "" {
		id.Name = claims.Name
	}
	r.logger.Debug("Роль получена из IdP",
		slog.String("user_id", id.ID),
		slog.String("role", id.Role.String()),
	)
	return &id, nil
}
