// users.go — сервис пользователей IdP и их ролей портала.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bigkaa/clientportal/internal/domain/rbac"
	"github.com/bigkaa/clientportal/internal/identity"
)

// legacyPageSize — размер страницы при миграции устаревших ролей.
const legacyPageSize = 100

// MigrationReport — итог миграции устаревших ролей.
type MigrationReport struct {
	// Users — ID пользователей с устаревшей ролью
	Users []string
	// Migrated — сколько ролей перезаписано (0 при dry-run)
	Migrated int
	DryRun   bool
}

// UserService — сервис пользователей.
type UserService struct {
	provider identity.Provider
	logger   *slog.Logger
}

// NewUserService создаёт сервис пользователей.
func NewUserService(provider identity.Provider, logger *slog.Logger) *UserService {
	return &UserService{
		provider: provider,
		logger:   logger.With(slog.String("component", "user_service")),
	}
}

// List возвращает страницу пользователей и общее количество.
func (s *UserService) List(ctx context.Context, search string, limit, offset int) ([]identity.Identity, int, error) {
	users, err := s.provider.ListIdentities(ctx, search, offset, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrIDPUnavailable, err)
	}
	total, err := s.provider.CountIdentities(ctx, search)
	if err != nil {
		// Список уже есть, без общего числа страница остаётся полезной
		s.logger.Warn("Не удалось получить количество пользователей",
			slog.String("error", err.Error()),
		)
		total = offset + len(users)
	}
	return users, total, nil
}

// Get возвращает пользователя по ID.
func (s *UserService) Get(ctx context.Context, id string) (*identity.Identity, error) {
	user, err := s.provider.GetIdentity(ctx, id)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrIDPUnavailable, err)
	}
	return &user, nil
}

// SetRole записывает роль пользователя в IdP. Проверяется реальная
// идентичность actor: имперсонирующий администратор сохраняет право.
// Снять роль администратора с самого себя нельзя.
func (s *UserService) SetRole(ctx context.Context, actor identity.Identity, userID string, role rbac.Role) (*identity.Identity, error) {
	if !actor.IsAdmin {
		return nil, ErrForbidden
	}
	if _, ok := rbac.ParseRole(string(role)); !ok {
		return nil, fmt.Errorf("%w: недопустимая роль %q", ErrValidation, role)
	}
	if userID == actor.ID && role != rbac.RoleAdmin {
		return nil, fmt.Errorf("%w: нельзя снять роль администратора с самого себя", ErrValidation)
	}

	user, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := s.provider.SetRole(ctx, userID, role); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIDPUnavailable, err)
	}

	s.logger.Info("Роль пользователя изменена",
		slog.String("user_id", userID),
		slog.String("old_role", user.Role.String()),
		slog.String("new_role", role.String()),
		slog.String("changed_by", actor.ID),
	)

	updated := identity.NewIdentity(user.ID, user.Email, user.Name, role)
	return &updated, nil
}

// MigrateLegacyRoles перезаписывает устаревшую роль employee на team_member.
// Запускается только явно (portalctl). При dryRun только собирает список.
func (s *UserService) MigrateLegacyRoles(ctx context.Context, dryRun bool) (*MigrationReport, error) {
	report := &MigrationReport{DryRun: dryRun}
	seen := make(map[string]bool)

	first := 0
	for {
		page, err := s.provider.ListByRawRole(ctx, rbac.LegacyRoleEmployee, first, legacyPageSize)
		if err != nil {
			return report, fmt.Errorf("%w: %v", ErrIDPUnavailable, err)
		}

		progressed := false
		for _, u := range page {
			if seen[u.ID] {
				continue
			}
			seen[u.ID] = true
			progressed = true
			report.Users = append(report.Users, u.ID)

			if dryRun {
				continue
			}
			if err := s.provider.SetRole(ctx, u.ID, rbac.RoleTeamMember); err != nil {
				return report, fmt.Errorf("миграция роли пользователя %s: %w", u.ID, err)
			}
			report.Migrated++
		}

		if len(page) < legacyPageSize || !progressed {
			break
		}
		// После перезаписи пользователи выпадают из выборки, страница не сдвигается
		if dryRun {
			first += legacyPageSize
		}
	}

	s.logger.Info("Миграция устаревших ролей",
		slog.Bool("dry_run", dryRun),
		slog.Int("found", len(report.Users)),
		slog.Int("migrated", report.Migrated),
	)
	return report, nil
}
