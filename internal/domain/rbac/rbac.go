// Пакет rbac — роли пользователей портала и нормализация значения роли,
// хранимого в метаданных провайдера идентификации.
//
// Роли: admin (полный доступ), team_member (сотрудник агентства),
// client (контакт клиента). Устаревшее значение "employee" читается
// как team_member и никогда не перезаписывается автоматически.
package rbac

import "strings"

// Role — нормализованная роль пользователя.
type Role string

// Роли в порядке возрастания привилегий.
const (
	RoleClient     Role = "client"
	RoleTeamMember Role = "team_member"
	RoleAdmin      Role = "admin"
)

// LegacyRoleEmployee — устаревшее значение роли сотрудника.
const LegacyRoleEmployee = "employee"

// roleWeight — вес роли для сравнения.
var roleWeight = map[Role]int{
	RoleClient:     1,
	RoleTeamMember: 2,
	RoleAdmin:      3,
}

// NormalizeRole приводит сырое значение из метаданных к роли.
// "admin" остаётся admin, "employee" и "team_member" дают team_member,
// всё остальное (включая пустое значение) — client.
// Функция идемпотентна: NormalizeRole(string(NormalizeRole(x))) == NormalizeRole(x).
func NormalizeRole(raw string) Role {
	switch strings.TrimSpace(raw) {
	case string(RoleAdmin):
		return RoleAdmin
	case string(RoleTeamMember), LegacyRoleEmployee:
		return RoleTeamMember
	default:
		return RoleClient
	}
}

// IsLegacy сообщает, требует ли сырое значение миграции
// (нормализованная роль отличается от записанной).
func IsLegacy(raw string) bool {
	return raw == LegacyRoleEmployee
}

// ParseRole разбирает роль, заданную явно (API, CLI).
// В отличие от NormalizeRole, неизвестные значения отклоняются.
func ParseRole(s string) (Role, bool) {
	r := Role(s)
	_, ok := roleWeight[r]
	return r, ok
}

// IsAdmin — роль администратора.
func (r Role) IsAdmin() bool { return r == RoleAdmin }

// IsTeamMember — роль сотрудника агентства.
func (r Role) IsTeamMember() bool { return r == RoleTeamMember }

// IsStaff — администратор или сотрудник.
func (r Role) IsStaff() bool { return r.IsAdmin() || r.IsTeamMember() }

// AtLeast проверяет, что роль не ниже min.
func (r Role) AtLeast(minRole Role) bool {
	return roleWeight[r] >= roleWeight[minRole]
}

func (r Role) String() string { return string(r) }

// AllRoles возвращает роли в порядке возрастания привилегий.
func AllRoles() []Role {
	return []Role{RoleClient, RoleTeamMember, RoleAdmin}
}
