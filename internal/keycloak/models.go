// Пакет keycloak — клиент Keycloak Admin REST API для realm портала.
// Роль пользователя портала хранится в атрибуте пользователя Keycloak.
package keycloak

import (
	"strings"
	"time"
)

// User — представление пользователя Admin API (briefRepresentation=false).
type User struct {
	ID            string              `json:"id"`
	Username      string              `json:"username"`
	Email         string              `json:"email"`
	FirstName     string              `json:"firstName"`
	LastName      string              `json:"lastName"`
	Enabled       bool                `json:"enabled"`
	EmailVerified bool                `json:"emailVerified"`
	CreatedAt     int64               `json:"createdTimestamp"` // миллисекунды
	Attributes    map[string][]string `json:"attributes,omitempty"`
}

// Attribute — первое значение атрибута или "".
func (u *User) Attribute(name string) string {
	if vals := u.Attributes[name]; len(vals) > 0 {
		return vals[0]
	}
	return ""
}

// DisplayName — «Имя Фамилия», без них — username.
func (u *User) DisplayName() string {
	if name := strings.TrimSpace(u.FirstName + " " + u.LastName); name != "" {
		return name
	}
	return u.Username
}

// Created — момент регистрации пользователя.
func (u *User) Created() time.Time {
	return time.UnixMilli(u.CreatedAt)
}

// Realm — краткая информация о realm.
type Realm struct {
	Realm   string `json:"realm"`
	Enabled bool   `json:"enabled"`
}

// serviceToken — ответ token endpoint на client_credentials.
type serviceToken struct {
	AccessToken string `json:"access_token"` //nolint:gosec // G117: структура токена OAuth2
	ExpiresIn   int    `json:"expires_in"`
}
