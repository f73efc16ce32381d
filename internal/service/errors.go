// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import "errors"

var (
	// ErrNotFound — ресурс не найден.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrConflict — конфликт (дублирующийся ресурс).
	ErrConflict = errors.New("конфликт — ресурс уже существует")
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
	// ErrForbidden — недостаточно прав для операции.
	ErrForbidden = errors.New("недостаточно прав")
	// ErrNoClientAccess — у идентичности нет доступа ни к одному клиенту.
	ErrNoClientAccess = errors.New("нет доступа к клиенту")
	// ErrUpstreamUnavailable — внешний сервис недоступен.
	ErrUpstreamUnavailable = errors.New("внешний сервис недоступен")
	// ErrNotConfigured — интеграция не настроена.
	ErrNotConfigured = errors.New("интеграция не настроена")
	// ErrInvalidTransition — недопустимый переход статуса.
	ErrInvalidTransition = errors.New("недопустимый переход статуса")
	// ErrIDPUnavailable — Identity Provider (Keycloak) недоступен.
	ErrIDPUnavailable = errors.New("Identity Provider недоступен")
)
