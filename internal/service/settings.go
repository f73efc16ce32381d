// settings.go — сервис системных настроек портала (брендинг, поведение портала).
// Предоставляет типизированные геттеры, валидацию ключей и CRUD-операции.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/mail"
	"regexp"
	"strconv"
	"strings"

	"github.com/bigkaa/clientportal/internal/domain/model"
	"github.com/bigkaa/clientportal/internal/repository"
)

// Допустимые ключи настроек (dot-notation).
// Используется для валидации при Set.
var validSettingKeys = map[string]string{
	"branding.company_name":  "Название компании в шапке портала",
	"branding.primary_color": "Основной цвет интерфейса (#rrggbb)",
	"branding.logo_url":      "URL логотипа",
	"branding.support_email": "Адрес поддержки, показываемый клиентам",
	"portal.support_enabled": "Включено ли создание обращений из портала (true/false)",
	"portal.welcome_message": "Приветствие на главной странице портала",
	"portal.analytics_days":  "Период аналитики по умолчанию, дней (1-365)",
}

var hexColor = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// Значения по умолчанию для типизированных геттеров.
const (
	defaultCompanyName   = "Client Portal"
	defaultPrimaryColor  = "#2563eb"
	defaultAnalyticsDays = 30
)

// Branding — настройки оформления портала.
type Branding struct {
	CompanyName  string `json:"companyName"`
	PrimaryColor string `json:"primaryColor"`
	LogoURL      string `json:"logoUrl,omitempty"`
	SupportEmail string `json:"supportEmail,omitempty"`
}

// SettingsService — сервис системных настроек.
type SettingsService struct {
	repo   repository.SettingsRepository
	logger *slog.Logger
}

// NewSettingsService создаёт сервис настроек.
func NewSettingsService(repo repository.SettingsRepository, logger *slog.Logger) *SettingsService {
	return &SettingsService{
		repo:   repo,
		logger: logger.With(slog.String("component", "settings_service")),
	}
}

// Get возвращает значение настройки по ключу.
// Возвращает ErrNotFound если настройка не существует.
func (s *SettingsService) Get(ctx context.Context, key string) (*model.SystemSetting, error) {
	setting, err := s.repo.Get(ctx, key)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения настройки %q: %w", key, err)
	}
	return setting, nil
}

// Set устанавливает значение настройки. Валидирует ключ и значение.
// updatedBy — ID пользователя, выполняющего изменение.
func (s *SettingsService) Set(ctx context.Context, key, value, updatedBy string) error {
	if err := validateSetting(key, value); err != nil {
		return err
	}
	if err := s.repo.Set(ctx, key, value, updatedBy); err != nil {
		return fmt.Errorf("ошибка сохранения настройки %q: %w", key, err)
	}

	s.logger.Info("Настройка обновлена",
		slog.String("key", key),
		slog.String("updated_by", updatedBy),
	)
	return nil
}

// SetMany сохраняет несколько настроек. Если хотя бы одна не проходит
// валидацию, не сохраняется ни одна.
func (s *SettingsService) SetMany(ctx context.Context, values map[string]string, updatedBy string) error {
	for k, v := range values {
		if err := validateSetting(k, v); err != nil {
			return err
		}
	}
	if err := s.repo.SetMany(ctx, values, updatedBy); err != nil {
		return fmt.Errorf("ошибка сохранения настроек: %w", err)
	}

	s.logger.Info("Настройки обновлены",
		slog.Int("count", len(values)),
		slog.String("updated_by", updatedBy),
	)
	return nil
}

// List возвращает все настройки.
func (s *SettingsService) List(ctx context.Context) ([]model.SystemSetting, error) {
	settings, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка настроек: %w", err)
	}
	return settings, nil
}

// Delete удаляет настройку по ключу (геттер вернётся к значению по умолчанию).
func (s *SettingsService) Delete(ctx context.Context, key string) error {
	if err := s.repo.Delete(ctx, key); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка удаления настройки %q: %w", key, err)
	}

	s.logger.Info("Настройка удалена", slog.String("key", key))
	return nil
}

// --- Типизированные геттеры --- //

// Branding возвращает оформление портала с подстановкой значений по умолчанию.
func (s *SettingsService) Branding(ctx context.Context) Branding {
	b := Branding{CompanyName: defaultCompanyName, PrimaryColor: defaultPrimaryColor}

	settings, err := s.repo.ListByPrefix(ctx, "branding.")
	if err != nil {
		s.logger.Warn("Не удалось получить настройки оформления", slog.String("error", err.Error()))
		return b
	}
	for _, st := range settings {
		if st.Value == "" {
			continue
		}
		switch st.Key {
		case "branding.company_name":
			b.CompanyName = st.Value
		case "branding.primary_color":
			b.PrimaryColor = st.Value
		case "branding.logo_url":
			b.LogoURL = st.Value
		case "branding.support_email":
			b.SupportEmail = st.Value
		}
	}
	return b
}

// WelcomeMessage возвращает приветствие главной страницы.
func (s *SettingsService) WelcomeMessage(ctx context.Context) string {
	setting, err := s.repo.Get(ctx, "portal.welcome_message")
	if err != nil {
		return ""
	}
	return setting.Value
}

// IsSupportEnabled возвращает true, если создание обращений включено.
// По умолчанию включено.
func (s *SettingsService) IsSupportEnabled(ctx context.Context) bool {
	setting, err := s.repo.Get(ctx, "portal.support_enabled")
	if err != nil {
		return true
	}
	return !strings.EqualFold(setting.Value, "false")
}

// AnalyticsDays возвращает период аналитики по умолчанию.
func (s *SettingsService) AnalyticsDays(ctx context.Context) int {
	setting, err := s.repo.Get(ctx, "portal.analytics_days")
	if err != nil {
		return defaultAnalyticsDays
	}
	n, err := strconv.Atoi(setting.Value)
	if err != nil || n < 1 || n > 365 {
		return defaultAnalyticsDays
	}
	return n
}

// --- Валидация значений --- //

// validateSetting проверяет ключ и значение настройки.
func validateSetting(key, value string) error {
	if _, ok := validSettingKeys[key]; !ok {
		return fmt.Errorf("%w: недопустимый ключ настройки %q", ErrValidation, key)
	}

	switch key {
	case "portal.support_enabled":
		if value != "true" && value != "false" {
			return fmt.Errorf("%w: %s должен быть true или false", ErrValidation, key)
		}
	case "branding.primary_color":
		if !hexColor.MatchString(value) {
			return fmt.Errorf("%w: %s должен быть в формате #rrggbb", ErrValidation, key)
		}
	case "branding.logo_url":
		if value != "" && !isHTTPURL(value) {
			return fmt.Errorf("%w: %s должен начинаться с http:// или https://", ErrValidation, key)
		}
	case "branding.support_email":
		if value != "" {
			if _, err := mail.ParseAddress(value); err != nil {
				return fmt.Errorf("%w: %s — некорректный email: %s", ErrValidation, key, value)
			}
		}
	case "portal.analytics_days":
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 || n > 365 {
			return fmt.Errorf("%w: %s должен быть числом от 1 до 365", ErrValidation, key)
		}
	}
	return nil
}

// SettingKeys возвращает допустимые ключи с описаниями.
func SettingKeys() map[string]string {
	return maps.Clone(validSettingKeys)
}
