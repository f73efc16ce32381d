// Пакет config — загрузка и валидация конфигурации Client Portal
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации Client Portal.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Публичный базовый URL портала (для redirect URI OIDC)
	PublicURL string

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string

	// --- Keycloak (провайдер идентификации) ---

	// URL Keycloak (например, https://keycloak.example.com)
	KeycloakURL string
	// Имя realm в Keycloak
	KeycloakRealm string
	// Client ID для Keycloak Admin API (чтение пользователей, запись атрибута role)
	KeycloakClientID string
	// Client Secret для Keycloak Admin API
	KeycloakClientSecret string
	// Имя атрибута пользователя, в котором хранится роль
	KeycloakRoleAttribute string
	// OIDC Client ID для входа в портал (public client, PKCE)
	OIDCClientID string

	// --- JWT ---

	// Issuer JWT (авто-вычисляется из KeycloakURL, если не задан)
	JWTIssuer string
	// URL JWKS endpoint (авто-вычисляется из KeycloakURL, если не задан)
	JWTJWKSURL string
	// Допустимое отклонение часов при проверке exp/nbf
	JWTLeeway time.Duration

	// --- Сессии и cookies ---

	// Ключ шифрования cookies (AES-256-GCM). Пустой — случайный при старте.
	SessionSecret string
	// Secure flag для cookies
	CookieSecure bool
	// Время жизни cookie имперсонации
	ImpersonationTTL time.Duration
	// Время жизни cookie выбранного клиента
	ActiveClientTTL time.Duration

	// --- Интеграции (все опциональны) ---

	// Секретный ключ Stripe
	StripeSecretKey string
	// HelpScout OAuth app id / secret
	HelpScoutAppID     string
	HelpScoutAppSecret string
	// HelpScout mailbox для создаваемых обращений
	HelpScoutMailboxID int
	// Umami API
	UmamiURL     string
	UmamiToken   string
	UmamiTimeout time.Duration
	// Uptime Kuma: базовый URL и slug публичной status page
	UptimeKumaURL  string
	UptimeKumaSlug string

	// --- Публичные формы ---

	// Лимит отправок публичных форм на IP в минуту (0 — без ограничения)
	PublicFormRateLimit int

	// --- Мониторинг зависимостей ---

	DephealthGroup         string
	DephealthCheckInterval time.Duration

	// --- Graceful shutdown ---

	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// CP_PORT — порт HTTP-сервера (по умолчанию 8080)
	cfg.Port, err = getEnvInt("CP_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("CP_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("CP_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("CP_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("CP_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("CP_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("CP_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	cfg.PublicURL = strings.TrimRight(getEnvDefault("CP_PUBLIC_URL", fmt.Sprintf("http://localhost:%d", cfg.Port)), "/")

	// --- PostgreSQL ---

	if cfg.DBHost, err = getEnvRequired("CP_DB_HOST"); err != nil {
		return nil, err
	}
	cfg.DBPort, err = getEnvInt("CP_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("CP_DB_PORT: %w", err)
	}
	if cfg.DBName, err = getEnvRequired("CP_DB_NAME"); err != nil {
		return nil, err
	}
	if cfg.DBUser, err = getEnvRequired("CP_DB_USER"); err != nil {
		return nil, err
	}
	if cfg.DBPassword, err = getEnvRequired("CP_DB_PASSWORD"); err != nil {
		return nil, err
	}
	cfg.DBSSLMode = getEnvDefault("CP_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("CP_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	// --- Keycloak ---

	if cfg.KeycloakURL, err = getEnvRequired("CP_KEYCLOAK_URL"); err != nil {
		return nil, err
	}
	cfg.KeycloakURL = strings.TrimRight(cfg.KeycloakURL, "/")
	cfg.KeycloakRealm = getEnvDefault("CP_KEYCLOAK_REALM", "portal")
	if cfg.KeycloakClientID, err = getEnvRequired("CP_KEYCLOAK_CLIENT_ID"); err != nil {
		return nil, err
	}
	if cfg.KeycloakClientSecret, err = getEnvRequired("CP_KEYCLOAK_CLIENT_SECRET"); err != nil {
		return nil, err
	}
	cfg.KeycloakRoleAttribute = getEnvDefault("CP_KEYCLOAK_ROLE_ATTRIBUTE", "role")
	cfg.OIDCClientID = getEnvDefault("CP_OIDC_CLIENT_ID", "client-portal")

	// --- JWT ---

	cfg.JWTIssuer = getEnvDefault("CP_JWT_ISSUER",
		fmt.Sprintf("%s/realms/%s", cfg.KeycloakURL, cfg.KeycloakRealm))
	cfg.JWTJWKSURL = getEnvDefault("CP_JWT_JWKS_URL",
		fmt.Sprintf("%s/realms/%s/protocol/openid-connect/certs", cfg.KeycloakURL, cfg.KeycloakRealm))
	cfg.JWTLeeway, err = getEnvDuration("CP_JWT_LEEWAY", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CP_JWT_LEEWAY: %w", err)
	}

	// --- Сессии ---

	cfg.SessionSecret = getEnvDefault("CP_SESSION_SECRET", "")
	// По умолчанию Secure, если портал публикуется по https
	cfg.CookieSecure, err = getEnvBool("CP_COOKIE_SECURE", strings.HasPrefix(cfg.PublicURL, "https"))
	if err != nil {
		return nil, fmt.Errorf("CP_COOKIE_SECURE: %w", err)
	}
	cfg.ImpersonationTTL, err = getEnvDuration("CP_IMPERSONATION_TTL", 4*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("CP_IMPERSONATION_TTL: %w", err)
	}
	cfg.ActiveClientTTL, err = getEnvDuration("CP_ACTIVE_CLIENT_TTL", 30*24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("CP_ACTIVE_CLIENT_TTL: %w", err)
	}

	// --- Интеграции ---

	cfg.StripeSecretKey = getEnvDefault("CP_STRIPE_SECRET_KEY", "")
	cfg.HelpScoutAppID = getEnvDefault("CP_HELPSCOUT_APP_ID", "")
	cfg.HelpScoutAppSecret = getEnvDefault("CP_HELPSCOUT_APP_SECRET", "")
	cfg.HelpScoutMailboxID, err = getEnvInt("CP_HELPSCOUT_MAILBOX_ID", 0)
	if err != nil {
		return nil, fmt.Errorf("CP_HELPSCOUT_MAILBOX_ID: %w", err)
	}
	cfg.UmamiURL = strings.TrimRight(getEnvDefault("CP_UMAMI_URL", ""), "/")
	cfg.UmamiToken = getEnvDefault("CP_UMAMI_TOKEN", "")
	cfg.UmamiTimeout, err = getEnvDuration("CP_UMAMI_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CP_UMAMI_TIMEOUT: %w", err)
	}
	cfg.UptimeKumaURL = strings.TrimRight(getEnvDefault("CP_UPTIME_KUMA_URL", ""), "/")
	cfg.UptimeKumaSlug = getEnvDefault("CP_UPTIME_KUMA_SLUG", "")
	if cfg.UptimeKumaURL != "" && cfg.UptimeKumaSlug == "" {
		return nil, fmt.Errorf("CP_UPTIME_KUMA_SLUG: обязателен, если задан CP_UPTIME_KUMA_URL")
	}

	// --- Публичные формы ---

	cfg.PublicFormRateLimit, err = getEnvInt("CP_PUBLIC_FORM_RATE_LIMIT", 30)
	if err != nil {
		return nil, fmt.Errorf("CP_PUBLIC_FORM_RATE_LIMIT: %w", err)
	}
	if cfg.PublicFormRateLimit < 0 {
		return nil, fmt.Errorf("CP_PUBLIC_FORM_RATE_LIMIT: отрицательное значение %d", cfg.PublicFormRateLimit)
	}

	// --- Мониторинг зависимостей ---

	cfg.DephealthGroup = getEnvDefault("CP_DEPHEALTH_GROUP", "client-portal")
	cfg.DephealthCheckInterval, err = getEnvDuration("CP_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CP_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	cfg.ShutdownTimeout, err = getEnvDuration("CP_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CP_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL для pgxpool.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL подключения к PostgreSQL (для лейблов topologymetrics).
func (c *Config) DatabaseURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + c.DBSSLMode,
	}
	return u.String()
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q", val)
	}
	return b, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
