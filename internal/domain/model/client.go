// Пакет model — доменные модели Client Portal.
package model

import "time"

// Client — клиент портала (арендатор).
// Хранится в таблице clients.
type Client struct {
	// ID — UUID клиента
	ID string
	// Name — название организации
	Name string
	// WebsiteURL — адрес сайта клиента
	WebsiteURL string
	// Email — основной адрес клиента (указанный при создании)
	Email string
	// BillingCustomerID — ID покупателя в Stripe (опционально)
	BillingCustomerID *string
	// AnalyticsSiteID — ID сайта в Umami (опционально)
	AnalyticsSiteID *string
	// UptimeMonitorID — ID монитора в Uptime Kuma (опционально)
	UptimeMonitorID *string
	// HiddenFeatures — ключи возможностей, принудительно выключенных для клиента
	HiddenFeatures []string
	// IsActive — клиент активен
	IsActive bool
	// CreatedAt — время создания записи
	CreatedAt time.Time
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time
}

// ClientService — подключённая услуга клиента.
// Хранится в таблице client_services.
type ClientService struct {
	ID          string
	ClientID    string
	ServiceType string
	CreatedAt   time.Time
}

// Типы проверок сайта.
const (
	SiteCheckPageSpeed = "pagespeed"
	SiteCheckSSL       = "ssl"
)

// SiteCheck — снимок проверки сайта клиента.
// Хранится в таблице site_checks.
type SiteCheck struct {
	ID        string `json:"id"`
	ClientID  string `json:"clientId"`
	CheckType string `json:"checkType"`
	// Score — оценка 0-100 (для pagespeed), nil для ssl
	Score *int `json:"score,omitempty"`
	// Status — итог проверки (ok, warning, error)
	Status string `json:"status"`
	// Details — сырые данные проверки (JSON)
	Details   map[string]any `json:"details,omitempty"`
	CheckedAt time.Time      `json:"checkedAt"`
}

// RecommendedService — услуга из каталога рекомендаций.
// Хранится в таблице recommended_services.
type RecommendedService struct {
	ID          string
	ServiceType string
	Title       string
	Description string
	URL         string
	SortOrder   int
}
