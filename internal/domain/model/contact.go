package model

import "time"

// ClientContact — связь пользователя IdP с клиентом.
// Хранится в таблице client_contacts, уникальна по (client_id, user_id).
type ClientContact struct {
	// ID — UUID контакта
	ID string
	// ClientID — UUID клиента
	ClientID string
	// UserID — ID пользователя в провайдере идентификации
	UserID string
	// Email — адрес контакта на момент привязки
	Email string
	// Name — имя контакта
	Name string
	// RoleLabel — произвольная подпись роли ("Маркетолог", "Владелец")
	RoleLabel string
	// IsPrimary — основной контакт клиента
	IsPrimary bool
	// IsActive — контакт активен
	IsActive bool
	// Флаги возможностей
	CanDashboard  bool
	CanBilling    bool
	CanAnalytics  bool
	CanUptime     bool
	CanSupport    bool
	CanSiteHealth bool
	// CreatedAt — время привязки (определяет порядок выбора клиента по умолчанию)
	CreatedAt time.Time
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time
}

// ContactWithClient — контакт вместе с клиентом, которому он принадлежит.
type ContactWithClient struct {
	Contact ClientContact
	Client  Client
}
