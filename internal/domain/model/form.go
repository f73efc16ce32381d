package model

import "time"

// Типы полей формы.
const (
	FieldText      = "text"
	FieldTextarea  = "textarea"
	FieldEmail     = "email"
	FieldNumber    = "number"
	FieldPhone     = "phone"
	FieldURL       = "url"
	FieldDate      = "date"
	FieldSelect    = "select"
	FieldRadio     = "radio"
	FieldCheckbox  = "checkbox"
	FieldHeading   = "heading"
	FieldParagraph = "paragraph"
)

// Операторы условий видимости.
const (
	OpEquals     = "equals"
	OpNotEquals  = "notEquals"
	OpContains   = "contains"
	OpIsEmpty    = "isEmpty"
	OpIsNotEmpty = "isNotEmpty"
)

// Обработчики отправки формы.
const (
	HandlerStore   = "store"
	HandlerWebhook = "webhook"
	HandlerSupport = "support"
)

// Form — определение формы.
// Хранится в таблице forms, поля и настройки — JSONB.
type Form struct {
	ID          string
	Name        string
	Description string
	Fields      []FormField
	Settings    FormSettings
	// IsPublic — форма доступна без входа (/public/forms/{id})
	IsPublic bool
	IsActive bool
	// CreatedBy — ID сотрудника, создавшего форму
	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// FormField — описание поля формы.
type FormField struct {
	ID          string   `json:"id" yaml:"id"`
	Type        string   `json:"type" yaml:"type"`
	Label       string   `json:"label" yaml:"label"`
	Placeholder string   `json:"placeholder,omitempty" yaml:"placeholder,omitempty"`
	HelpText    string   `json:"helpText,omitempty" yaml:"helpText,omitempty"`
	Required    bool     `json:"required" yaml:"required"`
	Options     []string `json:"options,omitempty" yaml:"options,omitempty"`
	// Width — ширина поля в сетке (full, half)
	Width      string           `json:"width,omitempty" yaml:"width,omitempty"`
	Conditions []FieldCondition `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

// FieldCondition — условие видимости поля, ссылается на другое поле по ID.
type FieldCondition struct {
	FieldID  string `json:"fieldId" yaml:"fieldId"`
	Operator string `json:"operator" yaml:"operator"`
	Value    string `json:"value,omitempty" yaml:"value,omitempty"`
}

// FormSettings — настройки обработки отправки.
type FormSettings struct {
	// Handler — store, webhook или support
	Handler string `json:"handler" yaml:"handler"`
	// NotifyEmail — адрес для уведомлений (и mailbox customer для support)
	NotifyEmail string `json:"notifyEmail,omitempty" yaml:"notifyEmail,omitempty"`
	// WebhookURL — адрес для handler=webhook
	WebhookURL string `json:"webhookUrl,omitempty" yaml:"webhookUrl,omitempty"`
	// SuccessMessage — текст после успешной отправки
	SuccessMessage string `json:"successMessage,omitempty" yaml:"successMessage,omitempty"`
	// RedirectURL — адрес перехода после отправки
	RedirectURL string `json:"redirectUrl,omitempty" yaml:"redirectUrl,omitempty"`
}

// IsInput сообщает, принимает ли поле ввод (заголовки и текст — нет).
func (f FormField) IsInput() bool {
	return f.Type != FieldHeading && f.Type != FieldParagraph
}

// Статусы отправки формы.
const (
	SubmissionNew      = "NEW"
	SubmissionRead     = "READ"
	SubmissionArchived = "ARCHIVED"
)

// FormSubmission — принятая отправка формы.
// Хранится в таблице form_submissions. Данные неизменяемы, меняется только статус.
type FormSubmission struct {
	ID       string
	FormID   string
	ClientID *string
	// SubmitterID — ID пользователя IdP (nil для анонимной публичной отправки)
	SubmitterID    *string
	SubmitterEmail string
	Data           map[string]any
	Status         string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
