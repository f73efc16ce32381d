// dto.go — JSON-представления API портала и преобразования из доменных моделей.
package handlers

import (
	"time"

	"github.com/google/uuid"
	openapi_types "github.com/oapi-codegen/runtime/types"

	"github.com/bigkaa/clientportal/internal/clientctx"
	"github.com/bigkaa/clientportal/internal/domain/model"
	"github.com/bigkaa/clientportal/internal/domain/permission"
	"github.com/bigkaa/clientportal/internal/service"
)

// listResponse — страница списка.
type listResponse[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// toUUID преобразует ID из БД. ID всегда UUID, ошибка даёт нулевой UUID.
func toUUID(s string) openapi_types.UUID {
	u, _ := uuid.Parse(s)
	return u
}

func toUUIDPtr(s *string) *openapi_types.UUID {
	if s == nil {
		return nil
	}
	u := toUUID(*s)
	return &u
}

func toEmail(s string) *openapi_types.Email {
	if s == "" {
		return nil
	}
	e := openapi_types.Email(s)
	return &e
}

func emailValue(e *openapi_types.Email) string {
	if e == nil {
		return ""
	}
	return string(*e)
}

// --- Клиенты ---

type clientDTO struct {
	ID                openapi_types.UUID   `json:"id"`
	Name              string               `json:"name"`
	WebsiteURL        string               `json:"websiteUrl,omitempty"`
	Email             *openapi_types.Email `json:"email,omitempty"`
	BillingCustomerID *string              `json:"billingCustomerId,omitempty"`
	AnalyticsSiteID   *string              `json:"analyticsSiteId,omitempty"`
	UptimeMonitorID   *string              `json:"uptimeMonitorId,omitempty"`
	HiddenFeatures    []string             `json:"hiddenFeatures"`
	IsActive          bool                 `json:"isActive"`
	CreatedAt         time.Time            `json:"createdAt"`
	UpdatedAt         time.Time            `json:"updatedAt"`
}

func clientToDTO(c *model.Client) clientDTO {
	hidden := c.HiddenFeatures
	if hidden == nil {
		hidden = []string{}
	}
	return clientDTO{
		ID:                toUUID(c.ID),
		Name:              c.Name,
		WebsiteURL:        c.WebsiteURL,
		Email:             toEmail(c.Email),
		BillingCustomerID: c.BillingCustomerID,
		AnalyticsSiteID:   c.AnalyticsSiteID,
		UptimeMonitorID:   c.UptimeMonitorID,
		HiddenFeatures:    hidden,
		IsActive:          c.IsActive,
		CreatedAt:         c.CreatedAt,
		UpdatedAt:         c.UpdatedAt,
	}
}

// clientRequest — тело создания и обновления клиента.
type clientRequest struct {
	Name              string               `json:"name"`
	WebsiteURL        string               `json:"websiteUrl"`
	Email             *openapi_types.Email `json:"email,omitempty"`
	BillingCustomerID *string              `json:"billingCustomerId,omitempty"`
	AnalyticsSiteID   *string              `json:"analyticsSiteId,omitempty"`
	UptimeMonitorID   *string              `json:"uptimeMonitorId,omitempty"`
}

func (req clientRequest) toInput() service.ClientInput {
	return service.ClientInput{
		Name:              req.Name,
		WebsiteURL:        req.WebsiteURL,
		Email:             emailValue(req.Email),
		BillingCustomerID: req.BillingCustomerID,
		AnalyticsSiteID:   req.AnalyticsSiteID,
		UptimeMonitorID:   req.UptimeMonitorID,
	}
}

type activeRequest struct {
	IsActive bool `json:"isActive"`
}

type hiddenFeaturesRequest struct {
	HiddenFeatures []string `json:"hiddenFeatures"`
}

type servicesRequest struct {
	Services []string `json:"services"`
}

type clientServiceDTO struct {
	ID          openapi_types.UUID `json:"id"`
	ServiceType string             `json:"serviceType"`
	CreatedAt   time.Time          `json:"createdAt"`
}

func servicesToDTO(list []model.ClientService) []clientServiceDTO {
	out := make([]clientServiceDTO, 0, len(list))
	for _, s := range list {
		out = append(out, clientServiceDTO{ID: toUUID(s.ID), ServiceType: s.ServiceType, CreatedAt: s.CreatedAt})
	}
	return out
}

type recommendedDTO struct {
	ServiceType string `json:"serviceType"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url,omitempty"`
}

type siteCheckRequest struct {
	CheckType string         `json:"checkType"`
	Score     *int           `json:"score,omitempty"`
	Status    string         `json:"status"`
	Details   map[string]any `json:"details,omitempty"`
}

// --- Контакты ---

type contactDTO struct {
	ID          openapi_types.UUID   `json:"id"`
	ClientID    openapi_types.UUID   `json:"clientId"`
	UserID      string               `json:"userId"`
	Email       *openapi_types.Email `json:"email,omitempty"`
	Name        string               `json:"name,omitempty"`
	RoleLabel   string               `json:"roleLabel,omitempty"`
	IsPrimary   bool                 `json:"isPrimary"`
	IsActive    bool                 `json:"isActive"`
	Permissions permission.Set       `json:"permissions"`
	CreatedAt   time.Time            `json:"createdAt"`
}

func contactToDTO(c *model.ClientContact) contactDTO {
	return contactDTO{
		ID:          toUUID(c.ID),
		ClientID:    toUUID(c.ClientID),
		UserID:      c.UserID,
		Email:       toEmail(c.Email),
		Name:        c.Name,
		RoleLabel:   c.RoleLabel,
		IsPrimary:   c.IsPrimary,
		IsActive:    c.IsActive,
		Permissions: service.ContactFlags(*c),
		CreatedAt:   c.CreatedAt,
	}
}

// contactRequest — тело привязки и обновления контакта.
// UserID при обновлении игнорируется.
type contactRequest struct {
	UserID      string         `json:"userId"`
	RoleLabel   string         `json:"roleLabel"`
	IsPrimary   bool           `json:"isPrimary"`
	Permissions permission.Set `json:"permissions"`
}

func (req contactRequest) toInput() service.ContactInput {
	return service.ContactInput{
		UserID:    req.UserID,
		RoleLabel: req.RoleLabel,
		IsPrimary: req.IsPrimary,
		Flags:     req.Permissions,
	}
}

// --- Контекст клиента ---

type clientSummaryDTO struct {
	ID         openapi_types.UUID `json:"id"`
	Name       string             `json:"name"`
	WebsiteURL string             `json:"websiteUrl,omitempty"`
}

type clientContextDTO struct {
	Client      clientSummaryDTO   `json:"client"`
	ContactID   openapi_types.UUID `json:"contactId"`
	RoleLabel   string             `json:"roleLabel,omitempty"`
	IsPrimary   bool               `json:"isPrimary"`
	Permissions permission.Set     `json:"permissions"`
	// Features — какие интеграции подключены у клиента
	Features featuresDTO `json:"features"`
}

type featuresDTO struct {
	Billing   bool `json:"billing"`
	Analytics bool `json:"analytics"`
	Uptime    bool `json:"uptime"`
}

func clientContextToDTO(cc *clientctx.ClientContext) *clientContextDTO {
	if cc == nil {
		return nil
	}
	return &clientContextDTO{
		Client: clientSummaryDTO{
			ID:         toUUID(cc.Client.ID),
			Name:       cc.Client.Name,
			WebsiteURL: cc.Client.WebsiteURL,
		},
		ContactID:   toUUID(cc.Contact.ID),
		RoleLabel:   cc.Contact.RoleLabel,
		IsPrimary:   cc.Contact.IsPrimary,
		Permissions: cc.EffectivePermissions(),
		Features: featuresDTO{
			Billing:   cc.Client.BillingCustomerID != nil,
			Analytics: cc.Client.AnalyticsSiteID != nil,
			Uptime:    cc.Client.UptimeMonitorID != nil,
		},
	}
}

type availableClientDTO struct {
	clientSummaryDTO
	RoleLabel string `json:"roleLabel,omitempty"`
	Current   bool   `json:"current"`
}

type activeClientRequest struct {
	ClientID openapi_types.UUID `json:"clientId"`
}

// --- Формы ---

type formDTO struct {
	ID          openapi_types.UUID  `json:"id"`
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Fields      []model.FormField   `json:"fields"`
	Settings    *model.FormSettings `json:"settings,omitempty"`
	IsPublic    bool                `json:"isPublic"`
	IsActive    bool                `json:"isActive"`
	CreatedAt   *time.Time          `json:"createdAt,omitempty"`
	UpdatedAt   *time.Time          `json:"updatedAt,omitempty"`
}

// formToDTO — полное представление для сотрудников.
func formToDTO(f *model.Form) formDTO {
	settings := f.Settings
	return formDTO{
		ID:          toUUID(f.ID),
		Name:        f.Name,
		Description: f.Description,
		Fields:      f.Fields,
		Settings:    &settings,
		IsPublic:    f.IsPublic,
		IsActive:    f.IsActive,
		CreatedAt:   &f.CreatedAt,
		UpdatedAt:   &f.UpdatedAt,
	}
}

// formToRenderDTO — представление для заполнения: без настроек обработки
// (адрес webhook и почта уведомлений не раскрываются).
func formToRenderDTO(f *model.Form) formDTO {
	return formDTO{
		ID:          toUUID(f.ID),
		Name:        f.Name,
		Description: f.Description,
		Fields:      f.Fields,
		IsPublic:    f.IsPublic,
		IsActive:    f.IsActive,
	}
}

type formRequest struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Fields      []model.FormField  `json:"fields"`
	Settings    model.FormSettings `json:"settings"`
	IsPublic    bool               `json:"isPublic"`
	IsActive    *bool              `json:"isActive,omitempty"`
}

func (req formRequest) toInput() service.FormInput {
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	return service.FormInput{
		Name:        req.Name,
		Description: req.Description,
		Fields:      req.Fields,
		Settings:    req.Settings,
		IsPublic:    req.IsPublic,
		IsActive:    active,
	}
}

type submitRequest struct {
	Values map[string]any `json:"values"`
	// Email — адрес отправителя для публичных форм (если в форме нет поля email)
	Email *openapi_types.Email `json:"email,omitempty"`
}

type submitResponse struct {
	SubmissionID   openapi_types.UUID `json:"submissionId"`
	SuccessMessage string             `json:"successMessage,omitempty"`
	RedirectURL    string             `json:"redirectUrl,omitempty"`
}

type submissionDTO struct {
	ID             openapi_types.UUID   `json:"id"`
	FormID         openapi_types.UUID   `json:"formId"`
	ClientID       *openapi_types.UUID  `json:"clientId,omitempty"`
	SubmitterID    *string              `json:"submitterId,omitempty"`
	SubmitterEmail *openapi_types.Email `json:"submitterEmail,omitempty"`
	Data           map[string]any       `json:"data"`
	Status         string               `json:"status"`
	CreatedAt      time.Time            `json:"createdAt"`
	UpdatedAt      time.Time            `json:"updatedAt"`
}

func submissionToDTO(s *model.FormSubmission) submissionDTO {
	return submissionDTO{
		ID:             toUUID(s.ID),
		FormID:         toUUID(s.FormID),
		ClientID:       toUUIDPtr(s.ClientID),
		SubmitterID:    s.SubmitterID,
		SubmitterEmail: toEmail(s.SubmitterEmail),
		Data:           s.Data,
		Status:         s.Status,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}
}

type statusRequest struct {
	Status string `json:"status"`
}

// --- База знаний ---

type categoryDTO struct {
	ID           openapi_types.UUID `json:"id"`
	Slug         string             `json:"slug"`
	Name         string             `json:"name"`
	Description  string             `json:"description,omitempty"`
	ArticleCount int                `json:"articleCount"`
}

func categoryToDTO(c *model.KBCategory) categoryDTO {
	return categoryDTO{
		ID:           toUUID(c.ID),
		Slug:         c.Slug,
		Name:         c.Name,
		Description:  c.Description,
		ArticleCount: c.ArticleCount,
	}
}

type articleDTO struct {
	ID          openapi_types.UUID `json:"id"`
	Slug        string             `json:"slug"`
	Title       string             `json:"title"`
	Body        string             `json:"body,omitempty"`
	IsPublished bool               `json:"isPublished"`
	UpdatedAt   time.Time          `json:"updatedAt"`
	Feedback    *feedbackDTO       `json:"feedback,omitempty"`
}

// articleToDTO — статья; withBody=false для списков.
func articleToDTO(a *model.KBArticle, withBody bool) articleDTO {
	dto := articleDTO{
		ID:          toUUID(a.ID),
		Slug:        a.Slug,
		Title:       a.Title,
		IsPublished: a.IsPublished,
		UpdatedAt:   a.UpdatedAt,
	}
	if withBody {
		dto.Body = a.Body
	}
	return dto
}

func articlesToDTO(list []model.KBArticle) []articleDTO {
	out := make([]articleDTO, 0, len(list))
	for i := range list {
		out = append(out, articleToDTO(&list[i], false))
	}
	return out
}

type feedbackDTO struct {
	Helpful    int `json:"helpful"`
	NotHelpful int `json:"notHelpful"`
}

func feedbackToDTO(s model.ArticleFeedbackStats) *feedbackDTO {
	return &feedbackDTO{Helpful: s.Helpful, NotHelpful: s.NotHelpful}
}

type feedbackRequest struct {
	Helpful *bool `json:"helpful"`
}

type categoryRequest struct {
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	Description string `json:"description"`
	SortOrder   int    `json:"sortOrder"`
}

type articleRequest struct {
	CategorySlug string `json:"categorySlug"`
	Slug         string `json:"slug"`
	Title        string `json:"title"`
	Body         string `json:"body"`
	IsPublished  bool   `json:"isPublished"`
}

// --- Пользователи, роли, настройки ---

type roleRequest struct {
	Role string `json:"role"`
}

type impersonateRequest struct {
	UserID string `json:"userId"`
}

type settingDTO struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updatedAt"`
	UpdatedBy string    `json:"updatedBy,omitempty"`
}

type settingsRequest struct {
	Values map[string]string `json:"values"`
}

type ticketRequest struct {
	Subject string `json:"subject"`
	Message string `json:"message"`
}

type ticketCreatedResponse struct {
	ConversationID int64 `json:"conversationId"`
}
