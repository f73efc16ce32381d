// forms.go — сервис форм: определения, приём отправок, обработчики
// отправки (store, webhook, support) и статусы отправок.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/clientportal/internal/domain/formlogic"
	"github.com/bigkaa/clientportal/internal/domain/model"
	"github.com/bigkaa/clientportal/internal/helpscout"
	"github.com/bigkaa/clientportal/internal/repository"
)

// formSubmissionsTotal — отправки форм по обработчику и результату.
var formSubmissionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "cp_form_submissions_total",
		Help: "Количество принятых отправок форм",
	},
	[]string{"handler", "result"},
)

// SupportCreator создаёт обращение в поддержку. Реализуется helpscout.Client.
type SupportCreator interface {
	CreateConversation(ctx context.Context, in helpscout.NewConversation) (int64, error)
}

// FormInput — редактируемые поля формы.
type FormInput struct {
	Name        string
	Description string
	Fields      []model.FormField
	Settings    model.FormSettings
	IsPublic    bool
	IsActive    bool
}

// Submitter — отправитель формы. Для анонимной публичной отправки
// UserID и ClientID пустые, Email берётся из значений формы.
type Submitter struct {
	UserID   *string
	Email    string
	ClientID *string
}

// SubmitResult — итог приёма отправки.
type SubmitResult struct {
	Submission     *model.FormSubmission
	SuccessMessage string
	RedirectURL    string
}

// FormService — сервис форм.
type FormService struct {
	forms       repository.FormRepository
	submissions repository.SubmissionRepository
	support     SupportCreator
	httpClient  *http.Client
	logger      *slog.Logger
}

// NewFormService создаёт сервис форм. support может быть nil
// (HelpScout не настроен): обработчик support тогда только сохраняет отправку.
func NewFormService(
	forms repository.FormRepository,
	submissions repository.SubmissionRepository,
	support SupportCreator,
	logger *slog.Logger,
) *FormService {
	return &FormService{
		forms:       forms,
		submissions: submissions,
		support:     support,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		logger:      logger.With(slog.String("component", "form_service")),
	}
}

// --- Определения форм --- //

// Create создаёт форму. Поля нормализуются: назначаются ID,
// удаляются условия со ссылками на несуществующие поля.
func (s *FormService) Create(ctx context.Context, in FormInput, createdBy string) (*model.Form, error) {
	f, err := buildForm(in)
	if err != nil {
		return nil, err
	}
	f.ID = uuid.NewString()
	f.CreatedBy = createdBy

	if err := s.forms.Create(ctx, f); err != nil {
		return nil, mapRepoErr(err, "ошибка создания формы")
	}

	s.logger.Info("Форма создана",
		slog.String("form_id", f.ID),
		slog.String("name", f.Name),
		slog.Int("fields", len(f.Fields)),
	)
	return f, nil
}

// Get возвращает форму по ID.
func (s *FormService) Get(ctx context.Context, id string) (*model.Form, error) {
	f, err := s.forms.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoErr(err, "ошибка получения формы")
	}
	return f, nil
}

// GetActive возвращает активную форму. Для публичного доступа
// форма также должна быть публичной. Иначе — ErrNotFound.
func (s *FormService) GetActive(ctx context.Context, id string, public bool) (*model.Form, error) {
	f, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !f.IsActive || (public && !f.IsPublic) {
		return nil, ErrNotFound
	}
	return f, nil
}

// List возвращает страницу форм и общее количество.
func (s *FormService) List(ctx context.Context, limit, offset int) ([]*model.Form, int, error) {
	forms, err := s.forms.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("ошибка получения списка форм: %w", err)
	}
	total, err := s.forms.Count(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("ошибка подсчёта форм: %w", err)
	}
	return forms, total, nil
}

// Update изменяет форму на месте. Версий форм нет.
func (s *FormService) Update(ctx context.Context, id string, in FormInput) (*model.Form, error) {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	f, err := buildForm(in)
	if err != nil {
		return nil, err
	}
	f.ID = existing.ID
	f.CreatedBy = existing.CreatedBy
	f.CreatedAt = existing.CreatedAt

	if err := s.forms.Update(ctx, f); err != nil {
		return nil, mapRepoErr(err, "ошибка обновления формы")
	}

	s.logger.Info("Форма обновлена", slog.String("form_id", id))
	return f, nil
}

// Delete удаляет форму вместе с отправками.
func (s *FormService) Delete(ctx context.Context, id string) error {
	if err := s.forms.Delete(ctx, id); err != nil {
		return mapRepoErr(err, "ошибка удаления формы")
	}
	s.logger.Info("Форма удалена", slog.String("form_id", id))
	return nil
}

// Import создаёт или перезаписывает форму с заданным ID (portalctl forms import).
// Пустой ID — новая форма.
func (s *FormService) Import(ctx context.Context, src *model.Form, createdBy string) (*model.Form, error) {
	f, err := buildForm(FormInput{
		Name:        src.Name,
		Description: src.Description,
		Fields:      src.Fields,
		Settings:    src.Settings,
		IsPublic:    src.IsPublic,
		IsActive:    src.IsActive,
	})
	if err != nil {
		return nil, err
	}
	f.ID = src.ID
	if f.ID == "" {
		f.ID = uuid.NewString()
	} else if _, err := uuid.Parse(f.ID); err != nil {
		return nil, fmt.Errorf("%w: некорректный ID формы %q", ErrValidation, f.ID)
	}
	f.CreatedBy = createdBy

	if err := s.forms.Upsert(ctx, f); err != nil {
		return nil, fmt.Errorf("ошибка импорта формы: %w", err)
	}

	s.logger.Info("Форма импортирована", slog.String("form_id", f.ID))
	return f, nil
}

func buildForm(in FormInput) (*model.Form, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: название формы обязательно", ErrValidation)
	}

	fields, err := formlogic.Normalize(in.Fields)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	settings := in.Settings
	if err := validateFormSettings(&settings); err != nil {
		return nil, err
	}

	return &model.Form{
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		Fields:      fields,
		Settings:    settings,
		IsPublic:    in.IsPublic,
		IsActive:    in.IsActive,
	}, nil
}

func validateFormSettings(st *model.FormSettings) error {
	st.Handler = strings.TrimSpace(st.Handler)
	if st.Handler == "" {
		st.Handler = model.HandlerStore
	}
	switch st.Handler {
	case model.HandlerStore, model.HandlerSupport:
	case model.HandlerWebhook:
		if !isHTTPURL(st.WebhookURL) {
			return fmt.Errorf("%w: для обработчика webhook нужен http(s) адрес", ErrValidation)
		}
	default:
		return fmt.Errorf("%w: неизвестный обработчик %q", ErrValidation, st.Handler)
	}
	if st.RedirectURL != "" && !isHTTPURL(st.RedirectURL) && !strings.HasPrefix(st.RedirectURL, "/") {
		return fmt.Errorf("%w: адрес перехода должен быть абсолютным или начинаться с /", ErrValidation)
	}
	return nil
}

// --- Отправки --- //

// Submit принимает отправку формы: проверяет значения с учётом видимости
// полей, сохраняет отправку (статус NEW) и вызывает обработчик формы.
// Ошибка обработчика не отменяет сохранённую отправку.
func (s *FormService) Submit(ctx context.Context, form *model.Form, values formlogic.Values, who Submitter) (*SubmitResult, error) {
	if verrs := formlogic.Validate(form.Fields, values); len(verrs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrValidation, verrs)
	}

	payload := formlogic.BuildPayload(form.Fields, values)

	email := strings.TrimSpace(who.Email)
	if email == "" {
		email = firstEmailValue(form.Fields, payload)
	}

	sub := &model.FormSubmission{
		ID:             uuid.NewString(),
		FormID:         form.ID,
		ClientID:       who.ClientID,
		SubmitterID:    who.UserID,
		SubmitterEmail: email,
		Data:           payload,
		Status:         model.SubmissionNew,
	}
	if err := s.submissions.Create(ctx, sub); err != nil {
		formSubmissionsTotal.WithLabelValues(form.Settings.Handler, "error").Inc()
		return nil, mapRepoErr(err, "ошибка сохранения отправки")
	}

	result := "ok"
	if err := s.runHandler(ctx, form, sub); err != nil {
		result = "handler_error"
		s.logger.Error("Обработчик отправки формы завершился с ошибкой",
			slog.String("form_id", form.ID),
			slog.String("submission_id", sub.ID),
			slog.String("handler", form.Settings.Handler),
			slog.String("error", err.Error()),
		)
	}
	formSubmissionsTotal.WithLabelValues(form.Settings.Handler, result).Inc()

	s.logger.Info("Отправка формы принята",
		slog.String("form_id", form.ID),
		slog.String("submission_id", sub.ID),
	)
	return &SubmitResult{
		Submission:     sub,
		SuccessMessage: form.Settings.SuccessMessage,
		RedirectURL:    form.Settings.RedirectURL,
	}, nil
}

func (s *FormService) runHandler(ctx context.Context, form *model.Form, sub *model.FormSubmission) error {
	switch form.Settings.Handler {
	case model.HandlerWebhook:
		return s.sendWebhook(ctx, form, sub)
	case model.HandlerSupport:
		return s.createSupportTicket(ctx, form, sub)
	default:
		return nil
	}
}

// webhookPayload — тело POST обработчика webhook.
type webhookPayload struct {
	FormID         string         `json:"formId"`
	FormName       string         `json:"formName"`
	SubmissionID   string         `json:"submissionId"`
	SubmitterEmail string         `json:"submitterEmail,omitempty"`
	ClientID       *string        `json:"clientId,omitempty"`
	SubmittedAt    time.Time      `json:"submittedAt"`
	Data           map[string]any `json:"data"`
}

func (s *FormService) sendWebhook(ctx context.Context, form *model.Form, sub *model.FormSubmission) error {
	body, err := json.Marshal(webhookPayload{
		FormID:         form.ID,
		FormName:       form.Name,
		SubmissionID:   sub.ID,
		SubmitterEmail: sub.SubmitterEmail,
		ClientID:       sub.ClientID,
		SubmittedAt:    sub.CreatedAt,
		Data:           sub.Data,
	})
	if err != nil {
		return fmt.Errorf("сериализация webhook: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, form.Settings.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("создание запроса webhook: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: webhook: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: webhook вернул статус %d: %s", ErrUpstreamUnavailable, resp.StatusCode, string(b))
	}
	return nil
}

func (s *FormService) createSupportTicket(ctx context.Context, form *model.Form, sub *model.FormSubmission) error {
	if s.support == nil {
		return ErrNotConfigured
	}
	if sub.SubmitterEmail == "" {
		return fmt.Errorf("%w: нет email отправителя для обращения", ErrValidation)
	}

	_, err := s.support.CreateConversation(ctx, helpscout.NewConversation{
		Subject:       "Форма: " + form.Name,
		CustomerEmail: sub.SubmitterEmail,
		Text:          renderSubmission(form.Fields, sub.Data),
		Tags:          []string{"portal-form"},
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	return nil
}

// renderSubmission собирает текст обращения "Подпись: значение" в порядке полей.
func renderSubmission(fields []model.FormField, data map[string]any) string {
	var b strings.Builder
	for _, f := range fields {
		v, ok := data[f.ID]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", f.Label, formlogic.ValueString(v))
	}
	return strings.TrimRight(b.String(), "\n")
}

// firstEmailValue возвращает значение первого email-поля формы.
func firstEmailValue(fields []model.FormField, data map[string]any) string {
	for _, f := range fields {
		if f.Type != model.FieldEmail {
			continue
		}
		if v := strings.TrimSpace(formlogic.ValueString(data[f.ID])); v != "" {
			return v
		}
	}
	return ""
}

// GetSubmission возвращает отправку по ID.
func (s *FormService) GetSubmission(ctx context.Context, id string) (*model.FormSubmission, error) {
	sub, err := s.submissions.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoErr(err, "ошибка получения отправки")
	}
	return sub, nil
}

// ListSubmissions возвращает страницу отправок и общее количество.
func (s *FormService) ListSubmissions(ctx context.Context, filter repository.SubmissionFilter, limit, offset int) ([]*model.FormSubmission, int, error) {
	if filter.Status != "" && !isSubmissionStatus(filter.Status) {
		return nil, 0, fmt.Errorf("%w: неизвестный статус %q", ErrValidation, filter.Status)
	}
	list, err := s.submissions.List(ctx, filter, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("ошибка получения отправок: %w", err)
	}
	total, err := s.submissions.Count(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("ошибка подсчёта отправок: %w", err)
	}
	return list, total, nil
}

// submissionTransitions — допустимые переходы статуса отправки.
// ARCHIVED — конечный статус, вернуть отправку в NEW нельзя.
var submissionTransitions = map[string][]string{
	model.SubmissionNew:  {model.SubmissionRead, model.SubmissionArchived},
	model.SubmissionRead: {model.SubmissionArchived},
}

func isSubmissionStatus(s string) bool {
	return s == model.SubmissionNew || s == model.SubmissionRead || s == model.SubmissionArchived
}

// SetSubmissionStatus меняет статус отправки. Недопустимый переход — ErrInvalidTransition.
func (s *FormService) SetSubmissionStatus(ctx context.Context, id, status string) (*model.FormSubmission, error) {
	if !isSubmissionStatus(status) {
		return nil, fmt.Errorf("%w: неизвестный статус %q", ErrValidation, status)
	}

	sub, err := s.GetSubmission(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Status == status {
		return sub, nil
	}

	if !slices.Contains(submissionTransitions[sub.Status], status) {
		return nil, fmt.Errorf("%w: %s → %s", ErrInvalidTransition, sub.Status, status)
	}

	if err := s.submissions.UpdateStatus(ctx, id, sub.Status, status); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%w: статус отправки изменён параллельно", ErrInvalidTransition)
		}
		return nil, mapRepoErr(err, "ошибка изменения статуса отправки")
	}

	s.logger.Info("Статус отправки изменён",
		slog.String("submission_id", id),
		slog.String("from", sub.Status),
		slog.String("to", status),
	)
	sub.Status = status
	return sub, nil
}
