package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/bigkaa/clientportal/internal/domain/formlogic"
	"github.com/bigkaa/clientportal/internal/domain/model"
	"github.com/bigkaa/clientportal/internal/helpscout"
)

type fakeSupport struct {
	mu    sync.Mutex
	calls []helpscout.NewConversation
	err   error
}

func (f *fakeSupport) CreateConversation(_ context.Context, in helpscout.NewConversation) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, in)
	if f.err != nil {
		return 0, f.err
	}
	return 77, nil
}

func contactFields() []model.FormField {
	return []model.FormField{
		{ID: "email", Type: model.FieldEmail, Label: "Email", Required: true},
		{ID: "topic", Type: model.FieldSelect, Label: "Тема", Options: []string{"Сайт", "Счёт"}, Required: true},
		{ID: "url", Type: model.FieldURL, Label: "Адрес страницы", Required: true,
			Conditions: []model.FieldCondition{{FieldID: "topic", Operator: model.OpEquals, Value: "Сайт"}}},
		{ID: "message", Type: model.FieldTextarea, Label: "Сообщение"},
	}
}

func createTestForm(t *testing.T, svc *FormService, settings model.FormSettings) *model.Form {
	t.Helper()
	f, err := svc.Create(context.Background(), FormInput{
		Name:     "Обратная связь",
		Fields:   contactFields(),
		Settings: settings,
		IsPublic: true,
		IsActive: true,
	}, "staff-1")
	if err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}
	return f
}

func TestFormService_CreateValidation(t *testing.T) {
	svc := NewFormService(newFakeFormRepo(), newFakeSubmissionRepo(), nil, testLogger())
	ctx := context.Background()

	tests := []struct {
		name string
		in   FormInput
	}{
		{"пустое название", FormInput{Name: " ", Fields: contactFields()}},
		{"неизвестный обработчик", FormInput{Name: "F", Settings: model.FormSettings{Handler: "email"}}},
		{"webhook без адреса", FormInput{Name: "F", Settings: model.FormSettings{Handler: model.HandlerWebhook}}},
		{"относительный redirect без слэша", FormInput{Name: "F", Settings: model.FormSettings{RedirectURL: "thanks"}}},
		{"неизвестный тип поля", FormInput{Name: "F", Fields: []model.FormField{{Type: "slider", Label: "X"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Create(ctx, tt.in, "staff-1"); !errors.Is(err, ErrValidation) {
				t.Errorf("Create() ошибка = %v, хотели ErrValidation", err)
			}
		})
	}
}

func TestFormService_CreateDefaultsHandler(t *testing.T) {
	svc := NewFormService(newFakeFormRepo(), newFakeSubmissionRepo(), nil, testLogger())
	f := createTestForm(t, svc, model.FormSettings{})
	if f.Settings.Handler != model.HandlerStore {
		t.Errorf("Handler = %q, хотели store", f.Settings.Handler)
	}
	if f.CreatedBy != "staff-1" || f.ID == "" {
		t.Errorf("форма = %+v", f)
	}
}

func TestFormService_GetActive(t *testing.T) {
	forms := newFakeFormRepo()
	svc := NewFormService(forms, newFakeSubmissionRepo(), nil, testLogger())
	f := createTestForm(t, svc, model.FormSettings{})
	ctx := context.Background()

	if _, err := svc.GetActive(ctx, f.ID, true); err != nil {
		t.Fatalf("GetActive() ошибка: %v", err)
	}

	forms.forms[f.ID].IsPublic = false
	if _, err := svc.GetActive(ctx, f.ID, true); !errors.Is(err, ErrNotFound) {
		t.Errorf("непубличная форма публично: ошибка = %v, хотели ErrNotFound", err)
	}
	if _, err := svc.GetActive(ctx, f.ID, false); err != nil {
		t.Errorf("непубличная форма для пользователя: ошибка = %v", err)
	}

	forms.forms[f.ID].IsActive = false
	if _, err := svc.GetActive(ctx, f.ID, false); !errors.Is(err, ErrNotFound) {
		t.Errorf("неактивная форма: ошибка = %v, хотели ErrNotFound", err)
	}
}

func TestFormService_SubmitValidation(t *testing.T) {
	subs := newFakeSubmissionRepo()
	svc := NewFormService(newFakeFormRepo(), subs, nil, testLogger())
	f := createTestForm(t, svc, model.FormSettings{})

	_, err := svc.Submit(context.Background(), f, formlogic.Values{
		"email": "anna@acme.test",
		"topic": "Сайт",
	}, Submitter{})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("Submit() ошибка = %v, хотели ErrValidation", err)
	}
	var verrs formlogic.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) != 1 || verrs[0].FieldID != "url" {
		t.Errorf("ошибки полей = %v, хотели одну ошибку поля url", verrs)
	}
	if len(subs.subs) != 0 {
		t.Errorf("сохранено отправок = %d, хотели 0", len(subs.subs))
	}
}

func TestFormService_SubmitStoresVisibleValues(t *testing.T) {
	subs := newFakeSubmissionRepo()
	svc := NewFormService(newFakeFormRepo(), subs, nil, testLogger())
	f := createTestForm(t, svc, model.FormSettings{SuccessMessage: "Спасибо"})

	res, err := svc.Submit(context.Background(), f, formlogic.Values{
		"email": "anna@acme.test",
		"topic": "Счёт",
		// Поле url скрыто: значение, введённое до скрытия, не попадает в отправку
		"url":     "https://acme.test/old",
		"message": "Нужен акт",
	}, Submitter{ClientID: strPtr("c1"), UserID: strPtr("u1")})
	if err != nil {
		t.Fatalf("Submit() ошибка: %v", err)
	}

	sub := res.Submission
	if sub.Status != model.SubmissionNew {
		t.Errorf("Status = %s, хотели NEW", sub.Status)
	}
	if _, ok := sub.Data["url"]; ok {
		t.Error("значение скрытого поля попало в отправку")
	}
	if sub.Data["message"] != "Нужен акт" {
		t.Errorf("message = %v", sub.Data["message"])
	}
	// Email отправителя берётся из email-поля формы
	if sub.SubmitterEmail != "anna@acme.test" {
		t.Errorf("SubmitterEmail = %q", sub.SubmitterEmail)
	}
	if sub.ClientID == nil || *sub.ClientID != "c1" {
		t.Errorf("ClientID = %v, хотели c1", sub.ClientID)
	}
	if res.SuccessMessage != "Спасибо" {
		t.Errorf("SuccessMessage = %q", res.SuccessMessage)
	}
	if len(subs.subs) != 1 {
		t.Errorf("сохранено отправок = %d, хотели 1", len(subs.subs))
	}
}

func TestFormService_SubmitWebhook(t *testing.T) {
	var (
		mu       sync.Mutex
		received map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("декодирование webhook: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	svc := NewFormService(newFakeFormRepo(), newFakeSubmissionRepo(), nil, testLogger())
	f := createTestForm(t, svc, model.FormSettings{Handler: model.HandlerWebhook, WebhookURL: srv.URL})

	res, err := svc.Submit(context.Background(), f, formlogic.Values{"email": "anna@acme.test", "topic": "Счёт"}, Submitter{})
	if err != nil {
		t.Fatalf("Submit() ошибка: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if received["submissionId"] != res.Submission.ID || received["formName"] != "Обратная связь" {
		t.Errorf("тело webhook = %v", received)
	}
	data, _ := received["data"].(map[string]any)
	if data["topic"] != "Счёт" {
		t.Errorf("data = %v", data)
	}
}

func TestFormService_SubmitHandlerFailureKeepsSubmission(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	subs := newFakeSubmissionRepo()
	svc := NewFormService(newFakeFormRepo(), subs, nil, testLogger())
	f := createTestForm(t, svc, model.FormSettings{Handler: model.HandlerWebhook, WebhookURL: srv.URL})

	if _, err := svc.Submit(context.Background(), f, formlogic.Values{"email": "a@b.test", "topic": "Счёт"}, Submitter{}); err != nil {
		t.Fatalf("Submit() ошибка = %v, хотели успех при сбое webhook", err)
	}
	if len(subs.subs) != 1 {
		t.Errorf("сохранено отправок = %d, хотели 1", len(subs.subs))
	}
}

func TestFormService_SubmitSupport(t *testing.T) {
	support := &fakeSupport{}
	svc := NewFormService(newFakeFormRepo(), newFakeSubmissionRepo(), support, testLogger())
	f := createTestForm(t, svc, model.FormSettings{Handler: model.HandlerSupport})

	_, err := svc.Submit(context.Background(), f, formlogic.Values{
		"email":   "anna@acme.test",
		"topic":   "Сайт",
		"url":     "https://acme.test/contacts",
		"message": "Не открывается",
	}, Submitter{Email: "anna.portal@acme.test"})
	if err != nil {
		t.Fatalf("Submit() ошибка: %v", err)
	}

	if len(support.calls) != 1 {
		t.Fatalf("обращений = %d, хотели 1", len(support.calls))
	}
	call := support.calls[0]
	if call.CustomerEmail != "anna.portal@acme.test" {
		t.Errorf("CustomerEmail = %q, хотели email отправителя", call.CustomerEmail)
	}
	if !strings.Contains(call.Text, "Адрес страницы: https://acme.test/contacts") {
		t.Errorf("текст обращения = %q", call.Text)
	}
	if !strings.HasPrefix(call.Subject, "Форма: ") {
		t.Errorf("тема = %q", call.Subject)
	}
}

func TestFormService_SetSubmissionStatus(t *testing.T) {
	tests := []struct {
		name    string
		from    string
		to      string
		wantErr error
	}{
		{"NEW → READ", model.SubmissionNew, model.SubmissionRead, nil},
		{"READ → ARCHIVED", model.SubmissionRead, model.SubmissionArchived, nil},
		{"NEW → ARCHIVED", model.SubmissionNew, model.SubmissionArchived, nil},
		{"READ → NEW запрещён", model.SubmissionRead, model.SubmissionNew, ErrInvalidTransition},
		{"ARCHIVED конечный", model.SubmissionArchived, model.SubmissionRead, ErrInvalidTransition},
		{"тот же статус", model.SubmissionRead, model.SubmissionRead, nil},
		{"неизвестный статус", model.SubmissionNew, "DONE", ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subs := newFakeSubmissionRepo()
			subs.subs["s1"] = &model.FormSubmission{ID: "s1", Status: tt.from}
			svc := NewFormService(newFakeFormRepo(), subs, nil, testLogger())

			got, err := svc.SetSubmissionStatus(context.Background(), "s1", tt.to)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("ошибка = %v, хотели %v", err, tt.wantErr)
				}
				if subs.subs["s1"].Status != tt.from {
					t.Errorf("статус изменился: %s", subs.subs["s1"].Status)
				}
				return
			}
			if err != nil {
				t.Fatalf("SetSubmissionStatus() ошибка: %v", err)
			}
			if got.Status != tt.to || subs.subs["s1"].Status != tt.to {
				t.Errorf("статус = %s, хотели %s", got.Status, tt.to)
			}
		})
	}
}

func TestFormService_Import(t *testing.T) {
	forms := newFakeFormRepo()
	svc := NewFormService(forms, newFakeSubmissionRepo(), nil, testLogger())
	ctx := context.Background()

	src := &model.Form{
		ID:     "7d1c0c52-4b8f-4a4a-9d0e-3a0a3b5d8f10",
		Name:   "Импорт",
		Fields: []model.FormField{{Type: model.FieldText, Label: "Имя"}},
	}
	f, err := svc.Import(ctx, src, "cli")
	if err != nil {
		t.Fatalf("Import() ошибка: %v", err)
	}
	if f.ID != src.ID || f.Fields[0].ID == "" {
		t.Errorf("форма = %+v", f)
	}

	src.ID = "not-a-uuid"
	if _, err := svc.Import(ctx, src, "cli"); !errors.Is(err, ErrValidation) {
		t.Errorf("некорректный ID: ошибка = %v, хотели ErrValidation", err)
	}
}
