package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/clientportal/internal/auth"
	"github.com/bigkaa/clientportal/internal/clientctx"
	"github.com/bigkaa/clientportal/internal/domain/formlogic"
	"github.com/bigkaa/clientportal/internal/domain/model"
	"github.com/bigkaa/clientportal/internal/domain/rbac"
	"github.com/bigkaa/clientportal/internal/identity"
	"github.com/bigkaa/clientportal/internal/repository"
	"github.com/bigkaa/clientportal/internal/scope"
	"github.com/bigkaa/clientportal/internal/service"
)

const (
	clientAcme = "11111111-1111-1111-1111-111111111111"
	contactID  = "22222222-2222-2222-2222-222222222222"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeProvider — IdP в памяти. err подменяет ответ GetIdentity.
type fakeProvider struct {
	users map[string]identity.Identity
	err   error
	roles map[string]rbac.Role
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		users: map[string]identity.Identity{
			"admin-1":  identity.NewIdentity("admin-1", "admin@agency.test", "Админ", rbac.RoleAdmin),
			"staff-1":  identity.NewIdentity("staff-1", "staff@agency.test", "Сотрудник", rbac.RoleTeamMember),
			"client-1": identity.NewIdentity("client-1", "owner@acme.test", "Владелец", rbac.RoleClient),
		},
		roles: map[string]rbac.Role{},
	}
}

func (p *fakeProvider) GetIdentity(_ context.Context, id string) (identity.Identity, error) {
	if p.err != nil {
		return identity.Identity{}, p.err
	}
	u, ok := p.users[id]
	if !ok {
		return identity.Identity{}, identity.ErrNotFound
	}
	return u, nil
}

func (p *fakeProvider) ListIdentities(context.Context, string, int, int) ([]identity.Identity, error) {
	out := make([]identity.Identity, 0, len(p.users))
	for _, u := range p.users {
		out = append(out, u)
	}
	return out, nil
}

func (p *fakeProvider) CountIdentities(context.Context, string) (int, error) {
	return len(p.users), nil
}

func (p *fakeProvider) SetRole(_ context.Context, id string, role rbac.Role) error {
	p.roles[id] = role
	return nil
}

func (p *fakeProvider) ListByRawRole(context.Context, string, int, int) ([]identity.Identity, error) {
	return nil, nil
}

// fakeStore — активные контакты по пользователю.
type fakeStore struct {
	byUser map[string][]model.ContactWithClient
}

func (s *fakeStore) FindActive(_ context.Context, clientID, userID string) (*model.ContactWithClient, error) {
	for _, cw := range s.byUser[userID] {
		if cw.Client.ID == clientID {
			return &cw, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *fakeStore) FirstActive(_ context.Context, userID string) (*model.ContactWithClient, error) {
	list := s.byUser[userID]
	if len(list) == 0 {
		return nil, repository.ErrNotFound
	}
	return &list[0], nil
}

// memSettings — репозиторий настроек в памяти.
type memSettings struct {
	values map[string]model.SystemSetting
}

func newMemSettings() *memSettings {
	return &memSettings{values: map[string]model.SystemSetting{}}
}

func (m *memSettings) Get(_ context.Context, key string) (*model.SystemSetting, error) {
	s, ok := m.values[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &s, nil
}

func (m *memSettings) Set(_ context.Context, key, value, updatedBy string) error {
	m.values[key] = model.SystemSetting{Key: key, Value: value, UpdatedBy: updatedBy, UpdatedAt: time.Now()}
	return nil
}

func (m *memSettings) SetMany(ctx context.Context, values map[string]string, updatedBy string) error {
	for k, v := range values {
		_ = m.Set(ctx, k, v, updatedBy)
	}
	return nil
}

func (m *memSettings) List(context.Context) ([]model.SystemSetting, error) {
	out := make([]model.SystemSetting, 0, len(m.values))
	for _, s := range m.values {
		out = append(out, s)
	}
	return out, nil
}

func (m *memSettings) ListByPrefix(_ context.Context, prefix string) ([]model.SystemSetting, error) {
	var out []model.SystemSetting
	for k, s := range m.values {
		if strings.HasPrefix(k, prefix) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memSettings) Delete(_ context.Context, key string) error {
	if _, ok := m.values[key]; !ok {
		return repository.ErrNotFound
	}
	delete(m.values, key)
	return nil
}

// testEnv — обработчик с зависимостями в памяти.
type testEnv struct {
	h        *APIHandler
	provider *fakeProvider
	store    *fakeStore
	settings *memSettings
	sessions *auth.SessionManager
	scopes   *scope.Factory
}

func newTestEnv(t *testing.T, oidc OIDCProvider) *testEnv {
	t.Helper()
	logger := testLogger()
	provider := newFakeProvider()
	store := &fakeStore{byUser: map[string][]model.ContactWithClient{
		"client-1": {{
			Client:  model.Client{ID: clientAcme, Name: "Acme", IsActive: true},
			Contact: model.ClientContact{ID: contactID, ClientID: clientAcme, UserID: "client-1", IsActive: true, CanDashboard: true},
		}},
	}}
	settings := newMemSettings()

	sessions, err := auth.NewSessionManager("test-session-secret", false, time.Hour)
	if err != nil {
		t.Fatalf("NewSessionManager: %v", err)
	}
	overlay := identity.NewOverlay(provider, 4*time.Hour, logger)
	scopes := scope.NewFactory(
		identity.NewResolver(provider, logger),
		overlay,
		clientctx.NewResolver(store, logger),
	)

	svc := Services{
		Users:    service.NewUserService(provider, logger),
		Settings: service.NewSettingsService(settings, logger),
	}
	h := NewAPIHandler(nil, svc, overlay, sessions, oidc, "https://portal.test", logger)
	return &testEnv{h: h, provider: provider, store: store, settings: settings, sessions: sessions, scopes: scopes}
}

// request строит запрос с областью аутентифицированного пользователя userID.
// Пустой userID — анонимный запрос.
func (e *testEnv) request(method, target, body, userID string, imp *identity.ImpersonationToken) *http.Request {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	r := httptest.NewRequest(method, target, rd)
	sc := e.scopes.New(identity.Claims{Subject: userID}, imp, nil)
	return r.WithContext(scope.WithScope(r.Context(), sc))
}

func (e *testEnv) scopeOf(r *http.Request) *scope.Scope {
	return scope.FromContext(r.Context())
}

// withURLParam добавляет параметр маршрута chi.
func withURLParam(r *http.Request, name, value string) *http.Request {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		rctx = chi.NewRouteContext()
	}
	rctx.URLParams.Add(name, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// errorCode извлекает code из тела ошибки.
func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("тело ошибки не JSON: %v (%s)", err, rec.Body.String())
	}
	return body.Error.Code
}

func findCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestPaginationDefaults(t *testing.T) {
	intPtr := func(v int) *int { return &v }

	tests := []struct {
		name       string
		limit      *int
		offset     *int
		wantLimit  int
		wantOffset int
	}{
		{"без параметров", nil, nil, 50, 0},
		{"обычные значения", intPtr(20), intPtr(40), 20, 40},
		{"limit меньше 1", intPtr(0), nil, 1, 0},
		{"limit больше 200", intPtr(1000), nil, 200, 0},
		{"отрицательный offset", nil, intPtr(-5), 50, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, o := paginationDefaults(tt.limit, tt.offset)
			if l != tt.wantLimit || o != tt.wantOffset {
				t.Errorf("paginationDefaults = (%d, %d), хотели (%d, %d)", l, o, tt.wantLimit, tt.wantOffset)
			}
		})
	}
}

func TestPagination_Query(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/x?limit=abc&offset=10", nil)
	l, o := pagination(r)
	if l != 50 || o != 10 {
		t.Errorf("pagination = (%d, %d), хотели (50, 10)", l, o)
	}
}

func TestIDParam(t *testing.T) {
	t.Run("корректный UUID", func(t *testing.T) {
		r := withURLParam(httptest.NewRequest(http.MethodGet, "/", nil), "id", strings.ToUpper(clientAcme))
		rec := httptest.NewRecorder()
		id, ok := idParam(rec, r, "id")
		if !ok {
			t.Fatalf("ok = false, хотели true")
		}
		if id != clientAcme {
			t.Errorf("id = %q, хотели %q", id, clientAcme)
		}
	})

	t.Run("некорректный UUID", func(t *testing.T) {
		r := withURLParam(httptest.NewRequest(http.MethodGet, "/", nil), "id", "not-a-uuid")
		rec := httptest.NewRecorder()
		if _, ok := idParam(rec, r, "id"); ok {
			t.Fatal("ok = true, хотели false")
		}
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, хотели 400", rec.Code)
		}
	})
}

func TestWriteServiceError(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"ошибки полей формы", formlogic.ValidationErrors{{FieldID: "email", Message: "обязательно"}}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"валидация", fmt.Errorf("%w: имя обязательно", service.ErrValidation), http.StatusBadRequest, "VALIDATION_ERROR"},
		{"не найдено", service.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
		{"пользователь IdP не найден", identity.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
		{"конфликт", service.ErrConflict, http.StatusConflict, "CONFLICT"},
		{"переход статуса", service.ErrInvalidTransition, http.StatusConflict, "CONFLICT"},
		{"нет доступа к клиенту", service.ErrNoClientAccess, http.StatusForbidden, "NO_CLIENT_ACCESS"},
		{"недостаточно прав", service.ErrForbidden, http.StatusForbidden, "FORBIDDEN"},
		{"имперсонация себя", identity.ErrSelfImpersonation, http.StatusForbidden, "FORBIDDEN"},
		{"интеграция не настроена", service.ErrNotConfigured, http.StatusBadGateway, "UPSTREAM_UNAVAILABLE"},
		{"внешний сервис", fmt.Errorf("%w: stripe", service.ErrUpstreamUnavailable), http.StatusBadGateway, "UPSTREAM_UNAVAILABLE"},
		{"IdP недоступен", service.ErrIDPUnavailable, http.StatusBadGateway, "IDP_UNAVAILABLE"},
		{"прочее", errors.New("connection reset"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			env.h.writeServiceError(rec, tt.err, "тест")
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, хотели %d", rec.Code, tt.wantStatus)
			}
			if code := errorCode(t, rec); code != tt.wantCode {
				t.Errorf("code = %q, хотели %q", code, tt.wantCode)
			}
		})
	}
}

func TestDecodeJSON_UnknownField(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"userId":"x","extra":1}`))
	rec := httptest.NewRecorder()
	var req impersonateRequest
	if decodeJSON(rec, r, &req) {
		t.Fatal("decodeJSON = true, хотели false")
	}
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, хотели 400", rec.Code)
	}
}

func TestRealIdentity_NoScope(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := httptest.NewRecorder()
	if _, ok := env.h.realIdentity(rec, httptest.NewRequest(http.MethodGet, "/", nil)); ok {
		t.Fatal("ok = true без области запроса")
	}
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, хотели 401", rec.Code)
	}
}
