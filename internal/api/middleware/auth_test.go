package middleware

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/bigkaa/clientportal/internal/auth"
	"github.com/bigkaa/clientportal/internal/clientctx"
	"github.com/bigkaa/clientportal/internal/domain/model"
	"github.com/bigkaa/clientportal/internal/domain/rbac"
	"github.com/bigkaa/clientportal/internal/identity"
	"github.com/bigkaa/clientportal/internal/repository"
	"github.com/bigkaa/clientportal/internal/scope"
)

// testKeyID — идентификатор ключа для тестов.
const (
	testKeyID  = "test-key-cp"
	testIssuer = "https://keycloak.test/realms/portal"
)

// fakeProvider — IdP в памяти. err подменяет ответ GetIdentity.
type fakeProvider struct {
	users map[string]identity.Identity
	err   error
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
	return nil, nil
}

func (p *fakeProvider) CountIdentities(context.Context, string) (int, error) { return 0, nil }

func (p *fakeProvider) SetRole(context.Context, string, rbac.Role) error { return nil }

func (p *fakeProvider) ListByRawRole(context.Context, string, int, int) ([]identity.Identity, error) {
	return nil, nil
}

// emptyStore — ни у кого нет контактов.
type emptyStore struct{}

func (emptyStore) FindActive(context.Context, string, string) (*model.ContactWithClient, error) {
	return nil, repository.ErrNotFound
}

func (emptyStore) FirstActive(context.Context, string) (*model.ContactWithClient, error) {
	return nil, repository.ErrNotFound
}

// fakeRefresher возвращает заранее заданный ответ на refresh.
type fakeRefresher struct {
	resp  *auth.TokenResponse
	err   error
	calls int
}

func (f *fakeRefresher) RefreshTokens(context.Context, string) (*auth.TokenResponse, error) {
	f.calls++
	return f.resp, f.err
}

type testEnv struct {
	key       *rsa.PrivateKey
	provider  *fakeProvider
	sessions  *auth.SessionManager
	refresher *fakeRefresher
	auth      *Authenticator
}

// generateTestKey генерирует RSA ключ для тестов.
func generateTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	return key
}

// buildJWKSetJSON строит JWKS JSON из RSA публичного ключа.
func buildJWKSetJSON(pub *rsa.PublicKey, kid string) json.RawMessage {
	jwks := map[string]any{
		"keys": []map[string]any{
			{
				"kty": "RSA",
				"kid": kid,
				"use": "sig",
				"alg": "RS256",
				"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			},
		},
	}
	data, _ := json.Marshal(jwks)
	return data
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	key := generateTestKey(t)
	kf, err := keyfunc.NewJWKSetJSON(buildJWKSetJSON(&key.PublicKey, testKeyID))
	if err != nil {
		t.Fatalf("не удалось создать keyfunc: %v", err)
	}

	provider := &fakeProvider{users: map[string]identity.Identity{
		"admin-1":  identity.NewIdentity("admin-1", "admin@example.com", "Админ", rbac.RoleAdmin),
		"staff-1":  identity.NewIdentity("staff-1", "staff@example.com", "Сотрудник", rbac.RoleTeamMember),
		"client-1": identity.NewIdentity("client-1", "client@example.com", "Клиент", rbac.RoleClient),
	}}
	sessions, err := auth.NewSessionManager("test-secret", false, time.Hour)
	if err != nil {
		t.Fatalf("NewSessionManager() ошибка: %v", err)
	}

	logger := testLogger()
	factory := scope.NewFactory(
		identity.NewResolver(provider, logger),
		identity.NewOverlay(provider, 4*time.Hour, logger),
		clientctx.NewResolver(emptyStore{}, logger),
	)
	refresher := &fakeRefresher{}

	return &testEnv{
		key:       key,
		provider:  provider,
		sessions:  sessions,
		refresher: refresher,
		auth:      NewAuthenticator(kf, testIssuer, 0, sessions, refresher, factory, logger),
	}
}

// token подписывает access token. role пустой — claim не добавляется.
func (e *testEnv) token(t *testing.T, sub, role string, exp time.Time, issuer string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":                sub,
		"preferred_username": sub,
		"email":              sub + "@example.com",
		"iss":                issuer,
		"exp":                jwt.NewNumericDate(exp),
		"iat":                jwt.NewNumericDate(time.Now()),
	}
	if role != "" {
		claims["role"] = role
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = testKeyID
	s, err := tok.SignedString(e.key)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func (e *testEnv) validToken(t *testing.T, sub, role string) string {
	return e.token(t, sub, role, time.Now().Add(time.Hour), testIssuer)
}

// captureScope — обработчик, запоминающий scope запроса.
func captureScope(dst **scope.Scope) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*dst = scope.FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthenticator_BearerToken(t *testing.T) {
	env := newTestEnv(t)
	var sc *scope.Scope

	req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	req.Header.Set("Authorization", "Bearer "+env.validToken(t, "client-1", "client"))
	w := httptest.NewRecorder()
	env.auth.Middleware()(captureScope(&sc)).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("статус = %d, хотели 200", w.Code)
	}
	if sc == nil {
		t.Fatal("scope не установлен в контексте")
	}
	claims := sc.Claims()
	if claims.Subject != "client-1" || claims.Email != "client-1@example.com" || claims.Name != "client-1" {
		t.Errorf("claims = %+v", claims)
	}
	if claims.Role != "client" {
		t.Errorf("Role = %q, хотели client", claims.Role)
	}
}

func TestAuthenticator_RejectsBadBearer(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		header string
	}{
		{"неверная схема", "Basic dXNlcjpwYXNz"},
		{"пустой токен", "Bearer "},
		{"мусор вместо JWT", "Bearer not-a-jwt"},
		{"просроченный токен", "Bearer " + env.token(t, "client-1", "client", time.Now().Add(-time.Hour), testIssuer)},
		{"чужой issuer", "Bearer " + env.token(t, "client-1", "client", time.Now().Add(time.Hour), "https://evil.test/realms/portal")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true })

			req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
			req.Header.Set("Authorization", tt.header)
			w := httptest.NewRecorder()
			env.auth.Middleware()(next).ServeHTTP(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Errorf("статус = %d, хотели 401", w.Code)
			}
			if called {
				t.Error("следующий обработчик не должен вызываться")
			}
		})
	}
}

func TestAuthenticator_AnonymousRequest(t *testing.T) {
	env := newTestEnv(t)
	var sc *scope.Scope

	req := httptest.NewRequest(http.MethodGet, "/public/forms/x", nil)
	w := httptest.NewRecorder()
	env.auth.Middleware()(captureScope(&sc)).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("статус = %d, хотели 200", w.Code)
	}
	real, err := sc.Real(req.Context())
	if err != nil || real != nil {
		t.Errorf("Real() = %v, %v; хотели nil, nil", real, err)
	}
}

func TestAuthenticator_SessionCookie(t *testing.T) {
	env := newTestEnv(t)

	rec := httptest.NewRecorder()
	if err := env.sessions.SetSessionCookie(rec, &auth.SessionData{
		AccessToken:  env.validToken(t, "staff-1", "team_member"),
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(time.Hour).Unix(),
		Subject:      "staff-1",
	}); err != nil {
		t.Fatalf("SetSessionCookie() ошибка: %v", err)
	}

	var sc *scope.Scope
	req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	env.auth.Middleware()(captureScope(&sc)).ServeHTTP(w, req)

	if got := sc.Claims().Subject; got != "staff-1" {
		t.Errorf("Subject = %q, хотели staff-1", got)
	}
	if env.refresher.calls != 0 {
		t.Errorf("refresh вызван %d раз, хотели 0", env.refresher.calls)
	}
}

func TestAuthenticator_SessionRefresh(t *testing.T) {
	env := newTestEnv(t)
	env.refresher.resp = &auth.TokenResponse{
		AccessToken:  env.validToken(t, "client-1", "client"),
		RefreshToken: "refresh-2",
		ExpiresIn:    300,
	}

	rec := httptest.NewRecorder()
	_ = env.sessions.SetSessionCookie(rec, &auth.SessionData{
		AccessToken:  "expired",
		RefreshToken: "refresh-1",
		IDToken:      "id-token-1",
		ExpiresAt:    time.Now().Add(-time.Minute).Unix(),
		Subject:      "client-1",
	})

	var sc *scope.Scope
	req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	env.auth.Middleware()(captureScope(&sc)).ServeHTTP(w, req)

	if env.refresher.calls != 1 {
		t.Fatalf("refresh вызван %d раз, хотели 1", env.refresher.calls)
	}
	if got := sc.Claims().Subject; got != "client-1" {
		t.Errorf("Subject = %q, хотели client-1", got)
	}

	// Обновлённая сессия записана в cookie, id_token сохранён
	next := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range w.Result().Cookies() {
		next.AddCookie(c)
	}
	session, err := env.sessions.GetSessionFromRequest(next)
	if err != nil || session == nil {
		t.Fatalf("GetSessionFromRequest() = %v, %v", session, err)
	}
	if session.RefreshToken != "refresh-2" || session.IDToken != "id-token-1" {
		t.Errorf("сессия = %+v", session)
	}
}

func TestAuthenticator_SessionRefreshFailure(t *testing.T) {
	env := newTestEnv(t)
	env.refresher.err = errors.New("invalid_grant")

	rec := httptest.NewRecorder()
	_ = env.sessions.SetSessionCookie(rec, &auth.SessionData{
		AccessToken:  "expired",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(-time.Minute).Unix(),
		Subject:      "client-1",
	})

	var sc *scope.Scope
	req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	env.auth.Middleware()(captureScope(&sc)).ServeHTTP(w, req)

	if sc.Claims().Subject != "" {
		t.Errorf("Subject = %q, хотели анонимный запрос", sc.Claims().Subject)
	}
	cleared := false
	for _, c := range w.Result().Cookies() {
		if c.Name == auth.SessionCookieName && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Error("session cookie не сброшен")
	}
}

// serveWith пропускает запрос через Authenticator и require-middleware.
func serveWith(env *testEnv, require func(http.Handler) http.Handler, req *http.Request) int {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	w := httptest.NewRecorder()
	env.auth.Middleware()(require(ok)).ServeHTTP(w, req)
	return w.Code
}

func bearerRequest(token string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/x", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestRequireMiddlewares(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name    string
		require func(http.Handler) http.Handler
		sub     string
		role    string
		want    int
	}{
		{"RequireAuth без токена", RequireAuth, "", "", http.StatusUnauthorized},
		{"RequireAuth клиент", RequireAuth, "client-1", "client", http.StatusNoContent},
		{"RequireStaff клиент", RequireStaff, "client-1", "client", http.StatusForbidden},
		{"RequireStaff сотрудник", RequireStaff, "staff-1", "team_member", http.StatusNoContent},
		{"RequireStaff устаревшая роль employee", RequireStaff, "staff-1", "employee", http.StatusNoContent},
		{"RequireAdmin сотрудник", RequireAdmin, "staff-1", "team_member", http.StatusForbidden},
		{"RequireAdmin администратор", RequireAdmin, "admin-1", "admin", http.StatusNoContent},
		{"RequireAdmin без токена", RequireAdmin, "", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token := ""
			if tt.sub != "" {
				token = env.validToken(t, tt.sub, tt.role)
			}
			if got := serveWith(env, tt.require, bearerRequest(token)); got != tt.want {
				t.Errorf("статус = %d, хотели %d", got, tt.want)
			}
		})
	}
}

func TestRequire_RoleFromIdP(t *testing.T) {
	env := newTestEnv(t)

	// Без claim роли роль читается из IdP
	if got := serveWith(env, RequireAdmin, bearerRequest(env.validToken(t, "admin-1", ""))); got != http.StatusNoContent {
		t.Errorf("роль из IdP: статус = %d, хотели 204", got)
	}
	// Пользователь удалён в IdP
	if got := serveWith(env, RequireAuth, bearerRequest(env.validToken(t, "ghost", ""))); got != http.StatusUnauthorized {
		t.Errorf("удалённый пользователь: статус = %d, хотели 401", got)
	}

	env.provider.err = errors.New("connection refused")
	if got := serveWith(env, RequireAuth, bearerRequest(env.validToken(t, "admin-1", ""))); got != http.StatusBadGateway {
		t.Errorf("IdP недоступен: статус = %d, хотели 502", got)
	}
}

// impersonatingRequest — запрос администратора с cookie имперсонации клиента.
func impersonatingRequest(t *testing.T, env *testEnv) *http.Request {
	t.Helper()
	rec := httptest.NewRecorder()
	if err := env.sessions.SetImpersonation(rec, &identity.ImpersonationToken{
		TargetID:  "client-1",
		AdminID:   "admin-1",
		ExpiresAt: time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatalf("SetImpersonation() ошибка: %v", err)
	}
	req := bearerRequest(env.validToken(t, "admin-1", "admin"))
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	return req
}

func TestRequireAdmin_WhileImpersonating(t *testing.T) {
	env := newTestEnv(t)

	if got := serveWith(env, RequireAdmin, impersonatingRequest(t, env)); got != http.StatusNoContent {
		t.Errorf("RequireAdmin при имперсонации: статус = %d, хотели 204", got)
	}

	var sc *scope.Scope
	req := impersonatingRequest(t, env)
	w := httptest.NewRecorder()
	env.auth.Middleware()(RequireAuth(captureScope(&sc))).ServeHTTP(w, req)

	eff, err := sc.Effective(req.Context())
	if err != nil {
		t.Fatalf("Effective() ошибка: %v", err)
	}
	if !eff.IsImpersonating() || eff.Identity().ID != "client-1" {
		t.Errorf("эффективная идентичность = %+v, хотели client-1", eff.Identity())
	}
	if eff.Real.ID != "admin-1" {
		t.Errorf("реальная идентичность = %q, хотели admin-1", eff.Real.ID)
	}
}

func TestKeycloakReadinessChecker(t *testing.T) {
	key := generateTestKey(t)
	jwks := buildJWKSetJSON(&key.PublicKey, testKeyID)

	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"ключи есть", http.StatusOK, string(jwks), "ok"},
		{"нет ключей", http.StatusOK, `{"keys":[]}`, "degraded"},
		{"невалидный JSON", http.StatusOK, `{`, "degraded"},
		{"ошибка сервера", http.StatusInternalServerError, ``, "fail"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			status, msg := NewKeycloakReadinessChecker(srv.URL, time.Second).CheckReady()
			if status != tt.want {
				t.Errorf("CheckReady() = %q (%s), хотели %q", status, msg, tt.want)
			}
		})
	}
}
