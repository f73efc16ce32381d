package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bigkaa/clientportal/internal/identity"
)

func newTestManager(t *testing.T, key string) *SessionManager {
	t.Helper()
	sm, err := NewSessionManager(key, false, time.Hour)
	if err != nil {
		t.Fatalf("Ошибка создания SessionManager: %v", err)
	}
	return sm
}

// cookieRoundTrip переносит cookie из ответа в новый запрос.
func cookieRoundTrip(w *httptest.ResponseRecorder) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range w.Result().Cookies() {
		req.AddCookie(c)
	}
	return req
}

// TestSessionEncryptDecryptRoundTrip проверяет шифрование и дешифрование SessionData.
func TestSessionEncryptDecryptRoundTrip(t *testing.T) {
	sm := newTestManager(t, "")

	original := &SessionData{
		AccessToken:  "test-access-token-12345",
		RefreshToken: "test-refresh-token-67890",
		IDToken:      "id-token",
		ExpiresAt:    time.Now().Add(5 * time.Minute).Unix(),
		Subject:      "user-1",
		Email:        "user@example.com",
	}

	encrypted, err := sm.Encrypt(original)
	if err != nil {
		t.Fatalf("Ошибка шифрования: %v", err)
	}
	if encrypted == "" {
		t.Fatal("Зашифрованная строка пустая")
	}

	decrypted, err := sm.Decrypt(encrypted)
	if err != nil {
		t.Fatalf("Ошибка дешифрования: %v", err)
	}
	if *decrypted != *original {
		t.Errorf("Decrypt() = %+v, хотели %+v", decrypted, original)
	}
}

// TestSessionDecryptWithWrongKey проверяет, что дешифрование чужим ключом не работает.
func TestSessionDecryptWithWrongKey(t *testing.T) {
	sm1 := newTestManager(t, "key-one")
	sm2 := newTestManager(t, "key-two")

	encrypted, err := sm1.Encrypt(&SessionData{AccessToken: "secret"})
	if err != nil {
		t.Fatalf("Ошибка шифрования: %v", err)
	}

	if _, err := sm2.Decrypt(encrypted); err == nil {
		t.Error("Ожидалась ошибка при дешифровании чужим ключом")
	}
}

// TestSessionIsExpired проверяет логику проверки истечения токена.
func TestSessionIsExpired(t *testing.T) {
	tests := []struct {
		name      string
		expiresIn time.Duration
		want      bool
	}{
		{"истёкший токен", -time.Minute, true},
		{"свежий токен", time.Minute, false},
		{"токен в буферной зоне 30с", 20 * time.Second, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &SessionData{ExpiresAt: time.Now().Add(tt.expiresIn).Unix()}
			if got := s.IsExpired(); got != tt.want {
				t.Errorf("IsExpired() = %v, хотели %v", got, tt.want)
			}
		})
	}
}

// TestSessionCookieSetAndGet проверяет установку и извлечение cookie сессии.
func TestSessionCookieSetAndGet(t *testing.T) {
	sm := newTestManager(t, "test-key")
	data := &SessionData{AccessToken: "access-123", Subject: "user-1"}

	w := httptest.NewRecorder()
	if err := sm.SetSessionCookie(w, data); err != nil {
		t.Fatalf("Ошибка установки cookie: %v", err)
	}

	cookies := w.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("cookie установлено %d, хотели 1", len(cookies))
	}
	cookie := cookies[0]
	if cookie.Name != SessionCookieName || cookie.Path != "/" {
		t.Errorf("cookie %q path %q", cookie.Name, cookie.Path)
	}
	if !cookie.HttpOnly || cookie.SameSite != http.SameSiteLaxMode {
		t.Error("Cookie должен быть HttpOnly и SameSite=Lax")
	}

	got, err := sm.GetSessionFromRequest(cookieRoundTrip(w))
	if err != nil || got == nil {
		t.Fatalf("Ошибка чтения сессии: %v", err)
	}
	if got.AccessToken != data.AccessToken || got.Subject != data.Subject {
		t.Errorf("сессия = %+v", got)
	}
}

// TestSessionCookieMissing проверяет, что отсутствие cookie возвращает nil, nil.
func TestSessionCookieMissing(t *testing.T) {
	sm := newTestManager(t, "test-key")

	data, err := sm.GetSessionFromRequest(httptest.NewRequest(http.MethodGet, "/", nil))
	if err != nil || data != nil {
		t.Errorf("GetSessionFromRequest() = %v, %v, хотели nil, nil", data, err)
	}
}

func TestImpersonationCookie(t *testing.T) {
	sm := newTestManager(t, "test-key")
	token := &identity.ImpersonationToken{
		TargetID:  "client-1",
		AdminID:   "admin-1",
		ExpiresAt: time.Now().Add(4 * time.Hour).Truncate(time.Second),
	}

	w := httptest.NewRecorder()
	if err := sm.SetImpersonation(w, token); err != nil {
		t.Fatalf("SetImpersonation: %v", err)
	}
	cookie := w.Result().Cookies()[0]
	if cookie.MaxAge <= 3*60*60 || cookie.MaxAge > 4*60*60 {
		t.Errorf("MaxAge = %d, хотели около 4 часов", cookie.MaxAge)
	}

	got := sm.ImpersonationFromRequest(cookieRoundTrip(w))
	if got == nil {
		t.Fatal("токен имперсонации не прочитан")
	}
	if got.TargetID != token.TargetID || got.AdminID != token.AdminID || !got.ExpiresAt.Equal(token.ExpiresAt) {
		t.Errorf("токен = %+v, хотели %+v", got, token)
	}

	expired := &identity.ImpersonationToken{TargetID: "x", AdminID: "y", ExpiresAt: time.Now().Add(-time.Minute)}
	if err := sm.SetImpersonation(httptest.NewRecorder(), expired); err == nil {
		t.Error("истёкший токен не должен записываться")
	}
}

func TestImpersonationCookie_Tampered(t *testing.T) {
	sm := newTestManager(t, "test-key")

	tests := []struct {
		name  string
		value string
	}{
		{"не base64", "%%%"},
		{"чужой шифротекст", mustSeal(t, newTestManager(t, "other-key"), identity.ImpersonationToken{TargetID: "x"})},
		{"открытый JSON", `{"target_id":"x","admin_id":"y"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.AddCookie(&http.Cookie{Name: ImpersonationCookieName, Value: tt.value})
			if got := sm.ImpersonationFromRequest(req); got != nil {
				t.Errorf("ImpersonationFromRequest() = %+v, хотели nil", got)
			}
		})
	}
}

func mustSeal(t *testing.T, sm *SessionManager, v any) string {
	t.Helper()
	s, err := sm.Seal(v)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	return s
}

func TestActiveClientCookie(t *testing.T) {
	sm := newTestManager(t, "test-key")

	if got := sm.ActiveClientFromRequest(httptest.NewRequest(http.MethodGet, "/", nil)); got != nil {
		t.Errorf("без cookie = %+v, хотели nil", got)
	}

	w := httptest.NewRecorder()
	ac := ActiveClient{ClientID: "c-1", UserID: "u-1"}
	if err := sm.SetActiveClient(w, ac); err != nil {
		t.Fatalf("SetActiveClient: %v", err)
	}
	if maxAge := w.Result().Cookies()[0].MaxAge; maxAge != 3600 {
		t.Errorf("MaxAge = %d, хотели 3600", maxAge)
	}
	got := sm.ActiveClientFromRequest(cookieRoundTrip(w))
	if got == nil || *got != ac {
		t.Errorf("ActiveClientFromRequest() = %+v, хотели %+v", got, ac)
	}
}

func TestAuthStateCookie(t *testing.T) {
	sm := newTestManager(t, "test-key")

	w := httptest.NewRecorder()
	st := AuthState{State: "s", CodeVerifier: "v", ReturnTo: "/portal"}
	if err := sm.SetAuthState(w, st); err != nil {
		t.Fatalf("SetAuthState: %v", err)
	}
	got := sm.AuthStateFromRequest(cookieRoundTrip(w))
	if got == nil || *got != st {
		t.Errorf("AuthStateFromRequest() = %+v, хотели %+v", got, st)
	}
}

// TestClearCookies проверяет очистку всех cookie портала.
func TestClearCookies(t *testing.T) {
	sm := newTestManager(t, "test-key")

	w := httptest.NewRecorder()
	sm.ClearSessionCookie(w)
	sm.ClearImpersonation(w)
	sm.ClearActiveClient(w)
	sm.ClearAuthState(w)

	cookies := w.Result().Cookies()
	if len(cookies) != 4 {
		t.Fatalf("cookie очистки %d, хотели 4", len(cookies))
	}
	for _, c := range cookies {
		if c.MaxAge != -1 || c.Value != "" {
			t.Errorf("cookie %s: MaxAge = %d, Value = %q", c.Name, c.MaxAge, c.Value)
		}
	}
}
