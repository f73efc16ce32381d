// Пакет auth — сессии портала в зашифрованных cookie и OIDC-вход через Keycloak.
// Шифрование AES-256-GCM: содержимое cookie нельзя ни прочитать, ни подделать
// без ключа. Cookie имперсонации и активного клиента — подсказки, каждое
// значение перепроверяется по БД и IdP.
package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bigkaa/clientportal/internal/identity"
)

// Имена cookie портала.
const (
	SessionCookieName       = "portal_session"
	ImpersonationCookieName = "portal_impersonation"
	ActiveClientCookieName  = "portal_active_client"
	StateCookieName         = "portal_auth_state"
)

// Максимальный возраст cookie сессии (24 часа).
const SessionCookieMaxAge = 24 * 60 * 60

// stateCookieMaxAge — время жизни state cookie на время входа (5 минут).
const stateCookieMaxAge = 5 * 60

// SessionData — данные сессии, хранящиеся в зашифрованном cookie.
type SessionData struct {
	// AccessToken — JWT access token от Keycloak.
	AccessToken string `json:"access_token"`
	// RefreshToken — refresh token для обновления access token.
	RefreshToken string `json:"refresh_token"`
	// IDToken — id_token для logout в Keycloak.
	IDToken string `json:"id_token,omitempty"`
	// ExpiresAt — время истечения access token (Unix timestamp).
	ExpiresAt int64 `json:"expires_at"`
	// Subject — sub пользователя.
	Subject string `json:"sub"`
	// Email — email пользователя из JWT.
	Email string `json:"email"`
}

// IsExpired проверяет, истёк ли access token.
// Возвращает true если до истечения менее 30 секунд (буфер для refresh).
func (s *SessionData) IsExpired() bool {
	return time.Now().Unix() >= s.ExpiresAt-30
}

// ActiveClient — выбранный пользователем клиент.
// UserID привязывает выбор к эффективной идентичности, сделавшей его.
type ActiveClient struct {
	ClientID string `json:"client_id"`
	UserID   string `json:"user_id"`
}

// AuthState — данные на время OIDC-входа (state + PKCE verifier).
type AuthState struct {
	State        string `json:"state"`
	CodeVerifier string `json:"code_verifier"`
	// ReturnTo — локальный путь для redirect после входа.
	ReturnTo string `json:"return_to,omitempty"`
}

// SessionManager шифрует значения в cookie и обратно через AES-256-GCM.
type SessionManager struct {
	gcm             cipher.AEAD
	secure          bool
	activeClientTTL time.Duration
}

// NewSessionManager создаёт новый менеджер сессий.
// key — 32-байтовый ключ (base64) или произвольная строка, хешируемая SHA-256.
// Если key пустой — генерируется случайный ключ (непостоянный между рестартами).
func NewSessionManager(key string, secure bool, activeClientTTL time.Duration) (*SessionManager, error) {
	var keyBytes []byte

	if key == "" {
		keyBytes = make([]byte, 32)
		if _, err := io.ReadFull(rand.Reader, keyBytes); err != nil {
			return nil, fmt.Errorf("ошибка генерации ключа сессии: %w", err)
		}
	} else {
		var err error
		keyBytes, err = base64.StdEncoding.DecodeString(key)
		if err != nil || len(keyBytes) != 32 {
			keyBytes = sha256Key(key)
		}
	}

	block, err := aes.NewCipher(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания GCM: %w", err)
	}

	if activeClientTTL <= 0 {
		activeClientTTL = 30 * 24 * time.Hour
	}

	return &SessionManager{
		gcm:             gcm,
		secure:          secure,
		activeClientTTL: activeClientTTL,
	}, nil
}

// Seal сериализует значение в JSON и шифрует в base64-строку.
func (sm *SessionManager) Seal(v any) (string, error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("ошибка сериализации: %w", err)
	}

	nonce := make([]byte, sm.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("ошибка генерации nonce: %w", err)
	}

	ciphertext := sm.gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.URLEncoding.EncodeToString(ciphertext), nil
}

// Open дешифрует base64-строку и десериализует JSON в v.
func (sm *SessionManager) Open(encrypted string, v any) error {
	ciphertext, err := base64.URLEncoding.DecodeString(encrypted)
	if err != nil {
		return fmt.Errorf("ошибка декодирования base64: %w", err)
	}

	nonceSize := sm.gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return errors.New("зашифрованные данные слишком короткие")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := sm.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return fmt.Errorf("ошибка дешифрования: %w", err)
	}

	if err := json.Unmarshal(plaintext, v); err != nil {
		return fmt.Errorf("ошибка десериализации: %w", err)
	}
	return nil
}

// Encrypt шифрует SessionData.
func (sm *SessionManager) Encrypt(data *SessionData) (string, error) {
	return sm.Seal(data)
}

// Decrypt дешифрует SessionData.
func (sm *SessionManager) Decrypt(encrypted string) (*SessionData, error) {
	var data SessionData
	if err := sm.Open(encrypted, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// --- Сессия ---

// SetSessionCookie устанавливает зашифрованный session cookie в ответ.
func (sm *SessionManager) SetSessionCookie(w http.ResponseWriter, data *SessionData) error {
	return sm.setSealed(w, SessionCookieName, data, SessionCookieMaxAge)
}

// GetSessionFromRequest извлекает SessionData из cookie запроса.
// Возвращает nil, nil если cookie отсутствует.
func (sm *SessionManager) GetSessionFromRequest(r *http.Request) (*SessionData, error) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		if errors.Is(err, http.ErrNoCookie) {
			return nil, nil
		}
		return nil, err
	}
	return sm.Decrypt(cookie.Value)
}

// ClearSessionCookie удаляет session cookie (logout).
func (sm *SessionManager) ClearSessionCookie(w http.ResponseWriter) {
	sm.clear(w, SessionCookieName)
}

// --- Имперсонация ---

// SetImpersonation сохраняет токен имперсонации до его ExpiresAt.
func (sm *SessionManager) SetImpersonation(w http.ResponseWriter, token *identity.ImpersonationToken) error {
	maxAge := int(time.Until(token.ExpiresAt).Seconds())
	if maxAge <= 0 {
		return errors.New("токен имперсонации уже истёк")
	}
	return sm.setSealed(w, ImpersonationCookieName, token, maxAge)
}

// ImpersonationFromRequest возвращает токен имперсонации или nil.
// Повреждённый cookie равносилен отсутствующему.
func (sm *SessionManager) ImpersonationFromRequest(r *http.Request) *identity.ImpersonationToken {
	var token identity.ImpersonationToken
	if !sm.readSealed(r, ImpersonationCookieName, &token) {
		return nil
	}
	return &token
}

// ClearImpersonation удаляет cookie имперсонации.
func (sm *SessionManager) ClearImpersonation(w http.ResponseWriter) {
	sm.clear(w, ImpersonationCookieName)
}

// --- Активный клиент ---

// SetActiveClient сохраняет выбор клиента.
func (sm *SessionManager) SetActiveClient(w http.ResponseWriter, ac ActiveClient) error {
	return sm.setSealed(w, ActiveClientCookieName, ac, int(sm.activeClientTTL.Seconds()))
}

// ActiveClientFromRequest возвращает выбор клиента или nil.
func (sm *SessionManager) ActiveClientFromRequest(r *http.Request) *ActiveClient {
	var ac ActiveClient
	if !sm.readSealed(r, ActiveClientCookieName, &ac) {
		return nil
	}
	return &ac
}

// ClearActiveClient удаляет cookie активного клиента.
func (sm *SessionManager) ClearActiveClient(w http.ResponseWriter) {
	sm.clear(w, ActiveClientCookieName)
}

// --- OIDC state ---

// SetAuthState сохраняет state и PKCE verifier на время входа.
func (sm *SessionManager) SetAuthState(w http.ResponseWriter, st AuthState) error {
	return sm.setSealed(w, StateCookieName, st, stateCookieMaxAge)
}

// AuthStateFromRequest возвращает state входа или nil.
func (sm *SessionManager) AuthStateFromRequest(r *http.Request) *AuthState {
	var st AuthState
	if !sm.readSealed(r, StateCookieName, &st) {
		return nil
	}
	return &st
}

// ClearAuthState удаляет state cookie (одноразовый).
func (sm *SessionManager) ClearAuthState(w http.ResponseWriter) {
	sm.clear(w, StateCookieName)
}

func (sm *SessionManager) setSealed(w http.ResponseWriter, name string, v any, maxAge int) error {
	encrypted, err := sm.Seal(v)
	if err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    encrypted,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   sm.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func (sm *SessionManager) readSealed(r *http.Request, name string, v any) bool {
	cookie, err := r.Cookie(name)
	if err != nil || cookie.Value == "" {
		return false
	}
	return sm.Open(cookie.Value, v) == nil
}

func (sm *SessionManager) clear(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   sm.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// sha256Key хеширует строковый ключ в 32 bytes через SHA-256.
func sha256Key(key string) []byte {
	h := sha256.Sum256([]byte(key))
	return h[:]
}
