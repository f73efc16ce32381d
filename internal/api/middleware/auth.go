// auth.go — аутентификация запросов портала.
// Access token берётся из заголовка Authorization (Bearer) или из
// зашифрованного session cookie (с авто-refresh). Подпись проверяется
// через JWKS Keycloak. По claims и cookie имперсонации и активного клиента
// создаётся scope.Scope запроса.
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/bigkaa/clientportal/internal/api/errors"
	"github.com/bigkaa/clientportal/internal/auth"
	"github.com/bigkaa/clientportal/internal/identity"
	"github.com/bigkaa/clientportal/internal/scope"
)

// TokenRefresher обновляет access token по refresh token.
// Реализуется auth.OIDCClient.
type TokenRefresher interface {
	RefreshTokens(ctx context.Context, refreshToken string) (*auth.TokenResponse, error)
}

// portalClaims — raw claims из Keycloak JWT.
type portalClaims struct {
	jwt.RegisteredClaims
	PreferredUsername string `json:"preferred_username"`
	Email             string `json:"email"`
	Name              string `json:"name"`
	// Role — атрибут пользователя role (protocol mapper в Keycloak).
	// Пустой, если mapper не настроен: роль тогда читается из Admin API.
	Role string `json:"role,omitempty"`
}

// Authenticator — middleware аутентификации портала.
type Authenticator struct {
	jwks      keyfunc.Keyfunc
	issuer    string
	leeway    time.Duration
	sessions  *auth.SessionManager
	refresher TokenRefresher
	scopes    *scope.Factory
	logger    *slog.Logger
}

// NewJWKSKeyfunc создаёт keyfunc с JWKS storage и фоновым обновлением ключей.
// Стартует, даже если Keycloak ещё недоступен.
func NewJWKSKeyfunc(jwksURL string, refreshInterval time.Duration, logger *slog.Logger) (keyfunc.Keyfunc, error) {
	storage, err := jwkset.NewStorageFromHTTP(jwksURL, jwkset.HTTPClientStorageOptions{
		Client:                    &http.Client{Timeout: 10 * time.Second},
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           refreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", jwksURL),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWKS storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{Storage: storage})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}
	return k, nil
}

// NewAuthenticator создаёт middleware аутентификации.
// refresher может быть nil: просроченная сессия тогда просто сбрасывается.
func NewAuthenticator(
	kf keyfunc.Keyfunc,
	issuer string,
	leeway time.Duration,
	sessions *auth.SessionManager,
	refresher TokenRefresher,
	scopes *scope.Factory,
	logger *slog.Logger,
) *Authenticator {
	return &Authenticator{
		jwks:      kf,
		issuer:    issuer,
		leeway:    leeway,
		sessions:  sessions,
		refresher: refresher,
		scopes:    scopes,
		logger:    logger.With(slog.String("component", "auth_middleware")),
	}
}

// Middleware помещает в контекст scope.Scope запроса.
// Запрос без токена проходит анонимно (scope с пустыми claims), решение
// о доступе принимают RequireAuth/RequireStaff/RequireAdmin.
// Невалидный Bearer token — 401. Невалидная или необновляемая сессия
// из cookie сбрасывается, запрос продолжается анонимно.
func (a *Authenticator) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var claims identity.Claims

			if header := r.Header.Get("Authorization"); header != "" {
				token, ok := bearerToken(header)
				if !ok {
					apierrors.Unauthorized(w, "Неверный формат Authorization: ожидается Bearer <token>")
					return
				}
				c, err := a.parse(r.Context(), token)
				if err != nil {
					a.logger.Debug("JWT валидация не пройдена",
						slog.String("error", err.Error()),
						slog.String("remote_addr", r.RemoteAddr),
					)
					apierrors.Unauthorized(w, "Невалидный или просроченный токен")
					return
				}
				claims = c
			} else {
				claims = a.claimsFromSession(w, r)
			}

			sc := a.scopes.New(
				claims,
				a.sessions.ImpersonationFromRequest(r),
				a.sessions.ActiveClientFromRequest(r),
			)
			next.ServeHTTP(w, r.WithContext(scope.WithScope(r.Context(), sc)))
		})
	}
}

// claimsFromSession читает claims из session cookie, обновляя токены при истечении.
// Пустые claims — нет действующей сессии.
func (a *Authenticator) claimsFromSession(w http.ResponseWriter, r *http.Request) identity.Claims {
	session, err := a.sessions.GetSessionFromRequest(r)
	if err != nil {
		a.logger.Debug("Ошибка чтения сессии",
			slog.String("error", err.Error()),
			slog.String("remote_addr", r.RemoteAddr),
		)
		a.sessions.ClearSessionCookie(w)
		return identity.Claims{}
	}
	if session == nil {
		return identity.Claims{}
	}

	if session.IsExpired() {
		refreshed, err := a.refreshSession(r.Context(), session)
		if err != nil {
			level := slog.LevelWarn
			if errors.Is(err, auth.ErrRefreshRejected) {
				level = slog.LevelInfo
			}
			a.logger.Log(r.Context(), level, "Не удалось обновить сессию",
				slog.String("user_id", session.Subject),
				slog.String("error", err.Error()),
			)
			a.sessions.ClearSessionCookie(w)
			return identity.Claims{}
		}
		if err := a.sessions.SetSessionCookie(w, refreshed); err != nil {
			a.logger.Error("Ошибка обновления session cookie", slog.String("error", err.Error()))
			a.sessions.ClearSessionCookie(w)
			return identity.Claims{}
		}
		session = refreshed
		a.logger.Debug("Сессия обновлена через refresh token", slog.String("user_id", session.Subject))
	}

	claims, err := a.parse(r.Context(), session.AccessToken)
	if err != nil {
		a.logger.Debug("Токен сессии отклонён", slog.String("error", err.Error()))
		a.sessions.ClearSessionCookie(w)
		return identity.Claims{}
	}
	return claims
}

// refreshSession обновляет токены сессии через Keycloak.
func (a *Authenticator) refreshSession(ctx context.Context, session *auth.SessionData) (*auth.SessionData, error) {
	if a.refresher == nil || session.RefreshToken == "" {
		return nil, errors.New("refresh token недоступен")
	}
	tokenResp, err := a.refresher.RefreshTokens(ctx, session.RefreshToken)
	if err != nil {
		return nil, err
	}

	idToken := tokenResp.IDToken
	if idToken == "" {
		idToken = session.IDToken
	}
	return &auth.SessionData{
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: tokenResp.RefreshToken,
		IDToken:      idToken,
		ExpiresAt:    tokenResp.ExpiresAt(time.Now()).Unix(),
		Subject:      session.Subject,
		Email:        session.Email,
	}, nil
}

// parse валидирует подпись (RS256), exp и issuer токена и возвращает claims.
func (a *Authenticator) parse(ctx context.Context, tokenString string) (identity.Claims, error) {
	raw := &portalClaims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(a.leeway),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, raw, a.jwks.KeyfuncCtx(ctx), opts...)
	if err != nil {
		return identity.Claims{}, err
	}
	if !token.Valid {
		return identity.Claims{}, errors.New("невалидный токен")
	}
	if raw.Subject == "" {
		return identity.Claims{}, errors.New("отсутствует sub в токене")
	}

	name := raw.Name
	if name == "" {
		name = raw.PreferredUsername
	}
	return identity.Claims{
		Subject: raw.Subject,
		Email:   raw.Email,
		Name:    name,
		Role:    raw.Role,
	}, nil
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}

// --- ReadinessChecker для Keycloak ---

// KeycloakReadinessChecker — проверка доступности Keycloak через JWKS.
type KeycloakReadinessChecker struct {
	jwksURL string
	client  *http.Client
}

// NewKeycloakReadinessChecker создаёт checker доступности Keycloak.
func NewKeycloakReadinessChecker(jwksURL string, timeout time.Duration) *KeycloakReadinessChecker {
	return &KeycloakReadinessChecker{
		jwksURL: jwksURL,
		client:  &http.Client{Timeout: timeout},
	}
}

const statusFail = "fail"

// CheckReady проверяет доступность JWKS endpoint Keycloak.
func (k *KeycloakReadinessChecker) CheckReady() (status, message string) {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, k.jwksURL, http.NoBody)
	if err != nil {
		return statusFail, "ошибка создания запроса: " + err.Error()
	}
	resp, err := k.client.Do(req) //nolint:gosec // G704: URL из конфигурации Keycloak
	if err != nil {
		return statusFail, fmt.Sprintf("Keycloak JWKS недоступен: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusFail, fmt.Sprintf("Keycloak JWKS вернул статус %d", resp.StatusCode)
	}

	var jwksResp struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&jwksResp); err != nil {
		return "degraded", fmt.Sprintf("Keycloak JWKS: невалидный JSON: %v", err)
	}
	if len(jwksResp.Keys) == 0 {
		return "degraded", "Keycloak JWKS: нет ключей"
	}

	return "ok", fmt.Sprintf("JWKS доступен, ключей: %d", len(jwksResp.Keys))
}
