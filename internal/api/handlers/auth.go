// auth.go — вход в портал через Keycloak OIDC (Authorization Code + PKCE).
package handlers

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/bigkaa/clientportal/internal/api/errors"
	"github.com/bigkaa/clientportal/internal/auth"
)

// HandleLogin — GET /auth/login
// Генерирует PKCE и state, сохраняет их в short-lived cookie,
// redirect на Keycloak authorize endpoint.
// Параметр return_to — относительный путь для возврата после входа.
func (h *APIHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if h.oidc == nil {
		apierrors.UpstreamUnavailable(w, "Вход через браузер не настроен")
		return
	}

	pkce, err := auth.GeneratePKCE()
	if err != nil {
		h.logger.Error("Ошибка генерации PKCE", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Внутренняя ошибка сервера")
		return
	}
	state, err := auth.GenerateState()
	if err != nil {
		h.logger.Error("Ошибка генерации state", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Внутренняя ошибка сервера")
		return
	}

	if err := h.sessions.SetAuthState(w, auth.AuthState{
		State:        state,
		CodeVerifier: pkce.CodeVerifier,
		ReturnTo:     safeReturnTo(r.URL.Query().Get("return_to")),
	}); err != nil {
		h.logger.Error("Ошибка установки state cookie", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Внутренняя ошибка сервера")
		return
	}

	authorizeURL := h.oidc.AuthorizeURL(h.redirectURI(r), state, pkce.CodeChallenge)
	h.logger.Debug("Redirect на Keycloak login", slog.String("authorize_url", authorizeURL))
	http.Redirect(w, r, authorizeURL, http.StatusFound)
}

// HandleCallback — GET /auth/callback
// Обменивает authorization code на токены, создаёт session cookie,
// redirect на return_to.
func (h *APIHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	if h.oidc == nil {
		apierrors.UpstreamUnavailable(w, "Вход через браузер не настроен")
		return
	}

	q := r.URL.Query()
	if errCode := q.Get("error"); errCode != "" {
		h.logger.Warn("Keycloak вернул ошибку авторизации",
			slog.String("error", errCode),
			slog.String("description", q.Get("error_description")),
		)
		apierrors.Unauthorized(w, "Ошибка авторизации: "+errCode)
		return
	}

	code := q.Get("code")
	state := q.Get("state")
	if code == "" || state == "" {
		apierrors.ValidationError(w, "Отсутствует code или state")
		return
	}

	st := h.sessions.AuthStateFromRequest(r)
	if st == nil {
		apierrors.ValidationError(w, "Сессия авторизации истекла, попробуйте ещё раз")
		return
	}
	// state одноразовый
	h.sessions.ClearAuthState(w)

	if st.State != state {
		h.logger.Warn("State mismatch (возможная CSRF атака)", slog.String("remote_addr", r.RemoteAddr))
		apierrors.ValidationError(w, "State mismatch")
		return
	}

	tokenResp, err := h.oidc.ExchangeCode(r.Context(), code, h.redirectURI(r), st.CodeVerifier)
	if err != nil {
		h.logger.Error("Ошибка обмена code на токены", slog.String("error", err.Error()))
		apierrors.IDPUnavailable(w, "Ошибка аутентификации в Identity Provider")
		return
	}

	session, err := sessionFromTokens(tokenResp)
	if err != nil {
		h.logger.Error("Ошибка извлечения данных из токена", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Ошибка обработки токена")
		return
	}
	if err := h.sessions.SetSessionCookie(w, session); err != nil {
		h.logger.Error("Ошибка установки session cookie", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Ошибка создания сессии")
		return
	}
	// Выбор клиента и имперсонация предыдущей сессии не переносятся
	h.sessions.ClearImpersonation(w)
	h.sessions.ClearActiveClient(w)

	h.logger.Info("Пользователь вошёл в портал",
		slog.String("user_id", session.Subject),
		slog.String("email", session.Email),
	)

	returnTo := st.ReturnTo
	if returnTo == "" {
		returnTo = "/"
	}
	http.Redirect(w, r, returnTo, http.StatusFound)
}

// HandleLogout — POST /auth/logout
// Очищает cookie портала, redirect на Keycloak logout endpoint.
func (h *APIHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	idToken := ""
	if session, err := h.sessions.GetSessionFromRequest(r); err == nil && session != nil {
		idToken = session.IDToken
		h.logger.Info("Пользователь выходит из портала", slog.String("user_id", session.Subject))
	}

	h.sessions.ClearSessionCookie(w)
	h.sessions.ClearImpersonation(w)
	h.sessions.ClearActiveClient(w)

	if h.oidc == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.Redirect(w, r, h.oidc.LogoutURL(idToken, h.baseURL(r)+"/"), http.StatusSeeOther)
}

// sessionFromTokens строит данные сессии из ответа token endpoint.
// Подпись access token проверяется middleware при каждом запросе,
// здесь токен только что получен от Keycloak по защищённому каналу.
func sessionFromTokens(resp *auth.TokenResponse) (*auth.SessionData, error) {
	var claims struct {
		jwt.RegisteredClaims
		Email string `json:"email"`
	}
	if _, _, err := jwt.NewParser().ParseUnverified(resp.AccessToken, &claims); err != nil {
		return nil, err
	}
	return &auth.SessionData{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		IDToken:      resp.IDToken,
		ExpiresAt:    resp.ExpiresAt(time.Now()).Unix(),
		Subject:      claims.Subject,
		Email:        claims.Email,
	}, nil
}

// safeReturnTo допускает только относительные пути внутри портала.
func safeReturnTo(s string) string {
	if !strings.HasPrefix(s, "/") || strings.HasPrefix(s, "//") || strings.Contains(s, "\\") {
		return ""
	}
	return s
}

func (h *APIHandler) redirectURI(r *http.Request) string {
	return h.baseURL(r) + "/auth/callback"
}

// baseURL — публичный адрес портала из конфигурации либо из заголовков запроса
// (с учётом X-Forwarded-* от reverse proxy).
func (h *APIHandler) baseURL(r *http.Request) string {
	if h.publicURL != "" {
		return strings.TrimRight(h.publicURL, "/")
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	host := r.Host
	if fwdHost := r.Header.Get("X-Forwarded-Host"); fwdHost != "" {
		host = fwdHost
	}
	return scheme + "://" + host
}
