// oidc.go — вход в портал через Keycloak: Authorization Code Flow с PKCE (RFC 7636).
// Портал — public client, client_secret не используется.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// portalScopes — scope, запрашиваемые при входе. email нужен для поиска тикетов.
const portalScopes = "openid profile email"

// ErrRefreshRejected — Keycloak отклонил refresh token (invalid_grant):
// сессия завершена или отозвана, нужен повторный вход.
var ErrRefreshRejected = errors.New("refresh token отклонён")

// OIDCConfig — конфигурация OIDC-клиента.
type OIDCConfig struct {
	// KeycloakURL — адрес Keycloak для обмена кодов (server-to-server).
	KeycloakURL string
	// BrowserKeycloakURL — адрес Keycloak для redirect браузера.
	// Пустой — совпадает с KeycloakURL.
	BrowserKeycloakURL string
	Realm              string
	ClientID           string
	// HTTPClient — nil: создаётся клиент с Timeout (по умолчанию 15s).
	HTTPClient *http.Client
	Timeout    time.Duration
}

// oidcEndpoints — адреса openid-connect realm.
type oidcEndpoints struct {
	authorize string
	token     string
	logout    string
}

func realmEndpoints(backendURL, browserURL, realm string) oidcEndpoints {
	base := func(u string) string {
		return strings.TrimRight(u, "/") + "/realms/" + url.PathEscape(realm) + "/protocol/openid-connect"
	}
	return oidcEndpoints{
		authorize: base(browserURL) + "/auth",
		token:     base(backendURL) + "/token",
		logout:    base(browserURL) + "/logout",
	}
}

// OIDCClient — клиент OIDC endpoints Keycloak.
type OIDCClient struct {
	clientID   string
	endpoints  oidcEndpoints
	httpClient *http.Client
}

// NewOIDCClient создаёт OIDC-клиент.
func NewOIDCClient(cfg OIDCConfig) *OIDCClient {
	browserURL := cfg.BrowserKeycloakURL
	if browserURL == "" {
		browserURL = cfg.KeycloakURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &OIDCClient{
		clientID:   cfg.ClientID,
		endpoints:  realmEndpoints(cfg.KeycloakURL, browserURL, cfg.Realm),
		httpClient: httpClient,
	}
}

// PKCEParams — пара PKCE одного входа. CodeVerifier хранится в state cookie,
// CodeChallenge уходит в authorize URL.
type PKCEParams struct {
	CodeVerifier  string
	CodeChallenge string
}

// GeneratePKCE генерирует code_verifier (43 символа base64url)
// и code_challenge = base64url(SHA-256(code_verifier)).
func GeneratePKCE() (*PKCEParams, error) {
	verifier, err := randomToken(32)
	if err != nil {
		return nil, fmt.Errorf("генерация code_verifier: %w", err)
	}
	sum := sha256.Sum256([]byte(verifier))
	return &PKCEParams{
		CodeVerifier:  verifier,
		CodeChallenge: base64.RawURLEncoding.EncodeToString(sum[:]),
	}, nil
}

// GenerateState генерирует state для защиты callback от CSRF.
func GenerateState() (string, error) {
	state, err := randomToken(16)
	if err != nil {
		return "", fmt.Errorf("генерация state: %w", err)
	}
	return state, nil
}

func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// AuthorizeURL — адрес страницы входа Keycloak.
func (c *OIDCClient) AuthorizeURL(redirectURI, state, codeChallenge string) string {
	q := url.Values{}
	q.Set("client_id", c.clientID)
	q.Set("response_type", "code")
	q.Set("scope", portalScopes)
	q.Set("redirect_uri", redirectURI)
	q.Set("state", state)
	q.Set("code_challenge", codeChallenge)
	q.Set("code_challenge_method", "S256")
	return c.endpoints.authorize + "?" + q.Encode()
}

// LogoutURL — адрес выхода из Keycloak с возвратом на postLogoutRedirectURI.
func (c *OIDCClient) LogoutURL(idTokenHint, postLogoutRedirectURI string) string {
	q := url.Values{}
	q.Set("client_id", c.clientID)
	q.Set("post_logout_redirect_uri", postLogoutRedirectURI)
	if idTokenHint != "" {
		q.Set("id_token_hint", idTokenHint)
	}
	return c.endpoints.logout + "?" + q.Encode()
}

// TokenResponse — ответ token endpoint.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`  //nolint:gosec // G117: структура токена OAuth2
	RefreshToken string `json:"refresh_token"` //nolint:gosec // G117: структура токена OAuth2
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	IDToken      string `json:"id_token"`
}

// ExpiresAt — момент истечения access token относительно now.
func (t *TokenResponse) ExpiresAt(now time.Time) time.Time {
	return now.Add(time.Duration(t.ExpiresIn) * time.Second)
}

// TokenError — ошибка OAuth2 от token endpoint.
type TokenError struct {
	Status      int    `json:"-"`
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

func (e *TokenError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("token endpoint: %s (HTTP %d)", e.Code, e.Status)
	}
	return fmt.Sprintf("token endpoint: %s: %s", e.Code, e.Description)
}

// Is сопоставляет invalid_grant с ErrRefreshRejected.
func (e *TokenError) Is(target error) bool {
	return target == ErrRefreshRejected && e.Code == "invalid_grant"
}

// ExchangeCode обменивает authorization code на токены.
// redirectURI должен совпадать с переданным в AuthorizeURL.
func (c *OIDCClient) ExchangeCode(ctx context.Context, code, redirectURI, codeVerifier string) (*TokenResponse, error) {
	return c.token(ctx, url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {c.clientID},
		"code":          {code},
		"redirect_uri":  {redirectURI},
		"code_verifier": {codeVerifier},
	})
}

// RefreshTokens обновляет токены сессии. Отозванный refresh token
// даёт ошибку, совместимую с ErrRefreshRejected.
func (c *OIDCClient) RefreshTokens(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	return c.token(ctx, url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {c.clientID},
		"refresh_token": {refreshToken},
	})
}

func (c *OIDCClient) token(ctx context.Context, form url.Values) (*TokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoints.token, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("создание запроса токена: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации OIDC
	if err != nil {
		return nil, fmt.Errorf("запрос к token endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		tokenErr := &TokenError{Status: resp.StatusCode}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(body, tokenErr) != nil || tokenErr.Code == "" {
			tokenErr.Code = "http_error"
			tokenErr.Description = strings.TrimSpace(string(body))
		}
		return nil, tokenErr
	}

	var tokens TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		return nil, fmt.Errorf("разбор ответа token endpoint: %w", err)
	}
	if tokens.AccessToken == "" {
		return nil, errors.New("token endpoint не вернул access_token")
	}
	return &tokens, nil
}
