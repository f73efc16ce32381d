// client.go — вызовы Admin REST API от имени service account портала.
// Токен client_credentials кэшируется и обновляется заранее; если Keycloak
// всё же ответил 401 (токен отозван), запрос повторяется один раз с новым токеном.
package keycloak

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// tokenSkew — запас до истечения токена, при котором он уже не используется.
const tokenSkew = 30 * time.Second

// ErrUserNotFound — пользователя нет в realm.
var ErrUserNotFound = errors.New("пользователь Keycloak не найден")

// APIError — неожиданный HTTP-статус от Keycloak.
type APIError struct {
	Op     string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("keycloak %s: HTTP %d: %s", e.Op, e.Status, e.Body)
}

func newAPIError(op string, resp *http.Response) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return &APIError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}

// Client — клиент Admin REST API одного realm.
type Client struct {
	baseURL      string
	realm        string
	clientID     string
	clientSecret string

	httpClient *http.Client
	logger     *slog.Logger

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// New создаёт клиент. httpClient nil — клиент с таймаутом 30s.
func New(baseURL, realm, clientID, clientSecret string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		realm:        realm,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   httpClient,
		logger:       logger.With(slog.String("component", "keycloak_client")),
	}
}

func (c *Client) realmPath() string {
	return c.baseURL + "/realms/" + url.PathEscape(c.realm)
}

func (c *Client) adminPath(path string) string {
	return c.baseURL + "/admin/realms/" + url.PathEscape(c.realm) + path
}

// --- Токен service account ---

// getToken возвращает кэшированный токен или получает новый.
func (c *Client) getToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Add(tokenSkew).Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	tok, err := c.requestToken(ctx)
	if err != nil {
		return "", err
	}
	c.accessToken = tok.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	c.logger.Debug("Получен токен service account", slog.Time("expires_at", c.tokenExpiry))
	return c.accessToken, nil
}

// invalidateToken сбрасывает кэш, если в нём всё ещё отклонённый токен.
func (c *Client) invalidateToken(rejected string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accessToken == rejected {
		c.accessToken = ""
		c.tokenExpiry = time.Time{}
	}
}

func (c *Client) requestToken(ctx context.Context) (*serviceToken, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.realmPath()+"/protocol/openid-connect/token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("создание запроса токена: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("запрос токена Keycloak: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, newAPIError("token", resp)
	}
	var tok serviceToken
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return nil, fmt.Errorf("декодирование токена Keycloak: %w", err)
	}
	return &tok, nil
}

// --- Запросы Admin API ---

// call выполняет запрос к Admin API. out == nil — тело ответа не читается.
// 404 возвращается как notFound (nil — как APIError).
func (c *Client) call(ctx context.Context, op, method, path string, in, out any, notFound error) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("keycloak %s: сериализация: %w", op, err)
		}
	}

	for attempt := 0; ; attempt++ {
		token, err := c.getToken(ctx)
		if err != nil {
			return fmt.Errorf("keycloak %s: %w", op, err)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.adminPath(path), bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("keycloak %s: %w", op, err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")
		if in != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("keycloak %s: %w", op, err)
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized && attempt == 0:
			resp.Body.Close()
			c.invalidateToken(token)
			c.logger.Warn("Keycloak отклонил токен service account, повтор", slog.String("op", op))
			continue
		case resp.StatusCode == http.StatusNotFound && notFound != nil:
			resp.Body.Close()
			return notFound
		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			apiErr := newAPIError(op, resp)
			resp.Body.Close()
			return apiErr
		}

		defer resp.Body.Close()
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("keycloak %s: декодирование ответа: %w", op, err)
		}
		return nil
	}
}

func pageQuery(first, max int) url.Values {
	return url.Values{
		"first":               {strconv.Itoa(first)},
		"max":                 {strconv.Itoa(max)},
		"briefRepresentation": {"false"},
	}
}

// ListUsers — страница пользователей realm. search ищет по username,
// email и имени; пустой search — все пользователи.
func (c *Client) ListUsers(ctx context.Context, search string, first, max int) ([]User, error) {
	q := pageQuery(first, max)
	if search != "" {
		q.Set("search", search)
	}
	var users []User
	if err := c.call(ctx, "ListUsers", http.MethodGet, "/users?"+q.Encode(), nil, &users, nil); err != nil {
		return nil, err
	}
	return users, nil
}

// SearchUsersByAttribute — пользователи с точным значением атрибута.
func (c *Client) SearchUsersByAttribute(ctx context.Context, name, value string, first, max int) ([]User, error) {
	q := pageQuery(first, max)
	q.Set("q", name+":"+value)
	q.Set("exact", "true")
	var users []User
	if err := c.call(ctx, "SearchUsersByAttribute", http.MethodGet, "/users?"+q.Encode(), nil, &users, nil); err != nil {
		return nil, err
	}
	return users, nil
}

// CountUsers — число пользователей под тем же search, что у ListUsers.
func (c *Client) CountUsers(ctx context.Context, search string) (int, error) {
	path := "/users/count"
	if search != "" {
		path += "?" + url.Values{"search": {search}}.Encode()
	}
	var n int
	if err := c.call(ctx, "CountUsers", http.MethodGet, path, nil, &n, nil); err != nil {
		return 0, err
	}
	return n, nil
}

// GetUser — пользователь по id или ErrUserNotFound.
func (c *Client) GetUser(ctx context.Context, id string) (*User, error) {
	var u User
	if err := c.call(ctx, "GetUser", http.MethodGet, "/users/"+url.PathEscape(id), nil, &u, ErrUserNotFound); err != nil {
		return nil, err
	}
	return &u, nil
}

// UpdateUserAttributes задаёт перечисленные атрибуты, не трогая остальные.
// PUT /users/{id} заменяет представление целиком, поэтому оно сначала
// читается как есть и отправляется обратно с изменёнными атрибутами.
func (c *Client) UpdateUserAttributes(ctx context.Context, id string, attrs map[string][]string) error {
	path := "/users/" + url.PathEscape(id)

	var rep map[string]json.RawMessage
	if err := c.call(ctx, "UpdateUserAttributes", http.MethodGet, path, nil, &rep, ErrUserNotFound); err != nil {
		return err
	}

	merged := map[string][]string{}
	if raw, ok := rep["attributes"]; ok {
		if err := json.Unmarshal(raw, &merged); err != nil {
			return fmt.Errorf("keycloak UpdateUserAttributes: разбор атрибутов: %w", err)
		}
	}
	for k, v := range attrs {
		merged[k] = v
	}
	raw, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("keycloak UpdateUserAttributes: %w", err)
	}
	rep["attributes"] = raw

	if err := c.call(ctx, "UpdateUserAttributes", http.MethodPut, path, rep, nil, ErrUserNotFound); err != nil {
		return err
	}
	c.logger.Info("Атрибуты пользователя обновлены",
		slog.String("user_id", id),
		slog.Int("attributes", len(attrs)),
	)
	return nil
}

// RealmInfo — состояние realm портала.
func (c *Client) RealmInfo(ctx context.Context) (*Realm, error) {
	var r Realm
	if err := c.call(ctx, "RealmInfo", http.MethodGet, "", nil, &r, nil); err != nil {
		return nil, err
	}
	return &r, nil
}

// CheckReady — readiness: realm доступен и включён.
func (c *Client) CheckReady() (string, string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	realm, err := c.RealmInfo(ctx)
	switch {
	case err != nil:
		return "fail", fmt.Sprintf("Keycloak недоступен: %v", err)
	case !realm.Enabled:
		return "degraded", fmt.Sprintf("realm %s отключён", realm.Realm)
	default:
		return "ok", fmt.Sprintf("realm %s доступен", realm.Realm)
	}
}
