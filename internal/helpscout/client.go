// Пакет helpscout — клиент HelpScout Mailbox API v2.
// Токен приложения (Client Credentials) кэшируется и обновляется за 30s
// до истечения. Операции: ListConversations, CreateConversation.
package helpscout

import (
	"bytes"
	"context"
	"encoding/json"
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

// DefaultBaseURL — адрес HelpScout API.
const DefaultBaseURL = "https://api.helpscout.net"

// maxPages — предел страниц при выборке диалогов одного клиента.
const maxPages = 10

// Conversation — диалог поддержки в нормализованном виде.
type Conversation struct {
	ID            int64     `json:"id"`
	Number        int64     `json:"number"`
	Subject       string    `json:"subject"`
	Status        string    `json:"status"`
	CustomerEmail string    `json:"customerEmail"`
	Preview       string    `json:"preview,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// NewConversation — данные нового обращения.
type NewConversation struct {
	Subject       string
	CustomerEmail string
	CustomerName  string
	Text          string
	Tags          []string
}

// Client — клиент HelpScout.
type Client struct {
	baseURL   string
	appID     string
	appSecret string
	mailboxID int64

	httpClient *http.Client
	logger     *slog.Logger

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// New создаёт клиент HelpScout. baseURL пустой — DefaultBaseURL.
func New(baseURL, appID, appSecret string, mailboxID int64, httpClient *http.Client, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		appID:      appID,
		appSecret:  appSecret,
		mailboxID:  mailboxID,
		httpClient: httpClient,
		logger:     logger.With(slog.String("component", "helpscout")),
	}
}

// --- Аутентификация ---

type tokenResponse struct {
	AccessToken string `json:"access_token"` //nolint:gosec // G117: структура токена OAuth2
	ExpiresIn   int    `json:"expires_in"`
}

// getToken возвращает актуальный токен, обновляя при необходимости.
func (c *Client) getToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Add(30*time.Second).Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	data := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.appID},
		"client_secret": {c.appSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/oauth2/token", strings.NewReader(data.Encode()))
	if err != nil {
		return "", fmt.Errorf("создание запроса токена: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("запрос токена HelpScout: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("HelpScout вернул статус %d при запросе токена: %s", resp.StatusCode, string(body))
	}

	var token tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return "", fmt.Errorf("декодирование токена HelpScout: %w", err)
	}

	c.accessToken = token.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(token.ExpiresIn) * time.Second)
	c.logger.Debug("HelpScout токен обновлён", slog.Time("expires_at", c.tokenExpiry))

	return c.accessToken, nil
}

func (c *Client) doAuthorized(ctx context.Context, method, path string, body any) (*http.Response, error) {
	token, err := c.getToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("получение токена: %w", err)
	}

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("сериализация тела запроса: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("создание запроса: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

// --- Conversations API ---

type conversationsPage struct {
	Embedded struct {
		Conversations []rawConversation `json:"conversations"`
	} `json:"_embedded"`
	Page struct {
		Number     int `json:"number"`
		TotalPages int `json:"totalPages"`
	} `json:"page"`
}

type rawConversation struct {
	ID              int64     `json:"id"`
	Number          int64     `json:"number"`
	Subject         string    `json:"subject"`
	Status          string    `json:"status"`
	Preview         string    `json:"preview"`
	CreatedAt       time.Time `json:"createdAt"`
	UserUpdatedAt   time.Time `json:"userUpdatedAt"`
	PrimaryCustomer struct {
		Email string `json:"email"`
	} `json:"primaryCustomer"`
}

// ListConversations возвращает диалоги клиента с указанным email
// во всех статусах, новые первыми.
func (c *Client) ListConversations(ctx context.Context, email string) ([]Conversation, error) {
	var out []Conversation

	for page := 1; page <= maxPages; page++ {
		q := url.Values{}
		q.Set("mailbox", strconv.FormatInt(c.mailboxID, 10))
		q.Set("status", "all")
		q.Set("query", fmt.Sprintf(`(email:"%s")`, email))
		q.Set("sortField", "createdAt")
		q.Set("sortOrder", "desc")
		q.Set("page", strconv.Itoa(page))

		resp, err := c.doAuthorized(ctx, http.MethodGet, "/v2/conversations?"+q.Encode(), nil)
		if err != nil {
			return nil, fmt.Errorf("запрос диалогов: %w", err)
		}

		var p conversationsPage
		if err := decodeResponse(resp, &p); err != nil {
			return nil, err
		}

		for _, rc := range p.Embedded.Conversations {
			out = append(out, Conversation{
				ID:            rc.ID,
				Number:        rc.Number,
				Subject:       rc.Subject,
				Status:        rc.Status,
				CustomerEmail: rc.PrimaryCustomer.Email,
				Preview:       rc.Preview,
				CreatedAt:     rc.CreatedAt,
				UpdatedAt:     rc.UserUpdatedAt,
			})
		}

		if page >= p.Page.TotalPages {
			break
		}
	}

	return out, nil
}

// CreateConversation создаёт обращение от имени клиента и возвращает его ID.
func (c *Client) CreateConversation(ctx context.Context, in NewConversation) (int64, error) {
	customer := map[string]string{"email": in.CustomerEmail}
	if in.CustomerName != "" {
		first, last, _ := strings.Cut(in.CustomerName, " ")
		customer["firstName"] = first
		if last != "" {
			customer["lastName"] = last
		}
	}

	body := map[string]any{
		"subject":   in.Subject,
		"customer":  customer,
		"mailboxId": c.mailboxID,
		"type":      "email",
		"status":    "active",
		"threads": []map[string]any{{
			"type":     "customer",
			"customer": map[string]string{"email": in.CustomerEmail},
			"text":     in.Text,
		}},
	}
	if len(in.Tags) > 0 {
		body["tags"] = in.Tags
	}

	resp, err := c.doAuthorized(ctx, http.MethodPost, "/v2/conversations", body)
	if err != nil {
		return 0, fmt.Errorf("создание диалога: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("HelpScout вернул статус %d при создании диалога: %s", resp.StatusCode, string(b))
	}

	id, err := strconv.ParseInt(resp.Header.Get("Resource-ID"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректный Resource-ID в ответе HelpScout: %w", err)
	}

	c.logger.Info("Создано обращение в HelpScout",
		slog.Int64("conversation_id", id),
		slog.String("customer_email", in.CustomerEmail),
	)
	return id, nil
}

// decodeResponse декодирует JSON ответ в target.
func decodeResponse(resp *http.Response, target any) error {
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("HelpScout API вернул статус %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("декодирование ответа HelpScout: %w", err)
	}
	return nil
}
