// Пакет umami — клиент статистики посещений Umami.
// Запрос выполняется с фиксированным таймаутом; любая ошибка означает
// «нет данных», вызывающая сторона ошибок не получает.
package umami

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/bigkaa/clientportal/internal/cache"
)

// Stats — сводка посещений сайта за период.
type Stats struct {
	Pageviews int64 `json:"pageviews"`
	Visitors  int64 `json:"visitors"`
	Visits    int64 `json:"visits"`
	Bounces   int64 `json:"bounces"`
	// TotalTime — суммарное время на сайте, секунды
	TotalTime int64 `json:"totaltime"`
}

// Client — клиент Umami API.
type Client struct {
	baseURL    string
	token      string
	timeout    time.Duration
	httpClient *http.Client
	cache      *cache.TTL[*Stats]
	logger     *slog.Logger
}

// statsCacheTTL — время жизни закэшированной статистики.
const statsCacheTTL = 5 * time.Minute

// New создаёт клиент Umami. timeout — таймаут одного запроса.
func New(baseURL, token string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		token:      token,
		timeout:    timeout,
		httpClient: &http.Client{Timeout: timeout},
		cache:      cache.New[*Stats]("umami", 512, statsCacheTTL),
		logger:     logger.With(slog.String("component", "umami")),
	}
}

// Stats возвращает статистику сайта за [from, to].
// При любой ошибке (таймаут, статус, формат) возвращает nil, false.
func (c *Client) Stats(ctx context.Context, websiteID string, from, to time.Time) (*Stats, bool) {
	key := cacheKey(websiteID, from, to)
	if s, ok := c.cache.Get(key); ok {
		return s, true
	}

	s, err := c.fetchStats(ctx, websiteID, from, to)
	if err != nil {
		c.logger.Warn("Статистика Umami недоступна",
			slog.String("website_id", websiteID),
			slog.String("error", err.Error()),
		)
		return nil, false
	}

	c.cache.Set(key, s)
	return s, true
}

// cacheKey — сайт, длина периода и конец периода, округлённый до statsCacheTTL:
// окна, сдвинутые в пределах одного интервала, делят запись кэша.
func cacheKey(websiteID string, from, to time.Time) string {
	span := int64(to.Sub(from) / time.Second)
	return fmt.Sprintf("%s:%d:%d", websiteID, span, to.Truncate(statsCacheTTL).Unix())
}

func (c *Client) fetchStats(ctx context.Context, websiteID string, from, to time.Time) (*Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	q := url.Values{}
	q.Set("startAt", strconv.FormatInt(from.UnixMilli(), 10))
	q.Set("endAt", strconv.FormatInt(to.UnixMilli(), 10))
	endpoint := fmt.Sprintf("%s/api/websites/%s/stats?%s", c.baseURL, url.PathEscape(websiteID), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("создание запроса: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации
	if err != nil {
		return nil, fmt.Errorf("запрос к Umami: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("чтение ответа: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("Umami вернул статус %d", resp.StatusCode)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("невалидный JSON в ответе Umami")
	}

	return &Stats{
		Pageviews: metric(body, "pageviews"),
		Visitors:  metric(body, "visitors"),
		Visits:    metric(body, "visits"),
		Bounces:   metric(body, "bounces"),
		TotalTime: metric(body, "totaltime"),
	}, nil
}

// metric читает метрику в обоих форматах ответа Umami:
// {"pageviews": 10} и {"pageviews": {"value": 10, "prev": 8}}.
func metric(body []byte, name string) int64 {
	r := gjson.GetBytes(body, name)
	if r.IsObject() {
		return r.Get("value").Int()
	}
	return r.Int()
}
