// Пакет uptimekuma — чтение состояния мониторов со status page Uptime Kuma.
package uptimekuma

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/tidwall/gjson"

	"github.com/bigkaa/clientportal/internal/cache"
)

// ErrMonitorNotFound — монитора нет на status page.
var ErrMonitorNotFound = errors.New("монитор не найден на status page")

// Статусы heartbeat Uptime Kuma.
const (
	StatusDown        = "down"
	StatusUp          = "up"
	StatusPending     = "pending"
	StatusMaintenance = "maintenance"
	StatusUnknown     = "unknown"
)

// heartbeatCacheTTL — время жизни закэшированного ответа status page.
const heartbeatCacheTTL = time.Minute

// MonitorStatus — текущее состояние монитора.
type MonitorStatus struct {
	MonitorID string    `json:"monitorId"`
	Status    string    `json:"status"`
	Up        bool      `json:"up"`
	Message   string    `json:"message,omitempty"`
	PingMs    int64     `json:"pingMs"`
	LastCheck time.Time `json:"lastCheck"`
	// Uptime24h — доля времени в статусе up за 24 часа (0..1)
	Uptime24h float64 `json:"uptime24h"`
}

// Client — клиент публичного API status page.
type Client struct {
	baseURL    string
	slug       string
	httpClient *http.Client
	cache      *cache.TTL[[]byte]
	logger     *slog.Logger
}

// New создаёт клиент. slug — идентификатор status page.
func New(baseURL, slug string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		slug:       slug,
		httpClient: &http.Client{Timeout: timeout},
		cache:      cache.New[[]byte]("uptimekuma", 16, heartbeatCacheTTL),
		logger:     logger.With(slog.String("component", "uptimekuma")),
	}
}

// MonitorStatus возвращает состояние монитора по последнему heartbeat.
func (c *Client) MonitorStatus(ctx context.Context, monitorID string) (*MonitorStatus, error) {
	body, err := c.heartbeats(ctx)
	if err != nil {
		return nil, err
	}

	beats := gjson.GetBytes(body, "heartbeatList."+gjson.Escape(monitorID))
	if !beats.Exists() || !beats.IsArray() || len(beats.Array()) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrMonitorNotFound, monitorID)
	}
	list := beats.Array()
	last := list[len(list)-1]

	st := &MonitorStatus{
		MonitorID: monitorID,
		Status:    statusName(last.Get("status").Int()),
		Message:   last.Get("msg").String(),
		PingMs:    last.Get("ping").Int(),
		LastCheck: parseTime(last.Get("time").String()),
		Uptime24h: gjson.GetBytes(body, "uptimeList."+gjson.Escape(monitorID+"_24")).Float(),
	}
	st.Up = st.Status == StatusUp
	return st, nil
}

// heartbeats возвращает тело ответа status page (из кэша или сети).
func (c *Client) heartbeats(ctx context.Context) ([]byte, error) {
	if body, ok := c.cache.Get(c.slug); ok {
		return body, nil
	}

	endpoint := fmt.Sprintf("%s/api/status-page/heartbeat/%s", c.baseURL, url.PathEscape(c.slug))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("создание запроса: %w", err)
	}

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации
	if err != nil {
		return nil, fmt.Errorf("запрос к Uptime Kuma: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("чтение ответа: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("Uptime Kuma вернул статус %d", resp.StatusCode)
	}
	if !gjson.ValidBytes(body) {
		return nil, errors.New("невалидный JSON в ответе Uptime Kuma")
	}

	c.cache.Set(c.slug, body)
	c.logger.Debug("Status page обновлена", slog.Int("bytes", len(body)))
	return body, nil
}

func statusName(code int64) string {
	switch code {
	case 0:
		return StatusDown
	case 1:
		return StatusUp
	case 2:
		return StatusPending
	case 3:
		return StatusMaintenance
	default:
		return StatusUnknown
	}
}

// parseTime разбирает время heartbeat: "2006-01-02 15:04:05.000" (UTC) или RFC 3339.
func parseTime(s string) time.Time {
	for _, layout := range []string{"2006-01-02 15:04:05.000", "2006-01-02 15:04:05", time.RFC3339Nano} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
