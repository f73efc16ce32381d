// portal.go — данные виджетов портала клиента: биллинг, поддержка,
// аналитика, аптайм, состояние сайта.
//
// Каждый виджет проверяет возможность в наборе прав контекста клиента.
// Ненастроенная или недоступная интеграция не ломает страницу:
// результат приходит с Available=false и причиной.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bigkaa/clientportal/internal/billing"
	"github.com/bigkaa/clientportal/internal/clientctx"
	"github.com/bigkaa/clientportal/internal/domain/model"
	"github.com/bigkaa/clientportal/internal/domain/permission"
	"github.com/bigkaa/clientportal/internal/helpscout"
	"github.com/bigkaa/clientportal/internal/repository"
	"github.com/bigkaa/clientportal/internal/umami"
	"github.com/bigkaa/clientportal/internal/uptimekuma"
)

// Причины недоступности виджета.
const (
	ReasonNotConfigured = "not_configured"
	ReasonNotLinked     = "not_linked"
	ReasonUnavailable   = "unavailable"
)

// BillingProvider — источник биллинга. Реализуется billing.Client.
type BillingProvider interface {
	Summary(ctx context.Context, customerID string) (*billing.Summary, error)
}

// TicketProvider — источник обращений. Реализуется helpscout.Client.
type TicketProvider interface {
	ListConversations(ctx context.Context, email string) ([]helpscout.Conversation, error)
	CreateConversation(ctx context.Context, in helpscout.NewConversation) (int64, error)
}

// AnalyticsProvider — источник статистики. Реализуется umami.Client.
type AnalyticsProvider interface {
	Stats(ctx context.Context, websiteID string, from, to time.Time) (*umami.Stats, bool)
}

// UptimeProvider — источник состояния мониторов. Реализуется uptimekuma.Client.
type UptimeProvider interface {
	MonitorStatus(ctx context.Context, monitorID string) (*uptimekuma.MonitorStatus, error)
}

// Widget — общая часть ответа виджета.
type Widget struct {
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

// BillingView — виджет биллинга.
type BillingView struct {
	Widget
	Summary *billing.Summary `json:"summary,omitempty"`
}

// TicketsView — виджет обращений.
type TicketsView struct {
	Widget
	Tickets []helpscout.Conversation `json:"tickets"`
}

// AnalyticsView — виджет аналитики.
type AnalyticsView struct {
	Widget
	From  time.Time    `json:"from"`
	To    time.Time    `json:"to"`
	Stats *umami.Stats `json:"stats,omitempty"`
}

// UptimeView — виджет аптайма.
type UptimeView struct {
	Widget
	Monitor *uptimekuma.MonitorStatus `json:"monitor,omitempty"`
}

// SiteHealthView — виджет состояния сайта.
type SiteHealthView struct {
	Widget
	Checks []model.SiteCheck `json:"checks"`
}

// NewTicket — обращение, создаваемое из портала.
type NewTicket struct {
	Subject string
	Message string
}

// PortalService — сервис виджетов портала.
type PortalService struct {
	billing   BillingProvider
	tickets   TicketProvider
	analytics AnalyticsProvider
	uptime    UptimeProvider
	checks    repository.SiteCheckRepository
	logger    *slog.Logger
	now       func() time.Time
}

// NewPortalService создаёт сервис портала. Любая интеграция может быть nil.
func NewPortalService(
	billingProvider BillingProvider,
	tickets TicketProvider,
	analytics AnalyticsProvider,
	uptime UptimeProvider,
	checks repository.SiteCheckRepository,
	logger *slog.Logger,
) *PortalService {
	return &PortalService{
		billing:   billingProvider,
		tickets:   tickets,
		analytics: analytics,
		uptime:    uptime,
		checks:    checks,
		logger:    logger.With(slog.String("component", "portal_service")),
		now:       time.Now,
	}
}

// require проверяет наличие контекста клиента и возможности key.
func require(cc *clientctx.ClientContext, key permission.Key) error {
	if cc == nil {
		return ErrNoClientAccess
	}
	if !cc.EffectivePermissions().Has(key) {
		return fmt.Errorf("%w: возможность %s выключена", ErrForbidden, key)
	}
	return nil
}

func unavailable(reason string) Widget {
	return Widget{Available: false, Reason: reason}
}

// Billing возвращает сводку биллинга клиента.
func (s *PortalService) Billing(ctx context.Context, cc *clientctx.ClientContext) (*BillingView, error) {
	if err := require(cc, permission.Billing); err != nil {
		return nil, err
	}
	if s.billing == nil {
		return &BillingView{Widget: unavailable(ReasonNotConfigured)}, nil
	}
	if cc.Client.BillingCustomerID == nil {
		return &BillingView{Widget: unavailable(ReasonNotLinked)}, nil
	}

	summary, err := s.billing.Summary(ctx, *cc.Client.BillingCustomerID)
	if err != nil {
		reason := ReasonUnavailable
		if errors.Is(err, billing.ErrCustomerNotFound) {
			reason = ReasonNotLinked
		}
		s.logger.Warn("Биллинг недоступен",
			slog.String("client_id", cc.Client.ID),
			slog.String("error", err.Error()),
		)
		return &BillingView{Widget: unavailable(reason)}, nil
	}
	return &BillingView{Widget: Widget{Available: true}, Summary: summary}, nil
}

// Tickets возвращает обращения по email эффективной идентичности.
func (s *PortalService) Tickets(ctx context.Context, cc *clientctx.ClientContext) (*TicketsView, error) {
	if err := require(cc, permission.Support); err != nil {
		return nil, err
	}
	view := &TicketsView{Tickets: []helpscout.Conversation{}}
	if s.tickets == nil {
		view.Widget = unavailable(ReasonNotConfigured)
		return view, nil
	}
	if cc.UserEmail == "" {
		view.Widget = unavailable(ReasonNotLinked)
		return view, nil
	}

	list, err := s.tickets.ListConversations(ctx, cc.UserEmail)
	if err != nil {
		s.logger.Warn("Обращения недоступны",
			slog.String("client_id", cc.Client.ID),
			slog.String("error", err.Error()),
		)
		view.Widget = unavailable(ReasonUnavailable)
		return view, nil
	}
	view.Widget = Widget{Available: true}
	if list != nil {
		view.Tickets = list
	}
	return view, nil
}

// CreateTicket создаёт обращение от имени эффективной идентичности.
// В отличие от чтения, ошибка интеграции возвращается вызывающему.
func (s *PortalService) CreateTicket(ctx context.Context, cc *clientctx.ClientContext, name string, in NewTicket) (int64, error) {
	if err := require(cc, permission.Support); err != nil {
		return 0, err
	}
	in.Subject = strings.TrimSpace(in.Subject)
	in.Message = strings.TrimSpace(in.Message)
	if in.Subject == "" || in.Message == "" {
		return 0, fmt.Errorf("%w: тема и текст обращения обязательны", ErrValidation)
	}
	if s.tickets == nil {
		return 0, ErrNotConfigured
	}
	if cc.UserEmail == "" {
		return 0, fmt.Errorf("%w: у пользователя нет email", ErrValidation)
	}

	id, err := s.tickets.CreateConversation(ctx, helpscout.NewConversation{
		Subject:       in.Subject,
		CustomerEmail: cc.UserEmail,
		CustomerName:  name,
		Text:          in.Message,
		Tags:          []string{"portal", "client:" + cc.Client.Name},
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	return id, nil
}

// Analytics возвращает статистику посещений за последние days дней.
func (s *PortalService) Analytics(ctx context.Context, cc *clientctx.ClientContext, days int) (*AnalyticsView, error) {
	if err := require(cc, permission.Analytics); err != nil {
		return nil, err
	}
	if days <= 0 || days > 365 {
		days = 30
	}
	to := s.now().UTC().Truncate(time.Minute)
	view := &AnalyticsView{From: to.AddDate(0, 0, -days), To: to}

	if s.analytics == nil {
		view.Widget = unavailable(ReasonNotConfigured)
		return view, nil
	}
	if cc.Client.AnalyticsSiteID == nil {
		view.Widget = unavailable(ReasonNotLinked)
		return view, nil
	}

	stats, ok := s.analytics.Stats(ctx, *cc.Client.AnalyticsSiteID, view.From, view.To)
	if !ok {
		view.Widget = unavailable(ReasonUnavailable)
		return view, nil
	}
	view.Widget = Widget{Available: true}
	view.Stats = stats
	return view, nil
}

// Uptime возвращает состояние монитора сайта клиента.
func (s *PortalService) Uptime(ctx context.Context, cc *clientctx.ClientContext) (*UptimeView, error) {
	if err := require(cc, permission.Uptime); err != nil {
		return nil, err
	}
	if s.uptime == nil {
		return &UptimeView{Widget: unavailable(ReasonNotConfigured)}, nil
	}
	if cc.Client.UptimeMonitorID == nil {
		return &UptimeView{Widget: unavailable(ReasonNotLinked)}, nil
	}

	st, err := s.uptime.MonitorStatus(ctx, *cc.Client.UptimeMonitorID)
	if err != nil {
		reason := ReasonUnavailable
		if errors.Is(err, uptimekuma.ErrMonitorNotFound) {
			reason = ReasonNotLinked
		}
		s.logger.Warn("Аптайм недоступен",
			slog.String("client_id", cc.Client.ID),
			slog.String("error", err.Error()),
		)
		return &UptimeView{Widget: unavailable(reason)}, nil
	}
	return &UptimeView{Widget: Widget{Available: true}, Monitor: st}, nil
}

// SiteHealth возвращает последние проверки сайта клиента.
func (s *PortalService) SiteHealth(ctx context.Context, cc *clientctx.ClientContext) (*SiteHealthView, error) {
	if err := require(cc, permission.SiteHealth); err != nil {
		return nil, err
	}
	checks, err := s.checks.Latest(ctx, cc.Client.ID)
	if err != nil {
		s.logger.Warn("Проверки сайта недоступны",
			slog.String("client_id", cc.Client.ID),
			slog.String("error", err.Error()),
		)
		return &SiteHealthView{Widget: unavailable(ReasonUnavailable), Checks: []model.SiteCheck{}}, nil
	}
	if len(checks) == 0 {
		return &SiteHealthView{Widget: unavailable(ReasonNotLinked), Checks: []model.SiteCheck{}}, nil
	}
	return &SiteHealthView{Widget: Widget{Available: true}, Checks: checks}, nil
}
