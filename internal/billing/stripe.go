// Пакет billing — сводка биллинга клиента из Stripe:
// покупатель, подписки и последние счета.
package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// ErrCustomerNotFound — покупателя нет в Stripe или он удалён.
var ErrCustomerNotFound = errors.New("покупатель Stripe не найден")

// recentInvoices — сколько последних счетов показывать.
const recentInvoices = 10

// Subscription — подписка в нормализованном виде.
type Subscription struct {
	ID                string    `json:"id"`
	Status            string    `json:"status"`
	Plan              string    `json:"plan"`
	Amount            int64     `json:"amount"`
	Currency          string    `json:"currency"`
	Interval          string    `json:"interval"`
	CurrentPeriodEnd  time.Time `json:"currentPeriodEnd"`
	CancelAtPeriodEnd bool      `json:"cancelAtPeriodEnd"`
}

// Invoice — счёт в нормализованном виде.
type Invoice struct {
	ID         string    `json:"id"`
	Number     string    `json:"number"`
	Status     string    `json:"status"`
	AmountDue  int64     `json:"amountDue"`
	AmountPaid int64     `json:"amountPaid"`
	Currency   string    `json:"currency"`
	Created    time.Time `json:"created"`
	HostedURL  string    `json:"hostedUrl,omitempty"`
	PDFURL     string    `json:"pdfUrl,omitempty"`
}

// Summary — сводка биллинга клиента.
type Summary struct {
	CustomerEmail string         `json:"customerEmail"`
	CustomerName  string         `json:"customerName"`
	Balance       int64          `json:"balance"`
	Subscriptions []Subscription `json:"subscriptions"`
	Invoices      []Invoice      `json:"invoices"`
}

// Client — клиент Stripe API.
type Client struct {
	api    *client.API
	logger *slog.Logger
}

// New создаёт клиент Stripe с секретным ключом.
func New(secretKey string, logger *slog.Logger) *Client {
	return newClient(secretKey, nil, logger)
}

// newClient создаёт клиент; backendURL подменяет адрес API (для тестов).
func newClient(secretKey string, backendURL *string, logger *slog.Logger) *Client {
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               backendURL,
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	api := client.New(secretKey, &stripe.Backends{API: backend, Connect: backend, Uploads: backend})

	return &Client{
		api:    api,
		logger: logger.With(slog.String("component", "billing")),
	}
}

// Summary возвращает сводку по покупателю customerID.
// Подписки выбираются во всех статусах с постраничным обходом,
// счета — последние recentInvoices.
func (c *Client) Summary(ctx context.Context, customerID string) (*Summary, error) {
	custParams := &stripe.CustomerParams{}
	custParams.Context = ctx
	cust, err := c.api.Customers.Get(customerID, custParams)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodeResourceMissing {
			return nil, fmt.Errorf("%w: %s", ErrCustomerNotFound, customerID)
		}
		return nil, fmt.Errorf("получение покупателя Stripe: %w", err)
	}
	if cust.Deleted {
		return nil, fmt.Errorf("%w: %s", ErrCustomerNotFound, customerID)
	}

	summary := &Summary{
		CustomerEmail: cust.Email,
		CustomerName:  cust.Name,
		Balance:       cust.Balance,
		Subscriptions: []Subscription{},
		Invoices:      []Invoice{},
	}

	subParams := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String("all"),
	}
	subParams.Context = ctx
	subs := c.api.Subscriptions.List(subParams)
	for subs.Next() {
		summary.Subscriptions = append(summary.Subscriptions, toSubscription(subs.Subscription()))
	}
	if err := subs.Err(); err != nil {
		return nil, fmt.Errorf("список подписок Stripe: %w", err)
	}

	invParams := &stripe.InvoiceListParams{Customer: stripe.String(customerID)}
	invParams.Limit = stripe.Int64(recentInvoices)
	invParams.Context = ctx
	invs := c.api.Invoices.List(invParams)
	for invs.Next() && len(summary.Invoices) < recentInvoices {
		summary.Invoices = append(summary.Invoices, toInvoice(invs.Invoice()))
	}
	if err := invs.Err(); err != nil {
		return nil, fmt.Errorf("список счетов Stripe: %w", err)
	}

	c.logger.Debug("Сводка биллинга получена",
		slog.String("customer_id", customerID),
		slog.Int("subscriptions", len(summary.Subscriptions)),
		slog.Int("invoices", len(summary.Invoices)),
	)
	return summary, nil
}

func toSubscription(s *stripe.Subscription) Subscription {
	out := Subscription{
		ID:                s.ID,
		Status:            string(s.Status),
		CurrentPeriodEnd:  time.Unix(s.CurrentPeriodEnd, 0).UTC(),
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
	}
	if s.Items == nil {
		return out
	}
	for _, item := range s.Items.Data {
		if item.Price == nil {
			continue
		}
		out.Amount += item.Price.UnitAmount * max(item.Quantity, 1)
		out.Currency = string(item.Price.Currency)
		if out.Plan == "" {
			out.Plan = item.Price.Nickname
		}
		if item.Price.Recurring != nil {
			out.Interval = string(item.Price.Recurring.Interval)
		}
	}
	return out
}

func toInvoice(inv *stripe.Invoice) Invoice {
	return Invoice{
		ID:         inv.ID,
		Number:     inv.Number,
		Status:     string(inv.Status),
		AmountDue:  inv.AmountDue,
		AmountPaid: inv.AmountPaid,
		Currency:   string(inv.Currency),
		Created:    time.Unix(inv.Created, 0).UTC(),
		HostedURL:  inv.HostedInvoiceURL,
		PDFURL:     inv.InvoicePDF,
	}
}
