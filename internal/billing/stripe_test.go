package billing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const (
	customerJSON = `{"id":"cus_1","object":"customer","email":"billing@acme.test","name":"Acme","balance":-500}`

	subscriptionsJSON = `{"object":"list","url":"/v1/subscriptions","has_more":false,"data":[
		{"id":"sub_1","object":"subscription","status":"active","current_period_end":1711929600,
		 "cancel_at_period_end":false,
		 "items":{"object":"list","has_more":false,"url":"/v1/subscription_items","data":[
			{"id":"si_1","object":"subscription_item","quantity":2,
			 "price":{"id":"price_1","object":"price","unit_amount":4900,"currency":"usd","nickname":"Hosting",
			          "recurring":{"interval":"month","interval_count":1}}}
		 ]}}
	]}`

	invoicesJSON = `{"object":"list","url":"/v1/invoices","has_more":false,"data":[
		{"id":"in_1","object":"invoice","number":"ACME-0001","status":"paid","amount_due":9800,
		 "amount_paid":9800,"currency":"usd","created":1709251200,
		 "hosted_invoice_url":"https://pay.stripe.test/in_1","invoice_pdf":"https://pay.stripe.test/in_1.pdf"}
	]}`
)

func setupMockStripe(t *testing.T, customer func(w http.ResponseWriter)) *Client {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/customers/cus_1", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk_test_123" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		customer(w)
	})
	mux.HandleFunc("/v1/subscriptions", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("customer") != "cus_1" || r.URL.Query().Get("status") != "all" {
			t.Errorf("неожиданный запрос подписок: %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(subscriptionsJSON))
	})
	mux.HandleFunc("/v1/invoices", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(invoicesJSON))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	url := srv.URL
	return newClient("sk_test_123", &url, testLogger())
}

func TestClient_Summary(t *testing.T) {
	c := setupMockStripe(t, func(w http.ResponseWriter) {
		_, _ = w.Write([]byte(customerJSON))
	})

	s, err := c.Summary(context.Background(), "cus_1")
	if err != nil {
		t.Fatalf("Summary() ошибка: %v", err)
	}
	if s.CustomerEmail != "billing@acme.test" || s.Balance != -500 {
		t.Errorf("покупатель = %+v", s)
	}
	if len(s.Subscriptions) != 1 {
		t.Fatalf("подписок = %d, хотели 1", len(s.Subscriptions))
	}
	sub := s.Subscriptions[0]
	if sub.Status != "active" || sub.Amount != 9800 || sub.Plan != "Hosting" || sub.Interval != "month" {
		t.Errorf("подписка = %+v", sub)
	}
	if sub.CurrentPeriodEnd.Unix() != 1711929600 {
		t.Errorf("CurrentPeriodEnd = %v", sub.CurrentPeriodEnd)
	}
	if len(s.Invoices) != 1 || s.Invoices[0].Number != "ACME-0001" || s.Invoices[0].PDFURL == "" {
		t.Errorf("счета = %+v", s.Invoices)
	}
}

func TestClient_SummaryCustomerMissing(t *testing.T) {
	tests := []struct {
		name    string
		respond func(w http.ResponseWriter)
	}{
		{"resource_missing", func(w http.ResponseWriter) {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","code":"resource_missing","message":"No such customer"}}`))
		}},
		{"удалённый покупатель", func(w http.ResponseWriter) {
			_, _ = w.Write([]byte(`{"id":"cus_1","object":"customer","deleted":true}`))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := setupMockStripe(t, tt.respond)
			if _, err := c.Summary(context.Background(), "cus_1"); !errors.Is(err, ErrCustomerNotFound) {
				t.Errorf("Summary() ошибка = %v, хотели ErrCustomerNotFound", err)
			}
		})
	}
}

func TestClient_SummaryUpstreamError(t *testing.T) {
	c := setupMockStripe(t, func(w http.ResponseWriter) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"type":"api_error","message":"boom"}}`))
	})
	_, err := c.Summary(context.Background(), "cus_1")
	if err == nil || errors.Is(err, ErrCustomerNotFound) {
		t.Errorf("Summary() ошибка = %v, хотели ошибку Stripe", err)
	}
}
