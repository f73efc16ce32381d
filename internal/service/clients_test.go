package service

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/bigkaa/clientportal/internal/domain/model"
	"github.com/bigkaa/clientportal/internal/repository"
)

func newTestClientService(clients ...*model.Client) (*ClientService, *fakeServiceRepo, *fakeTx) {
	services := newFakeServiceRepo()
	tx := &fakeTx{}
	svc := NewClientService(newFakeClientRepo(clients...), services, &fakeSiteCheckRepo{}, tx, testLogger())
	svc.servicesInTx = func(repository.DBTX) repository.ClientServiceRepository { return services }
	return svc, services, tx
}

func TestClientService_CreateValidation(t *testing.T) {
	svc, _, _ := newTestClientService()
	ctx := context.Background()

	tests := []struct {
		name    string
		in      ClientInput
		wantErr bool
	}{
		{"корректный клиент", ClientInput{Name: " Acme ", WebsiteURL: "https://acme.test", Email: "info@acme.test"}, false},
		{"пустое название", ClientInput{Name: "  "}, true},
		{"сайт без схемы", ClientInput{Name: "Acme", WebsiteURL: "acme.test"}, true},
		{"некорректный email", ClientInput{Name: "Acme", Email: "not-an-email"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := svc.Create(ctx, tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Errorf("Create() ошибка = %v, хотели ErrValidation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Create() ошибка: %v", err)
			}
			if c.Name != "Acme" || !c.IsActive || c.ID == "" {
				t.Errorf("клиент = %+v", c)
			}
		})
	}
}

func TestClientService_CreateEmptyIntegrationIDs(t *testing.T) {
	svc, _, _ := newTestClientService()
	c, err := svc.Create(context.Background(), ClientInput{
		Name:              "Acme",
		BillingCustomerID: strPtr("  "),
		AnalyticsSiteID:   strPtr(" site-1 "),
	})
	if err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}
	if c.BillingCustomerID != nil {
		t.Errorf("BillingCustomerID = %q, хотели nil", *c.BillingCustomerID)
	}
	if c.AnalyticsSiteID == nil || *c.AnalyticsSiteID != "site-1" {
		t.Errorf("AnalyticsSiteID = %v, хотели site-1", c.AnalyticsSiteID)
	}
}

func TestClientService_SetHiddenFeatures(t *testing.T) {
	svc, _, _ := newTestClientService(&model.Client{ID: "c1", Name: "Acme", IsActive: true})
	ctx := context.Background()

	got, err := svc.SetHiddenFeatures(ctx, "c1", []string{"uptime", "billing", "uptime"})
	if err != nil {
		t.Fatalf("SetHiddenFeatures() ошибка: %v", err)
	}
	if !slices.Equal(got, []string{"billing", "uptime"}) {
		t.Errorf("hidden = %v, хотели [billing uptime]", got)
	}

	if _, err := svc.SetHiddenFeatures(ctx, "c1", []string{"payroll"}); !errors.Is(err, ErrValidation) {
		t.Errorf("неизвестный ключ: ошибка = %v, хотели ErrValidation", err)
	}
	if _, err := svc.SetHiddenFeatures(ctx, "missing", nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("нет клиента: ошибка = %v, хотели ErrNotFound", err)
	}
}

func TestClientService_SetServicesInTransaction(t *testing.T) {
	svc, services, tx := newTestClientService(&model.Client{ID: "c1", Name: "Acme", IsActive: true})
	ctx := context.Background()

	list, err := svc.SetServices(ctx, "c1", []string{"hosting", " seo ", "hosting"})
	if err != nil {
		t.Fatalf("SetServices() ошибка: %v", err)
	}
	if tx.calls != 1 {
		t.Errorf("транзакций = %d, хотели 1", tx.calls)
	}
	if !slices.Equal(services.services["c1"], []string{"hosting", "seo"}) {
		t.Errorf("услуги = %v", services.services["c1"])
	}
	if len(list) != 2 {
		t.Errorf("вернулось услуг = %d, хотели 2", len(list))
	}
}

func TestClientService_SetServicesErrors(t *testing.T) {
	svc, services, tx := newTestClientService(&model.Client{ID: "c1", Name: "Acme"})
	ctx := context.Background()

	if _, err := svc.SetServices(ctx, "c1", []string{"seo", ""}); !errors.Is(err, ErrValidation) {
		t.Errorf("пустой тип: ошибка = %v, хотели ErrValidation", err)
	}
	if _, err := svc.SetServices(ctx, "missing", []string{"seo"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("нет клиента: ошибка = %v, хотели ErrNotFound", err)
	}
	if tx.calls != 0 {
		t.Errorf("транзакций = %d, хотели 0", tx.calls)
	}

	services.services["c1"] = []string{"hosting"}
	tx.err = errors.New("tx begin failed")
	if _, err := svc.SetServices(ctx, "c1", []string{"seo"}); err == nil {
		t.Error("ожидалась ошибка транзакции")
	}
	if !slices.Equal(services.services["c1"], []string{"hosting"}) {
		t.Errorf("услуги изменились при ошибке транзакции: %v", services.services["c1"])
	}
}

func TestClientService_RecordSiteCheck(t *testing.T) {
	svc, _, _ := newTestClientService()
	ctx := context.Background()

	bad := 120
	if err := svc.RecordSiteCheck(ctx, &model.SiteCheck{ClientID: "c1", CheckType: model.SiteCheckPageSpeed, Score: &bad}); !errors.Is(err, ErrValidation) {
		t.Errorf("оценка 120: ошибка = %v, хотели ErrValidation", err)
	}
	if err := svc.RecordSiteCheck(ctx, &model.SiteCheck{ClientID: "c1", CheckType: "dns"}); !errors.Is(err, ErrValidation) {
		t.Errorf("тип dns: ошибка = %v, хотели ErrValidation", err)
	}

	sc := &model.SiteCheck{ClientID: "c1", CheckType: model.SiteCheckSSL, Status: "ok"}
	if err := svc.RecordSiteCheck(ctx, sc); err != nil {
		t.Fatalf("RecordSiteCheck() ошибка: %v", err)
	}
	if sc.ID == "" {
		t.Error("ID проверки не назначен")
	}
}
