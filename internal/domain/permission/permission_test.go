package permission

import (
	"slices"
	"testing"

	"github.com/bigkaa/clientportal/internal/domain/model"
)

func allFlags() model.ClientContact {
	return model.ClientContact{
		CanDashboard:  true,
		CanBilling:    true,
		CanAnalytics:  true,
		CanUptime:     true,
		CanSupport:    true,
		CanSiteHealth: true,
	}
}

func TestCompute(t *testing.T) {
	tests := []struct {
		name    string
		contact model.ClientContact
		hidden  []string
		want    Set
	}{
		{
			name:    "без скрытых возможностей флаги проходят как есть",
			contact: model.ClientContact{CanDashboard: true, CanSupport: true},
			want:    Set{Dashboard: true, Support: true},
		},
		{
			name:    "скрытая возможность выключает флаг",
			contact: allFlags(),
			hidden:  []string{"billing", "uptime"},
			want:    Set{Dashboard: true, Analytics: true, Support: true, SiteHealth: true},
		},
		{
			name:    "скрытие не включает выключенный флаг",
			contact: model.ClientContact{CanAnalytics: false},
			hidden:  []string{"analytics"},
			want:    Set{},
		},
		{
			name:    "неизвестные ключи игнорируются",
			contact: model.ClientContact{CanBilling: true},
			hidden:  []string{"reports", "Billing"},
			want:    Set{Billing: true},
		},
		{
			name:    "основной контакт не получает возможности автоматически",
			contact: model.ClientContact{IsPrimary: true, CanDashboard: true},
			want:    Set{Dashboard: true},
		},
		{
			name:    "siteHealth в camelCase",
			contact: allFlags(),
			hidden:  []string{"siteHealth"},
			want:    Set{Dashboard: true, Billing: true, Analytics: true, Uptime: true, Support: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Compute(tt.contact, tt.hidden); got != tt.want {
				t.Errorf("Compute() = %+v, хотели %+v", got, tt.want)
			}
		})
	}
}

func TestSetHas(t *testing.T) {
	s := Set{Billing: true, SiteHealth: true}
	for _, k := range AllKeys() {
		want := k == Billing || k == SiteHealth
		if got := s.Has(k); got != want {
			t.Errorf("Has(%q) = %v, хотели %v", k, got, want)
		}
	}
	if s.Has("unknown") {
		t.Error("Has(unknown) = true, хотели false")
	}
}

func TestIsValidKey(t *testing.T) {
	if !IsValidKey("support") {
		t.Error("support должен быть допустимым ключом")
	}
	if IsValidKey("Support") || IsValidKey("") {
		t.Error("Support и пустая строка недопустимы")
	}
}

func TestNormalizeHidden(t *testing.T) {
	got := NormalizeHidden([]string{"uptime", "x", "billing", "uptime"})
	want := []string{"billing", "uptime"}
	if !slices.Equal(got, want) {
		t.Errorf("NormalizeHidden() = %v, хотели %v", got, want)
	}
}

func TestEffective(t *testing.T) {
	all := Compute(allFlags(), nil)
	tests := []struct {
		name      string
		computed  Set
		isPrimary bool
		hidden    []string
		want      Set
	}{
		{"обычный контакт без изменений", Set{Dashboard: true}, false, nil, Set{Dashboard: true}},
		{"основной контакт без флагов получает всё", Set{}, true, nil, all},
		{"скрытые возможности выключены и для основного", Set{}, true, []string{"billing", "uptime"},
			Set{Dashboard: true, Analytics: true, Support: true, SiteHealth: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Effective(tt.computed, tt.isPrimary, tt.hidden); got != tt.want {
				t.Errorf("Effective() = %+v, хотели %+v", got, tt.want)
			}
		})
	}
}
