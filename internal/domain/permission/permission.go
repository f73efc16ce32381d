// Пакет permission — набор возможностей контакта в контексте клиента.
//
// Набор не хранится: он вычисляется при каждом разрешении контекста
// из флагов контакта и списка скрытых возможностей клиента.
package permission

import (
	"slices"

	"github.com/bigkaa/clientportal/internal/domain/model"
)

// Key — ключ возможности. Совпадает со строками в clients.hidden_features.
type Key string

// Ключи возможностей.
const (
	Dashboard  Key = "dashboard"
	Billing    Key = "billing"
	Analytics  Key = "analytics"
	Uptime     Key = "uptime"
	Support    Key = "support"
	SiteHealth Key = "siteHealth"
)

// AllKeys возвращает все ключи в фиксированном порядке.
func AllKeys() []Key {
	return []Key{Dashboard, Billing, Analytics, Uptime, Support, SiteHealth}
}

// IsValidKey проверяет, что строка — известный ключ возможности.
func IsValidKey(s string) bool {
	return slices.Contains(AllKeys(), Key(s))
}

// Set — вычисленный набор возможностей.
type Set struct {
	Dashboard  bool `json:"dashboard"`
	Billing    bool `json:"billing"`
	Analytics  bool `json:"analytics"`
	Uptime     bool `json:"uptime"`
	Support    bool `json:"support"`
	SiteHealth bool `json:"siteHealth"`
}

// Compute вычисляет набор возможностей контакта: шесть флагов контакта,
// каждый принудительно выключен, если его ключ есть в hiddenFeatures клиента.
//
// Основной контакт (IsPrimary) здесь флаги не расширяет: правило основного
// контакта применяет Effective.
func Compute(contact model.ClientContact, hiddenFeatures []string) Set {
	hidden := make(map[Key]bool, len(hiddenFeatures))
	for _, h := range hiddenFeatures {
		hidden[Key(h)] = true
	}

	return Set{
		Dashboard:  contact.CanDashboard && !hidden[Dashboard],
		Billing:    contact.CanBilling && !hidden[Billing],
		Analytics:  contact.CanAnalytics && !hidden[Analytics],
		Uptime:     contact.CanUptime && !hidden[Uptime],
		Support:    contact.CanSupport && !hidden[Support],
		SiteHealth: contact.CanSiteHealth && !hidden[SiteHealth],
	}
}

// Effective — набор, по которому API выдаёт и проверяет доступ.
// Основной контакт получает все возможности независимо от своих флагов,
// но скрытые клиентом возможности выключены и для него.
func Effective(computed Set, isPrimary bool, hiddenFeatures []string) Set {
	if !isPrimary {
		return computed
	}
	return Compute(model.ClientContact{
		CanDashboard:  true,
		CanBilling:    true,
		CanAnalytics:  true,
		CanUptime:     true,
		CanSupport:    true,
		CanSiteHealth: true,
	}, hiddenFeatures)
}

// Has проверяет возможность по ключу. Неизвестный ключ — false.
func (s Set) Has(k Key) bool {
	switch k {
	case Dashboard:
		return s.Dashboard
	case Billing:
		return s.Billing
	case Analytics:
		return s.Analytics
	case Uptime:
		return s.Uptime
	case Support:
		return s.Support
	case SiteHealth:
		return s.SiteHealth
	default:
		return false
	}
}

// NormalizeHidden убирает дубликаты и неизвестные ключи из списка
// скрытых возможностей, сохраняя порядок AllKeys.
func NormalizeHidden(hidden []string) []string {
	out := make([]string, 0, len(hidden))
	for _, k := range AllKeys() {
		if slices.Contains(hidden, string(k)) {
			out = append(out, string(k))
		}
	}
	return out
}
