// portal.go — виджеты дашборда клиента.
// Недоступная или не настроенная интеграция не ломает страницу: ответ 200
// с available=false. Нет клиента — 403 NO_CLIENT_ACCESS, нет возможности — 403.
package handlers

import (
	"net/http"
	"strconv"
	"strings"

	apierrors "github.com/bigkaa/clientportal/internal/api/errors"
	"github.com/bigkaa/clientportal/internal/service"
)

// GetBilling — GET /api/v1/portal/billing
func (h *APIHandler) GetBilling(w http.ResponseWriter, r *http.Request) {
	cc, ok := h.clientContext(w, r)
	if !ok {
		return
	}
	view, err := h.svc.Portal.Billing(r.Context(), cc)
	if err != nil {
		h.writeServiceError(w, err, "виджет биллинга")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// GetTickets — GET /api/v1/portal/tickets
func (h *APIHandler) GetTickets(w http.ResponseWriter, r *http.Request) {
	cc, ok := h.clientContext(w, r)
	if !ok {
		return
	}
	view, err := h.svc.Portal.Tickets(r.Context(), cc)
	if err != nil {
		h.writeServiceError(w, err, "виджет обращений")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// CreateTicket — POST /api/v1/portal/tickets
func (h *APIHandler) CreateTicket(w http.ResponseWriter, r *http.Request) {
	eff, ok := h.effective(w, r)
	if !ok {
		return
	}
	cc, ok := h.clientContext(w, r)
	if !ok {
		return
	}
	if !h.svc.Settings.IsSupportEnabled(r.Context()) {
		apierrors.Forbidden(w, "Обращения в поддержку отключены")
		return
	}

	var req ticketRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Subject = strings.TrimSpace(req.Subject)
	req.Message = strings.TrimSpace(req.Message)
	if req.Subject == "" || req.Message == "" {
		apierrors.ValidationError(w, "Тема и текст обращения обязательны")
		return
	}

	id, err := h.svc.Portal.CreateTicket(r.Context(), cc, eff.Identity().Name, service.NewTicket{
		Subject: req.Subject,
		Message: req.Message,
	})
	if err != nil {
		h.writeServiceError(w, err, "создание обращения")
		return
	}
	writeJSON(w, http.StatusCreated, ticketCreatedResponse{ConversationID: id})
}

// GetAnalytics — GET /api/v1/portal/analytics?days=N
// Без days период берётся из настройки portal.analytics_days.
func (h *APIHandler) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	cc, ok := h.clientContext(w, r)
	if !ok {
		return
	}

	days := h.svc.Settings.AnalyticsDays(r.Context())
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			apierrors.ValidationError(w, "Параметр days должен быть числом")
			return
		}
		days = n
	}

	view, err := h.svc.Portal.Analytics(r.Context(), cc, days)
	if err != nil {
		h.writeServiceError(w, err, "виджет аналитики")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// GetUptime — GET /api/v1/portal/uptime
func (h *APIHandler) GetUptime(w http.ResponseWriter, r *http.Request) {
	cc, ok := h.clientContext(w, r)
	if !ok {
		return
	}
	view, err := h.svc.Portal.Uptime(r.Context(), cc)
	if err != nil {
		h.writeServiceError(w, err, "виджет аптайма")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// GetSiteHealth — GET /api/v1/portal/site-health
func (h *APIHandler) GetSiteHealth(w http.ResponseWriter, r *http.Request) {
	cc, ok := h.clientContext(w, r)
	if !ok {
		return
	}
	view, err := h.svc.Portal.SiteHealth(r.Context(), cc)
	if err != nil {
		h.writeServiceError(w, err, "виджет состояния сайта")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// GetRecommended — GET /api/v1/portal/recommended
// Каталог рекомендуемых услуг без уже подключённых у клиента.
func (h *APIHandler) GetRecommended(w http.ResponseWriter, r *http.Request) {
	cc, ok := h.clientContext(w, r)
	if !ok {
		return
	}
	if cc == nil {
		apierrors.NoClientAccess(w, "Нет доступа ни к одному клиенту")
		return
	}

	catalog, err := h.svc.Clients.Recommended(r.Context())
	if err != nil {
		h.writeServiceError(w, err, "каталог услуг")
		return
	}
	active, err := h.svc.Clients.Services(r.Context(), cc.Client.ID)
	if err != nil {
		h.writeServiceError(w, err, "услуги клиента")
		return
	}
	has := make(map[string]bool, len(active))
	for _, s := range active {
		has[s.ServiceType] = true
	}

	items := make([]recommendedDTO, 0, len(catalog))
	for _, rs := range catalog {
		if has[rs.ServiceType] {
			continue
		}
		items = append(items, recommendedDTO{
			ServiceType: rs.ServiceType,
			Title:       rs.Title,
			Description: rs.Description,
			URL:         rs.URL,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}
