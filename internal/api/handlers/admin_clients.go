// admin_clients.go — управление клиентами и контактами (сотрудники).
package handlers

import (
	"net/http"
	"strconv"
	"time"

	apierrors "github.com/bigkaa/clientportal/internal/api/errors"
	"github.com/bigkaa/clientportal/internal/domain/model"
	"github.com/bigkaa/clientportal/internal/repository"
)

// ListClients — GET /api/v1/admin/clients?active=&search=&limit=&offset=
func (h *APIHandler) ListClients(w http.ResponseWriter, r *http.Request) {
	filter := repository.ClientFilter{Search: r.URL.Query().Get("search")}
	if v := r.URL.Query().Get("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			apierrors.ValidationError(w, "Параметр active должен быть true или false")
			return
		}
		filter.Active = &active
	}
	limit, offset := pagination(r)

	list, total, err := h.svc.Clients.List(r.Context(), filter, limit, offset)
	if err != nil {
		h.writeServiceError(w, err, "список клиентов")
		return
	}

	items := make([]clientDTO, 0, len(list))
	for _, c := range list {
		items = append(items, clientToDTO(c))
	}
	writeJSON(w, http.StatusOK, listResponse[clientDTO]{Items: items, Total: total, Limit: limit, Offset: offset})
}

// CreateClient — POST /api/v1/admin/clients
func (h *APIHandler) CreateClient(w http.ResponseWriter, r *http.Request) {
	var req clientRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := h.svc.Clients.Create(r.Context(), req.toInput())
	if err != nil {
		h.writeServiceError(w, err, "создание клиента")
		return
	}
	writeJSON(w, http.StatusCreated, clientToDTO(c))
}

// GetClient — GET /api/v1/admin/clients/{id}
func (h *APIHandler) GetClient(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	c, err := h.svc.Clients.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "получение клиента")
		return
	}
	writeJSON(w, http.StatusOK, clientToDTO(c))
}

// UpdateClient — PUT /api/v1/admin/clients/{id}
func (h *APIHandler) UpdateClient(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var req clientRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := h.svc.Clients.Update(r.Context(), id, req.toInput())
	if err != nil {
		h.writeServiceError(w, err, "обновление клиента")
		return
	}
	writeJSON(w, http.StatusOK, clientToDTO(c))
}

// SetClientActive — PUT /api/v1/admin/clients/{id}/active
func (h *APIHandler) SetClientActive(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var req activeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.svc.Clients.SetActive(r.Context(), id, req.IsActive); err != nil {
		h.writeServiceError(w, err, "активность клиента")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetClientHiddenFeatures — PUT /api/v1/admin/clients/{id}/hidden-features
func (h *APIHandler) SetClientHiddenFeatures(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var req hiddenFeaturesRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	hidden, err := h.svc.Clients.SetHiddenFeatures(r.Context(), id, req.HiddenFeatures)
	if err != nil {
		h.writeServiceError(w, err, "скрытые возможности клиента")
		return
	}
	writeJSON(w, http.StatusOK, hiddenFeaturesRequest{HiddenFeatures: hidden})
}

// GetClientServices — GET /api/v1/admin/clients/{id}/services
func (h *APIHandler) GetClientServices(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	list, err := h.svc.Clients.Services(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "услуги клиента")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": servicesToDTO(list)})
}

// SetClientServices — PUT /api/v1/admin/clients/{id}/services
// Полная замена набора услуг.
func (h *APIHandler) SetClientServices(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var req servicesRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	list, err := h.svc.Clients.SetServices(r.Context(), id, req.Services)
	if err != nil {
		h.writeServiceError(w, err, "замена услуг клиента")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": servicesToDTO(list)})
}

// GetClientSiteChecks — GET /api/v1/admin/clients/{id}/site-checks
func (h *APIHandler) GetClientSiteChecks(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	checks, err := h.svc.Clients.SiteChecks(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "проверки сайта")
		return
	}
	if checks == nil {
		checks = []model.SiteCheck{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": checks})
}

// RecordClientSiteCheck — POST /api/v1/admin/clients/{id}/site-checks
// Сохраняет снимок внешней проверки (PageSpeed, SSL).
func (h *APIHandler) RecordClientSiteCheck(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var req siteCheckRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if _, err := h.svc.Clients.Get(r.Context(), id); err != nil {
		h.writeServiceError(w, err, "получение клиента")
		return
	}

	sc := &model.SiteCheck{
		ClientID:  id,
		CheckType: req.CheckType,
		Score:     req.Score,
		Status:    req.Status,
		Details:   req.Details,
		CheckedAt: time.Now().UTC(),
	}
	if err := h.svc.Clients.RecordSiteCheck(r.Context(), sc); err != nil {
		h.writeServiceError(w, err, "сохранение проверки сайта")
		return
	}
	writeJSON(w, http.StatusCreated, sc)
}

// --- Контакты ---

// ListClientContacts — GET /api/v1/admin/clients/{id}/contacts
func (h *APIHandler) ListClientContacts(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	list, err := h.svc.Contacts.ListByClient(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "контакты клиента")
		return
	}
	items := make([]contactDTO, 0, len(list))
	for _, c := range list {
		items = append(items, contactToDTO(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// LinkContact — POST /api/v1/admin/clients/{id}/contacts
// Повторная привязка того же пользователя — 409.
func (h *APIHandler) LinkContact(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var req contactRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := h.svc.Contacts.Link(r.Context(), id, req.toInput())
	if err != nil {
		h.writeServiceError(w, err, "привязка контакта")
		return
	}
	writeJSON(w, http.StatusCreated, contactToDTO(c))
}

// UpdateContact — PUT /api/v1/admin/contacts/{contactId}
func (h *APIHandler) UpdateContact(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "contactId")
	if !ok {
		return
	}
	var req contactRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := h.svc.Contacts.Update(r.Context(), id, req.toInput())
	if err != nil {
		h.writeServiceError(w, err, "обновление контакта")
		return
	}
	writeJSON(w, http.StatusOK, contactToDTO(c))
}

// SetContactActive — PUT /api/v1/admin/contacts/{contactId}/active
func (h *APIHandler) SetContactActive(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "contactId")
	if !ok {
		return
	}
	var req activeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.svc.Contacts.SetActive(r.Context(), id, req.IsActive); err != nil {
		h.writeServiceError(w, err, "активность контакта")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteContact — DELETE /api/v1/admin/contacts/{contactId}
func (h *APIHandler) DeleteContact(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "contactId")
	if !ok {
		return
	}
	if err := h.svc.Contacts.Delete(r.Context(), id); err != nil {
		h.writeServiceError(w, err, "удаление контакта")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
