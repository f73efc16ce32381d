// admin_forms.go — конструктор форм и разбор отправок (сотрудники).
package handlers

import (
	"net/http"

	"github.com/google/uuid"

	apierrors "github.com/bigkaa/clientportal/internal/api/errors"
	"github.com/bigkaa/clientportal/internal/repository"
)

// ListForms — GET /api/v1/admin/forms
func (h *APIHandler) ListForms(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	list, total, err := h.svc.Forms.List(r.Context(), limit, offset)
	if err != nil {
		h.writeServiceError(w, err, "список форм")
		return
	}
	items := make([]formDTO, 0, len(list))
	for _, f := range list {
		items = append(items, formToDTO(f))
	}
	writeJSON(w, http.StatusOK, listResponse[formDTO]{Items: items, Total: total, Limit: limit, Offset: offset})
}

// CreateForm — POST /api/v1/admin/forms
func (h *APIHandler) CreateForm(w http.ResponseWriter, r *http.Request) {
	real, ok := h.realIdentity(w, r)
	if !ok {
		return
	}
	var req formRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	f, err := h.svc.Forms.Create(r.Context(), req.toInput(), real.ID)
	if err != nil {
		h.writeServiceError(w, err, "создание формы")
		return
	}
	writeJSON(w, http.StatusCreated, formToDTO(f))
}

// GetAdminForm — GET /api/v1/admin/forms/{id}
// В отличие от GetForm, возвращает неактивные формы и настройки обработки.
func (h *APIHandler) GetAdminForm(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	f, err := h.svc.Forms.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "получение формы")
		return
	}
	writeJSON(w, http.StatusOK, formToDTO(f))
}

// UpdateForm — PUT /api/v1/admin/forms/{id}
// Форма не версионируется: изменения применяются на месте.
func (h *APIHandler) UpdateForm(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var req formRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	f, err := h.svc.Forms.Update(r.Context(), id, req.toInput())
	if err != nil {
		h.writeServiceError(w, err, "обновление формы")
		return
	}
	writeJSON(w, http.StatusOK, formToDTO(f))
}

// DeleteForm — DELETE /api/v1/admin/forms/{id}
func (h *APIHandler) DeleteForm(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.svc.Forms.Delete(r.Context(), id); err != nil {
		h.writeServiceError(w, err, "удаление формы")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Отправки ---

// ListSubmissions — GET /api/v1/admin/submissions?formId=&clientId=&status=
func (h *APIHandler) ListSubmissions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.SubmissionFilter{
		FormID:   q.Get("formId"),
		ClientID: q.Get("clientId"),
		Status:   q.Get("status"),
	}
	for name, v := range map[string]string{"formId": filter.FormID, "clientId": filter.ClientID} {
		if v == "" {
			continue
		}
		if _, err := uuid.Parse(v); err != nil {
			apierrors.ValidationError(w, "Некорректный идентификатор "+name)
			return
		}
	}
	limit, offset := pagination(r)

	list, total, err := h.svc.Forms.ListSubmissions(r.Context(), filter, limit, offset)
	if err != nil {
		h.writeServiceError(w, err, "список отправок")
		return
	}
	items := make([]submissionDTO, 0, len(list))
	for _, s := range list {
		items = append(items, submissionToDTO(s))
	}
	writeJSON(w, http.StatusOK, listResponse[submissionDTO]{Items: items, Total: total, Limit: limit, Offset: offset})
}

// GetSubmission — GET /api/v1/admin/submissions/{id}
func (h *APIHandler) GetSubmission(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	s, err := h.svc.Forms.GetSubmission(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "получение отправки")
		return
	}
	writeJSON(w, http.StatusOK, submissionToDTO(s))
}

// SetSubmissionStatus — PUT /api/v1/admin/submissions/{id}/status
// Допустимые переходы: NEW→READ, NEW→ARCHIVED, READ→ARCHIVED. Иначе — 409.
func (h *APIHandler) SetSubmissionStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var req statusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	s, err := h.svc.Forms.SetSubmissionStatus(r.Context(), id, req.Status)
	if err != nil {
		h.writeServiceError(w, err, "статус отправки")
		return
	}
	writeJSON(w, http.StatusOK, submissionToDTO(s))
}
