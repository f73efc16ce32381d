// forms.go — заполнение и отправка форм: из портала и публично без входа.
package handlers

import (
	"net/http"

	"github.com/bigkaa/clientportal/internal/domain/formlogic"
	"github.com/bigkaa/clientportal/internal/scope"
	"github.com/bigkaa/clientportal/internal/service"
)

// GetForm — GET /api/v1/forms/{id}
func (h *APIHandler) GetForm(w http.ResponseWriter, r *http.Request) {
	h.renderForm(w, r, false)
}

// GetPublicForm — GET /public/forms/{id}
func (h *APIHandler) GetPublicForm(w http.ResponseWriter, r *http.Request) {
	h.renderForm(w, r, true)
}

func (h *APIHandler) renderForm(w http.ResponseWriter, r *http.Request, public bool) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	form, err := h.svc.Forms.GetActive(r.Context(), id, public)
	if err != nil {
		h.writeServiceError(w, err, "получение формы")
		return
	}
	writeJSON(w, http.StatusOK, formToRenderDTO(form))
}

// SubmitForm — POST /api/v1/forms/{id}/submissions
// Отправка связывается с эффективной идентичностью и её текущим клиентом.
func (h *APIHandler) SubmitForm(w http.ResponseWriter, r *http.Request) {
	eff, ok := h.effective(w, r)
	if !ok {
		return
	}
	cc, ok := h.clientContext(w, r)
	if !ok {
		return
	}

	id := eff.Identity()
	who := service.Submitter{UserID: &id.ID, Email: id.Email}
	if cc != nil {
		clientID := cc.Client.ID
		who.ClientID = &clientID
	}
	h.submit(w, r, false, who)
}

// SubmitPublicForm — POST /public/forms/{id}/submissions
// Анонимная отправка; если запрос всё же аутентифицирован, отправитель
// и клиент определяются так же, как в портале.
func (h *APIHandler) SubmitPublicForm(w http.ResponseWriter, r *http.Request) {
	var who service.Submitter
	if sc := scope.FromContext(r.Context()); sc != nil {
		if eff, err := sc.Effective(r.Context()); err == nil && eff != nil {
			id := eff.Identity()
			who.UserID = &id.ID
			who.Email = id.Email
			if cc, err := sc.ClientContext(r.Context()); err == nil && cc != nil {
				clientID := cc.Client.ID
				who.ClientID = &clientID
			}
		}
	}
	h.submit(w, r, true, who)
}

func (h *APIHandler) submit(w http.ResponseWriter, r *http.Request, public bool, who service.Submitter) {
	formID, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var req submitRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	form, err := h.svc.Forms.GetActive(r.Context(), formID, public)
	if err != nil {
		h.writeServiceError(w, err, "получение формы")
		return
	}
	if who.Email == "" {
		who.Email = emailValue(req.Email)
	}

	res, err := h.svc.Forms.Submit(r.Context(), form, formlogic.Values(req.Values), who)
	if err != nil {
		h.writeServiceError(w, err, "отправка формы")
		return
	}
	writeJSON(w, http.StatusCreated, submitResponse{
		SubmissionID:   toUUID(res.Submission.ID),
		SuccessMessage: res.SuccessMessage,
		RedirectURL:    res.RedirectURL,
	})
}
