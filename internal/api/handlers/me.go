// me.go — текущий пользователь портала и выбор клиента.
package handlers

import (
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/clientportal/internal/api/errors"
	"github.com/bigkaa/clientportal/internal/auth"
	"github.com/bigkaa/clientportal/internal/clientctx"
	"github.com/bigkaa/clientportal/internal/domain/permission"
	"github.com/bigkaa/clientportal/internal/identity"
	"github.com/bigkaa/clientportal/internal/service"
)

// meResponse — ответ GET /api/v1/me.
type meResponse struct {
	// Identity — эффективная идентичность (с учётом имперсонации)
	Identity identity.Identity `json:"identity"`
	// Impersonating — администратор просматривает портал от имени Identity
	Impersonating bool `json:"impersonating"`
	// RealIdentity — администратор, заполняется только при имперсонации
	RealIdentity *identity.Identity `json:"realIdentity,omitempty"`
	// Client — текущий клиент; null означает отсутствие доступа к клиентам
	Client         *clientContextDTO `json:"client"`
	Branding       service.Branding  `json:"branding"`
	WelcomeMessage string            `json:"welcomeMessage,omitempty"`
	SupportEnabled bool              `json:"supportEnabled"`
}

// GetMe — GET /api/v1/me
func (h *APIHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	eff, ok := h.effective(w, r)
	if !ok {
		return
	}
	cc, ok := h.clientContext(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	resp := meResponse{
		Identity:       eff.Identity(),
		Impersonating:  eff.IsImpersonating(),
		Client:         clientContextToDTO(cc),
		Branding:       h.svc.Settings.Branding(ctx),
		WelcomeMessage: h.svc.Settings.WelcomeMessage(ctx),
		SupportEnabled: h.svc.Settings.IsSupportEnabled(ctx),
	}
	if eff.IsImpersonating() {
		real := eff.Real
		resp.RealIdentity = &real
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListMyClients — GET /api/v1/me/clients
// Клиенты, доступные эффективной идентичности, с отметкой текущего.
func (h *APIHandler) ListMyClients(w http.ResponseWriter, r *http.Request) {
	eff, ok := h.effective(w, r)
	if !ok {
		return
	}
	cc, ok := h.clientContext(w, r)
	if !ok {
		return
	}

	list, err := h.svc.Contacts.AvailableClients(r.Context(), eff.Identity().ID)
	if err != nil {
		h.writeServiceError(w, err, "список клиентов пользователя")
		return
	}

	items := make([]availableClientDTO, 0, len(list))
	for _, cw := range list {
		items = append(items, availableClientDTO{
			clientSummaryDTO: clientSummaryDTO{
				ID:         toUUID(cw.Client.ID),
				Name:       cw.Client.Name,
				WebsiteURL: cw.Client.WebsiteURL,
			},
			RoleLabel: cw.Contact.RoleLabel,
			Current:   cc != nil && cc.Client.ID == cw.Client.ID,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// SetActiveClient — PUT /api/v1/me/active-client
// Выбор запоминается в cookie и привязан к эффективной идентичности.
func (h *APIHandler) SetActiveClient(w http.ResponseWriter, r *http.Request) {
	eff, ok := h.effective(w, r)
	if !ok {
		return
	}
	var req activeClientRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	id := eff.Identity()
	clientID := req.ClientID.String()

	list, err := h.svc.Contacts.AvailableClients(r.Context(), id.ID)
	if err != nil {
		h.writeServiceError(w, err, "список клиентов пользователя")
		return
	}
	for _, cw := range list {
		if cw.Client.ID != clientID {
			continue
		}
		if err := h.sessions.SetActiveClient(w, auth.ActiveClient{ClientID: clientID, UserID: id.ID}); err != nil {
			h.logger.Error("Ошибка установки cookie клиента", slog.String("error", err.Error()))
			apierrors.InternalError(w, "Внутренняя ошибка сервера")
			return
		}
		h.logger.Info("Выбран клиент",
			slog.String("user_id", id.ID),
			slog.String("client_id", clientID),
		)
		writeJSON(w, http.StatusOK, clientContextToDTO(&clientctx.ClientContext{
			Client:      cw.Client,
			Contact:     cw.Contact,
			Permissions: permission.Compute(cw.Contact, cw.Client.HiddenFeatures),
			UserEmail:   id.Email,
		}))
		return
	}

	apierrors.NoClientAccess(w, "Клиент недоступен")
}

// ClearActiveClient — DELETE /api/v1/me/active-client
// Возврат к клиенту по умолчанию (самый ранний активный контакт).
func (h *APIHandler) ClearActiveClient(w http.ResponseWriter, _ *http.Request) {
	h.sessions.ClearActiveClient(w)
	w.WriteHeader(http.StatusNoContent)
}
