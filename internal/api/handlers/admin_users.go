// admin_users.go — обработчики администратора: пользователи и роли,
// имперсонация, системные настройки.
// Все проверки прав выполняются по реальной идентичности (RequireAdmin).
package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	apierrors "github.com/bigkaa/clientportal/internal/api/errors"
	"github.com/bigkaa/clientportal/internal/domain/rbac"
	"github.com/bigkaa/clientportal/internal/identity"
	"github.com/bigkaa/clientportal/internal/service"
)

// impersonationTotal — число начатых и завершённых имперсонаций.
var impersonationTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "cp_impersonation_total",
		Help: "Количество операций имперсонации",
	},
	[]string{"action"},
)

// userListResponse — страница пользователей IdP.
type userListResponse struct {
	Items   []identity.Identity `json:"items"`
	Total   int                 `json:"total"`
	Limit   int                 `json:"limit"`
	Offset  int                 `json:"offset"`
	HasMore bool                `json:"hasMore"`
}

// impersonationResponse — состояние после начала имперсонации.
type impersonationResponse struct {
	Target    identity.Identity `json:"target"`
	ExpiresAt string            `json:"expiresAt"`
}

// ListUsers — GET /api/v1/admin/users?search=&limit=&offset=
func (h *APIHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	users, total, err := h.svc.Users.List(r.Context(), r.URL.Query().Get("search"), limit, offset)
	if err != nil {
		h.writeServiceError(w, err, "список пользователей")
		return
	}
	if users == nil {
		users = []identity.Identity{}
	}
	writeJSON(w, http.StatusOK, userListResponse{
		Items:   users,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+limit < total,
	})
}

// GetUser — GET /api/v1/admin/users/{userId}
func (h *APIHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.svc.Users.Get(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		h.writeServiceError(w, err, "получение пользователя")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// SetUserRole — PUT /api/v1/admin/users/{userId}/role
// Роль записывается в метаданные IdP; устаревшее "employee" не принимается.
func (h *APIHandler) SetUserRole(w http.ResponseWriter, r *http.Request) {
	real, ok := h.realIdentity(w, r)
	if !ok {
		return
	}
	var req roleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	role, ok := rbac.ParseRole(req.Role)
	if !ok {
		apierrors.ValidationError(w, "Недопустимая роль: ожидается admin, team_member или client")
		return
	}

	u, err := h.svc.Users.SetRole(r.Context(), *real, chi.URLParam(r, "userId"), role)
	if err != nil {
		h.writeServiceError(w, err, "изменение роли")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// --- Имперсонация ---

// StartImpersonation — POST /api/v1/admin/impersonation
// Выдаёт cookie имперсонации и сбрасывает выбор клиента:
// активный клиент администратора не относится к цели.
func (h *APIHandler) StartImpersonation(w http.ResponseWriter, r *http.Request) {
	real, ok := h.realIdentity(w, r)
	if !ok {
		return
	}
	var req impersonateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.UserID == "" {
		apierrors.ValidationError(w, "Поле userId обязательно")
		return
	}

	token, target, err := h.overlay.Start(r.Context(), *real, req.UserID)
	if err != nil {
		h.writeImpersonationError(w, err)
		return
	}
	if err := h.sessions.SetImpersonation(w, token); err != nil {
		h.writeServiceError(w, err, "cookie имперсонации")
		return
	}
	h.sessions.ClearActiveClient(w)
	impersonationTotal.WithLabelValues("start").Inc()

	writeJSON(w, http.StatusOK, impersonationResponse{
		Target:    target,
		ExpiresAt: token.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// StopImpersonation — DELETE /api/v1/admin/impersonation
// Идемпотентна: без активной имперсонации просто очищает cookie.
func (h *APIHandler) StopImpersonation(w http.ResponseWriter, r *http.Request) {
	real, ok := h.realIdentity(w, r)
	if !ok {
		return
	}
	if err := h.overlay.Stop(*real); err != nil {
		h.writeServiceError(w, err, "завершение имперсонации")
		return
	}
	h.sessions.ClearImpersonation(w)
	h.sessions.ClearActiveClient(w)
	impersonationTotal.WithLabelValues("stop").Inc()
	w.WriteHeader(http.StatusNoContent)
}

// writeImpersonationError — ошибки IdP при поиске цели, кроме
// отсутствующего пользователя, означают недоступность IdP.
func (h *APIHandler) writeImpersonationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, identity.ErrNotAdmin),
		errors.Is(err, identity.ErrSelfImpersonation),
		errors.Is(err, identity.ErrNotFound):
		h.writeServiceError(w, err, "начало имперсонации")
	default:
		h.logger.Warn("IdP недоступен при начале имперсонации", slog.String("error", err.Error()))
		apierrors.IDPUnavailable(w, "Identity Provider недоступен")
	}
}

// --- Настройки ---

// ListSettings — GET /api/v1/admin/settings
// Помимо сохранённых значений возвращает справочник известных ключей.
func (h *APIHandler) ListSettings(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.Settings.List(r.Context())
	if err != nil {
		h.writeServiceError(w, err, "список настроек")
		return
	}
	items := make([]settingDTO, 0, len(list))
	for _, s := range list {
		items = append(items, settingDTO{
			Key:       s.Key,
			Value:     s.Value,
			UpdatedAt: s.UpdatedAt,
			UpdatedBy: s.UpdatedBy,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"keys":  service.SettingKeys(),
	})
}

// UpdateSettings — PUT /api/v1/admin/settings
// Все значения проверяются до записи; при ошибке ничего не сохраняется.
func (h *APIHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	real, ok := h.realIdentity(w, r)
	if !ok {
		return
	}
	var req settingsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Values) == 0 {
		apierrors.ValidationError(w, "Нет значений для сохранения")
		return
	}
	if err := h.svc.Settings.SetMany(r.Context(), req.Values, real.ID); err != nil {
		h.writeServiceError(w, err, "сохранение настроек")
		return
	}
	h.ListSettings(w, r)
}

// DeleteSetting — DELETE /api/v1/admin/settings/{key}
// Удаление возвращает настройку к значению по умолчанию.
func (h *APIHandler) DeleteSetting(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Settings.Delete(r.Context(), chi.URLParam(r, "key")); err != nil {
		h.writeServiceError(w, err, "удаление настройки")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
