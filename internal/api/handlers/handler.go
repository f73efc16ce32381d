// handler.go — основной обработчик API портала.
// Объединяет все доменные обработчики и делегирует запросы в сервисный слой.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	apierrors "github.com/bigkaa/clientportal/internal/api/errors"
	"github.com/bigkaa/clientportal/internal/auth"
	"github.com/bigkaa/clientportal/internal/clientctx"
	"github.com/bigkaa/clientportal/internal/domain/formlogic"
	"github.com/bigkaa/clientportal/internal/identity"
	"github.com/bigkaa/clientportal/internal/scope"
	"github.com/bigkaa/clientportal/internal/service"
)

// maxBodyBytes — ограничение размера JSON-тела запроса (1 МБ).
const maxBodyBytes = 1 << 20

// OIDCProvider — OIDC-вход через Keycloak. Реализуется auth.OIDCClient.
type OIDCProvider interface {
	AuthorizeURL(redirectURI, state, codeChallenge string) string
	ExchangeCode(ctx context.Context, code, redirectURI, codeVerifier string) (*auth.TokenResponse, error)
	LogoutURL(idTokenHint, postLogoutRedirectURI string) string
}

// Services — сервисный слой, используемый обработчиками.
type Services struct {
	Clients  *service.ClientService
	Contacts *service.ContactService
	Users    *service.UserService
	Forms    *service.FormService
	Portal   *service.PortalService
	KB       *service.KnowledgeBaseService
	Settings *service.SettingsService
}

// APIHandler — основной обработчик API портала.
type APIHandler struct {
	health    *HealthHandler
	svc       Services
	overlay   *identity.Overlay
	sessions  *auth.SessionManager
	oidc      OIDCProvider
	publicURL string
	logger    *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
// oidc может быть nil: вход через браузер тогда недоступен (только Bearer).
func NewAPIHandler(
	health *HealthHandler,
	svc Services,
	overlay *identity.Overlay,
	sessions *auth.SessionManager,
	oidc OIDCProvider,
	publicURL string,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:    health,
		svc:       svc,
		overlay:   overlay,
		sessions:  sessions,
		oidc:      oidc,
		publicURL: publicURL,
		logger:    logger.With(slog.String("component", "api_handler")),
	}
}

// HealthLive — liveness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики (делегируется в HealthHandler).
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Идентичность и контекст запроса ---

// realIdentity возвращает реальную идентичность или пишет ошибку.
// Маршрут уже защищён RequireStaff/RequireAdmin, поэтому nil здесь — 401.
func (h *APIHandler) realIdentity(w http.ResponseWriter, r *http.Request) (*identity.Identity, bool) {
	sc := scope.FromContext(r.Context())
	if sc == nil {
		apierrors.Unauthorized(w, "Требуется аутентификация")
		return nil, false
	}
	real, err := sc.Real(r.Context())
	if err != nil {
		h.writeServiceError(w, err, "определение идентичности")
		return nil, false
	}
	if real == nil {
		apierrors.Unauthorized(w, "Требуется аутентификация")
		return nil, false
	}
	return real, true
}

// effective возвращает эффективную идентичность или пишет ошибку.
func (h *APIHandler) effective(w http.ResponseWriter, r *http.Request) (*identity.Effective, bool) {
	sc := scope.FromContext(r.Context())
	if sc == nil {
		apierrors.Unauthorized(w, "Требуется аутентификация")
		return nil, false
	}
	eff, err := sc.Effective(r.Context())
	if err != nil {
		h.writeServiceError(w, err, "определение идентичности")
		return nil, false
	}
	if eff == nil {
		apierrors.Unauthorized(w, "Требуется аутентификация")
		return nil, false
	}
	return eff, true
}

// clientContext возвращает контекст клиента; nil без ошибки — нет доступа.
func (h *APIHandler) clientContext(w http.ResponseWriter, r *http.Request) (*clientctx.ClientContext, bool) {
	sc := scope.FromContext(r.Context())
	if sc == nil {
		apierrors.Unauthorized(w, "Требуется аутентификация")
		return nil, false
	}
	cc, err := sc.ClientContext(r.Context())
	if err != nil {
		h.writeServiceError(w, err, "определение клиента")
		return nil, false
	}
	return cc, true
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// decodeJSON читает JSON-тело запроса. При ошибке пишет 400 и возвращает false.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("Некорректное тело запроса: %v", err))
		return false
	}
	return true
}

// idParam извлекает UUID из параметра маршрута. Некорректный UUID — 400.
func idParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("Некорректный идентификатор %s: %q", name, raw))
		return "", false
	}
	return id.String(), true
}

// pagination читает limit и offset из query. Некорректные значения игнорируются.
func pagination(r *http.Request) (int, int) {
	var limit, offset *int
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil {
		limit = &v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil {
		offset = &v
	}
	return paginationDefaults(limit, offset)
}

// paginationDefaults нормализует параметры пагинации.
// Возвращает корректные limit и offset.
func paginationDefaults(limit *int, offset *int) (int, int) {
	l := 50
	o := 0

	if limit != nil {
		l = *limit
		if l < 1 {
			l = 1
		}
		if l > 200 {
			l = 200
		}
	}

	if offset != nil {
		o = *offset
		if o < 0 {
			o = 0
		}
	}

	return l, o
}

// writeServiceError переводит ошибку сервисного слоя в HTTP-ответ.
// op — описание операции для лога внутренних ошибок.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, err error, op string) {
	var fieldErrs formlogic.ValidationErrors
	switch {
	case errors.As(err, &fieldErrs):
		apierrors.FieldErrors(w, "Проверьте заполнение формы", fieldErrs)
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, err.Error())
	case errors.Is(err, service.ErrNotFound), errors.Is(err, identity.ErrNotFound):
		apierrors.NotFound(w, err.Error())
	case errors.Is(err, service.ErrConflict), errors.Is(err, service.ErrInvalidTransition):
		apierrors.Conflict(w, err.Error())
	case errors.Is(err, service.ErrNoClientAccess):
		apierrors.NoClientAccess(w, "Нет доступа ни к одному клиенту")
	case errors.Is(err, service.ErrForbidden),
		errors.Is(err, identity.ErrNotAdmin),
		errors.Is(err, identity.ErrSelfImpersonation):
		apierrors.Forbidden(w, err.Error())
	case errors.Is(err, service.ErrNotConfigured), errors.Is(err, service.ErrUpstreamUnavailable):
		apierrors.UpstreamUnavailable(w, err.Error())
	case errors.Is(err, service.ErrIDPUnavailable):
		apierrors.IDPUnavailable(w, "Identity Provider недоступен")
	default:
		h.logger.Error("Внутренняя ошибка",
			slog.String("operation", op),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка сервера")
	}
}
