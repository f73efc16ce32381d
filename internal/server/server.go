// Пакет server — HTTP-сервер Client Portal с graceful shutdown.
// Без TLS — TLS termination на ingress.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/bigkaa/clientportal/internal/api/handlers"
	"github.com/bigkaa/clientportal/internal/api/middleware"
	"github.com/bigkaa/clientportal/internal/config"
)

// Server — HTTP-сервер Client Portal.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт HTTP-сервер с настроенными маршрутами и middleware.
// authn может быть nil (тесты без аутентификации: все защищённые маршруты дают 401).
// publicLimiter ограничивает публичные формы; nil — без ограничения.
func New(
	cfg *config.Config,
	logger *slog.Logger,
	h *handlers.APIHandler,
	authn *middleware.Authenticator,
	publicLimiter *middleware.RateLimiter,
) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewRouter(logger, h, authn, publicLimiter),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// NewRouter собирает дерево маршрутов.
func NewRouter(
	logger *slog.Logger,
	h *handlers.APIHandler,
	authn *middleware.Authenticator,
	publicLimiter *middleware.RateLimiter,
) http.Handler {
	router := chi.NewRouter()

	// Глобальные middleware (применяются ко ВСЕМ маршрутам)
	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(chimw.Recoverer)
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))

	// Health и metrics проверяются Kubernetes напрямую, без аутентификации
	router.Get("/health/live", h.HealthLive)
	router.Get("/health/ready", h.HealthReady)
	router.Get("/metrics", h.GetMetrics)

	router.Group(func(r chi.Router) {
		// Аутентификация не отклоняет анонимные запросы, только строит область
		if authn != nil {
			r.Use(authn.Middleware())
		}

		r.Get("/auth/login", h.HandleLogin)
		r.Get("/auth/callback", h.HandleCallback)
		r.Post("/auth/logout", h.HandleLogout)

		r.Route("/public/forms/{id}", func(r chi.Router) {
			r.Use(publicLimiter.Middleware)
			r.Get("/", h.GetPublicForm)
			r.Post("/submissions", h.SubmitPublicForm)
		})

		r.Route("/api/v1", func(r chi.Router) {
			r.Use(middleware.RequireAuth)

			r.Get("/me", h.GetMe)
			r.Get("/me/clients", h.ListMyClients)
			r.Put("/me/active-client", h.SetActiveClient)
			r.Delete("/me/active-client", h.ClearActiveClient)

			r.Route("/portal", func(r chi.Router) {
				r.Get("/billing", h.GetBilling)
				r.Get("/tickets", h.GetTickets)
				r.Post("/tickets", h.CreateTicket)
				r.Get("/analytics", h.GetAnalytics)
				r.Get("/uptime", h.GetUptime)
				r.Get("/site-health", h.GetSiteHealth)
				r.Get("/recommended", h.GetRecommended)
			})

			r.Route("/kb", func(r chi.Router) {
				r.Get("/categories", h.ListKBCategories)
				r.Get("/categories/{slug}", h.GetKBCategory)
				r.Get("/search", h.SearchKB)
				r.Get("/articles/{slug}", h.GetKBArticle)
				r.Post("/articles/{slug}/feedback", h.PostKBFeedback)
			})

			r.Get("/forms/{id}", h.GetForm)
			r.Post("/forms/{id}/submissions", h.SubmitForm)

			r.Route("/admin", func(r chi.Router) {
				staffRoutes(r, h)

				r.Group(func(r chi.Router) {
					r.Use(middleware.RequireAdmin)
					adminRoutes(r, h)
				})
			})
		})
	})

	return router
}

// staffRoutes — маршруты сотрудников (RequireStaff, реальная идентичность).
func staffRoutes(r chi.Router, h *handlers.APIHandler) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireStaff)

		r.Route("/clients", func(r chi.Router) {
			r.Get("/", h.ListClients)
			r.Post("/", h.CreateClient)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetClient)
				r.Put("/", h.UpdateClient)
				r.Put("/active", h.SetClientActive)
				r.Put("/hidden-features", h.SetClientHiddenFeatures)
				r.Get("/services", h.GetClientServices)
				r.Put("/services", h.SetClientServices)
				r.Get("/site-checks", h.GetClientSiteChecks)
				r.Post("/site-checks", h.RecordClientSiteCheck)
				r.Get("/contacts", h.ListClientContacts)
				r.Post("/contacts", h.LinkContact)
			})
		})

		r.Route("/contacts/{contactId}", func(r chi.Router) {
			r.Put("/", h.UpdateContact)
			r.Put("/active", h.SetContactActive)
			r.Delete("/", h.DeleteContact)
		})

		r.Route("/forms", func(r chi.Router) {
			r.Get("/", h.ListForms)
			r.Post("/", h.CreateForm)
			r.Get("/{id}", h.GetAdminForm)
			r.Put("/{id}", h.UpdateForm)
			r.Delete("/{id}", h.DeleteForm)
		})

		r.Route("/submissions", func(r chi.Router) {
			r.Get("/", h.ListSubmissions)
			r.Get("/{id}", h.GetSubmission)
			r.Put("/{id}/status", h.SetSubmissionStatus)
		})

		r.Put("/kb/categories", h.SaveKBCategory)
		r.Put("/kb/articles", h.SaveKBArticle)
	})
}

// adminRoutes — маршруты администратора (RequireAdmin, реальная идентичность).
func adminRoutes(r chi.Router, h *handlers.APIHandler) {
	r.Get("/users", h.ListUsers)
	r.Get("/users/{userId}", h.GetUser)
	r.Put("/users/{userId}/role", h.SetUserRole)

	r.Post("/impersonation", h.StartImpersonation)
	r.Delete("/impersonation", h.StopImpersonation)

	r.Get("/settings", h.ListSettings)
	r.Put("/settings", h.UpdateSettings)
	r.Delete("/settings/{key}", h.DeleteSetting)
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown.
func (s *Server) Run() error {
	// Канал для ошибок сервера
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
