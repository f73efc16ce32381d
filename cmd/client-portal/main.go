// Точка входа Client Portal — клиентского портала агентства.
// Загружает конфигурацию, подключается к PostgreSQL, применяет миграции,
// инициализирует Keycloak (Admin API, OIDC, JWKS) и опциональные интеграции
// (Stripe, HelpScout, Umami, Uptime Kuma), создаёт сервисный слой и API handlers,
// запускает topologymetrics и HTTP-сервер с graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/clientportal/internal/api/handlers"
	"github.com/bigkaa/clientportal/internal/api/middleware"
	"github.com/bigkaa/clientportal/internal/auth"
	"github.com/bigkaa/clientportal/internal/billing"
	"github.com/bigkaa/clientportal/internal/clientctx"
	"github.com/bigkaa/clientportal/internal/config"
	"github.com/bigkaa/clientportal/internal/database"
	"github.com/bigkaa/clientportal/internal/helpscout"
	"github.com/bigkaa/clientportal/internal/identity"
	"github.com/bigkaa/clientportal/internal/keycloak"
	"github.com/bigkaa/clientportal/internal/repository"
	"github.com/bigkaa/clientportal/internal/scope"
	"github.com/bigkaa/clientportal/internal/server"
	"github.com/bigkaa/clientportal/internal/service"
	"github.com/bigkaa/clientportal/internal/umami"
	"github.com/bigkaa/clientportal/internal/uptimekuma"
)

// jwksRefreshInterval — период фонового обновления JWKS.
const jwksRefreshInterval = 5 * time.Minute

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Client Portal запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode)
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Repositories
	clientRepo := repository.NewClientRepository(pool)
	clientServiceRepo := repository.NewClientServiceRepository(pool)
	siteCheckRepo := repository.NewSiteCheckRepository(pool)
	contactRepo := repository.NewContactRepository(pool)
	formRepo := repository.NewFormRepository(pool)
	submissionRepo := repository.NewSubmissionRepository(pool)
	kbRepo := repository.NewKnowledgeBaseRepository(pool)
	settingsRepo := repository.NewSettingsRepository(pool)
	txRunner := repository.NewTxRunner(pool)

	// 6. Keycloak Admin API и провайдер идентичностей (роль — атрибут пользователя)
	kcClient := keycloak.New(
		cfg.KeycloakURL,
		cfg.KeycloakRealm,
		cfg.KeycloakClientID,
		cfg.KeycloakClientSecret,
		nil, // стандартный пул CA
		logger,
	)
	provider := identity.NewKeycloakProvider(kcClient, cfg.KeycloakRoleAttribute)
	logger.Info("Keycloak клиент создан",
		slog.String("url", cfg.KeycloakURL),
		slog.String("realm", cfg.KeycloakRealm),
		slog.String("role_attribute", cfg.KeycloakRoleAttribute),
	)

	// 7. Идентичность, имперсонация, контекст клиента
	resolver := identity.NewResolver(provider, logger)
	overlay := identity.NewOverlay(provider, cfg.ImpersonationTTL, logger)
	clientResolver := clientctx.NewResolver(contactRepo, logger)
	scopes := scope.NewFactory(resolver, overlay, clientResolver)

	if cfg.SessionSecret == "" {
		logger.Warn("CP_SESSION_SECRET не задан, сессии не сохраняются между рестартами")
	}
	sessions, err := auth.NewSessionManager(cfg.SessionSecret, cfg.CookieSecure, cfg.ActiveClientTTL)
	if err != nil {
		logger.Error("Ошибка создания Session Manager", slog.String("error", err.Error()))
		os.Exit(1)
	}

	oidcClient := auth.NewOIDCClient(auth.OIDCConfig{
		KeycloakURL: cfg.KeycloakURL,
		Realm:       cfg.KeycloakRealm,
		ClientID:    cfg.OIDCClientID,
	})

	// 8. Интеграции. Не настроенная интеграция остаётся nil-интерфейсом:
	// виджет отвечает available=false.
	var (
		billingProvider   service.BillingProvider
		ticketProvider    service.TicketProvider
		supportCreator    service.SupportCreator
		analyticsProvider service.AnalyticsProvider
		uptimeProvider    service.UptimeProvider
	)
	if cfg.StripeSecretKey != "" {
		billingProvider = billing.New(cfg.StripeSecretKey, logger)
		logger.Info("Интеграция Stripe включена")
	}
	if cfg.HelpScoutAppID != "" && cfg.HelpScoutAppSecret != "" {
		hs := helpscout.New("", cfg.HelpScoutAppID, cfg.HelpScoutAppSecret, int64(cfg.HelpScoutMailboxID), nil, logger)
		ticketProvider = hs
		supportCreator = hs
		logger.Info("Интеграция HelpScout включена", slog.Int("mailbox_id", cfg.HelpScoutMailboxID))
	}
	if cfg.UmamiURL != "" {
		analyticsProvider = umami.New(cfg.UmamiURL, cfg.UmamiToken, cfg.UmamiTimeout, logger)
		logger.Info("Интеграция Umami включена", slog.String("url", cfg.UmamiURL))
	}
	if cfg.UptimeKumaURL != "" && cfg.UptimeKumaSlug != "" {
		uptimeProvider = uptimekuma.New(cfg.UptimeKumaURL, cfg.UptimeKumaSlug, 5*time.Second, logger)
		logger.Info("Интеграция Uptime Kuma включена", slog.String("url", cfg.UptimeKumaURL))
	}

	// 9. Services
	svc := handlers.Services{
		Clients:  service.NewClientService(clientRepo, clientServiceRepo, siteCheckRepo, txRunner, logger),
		Contacts: service.NewContactService(contactRepo, clientRepo, provider, logger),
		Users:    service.NewUserService(provider, logger),
		Forms:    service.NewFormService(formRepo, submissionRepo, supportCreator, logger),
		Portal: service.NewPortalService(
			billingProvider, ticketProvider, analyticsProvider, uptimeProvider,
			siteCheckRepo, logger,
		),
		KB:       service.NewKnowledgeBaseService(kbRepo, logger),
		Settings: service.NewSettingsService(settingsRepo, logger),
	}

	// 10. Readiness checkers (PostgreSQL + Keycloak)
	pgChecker := database.NewReadinessChecker(pool)
	kcChecker := middleware.NewKeycloakReadinessChecker(cfg.JWTJWKSURL, 5*time.Second)
	healthHandler := handlers.NewHealthHandler(pgChecker, kcChecker)

	// 11. API handler
	apiHandler := handlers.NewAPIHandler(
		healthHandler,
		svc,
		overlay,
		sessions,
		oidcClient,
		cfg.PublicURL,
		logger,
	)

	// 12. JWT middleware (JWKS с фоновым обновлением)
	kf, err := middleware.NewJWKSKeyfunc(cfg.JWTJWKSURL, jwksRefreshInterval, logger)
	if err != nil {
		logger.Error("Ошибка загрузки JWKS", slog.String("error", err.Error()))
		os.Exit(1)
	}
	authn := middleware.NewAuthenticator(kf, cfg.JWTIssuer, cfg.JWTLeeway, sessions, oidcClient, scopes, logger)
	logger.Info("JWT middleware инициализирован",
		slog.String("jwks_url", cfg.JWTJWKSURL),
		slog.String("issuer", cfg.JWTIssuer),
	)

	// 13. topologymetrics — мониторинг зависимостей
	dephealthSvc, dephealthErr := service.NewDephealthService(
		"client-portal",
		cfg.DephealthGroup,
		service.DephealthTargets{
			DB:              pgDB,
			PostgresURL:     cfg.DatabaseURL(),
			KeycloakJWKSURL: cfg.JWTJWKSURL,
			UmamiURL:        cfg.UmamiURL,
			UptimeKumaURL:   cfg.UptimeKumaURL,
			UptimeKumaSlug:  cfg.UptimeKumaSlug,
		},
		cfg.DephealthCheckInterval,
		logger,
	)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
		dephealthSvc = nil
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", startErr.Error()))
		dephealthSvc = nil
	} else {
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 14. Создание и запуск HTTP-сервера
	limiter := middleware.NewRateLimiter(cfg.PublicFormRateLimit)
	srv := server.New(cfg, logger, apiHandler, authn, limiter)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 15. Остановка фоновых задач
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}
	logger.Info("Client Portal остановлен")
}
