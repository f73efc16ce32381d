// portalctl — офлайн-утилита обслуживания Client Portal:
// миграции БД, миграция устаревших ролей, импорт контактов, экспорт и импорт форм.
// Конфигурация та же, что у сервера (переменные окружения CP_*).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/bigkaa/clientportal/internal/config"
	"github.com/bigkaa/clientportal/internal/database"
	"github.com/bigkaa/clientportal/internal/identity"
	"github.com/bigkaa/clientportal/internal/keycloak"
)

// app — общие зависимости команд, создаются лениво.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	pool   *pgxpool.Pool
}

func (a *app) load() error {
	if a.cfg != nil {
		return nil
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("загрузка конфигурации: %w", err)
	}
	a.cfg = cfg
	a.logger = config.SetupLogger(cfg)
	return nil
}

// db подключается к PostgreSQL. Миграции не применяются.
func (a *app) db(ctx context.Context) (*pgxpool.Pool, error) {
	if err := a.load(); err != nil {
		return nil, err
	}
	if a.pool == nil {
		pool, err := database.Connect(ctx, a.cfg, a.logger)
		if err != nil {
			return nil, err
		}
		a.pool = pool
	}
	return a.pool, nil
}

// identityProvider — провайдер пользователей поверх Keycloak Admin API.
func (a *app) identityProvider() (identity.Provider, error) {
	if err := a.load(); err != nil {
		return nil, err
	}
	kc := keycloak.New(
		a.cfg.KeycloakURL,
		a.cfg.KeycloakRealm,
		a.cfg.KeycloakClientID,
		a.cfg.KeycloakClientSecret,
		nil,
		a.logger,
	)
	return identity.NewKeycloakProvider(kc, a.cfg.KeycloakRoleAttribute), nil
}

func (a *app) close() {
	if a.pool != nil {
		a.pool.Close()
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "portalctl",
		Short: "Client Portal maintenance CLI",
		Long: `Офлайн-утилита обслуживания Client Portal.
Использует те же переменные окружения, что и сервер:
CP_DB_HOST, CP_DB_PORT, CP_DB_NAME, CP_DB_USER, CP_DB_PASSWORD,
CP_KEYCLOAK_URL, CP_KEYCLOAK_REALM, CP_KEYCLOAK_CLIENT_ID, CP_KEYCLOAK_CLIENT_SECRET.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		migrateCmd(a),
		rolesCmd(a),
		contactsCmd(a),
		formsCmd(a),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	a := &app{}
	err := newRootCmd(a).ExecuteContext(ctx)
	a.close()
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
