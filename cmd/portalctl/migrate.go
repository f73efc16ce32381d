package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/bigkaa/clientportal/internal/database"
	"github.com/bigkaa/clientportal/internal/domain/rbac"
	"github.com/bigkaa/clientportal/internal/service"
)

func migrateCmd(a *app) *cobra.Command {
	var (
		down        int
		showVersion bool
	)
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Применить миграции схемы БД",
		Long: `Применяет все недостающие миграции.
--down N откатывает N последних миграций, --version показывает текущую версию.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.load(); err != nil {
				return err
			}
			switch {
			case showVersion:
				version, dirty, err := database.MigrationVersion(a.cfg)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "version=%d dirty=%t\n", version, dirty)
				return nil
			case down > 0:
				return database.MigrateDown(a.cfg, down, a.logger)
			default:
				return database.Migrate(a.cfg, a.logger)
			}
		},
	}
	cmd.Flags().IntVar(&down, "down", 0, "откатить N последних миграций")
	cmd.Flags().BoolVar(&showVersion, "version", false, "показать текущую версию схемы")
	return cmd
}

func rolesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roles",
		Short: "Операции с ролями пользователей в Keycloak",
	}

	var dryRun bool
	migrateLegacy := &cobra.Command{
		Use:   "migrate-legacy",
		Short: fmt.Sprintf("Перезаписать роль %q на %q", rbac.LegacyRoleEmployee, rbac.RoleTeamMember),
		Long: `Находит пользователей с устаревшей ролью employee и записывает team_member.
Сервер читает employee как team_member и сам роль не перезаписывает.
Повторный запуск безопасен.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			provider, err := a.identityProvider()
			if err != nil {
				return err
			}
			users := service.NewUserService(provider, a.logger)

			report, err := users.MigrateLegacyRoles(cmd.Context(), dryRun)
			if report != nil {
				printMigrationReport(cmd, report)
			}
			if err != nil {
				a.logger.Error("Миграция ролей прервана", slog.String("error", err.Error()))
				return err
			}
			return nil
		},
	}
	migrateLegacy.Flags().BoolVar(&dryRun, "dry-run", false, "только показать пользователей, ничего не записывать")

	cmd.AddCommand(migrateLegacy)
	return cmd
}

func printMigrationReport(cmd *cobra.Command, r *service.MigrationReport) {
	out := cmd.OutOrStdout()
	for _, id := range r.Users {
		fmt.Fprintln(out, id)
	}
	if r.DryRun {
		fmt.Fprintf(out, "найдено %d пользователей с ролью %s (dry-run, изменений нет)\n", len(r.Users), rbac.LegacyRoleEmployee)
		return
	}
	fmt.Fprintf(out, "найдено %d, перезаписано %d\n", len(r.Users), r.Migrated)
}
