package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/bigkaa/clientportal/internal/domain/permission"
	"github.com/bigkaa/clientportal/internal/repository"
	"github.com/bigkaa/clientportal/internal/service"
)

// Колонки CSV импорта контактов. Обязательны client_id и user_id.
const (
	colClientID   = "client_id"
	colUserID     = "user_id"
	colEmail      = "email"
	colName       = "name"
	colRoleLabel  = "role_label"
	colIsPrimary  = "is_primary"
	colDashboard  = "dashboard"
	colBilling    = "billing"
	colAnalytics  = "analytics"
	colUptime     = "uptime"
	colSupport    = "support"
	colSiteHealth = "site_health"
)

func contactsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contacts",
		Short: "Операции с контактами клиентов",
	}

	importCmd := &cobra.Command{
		Use:   "import <csv>",
		Short: "Импортировать контакты из CSV",
		Long: `Создаёт или обновляет контакты по паре (client_id, user_id).
Первая строка — заголовок. Колонки: client_id, user_id (обязательны),
email, name, role_label, is_primary, dashboard, billing, analytics,
uptime, support, site_health. Без колонки dashboard доступ к обзору включён,
остальные возможности без своей колонки выключены.
Повторный импорт того же файла безопасен.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			rows, err := parseContactsCSV(f)
			if err != nil {
				return err
			}

			pool, err := a.db(cmd.Context())
			if err != nil {
				return err
			}
			contacts := service.NewContactService(
				repository.NewContactRepository(pool),
				repository.NewClientRepository(pool),
				nil,
				a.logger,
			)
			res, err := contacts.Import(cmd.Context(), rows)
			fmt.Fprintf(cmd.OutOrStdout(), "создано %d, обновлено %d\n", res.Created, res.Updated)
			return err
		},
	}

	cmd.AddCommand(importCmd)
	return cmd
}

// parseContactsCSV читает строки импорта. Ошибка в любой строке
// отменяет весь импорт до записи в БД.
func parseContactsCSV(r io.Reader) ([]service.ContactImport, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("пустой CSV: нет заголовка")
	}
	if err != nil {
		return nil, fmt.Errorf("чтение заголовка CSV: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range []string{colClientID, colUserID} {
		if _, ok := idx[required]; !ok {
			return nil, fmt.Errorf("в заголовке CSV нет колонки %s", required)
		}
	}

	var rows []service.ContactImport
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("строка %d: %w", line, err)
		}

		cell := func(col string) string {
			i, ok := idx[col]
			if !ok || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}
		flag := func(col string, def bool) (bool, error) {
			if _, ok := idx[col]; !ok {
				return def, nil
			}
			v := cell(col)
			if v == "" {
				return false, nil
			}
			b, err := strconv.ParseBool(v)
			if err != nil {
				return false, fmt.Errorf("строка %d: %s: ожидается true/false, получено %q", line, col, v)
			}
			return b, nil
		}

		row := service.ContactImport{
			ClientID:  cell(colClientID),
			UserID:    cell(colUserID),
			Email:     cell(colEmail),
			Name:      cell(colName),
			RoleLabel: cell(colRoleLabel),
		}
		if _, err := uuid.Parse(row.ClientID); err != nil {
			return nil, fmt.Errorf("строка %d: некорректный client_id %q", line, row.ClientID)
		}
		if row.UserID == "" {
			return nil, fmt.Errorf("строка %d: пустой user_id", line)
		}

		var flags permission.Set
		for _, f := range []struct {
			col string
			def bool
			dst *bool
		}{
			{colIsPrimary, false, &row.IsPrimary},
			{colDashboard, true, &flags.Dashboard},
			{colBilling, false, &flags.Billing},
			{colAnalytics, false, &flags.Analytics},
			{colUptime, false, &flags.Uptime},
			{colSupport, false, &flags.Support},
			{colSiteHealth, false, &flags.SiteHealth},
		} {
			v, err := flag(f.col, f.def)
			if err != nil {
				return nil, err
			}
			*f.dst = v
		}
		row.Flags = flags
		rows = append(rows, row)
	}
	return rows, nil
}
