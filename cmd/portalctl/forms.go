package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/bigkaa/clientportal/internal/domain/model"
	"github.com/bigkaa/clientportal/internal/repository"
	"github.com/bigkaa/clientportal/internal/service"
)

// importedBy — автор форм, загруженных через portalctl.
const importedBy = "portalctl"

// formDocument — YAML-представление формы для переноса между окружениями.
type formDocument struct {
	ID          string             `yaml:"id,omitempty"`
	Name        string             `yaml:"name"`
	Description string             `yaml:"description,omitempty"`
	IsPublic    bool               `yaml:"isPublic"`
	IsActive    bool               `yaml:"isActive"`
	Settings    model.FormSettings `yaml:"settings"`
	Fields      []model.FormField  `yaml:"fields"`
}

func documentFromForm(f *model.Form) formDocument {
	return formDocument{
		ID:          f.ID,
		Name:        f.Name,
		Description: f.Description,
		IsPublic:    f.IsPublic,
		IsActive:    f.IsActive,
		Settings:    f.Settings,
		Fields:      f.Fields,
	}
}

func (d formDocument) toForm() *model.Form {
	return &model.Form{
		ID:          d.ID,
		Name:        d.Name,
		Description: d.Description,
		IsPublic:    d.IsPublic,
		IsActive:    d.IsActive,
		Settings:    d.Settings,
		Fields:      d.Fields,
	}
}

// decodeFormDocument читает YAML. Неизвестные ключи — ошибка,
// чтобы опечатка в имени поля не терялась молча.
func decodeFormDocument(r io.Reader) (formDocument, error) {
	var doc formDocument
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return formDocument{}, fmt.Errorf("разбор YAML формы: %w", err)
	}
	return doc, nil
}

func encodeFormDocument(w io.Writer, doc formDocument) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}

func formsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "forms",
		Short: "Экспорт и импорт форм",
	}

	newService := func(cmd *cobra.Command) (*service.FormService, error) {
		pool, err := a.db(cmd.Context())
		if err != nil {
			return nil, err
		}
		return service.NewFormService(
			repository.NewFormRepository(pool),
			repository.NewSubmissionRepository(pool),
			nil,
			a.logger,
		), nil
	}

	var output string
	exportCmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Выгрузить форму в YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			forms, err := newService(cmd)
			if err != nil {
				return err
			}
			f, err := forms.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if output != "" && output != "-" {
				file, err := os.Create(output)
				if err != nil {
					return err
				}
				defer file.Close()
				w = file
			}
			return encodeFormDocument(w, documentFromForm(f))
		},
	}
	exportCmd.Flags().StringVarP(&output, "output", "o", "-", "файл для записи (- — stdout)")

	importCmd := &cobra.Command{
		Use:   "import <yaml>",
		Short: "Загрузить форму из YAML",
		Long: `Создаёт форму или обновляет существующую с тем же id.
Без id в документе создаётся новая форма.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer file.Close()

			doc, err := decodeFormDocument(file)
			if err != nil {
				return err
			}
			forms, err := newService(cmd)
			if err != nil {
				return err
			}
			f, err := forms.Import(cmd.Context(), doc.toForm(), importedBy)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "форма %s импортирована: %s\n", f.ID, f.Name)
			return nil
		},
	}

	cmd.AddCommand(exportCmd, importCmd)
	return cmd
}
