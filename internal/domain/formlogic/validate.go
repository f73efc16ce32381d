package formlogic

import (
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/clientportal/internal/domain/model"
)

// FieldError — ошибка значения одного поля.
type FieldError struct {
	FieldID string `json:"fieldId"`
	Message string `json:"message"`
}

// ValidationErrors — ошибки значений формы.
type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for _, e := range v {
		parts = append(parts, e.FieldID+": "+e.Message)
	}
	return "ошибки валидации формы: " + strings.Join(parts, "; ")
}

const dateLayout = "2006-01-02"

// Validate проверяет значения формы. Скрытые поля не проверяются,
// в том числе на обязательность. Возвращает nil, если ошибок нет.
func Validate(fields []model.FormField, values Values) ValidationErrors {
	var errs ValidationErrors
	for _, f := range fields {
		if !f.IsInput() || !IsVisible(f, values) {
			continue
		}
		if msg := validateField(f, values[f.ID]); msg != "" {
			errs = append(errs, FieldError{FieldID: f.ID, Message: msg})
		}
	}
	return errs
}

// validateField возвращает текст ошибки или пустую строку.
func validateField(f model.FormField, raw any) string {
	if f.Type == model.FieldCheckbox {
		list := valueList(raw)
		if len(list) == 0 {
			if f.Required {
				return "обязательное поле"
			}
			return ""
		}
		if len(f.Options) > 0 {
			for _, item := range list {
				if !slices.Contains(f.Options, item) {
					return fmt.Sprintf("недопустимое значение %q", item)
				}
			}
		}
		return ""
	}

	value := strings.TrimSpace(ValueString(raw))
	if value == "" {
		if f.Required {
			return "обязательное поле"
		}
		return ""
	}

	switch f.Type {
	case model.FieldEmail:
		addr, err := mail.ParseAddress(value)
		if err != nil || addr.Address != value {
			return "некорректный email"
		}
	case model.FieldNumber:
		if _, err := strconv.ParseFloat(value, 64); err != nil {
			return "ожидается число"
		}
	case model.FieldURL:
		u, err := url.ParseRequestURI(value)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return "некорректный URL"
		}
	case model.FieldDate:
		if _, err := time.Parse(dateLayout, value); err != nil {
			return "ожидается дата в формате ГГГГ-ММ-ДД"
		}
	case model.FieldSelect, model.FieldRadio:
		if !slices.Contains(f.Options, value) {
			return fmt.Sprintf("недопустимое значение %q", value)
		}
	}
	return ""
}

// Ошибки определения формы.
var (
	ErrUnknownFieldType = errors.New("неизвестный тип поля")
	ErrMissingOptions   = errors.New("поле выбора без вариантов")
	ErrMissingLabel     = errors.New("поле без подписи")
)

var knownFieldTypes = map[string]bool{
	model.FieldText: true, model.FieldTextarea: true, model.FieldEmail: true,
	model.FieldNumber: true, model.FieldPhone: true, model.FieldURL: true,
	model.FieldDate: true, model.FieldSelect: true, model.FieldRadio: true,
	model.FieldCheckbox: true, model.FieldHeading: true, model.FieldParagraph: true,
}

var knownOperators = map[string]bool{
	model.OpEquals: true, model.OpNotEquals: true, model.OpContains: true,
	model.OpIsEmpty: true, model.OpIsNotEmpty: true,
}

// Normalize приводит определение полей к сохраняемому виду:
// назначает ID полям без ID (и дубликатам), чистит варианты,
// выставляет ширину по умолчанию и удаляет условия, ссылающиеся
// на несуществующие поля, на само поле или с неизвестным оператором.
// Порядок полей сохраняется.
func Normalize(fields []model.FormField) ([]model.FormField, error) {
	out := make([]model.FormField, len(fields))
	seen := make(map[string]bool, len(fields))

	for i, f := range fields {
		if !knownFieldTypes[f.Type] {
			return nil, fmt.Errorf("поле %d (%q): %w: %q", i+1, f.Label, ErrUnknownFieldType, f.Type)
		}
		f.Label = strings.TrimSpace(f.Label)
		if f.Label == "" {
			return nil, fmt.Errorf("поле %d: %w", i+1, ErrMissingLabel)
		}

		f.ID = strings.TrimSpace(f.ID)
		if f.ID == "" || seen[f.ID] {
			f.ID = uuid.NewString()
		}
		seen[f.ID] = true

		var opts []string
		for _, o := range f.Options {
			if o = strings.TrimSpace(o); o != "" && !slices.Contains(opts, o) {
				opts = append(opts, o)
			}
		}
		f.Options = opts
		if (f.Type == model.FieldSelect || f.Type == model.FieldRadio) && len(f.Options) == 0 {
			return nil, fmt.Errorf("поле %q: %w", f.Label, ErrMissingOptions)
		}

		if f.Width == "" {
			f.Width = "full"
		}
		if !f.IsInput() {
			f.Required = false
		}
		out[i] = f
	}

	for i := range out {
		var conds []model.FieldCondition
		for _, c := range out[i].Conditions {
			if c.FieldID == out[i].ID || !seen[c.FieldID] || !knownOperators[c.Operator] {
				continue
			}
			conds = append(conds, c)
		}
		out[i].Conditions = conds
	}

	return out, nil
}
