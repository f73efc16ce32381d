// Пакет formlogic — интерпретация определения формы: условная видимость
// полей, проверка введённых значений и сборка данных отправки.
//
// Все функции чистые и не обращаются к хранилищу.
package formlogic

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/bigkaa/clientportal/internal/domain/model"
)

// Values — текущие значения формы по ID поля.
// Значение — строка, список строк (checkbox) или то, что пришло из JSON.
type Values map[string]any

// multiValueSeparator — разделитель при сведении списка значений к строке.
const multiValueSeparator = ", "

// ValueString сводит значение поля к строке для сравнения в условиях.
// Отсутствующее значение — пустая строка, список — элементы через ", ".
func ValueString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []string:
		return strings.Join(val, multiValueSeparator)
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, ValueString(item))
		}
		return strings.Join(parts, multiValueSeparator)
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

// valueList возвращает значение как список строк (для checkbox).
func valueList(v any) []string {
	switch val := v.(type) {
	case nil:
		return nil
	case []string:
		return val
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s := ValueString(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		if s := ValueString(val); s != "" {
			return []string{s}
		}
		return nil
	}
}

// EvaluateCondition вычисляет одно условие против текущих значений.
// Неизвестный оператор даёт false.
func EvaluateCondition(cond model.FieldCondition, values Values) bool {
	current := ValueString(values[cond.FieldID])

	switch cond.Operator {
	case model.OpEquals:
		return current == cond.Value
	case model.OpNotEquals:
		return current != cond.Value
	case model.OpContains:
		return strings.Contains(strings.ToLower(current), strings.ToLower(cond.Value))
	case model.OpIsEmpty:
		return current == ""
	case model.OpIsNotEmpty:
		return current != ""
	default:
		return false
	}
}

// IsVisible сообщает, видимо ли поле. Поле без условий видимо всегда,
// с условиями — только если выполнены все (логическое И).
func IsVisible(field model.FormField, values Values) bool {
	for _, cond := range field.Conditions {
		if !EvaluateCondition(cond, values) {
			return false
		}
	}
	return true
}

// VisibleFields возвращает поля, видимые при текущих значениях.
func VisibleFields(fields []model.FormField, values Values) []model.FormField {
	out := make([]model.FormField, 0, len(fields))
	for _, f := range fields {
		if IsVisible(f, values) {
			out = append(out, f)
		}
	}
	return out
}

// BuildPayload собирает данные отправки: только видимые поля ввода,
// для которых есть значение. Значения скрытых полей отбрасываются,
// даже если были введены до скрытия.
func BuildPayload(fields []model.FormField, values Values) map[string]any {
	payload := make(map[string]any, len(fields))
	for _, f := range fields {
		if !f.IsInput() || !IsVisible(f, values) {
			continue
		}
		raw, ok := values[f.ID]
		if !ok || raw == nil {
			continue
		}
		if f.Type == model.FieldCheckbox {
			payload[f.ID] = valueList(raw)
			continue
		}
		payload[f.ID] = ValueString(raw)
	}
	return payload
}
