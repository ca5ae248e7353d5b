package steps

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"
)

// Ошибки шаблонов.
var (
	ErrTemplateParse  = errors.New("template parse error")
	ErrTemplateRender = errors.New("template render error")
)

// TemplateFuncs — функции шаблонов сообщений и отчётов.
var TemplateFuncs = template.FuncMap{
	// json — сериализует значение в JSON строку
	"json": func(v any) string {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("error: %v", err)
		}
		return string(b)
	},

	// default — значение по умолчанию для пустого аргумента
	"default": func(def, val any) any {
		if val == nil {
			return def
		}
		if s, ok := val.(string); ok && s == "" {
			return def
		}
		return val
	},

	"join":  func(sep string, items []string) string { return strings.Join(items, sep) },
	"lower": strings.ToLower,
	"upper": strings.ToUpper,
	"trim":  strings.TrimSpace,

	// pct — доля [0, 1] в процентах
	"pct": func(v float64) string { return fmt.Sprintf("%.0f%%", v*100) },

	// hours — часы с одним знаком
	"hours": func(v float64) string { return fmt.Sprintf("%.1fh", v) },

	"date": func(t time.Time) string { return t.Format("2006-01-02") },
}

// Render рендерит шаблон с данными. Строка без выражений возвращается как есть.
func Render(tmpl string, data any) (string, error) {
	if !strings.Contains(tmpl, "{{") {
		return tmpl, nil
	}

	t, err := template.New("").Funcs(TemplateFuncs).Option("missingkey=zero").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplateParse, err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplateRender, err)
	}
	return buf.String(), nil
}

// RenderConfig рендерит строковые значения конфигурации шага,
// рекурсивно обходя вложенные map и slice.
func RenderConfig(config map[string]any, data any) (map[string]any, error) {
	if config == nil {
		return make(map[string]any), nil
	}
	out := make(map[string]any, len(config))
	for k, v := range config {
		r, err := renderValue(v, data)
		if err != nil {
			return nil, fmt.Errorf("config %q: %w", k, err)
		}
		out[k] = r
	}
	return out, nil
}

func renderValue(value any, data any) (any, error) {
	switch v := value.(type) {
	case string:
		return Render(v, data)
	case map[string]any:
		return RenderConfig(v, data)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			r, err := renderValue(item, data)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	case []string:
		out := make([]string, len(v))
		for i, item := range v {
			r, err := Render(item, data)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return value, nil
	}
}
