package transform

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// placeholderRe — именованная подстановка вида {name}.
var placeholderRe = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// Bind подставляет значения в JSON-шаблон.
//
// Строка, целиком состоящая из одной подстановки ("{name}"), заменяется
// значением с сохранением его JSON-типа. Строка с текстом вокруг
// подстановок получает текстовое представление значений. Объекты и
// массивы обходятся рекурсивно.
//
// Подстановка без значения — ErrUnboundPlaceholder: молчаливо
// пропущенный плейсхолдер уехал бы в LLM-запрос как мусор.
func Bind(template json.RawMessage, values map[string]json.RawMessage) (json.RawMessage, error) {
	var node any
	if err := json.Unmarshal(template, &node); err != nil {
		return nil, opError(OpBind, "template is not valid JSON: "+err.Error(), ErrMalformedValue)
	}

	bound, err := bindNode(node, values)
	if err != nil {
		return nil, err
	}

	out, err := json.Marshal(bound)
	if err != nil {
		return nil, opError(OpBind, err.Error(), ErrMalformedValue)
	}
	return out, nil
}

// BindString подставляет значения в обычную строку.
func BindString(template string, values map[string]json.RawMessage) (string, error) {
	var unbound string

	result := placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		name := match[1 : len(match)-1]
		raw, ok := values[name]
		if !ok {
			if unbound == "" {
				unbound = name
			}
			return match
		}
		return renderValue(raw)
	})

	if unbound != "" {
		return "", opError(OpBind, fmt.Sprintf("no value for placeholder {%s}", unbound), ErrUnboundPlaceholder)
	}
	return result, nil
}

// bindNode рекурсивно подставляет значения в узел шаблона.
func bindNode(node any, values map[string]json.RawMessage) (any, error) {
	switch v := node.(type) {
	case string:
		return bindString(v, values)

	case map[string]any:
		out := make(map[string]any, len(v))
		for key, child := range v {
			bound, err := bindNode(child, values)
			if err != nil {
				return nil, err
			}
			out[key] = bound
		}
		return out, nil

	case []any:
		out := make([]any, len(v))
		for i, child := range v {
			bound, err := bindNode(child, values)
			if err != nil {
				return nil, err
			}
			out[i] = bound
		}
		return out, nil

	default:
		return node, nil
	}
}

// bindString обрабатывает строковый узел шаблона.
func bindString(s string, values map[string]json.RawMessage) (any, error) {
	// "{name}" целиком — подстановка с сохранением типа значения.
	if m := placeholderRe.FindStringSubmatch(s); m != nil && m[0] == s {
		raw, ok := values[m[1]]
		if !ok {
			return nil, opError(OpBind,
				fmt.Sprintf("no value for placeholder {%s}", m[1]), ErrUnboundPlaceholder)
		}
		var typed any
		if err := json.Unmarshal(raw, &typed); err != nil {
			return nil, opError(OpBind,
				fmt.Sprintf("value for {%s} is not valid JSON", m[1]), ErrMalformedValue)
		}
		return typed, nil
	}

	return BindString(s, values)
}

// renderValue возвращает текстовое представление JSON-значения:
// строки без кавычек, остальное — компактный JSON.
func renderValue(raw json.RawMessage) string {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return trimmed
}
