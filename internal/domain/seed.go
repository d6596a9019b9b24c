package domain

import (
	"encoding/json"
	"fmt"
)

// SeedSpec — seed-спецификация (входной артефакт).
//
// Объявляет Variables (генеративные параметры, глубина вложенности
// ограничена одним уровнем ветвления), Constants и CallTemplate.
// Потребляется один раз при создании workflow: порождает начальные
// DataItem'ы и запросы первого llm-шага.
type SeedSpec struct {
	// Variables — генеративные параметры. Декартово произведение
	// значений всех переменных определяет набор запросов.
	Variables map[string]Variable `json:"variables"`

	// Constants — константы, подставляемые в шаблон prompt'а.
	// Ключ "prompt" обязателен — это шаблон пользовательского сообщения.
	Constants map[string]string `json:"constants"`

	// Call — шаблон вызова модели.
	Call CallTemplate `json:"call"`
}

// Variable — значения одной переменной seed-спецификации.
//
// Плоская форма: ["math", "history"] — одна подстановка {name}.
// Ветвящаяся форма: {"algebra": ["linear", ...]} — две подстановки,
// {name_key} (ветка) и {name_value} (лист).
type Variable struct {
	// Leaves — значения плоской переменной.
	Leaves []string

	// Branches — ветки вложенной переменной: ветка → листья.
	Branches map[string][]string
}

// UnmarshalJSON принимает обе формы переменной.
func (v *Variable) UnmarshalJSON(data []byte) error {
	var leaves []string
	if err := json.Unmarshal(data, &leaves); err == nil {
		v.Leaves = leaves
		return nil
	}

	var branches map[string][]string
	if err := json.Unmarshal(data, &branches); err == nil {
		v.Branches = branches
		return nil
	}

	return fmt.Errorf("variable must be a list or a map of lists")
}

// MarshalJSON сериализует переменную в исходной форме.
func (v Variable) MarshalJSON() ([]byte, error) {
	if v.Branches != nil {
		return json.Marshal(v.Branches)
	}
	return json.Marshal(v.Leaves)
}

// IsBranched возвращает true для ветвящейся переменной.
func (v *Variable) IsBranched() bool {
	return v.Branches != nil
}

// CallTemplate — шаблон одного запроса к batch-сервису инференса.
//
// System и User — строки с плейсхолдерами вида {name},
// подставляемыми из связанных входов шага или seed-переменных.
type CallTemplate struct {
	// Model — модель инференса.
	Model string `json:"model"`

	// Temperature — температура сэмплирования.
	Temperature float32 `json:"temperature,omitempty"`

	// MaxTokens — ограничение длины ответа. 0 — без ограничения.
	MaxTokens int `json:"max_tokens,omitempty"`

	// JSONResponse — требовать от модели ответ в формате JSON-объекта.
	JSONResponse bool `json:"json_response,omitempty"`

	// System — шаблон системного сообщения.
	System string `json:"system"`

	// User — шаблон пользовательского сообщения.
	User string `json:"user"`
}

// ParseCallTemplate разбирает CallTemplate из JSON.
func ParseCallTemplate(data []byte) (*CallTemplate, error) {
	var tmpl CallTemplate
	if err := json.Unmarshal(data, &tmpl); err != nil {
		return nil, err
	}
	if tmpl.Model == "" {
		return nil, fmt.Errorf("call template has no model")
	}
	return &tmpl, nil
}

// ParseSeedSpec разбирает SeedSpec из JSON.
func ParseSeedSpec(data []byte) (*SeedSpec, error) {
	var spec SeedSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, err
	}
	if spec.Call.Model == "" {
		return nil, fmt.Errorf("seed spec has no call model")
	}
	if _, ok := spec.Constants["prompt"]; !ok {
		return nil, fmt.Errorf("seed spec has no prompt constant")
	}
	return &spec, nil
}
