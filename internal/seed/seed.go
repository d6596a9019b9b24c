// Пакет seed превращает seed-спецификацию в начальные данные workflow
// и запросы первого llm-шага.
//
// Декартово произведение значений переменных даёт по одному запросу
// на комбинацию. Плоская переменная name даёт подстановку {name};
// ветвящаяся — пару {name_key}/{name_value} на каждый лист каждой ветки.
package seed

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/shaiso/Canis/internal/batch"
	"github.com/shaiso/Canis/internal/domain"
	"github.com/shaiso/Canis/internal/transform"
)

// Assignment — одна комбинация значений переменных:
// имя подстановки → значение.
type Assignment map[string]string

// Expand раскрывает переменные в список комбинаций.
//
// Порядок детерминирован: переменные, ветки и листья обходятся
// в отсортированном порядке, поэтому одинаковая спецификация всегда
// даёт запросы в одном и том же порядке. Спецификация без переменных
// даёт одну пустую комбинацию.
func Expand(spec *domain.SeedSpec) []Assignment {
	assignments := []Assignment{{}}

	for _, name := range sortedKeys(spec.Variables) {
		variable := spec.Variables[name]
		assignments = expandVariable(assignments, name, &variable)
	}

	return assignments
}

// expandVariable умножает текущие комбинации на значения одной переменной.
func expandVariable(acc []Assignment, name string, v *domain.Variable) []Assignment {
	type option struct {
		names  []string
		values []string
	}

	var options []option
	if v.IsBranched() {
		for _, branch := range sortedKeys(v.Branches) {
			for _, leaf := range v.Branches[branch] {
				options = append(options, option{
					names:  []string{name + "_key", name + "_value"},
					values: []string{branch, leaf},
				})
			}
		}
	} else {
		for _, leaf := range v.Leaves {
			options = append(options, option{
				names:  []string{name},
				values: []string{leaf},
			})
		}
	}

	if len(options) == 0 {
		return acc
	}

	out := make([]Assignment, 0, len(acc)*len(options))
	for _, base := range acc {
		for _, opt := range options {
			next := make(Assignment, len(base)+len(opt.names))
			for k, v := range base {
				next[k] = v
			}
			for i, n := range opt.names {
				next[n] = opt.values[i]
			}
			out = append(out, next)
		}
	}
	return out
}

// BuildRequests строит batch-запросы из seed-спецификации:
// по одному запросу на комбинацию значений переменных.
//
// Шаблон prompt'а из Constants["prompt"] рендерится подстановкой
// переменных и остальных констант, затем сам доступен шаблонам
// System/User как {prompt}. Пустой User означает "prompt целиком".
func BuildRequests(spec *domain.SeedSpec) ([]batch.Request, error) {
	assignments := Expand(spec)
	requests := make([]batch.Request, 0, len(assignments))

	for i, assignment := range assignments {
		values := make(map[string]json.RawMessage, len(assignment)+len(spec.Constants))
		for name, value := range spec.Constants {
			if name == "prompt" {
				continue
			}
			values[name] = jsonString(value)
		}
		for name, value := range assignment {
			values[name] = jsonString(value)
		}

		prompt, err := transform.BindString(spec.Constants["prompt"], values)
		if err != nil {
			return nil, fmt.Errorf("request %d: render prompt: %w", i, err)
		}
		values["prompt"] = jsonString(prompt)

		system := spec.Call.System
		if system != "" {
			if system, err = transform.BindString(system, values); err != nil {
				return nil, fmt.Errorf("request %d: render system: %w", i, err)
			}
		}

		user := prompt
		if spec.Call.User != "" {
			if user, err = transform.BindString(spec.Call.User, values); err != nil {
				return nil, fmt.Errorf("request %d: render user: %w", i, err)
			}
		}

		requests = append(requests, batch.Request{
			Index:        i,
			Model:        spec.Call.Model,
			Temperature:  spec.Call.Temperature,
			MaxTokens:    spec.Call.MaxTokens,
			JSONResponse: spec.Call.JSONResponse,
			System:       system,
			User:         user,
		})
	}

	return requests, nil
}

// Items порождает внешние DataItem'ы из seed-спецификации: переменные
// становятся списками, константы — одиночными константами. Workflow
// ссылается на них через источники вида "external:name".
func Items(spec *domain.SeedSpec) ([]*domain.DataItem, error) {
	items := make([]*domain.DataItem, 0, len(spec.Variables)+len(spec.Constants))

	for _, name := range sortedKeys(spec.Variables) {
		variable := spec.Variables[name]
		value, err := json.Marshal(variable)
		if err != nil {
			return nil, fmt.Errorf("variable %s: %w", name, err)
		}
		items = append(items, domain.NewExternalItem(name, domain.TypeList, value))
	}

	for _, name := range sortedKeys(spec.Constants) {
		items = append(items, domain.NewExternalItem(name, domain.TypeConstant, jsonString(spec.Constants[name])))
	}

	return items, nil
}

// --- Helpers ---

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func jsonString(s string) json.RawMessage {
	raw, _ := json.Marshal(s)
	return raw
}
