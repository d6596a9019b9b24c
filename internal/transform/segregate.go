package transform

import (
	"encoding/json"
	"fmt"
)

// Segregate разбивает список записей на совпавшие и не совпавшие
// с меткой. Вердикты — результат классификации, по одному на запись.
//
// Пустой вход даёт два пустых списка, это не ошибка.
func Segregate(items []json.RawMessage, verdicts []string, label string) (matched, unmatched []json.RawMessage, err error) {
	matched = make([]json.RawMessage, 0)
	unmatched = make([]json.RawMessage, 0)

	if len(items) == 0 {
		return matched, unmatched, nil
	}
	if len(items) != len(verdicts) {
		return nil, nil, opError(OpSegregate,
			fmt.Sprintf("%d items but %d verdicts", len(items), len(verdicts)),
			ErrLengthMismatch)
	}

	for i, item := range items {
		if verdicts[i] == label {
			matched = append(matched, item)
		} else {
			unmatched = append(unmatched, item)
		}
	}
	return matched, unmatched, nil
}

// Groups раскладывает записи по меткам: на каждую объявленную метку —
// список записей с таким вердиктом. Записи с вердиктом вне списка
// меток попадают в группу "" (нераспознанные).
func Groups(items []json.RawMessage, verdicts []string, labels []string) (map[string][]json.RawMessage, error) {
	groups := make(map[string][]json.RawMessage, len(labels)+1)
	for _, label := range labels {
		groups[label] = make([]json.RawMessage, 0)
	}

	if len(items) == 0 {
		return groups, nil
	}
	if len(items) != len(verdicts) {
		return nil, opError(OpSegregate,
			fmt.Sprintf("%d items but %d verdicts", len(items), len(verdicts)),
			ErrLengthMismatch)
	}

	for i, item := range items {
		label := verdicts[i]
		if _, declared := groups[label]; !declared {
			label = ""
		}
		groups[label] = append(groups[label], item)
	}
	return groups, nil
}

// Verdicts извлекает метки из результатов классификации.
// Каждый результат — объект вида {"label": "..."}.
func Verdicts(results []json.RawMessage, field string) ([]string, error) {
	verdicts := make([]string, len(results))
	for i, raw := range results {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, opError(OpSegregate,
				fmt.Sprintf("verdict %d is not a JSON object: %v", i, err), ErrMalformedValue)
		}
		var label string
		if err := json.Unmarshal(obj[field], &label); err != nil {
			return nil, opError(OpSegregate,
				fmt.Sprintf("verdict %d has no string field %q", i, field), ErrMalformedValue)
		}
		verdicts[i] = label
	}
	return verdicts, nil
}
