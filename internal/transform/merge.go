package transform

import (
	"encoding/json"
	"fmt"
)

// Merge выполняет глубокое объединение последовательности JSON-объектов.
//
// При коллизии ключей приоритет у более поздних элементов. Вложенные
// объекты объединяются рекурсивно, массивы конкатенируются, скалярные
// значения перезаписываются. Пустой вход даёт пустой объект.
func Merge(items []json.RawMessage) (json.RawMessage, error) {
	acc := make(map[string]any)

	for i, item := range items {
		var obj map[string]any
		if err := json.Unmarshal(item, &obj); err != nil {
			return nil, opError(OpMerge,
				fmt.Sprintf("item %d is not a JSON object: %v", i, err), ErrMalformedValue)
		}
		acc = mergeObjects(acc, obj)
	}

	out, err := json.Marshal(acc)
	if err != nil {
		return nil, opError(OpMerge, err.Error(), ErrMalformedValue)
	}
	return out, nil
}

// mergeObjects объединяет два объекта; значения из b приоритетнее.
func mergeObjects(a, b map[string]any) map[string]any {
	for key, bv := range b {
		av, exists := a[key]
		if !exists {
			a[key] = bv
			continue
		}

		switch bval := bv.(type) {
		case map[string]any:
			if aval, ok := av.(map[string]any); ok {
				a[key] = mergeObjects(aval, bval)
				continue
			}
		case []any:
			if aval, ok := av.([]any); ok {
				a[key] = append(aval, bval...)
				continue
			}
		}

		// Типы различаются либо значение скалярное — перезапись.
		a[key] = bv
	}
	return a
}
