package transform

import (
	"encoding/json"
	"fmt"
)

// Combine попарно соединяет два списка: i-й элемент первого списка
// вставляется в начало i-го элемента второго (который должен быть
// JSON-массивом).
//
// Если длины различаются, одиночный список размножается до длины
// другого. Иначе — ErrLengthMismatch.
func Combine(first, second []json.RawMessage) ([]json.RawMessage, error) {
	if len(first) != len(second) {
		switch {
		case len(first) == 1:
			first = repeat(first[0], len(second))
		case len(second) == 1:
			second = repeat(second[0], len(first))
		default:
			return nil, opError(OpCombine,
				fmt.Sprintf("lists have %d and %d items, neither is a single item", len(first), len(second)),
				ErrLengthMismatch)
		}
	}

	out := make([]json.RawMessage, len(second))
	for i := range second {
		var arr []json.RawMessage
		if err := json.Unmarshal(second[i], &arr); err != nil {
			return nil, opError(OpCombine,
				fmt.Sprintf("item %d of the second list is not a JSON array: %v", i, err),
				ErrMalformedValue)
		}

		joined := make([]json.RawMessage, 0, len(arr)+1)
		joined = append(joined, first[i])
		joined = append(joined, arr...)

		raw, err := json.Marshal(joined)
		if err != nil {
			return nil, opError(OpCombine, err.Error(), ErrMalformedValue)
		}
		out[i] = raw
	}

	return out, nil
}

// Expand размножает одиночное значение в список длины n.
func Expand(single json.RawMessage, n int) []json.RawMessage {
	if n < 0 {
		n = 0
	}
	return repeat(single, n)
}

// repeat создаёт список из n копий значения.
func repeat(value json.RawMessage, n int) []json.RawMessage {
	out := make([]json.RawMessage, n)
	for i := range out {
		out[i] = value
	}
	return out
}
