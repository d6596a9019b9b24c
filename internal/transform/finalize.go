package transform

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Record — принятая запись итогового датасета.
type Record struct {
	// ID — порядковый номер записи в датасете.
	ID int `json:"id"`

	// Content — содержимое записи.
	Content json.RawMessage `json:"content"`
}

// Rejection — запись, не прошедшая валидацию схемой.
type Rejection struct {
	// Index — позиция записи во входном списке.
	Index int `json:"index"`

	// Reason — текст ошибки валидации.
	Reason string `json:"reason"`

	// Content — отклонённое содержимое, для ручного разбора.
	Content json.RawMessage `json:"content"`
}

// Dataset — результат финализации: валидные записи плюс список
// отклонённых с причинами.
type Dataset struct {
	Records    []Record    `json:"records"`
	Rejections []Rejection `json:"rejections"`
}

// Finalize собирает итоговый датасет из списка записей.
//
// Если схема задана, каждая запись валидируется; не прошедшие
// попадают в Rejections и не получают ID. Нумерация принятых записей
// сплошная, начиная с нуля. Пустая схема принимает всё.
func Finalize(items []json.RawMessage, schema json.RawMessage) (*Dataset, error) {
	var sch *jsonschema.Schema
	if len(schema) > 0 {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("dataset.schema.json", bytes.NewReader(schema)); err != nil {
			return nil, opError(OpFinalize, "schema does not parse: "+err.Error(), ErrBadSchema)
		}
		compiled, err := compiler.Compile("dataset.schema.json")
		if err != nil {
			return nil, opError(OpFinalize, "schema does not compile: "+err.Error(), ErrBadSchema)
		}
		sch = compiled
	}

	ds := &Dataset{
		Records:    make([]Record, 0, len(items)),
		Rejections: make([]Rejection, 0),
	}

	for i, item := range items {
		var value any
		if err := json.Unmarshal(item, &value); err != nil {
			ds.Rejections = append(ds.Rejections, Rejection{
				Index:   i,
				Reason:  fmt.Sprintf("not valid JSON: %v", err),
				Content: item,
			})
			continue
		}

		if sch != nil {
			if err := sch.Validate(value); err != nil {
				ds.Rejections = append(ds.Rejections, Rejection{
					Index:   i,
					Reason:  err.Error(),
					Content: item,
				})
				continue
			}
		}

		ds.Records = append(ds.Records, Record{
			ID:      len(ds.Records),
			Content: item,
		})
	}

	return ds, nil
}

// MarshalJSONL сериализует принятые записи в JSON Lines,
// по одной записи на строку.
func (d *Dataset) MarshalJSONL() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, rec := range d.Records {
		if err := enc.Encode(rec); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
