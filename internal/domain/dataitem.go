package domain

import (
	"time"

	"github.com/google/uuid"
)

// DataType — объявленный тип значения, передаваемого между шагами.
//
// Тип фиксируется при создании DataItem и проверяется
// при каждом связывании со входным слотом.
type DataType string

const (
	// TypeJSON — JSON-объект.
	TypeJSON DataType = "json"

	// TypeString — строка.
	TypeString DataType = "str"

	// TypeList — список значений.
	TypeList DataType = "list"

	// TypeInteger — целое число.
	TypeInteger DataType = "int"

	// TypeConstant — единичная константа. Совместима с любым слотом
	// и материализуется inline при связывании, а не ссылается
	// на порождающий шаг.
	TypeConstant DataType = "const"
)

// IsValid проверяет, что тип известен.
func (t DataType) IsValid() bool {
	switch t {
	case TypeJSON, TypeString, TypeList, TypeInteger, TypeConstant:
		return true
	default:
		return false
	}
}

// CompatibleWith проверяет совместимость типа значения с типом слота.
// Типы должны совпадать; константа совместима с любым слотом.
func (t DataType) CompatibleWith(slot DataType) bool {
	return t == slot || t == TypeConstant
}

// ExternalProducer — значение DataItem.StepID для данных,
// пришедших извне (seed-файл, inline-константа).
const ExternalProducer = "external"

// DataItem — типизированное значение, передаваемое между шагами.
//
// Значение хранится либо inline (Value), либо как content-addressed
// артефакт (ArtifactRef) — для больших данных, чтобы записи состояния
// оставались компактными, а артефакты переиспользовались между snapshots.
type DataItem struct {
	// ID — уникальный идентификатор.
	ID uuid.UUID `json:"id"`

	// Name — человекочитаемое имя (имя маркера в терминах seed-файла).
	Name string `json:"name"`

	// Type — объявленный тип. Не меняется после создания.
	Type DataType `json:"type"`

	// StepID — ID шага, породившего значение,
	// или ExternalProducer для внешних данных.
	StepID string `json:"step_id"`

	// Slot — имя выходного слота порождающего шага.
	// Пустой для внешних данных.
	Slot string `json:"slot,omitempty"`

	// Value — материализованное значение (JSON).
	// Пустое, если значение вынесено в артефакт.
	Value []byte `json:"value,omitempty"`

	// ArtifactRef — content-addressed ссылка на артефакт (sha256 hex).
	ArtifactRef string `json:"artifact_ref,omitempty"`

	// CreatedAt — время создания.
	CreatedAt time.Time `json:"created_at"`
}

// NewDataItem создаёт DataItem, порождённый шагом.
func NewDataItem(name string, t DataType, stepID, slot string) *DataItem {
	return &DataItem{
		ID:        uuid.New(),
		Name:      name,
		Type:      t,
		StepID:    stepID,
		Slot:      slot,
		CreatedAt: time.Now().UTC(),
	}
}

// NewExternalItem создаёт DataItem из внешнего источника (seed, константа).
func NewExternalItem(name string, t DataType, value []byte) *DataItem {
	item := NewDataItem(name, t, ExternalProducer, "")
	item.Value = value
	return item
}

// IsExternal возвращает true для данных, пришедших извне.
func (d *DataItem) IsExternal() bool {
	return d.StepID == ExternalProducer
}

// Inline возвращает true, если значение хранится inline.
func (d *DataItem) Inline() bool {
	return d.ArtifactRef == ""
}
