package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// StepKind — вид шага.
type StepKind string

const (
	// StepKindLLM — шаг, делегирующий работу внешнему batch-сервису инференса.
	StepKindLLM StepKind = "llm"

	// StepKindCode — детерминированный оператор из библиотеки трансформаций.
	StepKindCode StepKind = "code"

	// StepKindChip — составной шаг ("chip"): фиксированный подграф
	// llm- и code-шагов, выполняемый как один непрозрачный шаг.
	StepKindChip StepKind = "chip"
)

// IsValid проверяет, что вид шага известен.
func (k StepKind) IsValid() bool {
	switch k {
	case StepKindLLM, StepKindCode, StepKindChip:
		return true
	default:
		return false
	}
}

// InputSlot — именованный входной слот шага.
//
// Слот объявляет ожидаемый тип и источник данных (From).
// ItemID заполняется при связывании: для внешних данных и констант —
// при создании workflow, для данных от шагов — когда порождающий
// шаг завершается.
type InputSlot struct {
	// Name — имя слота.
	Name string `json:"name"`

	// Type — объявленный тип слота.
	Type DataType `json:"type"`

	// Optional — необязательный слот: шаг остаётся планируемым,
	// даже если источник слота упал или отсутствует.
	Optional bool `json:"optional,omitempty"`

	// From — источник данных: "step_id.slot" для выхода шага,
	// "external:name" для seed-данных. Пустой для inline-константы.
	From string `json:"from,omitempty"`

	// ItemID — связанный DataItem. nil — слот не связан.
	ItemID *uuid.UUID `json:"item_id,omitempty"`
}

// Bound возвращает true, если слот связан со значением.
func (s *InputSlot) Bound() bool {
	return s.ItemID != nil
}

// OutputSlot — именованный выходной слот шага.
type OutputSlot struct {
	// Name — имя слота.
	Name string `json:"name"`

	// Type — объявленный тип производимого значения.
	Type DataType `json:"type"`

	// ItemID — порождённый DataItem. nil до завершения шага.
	// После COMPLETED не изменяется (write-once).
	ItemID *uuid.UUID `json:"item_id,omitempty"`

	// From — только для chip-шагов: "inner_step.slot" внутри подграфа,
	// чьё значение экспортируется наружу.
	From string `json:"from,omitempty"`
}

// StepConfig — конфигурация, специфичная для вида шага.
type StepConfig struct {
	// Tool — имя оператора (code) или llm-шаблона (llm),
	// или имя встроенного chip-шаблона.
	Tool string `json:"tool,omitempty"`

	// Template — шаблон вызова для llm-шага (CallTemplate в JSON).
	Template json.RawMessage `json:"template,omitempty"`

	// Schema — JSON Schema целевого датасета для оператора finalize.
	Schema json.RawMessage `json:"schema,omitempty"`

	// Graph — подграф для chip-шага.
	Graph *GraphSpec `json:"graph,omitempty"`
}

// Step — узел графа workflow, одна единица работы.
type Step struct {
	// ID — уникальный в пределах workflow идентификатор.
	ID string `json:"id"`

	// Name — человекочитаемое имя.
	Name string `json:"name,omitempty"`

	// Kind — вид шага.
	Kind StepKind `json:"kind"`

	// Status — текущий статус.
	Status StepStatus `json:"status"`

	// Inputs — упорядоченные входные слоты.
	Inputs []InputSlot `json:"inputs,omitempty"`

	// Outputs — упорядоченные выходные слоты.
	Outputs []OutputSlot `json:"outputs,omitempty"`

	// Config — конфигурация вида шага.
	Config StepConfig `json:"config"`

	// Job — batch-задание llm-шага. Принадлежит шагу эксклюзивно.
	Job *BatchJob `json:"job,omitempty"`

	// Sub — материализованный внутренний workflow chip-шага.
	// Сохраняется вместе с внешним workflow, чтобы рестарт
	// возобновил и внутренние batch-задания.
	Sub *Workflow `json:"sub,omitempty"`

	// Failure — структурированная причина сбоя (для FAILED).
	Failure *FailureReason `json:"failure,omitempty"`

	// StartedAt — время перехода в RUNNING.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время перехода в финальный статус.
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Input возвращает входной слот по имени.
func (s *Step) Input(name string) *InputSlot {
	for i := range s.Inputs {
		if s.Inputs[i].Name == name {
			return &s.Inputs[i]
		}
	}
	return nil
}

// Output возвращает выходной слот по имени.
func (s *Step) Output(name string) *OutputSlot {
	for i := range s.Outputs {
		if s.Outputs[i].Name == name {
			return &s.Outputs[i]
		}
	}
	return nil
}

// InputsBound проверяет, связаны ли все обязательные входные слоты.
func (s *Step) InputsBound() bool {
	for i := range s.Inputs {
		if !s.Inputs[i].Optional && !s.Inputs[i].Bound() {
			return false
		}
	}
	return true
}

// IsTerminal возвращает true, если шаг завершён.
func (s *Step) IsTerminal() bool {
	return s.Status.IsTerminal()
}

// MarkReady переводит шаг в READY.
func (s *Step) MarkReady() {
	s.Status = StepStatusReady
}

// MarkRunning переводит шаг в RUNNING.
func (s *Step) MarkRunning() {
	now := time.Now().UTC()
	s.Status = StepStatusRunning
	s.StartedAt = &now
}

// MarkCompleted переводит шаг в COMPLETED и запечатывает выходы.
func (s *Step) MarkCompleted() {
	now := time.Now().UTC()
	s.Status = StepStatusCompleted
	s.FinishedAt = &now
}

// MarkFailed переводит шаг в FAILED с указанием причины.
func (s *Step) MarkFailed(reason *FailureReason) {
	now := time.Now().UTC()
	s.Status = StepStatusFailed
	s.Failure = reason
	s.FinishedAt = &now
}

// MarkCancelled переводит шаг в CANCELLED.
// Для завершённых шагов — no-op.
func (s *Step) MarkCancelled() {
	if s.IsTerminal() {
		return
	}
	now := time.Now().UTC()
	s.Status = StepStatusCancelled
	s.FinishedAt = &now
}
