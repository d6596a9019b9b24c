package domain

import "encoding/json"

// GraphSpec — определение графа workflow (входной артефакт).
//
// Загружается один раз при создании workflow; изменение формы графа
// выполняющегося run не поддерживается.
type GraphSpec struct {
	// Steps — определения шагов.
	Steps []StepDef `json:"steps"`
}

// StepDef — определение одного шага в GraphSpec.
type StepDef struct {
	// ID — уникальный идентификатор шага.
	ID string `json:"id"`

	// Name — человекочитаемое имя.
	Name string `json:"name,omitempty"`

	// Kind — вид шага: llm, code, chip.
	Kind StepKind `json:"kind"`

	// Tool — имя оператора (code), llm-шаблона или встроенного chip'а.
	Tool string `json:"tool,omitempty"`

	// Template — шаблон вызова для llm-шага.
	Template json.RawMessage `json:"template,omitempty"`

	// Schema — JSON Schema для оператора finalize.
	Schema json.RawMessage `json:"schema,omitempty"`

	// Graph — подграф chip-шага. Для встроенных chip'ов
	// разрешается из Tool при валидации.
	Graph *GraphSpec `json:"graph,omitempty"`

	// Inputs — объявления входных слотов.
	Inputs []SlotDef `json:"inputs,omitempty"`

	// Outputs — объявления выходных слотов.
	Outputs []SlotDef `json:"outputs,omitempty"`
}

// SlotDef — объявление слота в определении шага.
type SlotDef struct {
	// Name — имя слота.
	Name string `json:"name"`

	// Type — объявленный тип.
	Type DataType `json:"type"`

	// Optional — необязательный входной слот.
	Optional bool `json:"optional,omitempty"`

	// From — источник: "step_id.slot", "external:name",
	// для выходов chip-шага — "inner_step.slot".
	From string `json:"from,omitempty"`

	// Const — inline-константа (SingleConstant). Материализуется
	// при связывании, а не ссылается на порождающий шаг.
	Const json.RawMessage `json:"const,omitempty"`
}

// ParseGraphSpec разбирает GraphSpec из JSON.
func ParseGraphSpec(data []byte) (*GraphSpec, error) {
	var spec GraphSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, err
	}
	return &spec, nil
}
