package engine

import (
	"encoding/json"

	"github.com/shaiso/Canis/internal/domain"
)

// Встроенные chip-шаблоны. Chip-шаг без собственного подграфа
// (Config.Graph == nil) ссылается на один из них через Tool.
const (
	ChipClassification  = "classification"
	ChipDialogueParsing = "dialogue_parsing"
)

// classificationSpec — двухфазная классификация:
// размножаем критерии и метки под объём данных, прогоняем каждый
// элемент через LLM, затем раскладываем данные по меткам.
var classificationSpec = &domain.GraphSpec{
	Steps: []domain.StepDef{
		{
			ID:   "expand_criteria",
			Name: "Expand criteria",
			Kind: domain.StepKindCode,
			Tool: "expand",
			Inputs: []domain.SlotDef{
				{Name: "single", Type: domain.TypeString, From: "external:classification_description"},
				{Name: "data_to_adapt_to", Type: domain.TypeJSON, From: "external:data"},
			},
			Outputs: []domain.SlotDef{
				{Name: "expanded", Type: domain.TypeList},
			},
		},
		{
			ID:   "expand_labels",
			Name: "Expand labels",
			Kind: domain.StepKindCode,
			Tool: "expand",
			Inputs: []domain.SlotDef{
				{Name: "single", Type: domain.TypeList, From: "external:classification_list"},
				{Name: "data_to_adapt_to", Type: domain.TypeJSON, From: "external:data"},
			},
			Outputs: []domain.SlotDef{
				{Name: "expanded", Type: domain.TypeList},
			},
		},
		{
			ID:       "classify",
			Name:     "Classify records",
			Kind:     domain.StepKindLLM,
			Template: json.RawMessage(classifyTemplate),
			Inputs: []domain.SlotDef{
				{Name: "criteria", Type: domain.TypeList, From: "expand_criteria.expanded"},
				{Name: "labels", Type: domain.TypeList, From: "expand_labels.expanded"},
				{Name: "record", Type: domain.TypeJSON, From: "external:data"},
			},
			Outputs: []domain.SlotDef{
				{Name: "verdicts", Type: domain.TypeJSON},
			},
		},
		{
			ID:   "split",
			Name: "Segregate by label",
			Kind: domain.StepKindCode,
			Tool: "segregate",
			Inputs: []domain.SlotDef{
				{Name: "data", Type: domain.TypeJSON, From: "external:data"},
				{Name: "classification", Type: domain.TypeJSON, From: "classify.verdicts"},
				{Name: "labels", Type: domain.TypeList, From: "external:classification_list"},
			},
			Outputs: []domain.SlotDef{
				{Name: "groups", Type: domain.TypeJSON},
			},
		},
	},
}

const classifyTemplate = `{
	"model": "gpt-4o-mini",
	"temperature": 0,
	"json_response": true,
	"system": "You are a strict data classifier. Classify the record against the criteria: {criteria}. Answer with a JSON object {\"label\": <one of the allowed labels>}. Allowed labels: {labels}.",
	"user": "{record}"
}`

// dialogueParsingSpec — разбор сырого диалога в структурированные
// реплики одним LLM-проходом.
var dialogueParsingSpec = &domain.GraphSpec{
	Steps: []domain.StepDef{
		{
			ID:       "parse",
			Name:     "Parse dialogue",
			Kind:     domain.StepKindLLM,
			Template: json.RawMessage(parseDialogueTemplate),
			Inputs: []domain.SlotDef{
				{Name: "conversation", Type: domain.TypeJSON, From: "external:data"},
			},
			Outputs: []domain.SlotDef{
				{Name: "parsed", Type: domain.TypeJSON},
			},
		},
	},
}

const parseDialogueTemplate = `{
	"model": "gpt-4o-mini",
	"temperature": 0,
	"json_response": true,
	"system": "Extract the conversation into a JSON object {\"dialogue\": [{\"role\": ..., \"content\": ...}]}. Preserve turn order, drop any non-dialogue text.",
	"user": "{conversation}"
}`

var builtinChips = map[string]*domain.GraphSpec{
	ChipClassification:  classificationSpec,
	ChipDialogueParsing: dialogueParsingSpec,
}

// builtinExports — откуда встроенные chip'ы берут свои выходы,
// если декларация шага не указала источник явно.
var builtinExports = map[string]map[string]string{
	ChipClassification:  {"groups": "split.groups"},
	ChipDialogueParsing: {"parsed_data": "parse.parsed"},
}

// builtinExport возвращает источник выхода встроенного chip'а по имени слота.
func builtinExport(tool, slot string) string {
	return builtinExports[tool][slot]
}

// BuiltinChip возвращает встроенный шаблон подграфа по имени.
func BuiltinChip(name string) (*domain.GraphSpec, bool) {
	spec, ok := builtinChips[name]
	return spec, ok
}

// BuiltinChips возвращает имена всех встроенных chip-шаблонов.
func BuiltinChips() []string {
	names := make([]string, 0, len(builtinChips))
	for name := range builtinChips {
		names = append(names, name)
	}
	return names
}
