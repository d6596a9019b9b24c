package engine

import (
	"fmt"
	"strings"

	"github.com/shaiso/Canis/internal/domain"
	"github.com/shaiso/Canis/internal/transform"
)

// externalPrefix — префикс ссылки на внешние данные в SlotDef.From.
const externalPrefix = "external:"

// slotRef — разобранная ссылка источника слота.
type slotRef struct {
	External string // имя внешних данных; пустое для ссылки на шаг
	StepID   string
	Slot     string
}

// parseFrom разбирает SlotDef.From: "external:name" либо "step_id.slot".
func parseFrom(from string) (slotRef, error) {
	if name, ok := strings.CutPrefix(from, externalPrefix); ok {
		if name == "" {
			return slotRef{}, fmt.Errorf("empty external name")
		}
		return slotRef{External: name}, nil
	}

	stepID, slot, ok := strings.Cut(from, ".")
	if !ok || stepID == "" || slot == "" {
		return slotRef{}, fmt.Errorf("reference must be %q or %q", "step_id.slot", "external:name")
	}
	return slotRef{StepID: stepID, Slot: slot}, nil
}

// ValidateSpec выполняет полную валидацию GraphSpec.
//
// Проверяет:
//   - наличие и уникальность шагов
//   - корректность видов шагов и их конфигурации
//   - разрешимость ссылок между слотами и совместимость типов
//   - подграфы chip-шагов (рекурсивно)
//
// Циклы обнаруживаются отдельно при построении графа (Build).
func ValidateSpec(spec *domain.GraphSpec) error {
	if spec == nil || len(spec.Steps) == 0 {
		return ErrEmptySteps
	}

	byID := make(map[string]*domain.StepDef, len(spec.Steps))
	for i := range spec.Steps {
		def := &spec.Steps[i]

		if def.ID == "" {
			return newConfigError("", "", "step has empty ID", ErrEmptyStepID)
		}
		if strings.ContainsAny(def.ID, ".:") {
			return newConfigError(def.ID, "", "step ID must not contain '.' or ':'", ErrInvalidStepID)
		}
		if _, dup := byID[def.ID]; dup {
			return newConfigError(def.ID, "", "duplicate step ID", ErrDuplicateStepID)
		}
		byID[def.ID] = def

		if !def.Kind.IsValid() {
			return newConfigError(def.ID, "",
				fmt.Sprintf("unknown step kind: %s", def.Kind), ErrUnknownStepKind)
		}

		if err := validateSlots(def); err != nil {
			return err
		}

		if err := validateKindConfig(def); err != nil {
			return err
		}
	}

	// Разрешимость ссылок и совместимость типов.
	for i := range spec.Steps {
		def := &spec.Steps[i]
		for j := range def.Inputs {
			if err := validateInputSource(def, &def.Inputs[j], byID); err != nil {
				return err
			}
		}
	}

	return nil
}

// validateSlots проверяет объявления слотов шага.
func validateSlots(def *domain.StepDef) error {
	seen := make(map[string]bool)
	for i := range def.Inputs {
		in := &def.Inputs[i]
		if in.Name == "" {
			return newConfigError(def.ID, "", "input slot has empty name", ErrInvalidSlot)
		}
		if seen[in.Name] {
			return newConfigError(def.ID, in.Name, "duplicate input slot", ErrInvalidSlot)
		}
		seen[in.Name] = true
		if !in.Type.IsValid() {
			return newConfigError(def.ID, in.Name,
				fmt.Sprintf("unknown slot type: %s", in.Type), ErrInvalidSlot)
		}
		if in.From != "" && in.Const != nil {
			return newConfigError(def.ID, in.Name,
				"slot declares both a source and a constant", ErrInvalidSlot)
		}
		if in.From == "" && in.Const == nil && !in.Optional {
			return newConfigError(def.ID, in.Name,
				"required slot has no source", ErrInvalidSlot)
		}
	}

	seen = make(map[string]bool)
	for i := range def.Outputs {
		out := &def.Outputs[i]
		if out.Name == "" {
			return newConfigError(def.ID, "", "output slot has empty name", ErrInvalidSlot)
		}
		if seen[out.Name] {
			return newConfigError(def.ID, out.Name, "duplicate output slot", ErrInvalidSlot)
		}
		seen[out.Name] = true
		if !out.Type.IsValid() {
			return newConfigError(def.ID, out.Name,
				fmt.Sprintf("unknown slot type: %s", out.Type), ErrInvalidSlot)
		}
	}

	return nil
}

// validateKindConfig проверяет конфигурацию, специфичную для вида шага.
func validateKindConfig(def *domain.StepDef) error {
	switch def.Kind {
	case domain.StepKindLLM:
		if len(def.Template) == 0 {
			return newConfigError(def.ID, "", "llm step has no call template", ErrMissingTemplate)
		}
		if _, err := domain.ParseCallTemplate(def.Template); err != nil {
			return newConfigError(def.ID, "",
				fmt.Sprintf("bad call template: %v", err), ErrMissingTemplate)
		}
		// Шаг производит одно значение; потребителю второго выхода
		// было бы нечего связывать.
		if len(def.Outputs) != 1 {
			return newConfigError(def.ID, "",
				fmt.Sprintf("llm step must declare exactly one output, got %d", len(def.Outputs)),
				ErrInvalidSlot)
		}

	case domain.StepKindCode:
		if def.Tool == "" {
			return newConfigError(def.ID, "", "code step has no operator", ErrUnknownOperator)
		}
		if !transform.IsOperator(def.Tool) {
			return newConfigError(def.ID, "",
				fmt.Sprintf("unknown code operator: %s", def.Tool), ErrUnknownOperator)
		}
		if len(def.Outputs) != 1 {
			return newConfigError(def.ID, "",
				fmt.Sprintf("code step must declare exactly one output, got %d", len(def.Outputs)),
				ErrInvalidSlot)
		}

	case domain.StepKindChip:
		return validateChip(def)
	}

	return nil
}

// validateChip валидирует chip-шаг: подграф и экспорт выходов.
func validateChip(def *domain.StepDef) error {
	sub := def.Graph
	if sub == nil {
		builtin, ok := BuiltinChip(def.Tool)
		if !ok {
			return newConfigError(def.ID, "",
				fmt.Sprintf("chip has no sub-graph and no builtin template %q", def.Tool), ErrUnknownChip)
		}
		sub = builtin
	}

	if err := ValidateSpec(sub); err != nil {
		return fmt.Errorf("chip %s: %w", def.ID, err)
	}

	subByID := make(map[string]*domain.StepDef, len(sub.Steps))
	for i := range sub.Steps {
		subByID[sub.Steps[i].ID] = &sub.Steps[i]
	}

	// Внутренние external-ссылки должны соответствовать входам chip'а.
	inputs := make(map[string]domain.DataType, len(def.Inputs))
	for _, in := range def.Inputs {
		inputs[in.Name] = in.Type
	}
	for i := range sub.Steps {
		for _, in := range sub.Steps[i].Inputs {
			if in.From == "" {
				continue
			}
			ref, err := parseFrom(in.From)
			if err != nil {
				return newConfigError(sub.Steps[i].ID, in.Name, err.Error(), ErrDanglingReference)
			}
			if ref.External == "" {
				continue
			}
			if _, ok := inputs[ref.External]; !ok {
				return newConfigError(def.ID, in.Name,
					fmt.Sprintf("chip sub-graph references undeclared input %q", ref.External),
					ErrDanglingReference)
			}
		}
	}

	// Выходы chip'а экспортируют выходы внутренних шагов.
	for _, out := range def.Outputs {
		from := out.From
		if from == "" && def.Graph == nil {
			from = builtinExport(def.Tool, out.Name)
		}
		if from == "" {
			return newConfigError(def.ID, out.Name,
				"chip output must reference an inner step output", ErrInvalidSlot)
		}
		ref, err := parseFrom(from)
		if err != nil || ref.External != "" {
			return newConfigError(def.ID, out.Name,
				"chip output must reference \"inner_step.slot\"", ErrDanglingReference)
		}
		inner, ok := subByID[ref.StepID]
		if !ok {
			return newConfigError(def.ID, out.Name,
				fmt.Sprintf("chip output references unknown inner step %q", ref.StepID),
				ErrDanglingReference)
		}
		innerOut := findOutputDef(inner, ref.Slot)
		if innerOut == nil {
			return newConfigError(def.ID, out.Name,
				fmt.Sprintf("inner step %q has no output %q", ref.StepID, ref.Slot),
				ErrDanglingReference)
		}
		if !innerOut.Type.CompatibleWith(out.Type) {
			return newConfigError(def.ID, out.Name,
				fmt.Sprintf("inner output %s is %s, chip declares %s", from, innerOut.Type, out.Type),
				ErrTypeMismatch)
		}
	}

	return nil
}

// validateInputSource проверяет, что источник входного слота разрешим
// и совместим по типу. Внешние ссылки проверяются позже, при
// материализации workflow, когда известны seed-данные.
func validateInputSource(def *domain.StepDef, in *domain.SlotDef, byID map[string]*domain.StepDef) error {
	if in.From == "" {
		return nil
	}

	ref, err := parseFrom(in.From)
	if err != nil {
		return newConfigError(def.ID, in.Name, err.Error(), ErrDanglingReference)
	}
	if ref.External != "" {
		return nil
	}

	if ref.StepID == def.ID {
		return newConfigError(def.ID, in.Name, "step depends on itself", ErrCyclicDependency)
	}

	producer, ok := byID[ref.StepID]
	if !ok {
		return newConfigError(def.ID, in.Name,
			fmt.Sprintf("references unknown step %q", ref.StepID), ErrDanglingReference)
	}
	out := findOutputDef(producer, ref.Slot)
	if out == nil {
		return newConfigError(def.ID, in.Name,
			fmt.Sprintf("step %q has no output %q", ref.StepID, ref.Slot), ErrDanglingReference)
	}
	if !out.Type.CompatibleWith(in.Type) {
		return newConfigError(def.ID, in.Name,
			fmt.Sprintf("source %s is %s, slot declares %s", in.From, out.Type, in.Type),
			ErrTypeMismatch)
	}

	return nil
}

// findOutputDef ищет объявление выходного слота по имени.
func findOutputDef(def *domain.StepDef, name string) *domain.SlotDef {
	for i := range def.Outputs {
		if def.Outputs[i].Name == name {
			return &def.Outputs[i]
		}
	}
	return nil
}

// NewSteps создаёт шаги workflow из валидного GraphSpec.
// Все шаги создаются в статусе PENDING; для chip-шагов встроенный
// шаблон подграфа разрешается из Tool.
func NewSteps(spec *domain.GraphSpec) []*domain.Step {
	steps := make([]*domain.Step, 0, len(spec.Steps))
	for i := range spec.Steps {
		def := &spec.Steps[i]

		step := &domain.Step{
			ID:     def.ID,
			Name:   def.Name,
			Kind:   def.Kind,
			Status: domain.StepStatusPending,
			Config: domain.StepConfig{
				Tool:     def.Tool,
				Template: def.Template,
				Schema:   def.Schema,
				Graph:    def.Graph,
			},
		}
		if def.Kind == domain.StepKindChip && step.Config.Graph == nil {
			if builtin, ok := BuiltinChip(def.Tool); ok {
				step.Config.Graph = builtin
			}
		}

		for _, in := range def.Inputs {
			step.Inputs = append(step.Inputs, domain.InputSlot{
				Name:     in.Name,
				Type:     in.Type,
				Optional: in.Optional,
				From:     in.From,
			})
		}
		for _, out := range def.Outputs {
			from := out.From
			if from == "" && def.Kind == domain.StepKindChip && def.Graph == nil {
				from = builtinExport(def.Tool, out.Name)
			}
			step.Outputs = append(step.Outputs, domain.OutputSlot{
				Name: out.Name,
				Type: out.Type,
				From: from,
			})
		}

		steps = append(steps, step)
	}
	return steps
}

// BuildWorkflow материализует workflow из GraphSpec и внешних данных.
//
// Валидирует спецификацию, создаёт шаги, регистрирует внешние
// DataItem'ы, связывает external- и константные входы и проверяет
// граф на циклы. Входы, питающиеся от шагов, остаются несвязанными
// до завершения порождающего шага.
func BuildWorkflow(name string, spec *domain.GraphSpec, external []*domain.DataItem) (*domain.Workflow, error) {
	if err := ValidateSpec(spec); err != nil {
		return nil, err
	}

	wf := domain.NewWorkflow(name)
	for _, item := range external {
		if err := wf.AddItem(item); err != nil {
			return nil, err
		}
	}

	for _, step := range NewSteps(spec) {
		wf.Steps[step.ID] = step
	}

	// Связываем константы и внешние данные.
	for i := range spec.Steps {
		def := &spec.Steps[i]
		step := wf.Steps[def.ID]

		for j := range def.Inputs {
			in := &def.Inputs[j]

			if in.Const != nil {
				item := domain.NewExternalItem(def.ID+"."+in.Name, domain.TypeConstant, in.Const)
				if err := wf.AddItem(item); err != nil {
					return nil, err
				}
				step.Input(in.Name).ItemID = &item.ID
				continue
			}

			if in.From == "" {
				continue
			}
			ref, _ := parseFrom(in.From)
			if ref.External == "" {
				continue
			}

			item, ok := wf.ExternalItem(ref.External)
			if !ok {
				if in.Optional {
					continue
				}
				return nil, newConfigError(def.ID, in.Name,
					fmt.Sprintf("no external data named %q", ref.External), ErrUnknownExternal)
			}
			if !item.Type.CompatibleWith(in.Type) {
				return nil, newConfigError(def.ID, in.Name,
					fmt.Sprintf("external %q is %s, slot declares %s", ref.External, item.Type, in.Type),
					ErrTypeMismatch)
			}
			step.Input(in.Name).ItemID = &item.ID
		}
	}

	// Циклы — фатальная ошибка конфигурации, обнаруживаемая при загрузке.
	if _, err := Build(wf); err != nil {
		return nil, err
	}

	return wf, nil
}
