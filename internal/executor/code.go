package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/shaiso/Canis/internal/domain"
	"github.com/shaiso/Canis/internal/transform"
)

// Имена слотов, по которым операторы находят свои аргументы.
const (
	slotItems          = "items"
	slotTemplate       = "template"
	slotFirst          = "first"
	slotSecond         = "second"
	slotSingle         = "single"
	slotAdaptTo        = "data_to_adapt_to"
	slotData           = "data"
	slotClassification = "classification"
	slotLabels         = "labels"
)

// verdictField — поле с меткой в результатах классификации.
const verdictField = "label"

// CodeExecutor выполняет code-шаги: детерминированные операторы
// из библиотеки трансформаций. Все операторы синхронны.
type CodeExecutor struct {
	logger *slog.Logger
}

// NewCodeExecutor создаёт executor code-шагов.
func NewCodeExecutor(logger *slog.Logger) *CodeExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &CodeExecutor{logger: logger}
}

// Start выполняет оператор шага и возвращает готовый результат.
func (e *CodeExecutor) Start(ctx context.Context, run *Run, step *domain.Step) (*Result, error) {
	values, err := run.InputValues(ctx, step)
	if err != nil {
		return nil, err
	}

	output, err := e.apply(step, values)
	if err != nil {
		// Ошибка оператора детерминирована: повтор даст то же самое.
		return &Result{Failure: domain.NewFailure(domain.FailureInternal, err)}, nil
	}

	if len(step.Outputs) == 0 {
		return nil, fmt.Errorf("step %s declares no outputs", step.ID)
	}

	e.logger.Debug("code step executed",
		"step_id", step.ID,
		"tool", step.Config.Tool,
	)

	return &Result{
		Outputs: map[string]json.RawMessage{step.Outputs[0].Name: output},
	}, nil
}

// Poll не поддерживается: code-шаги завершаются в Start.
func (e *CodeExecutor) Poll(_ context.Context, _ *Run, step *domain.Step) (*Result, error) {
	return nil, fmt.Errorf("%w: code step %s", ErrNotAsync, step.ID)
}

// apply диспетчеризует вызов оператора по имени.
func (e *CodeExecutor) apply(step *domain.Step, values map[string]json.RawMessage) (json.RawMessage, error) {
	switch step.Config.Tool {
	case transform.OpMerge:
		items, err := itemsArgument(step, values)
		if err != nil {
			return nil, err
		}
		return transform.Merge(items)

	case transform.OpBind:
		tmpl, ok := values[slotTemplate]
		if !ok {
			return nil, fmt.Errorf("bind: no %q input", slotTemplate)
		}
		args := make(map[string]json.RawMessage, len(values)-1)
		for name, value := range values {
			if name != slotTemplate {
				args[name] = value
			}
		}
		return transform.Bind(tmpl, args)

	case transform.OpCombine:
		first, err := listArgument(values, slotFirst)
		if err != nil {
			return nil, err
		}
		second, err := listArgument(values, slotSecond)
		if err != nil {
			return nil, err
		}
		combined, err := transform.Combine(first, second)
		if err != nil {
			return nil, err
		}
		return json.Marshal(combined)

	case transform.OpExpand:
		single, ok := values[slotSingle]
		if !ok {
			return nil, fmt.Errorf("expand: no %q input", slotSingle)
		}
		adaptTo, ok := values[slotAdaptTo]
		if !ok {
			return nil, fmt.Errorf("expand: no %q input", slotAdaptTo)
		}
		return json.Marshal(transform.Expand(single, valueSize(adaptTo)))

	case transform.OpSegregate:
		data, err := listArgument(values, slotData)
		if err != nil {
			return nil, err
		}
		classification, err := listArgument(values, slotClassification)
		if err != nil {
			return nil, err
		}
		var labels []string
		if raw, ok := values[slotLabels]; ok {
			if err := json.Unmarshal(raw, &labels); err != nil {
				return nil, fmt.Errorf("segregate: %q is not a list of strings: %w", slotLabels, err)
			}
		}
		verdicts, err := transform.Verdicts(classification, verdictField)
		if err != nil {
			return nil, err
		}
		groups, err := transform.Groups(data, verdicts, labels)
		if err != nil {
			return nil, err
		}
		return json.Marshal(groups)

	case transform.OpFinalize:
		data, err := listArgument(values, slotData)
		if err != nil {
			return nil, err
		}
		dataset, err := transform.Finalize(data, step.Config.Schema)
		if err != nil {
			return nil, err
		}
		return json.Marshal(dataset)

	default:
		return nil, fmt.Errorf("unknown operator %q", step.Config.Tool)
	}
}

// itemsArgument собирает аргументы merge: слот "items" со списком либо
// все связанные входы по порядку объявления.
func itemsArgument(step *domain.Step, values map[string]json.RawMessage) ([]json.RawMessage, error) {
	if raw, ok := values[slotItems]; ok {
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("merge: %q is not a JSON array: %w", slotItems, err)
		}
		return items, nil
	}

	items := make([]json.RawMessage, 0, len(values))
	for i := range step.Inputs {
		if raw, ok := values[step.Inputs[i].Name]; ok {
			items = append(items, raw)
		}
	}
	return items, nil
}

// listArgument достаёт обязательный списковый аргумент.
func listArgument(values map[string]json.RawMessage, name string) ([]json.RawMessage, error) {
	raw, ok := values[name]
	if !ok {
		return nil, fmt.Errorf("no %q input", name)
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("%q is not a JSON array: %w", name, err)
	}
	return list, nil
}

// valueSize определяет размер значения, под который размножается
// одиночный элемент: длина массива, количество ключей объекта,
// для скаляра — единица.
func valueSize(raw json.RawMessage) int {
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err == nil {
		return len(arr)
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err == nil {
		return len(obj)
	}
	return 1
}
