package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/shaiso/Canis/internal/batch"
	"github.com/shaiso/Canis/internal/domain"
)

// ValueSource разрешает значение DataItem'а: inline-значения отдаются
// как есть, вынесенные в артефакты — дочитываются из хранилища.
type ValueSource interface {
	Resolve(ctx context.Context, item *domain.DataItem) ([]byte, error)
}

// Run — контекст выполнения шагов одного workflow.
//
// Явно передаётся в каждый вызов executor'а: глобального состояния
// нет, несколько workflow могут выполняться в одном процессе.
type Run struct {
	// Workflow — выполняемый workflow.
	Workflow *domain.Workflow

	// Values — источник значений DataItem'ов.
	Values ValueSource
}

// InputValues возвращает значения связанных входных слотов шага:
// имя слота → JSON-значение. Несвязанные опциональные слоты
// пропускаются, несвязанный обязательный — ErrMissingInput.
func (r *Run) InputValues(ctx context.Context, step *domain.Step) (map[string]json.RawMessage, error) {
	values := make(map[string]json.RawMessage, len(step.Inputs))

	for i := range step.Inputs {
		in := &step.Inputs[i]
		if !in.Bound() {
			if in.Optional {
				continue
			}
			return nil, fmt.Errorf("%w: step %s slot %s", ErrMissingInput, step.ID, in.Name)
		}

		item, ok := r.Workflow.Item(*in.ItemID)
		if !ok {
			return nil, fmt.Errorf("%w: step %s slot %s references a missing item",
				ErrMissingInput, step.ID, in.Name)
		}

		value, err := r.Values.Resolve(ctx, item)
		if err != nil {
			return nil, fmt.Errorf("resolve %s.%s: %w", step.ID, in.Name, err)
		}
		values[in.Name] = value
	}

	return values, nil
}

// Result — исход выполнения шага.
//
// Ровно одно из трёх: Outputs (успех, возможно с per-request ошибками),
// Failure (шаг упал) или Cancelled. Все поля пустые быть не могут.
type Result struct {
	// Outputs — имя выходного слота → JSON-значение.
	Outputs map[string]json.RawMessage

	// RequestErrors — ошибки отдельных запросов завершённого batch'а.
	// Непустой список при заполненных Outputs означает
	// "завершён с ошибками": шаг успешен, но часть позиций пуста.
	RequestErrors []domain.RequestResult

	// Failure — причина отказа шага.
	Failure *domain.FailureReason

	// Cancelled — шаг отменён на стороне сервиса или вместе с workflow.
	Cancelled bool
}

// Executor — исполнение одного вида шага.
//
// Start начинает выполнение. Возврат (nil, nil) означает, что шаг
// асинхронный и его нужно опрашивать Poll'ом. Poll с тем же контрактом:
// (nil, nil) — ещё в полёте, Result — финальный исход.
//
// error возвращается только для инфраструктурных сбоев, после которых
// вызов имеет смысл повторить; все осмысленные отказы шага приходят
// через Result.Failure.
type Executor interface {
	Start(ctx context.Context, run *Run, step *domain.Step) (*Result, error)
	Poll(ctx context.Context, run *Run, step *domain.Step) (*Result, error)
}

// Registry — реестр executor'ов по виду шага.
type Registry struct {
	executors map[domain.StepKind]Executor
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[domain.StepKind]Executor)}
}

// NewDefaultRegistry создаёт реестр со всеми стандартными executor'ами.
func NewDefaultRegistry(client *batch.Client, runner Advancer, logger *slog.Logger) *Registry {
	r := NewRegistry()
	r.Register(domain.StepKindLLM, NewLLMExecutor(client, logger))
	r.Register(domain.StepKindCode, NewCodeExecutor(logger))
	r.Register(domain.StepKindChip, NewChipExecutor(runner, logger))
	return r
}

// Register добавляет executor для вида шага.
func (r *Registry) Register(kind domain.StepKind, executor Executor) {
	r.executors[kind] = executor
}

// Get возвращает executor для вида шага.
func (r *Registry) Get(kind domain.StepKind) (Executor, error) {
	executor, ok := r.executors[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStepKind, kind)
	}
	return executor, nil
}

// InlineValues — ValueSource для workflow, у которых все значения
// хранятся inline (тесты, только что созданные workflow).
type InlineValues struct{}

// Resolve возвращает inline-значение DataItem'а.
func (InlineValues) Resolve(_ context.Context, item *domain.DataItem) ([]byte, error) {
	if !item.Inline() {
		return nil, fmt.Errorf("item %s is stored as artifact %s", item.Name, item.ArtifactRef)
	}
	return item.Value, nil
}
