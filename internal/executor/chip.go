package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shaiso/Canis/internal/domain"
	"github.com/shaiso/Canis/internal/engine"
)

// Advancer продвигает вложенный workflow на один такт планирования.
// Реализуется оркестратором; интерфейс разрывает циклическую
// зависимость между executor'ами и планировщиком.
type Advancer interface {
	AdvanceSub(ctx context.Context, wf *domain.Workflow) error
}

// ChipExecutor выполняет chip-шаги: разворачивает подграф во вложенный
// workflow и продвигает его на каждом Poll. Вложенный workflow живёт
// в Step.Sub и сохраняется вместе с внешним, поэтому рестарт процесса
// не теряет прогресс chip'а.
type ChipExecutor struct {
	runner Advancer
	logger *slog.Logger
}

// NewChipExecutor создаёт executor chip-шагов.
func NewChipExecutor(runner Advancer, logger *slog.Logger) *ChipExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChipExecutor{runner: runner, logger: logger}
}

// Start разворачивает подграф. Входы chip'а становятся внешними
// данными вложенного workflow под именами своих слотов.
func (e *ChipExecutor) Start(ctx context.Context, run *Run, step *domain.Step) (*Result, error) {
	if step.Sub != nil {
		// Рестарт: подграф уже развёрнут, продолжаем опрос.
		return nil, nil
	}
	if step.Config.Graph == nil {
		return &Result{Failure: domain.NewFailure(domain.FailureConfiguration,
			fmt.Errorf("chip %s has no sub-graph", step.ID))}, nil
	}

	values, err := run.InputValues(ctx, step)
	if err != nil {
		return nil, err
	}

	external := make([]*domain.DataItem, 0, len(values))
	for i := range step.Inputs {
		in := &step.Inputs[i]
		value, ok := values[in.Name]
		if !ok {
			continue
		}
		external = append(external, domain.NewExternalItem(in.Name, in.Type, value))
	}

	sub, err := engine.BuildWorkflow(run.Workflow.Name+"/"+step.ID, step.Config.Graph, external)
	if err != nil {
		return &Result{Failure: domain.NewFailure(domain.FailureConfiguration, err)}, nil
	}

	step.Sub = sub
	e.logger.Info("chip expanded",
		"step_id", step.ID,
		"sub_workflow", sub.ID,
		"steps", len(sub.Steps),
	)
	return nil, nil
}

// Poll продвигает вложенный workflow и по его завершении экспортирует
// выходы внутренних шагов в выходы chip'а.
func (e *ChipExecutor) Poll(ctx context.Context, run *Run, step *domain.Step) (*Result, error) {
	sub := step.Sub
	if sub == nil {
		return nil, fmt.Errorf("%w: chip %s", ErrNoSubWorkflow, step.ID)
	}

	if !sub.Status.IsTerminal() {
		if err := e.runner.AdvanceSub(ctx, sub); err != nil {
			return nil, err
		}
	}

	switch sub.Status {
	case domain.WorkflowStatusCompleted:
		return e.export(ctx, run, step, sub)

	case domain.WorkflowStatusFailed:
		return &Result{Failure: subFailure(sub)}, nil

	case domain.WorkflowStatusCancelled:
		return &Result{Cancelled: true}, nil

	default:
		return nil, nil
	}
}

// export собирает выходы chip'а из выходов внутренних шагов.
func (e *ChipExecutor) export(ctx context.Context, run *Run, step *domain.Step, sub *domain.Workflow) (*Result, error) {
	outputs := make(map[string]json.RawMessage, len(step.Outputs))

	for i := range step.Outputs {
		out := &step.Outputs[i]

		innerStep, innerSlot, ok := strings.Cut(out.From, ".")
		if !ok {
			return nil, fmt.Errorf("chip %s output %s has no inner source", step.ID, out.Name)
		}

		inner, exists := sub.Step(innerStep)
		if !exists {
			return nil, fmt.Errorf("chip %s output %s references missing inner step %s",
				step.ID, out.Name, innerStep)
		}
		slot := inner.Output(innerSlot)
		if slot == nil || slot.ItemID == nil {
			return nil, fmt.Errorf("chip %s output %s: inner slot %s is not bound",
				step.ID, out.Name, out.From)
		}
		item, exists := sub.Item(*slot.ItemID)
		if !exists {
			return nil, fmt.Errorf("chip %s output %s: inner item is missing", step.ID, out.Name)
		}

		value, err := run.Values.Resolve(ctx, item)
		if err != nil {
			return nil, fmt.Errorf("chip %s output %s: %w", step.ID, out.Name, err)
		}
		outputs[out.Name] = value
	}

	e.logger.Info("chip completed",
		"step_id", step.ID,
		"outputs", len(outputs),
	)
	return &Result{Outputs: outputs}, nil
}

// subFailure находит причину отказа вложенного workflow.
func subFailure(sub *domain.Workflow) *domain.FailureReason {
	for _, inner := range sub.Steps {
		if inner.Status == domain.StepStatusFailed && inner.Failure != nil {
			return &domain.FailureReason{
				Kind:    inner.Failure.Kind,
				Message: fmt.Sprintf("inner step %s: %s", inner.ID, inner.Failure.Message),
			}
		}
	}
	return &domain.FailureReason{
		Kind:    domain.FailureInternal,
		Message: "sub-workflow failed without a recorded reason",
	}
}
