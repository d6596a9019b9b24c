package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shaiso/Canis/internal/domain"
	"github.com/shaiso/Canis/internal/engine"
	"github.com/shaiso/Canis/internal/events"
	"github.com/shaiso/Canis/internal/executor"
	"github.com/shaiso/Canis/internal/telemetry"

	"golang.org/x/sync/errgroup"
)

// externalPrefix — префикс ссылок на внешние данные в InputSlot.From.
const externalPrefix = "external:"

// AdvanceResult — итог одного такта планирования.
type AdvanceResult struct {
	// Started — шаги, запущенные в этом такте.
	Started []string

	// Completed — шаги, завершившиеся в этом такте.
	Completed []string

	// Blocked — готовых шагов нет, но не все шаги терминальны:
	// прогресса больше не будет без внешнего вмешательства.
	Blocked bool

	// Terminal — workflow достиг финального статуса.
	Terminal bool
}

// Advance продвигает workflow на один такт планирования.
//
// Такт:
//  1. опросить RUNNING-шаги;
//  2. связать выходы завершённых шагов со входами зависимых;
//  3. запустить готовые шаги (до неподвижной точки: синхронные
//     code-шаги завершаются сразу и открывают следующие);
//  4. пометить недостижимые шаги упавшими;
//  5. пересчитать статус workflow.
//
// Идемпотентен: без изменений во внешнем мире повторный вызов
// не порождает переходов состояния.
func (o *Orchestrator) Advance(ctx context.Context, wf *domain.Workflow) (*AdvanceResult, error) {
	started := time.Now()
	defer func() { telemetry.AdvanceDuration.Observe(time.Since(started).Seconds()) }()
	telemetry.WorkflowsAdvanced.Inc()

	graph, err := engine.Build(wf)
	if err != nil {
		return nil, fmt.Errorf("build graph for %s: %w", wf.Name, err)
	}

	completedBefore := make(map[string]bool, len(wf.Steps))
	for id, step := range wf.Steps {
		completedBefore[id] = step.Status == domain.StepStatusCompleted
	}

	run := &executor.Run{Workflow: wf, Values: o.values}

	// Сначала опрос: завершения этого такта открывают новые шаги.
	running := make([]*domain.Step, 0, len(graph.Order))
	for _, node := range graph.Order {
		if node.Step.Status == domain.StepStatusRunning {
			running = append(running, node.Step)
		}
	}
	o.pollSteps(ctx, run, running)

	// Запуск до неподвижной точки: синхронные шаги завершаются
	// сразу и открывают зависимые в том же такте. Шаг запускается
	// не больше одного раза за такт.
	res := &AdvanceResult{}
	attempted := make(map[string]bool)
	for {
		o.bindInputs(wf)
		o.failStranded(graph)

		wave := make([]*domain.Step, 0)
		for _, step := range graph.ReadySteps() {
			if attempted[step.ID] {
				continue
			}
			attempted[step.ID] = true
			wave = append(wave, step)
			res.Started = append(res.Started, step.ID)
		}
		if len(wave) == 0 {
			break
		}
		o.startSteps(ctx, run, wave)
	}

	o.updateStatus(ctx, wf)
	wf.Touch()

	for _, node := range graph.Order {
		if node.Step.Status == domain.StepStatusCompleted && !completedBefore[node.Step.ID] {
			res.Completed = append(res.Completed, node.Step.ID)
		}
	}
	res.Terminal = wf.Status.IsTerminal()
	res.Blocked = wf.Status == domain.WorkflowStatusBlocked
	return res, nil
}

// AdvanceSub продвигает вложенный workflow chip-шага.
// Персистентность не нужна: Step.Sub сохраняется вместе с внешним.
func (o *Orchestrator) AdvanceSub(ctx context.Context, wf *domain.Workflow) error {
	_, err := o.Advance(ctx, wf)
	return err
}

// Интерфейс для ChipExecutor.
var _ executor.Advancer = (*Orchestrator)(nil)

// stepOutcome — исход одного вызова executor'а.
type stepOutcome struct {
	step *domain.Step
	res  *executor.Result
	err  error
}

// fanOut вызывает fn для каждого шага, не больше concurrency
// одновременно. Executor'ы пишут только в собственный шаг, поэтому
// параллелизм безопасен; исходы применяются вызывающим строго
// последовательно, после возврата.
func (o *Orchestrator) fanOut(ctx context.Context, steps []*domain.Step,
	fn func(context.Context, *domain.Step) (*executor.Result, error)) []stepOutcome {

	outcomes := make([]stepOutcome, len(steps))
	var g errgroup.Group
	g.SetLimit(o.concurrency)
	for i, step := range steps {
		i, step := i, step
		g.Go(func() error {
			res, err := fn(ctx, step)
			outcomes[i] = stepOutcome{step: step, res: res, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// startSteps запускает волну готовых шагов.
func (o *Orchestrator) startSteps(ctx context.Context, run *executor.Run, steps []*domain.Step) {
	launched := make([]*domain.Step, 0, len(steps))
	execs := make(map[string]executor.Executor, len(steps))
	for _, step := range steps {
		exec, err := o.registry.Get(step.Kind)
		if err != nil {
			o.finishStep(ctx, run.Workflow, step, &executor.Result{
				Failure: domain.NewFailure(domain.FailureInternal, err),
			})
			continue
		}

		step.MarkRunning()
		telemetry.StepsStarted.WithLabelValues(string(step.Kind)).Inc()
		o.logger.Info("step started",
			"workflow", run.Workflow.Name,
			"step_id", step.ID,
			"kind", step.Kind,
		)
		execs[step.ID] = exec
		launched = append(launched, step)
	}

	outcomes := o.fanOut(ctx, launched, func(ctx context.Context, step *domain.Step) (*executor.Result, error) {
		return execs[step.ID].Start(ctx, run, step)
	})
	for _, oc := range outcomes {
		switch {
		case oc.err != nil:
			// Инфраструктурный сбой: шаг вернётся в READY
			// и будет перезапущен на следующем такте.
			o.logger.Warn("step start failed, will retry",
				"workflow", run.Workflow.Name,
				"step_id", oc.step.ID,
				"error", oc.err,
			)
			oc.step.MarkReady()

		case oc.res != nil:
			o.finishStep(ctx, run.Workflow, oc.step, oc.res)

		default:
			o.jobSubmitted(ctx, run.Workflow, oc.step)
		}
	}
}

// pollSteps опрашивает выполняющиеся шаги.
func (o *Orchestrator) pollSteps(ctx context.Context, run *executor.Run, steps []*domain.Step) {
	pollable := make([]*domain.Step, 0, len(steps))
	execs := make(map[string]executor.Executor, len(steps))
	for _, step := range steps {
		exec, err := o.registry.Get(step.Kind)
		if err != nil {
			o.finishStep(ctx, run.Workflow, step, &executor.Result{
				Failure: domain.NewFailure(domain.FailureInternal, err),
			})
			continue
		}
		execs[step.ID] = exec
		pollable = append(pollable, step)
	}

	outcomes := o.fanOut(ctx, pollable, func(ctx context.Context, step *domain.Step) (*executor.Result, error) {
		return execs[step.ID].Poll(ctx, run, step)
	})
	for _, oc := range outcomes {
		if oc.err != nil {
			// Транзиентный инфраструктурный сбой: шаг остаётся RUNNING,
			// следующий такт повторит опрос.
			o.logger.Warn("step poll failed, will retry",
				"workflow", run.Workflow.Name,
				"step_id", oc.step.ID,
				"error", oc.err,
			)
			continue
		}
		if oc.res == nil {
			continue // всё ещё в полёте
		}
		o.finishStep(ctx, run.Workflow, oc.step, oc.res)
	}
}

// jobSubmitted фиксирует отправку batch-задания шага.
func (o *Orchestrator) jobSubmitted(ctx context.Context, wf *domain.Workflow, step *domain.Step) {
	if step.Job == nil || !step.Job.Submitted() {
		return
	}
	telemetry.BatchJobsSubmitted.Inc()
	if o.events == nil {
		return
	}
	err := o.events.JobSubmitted(ctx, events.JobSubmittedPayload{
		Workflow: wf.Name,
		StepID:   step.ID,
		JobID:    step.Job.JobID,
		Requests: step.Job.RequestCount,
	})
	if err != nil {
		o.logger.Warn("failed to publish job event", "step_id", step.ID, "error", err)
	}
}

// finishStep применяет финальный исход шага: связывает выходы
// и переводит шаг в терминальный статус.
func (o *Orchestrator) finishStep(ctx context.Context, wf *domain.Workflow, step *domain.Step, res *executor.Result) {
	switch {
	case res.Failure != nil:
		step.MarkFailed(res.Failure)
		o.logger.Error("step failed",
			"workflow", wf.Name,
			"step_id", step.ID,
			"failure", res.Failure.Kind,
			"reason", res.Failure.Message,
		)

	case res.Cancelled:
		step.MarkCancelled()
		o.logger.Info("step cancelled", "workflow", wf.Name, "step_id", step.ID)

	default:
		for i := range step.Outputs {
			out := &step.Outputs[i]
			value, ok := res.Outputs[out.Name]
			if !ok {
				continue
			}
			item := domain.NewDataItem(step.ID+"."+out.Name, out.Type, step.ID, out.Name)
			item.Value = value
			if err := wf.BindOutput(step.ID, out.Name, item); err != nil {
				step.MarkFailed(domain.NewFailure(domain.FailureInternal,
					fmt.Errorf("bind output %s: %w", out.Name, err)))
				telemetry.StepsFinished.WithLabelValues(string(step.Kind), string(step.Status)).Inc()
				return
			}
		}
		step.MarkCompleted()
		if len(res.RequestErrors) > 0 {
			telemetry.BatchRequestsFailed.Add(float64(len(res.RequestErrors)))
			o.logger.Warn("step completed with request errors",
				"workflow", wf.Name,
				"step_id", step.ID,
				"request_errors", len(res.RequestErrors),
			)
		} else {
			o.logger.Info("step completed", "workflow", wf.Name, "step_id", step.ID)
		}
	}

	telemetry.StepsFinished.WithLabelValues(string(step.Kind), string(step.Status)).Inc()

	if o.events != nil {
		err := o.events.StepFinished(ctx, events.StepFinishedPayload{
			Workflow: wf.Name,
			StepID:   step.ID,
			Kind:     step.Kind,
			Status:   step.Status,
			Failure:  step.Failure,
		})
		if err != nil {
			o.logger.Warn("failed to publish step event", "step_id", step.ID, "error", err)
		}
	}
}

// bindInputs связывает выходы завершённых шагов со входами зависимых.
func (o *Orchestrator) bindInputs(wf *domain.Workflow) {
	for _, step := range wf.Steps {
		if step.IsTerminal() {
			continue
		}
		for i := range step.Inputs {
			in := &step.Inputs[i]
			if in.Bound() || in.From == "" || strings.HasPrefix(in.From, externalPrefix) {
				continue
			}
			producerID, slot, ok := strings.Cut(in.From, ".")
			if !ok {
				continue
			}
			producer, exists := wf.Step(producerID)
			if !exists || producer.Status != domain.StepStatusCompleted {
				continue
			}
			out := producer.Output(slot)
			if out == nil || out.ItemID == nil {
				continue
			}
			if err := wf.BindInput(step.ID, in.Name, *out.ItemID); err != nil {
				step.MarkFailed(domain.NewFailure(domain.FailureConfiguration,
					fmt.Errorf("bind %s from %s: %w", in.Name, in.From, err)))
				telemetry.StepsFinished.WithLabelValues(string(step.Kind), string(step.Status)).Inc()
				break
			}
		}
	}
}

// failStranded помечает упавшими шаги, которые уже никогда
// не смогут запуститься из-за сбоя источника данных.
func (o *Orchestrator) failStranded(graph *engine.Graph) {
	// До неподвижной точки: отказ шага может сделать
	// недостижимыми его собственных зависимых.
	for {
		stranded := graph.Stranded()
		if len(stranded) == 0 {
			return
		}
		for _, step := range stranded {
			step.MarkFailed(&domain.FailureReason{
				Kind:    domain.FailureUpstream,
				Message: "required input is fed by a failed step",
			})
			telemetry.StepsFinished.WithLabelValues(string(step.Kind), string(step.Status)).Inc()
			o.logger.Warn("step stranded by upstream failure", "step_id", step.ID)
		}
	}
}

// updateStatus пересчитывает статус workflow по статусам шагов.
func (o *Orchestrator) updateStatus(ctx context.Context, wf *domain.Workflow) {
	if wf.Status.IsTerminal() {
		return
	}
	prev := wf.Status

	counts := wf.CountByStatus()
	switch {
	case wf.AllTerminal():
		switch {
		case counts[domain.StepStatusFailed] > 0:
			wf.Status = domain.WorkflowStatusFailed
		case counts[domain.StepStatusCancelled] > 0:
			wf.Status = domain.WorkflowStatusCancelled
		default:
			wf.Status = domain.WorkflowStatusCompleted
		}

	case counts[domain.StepStatusRunning] > 0 || counts[domain.StepStatusReady] > 0:
		wf.Status = domain.WorkflowStatusRunning

	case counts[domain.StepStatusPending] > 0 &&
		(counts[domain.StepStatusFailed] > 0 || counts[domain.StepStatusCancelled] > 0):
		// Незапущенные шаги остались, но прогресса больше не будет.
		wf.Status = domain.WorkflowStatusBlocked

	default:
		wf.Status = domain.WorkflowStatusRunning
	}

	if wf.Status != prev {
		o.logger.Info("workflow status changed",
			"workflow", wf.Name,
			"from", prev,
			"to", wf.Status,
		)
		if wf.Status.IsTerminal() {
			telemetry.WorkflowsFinished.WithLabelValues(string(wf.Status)).Inc()
		}
		if o.events != nil {
			err := o.events.WorkflowStatus(ctx, events.WorkflowStatusPayload{
				Workflow: wf.Name,
				From:     prev,
				To:       wf.Status,
			})
			if err != nil {
				o.logger.Warn("failed to publish workflow event", "workflow", wf.Name, "error", err)
			}
		}
	}
}
