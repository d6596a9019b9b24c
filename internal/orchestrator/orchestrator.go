package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/Canis/internal/batch"
	"github.com/shaiso/Canis/internal/domain"
	"github.com/shaiso/Canis/internal/events"
	"github.com/shaiso/Canis/internal/executor"
	"github.com/shaiso/Canis/internal/state"
	"github.com/shaiso/Canis/internal/telemetry"
)

// Default configuration values.
const (
	defaultPollInterval     = 10 * time.Second
	defaultOffloadThreshold = 64 * 1024
	defaultConcurrency      = 4
)

// Orchestrator управляет выполнением workflow.
//
// Центральный компонент системы, который:
//   - Периодически загружает незавершённые workflow из State Store
//   - Продвигает каждый на один такт планирования (Advance)
//   - Сохраняет состояние после каждого такта
//   - Финализирует workflow (COMPLETED/FAILED/BLOCKED)
type Orchestrator struct {
	store     state.Store
	artifacts state.Artifacts
	batch     *batch.Client

	registry *executor.Registry
	values   executor.ValueSource
	events   *events.Publisher

	// Active workflows — в обработке этим процессом (name → true)
	active map[string]bool
	mu     sync.Mutex

	pollInterval     time.Duration
	offloadThreshold int
	concurrency      int

	// Lifecycle
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Orchestrator.
type Config struct {
	// Store — хранилище состояния workflow.
	Store state.Store

	// Artifacts — хранилище артефактов. nil — все значения inline.
	Artifacts state.Artifacts

	// Batch — клиент внешнего batch-сервиса инференса.
	Batch *batch.Client

	// Events — публикация событий жизненного цикла.
	// nil — события отключены.
	Events *events.Publisher

	// PollInterval — интервал между тактами (default: 10s).
	PollInterval time.Duration

	// OffloadThreshold — порог выноса значений в артефакты, байт
	// (default: 64 KiB). Отрицательное значение отключает вынос.
	OffloadThreshold int

	// Concurrency — сколько executor'ов такт вызывает одновременно
	// (default: 4). Ограничивает параллелизм запуска и опроса
	// независимых шагов.
	Concurrency int

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Orchestrator.
func New(cfg Config) *Orchestrator {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	threshold := cfg.OffloadThreshold
	if threshold == 0 {
		threshold = defaultOffloadThreshold
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var values executor.ValueSource = executor.InlineValues{}
	if cfg.Artifacts != nil {
		values = &state.Resolver{Artifacts: cfg.Artifacts}
	}

	o := &Orchestrator{
		store:            cfg.Store,
		artifacts:        cfg.Artifacts,
		batch:            cfg.Batch,
		values:           values,
		events:           cfg.Events,
		active:           make(map[string]bool),
		pollInterval:     pollInterval,
		offloadThreshold: threshold,
		concurrency:      concurrency,
		logger:           logger,
	}
	o.registry = executor.NewDefaultRegistry(cfg.Batch, o, logger)
	return o
}

// Start запускает цикл планирования.
func (o *Orchestrator) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	o.cancelFunc = cancel

	o.logger.Info("starting orchestrator",
		"poll_interval", o.pollInterval,
		"offload_threshold", o.offloadThreshold,
		"concurrency", o.concurrency,
	)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.pollLoop(ctx)
	}()

	o.logger.Info("orchestrator started")
	return nil
}

// Stop останавливает Orchestrator и дожидается завершения такта.
func (o *Orchestrator) Stop() {
	o.stoppedMu.Lock()
	o.stopped = true
	o.stoppedMu.Unlock()

	o.logger.Info("stopping orchestrator...")

	if o.cancelFunc != nil {
		o.cancelFunc()
	}
	o.wg.Wait()

	o.logger.Info("orchestrator stopped")
}

// IsStopped проверяет, остановлен ли Orchestrator.
func (o *Orchestrator) IsStopped() bool {
	o.stoppedMu.RLock()
	defer o.stoppedMu.RUnlock()
	return o.stopped
}

// pollLoop — цикл тактов планирования.
func (o *Orchestrator) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	// Первый такт сразу при старте: подхватываем workflow,
	// оставшиеся в полёте с прошлого запуска процесса.
	o.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.poll(ctx)
		}
	}
}

// poll выполняет один цикл: такт для каждого незавершённого workflow.
func (o *Orchestrator) poll(ctx context.Context) {
	infos, err := o.store.List(ctx)
	if err != nil {
		o.logger.Error("failed to list workflows", "error", err)
		return
	}

	for _, info := range infos {
		if info.Status.IsTerminal() {
			continue
		}
		if err := o.Tick(ctx, info.Name); err != nil {
			telemetry.WithWorkflow(o.logger, info.Name).Error("tick failed", "error", err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// Tick загружает workflow, продвигает его на один такт и сохраняет.
func (o *Orchestrator) Tick(ctx context.Context, name string) error {
	if !o.acquire(name) {
		return fmt.Errorf("%w: %s", ErrWorkflowActive, name)
	}
	defer o.release(name)

	wf, err := o.store.Load(ctx, name)
	if err != nil {
		return err
	}
	if wf.Status.IsTerminal() {
		return nil
	}

	if _, err := o.Advance(ctx, wf); err != nil {
		return err
	}

	if o.artifacts != nil {
		if err := state.Offload(ctx, wf, o.artifacts, o.offloadThreshold); err != nil {
			return fmt.Errorf("offload: %w", err)
		}
	}
	return o.store.Save(ctx, wf)
}

// Cancel отменяет workflow: снимает batch-задания в полёте
// и переводит все незавершённые шаги в CANCELLED.
func (o *Orchestrator) Cancel(ctx context.Context, name string) error {
	wf, err := o.store.Load(ctx, name)
	if err != nil {
		return err
	}
	if wf.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrWorkflowFinished, name, wf.Status)
	}

	logger := telemetry.WithWorkflow(o.logger, name)

	prev := wf.Status
	o.cancelSteps(ctx, wf)
	wf.Status = domain.WorkflowStatusCancelled
	wf.Touch()

	telemetry.WorkflowsFinished.WithLabelValues(string(wf.Status)).Inc()
	if o.events != nil {
		err := o.events.WorkflowStatus(ctx, events.WorkflowStatusPayload{
			Workflow: wf.Name,
			From:     prev,
			To:       wf.Status,
		})
		if err != nil {
			logger.Warn("failed to publish workflow event", "error", err)
		}
	}
	logger.Info("workflow cancelled")
	return o.store.Save(ctx, wf)
}

// cancelSteps отменяет все незавершённые шаги, включая вложенные
// workflow chip-шагов.
func (o *Orchestrator) cancelSteps(ctx context.Context, wf *domain.Workflow) {
	for _, step := range wf.Steps {
		if step.IsTerminal() {
			continue
		}
		if step.Job != nil && step.Job.Submitted() && !step.Job.Status.IsTerminal() {
			if err := o.batch.Cancel(ctx, step.Job); err != nil {
				o.logger.Warn("failed to cancel batch job",
					"step_id", step.ID,
					"job_id", step.Job.JobID,
					"error", err,
				)
			}
		}
		if step.Sub != nil {
			o.cancelSteps(ctx, step.Sub)
			step.Sub.Status = domain.WorkflowStatusCancelled
		}
		step.MarkCancelled()
	}
}

// --- Активные workflow ---

func (o *Orchestrator) acquire(name string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active[name] {
		return false
	}
	o.active[name] = true
	telemetry.ActiveWorkflows.Set(float64(len(o.active)))
	return true
}

func (o *Orchestrator) release(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.active, name)
	telemetry.ActiveWorkflows.Set(float64(len(o.active)))
}
