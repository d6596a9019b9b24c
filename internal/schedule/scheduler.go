package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaiso/Canis/internal/domain"
	"github.com/shaiso/Canis/internal/engine"
	"github.com/shaiso/Canis/internal/seed"
	"github.com/shaiso/Canis/internal/state"
)

// Source — хранилище определений расписаний.
type Source interface {
	// List возвращает все определения.
	List(ctx context.Context) ([]Definition, error)

	// Get возвращает определение по имени.
	Get(ctx context.Context, name string) (*Definition, error)

	// Put создаёт или обновляет определение.
	Put(ctx context.Context, def *Definition) error

	// Delete удаляет определение.
	Delete(ctx context.Context, name string) error
}

// Scheduler создаёт workflow из определений с истекшим next_due_at.
type Scheduler struct {
	source Source
	store  state.Store
	logger *slog.Logger
}

// Config — конфигурация Scheduler.
type Config struct {
	Source Source
	Store  state.Store
	Logger *slog.Logger
}

// New создаёт новый Scheduler.
func New(cfg Config) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		source: cfg.Source,
		store:  cfg.Store,
		logger: logger,
	}
}

// Run выполняет тики с заданным интервалом до отмены контекста.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.logger.Error("scheduler tick failed", "error", err)
			}
		}
	}
}

// Tick выполняет один тик планировщика.
//
// Ошибки одного определения не блокируют обработку остальных.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := time.Now().UTC()

	defs, err := s.source.List(ctx)
	if err != nil {
		return fmt.Errorf("list schedules: %w", err)
	}

	var created int
	for i := range defs {
		def := &defs[i]
		if !def.Due(now) {
			continue
		}

		workflowCreated, err := s.processDefinition(ctx, def, now)
		if err != nil {
			s.logger.Error("failed to process schedule",
				"schedule", def.Name,
				"error", err,
			)
			continue
		}
		if workflowCreated {
			created++
		}
	}

	if created > 0 {
		s.logger.Info("scheduler tick completed", "workflows_created", created)
	}
	return nil
}

// processDefinition обрабатывает одно due-определение.
// Возвращает true, если workflow был создан (не был дубликатом).
func (s *Scheduler) processDefinition(ctx context.Context, def *Definition, now time.Time) (bool, error) {
	// Имя детерминировано: один workflow на schedule и время запуска.
	name := fmt.Sprintf("%s-%d", def.Name, def.NextDueAt.Unix())

	var workflowCreated bool
	_, err := s.store.Load(ctx, name)
	switch {
	case err == nil:
		s.logger.Debug("workflow already exists (idempotency)",
			"schedule", def.Name,
			"workflow", name,
		)

	case errors.Is(err, state.ErrNotFound):
		wf, err := s.buildWorkflow(name, def)
		if err != nil {
			return false, err
		}
		if err := s.store.Save(ctx, wf); err != nil {
			return false, fmt.Errorf("save workflow: %w", err)
		}
		workflowCreated = true
		s.logger.Info("created workflow from schedule",
			"schedule", def.Name,
			"workflow", name,
		)

	default:
		return false, fmt.Errorf("check workflow %s: %w", name, err)
	}

	nextDue, err := CalculateNextDue(def, now)
	if err != nil {
		// Определение некорректно: next_due_at не трогаем,
		// чтобы не зациклить создание.
		s.logger.Error("failed to calculate next due",
			"schedule", def.Name,
			"error", err,
		)
		return workflowCreated, nil
	}

	def.RecordRun(name, nextDue)
	if err := s.source.Put(ctx, def); err != nil {
		return workflowCreated, fmt.Errorf("update schedule: %w", err)
	}
	return workflowCreated, nil
}

// buildWorkflow собирает workflow определения: внешние DataItem'ы
// из seed-спецификации плюс граф.
func (s *Scheduler) buildWorkflow(name string, def *Definition) (*domain.Workflow, error) {
	var external []*domain.DataItem
	if def.Seed != nil {
		items, err := seed.Items(def.Seed)
		if err != nil {
			return nil, fmt.Errorf("seed items: %w", err)
		}
		external = items
	}

	wf, err := engine.BuildWorkflow(name, def.Graph, external)
	if err != nil {
		return nil, fmt.Errorf("build workflow: %w", err)
	}
	return wf, nil
}
