package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shaiso/Canis/internal/batch"
	"github.com/shaiso/Canis/internal/domain"
	"github.com/shaiso/Canis/internal/transform"
)

// LLMExecutor выполняет llm-шаги через внешний batch-сервис.
//
// Start собирает запросы из шаблона и связанных входов и отправляет
// их одним batch'ом. Poll опрашивает job и по завершении собирает
// результаты в выходной список в порядке исходных запросов.
type LLMExecutor struct {
	client *batch.Client
	logger *slog.Logger
}

// NewLLMExecutor создаёт executor поверх клиента batch-сервиса.
func NewLLMExecutor(client *batch.Client, logger *slog.Logger) *LLMExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMExecutor{client: client, logger: logger}
}

// Start отправляет batch. Шаг остаётся в полёте до завершения job'а.
func (e *LLMExecutor) Start(ctx context.Context, run *Run, step *domain.Step) (*Result, error) {
	tmpl, err := domain.ParseCallTemplate(step.Config.Template)
	if err != nil {
		return &Result{Failure: domain.NewFailure(domain.FailureConfiguration,
			fmt.Errorf("call template: %w", err))}, nil
	}

	values, err := run.InputValues(ctx, step)
	if err != nil {
		return nil, err
	}

	requests, err := buildRequests(tmpl, step, values)
	if err != nil {
		return &Result{Failure: domain.NewFailure(domain.FailureConfiguration, err)}, nil
	}

	if step.Job == nil {
		step.Job = &domain.BatchJob{}
	}

	name := run.Workflow.Name + "-" + step.ID
	if err := e.client.Submit(ctx, name, step.Job, requests); err != nil {
		switch {
		case errors.Is(err, batch.ErrSubmissionRejected):
			return &Result{Failure: domain.NewFailure(domain.FailureSubmission, err)}, nil
		case errors.Is(err, batch.ErrRetryExhausted):
			return &Result{Failure: domain.NewFailure(domain.FailureTransient, err)}, nil
		default:
			return nil, err
		}
	}

	e.logger.Info("llm step submitted",
		"step_id", step.ID,
		"job_id", step.Job.JobID,
		"requests", len(requests),
	)
	return nil, nil
}

// Poll продвигает job шага и по завершении собирает выходы.
func (e *LLMExecutor) Poll(ctx context.Context, run *Run, step *domain.Step) (*Result, error) {
	job := step.Job
	if job == nil || !job.Submitted() {
		return nil, fmt.Errorf("%w: step %s", ErrNoJob, step.ID)
	}

	if !job.Status.IsTerminal() {
		_, err := e.client.Poll(ctx, job)
		switch {
		case errors.Is(err, batch.ErrJobExpired):
			return &Result{Failure: domain.NewFailure(domain.FailureExpired, err)}, nil
		case errors.Is(err, batch.ErrRetryExhausted):
			return &Result{Failure: domain.NewFailure(domain.FailureTransient, err)}, nil
		case err != nil:
			return nil, err
		}
	}

	switch {
	case job.Status.Fetchable():
		if err := e.client.Fetch(ctx, job); err != nil {
			if errors.Is(err, batch.ErrRetryExhausted) {
				return &Result{Failure: domain.NewFailure(domain.FailureTransient, err)}, nil
			}
			return nil, err
		}
		return e.assemble(step, job)

	case job.Status == domain.JobStatusExpired:
		return &Result{Failure: domain.NewFailure(domain.FailureExpired,
			fmt.Errorf("job %s expired", job.JobID))}, nil

	case job.Status == domain.JobStatusCancelled:
		return &Result{Cancelled: true}, nil

	case job.Status == domain.JobStatusFailed:
		return &Result{Failure: domain.NewFailure(domain.FailureSubmission,
			fmt.Errorf("job %s failed on the service side", job.JobID))}, nil

	default:
		// IN_PROGRESS
		return nil, nil
	}
}

// assemble собирает результаты job'а в выходной список шага.
//
// Список имеет длину batch'а; позиции упавших запросов — JSON null,
// их ошибки перечислены в Result.RequestErrors. Ответы в формате JSON
// кладутся как есть, остальные — как JSON-строки.
func (e *LLMExecutor) assemble(step *domain.Step, job *domain.BatchJob) (*Result, error) {
	if len(step.Outputs) == 0 {
		return nil, fmt.Errorf("step %s declares no outputs", step.ID)
	}

	entries := make([]json.RawMessage, job.RequestCount)
	var requestErrors []domain.RequestResult

	for i := 0; i < job.RequestCount; i++ {
		result := job.Results[i]
		if result.Err != "" {
			entries[i] = json.RawMessage("null")
			requestErrors = append(requestErrors, result)
			continue
		}
		entries[i] = contentValue(result.Content)
	}

	value, err := json.Marshal(entries)
	if err != nil {
		return nil, err
	}

	if len(requestErrors) > 0 {
		e.logger.Warn("llm step completed with errors",
			"step_id", step.ID,
			"job_id", job.JobID,
			"failed", len(requestErrors),
			"total", job.RequestCount,
		)
	}

	return &Result{
		Outputs:       map[string]json.RawMessage{step.Outputs[0].Name: value},
		RequestErrors: requestErrors,
	}, nil
}

// contentValue переводит текст ответа модели в JSON-значение.
func contentValue(content string) json.RawMessage {
	if json.Valid([]byte(content)) {
		return json.RawMessage(content)
	}
	quoted, _ := json.Marshal(content)
	return quoted
}

// buildRequests строит запросы batch'а из шаблона и значений входов.
//
// Списковые входы трактуются как колонки: все списки должны иметь
// одинаковую длину n (список из одного элемента размножается), шаг
// отправляет n запросов. Остальные входы подставляются целиком в
// каждый запрос.
func buildRequests(tmpl *domain.CallTemplate, step *domain.Step, values map[string]json.RawMessage) ([]batch.Request, error) {
	rows, err := zipInputs(step, values)
	if err != nil {
		return nil, err
	}

	requests := make([]batch.Request, 0, len(rows))
	for i, row := range rows {
		system := tmpl.System
		if system != "" {
			if system, err = transform.BindString(system, row); err != nil {
				return nil, fmt.Errorf("request %d: render system: %w", i, err)
			}
		}
		user, err := transform.BindString(tmpl.User, row)
		if err != nil {
			return nil, fmt.Errorf("request %d: render user: %w", i, err)
		}

		requests = append(requests, batch.Request{
			Index:        i,
			Model:        tmpl.Model,
			Temperature:  tmpl.Temperature,
			MaxTokens:    tmpl.MaxTokens,
			JSONResponse: tmpl.JSONResponse,
			System:       system,
			User:         user,
		})
	}
	return requests, nil
}

// zipInputs раскладывает значения входов по запросам.
func zipInputs(step *domain.Step, values map[string]json.RawMessage) ([]map[string]json.RawMessage, error) {
	columns := make(map[string][]json.RawMessage)
	scalars := make(map[string]json.RawMessage)

	n := 1
	for i := range step.Inputs {
		in := &step.Inputs[i]
		raw, ok := values[in.Name]
		if !ok {
			continue
		}

		if in.Type != domain.TypeList {
			scalars[in.Name] = raw
			continue
		}

		var column []json.RawMessage
		if err := json.Unmarshal(raw, &column); err != nil {
			return nil, fmt.Errorf("input %s is not a JSON array: %w", in.Name, err)
		}
		columns[in.Name] = column

		if len(column) != 1 {
			if n != 1 && len(column) != n {
				return nil, fmt.Errorf("%w: input %s has %d items, expected %d",
					transform.ErrLengthMismatch, in.Name, len(column), n)
			}
			n = len(column)
		}
	}

	rows := make([]map[string]json.RawMessage, n)
	for i := 0; i < n; i++ {
		row := make(map[string]json.RawMessage, len(scalars)+len(columns))
		for name, value := range scalars {
			row[name] = value
		}
		for name, column := range columns {
			if len(column) == 1 {
				row[name] = column[0]
			} else {
				row[name] = column[i]
			}
		}
		rows[i] = row
	}
	return rows, nil
}
