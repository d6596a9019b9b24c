package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/shaiso/Canis/internal/domain"

	openai "github.com/sashabaranov/go-openai"
)

// Config — настройки клиента batch-сервиса.
type Config struct {
	// MaxAttempts — максимальное число попыток одной операции
	// (включая первую). По умолчанию 5.
	MaxAttempts int

	// InitialDelay — задержка перед первым повтором. По умолчанию 1s.
	InitialDelay time.Duration

	// MaxDelay — потолок задержки между повторами. По умолчанию 30s.
	MaxDelay time.Duration

	// MaxJobAge — максимальный срок жизни job'а с момента отправки.
	// Job старше помечается EXPIRED при очередном опросе.
	// По умолчанию 24h.
	MaxJobAge time.Duration

	// Logger — структурный логгер; nil — slog.Default().
	Logger *slog.Logger
}

// Client — обёртка над Service с централизованной политикой повторов.
//
// Транзиентные ошибки (сетевые сбои, 429, 5xx) повторяются с
// exponential backoff до MaxAttempts; исчерпание бюджета — финальный
// отказ операции. Ошибки отдельных запросов внутри завершённого
// batch'а не повторяются никогда.
type Client struct {
	svc    Service
	cfg    Config
	logger *slog.Logger
	nowFn  func() time.Time
}

// NewClient создаёт клиент над svc.
func NewClient(svc Service, cfg Config) *Client {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	if cfg.MaxJobAge <= 0 {
		cfg.MaxJobAge = 24 * time.Hour
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		svc:    svc,
		cfg:    cfg,
		logger: logger,
		nowFn:  time.Now,
	}
}

// Submit отправляет запросы и заполняет job внешними идентификаторами.
//
// Идемпотентна: job с уже записанным JobID не отправляется повторно —
// сервис не гарантирует exactly-once, и повторная отправка породила бы
// дубликат. Отказ сервиса принять batch — ErrSubmissionRejected,
// без повторов.
func (c *Client) Submit(ctx context.Context, name string, job *domain.BatchJob, requests []Request) error {
	if job.Submitted() {
		c.logger.Debug("submit skipped, job already has an external id",
			"job_id", job.JobID,
		)
		return nil
	}

	var sub *Submission
	err := c.withRetry(ctx, "submit", job, func() error {
		var err error
		sub, err = c.svc.Submit(ctx, name, requests)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrRetryExhausted) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrSubmissionRejected, err)
	}

	job.JobID = sub.JobID
	job.InputFileID = sub.InputFileID
	job.RequestCount = len(requests)
	job.Status = domain.JobStatusInProgress
	job.SubmittedAt = c.nowFn()

	c.logger.Info("batch submitted",
		"job_id", job.JobID,
		"requests", len(requests),
	)
	return nil
}

// Poll обновляет статус job'а. Возвращает true, если статус изменился.
//
// Job старше MaxJobAge помечается EXPIRED без обращения к сервису:
// сервис сам истечёт его по окну выполнения, а нам незачем ждать.
func (c *Client) Poll(ctx context.Context, job *domain.BatchJob) (bool, error) {
	if !job.Submitted() {
		return false, ErrNotSubmitted
	}
	if job.Status.IsTerminal() {
		return false, nil
	}

	if job.Age(c.nowFn()) > c.cfg.MaxJobAge {
		job.Status = domain.JobStatusExpired
		c.logger.Warn("batch expired by age",
			"job_id", job.JobID,
			"age", job.Age(c.nowFn()),
		)
		return true, fmt.Errorf("%w: job %s", ErrJobExpired, job.JobID)
	}

	var remote *Remote
	err := c.withRetry(ctx, "poll", job, func() error {
		var err error
		remote, err = c.svc.Poll(ctx, job.JobID)
		return err
	})
	if err != nil {
		return false, err
	}

	job.LastPolledAt = c.nowFn()

	changed := job.Status != remote.Status
	job.Status = remote.Status
	if remote.OutputFileID != "" {
		job.OutputFileID = remote.OutputFileID
	}

	if changed {
		c.logger.Info("batch status changed",
			"job_id", job.JobID,
			"status", job.Status,
			"completed", remote.Completed,
			"failed", remote.Failed,
		)
	}
	return changed, nil
}

// Fetch забирает результаты завершённого job'а в job.Results.
//
// Повторно вызываемая: уже заполненные Results не перезаписываются.
// Запросы, для которых сервис не вернул ни результата, ни ошибки,
// получают синтетическую ошибку — вызывающий всегда видит исход
// каждого запроса.
func (c *Client) Fetch(ctx context.Context, job *domain.BatchJob) error {
	if !job.Status.Fetchable() {
		return fmt.Errorf("%w: job %s is %s", ErrNotFetchable, job.JobID, job.Status)
	}
	if len(job.Results) > 0 {
		return nil
	}

	// Свежие идентификаторы файлов: error-файл появляется только
	// в ответе сервиса, локально мы его не храним.
	var remote *Remote
	err := c.withRetry(ctx, "poll", job, func() error {
		var err error
		remote, err = c.svc.Poll(ctx, job.JobID)
		return err
	})
	if err != nil {
		return err
	}

	results := make(map[int]domain.RequestResult, job.RequestCount)

	for _, fileID := range []string{remote.OutputFileID, remote.ErrorFileID} {
		if fileID == "" {
			continue
		}
		var part map[int]domain.RequestResult
		err := c.withRetry(ctx, "fetch", job, func() error {
			var err error
			part, err = c.svc.Fetch(ctx, fileID)
			return err
		})
		if err != nil {
			return err
		}
		for idx, res := range part {
			if _, exists := results[idx]; !exists {
				results[idx] = res
			}
		}
	}

	for i := 0; i < job.RequestCount; i++ {
		if _, ok := results[i]; !ok {
			results[i] = domain.RequestResult{
				Index: i,
				Err:   "no result returned by the service",
			}
		}
	}

	job.Results = results
	if remote.OutputFileID != "" {
		job.OutputFileID = remote.OutputFileID
	}

	c.logger.Info("batch results fetched",
		"job_id", job.JobID,
		"results", len(results),
		"failed", job.FailedRequests(),
	)
	return nil
}

// Cancel отменяет job у сервиса. Best-effort: job, успевший завершиться
// до отмены, остаётся в своём терминальном статусе.
func (c *Client) Cancel(ctx context.Context, job *domain.BatchJob) error {
	if !job.Submitted() || job.Status.IsTerminal() {
		return nil
	}

	if err := c.svc.Cancel(ctx, job.JobID); err != nil {
		c.logger.Warn("batch cancel failed",
			"job_id", job.JobID,
			"error", err,
		)
		return err
	}

	job.Status = domain.JobStatusCancelled
	c.logger.Info("batch cancelled", "job_id", job.JobID)
	return nil
}

// withRetry выполняет операцию с повторами транзиентных ошибок.
func (c *Client) withRetry(ctx context.Context, op string, job *domain.BatchJob, fn func() error) error {
	var lastErr error

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) {
			return lastErr
		}

		if attempt == c.cfg.MaxAttempts {
			break
		}

		job.Retries++
		delay := c.backoff(attempt)

		c.logger.Debug("retrying batch operation",
			"op", op,
			"job_id", job.JobID,
			"attempt", attempt,
			"delay", delay,
			"error", lastErr,
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return fmt.Errorf("%w: %s after %d attempts: %v", ErrRetryExhausted, op, c.cfg.MaxAttempts, lastErr)
}

// backoff считает задержку перед повтором: initialDelay * 2^(attempt-1),
// не больше MaxDelay.
func (c *Client) backoff(attempt int) time.Duration {
	delay := c.cfg.InitialDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay > c.cfg.MaxDelay {
			return c.cfg.MaxDelay
		}
	}
	return delay
}

// IsTransient классифицирует ошибку как транзиентную: сетевые сбои,
// rate limiting и серверные ошибки сервиса. Ошибки 4xx (кроме 429)
// транзиентными не считаются — повтор того же запроса даст тот же ответ.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == 429 {
			return true
		}
		return apiErr.HTTPStatusCode >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return errors.Is(err, context.DeadlineExceeded)
}
