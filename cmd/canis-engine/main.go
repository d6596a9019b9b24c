// Canis Engine — движок генерации синтетических датасетов.
//
// Engine:
//   - Опрашивает State Store и продвигает активные workflow
//   - Отправляет и опрашивает batch-задания инференса
//   - Создаёт workflow из расписаний с истекшим next_due_at
//   - Публикует события жизненного цикла в RabbitMQ
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Canis/internal/batch"
	"github.com/shaiso/Canis/internal/events"
	"github.com/shaiso/Canis/internal/orchestrator"
	"github.com/shaiso/Canis/internal/schedule"
	"github.com/shaiso/Canis/internal/state"
	"github.com/shaiso/Canis/internal/telemetry"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting canis-engine")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// State Store: Postgres при заданном DB_URL, иначе файловый
	var store state.Store
	var artifacts state.Artifacts
	if os.Getenv("DB_URL") != "" {
		pool, err := state.NewPool(ctx)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		pg := state.NewPGStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			logger.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}
		store, artifacts = pg, pg
		logger.Info("database connected")
	} else {
		fs, err := state.NewFileStore(dataDir())
		if err != nil {
			logger.Error("failed to open state store", "error", err)
			os.Exit(1)
		}
		store, artifacts = fs, fs
		logger.Info("file store opened", "root", dataDir())
	}

	// Batch-клиент инференса
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		logger.Warn("OPENAI_API_KEY is not set, llm steps will fail on submission")
	}
	svc := batch.NewOpenAIService(batch.OpenAIConfig{
		APIKey:  apiKey,
		BaseURL: os.Getenv("OPENAI_BASE_URL"),
	})
	client := batch.NewClient(svc, batch.Config{Logger: logger})

	// RabbitMQ
	var publisher *events.Publisher
	mqConn, err := events.NewConnection(events.URLFromEnv(), logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, running without events", "error", err)
	} else {
		defer mqConn.Close()
		logger.Info("RabbitMQ connected")

		if err := events.SetupTopology(mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}
		publisher = events.NewPublisher(mqConn, logger)
	}

	// Создаём orchestrator
	orch := orchestrator.New(orchestrator.Config{
		Store:        store,
		Artifacts:    artifacts,
		Batch:        client,
		Events:       publisher,
		PollInterval: envDuration("POLL_INTERVAL", 10*time.Second),
		Concurrency:  envInt("STEP_CONCURRENCY", 0),
		Logger:       logger,
	})

	if err := orch.Start(ctx); err != nil {
		logger.Error("failed to start orchestrator", "error", err)
		os.Exit(1)
	}

	// Scheduler поверх файловых определений
	source, err := schedule.NewFileSource(dataDir())
	if err != nil {
		logger.Error("failed to open schedule source", "error", err)
		os.Exit(1)
	}
	sched := schedule.New(schedule.Config{
		Source: source,
		Store:  store,
		Logger: logger,
	})
	go sched.Run(ctx, envDuration("SCHEDULE_INTERVAL", time.Minute))

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	port := ":8080"
	if v := os.Getenv("ENGINE_PORT"); v != "" {
		port = ":" + v
	}

	go func() {
		logger.Info("listening", "addr", port)
		if err := http.ListenAndServe(port, mux); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()

	orch.Stop()
	logger.Info("canis-engine stopped")
}

func dataDir() string {
	if v := os.Getenv("CANIS_DATA"); v != "" {
		return v
	}
	return "./data"
}

func envInt(name string, fallback int) int {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(name string, fallback time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
