package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/msaedi/instructly-sub008/internal/logger"
)

const (
	QueueCritical = "critical"
	QueueDefault  = "default"
)

// Worker runs the asynq server and the periodic recovery schedule.
type Worker struct {
	server    *asynq.Server
	scheduler *asynq.Scheduler
	handlers  *Handlers
}

func New(redisAddr string, concurrency int, recoveryInterval time.Duration, handlers *Handlers) (*Worker, error) {
	opt := asynq.RedisClientOpt{Addr: redisAddr}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			QueueCritical: 6,
			QueueDefault:  3,
		},
		Logger:   logger.L().Sugar(),
		LogLevel: asynq.WarnLevel,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			logger.Warn("task attempt failed", "type", task.Type(), "retried", retried, "max_retry", maxRetry, "error", err)
		}),
	})

	scheduler := asynq.NewScheduler(opt, &asynq.SchedulerOpts{Logger: logger.L().Sugar(), LogLevel: asynq.WarnLevel})
	every := fmt.Sprintf("@every %s", recoveryInterval)
	if _, err := scheduler.Register(every, asynq.NewTask(TypeRecover, nil), asynq.Queue(QueueCritical), asynq.MaxRetry(0)); err != nil {
		return nil, fmt.Errorf("failed to register recovery schedule: %w", err)
	}

	return &Worker{server: server, scheduler: scheduler, handlers: handlers}, nil
}

func (w *Worker) Start() error {
	if err := w.server.Start(w.handlers.Mux()); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}
	if err := w.scheduler.Start(); err != nil {
		w.server.Shutdown()
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	logger.Info("worker started")
	return nil
}

func (w *Worker) Shutdown() {
	w.scheduler.Shutdown()
	w.server.Shutdown()
	logger.Info("worker stopped")
}
