package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/msaedi/instructly-sub008/internal/logger"
)

const (
	TypeAuthorize    = "settlement:authorize"
	TypeCapture      = "settlement:capture"
	TypeNoShowExpire = "noshow:expire"
	TypeRecover      = "settlement:recover"

	maxRetry = 5
)

type Payload struct {
	ReservationID int64 `json:"reservation_id"`
}

func NewTask(typ string, reservationID int64) (*asynq.Task, error) {
	b, err := json.Marshal(Payload{ReservationID: reservationID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(typ, b), nil
}

// Enqueuer is the subset of *asynq.Client used to schedule work.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Client schedules settlement and lifecycle tasks. Each (type, reservation,
// time) is enqueued at most once.
type Client struct {
	queue Enqueuer
}

func NewClient(queue Enqueuer) *Client {
	return &Client{queue: queue}
}

func (c *Client) ScheduleAuthorization(ctx context.Context, reservationID int64, at time.Time) error {
	return c.enqueue(ctx, TypeAuthorize, reservationID, at)
}

func (c *Client) ScheduleCompletion(ctx context.Context, reservationID int64, at time.Time) error {
	return c.enqueue(ctx, TypeCapture, reservationID, at)
}

func (c *Client) ScheduleNoShowExpiry(ctx context.Context, reservationID int64, at time.Time) error {
	return c.enqueue(ctx, TypeNoShowExpire, reservationID, at)
}

func (c *Client) enqueue(ctx context.Context, typ string, reservationID int64, at time.Time) error {
	task, err := NewTask(typ, reservationID)
	if err != nil {
		return err
	}

	id := fmt.Sprintf("%s:%d:%d", typ, reservationID, at.Unix())
	info, err := c.queue.EnqueueContext(ctx, task,
		asynq.TaskID(id),
		asynq.ProcessAt(at),
		asynq.MaxRetry(maxRetry),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		logger.Debug("task already scheduled", "task_id", id)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", typ, err)
	}
	logger.Info("task scheduled", "type", typ, "reservation_id", reservationID, "queue", info.Queue, "at", at)
	return nil
}
