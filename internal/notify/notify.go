package notify

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/msaedi/instructly-sub008/internal/logger"
	"github.com/msaedi/instructly-sub008/internal/metrics"
)

const (
	QueueKey       = "notifications"
	FailedQueueKey = "notifications:failed"
	maxTries       = 3
)

type Kind string

const (
	ReservationCreated     Kind = "reservation_created"
	ReservationConfirmed   Kind = "reservation_confirmed"
	ReservationCompleted   Kind = "reservation_completed"
	ReservationCancelled   Kind = "reservation_cancelled"
	ReservationRescheduled Kind = "reservation_rescheduled"
	NoShowReported         Kind = "no_show_reported"
	NoShowDisputed         Kind = "no_show_disputed"
	NoShowResolved         Kind = "no_show_resolved"
	PaymentMethodRequired  Kind = "payment_method_required"
	SettlementManualReview Kind = "settlement_manual_review"
)

// Sink accepts notifications. Implementations must not block the caller on
// delivery and must not report delivery failures.
type Sink interface {
	Notify(ctx context.Context, kind Kind, recipientID int64, data map[string]any)
}

type Job struct {
	Kind        Kind           `json:"kind"`
	RecipientID int64          `json:"recipient_id"`
	Data        map[string]any `json:"data,omitempty"`
	Tries       int            `json:"tries"`
	Created     time.Time      `json:"created"`
}

// Publisher delivers a dequeued job to its final destination.
type Publisher interface {
	Publish(ctx context.Context, job Job) error
}

// Service queues notifications on a Redis list and drains them to a
// Publisher from Start.
type Service struct {
	redis       *redis.Client
	publisher   Publisher
	retryDelay  time.Duration
	popTimeout  time.Duration
	sampleEvery time.Duration
}

func New(rdb *redis.Client, publisher Publisher) *Service {
	return &Service{
		redis:      rdb,
		publisher:  publisher,
		retryDelay:  5 * time.Second,
		popTimeout:  2 * time.Second,
		sampleEvery: 15 * time.Second,
	}
}

func (s *Service) Notify(ctx context.Context, kind Kind, recipientID int64, data map[string]any) {
	job := Job{
		Kind:        kind,
		RecipientID: recipientID,
		Data:        data,
		Created:     time.Now().UTC(),
	}

	payload, err := json.Marshal(job)
	if err != nil {
		metrics.RecordNotification(string(kind), "failed")
		logger.Error("failed to marshal notification", "kind", kind, "error", err)
		return
	}

	// The request that triggered the notification may already be finishing.
	ctx = context.WithoutCancel(ctx)
	if err := s.redis.LPush(ctx, QueueKey, string(payload)).Err(); err != nil {
		metrics.RecordNotification(string(kind), "failed")
		logger.Error("failed to queue notification",
			"kind", kind,
			"recipient_id", recipientID,
			"error", err,
		)
		return
	}

	metrics.RecordNotification(string(kind), "queued")
	logger.Debug("notification queued", "kind", kind, "recipient_id", recipientID)
}

// Start drains the queue until ctx is done, refreshing the queue length
// gauge every sampleEvery.
func (s *Service) Start(ctx context.Context) {
	logger.Info("Notification worker started")

	var sampled time.Time
	for {
		select {
		case <-ctx.Done():
			logger.Info("Notification worker stopped")
			return
		default:
			if now := time.Now(); now.Sub(sampled) >= s.sampleEvery {
				s.QueueLength(ctx)
				sampled = now
			}
			s.processNext(ctx)
		}
	}
}

func (s *Service) processNext(ctx context.Context) {
	result, err := s.redis.BRPop(ctx, s.popTimeout, QueueKey).Result()
	if err != nil {
		return
	}

	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		logger.Errorf("Bad notification data: %v", err)
		return
	}

	job.Tries++
	if err := s.publisher.Publish(ctx, job); err != nil {
		logger.Warn("failed to publish notification",
			"kind", job.Kind,
			"recipient_id", job.RecipientID,
			"attempt", job.Tries,
			"error", err,
		)

		if job.Tries < maxTries {
			if s.retryDelay > 0 {
				time.Sleep(s.retryDelay)
			}
			data, _ := json.Marshal(job)
			s.redis.LPush(context.Background(), QueueKey, string(data))
			return
		}

		metrics.RecordNotification(string(job.Kind), "failed")
		s.saveFailed(job, err)
		return
	}

	metrics.RecordNotification(string(job.Kind), "sent")
}

func (s *Service) saveFailed(job Job, err error) {
	failed := map[string]interface{}{
		"job":   job,
		"error": err.Error(),
		"time":  time.Now().UTC(),
	}
	data, _ := json.Marshal(failed)
	s.redis.LPush(context.Background(), FailedQueueKey, string(data))
	logger.Error("notification moved to failed queue",
		"kind", job.Kind,
		"recipient_id", job.RecipientID,
	)
}

func (s *Service) QueueLength(ctx context.Context) int64 {
	length, err := s.redis.LLen(ctx, QueueKey).Result()
	if err != nil {
		logger.Debug("failed to read notification queue length", "error", err)
		return 0
	}
	metrics.NotificationQueueLength.Set(float64(length))
	return length
}

func recipientKey(id int64) []byte {
	return []byte(strconv.FormatInt(id, 10))
}
