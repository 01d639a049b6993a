package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/msaedi/instructly-sub008/internal/logger"
	"github.com/msaedi/instructly-sub008/internal/metrics"
)

// Writer appends one audit entry. Entries are never updated or removed.
type Writer interface {
	Write(ctx context.Context, entityType, entityID, action, actorRef string, before, after any) error
}

type Entry struct {
	EntityType string          `db:"entity_type" json:"entity_type"`
	EntityID   string          `db:"entity_id" json:"entity_id"`
	Action     string          `db:"action" json:"action"`
	ActorRef   string          `db:"actor_ref" json:"actor_ref"`
	Before     json.RawMessage `db:"before" json:"before,omitempty"`
	After      json.RawMessage `db:"after" json:"after,omitempty"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}

// Record writes an entry and swallows the error. The caller's operation has
// already happened and must not fail because its audit trail could not be
// stored.
func Record(ctx context.Context, w Writer, entityType, entityID, action, actorRef string, before, after any) {
	if w == nil {
		return
	}
	if err := w.Write(ctx, entityType, entityID, action, actorRef, before, after); err != nil {
		metrics.RecordAuditFailure(entityType)
		logger.Error("failed to write audit entry",
			"entity_type", entityType,
			"entity_id", entityID,
			"action", action,
			"error", err,
		)
	}
}

func snapshot(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
