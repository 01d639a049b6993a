package audit

import (
	"context"

	"github.com/jmoiron/sqlx"
)

type SQLWriter struct {
	db sqlx.ExecerContext
}

func NewSQLWriter(db sqlx.ExecerContext) *SQLWriter {
	return &SQLWriter{db: db}
}

func (w *SQLWriter) Write(ctx context.Context, entityType, entityID, action, actorRef string, before, after any) error {
	b, err := snapshot(before)
	if err != nil {
		return err
	}
	a, err := snapshot(after)
	if err != nil {
		return err
	}

	_, err = w.db.ExecContext(ctx,
		`INSERT INTO audit_log (entity_type, entity_id, action, actor_ref, before, after)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		entityType, entityID, action, actorRef, nullableJSON(b), nullableJSON(a),
	)
	return err
}

func nullableJSON(raw []byte) interface{} {
	if raw == nil {
		return nil
	}
	return string(raw)
}
