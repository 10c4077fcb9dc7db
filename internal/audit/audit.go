package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Entry is one audited state change, e.g. a transaction moving to COMPLETED.
type Entry struct {
	UserID     *int64
	Action     string
	EntityType string
	EntityID   int64
	Metadata   map[string]any
}

// Recorder persists audit entries. Failures are returned so callers can
// decide to ignore them.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// PostgresRecorder writes to the audit_logs table.
type PostgresRecorder struct {
	DB *pgxpool.Pool
}

func NewPostgresRecorder(db *pgxpool.Pool) *PostgresRecorder {
	return &PostgresRecorder{DB: db}
}

func (r *PostgresRecorder) Record(ctx context.Context, e Entry) error {
	if r == nil || r.DB == nil {
		return nil
	}

	var metadata interface{}
	if len(e.Metadata) > 0 {
		raw, err := json.Marshal(e.Metadata)
		if err != nil {
			return err
		}
		metadata = json.RawMessage(raw)
	}

	_, err := r.DB.Exec(ctx, `
INSERT INTO audit_logs (id, user_id, action, entity_type, entity_id, metadata)
VALUES ($1, $2, $3, $4, $5, $6)
`, uuid.New(), e.UserID, e.Action, e.EntityType, strconv.FormatInt(e.EntityID, 10), metadata)

	return err
}

// LogRecorder writes entries to a structured logger. Used with the file ledger.
type LogRecorder struct {
	Logger *slog.Logger
}

func (r LogRecorder) Record(ctx context.Context, e Entry) error {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{
		slog.String("action", e.Action),
		slog.String("entity_type", e.EntityType),
		slog.Int64("entity_id", e.EntityID),
	}
	if e.UserID != nil {
		attrs = append(attrs, slog.Int64("user_id", *e.UserID))
	}
	for k, v := range e.Metadata {
		attrs = append(attrs, slog.Any(k, v))
	}
	logger.InfoContext(ctx, "audit", attrs...)
	return nil
}

// Nop discards entries.
type Nop struct{}

func (Nop) Record(context.Context, Entry) error { return nil }
