package audit

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresSink appends audit entries to a PostgreSQL table.
type PostgresSink struct {
	db        *sql.DB
	schema    string
	tableName string
}

// NewPostgresSink creates a sink over an existing connection pool and
// ensures the audit table exists.
func NewPostgresSink(ctx context.Context, db *sql.DB, schema string) (*PostgresSink, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle is required")
	}
	if schema == "" {
		schema = "public"
	}
	s := &PostgresSink{db: db, schema: schema, tableName: "safeguard_audit"}

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.%s (
			id               BIGSERIAL PRIMARY KEY,
			request_id       TEXT NOT NULL,
			type             TEXT NOT NULL,
			status           TEXT NOT NULL,
			actor            TEXT NOT NULL,
			business_unit_id TEXT NOT NULL,
			started_at       TIMESTAMPTZ NOT NULL,
			completed_at     TIMESTAMPTZ NOT NULL,
			error            TEXT,
			detail           TEXT
		)`,
		s.schema, s.tableName)
	if _, err := db.ExecContext(ctx, query); err != nil {
		return nil, fmt.Errorf("failed to create audit table: %w", err)
	}
	return s, nil
}

// Record implements Sink.
func (s *PostgresSink) Record(ctx context.Context, entry *Entry) error {
	query := fmt.Sprintf(`
		INSERT INTO %s.%s
			(request_id, type, status, actor, business_unit_id, started_at, completed_at, error, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		s.schema, s.tableName)

	_, err := s.db.ExecContext(ctx, query,
		entry.RequestID, string(entry.Type), string(entry.Status),
		entry.Actor, entry.BusinessUnitID,
		entry.StartedAt, entry.CompletedAt, entry.Error, entry.Detail)
	if err != nil {
		return fmt.Errorf("failed to record audit entry: %w", err)
	}
	return nil
}
