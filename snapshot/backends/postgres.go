// Package backends provides durable snapshot stores. Each backend
// implements snapshot.Store so the coordinator can be pointed at process
// memory, PostgreSQL, or S3 without changing behavior.
package backends

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/fieldgrid/safeguard/snapshot"
	"github.com/fieldgrid/safeguard/types"
)

// PostgresStore persists snapshots in a PostgreSQL table.
type PostgresStore struct {
	db         *sql.DB
	config     *PostgresConfig
	tableName  string
	configured bool
}

// PostgresConfig contains PostgreSQL backend configuration.
type PostgresConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	Database     string `json:"database"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	SSLMode      string `json:"ssl_mode"`
	Schema       string `json:"schema"`
	TableName    string `json:"table_name"`
	ConnTimeout  int    `json:"conn_timeout"`
	MaxConns     int    `json:"max_conns"`
	MaxIdleConns int    `json:"max_idle_conns"`
}

// NewPostgresStore creates an unconfigured PostgreSQL snapshot store.
func NewPostgresStore() *PostgresStore {
	return &PostgresStore{
		tableName: "safeguard_snapshots",
	}
}

// Configure opens the connection pool and creates the snapshot table.
func (s *PostgresStore) Configure(ctx context.Context, config *PostgresConfig) error {
	if config == nil {
		return fmt.Errorf("postgres configuration is required")
	}
	s.config = config
	if config.Schema == "" {
		config.Schema = "public"
	}
	if config.TableName != "" {
		s.tableName = config.TableName
	}

	db, err := sql.Open("postgres", s.buildConnectionString())
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	if config.MaxConns > 0 {
		db.SetMaxOpenConns(config.MaxConns)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnTimeout > 0 {
		db.SetConnMaxLifetime(time.Duration(config.ConnTimeout) * time.Second)
	}

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	s.db = db
	if err := s.createTable(ctx); err != nil {
		return fmt.Errorf("failed to create snapshot table: %w", err)
	}

	s.configured = true
	return nil
}

func (s *PostgresStore) buildConnectionString() string {
	sslMode := s.config.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		s.config.Host, s.config.Port, s.config.Database,
		s.config.Username, s.config.Password, sslMode)
}

func (s *PostgresStore) createTable(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.%s (
			id           BIGSERIAL PRIMARY KEY,
			execution_id TEXT NOT NULL,
			tag          TEXT NOT NULL,
			taken_at     TIMESTAMPTZ NOT NULL,
			state        BYTEA NOT NULL,
			size         BIGINT NOT NULL,
			checksum     TEXT NOT NULL
		)`,
		s.config.Schema, s.tableName)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return err
	}

	index := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_execution_idx ON %s.%s (execution_id, id)`,
		s.tableName, s.config.Schema, s.tableName)
	_, err := s.db.ExecContext(ctx, index)
	return err
}

// Capture appends a snapshot row. Rows are never updated or deleted.
func (s *PostgresStore) Capture(ctx context.Context, executionID string, tag types.SnapshotTag, state []byte) (*types.Snapshot, error) {
	if !s.configured {
		return nil, fmt.Errorf("postgres store not configured")
	}
	if executionID == "" {
		return nil, fmt.Errorf("execution id is required")
	}

	snap := snapshot.New(executionID, tag, state)
	query := fmt.Sprintf(`
		INSERT INTO %s.%s (execution_id, tag, taken_at, state, size, checksum)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		s.config.Schema, s.tableName)

	_, err := s.db.ExecContext(ctx, query,
		snap.ExecutionID, string(snap.Tag), snap.TakenAt, snap.State, snap.Size, snap.Checksum)
	if err != nil {
		return nil, fmt.Errorf("failed to store snapshot: %w", err)
	}
	return snap, nil
}

// List returns the snapshots for executionID in capture order.
func (s *PostgresStore) List(ctx context.Context, executionID string) ([]*types.Snapshot, error) {
	if !s.configured {
		return nil, fmt.Errorf("postgres store not configured")
	}

	query := fmt.Sprintf(`
		SELECT tag, taken_at, state, size, checksum
		FROM %s.%s
		WHERE execution_id = $1
		ORDER BY id ASC`,
		s.config.Schema, s.tableName)

	rows, err := s.db.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var out []*types.Snapshot
	for rows.Next() {
		snap := &types.Snapshot{ExecutionID: executionID}
		var tag string
		if err := rows.Scan(&tag, &snap.TakenAt, &snap.State, &snap.Size, &snap.Checksum); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snap.Tag = types.SnapshotTag(tag)
		out = append(out, snap)
	}
	return out, rows.Err()
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
