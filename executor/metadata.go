package executor

import (
	"context"
	"database/sql"
	"fmt"
)

// PGMetadata answers dependent-table lookups from the live PostgreSQL
// catalog, for the drop-with-dependents rule.
type PGMetadata struct {
	db *sql.DB
}

// NewPGMetadata creates a metadata source over an existing connection pool.
func NewPGMetadata(db *sql.DB) *PGMetadata {
	return &PGMetadata{db: db}
}

// Dependents returns the tables whose foreign keys reference table.
func (m *PGMetadata) Dependents(ctx context.Context, table string) ([]string, error) {
	const query = `
		SELECT DISTINCT tc.table_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.constraint_column_usage ccu
			ON tc.constraint_name = ccu.constraint_name
			AND tc.table_schema = ccu.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY'
			AND ccu.table_name = $1`

	rows, err := m.db.QueryContext(ctx, query, table)
	if err != nil {
		return nil, fmt.Errorf("dependent lookup failed: %w", err)
	}
	defer rows.Close()

	var deps []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan dependent: %w", err)
		}
		deps = append(deps, name)
	}
	return deps, rows.Err()
}
