package executor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
	_ "github.com/lib/pq"

	"github.com/fieldgrid/safeguard/types"
)

// SQLExecutor runs operations against a SQL store through database/sql.
// Business operations dispatch to registered handlers by name; handlers may
// be registered while operations are running.
type SQLExecutor struct {
	db     *sql.DB
	logger hclog.Logger

	handlersMu sync.RWMutex
	handlers   map[string]BusinessHandler
}

// NewSQLExecutor creates an executor over an existing connection pool.
func NewSQLExecutor(db *sql.DB, logger hclog.Logger) *SQLExecutor {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &SQLExecutor{
		db:       db,
		logger:   logger.Named("executor"),
		handlers: make(map[string]BusinessHandler),
	}
}

// RegisterBusinessHandler maps an operation name to its handler.
func (e *SQLExecutor) RegisterBusinessHandler(name string, handler BusinessHandler) {
	e.handlersMu.Lock()
	defer e.handlersMu.Unlock()
	e.handlers[strings.ToLower(name)] = handler
}

type queryResult struct {
	RowsAffected int64                    `json:"rows_affected,omitempty"`
	Rows         []map[string]interface{} `json:"rows,omitempty"`
}

// RunQuery executes raw SQL. Reads return rows; everything else returns the
// affected-row count.
func (e *SQLExecutor) RunQuery(ctx context.Context, sqlText string, reqCtx types.RequestContext) (json.RawMessage, error) {
	e.logger.Debug("RunQuery called", "requested_by", reqCtx.RequestedBy, "business_unit_id", reqCtx.BusinessUnitID)

	trimmed := strings.ToUpper(strings.TrimSpace(sqlText))
	if strings.HasPrefix(trimmed, "SELECT") || strings.HasPrefix(trimmed, "WITH") || strings.HasPrefix(trimmed, "SHOW") {
		return e.runRead(ctx, sqlText)
	}

	res, err := e.db.ExecContext(ctx, sqlText)
	if err != nil {
		return nil, fmt.Errorf("statement failed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		affected = -1
	}
	return json.Marshal(queryResult{RowsAffected: affected})
}

func (e *SQLExecutor) runRead(ctx context.Context, sqlText string) (json.RawMessage, error) {
	rows, err := e.db.QueryContext(ctx, sqlText)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	var out []map[string]interface{}
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		row := make(map[string]interface{}, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration failed: %w", err)
	}
	return json.Marshal(queryResult{Rows: out})
}

// ApplySchemaChange renders and executes the DDL for a schema-change
// descriptor.
func (e *SQLExecutor) ApplySchemaChange(ctx context.Context, change *types.SchemaChangeOperation, reqCtx types.RequestContext) (json.RawMessage, error) {
	e.logger.Debug("ApplySchemaChange called", "change", change.Change, "table", change.Table)

	ddl, err := renderDDL(change)
	if err != nil {
		return nil, err
	}
	if _, err := e.db.ExecContext(ctx, ddl); err != nil {
		return nil, fmt.Errorf("schema change failed: %w", err)
	}
	return json.Marshal(map[string]string{"applied": ddl})
}

// RunBusinessOperation dispatches to the handler registered for the
// operation name.
func (e *SQLExecutor) RunBusinessOperation(ctx context.Context, op *types.BusinessOperation, reqCtx types.RequestContext) (json.RawMessage, error) {
	e.logger.Debug("RunBusinessOperation called", "name", op.Name, "entity", op.Entity)

	e.handlersMu.RLock()
	handler, ok := e.handlers[strings.ToLower(op.Name)]
	e.handlersMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no handler registered for business operation %q", op.Name)
	}
	return handler(ctx, op, reqCtx)
}

func renderDDL(change *types.SchemaChangeOperation) (string, error) {
	switch change.Change {
	case types.SchemaCreateTable:
		body, ok := change.Definition["columns"].(string)
		if !ok || body == "" {
			return "", fmt.Errorf("create_table requires a columns definition")
		}
		return fmt.Sprintf("CREATE TABLE %s (%s)", change.Table, body), nil
	case types.SchemaDropTable:
		return fmt.Sprintf("DROP TABLE %s", change.Table), nil
	case types.SchemaAlterTable:
		clause, ok := change.Definition["alter"].(string)
		if !ok || clause == "" {
			return "", fmt.Errorf("alter_table requires an alter clause")
		}
		return fmt.Sprintf("ALTER TABLE %s %s", change.Table, clause), nil
	case types.SchemaCreateIndex:
		name, _ := change.Definition["index_name"].(string)
		cols, ok := change.Definition["columns"].(string)
		if !ok || cols == "" {
			return "", fmt.Errorf("create_index requires a columns definition")
		}
		if name == "" {
			name = change.Table + "_idx"
		}
		return fmt.Sprintf("CREATE INDEX %s ON %s (%s)", name, change.Table, cols), nil
	case types.SchemaDropIndex:
		name, ok := change.Definition["index_name"].(string)
		if !ok || name == "" {
			return "", fmt.Errorf("drop_index requires index_name")
		}
		return fmt.Sprintf("DROP INDEX %s", name), nil
	}
	return "", fmt.Errorf("unsupported schema change %q", change.Change)
}
