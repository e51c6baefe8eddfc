// Package executor defines the contract the engine uses to actually run
// approved operations, plus a database/sql implementation. The engine never
// talks to storage directly; everything flows through an injected Executor.
package executor

import (
	"context"
	"encoding/json"

	"github.com/fieldgrid/safeguard/types"
)

// Executor runs approved operations against the data store. Implementations
// may be slow or out of process; callers must not hold coordination locks
// across these calls.
type Executor interface {
	RunQuery(ctx context.Context, sql string, reqCtx types.RequestContext) (json.RawMessage, error)
	ApplySchemaChange(ctx context.Context, change *types.SchemaChangeOperation, reqCtx types.RequestContext) (json.RawMessage, error)
	RunBusinessOperation(ctx context.Context, op *types.BusinessOperation, reqCtx types.RequestContext) (json.RawMessage, error)
}

// BusinessHandler executes one named business operation.
type BusinessHandler func(ctx context.Context, op *types.BusinessOperation, reqCtx types.RequestContext) (json.RawMessage, error)
