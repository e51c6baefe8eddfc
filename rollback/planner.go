// Package rollback builds compensating plans for proposed operations before
// any approval decision is made. A plan rates how reversible the operation
// is; the coordinator replays plan steps in reverse order when an execution
// has to be undone.
package rollback

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/fieldgrid/safeguard/types"
)

// Planner produces kind-specific rollback plans.
type Planner struct{}

// NewPlanner creates a rollback planner.
func NewPlanner() *Planner {
	return &Planner{}
}

// Plan builds the compensating steps for a request and derives complexity:
// no steps is impossible, any high-risk step is complex, more than three
// steps is moderate, anything else is simple.
func (p *Planner) Plan(req *types.ExecutionRequest) *types.RollbackPlan {
	var ops []types.RollbackOperation

	switch op := req.Operation.(type) {
	case types.QueryOperation:
		ops = planQuery(op)
	case *types.QueryOperation:
		ops = planQuery(*op)
	case types.SchemaChangeOperation:
		ops = planSchemaChange(op)
	case *types.SchemaChangeOperation:
		ops = planSchemaChange(*op)
	case types.BusinessOperation:
		ops = planBusiness(op)
	case *types.BusinessOperation:
		ops = planBusiness(*op)
	case types.MigrationOperation:
		ops = planMigration(op)
	case *types.MigrationOperation:
		ops = planMigration(*op)
	}

	plan := &types.RollbackPlan{
		PlanID:     uuid.NewString(),
		Operations: ops,
		Complexity: complexity(ops),
	}
	plan.CanRollback = plan.Complexity != types.ComplexityImpossible
	plan.EstimatedMinutes = estimateMinutes(ops)
	return plan
}

// planQuery keeps the single generic transaction-rollback step regardless
// of statement shape. Synthesizing a compensating statement from raw SQL
// is out of reach for a text-level classifier.
func planQuery(op types.QueryOperation) []types.RollbackOperation {
	destructive := strings.Contains(strings.ToUpper(op.SQL), "DROP") ||
		strings.Contains(strings.ToUpper(op.SQL), "TRUNCATE")
	if destructive {
		// A dropped or truncated object cannot be recovered by a
		// transaction rollback once committed.
		return nil
	}
	return []types.RollbackOperation{
		{
			Order:       1,
			Type:        "transaction_rollback",
			Description: "Roll back the enclosing transaction",
			Statement:   "ROLLBACK TRANSACTION",
			Risk:        types.RiskLow,
		},
	}
}

func planSchemaChange(op types.SchemaChangeOperation) []types.RollbackOperation {
	switch op.Change {
	case types.SchemaCreateTable:
		return []types.RollbackOperation{
			{
				Order:       1,
				Type:        "inverse_ddl",
				Description: fmt.Sprintf("Drop the created table %s", op.Table),
				Statement:   fmt.Sprintf("DROP TABLE IF EXISTS %s", op.Table),
				Risk:        types.RiskLow,
			},
		}
	case types.SchemaDropTable:
		return []types.RollbackOperation{
			{
				Order:       1,
				Type:        "inverse_ddl",
				Description: fmt.Sprintf("Recreate table %s from its captured definition", op.Table),
				Statement:   fmt.Sprintf("-- recreate %s from pre_execution snapshot", op.Table),
				Risk:        types.RiskHigh,
			},
			{
				Order:       2,
				Type:        "data_restore",
				Description: fmt.Sprintf("Restore %s rows from the pre-execution snapshot", op.Table),
				Statement:   fmt.Sprintf("-- restore %s data from pre_execution snapshot", op.Table),
				Risk:        types.RiskHigh,
			},
		}
	case types.SchemaAlterTable:
		return []types.RollbackOperation{
			{
				Order:       1,
				Type:        "inverse_ddl",
				Description: fmt.Sprintf("Revert the alteration of %s", op.Table),
				Statement:   fmt.Sprintf("-- revert alter of %s to captured definition", op.Table),
				Risk:        types.RiskMedium,
			},
		}
	case types.SchemaCreateIndex:
		return []types.RollbackOperation{
			{
				Order:       1,
				Type:        "inverse_ddl",
				Description: fmt.Sprintf("Drop the created index on %s", op.Table),
				Statement:   fmt.Sprintf("DROP INDEX IF EXISTS %s", indexName(op)),
				Risk:        types.RiskLow,
			},
		}
	case types.SchemaDropIndex:
		return []types.RollbackOperation{
			{
				Order:       1,
				Type:        "inverse_ddl",
				Description: fmt.Sprintf("Recreate the dropped index on %s", op.Table),
				Statement:   fmt.Sprintf("-- recreate index on %s from captured definition", op.Table),
				Risk:        types.RiskMedium,
			},
		}
	}
	return nil
}

func planBusiness(op types.BusinessOperation) []types.RollbackOperation {
	return []types.RollbackOperation{
		{
			Order:       1,
			Type:        "compensating_operation",
			Description: fmt.Sprintf("Apply the compensating business operation for %s on %s", op.Name, op.Entity),
			Statement:   fmt.Sprintf("-- compensate %s on %s", op.Name, op.Entity),
			Risk:        types.RiskMedium,
		},
	}
}

func planMigration(op types.MigrationOperation) []types.RollbackOperation {
	return []types.RollbackOperation{
		{
			Order:       1,
			Type:        "snapshot_restore",
			Description: fmt.Sprintf("Restore state from the pre-migration snapshot for version %s", op.Version),
			Statement:   "-- restore from pre_execution snapshot",
			Risk:        types.RiskHigh,
		},
	}
}

func complexity(ops []types.RollbackOperation) types.RollbackComplexity {
	if len(ops) == 0 {
		return types.ComplexityImpossible
	}
	for _, op := range ops {
		if op.Risk == types.RiskHigh || op.Risk == types.RiskCritical {
			return types.ComplexityComplex
		}
	}
	if len(ops) > 3 {
		return types.ComplexityModerate
	}
	return types.ComplexitySimple
}

func estimateMinutes(ops []types.RollbackOperation) int {
	total := 0
	for _, op := range ops {
		switch op.Risk {
		case types.RiskHigh, types.RiskCritical:
			total += 30
		case types.RiskMedium:
			total += 10
		default:
			total += 2
		}
	}
	return total
}

func indexName(op types.SchemaChangeOperation) string {
	if name, ok := op.Definition["index_name"].(string); ok && name != "" {
		return name
	}
	return op.Table + "_idx"
}
