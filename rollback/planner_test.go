package rollback

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fieldgrid/safeguard/types"
)

func planFor(t *testing.T, op types.Operation) *types.RollbackPlan {
	t.Helper()
	p := NewPlanner()
	plan := p.Plan(&types.ExecutionRequest{ID: "req-1", Operation: op})
	require.NotEmpty(t, plan.PlanID)
	return plan
}

func TestQueryPlanIsTransactionRollback(t *testing.T) {
	plan := planFor(t, types.QueryOperation{SQL: "UPDATE jobs SET status = 'done' WHERE id = 1"})

	require.True(t, plan.CanRollback)
	require.Equal(t, types.ComplexitySimple, plan.Complexity)
	require.Len(t, plan.Operations, 1)
	require.Equal(t, "transaction_rollback", plan.Operations[0].Type)
	require.Equal(t, "ROLLBACK TRANSACTION", plan.Operations[0].Statement)
}

func TestDestructiveQueryIsImpossible(t *testing.T) {
	for _, sql := range []string{
		"DROP TABLE job_drafts",
		"TRUNCATE TABLE job_drafts",
	} {
		plan := planFor(t, types.QueryOperation{SQL: sql})
		require.False(t, plan.CanRollback, "statement: %s", sql)
		require.Equal(t, types.ComplexityImpossible, plan.Complexity, "statement: %s", sql)
		require.Empty(t, plan.Operations, "statement: %s", sql)
	}
}

func TestDropTablePlanIsComplex(t *testing.T) {
	plan := planFor(t, types.SchemaChangeOperation{
		Change: types.SchemaDropTable,
		Table:  "equipment",
	})

	require.True(t, plan.CanRollback)
	require.Equal(t, types.ComplexityComplex, plan.Complexity)
	require.Len(t, plan.Operations, 2)
	require.Equal(t, "inverse_ddl", plan.Operations[0].Type)
	require.Equal(t, "data_restore", plan.Operations[1].Type)
	require.Equal(t, 60, plan.EstimatedMinutes)
}

func TestCreateTablePlanIsSimple(t *testing.T) {
	plan := planFor(t, types.SchemaChangeOperation{
		Change: types.SchemaCreateTable,
		Table:  "equipment",
	})

	require.Equal(t, types.ComplexitySimple, plan.Complexity)
	require.Len(t, plan.Operations, 1)
	require.Contains(t, plan.Operations[0].Statement, "DROP TABLE IF EXISTS equipment")
}

func TestDropIndexUsesDefinitionName(t *testing.T) {
	plan := planFor(t, types.SchemaChangeOperation{
		Change:     types.SchemaCreateIndex,
		Table:      "jobs",
		Definition: map[string]any{"index_name": "jobs_status_idx"},
	})

	require.Contains(t, plan.Operations[0].Statement, "DROP INDEX IF EXISTS jobs_status_idx")
}

func TestBusinessPlanIsCompensating(t *testing.T) {
	plan := planFor(t, types.BusinessOperation{Name: "cancel_service_visit", Entity: "jobs"})

	require.Equal(t, types.ComplexitySimple, plan.Complexity)
	require.Len(t, plan.Operations, 1)
	require.Equal(t, "compensating_operation", plan.Operations[0].Type)
	require.Equal(t, 10, plan.EstimatedMinutes)
}

func TestMigrationPlanIsComplex(t *testing.T) {
	plan := planFor(t, types.MigrationOperation{
		Version:    "2026_08_26_001",
		Statements: []string{"ALTER TABLE jobs ADD COLUMN priority INT"},
	})

	require.Equal(t, types.ComplexityComplex, plan.Complexity)
	require.Equal(t, "snapshot_restore", plan.Operations[0].Type)
}
