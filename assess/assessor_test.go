package assess

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fieldgrid/safeguard/policy"
	"github.com/fieldgrid/safeguard/types"
)

func newTestAssessor(metadata MetadataSource) *Assessor {
	return NewAssessor(policy.DefaultStore(), metadata, nil)
}

func queryRequest(sql string) *types.ExecutionRequest {
	return &types.ExecutionRequest{
		ID:        "req-1",
		Operation: types.QueryOperation{SQL: sql},
		Priority:  types.PriorityNormal,
	}
}

func hasIssue(issues []types.ValidationIssue, cat types.IssueCategory, sev types.IssueSeverity) bool {
	for _, issue := range issues {
		if issue.Category == cat && issue.Severity == sev {
			return true
		}
	}
	return false
}

func TestUnboundedDeleteIsCritical(t *testing.T) {
	a := newTestAssessor(nil)

	result := a.Assess(context.Background(), queryRequest("DELETE FROM jobs"))

	require.Equal(t, types.RiskCritical, result.RiskLevel)
	require.False(t, result.Valid)
	require.True(t, result.RequiresApproval)
	require.True(t, hasIssue(result.Issues, types.CategoryDataLoss, types.SeverityCritical))
}

func TestUnboundedUpdateIsCritical(t *testing.T) {
	a := newTestAssessor(nil)

	result := a.Assess(context.Background(), queryRequest("UPDATE jobs SET status = 'done'"))

	require.Equal(t, types.RiskCritical, result.RiskLevel)
	require.False(t, result.Valid)
}

func TestBoundedMutationsPass(t *testing.T) {
	a := newTestAssessor(nil)

	for _, sql := range []string{
		"DELETE FROM jobs WHERE id = 42",
		"UPDATE jobs SET status = 'done' WHERE id = 42",
	} {
		result := a.Assess(context.Background(), queryRequest(sql))
		require.NotEqual(t, types.RiskCritical, result.RiskLevel, "statement: %s", sql)
		require.True(t, result.Valid, "statement: %s", sql)
	}
}

func TestPersonalDataReadWithoutRowCap(t *testing.T) {
	a := newTestAssessor(nil)

	result := a.Assess(context.Background(), queryRequest("SELECT * FROM customers"))

	require.True(t, hasIssue(result.Issues, types.CategoryCompliance, types.SeverityWarning))
	require.True(t, hasIssue(result.Issues, types.CategoryPerformance, types.SeverityWarning))
	require.Equal(t, types.RiskMedium, result.RiskLevel)
	require.True(t, result.Valid)
	require.False(t, result.RequiresApproval)
}

func TestRowCapSuppressesPerformanceWarning(t *testing.T) {
	a := newTestAssessor(nil)

	result := a.Assess(context.Background(), queryRequest("SELECT * FROM customers LIMIT 10"))

	require.False(t, hasIssue(result.Issues, types.CategoryPerformance, types.SeverityWarning))
	require.True(t, hasIssue(result.Issues, types.CategoryCompliance, types.SeverityWarning))
}

func TestStatementChainingIsCritical(t *testing.T) {
	a := newTestAssessor(nil)

	result := a.Assess(context.Background(), queryRequest("SELECT 1; DELETE FROM jobs WHERE id = 1"))

	require.True(t, hasIssue(result.Issues, types.CategorySecurity, types.SeverityCritical))
	require.False(t, result.Valid)
}

func TestDynamicExecutionIsCritical(t *testing.T) {
	a := newTestAssessor(nil)

	result := a.Assess(context.Background(), queryRequest("EXEC('DROP TABLE jobs')"))

	require.True(t, hasIssue(result.Issues, types.CategorySecurity, types.SeverityCritical))
}

func TestCriticalTableMutationIsWarning(t *testing.T) {
	a := newTestAssessor(nil)

	result := a.Assess(context.Background(), queryRequest("UPDATE users SET name = 'x' WHERE id = 1"))

	require.True(t, hasIssue(result.Issues, types.CategoryBusinessLogic, types.SeverityWarning))
	require.Equal(t, types.RiskMedium, result.RiskLevel)
}

func TestSchemaQualifiedQuotedTableNames(t *testing.T) {
	a := newTestAssessor(nil)

	result := a.Assess(context.Background(),
		queryRequest(`UPDATE public."Users" SET name = 'x' WHERE id = 1`))

	require.True(t, hasIssue(result.Issues, types.CategoryBusinessLogic, types.SeverityWarning))

	read := a.Assess(context.Background(),
		queryRequest(`SELECT id FROM crm."Customers" WHERE id = 1`))
	require.True(t, hasIssue(read.Issues, types.CategoryCompliance, types.SeverityWarning))
}

func TestDropCriticalTableSchemaChange(t *testing.T) {
	a := newTestAssessor(nil)

	result := a.Assess(context.Background(), &types.ExecutionRequest{
		ID: "req-2",
		Operation: types.SchemaChangeOperation{
			Change: types.SchemaDropTable,
			Table:  "users",
		},
	})

	require.Equal(t, types.RiskCritical, result.RiskLevel)
	require.False(t, result.Valid)
	require.True(t, result.RequiresApproval)
	require.True(t, hasIssue(result.Issues, types.CategoryDataLoss, types.SeverityCritical))
}

func TestAlterCriticalTableIsWarning(t *testing.T) {
	a := newTestAssessor(nil)

	result := a.Assess(context.Background(), &types.ExecutionRequest{
		ID: "req-3",
		Operation: types.SchemaChangeOperation{
			Change: types.SchemaAlterTable,
			Table:  "users",
		},
	})

	require.Equal(t, types.RiskMedium, result.RiskLevel)
	require.True(t, hasIssue(result.Issues, types.CategoryBusinessLogic, types.SeverityWarning))
}

func TestDropTableWithDependents(t *testing.T) {
	a := newTestAssessor(StaticMetadata{
		"audit_logs": {"compliance_reports", "retention_jobs"},
	})

	result := a.Assess(context.Background(), &types.ExecutionRequest{
		ID: "req-4",
		Operation: types.SchemaChangeOperation{
			Change: types.SchemaDropTable,
			Table:  "audit_logs",
		},
	})

	require.Equal(t, types.RiskHigh, result.RiskLevel)
	require.True(t, result.Valid)
	require.True(t, result.RequiresApproval)

	var found bool
	for _, issue := range result.Issues {
		if issue.Category == types.CategoryDataLoss && issue.Severity == types.SeverityError {
			found = true
			require.ElementsMatch(t, []string{"compliance_reports", "retention_jobs"}, issue.AffectedEntities)
		}
	}
	require.True(t, found, "expected an error/data_loss issue naming the dependents")
}

func TestBusinessOperationPatterns(t *testing.T) {
	a := newTestAssessor(nil)

	cancel := a.Assess(context.Background(), &types.ExecutionRequest{
		ID:        "req-5",
		Operation: types.BusinessOperation{Name: "cancel_service_visit", Entity: "jobs"},
	})
	require.Equal(t, types.RiskMedium, cancel.RiskLevel)
	require.True(t, hasIssue(cancel.Issues, types.CategoryBusinessLogic, types.SeverityWarning))

	refund := a.Assess(context.Background(), &types.ExecutionRequest{
		ID:        "req-6",
		Operation: types.BusinessOperation{Name: "issue_refund", Entity: "payments"},
	})
	require.Equal(t, types.RiskHigh, refund.RiskLevel)
	require.True(t, hasIssue(refund.Issues, types.CategoryCompliance, types.SeverityError))
	require.True(t, refund.RequiresApproval)
}

func TestSecurityIssueAlwaysYieldsSanitizationRecommendation(t *testing.T) {
	a := newTestAssessor(nil)

	result := a.Assess(context.Background(), queryRequest("SELECT 1; SELECT 2"))

	require.Contains(t, result.Recommendations, "Review and sanitize all inputs before execution")
}

func TestMigrationStatementsAreScannedIndividually(t *testing.T) {
	a := newTestAssessor(nil)

	result := a.Assess(context.Background(), &types.ExecutionRequest{
		ID: "req-7",
		Operation: types.MigrationOperation{
			Version: "2026_08_26_001",
			Statements: []string{
				"ALTER TABLE jobs ADD COLUMN priority INT",
				"DELETE FROM job_drafts",
			},
		},
	})

	require.Equal(t, types.RiskCritical, result.RiskLevel)
	require.True(t, hasIssue(result.Issues, types.CategoryDataLoss, types.SeverityCritical))
}

func TestImpactReflectsSeverity(t *testing.T) {
	a := newTestAssessor(nil)

	clean := a.Assess(context.Background(), queryRequest("SELECT id FROM jobs WHERE id = 1"))
	require.Equal(t, types.Reversible, clean.Impact.Reversibility)

	destructive := a.Assess(context.Background(), queryRequest("DROP TABLE job_drafts"))
	require.Equal(t, types.Irreversible, destructive.Impact.Reversibility)
	require.GreaterOrEqual(t, destructive.Impact.IntegrityRisk, 90)
}

// The detector is a text-level heuristic, not a SQL parser: a comment
// sequence inside a string literal still trips the injection rule. This
// test pins that known false positive so a future "fix" is a conscious
// compatibility break.
func TestDetectorIsHeuristicNotAParser(t *testing.T) {
	a := newTestAssessor(nil)

	result := a.Assess(context.Background(),
		queryRequest("SELECT id FROM notes WHERE body = 'before -- after' LIMIT 5"))

	require.True(t, hasIssue(result.Issues, types.CategorySecurity, types.SeverityCritical))
	require.False(t, result.Valid)
}
