// Package assess implements risk assessment for proposed operations. The
// assessor is a pure function of (operation, policy set): it scans the
// operation for dangerous shapes, accumulates validation issues, and derives
// an overall risk level, impact estimate, and recommendations.
//
// The statement scanner is an approximate regex classifier over raw text,
// not a SQL parser. It is kept that way deliberately: the upstream callers
// depend on its exact behavior, false positives and negatives included.
package assess

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/fieldgrid/safeguard/policy"
	"github.com/fieldgrid/safeguard/types"
)

// MetadataSource answers read-only schema questions during assessment.
type MetadataSource interface {
	// Dependents returns the names of tables that reference table through
	// foreign keys or views.
	Dependents(ctx context.Context, table string) ([]string, error)
}

// StaticMetadata is a fixed dependency map, useful for tests and for
// deployments that export their schema topology ahead of time.
type StaticMetadata map[string][]string

// Dependents implements MetadataSource.
func (m StaticMetadata) Dependents(_ context.Context, table string) ([]string, error) {
	return m[strings.ToLower(table)], nil
}

// Assessor inspects proposed operations against the active policy set.
type Assessor struct {
	policies *policy.Store
	metadata MetadataSource
	logger   hclog.Logger
}

// NewAssessor creates an assessor. metadata may be nil when no dependency
// information is available.
func NewAssessor(policies *policy.Store, metadata MetadataSource, logger hclog.Logger) *Assessor {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Assessor{
		policies: policies,
		metadata: metadata,
		logger:   logger.Named("assess"),
	}
}

var (
	selectStarExpr = regexp.MustCompile(`(?is)\bSELECT\s+(\*|[\w.]+\.\*)`)
	rowCapExpr     = regexp.MustCompile(`(?is)\b(LIMIT\s+\d|TOP\s+\d|FETCH\s+FIRST)`)
	readOnlyExpr   = regexp.MustCompile(`(?is)^\s*(SELECT|WITH|SHOW|EXPLAIN)\b`)

	destructiveVerbExpr = regexp.MustCompile(`(?is)\b(DROP|TRUNCATE|DELETE)\b`)
	mutatingVerbExpr    = regexp.MustCompile(`(?is)\b(UPDATE|INSERT|ALTER|MERGE)\b`)

	tableRefExprs = []*regexp.Regexp{
		regexp.MustCompile(`(?is)\bFROM\s+([\w".]+)`),
		regexp.MustCompile(`(?is)\bJOIN\s+([\w".]+)`),
		regexp.MustCompile(`(?is)\bUPDATE\s+([\w".]+)`),
		regexp.MustCompile(`(?is)\bINSERT\s+INTO\s+([\w".]+)`),
		regexp.MustCompile(`(?is)\b(?:DROP|ALTER)\s+TABLE\s+(?:IF\s+EXISTS\s+)?([\w".]+)`),
		regexp.MustCompile(`(?is)\bTRUNCATE\s+(?:TABLE\s+)?([\w".]+)`),
	}

	destructiveNameExpr = regexp.MustCompile(`(?i)(delete|remove|cancel|terminate|purge)`)
	financialNameExpr   = regexp.MustCompile(`(?i)(payment|refund|charge|payout|invoice)`)
)

// Assess produces the one ValidationResult for a request. Issues never
// abort assessment; metadata lookup failures are logged and skipped.
func (a *Assessor) Assess(ctx context.Context, req *types.ExecutionRequest) *types.ValidationResult {
	var issues []types.ValidationIssue
	var entities []string

	switch op := req.Operation.(type) {
	case types.QueryOperation:
		issues, entities = a.assessQuery(op.SQL)
	case *types.QueryOperation:
		issues, entities = a.assessQuery(op.SQL)
	case types.SchemaChangeOperation:
		issues, entities = a.assessSchemaChange(ctx, op)
	case *types.SchemaChangeOperation:
		issues, entities = a.assessSchemaChange(ctx, *op)
	case types.BusinessOperation:
		issues, entities = a.assessBusiness(op)
	case *types.BusinessOperation:
		issues, entities = a.assessBusiness(*op)
	case types.MigrationOperation:
		issues, entities = a.assessMigration(op)
	case *types.MigrationOperation:
		issues, entities = a.assessMigration(*op)
	default:
		issues = append(issues, types.ValidationIssue{
			Category: types.CategoryBusinessLogic,
			Severity: types.SeverityError,
			Message:  "unknown operation kind",
		})
	}

	risk := types.RiskFromSeverity(types.MaxSeverity(issues))
	result := &types.ValidationResult{
		Valid:            risk != types.RiskCritical,
		RiskLevel:        risk,
		Issues:           issues,
		Recommendations:  recommendations(issues),
		RequiresApproval: risk == types.RiskHigh || risk == types.RiskCritical,
		Impact:           a.estimateImpact(req.Operation, issues, entities),
	}

	a.logger.Debug("assessment complete",
		"request_id", req.ID,
		"kind", req.Operation.Kind(),
		"risk", result.RiskLevel,
		"issues", len(result.Issues),
	)
	return result
}

func (a *Assessor) assessQuery(sql string) ([]types.ValidationIssue, []string) {
	var issues []types.ValidationIssue

	for _, p := range a.policies.Patterns() {
		if p.Matches(sql) {
			issues = append(issues, types.ValidationIssue{
				Category:     p.Category,
				Severity:     p.Severity,
				Message:      p.Message,
				SuggestedFix: p.Fix,
			})
		}
	}

	tables := referencedTables(sql)
	destructive := destructiveVerbExpr.MatchString(sql)
	mutating := mutatingVerbExpr.MatchString(sql)
	readOnly := readOnlyExpr.MatchString(sql)

	for _, table := range tables {
		if a.policies.IsCriticalTable(table) {
			switch {
			case destructive:
				issues = append(issues, types.ValidationIssue{
					Category:         types.CategoryDataLoss,
					Severity:         types.SeverityCritical,
					Message:          "destructive statement against critical table " + table,
					AffectedEntities: []string{table},
					SuggestedFix:     "Critical tables must be modified through a reviewed migration",
				})
			case mutating:
				issues = append(issues, types.ValidationIssue{
					Category:         types.CategoryBusinessLogic,
					Severity:         types.SeverityWarning,
					Message:          "statement mutates critical table " + table,
					AffectedEntities: []string{table},
				})
			}
		}
		if readOnly && a.policies.IsPersonalDataTable(table) {
			issues = append(issues, types.ValidationIssue{
				Category:         types.CategoryCompliance,
				Severity:         types.SeverityWarning,
				Message:          "statement reads personal data from " + table,
				AffectedEntities: []string{table},
				SuggestedFix:     "Restrict the projection to non-personal columns",
			})
		}
	}

	if selectStarExpr.MatchString(sql) && !rowCapExpr.MatchString(sql) {
		issues = append(issues, types.ValidationIssue{
			Category:     types.CategoryPerformance,
			Severity:     types.SeverityWarning,
			Message:      "wildcard projection with no row cap may scan the whole table",
			SuggestedFix: "Name the columns you need and add a LIMIT",
		})
	}

	return issues, tables
}

func (a *Assessor) assessSchemaChange(ctx context.Context, op types.SchemaChangeOperation) ([]types.ValidationIssue, []string) {
	var issues []types.ValidationIssue

	switch op.Change {
	case types.SchemaDropTable:
		if a.policies.IsCriticalTable(op.Table) {
			issues = append(issues, types.ValidationIssue{
				Category:         types.CategoryDataLoss,
				Severity:         types.SeverityCritical,
				Message:          "dropping critical table " + op.Table,
				AffectedEntities: []string{op.Table},
				SuggestedFix:     "Archive the table instead of dropping it",
			})
		}
		if deps := a.dependents(ctx, op.Table); len(deps) > 0 {
			issues = append(issues, types.ValidationIssue{
				Category:         types.CategoryDataLoss,
				Severity:         types.SeverityError,
				Message:          "table " + op.Table + " has dependent tables: " + strings.Join(deps, ", "),
				AffectedEntities: deps,
				SuggestedFix:     "Drop or migrate the dependents first",
			})
		}
	case types.SchemaAlterTable:
		if a.policies.IsCriticalTable(op.Table) {
			issues = append(issues, types.ValidationIssue{
				Category:         types.CategoryBusinessLogic,
				Severity:         types.SeverityWarning,
				Message:          "altering critical table " + op.Table,
				AffectedEntities: []string{op.Table},
			})
		}
	}

	return issues, []string{strings.ToLower(op.Table)}
}

func (a *Assessor) assessBusiness(op types.BusinessOperation) ([]types.ValidationIssue, []string) {
	var issues []types.ValidationIssue

	if destructiveNameExpr.MatchString(op.Name) {
		issues = append(issues, types.ValidationIssue{
			Category:         types.CategoryBusinessLogic,
			Severity:         types.SeverityWarning,
			Message:          "operation " + op.Name + " has delete/cancel semantics",
			AffectedEntities: []string{op.Entity},
		})
	}
	if financialNameExpr.MatchString(op.Name) {
		issues = append(issues, types.ValidationIssue{
			Category:         types.CategoryCompliance,
			Severity:         types.SeverityError,
			Message:          "operation " + op.Name + " touches payment or refund state",
			AffectedEntities: []string{op.Entity},
			SuggestedFix:     "Route financial mutations through the billing workflow",
		})
	}

	var entities []string
	if op.Entity != "" {
		entities = []string{strings.ToLower(op.Entity)}
	}
	return issues, entities
}

func (a *Assessor) assessMigration(op types.MigrationOperation) ([]types.ValidationIssue, []string) {
	var issues []types.ValidationIssue
	seen := map[string]struct{}{}
	var entities []string

	for _, stmt := range op.Statements {
		stmtIssues, tables := a.assessQuery(stmt)
		issues = append(issues, stmtIssues...)
		for _, t := range tables {
			if _, ok := seen[t]; !ok {
				seen[t] = struct{}{}
				entities = append(entities, t)
			}
		}
	}
	if len(op.Statements) == 0 {
		issues = append(issues, types.ValidationIssue{
			Category: types.CategoryBusinessLogic,
			Severity: types.SeverityWarning,
			Message:  "migration " + op.Version + " contains no statements",
		})
	}

	return issues, entities
}

func (a *Assessor) dependents(ctx context.Context, table string) []string {
	if a.metadata == nil {
		return nil
	}
	deps, err := a.metadata.Dependents(ctx, table)
	if err != nil {
		a.logger.Warn("dependent lookup failed", "table", table, "error", err)
		return nil
	}
	sort.Strings(deps)
	return deps
}

func (a *Assessor) estimateImpact(op types.Operation, issues []types.ValidationIssue, entities []string) types.ImpactAssessment {
	impact := types.ImpactAssessment{
		AffectedEntities: entities,
		Reversibility:    types.Reversible,
	}

	switch types.MaxSeverity(issues) {
	case types.SeverityCritical:
		impact.EstimatedRecords = 100000
		impact.Reversibility = types.Irreversible
		impact.IntegrityRisk = 90
	case types.SeverityError:
		impact.EstimatedRecords = 10000
		impact.Reversibility = types.PartiallyReversible
		impact.IntegrityRisk = 60
	case types.SeverityWarning:
		impact.EstimatedRecords = 1000
		impact.IntegrityRisk = 30
	default:
		impact.EstimatedRecords = 100
		impact.IntegrityRisk = 10
	}

	switch op.Kind() {
	case types.KindSchemaChange:
		impact.EstimatedDowntime = 5 * time.Minute
	case types.KindMigration:
		impact.EstimatedDowntime = 10 * time.Minute
	}

	impact.AffectedProcesses = affectedProcesses(entities)
	return impact
}

// affectedProcesses maps touched tables onto the business processes that
// read them, so approvers see the operational blast radius.
func affectedProcesses(entities []string) []string {
	seen := map[string]struct{}{}
	var out []string
	add := func(p string) {
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	for _, e := range entities {
		switch e {
		case "payments", "invoices":
			add("billing")
		case "users", "employees":
			add("staff_management")
		case "customers", "service_agreements":
			add("customer_management")
		case "schedules", "jobs", "equipment":
			add("field_scheduling")
		}
	}
	return out
}

// recommendations produces human-readable guidance keyed by the issue
// categories present. Any security issue always yields the sanitization
// recommendation.
func recommendations(issues []types.ValidationIssue) []string {
	present := map[types.IssueCategory]struct{}{}
	for _, issue := range issues {
		present[issue.Category] = struct{}{}
	}

	var recs []string
	if _, ok := present[types.CategorySecurity]; ok {
		recs = append(recs, "Review and sanitize all inputs before execution")
	}
	if _, ok := present[types.CategoryDataLoss]; ok {
		recs = append(recs, "Take a verified backup before executing this operation")
	}
	if _, ok := present[types.CategoryPerformance]; ok {
		recs = append(recs, "Add row limits or run during a maintenance window")
	}
	if _, ok := present[types.CategoryCompliance]; ok {
		recs = append(recs, "Confirm data-handling approval with the compliance owner")
	}
	if _, ok := present[types.CategoryBusinessLogic]; ok {
		recs = append(recs, "Have the business owner confirm the intended effect")
	}
	return recs
}

// referencedTables extracts table names from raw SQL with the same
// best-effort regex approach as the dangerous-pattern scanner.
func referencedTables(sql string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, expr := range tableRefExprs {
		for _, m := range expr.FindAllStringSubmatch(sql, -1) {
			name := strings.ToLower(m[1])
			if i := strings.LastIndexByte(name, '.'); i >= 0 {
				name = name[i+1:]
			}
			name = strings.Trim(name, `"`)
			name = strings.TrimRight(name, ";")
			if name == "" {
				continue
			}
			if _, ok := seen[name]; !ok {
				seen[name] = struct{}{}
				out = append(out, name)
			}
		}
	}
	return out
}
