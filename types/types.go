// Package types defines the request/response structures and core data types
// shared by the safeguard execution engine: proposed operations, validation
// results, rollback plans, approvals, and snapshots.
package types

import (
	"time"
)

// OperationKind identifies the variant of a proposed operation.
type OperationKind string

const (
	KindQuery             OperationKind = "query"
	KindSchemaChange      OperationKind = "schema_change"
	KindBusinessOperation OperationKind = "business_operation"
	KindMigration         OperationKind = "migration"
)

// Operation is the tagged union of everything the engine can be asked to
// run. Each variant carries its own strongly typed fields; consumers switch
// exhaustively over the concrete type.
type Operation interface {
	Kind() OperationKind
}

// QueryOperation is a raw SQL statement proposed for execution.
type QueryOperation struct {
	SQL string `json:"sql"`
}

func (QueryOperation) Kind() OperationKind { return KindQuery }

// SchemaChangeKind identifies the shape of a schema change.
type SchemaChangeKind string

const (
	SchemaCreateTable SchemaChangeKind = "create_table"
	SchemaDropTable   SchemaChangeKind = "drop_table"
	SchemaAlterTable  SchemaChangeKind = "alter_table"
	SchemaCreateIndex SchemaChangeKind = "create_index"
	SchemaDropIndex   SchemaChangeKind = "drop_index"
)

// SchemaChangeOperation describes a structural change to the store.
type SchemaChangeOperation struct {
	Change     SchemaChangeKind       `json:"change"`
	Table      string                 `json:"table"`
	Definition map[string]interface{} `json:"definition,omitempty"`
}

func (SchemaChangeOperation) Kind() OperationKind { return KindSchemaChange }

// BusinessOperation is a named business-state mutation (cancel a job,
// refund a payment, reassign a crew) addressed to the data-access layer.
type BusinessOperation struct {
	Name    string                 `json:"name"`
	Entity  string                 `json:"entity"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

func (BusinessOperation) Kind() OperationKind { return KindBusinessOperation }

// MigrationOperation is an ordered batch of statements applied as a unit.
type MigrationOperation struct {
	Version     string   `json:"version"`
	Description string   `json:"description,omitempty"`
	Statements  []string `json:"statements"`
}

func (MigrationOperation) Kind() OperationKind { return KindMigration }

// Priority is the caller-declared urgency of a request.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// RequestContext carries who proposed the operation and why. Confidence is
// the upstream classifier's self-reported score in [0,1]; the engine treats
// it as advisory only.
type RequestContext struct {
	RequestedBy    string  `json:"requested_by"`
	BusinessUnitID string  `json:"business_unit_id"`
	Intent         string  `json:"intent,omitempty"`
	Confidence     float64 `json:"confidence,omitempty"`
}

// ExecutionRequest is a proposed mutation submitted for safety review.
// Immutable once created.
type ExecutionRequest struct {
	ID          string         `json:"id"`
	Operation   Operation      `json:"operation"`
	Context     RequestContext `json:"context"`
	Priority    Priority       `json:"priority"`
	SubmittedAt time.Time      `json:"submitted_at"`
}

// IssueCategory classifies a validation issue.
type IssueCategory string

const (
	CategorySecurity      IssueCategory = "security"
	CategoryDataLoss      IssueCategory = "data_loss"
	CategoryPerformance   IssueCategory = "performance"
	CategoryCompliance    IssueCategory = "compliance"
	CategoryBusinessLogic IssueCategory = "business_logic"
)

// IssueSeverity grades how serious a validation issue is.
type IssueSeverity string

const (
	SeverityWarning  IssueSeverity = "warning"
	SeverityError    IssueSeverity = "error"
	SeverityCritical IssueSeverity = "critical"
)

// ValidationIssue is a single finding from risk assessment. Issues never
// abort assessment; they accumulate into the ValidationResult.
type ValidationIssue struct {
	Category         IssueCategory `json:"category"`
	Severity         IssueSeverity `json:"severity"`
	Message          string        `json:"message"`
	AffectedEntities []string      `json:"affected_entities,omitempty"`
	SuggestedFix     string        `json:"suggested_fix,omitempty"`
}

// RiskLevel is the aggregate severity classification driving the approval
// policy.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Reversibility rates how completely an operation's effect can be undone.
type Reversibility string

const (
	Reversible          Reversibility = "reversible"
	PartiallyReversible Reversibility = "partially_reversible"
	Irreversible        Reversibility = "irreversible"
)

// ImpactAssessment estimates the blast radius of an operation.
type ImpactAssessment struct {
	EstimatedRecords  int64         `json:"estimated_records"`
	AffectedEntities  []string      `json:"affected_entities,omitempty"`
	AffectedProcesses []string      `json:"affected_processes,omitempty"`
	Reversibility     Reversibility `json:"reversibility"`
	EstimatedDowntime time.Duration `json:"estimated_downtime"`
	IntegrityRisk     int           `json:"integrity_risk"` // 0-100
}

// ValidationResult is the one-time, immutable output of risk assessment for
// a single ExecutionRequest.
type ValidationResult struct {
	Valid            bool              `json:"valid"`
	RiskLevel        RiskLevel         `json:"risk_level"`
	Issues           []ValidationIssue `json:"issues,omitempty"`
	Recommendations  []string          `json:"recommendations,omitempty"`
	RequiresApproval bool              `json:"requires_approval"`
	Impact           ImpactAssessment  `json:"impact"`
}

// RollbackComplexity grades how hard a rollback plan is to carry out.
type RollbackComplexity string

const (
	ComplexitySimple     RollbackComplexity = "simple"
	ComplexityModerate   RollbackComplexity = "moderate"
	ComplexityComplex    RollbackComplexity = "complex"
	ComplexityImpossible RollbackComplexity = "impossible"
)

// RollbackOperation is a single compensating step. Statement is the
// executable form replayed through the Executor during rollback.
type RollbackOperation struct {
	Order       int       `json:"order"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	Statement   string    `json:"statement"`
	Risk        RiskLevel `json:"risk"`
}

// RollbackPlan is the precomputed, ordered set of compensating actions for
// undoing an operation's effect. Exactly one plan exists per request,
// created before any approval decision.
type RollbackPlan struct {
	PlanID           string              `json:"plan_id"`
	Operations       []RollbackOperation `json:"operations"`
	Complexity       RollbackComplexity  `json:"complexity"`
	CanRollback      bool                `json:"can_rollback"`
	EstimatedMinutes int                 `json:"estimated_minutes"`
}

// ApprovalType identifies who (or what) granted an approval.
type ApprovalType string

const (
	ApprovalAutomatic ApprovalType = "automatic"
	ApprovalUser      ApprovalType = "user"
	ApprovalAdmin     ApprovalType = "admin"
	ApprovalSystem    ApprovalType = "system"
)

// Approval records a single grant. Zero or more per execution, append-only,
// ordered by arrival.
type Approval struct {
	ApprovedBy string       `json:"approved_by"`
	ApprovedAt time.Time    `json:"approved_at"`
	Type       ApprovalType `json:"type"`
	Comment    string       `json:"comment,omitempty"`
}

// ExecutionStatus is the coordinator's state for a request.
type ExecutionStatus string

const (
	StatusPending    ExecutionStatus = "pending"
	StatusApproved   ExecutionStatus = "approved"
	StatusExecuting  ExecutionStatus = "executing"
	StatusCompleted  ExecutionStatus = "completed"
	StatusFailed     ExecutionStatus = "failed"
	StatusRolledBack ExecutionStatus = "rolled_back"
)

// ExecutionResult links 1:1 to an ExecutionRequest and tracks it through
// the state machine.
type ExecutionResult struct {
	RequestID    string            `json:"request_id"`
	Status       ExecutionStatus   `json:"status"`
	Validation   *ValidationResult `json:"validation"`
	Approvals    []Approval        `json:"approvals,omitempty"`
	RollbackPlan *RollbackPlan     `json:"rollback_plan"`
	ExecutedAt   *time.Time        `json:"executed_at,omitempty"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
	Output       []byte            `json:"output,omitempty"`
	Error        string            `json:"error,omitempty"`
	RollbackID   string            `json:"rollback_id,omitempty"`
}

// SnapshotTag labels when in the lifecycle a snapshot was taken.
type SnapshotTag string

const (
	SnapshotPreExecution  SnapshotTag = "pre_execution"
	SnapshotPostExecution SnapshotTag = "post_execution"
	SnapshotCheckpoint    SnapshotTag = "checkpoint"
)

// Snapshot is a captured, checksummed copy of relevant state taken around
// execution. Snapshots form an append-only ordered sequence per execution id.
type Snapshot struct {
	ExecutionID string      `json:"execution_id"`
	Tag         SnapshotTag `json:"tag"`
	TakenAt     time.Time   `json:"taken_at"`
	State       []byte      `json:"state"`
	Size        int64       `json:"size"`
	Checksum    string      `json:"checksum"`
}

// severityRank orders issue severities for max-severity derivation.
func severityRank(s IssueSeverity) int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityError:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

// MaxSeverity returns the highest severity among issues, or "" when there
// are none.
func MaxSeverity(issues []ValidationIssue) IssueSeverity {
	var max IssueSeverity
	for _, issue := range issues {
		if severityRank(issue.Severity) > severityRank(max) {
			max = issue.Severity
		}
	}
	return max
}

// RiskFromSeverity maps the max issue severity to an overall risk level:
// critical issues are critical risk, errors are high, warnings are medium,
// and a clean assessment is low.
func RiskFromSeverity(s IssueSeverity) RiskLevel {
	switch s {
	case SeverityCritical:
		return RiskCritical
	case SeverityError:
		return RiskHigh
	case SeverityWarning:
		return RiskMedium
	default:
		return RiskLow
	}
}
