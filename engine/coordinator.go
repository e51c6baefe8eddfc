// Package engine implements the execution coordinator: the orchestrator
// that accepts proposed operations, runs risk assessment and rollback
// planning, applies the approval policy, drives the execution state machine,
// and rolls back failed executions when a plan allows it.
//
// State machine: pending -> approved -> executing -> {completed | failed},
// and failed -> rolled_back when the rollback plan permits. completed,
// rolled_back, and unrecoverable failed are terminal.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/fieldgrid/safeguard/assess"
	"github.com/fieldgrid/safeguard/audit"
	"github.com/fieldgrid/safeguard/executor"
	"github.com/fieldgrid/safeguard/policy"
	"github.com/fieldgrid/safeguard/rollback"
	"github.com/fieldgrid/safeguard/snapshot"
	"github.com/fieldgrid/safeguard/types"
)

var (
	// ErrNotFound is returned when no execution exists for the given id.
	ErrNotFound = errors.New("execution not found")
	// ErrNotApprovable is returned when approving an execution that is
	// not pending.
	ErrNotApprovable = errors.New("execution is not awaiting approval")
	// ErrNotExecutable is returned when executing an execution that is
	// not approved; this includes the second of two execute calls.
	ErrNotExecutable = errors.New("execution is not in an executable state")
	// ErrAdminApprovalRequired is returned when a critical-risk execution
	// would start executing without an admin approval on record.
	ErrAdminApprovalRequired = errors.New("critical risk requires an admin approval")
	// ErrRollbackUnavailable is returned when the rollback plan cannot be
	// carried out.
	ErrRollbackUnavailable = errors.New("execution cannot be rolled back")
	// ErrDuplicateRequest is returned when a request id was already
	// submitted.
	ErrDuplicateRequest = errors.New("request id already submitted")
)

// ApprovalRequest is the event emitted to the external approval workflow
// when an execution needs a human decision.
type ApprovalRequest struct {
	ExecutionID    string              `json:"execution_id"`
	RequestType    types.OperationKind `json:"request_type"`
	RiskLevel      types.RiskLevel     `json:"risk_level"`
	RequestedBy    string              `json:"requested_by"`
	BusinessUnitID string              `json:"business_unit_id"`
}

// ApprovalNotifier receives approval-request events. Implementations must
// not block; the coordinator calls them inline.
type ApprovalNotifier func(ApprovalRequest)

// Config wires the coordinator's collaborators. Executor and AuditSink are
// required; everything else has a working default.
type Config struct {
	Executor  executor.Executor
	Audit     audit.Sink
	Policies  *policy.Store
	Metadata  assess.MetadataSource
	Snapshots snapshot.Store
	Notifier  ApprovalNotifier
	Logger    hclog.Logger
	// HistoryLimit caps GetExecutionHistory when callers pass limit <= 0.
	HistoryLimit int
}

// Coordinator orchestrates the safety and execution pipeline. Instances are
// explicitly constructed and injectable; multiple tenants can run isolated
// coordinators.
type Coordinator struct {
	mu       sync.Mutex
	requests map[string]*types.ExecutionRequest
	results  map[string]*types.ExecutionResult
	order    []string

	assessor  *assess.Assessor
	planner   *rollback.Planner
	snapshots snapshot.Store
	executor  executor.Executor
	audit     audit.Sink
	notifier  ApprovalNotifier
	logger    hclog.Logger

	historyLimit int
}

// NewCoordinator creates a coordinator from the given configuration.
func NewCoordinator(cfg Config) (*Coordinator, error) {
	if cfg.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if cfg.Audit == nil {
		return nil, fmt.Errorf("audit sink is required")
	}
	policies := cfg.Policies
	if policies == nil {
		policies = policy.DefaultStore()
	}
	store := cfg.Snapshots
	if store == nil {
		store = snapshot.NewMemoryStore()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = hclog.Default()
	}
	logger = logger.Named("engine")
	limit := cfg.HistoryLimit
	if limit <= 0 {
		limit = 100
	}

	return &Coordinator{
		requests:     make(map[string]*types.ExecutionRequest),
		results:      make(map[string]*types.ExecutionResult),
		assessor:     assess.NewAssessor(policies, cfg.Metadata, logger),
		planner:      rollback.NewPlanner(),
		snapshots:    store,
		executor:     cfg.Executor,
		audit:        cfg.Audit,
		notifier:     cfg.Notifier,
		logger:       logger,
		historyLimit: limit,
	}, nil
}

// SubmitExecution runs assessment and rollback planning, registers the
// request, and either auto-approves it or parks it awaiting approval.
// Validation findings are returned inside the result, never as an error.
func (c *Coordinator) SubmitExecution(ctx context.Context, req *types.ExecutionRequest) (*types.ExecutionResult, error) {
	if req == nil || req.Operation == nil {
		return nil, fmt.Errorf("request and operation are required")
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.SubmittedAt.IsZero() {
		req.SubmittedAt = time.Now().UTC()
	}
	if req.Priority == "" {
		req.Priority = types.PriorityNormal
	}

	validation := c.assessor.Assess(ctx, req)
	// The rollback plan always exists before any approval is recorded.
	plan := c.planner.Plan(req)

	result := &types.ExecutionResult{
		RequestID:    req.ID,
		Status:       types.StatusPending,
		Validation:   validation,
		RollbackPlan: plan,
	}

	c.mu.Lock()
	if _, exists := c.results[req.ID]; exists {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateRequest, req.ID)
	}
	c.requests[req.ID] = req
	c.results[req.ID] = result
	c.order = append(c.order, req.ID)

	autoApprove := validation.Valid && !validation.RequiresApproval && req.Priority != types.PriorityCritical
	if autoApprove {
		result.Approvals = append(result.Approvals, types.Approval{
			ApprovedBy: "system",
			ApprovedAt: time.Now().UTC(),
			Type:       types.ApprovalSystem,
			Comment:    "auto-approved: risk below approval threshold",
		})
		result.Status = types.StatusApproved
	}
	c.mu.Unlock()

	c.logger.Info("execution submitted",
		"request_id", req.ID,
		"kind", req.Operation.Kind(),
		"risk", validation.RiskLevel,
		"auto_approved", autoApprove,
	)

	if autoApprove {
		c.recordAudit(ctx, req, types.StatusApproved, "system", "", "auto-approved")
		if err := c.Execute(ctx, req.ID); err != nil {
			c.logger.Error("execution failed after auto-approval", "request_id", req.ID, "error", err)
		}
	} else {
		c.recordAudit(ctx, req, types.StatusPending, req.Context.RequestedBy, "", "awaiting approval")
		if c.notifier != nil {
			c.notifier(ApprovalRequest{
				ExecutionID:    req.ID,
				RequestType:    req.Operation.Kind(),
				RiskLevel:      validation.RiskLevel,
				RequestedBy:    req.Context.RequestedBy,
				BusinessUnitID: req.Context.BusinessUnitID,
			})
		}
	}

	return c.statusCopy(req.ID), nil
}

// ApproveExecution appends an approval and, once the approval policy is
// satisfied, advances to approved and triggers execution. Critical risk
// requires at least one admin approval; high risk requires one approval of
// any type; everything else needs a single approval to release it.
func (c *Coordinator) ApproveExecution(ctx context.Context, executionID string, approval types.Approval) error {
	if approval.ApprovedAt.IsZero() {
		approval.ApprovedAt = time.Now().UTC()
	}

	c.mu.Lock()
	result, ok := c.results[executionID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, executionID)
	}
	if result.Status != types.StatusPending {
		c.mu.Unlock()
		return fmt.Errorf("%w: status is %s", ErrNotApprovable, result.Status)
	}

	result.Approvals = append(result.Approvals, approval)
	sufficient := approvalSufficient(result.Validation.RiskLevel, result.Approvals)
	if sufficient {
		result.Status = types.StatusApproved
	}
	req := c.requests[executionID]
	c.mu.Unlock()

	c.logger.Info("approval recorded",
		"request_id", executionID,
		"approver", approval.ApprovedBy,
		"approval_type", approval.Type,
		"sufficient", sufficient,
	)

	if !sufficient {
		return nil
	}

	c.recordAudit(ctx, req, types.StatusApproved, approval.ApprovedBy, "", "approval policy satisfied")
	if err := c.Execute(ctx, executionID); err != nil {
		// The approval itself succeeded; the execution outcome is
		// visible through GetExecutionStatus and the audit trail.
		c.logger.Error("execution failed after approval", "request_id", executionID, "error", err)
	}
	return nil
}

// approvalSufficient applies the approval-sufficiency policy.
func approvalSufficient(risk types.RiskLevel, approvals []types.Approval) bool {
	if len(approvals) == 0 {
		return false
	}
	if risk == types.RiskCritical {
		for _, a := range approvals {
			if a.Type == types.ApprovalAdmin {
				return true
			}
		}
		return false
	}
	return true
}

// Execute drives an approved execution through the executor. It rejects any
// execution that is not in approved state, which makes execution at most
// once per request id: a second call observes executing/completed and is
// rejected.
func (c *Coordinator) Execute(ctx context.Context, executionID string) error {
	c.mu.Lock()
	result, ok := c.results[executionID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, executionID)
	}
	if result.Status != types.StatusApproved {
		c.mu.Unlock()
		return fmt.Errorf("%w: status is %s", ErrNotExecutable, result.Status)
	}
	if result.Validation.RiskLevel == types.RiskCritical && !hasAdminApproval(result.Approvals) {
		c.mu.Unlock()
		return ErrAdminApprovalRequired
	}

	now := time.Now().UTC()
	result.Status = types.StatusExecuting
	result.ExecutedAt = &now
	req := c.requests[executionID]
	plan := result.RollbackPlan
	c.mu.Unlock()

	// Executor and snapshot calls can block; they happen outside the lock.
	state := c.snapshotState(req, nil)
	if _, err := c.snapshots.Capture(ctx, executionID, types.SnapshotPreExecution, state); err != nil {
		c.finalize(executionID, types.StatusFailed, nil, fmt.Sprintf("pre-execution snapshot failed: %v", err))
		c.recordAudit(ctx, req, types.StatusFailed, req.Context.RequestedBy, err.Error(), "snapshot capture failed before execution")
		return fmt.Errorf("pre-execution snapshot failed: %w", err)
	}

	output, execErr := c.dispatch(ctx, req)
	if execErr != nil {
		c.finalize(executionID, types.StatusFailed, nil, execErr.Error())
		c.recordAudit(ctx, req, types.StatusFailed, req.Context.RequestedBy, execErr.Error(), "execution failed")

		if plan != nil && plan.CanRollback && plan.Complexity != types.ComplexityImpossible {
			if rbErr := c.RollbackExecution(ctx, executionID, "automatic rollback after execution failure"); rbErr != nil {
				c.logger.Error("automatic rollback failed", "request_id", executionID, "error", rbErr)
			}
		} else {
			c.recordAudit(ctx, req, types.StatusFailed, req.Context.RequestedBy, execErr.Error(), "rollback unavailable; failure is terminal")
		}
		return fmt.Errorf("execution failed: %w", execErr)
	}

	if _, err := c.snapshots.Capture(ctx, executionID, types.SnapshotPostExecution, c.snapshotState(req, output)); err != nil {
		// The effect is applied; a missing post snapshot degrades the
		// audit trail but does not undo the execution.
		c.logger.Warn("post-execution snapshot failed", "request_id", executionID, "error", err)
	}

	c.finalize(executionID, types.StatusCompleted, output, "")
	c.recordAudit(ctx, req, types.StatusCompleted, req.Context.RequestedBy, "", "execution completed")
	return nil
}

// RollbackExecution replays the rollback plan's operations in reverse order
// through the executor, records one checkpoint snapshot, and moves the
// execution to rolled_back. A failure during replay is reported and leaves
// the execution failed with the incomplete rollback in the audit trail.
func (c *Coordinator) RollbackExecution(ctx context.Context, executionID string, reason string) error {
	c.mu.Lock()
	result, ok := c.results[executionID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, executionID)
	}
	plan := result.RollbackPlan
	if plan == nil || !plan.CanRollback || plan.Complexity == types.ComplexityImpossible {
		c.mu.Unlock()
		return ErrRollbackUnavailable
	}
	if result.Status != types.StatusCompleted && result.Status != types.StatusFailed {
		c.mu.Unlock()
		return fmt.Errorf("%w: status is %s", ErrRollbackUnavailable, result.Status)
	}
	steps := make([]types.RollbackOperation, len(plan.Operations))
	copy(steps, plan.Operations)
	req := c.requests[executionID]
	c.mu.Unlock()

	if _, err := c.snapshots.Capture(ctx, executionID, types.SnapshotCheckpoint, c.snapshotState(req, nil)); err != nil {
		c.logger.Warn("rollback checkpoint snapshot failed", "request_id", executionID, "error", err)
	}

	for i := len(steps) - 1; i >= 0; i-- {
		step := steps[i]
		c.logger.Debug("replaying rollback step",
			"request_id", executionID,
			"order", step.Order,
			"type", step.Type,
		)
		if _, err := c.executor.RunQuery(ctx, step.Statement, req.Context); err != nil {
			msg := fmt.Sprintf("rollback incomplete at step %d (%s): %v", step.Order, step.Type, err)
			c.finalize(executionID, types.StatusFailed, nil, msg)
			c.recordAudit(ctx, req, types.StatusFailed, req.Context.RequestedBy, msg, "rollback failed: "+reason)
			return fmt.Errorf("rollback step %d failed: %w", step.Order, err)
		}
	}

	rollbackID := uuid.NewString()
	c.mu.Lock()
	result.Status = types.StatusRolledBack
	result.RollbackID = rollbackID
	c.mu.Unlock()

	c.recordAudit(ctx, req, types.StatusRolledBack, req.Context.RequestedBy, "", "rollback completed: "+reason)
	c.logger.Info("rollback completed", "request_id", executionID, "rollback_id", rollbackID, "reason", reason)
	return nil
}

// GetExecutionStatus returns a copy of the execution result for id.
func (c *Coordinator) GetExecutionStatus(executionID string) (*types.ExecutionResult, bool) {
	result := c.statusCopy(executionID)
	return result, result != nil
}

// GetPendingExecutions returns the requests still awaiting approval, in
// submission order.
func (c *Coordinator) GetPendingExecutions() []*types.ExecutionRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*types.ExecutionRequest
	for _, id := range c.order {
		if c.results[id].Status == types.StatusPending {
			out = append(out, c.requests[id])
		}
	}
	return out
}

// GetExecutionHistory returns up to limit results, most recent submissions
// first. A non-positive limit uses the configured default.
func (c *Coordinator) GetExecutionHistory(limit int) []*types.ExecutionResult {
	if limit <= 0 {
		limit = c.historyLimit
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*types.ExecutionResult
	for i := len(c.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, cloneResult(c.results[c.order[i]]))
	}
	return out
}

// dispatch routes an operation to the matching executor method. Migrations
// run their statements sequentially and stop at the first error.
func (c *Coordinator) dispatch(ctx context.Context, req *types.ExecutionRequest) (json.RawMessage, error) {
	switch op := req.Operation.(type) {
	case types.QueryOperation:
		return c.executor.RunQuery(ctx, op.SQL, req.Context)
	case *types.QueryOperation:
		return c.executor.RunQuery(ctx, op.SQL, req.Context)
	case types.SchemaChangeOperation:
		return c.executor.ApplySchemaChange(ctx, &op, req.Context)
	case *types.SchemaChangeOperation:
		return c.executor.ApplySchemaChange(ctx, op, req.Context)
	case types.BusinessOperation:
		return c.executor.RunBusinessOperation(ctx, &op, req.Context)
	case *types.BusinessOperation:
		return c.executor.RunBusinessOperation(ctx, op, req.Context)
	case types.MigrationOperation:
		return c.runMigration(ctx, &op, req.Context)
	case *types.MigrationOperation:
		return c.runMigration(ctx, op, req.Context)
	}
	return nil, fmt.Errorf("unsupported operation kind %q", req.Operation.Kind())
}

func (c *Coordinator) runMigration(ctx context.Context, op *types.MigrationOperation, reqCtx types.RequestContext) (json.RawMessage, error) {
	for i, stmt := range op.Statements {
		if _, err := c.executor.RunQuery(ctx, stmt, reqCtx); err != nil {
			return nil, fmt.Errorf("migration %s statement %d failed: %w", op.Version, i+1, err)
		}
	}
	return json.Marshal(map[string]interface{}{
		"version":    op.Version,
		"statements": len(op.Statements),
	})
}

// finalize updates status, output, and error under the lock.
func (c *Coordinator) finalize(executionID string, status types.ExecutionStatus, output json.RawMessage, errMsg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	result, ok := c.results[executionID]
	if !ok {
		return
	}
	result.Status = status
	result.Error = errMsg
	if output != nil {
		result.Output = output
	}
	if status == types.StatusCompleted || status == types.StatusFailed {
		now := time.Now().UTC()
		result.CompletedAt = &now
	}
}

func (c *Coordinator) recordAudit(ctx context.Context, req *types.ExecutionRequest, status types.ExecutionStatus, actor, errMsg, detail string) {
	entry := &audit.Entry{
		RequestID:      req.ID,
		Type:           req.Operation.Kind(),
		Status:         status,
		Actor:          actor,
		BusinessUnitID: req.Context.BusinessUnitID,
		StartedAt:      req.SubmittedAt,
		CompletedAt:    time.Now().UTC(),
		Error:          errMsg,
		Detail:         detail,
	}
	if err := c.audit.Record(ctx, entry); err != nil {
		c.logger.Error("audit record failed", "request_id", req.ID, "error", err)
	}
}

// snapshotState serializes the request for before/after comparison. The
// engine has no direct store access, so the captured state is the operation
// descriptor and its context rather than table contents; post-execution
// captures additionally carry the executor output so the pre/post pair
// differs by what the execution produced.
func (c *Coordinator) snapshotState(req *types.ExecutionRequest, output json.RawMessage) []byte {
	fields := map[string]interface{}{
		"request_id":   req.ID,
		"kind":         req.Operation.Kind(),
		"operation":    req.Operation,
		"context":      req.Context,
		"priority":     req.Priority,
		"submitted_at": req.SubmittedAt,
	}
	if output != nil {
		fields["output"] = output
	}
	state, err := json.Marshal(fields)
	if err != nil {
		c.logger.Warn("snapshot state serialization failed", "request_id", req.ID, "error", err)
		return []byte("{}")
	}
	return state
}

func (c *Coordinator) statusCopy(executionID string) *types.ExecutionResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	result, ok := c.results[executionID]
	if !ok {
		return nil
	}
	return cloneResult(result)
}

func hasAdminApproval(approvals []types.Approval) bool {
	for _, a := range approvals {
		if a.Type == types.ApprovalAdmin {
			return true
		}
	}
	return false
}

// cloneResult copies a result so callers never share the coordinator's
// mutable state. Validation and plan are immutable once created and are
// shared.
func cloneResult(r *types.ExecutionResult) *types.ExecutionResult {
	if r == nil {
		return nil
	}
	out := *r
	out.Approvals = make([]types.Approval, len(r.Approvals))
	copy(out.Approvals, r.Approvals)
	if r.ExecutedAt != nil {
		t := *r.ExecutedAt
		out.ExecutedAt = &t
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}
