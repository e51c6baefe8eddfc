package rpc

import (
	"context"

	"github.com/hashicorp/go-hclog"

	"github.com/fieldgrid/safeguard/executor"
)

// ExecutorServer implements the RPC server side for an Executor.
type ExecutorServer struct {
	Executor executor.Executor
	Logger   hclog.Logger
}

// RunQuery handles the RunQuery RPC call.
func (s *ExecutorServer) RunQuery(req *RunQueryRequest, resp *RunQueryResponse) error {
	s.Logger.Debug("RunQuery called", "requested_by", req.Context.RequestedBy)

	output, err := s.Executor.RunQuery(context.Background(), req.SQL, req.Context)
	if err != nil {
		s.Logger.Error("RunQuery failed", "error", err)
		resp.Error = &RPCError{
			Message: "query execution failed",
			Details: err.Error(),
		}
		return nil
	}

	resp.Output = output
	s.Logger.Debug("RunQuery completed")
	return nil
}

// ApplySchemaChange handles the ApplySchemaChange RPC call.
func (s *ExecutorServer) ApplySchemaChange(req *ApplySchemaChangeRequest, resp *ApplySchemaChangeResponse) error {
	s.Logger.Debug("ApplySchemaChange called", "change", req.Change.Change, "table", req.Change.Table)

	output, err := s.Executor.ApplySchemaChange(context.Background(), req.Change, req.Context)
	if err != nil {
		s.Logger.Error("ApplySchemaChange failed", "error", err)
		resp.Error = &RPCError{
			Message: "schema change failed",
			Details: err.Error(),
		}
		return nil
	}

	resp.Output = output
	s.Logger.Debug("ApplySchemaChange completed")
	return nil
}

// RunBusinessOperation handles the RunBusinessOperation RPC call.
func (s *ExecutorServer) RunBusinessOperation(req *RunBusinessOperationRequest, resp *RunBusinessOperationResponse) error {
	s.Logger.Debug("RunBusinessOperation called", "name", req.Operation.Name)

	output, err := s.Executor.RunBusinessOperation(context.Background(), req.Operation, req.Context)
	if err != nil {
		s.Logger.Error("RunBusinessOperation failed", "name", req.Operation.Name, "error", err)
		resp.Error = &RPCError{
			Message: "business operation failed",
			Details: err.Error(),
		}
		return nil
	}

	resp.Output = output
	s.Logger.Debug("RunBusinessOperation completed", "name", req.Operation.Name)
	return nil
}
