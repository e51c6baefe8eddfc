package rpc

import (
	"context"
	"encoding/json"
	"net/rpc"

	"github.com/hashicorp/go-hclog"

	"github.com/fieldgrid/safeguard/types"
)

// ExecutorClient implements executor.Executor over an RPC connection to a
// plugin process.
type ExecutorClient struct {
	Client *rpc.Client
	Logger hclog.Logger
}

// RunQuery calls the plugin's RunQuery method.
func (c *ExecutorClient) RunQuery(_ context.Context, sql string, reqCtx types.RequestContext) (json.RawMessage, error) {
	req := &RunQueryRequest{SQL: sql, Context: reqCtx}
	var resp RunQueryResponse

	if err := c.Client.Call("Plugin.RunQuery", req, &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Output, nil
}

// ApplySchemaChange calls the plugin's ApplySchemaChange method.
func (c *ExecutorClient) ApplySchemaChange(_ context.Context, change *types.SchemaChangeOperation, reqCtx types.RequestContext) (json.RawMessage, error) {
	req := &ApplySchemaChangeRequest{Change: change, Context: reqCtx}
	var resp ApplySchemaChangeResponse

	if err := c.Client.Call("Plugin.ApplySchemaChange", req, &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Output, nil
}

// RunBusinessOperation calls the plugin's RunBusinessOperation method.
func (c *ExecutorClient) RunBusinessOperation(_ context.Context, op *types.BusinessOperation, reqCtx types.RequestContext) (json.RawMessage, error) {
	req := &RunBusinessOperationRequest{Operation: op, Context: reqCtx}
	var resp RunBusinessOperationResponse

	if err := c.Client.Call("Plugin.RunBusinessOperation", req, &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Output, nil
}
