// Package rpc lets an Executor run out of process as a plugin. The engine
// side connects a client that satisfies executor.Executor; the data-access
// side serves its implementation as a plugin binary.
package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/hashicorp/go-plugin"

	"github.com/fieldgrid/safeguard/types"
)

// HandshakeConfig is shared by plugin servers and clients. The magic cookie
// is a basic sanity check that the child process is a safeguard executor
// plugin, not a security measure.
var HandshakeConfig = plugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "SAFEGUARD_PLUGIN",
	MagicCookieValue: "safeguard-executor-plugin",
}

// PluginName is the key executors are registered under in the plugin map.
const PluginName = "executor"

// RPCError carries an executor failure across the process boundary.
type RPCError struct {
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Details)
	}
	return e.Message
}

// RunQueryRequest is the request for the RunQuery RPC call.
type RunQueryRequest struct {
	SQL     string               `json:"sql"`
	Context types.RequestContext `json:"context"`
}

// RunQueryResponse is the response for the RunQuery RPC call.
type RunQueryResponse struct {
	Output json.RawMessage `json:"output,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
}

// ApplySchemaChangeRequest is the request for the ApplySchemaChange RPC call.
type ApplySchemaChangeRequest struct {
	Change  *types.SchemaChangeOperation `json:"change"`
	Context types.RequestContext         `json:"context"`
}

// ApplySchemaChangeResponse is the response for the ApplySchemaChange RPC call.
type ApplySchemaChangeResponse struct {
	Output json.RawMessage `json:"output,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
}

// RunBusinessOperationRequest is the request for the RunBusinessOperation RPC call.
type RunBusinessOperationRequest struct {
	Operation *types.BusinessOperation `json:"operation"`
	Context   types.RequestContext     `json:"context"`
}

// RunBusinessOperationResponse is the response for the RunBusinessOperation RPC call.
type RunBusinessOperationResponse struct {
	Output json.RawMessage `json:"output,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
}
