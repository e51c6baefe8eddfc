package rpc

import (
	"fmt"
	"net/rpc"
	"os/exec"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-plugin"

	"github.com/fieldgrid/safeguard/executor"
)

// ExecutorPlugin implements the plugin.Plugin interface for executors.
type ExecutorPlugin struct {
	Executor executor.Executor
	Logger   hclog.Logger
}

// Server returns the RPC server for this plugin.
func (p *ExecutorPlugin) Server(*plugin.MuxBroker) (interface{}, error) {
	return &ExecutorServer{
		Executor: p.Executor,
		Logger:   p.Logger,
	}, nil
}

// Client returns the RPC client for this plugin.
func (p *ExecutorPlugin) Client(b *plugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &ExecutorClient{
		Client: c,
		Logger: p.Logger,
	}, nil
}

// ServeConfig configures ServeExecutor.
type ServeConfig struct {
	Executor executor.Executor
	Logger   hclog.Logger
	Debug    bool
}

// ServeExecutor serves an executor as an RPC plugin. This is the entry
// point for executor plugin binaries; it blocks until the host disconnects.
func ServeExecutor(config *ServeConfig) error {
	if config == nil || config.Executor == nil {
		return fmt.Errorf("serve config with an executor is required")
	}

	logger := config.Logger
	if logger == nil {
		level := hclog.Info
		if config.Debug {
			level = hclog.Debug
		}
		logger = hclog.New(&hclog.LoggerOptions{
			Name:  "safeguard-executor",
			Level: level,
		})
	}

	logger.Info("starting executor plugin")

	plugin.Serve(&plugin.ServeConfig{
		HandshakeConfig: HandshakeConfig,
		Plugins: map[string]plugin.Plugin{
			PluginName: &ExecutorPlugin{
				Executor: config.Executor,
				Logger:   logger,
			},
		},
		Logger: logger,
	})
	return nil
}

// RemoteExecutor wraps a plugin client so the subprocess can be shut down
// when the engine is done with it.
type RemoteExecutor struct {
	executor.Executor
	client *plugin.Client
}

// Close kills the plugin subprocess.
func (r *RemoteExecutor) Close() {
	r.client.Kill()
}

// Connect launches an executor plugin binary and returns an Executor backed
// by it. The caller owns the returned executor and must Close it.
func Connect(path string, logger hclog.Logger) (*RemoteExecutor, error) {
	if logger == nil {
		logger = hclog.New(&hclog.LoggerOptions{Name: "safeguard-executor-host"})
	}

	client := plugin.NewClient(&plugin.ClientConfig{
		HandshakeConfig: HandshakeConfig,
		Plugins: map[string]plugin.Plugin{
			PluginName: &ExecutorPlugin{Logger: logger},
		},
		Cmd:    exec.Command(path),
		Logger: logger,
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("failed to connect to executor plugin: %w", err)
	}

	raw, err := rpcClient.Dispense(PluginName)
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("failed to dispense executor plugin: %w", err)
	}

	remote, ok := raw.(executor.Executor)
	if !ok {
		client.Kill()
		return nil, fmt.Errorf("plugin did not provide an executor")
	}

	return &RemoteExecutor{Executor: remote, client: client}, nil
}
