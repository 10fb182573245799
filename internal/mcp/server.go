// Package mcp exposes the flowd orchestrator over the Model Context
// Protocol.
//
// The server uses the MCP SDK (github.com/modelcontextprotocol/go-sdk/mcp)
// and calls the orchestrator runtime directly.
package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/flowd/internal/orchestrator"
)

// Server is the MCP front end over the orchestrator runtime.
type Server struct {
	mcp     *mcp.Server
	runtime *orchestrator.Runtime
	metrics *Metrics
	logger  *zap.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "flowd")
	Name string

	// Version is the server version (default: "0.1.0")
	Version string

	// Logger for structured logging
	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "flowd",
		Version: "0.1.0",
		Logger:  zap.NewNop(),
	}
}

// NewServer creates an MCP server over the runtime.
func NewServer(cfg *Config, runtime *orchestrator.Runtime) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if runtime == nil {
		return nil, fmt.Errorf("orchestrator runtime is required")
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		},
		nil,
	)

	s := &Server{
		mcp:     mcpServer,
		runtime: runtime,
		metrics: NewMetrics(cfg.Logger),
		logger:  cfg.Logger,
	}

	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	return s, nil
}

// Run starts the MCP server on the stdio transport.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	transport := &mcp.StdioTransport{}
	if err := s.mcp.Run(ctx, transport); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}
