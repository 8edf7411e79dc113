// Package mcpserver exposes the gemini engine as MCP tools over stdio.
package mcpserver

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/roelfdiedericks/gemini-mcp/internal/config"
	"github.com/roelfdiedericks/gemini-mcp/internal/files"
	"github.com/roelfdiedericks/gemini-mcp/internal/gemini"
	. "github.com/roelfdiedericks/gemini-mcp/internal/logging"
	"github.com/roelfdiedericks/gemini-mcp/internal/metrics"
)

// Runner answers one request. *gemini.Engine in production.
type Runner interface {
	Run(ctx context.Context, req gemini.Request) string
}

// Server wires the MCP tools to a Runner.
type Server struct {
	runner   Runner
	metrics  *metrics.Manager
	estimate func(string) int
	files    atomic.Pointer[config.FilesConfig]
	mcp      *server.MCPServer
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics reports from m instead of the process-wide manager.
func WithMetrics(m *metrics.Manager) Option {
	return func(s *Server) { s.metrics = m }
}

// WithEstimator sets the token counter used for context size logging.
func WithEstimator(f func(string) int) Option {
	return func(s *Server) { s.estimate = f }
}

// New creates a server with both tools registered.
func New(name, version string, runner Runner, filesCfg config.FilesConfig, opts ...Option) *Server {
	s := &Server{
		runner:  runner,
		metrics: metrics.GetInstance(),
	}
	s.SetFiles(filesCfg)
	for _, opt := range opts {
		opt(s)
	}

	s.mcp = server.NewMCPServer(name, version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	s.mcp.AddTool(queryTool(), s.handleQuery)
	s.mcp.AddTool(metricsTool(), s.handleMetrics)
	return s
}

// SetFiles swaps in new file limits for subsequent queries.
func (s *Server) SetFiles(cfg config.FilesConfig) {
	s.files.Store(&cfg)
}

// ServeStdio serves MCP on stdin/stdout until the client disconnects.
func (s *Server) ServeStdio() error {
	L_info("mcp: serving on stdio")
	return server.ServeStdio(s.mcp)
}

func (s *Server) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	start := time.Now()

	prompt, err := req.RequireString("prompt")
	if err != nil || strings.TrimSpace(prompt) == "" {
		s.metrics.RecordFailure("mcp/tool", toolQuery, "invalid_args")
		return mcp.NewToolResultError("prompt is required"), nil
	}

	timeout := req.GetInt("timeout", 0)
	if timeout < 0 {
		s.metrics.RecordFailure("mcp/tool", toolQuery, "invalid_args")
		return mcp.NewToolResultError(fmt.Sprintf("timeout must not be negative, got %d", timeout)), nil
	}

	id := uuid.NewString()
	filesCfg := *s.files.Load()

	resolved := files.Resolve(
		req.GetStringSlice("files", nil),
		req.GetStringSlice("glob_patterns", nil),
		filesCfg.MaxFiles,
	)
	built := files.BuildContext(resolved.Paths, files.Options{
		MaxBytes:   filesCfg.MaxBytes,
		SkipBinary: filesCfg.SkipBinary,
		Estimate:   s.estimate,
	})

	L_info("mcp: gemini_query", "id", id, "files", built.Included, "skipped", built.Skipped+resolved.Junk,
		"truncated", built.Truncated, "estTokens", built.EstimatedTokens)

	text := s.runner.Run(ctx, gemini.Request{
		Prompt:       prompt,
		Context:      built.Text,
		Model:        strings.TrimSpace(req.GetString("model", "")),
		Models:       nonEmpty(req.GetStringSlice("models", nil)),
		Timeout:      time.Duration(timeout) * time.Second,
		SessionID:    req.GetString("session_id", ""),
		SkippedFiles: built.Skipped + resolved.Junk,
	})

	s.metrics.RecordDuration("mcp/tool", toolQuery, time.Since(start))
	s.metrics.RecordSuccess("mcp/tool", toolQuery)
	L_elapsed(start, "mcp: gemini_query done", "id", id)

	return mcp.NewToolResultText(text), nil
}

func (s *Server) handleMetrics(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, err := s.metrics.JSON()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to render metrics: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func nonEmpty(in []string) []string {
	var out []string
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
