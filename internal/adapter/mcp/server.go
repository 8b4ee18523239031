// Package mcp exposes the elicitation tools to agents over the Model Context
// Protocol, using the streamable HTTP transport.
package mcp

import (
	"context"
	"encoding/json"
	"net/http"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/elicitor/internal/domain/abstention"
	"github.com/Strob0t/elicitor/internal/domain/batch"
	"github.com/Strob0t/elicitor/internal/domain/elicitation"
	"github.com/Strob0t/elicitor/internal/domain/escalation"
	"github.com/Strob0t/elicitor/internal/middleware"
)

// Asker creates questions and records answers.
type Asker interface {
	CreateAskUserRequest(ctx context.Context, tenantID, userID string, req elicitation.AskUserRequest) (*elicitation.Result, error)
	HandleAskUserResponse(ctx context.Context, tenantID string, resp elicitation.AskUserResponse) (*elicitation.ResponseResult, error)
}

// AbstentionChecker inspects a model response.
type AbstentionChecker interface {
	Check(ctx context.Context, in abstention.Input) (*abstention.Result, error)
}

// BatchReader lists batches waiting for a human.
type BatchReader interface {
	Ready(ctx context.Context, tenantID, userID string) ([]batch.Batch, error)
}

// ChainLister lists a tenant's escalation chains.
type ChainLister interface {
	ListChains(ctx context.Context, tenantID string) ([]escalation.Chain, error)
}

// ServerConfig holds MCP server configuration.
type ServerConfig struct {
	Name    string
	Version string
	APIKey  string
}

// ServerDeps holds the services the tools call. Nil fields make the
// corresponding tool report that it is not configured.
type ServerDeps struct {
	Asker      Asker
	Abstention AbstentionChecker
	Batches    BatchReader
	Chains     ChainLister
}

// Server wraps the mcp-go server and its HTTP transport.
type Server struct {
	cfg       ServerConfig
	deps      ServerDeps
	mcpServer *mcpserver.MCPServer
	transport *mcpserver.StreamableHTTPServer
}

// NewServer creates the MCP server with all tools and resources registered.
func NewServer(cfg ServerConfig, deps ServerDeps) *Server {
	s := &Server{
		cfg:  cfg,
		deps: deps,
		mcpServer: mcpserver.NewMCPServer(cfg.Name, cfg.Version,
			mcpserver.WithToolCapabilities(false),
			mcpserver.WithResourceCapabilities(false, false),
			mcpserver.WithRecovery(),
		),
	}
	s.registerTools()
	s.registerResources()
	s.transport = mcpserver.NewStreamableHTTPServer(s.mcpServer,
		mcpserver.WithHTTPContextFunc(tenantContext),
		mcpserver.WithStateLess(true),
	)
	return s
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// Handler returns the authenticated HTTP handler to mount at /mcp.
func (s *Server) Handler() http.Handler {
	return AuthMiddleware(s.cfg.APIKey, s.transport)
}

// Shutdown closes open streaming sessions.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.transport.Shutdown(ctx)
}

// tenantContext carries the caller's tenant and user into tool handlers.
func tenantContext(ctx context.Context, r *http.Request) context.Context {
	tid := r.Header.Get("X-Tenant-ID")
	if tid == "" {
		tid = middleware.TenantIDFromContext(r.Context())
	}
	uid := r.Header.Get("X-User-ID")
	if uid == "" {
		uid = middleware.UserIDFromContext(r.Context())
	}
	return middleware.WithTenant(ctx, tid, uid)
}

func toolResultJSON(v any) *mcplib.CallToolResult {
	data, err := json.Marshal(v)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal result", err)
	}
	return mcplib.NewToolResultText(string(data))
}
