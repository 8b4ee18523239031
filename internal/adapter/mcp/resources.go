package mcp

import (
	"context"
	"encoding/json"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/Strob0t/elicitor/internal/middleware"
)

// registerResources registers all MCP resources on the server.
func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"elicitor://batches/ready",
			"Ready Batches",
			mcplib.WithResourceDescription("Question batches waiting to be presented, blocking first"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleReadyBatchesResource,
	)

	s.mcpServer.AddResource(
		mcplib.NewResource(
			"elicitor://escalations/chains",
			"Escalation Chains",
			mcplib.WithResourceDescription("The tenant's escalation chains in match order"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleChainsResource,
	)
}

func (s *Server) handleReadyBatchesResource(ctx context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	if s.deps.Batches == nil {
		return notConfigured(req.Params.URI, "batch service not configured"), nil
	}
	batches, err := s.deps.Batches.Ready(ctx, middleware.TenantIDFromContext(ctx), middleware.UserIDFromContext(ctx))
	if err != nil {
		return nil, err
	}
	return jsonContents(req.Params.URI, batches)
}

func (s *Server) handleChainsResource(ctx context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	if s.deps.Chains == nil {
		return notConfigured(req.Params.URI, "escalation service not configured"), nil
	}
	chains, err := s.deps.Chains.ListChains(ctx, middleware.TenantIDFromContext(ctx))
	if err != nil {
		return nil, err
	}
	return jsonContents(req.Params.URI, chains)
}

func jsonContents(uri string, v any) ([]mcplib.ResourceContents, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func notConfigured(uri, msg string) []mcplib.ResourceContents {
	data, _ := json.Marshal(map[string]string{"error": msg})
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}
}
