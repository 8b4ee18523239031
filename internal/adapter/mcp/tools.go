package mcp

import (
	"context"
	"encoding/json"
	"errors"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/elicitor/internal/domain"
	"github.com/Strob0t/elicitor/internal/domain/abstention"
	"github.com/Strob0t/elicitor/internal/domain/elicitation"
	"github.com/Strob0t/elicitor/internal/middleware"
)

// registerTools registers all MCP tools on the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTools(
		s.askUserTool(),
		s.respondTool(),
		s.checkAbstentionTool(),
	)
}

// ask_user and respond_to_question carry values of any JSON type, which the
// option builders cannot express, so their schemas are written out.
const askUserSchema = `{
  "type": "object",
  "properties": {
    "question":        {"type": "string", "description": "The question for the human"},
    "question_type":   {"type": "string", "enum": ["yes_no", "confirmation", "multiple_choice", "free_text", "numeric", "structured"]},
    "options":         {"type": "array", "items": {"type": "object", "properties": {"id": {"type": "string"}, "label": {"type": "string"}, "description": {"type": "string"}, "is_default": {"type": "boolean"}}, "required": ["id", "label"]}},
    "response_schema": {"type": "object", "description": "JSON schema the answer must satisfy"},
    "urgency":         {"type": "string", "enum": ["blocking", "high", "normal", "low", "optional"]},
    "timeout_seconds": {"type": "integer", "minimum": 0},
    "default_value":   {"description": "Value assumed when the question is not asked"},
    "context":         {"type": "object", "description": "Workflow context; workflow_id, entity_id and task_type drive batching"},
    "workflow_id":     {"type": "string"},
    "workflow_type":   {"type": "string"},
    "aspect_name":     {"type": "string", "description": "Stable name of the decision the question resolves"},
    "request_type":    {"type": "string"},
    "queue_id":        {"type": "string"}
  },
  "required": ["question", "question_type"]
}`

const respondSchema = `{
  "type": "object",
  "properties": {
    "request_id":   {"type": "string"},
    "action":       {"type": "string", "enum": ["accept", "decline", "cancel"]},
    "response":     {"description": "The answer; required when action is accept"},
    "responded_by": {"type": "string"}
  },
  "required": ["request_id", "action"]
}`

func (s *Server) askUserTool() mcpserver.ServerTool {
	return mcpserver.ServerTool{
		Tool: mcplib.NewToolWithRawSchema("ask_user",
			"Ask a human a question. The question is only sent when its value of information justifies the interruption; otherwise the returned assumption should be used.",
			json.RawMessage(askUserSchema)),
		Handler: s.handleAskUser,
	}
}

func (s *Server) respondTool() mcpserver.ServerTool {
	return mcpserver.ServerTool{
		Tool: mcplib.NewToolWithRawSchema("respond_to_question",
			"Record a human's answer to a pending question",
			json.RawMessage(respondSchema)),
		Handler: s.handleRespond,
	}
}

func (s *Server) checkAbstentionTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("check_abstention",
		mcplib.WithDescription("Check whether a model response should be withheld and a human consulted instead"),
		mcplib.WithString("response",
			mcplib.Required(),
			mcplib.Description("The model response to inspect"),
		),
		mcplib.WithString("prompt", mcplib.Description("The prompt that produced the response")),
		mcplib.WithString("model_id", mcplib.Description("Model identifier, used by the probe check")),
		mcplib.WithBoolean("self_hosted", mcplib.Description("Whether the model exposes hidden states to the probe")),
		mcplib.WithArray("samples",
			mcplib.Description("Additional sampled responses to the same prompt"),
			mcplib.Items(map[string]any{"type": "string"}),
		),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleCheckAbstention,
	}
}

func (s *Server) handleAskUser(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Asker == nil {
		return mcplib.NewToolResultError("elicitation service not configured"), nil
	}
	var in elicitation.AskUserRequest
	if err := bindArguments(req, &in); err != nil {
		return mcplib.NewToolResultErrorFromErr("invalid arguments", err), nil
	}
	res, err := s.deps.Asker.CreateAskUserRequest(ctx,
		middleware.TenantIDFromContext(ctx), middleware.UserIDFromContext(ctx), in)
	if err != nil {
		return toolError("ask_user failed", err), nil
	}
	return toolResultJSON(res), nil
}

func (s *Server) handleRespond(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Asker == nil {
		return mcplib.NewToolResultError("elicitation service not configured"), nil
	}
	var in elicitation.AskUserResponse
	if err := bindArguments(req, &in); err != nil {
		return mcplib.NewToolResultErrorFromErr("invalid arguments", err), nil
	}
	if in.RequestID == "" {
		return mcplib.NewToolResultError("request_id is required"), nil
	}
	if in.RespondedBy == "" {
		in.RespondedBy = middleware.UserIDFromContext(ctx)
	}
	res, err := s.deps.Asker.HandleAskUserResponse(ctx, middleware.TenantIDFromContext(ctx), in)
	if err != nil {
		return toolError("respond_to_question failed", err), nil
	}
	out := toolResultJSON(res)
	out.IsError = len(res.ValidationErrors) > 0
	return out, nil
}

func (s *Server) handleCheckAbstention(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Abstention == nil {
		return mcplib.NewToolResultError("abstention detector not configured"), nil
	}
	var in abstention.Input
	if err := bindArguments(req, &in); err != nil {
		return mcplib.NewToolResultErrorFromErr("invalid arguments", err), nil
	}
	if in.Response == "" {
		return mcplib.NewToolResultError("response is required"), nil
	}
	in.TenantID = middleware.TenantIDFromContext(ctx)
	res, err := s.deps.Abstention.Check(ctx, in)
	if err != nil {
		return toolError("check_abstention failed", err), nil
	}
	return toolResultJSON(res), nil
}

// bindArguments decodes the tool arguments into target via their JSON form.
func bindArguments(req mcplib.CallToolRequest, target any) error { //nolint:gocritic // hugeParam: mcp-go request type
	data, err := json.Marshal(req.GetArguments())
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}

// toolError reports caller mistakes verbatim and hides internal failures.
func toolError(msg string, err error) *mcplib.CallToolResult {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrConflict):
		return mcplib.NewToolResultErrorFromErr(msg, err)
	default:
		return mcplib.NewToolResultError(msg + ": internal error")
	}
}
