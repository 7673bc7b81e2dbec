package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/okranz/nudged/internal/bandit"
	"github.com/okranz/nudged/internal/feedback"
	"github.com/okranz/nudged/internal/interrupt"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Manager  *interrupt.Manager
	Sessions *feedback.Sessions
}

// NewMCPServer creates an MCP server exposing the decision cascade to
// assistants that want to ask before interrupting.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"nudged",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("nudged — decides whether now is a good moment to show the user a proactive suggestion. Call check_interruptibility before surfacing anything unprompted, and report_outcome once the user reacts."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("check_interruptibility",
			mcp.WithDescription("Run the decision cascade and report whether a proactive suggestion should be shown right now. When the answer is yes, a suggestion_id is returned for outcome tracking."),
			mcp.WithString("context", mcp.Description("Short description of the suggestion being considered (e.g. \"refactor hint\", \"test failure explanation\")")),
		),
		mcpCheckInterruptibility(deps),
	)

	s.AddTool(
		mcp.NewTool("report_outcome",
			mcp.WithDescription("Report how the user reacted to a suggestion so the policy can learn. Actions: dismiss, ignore, hover, expand, copy, click, save."),
			mcp.WithString("suggestion_id", mcp.Description("The suggestion_id returned by check_interruptibility"), mcp.Required()),
			mcp.WithString("action", mcp.Description("The user's reaction"), mcp.Required()),
		),
		mcpReportOutcome(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"nudged://status",
			"Engine Status",
			mcp.WithResourceDescription("Current gate and confusion state as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceStatus(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"nudged://sessions",
			"Recent Suggestions",
			mcp.WithResourceDescription("Last 10 suggestion sessions with their resolutions"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceSessions(deps),
	)

	return s
}

func mcpCheckInterruptibility(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		suggestionContext := req.GetString("context", "")

		d := deps.Manager.Decide(suggestionContext)

		resp := struct {
			interrupt.Decision
			SuggestionID string `json:"suggestion_id,omitempty"`
		}{Decision: d}

		if d.ShouldInterrupt || d.WouldHaveShown {
			id, err := deps.Sessions.Open(feedback.Shown{
				AppID:       d.AppID,
				Context:     suggestionContext,
				Signal:      d.Signal,
				Score:       d.ConfusionScore,
				Probability: d.Probability,
			})
			if err != nil {
				return mcpError(fmt.Sprintf("failed to open session: %v", err)), nil
			}
			resp.SuggestionID = id
		}

		b, err := json.Marshal(resp)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal decision: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpReportOutcome(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("suggestion_id")
		if err != nil {
			return mcpError("suggestion_id is required"), nil
		}
		action, err := req.RequireString("action")
		if err != nil {
			return mcpError("action is required"), nil
		}
		if _, ok := bandit.RewardFor(bandit.Action(action)); !ok {
			return mcpError(fmt.Sprintf("unknown action %q", action)), nil
		}

		o, err := deps.Sessions.Resolve(id, bandit.Action(action))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to resolve session: %v", err)), nil
		}

		deps.Manager.RecordOutcome(ctx, o)

		return mcpText(fmt.Sprintf("Recorded %s for suggestion %s", o.Action, id)), nil
	}
}

func mcpResourceStatus(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(deps.Manager.Status())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal status: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpResourceSessions(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		sessions, err := deps.Sessions.Recent(10)
		if err != nil {
			return nil, fmt.Errorf("failed to list sessions: %w", err)
		}

		b, err := json.Marshal(sessions)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal sessions: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
