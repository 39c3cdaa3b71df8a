package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/eemcp/eemcp/internal/core"
	"github.com/google/uuid"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// ToolName is the single tool this server exposes.
const ToolName = "manage_content"

type Server struct {
	svc    *core.ToolService
	logger *slog.Logger
	server *sdk.Server
}

func NewServer(svc *core.ToolService, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if version == "" {
		version = "dev"
	}
	s := &Server{svc: svc, logger: logger}

	var policy *core.Policy
	if svc != nil && svc.Dispatcher() != nil {
		policy = svc.Dispatcher().Policy()
	}

	s.server = sdk.NewServer(&sdk.Implementation{Name: "eemcp", Version: version}, &sdk.ServerOptions{
		Instructions: "Manage ExpressionEngine channel entries through the " + ToolName + " tool.",
	})
	allowed := policy.AllowedActions()
	def := toolDefinition(allowed)
	schema, _ := json.Marshal(def["inputSchema"])
	s.server.AddTool(&sdk.Tool{
		Name:        ToolName,
		Description: def["description"].(string),
		InputSchema: json.RawMessage(schema),
		Annotations: &sdk.ToolAnnotations{
			Title:        "Manage ExpressionEngine content",
			ReadOnlyHint: readOnly(allowed),
		},
	}, s.handleToolCall)
	return s
}

// MCPServer returns the underlying protocol server.
func (s *Server) MCPServer() *sdk.Server { return s.server }

// RunStdio serves the protocol on stdin/stdout until ctx is done or the
// client disconnects.
func (s *Server) RunStdio(ctx context.Context) error {
	s.logger.Info("mcp server starting", "transport", "stdio")
	return s.server.Run(ctx, &sdk.StdioTransport{})
}

// HTTPHandler serves the protocol over streamable HTTP.
func (s *Server) HTTPHandler() http.Handler {
	return sdk.NewStreamableHTTPHandler(func(*http.Request) *sdk.Server { return s.server }, nil)
}

type toolArgs struct {
	Action string          `json:"action"`
	Params json.RawMessage `json:"params"`
}

func (s *Server) handleToolCall(ctx context.Context, req *sdk.CallToolRequest) (*sdk.CallToolResult, error) {
	traceID := uuid.New().String()

	var raw json.RawMessage
	if req != nil && req.Params != nil {
		raw = req.Params.Arguments
	}
	areq, err := decodeArgs(raw)
	if err != nil {
		s.logger.Warn("mcp invalid arguments", "trace_id", traceID, "error", err)
		env := core.NewEnvelope(core.ToolMeta{TraceID: traceID, Action: string(areq.Action)}, core.ActionResult{
			Kind:        core.KindValidationError,
			Message:     "invalid json: " + err.Error(),
			Suggestions: []string{`Send arguments as {"action": "...", "params": {...}}`},
			Code:        "invalid_params",
		})
		return envelopeResult(env), nil
	}

	return envelopeResult(s.svc.Execute(ctx, traceID, areq)), nil
}

// decodeArgs accepts params as an object or as a JSON encoded string of an
// object, which some clients send.
func decodeArgs(raw json.RawMessage) (core.ActionRequest, error) {
	var out core.ActionRequest
	if len(bytes.TrimSpace(raw)) == 0 {
		return out, nil
	}
	var args toolArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return out, err
	}
	out.Action = core.ParseAction(args.Action)

	p := bytes.TrimSpace(args.Params)
	if len(p) == 0 || bytes.Equal(p, []byte("null")) {
		return out, nil
	}
	if p[0] == '"' {
		var s string
		if err := json.Unmarshal(p, &s); err != nil {
			return out, err
		}
		if strings.TrimSpace(s) == "" {
			return out, nil
		}
		p = []byte(s)
	}
	var params core.Params
	if err := json.Unmarshal(p, &params); err != nil {
		return out, fmt.Errorf("params must be an object: %w", err)
	}
	out.Params = params
	return out, nil
}

func envelopeResult(env core.ToolEnvelope) *sdk.CallToolResult {
	b, err := json.Marshal(env)
	if err != nil {
		b = []byte(fmt.Sprintf(`{"ok":false,"error":{"code":"internal_error","message":%q}}`, err.Error()))
	}
	return &sdk.CallToolResult{
		Content: []sdk.Content{&sdk.TextContent{Text: string(b)}},
		IsError: !env.OK,
	}
}

// ToolDefinitions describes the exposed tools with every action enabled.
func ToolDefinitions() []map[string]any {
	return []map[string]any{toolDefinition(core.Actions)}
}

func toolDefinition(actions []core.Action) map[string]any {
	names := make([]string, len(actions))
	for i, a := range actions {
		names[i] = string(a)
	}

	var desc strings.Builder
	desc.WriteString("Search, read, create and update ExpressionEngine channel entries via the Reinos Webservice.\n")
	for _, a := range actions {
		desc.WriteString("- ")
		desc.WriteString(string(a))
		if a.ReadOnly() {
			desc.WriteString(" (read-only)")
		}
		desc.WriteString(": ")
		desc.WriteString(actionHelp[a])
		desc.WriteString("\n")
	}
	desc.WriteString("Results are JSON envelopes; failures carry a code, a message and suggestions for the next call.")

	return map[string]any{
		"name":        ToolName,
		"description": desc.String(),
		"inputSchema": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"action": map[string]any{
					"type":        "string",
					"enum":        names,
					"description": "Operation to perform.",
				},
				"params": map[string]any{
					"type":                 "object",
					"description":          "Fields for the action. Custom channel fields are passed by their field name.",
					"additionalProperties": true,
				},
			},
			"required": []string{"action"},
		},
	}
}

// readOnly reports whether none of actions changes remote content.
func readOnly(actions []core.Action) bool {
	for _, a := range actions {
		if !a.ReadOnly() {
			return false
		}
	}
	return len(actions) > 0
}

var actionHelp = map[core.Action]string{
	core.ActionSearchEntries: "requires channel_name (or channel_id); optional title, status, limit, offset, start_on, stop_on, site_id.",
	core.ActionGetEntry:      "requires entry_id; optional site_id.",
	core.ActionCreateEntry:   "requires channel_name and title; other keys are sent as entry fields.",
	core.ActionUpdateEntry:   "requires entry_id and at least one field to change.",
}
