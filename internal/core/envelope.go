package core

// ToolEnvelope is the standard response wrapper for all tool calls.
// Used by both HTTP and MCP transports.
type ToolEnvelope struct {
	OK     bool         `json:"ok"`
	Meta   ToolMeta     `json:"meta"`
	Result ActionResult `json:"result"`
	Error  *ToolError   `json:"error,omitempty"`
}

// ToolMeta contains audit metadata for a tool call.
type ToolMeta struct {
	TraceID      string `json:"trace_id"`
	ToolCallID   string `json:"tool_call_id,omitempty"`
	EvidenceHash string `json:"evidence_hash,omitempty"`
	Action       string `json:"action"`
	Site         string `json:"site"`
	DurationMS   int64  `json:"duration_ms"`
}

// ToolError represents a tool-level error (distinct from transport errors).
type ToolError struct {
	Code        string   `json:"code"`
	Message     string   `json:"message"`
	Missing     []string `json:"missing,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// NewEnvelope wraps result. Empty results are successful calls.
func NewEnvelope(meta ToolMeta, result ActionResult) ToolEnvelope {
	env := ToolEnvelope{OK: !result.Failed(), Meta: meta, Result: result}
	if result.Failed() {
		env.Error = &ToolError{
			Code:        result.Code,
			Message:     result.Message,
			Missing:     result.Missing,
			Suggestions: result.Suggestions,
		}
	}
	return env
}
