package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/eemcp/eemcp/internal/db"
	"github.com/google/uuid"
)

// AuditService records every tool invocation with its request, its result
// and a SHA-256 evidence hash over both for tamper detection.
type AuditService struct {
	db *db.DB
}

// NewAuditService wires the audit layer to its store. A nil database yields
// a nil service, which records nothing.
func NewAuditService(database *db.DB) *AuditService {
	if database == nil {
		return nil
	}
	return &AuditService{db: database}
}

// RecordInput captures what is needed to log a tool call.
type RecordInput struct {
	TraceID  string
	Site     string
	Request  ActionRequest
	Result   ActionResult
	Duration time.Duration
}

// Record persists a tool call. It is a no-op on a nil service.
func (a *AuditService) Record(ctx context.Context, in RecordInput) (*db.ToolCall, error) {
	if a == nil || a.db == nil {
		return nil, nil
	}

	reqJSON, err := json.Marshal(in.Request)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	resJSON, err := json.Marshal(in.Result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}

	tc := &db.ToolCall{
		ToolCallID:   uuid.New().String(),
		TraceID:      in.TraceID,
		Site:         in.Site,
		Action:       string(in.Request.Action),
		Outcome:      string(in.Result.Kind),
		StatusCode:   in.Result.StatusCode,
		RequestJSON:  string(reqJSON),
		ResultJSON:   string(resJSON),
		EvidenceHash: EvidenceHash(reqJSON, resJSON),
		DurationMS:   in.Duration.Milliseconds(),
		CreatedAt:    time.Now().UTC(),
	}
	if err := a.db.InsertToolCall(ctx, tc); err != nil {
		return nil, fmt.Errorf("insert tool_call: %w", err)
	}
	return tc, nil
}

// List returns recorded tool calls. A nil service returns none.
func (a *AuditService) List(ctx context.Context, f db.ToolCallFilter) ([]*db.ToolCall, error) {
	if a == nil || a.db == nil {
		return []*db.ToolCall{}, nil
	}
	return a.db.ListToolCalls(ctx, f)
}

// Get returns one tool call, or nil when it is unknown or auditing is off.
func (a *AuditService) Get(ctx context.Context, toolCallID string) (*db.ToolCall, error) {
	if a == nil || a.db == nil {
		return nil, nil
	}
	return a.db.GetToolCall(ctx, toolCallID)
}

// EvidenceHash is the hex SHA-256 of the request JSON followed by the result JSON.
func EvidenceHash(requestJSON, resultJSON []byte) string {
	sum := sha256.Sum256(append(append([]byte{}, requestJSON...), resultJSON...))
	return hex.EncodeToString(sum[:])
}
