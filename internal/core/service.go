package core

import (
	"context"
	"log/slog"
	"time"

	"github.com/eemcp/eemcp/internal/telemetry"
	"github.com/google/uuid"
)

// ToolService is what the MCP and HTTP surfaces call: it dispatches one
// action, then logs, counts and audits the outcome.
type ToolService struct {
	dispatcher *Dispatcher
	audit      *AuditService
	logger     *slog.Logger
}

func NewToolService(dispatcher *Dispatcher, audit *AuditService, logger *slog.Logger) *ToolService {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ToolService{dispatcher: dispatcher, audit: audit, logger: logger}
}

func (s *ToolService) Dispatcher() *Dispatcher { return s.dispatcher }

func (s *ToolService) Audit() *AuditService { return s.audit }

// Execute runs req and wraps the outcome in a ToolEnvelope. An empty
// traceID gets a fresh one.
func (s *ToolService) Execute(ctx context.Context, traceID string, req ActionRequest) ToolEnvelope {
	if traceID == "" {
		traceID = uuid.New().String()
	}
	site := ""
	if cfg := s.dispatcher.Site(); cfg != nil {
		site = cfg.Name
	}

	start := time.Now()
	result := s.dispatcher.Dispatch(ctx, req)
	elapsed := time.Since(start)

	telemetry.IncToolCall(string(req.Action), string(result.Kind))
	telemetry.ObserveToolDuration(string(req.Action), elapsed)

	level := slog.LevelInfo
	if result.Kind == KindRemoteError || result.Kind == KindResourceExhausted {
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, "tool call",
		"trace_id", traceID,
		"action", req.Action,
		"outcome", result.Kind,
		"status_code", result.StatusCode,
		"duration", elapsed,
	)

	meta := ToolMeta{
		TraceID:    traceID,
		Action:     string(req.Action),
		Site:       site,
		DurationMS: elapsed.Milliseconds(),
	}
	tc, err := s.audit.Record(ctx, RecordInput{
		TraceID:  traceID,
		Site:     site,
		Request:  req,
		Result:   result,
		Duration: elapsed,
	})
	if err != nil {
		telemetry.IncAuditWriteFailure()
		s.logger.Error("audit write failed", "trace_id", traceID, "error", err)
	} else if tc != nil {
		meta.ToolCallID = tc.ToolCallID
		meta.EvidenceHash = tc.EvidenceHash
	}
	return NewEnvelope(meta, result)
}
