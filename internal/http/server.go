package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/eemcp/eemcp/internal/core"
	"github.com/eemcp/eemcp/internal/db"
	"github.com/eemcp/eemcp/internal/telemetry"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

type BuildInfo struct {
	Version   string
	GitCommit string
	BuildTime string
}

type Server struct {
	svc       *core.ToolService
	srv       *http.Server
	logger    *slog.Logger
	build     BuildInfo
	jwtSecret []byte
}

const (
	maxRequestBodyBytes = 1 << 20
	traceHeader         = "X-Trace-Id"
)

// NewServer builds the REST surface. mcpHandler, when non-nil, is mounted
// at /mcp. A non-empty jwtSecret requires an HS256 bearer token on /api and
// /mcp.
func NewServer(addr string, svc *core.ToolService, mcpHandler http.Handler, logger *slog.Logger, build BuildInfo, jwtSecret string) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{
		svc:    svc,
		logger: logger,
		build:  build,
	}
	if jwtSecret != "" {
		s.jwtSecret = []byte(jwtSecret)
	}

	router := mux.NewRouter()
	router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	router.HandleFunc("/version", s.handleVersion).Methods(http.MethodGet)
	router.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.requireBearer)
	api.HandleFunc("/actions/{action}", s.handleAction).Methods(http.MethodPost)
	api.HandleFunc("/tool-calls", s.handleListToolCalls).Methods(http.MethodGet)
	api.HandleFunc("/tool-calls/{toolCallID}", s.handleGetToolCall).Methods(http.MethodGet)

	if mcpHandler != nil {
		router.PathPrefix("/mcp").Handler(s.requireBearer(mcpHandler))
	}

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      withLogging(logger, router),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

func (s *Server) ListenAndServe() error {
	s.logger.Info("http server starting", "addr", s.srv.Addr)
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	return s.srv.Serve(ln)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version":    s.build.Version,
		"git_commit": s.build.GitCommit,
		"build_time": s.build.BuildTime,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, telemetry.RenderPrometheus())
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	action := core.ParseAction(mux.Vars(r)["action"])
	if !action.Valid() {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("unsupported action %q (supported: %s)", action, strings.Join(core.ActionNames(), ", ")))
		return
	}

	var params core.Params
	if r.ContentLength != 0 {
		if err := decodeJSONBody(w, r, &params); err != nil && !errors.Is(err, io.EOF) {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
			return
		}
	}

	traceID := r.Header.Get(traceHeader)
	if traceID == "" {
		traceID = uuid.New().String()
	}
	env := s.svc.Execute(r.Context(), traceID, core.ActionRequest{Action: action, Params: params})
	w.Header().Set(traceHeader, env.Meta.TraceID)
	writeJSON(w, core.StatusForResult(env.Result), env)
}

func (s *Server) handleListToolCalls(w http.ResponseWriter, r *http.Request) {
	filters, err := parseToolCallListFilters(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	calls, err := s.audit().List(r.Context(), filters)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tool_calls": calls, "count": len(calls)})
}

func (s *Server) handleGetToolCall(w http.ResponseWriter, r *http.Request) {
	tc, err := s.audit().Get(r.Context(), mux.Vars(r)["toolCallID"])
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if tc == nil {
		writeErr(w, http.StatusNotFound, errors.New("tool call not found"))
		return
	}
	writeJSON(w, http.StatusOK, tc)
}

func (s *Server) audit() *core.AuditService {
	if s.svc == nil {
		return nil
	}
	return s.svc.Audit()
}

var knownOutcomes = map[string]bool{
	string(core.KindOK):                true,
	string(core.KindEmpty):             true,
	string(core.KindResourceExhausted): true,
	string(core.KindValidationError):   true,
	string(core.KindRemoteError):       true,
}

func parseToolCallListFilters(r *http.Request) (db.ToolCallFilter, error) {
	q := r.URL.Query()
	var f db.ToolCallFilter

	if v := strings.TrimSpace(q.Get("action")); v != "" {
		if !core.Action(v).Valid() {
			return f, fmt.Errorf("invalid action filter %q", v)
		}
		f.Action = v
	}
	if v := strings.TrimSpace(q.Get("outcome")); v != "" {
		if !knownOutcomes[v] {
			return f, fmt.Errorf("invalid outcome filter %q", v)
		}
		f.Outcome = v
	}
	for _, bound := range []struct {
		key string
		dst **time.Time
	}{{"created_after", &f.CreatedAfter}, {"created_before", &f.CreatedBefore}} {
		v := strings.TrimSpace(q.Get(bound.key))
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, fmt.Errorf("invalid %s: must be RFC3339", bound.key)
		}
		t = t.UTC()
		*bound.dst = &t
	}
	if f.CreatedAfter != nil && f.CreatedBefore != nil && f.CreatedAfter.After(*f.CreatedBefore) {
		return f, errors.New("created_after must not be after created_before")
	}
	if v := strings.TrimSpace(q.Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return f, fmt.Errorf("invalid limit %q", v)
		}
		f.Limit = n
	}
	return f, nil
}

func (s *Server) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.jwtSecret) == 0 {
			next.ServeHTTP(w, r)
			return
		}
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			writeErrCode(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}
		_, err := jwt.Parse(strings.TrimSpace(raw), func(*jwt.Token) (any, error) {
			return s.jwtSecret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil {
			s.logger.Warn("rejected bearer token", "path", r.URL.Path, "error", err)
			writeErrCode(w, http.StatusUnauthorized, "unauthorized", "invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, err error) {
	info := core.MapError(err, status)
	writeErrCode(w, info.HTTPStatus, info.Code, info.Message)
}

func writeErrCode(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]any{
		"ok":    false,
		"error": map[string]string{"code": code, "message": msg},
	})
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("request body must contain a single JSON object")
	}
	return nil
}

func withLogging(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(sw, r)
		logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration", fmt.Sprintf("%dms", time.Since(start).Milliseconds()),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush forwards to the wrapped writer for streamed /mcp responses.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
