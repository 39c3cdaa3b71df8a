// Package db persists the tool call audit trail in PostgreSQL or SQLite.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// DB wraps the underlying *sql.DB and provides typed query methods.
type DB struct {
	conn   *sql.DB
	driver string
}

// New opens the database named by dsn, verifies connectivity and applies
// pending migrations. postgres:// and postgresql:// URLs use lib/pq;
// sqlite:<path>, sqlite://<path> or a bare file path use SQLite.
func New(dsn string) (*DB, error) {
	driver, source, err := ParseDSN(dsn)
	if err != nil {
		return nil, err
	}

	conn, err := sql.Open(driver, source)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	if driver == "sqlite" {
		conn.SetMaxOpenConns(1)
		conn.SetMaxIdleConns(1)
	} else {
		conn.SetMaxOpenConns(10)
		conn.SetMaxIdleConns(2)
		conn.SetConnMaxLifetime(5 * time.Minute)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	if err := ApplyMigrations(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("db migrate: %w", err)
	}
	return &DB{conn: conn, driver: driver}, nil
}

// ParseDSN maps a DATABASE_URL value to a database/sql driver name and source.
func ParseDSN(dsn string) (driver, source string, err error) {
	dsn = strings.TrimSpace(dsn)
	switch {
	case dsn == "":
		return "", "", fmt.Errorf("database url is empty")
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return "postgres", dsn, nil
	case strings.HasPrefix(dsn, "sqlite://"):
		source = strings.TrimPrefix(dsn, "sqlite://")
	case strings.HasPrefix(dsn, "sqlite:"):
		source = strings.TrimPrefix(dsn, "sqlite:")
	case strings.Contains(dsn, "://"):
		return "", "", fmt.Errorf("unsupported database url scheme in %q", redactDSN(dsn))
	default:
		source = dsn
	}
	if source == "" {
		return "", "", fmt.Errorf("sqlite database path is empty")
	}
	return "sqlite", source, nil
}

func redactDSN(dsn string) string {
	scheme, _, ok := strings.Cut(dsn, "://")
	if !ok {
		return dsn
	}
	return scheme + "://..."
}

// Close closes the database connection pool.
func (d *DB) Close() error {
	return d.conn.Close()
}

// Driver reports the database/sql driver in use.
func (d *DB) Driver() string {
	return d.driver
}

// ToolCall is one manage_content invocation.
type ToolCall struct {
	ToolCallID   string    `json:"tool_call_id"`
	TraceID      string    `json:"trace_id"`
	Site         string    `json:"site"`
	Action       string    `json:"action"`
	Outcome      string    `json:"outcome"`
	StatusCode   int       `json:"status_code,omitempty"`
	RequestJSON  string    `json:"request_json"`
	ResultJSON   string    `json:"result_json"`
	EvidenceHash string    `json:"evidence_hash"`
	DurationMS   int64     `json:"duration_ms"`
	CreatedAt    time.Time `json:"created_at"`
}

const toolCallColumns = `tool_call_id, trace_id, site, action, outcome, status_code, request_json, result_json, evidence_hash, duration_ms, created_at`

// InsertToolCall creates a new tool call record.
func (d *DB) InsertToolCall(ctx context.Context, tc *ToolCall) error {
	_, err := d.conn.ExecContext(ctx,
		`INSERT INTO tool_calls (`+toolCallColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		tc.ToolCallID, tc.TraceID, tc.Site, tc.Action, tc.Outcome, tc.StatusCode,
		tc.RequestJSON, tc.ResultJSON, tc.EvidenceHash, tc.DurationMS, tc.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert tool_call: %w", err)
	}
	return nil
}

// GetToolCall retrieves a tool call by ID. A missing row is (nil, nil).
func (d *DB) GetToolCall(ctx context.Context, toolCallID string) (*ToolCall, error) {
	tc := &ToolCall{}
	err := d.conn.QueryRowContext(ctx,
		`SELECT `+toolCallColumns+` FROM tool_calls WHERE tool_call_id = $1`, toolCallID,
	).Scan(toolCallDest(tc)...)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get tool_call: %w", err)
	}
	return tc, nil
}

// ToolCallFilter narrows ListToolCalls. Zero fields match everything.
type ToolCallFilter struct {
	Action        string
	Outcome       string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	Limit         int
}

// ListToolCalls returns tool calls matching f, most recent first.
func (d *DB) ListToolCalls(ctx context.Context, f ToolCallFilter) ([]*ToolCall, error) {
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Action != "" {
		add("action = $%d", f.Action)
	}
	if f.Outcome != "" {
		add("outcome = $%d", f.Outcome)
	}
	if f.CreatedAfter != nil {
		add("created_at >= $%d", f.CreatedAfter.UTC())
	}
	if f.CreatedBefore != nil {
		add("created_at <= $%d", f.CreatedBefore.UTC())
	}

	query := `SELECT ` + toolCallColumns + ` FROM tool_calls`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args))

	rows, err := d.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tool_calls: %w", err)
	}
	defer rows.Close()

	out := make([]*ToolCall, 0)
	for rows.Next() {
		tc := &ToolCall{}
		if err := rows.Scan(toolCallDest(tc)...); err != nil {
			return nil, fmt.Errorf("scan tool_call: %w", err)
		}
		out = append(out, tc)
	}
	return out, rows.Err()
}

func toolCallDest(tc *ToolCall) []any {
	return []any{
		&tc.ToolCallID, &tc.TraceID, &tc.Site, &tc.Action, &tc.Outcome, &tc.StatusCode,
		&tc.RequestJSON, &tc.ResultJSON, &tc.EvidenceHash, &tc.DurationMS, &tc.CreatedAt,
	}
}
