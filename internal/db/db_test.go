package db

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseDSN(t *testing.T) {
	tests := []struct {
		dsn        string
		wantDriver string
		wantSource string
		wantErr    bool
	}{
		{dsn: "postgres://u:p@localhost/eemcp?sslmode=disable", wantDriver: "postgres", wantSource: "postgres://u:p@localhost/eemcp?sslmode=disable"},
		{dsn: "postgresql://localhost/eemcp", wantDriver: "postgres", wantSource: "postgresql://localhost/eemcp"},
		{dsn: "sqlite:///var/lib/eemcp/audit.db", wantDriver: "sqlite", wantSource: "/var/lib/eemcp/audit.db"},
		{dsn: "sqlite:audit.db", wantDriver: "sqlite", wantSource: "audit.db"},
		{dsn: "./audit.db", wantDriver: "sqlite", wantSource: "./audit.db"},
		{dsn: "", wantErr: true},
		{dsn: "sqlite:", wantErr: true},
		{dsn: "mysql://root@localhost/db", wantErr: true},
	}

	for _, tt := range tests {
		driver, source, err := ParseDSN(tt.dsn)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("ParseDSN(%q): expected error", tt.dsn)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseDSN(%q): %v", tt.dsn, err)
		}
		if driver != tt.wantDriver || source != tt.wantSource {
			t.Fatalf("ParseDSN(%q) = %q, %q; want %q, %q", tt.dsn, driver, source, tt.wantDriver, tt.wantSource)
		}
	}
}

func openSQLite(t *testing.T) *DB {
	t.Helper()
	database, err := New("sqlite://" + filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func TestToolCallRoundTripSQLite(t *testing.T) {
	database := openSQLite(t)
	ctx := context.Background()

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	in := &ToolCall{
		ToolCallID:   "tc-1",
		TraceID:      "trace-1",
		Site:         "default",
		Action:       "get_entry",
		Outcome:      "ok",
		StatusCode:   200,
		RequestJSON:  `{"entry_id":655}`,
		ResultJSON:   `{"kind":"ok"}`,
		EvidenceHash: "abc",
		DurationMS:   12,
		CreatedAt:    created,
	}
	if err := database.InsertToolCall(ctx, in); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := database.GetToolCall(ctx, "tc-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("expected tool call")
	}
	if got.Action != "get_entry" || got.Outcome != "ok" || got.StatusCode != 200 || got.DurationMS != 12 {
		t.Fatalf("unexpected row: %+v", got)
	}
	if got.RequestJSON != in.RequestJSON {
		t.Fatalf("request json = %q", got.RequestJSON)
	}
	if !got.CreatedAt.Equal(created) {
		t.Fatalf("created_at = %v, want %v", got.CreatedAt, created)
	}

	missing, err := database.GetToolCall(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("expected (nil, nil) for missing row, got %v, %v", missing, err)
	}
}

func TestListToolCallsFiltersSQLite(t *testing.T) {
	database := openSQLite(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	rows := []*ToolCall{
		{ToolCallID: "a", Action: "search_entries", Outcome: "empty", CreatedAt: base},
		{ToolCallID: "b", Action: "search_entries", Outcome: "ok", CreatedAt: base.Add(24 * time.Hour)},
		{ToolCallID: "c", Action: "get_entry", Outcome: "ok", CreatedAt: base.Add(48 * time.Hour)},
	}
	for _, tc := range rows {
		tc.TraceID, tc.Site, tc.RequestJSON, tc.ResultJSON, tc.EvidenceHash = "t", "default", "{}", "{}", "h"
		if err := database.InsertToolCall(ctx, tc); err != nil {
			t.Fatalf("insert %s: %v", tc.ToolCallID, err)
		}
	}

	all, err := database.ListToolCalls(ctx, ToolCallFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 || all[0].ToolCallID != "c" || all[2].ToolCallID != "a" {
		t.Fatalf("expected newest first, got %d rows", len(all))
	}

	search, err := database.ListToolCalls(ctx, ToolCallFilter{Action: "search_entries", Outcome: "ok"})
	if err != nil {
		t.Fatalf("list filtered: %v", err)
	}
	if len(search) != 1 || search[0].ToolCallID != "b" {
		t.Fatalf("unexpected filtered rows: %+v", search)
	}

	after := base.Add(12 * time.Hour)
	before := base.Add(36 * time.Hour)
	window, err := database.ListToolCalls(ctx, ToolCallFilter{CreatedAfter: &after, CreatedBefore: &before})
	if err != nil {
		t.Fatalf("list window: %v", err)
	}
	if len(window) != 1 || window[0].ToolCallID != "b" {
		t.Fatalf("unexpected window rows: %+v", window)
	}

	limited, err := database.ListToolCalls(ctx, ToolCallFilter{Limit: 2})
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(limited))
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	database := openSQLite(t)
	if err := ApplyMigrations(context.Background(), database.conn); err != nil {
		t.Fatalf("second migration run: %v", err)
	}
}

func TestToolCallPostgres(t *testing.T) {
	databaseURL := os.Getenv("EEMCP_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("EEMCP_TEST_DATABASE_URL not set")
	}

	database, err := New(databaseURL)
	if err != nil {
		t.Fatalf("db connect: %v", err)
	}
	defer database.Close()

	ctx := context.Background()
	id := "pg-" + time.Now().UTC().Format("20060102150405.000000000")
	if err := database.InsertToolCall(ctx, &ToolCall{
		ToolCallID: id, TraceID: "t", Site: "default", Action: "get_entry", Outcome: "ok",
		RequestJSON: "{}", ResultJSON: "{}", EvidenceHash: "h", CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, err := database.GetToolCall(ctx, id)
	if err != nil || got == nil {
		t.Fatalf("get: %v %v", got, err)
	}
}

func TestSplitStatements(t *testing.T) {
	got := splitStatements("CREATE TABLE a (x INT);\n\n  CREATE INDEX i ON a (x);\n;")
	if len(got) != 2 || got[0] != "CREATE TABLE a (x INT)" || got[1] != "CREATE INDEX i ON a (x)" {
		t.Fatalf("unexpected statements %q", got)
	}
}
