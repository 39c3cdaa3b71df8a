package core

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/eemcp/eemcp/internal/webservice"
)

func okResponse(body string) *webservice.Response {
	return &webservice.Response{Operation: "get read_entry", StatusCode: 200, Body: []byte(body)}
}

func TestNormalizeClassification(t *testing.T) {
	n := NewNormalizer(nil, nil)

	tests := []struct {
		name     string
		body     string
		wantKind ResultKind
		wantCode string
	}{
		{name: "json entries", body: `[{"entry_id":1}]`, wantKind: KindOK},
		{name: "json object", body: `{"entry_id":1,"title":"x"}`, wantKind: KindOK},
		{name: "json empty array", body: `[]`, wantKind: KindEmpty, wantCode: "no_results"},
		{name: "json null", body: `null`, wantKind: KindEmpty},
		{name: "json data empty", body: `{"success":true,"data":[]}`, wantKind: KindEmpty},
		{name: "json results null", body: `{"results":null}`, wantKind: KindEmpty},
		{name: "json no entry message", body: `{"success":false,"message":"No Entry found"}`, wantKind: KindEmpty},
		{name: "json rejected", body: `{"success":false,"message":"Auth error: no rights"}`, wantKind: KindRemoteError, wantCode: "remote_rejected"},
		{name: "blank body", body: "  \n", wantKind: KindEmpty},
		{name: "php array", body: "Array\n(\n    [0] => Array\n        (\n            [entry_id] => 655\n        )\n)\n", wantKind: KindOK},
		{name: "php empty", body: "Array\n(\n)\n", wantKind: KindEmpty},
		{name: "php no entry", body: "Array\n(\n    [message] => No Entry found\n)\n", wantKind: KindEmpty},
		{name: "php success false", body: "Array\n(\n    [message] => Auth error\n    [code_http] => 401\n    [success] => \n)\n", wantKind: KindRemoteError, wantCode: "remote_rejected"},
		{name: "php fatal", body: "<b>Fatal error</b>: Call to undefined method", wantKind: KindRemoteError, wantCode: "php_fatal_error"},
		{name: "html", body: "<html><body>Site offline</body></html>", wantKind: KindRemoteError, wantCode: "invalid_response_format"},
		{name: "plain no entry", body: "No Entry found", wantKind: KindEmpty},
		{name: "memory", body: "PHP Fatal error:  Allowed memory size of 1 bytes exhausted", wantKind: KindResourceExhausted, wantCode: "resource_exhausted"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := n.Normalize(ActionSearchEntries, okResponse(tt.body), nil)
			if res.Kind != tt.wantKind {
				t.Fatalf("kind = %s (%s), want %s", res.Kind, res.Message, tt.wantKind)
			}
			if tt.wantCode != "" && res.Code != tt.wantCode {
				t.Fatalf("code = %q, want %q", res.Code, tt.wantCode)
			}
		})
	}
}

func TestNormalizeEntryContentStaysOK(t *testing.T) {
	n := NewNormalizer(nil, nil)

	tests := []struct {
		name string
		body string
	}{
		{name: "json fatal error prose", body: `[{"entry_id":655,"body":"A fatal error in PHP stops the script."}]`},
		{name: "json memory prose", body: `[{"entry_id":656,"body":"Fatal error: Allowed memory size of 128M exhausted, and how to fix it"}]`},
		{name: "json no entries prose", body: `{"entry_id":657,"message":"Archive page","body":"No entries found shows on empty archives."}`},
		{name: "php nested success field", body: "Array\n(\n    [0] => Array\n        (\n            [entry_id] => 658\n            [success] => \n        )\n\n)\n"},
		{name: "php nested message field", body: "Array\n(\n    [0] => Array\n        (\n            [entry_id] => 659\n            [message] => No Entry found\n        )\n\n)\n"},
		{name: "php body mentions fatal error", body: "Array\n(\n    [0] => Array\n        (\n            [entry_id] => 660\n            [body] => Tips for the PHP Fatal error: Allowed memory size message\n        )\n\n)\n"},
		{name: "php lowercase fatal", body: "Array\n(\n    [entry_id] => 661\n    [title] => fatal error: a thriller\n)\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := n.Normalize(ActionSearchEntries, okResponse(tt.body), nil)
			if res.Kind != KindOK {
				t.Fatalf("kind = %s (%s), want ok", res.Kind, res.Message)
			}
			if res.Text() != tt.body {
				t.Fatalf("payload modified: %q", res.Text())
			}
		})
	}
}

func TestNormalizePHPFatalMarkers(t *testing.T) {
	n := NewNormalizer(nil, nil)

	tests := []struct {
		name     string
		body     string
		wantKind ResultKind
	}{
		{name: "html fatal", body: "<br />\n<b>Fatal error</b>:  Uncaught Error: Call to a member function", wantKind: KindRemoteError},
		{name: "cli fatal after output", body: "Array\n(\n)\nPHP Fatal error:  Uncaught TypeError", wantKind: KindRemoteError},
		{name: "html memory", body: "<b>Fatal error</b>:  Allowed memory size of 134217728 bytes exhausted", wantKind: KindResourceExhausted},
		{name: "plain memory", body: "Fatal error: Allowed memory size of 134217728 bytes exhausted", wantKind: KindResourceExhausted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := n.Normalize(ActionSearchEntries, okResponse(tt.body), nil)
			if res.Kind != tt.wantKind {
				t.Fatalf("kind = %s, want %s", res.Kind, tt.wantKind)
			}
		})
	}
}

func TestNormalizeOversizeReplyIsExhaustion(t *testing.T) {
	n := NewNormalizer(nil, nil)
	err := &webservice.TransportError{Operation: "get read_entry", StatusCode: 200, TooLarge: true, Err: webservice.ErrBodyTooLarge}

	res := n.Normalize(ActionSearchEntries, nil, err)
	if res.Kind != KindResourceExhausted || res.Code != "resource_exhausted" {
		t.Fatalf("got %s/%s, want resource_exhausted", res.Kind, res.Code)
	}
	if len(res.Suggestions) == 0 || !strings.Contains(res.Suggestions[0], "channel_name") {
		t.Fatalf("expected narrowing advice, got %v", res.Suggestions)
	}
}

func TestNormalizeOKKeepsBodyVerbatim(t *testing.T) {
	n := NewNormalizer(nil, nil)

	php := "Array\n(\n    [entry_id] => 655\n)\n"
	res := n.Normalize(ActionGetEntry, okResponse(php), nil)
	if res.Payload != php {
		t.Fatalf("php payload modified: %#v", res.Payload)
	}
	if res.Text() != php {
		t.Fatalf("Text() = %q", res.Text())
	}

	js := `{"entry_id":655}`
	res = n.Normalize(ActionGetEntry, okResponse(js), nil)
	if string(res.Payload.(json.RawMessage)) != js {
		t.Fatalf("json payload modified: %s", res.Payload)
	}
}

func TestNormalizeLogsPHPWarnings(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	n := NewNormalizer(nil, logger)

	res := n.Normalize(ActionGetEntry, okResponse("Array\n(\n    [Warning: deprecated] => 1\n)\n"), nil)
	if res.Kind != KindOK {
		t.Fatalf("warnings must not fail the call, got %s", res.Kind)
	}
	if !strings.Contains(buf.String(), "php warning") {
		t.Fatalf("expected warning log, got %q", buf.String())
	}
}

func TestNormalizeConfiguredStatusRule(t *testing.T) {
	rules, err := ParseExhaustionRules("503, 507", "")
	if err != nil {
		t.Fatalf("parse rules: %v", err)
	}
	n := NewNormalizer(rules, nil)

	res := n.Normalize(ActionSearchEntries, nil, &webservice.TransportError{Operation: "get read_entry", StatusCode: 507, Body: "Insufficient Storage"})
	if res.Kind != KindResourceExhausted {
		t.Fatalf("kind = %s, want resource_exhausted", res.Kind)
	}
	res = n.Normalize(ActionSearchEntries, nil, &webservice.TransportError{Operation: "get read_entry", StatusCode: 500, Body: "Fatal error: Allowed memory size"})
	if res.Kind != KindRemoteError {
		t.Fatalf("custom rules replace the defaults, got %s", res.Kind)
	}
}

func TestParseExhaustionRules(t *testing.T) {
	rules, err := ParseExhaustionRules("", "")
	if err != nil || len(rules) != 1 || rules[0].BodyRegexp == nil {
		t.Fatalf("expected default rule, got %+v, %v", rules, err)
	}

	rules, err = ParseExhaustionRules("", "maximum execution time, out of memory + mysql")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(rules) != 2 || len(rules[1].BodyPatterns) != 2 || rules[1].BodyPatterns[1] != "mysql" {
		t.Fatalf("unexpected rules %+v", rules)
	}
	body := "Fatal error: Maximum execution time of 30 seconds exceeded"
	if !rules[0].matches(200, body, strings.ToLower(body)) {
		t.Fatal("pattern rule should match")
	}

	if _, err := ParseExhaustionRules("abc", ""); err == nil {
		t.Fatal("expected error for non-numeric status")
	}
	if _, err := ParseExhaustionRules("42", ""); err == nil {
		t.Fatal("expected error for out of range status")
	}
}

func TestExhaustionRuleWithoutConditionsNeverMatches(t *testing.T) {
	if (ExhaustionRule{}).matches(500, "anything", "anything") {
		t.Fatal("empty rule matched")
	}
}

func TestResultText(t *testing.T) {
	res := emptyResult(ActionSearchEntries)
	text := res.Text()
	if !strings.HasPrefix(text, res.Message) || !strings.Contains(text, "1) ") {
		t.Fatalf("unexpected text %q", text)
	}
}
