package core

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Action names one of the content operations of manage_content.
type Action string

const (
	ActionSearchEntries Action = "search_entries"
	ActionGetEntry      Action = "get_entry"
	ActionCreateEntry   Action = "create_entry"
	ActionUpdateEntry   Action = "update_entry"
)

// Actions lists every supported action in display order.
var Actions = []Action{ActionSearchEntries, ActionGetEntry, ActionCreateEntry, ActionUpdateEntry}

func (a Action) Valid() bool {
	for _, known := range Actions {
		if a == known {
			return true
		}
	}
	return false
}

// ReadOnly reports whether the action leaves remote content unchanged.
func (a Action) ReadOnly() bool {
	return a == ActionSearchEntries || a == ActionGetEntry
}

func ActionNames() []string {
	out := make([]string, len(Actions))
	for i, a := range Actions {
		out[i] = string(a)
	}
	return out
}

// ParseAction trims and lowercases name. Unknown names are returned as-is
// so the dispatcher can report them.
func ParseAction(name string) Action {
	return Action(strings.ToLower(strings.TrimSpace(name)))
}

// Params holds the caller's fields. Keys are channel specific and not known
// in advance; values are scalars (string, number, bool or nil).
type Params map[string]any

// Clone returns a shallow copy so callers' maps are never mutated.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Has reports whether key is present with a non-blank value.
func (p Params) Has(key string) bool {
	v, ok := p[key]
	if !ok || v == nil {
		return false
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) != ""
	}
	return true
}

type ActionRequest struct {
	Action Action `json:"action"`
	Params Params `json:"params"`
}

// ResultKind tags the variant held by an ActionResult.
type ResultKind string

const (
	KindOK                ResultKind = "ok"
	KindEmpty             ResultKind = "empty"
	KindResourceExhausted ResultKind = "resource_exhausted"
	KindValidationError   ResultKind = "validation_error"
	KindRemoteError       ResultKind = "remote_error"
)

// ActionResult is the outcome of one dispatched action. Only the fields of
// the active Kind are set.
type ActionResult struct {
	Kind        ResultKind `json:"kind"`
	Payload     any        `json:"payload,omitempty"`
	Message     string     `json:"message,omitempty"`
	Suggestions []string   `json:"suggestions,omitempty"`
	Missing     []string   `json:"missing,omitempty"`
	StatusCode  int        `json:"status_code,omitempty"`
	Code        string     `json:"code,omitempty"`
}

// Failed reports whether the result should surface as a tool error.
func (r ActionResult) Failed() bool {
	return r.Kind == KindValidationError || r.Kind == KindRemoteError || r.Kind == KindResourceExhausted
}

// Text renders the result for a human reader: the payload for ok results,
// otherwise the message followed by numbered suggestions.
func (r ActionResult) Text() string {
	if r.Kind == KindOK {
		switch p := r.Payload.(type) {
		case string:
			return p
		case json.RawMessage:
			return string(p)
		case fmt.Stringer:
			return p.String()
		default:
			return fmt.Sprintf("%v", p)
		}
	}
	var sb strings.Builder
	sb.WriteString(r.Message)
	for i, s := range r.Suggestions {
		if i == 0 {
			sb.WriteString("\nTry:")
		}
		fmt.Fprintf(&sb, "\n  %d) %s", i+1, s)
	}
	return sb.String()
}
