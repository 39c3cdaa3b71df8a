package core

import (
	"errors"
	"testing"
)

func TestPolicyCheckAction(t *testing.T) {
	p := NewPolicy("search_entries, GET_ENTRY", "")

	if err := p.CheckAction(ActionSearchEntries); err != nil {
		t.Fatalf("expected allowed, got %v", err)
	}
	if err := p.CheckAction(ActionGetEntry); err != nil {
		t.Fatalf("expected allowed after lowercasing, got %v", err)
	}
	err := p.CheckAction(ActionUpdateEntry)
	var v *PolicyViolation
	if !errors.As(err, &v) || v.Code != ViolationActionNotAllowed {
		t.Fatalf("expected action_not_allowed violation, got %v", err)
	}
}

func TestPolicyCheckChannel(t *testing.T) {
	p := NewPolicy("", "blog, news ")

	if err := p.CheckChannel("news"); err != nil {
		t.Fatalf("expected allowed after trimming, got %v", err)
	}
	err := p.CheckChannel("private")
	var v *PolicyViolation
	if !errors.As(err, &v) || v.ErrorCode() != "channel_not_allowed" {
		t.Fatalf("expected channel_not_allowed violation, got %v", err)
	}
}

func TestPolicyEmptyAllowlistAllowsEverything(t *testing.T) {
	p := NewPolicy("", "")
	for _, a := range Actions {
		if err := p.CheckAction(a); err != nil {
			t.Fatalf("expected %s allowed, got %v", a, err)
		}
	}
	if err := p.CheckChannel("anything"); err != nil {
		t.Fatalf("expected channel allowed, got %v", err)
	}

	var nilPolicy *Policy
	if err := nilPolicy.CheckAction(ActionCreateEntry); err != nil {
		t.Fatalf("nil policy must allow, got %v", err)
	}
	if got := len(nilPolicy.AllowedActions()); got != len(Actions) {
		t.Fatalf("nil policy allowed %d actions, want %d", got, len(Actions))
	}
}

func TestPolicyAllowedActionsKeepsDisplayOrder(t *testing.T) {
	p := NewPolicy("get_entry,search_entries", "")
	got := p.AllowedActions()
	if len(got) != 2 || got[0] != ActionSearchEntries || got[1] != ActionGetEntry {
		t.Fatalf("unexpected allowed actions: %v", got)
	}
}

func TestPolicyCheckChannelScope(t *testing.T) {
	p := NewPolicy("", "blog")

	tests := []struct {
		name    string
		action  Action
		params  Params
		allowed bool
	}{
		{name: "allowed name", action: ActionSearchEntries, params: Params{"channel_name": "blog"}, allowed: true},
		{name: "other name", action: ActionSearchEntries, params: Params{"channel_name": "secret"}},
		{name: "channel id only", action: ActionSearchEntries, params: Params{"channel_id": 9}},
		{name: "channel id beside allowed name", action: ActionSearchEntries, params: Params{"channel_name": "blog", "channel_id": 9}},
		{name: "numeric name", action: ActionSearchEntries, params: Params{"channel_name": 5}},
		{name: "create without channel", action: ActionCreateEntry, params: Params{"title": "x"}},
		{name: "get by id", action: ActionGetEntry, params: Params{"entry_id": 1}, allowed: true},
		{name: "update without channel", action: ActionUpdateEntry, params: Params{"entry_id": 1, "title": "x"}, allowed: true},
		{name: "update moving channel", action: ActionUpdateEntry, params: Params{"entry_id": 1, "channel_name": "secret"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.CheckChannelScope(tt.action, tt.params)
			if tt.allowed {
				if err != nil {
					t.Fatalf("expected allowed, got %v", err)
				}
				return
			}
			var v *PolicyViolation
			if !errors.As(err, &v) || v.Code != ViolationChannelNotAllowed {
				t.Fatalf("expected channel_not_allowed, got %v", err)
			}
		})
	}

	if err := NewPolicy("", "").CheckChannelScope(ActionSearchEntries, Params{"channel_id": 9}); err != nil {
		t.Fatalf("no allowlist must allow channel_id, got %v", err)
	}
}
