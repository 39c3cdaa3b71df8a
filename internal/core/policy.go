package core

import (
	"fmt"
	"strings"
)

// Policy enforces action and channel allowlists parsed from comma-separated
// env vars. An empty allowlist leaves that dimension unrestricted. A nil
// *Policy allows everything.
type Policy struct {
	allowedActions  map[string]bool
	allowedChannels map[string]bool
}

// NewPolicy creates a Policy from comma-separated allowlist strings.
func NewPolicy(actionCSV, channelCSV string) *Policy {
	return &Policy{
		allowedActions:  parseCSV(strings.ToLower(actionCSV)),
		allowedChannels: parseCSV(channelCSV),
	}
}

// CheckAction returns a *PolicyViolation if action is not in the allowlist.
func (p *Policy) CheckAction(action Action) error {
	if p == nil || len(p.allowedActions) == 0 {
		return nil
	}
	if !p.allowedActions[string(action)] {
		return &PolicyViolation{
			Code:    ViolationActionNotAllowed,
			Subject: string(action),
			Reason:  "action disabled on this deployment (EE_ACTION_ALLOWLIST)",
		}
	}
	return nil
}

// CheckChannel returns a *PolicyViolation if channel is not in the allowlist.
func (p *Policy) CheckChannel(channel string) error {
	if p == nil || len(p.allowedChannels) == 0 {
		return nil
	}
	if !p.allowedChannels[strings.TrimSpace(channel)] {
		return &PolicyViolation{
			Code:    ViolationChannelNotAllowed,
			Subject: channel,
			Reason:  "channel not in EE_CHANNEL_ALLOWLIST",
		}
	}
	return nil
}

// CheckChannelScope applies the channel allowlist to a request's params.
// With an allowlist set, channel_name must be a string naming an allowed
// channel, channel_id is refused because ids cannot be matched against
// channel names, and search_entries and create_entry must name a channel.
// update_entry is only checked when it carries a channel_name.
func (p *Policy) CheckChannelScope(action Action, params Params) error {
	if p == nil || len(p.allowedChannels) == 0 {
		return nil
	}
	if v, ok := params["channel_id"]; ok && v != nil {
		return &PolicyViolation{
			Code:    ViolationChannelNotAllowed,
			Subject: fmt.Sprintf("channel_id=%v", v),
			Reason:  "use channel_name when EE_CHANNEL_ALLOWLIST is set",
		}
	}
	v, ok := params["channel_name"]
	if !ok || v == nil {
		if action == ActionSearchEntries || action == ActionCreateEntry {
			return &PolicyViolation{
				Code:    ViolationChannelNotAllowed,
				Subject: "channel_name",
				Reason:  "channel_name is required when EE_CHANNEL_ALLOWLIST is set",
			}
		}
		return nil
	}
	name, ok := v.(string)
	if !ok {
		return &PolicyViolation{
			Code:    ViolationChannelNotAllowed,
			Subject: fmt.Sprintf("%v", v),
			Reason:  "channel_name must be a string",
		}
	}
	return p.CheckChannel(name)
}

// AllowedActions lists the actions this policy permits, in display order.
func (p *Policy) AllowedActions() []Action {
	out := make([]Action, 0, len(Actions))
	for _, a := range Actions {
		if p.CheckAction(a) == nil {
			out = append(out, a)
		}
	}
	return out
}

func parseCSV(s string) map[string]bool {
	m := make(map[string]bool)
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			m[item] = true
		}
	}
	return m
}
