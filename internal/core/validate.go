package core

import (
	"errors"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// ValidationError reports a request rejected before any network call.
type ValidationError struct {
	Action  Action
	Missing []string
	Invalid []string
	Reason  string
}

func (e *ValidationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing required field(s): "+strings.Join(e.Missing, ", "))
	}
	if e.Reason != "" {
		parts = append(parts, e.Reason)
	}
	msg := strings.Join(parts, "; ")
	if e.Action == "" {
		return msg
	}
	return fmt.Sprintf("%s: %s", e.Action, msg)
}

func (e *ValidationError) ErrorCode() string { return "invalid_params" }

// Suggestions names the fields the caller should supply or fix.
func (e *ValidationError) Suggestions() []string {
	out := make([]string, 0, len(e.Missing)+len(e.Invalid))
	for _, f := range e.Missing {
		out = append(out, fmt.Sprintf("Provide %q in params", f))
	}
	for _, f := range e.Invalid {
		out = append(out, fmt.Sprintf("Correct the value of %q", f))
	}
	if !e.Action.Valid() {
		out = append(out, "Use one of: "+strings.Join(ActionNames(), ", "))
	}
	return out
}

func (e *ValidationError) result() ActionResult {
	return ActionResult{
		Kind:        KindValidationError,
		Message:     e.Error(),
		Suggestions: e.Suggestions(),
		Missing:     e.Missing,
		Code:        e.ErrorCode(),
	}
}

// immutableKeys are never counted as fields to change on update_entry.
var immutableKeys = map[string]bool{"entry_id": true, "site_id": true}

var notBlank = validation.By(func(value any) error {
	if s, ok := value.(string); ok && strings.TrimSpace(s) == "" {
		return errors.New("cannot be blank")
	}
	return nil
})

func requiredKey(name string, required bool) *validation.KeyRules {
	k := validation.Key(name, validation.When(required, validation.Required, notBlank))
	if !required {
		k = k.Optional()
	}
	return k
}

// requiredFields returns the key rules for action, in the order missing
// fields are reported.
func requiredFields(action Action, p Params) ([]string, []*validation.KeyRules) {
	switch action {
	case ActionSearchEntries:
		// channel_id is an equivalent scoping filter.
		needChannel := !p.Has("channel_id")
		return []string{"channel_name"}, []*validation.KeyRules{requiredKey("channel_name", needChannel)}
	case ActionGetEntry:
		return []string{"entry_id"}, []*validation.KeyRules{requiredKey("entry_id", true)}
	case ActionCreateEntry:
		return []string{"channel_name", "title"}, []*validation.KeyRules{
			requiredKey("channel_name", true),
			requiredKey("title", true),
		}
	case ActionUpdateEntry:
		return []string{"entry_id"}, []*validation.KeyRules{requiredKey("entry_id", true)}
	}
	return nil, nil
}

// validateRequest checks the action is known and that every required field
// is present. It never touches the network.
func validateRequest(action Action, p Params) *ValidationError {
	if !action.Valid() {
		return &ValidationError{
			Action: action,
			Reason: fmt.Sprintf("unsupported action %q (supported: %s)", action, strings.Join(ActionNames(), ", ")),
		}
	}

	if p == nil {
		p = Params{}
	}
	order, keys := requiredFields(action, p)
	err := validation.Validate(map[string]any(p), validation.Map(keys...).AllowExtraKeys())
	if err != nil {
		var errs validation.Errors
		if !errors.As(err, &errs) {
			return &ValidationError{Action: action, Reason: err.Error()}
		}
		var missing []string
		for _, name := range order {
			if _, ok := errs[name]; ok {
				missing = append(missing, name)
			}
		}
		if len(missing) > 0 {
			return &ValidationError{Action: action, Missing: missing}
		}
	}

	if action == ActionUpdateEntry {
		hasMutable := false
		for k := range p {
			if !immutableKeys[k] {
				hasMutable = true
				break
			}
		}
		if !hasMutable {
			return &ValidationError{Action: action, Reason: "nothing to update: supply at least one field besides entry_id and site_id"}
		}
	}
	return nil
}
