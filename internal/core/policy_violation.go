package core

import "fmt"

type PolicyViolationCode string

const (
	ViolationActionNotAllowed  PolicyViolationCode = "action_not_allowed"
	ViolationChannelNotAllowed PolicyViolationCode = "channel_not_allowed"
)

type PolicyViolation struct {
	Code    PolicyViolationCode `json:"code"`
	Subject string              `json:"subject"`
	Reason  string              `json:"reason"`
}

func (v *PolicyViolation) Error() string {
	return fmt.Sprintf("%s: %s (%s)", v.Code, v.Subject, v.Reason)
}

func (v *PolicyViolation) ErrorCode() string { return string(v.Code) }

func (v *PolicyViolation) result() ActionResult {
	suggestion := "Use one of the actions enabled on this deployment"
	if v.Code == ViolationChannelNotAllowed {
		suggestion = "Use a channel_name permitted on this deployment"
	}
	return ActionResult{
		Kind:        KindValidationError,
		Message:     v.Error(),
		Suggestions: []string{suggestion},
		Code:        v.ErrorCode(),
	}
}
