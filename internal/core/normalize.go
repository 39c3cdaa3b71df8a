package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/eemcp/eemcp/internal/webservice"
)

// ExhaustionRule classifies a reply as resource exhaustion. A rule matches
// when the status is one of StatusCodes (any status if empty), the body
// contains every one of BodyPatterns, compared case-insensitively, and the
// body matches BodyRegexp when set. A rule with no condition never matches.
type ExhaustionRule struct {
	StatusCodes  []int
	BodyPatterns []string
	BodyRegexp   *regexp.Regexp
}

func (r ExhaustionRule) matches(status int, body, lowerBody string) bool {
	if len(r.StatusCodes) == 0 && len(r.BodyPatterns) == 0 && r.BodyRegexp == nil {
		return false
	}
	if len(r.StatusCodes) > 0 {
		hit := false
		for _, sc := range r.StatusCodes {
			if sc == status {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	for _, p := range r.BodyPatterns {
		if !strings.Contains(lowerBody, strings.ToLower(p)) {
			return false
		}
	}
	if r.BodyRegexp != nil && !r.BodyRegexp.MatchString(body) {
		return false
	}
	return true
}

// phpFatalMarker is how PHP itself prints a fatal error: "<b>Fatal error</b>:"
// with html_errors on, otherwise "Fatal error:" or "PHP Fatal error:" at the
// start of a line. Entry content that merely mentions a fatal error does not
// match.
const phpFatalMarker = `(?:(?m:^)[ \t]*(?:PHP )?Fatal error:|<b>Fatal error</b>:)`

var (
	phpFatal       = regexp.MustCompile(phpFatalMarker)
	phpMemoryFatal = regexp.MustCompile(phpFatalMarker + `[ \t]*Allowed memory size`)
)

// DefaultExhaustionRules matches PHP's "Allowed memory size ... exhausted"
// fatal error, which is what the webservice emits for oversized queries.
func DefaultExhaustionRules() []ExhaustionRule {
	return []ExhaustionRule{{BodyRegexp: phpMemoryFatal}}
}

// ParseExhaustionRules builds rules from EE_EXHAUSTION_STATUS_CODES (comma
// separated codes, one rule) and EE_EXHAUSTION_PATTERNS (comma separated
// rules, each a '+' separated list of substrings that must all appear).
// Both empty yields the defaults.
func ParseExhaustionRules(statusCSV, patternCSV string) ([]ExhaustionRule, error) {
	var rules []ExhaustionRule

	var codes []int
	for _, item := range strings.Split(statusCSV, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		code, err := strconv.Atoi(item)
		if err != nil || code < 100 || code > 599 {
			return nil, fmt.Errorf("invalid exhaustion status code %q", item)
		}
		codes = append(codes, code)
	}
	if len(codes) > 0 {
		rules = append(rules, ExhaustionRule{StatusCodes: codes})
	}

	for _, item := range strings.Split(patternCSV, ",") {
		var patterns []string
		for _, p := range strings.Split(item, "+") {
			if p = strings.TrimSpace(p); p != "" {
				patterns = append(patterns, p)
			}
		}
		if len(patterns) > 0 {
			rules = append(rules, ExhaustionRule{BodyPatterns: patterns})
		}
	}

	if len(rules) == 0 {
		return DefaultExhaustionRules(), nil
	}
	return rules, nil
}

// Normalizer turns webservice replies into ActionResults. Classification
// order: exhaustion, empty, ok, then remote error.
type Normalizer struct {
	rules  []ExhaustionRule
	logger *slog.Logger
}

func NewNormalizer(rules []ExhaustionRule, logger *slog.Logger) *Normalizer {
	if rules == nil {
		rules = DefaultExhaustionRules()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Normalizer{rules: rules, logger: logger}
}

func (n *Normalizer) exhausted(status int, body string) bool {
	lower := strings.ToLower(body)
	for _, r := range n.rules {
		if r.matches(status, body, lower) {
			return true
		}
	}
	return false
}

var (
	phpEmptyArray = regexp.MustCompile(`^Array\s*\(\s*\)$`)
	// print_r indents the keys of the outermost array by exactly four spaces.
	phpTopLevelField = regexp.MustCompile(`(?m)^ {4}\[([^\]\r\n]+)\][ \t]*=>[ \t]?([^\r\n]*)`)
)

// phpTopLevel returns the scalar fields of the outermost print_r array.
func phpTopLevel(text string) map[string]string {
	out := make(map[string]string)
	for _, m := range phpTopLevelField.FindAllStringSubmatch(text, -1) {
		if _, seen := out[m[1]]; !seen {
			out[m[1]] = strings.TrimSpace(m[2])
		}
	}
	return out
}

// Normalize classifies one transport outcome. err is the error returned by
// the transport, if any.
func (n *Normalizer) Normalize(action Action, resp *webservice.Response, err error) ActionResult {
	if err != nil {
		return n.fromError(action, err)
	}
	if resp == nil {
		return ActionResult{Kind: KindRemoteError, Message: "no response received from the webservice", Code: "remote_unreachable"}
	}

	body := string(resp.Body)
	if n.exhausted(resp.StatusCode, body) {
		n.logger.Warn("webservice resource exhausted", "action", action, "status_code", resp.StatusCode)
		return exhaustedResult(action, resp.StatusCode)
	}

	text := strings.TrimSpace(body)
	if phpFatal.MatchString(text) {
		n.logger.Error("webservice php fatal error", "action", action, "body", text)
		return ActionResult{
			Kind:        KindRemoteError,
			StatusCode:  resp.StatusCode,
			Message:     "server encountered a fatal error: " + text,
			Suggestions: []string{"Check the params for invalid field names or values", "Check the ExpressionEngine error log"},
			Code:        "php_fatal_error",
		}
	}
	if strings.Contains(text, "Warning:") || strings.Contains(text, "Notice:") {
		n.logger.Warn("webservice php warning in response", "action", action)
	}

	switch {
	case text == "":
		return emptyResult(action)
	case json.Valid(resp.Body):
		return n.classifyJSON(action, resp)
	case strings.HasPrefix(text, "Array"):
		return n.classifyPHP(action, resp, text)
	case isNoEntries(text) && !strings.Contains(text, "\n"):
		return emptyResult(action)
	default:
		return ActionResult{
			Kind:        KindRemoteError,
			StatusCode:  resp.StatusCode,
			Message:     "invalid response format: the response was neither valid JSON nor a PHP array: " + text,
			Suggestions: []string{"Check API_URL points at the site running the Reinos Webservice add-on"},
			Code:        "invalid_response_format",
		}
	}
}

func (n *Normalizer) fromError(action Action, err error) ActionResult {
	var te *webservice.TransportError
	if !errors.As(err, &te) {
		if errors.Is(err, context.Canceled) {
			return ActionResult{Kind: KindRemoteError, Message: "request cancelled: " + err.Error(), Code: "cancelled"}
		}
		return ActionResult{Kind: KindRemoteError, Message: err.Error(), Code: "remote_error"}
	}

	if te.TooLarge {
		n.logger.Warn("webservice response too large", "action", action, "status_code", te.StatusCode)
		return exhaustedResult(action, te.StatusCode)
	}
	if n.exhausted(te.StatusCode, te.Body) {
		n.logger.Warn("webservice resource exhausted", "action", action, "status_code", te.StatusCode)
		return exhaustedResult(action, te.StatusCode)
	}

	res := ActionResult{
		Kind:       KindRemoteError,
		StatusCode: te.StatusCode,
		Code:       te.ErrorCode(),
	}
	switch {
	case te.Timeout:
		res.Message = fmt.Sprintf("the webservice did not answer in time (%v)", te.Err)
		res.Suggestions = []string{"Narrow the request with channel_name, a lower limit or date filters", "Retry once the server is less busy"}
	case te.StatusCode != 0:
		res.Message = fmt.Sprintf("webservice returned HTTP %d: %s", te.StatusCode, te.Body)
		res.Suggestions = statusSuggestions(te.StatusCode)
	default:
		res.Message = fmt.Sprintf("could not reach the webservice: %v", te.Err)
		res.Suggestions = []string{"Check API_URL and network connectivity to the site"}
	}
	return res
}

func statusSuggestions(status int) []string {
	switch {
	case status == 401 || status == 403:
		return []string{"Check SHORTKEY and the webservice user's permissions for this channel"}
	case status == 404:
		return []string{"Check API_URL points at the site root and the Reinos Webservice add-on is installed"}
	case status >= 500:
		return []string{"Retry later or check the ExpressionEngine error log"}
	default:
		return []string{"Check the params sent with this action"}
	}
}

func (n *Normalizer) classifyJSON(action Action, resp *webservice.Response) ActionResult {
	var doc any
	dec := json.NewDecoder(bytes.NewReader(resp.Body))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return ActionResult{Kind: KindRemoteError, StatusCode: resp.StatusCode, Message: "invalid JSON response: " + err.Error(), Code: "invalid_response_format"}
	}

	switch v := doc.(type) {
	case nil:
		return emptyResult(action)
	case string:
		if isNoEntries(v) || strings.TrimSpace(v) == "" {
			return emptyResult(action)
		}
	case []any:
		if len(v) == 0 {
			return emptyResult(action)
		}
	case map[string]any:
		if len(v) == 0 {
			return emptyResult(action)
		}
		msg, _ := v["message"].(string)
		if isNoEntries(msg) {
			return emptyResult(action)
		}
		if ok, present := v["success"]; present && !truthy(ok) {
			return ActionResult{
				Kind:        KindRemoteError,
				StatusCode:  resp.StatusCode,
				Message:     "webservice rejected the request: " + msg,
				Suggestions: statusSuggestions(resp.StatusCode),
				Code:        "remote_rejected",
			}
		}
		for _, key := range []string{"entries", "data", "results"} {
			if inner, ok := v[key]; ok && isEmptyValue(inner) {
				return emptyResult(action)
			}
		}
	}

	return ActionResult{Kind: KindOK, StatusCode: resp.StatusCode, Payload: json.RawMessage(resp.Body)}
}

func (n *Normalizer) classifyPHP(action Action, resp *webservice.Response, text string) ActionResult {
	if phpEmptyArray.MatchString(text) {
		return emptyResult(action)
	}
	fields := phpTopLevel(text)
	msg, hasMsg := fields["message"]
	if hasMsg && isNoEntries(msg) {
		return emptyResult(action)
	}
	if v, ok := fields["success"]; ok {
		if v == "" || v == "0" {
			if !hasMsg {
				msg = text
			}
			return ActionResult{
				Kind:        KindRemoteError,
				StatusCode:  resp.StatusCode,
				Message:     "webservice rejected the request: " + msg,
				Suggestions: statusSuggestions(resp.StatusCode),
				Code:        "remote_rejected",
			}
		}
	}
	return ActionResult{Kind: KindOK, StatusCode: resp.StatusCode, Payload: string(resp.Body)}
}

func isNoEntries(s string) bool {
	lower := strings.ToLower(s)
	return strings.Contains(lower, "no entry found") || strings.Contains(lower, "no entries found")
}

func isEmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case json.Number:
		return t.String() != "0"
	case string:
		s := strings.ToLower(strings.TrimSpace(t))
		return s != "" && s != "0" && s != "false"
	}
	return v != nil
}

func emptyResult(action Action) ActionResult {
	res := ActionResult{Kind: KindEmpty, Code: "no_results"}
	switch action {
	case ActionSearchEntries:
		res.Message = "No entries found matching the search criteria."
		res.Suggestions = []string{
			"Use broader search terms or drop the title filter",
			"Check that channel_name is spelled as in the control panel",
			"Search with only site_id and channel_name to confirm the channel has entries",
		}
	case ActionGetEntry:
		res.Message = "No entry found with that entry_id."
		res.Suggestions = []string{
			"Look the entry up with search_entries to confirm its entry_id",
			"Check that site_id matches the site the entry belongs to",
		}
	default:
		res.Message = "The webservice returned an empty response."
		res.Suggestions = []string{"Confirm the change with get_entry"}
	}
	return res
}

func exhaustedResult(action Action, status int) ActionResult {
	suggestions := []string{
		"Add channel_name to restrict the search to one channel",
		"Lower the limit parameter",
		"Add date filters (start_on, stop_on) or custom field filters",
		"Use get_entry for entries whose entry_id is already known",
	}
	if action != ActionSearchEntries {
		suggestions = []string{
			"Send fewer or smaller fields in one call",
			"Retry when the server is less busy",
		}
	}
	return ActionResult{
		Kind:        KindResourceExhausted,
		StatusCode:  status,
		Message:     "The server ran out of resources processing this request; narrow its scope.",
		Suggestions: suggestions,
		Code:        "resource_exhausted",
	}
}
