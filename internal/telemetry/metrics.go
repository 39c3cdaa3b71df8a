package telemetry

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

var defaultRegistry = newRegistry()

var durationBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60}

type registry struct {
	mu                  sync.Mutex
	toolCalls           map[string]map[string]int64
	toolDurationBuckets map[string][]int64
	remoteErrors        map[string]map[int]int64
	auditWriteFailures  int64
	policyDenials       map[string]int64
}

func newRegistry() *registry {
	return &registry{
		toolCalls:           make(map[string]map[string]int64),
		toolDurationBuckets: make(map[string][]int64),
		remoteErrors:        make(map[string]map[int]int64),
		policyDenials:       make(map[string]int64),
	}
}

// IncToolCall counts one manage_content call by action and outcome kind.
func IncToolCall(action, outcome string) {
	defaultRegistry.mu.Lock()
	defer defaultRegistry.mu.Unlock()
	if _, ok := defaultRegistry.toolCalls[action]; !ok {
		defaultRegistry.toolCalls[action] = make(map[string]int64)
	}
	defaultRegistry.toolCalls[action][outcome]++
}

func ObserveToolDuration(action string, d time.Duration) {
	sec := d.Seconds()

	defaultRegistry.mu.Lock()
	defer defaultRegistry.mu.Unlock()
	if _, ok := defaultRegistry.toolDurationBuckets[action]; !ok {
		defaultRegistry.toolDurationBuckets[action] = make([]int64, len(durationBuckets)+1)
	}
	idx := len(durationBuckets)
	for i, b := range durationBuckets {
		if sec <= b {
			idx = i
			break
		}
	}
	defaultRegistry.toolDurationBuckets[action][idx]++
}

// IncRemoteError counts a failed webservice call. statusCode is 0 when no
// HTTP response was received.
func IncRemoteError(endpoint string, statusCode int) {
	defaultRegistry.mu.Lock()
	defer defaultRegistry.mu.Unlock()
	if _, ok := defaultRegistry.remoteErrors[endpoint]; !ok {
		defaultRegistry.remoteErrors[endpoint] = make(map[int]int64)
	}
	defaultRegistry.remoteErrors[endpoint][statusCode]++
}

func IncAuditWriteFailure() {
	defaultRegistry.mu.Lock()
	defaultRegistry.auditWriteFailures++
	defaultRegistry.mu.Unlock()
}

func IncPolicyDenial(rule string) {
	defaultRegistry.mu.Lock()
	defaultRegistry.policyDenials[rule]++
	defaultRegistry.mu.Unlock()
}

func RenderPrometheus() string {
	defaultRegistry.mu.Lock()
	defer defaultRegistry.mu.Unlock()

	var sb strings.Builder

	sb.WriteString("# TYPE eemcp_tool_calls_total counter\n")
	for _, action := range sortedKeys(defaultRegistry.toolCalls) {
		for _, outcome := range sortedKeys(defaultRegistry.toolCalls[action]) {
			sb.WriteString(fmt.Sprintf("eemcp_tool_calls_total{action=\"%s\",outcome=\"%s\"} %d\n", action, outcome, defaultRegistry.toolCalls[action][outcome]))
		}
	}

	sb.WriteString("# TYPE eemcp_tool_duration_seconds_bucket counter\n")
	for _, action := range sortedKeys(defaultRegistry.toolDurationBuckets) {
		var cumulative int64
		for i, v := range defaultRegistry.toolDurationBuckets[action] {
			cumulative += v
			sb.WriteString(fmt.Sprintf("eemcp_tool_duration_seconds_bucket{action=\"%s\",le=\"%s\"} %d\n", action, bucketLabel(i), cumulative))
		}
	}

	sb.WriteString("# TYPE eemcp_remote_errors_total counter\n")
	for _, endpoint := range sortedKeys(defaultRegistry.remoteErrors) {
		statusCodes := make([]int, 0, len(defaultRegistry.remoteErrors[endpoint]))
		for sc := range defaultRegistry.remoteErrors[endpoint] {
			statusCodes = append(statusCodes, sc)
		}
		sort.Ints(statusCodes)
		for _, sc := range statusCodes {
			sb.WriteString(fmt.Sprintf("eemcp_remote_errors_total{endpoint=\"%s\",status_code=\"%d\"} %d\n", endpoint, sc, defaultRegistry.remoteErrors[endpoint][sc]))
		}
	}

	sb.WriteString("# TYPE eemcp_audit_write_failures_total counter\n")
	sb.WriteString(fmt.Sprintf("eemcp_audit_write_failures_total %d\n", defaultRegistry.auditWriteFailures))

	sb.WriteString("# TYPE eemcp_policy_denials_total counter\n")
	for _, rule := range sortedKeys(defaultRegistry.policyDenials) {
		sb.WriteString(fmt.Sprintf("eemcp_policy_denials_total{rule=\"%s\"} %d\n", rule, defaultRegistry.policyDenials[rule]))
	}

	return sb.String()
}

func bucketLabel(i int) string {
	if i >= len(durationBuckets) {
		return "+Inf"
	}
	return strings.TrimSuffix(fmt.Sprintf("%g", durationBuckets[i]), ".0")
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
