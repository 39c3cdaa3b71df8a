package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/eemcp/eemcp/internal/config"
	"github.com/eemcp/eemcp/internal/telemetry"
	"github.com/eemcp/eemcp/internal/webservice"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Transport performs one webservice call. *webservice.Client implements it.
type Transport interface {
	Call(ctx context.Context, method, endpoint string, data map[string]any) (*webservice.Response, error)
}

// Dispatcher validates a request, maps it onto one webservice call and
// normalizes the reply. It holds no per-call state.
type Dispatcher struct {
	transport    Transport
	site         *config.SiteConfig
	policy       *Policy
	normalizer   *Normalizer
	defaultLimit int
	tracer       trace.Tracer
}

type DispatcherOption func(*Dispatcher)

func WithPolicy(p *Policy) DispatcherOption {
	return func(d *Dispatcher) { d.policy = p }
}

func WithNormalizer(n *Normalizer) DispatcherOption {
	return func(d *Dispatcher) {
		if n != nil {
			d.normalizer = n
		}
	}
}

// WithDefaultLimit sets the limit sent with search_entries when the caller
// gives none. Zero sends no limit.
func WithDefaultLimit(limit int) DispatcherOption {
	return func(d *Dispatcher) { d.defaultLimit = limit }
}

func WithTracer(t trace.Tracer) DispatcherOption {
	return func(d *Dispatcher) {
		if t != nil {
			d.tracer = t
		}
	}
}

func NewDispatcher(transport Transport, site *config.SiteConfig, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		transport:  transport,
		site:       site,
		normalizer: NewNormalizer(nil, nil),
		tracer:     telemetry.Tracer(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Site returns the immutable site configuration the dispatcher targets.
func (d *Dispatcher) Site() *config.SiteConfig { return d.site }

// Policy returns the dispatcher's policy, which may be nil.
func (d *Dispatcher) Policy() *Policy { return d.policy }

type remoteCall struct {
	method   string
	endpoint string
	data     map[string]any
}

// Dispatch runs one action. It never returns an error: every failure is an
// ActionResult, and a request that fails validation never reaches the
// transport.
func (d *Dispatcher) Dispatch(ctx context.Context, req ActionRequest) (result ActionResult) {
	ctx, span := d.tracer.Start(ctx, "dispatch "+string(req.Action),
		trace.WithAttributes(attribute.String("eemcp.action", string(req.Action))))
	defer func() {
		if r := recover(); r != nil {
			result = ActionResult{
				Kind:    KindRemoteError,
				Message: fmt.Sprintf("internal error while handling %s: %v", req.Action, r),
				Code:    "internal_error",
			}
		}
		span.SetAttributes(attribute.String("eemcp.outcome", string(result.Kind)))
		span.End()
	}()

	params := req.Params.Clone()

	if verr := validateRequest(req.Action, params); verr != nil {
		return verr.result()
	}
	if err := d.policy.CheckAction(req.Action); err != nil {
		telemetry.IncPolicyDenial("action")
		return violationResult(err)
	}
	if err := d.policy.CheckChannelScope(req.Action, params); err != nil {
		telemetry.IncPolicyDenial("channel")
		return violationResult(err)
	}

	siteID := config.DefaultSiteID
	if d.site != nil && d.site.DefaultSiteID > 0 {
		siteID = d.site.DefaultSiteID
	}
	if verr := prepareParams(req.Action, params, siteID, d.defaultLimit); verr != nil {
		return verr.result()
	}

	call := buildCall(req.Action, params)
	resp, err := d.transport.Call(ctx, call.method, call.endpoint, call.data)
	return d.normalizer.Normalize(req.Action, resp, err)
}

func buildCall(action Action, p Params) remoteCall {
	switch action {
	case ActionSearchEntries:
		return remoteCall{method: http.MethodGet, endpoint: webservice.ReadEntry, data: p}
	case ActionGetEntry:
		return remoteCall{method: http.MethodGet, endpoint: webservice.ReadEntry, data: map[string]any{
			"site_id":  p["site_id"],
			"entry_id": p["entry_id"],
		}}
	case ActionCreateEntry:
		return remoteCall{method: http.MethodPost, endpoint: webservice.CreateEntry, data: p}
	default:
		return remoteCall{method: http.MethodPost, endpoint: webservice.UpdateEntry, data: p}
	}
}

func violationResult(err error) ActionResult {
	var v *PolicyViolation
	if errors.As(err, &v) {
		return v.result()
	}
	return ActionResult{Kind: KindValidationError, Message: err.Error(), Code: "policy_denied"}
}
