// Package webservice talks to the Reinos Webservice add-on of an
// ExpressionEngine site over its REST endpoints.
package webservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/eemcp/eemcp/internal/config"
	"github.com/eemcp/eemcp/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Reinos REST methods.
const (
	ReadEntry   = "read_entry"
	CreateEntry = "create_entry"
	UpdateEntry = "update_entry"
)

const (
	FormatPHP  = "php"
	FormatJSON = "json"

	DefaultTimeout = 30 * time.Second

	maxBodyBytes = 8 << 20
)

type Client struct {
	baseURL    string
	authKey    string
	format     string
	httpClient *http.Client
	tracer     trace.Tracer
}

type Option func(*Client)

// WithTimeout bounds every call. Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithFormat selects the response format segment of the endpoint path.
func WithFormat(format string) Option {
	return func(c *Client) {
		if f := strings.ToLower(strings.TrimSpace(format)); f != "" {
			c.format = f
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(c *Client) {
		if t != nil {
			c.tracer = t
		}
	}
}

func NewClient(site *config.SiteConfig, opts ...Option) (*Client, error) {
	if site == nil {
		return nil, fmt.Errorf("site config is nil")
	}
	c := &Client{
		baseURL:    strings.TrimRight(site.BaseURL, "/"),
		authKey:    site.AuthKey,
		format:     FormatPHP,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		tracer:     telemetry.Tracer(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.format != FormatPHP && c.format != FormatJSON {
		return nil, fmt.Errorf("unsupported response format %q (valid: php, json)", c.format)
	}
	return c, nil
}

func (c *Client) Format() string { return c.format }

// Response is a 2xx reply from the webservice. Body is kept verbatim.
type Response struct {
	Operation  string
	StatusCode int
	Header     http.Header
	Body       []byte
}

// ErrBodyTooLarge is wrapped by a TransportError whose reply exceeded the
// body size limit.
var ErrBodyTooLarge = fmt.Errorf("response body exceeds %d bytes", maxBodyBytes)

// TransportError reports a call that did not produce a usable 2xx reply.
type TransportError struct {
	Operation  string
	StatusCode int
	Body       string
	Timeout    bool
	TooLarge   bool
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.TooLarge:
		return fmt.Sprintf("%s HTTP %d: %v", e.Operation, e.StatusCode, e.Err)
	case e.Timeout:
		return fmt.Sprintf("%s timed out: %v", e.Operation, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s HTTP %d: %s", e.Operation, e.StatusCode, e.Body)
	default:
		return fmt.Sprintf("%s failed: %v", e.Operation, e.Err)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) ErrorCode() string {
	switch {
	case e.TooLarge:
		return "response_too_large"
	case e.Timeout:
		return "remote_timeout"
	case e.StatusCode != 0:
		return "remote_http_error"
	default:
		return "remote_unreachable"
	}
}

// Call performs one request against /webservice/rest/<endpoint>/<format>.
// The shortkey travels as auth[shortkey]; every data entry is sent as
// data[<field>]. GET puts the fields in the query string, POST in an
// urlencoded body. Calls are never retried.
func (c *Client) Call(ctx context.Context, method, endpoint string, data map[string]any) (*Response, error) {
	method = strings.ToUpper(method)
	op := fmt.Sprintf("%s %s", strings.ToLower(method), endpoint)

	ctx, span := c.tracer.Start(ctx, "webservice."+endpoint,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("webservice.endpoint", endpoint),
			attribute.String("webservice.format", c.format),
			attribute.Int("webservice.fields", len(data)),
		),
	)
	defer span.End()

	resp, err := c.do(ctx, method, endpoint, op, data)
	if err != nil {
		var te *TransportError
		if errors.As(err, &te) {
			telemetry.IncRemoteError(endpoint, te.StatusCode)
			if te.StatusCode != 0 {
				span.SetAttributes(attribute.Int("http.response.status_code", te.StatusCode))
			}
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("http.response.status_code", resp.StatusCode),
		attribute.Int("http.response.body.size", len(resp.Body)),
	)
	return resp, nil
}

func (c *Client) do(ctx context.Context, method, endpoint, op string, data map[string]any) (*Response, error) {
	form, err := encodeForm(c.authKey, data)
	if err != nil {
		return nil, &TransportError{Operation: op, Err: err}
	}
	u := fmt.Sprintf("%s/webservice/rest/%s/%s", c.baseURL, url.PathEscape(endpoint), c.format)

	var req *http.Request
	switch method {
	case http.MethodGet:
		req, err = http.NewRequestWithContext(ctx, method, u+"?"+form.Encode(), nil)
	case http.MethodPost:
		req, err = http.NewRequestWithContext(ctx, method, u, strings.NewReader(form.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	default:
		return nil, &TransportError{Operation: op, Err: fmt.Errorf("unsupported HTTP method %q", method)}
	}
	if err != nil {
		return nil, &TransportError{Operation: op, Err: err}
	}
	if c.format == FormatJSON {
		req.Header.Set("Accept", "application/json")
	}
	req.Header.Set("User-Agent", "eemcp")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Operation: op, Timeout: isTimeout(err), Err: err}
	}
	defer resp.Body.Close()

	ok := resp.StatusCode >= 200 && resp.StatusCode <= 299
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if readErr != nil {
		if !ok {
			return nil, &TransportError{Operation: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body failed: %w", readErr)}
		}
		return nil, &TransportError{Operation: op, Timeout: isTimeout(readErr), Err: fmt.Errorf("read body: %w", readErr)}
	}
	if len(body) > maxBodyBytes {
		if ok {
			// A cut-off payload would be passed on as if complete.
			return nil, &TransportError{Operation: op, StatusCode: resp.StatusCode, TooLarge: true, Err: ErrBodyTooLarge}
		}
		body = body[:maxBodyBytes]
	}

	if !ok {
		return nil, &TransportError{Operation: op, StatusCode: resp.StatusCode, Body: string(body)}
	}
	return &Response{Operation: op, StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

func encodeForm(authKey string, data map[string]any) (url.Values, error) {
	form := url.Values{}
	form.Set("auth[shortkey]", authKey)

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v, err := formatScalar(data[k])
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		form.Set("data["+k+"]", v)
	}
	return form, nil
}

func formatScalar(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case bool:
		return strconv.FormatBool(t), nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case json.Number:
		return t.String(), nil
	case fmt.Stringer:
		return t.String(), nil
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
