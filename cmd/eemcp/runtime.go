package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/eemcp/eemcp/internal/config"
	"github.com/eemcp/eemcp/internal/core"
	"github.com/eemcp/eemcp/internal/db"
	"github.com/eemcp/eemcp/internal/telemetry"
	"github.com/eemcp/eemcp/internal/webservice"
	"github.com/hashicorp/go-multierror"
)

// settings are the process options that sit beside the site configuration.
type settings struct {
	Profile         string
	LogLevel        slog.Level
	Timeout         time.Duration
	ResponseFormat  string
	DefaultLimit    int
	ActionAllowlist string
	ChannelAllow    string
	Exhaustion      []core.ExhaustionRule
	DatabaseURL     string
	OTLPEndpoint    string
	JWTSecret       string
}

func resolveSettings(lookup func(string) (string, bool)) (*settings, error) {
	get := func(key, fallback string) string {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return fallback
	}

	profile, err := core.LoadProfile(get("EEMCP_PROFILE", ""))
	if err != nil {
		return nil, err
	}

	var errs *multierror.Error
	s := &settings{
		Profile:         profile.Name,
		ResponseFormat:  strings.ToLower(get("EE_RESPONSE_FORMAT", profile.ResponseFormat)),
		ActionAllowlist: get("EE_ACTION_ALLOWLIST", profile.ActionAllowlist),
		ChannelAllow:    get("EE_CHANNEL_ALLOWLIST", ""),
		DatabaseURL:     get("DATABASE_URL", ""),
		OTLPEndpoint:    get("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		JWTSecret:       get("EEMCP_HTTP_JWT_SECRET", ""),
	}

	if err := s.LogLevel.UnmarshalText([]byte(get("LOG_LEVEL", profile.LogLevel))); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("invalid LOG_LEVEL: %w", err))
	}

	secs := profile.TimeoutSeconds
	if raw := get("EE_TIMEOUT_SECONDS", ""); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			errs = multierror.Append(errs, fmt.Errorf("invalid EE_TIMEOUT_SECONDS %q", raw))
		} else {
			secs = n
		}
	}
	s.Timeout = time.Duration(secs) * time.Second

	s.DefaultLimit = profile.DefaultSearchLimit
	if raw := get("EE_DEFAULT_LIMIT", ""); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			errs = multierror.Append(errs, fmt.Errorf("invalid EE_DEFAULT_LIMIT %q", raw))
		} else {
			s.DefaultLimit = n
		}
	}

	if s.ResponseFormat != webservice.FormatPHP && s.ResponseFormat != webservice.FormatJSON {
		errs = multierror.Append(errs, fmt.Errorf("invalid EE_RESPONSE_FORMAT %q (php or json)", s.ResponseFormat))
	}

	s.Exhaustion, err = core.ParseExhaustionRules(get("EE_EXHAUSTION_STATUS_CODES", ""), get("EE_EXHAUSTION_PATTERNS", ""))
	if err != nil {
		errs = multierror.Append(errs, err)
	}

	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return s, nil
}

// app is the wired process: one site, one tool service and the resources
// that need closing on exit.
type app struct {
	logger   *slog.Logger
	settings *settings
	site     *config.SiteConfig
	svc      *core.ToolService
	closers  []func(context.Context) error
}

func newApp(ctx context.Context, logOut io.Writer) (*app, error) {
	s, err := resolveSettings(os.LookupEnv)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{Level: s.LogLevel}))

	site, err := config.Load()
	if err != nil {
		return nil, err
	}

	a := &app{logger: logger, settings: s, site: site}

	shutdownTracing, err := telemetry.SetupTracing(ctx, s.OTLPEndpoint)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, shutdownTracing)

	client, err := webservice.NewClient(site,
		webservice.WithTimeout(s.Timeout),
		webservice.WithFormat(s.ResponseFormat),
	)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	var audit *core.AuditService
	if s.DatabaseURL != "" {
		database, err := db.New(s.DatabaseURL)
		if err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("open audit database: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return database.Close() })
		audit = core.NewAuditService(database)
	}

	dispatcher := core.NewDispatcher(client, site,
		core.WithPolicy(core.NewPolicy(s.ActionAllowlist, s.ChannelAllow)),
		core.WithNormalizer(core.NewNormalizer(s.Exhaustion, logger)),
		core.WithDefaultLimit(s.DefaultLimit),
	)
	a.svc = core.NewToolService(dispatcher, audit, logger)

	logger.Info("effective config",
		"profile", s.Profile,
		"site", site,
		"response_format", client.Format(),
		"timeout", s.Timeout.String(),
		"default_limit", s.DefaultLimit,
		"action_allowlist", s.ActionAllowlist,
		"channel_allowlist", s.ChannelAllow,
		"audit", audit != nil,
		"tracing", s.OTLPEndpoint != "",
	)
	return a, nil
}

func (a *app) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil && a.logger != nil {
			a.logger.Warn("shutdown step failed", "error", err)
		}
	}
}
