// Package config resolves the connection parameters of the ExpressionEngine
// site this process talks to. Resolution happens once at startup; the
// resulting SiteConfig is never mutated afterwards.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"
)

const (
	EnvAPIURL    = "API_URL"
	EnvShortkey  = "SHORTKEY"
	EnvSiteID    = "EE_SITE_ID"
	EnvSitesFile = "EE_SITES_FILE"
	EnvSite      = "EE_SITE"

	// DefaultSiteID is the ExpressionEngine site id used when none is configured.
	DefaultSiteID = 1
)

// SiteConfig holds the connection parameters for one ExpressionEngine site.
type SiteConfig struct {
	Name          string
	BaseURL       string
	AuthKey       string
	DefaultSiteID int
}

// LogValue keeps the auth key out of structured logs.
func (c *SiteConfig) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("name", c.Name),
		slog.String("base_url", c.BaseURL),
		slog.Int("default_site_id", c.DefaultSiteID),
	)
}

// ConfigError reports missing or invalid startup configuration.
type ConfigError struct {
	Missing []string
	Err     error
}

func (e *ConfigError) Error() string {
	if len(e.Missing) > 0 && e.Err == nil {
		return fmt.Sprintf("missing required configuration: %s", strings.Join(e.Missing, ", "))
	}
	if len(e.Missing) > 0 {
		return fmt.Sprintf("missing required configuration: %s: %v", strings.Join(e.Missing, ", "), e.Err)
	}
	return fmt.Sprintf("invalid configuration: %v", e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

func (e *ConfigError) ErrorCode() string { return "config_invalid" }

// Loader reads configuration from an environment lookup and a filesystem.
type Loader struct {
	Lookup  func(string) (string, bool)
	Fs      afero.Fs
	Secrets *SecretResolver
}

// NewLoader returns a Loader backed by the process environment and the OS filesystem.
func NewLoader() *Loader {
	fs := afero.NewOsFs()
	return &Loader{
		Lookup:  os.LookupEnv,
		Fs:      fs,
		Secrets: NewSecretResolver(os.LookupEnv, fs),
	}
}

// Load resolves the SiteConfig using the process environment.
func Load() (*SiteConfig, error) {
	return NewLoader().Load()
}

// Load resolves the SiteConfig. When EE_SITES_FILE is set the site comes
// from that mapping (EE_SITE selects an entry, otherwise the file's default);
// otherwise API_URL and SHORTKEY are required.
func (l *Loader) Load() (*SiteConfig, error) {
	var (
		cfg *SiteConfig
		err error
	)
	if path := l.get(EnvSitesFile); path != "" {
		cfg, err = l.loadFromSitesFile(path)
	} else {
		cfg, err = l.loadFromEnv()
	}
	if err != nil {
		return nil, err
	}

	if l.Secrets != nil {
		key, err := l.Secrets.Resolve(cfg.AuthKey)
		if err != nil {
			return nil, &ConfigError{Err: fmt.Errorf("resolve %s: %w", EnvShortkey, err)}
		}
		if strings.TrimSpace(key) == "" {
			return nil, &ConfigError{Missing: []string{EnvShortkey}, Err: errors.New("auth key resolved to an empty value")}
		}
		cfg.AuthKey = key
	}
	return cfg, nil
}

func (l *Loader) loadFromEnv() (*SiteConfig, error) {
	cfg := &SiteConfig{
		Name:          "default",
		BaseURL:       l.get(EnvAPIURL),
		AuthKey:       l.get(EnvShortkey),
		DefaultSiteID: DefaultSiteID,
	}

	var missing []string
	if cfg.BaseURL == "" {
		missing = append(missing, EnvAPIURL)
	}
	if cfg.AuthKey == "" {
		missing = append(missing, EnvShortkey)
	}

	var result *multierror.Error
	if cfg.BaseURL != "" {
		if err := validateBaseURL(cfg.BaseURL); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", EnvAPIURL, err))
		}
	}
	if raw := l.get(EnvSiteID); raw != "" {
		id, err := parsePositiveInt(raw)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", EnvSiteID, err))
		} else {
			cfg.DefaultSiteID = id
		}
	}

	if len(missing) > 0 || result.ErrorOrNil() != nil {
		return nil, &ConfigError{Missing: missing, Err: result.ErrorOrNil()}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return cfg, nil
}

func (l *Loader) loadFromSitesFile(path string) (*SiteConfig, error) {
	raw, err := afero.ReadFile(l.Fs, path)
	if err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("read %s %q: %w", EnvSitesFile, path, err)}
	}
	file, err := ParseSitesFile(raw)
	if err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("parse %s %q: %w", EnvSitesFile, path, err)}
	}
	name, entry, err := file.Select(l.get(EnvSite))
	if err != nil {
		return nil, &ConfigError{Err: err}
	}

	var missing []string
	if entry.URL == "" {
		missing = append(missing, fmt.Sprintf("sites.%s.url", name))
	}
	if entry.Shortkey == "" {
		missing = append(missing, fmt.Sprintf("sites.%s.shortkey", name))
	}
	var result *multierror.Error
	if entry.URL != "" {
		if err := validateBaseURL(entry.URL); err != nil {
			result = multierror.Append(result, fmt.Errorf("sites.%s.url: %w", name, err))
		}
	}
	if entry.SiteID < 0 {
		result = multierror.Append(result, fmt.Errorf("sites.%s.site_id must be positive", name))
	}
	if len(missing) > 0 || result.ErrorOrNil() != nil {
		return nil, &ConfigError{Missing: missing, Err: result.ErrorOrNil()}
	}

	siteID := entry.SiteID
	if siteID == 0 {
		siteID = DefaultSiteID
	}
	return &SiteConfig{
		Name:          name,
		BaseURL:       strings.TrimRight(entry.URL, "/"),
		AuthKey:       entry.Shortkey,
		DefaultSiteID: siteID,
	}, nil
}

func (l *Loader) get(key string) string {
	if l.Lookup == nil {
		return ""
	}
	v, _ := l.Lookup(key)
	return strings.TrimSpace(v)
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url %q must use http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("url %q has no host", raw)
	}
	return nil
}

func parsePositiveInt(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%q is not an integer", raw)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%q must be a positive integer", raw)
	}
	return n, nil
}
