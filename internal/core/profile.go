package core

import (
	"fmt"
	"strings"
)

// ProfileDefaults holds environment-specific default configuration values.
// Profiles provide defaults only; explicit env vars always override.
type ProfileDefaults struct {
	Name               string
	TimeoutSeconds     int
	DefaultSearchLimit int
	ResponseFormat     string
	ActionAllowlist    string
	LogLevel           string
}

var profiles = map[string]*ProfileDefaults{
	"dev": {
		Name:               "dev",
		TimeoutSeconds:     30,
		DefaultSearchLimit: 25,
		ResponseFormat:     "php",
		ActionAllowlist:    "",
		LogLevel:           "debug",
	},
	"staging": {
		Name:               "staging",
		TimeoutSeconds:     30,
		DefaultSearchLimit: 25,
		ResponseFormat:     "php",
		ActionAllowlist:    "",
		LogLevel:           "info",
	},
	"prod": {
		Name:               "prod",
		TimeoutSeconds:     20,
		DefaultSearchLimit: 20,
		ResponseFormat:     "php",
		ActionAllowlist:    "",
		LogLevel:           "info",
	},
	"readonly": {
		Name:               "readonly",
		TimeoutSeconds:     20,
		DefaultSearchLimit: 20,
		ResponseFormat:     "php",
		ActionAllowlist:    "search_entries,get_entry",
		LogLevel:           "info",
	},
}

// LoadProfile returns profile defaults for the given name.
// Empty name defaults to "dev". Unknown names return an error.
func LoadProfile(name string) (*ProfileDefaults, error) {
	name = strings.TrimSpace(strings.ToLower(name))
	if name == "" {
		name = "dev"
	}
	p, ok := profiles[name]
	if !ok {
		return nil, fmt.Errorf("unknown profile %q (valid: dev, staging, prod, readonly)", name)
	}
	copy := *p
	return &copy, nil
}
