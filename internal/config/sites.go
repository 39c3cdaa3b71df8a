package config

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// SitesFile is the multi-site mapping. JSON is valid YAML, so both formats
// are accepted:
//
//	{"default": "main", "sites": {"main": {"url": "https://example.com", "shortkey": "..."}}}
type SitesFile struct {
	Default string               `yaml:"default"`
	Sites   map[string]SiteEntry `yaml:"sites"`
}

// SiteEntry is one site in a SitesFile.
type SiteEntry struct {
	URL      string `yaml:"url"`
	Shortkey string `yaml:"shortkey"`
	SiteID   int    `yaml:"site_id,omitempty"`
}

// ParseSitesFile decodes a sites mapping.
func ParseSitesFile(data []byte) (*SitesFile, error) {
	var f SitesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	if len(f.Sites) == 0 {
		return nil, fmt.Errorf("no sites defined")
	}
	for name, entry := range f.Sites {
		entry.URL = strings.TrimSpace(entry.URL)
		entry.Shortkey = strings.TrimSpace(entry.Shortkey)
		f.Sites[name] = entry
	}
	return &f, nil
}

// Select returns the named site, or the designated default when name is
// empty. A file with a single site needs no designated default.
func (f *SitesFile) Select(name string) (string, SiteEntry, error) {
	if name == "" {
		name = f.Default
	}
	if name == "" {
		if len(f.Sites) == 1 {
			for only, entry := range f.Sites {
				return only, entry, nil
			}
		}
		return "", SiteEntry{}, fmt.Errorf("sites file has %d sites and no default; set %s or \"default\"", len(f.Sites), EnvSite)
	}
	entry, ok := f.Sites[name]
	if !ok {
		return "", SiteEntry{}, fmt.Errorf("site %q not defined (available: %s)", name, strings.Join(f.Names(), ", "))
	}
	return name, entry, nil
}

// Names returns the configured site names in lexical order.
func (f *SitesFile) Names() []string {
	names := make([]string, 0, len(f.Sites))
	for name := range f.Sites {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
