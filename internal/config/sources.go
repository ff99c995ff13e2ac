package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// knownSources are the resolver sources the daemon can construct.
var knownSources = map[string]bool{
	"twitter-api": true,
	"scraper":     true,
	"syndication": true,
}

// SourceEntry is one entry in the fallback chain definition.
type SourceEntry struct {
	Name    string `yaml:"name"`
	Enabled *bool  `yaml:"enabled,omitempty"`
}

// ChainConfig is the YAML fallback-chain definition. Order in the file is
// the order sources are tried.
type ChainConfig struct {
	Sources []SourceEntry `yaml:"sources"`
}

// DefaultChain is the chain used when no sources file is configured:
// official API first, then the scraper sidecar, then the public
// syndication endpoint.
func DefaultChain() ChainConfig {
	return ChainConfig{Sources: []SourceEntry{
		{Name: "twitter-api"},
		{Name: "scraper"},
		{Name: "syndication"},
	}}
}

// LoadChain reads the fallback chain from a YAML file and validates every
// entry against the sources the daemon knows how to build.
func LoadChain(path string) (ChainConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ChainConfig{}, err
	}

	var chain ChainConfig
	if err := yaml.Unmarshal(data, &chain); err != nil {
		return ChainConfig{}, fmt.Errorf("parse sources file %s: %w", path, err)
	}
	if len(chain.Sources) == 0 {
		return ChainConfig{}, fmt.Errorf("sources file %s defines no sources", path)
	}

	seen := make(map[string]bool, len(chain.Sources))
	for _, s := range chain.Sources {
		if !knownSources[s.Name] {
			return ChainConfig{}, fmt.Errorf("sources file %s: unknown source %q", path, s.Name)
		}
		if seen[s.Name] {
			return ChainConfig{}, fmt.Errorf("sources file %s: duplicate source %q", path, s.Name)
		}
		seen[s.Name] = true
	}
	return chain, nil
}

// EnabledNames returns the names of enabled sources in chain order.
// Entries default to enabled unless explicitly switched off.
func (c ChainConfig) EnabledNames() []string {
	names := make([]string, 0, len(c.Sources))
	for _, s := range c.Sources {
		if s.Enabled != nil && !*s.Enabled {
			continue
		}
		names = append(names, s.Name)
	}
	return names
}
