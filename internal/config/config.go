// Package config loads plagicheck settings.
//
// Sources, later ones override earlier: built-in defaults, a YAML file,
// the selected environment's profiles.<name> section from that file,
// PLAGICHECK_* environment variables, then values set from CLI flags.
package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const DefaultEnvPrefix = "PLAGICHECK_"

type Config struct {
	KB      KBConfig      `koanf:"kb"`
	Scan    ScanConfig    `koanf:"scan"`
	Log     LogConfig     `koanf:"log"`
	Metrics MetricsConfig `koanf:"metrics"`
}

type KBConfig struct {
	Dir  string `koanf:"dir"`
	Name string `koanf:"name"`
}

type ScanConfig struct {
	MinHits        int `koanf:"min_hits"`
	Threads        int `koanf:"threads"`
	RangeTolerance int `koanf:"range_tolerance"`
	MaxMatches     int `koanf:"max_matches"`
	MaxPostings    int `koanf:"max_postings"`
	RangeGap       int `koanf:"range_gap"`
}

type LogConfig struct {
	Level string `koanf:"level"`
	File  string `koanf:"file"`
}

type MetricsConfig struct {
	File string `koanf:"file"`
}

// Defaults returns the built-in values as flat koanf keys.
func Defaults() map[string]any {
	return map[string]any{
		"kb.dir":               "",
		"kb.name":              "plagicheck",
		"scan.min_hits":        3,
		"scan.threads":         3,
		"scan.range_tolerance": 3,
		"scan.max_matches":     5,
		"scan.max_postings":    1000,
		"scan.range_gap":       5,
		"log.level":            "info",
		"log.file":             "",
		"metrics.file":         "",
	}
}

// Loader collects configuration from every source.
type Loader struct {
	k         *koanf.Koanf
	envPrefix string
	filePath  string
	env       Environment
}

type Option func(*Loader)

func WithEnvPrefix(prefix string) Option {
	return func(l *Loader) { l.envPrefix = prefix }
}

func WithConfigFile(path string) Option {
	return func(l *Loader) { l.filePath = path }
}

func WithEnvironment(e Environment) Option {
	return func(l *Loader) { l.env = e }
}

func NewLoader(opts ...Option) *Loader {
	l := &Loader{k: koanf.New("."), envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load reads defaults and the file, applies the profile, then environment
// variables. overrides (usually CLI flags) win over everything.
func (l *Loader) Load(overrides map[string]any) (*Config, error) {
	if err := l.k.Load(mapProvider(unflatten(Defaults())), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	if l.filePath != "" {
		if err := l.k.Load(file.Provider(l.filePath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load file %s: %w", l.filePath, err)
		}
	}
	if section := l.env.SectionName(); section != "" && l.k.Exists(section) {
		if err := l.k.Merge(l.k.Cut(section)); err != nil {
			return nil, fmt.Errorf("apply %s profile: %w", l.env, err)
		}
	}
	if err := l.k.Load(env.Provider(l.envPrefix, ".", l.envKey), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}
	if len(overrides) > 0 {
		if err := l.k.Load(mapProvider(unflatten(overrides)), nil); err != nil {
			return nil, fmt.Errorf("load overrides: %w", err)
		}
	}

	var cfg Config
	if err := l.k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// envKey maps PLAGICHECK_SCAN_MIN_HITS to scan.min_hits: only the first
// underscore after the prefix separates the section.
func (l *Loader) envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, l.envPrefix))
	section, key, ok := strings.Cut(s, "_")
	if !ok {
		return s
	}
	return section + "." + key
}

// Get exposes a raw key, mainly for tests and diagnostics.
func (l *Loader) Get(key string) any {
	return l.k.Get(key)
}

func unflatten(flat map[string]any) map[string]any {
	out := make(map[string]any)
	for key, v := range flat {
		parts := strings.Split(key, ".")
		m := out
		for _, p := range parts[:len(parts)-1] {
			next, ok := m[p].(map[string]any)
			if !ok {
				next = make(map[string]any)
				m[p] = next
			}
			m = next
		}
		m[parts[len(parts)-1]] = v
	}
	return out
}

// mapProvider hands a nested map to koanf.
type mapProvider map[string]any

func (m mapProvider) ReadBytes() ([]byte, error) {
	return nil, fmt.Errorf("config: map provider does not support ReadBytes")
}

func (m mapProvider) Read() (map[string]any, error) {
	return m, nil
}
