// Package config loads the server configuration: listeners, module
// definitions, url shortcuts, and the error handler. Files are YAML
// (JSON parses as a YAML subset); OXWS_ environment variables override
// file values and ${VAR} references inside strings are substituted
// from the environment.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultPath is where the server looks when --config is not given.
const DefaultPath = "ox_webservice.yaml"

type Config struct {
	Listeners    []Listener   `koanf:"listeners" validate:"required,min=1,dive"`
	Modules      []Module     `koanf:"modules" validate:"dive"`
	URLs         []URL        `koanf:"urls" validate:"dive"`
	ErrorHandler ErrorHandler `koanf:"error_handler"`
	Metrics      Metrics      `koanf:"metrics"`
	Logging      Logging      `koanf:"logging"`
}

type Listener struct {
	Protocol    string `koanf:"protocol" validate:"required,oneof=http https"`
	BindAddress string `koanf:"bind_address"`
	Port        int    `koanf:"port" validate:"required,min=1,max=65535"`
	Hosts       []Host `koanf:"hosts" validate:"dive"`
}

// Host carries the per-hostname TLS material for an https listener.
// The entry marked Default answers connections with no SNI match.
type Host struct {
	Name    string `koanf:"name" validate:"required"`
	Cert    string `koanf:"cert"`
	Key     string `koanf:"key"`
	Default bool   `koanf:"default"`
}

type Module struct {
	Name       string         `koanf:"name" validate:"required"`
	ID         string         `koanf:"id"`
	Path       string         `koanf:"path"`
	Phase      string         `koanf:"phase" validate:"required"`
	Priority   int            `koanf:"priority"`
	Params     map[string]any `koanf:"params"`
	Matchers   []Matcher      `koanf:"matchers"`
	ErrorPhase string         `koanf:"error_phase"`
}

type Matcher struct {
	Protocol string            `koanf:"protocol"`
	Hostname string            `koanf:"hostname"`
	Path     string            `koanf:"path"`
	Headers  map[string]string `koanf:"headers"`
	Query    map[string]string `koanf:"query"`
	Status   string            `koanf:"status"`
}

// URL is a shortcut that expands into a matcher on the module it
// names, so simple sites need no matcher blocks.
type URL struct {
	Protocol string `koanf:"protocol"`
	Hostname string `koanf:"hostname"`
	URL      string `koanf:"url" validate:"required"`
	ModuleID string `koanf:"module_id" validate:"required"`
}

type ErrorHandler struct {
	Name   string         `koanf:"name"`
	Params map[string]any `koanf:"params"`
}

type Metrics struct {
	Enabled bool `koanf:"enabled"`
}

type Logging struct {
	Level string `koanf:"level" validate:"omitempty,oneof=debug info warn error"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads, substitutes, and validates the configuration at path.
// Any failure here is fatal to startup.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	// OXWS_METRICS__ENABLED=true -> metrics.enabled
	if err := k.Load(env.Provider("OXWS_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "OXWS_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("reading environment overrides: %w", err)
	}

	if !k.Exists("metrics.enabled") {
		k.Set("metrics.enabled", true)
	}
	if !k.Exists("logging.level") {
		k.Set("logging.level", "info")
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	substitute(&cfg)

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if err := cfg.expandURLs(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// expandURLs folds each url shortcut into a matcher on its target
// module. An unknown module id is a configuration error.
func (c *Config) expandURLs() error {
	for _, u := range c.URLs {
		found := false
		for i := range c.Modules {
			id := c.Modules[i].ID
			if id == "" {
				id = c.Modules[i].Name
			}
			if id != u.ModuleID {
				continue
			}
			c.Modules[i].Matchers = append(c.Modules[i].Matchers, Matcher{
				Protocol: u.Protocol,
				Hostname: u.Hostname,
				Path:     u.URL,
			})
			found = true
			break
		}
		if !found {
			return fmt.Errorf("url shortcut %q names unknown module id %q", u.URL, u.ModuleID)
		}
	}
	c.URLs = nil
	return nil
}

// FilterModules keeps only the named modules, preserving config order.
// Used by the --modules flag.
func (c *Config) FilterModules(names []string) error {
	keep := make(map[string]bool, len(names))
	for _, n := range names {
		keep[strings.TrimSpace(n)] = true
	}
	var kept []Module
	for _, m := range c.Modules {
		if keep[m.Name] {
			kept = append(kept, m)
			delete(keep, m.Name)
		}
	}
	for n := range keep {
		return fmt.Errorf("--modules names unconfigured module %q", n)
	}
	c.Modules = kept
	return nil
}

// ApplyModuleParam applies one --module-params override of the form
// module:key=value. Dotted keys write into nested parameter maps.
func (c *Config) ApplyModuleParam(spec string) error {
	name, assignment, ok := strings.Cut(spec, ":")
	if !ok {
		return fmt.Errorf("module param %q: want module:key=value", spec)
	}
	key, value, ok := strings.Cut(assignment, "=")
	if !ok || key == "" {
		return fmt.Errorf("module param %q: want module:key=value", spec)
	}

	for i := range c.Modules {
		if c.Modules[i].Name != name {
			continue
		}
		if c.Modules[i].Params == nil {
			c.Modules[i].Params = make(map[string]any)
		}
		setNested(c.Modules[i].Params, strings.Split(key, "."), value)
		return nil
	}
	return fmt.Errorf("module param %q names unconfigured module %q", spec, name)
}

func setNested(m map[string]any, path []string, value string) {
	for len(path) > 1 {
		child, ok := m[path[0]].(map[string]any)
		if !ok {
			child = make(map[string]any)
			m[path[0]] = child
		}
		m = child
		path = path[1:]
	}
	m[path[0]] = value
}

// substitute replaces ${VAR} references in every user-facing string
// field with the environment value.
func substitute(c *Config) {
	for i := range c.Listeners {
		for j := range c.Listeners[i].Hosts {
			h := &c.Listeners[i].Hosts[j]
			h.Cert = substituteEnvVars(h.Cert)
			h.Key = substituteEnvVars(h.Key)
		}
	}
	for i := range c.Modules {
		c.Modules[i].Path = substituteEnvVars(c.Modules[i].Path)
		c.Modules[i].Params = substituteMap(c.Modules[i].Params)
	}
	c.ErrorHandler.Params = substituteMap(c.ErrorHandler.Params)
}

func substituteMap(m map[string]any) map[string]any {
	for k, v := range m {
		m[k] = substituteAny(v)
	}
	return m
}

func substituteAny(v any) any {
	switch t := v.(type) {
	case string:
		return substituteEnvVars(t)
	case map[string]any:
		return substituteMap(t)
	case []any:
		for i := range t {
			t[i] = substituteAny(t[i])
		}
		return t
	default:
		return v
	}
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
