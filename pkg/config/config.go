package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ilumeobrasil/desk-research/pkg/types"
)

// Duration is a time.Duration that parses YAML strings like "5m" or "90s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("parse duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("parse duration: %w", err)
	}
	*d = Duration(time.Duration(n) * time.Second)
	return nil
}

// Std converts to the standard library type.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// GCPConfig selects the Google Cloud collaborators. Both are optional; the
// engine falls back to local persistence and log-only progress.
type GCPConfig struct {
	Project       string `yaml:"project"`
	UseFirestore  bool   `yaml:"use_firestore"`
	ProgressTopic string `yaml:"progress_topic"`
}

// SourcesConfig configures the HTTP sources behind the research modules.
type SourcesConfig struct {
	APIKey    string            `yaml:"api_key"`
	Endpoints map[string]string `yaml:"endpoints"`
}

// Config is the file-backed configuration of the desk-research CLI.
type Config struct {
	Topic         string         `yaml:"topic"`
	Modules       []string       `yaml:"modules"`
	Params        map[string]any `yaml:"params"`
	OutputDir     string         `yaml:"output_dir"`
	StateDir      string         `yaml:"state_dir"`
	ModuleTimeout Duration       `yaml:"module_timeout"`
	FailClosed    bool           `yaml:"fail_closed"`
	GCP           GCPConfig      `yaml:"gcp"`
	Sources       SourcesConfig  `yaml:"sources"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		OutputDir:     "reports",
		StateDir:      ".desk-research/runs",
		ModuleTimeout: Duration(10 * time.Minute),
	}
}

// Load reads a YAML config file and applies environment overrides. An empty
// path yields the defaults with overrides applied.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

// applyEnv lets deployment environments override file values without
// editing the file. Credentials in particular never belong in the file.
func (c *Config) applyEnv() {
	if v := os.Getenv("DESK_RESEARCH_API_KEY"); v != "" {
		c.Sources.APIKey = v
	}
	if v := os.Getenv("GOOGLE_CLOUD_PROJECT"); v != "" {
		c.GCP.Project = v
	}
	if v := os.Getenv("DESK_RESEARCH_OUTPUT_DIR"); v != "" {
		c.OutputDir = v
	}
	if v := os.Getenv("DESK_RESEARCH_STATE_DIR"); v != "" {
		c.StateDir = v
	}
}

// SelectedModules converts the configured module names.
func (c *Config) SelectedModules() []types.ModuleID {
	ids := make([]types.ModuleID, 0, len(c.Modules))
	for _, m := range c.Modules {
		ids = append(ids, types.ModuleID(m))
	}
	return ids
}

// Endpoints converts the configured source endpoints.
func (c *Config) Endpoints() map[types.ModuleID]string {
	out := make(map[types.ModuleID]string, len(c.Sources.Endpoints))
	for k, v := range c.Sources.Endpoints {
		out[types.ModuleID(k)] = v
	}
	return out
}
