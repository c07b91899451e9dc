package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	projectConfigName = ".otlp-waterfall.yaml"
	appName           = "otlp-waterfall"
)

// Config holds the runtime configuration for serve and render.
// It can be populated from CLI flags, config files, or both. Files are YAML;
// JSON parses too since it is a YAML subset.
type Config struct {
	// Comment field for user documentation (ignored by the application)
	Comment string `yaml:"comment,omitempty"`

	TraceBufferSize int `yaml:"trace_buffer_size,omitempty"`

	// OTLP receiver
	OTLPHost string `yaml:"otlp_host,omitempty"`
	OTLPPort int    `yaml:"otlp_port,omitempty"`

	// MCP transport
	Transport      string   `yaml:"transport,omitempty"` // "stdio" (default), "http" or "none"
	HTTPHost       string   `yaml:"http_host,omitempty"`
	HTTPPort       int      `yaml:"http_port,omitempty"`
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"` // Origin patterns accepted on /mcp
	Stateless      bool     `yaml:"stateless,omitempty"`

	// Web API; port 0 shares the HTTP transport's listener
	WebUIHost string `yaml:"webui_host,omitempty"`
	WebUIPort int    `yaml:"webui_port,omitempty"`

	// Directories followed for OTLP JSONL trace files
	WatchDirs  []string `yaml:"watch_dirs,omitempty"`
	OtelConfig string   `yaml:"otel_config,omitempty"` // Collector config whose file exporters add watch dirs

	// render defaults
	Width int `yaml:"width,omitempty"`

	Verbose bool `yaml:"verbose,omitempty"`
}

// DefaultConfig returns a Config with default values: a 10,000 span buffer,
// the receiver on an ephemeral localhost port and MCP on stdio.
func DefaultConfig() *Config {
	return &Config{
		TraceBufferSize: 10_000,
		OTLPHost:        "127.0.0.1",
		OTLPPort:        0, // 0 means ephemeral port assignment
		Transport:       "stdio",
		HTTPHost:        "127.0.0.1",
		HTTPPort:        4380,
		AllowedOrigins:  []string{"http://localhost:*", "http://127.0.0.1:*"},
		WebUIHost:       "127.0.0.1",
		WebUIPort:       0,
		Width:           100,
	}
}

// LoadConfigFromFile loads configuration from a YAML (or JSON) file.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return &config, nil
}

// FindProjectConfig searches for .otlp-waterfall.yaml from the working
// directory upwards, stopping at the git root or the filesystem root.
func FindProjectConfig() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}
	return findProjectConfigFrom(dir)
}

func findProjectConfigFrom(dir string) (string, error) {
	for {
		configPath := filepath.Join(dir, projectConfigName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath, nil
		}

		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			break
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", os.ErrNotExist
}

// GlobalConfigPath returns ~/.config/otlp-waterfall/config.yaml.
func GlobalConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", appName, "config.yaml")
}

// MergeConfigs returns base with every set field of overlay applied.
func MergeConfigs(base, overlay *Config) *Config {
	if base == nil {
		base = &Config{}
	}
	if overlay == nil {
		return base
	}

	merged := *base

	if overlay.TraceBufferSize > 0 {
		merged.TraceBufferSize = overlay.TraceBufferSize
	}
	if overlay.OTLPHost != "" {
		merged.OTLPHost = overlay.OTLPHost
	}
	if overlay.OTLPPort != 0 {
		merged.OTLPPort = overlay.OTLPPort
	}

	if overlay.Transport != "" {
		merged.Transport = overlay.Transport
	}
	if overlay.HTTPHost != "" {
		merged.HTTPHost = overlay.HTTPHost
	}
	if overlay.HTTPPort > 0 {
		merged.HTTPPort = overlay.HTTPPort
	}
	if len(overlay.AllowedOrigins) > 0 {
		merged.AllowedOrigins = overlay.AllowedOrigins
	}
	if overlay.Stateless {
		merged.Stateless = true
	}

	if overlay.WebUIHost != "" {
		merged.WebUIHost = overlay.WebUIHost
	}
	if overlay.WebUIPort > 0 {
		merged.WebUIPort = overlay.WebUIPort
	}

	// Watch directories accumulate across layers.
	if len(overlay.WatchDirs) > 0 {
		merged.WatchDirs = append(append([]string(nil), base.WatchDirs...), overlay.WatchDirs...)
	}
	if overlay.OtelConfig != "" {
		merged.OtelConfig = overlay.OtelConfig
	}

	if overlay.Width > 0 {
		merged.Width = overlay.Width
	}
	if overlay.Verbose {
		merged.Verbose = true
	}

	return &merged
}

// LoadEffectiveConfig merges, in order: built-in defaults, the global
// config, then either the project config or the explicit configPath.
// Later sources override earlier ones.
func LoadEffectiveConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	// The global config is optional; an unreadable one is ignored.
	if globalPath := GlobalConfigPath(); globalPath != "" {
		if globalCfg, err := LoadConfigFromFile(globalPath); err == nil {
			config = MergeConfigs(config, globalCfg)
		}
	}

	if configPath == "" {
		if projectPath, err := FindProjectConfig(); err == nil {
			projectCfg, err := LoadConfigFromFile(projectPath)
			if err != nil {
				return nil, fmt.Errorf("failed to load project config: %w", err)
			}
			config = MergeConfigs(config, projectCfg)
		}
	} else {
		explicitCfg, err := LoadConfigFromFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
		config = MergeConfigs(config, explicitCfg)
	}

	return config, nil
}
