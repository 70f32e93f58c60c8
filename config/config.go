// Package config loads the agentdeck daemon configuration from a YAML or
// TOML file.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/randalmurphal/agentdeck/model"
)

// Permission transports.
const (
	TransportNone = "none"
	TransportFS   = "fs"
	TransportHTTP = "http"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Config is the daemon configuration.
type Config struct {
	Agent      AgentConfig      `yaml:"agent" toml:"agent"`
	Permission PermissionConfig `yaml:"permission" toml:"permission"`
	API        APIConfig        `yaml:"api" toml:"api"`
	Log        LogConfig        `yaml:"log" toml:"log"`

	// Prices overrides per-family token prices. Families not listed keep
	// their defaults.
	Prices model.PriceTable `yaml:"prices" toml:"prices"`
}

// AgentConfig controls how the agent CLI is invoked.
type AgentConfig struct {
	Binary       string            `yaml:"binary" toml:"binary"`
	ExtraArgs    []string          `yaml:"extra_args" toml:"extra_args"`
	Env          map[string]string `yaml:"env" toml:"env"`
	DefaultModel string            `yaml:"default_model" toml:"default_model"`

	PartialMessages bool `yaml:"partial_messages" toml:"partial_messages"`

	// PromptTool and MCPConfig route approvals through an MCP tool.
	PromptTool string `yaml:"prompt_tool" toml:"prompt_tool"`
	MCPConfig  string `yaml:"mcp_config" toml:"mcp_config"`

	StopGrace    time.Duration `yaml:"stop_grace" toml:"stop_grace"`
	RestartDelay time.Duration `yaml:"restart_delay" toml:"restart_delay"`
	StderrLimit  int           `yaml:"stderr_limit" toml:"stderr_limit"`
}

// PermissionConfig selects and configures the permission transport.
type PermissionConfig struct {
	Transport string `yaml:"transport" toml:"transport"`

	// DropBoxDir holds one drop-box directory per session.
	DropBoxDir string        `yaml:"drop_box_dir" toml:"drop_box_dir"`
	Timeout    time.Duration `yaml:"timeout" toml:"timeout"`

	HookListen string `yaml:"hook_listen" toml:"hook_listen"`
	HookPath   string `yaml:"hook_path" toml:"hook_path"`

	// HookURL is what the agent is told to call. Derived from HookListen
	// and HookPath when empty.
	HookURL string `yaml:"hook_url" toml:"hook_url"`
}

// APIConfig configures the UI-facing HTTP surface.
type APIConfig struct {
	Listen         string   `yaml:"listen" toml:"listen"`
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"`
	NotifyBuffer   int      `yaml:"notify_buffer" toml:"notify_buffer"`
	Metrics        bool     `yaml:"metrics" toml:"metrics"`
}

// LogConfig configures the daemon logger.
type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Agent: AgentConfig{
			Binary:          "claude",
			PartialMessages: true,
			StopGrace:       time.Second,
			RestartDelay:    100 * time.Millisecond,
			StderrLimit:     64 * 1024,
		},
		Permission: PermissionConfig{
			Transport:  TransportFS,
			DropBoxDir: filepath.Join(os.TempDir(), "agentdeck", "permissions"),
			Timeout:    60 * time.Second,
			HookListen: "127.0.0.1:7777",
			HookPath:   "/permission",
		},
		API: APIConfig{
			Listen:       "127.0.0.1:7070",
			NotifyBuffer: 256,
			Metrics:      true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// PriceTable returns the defaults overlaid with the configured prices.
func (c Config) PriceTable() model.PriceTable {
	table := model.DefaultPrices()
	for name, p := range c.Prices {
		table[model.ModelName(strings.ToLower(string(name)))] = p
	}
	return table
}

// HookURL returns the URL the agent posts permission requests to.
func (c Config) HookURL() string {
	if c.Permission.HookURL != "" {
		return c.Permission.HookURL
	}
	return "http://" + c.Permission.HookListen + c.Permission.HookPath
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Agent.Binary) == "":
		return fmt.Errorf("%w: agent.binary is required", ErrInvalid)
	case c.Agent.StopGrace <= 0:
		return fmt.Errorf("%w: agent.stop_grace must be positive", ErrInvalid)
	case c.Agent.RestartDelay < 0:
		return fmt.Errorf("%w: agent.restart_delay must not be negative", ErrInvalid)
	case c.Agent.StderrLimit <= 0:
		return fmt.Errorf("%w: agent.stderr_limit must be positive", ErrInvalid)
	}

	switch c.Permission.Transport {
	case "", TransportNone:
	case TransportFS:
		if c.Permission.DropBoxDir == "" {
			return fmt.Errorf("%w: permission.drop_box_dir is required for the fs transport", ErrInvalid)
		}
	case TransportHTTP:
		if c.Permission.HookListen == "" {
			return fmt.Errorf("%w: permission.hook_listen is required for the http transport", ErrInvalid)
		}
		if !strings.HasPrefix(c.Permission.HookPath, "/") {
			return fmt.Errorf("%w: permission.hook_path must start with /", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: permission.transport %q is not one of none, fs, http", ErrInvalid, c.Permission.Transport)
	}
	if c.Permission.Timeout <= 0 {
		return fmt.Errorf("%w: permission.timeout must be positive", ErrInvalid)
	}

	if c.API.Listen == "" {
		return fmt.Errorf("%w: api.listen is required", ErrInvalid)
	}
	if c.API.NotifyBuffer <= 0 {
		return fmt.Errorf("%w: api.notify_buffer must be positive", ErrInvalid)
	}

	for name, p := range c.Prices {
		if p.InputPerMillion < 0 || p.OutputPerMillion < 0 {
			return fmt.Errorf("%w: prices.%s must not be negative", ErrInvalid, name)
		}
	}

	if _, err := parseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level: %v", ErrInvalid, err)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("%w: log.format %q is not one of text, json", ErrInvalid, c.Log.Format)
	}
	return nil
}

// Logger builds the daemon logger writing to w.
func (c Config) Logger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, err
	}
	return level, nil
}
