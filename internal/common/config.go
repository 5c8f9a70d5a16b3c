package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config represents the application configuration
type Config struct {
	Environment  string             `toml:"environment"` // "development" or "production"
	Server       ServerConfig       `toml:"server"`
	Agent        AgentConfig        `toml:"agent"`
	Project      ProjectConfig      `toml:"project"`
	Orchestrator OrchestratorConfig `toml:"orchestrator"`
	Discovery    DiscoveryConfig    `toml:"discovery"`
	Storage      StorageConfig      `toml:"storage"`
	Logging      LoggingConfig      `toml:"logging"`
	WebSocket    WebSocketConfig    `toml:"websocket"`
	Resync       ResyncConfig       `toml:"resync"`
}

type ServerConfig struct {
	Port int    `toml:"port" validate:"gte=0,lte=65535"`
	Host string `toml:"host"`
}

// AgentConfig configures the connection to the remote discovery/mapping agent
type AgentConfig struct {
	BaseURL   string `toml:"base_url" validate:"required,url"`
	APIKey    string `toml:"api_key"`
	RateLimit int    `toml:"rate_limit"` // status-fetch requests per second
	Timeout   string `toml:"timeout"`    // HTTP timeout, e.g. "30s"
}

// ProjectConfig identifies the caller scope jobs are tracked under
type ProjectConfig struct {
	ID string `toml:"id" validate:"required"`
}

// OrchestratorConfig controls the polling protocol timings.
// Durations are strings ("3s") so they read naturally in TOML.
type OrchestratorConfig struct {
	PollInterval       string `toml:"poll_interval"`        // primary status poll, default "3s"
	CancelPollInterval string `toml:"cancel_poll_interval"` // confirm-by-poll after cancel, default "1s"
	CancelTimeout      string `toml:"cancel_timeout"`       // force-finalize window, default "30s"
	PrependResults     bool   `toml:"prepend_results"`      // newest-first merge for the dashboard
}

// DiscoveryConfig is the crawl configuration forwarded to the agent
// when discovery jobs start
type DiscoveryConfig struct {
	MaxDepth      int  `toml:"max_depth"`
	MaxPages      int  `toml:"max_pages"`
	IncludeHidden bool `toml:"include_hidden"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05.000")
}

// WebSocketConfig controls the dashboard event feed
type WebSocketConfig struct {
	ProgressThrottle string   `toml:"progress_throttle"` // min interval between job_progress broadcasts, e.g. "500ms"
	AllowedEvents    []string `toml:"allowed_events"`    // whitelist of events to broadcast (empty = allow all)
}

// ResyncConfig controls the scheduled active-jobs reconciliation
type ResyncConfig struct {
	Enabled  bool   `toml:"enabled"`
	Schedule string `toml:"schedule"` // cron expression, e.g. "@every 5m"
}

// DefaultConfig returns a config populated with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8181,
			Host: "localhost",
		},
		Agent: AgentConfig{
			BaseURL:   "http://localhost:9090",
			RateLimit: 10,
			Timeout:   "30s",
		},
		Project: ProjectConfig{
			ID: "default",
		},
		Orchestrator: OrchestratorConfig{
			PollInterval:       "3s",
			CancelPollInterval: "1s",
			CancelTimeout:      "30s",
		},
		Discovery: DiscoveryConfig{
			MaxDepth: 3,
			MaxPages: 200,
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data/reperio",
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout"},
			TimeFormat: "15:04:05.000",
		},
		WebSocket: WebSocketConfig{
			ProgressThrottle: "500ms",
		},
		Resync: ResyncConfig{
			Enabled:  true,
			Schedule: "@every 5m",
		},
	}
}

// LoadFromFiles loads configuration with precedence:
// defaults -> file1 -> file2 -> ... -> environment variables.
// Later files override earlier ones.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := DefaultConfig()

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies REPERIO_* environment variable overrides
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("REPERIO_AGENT_URL"); v != "" {
		config.Agent.BaseURL = v
	}
	if v := os.Getenv("REPERIO_AGENT_API_KEY"); v != "" {
		config.Agent.APIKey = v
	}
	if v := os.Getenv("REPERIO_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			config.Server.Port = port
		}
	}
	if v := os.Getenv("REPERIO_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("REPERIO_PROJECT"); v != "" {
		config.Project.ID = v
	}
}

// ApplyFlagOverrides applies command-line flag overrides (highest priority)
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port != 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks field constraints, duration strings and the resync schedule
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	for name, value := range map[string]string{
		"agent.timeout":                     c.Agent.Timeout,
		"orchestrator.poll_interval":        c.Orchestrator.PollInterval,
		"orchestrator.cancel_poll_interval": c.Orchestrator.CancelPollInterval,
		"orchestrator.cancel_timeout":       c.Orchestrator.CancelTimeout,
		"websocket.progress_throttle":       c.WebSocket.ProgressThrottle,
	} {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid duration for %s: %q", name, value)
		}
	}

	if c.Resync.Enabled {
		if _, err := cron.ParseStandard(c.Resync.Schedule); err != nil {
			return fmt.Errorf("invalid resync schedule %q: %w", c.Resync.Schedule, err)
		}
	}

	return nil
}

// AgentTimeout returns the parsed agent HTTP timeout
func (c *Config) AgentTimeout() time.Duration {
	return mustDuration(c.Agent.Timeout, 30*time.Second)
}

// PollInterval returns the parsed primary poll interval
func (c *Config) PollInterval() time.Duration {
	return mustDuration(c.Orchestrator.PollInterval, 3*time.Second)
}

// CancelPollInterval returns the parsed cancel confirm-poll interval
func (c *Config) CancelPollInterval() time.Duration {
	return mustDuration(c.Orchestrator.CancelPollInterval, time.Second)
}

// CancelTimeout returns the parsed cancel fallback window
func (c *Config) CancelTimeout() time.Duration {
	return mustDuration(c.Orchestrator.CancelTimeout, 30*time.Second)
}

// ProgressThrottle returns the parsed websocket progress throttle interval
func (c *Config) ProgressThrottle() time.Duration {
	return c.WebSocket.ProgressThrottleDuration()
}

// ProgressThrottleDuration returns the parsed throttle interval
func (c *WebSocketConfig) ProgressThrottleDuration() time.Duration {
	return mustDuration(c.ProgressThrottle, 500*time.Millisecond)
}

func mustDuration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
