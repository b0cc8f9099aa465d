package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const fileName = "config.yaml"

type Config struct {
	Listen           []string         `yaml:"listen"`
	DefaultDashboard string           `yaml:"default_dashboard"`
	LogLevel         string           `yaml:"log_level"`
	DataDir          string           `yaml:"data_dir"`
	Stream           StreamConfig     `yaml:"stream"`
	History          HistoryConfig    `yaml:"history"`
	Supervisor       SupervisorConfig `yaml:"supervisor"`
}

type StreamConfig struct {
	MaxConnections    int           `yaml:"max_connections"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	ReplayHistory     bool          `yaml:"replay_history"`
}

type HistoryConfig struct {
	MaxEntries int `yaml:"max_entries"`
}

type SupervisorConfig struct {
	MaxRestarts  int           `yaml:"max_restarts"`
	RestartDelay time.Duration `yaml:"restart_delay"`
}

func DefaultConfig() Config {
	return Config{
		Listen:           []string{"http://localhost:1234/"},
		DefaultDashboard: "sample",
		LogLevel:         "info",
		Stream: StreamConfig{
			MaxConnections:    1000,
			HeartbeatInterval: 15 * time.Second,
			IdleTimeout:       2 * time.Minute,
			WriteTimeout:      10 * time.Second,
		},
		History: HistoryConfig{
			MaxEntries: 1000,
		},
		Supervisor: SupervisorConfig{
			MaxRestarts:  5,
			RestartDelay: time.Second,
		},
	}
}

// Load reads config.yaml from configDir, or from the default location when
// configDir is empty.
func Load(configDir string) (Config, error) {
	return LoadFrom(Path(configDir))
}

// LoadFrom reads the config file at configPath. A missing file yields the defaults.
func LoadFrom(configPath string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return DefaultConfig(), fmt.Errorf("parse %s: %w", configPath, err)
	}

	if cfg.DefaultDashboard == "" {
		cfg.DefaultDashboard = "sample"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	if err := cfg.Validate(); err != nil {
		return DefaultConfig(), fmt.Errorf("invalid config %s: %w", configPath, err)
	}
	return cfg, nil
}

// Validate reports every invalid field.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Listen) == 0 {
		errs = append(errs, errors.New("listen: at least one base URL is required"))
	}
	for _, raw := range c.Listen {
		u, err := url.Parse(raw)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("listen: %w", err))
		case u.Scheme != "http":
			errs = append(errs, fmt.Errorf("listen: %q: scheme must be http", raw))
		case u.Host == "":
			errs = append(errs, fmt.Errorf("listen: %q: missing host", raw))
		}
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level: unknown level %q", c.LogLevel))
	}

	if c.Stream.MaxConnections < 0 {
		errs = append(errs, errors.New("stream.max_connections: must not be negative"))
	}
	if c.Stream.HeartbeatInterval < 0 || c.Stream.IdleTimeout < 0 || c.Stream.WriteTimeout < 0 {
		errs = append(errs, errors.New("stream: durations must not be negative"))
	}
	if c.History.MaxEntries < 0 {
		errs = append(errs, errors.New("history.max_entries: must not be negative"))
	}
	if c.Supervisor.MaxRestarts < 0 || c.Supervisor.RestartDelay < 0 {
		errs = append(errs, errors.New("supervisor: values must not be negative"))
	}

	return errors.Join(errs...)
}

// SweepInterval is how often the bus checks subscribers: the heartbeat
// interval, or half the idle timeout when heartbeats are off. Zero disables sweeping.
func (c *Config) SweepInterval() time.Duration {
	if c.Stream.HeartbeatInterval > 0 {
		return c.Stream.HeartbeatInterval
	}
	return c.Stream.IdleTimeout / 2
}

// Path returns the config file path inside configDir, or the default path
// when configDir is empty.
func Path(configDir string) string {
	if configDir != "" {
		return filepath.Join(configDir, fileName)
	}
	return getConfigPath()
}

func getConfigPath() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "dashing", fileName)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "dashing", fileName)
	}

	return filepath.Join(home, ".config", "dashing", fileName)
}
