// Package config resolves the console configuration.
//
// Precedence, lowest first: built-in defaults, the YAML config file, a .env
// file, RAGCONSOLE_* environment variables. Command-line flags are applied on
// top by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultBackendURL = "http://127.0.0.1:8080"
	envPrefix         = "RAGCONSOLE_"
)

// Timings groups every debounce delay, poll interval and budget used by the
// session orchestration and config auto-apply.
type Timings struct {
	LoadDebounce        time.Duration `yaml:"load_debounce"`
	SummaryPollInterval time.Duration `yaml:"summary_poll_interval"`
	SummaryBudget       time.Duration `yaml:"summary_budget"`
	StageTick           time.Duration `yaml:"stage_tick"`
	JobPollInterval     time.Duration `yaml:"job_poll_interval"`
	StabilizeDelay      time.Duration `yaml:"stabilize_delay"`
	ConfigDebounce      time.Duration `yaml:"config_debounce"`
}

// DefaultTimings returns the production cadence.
func DefaultTimings() Timings {
	return Timings{
		LoadDebounce:        350 * time.Millisecond,
		SummaryPollInterval: 1500 * time.Millisecond,
		SummaryBudget:       60 * time.Second,
		StageTick:           900 * time.Millisecond,
		JobPollInterval:     700 * time.Millisecond,
		StabilizeDelay:      300 * time.Millisecond,
		ConfigDebounce:      450 * time.Millisecond,
	}
}

type Config struct {
	BackendURL      string        `yaml:"backend_url"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	InitialSessions int           `yaml:"initial_sessions"`
	LogFile         string        `yaml:"log_file"`
	LogLevel        string        `yaml:"log_level"`
	AltScreen       bool          `yaml:"alt_screen"`
	EnvFile         string        `yaml:"env_file"`
	Timings         Timings       `yaml:"timings"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		BackendURL:      defaultBackendURL,
		RequestTimeout:  60 * time.Second,
		InitialSessions: 1,
		LogFile:         defaultLogFile(),
		LogLevel:        "info",
		AltScreen:       true,
		EnvFile:         ".env",
		Timings:         DefaultTimings(),
	}
}

// DefaultPath is the config file consulted when no explicit path is given.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "ragconsole", "config.yaml")
}

func defaultLogFile() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "ragconsole", "ragconsole.log")
}

// Load builds a Config from defaults, the YAML file at path (DefaultPath when
// empty; a missing default file is not an error), the .env file and the
// environment.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path = DefaultPath()
	}
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			if explicit || !errors.Is(err, os.ErrNotExist) {
				return Config{}, err
			}
		}
	}

	envFile := envOr(envPrefix+"ENV_FILE", cfg.EnvFile)
	if envFile != "" {
		// A missing .env file is the common case.
		_ = godotenv.Load(envFile)
	}
	cfg.ApplyEnv()
	return cfg.Normalize(), nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays RAGCONSOLE_* environment variables.
func (c *Config) ApplyEnv() {
	c.BackendURL = envOr(envPrefix+"BACKEND_URL", c.BackendURL)
	c.RequestTimeout = envOrDuration(envPrefix+"REQUEST_TIMEOUT", c.RequestTimeout)
	c.InitialSessions = envOrInt(envPrefix+"SESSIONS", c.InitialSessions)
	c.LogFile = envOr(envPrefix+"LOG_FILE", c.LogFile)
	c.LogLevel = envOr(envPrefix+"LOG_LEVEL", c.LogLevel)
	c.AltScreen = envOrBool(envPrefix+"ALT_SCREEN", c.AltScreen)

	t := &c.Timings
	t.LoadDebounce = envOrDuration(envPrefix+"LOAD_DEBOUNCE", t.LoadDebounce)
	t.SummaryPollInterval = envOrDuration(envPrefix+"SUMMARY_POLL_INTERVAL", t.SummaryPollInterval)
	t.SummaryBudget = envOrDuration(envPrefix+"SUMMARY_BUDGET", t.SummaryBudget)
	t.StageTick = envOrDuration(envPrefix+"STAGE_TICK", t.StageTick)
	t.JobPollInterval = envOrDuration(envPrefix+"JOB_POLL_INTERVAL", t.JobPollInterval)
	t.StabilizeDelay = envOrDuration(envPrefix+"STABILIZE_DELAY", t.StabilizeDelay)
	t.ConfigDebounce = envOrDuration(envPrefix+"CONFIG_DEBOUNCE", t.ConfigDebounce)
}

// Normalize clamps out-of-range values back to usable ones.
func (c Config) Normalize() Config {
	c.BackendURL = strings.TrimRight(strings.TrimSpace(c.BackendURL), "/")
	if c.BackendURL == "" {
		c.BackendURL = defaultBackendURL
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 60 * time.Second
	}
	c.InitialSessions = clampInt(c.InitialSessions, 1, 8)
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))

	def := DefaultTimings()
	t := &c.Timings
	t.LoadDebounce = positiveOr(t.LoadDebounce, def.LoadDebounce)
	t.SummaryPollInterval = positiveOr(t.SummaryPollInterval, def.SummaryPollInterval)
	t.SummaryBudget = positiveOr(t.SummaryBudget, def.SummaryBudget)
	t.StageTick = positiveOr(t.StageTick, def.StageTick)
	t.JobPollInterval = positiveOr(t.JobPollInterval, def.JobPollInterval)
	t.StabilizeDelay = positiveOr(t.StabilizeDelay, def.StabilizeDelay)
	t.ConfigDebounce = positiveOr(t.ConfigDebounce, def.ConfigDebounce)
	return c
}

func envOr(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if value == "" {
		return fallback
	}
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// envOrDuration accepts Go durations ("350ms") or bare milliseconds ("350").
func envOrDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func positiveOr(value, fallback time.Duration) time.Duration {
	if value <= 0 {
		return fallback
	}
	return value
}

func clampInt(value, min, max int) int {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
