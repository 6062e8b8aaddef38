// Package common provides shared utilities for sumqueue: logging,
// configuration, and build metadata.
package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for the sumqueue worker process.
type Config struct {
	Environment string          `toml:"environment"`
	Server      ServerConfig    `toml:"server"`
	Store       StoreConfig     `toml:"store"`
	Providers   ProvidersConfig `toml:"providers"`
	Worker      WorkerConfig    `toml:"worker"`
	Callback    CallbackConfig  `toml:"callback"`
	Logging     LoggingConfig   `toml:"logging"`
}

// ServerConfig holds the non-normative ingress/health HTTP listener.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// StoreConfig holds the SQLite store location and engine pragmas.
type StoreConfig struct {
	Path          string `toml:"path"`
	BusyTimeoutMS int    `toml:"busy_timeout_ms"`
}

// ProviderConfig configures one AI provider account.
type ProviderConfig struct {
	Name       string                `toml:"name"`
	Credential string                `toml:"credential"`
	BaseURL    string                `toml:"base_url"`
	Priority   int                   `toml:"priority"`
	Enabled    bool                  `toml:"enabled"`
	Models     map[string]ModelLimit `toml:"models"`
}

// ModelLimit overrides the default per-minute/per-day quota for one model.
type ModelLimit struct {
	PerMinute int `toml:"per_minute"`
	PerDay    int `toml:"per_day"`
}

// ProvidersConfig is the seed list for the Registry.
type ProvidersConfig struct {
	Primary   ProviderConfig `toml:"primary"`
	Secondary ProviderConfig `toml:"secondary"`
}

// WorkerConfig tunes the worker runtime (spec §4.5, §5).
type WorkerConfig struct {
	Concurrency     int `toml:"concurrency"`
	PollIntervalMS  int `toml:"poll_interval_ms"`
	StaleTimeoutMin int `toml:"stale_timeout_min"`
	HousekeepingMin int `toml:"housekeeping_min"`
}

// CallbackConfig configures the authenticated egress call (spec §6).
type CallbackConfig struct {
	URL            string `toml:"url"`
	InternalSecret string `toml:"internal_secret"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// GetPollInterval parses the configured poll interval, defaulting to 1s.
func (c *WorkerConfig) GetPollInterval() time.Duration {
	if c.PollIntervalMS <= 0 {
		return time.Second
	}
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// GetStaleTimeout parses the configured stale-claim timeout, defaulting to 10m.
func (c *WorkerConfig) GetStaleTimeout() time.Duration {
	if c.StaleTimeoutMin <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.StaleTimeoutMin) * time.Minute
}

// GetHousekeepingInterval parses the housekeeping timer period, defaulting to 5m.
func (c *WorkerConfig) GetHousekeepingInterval() time.Duration {
	if c.HousekeepingMin <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.HousekeepingMin) * time.Minute
}

// GetConcurrency returns the per-worker task concurrency, defaulting to 1.
func (c *WorkerConfig) GetConcurrency() int {
	if c.Concurrency <= 0 {
		return 1
	}
	return c.Concurrency
}

// GetTimeout returns the callback HTTP timeout, defaulting to 10s.
func (c *CallbackConfig) GetTimeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// GetBusyTimeout returns the SQLite busy-timeout, defaulting to 5s.
func (c *StoreConfig) GetBusyTimeout() time.Duration {
	if c.BusyTimeoutMS <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.BusyTimeoutMS) * time.Millisecond
}

// NewDefaultConfig returns a Config with sensible defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8090,
		},
		Store: StoreConfig{
			Path:          "data/sumqueue.db",
			BusyTimeoutMS: 5000,
		},
		Worker: WorkerConfig{
			Concurrency:     1,
			PollIntervalMS:  1000,
			StaleTimeoutMin: 10,
			HousekeepingMin: 5,
		},
		Callback: CallbackConfig{
			TimeoutSeconds: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadConfig loads configuration from TOML files with environment overrides.
// Later paths override earlier ones; missing files are skipped.
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)
	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config,
// per spec §6's Configuration table.
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("SUMQUEUE_ENV"); env != "" {
		config.Environment = env
	}
	if host := os.Getenv("SUMQUEUE_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SUMQUEUE_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if path := os.Getenv("SUMQUEUE_STORE_PATH"); path != "" {
		config.Store.Path = path
	}
	if level := os.Getenv("SUMQUEUE_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	applyProviderEnvOverrides(&config.Providers.Primary, "PRIMARY_PROVIDER")
	applyProviderEnvOverrides(&config.Providers.Secondary, "SECONDARY_PROVIDER")
	applyModelConfigOverrides(config)

	if v := os.Getenv("INTERNAL_SECRET"); v != "" {
		config.Callback.InternalSecret = v
	}
	if v := os.Getenv("CALLBACK_URL"); v != "" {
		config.Callback.URL = v
	}
	if v := os.Getenv("WORKER_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Worker.Concurrency = n
		}
	}
	if v := os.Getenv("POLL_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Worker.PollIntervalMS = n
		}
	}
	if v := os.Getenv("STALE_TIMEOUT_MIN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Worker.StaleTimeoutMin = n
		}
	}
}

// applyProviderEnvOverrides reads "<PREFIX>_NAME"/"_CREDENTIAL"/"_PRIORITY" for one provider slot.
func applyProviderEnvOverrides(p *ProviderConfig, prefix string) {
	if v := os.Getenv(prefix + "_NAME"); v != "" {
		p.Name = v
	}
	if v := os.Getenv(prefix + "_CREDENTIAL"); v != "" {
		p.Credential = v
	}
	if v := os.Getenv(prefix + "_BASE_URL"); v != "" {
		p.BaseURL = v
	}
	if v := os.Getenv(prefix + "_PRIORITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			p.Priority = n
		}
	}
	if v := os.Getenv("PROVIDER_ENABLED_" + strings.ToUpper(p.Name)); v != "" {
		p.Enabled = strings.EqualFold(v, "true")
	}
}

// applyModelConfigOverrides scans MODEL_CONFIG_<PROVIDER>_<MODEL>=minute,day
// and applies per-model limit overrides to whichever configured provider matches.
func applyModelConfigOverrides(config *Config) {
	const prefix = "MODEL_CONFIG_"
	for _, kv := range os.Environ() {
		if !strings.HasPrefix(kv, prefix) {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq < 0 {
			continue
		}
		key, val := kv[:eq], kv[eq+1:]
		rest := strings.TrimPrefix(key, prefix)
		parts := strings.SplitN(rest, "_", 2)
		if len(parts) != 2 {
			continue
		}
		providerName, modelName := parts[0], parts[1]
		minute, day, ok := parseLimitPair(val)
		if !ok {
			continue
		}
		for _, p := range []*ProviderConfig{&config.Providers.Primary, &config.Providers.Secondary} {
			if !strings.EqualFold(p.Name, providerName) {
				continue
			}
			if p.Models == nil {
				p.Models = make(map[string]ModelLimit)
			}
			p.Models[modelName] = ModelLimit{PerMinute: minute, PerDay: day}
		}
	}
}

func parseLimitPair(v string) (minute, day int, ok bool) {
	parts := strings.SplitN(v, ",", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	m, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	d, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return m, d, true
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// ValidateRequired returns the names of required fields that are missing or
// left at an insecure default. A non-empty result is a fatal misconfiguration.
func (c *Config) ValidateRequired() []string {
	var missing []string
	if c.Providers.Primary.Credential == "" && c.Providers.Secondary.Credential == "" {
		missing = append(missing, "providers.primary.credential or providers.secondary.credential")
	}
	if c.Callback.InternalSecret == "" || c.Callback.InternalSecret == "dev-secret-change-in-production" {
		missing = append(missing, "callback.internal_secret")
	}
	return missing
}
