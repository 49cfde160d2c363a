// Package config provides YAML-based configuration loading for dgrelay.
package config

import (
    "errors"
    "fmt"
    "os"
    "path/filepath"
    "strings"
    "time"

    "github.com/spf13/viper"

    "github.com/KrzysztofNawara/sysopy/pkg/protocol"
)

// Config is the root application configuration.
type Config struct {
    // AppName optional logical name used in startup logs
    AppName string `mapstructure:"app_name"`

    // Log holds logging configuration
    Log LogConfig `mapstructure:"log"`

    // Relay tunes the relay loop and start-up argument validation
    Relay RelayConfig `mapstructure:"relay"`

    // Metrics controls prometheus exposition
    Metrics MetricsConfig `mapstructure:"metrics"`
}

// LogConfig defines logger settings.
type LogConfig struct {
    // Level: debug, info, warn, error
    Level string `mapstructure:"level"`
    // Format: console or json
    Format string `mapstructure:"format"`
    // Outputs: list of outputs: stdout, stderr, or file paths
    Outputs []string `mapstructure:"outputs"`

    // Rotation controls file rotation when writing to files
    Rotation RotationConfig `mapstructure:"rotation"`
    // Development toggles development-friendly logging options
    Development bool `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
    Enable     bool   `mapstructure:"enable"`
    Filename   string `mapstructure:"filename"`
    MaxSizeMB  int    `mapstructure:"max_size_mb"`
    MaxBackups int    `mapstructure:"max_backups"`
    MaxAgeDays int    `mapstructure:"max_age_days"`
    Compress   bool   `mapstructure:"compress"`
}

// RelayConfig holds relay loop timing and the accepted UDP port range.
type RelayConfig struct {
    // PollIntervalMS bounds each readiness wait; an idle wait just loops
    PollIntervalMS int `mapstructure:"poll_interval_ms"`
    // LivenessTimeoutMS is how long a silent peer stays eligible for fan-out
    LivenessTimeoutMS int `mapstructure:"liveness_timeout_ms"`
    // BufferSize is the receive buffer; must hold a full frame
    BufferSize int `mapstructure:"buffer_size"`
    MinPort    int `mapstructure:"min_port"`
    MaxPort    int `mapstructure:"max_port"`
}

// MetricsConfig controls the optional /metrics endpoint.
type MetricsConfig struct {
    // Listen address for promhttp, empty disables the endpoint
    Listen    string `mapstructure:"listen"`
    Namespace string `mapstructure:"namespace"`
}

func (r RelayConfig) PollInterval() time.Duration {
    return time.Duration(r.PollIntervalMS) * time.Millisecond
}

func (r RelayConfig) LivenessTimeout() time.Duration {
    return time.Duration(r.LivenessTimeoutMS) * time.Millisecond
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
    return &Config{
        AppName: "dgrelay",
        Log: LogConfig{
            Level:       "info",
            Format:      "console",
            Outputs:     []string{"stdout"},
            Development: true,
            Rotation: RotationConfig{
                Enable:     false,
                Filename:   "logs/dgrelay.log",
                MaxSizeMB:  50,
                MaxBackups: 3,
                MaxAgeDays: 28,
                Compress:   true,
            },
        },
        Relay: RelayConfig{
            PollIntervalMS:    2500,
            LivenessTimeoutMS: 10000,
            BufferSize:        64 * 1024,
            MinPort:           1024,
            MaxPort:           65535,
        },
        Metrics: MetricsConfig{Namespace: "dgrelay"},
    }
}

// Load reads configuration from the provided path (if non-empty),
// otherwise it searches common locations and supports environment overrides.
// Environment variables use the prefix DGRELAY and `.`/`-` are replaced with `_`.
// Example: DGRELAY_RELAY_LIVENESS_TIMEOUT_MS=30000
func Load(path string) (*Config, error) {
    cfg := Default()

    v := viper.New()
    v.SetConfigType("yaml")
    v.SetEnvPrefix("DGRELAY")
    v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
    v.AutomaticEnv()

    // seed defaults for viper so env-only configs work
    v.SetDefault("app_name", cfg.AppName)
    v.SetDefault("log.level", cfg.Log.Level)
    v.SetDefault("log.format", cfg.Log.Format)
    v.SetDefault("log.outputs", cfg.Log.Outputs)
    v.SetDefault("log.development", cfg.Log.Development)
    v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
    v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
    v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
    v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
    v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
    v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
    // Relay defaults
    v.SetDefault("relay.poll_interval_ms", cfg.Relay.PollIntervalMS)
    v.SetDefault("relay.liveness_timeout_ms", cfg.Relay.LivenessTimeoutMS)
    v.SetDefault("relay.buffer_size", cfg.Relay.BufferSize)
    v.SetDefault("relay.min_port", cfg.Relay.MinPort)
    v.SetDefault("relay.max_port", cfg.Relay.MaxPort)
    // Metrics defaults
    v.SetDefault("metrics.listen", cfg.Metrics.Listen)
    v.SetDefault("metrics.namespace", cfg.Metrics.Namespace)

    // Choose config file
    if path == "" {
        // Allow override via env var
        if envPath := os.Getenv("DGRELAY_CONFIG"); envPath != "" {
            path = envPath
        }
    }

    if path != "" {
        v.SetConfigFile(path)
    } else {
        // Search common locations with base name `dgrelay`
        v.SetConfigName("dgrelay")
        v.AddConfigPath(".")
        v.AddConfigPath("./configs")
        if home, err := os.UserHomeDir(); err == nil {
            v.AddConfigPath(filepath.Join(home, ".dgrelay"))
        }
    }

    // Read config file if present; if not found, continue with defaults/env
    if err := v.ReadInConfig(); err != nil {
        var viperConfigFileNotFound viper.ConfigFileNotFoundError
        if !errors.As(err, &viperConfigFileNotFound) {
            return nil, fmt.Errorf("read config: %w", err)
        }
    }

    if err := v.Unmarshal(&cfg); err != nil {
        return nil, fmt.Errorf("decode config: %w", err)
    }

    if err := cfg.validate(); err != nil {
        return nil, err
    }
    return cfg, nil
}

func (c *Config) validate() error {
    lvl := strings.ToLower(strings.TrimSpace(c.Log.Level))
    switch lvl {
    case "debug", "info", "warn", "warning", "error":
        // ok
    default:
        return fmt.Errorf("invalid log.level: %q", c.Log.Level)
    }

    if c.Log.Format == "" {
        c.Log.Format = "console"
    }
    if len(c.Log.Outputs) == 0 {
        c.Log.Outputs = []string{"stdout"}
    }

    if c.Relay.PollIntervalMS <= 0 {
        return fmt.Errorf("invalid relay.poll_interval_ms: %d", c.Relay.PollIntervalMS)
    }
    if c.Relay.LivenessTimeoutMS <= 0 {
        return fmt.Errorf("invalid relay.liveness_timeout_ms: %d", c.Relay.LivenessTimeoutMS)
    }
    if c.Relay.BufferSize < protocol.FrameSize {
        return fmt.Errorf("relay.buffer_size %d smaller than a frame (%d)", c.Relay.BufferSize, protocol.FrameSize)
    }
    if c.Relay.MinPort < 1 || c.Relay.MaxPort > 65535 || c.Relay.MinPort > c.Relay.MaxPort {
        return fmt.Errorf("invalid relay port range [%d, %d]", c.Relay.MinPort, c.Relay.MaxPort)
    }
    if strings.TrimSpace(c.Metrics.Namespace) == "" {
        c.Metrics.Namespace = "dgrelay"
    }
    return nil
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
    cfg, err := Load(path)
    if err != nil {
        panic(err)
    }
    return cfg
}
