// Package appconfig manages application configuration and runtime file paths.
package appconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/treykane/port-console/internal/util"
)

// EnvPrefix prefixes environment overrides, e.g. PORTCONSOLE_API_TOKEN.
const EnvPrefix = "PORTCONSOLE"

// APIConfig describes how to reach the forwarding API.
type APIConfig struct {
	URL            string  `yaml:"url" mapstructure:"url"`
	Token          string  `yaml:"token" mapstructure:"token"`
	TimeoutSeconds int     `yaml:"timeout_seconds" mapstructure:"timeout_seconds"`
	RateLimit      float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	Burst          int     `yaml:"burst" mapstructure:"burst"`
}

// UIConfig contains TUI display settings.
type UIConfig struct {
	RefreshSeconds int  `yaml:"refresh_seconds" mapstructure:"refresh_seconds"`
	RecentFirst    bool `yaml:"recent_first" mapstructure:"recent_first"`
}

type CacheConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

type LogConfig struct {
	Level string `yaml:"level" mapstructure:"level"`
}

// Config holds application-level configuration.
type Config struct {
	API   APIConfig   `yaml:"api" mapstructure:"api"`
	UI    UIConfig    `yaml:"ui" mapstructure:"ui"`
	Cache CacheConfig `yaml:"cache" mapstructure:"cache"`
	Log   LogConfig   `yaml:"log" mapstructure:"log"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		API: APIConfig{
			URL:            util.DefaultAPIURL,
			TimeoutSeconds: util.DefaultTimeoutSeconds,
			RateLimit:      util.DefaultRateLimit,
			Burst:          util.DefaultBurst,
		},
		UI:    UIConfig{RefreshSeconds: util.DefaultRefreshSeconds, RecentFirst: true},
		Cache: CacheConfig{Enabled: true},
		Log:   LogConfig{Level: "warn"},
	}
}

// Timeout returns the per-request API timeout.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.API.TimeoutSeconds) * time.Second
}

// RefreshInterval returns the TUI refresh period.
func (c Config) RefreshInterval() time.Duration {
	return time.Duration(c.UI.RefreshSeconds) * time.Second
}

// ConfigDir returns the application config directory path.
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config/port-console.
func ConfigDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, util.AppName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home: %w", err)
	}
	return filepath.Join(home, ".config", util.AppName), nil
}

func pathIn(name string) (string, error) {
	d, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(d, name), nil
}

func ConfigFilePath() (string, error)  { return pathIn("config.yaml") }
func CacheFilePath() (string, error)   { return pathIn("cache.json") }
func EventsFilePath() (string, error)  { return pathIn("events.jsonl") }
func HistoryFilePath() (string, error) { return pathIn("history.json") }
func LogFilePath() (string, error)     { return pathIn(util.AppName + ".log") }

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	d := Default()
	v.SetDefault("api.url", d.API.URL)
	v.SetDefault("api.token", d.API.Token)
	v.SetDefault("api.timeout_seconds", d.API.TimeoutSeconds)
	v.SetDefault("api.rate_limit", d.API.RateLimit)
	v.SetDefault("api.burst", d.API.Burst)
	v.SetDefault("ui.refresh_seconds", d.UI.RefreshSeconds)
	v.SetDefault("ui.recent_first", d.UI.RecentFirst)
	v.SetDefault("cache.enabled", d.Cache.Enabled)
	v.SetDefault("log.level", d.Log.Level)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func read(v *viper.Viper) (Config, error) {
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	normalize(&cfg)
	return cfg, nil
}

func normalize(cfg *Config) {
	cfg.API.URL = strings.TrimRight(strings.TrimSpace(cfg.API.URL), "/")
	if cfg.API.URL == "" {
		cfg.API.URL = util.DefaultAPIURL
	}
	cfg.API.Token = strings.TrimSpace(cfg.API.Token)
	if cfg.API.TimeoutSeconds <= 0 {
		cfg.API.TimeoutSeconds = util.DefaultTimeoutSeconds
	}
	if cfg.API.RateLimit <= 0 {
		cfg.API.RateLimit = util.DefaultRateLimit
	}
	if cfg.API.Burst <= 0 {
		cfg.API.Burst = util.DefaultBurst
	}
	if cfg.UI.RefreshSeconds <= 0 {
		cfg.UI.RefreshSeconds = util.DefaultRefreshSeconds
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Log.Level)) {
	case "debug", "info", "warn", "error":
		cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	default:
		cfg.Log.Level = "warn"
	}
}

// ensureFile creates config.yaml with defaults when it is missing.
func ensureFile() (string, error) {
	path, err := ConfigFilePath()
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return "", err
		}
		if err := Save(Default()); err != nil {
			return "", err
		}
	}
	return path, nil
}

// Load reads config.yaml from the config directory, applying environment
// overrides. If the file doesn't exist, creates it with defaults.
func Load() (Config, error) {
	path, err := ensureFile()
	if err != nil {
		return Config{}, err
	}
	return read(newViper(path))
}

// Save writes config to config.yaml. The file may hold an API token, so it
// is only readable by the owner.
func Save(cfg Config) error {
	path, err := ConfigFilePath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}

// Manager holds the live configuration and reloads it when config.yaml changes.
type Manager struct {
	viper   *viper.Viper
	mu      sync.RWMutex
	current Config
	logger  *zap.Logger
}

// NewManager loads the configuration once.
func NewManager(logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	path, err := ensureFile()
	if err != nil {
		return nil, err
	}
	v := newViper(path)
	cfg, err := read(v)
	if err != nil {
		return nil, err
	}
	return &Manager{viper: v, current: cfg, logger: logger}, nil
}

// Config returns the current configuration.
func (m *Manager) Config() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Watch reloads on file change and calls onChange with the new value. An
// invalid edit keeps the previous configuration.
func (m *Manager) Watch(onChange func(Config)) {
	m.viper.OnConfigChange(func(event fsnotify.Event) {
		m.logger.Info("config file changed", zap.String("file", event.Name))
		var cfg Config
		if err := m.viper.Unmarshal(&cfg); err != nil {
			m.logger.Error("failed to reload config, keeping previous config", zap.Error(err))
			return
		}
		normalize(&cfg)
		m.mu.Lock()
		m.current = cfg
		m.mu.Unlock()
		if onChange != nil {
			onChange(cfg)
		}
	})
	m.viper.WatchConfig()
}
