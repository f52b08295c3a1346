package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/sidecar/internal/detector"
	"github.com/loykin/sidecar/internal/locator"
)

// EnvPrefix is prepended to every environment override, with dots in keys
// turned into underscores: log.level is read from REFSEARCH_LOG_LEVEL.
const EnvPrefix = "REFSEARCH"

// Config is the supervisor's full configuration.
type Config struct {
	AppID        string        `toml:"app_id" mapstructure:"app_id"`
	Host         string        `toml:"host" mapstructure:"host"`
	Port         int           `toml:"port" mapstructure:"port"`
	Mode         string        `toml:"mode" mapstructure:"mode"`
	Python       string        `toml:"python" mapstructure:"python"`
	ProjectRoot  string        `toml:"project_root" mapstructure:"project_root"`
	ResourceDir  string        `toml:"resource_dir" mapstructure:"resource_dir"`
	Store        string        `toml:"store" mapstructure:"store"`
	Threads      int           `toml:"threads" mapstructure:"threads"`
	ProbeTimeout time.Duration `toml:"probe_timeout" mapstructure:"probe_timeout"`
	StopTimeout  time.Duration `toml:"stop_timeout" mapstructure:"stop_timeout"`
	Env          []string      `toml:"env" mapstructure:"env"`
	EnvFiles     []string      `toml:"env_files" mapstructure:"env_files"`

	Log     LogConfig     `toml:"log" mapstructure:"log"`
	History HistoryConfig `toml:"history" mapstructure:"history"`
	Metrics MetricsConfig `toml:"metrics" mapstructure:"metrics"`
	Server  ServerConfig  `toml:"server" mapstructure:"server"`
}

type LogConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	Format     string `toml:"format" mapstructure:"format"`
	File       string `toml:"file" mapstructure:"file"`
	RelayFile  string `toml:"relay_file" mapstructure:"relay_file"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

type HistoryConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

type MetricsConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	Listen  string `toml:"listen" mapstructure:"listen"`
}

type ServerConfig struct {
	Listen   string `toml:"listen" mapstructure:"listen"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_id", "com.refsearch.app")
	v.SetDefault("host", locator.DefaultHost)
	v.SetDefault("port", locator.DefaultPort)
	v.SetDefault("mode", string(locator.ModeProduction))
	v.SetDefault("python", "")
	v.SetDefault("project_root", "")
	v.SetDefault("resource_dir", "")
	v.SetDefault("store", "")
	v.SetDefault("threads", locator.DefaultThreads)
	v.SetDefault("probe_timeout", detector.DefaultProbeTimeout)
	v.SetDefault("stop_timeout", time.Duration(0))
	v.SetDefault("env", []string{})
	v.SetDefault("env_files", []string{})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.relay_file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 7)
	v.SetDefault("log.compress", false)

	v.SetDefault("history.dsn", "")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "")
	v.SetDefault("server.listen", "")
	v.SetDefault("server.base_path", "")
}

// Load reads the TOML file at path, when given, over the defaults and then
// applies REFSEARCH_* environment overrides. The result is validated.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	c.Mode = strings.ToLower(strings.TrimSpace(c.Mode))
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	switch locator.Mode(c.Mode) {
	case locator.ModeDevelopment, locator.ModeProduction:
	default:
		return fmt.Errorf("unknown mode %q (want development or production)", c.Mode)
	}
	if c.ProbeTimeout <= 0 {
		return fmt.Errorf("probe_timeout must be positive, got %s", c.ProbeTimeout)
	}
	if c.StopTimeout < 0 {
		return fmt.Errorf("stop_timeout must not be negative, got %s", c.StopTimeout)
	}
	if c.Threads < 0 {
		return fmt.Errorf("threads must not be negative, got %d", c.Threads)
	}
	switch c.Log.Format {
	case "", "text", "json", "color":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}

// Locator resolves directories left empty to their runtime defaults. The
// storage directory is created on the way.
func (c *Config) Locator() locator.Locator {
	root := c.ProjectRoot
	if root == "" {
		root = locator.DefaultProjectRoot()
	}
	res := c.ResourceDir
	if res == "" {
		res = locator.DefaultResourceDir()
	}
	return locator.Locator{
		ResourceDir: res,
		ProjectRoot: root,
		Python:      c.Python,
		Host:        c.Host,
		Port:        c.Port,
		StoreDir:    locator.ResolveStoreDir(c.Store, c.AppID, root),
		Threads:     c.Threads,
		Mode:        locator.Mode(c.Mode),
	}
}

// GlobalEnv returns the extra variables handed to the backend: env_files
// contents in order, then the env list, later entries overriding earlier ones.
func (c *Config) GlobalEnv() ([]string, error) {
	m := make(map[string]string)
	var order []string
	set := func(k, v string) {
		if _, ok := m[k]; !ok {
			order = append(order, k)
		}
		m[k] = v
	}
	for _, p := range c.EnvFiles {
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, err
		}
		for _, kv := range pairs {
			set(kv[0], kv[1])
		}
	}
	for _, kv := range c.Env {
		if i := strings.IndexByte(kv, '='); i > 0 {
			set(kv[:i], kv[i+1:])
		}
	}
	out := make([]string, 0, len(order))
	for _, k := range order {
		out = append(out, k+"="+m[k])
	}
	return out, nil
}

// LoadEnvFile parses a simple .env file and returns a slice of "KEY=VALUE" entries.
func LoadEnvFile(path string) ([]string, error) {
	pairs, err := loadEnvFile(path)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(pairs))
	for _, kv := range pairs {
		out = append(out, kv[0]+"="+kv[1])
	}
	return out, nil
}

// loadEnvFile parses a simple .env file with KEY=VALUE lines (no export, no quotes). Lines starting with # are ignored.
func loadEnvFile(path string) ([][2]string, error) {
	// Mitigate G304: sanitize user-provided path by cleaning it before use.
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}
	var out [][2]string
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i > 0 {
			out = append(out, [2]string{strings.TrimSpace(line[:i]), strings.TrimSpace(line[i+1:])})
		}
	}
	return out, nil
}
