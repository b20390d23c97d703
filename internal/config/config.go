package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/cockpit/internal/logger"
)

const (
	DefaultNamespace       = "comfyui-cockpit"
	DefaultListen          = ":8080"
	DefaultMetricsListen   = ":9090"
	DefaultService         = "comfyui"
	DefaultComfyUIPath     = "/opt/app/ComfyUI"
	DefaultMaxVersions     = 10
	DefaultDummyStartDelay = time.Second
)

// Environment variables understood outside the COCKPIT_ prefix.
const (
	EnvDummyMode   = "COMFYUI_COCKPIT_DUMMY_MODE"
	EnvComfyUIPath = "COMFYUI_PATH"
	EnvToken       = "COCKPIT_TOKEN"
)

// Config represents the top-level TOML structure.
type Config struct {
	EnvFiles   []string         `toml:"env_files" mapstructure:"env_files"`
	Server     ServerConfig     `toml:"server" mapstructure:"server"`
	Controller ControllerConfig `toml:"controller" mapstructure:"controller"`
	Release    ReleaseConfig    `toml:"release" mapstructure:"release"`
	Log        LogConfig        `toml:"log" mapstructure:"log"`
	ProcessLog ProcessLogConfig `toml:"process_log" mapstructure:"process_log"`
	History    HistoryConfig    `toml:"history" mapstructure:"history"`
	Metrics    MetricsConfig    `toml:"metrics" mapstructure:"metrics"`
	Panel      PanelConfig      `toml:"panel" mapstructure:"panel"`
}

type ServerConfig struct {
	Listen    string    `toml:"listen" mapstructure:"listen"`
	BasePath  string    `toml:"base_path" mapstructure:"base_path"`
	Namespace string    `toml:"namespace" mapstructure:"namespace"`
	Token     string    `toml:"token" mapstructure:"token"`
	TLS       TLSConfig `toml:"tls" mapstructure:"tls"`
}

// Prefix returns the route prefix "{base_path}/{namespace}" without a
// trailing slash.
func (s ServerConfig) Prefix() string {
	base := "/" + strings.Trim(s.BasePath, "/")
	ns := strings.Trim(s.Namespace, "/")
	if ns == "" {
		ns = DefaultNamespace
	}
	if base == "/" {
		return "/" + ns
	}
	return base + "/" + ns
}

type TLSConfig struct {
	Enabled      bool   `toml:"enabled" mapstructure:"enabled"`
	CertFile     string `toml:"cert_file" mapstructure:"cert_file"`
	KeyFile      string `toml:"key_file" mapstructure:"key_file"`
	Dir          string `toml:"dir" mapstructure:"dir"`
	AutoGenerate bool   `toml:"auto_generate" mapstructure:"auto_generate"`
}

type ControllerConfig struct {
	Dummy           bool          `toml:"dummy" mapstructure:"dummy"`
	Service         string        `toml:"service" mapstructure:"service"`
	Supervisorctl   string        `toml:"supervisorctl" mapstructure:"supervisorctl"`
	DummyStartDelay time.Duration `toml:"dummy_start_delay" mapstructure:"dummy_start_delay"`
}

type ReleaseConfig struct {
	ComfyUIPath string `toml:"comfyui_path" mapstructure:"comfyui_path"`
	MaxVersions int    `toml:"max_versions" mapstructure:"max_versions"`
	Git         string `toml:"git" mapstructure:"git"`
	Pip         string `toml:"pip" mapstructure:"pip"`
}

type LogConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	Format     string `toml:"format" mapstructure:"format"`
	Color      bool   `toml:"color" mapstructure:"color"`
	TimeStamps bool   `toml:"timestamps" mapstructure:"timestamps"`
	File       string `toml:"file" mapstructure:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

// Logger converts the flat [log] table into the logger package config.
func (l LogConfig) Logger() logger.Config {
	return logger.Config{
		Slog: logger.SlogConfig{
			Level:      logger.Level(l.Level),
			Format:     logger.Format(l.Format),
			Color:      l.Color,
			TimeStamps: l.TimeStamps,
		},
		File: logger.FileConfig{
			Path:       l.File,
			MaxSizeMB:  l.MaxSizeMB,
			MaxBackups: l.MaxBackups,
			MaxAgeDays: l.MaxAgeDays,
			Compress:   l.Compress,
		},
	}
}

// ProcessLogConfig names the ComfyUI log file streamed to socket clients.
// In dummy mode the controller writes its transition lines there.
type ProcessLogConfig struct {
	Path string `toml:"path" mapstructure:"path"`
}

type HistoryConfig struct {
	DSNs []string `toml:"dsns" mapstructure:"dsns"`
}

type MetricsConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	Listen  string `toml:"listen" mapstructure:"listen"`
}

type PanelConfig struct {
	APIURL         string        `toml:"api_url" mapstructure:"api_url"`
	Transport      string        `toml:"transport" mapstructure:"transport"`
	ReconnectDelay time.Duration `toml:"reconnect_delay" mapstructure:"reconnect_delay"`
	PollInterval   time.Duration `toml:"poll_interval" mapstructure:"poll_interval"`
	RestartPolicy  string        `toml:"restart_policy" mapstructure:"restart_policy"`
	ConflictPolicy string        `toml:"conflict_policy" mapstructure:"conflict_policy"`
	Token          string        `toml:"token" mapstructure:"token"`
	Timeout        time.Duration `toml:"timeout" mapstructure:"timeout"`
	Insecure       bool          `toml:"insecure" mapstructure:"insecure"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Listen:    DefaultListen,
			Namespace: DefaultNamespace,
		},
		Controller: ControllerConfig{
			Service:         DefaultService,
			Supervisorctl:   "supervisorctl",
			DummyStartDelay: DefaultDummyStartDelay,
		},
		Release: ReleaseConfig{
			ComfyUIPath: DefaultComfyUIPath,
			MaxVersions: DefaultMaxVersions,
			Git:         "git",
			Pip:         "pip",
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			TimeStamps: true,
		},
		Metrics: MetricsConfig{Listen: DefaultMetricsListen},
		Panel: PanelConfig{
			APIURL:         "http://localhost:8080/" + DefaultNamespace,
			Transport:      "push",
			ReconnectDelay: 3 * time.Second,
			PollInterval:   5 * time.Second,
			RestartPolicy:  "strict",
			ConflictPolicy: "reject",
			Timeout:        10 * time.Second,
		},
	}
}

// Load reads the TOML file at path (optional) on top of Default, loads the
// configured env files and applies environment overrides. An empty path
// yields defaults plus environment.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix("COCKPIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	// env files first so their values take part in env binding
	for _, p := range v.GetStringSlice("env_files") {
		if !filepath.IsAbs(p) && path != "" {
			p = filepath.Join(filepath.Dir(path), p)
		}
		if err := applyEnvFile(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("env file %s: %w", p, err)
		}
	}
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	applyEnv(&cfg)
	return cfg, cfg.Validate()
}

// Validate rejects values the components cannot work with.
func (c Config) Validate() error {
	switch strings.ToLower(c.Panel.Transport) {
	case "", "push", "poll":
	default:
		return fmt.Errorf("panel.transport must be push or poll, got %q", c.Panel.Transport)
	}
	if c.Release.MaxVersions < 0 {
		return fmt.Errorf("release.max_versions must not be negative")
	}
	if c.Server.TLS.Enabled && !c.Server.TLS.AutoGenerate && (c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "") {
		return fmt.Errorf("server.tls requires cert_file and key_file unless auto_generate is set")
	}
	return nil
}

// applyEnv handles the variables kept from the notebook extension, which do
// not follow the COCKPIT_ prefix scheme.
func applyEnv(c *Config) {
	if v, ok := os.LookupEnv(EnvDummyMode); ok {
		c.Controller.Dummy = ParseBool(v)
	}
	if v := os.Getenv(EnvComfyUIPath); v != "" {
		c.Release.ComfyUIPath = v
	}
	if v := os.Getenv(EnvToken); v != "" {
		c.Server.Token = v
		if c.Panel.Token == "" {
			c.Panel.Token = v
		}
	}
}

// ParseBool accepts true, 1, yes and on (case-insensitive).
func ParseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "on":
		return true
	}
	return false
}

// setDefaults registers every key with viper so AutomaticEnv can see it
// during Unmarshal.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("env_files", d.EnvFiles)
	v.SetDefault("server.listen", d.Server.Listen)
	v.SetDefault("server.base_path", d.Server.BasePath)
	v.SetDefault("server.namespace", d.Server.Namespace)
	v.SetDefault("server.token", d.Server.Token)
	v.SetDefault("server.tls.enabled", d.Server.TLS.Enabled)
	v.SetDefault("server.tls.cert_file", d.Server.TLS.CertFile)
	v.SetDefault("server.tls.key_file", d.Server.TLS.KeyFile)
	v.SetDefault("server.tls.dir", d.Server.TLS.Dir)
	v.SetDefault("server.tls.auto_generate", d.Server.TLS.AutoGenerate)
	v.SetDefault("controller.dummy", d.Controller.Dummy)
	v.SetDefault("controller.service", d.Controller.Service)
	v.SetDefault("controller.supervisorctl", d.Controller.Supervisorctl)
	v.SetDefault("controller.dummy_start_delay", d.Controller.DummyStartDelay)
	v.SetDefault("release.comfyui_path", d.Release.ComfyUIPath)
	v.SetDefault("release.max_versions", d.Release.MaxVersions)
	v.SetDefault("release.git", d.Release.Git)
	v.SetDefault("release.pip", d.Release.Pip)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.color", d.Log.Color)
	v.SetDefault("log.timestamps", d.Log.TimeStamps)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
	v.SetDefault("log.compress", d.Log.Compress)
	v.SetDefault("process_log.path", d.ProcessLog.Path)
	v.SetDefault("history.dsns", d.History.DSNs)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.listen", d.Metrics.Listen)
	v.SetDefault("panel.api_url", d.Panel.APIURL)
	v.SetDefault("panel.transport", d.Panel.Transport)
	v.SetDefault("panel.reconnect_delay", d.Panel.ReconnectDelay)
	v.SetDefault("panel.poll_interval", d.Panel.PollInterval)
	v.SetDefault("panel.restart_policy", d.Panel.RestartPolicy)
	v.SetDefault("panel.conflict_policy", d.Panel.ConflictPolicy)
	v.SetDefault("panel.token", d.Panel.Token)
	v.SetDefault("panel.timeout", d.Panel.Timeout)
	v.SetDefault("panel.insecure", d.Panel.Insecure)
}

// LoadEnvFile parses a simple .env file and returns a slice of "KEY=VALUE" entries.
func LoadEnvFile(path string) ([]string, error) {
	m, err := loadEnvFile(path)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out, nil
}

// applyEnvFile exports the pairs of a .env file into the process
// environment. Variables that are already set win.
func applyEnvFile(path string) error {
	m, err := loadEnvFile(path)
	if err != nil {
		return err
	}
	for k, v := range m {
		if _, ok := os.LookupEnv(k); ok {
			continue
		}
		if err := os.Setenv(k, v); err != nil {
			return err
		}
	}
	return nil
}

// loadEnvFile parses a .env file with KEY=VALUE lines. Lines starting with #
// are ignored, an optional "export " prefix and matching quotes are stripped.
func loadEnvFile(path string) (map[string]string, error) {
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		if i := strings.IndexByte(line, '='); i >= 0 {
			k := strings.TrimSpace(line[:i])
			v := unquote(strings.TrimSpace(line[i+1:]))
			if k != "" {
				m[k] = v
			}
		}
	}
	return m, nil
}

func unquote(v string) string {
	if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
		return v[1 : len(v)-1]
	}
	return v
}
