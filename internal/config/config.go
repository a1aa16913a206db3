package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// AuthConfig holds the panel's HTTP basic-auth credentials. An empty
// password disables authentication entirely.
type AuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// GatewayConfig describes how the supervised gateway process is launched
// and where its own configuration document lives.
type GatewayConfig struct {
	// Command is the argv the supervisor spawns. Never interpreted beyond
	// "program to exec".
	Command []string          `yaml:"command"`
	Workdir string            `yaml:"workdir"`
	Env     map[string]string `yaml:"env"`

	// Mode selects the runner: "exec" (direct child) or "docker".
	Mode          string `yaml:"mode"`
	DockerImage   string `yaml:"docker_image"`
	DockerMemory  int64  `yaml:"docker_memory_mb"`
	DockerNetwork string `yaml:"docker_network"`

	GracePeriodSeconds int  `yaml:"grace_period_seconds"`
	LogBufferLines     int  `yaml:"log_buffer_lines"`
	AutoStart          bool `yaml:"auto_start"`

	// ConfigPath points at the gateway's own config document (JSON or
	// TOML, chosen by extension). Relative paths resolve under HomeDir.
	ConfigPath string `yaml:"config_path"`
}

type TelegramConfig struct {
	Token      string  `yaml:"token"`
	AllowedIDs []int64 `yaml:"allowed_ids"`
	Enabled    bool    `yaml:"enabled"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

type SkillsConfig struct {
	Dir string `yaml:"dir"`
}

// TelemetryConfig controls the optional OpenTelemetry pipeline.
type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	BindAddr string `yaml:"bind_addr"`
	LogLevel string `yaml:"log_level"`

	Auth      AuthConfig      `yaml:"auth"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Channels  ChannelsConfig  `yaml:"channels"`
	Skills    SkillsConfig    `yaml:"skills"`
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// AllowOrigins lists origins permitted by the CORS middleware.
	AllowOrigins []string `yaml:"allow_origins"`

	RetentionEventsDays int `yaml:"retention_events_days"`

	// NeedsGenesis is true when no config.yaml existed yet.
	NeedsGenesis bool `yaml:"-"`
}

func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// GatewayConfigPath resolves the gateway document path against HomeDir.
func (c Config) GatewayConfigPath() string {
	p := c.Gateway.ConfigPath
	if p == "" {
		p = "gateway.json"
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(c.HomeDir, p)
	}
	return p
}

// SkillsDir resolves the skill library root against HomeDir.
func (c Config) SkillsDir() string {
	d := c.Skills.Dir
	if !filepath.IsAbs(d) {
		d = filepath.Join(c.HomeDir, d)
	}
	return d
}

// MemoryDir is where the gateway's memory workspace lives.
func (c Config) MemoryDir() string {
	return filepath.Join(c.HomeDir, "memory")
}

// GatewayLogPath is where the supervisor mirrors the child's output.
func (c Config) GatewayLogPath() string {
	return filepath.Join(c.HomeDir, "logs", "gateway.log")
}

// Fingerprint returns a stable hash of the active config.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "bind=%s|log=%s|cmd=%v|mode=%s|grace=%d|origins=%v",
		c.BindAddr, c.LogLevel, c.Gateway.Command, c.Gateway.Mode,
		c.Gateway.GracePeriodSeconds, c.AllowOrigins)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}

func defaultConfig() Config {
	return Config{
		BindAddr: "127.0.0.1:1890",
		LogLevel: "info",
		Auth: AuthConfig{
			Username: "admin",
		},
		Gateway: GatewayConfig{
			Mode:               "exec",
			GracePeriodSeconds: 5,
			LogBufferLines:     500,
			ConfigPath:         "gateway.json",
		},
		Skills: SkillsConfig{
			Dir: "skills",
		},
		RetentionEventsDays: 90,
	}
}

func HomeDir() string {
	if override := os.Getenv("CLAWDECK_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".clawdeck")
}

func Load() (Config, error) {
	return LoadFrom(HomeDir())
}

// LoadFrom reads config.yaml under the given home directory, creating the
// directory on first run.
func LoadFrom(homeDir string) (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = homeDir

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create clawdeck home: %w", err)
	}

	configPath := ConfigPath(cfg.HomeDir)
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.NeedsGenesis = true
		} else {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	return cfg, nil
}

// Save writes the config back to config.yaml.
func Save(cfg Config) error {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config.yaml: %w", err)
	}
	return os.WriteFile(ConfigPath(cfg.HomeDir), out, 0o644)
}

func normalize(cfg *Config) {
	if cfg.BindAddr == "" {
		cfg.BindAddr = "127.0.0.1:1890"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if strings.TrimSpace(cfg.Auth.Username) == "" {
		cfg.Auth.Username = "admin"
	}
	switch cfg.Gateway.Mode {
	case "exec", "docker":
	default:
		cfg.Gateway.Mode = "exec"
	}
	if cfg.Gateway.GracePeriodSeconds <= 0 {
		cfg.Gateway.GracePeriodSeconds = 5
	}
	if cfg.Gateway.LogBufferLines <= 0 {
		cfg.Gateway.LogBufferLines = 500
	}
	if strings.TrimSpace(cfg.Gateway.ConfigPath) == "" {
		cfg.Gateway.ConfigPath = "gateway.json"
	}
	if strings.TrimSpace(cfg.Skills.Dir) == "" {
		cfg.Skills.Dir = "skills"
	}
	if cfg.RetentionEventsDays <= 0 {
		cfg.RetentionEventsDays = 90
	}
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("CLAWDECK_BIND_ADDR"); raw != "" {
		cfg.BindAddr = raw
	}
	if raw := os.Getenv("CLAWDECK_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("CLAWDECK_USERNAME"); raw != "" {
		cfg.Auth.Username = raw
	}
	if raw := os.Getenv("CLAWDECK_PASSWORD"); raw != "" {
		cfg.Auth.Password = raw
	}
	if raw := os.Getenv("CLAWDECK_GATEWAY_CONFIG"); raw != "" {
		cfg.Gateway.ConfigPath = raw
	}
	if raw := os.Getenv("CLAWDECK_GRACE_PERIOD_SECONDS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Gateway.GracePeriodSeconds = v
		}
	}
	if raw := os.Getenv("TELEGRAM_TOKEN"); raw != "" {
		cfg.Channels.Telegram.Token = raw
	}
}
