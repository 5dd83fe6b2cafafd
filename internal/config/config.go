package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Config is the root configuration for the assistant.
type Config struct {
	General   GeneralConfig   `json:"general"`
	Host      HostConfig      `json:"host"`
	Skills    SkillsConfig    `json:"skills"`
	SkillHost SkillHostConfig `json:"skillHost"`
	Channels  ChannelsConfig  `json:"channels"`
	State     StateConfig     `json:"state"`
	Metrics   MetricsConfig   `json:"metrics"`
}

type GeneralConfig struct {
	Name     string `json:"name"`
	LogLevel string `json:"logLevel"`
	LogFile  string `json:"logFile,omitempty"` // optional log file path
}

// HostConfig identifies the host bot when it calls out to skills.
type HostConfig struct {
	AppID       string `json:"appId"`
	AppPassword string `json:"appPassword"`
	BusBuffer   int    `json:"busBuffer,omitempty"`
}

// SkillsConfig tells the host where to find skill manifests.
type SkillsConfig struct {
	ManifestDir  string `json:"manifestDir"`
	AuthDialogID string `json:"authDialogId,omitempty"` // dialog that satisfies token requests
}

// SkillHostConfig configures the skill-side server surface.
type SkillHostConfig struct {
	Port           int            `json:"port"`
	AppPassword    string         `json:"appPassword"`
	AllowedCallers FlexStringList `json:"allowedCallers"`
	ManifestPath   string         `json:"manifestPath"`
	AllowAnonymous bool           `json:"allowAnonymous,omitempty"` // local development only
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	CLI      CLIConfig      `json:"cli"`
}

type TelegramConfig struct {
	Enabled   bool           `json:"enabled"`
	Token     string         `json:"token"`
	AllowFrom FlexStringList `json:"allowFrom"`
	ParseMode string         `json:"parseMode"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	// Try []string first
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	// Fallback: array of mixed types
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

type CLIConfig struct {
	Enabled bool `json:"enabled"`
}

type StateConfig struct {
	DBPath string `json:"dbPath"`
}

// MetricsConfig configures the Prometheus metrics endpoint. The skill host
// always serves /metrics on its own port; Addr is where the host bot exposes
// its collector.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Addr     string `json:"addr"`
	Endpoint string `json:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.vassist).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".vassist"
	}
	return filepath.Join(home, ".vassist")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot resolve home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.State.DBPath = ExpandPath(cfg.State.DBPath)
	cfg.Skills.ManifestDir = ExpandPath(cfg.Skills.ManifestDir)
	cfg.SkillHost.ManifestPath = ExpandPath(cfg.SkillHost.ManifestPath)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.SkillHost.Port < 0 || cfg.SkillHost.Port > 65535 {
		errs = append(errs, "skillHost.port must be between 0 and 65535")
	}
	if cfg.Host.BusBuffer < 0 {
		errs = append(errs, "host.busBuffer must be >= 0")
	}
	if cfg.State.DBPath == "" {
		errs = append(errs, "state.dbPath must be set")
	}
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token == "" {
		errs = append(errs, "channels.telegram.token is required when the telegram channel is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
