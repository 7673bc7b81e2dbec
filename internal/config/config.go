package config

import (
	"strings"
	"time"
)

type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Log     LogConfig
	Gate    GateConfig
	Engine  EngineConfig
	API     APIConfig
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type GateConfig struct {
	MaxCharsPerMinute float64
	VelocityWindow    string
}

type EngineConfig struct {
	DecisionThreshold  float64
	ProactiveThreshold float64
	ConfusionOptional  bool
	ForceProactive     bool
	ColdStartBudget    int
	StatusInterval     string
	IgnoreTTL          string
}

type APIConfig struct {
	Token string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4517,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		Gate: GateConfig{
			MaxCharsPerMinute: 50,
			VelocityWindow:    "5s",
		},
		Engine: EngineConfig{
			DecisionThreshold:  0.5,
			ProactiveThreshold: 0.75,
			ConfusionOptional:  true,
			ColdStartBudget:    50,
			StatusInterval:     "2s",
			IgnoreTTL:          "60s",
		},
	}
}

// Load reads configuration from the platform-native backend and environment
// variables.
//
// On macOS the backend is UserDefaults (domain: com.nudged.app) and the API
// token falls back to macOS Keychain. On Linux the backend is a JSON file at
// $XDG_CONFIG_HOME/nudged/config.json with a secrets file next to the data
// directory.
//
// Environment variables (NUDGED_*) override backend values on all platforms.
// An empty API token is not an error here; the server generates and persists
// one on first start.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts platform secret storage for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// Try platform secret storage for the API token if still empty.
	if cfg.API.Token == "" {
		if token, err := kc.Get("nudged", "api_token"); err == nil && token != "" {
			cfg.API.Token = token
		}
	}

	return cfg, nil
}

// Duration parses a duration-valued config string, falling back when the
// value is empty or malformed.
func Duration(v string, fallback time.Duration) time.Duration {
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

// keychainReader reads from platform secret storage.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
