package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// mockKeychain is a test double for the keychain interface.
type mockKeychain struct {
	value string
	err   error
}

func (m mockKeychain) Get(service, account string) (string, error) {
	return m.value, m.err
}

// mapBackend is an in-memory ConfigBackend for tests.
type mapBackend struct {
	data map[string]any
}

func (b *mapBackend) GetString(key string) (string, bool, error) {
	v, ok := b.data[key]
	if !ok {
		return "", false, nil
	}
	if s, ok := v.(string); ok {
		return s, true, nil
	}
	return "", false, nil
}

func (b *mapBackend) GetInt(key string) (int, bool, error) {
	v, ok := b.data[key]
	if !ok {
		return 0, false, nil
	}
	if i, ok := v.(int); ok {
		return i, true, nil
	}
	return 0, false, nil
}

func (b *mapBackend) SetString(key, val string) error { b.data[key] = val; return nil }

func (b *mapBackend) SetInt(key string, val int) error { b.data[key] = val; return nil }

func (b *mapBackend) Delete(key string) error { delete(b.data, key); return nil }

func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		if s.env != "" {
			t.Setenv(s.env, "")
		}
	}
}

// TestDefaults verifies all default values survive an empty backend.
func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(&mapBackend{data: map[string]any{}}, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4517 {
		t.Errorf("Server.Port = %d, want 4517", cfg.Server.Port)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
	if cfg.Gate.MaxCharsPerMinute != 50 {
		t.Errorf("Gate.MaxCharsPerMinute = %v, want 50", cfg.Gate.MaxCharsPerMinute)
	}
	if cfg.Engine.DecisionThreshold != 0.5 {
		t.Errorf("Engine.DecisionThreshold = %v, want 0.5", cfg.Engine.DecisionThreshold)
	}
	if cfg.Engine.ProactiveThreshold != 0.75 {
		t.Errorf("Engine.ProactiveThreshold = %v, want 0.75", cfg.Engine.ProactiveThreshold)
	}
	if !cfg.Engine.ConfusionOptional {
		t.Error("Engine.ConfusionOptional should default to true")
	}
	if cfg.Engine.ForceProactive {
		t.Error("Engine.ForceProactive should default to false")
	}
	if cfg.Engine.ColdStartBudget != 50 {
		t.Errorf("Engine.ColdStartBudget = %d, want 50", cfg.Engine.ColdStartBudget)
	}
	if cfg.Engine.StatusInterval != "2s" {
		t.Errorf("Engine.StatusInterval = %q, want 2s", cfg.Engine.StatusInterval)
	}
}

// TestBackendValues verifies that backend values override defaults.
func TestBackendValues(t *testing.T) {
	clearEnv(t)

	b := &mapBackend{data: map[string]any{
		"server.port":               5200,
		"log.level":                 "debug",
		"gate.max_chars_per_minute": "80",
		"engine.confusion_optional": "false",
		"engine.cold_start_budget":  10,
	}}
	cfg, err := loadWith(b, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 5200 {
		t.Errorf("Server.Port = %d, want 5200", cfg.Server.Port)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
	if cfg.Gate.MaxCharsPerMinute != 80 {
		t.Errorf("Gate.MaxCharsPerMinute = %v, want 80", cfg.Gate.MaxCharsPerMinute)
	}
	if cfg.Engine.ConfusionOptional {
		t.Error("Engine.ConfusionOptional should be false")
	}
	if cfg.Engine.ColdStartBudget != 10 {
		t.Errorf("Engine.ColdStartBudget = %d, want 10", cfg.Engine.ColdStartBudget)
	}
}

// TestEnvOverride verifies that environment variables override backend values.
func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("NUDGED_SERVER_PORT", "6000")
	t.Setenv("NUDGED_ENGINE_FORCE_PROACTIVE", "true")
	t.Setenv("NUDGED_ENGINE_PROACTIVE_THRESHOLD", "0.9")

	b := &mapBackend{data: map[string]any{"server.port": 5200}}
	cfg, err := loadWith(b, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 6000 {
		t.Errorf("Server.Port = %d, want env override 6000", cfg.Server.Port)
	}
	if !cfg.Engine.ForceProactive {
		t.Error("Engine.ForceProactive should be true from env")
	}
	if cfg.Engine.ProactiveThreshold != 0.9 {
		t.Errorf("Engine.ProactiveThreshold = %v, want 0.9", cfg.Engine.ProactiveThreshold)
	}
}

// TestBadEnvValueKeepsDefault verifies unparseable env values are skipped.
func TestBadEnvValueKeepsDefault(t *testing.T) {
	clearEnv(t)
	t.Setenv("NUDGED_SERVER_PORT", "not-a-number")

	cfg, err := loadWith(&mapBackend{data: map[string]any{}}, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 4517 {
		t.Errorf("Server.Port = %d, want default 4517", cfg.Server.Port)
	}
}

// TestKeychainFallback verifies secret storage is consulted when no token is
// in env.
func TestKeychainFallback(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(&mapBackend{data: map[string]any{}}, mockKeychain{value: "keychain-token"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.API.Token != "keychain-token" {
		t.Errorf("API.Token = %q, want keychain-token", cfg.API.Token)
	}
}

func TestEnvTokenBeatsKeychain(t *testing.T) {
	clearEnv(t)
	t.Setenv("NUDGED_API_TOKEN", "env-token")

	cfg, err := loadWith(&mapBackend{data: map[string]any{}}, mockKeychain{value: "keychain-token"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.API.Token != "env-token" {
		t.Errorf("API.Token = %q, want env-token", cfg.API.Token)
	}
}

func TestDuration(t *testing.T) {
	if d := Duration("3s", 0); d.Seconds() != 3 {
		t.Errorf("Duration(3s) = %v", d)
	}
	if d := Duration("", 5); d != 5 {
		t.Errorf("empty string should fall back, got %v", d)
	}
	if d := Duration("garbage", 7); d != 7 {
		t.Errorf("malformed string should fall back, got %v", d)
	}
}

// TestEnsureToken verifies generation, persistence, and precedence.
func TestEnsureToken(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{Storage: StorageConfig{DataDir: dir}}

	tok1, err := EnsureToken(cfg)
	if err != nil {
		t.Fatalf("EnsureToken: %v", err)
	}
	if len(tok1) != 64 {
		t.Errorf("token length = %d, want 64 hex chars", len(tok1))
	}

	// Second call returns the persisted token.
	tok2, err := EnsureToken(cfg)
	if err != nil {
		t.Fatalf("EnsureToken second: %v", err)
	}
	if tok1 != tok2 {
		t.Error("token should be stable across calls")
	}

	data, err := os.ReadFile(filepath.Join(dir, "api_token"))
	if err != nil {
		t.Fatalf("reading token file: %v", err)
	}
	if strings.TrimSpace(string(data)) != tok1 {
		t.Error("token file content mismatch")
	}

	// Configured token wins over the file.
	cfg.API.Token = "configured"
	tok3, err := EnsureToken(cfg)
	if err != nil {
		t.Fatalf("EnsureToken configured: %v", err)
	}
	if tok3 != "configured" {
		t.Errorf("token = %q, want configured", tok3)
	}
}

func TestShowAllHidesSecrets(t *testing.T) {
	infos := ShowAll(defaults())
	for _, info := range infos {
		if info.Key == "api.token" {
			t.Error("ShowAll must not list secret keys")
		}
	}
	if len(infos) != len(specs)-1 {
		t.Errorf("ShowAll listed %d keys, want %d", len(infos), len(specs)-1)
	}
}

func TestSetKeyValidation(t *testing.T) {
	if err := SetKey("api.token", "x"); err == nil {
		t.Error("setting a secret key should be rejected")
	}
	if err := SetKey("nope.nothing", "x"); err == nil {
		t.Error("unknown key should be rejected")
	}
}
