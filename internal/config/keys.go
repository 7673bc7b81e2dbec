package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "NUDGED_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "storage.data_dir", typ: kString, env: "NUDGED_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "NUDGED_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "gate.max_chars_per_minute", typ: kFloat, env: "NUDGED_GATE_MAX_CHARS_PER_MINUTE",
		apply:   func(cfg *Config, v any) { cfg.Gate.MaxCharsPerMinute = v.(float64) },
		extract: func(cfg Config) any { return cfg.Gate.MaxCharsPerMinute },
	},
	{
		key: "gate.velocity_window", typ: kString, env: "NUDGED_GATE_VELOCITY_WINDOW",
		apply:   func(cfg *Config, v any) { cfg.Gate.VelocityWindow = v.(string) },
		extract: func(cfg Config) any { return cfg.Gate.VelocityWindow },
	},
	{
		key: "engine.decision_threshold", typ: kFloat, env: "NUDGED_ENGINE_DECISION_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Engine.DecisionThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Engine.DecisionThreshold },
	},
	{
		key: "engine.proactive_threshold", typ: kFloat, env: "NUDGED_ENGINE_PROACTIVE_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Engine.ProactiveThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Engine.ProactiveThreshold },
	},
	{
		key: "engine.confusion_optional", typ: kBool, env: "NUDGED_ENGINE_CONFUSION_OPTIONAL",
		apply:   func(cfg *Config, v any) { cfg.Engine.ConfusionOptional = v.(bool) },
		extract: func(cfg Config) any { return cfg.Engine.ConfusionOptional },
	},
	{
		key: "engine.force_proactive", typ: kBool, env: "NUDGED_ENGINE_FORCE_PROACTIVE",
		apply:   func(cfg *Config, v any) { cfg.Engine.ForceProactive = v.(bool) },
		extract: func(cfg Config) any { return cfg.Engine.ForceProactive },
	},
	{
		key: "engine.cold_start_budget", typ: kInt, env: "NUDGED_ENGINE_COLD_START_BUDGET",
		apply:   func(cfg *Config, v any) { cfg.Engine.ColdStartBudget = v.(int) },
		extract: func(cfg Config) any { return cfg.Engine.ColdStartBudget },
	},
	{
		key: "engine.status_interval", typ: kString, env: "NUDGED_ENGINE_STATUS_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Engine.StatusInterval = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.StatusInterval },
	},
	{
		key: "engine.ignore_ttl", typ: kString, env: "NUDGED_ENGINE_IGNORE_TTL",
		apply:   func(cfg *Config, v any) { cfg.Engine.IgnoreTTL = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.IgnoreTTL },
	},
	{
		key: "api.token", typ: kString, env: "NUDGED_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.API.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.API.Token },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
