// Package config loads Forge's configuration: a YAML file layered with
// environment variable overrides, grounded on the teacher's
// internal/config.Load (file-then-env layering, defaults-first
// construction) generalized from goclaw's one big Config struct down to
// the handful of knobs spec.md §6's "Configuration" table actually
// names. File layering uses gopkg.in/yaml.v3 and .env loading uses
// github.com/joho/godotenv the way the teacher's Load reads
// goclaw.json/openclaw.json; the file is layered over the defaults with
// dario.cat/mergo the same way policy.Layered.Merge does, and environment
// variables are then applied on top by applyEnvOverrides.
package config

import (
	"os"

	"dario.cat/mergo"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/forgecore/forge/internal/core"
	. "github.com/forgecore/forge/internal/logging"
	"github.com/forgecore/forge/internal/paths"
)

// Config is Forge's resolved runtime configuration, restricted to the
// knobs spec.md §6 names rather than the teacher's much larger
// channel/skills/media/telegram surface (out of SPEC_FULL.md's scope).
type Config struct {
	BaseURL         string          `yaml:"base_url"`
	OpenRouterKey   string          `yaml:"open_router_key"`
	LargeModel      core.ModelId    `yaml:"large_model"`
	SmallModel      core.ModelId    `yaml:"small_model"`
	DefaultProvider core.ProviderId `yaml:"default_provider"`
	ActiveAgent     string          `yaml:"active_agent"`
	Cwd             string          `yaml:"cwd"`
	WorkspaceID     string          `yaml:"workspace_id"`
}

// defaults mirrors the teacher's Load building a defaults-first Config
// before layering file/env on top.
func defaults() Config {
	cwd, _ := os.Getwd()
	return Config{
		DefaultProvider: core.ProviderAnthropic,
		LargeModel:      "anthropic/claude-sonnet-4-20250514",
		SmallModel:      "anthropic/claude-3-5-haiku-20241022",
		ActiveAgent:     "default",
		Cwd:             cwd,
	}
}

// Load resolves Config from (in increasing priority): built-in defaults,
// a YAML file at path (if it exists), a .env file in the working
// directory (if present), then the process environment (spec.md §6's
// table). Mirrors the teacher's Load()'s file-then-applyEnvFallbacks
// order.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			var fileCfg Config
			if err := yaml.Unmarshal(data, &fileCfg); err != nil {
				return nil, err
			}
			if err := mergo.Merge(&cfg, fileCfg, mergo.WithOverride); err != nil {
				return nil, err
			}
			L_debug("config: loaded file", "path", path)
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			L_warn("config: failed to load .env", "error", err)
		}
	}

	applyEnvOverrides(&cfg)

	if cfg.WorkspaceID == "" {
		cfg.WorkspaceID = uuid.New().String()
	}
	return &cfg, nil
}

// applyEnvOverrides applies spec.md §6's recognized environment
// variables, each taking priority over file/defaults, mirroring the
// teacher's applyEnvFallbacks.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FORGE_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("OPEN_ROUTER_KEY"); v != "" {
		cfg.OpenRouterKey = v
	}
	if v := os.Getenv("FORGE_LARGE_MODEL"); v != "" {
		cfg.LargeModel = core.ModelId(v)
	}
	if v := os.Getenv("FORGE_SMALL_MODEL"); v != "" {
		cfg.SmallModel = core.ModelId(v)
	}
	if v := os.Getenv("FORGE_MODEL"); v != "" {
		cfg.DefaultProvider = core.ProviderId(v)
	}
	if v := os.Getenv("FORGE_ACTIVE_AGENT"); v != "" {
		cfg.ActiveAgent = v
	}
	if v := os.Getenv("FORGE_CWD"); v != "" {
		cfg.Cwd = v
	}
}

// DefaultConfigPath returns the OS-appropriate config file path (spec.md
// §6 "Persisted state ... under an OS-appropriate config directory"),
// delegating to internal/paths the same way the rest of Forge's
// persisted state (conversation checkpoints) resolves its directory.
func DefaultConfigPath() string {
	p, err := paths.DefaultConfigPath()
	if err != nil {
		return "forge.yaml"
	}
	return p
}

// Save marshals cfg as YAML and writes it to path with backup rotation,
// mirroring the teacher's onboarding flow persisting a freshly built
// Config the first time it is resolved (internal/setup's
// BackupAndWriteJSON calls), adapted to Forge's YAML-shaped config.
func Save(cfg *Config, path string) error {
	if err := paths.EnsureParentDir(path); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return BackupAndWrite(path, data, DefaultBackupCount)
}
