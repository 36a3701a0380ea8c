package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// EngineConfigFileName is the default location of the daemon's JSON config,
// relative to the project directory.
const EngineConfigFileName = ".warp-coder/config.json"

// BoardConfig selects and configures the project-tracking board adapter.
type BoardConfig struct {
	Provider string            `json:"provider" validate:"required,oneof=github linear"`
	Project  string            `json:"project"`
	Columns  map[string]string `json:"columns"`
}

// ClaudeConfig configures the coder subprocess adapter.
type ClaudeConfig struct {
	Command string `json:"command"`
	Model   string `json:"model"`
}

// ExecutorsConfig lets an operator disable individual builtin executors
// (e.g. to run a graph that never deploys) without editing the graph file.
type ExecutorsConfig struct {
	Disabled []string `json:"disabled"`
}

// MemoryConfig controls the reflection memory file (SPEC_FULL.md §4.11).
type MemoryConfig struct {
	Enabled  bool `json:"enabled"`
	MaxLines int  `json:"maxLines" validate:"gte=0"`
}

// HooksConfig maps lifecycle names to shell commands (SPEC_FULL.md §4.11).
type HooksConfig struct {
	OnBranchCreate string `json:"onBranchCreate"`
	OnBeforePush   string `json:"onBeforePush"`
	OnPRCreated    string `json:"onPRCreated"`
	OnBeforeMerge  string `json:"onBeforeMerge"`
	OnMerged       string `json:"onMerged"`
}

// EngineConfig is the top-level shape of .warp-coder/config.json, per
// spec.md §6's config key table. It is distinct from Config (which maps to
// warp-coder.toml and governs agent/review settings for the implement and
// review work-acts) — the two are loaded and validated independently and
// composed at startup.
type EngineConfig struct {
	Board        BoardConfig     `json:"board" validate:"required"`
	Repos        []string        `json:"repos" validate:"required,min=1"`
	PollInterval string          `json:"pollInterval" validate:"required"`
	Concurrency  int             `json:"concurrency" validate:"gte=0"`
	MaxRevisions int             `json:"maxRevisions" validate:"gte=0"`
	Claude       ClaudeConfig    `json:"claude"`
	Workflow     string          `json:"workflow"`
	Executors    ExecutorsConfig `json:"executors"`
	Memory       MemoryConfig    `json:"memory"`
	Hooks        HooksConfig     `json:"hooks"`
}

// LoadEngineConfig reads path's JSON document, loads a sibling .env file
// (if present) into the process environment via godotenv, and validates
// the decoded config with go-playground/validator. envPath, when empty,
// defaults to ".env" next to path.
func LoadEngineConfig(path, envPath string) (*EngineConfig, error) {
	if envPath == "" {
		envPath = filepath.Join(filepath.Dir(path), ".env")
	}
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", envPath, err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg EngineConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: invalid %s: %w", path, err)
	}

	return &cfg, nil
}
