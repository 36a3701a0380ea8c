package cli

import (
	"fmt"

	"github.com/warpmetrics/coder/internal/agent"
	"github.com/warpmetrics/coder/internal/config"
	"github.com/warpmetrics/coder/internal/logging"
	"github.com/warpmetrics/coder/internal/review"
)

// charmLogger is the minimal interface satisfied by *charmbracelet/log.Logger.
// It uses interface{} for the message argument, unlike the string-typed
// interfaces required by internal packages.
type charmLogger interface {
	Info(msg interface{}, kv ...interface{})
	Debug(msg interface{}, kv ...interface{})
}

// runnerLogger wraps a charmbracelet/log.Logger to satisfy the loop.Runner
// logger interface, which requires Info(msg string, ...) with a string
// first argument rather than interface{}.
type runnerLogger struct {
	logger charmLogger
}

func (l *runnerLogger) Info(msg string, kv ...interface{}) {
	l.logger.Info(msg, kv...)
}

func (l *runnerLogger) Debug(msg string, kv ...interface{}) {
	l.logger.Debug(msg, kv...)
}

// agentDebugLogger wraps a charmbracelet/log.Logger to satisfy the agent
// package's unexported claudeLogger and codexLogger interfaces, which require
// Debug(msg string, ...).
type agentDebugLogger struct {
	logger charmLogger
}

func (l *agentDebugLogger) Debug(msg string, kv ...interface{}) {
	l.logger.Debug(msg, kv...)
}

// agentOverride carries the one CLI-adjacent override buildAgentRegistry
// still needs: a single agent's model pinned from the command line (used by
// "debug" and "release --preview" when the operator wants to try a
// different model without touching .warp-coder/config.json).
type agentOverride struct {
	Agent string
	Model string
}

// firstConfiguredAgentName returns the name of the first agent in priority
// order (claude, codex, gemini) that has a non-empty Command or Model in the
// agent config map. Returns an empty string when no agents are configured.
func firstConfiguredAgentName(agentCfgs map[string]config.AgentConfig) string {
	for _, name := range []string{"claude", "codex", "gemini"} {
		if ac, ok := agentCfgs[name]; ok && (ac.Command != "" || ac.Model != "") {
			return name
		}
	}
	return ""
}

// configToReviewConfig converts a config.ReviewConfig to a review.ReviewConfig.
// Both types have identical fields; the conversion is required because they live
// in separate packages.
func configToReviewConfig(c config.ReviewConfig) review.ReviewConfig {
	return review.ReviewConfig{
		Extensions:       c.Extensions,
		RiskPatterns:     c.RiskPatterns,
		PromptsDir:       c.PromptsDir,
		RulesDir:         c.RulesDir,
		ProjectBriefFile: c.ProjectBriefFile,
	}
}

// buildAgentRegistry creates an agent registry populated with Claude, Codex,
// and Gemini adapters. Agent configurations are sourced from the resolved
// config (config.AgentConfig) and converted to agent.AgentConfig for the
// agent constructors. override.Model, when set, is applied only to
// override.Agent's config.
func buildAgentRegistry(agentCfgs map[string]config.AgentConfig, override agentOverride) (*agent.Registry, error) {
	registry := agent.NewRegistry()

	// toAgentCfg converts a config.AgentConfig to agent.AgentConfig.
	// Both types have identical fields; this conversion is required because
	// they are defined in separate packages.
	toAgentCfg := func(c config.AgentConfig) agent.AgentConfig {
		return agent.AgentConfig{
			Command:        c.Command,
			Model:          c.Model,
			Effort:         c.Effort,
			PromptTemplate: c.PromptTemplate,
			AllowedTools:   c.AllowedTools,
		}
	}

	claudeCfg := toAgentCfg(agentCfgs["claude"])
	codexCfg := toAgentCfg(agentCfgs["codex"])
	geminiCfg := toAgentCfg(agentCfgs["gemini"])

	if override.Model != "" {
		switch override.Agent {
		case "claude":
			claudeCfg.Model = override.Model
		case "codex":
			codexCfg.Model = override.Model
		case "gemini":
			geminiCfg.Model = override.Model
		}
	}

	if claudeCfg.Command == "" {
		claudeCfg.Command = "claude"
	}
	if codexCfg.Command == "" {
		codexCfg.Command = "codex"
	}

	claudeLog := &agentDebugLogger{logger: logging.New("claude")}
	codexLog := &agentDebugLogger{logger: logging.New("codex")}

	if err := registry.Register(agent.NewClaudeAgent(claudeCfg, claudeLog)); err != nil {
		return nil, fmt.Errorf("registering claude agent: %w", err)
	}
	if err := registry.Register(agent.NewCodexAgent(codexCfg, codexLog)); err != nil {
		return nil, fmt.Errorf("registering codex agent: %w", err)
	}
	if err := registry.Register(agent.NewGeminiAgent(geminiCfg)); err != nil {
		return nil, fmt.Errorf("registering gemini agent: %w", err)
	}

	return registry, nil
}
