// Package hooks runs the user-configured lifecycle shell commands
// (onBranchCreate, onBeforePush, onPRCreated, onBeforeMerge, onMerged)
// through a Runner handed to executors as a builtin.HookRunner. The
// scheduler does not call hooks itself; the only caller in this module is
// the run_deploy executor, which runs onMerged. Grounded on internal/review's os/exec subprocess idiom
// (review.VerificationRunner's bounded-timeout command runner).
package hooks

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/charmbracelet/log"
)

// Timeout bounds every hook invocation (§5's "hook 5m" timeout constant).
const Timeout = 5 * time.Minute

// Names of the five configurable lifecycle hooks.
const (
	OnBranchCreate = "onBranchCreate"
	OnBeforePush   = "onBeforePush"
	OnPRCreated    = "onPRCreated"
	OnBeforeMerge  = "onBeforeMerge"
	OnMerged       = "onMerged"
)

// Result captures a completed hook invocation's exit status and output.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Config maps each lifecycle point to the shell command to run, per the
// `hooks.*` config keys in §6's config table. An empty command is a no-op.
type Config struct {
	OnBranchCreate string
	OnBeforePush   string
	OnPRCreated    string
	OnBeforeMerge  string
	OnMerged       string
}

func (c Config) command(name string) string {
	switch name {
	case OnBranchCreate:
		return c.OnBranchCreate
	case OnBeforePush:
		return c.OnBeforePush
	case OnPRCreated:
		return c.OnPRCreated
	case OnBeforeMerge:
		return c.OnBeforeMerge
	case OnMerged:
		return c.OnMerged
	default:
		return ""
	}
}

// Runner runs configured lifecycle hooks as subprocesses, satisfying
// builtin.HookRunner's single-method Run(ctx, name, env) error contract.
type Runner struct {
	cfg    Config
	logger *log.Logger
}

// New constructs a Runner for cfg. A nil logger falls back to log.Default().
func New(cfg Config, logger *log.Logger) *Runner {
	return &Runner{cfg: cfg, logger: logger}
}

func (r *Runner) log() *log.Logger {
	if r.logger != nil {
		return r.logger
	}
	return log.Default()
}

// Run invokes the hook registered under name with env laid over the
// process environment, bounded by Timeout. A blank or unconfigured command
// is a silent no-op — most projects only need a subset of the five hooks.
// Run satisfies builtin.HookRunner.
func (r *Runner) Run(ctx context.Context, name string, env map[string]string) error {
	res, err := r.RunDetailed(ctx, name, env)
	if err != nil {
		return err
	}
	if res != nil && res.ExitCode != 0 {
		return fmt.Errorf("hooks: %s exited %d: %s", name, res.ExitCode, res.Stderr)
	}
	return nil
}

// RunDetailed is like Run but also returns the hook's captured output,
// without treating a non-zero exit as a Go error. Run is built on it.
func (r *Runner) RunDetailed(ctx context.Context, name string, env map[string]string) (*Result, error) {
	command := r.cfg.command(name)
	if command == "" {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Env = mergeEnv(env)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if ok := asExitError(runErr, &exitErr); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("hooks: run %s: %w", name, runErr)
		}
	}

	res := &Result{ExitCode: exitCode, Stdout: stdout.String(), Stderr: stderr.String()}
	r.log().Debug("hooks: ran", "name", name, "exitCode", exitCode)
	return res, nil
}

func asExitError(err error, target **exec.ExitError) bool {
	ee, ok := err.(*exec.ExitError)
	if ok {
		*target = ee
	}
	return ok
}

// mergeEnv lays env over the process's inherited environment as
// KEY=VALUE pairs, the same pattern internal/agent uses for subprocess
// env construction.
func mergeEnv(env map[string]string) []string {
	base := os.Environ()
	for k, v := range env {
		base = append(base, k+"="+v)
	}
	return base
}
