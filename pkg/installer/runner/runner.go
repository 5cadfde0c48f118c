package runner

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	utilsexec "k8s.io/utils/exec"
)

// Command is a single external tool invocation.
type Command struct {
	Name string
	Args []string
	// Env is appended to the process environment, in KEY=value form.
	Env []string
}

func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// sensitiveEnvKeys are masked when commands are logged.
var sensitiveEnvKeys = []string{"TOKEN", "SECRET", "PASSWORD", "KEY"}

// Runner executes external tools one at a time.
type Runner struct {
	exec   utilsexec.Interface
	dryRun bool
}

// New returns a Runner backed by the host's os/exec.
func New() *Runner {
	return &Runner{exec: utilsexec.New()}
}

// NewWithExec returns a Runner backed by the given exec implementation.
func NewWithExec(e utilsexec.Interface) *Runner {
	return &Runner{exec: e}
}

// WithDryRun makes Run log commands instead of executing them.
func (r *Runner) WithDryRun(dryRun bool) *Runner {
	r.dryRun = dryRun
	return r
}

// DryRun reports whether commands are only logged.
func (r *Runner) DryRun() bool {
	return r.dryRun
}

// Run executes cmd and returns its combined output. The command must exit
// zero; otherwise the returned error carries the output.
func (r *Runner) Run(ctx context.Context, cmd Command) ([]byte, error) {
	if r.dryRun {
		logrus.Infof("[dry-run] %s %s", strings.Join(redactEnv(cmd.Env), " "), cmd)
		return nil, nil
	}

	logrus.Debugf("Running %s", cmd)
	c := r.exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.SetEnv(append(os.Environ(), cmd.Env...))
	out, err := c.CombinedOutput()
	if len(out) > 0 {
		logrus.Debugf("%s output:\n%s", cmd.Name, strings.TrimRight(string(out), "\n"))
	}
	if err != nil {
		return out, fmt.Errorf("running %q: %w: %s", cmd.String(), err, strings.TrimSpace(string(out)))
	}
	return out, nil
}

// LookPath resolves a binary name in PATH.
func (r *Runner) LookPath(name string) (string, error) {
	return r.exec.LookPath(name)
}

func redactEnv(env []string) []string {
	redacted := make([]string, 0, len(env))
	for _, kv := range env {
		key, _, found := strings.Cut(kv, "=")
		if found && isSensitive(key) {
			redacted = append(redacted, key+"=***")
			continue
		}
		redacted = append(redacted, kv)
	}
	return redacted
}

func isSensitive(key string) bool {
	upper := strings.ToUpper(key)
	for _, s := range sensitiveEnvKeys {
		if strings.Contains(upper, s) {
			return true
		}
	}
	return false
}
