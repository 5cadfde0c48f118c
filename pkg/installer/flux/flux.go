package flux

import (
	"context"
	"fmt"
	"path"

	"github.com/moolen/k3s-bootstrap/pkg/installer/config"
	"github.com/moolen/k3s-bootstrap/pkg/installer/runner"
	"github.com/sirupsen/logrus"
)

const installScriptURL = "https://fluxcd.io/install.sh"

// Flux drives the flux CLI.
type Flux struct {
	runner         *runner.Runner
	kubeconfig     string
	registry       string
	caFile         string
	componentExtra []string
}

func New(r *runner.Runner, kubeconfig string) *Flux {
	return &Flux{runner: r, kubeconfig: kubeconfig}
}

// WithRegistry pulls the controller images from a mirror of ghcr.io/fluxcd.
func (f *Flux) WithRegistry(registry string) *Flux {
	if registry != "" {
		f.registry = path.Join(registry, "fluxcd")
	}
	return f
}

// WithCAFile trusts a custom CA when talking to the git server.
func (f *Flux) WithCAFile(caFile string) *Flux {
	f.caFile = caFile
	return f
}

// WithExtraComponents installs optional controllers, e.g. the image
// automation controllers.
func (f *Flux) WithExtraComponents(components ...string) *Flux {
	f.componentExtra = append(f.componentExtra, components...)
	return f
}

// EnsureCLI installs the flux binary when it is not on PATH.
func (f *Flux) EnsureCLI(ctx context.Context) error {
	if p, err := f.runner.LookPath("flux"); err == nil {
		logrus.Debugf("flux CLI found at %s", p)
		return nil
	}
	_, err := f.runner.Run(ctx, runner.Command{
		Name: "sh",
		Args: []string{"-c", fmt.Sprintf("curl -sfL %s | bash", installScriptURL)},
	})
	if err != nil {
		return fmt.Errorf("installing flux CLI: %w", err)
	}
	return nil
}

// Bootstrap checks the cluster and bootstraps Flux against a GitHub
// repository. Re-running against an already bootstrapped cluster is safe.
func (f *Flux) Bootstrap(ctx context.Context, git config.GitSettings) error {
	if _, err := f.runner.Run(ctx, runner.Command{
		Name: "flux",
		Args: []string{"check", "--pre", "--kubeconfig", f.kubeconfig},
	}); err != nil {
		return fmt.Errorf("flux pre-check: %w", err)
	}

	if _, err := f.runner.Run(ctx, f.bootstrapCommand(git)); err != nil {
		return fmt.Errorf("flux bootstrap: %w", err)
	}
	return nil
}

func (f *Flux) bootstrapCommand(git config.GitSettings) runner.Command {
	args := []string{
		"bootstrap", "github",
		"--owner", git.Owner,
		"--repository", git.Repository,
		"--branch", git.Branch,
		"--path", git.Path,
		"--kubeconfig", f.kubeconfig,
		"--token-auth",
		"--silent",
	}
	if git.Personal {
		args = append(args, "--personal")
	}
	if f.registry != "" {
		args = append(args, "--registry", f.registry)
	}
	if f.caFile != "" {
		args = append(args, "--ca-file", f.caFile)
	}
	for _, c := range f.componentExtra {
		args = append(args, "--components-extra", c)
	}
	return runner.Command{
		Name: "flux",
		Args: args,
		Env:  []string{"GITHUB_TOKEN=" + git.Token},
	}
}
