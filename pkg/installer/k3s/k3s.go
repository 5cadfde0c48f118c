package k3s

import (
	"context"
	"fmt"
	"strings"

	"github.com/moolen/k3s-bootstrap/pkg/installer/runner"
	"github.com/sirupsen/logrus"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

type Options struct {
	InstallURL string
	Version    string
	// ExtraArgs are passed to the k3s server, e.g. --disable traefik.
	ExtraArgs []string
}

// Installer runs the upstream k3s install script.
type Installer struct {
	runner *runner.Runner
	opts   Options
}

func New(r *runner.Runner, opts Options) *Installer {
	return &Installer{runner: r, opts: opts}
}

// Install runs the install script. It is a no-op on the k3s side when the
// requested version is already installed.
func (i *Installer) Install(ctx context.Context) error {
	if _, err := i.runner.Run(ctx, i.command()); err != nil {
		return fmt.Errorf("installing k3s: %w", err)
	}
	return nil
}

// installScript reads the URL from $0 and the server arguments from "$@" so
// that neither is parsed by the shell.
const installScript = `curl -sfL "$0" | sh -s - "$@"`

func (i *Installer) command() runner.Command {
	args := []string{"-c", installScript, i.opts.InstallURL, "--write-kubeconfig-mode", "644"}
	args = append(args, i.opts.ExtraArgs...)

	var env []string
	if i.opts.Version != "" {
		env = append(env, "INSTALL_K3S_VERSION="+i.opts.Version)
	}
	return runner.Command{Name: "sh", Args: args, Env: env}
}

// NodesReady returns an error unless at least one node exists and every node
// reports Ready.
func NodesReady(ctx context.Context, clientset kubernetes.Interface) error {
	nodes, err := clientset.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return fmt.Errorf("listing nodes: %w", err)
	}
	if len(nodes.Items) == 0 {
		return fmt.Errorf("no nodes registered yet")
	}
	var notReady []string
	for _, node := range nodes.Items {
		if !isReady(node) {
			notReady = append(notReady, node.Name)
		}
	}
	if len(notReady) > 0 {
		return fmt.Errorf("nodes not ready: %s", strings.Join(notReady, ", "))
	}
	logrus.Debugf("%d node(s) ready", len(nodes.Items))
	return nil
}

func isReady(node corev1.Node) bool {
	for _, cond := range node.Status.Conditions {
		if cond.Type == corev1.NodeReady {
			return cond.Status == corev1.ConditionTrue
		}
	}
	return false
}
