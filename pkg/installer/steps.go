package installer

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/moolen/k3s-bootstrap/pkg/installer/config"
	"github.com/moolen/k3s-bootstrap/pkg/installer/config/kubemeta"
	"github.com/moolen/k3s-bootstrap/pkg/installer/flux"
	"github.com/moolen/k3s-bootstrap/pkg/installer/k3s"
	"github.com/moolen/k3s-bootstrap/pkg/installer/kustomize"
	"github.com/moolen/k3s-bootstrap/pkg/installer/manifests"
	"github.com/moolen/k3s-bootstrap/pkg/installer/pipeline"
	"github.com/moolen/k3s-bootstrap/pkg/installer/runner"
)

// fluxCRDs must be established before anything depends on Flux.
var fluxCRDs = []string{
	"gitrepositories.source.toolkit.fluxcd.io",
	"kustomizations.kustomize.toolkit.fluxcd.io",
}

// Steps returns the provisioning pipeline. Prepare must have succeeded.
func (i *Installer) Steps() (*pipeline.Pipeline, error) {
	if i.settings == nil {
		return nil, fmt.Errorf("installer is not prepared")
	}
	s := i.settings

	fluxCLI := flux.New(i.runner, s.KubeconfigPath).
		WithRegistry(s.ImageRegistry).
		WithCAFile(s.Git.CAFile).
		WithExtraComponents(s.FluxComponentsExtra...)
	k3sInstaller := k3s.New(i.runner, k3s.Options{
		InstallURL: s.K3sInstallURL,
		Version:    s.K3sVersion,
		ExtraArgs:  i.opts.K3sArgs,
	})

	p := pipeline.New()
	if len(s.Packages) > 0 {
		p.Add(pipeline.StepFunc("packages", i.installPackages))
	}
	p.Add(
		pipeline.StepFunc("k3s", k3sInstaller.Install),
		i.clusterStep(i.waitUntil("nodes-ready", func(ctx context.Context, kube *kubeClients) error {
			return k3s.NodesReady(ctx, kube.clientset)
		})),
		pipeline.StepFunc("flux-cli", fluxCLI.EnsureCLI),
		pipeline.StepFunc("flux", func(ctx context.Context) error {
			return fluxCLI.Bootstrap(ctx, s.Git)
		}),
		i.clusterStep(i.waitUntil("flux-ready", func(ctx context.Context, kube *kubeClients) error {
			return crdsEstablished(ctx, kube.client, fluxCRDs...)
		})),
		i.clusterStep(pipeline.Retry(pipeline.StepFunc("eks-register", i.RegisterCluster), i.retryOpts...)),
		i.clusterStep(pipeline.StepFunc("manifests", i.ApplyManifests)),
	)
	if s.VaultEnabled() {
		p.Add(
			i.clusterStep(pipeline.StepFunc("vault", i.ReconcileVault)),
			i.clusterStep(pipeline.StepFunc("secrets", i.InjectSecrets)),
		)
	}
	return p, nil
}

// Run executes the pipeline, stopping at the first failed step.
func (i *Installer) Run(ctx context.Context) error {
	p, err := i.Steps()
	if err != nil {
		return err
	}
	logrus.Infof("Bootstrapping cluster %s: %v", i.settings.ClusterName, p.Names())
	return p.Run(ctx)
}

// waitUntil polls cond until it returns nil or the poll timeout expires. The
// kubeconfig is only read once the API server has written it, so loading
// the clients is part of the condition.
func (i *Installer) waitUntil(name string, cond func(ctx context.Context, kube *kubeClients) error) pipeline.Step {
	return pipeline.StepFunc(name, func(ctx context.Context) error {
		var lastErr error
		err := wait.PollUntilContextTimeout(ctx, i.pollInterval, i.pollTimeout, true, func(ctx context.Context) (bool, error) {
			kube, err := i.kubeClients()
			if err == nil {
				err = cond(ctx, kube)
			}
			if err != nil {
				logrus.Debugf("Waiting for %s: %v", name, err)
				lastErr = err
				return false, nil
			}
			return true, nil
		})
		if err != nil && lastErr != nil {
			return fmt.Errorf("%w: %v", err, lastErr)
		}
		return err
	})
}

func (i *Installer) installPackages(ctx context.Context) error {
	cmds := []runner.Command{
		{Name: "apt-get", Args: []string{"update"}, Env: []string{"DEBIAN_FRONTEND=noninteractive"}},
		{Name: "apt-get", Args: append([]string{"install", "-y", "--no-install-recommends"}, i.settings.Packages...), Env: []string{"DEBIAN_FRONTEND=noninteractive"}},
	}
	for _, cmd := range cmds {
		if _, err := i.runner.Run(ctx, cmd); err != nil {
			return err
		}
	}
	return nil
}

// ApplyManifests renders the EKS connector agent together with the
// cluster-config ConfigMap and server-side applies both.
func (i *Installer) ApplyManifests(ctx context.Context) error {
	yml, err := i.buildManifests(ctx)
	if err != nil {
		return fmt.Errorf("failed to build manifests: %w", err)
	}
	kube, err := i.kubeClients()
	if err != nil {
		return err
	}
	return applyYAMLManifests(ctx, kube.client, yml)
}

func (i *Installer) buildManifests(ctx context.Context) ([]byte, error) {
	renderer := kustomize.NewRenderer()
	if i.settings.ImageRegistry != "" {
		renderer.WithImageRegistry(i.settings.ImageRegistry)
	}
	if i.settings.AWS.ConnectorProxy != "" {
		renderer.AddPatch(connectorProxyPatch(i.settings.AWS.ConnectorProxy))
	}
	connectorManifests, err := renderer.Render(manifests.FS())
	if err != nil {
		return nil, err
	}

	values := []map[string]string{i.settings.ToMap()}
	if i.context.AWSMeta != nil {
		values = append(values, i.context.AWSMeta.ToMap())
	}
	if i.context.Registration != nil {
		values = append(values, map[string]string{"eks_cluster_arn": i.context.Registration.ClusterArn})
	}
	kube, err := i.kubeClients()
	if err != nil {
		return nil, err
	}
	if i.context.KubeMeta == nil {
		i.context.KubeMeta, err = kubemeta.Load(ctx, kube.clientset, kube.host)
		if err != nil {
			return nil, fmt.Errorf("failed to load Kubernetes metadata: %w", err)
		}
	}
	values = append(values, i.context.KubeMeta.ToMap())

	configManifests, err := config.Render(values...)
	if err != nil {
		return nil, err
	}
	return mergeManifests(connectorManifests, configManifests), nil
}

// connectorProxyPatch routes the connector agent and proxy through an
// outbound HTTPS proxy. The in-cluster API stays direct.
func connectorProxyPatch(proxy string) string {
	env := fmt.Sprintf(`
        env:
        - name: HTTPS_PROXY
          value: %[1]q
        - name: https_proxy
          value: %[1]q
        - name: NO_PROXY
          value: "169.254.169.254,.svc,.cluster.local,10.0.0.0/8"`, proxy)
	return fmt.Sprintf(`apiVersion: apps/v1
kind: StatefulSet
metadata:
  name: eks-connector
  namespace: %s
spec:
  template:
    spec:
      containers:
      - name: connector-agent%s
      - name: connector-proxy%s
`, connectorNamespace, env, env)
}

func mergeManifests(manifests ...[]byte) []byte {
	var merged []byte
	for _, manifest := range manifests {
		merged = append(merged, manifest...)
		merged = append(merged, []byte("\n---\n")...)
	}
	return merged
}

func (i *Installer) kubeClients() (*kubeClients, error) {
	if i.kube != nil {
		return i.kube, nil
	}
	kube, err := i.loadKube(i.settings.KubeconfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get Kubernetes client: %w", err)
	}
	i.kube = kube
	return kube, nil
}

// clusterStep skips steps that talk to APIs directly when running dry.
func (i *Installer) clusterStep(step pipeline.Step) pipeline.Step {
	if !i.opts.DryRun {
		return step
	}
	return pipeline.StepFunc(step.Name(), func(context.Context) error {
		logrus.Infof("[dry-run] skipping %s", step.Name())
		return nil
	})
}
