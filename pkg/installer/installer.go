package installer

import (
	"context"
	"time"

	"github.com/moolen/k3s-bootstrap/pkg/installer/aws/connector"
	"github.com/moolen/k3s-bootstrap/pkg/installer/config"
	"github.com/moolen/k3s-bootstrap/pkg/installer/config/awsmeta"
	"github.com/moolen/k3s-bootstrap/pkg/installer/config/kubemeta"
	"github.com/moolen/k3s-bootstrap/pkg/installer/pipeline"
	"github.com/moolen/k3s-bootstrap/pkg/installer/runner"
	"github.com/moolen/k3s-bootstrap/pkg/installer/vault"
	"github.com/moolen/k3s-bootstrap/pkg/precondition"
)

type Installer struct {
	opts     Options
	runner   *runner.Runner
	env      precondition.Lookup
	settings *config.Settings
	context  InstallerContext
	kube     *kubeClients
	// retryOpts apply to steps that fail transiently against cloud APIs.
	retryOpts    []pipeline.RetryOption
	pollInterval time.Duration
	pollTimeout  time.Duration

	loadKube func(kubeconfigPath string) (*kubeClients, error)
	newCloud func(ctx context.Context, region string) (*awsmeta.Metadata, clusterRegistrar, error)
	newVault func(addr, token string) (secretStore, error)
}

type InstallerContext struct {
	AWSMeta      *awsmeta.Metadata
	KubeMeta     *kubemeta.Metadata
	Registration *connector.Registration
}

type Options struct {
	// ConfigFile is an optional YAML file layered under the environment.
	ConfigFile string
	DryRun     bool
	// K3sArgs are passed through to the k3s server.
	K3sArgs []string
}

// clusterRegistrar registers the cluster with the cloud control plane.
type clusterRegistrar interface {
	Register(ctx context.Context, role connector.RoleConfig, activationID string) (*connector.Registration, error)
}

// secretStore is the part of the Vault manager the installer uses.
type secretStore interface {
	ReadSecret(ctx context.Context, mount, path string) (map[string]string, error)
	ReconcilePolicies(ctx context.Context, policies []vault.VaultPolicy) error
	Reconcile(ctx context.Context, cfg vault.KubernetesAuthConfig) error
}

func New(opts Options) *Installer {
	return &Installer{
		opts:     opts,
		runner:   runner.New().WithDryRun(opts.DryRun),
		env:      precondition.Env(),
		loadKube: loadKubeClients,
		newCloud: newAWSCloud,
		newVault: func(addr, token string) (secretStore, error) { return vault.New(addr, token) },
		retryOpts: []pipeline.RetryOption{
			pipeline.WithMaxRetries(8),
			pipeline.WithInitialDelay(5 * time.Second),
			pipeline.WithMaxDelay(30 * time.Second),
		},
		pollInterval: 5 * time.Second,
		pollTimeout:  5 * time.Minute,
	}
}

// Settings returns the validated configuration. It is nil before Prepare.
func (i *Installer) Settings() *config.Settings {
	return i.settings
}

func newAWSCloud(ctx context.Context, region string) (*awsmeta.Metadata, clusterRegistrar, error) {
	cfg, err := awsmeta.LoadConfig(ctx, region)
	if err != nil {
		return nil, nil, err
	}
	meta, err := awsmeta.Load(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return meta, connector.New(cfg), nil
}
