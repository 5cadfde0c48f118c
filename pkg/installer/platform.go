package installer

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/moolen/k3s-bootstrap/pkg/installer/config/kubemeta"
	"github.com/moolen/k3s-bootstrap/pkg/installer/vault"
)

const vaultAuthMount = "kubernetes"

// ReconcileVault lets Flux read secrets from Vault: it writes the
// flux-system policy and binds it to the Flux controllers through the
// Kubernetes auth method of this cluster.
func (i *Installer) ReconcileVault(ctx context.Context) error {
	kube, err := i.kubeClients()
	if err != nil {
		return err
	}
	i.context.KubeMeta, err = kubemeta.Load(ctx, kube.clientset, kube.host)
	if err != nil {
		return fmt.Errorf("failed to load Kubernetes metadata: %w", err)
	}

	store, err := i.newVault(i.settings.Vault.Address, i.settings.Vault.Token)
	if err != nil {
		return fmt.Errorf("creating vault manager: %w", err)
	}
	if err = store.ReconcilePolicies(ctx, []vault.VaultPolicy{
		{
			Name:   "flux-system",
			Policy: fluxPolicy(i.settings.Vault.KVMount, i.settings.ClusterName),
		},
	}); err != nil {
		return fmt.Errorf("unable to reconcile policies: %w", err)
	}
	if err := store.Reconcile(ctx, vault.KubernetesAuthConfig{
		MountPath: vaultAuthMount,
		KubeHost:  i.context.KubeMeta.Host,
		KubeCA:    i.context.KubeMeta.CACertPEM,
		// empty unless VAULT_TOKEN_REVIEWER_JWT is set
		TokenReviewer: i.settings.Vault.TokenReviewerJWT,
		Roles:         kubernetesVaultRoles(),
	}); err != nil {
		return fmt.Errorf("reconciling vault kubernetes auth: %w", err)
	}
	return nil
}

// InjectSecrets copies every configured Vault secret into the cluster.
func (i *Installer) InjectSecrets(ctx context.Context) error {
	if len(i.settings.Secrets) == 0 {
		logrus.Debugf("No secrets configured")
		return nil
	}
	kube, err := i.kubeClients()
	if err != nil {
		return err
	}
	store, err := i.newVault(i.settings.Vault.Address, i.settings.Vault.Token)
	if err != nil {
		return fmt.Errorf("creating vault manager: %w", err)
	}
	for _, m := range i.settings.Secrets {
		data, err := store.ReadSecret(ctx, i.settings.Vault.KVMount, m.VaultPath)
		if err != nil {
			return err
		}
		if err := upsertSecret(ctx, kube.client, m.Namespace, m.Name, data); err != nil {
			return err
		}
		logrus.Infof("Injected secret %s/%s from %s", m.Namespace, m.Name, m.VaultPath)
	}
	return nil
}

func fluxPolicy(mount, clusterName string) string {
	return fmt.Sprintf(`path "%[1]s/data/clusters/%[2]s/*" {
  capabilities = ["read", "list"]
}

path "%[1]s/metadata/clusters/%[2]s/*" {
  capabilities = ["read", "list"]
}
`, mount, clusterName)
}

func kubernetesVaultRoles() []vault.VaultKubeRole {
	return []vault.VaultKubeRole{
		{
			Name:                          "flux-system",
			BoundServiceAccountNames:      []string{"kustomize-controller", "helm-controller"},
			BoundServiceAccountNamespaces: []string{"flux-system"},
			Policies:                      []string{"flux-system"},
			TTL:                           time.Hour,
		},
	}
}
