package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	vault "github.com/hashicorp/vault/api"
	"github.com/sirupsen/logrus"
)

type KubernetesAuthConfig struct {
	MountPath string
	KubeHost  string
	KubeCA    string
	// TokenReviewer may be empty, in which case Vault uses the JWT of the
	// client logging in to call the TokenReview API.
	TokenReviewer string
	Roles         []VaultKubeRole
}

type VaultKubeRole struct {
	Name                          string
	BoundServiceAccountNames      []string
	BoundServiceAccountNamespaces []string
	Policies                      []string
	TTL                           time.Duration
}

type VaultPolicy struct {
	Name   string
	Policy string
}

type Manager struct {
	client *vault.Client
}

func New(vaultAddr, token string) (*Manager, error) {
	cfg := vault.DefaultConfig()
	if cfg.Error != nil {
		return nil, fmt.Errorf("failed to read vault environment: %w", cfg.Error)
	}
	cfg.Address = vaultAddr
	client, err := vault.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	client.SetToken(token)
	return &Manager{client: client}, nil
}

// Reconcile enables the Kubernetes auth method at cfg.MountPath and writes
// its config and roles when they differ from what Vault holds.
func (m *Manager) Reconcile(ctx context.Context, cfg KubernetesAuthConfig) error {
	auths, err := m.client.Sys().ListAuthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to list auth methods: %w", err)
	}
	if _, ok := auths[cfg.MountPath+"/"]; !ok {
		logrus.Debugf("Enabling kubernetes auth at %s", cfg.MountPath)
		err := m.client.Sys().EnableAuthWithOptionsWithContext(ctx, cfg.MountPath, &vault.EnableAuthOptions{Type: "kubernetes"})
		if err != nil {
			return fmt.Errorf("failed to enable kubernetes auth: %w", err)
		}
	}

	confPath := fmt.Sprintf("auth/%s/config", cfg.MountPath)
	input := map[string]interface{}{
		"kubernetes_host":    cfg.KubeHost,
		"kubernetes_ca_cert": cfg.KubeCA,
	}
	if cfg.TokenReviewer != "" {
		input["token_reviewer_jwt"] = cfg.TokenReviewer
	}
	if err := m.writeIfChanged(ctx, confPath, input); err != nil {
		return fmt.Errorf("failed to write kubernetes config: %w", err)
	}

	for _, role := range cfg.Roles {
		rolePath := fmt.Sprintf("auth/%s/role/%s", cfg.MountPath, role.Name)
		desired := map[string]interface{}{
			"bound_service_account_names":      role.BoundServiceAccountNames,
			"bound_service_account_namespaces": role.BoundServiceAccountNamespaces,
			"token_policies":                   role.Policies,
			"token_ttl":                        int(role.TTL.Seconds()),
		}
		if err := m.writeIfChanged(ctx, rolePath, desired); err != nil {
			return fmt.Errorf("failed to write role %s: %w", role.Name, err)
		}
	}
	return nil
}

func (m *Manager) writeIfChanged(ctx context.Context, path string, desired map[string]interface{}) error {
	existing, err := m.client.Logical().ReadWithContext(ctx, path)
	if err != nil && !isNotFound(err) {
		return err
	}
	if existing != nil && containsAll(existing.Data, desired) {
		logrus.Debugf("Vault path %s is up to date", path)
		return nil
	}
	logrus.Debugf("Writing vault path %s", path)
	_, err = m.client.Logical().WriteWithContext(ctx, path, desired)
	return err
}

func (m *Manager) ReconcilePolicies(ctx context.Context, policies []VaultPolicy) error {
	for _, policy := range policies {
		existing, err := m.client.Sys().GetPolicyWithContext(ctx, policy.Name)
		if err != nil && !isNotFound(err) {
			return fmt.Errorf("failed to get policy %s: %w", policy.Name, err)
		}
		if strings.TrimSpace(existing) != strings.TrimSpace(policy.Policy) {
			logrus.Debugf("Writing vault policy %s", policy.Name)
			err := m.client.Sys().PutPolicyWithContext(ctx, policy.Name, policy.Policy)
			if err != nil {
				return fmt.Errorf("failed to write policy %s: %w", policy.Name, err)
			}
		}
	}
	return nil
}

// ReadSecret reads the latest version of a KV v2 secret and returns its
// values as strings.
func (m *Manager) ReadSecret(ctx context.Context, mount, path string) (map[string]string, error) {
	fullPath := fmt.Sprintf("%s/data/%s", strings.Trim(mount, "/"), strings.Trim(path, "/"))
	secret, err := m.client.Logical().ReadWithContext(ctx, fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", fullPath, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("secret %s not found", fullPath)
	}
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("secret %s has no data (deleted or not a kv v2 mount)", fullPath)
	}
	out := make(map[string]string, len(data))
	for k, v := range data {
		if s, ok := v.(string); ok {
			out[k] = s
			continue
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("secret %s key %s: %w", fullPath, k, err)
		}
		out[k] = string(b)
	}
	return out, nil
}

func isNotFound(err error) bool {
	if respErr, ok := err.(*vault.ResponseError); ok {
		return respErr.StatusCode == http.StatusNotFound
	}
	return false
}

// containsAll reports whether every desired key has an equal value in
// existing. Vault adds its own defaults to read responses, so extra keys are
// ignored.
func containsAll(existing, desired map[string]interface{}) bool {
	for k, v := range desired {
		if !equalJSON(existing[k], v) {
			return false
		}
	}
	return true
}

func equalJSON(a, b interface{}) bool {
	aJSON, _ := json.Marshal(a)
	bJSON, _ := json.Marshal(b)
	return string(aJSON) == string(bJSON)
}
