package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/moolen/k3s-bootstrap/pkg/precondition"
	"github.com/spf13/viper"
)

type GitSettings struct {
	Owner      string
	Repository string
	Branch     string
	Path       string
	Token      string
	Personal   bool
	// CAFile is a PEM bundle the flux controllers trust for the git server.
	CAFile string
}

type AWSSettings struct {
	Region            string
	ConnectorRoleName string
	// ConnectorProxy is the HTTPS proxy the connector agent dials out through.
	ConnectorProxy string
}

type VaultSettings struct {
	Address string
	Token   string
	KVMount string
	// TokenReviewerJWT is used by Vault for TokenReview calls. When empty
	// Vault uses the JWT of the logging-in client.
	TokenReviewerJWT string
}

// SecretMapping copies a Vault KV secret into a Kubernetes Secret.
type SecretMapping struct {
	Namespace string `mapstructure:"namespace"`
	Name      string `mapstructure:"name"`
	VaultPath string `mapstructure:"vaultPath"`
}

// Settings is the validated bootstrap configuration.
type Settings struct {
	ClusterName    string
	K3sVersion     string
	K3sInstallURL  string
	KubeconfigPath string
	Packages       []string
	ImageRegistry  string
	// FluxComponentsExtra are optional controllers, e.g.
	// image-reflector-controller.
	FluxComponentsExtra []string
	Git                 GitSettings
	AWS                 AWSSettings
	Vault               VaultSettings
	Secrets             []SecretMapping
}

// VaultEnabled reports whether the Vault steps should run.
func (s *Settings) VaultEnabled() bool {
	return s.Vault.Address != ""
}

// Requirements returns the names that must be set for the given lookup.
// VAULT_TOKEN only becomes required once VAULT_ADDR is set.
func Requirements(lookup precondition.Lookup) *precondition.RequirementSet {
	set := precondition.NewRequirementSet(baseRequirements...)
	if addr, ok := lookup.Lookup(KeyVaultAddr); ok && addr != "" {
		set = set.With(KeyVaultToken)
	}
	return set
}

// FromLookup builds Settings from already validated values. v may be nil; it
// is only used for structured keys that have no env form.
func FromLookup(lookup precondition.Lookup, v *viper.Viper) (*Settings, error) {
	get := func(key, def string) string {
		if val, ok := lookup.Lookup(key); ok && val != "" {
			return val
		}
		return def
	}

	clusterName := get(KeyClusterName, "")
	if clusterName == "" {
		return nil, fmt.Errorf("%s is not set", KeyClusterName)
	}

	personal := false
	if raw := get(KeyGitHubPersonal, ""); raw != "" {
		p, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", KeyGitHubPersonal, raw, err)
		}
		personal = p
	}

	s := &Settings{
		ClusterName:         clusterName,
		K3sVersion:          get(KeyK3sVersion, ""),
		K3sInstallURL:       get(KeyK3sInstallURL, DefaultK3sInstallURL),
		KubeconfigPath:      get(KeyKubeconfigPath, DefaultKubeconfigPath),
		Packages:            packages(lookup),
		ImageRegistry:       get(KeyImageRegistry, ""),
		FluxComponentsExtra: splitList(get(KeyFluxComponents, "")),
		Git: GitSettings{
			Owner:      get(KeyGitHubOwner, ""),
			Repository: get(KeyGitHubRepository, ""),
			Branch:     get(KeyGitHubBranch, DefaultGitHubBranch),
			Path:       get(KeyFluxPath, "clusters/"+clusterName),
			Token:      get(KeyGitHubToken, ""),
			Personal:   personal,
			CAFile:     get(KeyGitCAFile, ""),
		},
		AWS: AWSSettings{
			Region:            get(KeyAWSRegion, ""),
			ConnectorRoleName: get(KeyConnectorRole, clusterName+"-eks-connector"),
			ConnectorProxy:    get(KeyConnectorProxy, ""),
		},
		Vault: VaultSettings{
			Address:          get(KeyVaultAddr, ""),
			Token:            get(KeyVaultToken, ""),
			KVMount:          get(KeyVaultKVMount, DefaultVaultKVMount),
			TokenReviewerJWT: get(KeyVaultReviewerJWT, ""),
		},
	}

	if v != nil && v.IsSet("secrets") {
		if err := v.UnmarshalKey("secrets", &s.Secrets); err != nil {
			return nil, fmt.Errorf("failed to decode secrets: %w", err)
		}
		for i, m := range s.Secrets {
			if m.Namespace == "" || m.Name == "" || m.VaultPath == "" {
				return nil, fmt.Errorf("secrets[%d]: namespace, name and vaultPath are required", i)
			}
		}
	}
	return s, nil
}

// packages returns DefaultPackages unless PACKAGES is set. A PACKAGES that
// is set but empty disables the package step.
func packages(lookup precondition.Lookup) []string {
	raw, ok := lookup.Lookup(KeyPackages)
	if !ok {
		return append([]string{}, DefaultPackages...)
	}
	return splitList(raw)
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
