package config

import (
	"bytes"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/serializer/json"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
)

const (
	ClusterConfigName      = "cluster-config"
	ClusterConfigNamespace = "flux-system"
)

// ToMap returns the values published to the cluster for Flux post-build
// substitution. Credentials are never included.
func (s *Settings) ToMap() map[string]string {
	return map[string]string{
		"cluster_name":       s.ClusterName,
		"k3s_version":        s.K3sVersion,
		"git_owner":          s.Git.Owner,
		"git_repository":     s.Git.Repository,
		"git_branch":         s.Git.Branch,
		"flux_path":          s.Git.Path,
		"eks_connector_role": s.AWS.ConnectorRoleName,
		"vault_addr":         s.Vault.Address,
	}
}

// Render returns the cluster-config ConfigMap holding the merged maps.
func Render(maps ...map[string]string) ([]byte, error) {
	cm, err := mapToConfigMapYAML(ClusterConfigName, ClusterConfigNamespace, mergeMaps(maps...))
	if err != nil {
		return nil, fmt.Errorf("failed to create ConfigMap YAML: %w", err)
	}
	return []byte(cm), nil
}

func mapToConfigMapYAML(name, namespace string, data map[string]string) (string, error) {
	scheme := runtime.NewScheme()
	_ = clientgoscheme.AddToScheme(scheme)

	cm := &corev1.ConfigMap{
		TypeMeta:   metav1.TypeMeta{Kind: "ConfigMap", APIVersion: "v1"},
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace},
		Data:       data,
	}

	serializer := json.NewSerializerWithOptions(
		json.DefaultMetaFactory, scheme, scheme,
		json.SerializerOptions{Yaml: true, Pretty: true, Strict: true},
	)

	var buf bytes.Buffer
	if err := serializer.Encode(cm, &buf); err != nil {
		return "", fmt.Errorf("failed to serialize ConfigMap: %w", err)
	}

	return buf.String(), nil
}

// mergeMaps merges left to right; later maps win. Empty values are dropped.
func mergeMaps(maps ...map[string]string) map[string]string {
	merged := make(map[string]string)
	for _, m := range maps {
		for k, v := range m {
			if v == "" {
				continue
			}
			merged[k] = v
		}
	}
	return merged
}
