package kubemeta

import (
	"context"
	"fmt"
	"os"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// MetadataKeys for returned map
const (
	KeyKubeVersion = "kube_version"
	KeyKubeHost    = "kube_host"
)

type Metadata struct {
	KubeVersion string
	CACertPEM   string
	Host        string
}

func (m *Metadata) ToMap() map[string]string {
	return map[string]string{
		KeyKubeVersion: m.KubeVersion,
		KeyKubeHost:    m.Host,
	}
}

// Load reads the server version and the cluster CA from the cluster behind
// clientset. host is the API server address Vault should call back to.
func Load(ctx context.Context, clientset kubernetes.Interface, host string) (*Metadata, error) {
	serverVersion, err := clientset.Discovery().ServerVersion()
	if err != nil {
		return nil, fmt.Errorf("failed to get server version: %w", err)
	}

	caConfigMap, err := clientset.CoreV1().ConfigMaps("default").Get(ctx, "kube-root-ca.crt", metav1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get kube-root-ca.crt configmap: %w", err)
	}
	if caConfigMap.Data == nil || caConfigMap.Data["ca.crt"] == "" {
		return nil, fmt.Errorf("kube-root-ca.crt configmap is missing or empty")
	}

	return &Metadata{
		KubeVersion: serverVersion.GitVersion,
		CACertPEM:   caConfigMap.Data["ca.crt"],
		Host:        host,
	}, nil
}

// RestConfig builds a client config from kubeconfigPath. An empty path falls
// back to KUBECONFIG and then the default home location.
func RestConfig(kubeconfigPath string) (*rest.Config, error) {
	if kubeconfigPath == "" {
		kubeconfigPath = os.Getenv("KUBECONFIG")
	}
	if kubeconfigPath == "" {
		kubeconfigPath = clientcmd.RecommendedHomeFile
	}

	restConfig, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
		&clientcmd.ClientConfigLoadingRules{ExplicitPath: kubeconfigPath},
		&clientcmd.ConfigOverrides{},
	).ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to build rest config from %s: %w", kubeconfigPath, err)
	}

	return restConfig, nil
}
