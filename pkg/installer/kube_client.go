package installer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	corev1 "k8s.io/api/core/v1"
	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	utilyaml "k8s.io/apimachinery/pkg/util/yaml"
	"k8s.io/client-go/kubernetes"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"

	"github.com/moolen/k3s-bootstrap/pkg/installer/config/kubemeta"
)

const fieldManager = "k3s-bootstrap"

// kubeClients groups the two client flavours the steps need. They are built
// lazily because the kubeconfig only exists once k3s is installed.
type kubeClients struct {
	host      string
	clientset kubernetes.Interface
	client    client.Client
}

func newScheme() *runtime.Scheme {
	scheme := runtime.NewScheme()
	_ = clientgoscheme.AddToScheme(scheme)
	_ = apiextensionsv1.AddToScheme(scheme)
	return scheme
}

func loadKubeClients(kubeconfigPath string) (*kubeClients, error) {
	restConfig, err := kubemeta.RestConfig(kubeconfigPath)
	if err != nil {
		return nil, err
	}
	return newKubeClients(restConfig)
}

func newKubeClients(restConfig *rest.Config) (*kubeClients, error) {
	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kubernetes client: %w", err)
	}
	cl, err := client.New(restConfig, client.Options{Scheme: newScheme()})
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}
	return &kubeClients{host: restConfig.Host, clientset: clientset, client: cl}, nil
}

// applyYAMLManifests server-side applies every document in yamlData. Objects
// are applied as unstructured so custom resources need no registered types.
func applyYAMLManifests(ctx context.Context, cl client.Client, yamlData []byte) error {
	decoder := utilyaml.NewYAMLOrJSONDecoder(bytes.NewReader(yamlData), 4096)

	for {
		raw := map[string]interface{}{}
		if err := decoder.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("failed to decode YAML: %w", err)
		}
		if len(raw) == 0 {
			continue // skip empty docs
		}

		obj := &unstructured.Unstructured{Object: raw}
		if obj.GetKind() == "" || obj.GetAPIVersion() == "" {
			return fmt.Errorf("manifest %q has no apiVersion or kind", obj.GetName())
		}

		logrus.Debugf("Applying %s %s/%s", obj.GetKind(), obj.GetNamespace(), obj.GetName())
		err := cl.Patch(ctx, obj, client.Apply, &client.PatchOptions{
			Force:        ptr.To(true),
			FieldManager: fieldManager,
		})
		if err != nil {
			return fmt.Errorf("failed to apply %s %s/%s: %w",
				obj.GetKind(), obj.GetNamespace(), obj.GetName(), err)
		}
	}

	return nil
}

// crdsEstablished returns an error unless every named CRD is established.
func crdsEstablished(ctx context.Context, cl client.Client, names ...string) error {
	for _, name := range names {
		crd := &apiextensionsv1.CustomResourceDefinition{}
		if err := cl.Get(ctx, types.NamespacedName{Name: name}, crd); err != nil {
			return fmt.Errorf("getting CRD %s: %w", name, err)
		}
		established := false
		for _, cond := range crd.Status.Conditions {
			if cond.Type == apiextensionsv1.Established && cond.Status == apiextensionsv1.ConditionTrue {
				established = true
			}
		}
		if !established {
			return fmt.Errorf("CRD %s is not established yet", name)
		}
	}
	return nil
}

// upsertSecret creates the namespace if needed and creates or updates an
// Opaque secret holding data.
func upsertSecret(ctx context.Context, cl client.Client, namespace, name string, data map[string]string) error {
	ns := &corev1.Namespace{}
	ns.Name = namespace
	if _, err := controllerutil.CreateOrUpdate(ctx, cl, ns, func() error { return nil }); err != nil {
		return fmt.Errorf("ensuring namespace %s: %w", namespace, err)
	}

	secret := &corev1.Secret{}
	secret.Name = name
	secret.Namespace = namespace
	op, err := controllerutil.CreateOrUpdate(ctx, cl, secret, func() error {
		if secret.Labels == nil {
			secret.Labels = map[string]string{}
		}
		secret.Labels["app.kubernetes.io/managed-by"] = fieldManager
		if secret.Type == "" {
			secret.Type = corev1.SecretTypeOpaque
		}
		secret.Data = make(map[string][]byte, len(data))
		for k, v := range data {
			secret.Data[k] = []byte(v)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("writing secret %s/%s: %w", namespace, name, err)
	}
	logrus.Debugf("Secret %s/%s %s", namespace, name, op)
	return nil
}
