package installer

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/types"

	"github.com/moolen/k3s-bootstrap/pkg/installer/aws/connector"
	"github.com/moolen/k3s-bootstrap/pkg/installer/pipeline"
)

const (
	connectorNamespace        = "eks-connector"
	connectorActivationSecret = "eks-connector-activation-config"
)

// RegisterCluster verifies the AWS credentials, registers the cluster with
// EKS through the connector and hands the activation to the in-cluster
// agent. Only a registration that is still being deleted is worth retrying;
// every other error is fatal.
func (i *Installer) RegisterCluster(ctx context.Context) error {
	meta, registrar, err := i.newCloud(ctx, i.settings.AWS.Region)
	if err != nil {
		return pipeline.Fatal(fmt.Errorf("logging in to AWS: %w", err))
	}
	i.context.AWSMeta = meta
	logrus.Debugf("Using AWS account %s as %s", meta.AccountID, meta.CallerARN)

	kube, err := i.kubeClients()
	if err != nil {
		return pipeline.Fatal(err)
	}
	activationID, err := currentActivationID(ctx, kube)
	if err != nil {
		return pipeline.Fatal(err)
	}

	reg, err := registrar.Register(ctx, connector.RoleConfig{
		RoleName:    i.settings.AWS.ConnectorRoleName,
		ClusterName: i.settings.ClusterName,
	}, activationID)
	if err != nil {
		err = fmt.Errorf("registering cluster: %w", err)
		if errors.Is(err, connector.ErrDeleting) {
			return err
		}
		return pipeline.Fatal(err)
	}
	i.context.Registration = reg

	if reg.Activation == nil {
		logrus.Infof("Cluster %s is already registered with EKS (%s)", i.settings.ClusterName, reg.Status)
		return nil
	}

	return pipeline.Fatal(upsertSecret(ctx, kube.client, connectorNamespace, connectorActivationSecret, map[string]string{
		"id":     reg.Activation.ID,
		"code":   reg.Activation.Code,
		"region": meta.Region,
	}))
}

// currentActivationID returns the activation id handed to the agent by an
// earlier run, or "" when there is none.
func currentActivationID(ctx context.Context, kube *kubeClients) (string, error) {
	secret := &corev1.Secret{}
	err := kube.client.Get(ctx, types.NamespacedName{Namespace: connectorNamespace, Name: connectorActivationSecret}, secret)
	if apierrors.IsNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading %s/%s: %w", connectorNamespace, connectorActivationSecret, err)
	}
	return string(secret.Data["id"]), nil
}
