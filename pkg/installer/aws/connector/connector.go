package connector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	"github.com/aws/aws-sdk-go-v2/service/eks/types"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/sirupsen/logrus"
)

// ErrDeleting is returned while EKS is still removing an earlier
// registration of the cluster. Retrying later succeeds.
var ErrDeleting = errors.New("previous registration is still being deleted")

// EKSAPI is the subset of the EKS client used to register clusters.
type EKSAPI interface {
	DescribeCluster(ctx context.Context, params *eks.DescribeClusterInput, optFns ...func(*eks.Options)) (*eks.DescribeClusterOutput, error)
	RegisterCluster(ctx context.Context, params *eks.RegisterClusterInput, optFns ...func(*eks.Options)) (*eks.RegisterClusterOutput, error)
	DeregisterCluster(ctx context.Context, params *eks.DeregisterClusterInput, optFns ...func(*eks.Options)) (*eks.DeregisterClusterOutput, error)
}

// Activation holds the one-time credentials the connector agent needs to
// complete the registration from inside the cluster.
type Activation struct {
	ID     string
	Code   string
	Expiry time.Time
}

// Registration is the outcome of Register. Activation is nil when the
// cluster was already connected.
type Registration struct {
	ClusterArn string
	RoleArn    string
	Status     types.ClusterStatus
	Activation *Activation
}

type Manager struct {
	iam IAMAPI
	eks EKSAPI
}

func New(cfg aws.Config) *Manager {
	return &Manager{iam: iam.NewFromConfig(cfg), eks: eks.NewFromConfig(cfg)}
}

func NewWithClients(iamClient IAMAPI, eksClient EKSAPI) *Manager {
	return &Manager{iam: iamClient, eks: eksClient}
}

// Register makes sure the connector role exists and the cluster is
// registered with EKS. activationID is the activation the in-cluster agent
// already holds, if any. A pending registration for that activation is kept
// while it is valid since EKS hands out the activation code only once. Any
// other pending or failed registration is replaced.
func (m *Manager) Register(ctx context.Context, role RoleConfig, activationID string) (*Registration, error) {
	roleArn, err := m.EnsureRole(ctx, role)
	if err != nil {
		return nil, fmt.Errorf("ensuring connector role: %w", err)
	}
	if err := m.GarbageCollect(ctx, role.ClusterName, []RoleConfig{role}); err != nil {
		return nil, fmt.Errorf("garbage collecting connector roles: %w", err)
	}

	existing, err := m.describe(ctx, role.ClusterName)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		switch {
		case existing.Status == types.ClusterStatusActive || existing.Status == types.ClusterStatusUpdating:
			logrus.Debugf("Cluster %s is already registered (%s)", role.ClusterName, existing.Status)
			return &Registration{
				ClusterArn: aws.ToString(existing.Arn),
				RoleArn:    roleArn,
				Status:     existing.Status,
			}, nil
		case existing.Status == types.ClusterStatusDeleting:
			return nil, fmt.Errorf("cluster %s: %w", role.ClusterName, ErrDeleting)
		case existing.Status == types.ClusterStatusPending && activationPending(existing.ConnectorConfig, activationID):
			logrus.Debugf("Cluster %s is waiting for activation %s", role.ClusterName, activationID)
			return &Registration{
				ClusterArn: aws.ToString(existing.Arn),
				RoleArn:    roleArn,
				Status:     existing.Status,
			}, nil
		default:
			logrus.Debugf("Cluster %s registration is %s, registering again", role.ClusterName, existing.Status)
			if _, err := m.eks.DeregisterCluster(ctx, &eks.DeregisterClusterInput{Name: aws.String(role.ClusterName)}); err != nil {
				return nil, fmt.Errorf("failed to deregister stale cluster %s: %w", role.ClusterName, err)
			}
		}
	}

	out, err := m.eks.RegisterCluster(ctx, &eks.RegisterClusterInput{
		Name: aws.String(role.ClusterName),
		ConnectorConfig: &types.ConnectorConfigRequest{
			Provider: types.ConnectorConfigProviderOther,
			RoleArn:  aws.String(roleArn),
		},
		Tags: map[string]string{
			ClusterTagKey: role.ClusterName,
			OwnedTagKey:   OwnedTagValue,
		},
	})
	if err != nil {
		var inUse *types.ResourceInUseException
		if errors.As(err, &inUse) {
			return nil, fmt.Errorf("cluster %s: %w: %v", role.ClusterName, ErrDeleting, err)
		}
		return nil, fmt.Errorf("failed to register cluster %s: %w", role.ClusterName, err)
	}
	if out.Cluster == nil || out.Cluster.ConnectorConfig == nil {
		return nil, fmt.Errorf("register cluster %s: response has no connector config", role.ClusterName)
	}

	cc := out.Cluster.ConnectorConfig
	return &Registration{
		ClusterArn: aws.ToString(out.Cluster.Arn),
		RoleArn:    roleArn,
		Status:     out.Cluster.Status,
		Activation: &Activation{
			ID:     aws.ToString(cc.ActivationId),
			Code:   aws.ToString(cc.ActivationCode),
			Expiry: aws.ToTime(cc.ActivationExpiry),
		},
	}, nil
}

// activationPending reports whether cc still belongs to activationID and
// has not expired.
func activationPending(cc *types.ConnectorConfigResponse, activationID string) bool {
	if cc == nil || activationID == "" || aws.ToString(cc.ActivationId) != activationID {
		return false
	}
	return cc.ActivationExpiry == nil || time.Now().Before(*cc.ActivationExpiry)
}

func (m *Manager) describe(ctx context.Context, name string) (*types.Cluster, error) {
	out, err := m.eks.DescribeCluster(ctx, &eks.DescribeClusterInput{Name: aws.String(name)})
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to describe cluster %s: %w", name, err)
	}
	return out.Cluster, nil
}
