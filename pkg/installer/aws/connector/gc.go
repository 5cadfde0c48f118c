package connector

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/sirupsen/logrus"
)

// GarbageCollect deletes roles owned by clusterName that are not in desired,
// e.g. after the connector role was renamed.
func (m *Manager) GarbageCollect(ctx context.Context, clusterName string, desired []RoleConfig) error {
	desiredSet := make(map[string]struct{})
	for _, cfg := range desired {
		desiredSet[cfg.RoleName] = struct{}{}
	}

	roles, err := m.listOwnedRoles(ctx, clusterName)
	if err != nil {
		return err
	}

	logrus.Debugf("Found %d roles with tag %s=%s", len(roles), ClusterTagKey, clusterName)
	for _, role := range roles {
		name := aws.ToString(role.RoleName)
		if _, exists := desiredSet[name]; exists {
			continue
		}
		logrus.Debugf("Deleting role %s as it is not in the desired set", name)
		if err := m.deleteRole(ctx, name); err != nil {
			return err
		}
	}

	return nil
}

func (m *Manager) deleteRole(ctx context.Context, name string) error {
	policies, err := m.iam.ListRolePolicies(ctx, &iam.ListRolePoliciesInput{RoleName: aws.String(name)})
	if err != nil {
		return fmt.Errorf("failed to list inline policies of role %s: %w", name, err)
	}
	for _, policy := range policies.PolicyNames {
		_, err := m.iam.DeleteRolePolicy(ctx, &iam.DeleteRolePolicyInput{
			RoleName:   aws.String(name),
			PolicyName: aws.String(policy),
		})
		if err != nil {
			return fmt.Errorf("failed to delete policy %s of role %s: %w", policy, name, err)
		}
	}
	if _, err := m.iam.DeleteRole(ctx, &iam.DeleteRoleInput{RoleName: aws.String(name)}); err != nil {
		return fmt.Errorf("failed to delete role %s: %w", name, err)
	}
	return nil
}

func (m *Manager) listOwnedRoles(ctx context.Context, clusterName string) ([]types.Role, error) {
	var roles []types.Role
	var marker *string
	for {
		out, err := m.iam.ListRoles(ctx, &iam.ListRolesInput{
			Marker: marker,
		})
		if err != nil {
			return nil, err
		}
		for _, role := range out.Roles {
			tagsOut, err := m.iam.ListRoleTags(ctx, &iam.ListRoleTagsInput{
				RoleName: role.RoleName,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to list tags for role %s: %w", aws.ToString(role.RoleName), err)
			}
			if ownedBy(tagsOut.Tags, clusterName) {
				roles = append(roles, role)
			}
		}
		if out.IsTruncated {
			marker = out.Marker
		} else {
			break
		}
	}
	return roles, nil
}

func ownedBy(tags []types.Tag, clusterName string) bool {
	var cluster, owned bool
	for _, tag := range tags {
		switch aws.ToString(tag.Key) {
		case ClusterTagKey:
			cluster = aws.ToString(tag.Value) == clusterName
		case OwnedTagKey:
			owned = aws.ToString(tag.Value) == OwnedTagValue
		}
	}
	return cluster && owned
}
