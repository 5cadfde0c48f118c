package connector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/sirupsen/logrus"
)

const (
	ClusterTagKey   = "k3s-bootstrap/cluster"
	OwnedTagKey     = "k3s-bootstrap/owned"
	OwnedTagValue   = "true"
	agentPolicyName = "eks-connector-agent"
)

// IAMAPI is the subset of the IAM client used for connector roles.
type IAMAPI interface {
	GetRole(ctx context.Context, params *iam.GetRoleInput, optFns ...func(*iam.Options)) (*iam.GetRoleOutput, error)
	CreateRole(ctx context.Context, params *iam.CreateRoleInput, optFns ...func(*iam.Options)) (*iam.CreateRoleOutput, error)
	UpdateAssumeRolePolicy(ctx context.Context, params *iam.UpdateAssumeRolePolicyInput, optFns ...func(*iam.Options)) (*iam.UpdateAssumeRolePolicyOutput, error)
	TagRole(ctx context.Context, params *iam.TagRoleInput, optFns ...func(*iam.Options)) (*iam.TagRoleOutput, error)
	PutRolePolicy(ctx context.Context, params *iam.PutRolePolicyInput, optFns ...func(*iam.Options)) (*iam.PutRolePolicyOutput, error)
	ListRoles(ctx context.Context, params *iam.ListRolesInput, optFns ...func(*iam.Options)) (*iam.ListRolesOutput, error)
	ListRoleTags(ctx context.Context, params *iam.ListRoleTagsInput, optFns ...func(*iam.Options)) (*iam.ListRoleTagsOutput, error)
	ListRolePolicies(ctx context.Context, params *iam.ListRolePoliciesInput, optFns ...func(*iam.Options)) (*iam.ListRolePoliciesOutput, error)
	DeleteRolePolicy(ctx context.Context, params *iam.DeleteRolePolicyInput, optFns ...func(*iam.Options)) (*iam.DeleteRolePolicyOutput, error)
	DeleteRole(ctx context.Context, params *iam.DeleteRoleInput, optFns ...func(*iam.Options)) (*iam.DeleteRoleOutput, error)
}

// RoleConfig describes the IAM role the EKS connector agent assumes.
type RoleConfig struct {
	RoleName    string
	ClusterName string
}

func (c RoleConfig) tags() []types.Tag {
	return []types.Tag{
		{Key: aws.String(ClusterTagKey), Value: aws.String(c.ClusterName)},
		{Key: aws.String(OwnedTagKey), Value: aws.String(OwnedTagValue)},
	}
}

// EnsureRole creates or updates the connector role and returns its ARN.
func (m *Manager) EnsureRole(ctx context.Context, cfg RoleConfig) (string, error) {
	trustDoc, err := trustPolicy()
	if err != nil {
		return "", err
	}

	var roleArn string
	getOut, err := m.iam.GetRole(ctx, &iam.GetRoleInput{
		RoleName: aws.String(cfg.RoleName),
	})
	if err != nil {
		var notFoundErr *types.NoSuchEntityException
		if !errors.As(err, &notFoundErr) {
			return "", fmt.Errorf("failed to get role: %w", err)
		}
		logrus.Debugf("Role %s not found, creating it", cfg.RoleName)
		createOut, err := m.iam.CreateRole(ctx, &iam.CreateRoleInput{
			RoleName:                 aws.String(cfg.RoleName),
			AssumeRolePolicyDocument: aws.String(trustDoc),
			Description:              aws.String("EKS connector agent role for " + cfg.ClusterName),
			Tags:                     cfg.tags(),
		})
		if err != nil {
			return "", fmt.Errorf("failed to create role: %w", err)
		}
		roleArn = aws.ToString(createOut.Role.Arn)
	} else {
		logrus.Debugf("Role %s already exists, checking trust policy", cfg.RoleName)
		roleArn = aws.ToString(getOut.Role.Arn)
		if !policyEqual(aws.ToString(getOut.Role.AssumeRolePolicyDocument), trustDoc) {
			_, err := m.iam.UpdateAssumeRolePolicy(ctx, &iam.UpdateAssumeRolePolicyInput{
				RoleName:       aws.String(cfg.RoleName),
				PolicyDocument: aws.String(trustDoc),
			})
			if err != nil {
				return "", fmt.Errorf("failed to update trust policy: %w", err)
			}
		}
		_, err = m.iam.TagRole(ctx, &iam.TagRoleInput{
			RoleName: aws.String(cfg.RoleName),
			Tags:     cfg.tags(),
		})
		if err != nil {
			return "", fmt.Errorf("failed to tag role: %w", err)
		}
	}

	logrus.Debugf("Putting inline policy %s for role %s", agentPolicyName, cfg.RoleName)
	_, err = m.iam.PutRolePolicy(ctx, &iam.PutRolePolicyInput{
		PolicyName:     aws.String(agentPolicyName),
		PolicyDocument: aws.String(agentPolicy),
		RoleName:       aws.String(cfg.RoleName),
	})
	if err != nil {
		return "", fmt.Errorf("failed to put inline policy: %w", err)
	}

	return roleArn, nil
}

// agentPolicy lets the connector agent open SSM channels to the EKS console.
const agentPolicy = `{"Version":"2012-10-17","Statement":[` +
	`{"Sid":"SsmControlChannel","Effect":"Allow","Action":["ssmmessages:CreateControlChannel"],"Resource":"arn:aws:eks:*:*:cluster/*"},` +
	`{"Sid":"ssmDataplaneOperations","Effect":"Allow","Action":["ssmmessages:CreateDataChannel","ssmmessages:OpenDataChannel","ssmmessages:OpenControlChannel"],"Resource":"*"}]}`

func trustPolicy() (string, error) {
	trust := map[string]interface{}{
		"Version": "2012-10-17",
		"Statement": []map[string]interface{}{
			{
				"Sid":    "SSMAccess",
				"Effect": "Allow",
				"Principal": map[string]string{
					"Service": "ssm.amazonaws.com",
				},
				"Action": "sts:AssumeRole",
			},
		},
	}

	b, err := json.Marshal(trust)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// policyEqual compares two policy documents semantically. IAM returns the
// stored document URL-encoded, so both forms are accepted.
func policyEqual(current, desired string) bool {
	if decoded, err := url.QueryUnescape(current); err == nil {
		current = decoded
	}
	var a, b interface{}
	if json.Unmarshal([]byte(current), &a) != nil || json.Unmarshal([]byte(desired), &b) != nil {
		return false
	}
	aJSON, _ := json.Marshal(a)
	bJSON, _ := json.Marshal(b)
	return string(aJSON) == string(bJSON)
}
