package awsmeta

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// MetadataKeys for returned map
const (
	KeyAccountID = "aws_account_id"
	KeyRegion    = "aws_region"
	KeyCaller    = "aws_caller_arn"
)

type Metadata struct {
	AccountID string `json:"aws_account_id"`
	Region    string `json:"aws_region"`
	CallerARN string `json:"aws_caller_arn"`
}

func (m *Metadata) ToMap() map[string]string {
	return map[string]string{
		KeyAccountID: m.AccountID,
		KeyRegion:    m.Region,
		KeyCaller:    m.CallerARN,
	}
}

// IdentityAPI is the subset of the STS client used here.
type IdentityAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// LoadConfig loads the default AWS credential chain pinned to region.
func LoadConfig(ctx context.Context, region string) (aws.Config, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	if cfg.Region == "" {
		return aws.Config{}, fmt.Errorf("AWS region not found in config")
	}
	return cfg, nil
}

// Load resolves the account the bootstrap credentials belong to. It doubles
// as the cloud login check: invalid credentials fail here before anything is
// registered.
func Load(ctx context.Context, cfg aws.Config) (*Metadata, error) {
	return LoadWith(ctx, sts.NewFromConfig(cfg), cfg.Region)
}

func LoadWith(ctx context.Context, client IdentityAPI, region string) (*Metadata, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	identity, err := client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return nil, fmt.Errorf("failed to get caller identity: %w", err)
	}
	if aws.ToString(identity.Account) == "" {
		return nil, fmt.Errorf("caller identity has no account")
	}

	return &Metadata{
		AccountID: aws.ToString(identity.Account),
		Region:    region,
		CallerARN: aws.ToString(identity.Arn),
	}, nil
}
