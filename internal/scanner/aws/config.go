// Package aws implements the AWS scanners: S3, EC2, RDS, ECR, EKS, ECS, Lambda, DynamoDB, SQS,
// Auto Scaling, ELB, IAM roles, KMS, MemoryDB, Redshift, Route 53, CloudWatch Logs and CloudTrail.
package aws

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/rs/zerolog"

	"github.com/shaharia-lab/terediX/internal/scanner"
)

// Source configuration keys.
const (
	KeyAccessKey    = "access_key"
	KeySecretKey    = "secret_key"
	KeySessionToken = "session_token"
	KeyRegion       = "region"
	KeyAccountID    = "account_id"
)

// Credentials holds the connection settings of one AWS source.
type Credentials struct {
	AccessKey    string
	SecretKey    string
	SessionToken string
	Region       string
	AccountID    string
}

// CredentialsFromConfig reads credentials from a source configuration map.
func CredentialsFromConfig(cfg map[string]string) Credentials {
	return Credentials{
		AccessKey:    cfg[KeyAccessKey],
		SecretKey:    cfg[KeySecretKey],
		SessionToken: cfg[KeySessionToken],
		Region:       cfg[KeyRegion],
		AccountID:    cfg[KeyAccountID],
	}
}

// BuildAWSConfig loads an SDK config for creds. Static keys are used when present,
// otherwise the default credential chain applies.
func BuildAWSConfig(ctx context.Context, creds Credentials) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(creds.Region),
	}
	if creds.AccessKey != "" && creds.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(creds.AccessKey, creds.SecretKey, creds.SessionToken),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return cfg, nil
}

// base carries what every AWS scanner shares.
type base struct {
	name      string
	kind      string
	region    string
	accountID string
	fields    []string
	logger    zerolog.Logger
	now       func() time.Time
}

func newBase(name, kind string, creds Credentials, fields []string, logger zerolog.Logger) base {
	return base{
		name:      name,
		kind:      kind,
		region:    creds.Region,
		accountID: creds.AccountID,
		fields:    fields,
		logger:    logger.With().Str("source", name).Str("kind", kind).Logger(),
		now:       time.Now,
	}
}

func (b *base) Name() string { return b.name }

func (b *base) Kind() string { return b.kind }

func (b *base) scanErr(err error) error {
	return &scanner.ScanError{Source: b.name, Kind: b.kind, Err: err}
}

// tags converts SDK key/value pairs.
func tags[T any](in []T, kv func(T) (*string, *string)) []scanner.Tag {
	out := make([]scanner.Tag, 0, len(in))
	for _, t := range in {
		k, v := kv(t)
		out = append(out, scanner.Tag{Key: aws.ToString(k), Value: aws.ToString(v)})
	}
	return out
}

// mapTags converts a tag map, sorted by key.
func mapTags(in map[string]string) []scanner.Tag {
	out := make([]scanner.Tag, 0, len(in))
	for k, v := range in {
		out = append(out, scanner.Tag{Key: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
