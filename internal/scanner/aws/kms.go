package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/rs/zerolog"

	"github.com/shaharia-lab/terediX/internal/scanner"
	"github.com/shaharia-lab/terediX/pkg/resource"
)

// KMS field names.
const (
	FieldKeyID      = "keyId"
	FieldKeyUsage   = "keyUsage"
	FieldKeySpec    = "keySpec"
	FieldKeyManager = "keyManager"
	FieldAlias      = "alias"
)

// KMS discovers customer managed keys. AWS managed keys are skipped.
type KMS struct {
	base
	client KMSAPI
}

// NewKMS creates a key scanner.
func NewKMS(name string, cfg aws.Config, creds Credentials, fields []string, logger zerolog.Logger) *KMS {
	return &KMS{
		base:   newBase(name, resource.KindAWSKMS, creds, fields, logger),
		client: kms.NewFromConfig(cfg),
	}
}

// Scan pages through ListKeys and describes each key. A key that fails to describe is logged and skipped.
func (s *KMS) Scan(ctx context.Context, out chan<- resource.Resource) error {
	fetchedAt := s.now()
	var marker *string

	for {
		output, err := s.client.ListKeys(ctx, &kms.ListKeysInput{Marker: marker})
		if err != nil {
			return s.scanErr(fmt.Errorf("list keys: %w", err))
		}

		for _, key := range output.Keys {
			keyID := aws.ToString(key.KeyId)
			desc, err := s.client.DescribeKey(ctx, &kms.DescribeKeyInput{KeyId: key.KeyId})
			if err != nil || desc.KeyMetadata == nil {
				s.logger.Warn().Err(err).Str("key", keyID).Msg("describe key")
				continue
			}
			if desc.KeyMetadata.KeyManager == kmstypes.KeyManagerTypeAws {
				continue
			}
			if err := scanner.Emit(ctx, out, s.convert(ctx, desc.KeyMetadata, fetchedAt)); err != nil {
				return s.scanErr(err)
			}
		}

		if !output.Truncated || output.NextMarker == nil {
			break
		}
		marker = output.NextMarker
	}

	return nil
}

func (s *KMS) convert(ctx context.Context, key *kmstypes.KeyMetadata, fetchedAt time.Time) resource.Resource {
	keyID := aws.ToString(key.KeyId)
	arn := aws.ToString(key.Arn)
	alias := s.alias(ctx, keyID)

	name := keyID
	if alias != "" {
		name = alias
	}

	mapper := scanner.NewFieldMapper(map[string]func() string{
		FieldKeyID:       func() string { return keyID },
		FieldARN:         func() string { return arn },
		FieldRegion:      func() string { return s.region },
		FieldStatus:      func() string { return string(key.KeyState) },
		FieldKeyUsage:    func() string { return string(key.KeyUsage) },
		FieldKeySpec:     func() string { return string(key.KeySpec) },
		FieldKeyManager:  func() string { return string(key.KeyManager) },
		FieldDescription: func() string { return aws.ToString(key.Description) },
		FieldAlias:       func() string { return alias },
	}, func() []scanner.Tag { return s.keyTags(ctx, keyID) }, s.fields)

	return resource.New(resource.KindAWSKMS, name, arn, s.name, fetchedAt).WithMetaData(mapper.MetaData())
}

// alias returns the first alias of keyID, or "" when it has none.
func (s *KMS) alias(ctx context.Context, keyID string) string {
	output, err := s.client.ListAliases(ctx, &kms.ListAliasesInput{KeyId: aws.String(keyID)})
	if err != nil {
		s.logger.Warn().Err(err).Str("key", keyID).Msg("list key aliases")
		return ""
	}
	if len(output.Aliases) == 0 {
		return ""
	}
	return aws.ToString(output.Aliases[0].AliasName)
}

func (s *KMS) keyTags(ctx context.Context, keyID string) []scanner.Tag {
	output, err := s.client.ListResourceTags(ctx, &kms.ListResourceTagsInput{KeyId: aws.String(keyID)})
	if err != nil {
		s.logger.Warn().Err(err).Str("key", keyID).Msg("list key tags")
		return nil
	}
	return tags(output.Tags, func(t kmstypes.Tag) (*string, *string) { return t.TagKey, t.TagValue })
}
