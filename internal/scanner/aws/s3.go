package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"

	"github.com/shaharia-lab/terediX/internal/scanner"
	"github.com/shaharia-lab/terediX/pkg/resource"
)

// S3 field names.
const (
	FieldBucketName = "bucketName"
	FieldRegion     = "region"
	FieldARN        = "arn"
)

// S3 discovers buckets.
type S3 struct {
	base
	client S3API
}

// NewS3 creates a bucket scanner.
func NewS3(name string, cfg aws.Config, creds Credentials, fields []string, logger zerolog.Logger) *S3 {
	return &S3{
		base:   newBase(name, resource.KindAWSS3, creds, fields, logger),
		client: s3.NewFromConfig(cfg),
	}
}

// Scan emits every bucket. A failed tag lookup is logged and the bucket kept.
func (s *S3) Scan(ctx context.Context, out chan<- resource.Resource) error {
	output, err := s.client.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return s.scanErr(fmt.Errorf("list buckets: %w", err))
	}

	fetchedAt := s.now()
	for _, bucket := range output.Buckets {
		name := aws.ToString(bucket.Name)
		arn := "arn:aws:s3:::" + name

		mapper := scanner.NewFieldMapper(map[string]func() string{
			FieldBucketName: func() string { return name },
			FieldRegion:     func() string { return s.region },
			FieldARN:        func() string { return arn },
		}, func() []scanner.Tag { return s.bucketTags(ctx, name) }, s.fields)

		r := resource.New(resource.KindAWSS3, name, arn, s.name, fetchedAt).WithMetaData(mapper.MetaData())
		if err := scanner.Emit(ctx, out, r); err != nil {
			return s.scanErr(err)
		}
	}
	return nil
}

func (s *S3) bucketTags(ctx context.Context, bucket string) []scanner.Tag {
	output, err := s.client.GetBucketTagging(ctx, &s3.GetBucketTaggingInput{Bucket: aws.String(bucket)})
	if err != nil {
		s.logger.Warn().Err(err).Str("bucket", bucket).Msg("get bucket tagging")
		return nil
	}
	return tags(output.TagSet, func(t s3types.Tag) (*string, *string) { return t.Key, t.Value })
}
