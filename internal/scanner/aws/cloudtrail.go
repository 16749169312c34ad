package aws

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"
	cttypes "github.com/aws/aws-sdk-go-v2/service/cloudtrail/types"
	"github.com/rs/zerolog"

	"github.com/shaharia-lab/terediX/internal/scanner"
	"github.com/shaharia-lab/terediX/pkg/resource"
)

// CloudTrail field names. FieldBucketName holds the delivery bucket so trails relate to S3 buckets.
const (
	FieldTrailName         = "trailName"
	FieldHomeRegion        = "homeRegion"
	FieldMultiRegion       = "isMultiRegionTrail"
	FieldLogFileValidation = "logFileValidationEnabled"
	FieldOrganizationTrail = "isOrganizationTrail"
)

// CloudTrail discovers trails.
type CloudTrail struct {
	base
	client CloudTrailAPI
}

// NewCloudTrail creates a trail scanner.
func NewCloudTrail(name string, cfg aws.Config, creds Credentials, fields []string, logger zerolog.Logger) *CloudTrail {
	return &CloudTrail{
		base:   newBase(name, resource.KindAWSCloudTrail, creds, fields, logger),
		client: cloudtrail.NewFromConfig(cfg),
	}
}

// Scan describes every trail visible from the configured region. DescribeTrails does not page.
func (s *CloudTrail) Scan(ctx context.Context, out chan<- resource.Resource) error {
	fetchedAt := s.now()

	output, err := s.client.DescribeTrails(ctx, &cloudtrail.DescribeTrailsInput{})
	if err != nil {
		return s.scanErr(fmt.Errorf("describe trails: %w", err))
	}

	for _, trail := range output.TrailList {
		if err := scanner.Emit(ctx, out, s.convert(ctx, trail, fetchedAt)); err != nil {
			return s.scanErr(err)
		}
	}

	return nil
}

func (s *CloudTrail) convert(ctx context.Context, trail cttypes.Trail, fetchedAt time.Time) resource.Resource {
	name := aws.ToString(trail.Name)
	arn := aws.ToString(trail.TrailARN)

	mapper := scanner.NewFieldMapper(map[string]func() string{
		FieldTrailName:         func() string { return name },
		FieldARN:               func() string { return arn },
		FieldRegion:            func() string { return s.region },
		FieldHomeRegion:        func() string { return aws.ToString(trail.HomeRegion) },
		FieldBucketName:        func() string { return aws.ToString(trail.S3BucketName) },
		FieldMultiRegion:       func() string { return strconv.FormatBool(aws.ToBool(trail.IsMultiRegionTrail)) },
		FieldLogFileValidation: func() string { return strconv.FormatBool(aws.ToBool(trail.LogFileValidationEnabled)) },
		FieldOrganizationTrail: func() string { return strconv.FormatBool(aws.ToBool(trail.IsOrganizationTrail)) },
	}, func() []scanner.Tag { return s.trailTags(ctx, arn) }, s.fields)

	return resource.New(resource.KindAWSCloudTrail, name, arn, s.name, fetchedAt).WithMetaData(mapper.MetaData())
}

func (s *CloudTrail) trailTags(ctx context.Context, arn string) []scanner.Tag {
	output, err := s.client.ListTags(ctx, &cloudtrail.ListTagsInput{ResourceIdList: []string{arn}})
	if err != nil {
		s.logger.Warn().Err(err).Str("trail", arn).Msg("list trail tags")
		return nil
	}
	for _, rt := range output.ResourceTagList {
		if aws.ToString(rt.ResourceId) == arn {
			return tags(rt.TagsList, func(t cttypes.Tag) (*string, *string) { return t.Key, t.Value })
		}
	}
	return nil
}
