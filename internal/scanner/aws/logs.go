package aws

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	logstypes "github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	"github.com/rs/zerolog"

	"github.com/shaharia-lab/terediX/internal/scanner"
	"github.com/shaharia-lab/terediX/pkg/resource"
)

// CloudWatch Logs field names.
const (
	FieldLogGroupName    = "logGroupName"
	FieldRetentionInDays = "retentionInDays"
	FieldStoredBytes     = "storedBytes"
	FieldCreationTime    = "creationTime"
)

// Logs discovers CloudWatch log groups.
type Logs struct {
	base
	client LogsAPI
}

// NewLogs creates a log group scanner.
func NewLogs(name string, cfg aws.Config, creds Credentials, fields []string, logger zerolog.Logger) *Logs {
	return &Logs{
		base:   newBase(name, resource.KindAWSLogGroup, creds, fields, logger),
		client: cloudwatchlogs.NewFromConfig(cfg),
	}
}

// Scan pages through DescribeLogGroups.
func (s *Logs) Scan(ctx context.Context, out chan<- resource.Resource) error {
	fetchedAt := s.now()
	var nextToken *string

	for {
		output, err := s.client.DescribeLogGroups(ctx, &cloudwatchlogs.DescribeLogGroupsInput{NextToken: nextToken})
		if err != nil {
			return s.scanErr(fmt.Errorf("describe log groups: %w", err))
		}

		for _, group := range output.LogGroups {
			if err := scanner.Emit(ctx, out, s.convert(ctx, group, fetchedAt)); err != nil {
				return s.scanErr(err)
			}
		}

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return nil
}

func (s *Logs) convert(ctx context.Context, group logstypes.LogGroup, fetchedAt time.Time) resource.Resource {
	name := aws.ToString(group.LogGroupName)
	arn := logGroupARN(group)

	mapper := scanner.NewFieldMapper(map[string]func() string{
		FieldLogGroupName: func() string { return name },
		FieldARN:          func() string { return arn },
		FieldRegion:       func() string { return s.region },
		FieldRetentionInDays: func() string {
			if group.RetentionInDays == nil {
				return ""
			}
			return strconv.Itoa(int(*group.RetentionInDays))
		},
		FieldStoredBytes: func() string { return strconv.FormatInt(aws.ToInt64(group.StoredBytes), 10) },
		FieldCreationTime: func() string {
			if group.CreationTime == nil {
				return ""
			}
			return time.UnixMilli(*group.CreationTime).UTC().Format(time.RFC3339)
		},
	}, func() []scanner.Tag { return s.groupTags(ctx, arn) }, s.fields)

	return resource.New(resource.KindAWSLogGroup, name, arn, s.name, fetchedAt).WithMetaData(mapper.MetaData())
}

func (s *Logs) groupTags(ctx context.Context, arn string) []scanner.Tag {
	output, err := s.client.ListTagsForResource(ctx, &cloudwatchlogs.ListTagsForResourceInput{ResourceArn: aws.String(arn)})
	if err != nil {
		s.logger.Warn().Err(err).Str("log_group", arn).Msg("list log group tags")
		return nil
	}
	return mapTags(output.Tags)
}

// logGroupARN returns the group ARN without the ":*" stream wildcard, which the tagging API rejects.
func logGroupARN(group logstypes.LogGroup) string {
	if arn := aws.ToString(group.LogGroupArn); arn != "" {
		return arn
	}
	return strings.TrimSuffix(aws.ToString(group.Arn), ":*")
}
