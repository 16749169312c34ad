package aws

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/rs/zerolog"

	"github.com/shaharia-lab/terediX/internal/scanner"
	"github.com/shaharia-lab/terediX/pkg/resource"
)

// SQS field names.
const (
	FieldQueueName = "queueName"
	FieldQueueURL  = "queueUrl"
)

const sqsPageSize = 1000

// SQS discovers queues. The queue URL is the external id.
type SQS struct {
	base
	client SQSAPI
}

// NewSQS creates a queue scanner.
func NewSQS(name string, cfg aws.Config, creds Credentials, fields []string, logger zerolog.Logger) *SQS {
	return &SQS{
		base:   newBase(name, resource.KindAWSSQS, creds, fields, logger),
		client: sqs.NewFromConfig(cfg),
	}
}

// Scan pages through ListQueues.
func (s *SQS) Scan(ctx context.Context, out chan<- resource.Resource) error {
	fetchedAt := s.now()
	var nextToken *string

	for {
		output, err := s.client.ListQueues(ctx, &sqs.ListQueuesInput{
			MaxResults: aws.Int32(sqsPageSize),
			NextToken:  nextToken,
		})
		if err != nil {
			return s.scanErr(fmt.Errorf("list queues: %w", err))
		}

		for _, url := range output.QueueUrls {
			if err := scanner.Emit(ctx, out, s.convert(ctx, url, fetchedAt)); err != nil {
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

func (s *SQS) convert(ctx context.Context, url string, fetchedAt time.Time) resource.Resource {
	name := queueName(url)

	mapper := scanner.NewFieldMapper(map[string]func() string{
		FieldQueueName: func() string { return name },
		FieldQueueURL:  func() string { return url },
		FieldRegion:    func() string { return s.region },
	}, func() []scanner.Tag { return s.queueTags(ctx, url) }, s.fields)

	return resource.New(resource.KindAWSSQS, name, url, s.name, fetchedAt).WithMetaData(mapper.MetaData())
}

func (s *SQS) queueTags(ctx context.Context, url string) []scanner.Tag {
	output, err := s.client.ListQueueTags(ctx, &sqs.ListQueueTagsInput{QueueUrl: aws.String(url)})
	if err != nil {
		s.logger.Warn().Err(err).Str("queue", url).Msg("list queue tags")
		return nil
	}
	return mapTags(output.Tags)
}

// queueName returns the last path segment of a queue URL.
func queueName(url string) string {
	if i := strings.LastIndex(url, "/"); i >= 0 {
		return url[i+1:]
	}
	return url
}
