package aws

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog"

	"github.com/shaharia-lab/terediX/internal/scanner"
	"github.com/shaharia-lab/terediX/pkg/resource"
)

// DynamoDB field names.
const (
	FieldTableName   = "tableName"
	FieldItemCount   = "itemCount"
	FieldSizeBytes   = "sizeBytes"
	FieldBillingMode = "billingMode"
)

// DynamoDB discovers tables.
type DynamoDB struct {
	base
	client DynamoDBAPI
}

// NewDynamoDB creates a table scanner.
func NewDynamoDB(name string, cfg aws.Config, creds Credentials, fields []string, logger zerolog.Logger) *DynamoDB {
	return &DynamoDB{
		base:   newBase(name, resource.KindAWSDynamoDB, creds, fields, logger),
		client: dynamodb.NewFromConfig(cfg),
	}
}

// Scan lists tables and describes each one. A table that fails to describe is logged and skipped.
func (s *DynamoDB) Scan(ctx context.Context, out chan<- resource.Resource) error {
	fetchedAt := s.now()
	var lastKey *string

	for {
		output, err := s.client.ListTables(ctx, &dynamodb.ListTablesInput{ExclusiveStartTableName: lastKey})
		if err != nil {
			return s.scanErr(fmt.Errorf("list tables: %w", err))
		}

		for _, name := range output.TableNames {
			desc, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(name)})
			if err != nil || desc.Table == nil {
				s.logger.Warn().Err(err).Str("table", name).Msg("describe table")
				continue
			}
			if err := scanner.Emit(ctx, out, s.convert(ctx, desc.Table, fetchedAt)); err != nil {
				return s.scanErr(err)
			}
		}

		if output.LastEvaluatedTableName == nil {
			break
		}
		lastKey = output.LastEvaluatedTableName
	}

	return nil
}

func (s *DynamoDB) convert(ctx context.Context, t *ddbtypes.TableDescription, fetchedAt time.Time) resource.Resource {
	name := aws.ToString(t.TableName)
	arn := aws.ToString(t.TableArn)

	mapper := scanner.NewFieldMapper(map[string]func() string{
		FieldTableName: func() string { return name },
		FieldARN:       func() string { return arn },
		FieldRegion:    func() string { return s.region },
		FieldStatus:    func() string { return string(t.TableStatus) },
		FieldItemCount: func() string { return strconv.FormatInt(aws.ToInt64(t.ItemCount), 10) },
		FieldSizeBytes: func() string { return strconv.FormatInt(aws.ToInt64(t.TableSizeBytes), 10) },
		FieldBillingMode: func() string {
			if t.BillingModeSummary == nil {
				return ""
			}
			return string(t.BillingModeSummary.BillingMode)
		},
	}, func() []scanner.Tag { return s.tableTags(ctx, arn) }, s.fields)

	return resource.New(resource.KindAWSDynamoDB, name, arn, s.name, fetchedAt).WithMetaData(mapper.MetaData())
}

func (s *DynamoDB) tableTags(ctx context.Context, arn string) []scanner.Tag {
	output, err := s.client.ListTagsOfResource(ctx, &dynamodb.ListTagsOfResourceInput{ResourceArn: aws.String(arn)})
	if err != nil {
		s.logger.Warn().Err(err).Str("table", arn).Msg("list table tags")
		return nil
	}
	return tags(output.Tags, func(t ddbtypes.Tag) (*string, *string) { return t.Key, t.Value })
}
