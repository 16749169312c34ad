package aws

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/rs/zerolog"

	"github.com/shaharia-lab/terediX/internal/scanner"
	"github.com/shaharia-lab/terediX/pkg/resource"
)

// Lambda field names.
const (
	FieldFunctionName = "functionName"
	FieldRuntime      = "runtime"
	FieldHandler      = "handler"
	FieldMemorySize   = "memorySize"
	FieldTimeout      = "timeout"
	FieldLastModified = "lastModified"
)

// Lambda discovers functions.
type Lambda struct {
	base
	client LambdaAPI
}

// NewLambda creates a function scanner.
func NewLambda(name string, cfg aws.Config, creds Credentials, fields []string, logger zerolog.Logger) *Lambda {
	return &Lambda{
		base:   newBase(name, resource.KindAWSLambda, creds, fields, logger),
		client: lambda.NewFromConfig(cfg),
	}
}

// Scan pages through ListFunctions.
func (s *Lambda) Scan(ctx context.Context, out chan<- resource.Resource) error {
	fetchedAt := s.now()
	var marker *string

	for {
		output, err := s.client.ListFunctions(ctx, &lambda.ListFunctionsInput{Marker: marker})
		if err != nil {
			return s.scanErr(fmt.Errorf("list functions: %w", err))
		}

		for _, fn := range output.Functions {
			if err := scanner.Emit(ctx, out, s.convert(ctx, fn, fetchedAt)); err != nil {
				return s.scanErr(err)
			}
		}

		if output.NextMarker == nil {
			break
		}
		marker = output.NextMarker
	}

	return nil
}

func (s *Lambda) convert(ctx context.Context, fn lambdatypes.FunctionConfiguration, fetchedAt time.Time) resource.Resource {
	name := aws.ToString(fn.FunctionName)
	arn := aws.ToString(fn.FunctionArn)

	mapper := scanner.NewFieldMapper(map[string]func() string{
		FieldFunctionName: func() string { return name },
		FieldARN:          func() string { return arn },
		FieldRegion:       func() string { return s.region },
		FieldRuntime:      func() string { return string(fn.Runtime) },
		FieldHandler:      func() string { return aws.ToString(fn.Handler) },
		FieldMemorySize:   func() string { return strconv.Itoa(int(aws.ToInt32(fn.MemorySize))) },
		FieldTimeout:      func() string { return strconv.Itoa(int(aws.ToInt32(fn.Timeout))) },
		FieldStatus:       func() string { return string(fn.State) },
		FieldLastModified: func() string { return aws.ToString(fn.LastModified) },
	}, func() []scanner.Tag { return s.functionTags(ctx, arn) }, s.fields)

	return resource.New(resource.KindAWSLambda, name, arn, s.name, fetchedAt).WithMetaData(mapper.MetaData())
}

func (s *Lambda) functionTags(ctx context.Context, arn string) []scanner.Tag {
	output, err := s.client.ListTags(ctx, &lambda.ListTagsInput{Resource: aws.String(arn)})
	if err != nil {
		s.logger.Warn().Err(err).Str("function", arn).Msg("list function tags")
		return nil
	}
	return mapTags(output.Tags)
}
