package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"
	"github.com/rs/zerolog"

	"github.com/shaharia-lab/terediX/internal/scanner"
	"github.com/shaharia-lab/terediX/pkg/resource"
)

// ECR field names.
const (
	FieldRepositoryName = "repositoryName"
	FieldRepositoryArn  = "repositoryArn"
	FieldRegistryID     = "registryId"
	FieldRepositoryURI  = "repositoryUri"
)

const ecrPageSize = 100

// ECR discovers container image repositories.
type ECR struct {
	base
	client ECRAPI
}

// NewECR creates a repository scanner.
func NewECR(name string, cfg aws.Config, creds Credentials, fields []string, logger zerolog.Logger) *ECR {
	return &ECR{
		base:   newBase(name, resource.KindAWSECR, creds, fields, logger),
		client: ecr.NewFromConfig(cfg),
	}
}

// Scan pages through DescribeRepositories. A failed tag lookup is logged and the repository kept.
func (s *ECR) Scan(ctx context.Context, out chan<- resource.Resource) error {
	fetchedAt := s.now()
	var nextToken *string

	for {
		output, err := s.client.DescribeRepositories(ctx, &ecr.DescribeRepositoriesInput{
			MaxResults: aws.Int32(ecrPageSize),
			NextToken:  nextToken,
		})
		if err != nil {
			return s.scanErr(fmt.Errorf("describe repositories: %w", err))
		}

		for _, repo := range output.Repositories {
			if err := scanner.Emit(ctx, out, s.convert(ctx, repo, fetchedAt)); err != nil {
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

func (s *ECR) convert(ctx context.Context, repo ecrtypes.Repository, fetchedAt time.Time) resource.Resource {
	name := aws.ToString(repo.RepositoryName)
	arn := aws.ToString(repo.RepositoryArn)

	mapper := scanner.NewFieldMapper(map[string]func() string{
		FieldRepositoryName: func() string { return name },
		FieldRepositoryArn:  func() string { return arn },
		FieldRegistryID:     func() string { return aws.ToString(repo.RegistryId) },
		FieldRepositoryURI:  func() string { return aws.ToString(repo.RepositoryUri) },
	}, func() []scanner.Tag { return s.repositoryTags(ctx, arn) }, s.fields)

	return resource.New(resource.KindAWSECR, name, arn, s.name, fetchedAt).WithMetaData(mapper.MetaData())
}

func (s *ECR) repositoryTags(ctx context.Context, arn string) []scanner.Tag {
	output, err := s.client.ListTagsForResource(ctx, &ecr.ListTagsForResourceInput{ResourceArn: aws.String(arn)})
	if err != nil {
		s.logger.Warn().Err(err).Str("repository", arn).Msg("list repository tags")
		return nil
	}
	return tags(output.Tags, func(t ecrtypes.Tag) (*string, *string) { return t.Key, t.Value })
}
