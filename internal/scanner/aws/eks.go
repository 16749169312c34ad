package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	ekstypes "github.com/aws/aws-sdk-go-v2/service/eks/types"
	"github.com/rs/zerolog"

	"github.com/shaharia-lab/terediX/internal/scanner"
	"github.com/shaharia-lab/terediX/pkg/resource"
)

// EKS field names.
const (
	FieldClusterName     = "clusterName"
	FieldVersion         = "version"
	FieldPlatformVersion = "platformVersion"
)

// EKS discovers Kubernetes clusters.
type EKS struct {
	base
	client EKSAPI
}

// NewEKS creates a cluster scanner.
func NewEKS(name string, cfg aws.Config, creds Credentials, fields []string, logger zerolog.Logger) *EKS {
	return &EKS{
		base:   newBase(name, resource.KindAWSEKS, creds, fields, logger),
		client: eks.NewFromConfig(cfg),
	}
}

// Scan lists clusters and describes each one. A cluster that fails to describe is logged and skipped.
func (s *EKS) Scan(ctx context.Context, out chan<- resource.Resource) error {
	fetchedAt := s.now()
	var nextToken *string

	for {
		output, err := s.client.ListClusters(ctx, &eks.ListClustersInput{NextToken: nextToken})
		if err != nil {
			return s.scanErr(fmt.Errorf("list clusters: %w", err))
		}

		for _, name := range output.Clusters {
			desc, err := s.client.DescribeCluster(ctx, &eks.DescribeClusterInput{Name: aws.String(name)})
			if err != nil || desc.Cluster == nil {
				s.logger.Warn().Err(err).Str("cluster", name).Msg("describe cluster")
				continue
			}
			if err := scanner.Emit(ctx, out, s.convert(desc.Cluster, fetchedAt)); err != nil {
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

func (s *EKS) convert(c *ekstypes.Cluster, fetchedAt time.Time) resource.Resource {
	name := aws.ToString(c.Name)
	arn := aws.ToString(c.Arn)

	mapper := scanner.NewFieldMapper(map[string]func() string{
		FieldClusterName:     func() string { return name },
		FieldARN:             func() string { return arn },
		FieldRegion:          func() string { return s.region },
		FieldVersion:         func() string { return aws.ToString(c.Version) },
		FieldPlatformVersion: func() string { return aws.ToString(c.PlatformVersion) },
		FieldEndpoint:        func() string { return aws.ToString(c.Endpoint) },
		FieldStatus:          func() string { return string(c.Status) },
	}, func() []scanner.Tag { return mapTags(c.Tags) }, s.fields)

	return resource.New(resource.KindAWSEKS, name, arn, s.name, fetchedAt).WithMetaData(mapper.MetaData())
}
