package aws

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
	"github.com/rs/zerolog"

	"github.com/shaharia-lab/terediX/internal/scanner"
	"github.com/shaharia-lab/terediX/pkg/resource"
)

// ECS field names.
const (
	FieldActiveServices    = "activeServicesCount"
	FieldRunningTasks      = "runningTasksCount"
	FieldPendingTasks      = "pendingTasksCount"
	FieldContainerInstance = "registeredContainerInstancesCount"
)

// DescribeClusters accepts at most 100 clusters per call.
const ecsDescribeBatch = 100

// ECS discovers container service clusters.
type ECS struct {
	base
	client ECSAPI
}

// NewECS creates a cluster scanner.
func NewECS(name string, cfg aws.Config, creds Credentials, fields []string, logger zerolog.Logger) *ECS {
	return &ECS{
		base:   newBase(name, resource.KindAWSECS, creds, fields, logger),
		client: ecs.NewFromConfig(cfg),
	}
}

// Scan lists cluster ARNs page by page and describes them in batches.
func (s *ECS) Scan(ctx context.Context, out chan<- resource.Resource) error {
	fetchedAt := s.now()
	var nextToken *string

	for {
		output, err := s.client.ListClusters(ctx, &ecs.ListClustersInput{NextToken: nextToken})
		if err != nil {
			return s.scanErr(fmt.Errorf("list clusters: %w", err))
		}

		for start := 0; start < len(output.ClusterArns); start += ecsDescribeBatch {
			end := min(start+ecsDescribeBatch, len(output.ClusterArns))
			desc, err := s.client.DescribeClusters(ctx, &ecs.DescribeClustersInput{
				Clusters: output.ClusterArns[start:end],
				Include:  []ecstypes.ClusterField{ecstypes.ClusterFieldTags},
			})
			if err != nil {
				return s.scanErr(fmt.Errorf("describe clusters: %w", err))
			}
			for _, c := range desc.Clusters {
				if err := scanner.Emit(ctx, out, s.convert(c, fetchedAt)); err != nil {
					return s.scanErr(err)
				}
			}
		}

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return nil
}

func (s *ECS) convert(c ecstypes.Cluster, fetchedAt time.Time) resource.Resource {
	name := aws.ToString(c.ClusterName)
	arn := aws.ToString(c.ClusterArn)

	mapper := scanner.NewFieldMapper(map[string]func() string{
		FieldClusterName:       func() string { return name },
		FieldARN:               func() string { return arn },
		FieldRegion:            func() string { return s.region },
		FieldStatus:            func() string { return aws.ToString(c.Status) },
		FieldActiveServices:    func() string { return strconv.Itoa(int(c.ActiveServicesCount)) },
		FieldRunningTasks:      func() string { return strconv.Itoa(int(c.RunningTasksCount)) },
		FieldPendingTasks:      func() string { return strconv.Itoa(int(c.PendingTasksCount)) },
		FieldContainerInstance: func() string { return strconv.Itoa(int(c.RegisteredContainerInstancesCount)) },
	}, func() []scanner.Tag {
		return tags(c.Tags, func(t ecstypes.Tag) (*string, *string) { return t.Key, t.Value })
	}, s.fields)

	return resource.New(resource.KindAWSECS, name, arn, s.name, fetchedAt).WithMetaData(mapper.MetaData())
}
