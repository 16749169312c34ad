package aws

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/memorydb"
	memorydbtypes "github.com/aws/aws-sdk-go-v2/service/memorydb/types"
	"github.com/rs/zerolog"

	"github.com/shaharia-lab/terediX/internal/scanner"
	"github.com/shaharia-lab/terediX/pkg/resource"
)

// MemoryDB field names.
const (
	FieldNodeType   = "nodeType"
	FieldShardCount = "shardCount"
	FieldNodeCount  = "nodeCount"
	FieldTLSEnabled = "tlsEnabled"
)

// MemoryDB discovers MemoryDB clusters.
type MemoryDB struct {
	base
	client MemoryDBAPI
}

// NewMemoryDB creates a cluster scanner.
func NewMemoryDB(name string, cfg aws.Config, creds Credentials, fields []string, logger zerolog.Logger) *MemoryDB {
	return &MemoryDB{
		base:   newBase(name, resource.KindAWSMemoryDB, creds, fields, logger),
		client: memorydb.NewFromConfig(cfg),
	}
}

// Scan pages through DescribeClusters with shard details so node counts are known.
func (s *MemoryDB) Scan(ctx context.Context, out chan<- resource.Resource) error {
	fetchedAt := s.now()
	var nextToken *string

	for {
		output, err := s.client.DescribeClusters(ctx, &memorydb.DescribeClustersInput{
			NextToken:        nextToken,
			ShowShardDetails: aws.Bool(true),
		})
		if err != nil {
			return s.scanErr(fmt.Errorf("describe clusters: %w", err))
		}

		for _, c := range output.Clusters {
			if err := scanner.Emit(ctx, out, s.convert(ctx, c, fetchedAt)); err != nil {
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

func (s *MemoryDB) convert(ctx context.Context, c memorydbtypes.Cluster, fetchedAt time.Time) resource.Resource {
	name := aws.ToString(c.Name)
	arn := aws.ToString(c.ARN)

	mapper := scanner.NewFieldMapper(map[string]func() string{
		FieldClusterName:   func() string { return name },
		FieldARN:           func() string { return arn },
		FieldRegion:        func() string { return s.region },
		FieldStatus:        func() string { return aws.ToString(c.Status) },
		FieldNodeType:      func() string { return aws.ToString(c.NodeType) },
		FieldEngineVersion: func() string { return aws.ToString(c.EngineVersion) },
		FieldShardCount:    func() string { return strconv.Itoa(len(c.Shards)) },
		FieldNodeCount: func() string {
			n := 0
			for _, shard := range c.Shards {
				n += len(shard.Nodes)
			}
			return strconv.Itoa(n)
		},
		FieldTLSEnabled: func() string { return strconv.FormatBool(aws.ToBool(c.TLSEnabled)) },
	}, func() []scanner.Tag { return s.clusterTags(ctx, arn) }, s.fields)

	return resource.New(resource.KindAWSMemoryDB, name, arn, s.name, fetchedAt).WithMetaData(mapper.MetaData())
}

func (s *MemoryDB) clusterTags(ctx context.Context, arn string) []scanner.Tag {
	output, err := s.client.ListTags(ctx, &memorydb.ListTagsInput{ResourceArn: aws.String(arn)})
	if err != nil {
		s.logger.Warn().Err(err).Str("cluster", arn).Msg("list cluster tags")
		return nil
	}
	return tags(output.TagList, func(t memorydbtypes.Tag) (*string, *string) { return t.Key, t.Value })
}
