package aws

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/redshift"
	redshifttypes "github.com/aws/aws-sdk-go-v2/service/redshift/types"
	"github.com/rs/zerolog"

	"github.com/shaharia-lab/terediX/internal/scanner"
	"github.com/shaharia-lab/terediX/pkg/resource"
)

// Redshift field names.
const (
	FieldClusterIdentifier = "clusterIdentifier"
	FieldDBName            = "dbName"
)

// Redshift discovers Redshift clusters.
type Redshift struct {
	base
	client RedshiftAPI
}

// NewRedshift creates a cluster scanner.
func NewRedshift(name string, cfg aws.Config, creds Credentials, fields []string, logger zerolog.Logger) *Redshift {
	return &Redshift{
		base:   newBase(name, resource.KindAWSRedshift, creds, fields, logger),
		client: redshift.NewFromConfig(cfg),
	}
}

// Scan pages through DescribeClusters.
func (s *Redshift) Scan(ctx context.Context, out chan<- resource.Resource) error {
	fetchedAt := s.now()
	var marker *string

	for {
		output, err := s.client.DescribeClusters(ctx, &redshift.DescribeClustersInput{Marker: marker})
		if err != nil {
			return s.scanErr(fmt.Errorf("describe clusters: %w", err))
		}

		for _, c := range output.Clusters {
			if err := scanner.Emit(ctx, out, s.convert(c, fetchedAt)); err != nil {
				return s.scanErr(err)
			}
		}

		if output.Marker == nil {
			break
		}
		marker = output.Marker
	}

	return nil
}

func (s *Redshift) convert(c redshifttypes.Cluster, fetchedAt time.Time) resource.Resource {
	id := aws.ToString(c.ClusterIdentifier)
	// clusters carry no ARN of their own
	arn := fmt.Sprintf("arn:aws:redshift:%s:%s:cluster:%s", s.region, s.accountID, id)

	mapper := scanner.NewFieldMapper(map[string]func() string{
		FieldClusterIdentifier: func() string { return id },
		FieldARN:               func() string { return arn },
		FieldRegion:            func() string { return s.region },
		FieldStatus:            func() string { return aws.ToString(c.ClusterStatus) },
		FieldNodeType:          func() string { return aws.ToString(c.NodeType) },
		FieldNodeCount:         func() string { return strconv.Itoa(int(aws.ToInt32(c.NumberOfNodes))) },
		FieldDBName:            func() string { return aws.ToString(c.DBName) },
		FieldVpcID:             func() string { return aws.ToString(c.VpcId) },
		FieldEndpoint: func() string {
			if c.Endpoint == nil {
				return ""
			}
			return aws.ToString(c.Endpoint.Address)
		},
	}, func() []scanner.Tag {
		return tags(c.Tags, func(t redshifttypes.Tag) (*string, *string) { return t.Key, t.Value })
	}, s.fields)

	return resource.New(resource.KindAWSRedshift, id, arn, s.name, fetchedAt).WithMetaData(mapper.MetaData())
}
