package aws

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	rdstypes "github.com/aws/aws-sdk-go-v2/service/rds/types"
	"github.com/rs/zerolog"

	"github.com/shaharia-lab/terediX/internal/scanner"
	"github.com/shaharia-lab/terediX/pkg/resource"
)

// RDS field names. instanceId, region and arn are shared with the other scanners.
const (
	FieldEngine        = "engine"
	FieldEngineVersion = "engineVersion"
	FieldInstanceClass = "instanceClass"
	FieldStatus        = "status"
	FieldEndpoint      = "endpoint"
)

// RDS discovers database instances.
type RDS struct {
	base
	client RDSAPI
}

// NewRDS creates a database scanner.
func NewRDS(name string, cfg aws.Config, creds Credentials, fields []string, logger zerolog.Logger) *RDS {
	return &RDS{
		base:   newBase(name, resource.KindAWSRDS, creds, fields, logger),
		client: rds.NewFromConfig(cfg),
	}
}

// Scan pages through DescribeDBInstances.
func (s *RDS) Scan(ctx context.Context, out chan<- resource.Resource) error {
	fetchedAt := s.now()
	var marker *string

	for {
		output, err := s.client.DescribeDBInstances(ctx, &rds.DescribeDBInstancesInput{Marker: marker})
		if err != nil {
			return s.scanErr(fmt.Errorf("describe db instances: %w", err))
		}

		for _, instance := range output.DBInstances {
			if err := scanner.Emit(ctx, out, s.convert(instance, fetchedAt)); err != nil {
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

func (s *RDS) convert(instance rdstypes.DBInstance, fetchedAt time.Time) resource.Resource {
	id := aws.ToString(instance.DBInstanceIdentifier)
	arn := aws.ToString(instance.DBInstanceArn)
	if arn == "" {
		arn = fmt.Sprintf("arn:aws:rds:%s:%s:db:%s", s.region, s.accountID, id)
	}

	mapper := scanner.NewFieldMapper(map[string]func() string{
		FieldInstanceID:    func() string { return id },
		FieldRegion:        func() string { return s.region },
		FieldARN:           func() string { return arn },
		FieldEngine:        func() string { return aws.ToString(instance.Engine) },
		FieldEngineVersion: func() string { return aws.ToString(instance.EngineVersion) },
		FieldInstanceClass: func() string { return aws.ToString(instance.DBInstanceClass) },
		FieldStatus:        func() string { return aws.ToString(instance.DBInstanceStatus) },
		FieldEndpoint: func() string {
			if instance.Endpoint == nil || instance.Endpoint.Address == nil {
				return ""
			}
			addr := aws.ToString(instance.Endpoint.Address)
			if instance.Endpoint.Port != nil {
				addr += ":" + strconv.Itoa(int(aws.ToInt32(instance.Endpoint.Port)))
			}
			return addr
		},
	}, func() []scanner.Tag {
		return tags(instance.TagList, func(t rdstypes.Tag) (*string, *string) { return t.Key, t.Value })
	}, s.fields)

	return resource.New(resource.KindAWSRDS, id, arn, s.name, fetchedAt).WithMetaData(mapper.MetaData())
}
