package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/rs/zerolog"

	"github.com/shaharia-lab/terediX/internal/scanner"
	"github.com/shaharia-lab/terediX/pkg/resource"
)

// EC2 field names.
const (
	FieldInstanceID        = "instanceId"
	FieldImageID           = "imageId"
	FieldPrivateDNSName    = "privateDNSName"
	FieldInstanceType      = "instanceType"
	FieldArchitecture      = "architecture"
	FieldInstanceLifecycle = "instanceLifecycle"
	FieldInstanceState     = "instanceState"
	FieldVpcID             = "vpcId"
	FieldSubnetID          = "subnetId"
)

// EC2 discovers instances.
type EC2 struct {
	base
	client EC2API
}

// NewEC2 creates an instance scanner.
func NewEC2(name string, cfg aws.Config, creds Credentials, fields []string, logger zerolog.Logger) *EC2 {
	return &EC2{
		base:   newBase(name, resource.KindAWSEC2, creds, fields, logger),
		client: ec2.NewFromConfig(cfg),
	}
}

// Scan pages through DescribeInstances.
func (s *EC2) Scan(ctx context.Context, out chan<- resource.Resource) error {
	fetchedAt := s.now()
	var nextToken *string

	for {
		output, err := s.client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{NextToken: nextToken})
		if err != nil {
			return s.scanErr(fmt.Errorf("describe instances: %w", err))
		}

		for _, reservation := range output.Reservations {
			for _, instance := range reservation.Instances {
				if err := scanner.Emit(ctx, out, s.convert(instance, fetchedAt)); err != nil {
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

func (s *EC2) convert(instance ec2types.Instance, fetchedAt time.Time) resource.Resource {
	id := aws.ToString(instance.InstanceId)
	mapper := scanner.NewFieldMapper(map[string]func() string{
		FieldInstanceID:        func() string { return id },
		FieldImageID:           func() string { return aws.ToString(instance.ImageId) },
		FieldPrivateDNSName:    func() string { return aws.ToString(instance.PrivateDnsName) },
		FieldInstanceType:      func() string { return string(instance.InstanceType) },
		FieldArchitecture:      func() string { return string(instance.Architecture) },
		FieldInstanceLifecycle: func() string { return string(instance.InstanceLifecycle) },
		FieldInstanceState: func() string {
			if instance.State == nil {
				return ""
			}
			return string(instance.State.Name)
		},
		FieldVpcID:    func() string { return aws.ToString(instance.VpcId) },
		FieldSubnetID: func() string { return aws.ToString(instance.SubnetId) },
	}, func() []scanner.Tag {
		return tags(instance.Tags, func(t ec2types.Tag) (*string, *string) { return t.Key, t.Value })
	}, s.fields)

	return resource.New(resource.KindAWSEC2, nameTag(instance.Tags, id), id, s.name, fetchedAt).
		WithMetaData(mapper.MetaData())
}

// nameTag returns the Name tag, or fallback when the instance has none.
func nameTag(ts []ec2types.Tag, fallback string) string {
	for _, t := range ts {
		if aws.ToString(t.Key) == "Name" && aws.ToString(t.Value) != "" {
			return aws.ToString(t.Value)
		}
	}
	return fallback
}
