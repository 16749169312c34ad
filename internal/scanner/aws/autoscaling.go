package aws

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	asgtypes "github.com/aws/aws-sdk-go-v2/service/autoscaling/types"
	"github.com/rs/zerolog"

	"github.com/shaharia-lab/terediX/internal/scanner"
	"github.com/shaharia-lab/terediX/pkg/resource"
)

// Auto Scaling field names.
const (
	FieldGroupName         = "autoScalingGroupName"
	FieldMinSize           = "minSize"
	FieldMaxSize           = "maxSize"
	FieldDesiredCapacity   = "desiredCapacity"
	FieldInstanceCount     = "instanceCount"
	FieldLaunchTemplate    = "launchTemplate"
	FieldVPCZoneIdentifier = "vpcZoneIdentifier"
)

// AutoScaling discovers EC2 Auto Scaling groups.
type AutoScaling struct {
	base
	client AutoScalingAPI
}

// NewAutoScaling creates an Auto Scaling group scanner.
func NewAutoScaling(name string, cfg aws.Config, creds Credentials, fields []string, logger zerolog.Logger) *AutoScaling {
	return &AutoScaling{
		base:   newBase(name, resource.KindAWSAutoScaling, creds, fields, logger),
		client: autoscaling.NewFromConfig(cfg),
	}
}

// Scan pages through DescribeAutoScalingGroups.
func (s *AutoScaling) Scan(ctx context.Context, out chan<- resource.Resource) error {
	fetchedAt := s.now()
	var nextToken *string

	for {
		output, err := s.client.DescribeAutoScalingGroups(ctx, &autoscaling.DescribeAutoScalingGroupsInput{NextToken: nextToken})
		if err != nil {
			return s.scanErr(fmt.Errorf("describe auto scaling groups: %w", err))
		}

		for _, g := range output.AutoScalingGroups {
			if err := scanner.Emit(ctx, out, s.convert(g, fetchedAt)); err != nil {
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

func (s *AutoScaling) convert(g asgtypes.AutoScalingGroup, fetchedAt time.Time) resource.Resource {
	name := aws.ToString(g.AutoScalingGroupName)
	arn := aws.ToString(g.AutoScalingGroupARN)

	mapper := scanner.NewFieldMapper(map[string]func() string{
		FieldGroupName:       func() string { return name },
		FieldARN:             func() string { return arn },
		FieldRegion:          func() string { return s.region },
		FieldMinSize:         func() string { return strconv.Itoa(int(aws.ToInt32(g.MinSize))) },
		FieldMaxSize:         func() string { return strconv.Itoa(int(aws.ToInt32(g.MaxSize))) },
		FieldDesiredCapacity: func() string { return strconv.Itoa(int(aws.ToInt32(g.DesiredCapacity))) },
		FieldInstanceCount:   func() string { return strconv.Itoa(len(g.Instances)) },
		FieldLaunchTemplate: func() string {
			if g.LaunchTemplate == nil {
				return ""
			}
			return aws.ToString(g.LaunchTemplate.LaunchTemplateName)
		},
		FieldVPCZoneIdentifier: func() string { return aws.ToString(g.VPCZoneIdentifier) },
	}, func() []scanner.Tag {
		return tags(g.Tags, func(t asgtypes.TagDescription) (*string, *string) { return t.Key, t.Value })
	}, s.fields)

	return resource.New(resource.KindAWSAutoScaling, name, arn, s.name, fetchedAt).WithMetaData(mapper.MetaData())
}
