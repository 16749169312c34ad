package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	elb "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	elbtypes "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2/types"
	"github.com/rs/zerolog"

	"github.com/shaharia-lab/terediX/internal/scanner"
	"github.com/shaharia-lab/terediX/pkg/resource"
)

// ELB field names.
const (
	FieldLoadBalancerName = "loadBalancerName"
	FieldDNSName          = "dnsName"
	FieldType             = "type"
	FieldScheme           = "scheme"
)

// ELB discovers application, network and gateway load balancers.
type ELB struct {
	base
	client ELBAPI
}

// NewELB creates a load balancer scanner.
func NewELB(name string, cfg aws.Config, creds Credentials, fields []string, logger zerolog.Logger) *ELB {
	return &ELB{
		base:   newBase(name, resource.KindAWSELB, creds, fields, logger),
		client: elb.NewFromConfig(cfg),
	}
}

// Scan pages through DescribeLoadBalancers. A failed tag lookup is logged and the load balancer kept.
func (s *ELB) Scan(ctx context.Context, out chan<- resource.Resource) error {
	fetchedAt := s.now()
	var marker *string

	for {
		output, err := s.client.DescribeLoadBalancers(ctx, &elb.DescribeLoadBalancersInput{Marker: marker})
		if err != nil {
			return s.scanErr(fmt.Errorf("describe load balancers: %w", err))
		}

		for _, lb := range output.LoadBalancers {
			if err := scanner.Emit(ctx, out, s.convert(ctx, lb, fetchedAt)); err != nil {
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

func (s *ELB) convert(ctx context.Context, lb elbtypes.LoadBalancer, fetchedAt time.Time) resource.Resource {
	name := aws.ToString(lb.LoadBalancerName)
	arn := aws.ToString(lb.LoadBalancerArn)

	mapper := scanner.NewFieldMapper(map[string]func() string{
		FieldLoadBalancerName: func() string { return name },
		FieldARN:              func() string { return arn },
		FieldRegion:           func() string { return s.region },
		FieldDNSName:          func() string { return aws.ToString(lb.DNSName) },
		FieldVpcID:            func() string { return aws.ToString(lb.VpcId) },
		FieldType:             func() string { return string(lb.Type) },
		FieldScheme:           func() string { return string(lb.Scheme) },
		FieldStatus: func() string {
			if lb.State == nil {
				return ""
			}
			return string(lb.State.Code)
		},
	}, func() []scanner.Tag { return s.loadBalancerTags(ctx, arn) }, s.fields)

	return resource.New(resource.KindAWSELB, name, arn, s.name, fetchedAt).WithMetaData(mapper.MetaData())
}

func (s *ELB) loadBalancerTags(ctx context.Context, arn string) []scanner.Tag {
	output, err := s.client.DescribeTags(ctx, &elb.DescribeTagsInput{ResourceArns: []string{arn}})
	if err != nil {
		s.logger.Warn().Err(err).Str("load_balancer", arn).Msg("describe load balancer tags")
		return nil
	}
	for _, desc := range output.TagDescriptions {
		if aws.ToString(desc.ResourceArn) == arn {
			return tags(desc.Tags, func(t elbtypes.Tag) (*string, *string) { return t.Key, t.Value })
		}
	}
	return nil
}
