package aws

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	r53types "github.com/aws/aws-sdk-go-v2/service/route53/types"
	"github.com/rs/zerolog"

	"github.com/shaharia-lab/terediX/internal/scanner"
	"github.com/shaharia-lab/terediX/pkg/resource"
)

// Route 53 field names.
const (
	FieldZoneID      = "zoneId"
	FieldZoneName    = "zoneName"
	FieldPrivateZone = "privateZone"
	FieldRecordCount = "recordCount"
	FieldComment     = "comment"
)

// Route53 discovers hosted zones. Route 53 is global, the region only selects the endpoint.
type Route53 struct {
	base
	client Route53API
}

// NewRoute53 creates a hosted zone scanner.
func NewRoute53(name string, cfg aws.Config, creds Credentials, fields []string, logger zerolog.Logger) *Route53 {
	return &Route53{
		base:   newBase(name, resource.KindAWSRoute53, creds, fields, logger),
		client: route53.NewFromConfig(cfg),
	}
}

// Scan pages through ListHostedZones while the listing is truncated.
func (s *Route53) Scan(ctx context.Context, out chan<- resource.Resource) error {
	fetchedAt := s.now()
	var marker *string

	for {
		output, err := s.client.ListHostedZones(ctx, &route53.ListHostedZonesInput{Marker: marker})
		if err != nil {
			return s.scanErr(fmt.Errorf("list hosted zones: %w", err))
		}

		for _, zone := range output.HostedZones {
			if err := scanner.Emit(ctx, out, s.convert(ctx, zone, fetchedAt)); err != nil {
				return s.scanErr(err)
			}
		}

		if !output.IsTruncated || output.NextMarker == nil {
			break
		}
		marker = output.NextMarker
	}

	return nil
}

func (s *Route53) convert(ctx context.Context, zone r53types.HostedZone, fetchedAt time.Time) resource.Resource {
	id := zoneID(aws.ToString(zone.Id))
	name := strings.TrimSuffix(aws.ToString(zone.Name), ".")

	mapper := scanner.NewFieldMapper(map[string]func() string{
		FieldZoneID:   func() string { return id },
		FieldZoneName: func() string { return name },
		FieldARN:      func() string { return "arn:aws:route53:::hostedzone/" + id },
		FieldPrivateZone: func() string {
			return strconv.FormatBool(zone.Config != nil && zone.Config.PrivateZone)
		},
		FieldRecordCount: func() string { return strconv.FormatInt(aws.ToInt64(zone.ResourceRecordSetCount), 10) },
		FieldComment: func() string {
			if zone.Config == nil {
				return ""
			}
			return aws.ToString(zone.Config.Comment)
		},
	}, func() []scanner.Tag { return s.zoneTags(ctx, id) }, s.fields)

	return resource.New(resource.KindAWSRoute53, name, id, s.name, fetchedAt).WithMetaData(mapper.MetaData())
}

func (s *Route53) zoneTags(ctx context.Context, id string) []scanner.Tag {
	output, err := s.client.ListTagsForResource(ctx, &route53.ListTagsForResourceInput{
		ResourceId:   aws.String(id),
		ResourceType: r53types.TagResourceTypeHostedzone,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("zone", id).Msg("list hosted zone tags")
		return nil
	}
	if output.ResourceTagSet == nil {
		return nil
	}
	return tags(output.ResourceTagSet.Tags, func(t r53types.Tag) (*string, *string) { return t.Key, t.Value })
}

// zoneID strips the "/hostedzone/" prefix the API puts on zone ids.
func zoneID(id string) string {
	return strings.TrimPrefix(id, "/hostedzone/")
}
