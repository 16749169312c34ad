package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/rs/zerolog"

	"github.com/shaharia-lab/terediX/internal/scanner"
	"github.com/shaharia-lab/terediX/pkg/resource"
)

// IAM field names.
const (
	FieldRoleName    = "roleName"
	FieldRoleID      = "roleId"
	FieldPath        = "path"
	FieldDescription = "description"
	FieldCreateDate  = "createDate"
)

// IAM discovers IAM roles. IAM is global, the region only selects the endpoint.
type IAM struct {
	base
	client IAMAPI
}

// NewIAM creates a role scanner.
func NewIAM(name string, cfg aws.Config, creds Credentials, fields []string, logger zerolog.Logger) *IAM {
	return &IAM{
		base:   newBase(name, resource.KindAWSIAMRole, creds, fields, logger),
		client: iam.NewFromConfig(cfg),
	}
}

// Scan pages through ListRoles while the listing is truncated.
func (s *IAM) Scan(ctx context.Context, out chan<- resource.Resource) error {
	fetchedAt := s.now()
	var marker *string

	for {
		output, err := s.client.ListRoles(ctx, &iam.ListRolesInput{Marker: marker})
		if err != nil {
			return s.scanErr(fmt.Errorf("list roles: %w", err))
		}

		for _, role := range output.Roles {
			if err := scanner.Emit(ctx, out, s.convert(ctx, role, fetchedAt)); err != nil {
				return s.scanErr(err)
			}
		}

		if !output.IsTruncated || output.Marker == nil {
			break
		}
		marker = output.Marker
	}

	return nil
}

func (s *IAM) convert(ctx context.Context, role iamtypes.Role, fetchedAt time.Time) resource.Resource {
	name := aws.ToString(role.RoleName)
	arn := aws.ToString(role.Arn)

	mapper := scanner.NewFieldMapper(map[string]func() string{
		FieldRoleName:    func() string { return name },
		FieldRoleID:      func() string { return aws.ToString(role.RoleId) },
		FieldARN:         func() string { return arn },
		FieldPath:        func() string { return aws.ToString(role.Path) },
		FieldDescription: func() string { return aws.ToString(role.Description) },
		FieldCreateDate: func() string {
			if role.CreateDate == nil {
				return ""
			}
			return role.CreateDate.UTC().Format(time.RFC3339)
		},
	}, func() []scanner.Tag { return s.roleTags(ctx, name) }, s.fields)

	return resource.New(resource.KindAWSIAMRole, name, arn, s.name, fetchedAt).WithMetaData(mapper.MetaData())
}

func (s *IAM) roleTags(ctx context.Context, roleName string) []scanner.Tag {
	output, err := s.client.ListRoleTags(ctx, &iam.ListRoleTagsInput{RoleName: aws.String(roleName)})
	if err != nil {
		s.logger.Warn().Err(err).Str("role", roleName).Msg("list role tags")
		return nil
	}
	return tags(output.Tags, func(t iamtypes.Tag) (*string, *string) { return t.Key, t.Value })
}
