// Package resource defines the unified resource model for terediX.
package resource

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Resource kinds emitted by the built-in scanners.
const (
	KindFilePath         = "FilePath"
	KindGitHubRepository = "GitHubRepository"
	KindAWSS3            = "AWS_S3"
	KindAWSEC2           = "AWS_EC2"
	KindAWSRDS           = "AWS_RDS"
	KindAWSECR           = "AWS_ECR"
	KindAWSEKS           = "AWS_EKS"
	KindAWSLambda        = "AWS_LAMBDA"
	KindAWSDynamoDB      = "AWS_DYNAMODB"
	KindAWSSQS           = "AWS_SQS"
	KindAWSECS           = "AWS_ECS"
	KindAWSAutoScaling   = "AWS_AUTOSCALING_GROUP"
	KindAWSELB           = "AWS_ELB"
	KindAWSIAMRole       = "AWS_IAM_ROLE"
	KindAWSKMS           = "AWS_KMS_KEY"
	KindAWSMemoryDB      = "AWS_MEMORYDB"
	KindAWSRedshift      = "AWS_REDSHIFT"
	KindAWSRoute53       = "AWS_ROUTE53_ZONE"
	KindAWSLogGroup      = "AWS_LOG_GROUP"
	KindAWSCloudTrail    = "AWS_CLOUDTRAIL"
)

// namespace for deterministic resource UUIDs
var namespace = uuid.MustParse("6f1a4a4e-5c1e-4b55-9a3c-7d2e1f0b8c21")

// Resource represents a discovered entity in unified format.
// Once emitted by a scanner it is never mutated; the next scan supersedes it.
type Resource struct {
	Kind          string            `json:"kind"`
	UUID          string            `json:"uuid"`
	Name          string            `json:"name"`
	ExternalID    string            `json:"external_id"`
	ScannerSource string            `json:"scanner"`
	MetaData      map[string]string `json:"meta_data"`
	FetchedAt     time.Time         `json:"fetched_at"`
}

// Identity is the upsert key of a resource.
type Identity struct {
	Kind          string `json:"kind"`
	ExternalID    string `json:"external_id"`
	ScannerSource string `json:"scanner"`
}

// Key returns a stable string form of the identity, usable as a map or storage key.
func (i Identity) Key() string {
	return i.Kind + "\x00" + i.ScannerSource + "\x00" + i.ExternalID
}

// String implements fmt.Stringer.
func (i Identity) String() string {
	return fmt.Sprintf("%s/%s/%s", i.ScannerSource, i.Kind, i.ExternalID)
}

// Less orders identities by kind, source and external id.
func (i Identity) Less(o Identity) bool {
	return i.Key() < o.Key()
}

// New creates a resource with a deterministic UUID and an empty metadata map.
func New(kind, name, externalID, source string, fetchedAt time.Time) Resource {
	r := Resource{
		Kind:          kind,
		Name:          name,
		ExternalID:    externalID,
		ScannerSource: source,
		MetaData:      make(map[string]string),
		FetchedAt:     fetchedAt.UTC(),
	}
	r.UUID = UUIDFor(r.Identity())
	return r
}

// UUIDFor derives the UUID of the given identity.
func UUIDFor(id Identity) string {
	return uuid.NewSHA1(namespace, []byte(id.Key())).String()
}

// Identity returns the upsert key of the resource.
func (r Resource) Identity() Identity {
	return Identity{Kind: r.Kind, ExternalID: r.ExternalID, ScannerSource: r.ScannerSource}
}

// Key is shorthand for r.Identity().Key().
func (r Resource) Key() string {
	return r.Identity().Key()
}

// Meta returns a metadata value, or "" when absent.
func (r Resource) Meta(key string) string {
	return r.MetaData[key]
}

// WithMetaData returns a copy of r with the given entries merged into its metadata.
func (r Resource) WithMetaData(md map[string]string) Resource {
	merged := make(map[string]string, len(r.MetaData)+len(md))
	for k, v := range r.MetaData {
		merged[k] = v
	}
	for k, v := range md {
		merged[k] = v
	}
	r.MetaData = merged
	return r
}

// MetaKeys returns metadata keys in sorted order.
func (r Resource) MetaKeys() []string {
	keys := make([]string, 0, len(r.MetaData))
	for k := range r.MetaData {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Validate reports a *ProcessingError when a required field is missing.
func (r Resource) Validate() error {
	var missing []string
	if r.Kind == "" {
		missing = append(missing, "kind")
	}
	if r.ExternalID == "" {
		missing = append(missing, "external_id")
	}
	if r.ScannerSource == "" {
		missing = append(missing, "scanner_source")
	}
	if r.Name == "" {
		missing = append(missing, "name")
	}
	if len(missing) > 0 {
		return &ProcessingError{
			Key:    r.Identity().String(),
			Reason: "missing required field(s): " + strings.Join(missing, ", "),
		}
	}
	return nil
}

// ProcessingError marks a single malformed resource. The resource is dropped, the batch continues.
type ProcessingError struct {
	Key    string
	Reason string
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("invalid resource %s: %s", e.Key, e.Reason)
}

// Relation links two resources matched by the same rule.
type Relation struct {
	Rule   string   `json:"rule"`
	Source Identity `json:"source"`
	Target Identity `json:"target"`
}

// Key returns a stable string form of the relation.
func (r Relation) Key() string {
	return r.Rule + "\x01" + r.Source.Key() + "\x01" + r.Target.Key()
}

// Response is the API representation of a resource.
type Response struct {
	Kind       string            `json:"kind"`
	UUID       string            `json:"uuid"`
	Name       string            `json:"name"`
	ExternalID string            `json:"external_id"`
	Scanner    string            `json:"scanner"`
	FetchedAt  time.Time         `json:"fetched_at"`
	MetaData   map[string]string `json:"meta_data"`
}

// ToAPIResponse converts the resource for the query API.
func (r Resource) ToAPIResponse() Response {
	md := r.MetaData
	if md == nil {
		md = map[string]string{}
	}
	return Response{
		Kind:       r.Kind,
		UUID:       r.UUID,
		Name:       r.Name,
		ExternalID: r.ExternalID,
		Scanner:    r.ScannerSource,
		FetchedAt:  r.FetchedAt,
		MetaData:   md,
	}
}

// ListResponse is one page of the resource listing.
type ListResponse struct {
	Resources []Response `json:"resources"`
	Page      int        `json:"page"`
	PerPage   int        `json:"per_page"`
	HasMore   bool       `json:"has_more"`
}

// ScanResult holds the outcome of one discovery run of one source.
type ScanResult struct {
	Source    string
	Kind      string
	Resources int
	StartedAt time.Time
	Duration  time.Duration
	Error     error
}

// Status returns "success" or "failed".
func (s ScanResult) Status() string {
	if s.Error != nil {
		return "failed"
	}
	return "success"
}
