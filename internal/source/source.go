// Package source builds scanners from source configuration.
package source

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/shaharia-lab/terediX/internal/config"
	"github.com/shaharia-lab/terediX/internal/scanner"
	awsscanner "github.com/shaharia-lab/terediX/internal/scanner/aws"
)

// Source types.
const (
	TypeFileSystem       = "file_system"
	TypeGitHubRepository = "github_repository"
	TypeAWSS3            = "aws_s3"
	TypeAWSEC2           = "aws_ec2"
	TypeAWSRDS           = "aws_rds"
	TypeAWSECR           = "aws_ecr"
	TypeAWSEKS           = "aws_eks"
	TypeAWSLambda        = "aws_lambda"
	TypeAWSDynamoDB      = "aws_dynamodb"
	TypeAWSSQS           = "aws_sqs"
	TypeAWSECS           = "aws_ecs"
	TypeAWSAutoScaling   = "aws_autoscaling"
	TypeAWSELB           = "aws_elb"
	TypeAWSIAMRole       = "aws_iam_role"
	TypeAWSKMS           = "aws_kms"
	TypeAWSMemoryDB      = "aws_memorydb"
	TypeAWSRedshift      = "aws_redshift"
	TypeAWSRoute53       = "aws_route53"
	TypeAWSLogGroup      = "aws_log_group"
	TypeAWSCloudTrail    = "aws_cloudtrail"
)

// Factory creates the scanner of one configured source.
type Factory func(ctx context.Context, name string, src config.Source, logger zerolog.Logger) (scanner.Scanner, error)

type registration struct {
	required []string
	factory  Factory
}

// Registry maps source types to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]registration
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]registration)}
}

// Default returns a registry with every built-in source type.
func Default() *Registry {
	r := NewRegistry()
	r.Register(TypeFileSystem, []string{"root_directory"}, newFileSystem)
	r.Register(TypeGitHubRepository, []string{"token", "user_or_org"}, newGitHub)
	r.Register(TypeAWSS3, []string{awsscanner.KeyRegion}, newAWS(func(name string, cfg awsConfig) scanner.Scanner {
		return awsscanner.NewS3(name, cfg.sdk, cfg.creds, cfg.fields, cfg.logger)
	}))
	r.Register(TypeAWSEC2, []string{awsscanner.KeyRegion}, newAWS(func(name string, cfg awsConfig) scanner.Scanner {
		return awsscanner.NewEC2(name, cfg.sdk, cfg.creds, cfg.fields, cfg.logger)
	}))
	r.Register(TypeAWSRDS, []string{awsscanner.KeyRegion}, newAWS(func(name string, cfg awsConfig) scanner.Scanner {
		return awsscanner.NewRDS(name, cfg.sdk, cfg.creds, cfg.fields, cfg.logger)
	}))
	r.Register(TypeAWSECR, []string{awsscanner.KeyRegion}, newAWS(func(name string, cfg awsConfig) scanner.Scanner {
		return awsscanner.NewECR(name, cfg.sdk, cfg.creds, cfg.fields, cfg.logger)
	}))
	r.Register(TypeAWSEKS, []string{awsscanner.KeyRegion}, newAWS(func(name string, cfg awsConfig) scanner.Scanner {
		return awsscanner.NewEKS(name, cfg.sdk, cfg.creds, cfg.fields, cfg.logger)
	}))
	r.Register(TypeAWSLambda, []string{awsscanner.KeyRegion}, newAWS(func(name string, cfg awsConfig) scanner.Scanner {
		return awsscanner.NewLambda(name, cfg.sdk, cfg.creds, cfg.fields, cfg.logger)
	}))
	r.Register(TypeAWSDynamoDB, []string{awsscanner.KeyRegion}, newAWS(func(name string, cfg awsConfig) scanner.Scanner {
		return awsscanner.NewDynamoDB(name, cfg.sdk, cfg.creds, cfg.fields, cfg.logger)
	}))
	r.Register(TypeAWSSQS, []string{awsscanner.KeyRegion}, newAWS(func(name string, cfg awsConfig) scanner.Scanner {
		return awsscanner.NewSQS(name, cfg.sdk, cfg.creds, cfg.fields, cfg.logger)
	}))
	r.Register(TypeAWSECS, []string{awsscanner.KeyRegion}, newAWS(func(name string, cfg awsConfig) scanner.Scanner {
		return awsscanner.NewECS(name, cfg.sdk, cfg.creds, cfg.fields, cfg.logger)
	}))
	r.Register(TypeAWSAutoScaling, []string{awsscanner.KeyRegion}, newAWS(func(name string, cfg awsConfig) scanner.Scanner {
		return awsscanner.NewAutoScaling(name, cfg.sdk, cfg.creds, cfg.fields, cfg.logger)
	}))
	r.Register(TypeAWSELB, []string{awsscanner.KeyRegion}, newAWS(func(name string, cfg awsConfig) scanner.Scanner {
		return awsscanner.NewELB(name, cfg.sdk, cfg.creds, cfg.fields, cfg.logger)
	}))
	r.Register(TypeAWSIAMRole, []string{awsscanner.KeyRegion}, newAWS(func(name string, cfg awsConfig) scanner.Scanner {
		return awsscanner.NewIAM(name, cfg.sdk, cfg.creds, cfg.fields, cfg.logger)
	}))
	r.Register(TypeAWSKMS, []string{awsscanner.KeyRegion}, newAWS(func(name string, cfg awsConfig) scanner.Scanner {
		return awsscanner.NewKMS(name, cfg.sdk, cfg.creds, cfg.fields, cfg.logger)
	}))
	r.Register(TypeAWSMemoryDB, []string{awsscanner.KeyRegion}, newAWS(func(name string, cfg awsConfig) scanner.Scanner {
		return awsscanner.NewMemoryDB(name, cfg.sdk, cfg.creds, cfg.fields, cfg.logger)
	}))
	r.Register(TypeAWSRedshift, []string{awsscanner.KeyRegion}, newAWS(func(name string, cfg awsConfig) scanner.Scanner {
		return awsscanner.NewRedshift(name, cfg.sdk, cfg.creds, cfg.fields, cfg.logger)
	}))
	r.Register(TypeAWSRoute53, []string{awsscanner.KeyRegion}, newAWS(func(name string, cfg awsConfig) scanner.Scanner {
		return awsscanner.NewRoute53(name, cfg.sdk, cfg.creds, cfg.fields, cfg.logger)
	}))
	r.Register(TypeAWSLogGroup, []string{awsscanner.KeyRegion}, newAWS(func(name string, cfg awsConfig) scanner.Scanner {
		return awsscanner.NewLogs(name, cfg.sdk, cfg.creds, cfg.fields, cfg.logger)
	}))
	r.Register(TypeAWSCloudTrail, []string{awsscanner.KeyRegion}, newAWS(func(name string, cfg awsConfig) scanner.Scanner {
		return awsscanner.NewCloudTrail(name, cfg.sdk, cfg.creds, cfg.fields, cfg.logger)
	}))
	return r
}

// Register adds or replaces the factory for typ. required lists configuration keys that must be non-empty.
func (r *Registry) Register(typ string, required []string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[typ] = registration{required: required, factory: f}
}

// Types returns the registered source types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Build creates the scanner for one source. An unknown type or a missing required key
// is reported as *config.ConfigurationError.
func (r *Registry) Build(ctx context.Context, name string, src config.Source, logger zerolog.Logger) (scanner.Scanner, error) {
	r.mu.RLock()
	reg, ok := r.factories[src.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, &config.ConfigurationError{
			Field:  fmt.Sprintf("source.%s.type", name),
			Reason: fmt.Sprintf("unknown source type %q (known: %s)", src.Type, strings.Join(r.Types(), ", ")),
		}
	}

	var missing []string
	for _, key := range reg.required {
		if src.Configuration[key] == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, &config.ConfigurationError{
			Field:  fmt.Sprintf("source.%s.configuration", name),
			Reason: "missing required key(s): " + strings.Join(missing, ", "),
		}
	}

	s, err := reg.factory(ctx, name, src, logger.With().Str("source", name).Logger())
	if err != nil {
		return nil, &config.ConfigurationError{Field: fmt.Sprintf("source.%s", name), Reason: "build scanner", Err: err}
	}
	return s, nil
}

// BuildAll creates a scanner for every configured source, in name order.
func (r *Registry) BuildAll(ctx context.Context, cfg *config.AppConfig, logger zerolog.Logger) ([]scanner.Scanner, error) {
	scanners := make([]scanner.Scanner, 0, len(cfg.Sources))
	for _, name := range cfg.SourceNames() {
		s, err := r.Build(ctx, name, cfg.Sources[name], logger)
		if err != nil {
			return nil, err
		}
		scanners = append(scanners, s)
	}
	return scanners, nil
}

func newFileSystem(_ context.Context, name string, src config.Source, logger zerolog.Logger) (scanner.Scanner, error) {
	return scanner.NewFileSystem(name, src.Configuration["root_directory"], src.Fields, logger), nil
}

func newGitHub(_ context.Context, name string, src config.Source, logger zerolog.Logger) (scanner.Scanner, error) {
	return scanner.NewGitHub(name, src.Configuration["token"], src.Configuration["user_or_org"],
		src.Configuration["base_url"], src.Fields, logger)
}
