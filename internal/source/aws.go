package source

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/rs/zerolog"

	"github.com/shaharia-lab/terediX/internal/config"
	"github.com/shaharia-lab/terediX/internal/scanner"
	awsscanner "github.com/shaharia-lab/terediX/internal/scanner/aws"
)

type awsConfig struct {
	sdk    aws.Config
	creds  awsscanner.Credentials
	fields []string
	logger zerolog.Logger
}

// newAWS adapts an AWS scanner constructor into a Factory that loads the SDK config first.
func newAWS(build func(name string, cfg awsConfig) scanner.Scanner) Factory {
	return func(ctx context.Context, name string, src config.Source, logger zerolog.Logger) (scanner.Scanner, error) {
		creds := awsscanner.CredentialsFromConfig(src.Configuration)
		sdk, err := awsscanner.BuildAWSConfig(ctx, creds)
		if err != nil {
			return nil, err
		}
		return build(name, awsConfig{sdk: sdk, creds: creds, fields: src.Fields, logger: logger}), nil
	}
}
