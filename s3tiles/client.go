package s3tiles

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// NewClient creates an S3 client for region. A non-empty endpoint selects an
// S3-compatible server with path-style addressing. Without usable credentials
// the client falls back to anonymous access.
func NewClient(ctx context.Context, region, endpoint string) (*s3.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		cfg = aws.Config{
			Region:      region,
			Credentials: aws.AnonymousCredentials{},
		}
	} else {
		creds, err := cfg.Credentials.Retrieve(ctx)
		if err != nil || creds.AccessKeyID == "" {
			cfg.Credentials = aws.AnonymousCredentials{}
		}
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	}), nil
}
