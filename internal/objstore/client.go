// Package objstore wraps the S3-compatible object storage endpoint. It
// builds clients from whatever credential set the store currently holds and
// memoizes them until explicitly invalidated; it never refreshes credentials
// itself.
package objstore

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/permitportal/storageops/internal/credstore"
)

// Config describes the storage endpoint a client is bound to.
type Config struct {
	Endpoint       string
	Region         string
	Bucket         string
	ForcePathStyle bool
}

// NewClient builds an S3 client bound to the given credential set.
func NewClient(ctx context.Context, cfg Config, set *credstore.CredentialSet) (*s3.Client, error) {
	if set == nil {
		return nil, fmt.Errorf("no credential set provided")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(set.AccessKeyID, set.SecretAccessKey, set.SessionToken),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	}), nil
}
