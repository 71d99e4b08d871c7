package paramsource

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	serrors "github.com/permitportal/storageops/internal/errors"
	"github.com/permitportal/storageops/internal/logging"
)

// SecretsManagerClientAPI defines the subset of AWS Secrets Manager
// operations used by SecretsManagerSource. This allows for mocking in tests.
type SecretsManagerClientAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SecretsManagerSource reads rotation slots from AWS Secrets Manager. Some
// deployments publish the rotated key pair there instead of Parameter Store;
// the slot path contract is identical.
type SecretsManagerSource struct {
	client SecretsManagerClientAPI
	logger *logging.Logger
	region string
}

// SecretsManagerOption is a functional option for configuring the source.
type SecretsManagerOption func(*SecretsManagerSource)

// WithSecretsManagerClient sets a custom client (for testing).
func WithSecretsManagerClient(client SecretsManagerClientAPI) SecretsManagerOption {
	return func(s *SecretsManagerSource) {
		s.client = client
	}
}

// NewSecretsManagerSource creates a Secrets Manager source.
func NewSecretsManagerSource(region string, logger *logging.Logger, opts ...SecretsManagerOption) (*SecretsManagerSource, error) {
	s := &SecretsManagerSource{
		logger: logger,
		region: region,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.client == nil {
		var configOpts []func(*awsconfig.LoadOptions) error
		if region != "" {
			configOpts = append(configOpts, awsconfig.WithRegion(region))
		}

		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), configOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		s.client = secretsmanager.NewFromConfig(awsCfg)
	}

	return s, nil
}

// Name returns the backend identifier.
func (s *SecretsManagerSource) Name() string {
	return "secretsmanager"
}

// Get fetches a secret value by its full path name.
func (s *SecretsManagerSource) Get(ctx context.Context, path string) (string, error) {
	s.logger.Debug("Fetching rotation secret: %s", logging.Secret(path))

	result, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(path),
	})
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return "", fmt.Errorf("secret %s: %w", path, serrors.ErrNotFound)
		}
		return "", serrors.UserError{
			Message:    "Failed to get secret from Secrets Manager",
			Details:    err.Error(),
			Suggestion: serrors.ParameterSourceSuggestion(err),
			Err:        err,
		}
	}

	if result.SecretString == nil {
		return "", fmt.Errorf("secret %s has no string value: %w", path, serrors.ErrNotFound)
	}

	return *result.SecretString, nil
}
