package paramsource

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	serrors "github.com/permitportal/storageops/internal/errors"
	"github.com/permitportal/storageops/internal/logging"
)

// SSMClientAPI defines the subset of AWS SSM Parameter Store operations used
// by SSMSource. This allows for mocking in tests.
type SSMClientAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SSMSource reads rotation slots from AWS Systems Manager Parameter Store.
type SSMSource struct {
	client SSMClientAPI
	logger *logging.Logger
	config SSMConfig
}

// SSMConfig holds SSM-specific configuration.
type SSMConfig struct {
	Region         string
	Profile        string
	WithDecryption bool
}

// SSMOption is a functional option for configuring the SSM source.
type SSMOption func(*SSMSource)

// WithSSMClient sets a custom SSM client (for testing).
func WithSSMClient(client SSMClientAPI) SSMOption {
	return func(s *SSMSource) {
		s.client = client
	}
}

// NewSSMSource creates a Parameter Store source.
func NewSSMSource(cfg SSMConfig, logger *logging.Logger, opts ...SSMOption) (*SSMSource, error) {
	s := &SSMSource{
		logger: logger,
		config: cfg,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.client == nil {
		var configOpts []func(*awsconfig.LoadOptions) error
		if cfg.Region != "" {
			configOpts = append(configOpts, awsconfig.WithRegion(cfg.Region))
		}
		if cfg.Profile != "" {
			configOpts = append(configOpts, awsconfig.WithSharedConfigProfile(cfg.Profile))
		}

		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), configOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		s.client = ssm.NewFromConfig(awsCfg)
	}

	return s, nil
}

// Name returns the backend identifier.
func (s *SSMSource) Name() string {
	return "ssm"
}

// Get fetches a parameter value. SecureString parameters are decrypted.
func (s *SSMSource) Get(ctx context.Context, path string) (string, error) {
	s.logger.Debug("Fetching rotation parameter: %s", logging.Secret(path))

	input := &ssm.GetParameterInput{
		Name:           aws.String(path),
		WithDecryption: aws.Bool(s.config.WithDecryption),
	}

	result, err := s.client.GetParameter(ctx, input)
	if err != nil {
		if isParameterNotFoundError(err) {
			return "", fmt.Errorf("parameter %s: %w", path, serrors.ErrNotFound)
		}
		return "", serrors.UserError{
			Message:    "Failed to get parameter from SSM",
			Details:    err.Error(),
			Suggestion: serrors.ParameterSourceSuggestion(err),
			Err:        err,
		}
	}

	if result.Parameter == nil || result.Parameter.Value == nil {
		return "", fmt.Errorf("parameter %s has no value: %w", path, serrors.ErrNotFound)
	}

	return *result.Parameter.Value, nil
}

func isParameterNotFoundError(err error) bool {
	return strings.Contains(err.Error(), "ParameterNotFound")
}
