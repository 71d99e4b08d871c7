package paramsource

import (
	"fmt"

	"github.com/permitportal/storageops/internal/config"
	"github.com/permitportal/storageops/internal/logging"
)

// New builds the configured rotation source backend.
func New(cfg config.RotationConfig, logger *logging.Logger) (Source, error) {
	switch cfg.Source {
	case "ssm":
		return NewSSMSource(SSMConfig{
			Region:         cfg.Region,
			Profile:        cfg.Profile,
			WithDecryption: true,
		}, logger)
	case "secretsmanager":
		return NewSecretsManagerSource(cfg.Region, logger)
	default:
		return nil, fmt.Errorf("unknown parameter source backend: %q", cfg.Source)
	}
}
