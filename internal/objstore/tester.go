package objstore

import (
	"context"
	"time"

	"github.com/permitportal/storageops/internal/credstore"
	"github.com/permitportal/storageops/internal/logging"
)

const headTimeout = 10 * time.Second

// ConnectivityTester performs live credential tests against the storage
// endpoint. The refresh engine uses it to decide whether stored credentials
// still authenticate.
type ConnectivityTester struct {
	cfg    Config
	logger *logging.Logger
}

// NewConnectivityTester creates a tester for the configured endpoint.
func NewConnectivityTester(cfg Config, logger *logging.Logger) *ConnectivityTester {
	return &ConnectivityTester{cfg: cfg, logger: logger}
}

// TestConnection builds a throwaway client from set and issues a HeadBucket.
// Any non-2xx or transport error means the credentials are not usable.
func (t *ConnectivityTester) TestConnection(ctx context.Context, set credstore.CredentialSet) error {
	ctx, cancel := context.WithTimeout(ctx, headTimeout)
	defer cancel()

	client, err := NewClient(ctx, t.cfg, &set)
	if err != nil {
		return err
	}

	if err := NewBucket(client, t.cfg.Bucket).Head(ctx); err != nil {
		t.logger.Debug("Storage connectivity test failed: %v", err)
		return err
	}
	return nil
}
