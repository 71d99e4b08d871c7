package objstore

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/permitportal/storageops/internal/credstore"
	"github.com/permitportal/storageops/internal/logging"
)

// Invalidator is the cache-invalidation contract callers use after a
// successful credential refresh.
type Invalidator interface {
	Invalidate()
}

// ClientCache lazily builds an S3 client from the current credential store
// entry and memoizes it. The cache never performs a refresh; a caller that
// rotates credentials must call Invalidate, otherwise the stale client keeps
// using dead keys until an auth error surfaces.
type ClientCache struct {
	cfg    Config
	store  credstore.Store
	logger *logging.Logger
	getenv func(string) string

	mu     sync.Mutex
	client *s3.Client
}

// NewClientCache creates a cache reading credentials from store.
func NewClientCache(cfg Config, store credstore.Store, logger *logging.Logger) *ClientCache {
	return &ClientCache{
		cfg:    cfg,
		store:  store,
		logger: logger,
		getenv: os.Getenv,
	}
}

// Client returns the memoized client, building one if needed. When the store
// holds no usable set the static environment keys are used so reads keep
// working while the refresh jobs repair the store.
func (c *ClientCache) Client(ctx context.Context) (*s3.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	set, err := c.store.Current(ctx, credstore.DefaultName)
	if err != nil {
		return nil, err
	}

	if set == nil {
		accessKey := c.getenv("OBJECT_STORAGE_ACCESS_KEY_ID")
		secretKey := c.getenv("OBJECT_STORAGE_SECRET_ACCESS_KEY")
		if accessKey == "" || secretKey == "" {
			return nil, fmt.Errorf("no valid credentials in database or environment; run 'storageops refresh'")
		}
		c.logger.Warn("No database credentials found, building storage client from environment variables")
		set = &credstore.CredentialSet{
			Name:            credstore.DefaultName,
			AccessKeyID:     accessKey,
			SecretAccessKey: secretKey,
		}
	} else {
		c.logger.Debug("Building storage client from database credentials (expires %s)", set.ExpiresAt.Format(time.RFC3339))
	}

	client, err := NewClient(ctx, c.cfg, set)
	if err != nil {
		return nil, err
	}

	c.client = client
	return client, nil
}

// Invalidate drops the memoized client, forcing a credential re-read on the
// next Client call.
func (c *ClientCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		c.logger.Info("Storage client cache invalidated")
	}
	c.client = nil
}
