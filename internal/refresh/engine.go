// Package refresh decides whether cached object-storage credentials are
// still trustworthy, fetches rotated keys from the rotation source, and
// falls back to static environment credentials when the source is
// unreachable. Every external failure degrades to a boolean; nothing raises
// past the engine.
package refresh

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/permitportal/storageops/internal/credstore"
	serrors "github.com/permitportal/storageops/internal/errors"
	"github.com/permitportal/storageops/internal/logging"
	"github.com/permitportal/storageops/internal/paramsource"
)

const (
	// DefaultRotatedTTL is deliberately shorter than the rotation provider's
	// 4-day deletion window so at least one full refresh cycle fits inside
	// the safety margin.
	DefaultRotatedTTL = 72 * time.Hour

	// DefaultFallbackTTL keeps environment-sourced sets short-lived so the
	// system keeps retrying the rotation source instead of settling on a
	// stale fallback.
	DefaultFallbackTTL = 24 * time.Hour

	// DefaultExpiryBuffer is the engine's validity safety buffer.
	DefaultExpiryBuffer = 2 * time.Hour
)

// Tester performs a live connectivity test with a candidate credential set.
type Tester interface {
	TestConnection(ctx context.Context, set credstore.CredentialSet) error
}

// STSClientAPI is the subset of the STS client used by the assume-role
// rotation path. This allows for mocking in tests.
type STSClientAPI interface {
	AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error)
}

// Config holds the engine's rotation policy.
type Config struct {
	BasePath     string
	Bucket       string
	ExpiryBuffer time.Duration
	RotatedTTL   time.Duration
	FallbackTTL  time.Duration

	// UseAssumeRole switches the rotation fetch from the parameter source to
	// STS AssumeRole session credentials.
	UseAssumeRole bool
	RoleARN       string
	SessionName   string
	// RoleTTL bounds the assume-role session duration.
	RoleTTL time.Duration
}

func (c *Config) applyDefaults() {
	if c.ExpiryBuffer == 0 {
		c.ExpiryBuffer = DefaultExpiryBuffer
	}
	if c.RotatedTTL == 0 {
		c.RotatedTTL = DefaultRotatedTTL
	}
	if c.FallbackTTL == 0 {
		c.FallbackTTL = DefaultFallbackTTL
	}
	if c.RoleTTL == 0 {
		c.RoleTTL = 48 * time.Hour
	}
	if c.SessionName == "" {
		c.SessionName = "s3-access"
	}
}

// Engine is the credential refresh engine.
type Engine struct {
	store  credstore.Store
	source paramsource.Source
	tester Tester
	sts    STSClientAPI
	logger *logging.Logger
	cfg    Config
	getenv func(string) string
	now    func() time.Time
}

// Option is a functional option for configuring the engine.
type Option func(*Engine)

// WithSTSClient sets a custom STS client for the assume-role path.
func WithSTSClient(client STSClientAPI) Option {
	return func(e *Engine) {
		e.sts = client
	}
}

// WithClock overrides the engine's clock (for testing).
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithGetenv overrides environment lookup (for testing).
func WithGetenv(getenv func(string) string) Option {
	return func(e *Engine) {
		e.getenv = getenv
	}
}

// New creates a refresh engine. source may be nil when the assume-role
// rotation path is configured; pending-deletion checks are then skipped.
func New(store credstore.Store, source paramsource.Source, tester Tester, logger *logging.Logger, cfg Config, opts ...Option) *Engine {
	cfg.applyDefaults()
	e := &Engine{
		store:  store,
		source: source,
		tester: tester,
		logger: logger,
		cfg:    cfg,
		getenv: os.Getenv,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RefreshCredentials ensures a usable credential set exists. Idempotent: a
// second call in immediate succession short-circuits on the validity check
// without touching the rotation source again.
func (e *Engine) RefreshCredentials(ctx context.Context) bool {
	e.logger.Info("Starting credential refresh")

	if e.CredentialsStillValid(ctx) {
		e.logger.Info("Current credentials still valid, skipping refresh")
		return true
	}

	if _, err := e.store.DeactivateExpired(ctx); err != nil {
		e.logger.Warn("Failed to deactivate expired credentials: %v", err)
	}

	return e.refreshFromRotationSource(ctx)
}

// CredentialsStillValid reports whether the stored current set can be
// trusted. Any of: no set, pending-deletion key, expiry inside the safety
// buffer, or a failed live connectivity test forces a refresh.
func (e *Engine) CredentialsStillValid(ctx context.Context) bool {
	cur, err := e.store.Current(ctx, credstore.DefaultName)
	if err != nil {
		e.logger.Error("Failed to load current credentials: %v", err)
		return false
	}
	if cur == nil {
		return false
	}

	if e.UsingPendingDeletionKey(ctx, cur) {
		e.logger.Warn("Current access key is marked pending_deletion, forcing refresh")
		return false
	}

	if cur.ExpiresAt.Before(e.now().Add(e.cfg.ExpiryBuffer)) {
		e.logger.Info("Credentials expire within %s buffer, forcing refresh", e.cfg.ExpiryBuffer)
		return false
	}

	if err := e.tester.TestConnection(ctx, *cur); err != nil {
		e.logger.Warn("Stored credentials failed live connectivity test: %v", err)
		return false
	}

	return true
}

// UsingPendingDeletionKey checks the rotation source's pending_deletion slot
// against the given set's access key. A key already scheduled for revocation
// must not be trusted even if unexpired. Lookup failures never block the
// caller; they just disable the check.
func (e *Engine) UsingPendingDeletionKey(ctx context.Context, set *credstore.CredentialSet) bool {
	if e.source == nil || set == nil {
		return false
	}

	path := paramsource.JoinPath(e.cfg.BasePath, paramsource.PendingDeletionAccessKeyID)
	value, err := e.source.Get(ctx, path)
	if err != nil {
		if !serrors.IsNotFound(err) {
			e.logger.Debug("Could not check pending deletion status: %v", err)
		}
		return false
	}

	return value != "" && value == set.AccessKeyID
}

// refreshFromRotationSource fetches the current rotated key pair and
// persists it. On any lookup failure it falls back to the static
// environment credentials.
func (e *Engine) refreshFromRotationSource(ctx context.Context) bool {
	if e.cfg.UseAssumeRole {
		if e.refreshFromAssumedRole(ctx) {
			return true
		}
		return e.RefreshFromEnvironmentFallback(ctx)
	}

	if e.source == nil {
		e.logger.Warn("No rotation source configured, using environment fallback")
		return e.RefreshFromEnvironmentFallback(ctx)
	}

	accessKey, err := e.source.Get(ctx, paramsource.JoinPath(e.cfg.BasePath, paramsource.CurrentAccessKeyID))
	if err != nil {
		e.logger.Warn("Rotation source lookup failed for access key: %v", err)
		return e.RefreshFromEnvironmentFallback(ctx)
	}

	secretKey, err := e.source.Get(ctx, paramsource.JoinPath(e.cfg.BasePath, paramsource.CurrentSecretAccessKey))
	if err != nil {
		e.logger.Warn("Rotation source lookup failed for secret key: %v", err)
		return e.RefreshFromEnvironmentFallback(ctx)
	}

	expiresAt := e.now().Add(e.cfg.RotatedTTL)
	err = e.store.Upsert(ctx, credstore.CredentialSet{
		Name:            credstore.DefaultName,
		AccessKeyID:     accessKey,
		SecretAccessKey: secretKey,
		ExpiresAt:       expiresAt,
	})
	if err != nil {
		e.logger.Error("Failed to persist rotated credentials: %v", err)
		return false
	}

	e.logger.Info("Credentials refreshed from %s, expires at %s", e.source.Name(), expiresAt.Format(time.RFC3339))
	return true
}

// refreshFromAssumedRole exchanges the static environment keys for scoped
// session credentials via STS AssumeRole.
func (e *Engine) refreshFromAssumedRole(ctx context.Context) bool {
	if e.sts == nil {
		e.logger.Warn("Assume-role rotation configured but no STS client available")
		return false
	}

	policy, err := e.sessionPolicy()
	if err != nil {
		e.logger.Error("Failed to build session policy: %v", err)
		return false
	}

	sessionName := fmt.Sprintf("%s-%d", e.cfg.SessionName, e.now().Unix())
	out, err := e.sts.AssumeRole(ctx, &sts.AssumeRoleInput{
		RoleArn:         aws.String(e.cfg.RoleARN),
		RoleSessionName: aws.String(sessionName),
		DurationSeconds: aws.Int32(int32(e.cfg.RoleTTL / time.Second)),
		Policy:          aws.String(policy),
	})
	if err != nil {
		e.logger.Warn("AssumeRole failed: %v", err)
		return false
	}
	if out.Credentials == nil {
		e.logger.Warn("AssumeRole returned no credentials")
		return false
	}

	creds := out.Credentials
	err = e.store.Upsert(ctx, credstore.CredentialSet{
		Name:            credstore.DefaultName,
		AccessKeyID:     aws.ToString(creds.AccessKeyId),
		SecretAccessKey: aws.ToString(creds.SecretAccessKey),
		SessionToken:    aws.ToString(creds.SessionToken),
		ExpiresAt:       aws.ToTime(creds.Expiration),
	})
	if err != nil {
		e.logger.Error("Failed to persist assumed-role credentials: %v", err)
		return false
	}

	e.logger.Info("Credentials refreshed via assumed role, expires at %s", aws.ToTime(creds.Expiration).Format(time.RFC3339))
	return true
}

// sessionPolicy scopes the assumed-role session to the configured bucket.
func (e *Engine) sessionPolicy() (string, error) {
	policy := map[string]interface{}{
		"Version": "2012-10-17",
		"Statement": []map[string]interface{}{
			{
				"Effect": "Allow",
				"Action": []string{"s3:*"},
				"Resource": []string{
					"arn:aws:s3:::" + e.cfg.Bucket,
					"arn:aws:s3:::" + e.cfg.Bucket + "/*",
				},
			},
		},
	}
	data, err := json.Marshal(policy)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// RefreshFromEnvironmentFallback persists the static environment keys with a
// short TTL.
func (e *Engine) RefreshFromEnvironmentFallback(ctx context.Context) bool {
	accessKey := e.getenv("OBJECT_STORAGE_ACCESS_KEY_ID")
	secretKey := e.getenv("OBJECT_STORAGE_SECRET_ACCESS_KEY")
	if accessKey == "" || secretKey == "" {
		e.logger.Error("Environment fallback unavailable: static storage keys not set")
		return false
	}

	expiresAt := e.now().Add(e.cfg.FallbackTTL)
	err := e.store.Upsert(ctx, credstore.CredentialSet{
		Name:            credstore.DefaultName,
		AccessKeyID:     accessKey,
		SecretAccessKey: secretKey,
		ExpiresAt:       expiresAt,
	})
	if err != nil {
		e.logger.Error("Failed to store environment credentials: %v", err)
		return false
	}

	e.logger.Info("Credentials stored from environment fallback, expires at %s", expiresAt.Format(time.RFC3339))
	return true
}

// EnvironmentFallbackAvailable reports whether both static keys are set.
func (e *Engine) EnvironmentFallbackAvailable() bool {
	return e.getenv("OBJECT_STORAGE_ACCESS_KEY_ID") != "" && e.getenv("OBJECT_STORAGE_SECRET_ACCESS_KEY") != ""
}

// RotationSourceAccessible probes the rotation source's current access-key
// slot. Used by the health check only; any error counts as inaccessible.
func (e *Engine) RotationSourceAccessible(ctx context.Context) bool {
	if e.source == nil {
		return false
	}
	_, err := e.source.Get(ctx, paramsource.JoinPath(e.cfg.BasePath, paramsource.CurrentAccessKeyID))
	if err != nil {
		e.logger.Debug("Rotation source probe failed: %v", err)
		return false
	}
	return true
}

// TestCredentials performs the minimal authenticated storage call with the
// given set, or with the stored current set when set is nil. Failures are
// never propagated.
func (e *Engine) TestCredentials(ctx context.Context, set *credstore.CredentialSet) bool {
	if set == nil {
		cur, err := e.store.Current(ctx, credstore.DefaultName)
		if err != nil || cur == nil {
			return false
		}
		set = cur
	}

	if err := e.tester.TestConnection(ctx, *set); err != nil {
		e.logger.Warn("Credential test failed: %v", err)
		return false
	}
	e.logger.Debug("Credential test successful")
	return true
}
