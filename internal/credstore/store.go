// Package credstore is the durable, encrypted store of named credential
// sets. It is the single source of truth for "current" object-storage
// credentials: the refresh engine is the only writer, everything else reads.
package credstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/permitportal/storageops/internal/logging"
	"github.com/permitportal/storageops/internal/secure"
)

// DefaultName is the credential set name used for object-storage access.
const DefaultName = "s3_access"

// minValidity keeps Current from returning a set about to expire mid-request.
const minValidity = 5 * time.Minute

// CredentialSet is one named set of object-storage credentials.
type CredentialSet struct {
	Name            string
	AccessKeyID     string
	SecretAccessKey string
	// SessionToken is empty for long-lived static keys.
	SessionToken string
	ExpiresAt    time.Time
	Active       bool
	UpdatedAt    time.Time
}

// TimeUntilExpiry returns how long the set remains valid relative to now.
func (c *CredentialSet) TimeUntilExpiry(now time.Time) time.Duration {
	return c.ExpiresAt.Sub(now)
}

// Store is the persistence contract for credential sets.
type Store interface {
	// Current returns the newest active set for name that is not within
	// minValidity of expiring. Returns (nil, nil) when no usable set exists.
	Current(ctx context.Context, name string) (*CredentialSet, error)

	// Upsert creates or overwrites the set for set.Name and marks it active.
	Upsert(ctx context.Context, set CredentialSet) error

	// DeactivateExpired flips active=false on every expired set and returns
	// how many rows changed.
	DeactivateExpired(ctx context.Context) (int64, error)
}

// SQLStore implements Store on Postgres. The three secret columns are
// encrypted at rest with AES-GCM; the key never touches the database.
type SQLStore struct {
	db     *sql.DB
	key    *secure.Key
	logger *logging.Logger
	now    func() time.Time
}

// NewSQLStore creates a Postgres-backed credential store.
func NewSQLStore(db *sql.DB, key *secure.Key, logger *logging.Logger) *SQLStore {
	return &SQLStore{db: db, key: key, logger: logger, now: time.Now}
}

// EnsureSchema creates the aws_credentials table if it does not exist.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS aws_credentials (
			id                BIGSERIAL PRIMARY KEY,
			name              TEXT NOT NULL UNIQUE,
			access_key_id     TEXT NOT NULL,
			secret_access_key TEXT NOT NULL,
			session_token     TEXT,
			expires_at        TIMESTAMPTZ NOT NULL,
			active            BOOLEAN NOT NULL DEFAULT TRUE,
			created_at        TIMESTAMPTZ NOT NULL,
			updated_at        TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("failed to create aws_credentials table: %w", err)
	}
	return nil
}

const currentQuery = `SELECT name, access_key_id, secret_access_key, session_token, expires_at, updated_at FROM aws_credentials WHERE name = $1 AND active = TRUE AND expires_at > $2 ORDER BY updated_at DESC LIMIT 1`

// Current implements Store.
func (s *SQLStore) Current(ctx context.Context, name string) (*CredentialSet, error) {
	cutoff := s.now().Add(minValidity)

	row := s.db.QueryRowContext(ctx, currentQuery, name, cutoff)

	var (
		set          CredentialSet
		sessionToken sql.NullString
	)
	err := row.Scan(&set.Name, &set.AccessKeyID, &set.SecretAccessKey, &sessionToken, &set.ExpiresAt, &set.UpdatedAt)
	if err == sql.ErrNoRows {
		s.logger.Warn("No valid %s credentials found in database", name)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load current credentials: %w", err)
	}

	if set.AccessKeyID, err = decryptField(s.key, set.AccessKeyID); err != nil {
		return nil, fmt.Errorf("access_key_id: %w", err)
	}
	if set.SecretAccessKey, err = decryptField(s.key, set.SecretAccessKey); err != nil {
		return nil, fmt.Errorf("secret_access_key: %w", err)
	}
	if sessionToken.Valid && sessionToken.String != "" {
		if set.SessionToken, err = decryptField(s.key, sessionToken.String); err != nil {
			return nil, fmt.Errorf("session_token: %w", err)
		}
	}

	set.Active = true
	return &set, nil
}

const upsertQuery = `INSERT INTO aws_credentials (name, access_key_id, secret_access_key, session_token, expires_at, active, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, TRUE, $6, $6) ON CONFLICT (name) DO UPDATE SET access_key_id = EXCLUDED.access_key_id, secret_access_key = EXCLUDED.secret_access_key, session_token = EXCLUDED.session_token, expires_at = EXCLUDED.expires_at, active = TRUE, updated_at = EXCLUDED.updated_at`

// Upsert implements Store.
func (s *SQLStore) Upsert(ctx context.Context, set CredentialSet) error {
	encKey, err := encryptField(s.key, set.AccessKeyID)
	if err != nil {
		return fmt.Errorf("access_key_id: %w", err)
	}
	encSecret, err := encryptField(s.key, set.SecretAccessKey)
	if err != nil {
		return fmt.Errorf("secret_access_key: %w", err)
	}

	var encToken sql.NullString
	if set.SessionToken != "" {
		token, err := encryptField(s.key, set.SessionToken)
		if err != nil {
			return fmt.Errorf("session_token: %w", err)
		}
		encToken = sql.NullString{String: token, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, upsertQuery, set.Name, encKey, encSecret, encToken, set.ExpiresAt, s.now())
	if err != nil {
		return fmt.Errorf("failed to store credentials: %w", err)
	}

	s.logger.Info("Credentials for %s updated, expires at %s", set.Name, set.ExpiresAt.Format(time.RFC3339))
	return nil
}

const deactivateQuery = `UPDATE aws_credentials SET active = FALSE, updated_at = $1 WHERE active = TRUE AND expires_at < $1`

// DeactivateExpired implements Store.
func (s *SQLStore) DeactivateExpired(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, deactivateQuery, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate expired credentials: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if count > 0 {
		s.logger.Info("Deactivated %d expired credential sets", count)
	}
	return count, nil
}
