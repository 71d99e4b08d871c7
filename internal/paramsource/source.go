// Package paramsource provides read-only access to the external secret
// rotation provider. The rotation provider publishes the current access key
// pair under <base>/current/* and marks keys scheduled for revocation under
// <base>/pending_deletion/*; this package only looks those slots up, it
// never writes.
package paramsource

import "context"

// Slot paths relative to the configured base path.
const (
	CurrentAccessKeyID         = "current/access_key_id"
	CurrentSecretAccessKey     = "current/secret_access_key"
	PendingDeletionAccessKeyID = "pending_deletion/access_key_id"
)

// Source is a remote read-only secret lookup. Get returns
// errors.ErrNotFound (wrapped) when the key is absent; any other error is a
// transport or permission failure.
type Source interface {
	// Name identifies the backend for logs and health output.
	Name() string

	// Get fetches the value stored at path.
	Get(ctx context.Context, path string) (string, error)
}

// JoinPath joins the base path and a slot path with a single separator.
func JoinPath(base, slot string) string {
	if base == "" {
		return "/" + slot
	}
	if base[len(base)-1] == '/' {
		return base + slot
	}
	return base + "/" + slot
}
