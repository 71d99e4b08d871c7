// Package secure holds the credential-store encryption key in protected
// memory. The key is loaded once at startup, lives in a memguard enclave
// (encrypted at rest in memory, mlocked where the platform allows), and is
// only decrypted for the duration of each encrypt/decrypt call.
package secure

import (
	"sync"

	"github.com/awnumar/memguard"
)

// Key is an encryption key kept in a protected memory enclave.
type Key struct {
	enclave *memguard.Enclave
	mu      sync.RWMutex
	closed  bool
}

// NewKey copies the given key material into a protected enclave. The caller
// should zero its own copy afterwards.
func NewKey(material []byte) *Key {
	return &Key{enclave: memguard.NewEnclave(material)}
}

// Use decrypts the key, passes it to fn, and wipes the plaintext again
// before returning. The byte slice must not escape fn.
func (k *Key) Use(fn func(key []byte) error) error {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if k.closed {
		return fn(nil)
	}

	locked, err := k.enclave.Open()
	if err != nil {
		return err
	}
	defer locked.Destroy()

	return fn(locked.Bytes())
}

// Close marks the key as unusable. Idempotent. The encrypted enclave data is
// left to the garbage collector; call memguard.Purge at process exit for a
// full wipe.
func (k *Key) Close() {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.closed {
		return
	}
	k.enclave = nil
	k.closed = true
}
