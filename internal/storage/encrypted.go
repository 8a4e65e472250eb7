package storage

import (
	"context"
	"fmt"

	"github.com/yndnr/sharemesh-go/pkg/crypto/adaptive"
)

// EncryptedStore seals values before handing them to an inner store.
// The key is bound as additional data, so a value copied under another
// key fails to decrypt.
type EncryptedStore struct {
	inner  Store
	cipher adaptive.Cipher
}

// NewEncryptedStore wraps inner with cipher.
func NewEncryptedStore(inner Store, cipher adaptive.Cipher) *EncryptedStore {
	return &EncryptedStore{inner: inner, cipher: cipher}
}

// Get retrieves and decrypts a value.
func (s *EncryptedStore) Get(ctx context.Context, key string) ([]byte, error) {
	sealed, err := s.inner.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	plain, err := s.cipher.Decrypt(sealed, []byte(key))
	if err != nil {
		return nil, fmt.Errorf("decrypt %q: %w", key, err)
	}
	return plain, nil
}

// Set encrypts and stores a value.
func (s *EncryptedStore) Set(ctx context.Context, key string, value []byte) error {
	sealed, err := s.cipher.Encrypt(value, []byte(key))
	if err != nil {
		return fmt.Errorf("encrypt %q: %w", key, err)
	}
	return s.inner.Set(ctx, key, sealed)
}

// Delete removes a key.
func (s *EncryptedStore) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, key)
}

// Scan iterates decrypted values. Entries that fail to decrypt abort the
// scan with an error.
func (s *EncryptedStore) Scan(ctx context.Context, prefix string, fn func(key string, value []byte) bool) error {
	var decErr error
	err := s.inner.Scan(ctx, prefix, func(key string, sealed []byte) bool {
		plain, err := s.cipher.Decrypt(sealed, []byte(key))
		if err != nil {
			decErr = fmt.Errorf("decrypt %q: %w", key, err)
			return false
		}
		return fn(key, plain)
	})
	if err != nil {
		return err
	}
	return decErr
}

// Close closes the inner store.
func (s *EncryptedStore) Close() error {
	return s.inner.Close()
}
