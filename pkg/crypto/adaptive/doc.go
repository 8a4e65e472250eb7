// Package adaptive provides authenticated encryption for values at rest.
//
// New picks AES-256-GCM on platforms where Go uses hardware AES and
// ChaCha20-Poly1305 elsewhere. Ciphertexts carry their random nonce as a
// prefix, so a Cipher is stateless and safe for concurrent use.
//
// Keys are 32 raw bytes; DeriveKey turns a passphrase into one. The
// storage.encryption_passphrase setting is derived this way.
//
// Usage:
//
//	c, err := adaptive.New(adaptive.DeriveKey(pass, salt))
//	sealed, err := c.Encrypt(plaintext, []byte("user"))
//	plaintext, err := c.Decrypt(sealed, []byte("user"))
package adaptive
