package adaptive

import "golang.org/x/crypto/argon2"

// Argon2id parameters for DeriveKey.
const (
	kdfTime    = 1
	kdfMemory  = 64 * 1024
	kdfThreads = 4
	KeySize    = 32
)

// DeriveKey stretches a passphrase into a KeySize key with Argon2id.
// The same passphrase and salt always yield the same key.
func DeriveKey(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, kdfTime, kdfMemory, kdfThreads, KeySize)
}
