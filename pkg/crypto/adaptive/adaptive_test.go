package adaptive

import (
	"bytes"
	"errors"
	"testing"
)

var (
	key16 = make([]byte, 16)
	key24 = make([]byte, 24)
	key32 = make([]byte, 32)
)

func init() {
	for i := range key32 {
		key32[i] = byte(i)
	}
	copy(key16, key32)
	copy(key24, key32)
}

func TestNew(t *testing.T) {
	c, err := New(key32)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if typ := c.Type(); typ != CipherAESGCM && typ != CipherChaCha20 {
		t.Errorf("New() returned unknown cipher type: %s", typ)
	}
}

func TestNewWithType(t *testing.T) {
	for _, typ := range []CipherType{CipherAESGCM, CipherChaCha20} {
		c, err := NewWithType(key32, typ)
		if err != nil {
			t.Fatalf("NewWithType(%s) error = %v", typ, err)
		}
		if c.Type() != typ {
			t.Errorf("NewWithType(%s) type = %s", typ, c.Type())
		}
	}

	if _, err := NewWithType(key32, "rot13"); !errors.Is(err, ErrUnknownCipher) {
		t.Errorf("NewWithType(rot13) err = %v, want %v", err, ErrUnknownCipher)
	}
}

func TestKeySizes(t *testing.T) {
	tests := []struct {
		name    string
		ctor    func([]byte) (Cipher, error)
		key     []byte
		wantErr bool
	}{
		{"aes-128", NewAESGCM, key16, false},
		{"aes-192", NewAESGCM, key24, false},
		{"aes-256", NewAESGCM, key32, false},
		{"aes-15", NewAESGCM, make([]byte, 15), true},
		{"chacha-32", NewChaCha20, key32, false},
		{"chacha-16", NewChaCha20, key16, true},
		{"chacha-33", NewChaCha20, make([]byte, 33), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.ctor(tt.key)
			if tt.wantErr && !errors.Is(err, ErrInvalidKeySize) {
				t.Errorf("err = %v, want %v", err, ErrInvalidKeySize)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected err = %v", err)
			}
		})
	}
}

func TestEncryptDecrypt(t *testing.T) {
	for _, typ := range []CipherType{CipherAESGCM, CipherChaCha20} {
		c, err := NewWithType(key32, typ)
		if err != nil {
			t.Fatalf("NewWithType(%s): %v", typ, err)
		}

		t.Run(string(typ), func(t *testing.T) {
			tests := []struct {
				name      string
				plaintext []byte
				aad       []byte
			}{
				{"empty", []byte{}, nil},
				{"json", []byte(`{"name":"Waradu","age":31}`), []byte("user")},
				{"large", bytes.Repeat([]byte("A"), 4096), nil},
			}

			for _, tt := range tests {
				sealed, err := c.Encrypt(tt.plaintext, tt.aad)
				if err != nil {
					t.Fatalf("%s: Encrypt() error = %v", tt.name, err)
				}
				if wantMin := len(tt.plaintext) + c.NonceSize() + c.Overhead(); len(sealed) < wantMin {
					t.Errorf("%s: len = %d, want >= %d", tt.name, len(sealed), wantMin)
				}

				opened, err := c.Decrypt(sealed, tt.aad)
				if err != nil {
					t.Fatalf("%s: Decrypt() error = %v", tt.name, err)
				}
				if !bytes.Equal(opened, tt.plaintext) {
					t.Errorf("%s: Decrypt() = %q, want %q", tt.name, opened, tt.plaintext)
				}
			}
		})
	}
}

func TestDecrypt_Rejects(t *testing.T) {
	c, err := NewAESGCM(key32)
	if err != nil {
		t.Fatal(err)
	}

	sealed, err := c.Encrypt([]byte("secret"), []byte("user"))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := c.Decrypt(sealed, []byte("settings")); err == nil {
		t.Error("Decrypt with different additional data should fail")
	}

	tampered := append([]byte(nil), sealed...)
	tampered[len(tampered)-1] ^= 0xFF
	if _, err := c.Decrypt(tampered, []byte("user")); err == nil {
		t.Error("Decrypt of tampered ciphertext should fail")
	}

	if _, err := c.Decrypt([]byte{1, 2, 3}, nil); !errors.Is(err, ErrCiphertextTooShort) {
		t.Errorf("short ciphertext err = %v, want %v", err, ErrCiphertextTooShort)
	}
}

func TestEncrypt_NonceIsRandom(t *testing.T) {
	c, _ := NewChaCha20(key32)

	a, _ := c.Encrypt([]byte("same"), nil)
	b, _ := c.Encrypt([]byte("same"), nil)
	if bytes.Equal(a, b) {
		t.Error("two encryptions of the same plaintext should differ")
	}
}

func TestDeriveKey(t *testing.T) {
	k1 := DeriveKey([]byte("correct horse"), []byte("sharemesh"))
	k2 := DeriveKey([]byte("correct horse"), []byte("sharemesh"))
	k3 := DeriveKey([]byte("battery staple"), []byte("sharemesh"))

	if len(k1) != KeySize {
		t.Fatalf("len = %d, want %d", len(k1), KeySize)
	}
	if !bytes.Equal(k1, k2) {
		t.Error("DeriveKey should be deterministic")
	}
	if bytes.Equal(k1, k3) {
		t.Error("different passphrases should give different keys")
	}
	if _, err := New(k1); err != nil {
		t.Errorf("derived key rejected: %v", err)
	}
}
