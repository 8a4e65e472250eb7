package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/yndnr/sharemesh-go/pkg/crypto/adaptive"
)

// Common errors
var (
	ErrKeyNotFound = errors.New("key not found")
	ErrClosed      = errors.New("store closed")
)

// Driver names accepted by Open.
const (
	DriverMemory = "memory"
	DriverBadger = "badger"
	DriverBolt   = "bolt"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

// Store is a synchronous key/value store for encoded shared values.
//
// Implementation requirements:
// - Thread-safe: concurrent reads/writes must be safe
// - Get returns ErrKeyNotFound for missing keys
// - Delete of a missing key is not an error
type Store interface {
	// Get retrieves the value stored under key.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key.
	Delete(ctx context.Context, key string) error

	// Scan iterates over keys with the given prefix in key order where the
	// backend supports it. fn returns false to stop iteration.
	Scan(ctx context.Context, prefix string, fn func(key string, value []byte) bool) error

	// Close releases the backend.
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	// Driver is one of the Driver* constants.
	Driver string

	// Path is the directory (badger) or file (bolt, sqlite) to open.
	Path string

	// Redis connection settings (redis driver).
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// KeyPrefix namespaces keys in shared backends (redis).
	KeyPrefix string

	// EncryptionKey enables EncryptedStore when non-empty (32 bytes).
	EncryptionKey []byte

	// Badger-specific configuration
	Badger BadgerConfig

	// Logger for backend diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// Open creates the backend described by cfg.
func Open(cfg Config) (Store, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	var (
		s   Store
		err error
	)

	switch strings.ToLower(cfg.Driver) {
	case "", DriverMemory:
		s = NewMemoryStore()
	case DriverBadger:
		s, err = NewBadgerStore(cfg.Path, cfg.Badger, cfg.Logger)
	case DriverBolt:
		s, err = NewBoltStore(cfg.Path)
	case DriverSQLite:
		s, err = NewSQLiteStore(cfg.Path)
	case DriverRedis:
		s, err = NewRedisStore(RedisConfig{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.KeyPrefix,
		})
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if len(cfg.EncryptionKey) > 0 {
		cipher, err := adaptive.New(cfg.EncryptionKey)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("storage: init cipher: %w", err)
		}
		s = NewEncryptedStore(s, cipher)
	}

	cfg.Logger.Debug("store opened",
		"driver", cfg.Driver,
		"path", cfg.Path,
		"encrypted", len(cfg.EncryptionKey) > 0)

	return s, nil
}
