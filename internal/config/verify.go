package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/yndnr/sharemesh-go/internal/storage"
	"github.com/yndnr/sharemesh-go/pkg/crypto/adaptive"
)

// passphraseSalt salts keys derived from storage.encryption_passphrase.
// Changing it makes every passphrase-encrypted store unreadable.
var passphraseSalt = []byte("sharemesh/storage/v1")

// Verify validates the configuration.
func Verify(cfg *Config) error {
	if err := verifyNode(&cfg.Node); err != nil {
		return err
	}
	if err := verifyBus(&cfg.Bus); err != nil {
		return err
	}
	if err := verifyStorage(&cfg.Storage); err != nil {
		return err
	}
	if err := verifyRelay(&cfg.Relay); err != nil {
		return err
	}
	return verifyLog(&cfg.Log)
}

func verifyNode(cfg *NodeSection) error {
	if cfg.Key == "" {
		return errors.New("node.key is required")
	}
	if strings.Contains(cfg.Key, ":") {
		return errors.New("node.key must not contain ':'")
	}
	if cfg.SyncTimeout < 0 {
		return errors.New("node.sync_timeout must not be negative")
	}
	return nil
}

func verifyBus(cfg *BusSection) error {
	switch cfg.Driver {
	case BusMemory:
	case BusRedis:
		if cfg.RedisAddr == "" {
			return errors.New("bus.redis_addr is required for the redis driver")
		}
	case BusWS:
		u, err := url.Parse(cfg.RelayURL)
		if err != nil {
			return fmt.Errorf("bus.relay_url: %w", err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return fmt.Errorf("bus.relay_url must use ws or wss, got %q", u.Scheme)
		}
		if cfg.RelayReconnectTimeout < 0 {
			return errors.New("bus.relay_reconnect_timeout must not be negative")
		}
	default:
		return fmt.Errorf("bus.driver %q is not one of memory, redis, ws", cfg.Driver)
	}
	return nil
}

func verifyStorage(cfg *StorageSection) error {
	switch cfg.Driver {
	case StorageNone, storage.DriverMemory:
	case storage.DriverBadger, storage.DriverBolt, storage.DriverSQLite:
		if cfg.Path == "" {
			return fmt.Errorf("storage.path is required for the %s driver", cfg.Driver)
		}
	case storage.DriverRedis:
		if cfg.RedisAddr == "" {
			return errors.New("storage.redis_addr is required for the redis driver")
		}
	default:
		return fmt.Errorf("storage.driver %q is not one of none, memory, badger, bolt, sqlite, redis", cfg.Driver)
	}

	if _, err := cfg.Key(); err != nil {
		return err
	}
	return nil
}

func verifyRelay(cfg *RelaySection) error {
	if _, _, err := net.SplitHostPort(cfg.Addr); err != nil {
		return fmt.Errorf("relay.addr: %w", err)
	}
	if cfg.MaxMessageSize < 0 {
		return errors.New("relay.max_message_size must not be negative")
	}
	if cfg.SendBuffer < 0 {
		return errors.New("relay.send_buffer must not be negative")
	}
	if cfg.FrameRate < 0 || cfg.FrameBurst < 0 {
		return errors.New("relay.frame_rate and relay.frame_burst must not be negative")
	}
	if (cfg.TLSCertFile == "") != (cfg.TLSKeyFile == "") {
		return errors.New("relay.tls_cert_file and relay.tls_key_file must be set together")
	}
	return nil
}

func verifyLog(cfg *LogSection) error {
	switch strings.ToLower(cfg.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", cfg.Level)
	}
	switch strings.ToLower(cfg.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("log.format %q is not one of json, text", cfg.Format)
	}
	return nil
}

// Key decodes EncryptionKey or derives one from EncryptionPassphrase. It
// returns nil when encryption is disabled.
func (s StorageSection) Key() ([]byte, error) {
	if s.EncryptionKey != "" && s.EncryptionPassphrase != "" {
		return nil, errors.New("storage.encryption_key and storage.encryption_passphrase are mutually exclusive")
	}
	if s.EncryptionPassphrase != "" {
		return adaptive.DeriveKey([]byte(s.EncryptionPassphrase), passphraseSalt), nil
	}
	if s.EncryptionKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(s.EncryptionKey)
	if err != nil {
		return nil, errors.New("storage.encryption_key must be hex encoded")
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("storage.encryption_key must be 32 bytes, got %d", len(key))
	}
	return key, nil
}

// Enabled reports whether a store is configured.
func (s StorageSection) Enabled() bool {
	return s.Driver != "" && s.Driver != StorageNone
}

// StorageConfig converts the section into a storage.Config.
func (s StorageSection) StorageConfig() (storage.Config, error) {
	key, err := s.Key()
	if err != nil {
		return storage.Config{}, err
	}
	badgerCfg := storage.DefaultBadgerConfig()
	if s.GCInterval != "" {
		badgerCfg.GCInterval = s.GCInterval
	}
	return storage.Config{
		Driver:        s.Driver,
		Path:          s.Path,
		RedisAddr:     s.RedisAddr,
		RedisPassword: s.RedisPassword,
		RedisDB:       s.RedisDB,
		KeyPrefix:     s.KeyPrefix,
		EncryptionKey: key,
		Badger:        badgerCfg,
	}, nil
}
