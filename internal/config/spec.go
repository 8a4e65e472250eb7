package config

import "time"

// Config is the root configuration for sharemesh and sharemesh-relay.
type Config struct {
	Node    NodeSection    `koanf:"node" json:"node" yaml:"node"`
	Bus     BusSection     `koanf:"bus" json:"bus" yaml:"bus"`
	Storage StorageSection `koanf:"storage" json:"storage" yaml:"storage"`
	Relay   RelaySection   `koanf:"relay" json:"relay" yaml:"relay"`
	Log     LogSection     `koanf:"log" json:"log" yaml:"log"`
}

// NodeSection configures the local shared-value handle.
type NodeSection struct {
	// Key selects the sync group.
	Key string `koanf:"key" json:"key" yaml:"key"`

	// Debug enables handle trace logging.
	Debug bool `koanf:"debug" json:"debug" yaml:"debug"`

	// SyncTimeout bounds how long commands wait for a peer to answer the
	// join request before falling back to local state.
	SyncTimeout time.Duration `koanf:"sync_timeout" json:"sync_timeout" yaml:"sync_timeout"`
}

// BusSection selects the pub/sub transport.
type BusSection struct {
	// Driver is one of memory, redis, ws.
	Driver string `koanf:"driver" json:"driver" yaml:"driver"`

	RedisAddr     string `koanf:"redis_addr" json:"redis_addr" yaml:"redis_addr"`
	RedisPassword string `koanf:"redis_password" json:"redis_password" yaml:"redis_password"`
	RedisDB       int    `koanf:"redis_db" json:"redis_db" yaml:"redis_db"`
	ChannelPrefix string `koanf:"channel_prefix" json:"channel_prefix" yaml:"channel_prefix"`

	// RelayURL is the relay WebSocket endpoint (ws driver).
	RelayURL string `koanf:"relay_url" json:"relay_url" yaml:"relay_url"`

	// RelayCAFile is a PEM bundle trusted in addition to the system roots
	// for wss relay URLs.
	RelayCAFile string `koanf:"relay_ca_file" json:"relay_ca_file" yaml:"relay_ca_file"`

	// RelayReconnectTimeout stops redialing a lost relay after this long.
	// Zero redials until the process exits.
	RelayReconnectTimeout time.Duration `koanf:"relay_reconnect_timeout" json:"relay_reconnect_timeout" yaml:"relay_reconnect_timeout"`
}

// StorageSection selects the persistence backend.
type StorageSection struct {
	// Driver is one of none, memory, badger, bolt, sqlite, redis.
	Driver string `koanf:"driver" json:"driver" yaml:"driver"`

	// Path is the directory (badger) or file (bolt, sqlite).
	Path string `koanf:"path" json:"path" yaml:"path"`

	RedisAddr     string `koanf:"redis_addr" json:"redis_addr" yaml:"redis_addr"`
	RedisPassword string `koanf:"redis_password" json:"redis_password" yaml:"redis_password"`
	RedisDB       int    `koanf:"redis_db" json:"redis_db" yaml:"redis_db"`
	KeyPrefix     string `koanf:"key_prefix" json:"key_prefix" yaml:"key_prefix"`

	// EncryptionKey is a hex encoded 32 byte key. Empty disables encryption.
	EncryptionKey string `koanf:"encryption_key" json:"encryption_key" yaml:"encryption_key"`

	// EncryptionPassphrase derives the key with Argon2id when EncryptionKey
	// is empty.
	EncryptionPassphrase string `koanf:"encryption_passphrase" json:"encryption_passphrase" yaml:"encryption_passphrase"`

	// GCInterval is the Badger value-log GC interval.
	GCInterval string `koanf:"gc_interval" json:"gc_interval" yaml:"gc_interval"`
}

// RelaySection configures sharemesh-relay.
type RelaySection struct {
	Addr           string        `koanf:"addr" json:"addr" yaml:"addr"`
	AllowedOrigins []string      `koanf:"allowed_origins" json:"allowed_origins" yaml:"allowed_origins"`
	MaxMessageSize int64         `koanf:"max_message_size" json:"max_message_size" yaml:"max_message_size"`
	SendBuffer     int           `koanf:"send_buffer" json:"send_buffer" yaml:"send_buffer"`
	WriteTimeout   time.Duration `koanf:"write_timeout" json:"write_timeout" yaml:"write_timeout"`
	PongTimeout    time.Duration `koanf:"pong_timeout" json:"pong_timeout" yaml:"pong_timeout"`
	Metrics        bool          `koanf:"metrics" json:"metrics" yaml:"metrics"`

	// FrameRate caps inbound frames per second per connection (0 = off).
	FrameRate  float64 `koanf:"frame_rate" json:"frame_rate" yaml:"frame_rate"`
	FrameBurst int     `koanf:"frame_burst" json:"frame_burst" yaml:"frame_burst"`

	// TLSCertFile and TLSKeyFile enable wss. Both files are reloaded when
	// they change.
	TLSCertFile string `koanf:"tls_cert_file" json:"tls_cert_file" yaml:"tls_cert_file"`
	TLSKeyFile  string `koanf:"tls_key_file" json:"tls_key_file" yaml:"tls_key_file"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `koanf:"level" json:"level" yaml:"level"`
	Format string `koanf:"format" json:"format" yaml:"format"`
}
