package config

import "time"

// Default configuration values.
const (
	DefaultKey         = "root"
	DefaultSyncTimeout = 2 * time.Second

	DefaultBusDriver     = BusMemory
	DefaultRedisAddr     = "127.0.0.1:6379"
	DefaultChannelPrefix = "sharemesh:bus:"
	DefaultRelayURL      = "ws://127.0.0.1:7420/ws"

	DefaultStorageDriver = StorageNone
	DefaultKeyPrefix     = "sharemesh:value:"
	DefaultGCInterval    = "10m"

	DefaultRelayAddr      = "127.0.0.1:7420"
	DefaultMaxMessageSize = 1 << 20
	DefaultSendBuffer     = 256
	DefaultWriteTimeout   = 10 * time.Second
	DefaultPongTimeout    = 60 * time.Second

	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"
)

// Bus drivers.
const (
	BusMemory = "memory"
	BusRedis  = "redis"
	BusWS     = "ws"
)

// Storage drivers. The remaining names match internal/storage.
const (
	StorageNone = "none"
)

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Node: NodeSection{
			Key:         DefaultKey,
			SyncTimeout: DefaultSyncTimeout,
		},
		Bus: BusSection{
			Driver:        DefaultBusDriver,
			RedisAddr:     DefaultRedisAddr,
			ChannelPrefix: DefaultChannelPrefix,
			RelayURL:      DefaultRelayURL,
		},
		Storage: StorageSection{
			Driver:     DefaultStorageDriver,
			RedisAddr:  DefaultRedisAddr,
			KeyPrefix:  DefaultKeyPrefix,
			GCInterval: DefaultGCInterval,
		},
		Relay: RelaySection{
			Addr:           DefaultRelayAddr,
			MaxMessageSize: DefaultMaxMessageSize,
			SendBuffer:     DefaultSendBuffer,
			WriteTimeout:   DefaultWriteTimeout,
			PongTimeout:    DefaultPongTimeout,
			Metrics:        true,
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}
