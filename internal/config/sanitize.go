package config

import "strings"

// Sanitize returns a copy of the config with sensitive fields masked.
//
// This is used for logging or printing configuration without exposing
// secrets.
func Sanitize(cfg *Config) *Config {
	sanitized := *cfg
	sanitized.Relay.AllowedOrigins = append([]string(nil), cfg.Relay.AllowedOrigins...)

	if sanitized.Storage.EncryptionKey != "" {
		sanitized.Storage.EncryptionKey = maskSecret(sanitized.Storage.EncryptionKey)
	}
	if sanitized.Storage.EncryptionPassphrase != "" {
		sanitized.Storage.EncryptionPassphrase = maskSecret(sanitized.Storage.EncryptionPassphrase)
	}
	if sanitized.Storage.RedisPassword != "" {
		sanitized.Storage.RedisPassword = maskSecret(sanitized.Storage.RedisPassword)
	}
	if sanitized.Bus.RedisPassword != "" {
		sanitized.Bus.RedisPassword = maskSecret(sanitized.Bus.RedisPassword)
	}

	return &sanitized
}

// maskSecret masks a secret value for safe logging.
func maskSecret(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}
