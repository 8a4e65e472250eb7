package config

import (
	"github.com/yndnr/sharemesh-go/internal/infra/confloader"
)

// Load reads path (optional) and SHAREMESH_* variables over Default(),
// applies overrides keyed by dotted path, and verifies the result.
func Load(path string, overrides map[string]any) (*Config, error) {
	cfg := Default()
	loader := confloader.NewLoader(
		confloader.WithConfigFile(path),
		confloader.WithOverrides(overrides),
		confloader.WithListKeys("relay.allowed_origins"),
	)
	if err := loader.Load(cfg); err != nil {
		return nil, err
	}
	if err := Verify(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
