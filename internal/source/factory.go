package source

import (
	"fmt"

	"github.com/mesa-pos/livesync/internal/config"
	"github.com/rs/zerolog/log"
)

// New creates a source based on the configured backend.
//
// Backend options:
// - "local": in-process source (default; used by tests and single-device demos)
// - "redis": Redis pub/sub (the POS backend's change feed)
func New(cfg config.SourceConfig) (Source, error) {
	switch cfg.Backend {
	case "local", "":
		log.Info().Msg("Using local in-process source")
		return NewLocal(), nil

	case "redis":
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("redis_url is required for the redis source backend")
		}
		log.Info().Msg("Using Redis-compatible source")
		s, err := NewRedis(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Redis source: %w", err)
		}
		return s, nil

	default:
		return nil, fmt.Errorf("unknown source backend: %s (valid options: local, redis)", cfg.Backend)
	}
}
