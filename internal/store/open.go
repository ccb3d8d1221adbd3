package store

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/orderguardian/internal/database"
)

// Options selects and configures a backend.
type Options struct {
	Backend     string        `koanf:"backend"` // memory, redis, bolt, postgres
	RedisURL    string        `koanf:"redis_url"`
	RedisPrefix string        `koanf:"redis_prefix"`
	TTL         time.Duration `koanf:"ttl"`
	BoltPath    string        `koanf:"bolt_path"`
	DatabaseURL string        `koanf:"database_url"`
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// Open builds the configured backend. The closer releases its connections.
func Open(ctx context.Context, opts Options) (StateStore, io.Closer, error) {
	log.Debug().Str("backend", opts.Backend).Msg("Opening conversation store")

	switch opts.Backend {
	case "", "memory":
		return NewMemoryStore(), closerFunc(func() error { return nil }), nil
	case "redis":
		client, err := ConnectRedis(ctx, opts.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return NewRedisStore(client, opts.RedisPrefix, opts.TTL), client, nil
	case "bolt":
		s, err := OpenBoltStore(opts.BoltPath)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case "postgres":
		pool, err := database.Open(ctx, opts.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		s := NewPostgresStore(pool)
		if err := s.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("create conversation_states table: %w", err)
		}
		return s, closerFunc(func() error { pool.Close(); return nil }), nil
	}
	return nil, nil, fmt.Errorf("unsupported store backend: %s", opts.Backend)
}
