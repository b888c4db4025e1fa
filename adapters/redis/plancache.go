// Package redis provides a Redis-backed read-through cache for plan versions.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/artpar/usagebill/domain/plan"
	"github.com/artpar/usagebill/ports"
)

const defaultTTL = 5 * time.Minute

// PlanCache implements ports.PlanCache on Redis. Plan versions are stored as
// JSON; decimals keep their exact string form.
type PlanCache struct {
	client     *goredis.Client
	ownsClient bool
	prefix     string
	ttl        time.Duration
	logger     zerolog.Logger
}

// Option configures a PlanCache.
type Option func(*PlanCache)

// WithTTL sets the entry lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(c *PlanCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithPrefix sets the key namespace.
func WithPrefix(prefix string) Option {
	return func(c *PlanCache) { c.prefix = prefix }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *PlanCache) { c.logger = logger }
}

// Config holds connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config, opts ...Option) (*PlanCache, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Addr, err)
	}

	c := NewWithClient(client, opts...)
	c.ownsClient = true
	return c, nil
}

// NewWithClient wraps an existing client. The caller keeps ownership of it.
func NewWithClient(client *goredis.Client, opts ...Option) *PlanCache {
	c := &PlanCache{
		client: client,
		prefix: "usagebill:plan_version:",
		ttl:    defaultTTL,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *PlanCache) key(id string) string {
	return c.prefix + id
}

// Get returns a cached plan version. A miss returns ok=false and no error.
func (c *PlanCache) Get(ctx context.Context, id string) (plan.Version, bool, error) {
	data, err := c.client.Get(ctx, c.key(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return plan.Version{}, false, nil
	}
	if err != nil {
		return plan.Version{}, false, fmt.Errorf("get plan version %s: %w", id, err)
	}

	var v plan.Version
	if err := json.Unmarshal(data, &v); err != nil {
		c.logger.Warn().Err(err).Str("plan_version", id).Msg("dropping corrupt cache entry")
		_ = c.client.Del(ctx, c.key(id)).Err()
		return plan.Version{}, false, nil
	}
	return v, true, nil
}

// Set stores a plan version with the configured TTL.
func (c *PlanCache) Set(ctx context.Context, v plan.Version) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode plan version %s: %w", v.ID, err)
	}
	if err := c.client.Set(ctx, c.key(v.ID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("set plan version %s: %w", v.ID, err)
	}
	return nil
}

// Invalidate removes a cached plan version.
func (c *PlanCache) Invalidate(ctx context.Context, id string) error {
	if err := c.client.Del(ctx, c.key(id)).Err(); err != nil {
		return fmt.Errorf("invalidate plan version %s: %w", id, err)
	}
	return nil
}

// Ping checks the connection (readiness probe).
func (c *PlanCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the client if the cache created it.
func (c *PlanCache) Close() error {
	if c.ownsClient {
		return c.client.Close()
	}
	return nil
}

var _ ports.PlanCache = (*PlanCache)(nil)
