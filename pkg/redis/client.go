package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/foodops-backend/pkg/config"
	"github.com/angelmondragon/foodops-backend/pkg/logger"
)

// Key families under the foodops namespace.
const (
	keyNamespace      = "foodops"
	idempotencyPrefix = "idempotency"
	rateLimitPrefix   = "rate_limit"
	cronLockPrefix    = "cron_lock"
)

var errNotInitialized = errors.New("redis client not initialized")

// Scripts run atomically server-side. The lease scripts only touch the key
// while it still holds the caller's token; the window script never leaves a
// counter without an expiry.
const (
	compareAndDeleteScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("DEL", KEYS[1]) end return 0`
	compareAndExpireScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("PEXPIRE", KEYS[1], ARGV[2]) end return 0`
	fixedWindowScript      = `local n = redis.call("INCR", KEYS[1]) if n == 1 then redis.call("PEXPIRE", KEYS[1], ARGV[1]) end return n`
)

type cmdable interface {
	Ping(context.Context) *redis.StatusCmd
	Set(context.Context, string, any, time.Duration) *redis.StatusCmd
	Get(context.Context, string) *redis.StringCmd
	SetNX(context.Context, string, any, time.Duration) *redis.BoolCmd
	Del(context.Context, ...string) *redis.IntCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
}

// Client backs request idempotency, payment webhook dedupe, lock-endpoint
// rate limiting and cron leader leases.
type Client struct {
	store cmdable
	raw   *redis.Client
}

// Pinger exposes the health-check surface.
type Pinger interface {
	Ping(context.Context) error
}

// IdempotencyStore is the subset used by the HTTP and webhook dedupe guards.
type IdempotencyStore interface {
	Get(context.Context, string) (string, error)
	SetNX(context.Context, string, any, time.Duration) (bool, error)
	IdempotencyKey(scope, id string) string
	Del(context.Context, ...string) error
}

// New dials Redis and verifies connectivity before returning.
func New(ctx context.Context, cfg config.RedisConfig, logg *logger.Logger) (*Client, error) {
	opts, err := optionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	raw := redis.NewClient(opts)
	if err := raw.Ping(ctx).Err(); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{"addr": opts.Addr, "db": opts.DB}), "redis connection established")
	}
	return &Client{store: raw, raw: raw}, nil
}

// optionsFromConfig prefers FOODOPS_REDIS_URL; explicit pool and timeout
// settings fill whatever the URL leaves unset.
func optionsFromConfig(cfg config.RedisConfig) (*redis.Options, error) {
	opts := &redis.Options{Addr: cfg.Address, Password: cfg.Password, DB: cfg.DB}
	switch {
	case cfg.URL != "":
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		opts = parsed
		if opts.DB == 0 {
			opts.DB = cfg.DB
		}
	case cfg.Address == "":
		return nil, errors.New("redis url or address is required")
	}

	fillInt(&opts.PoolSize, cfg.PoolSize)
	fillInt(&opts.MinIdleConns, cfg.MinIdleConns)
	fillDuration(&opts.DialTimeout, cfg.DialTimeout)
	fillDuration(&opts.ReadTimeout, cfg.ReadTimeout)
	fillDuration(&opts.WriteTimeout, cfg.WriteTimeout)
	return opts, nil
}

func fillInt(dst *int, v int) {
	if *dst == 0 {
		*dst = v
	}
}

func fillDuration(dst *time.Duration, v time.Duration) {
	if *dst == 0 {
		*dst = v
	}
}

func (c *Client) cmd() (cmdable, error) {
	if c == nil || c.store == nil {
		return nil, errNotInitialized
	}
	return c.store, nil
}

// Set stores value with an optional TTL.
func (c *Client) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	s, err := c.cmd()
	if err != nil {
		return err
	}
	return s.Set(ctx, key, value, ttl).Err()
}

// Get returns redis.Nil when key is absent.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	s, err := c.cmd()
	if err != nil {
		return "", err
	}
	return s.Get(ctx, key).Result()
}

// SetNX reports whether this call created key.
func (c *Client) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	s, err := c.cmd()
	if err != nil {
		return false, err
	}
	return s.SetNX(ctx, key, value, ttl).Result()
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	s, err := c.cmd()
	if err != nil {
		return err
	}
	return s.Del(ctx, keys...).Err()
}

// FixedWindowAllow counts a hit against scope and reports whether it stays
// within limit for the current window.
func (c *Client) FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error) {
	count, err := c.evalInt(ctx, fixedWindowScript, c.RateLimitKey(scope), window.Milliseconds())
	if err != nil {
		return false, 0, err
	}
	return count <= limit, count, nil
}

// CompareAndDelete removes key only when it still stores value.
func (c *Client) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	n, err := c.evalInt(ctx, compareAndDeleteScript, key, value)
	return n == 1, err
}

// CompareAndExpire resets the TTL of key only when it still stores value.
func (c *Client) CompareAndExpire(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	n, err := c.evalInt(ctx, compareAndExpireScript, key, value, ttl.Milliseconds())
	return n == 1, err
}

func (c *Client) evalInt(ctx context.Context, script, key string, args ...any) (int64, error) {
	s, err := c.cmd()
	if err != nil {
		return 0, err
	}
	return s.Eval(ctx, script, []string{key}, args...).Int64()
}

func (c *Client) IdempotencyKey(scope, id string) string {
	return buildKey(idempotencyPrefix, scope, id)
}

func (c *Client) RateLimitKey(scope string) string {
	return buildKey(rateLimitPrefix, scope)
}

// CronLockKey names the leader lease for a scheduled worker kind.
func (c *Client) CronLockKey(worker string) string {
	return buildKey(cronLockPrefix, worker)
}

func (c *Client) Ping(ctx context.Context) error {
	s, err := c.cmd()
	if err != nil {
		return err
	}
	return s.Ping(ctx).Err()
}

// Close is a no-op for clients built around a test double.
func (c *Client) Close() error {
	if c == nil || c.raw == nil {
		return nil
	}
	return c.raw.Close()
}

func buildKey(parts ...string) string {
	key := keyNamespace
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			key += ":" + part
		}
	}
	return key
}
