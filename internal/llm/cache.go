package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/joseph-ayodele/nfe-ocr/internal/metrics"
)

// Cache stores raw model replies by key.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// RedisCache is a Cache on a go-redis client.
type RedisCache struct {
	client *redis.Client
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisCache connects and pings the server.
func NewRedisCache(ctx context.Context, cfg RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisCache{client: client}, nil
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get cache: %w", err)
	}
	return val, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cache: %w", err)
	}
	return nil
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}

// cachedClient serves repeated pages from the cache. Only replies that are valid JSON once
// fences are stripped are stored, so a garbled reply is retried on the next upload.
type cachedClient struct {
	Client
	cache   Cache
	ttl     time.Duration
	metrics *metrics.Metrics
	log     *slog.Logger
}

// WithCache wraps next so that Extract consults cache first. Cache errors are logged and bypassed.
func WithCache(next Client, cache Cache, ttl time.Duration, m *metrics.Metrics, logger *slog.Logger) Client {
	if cache == nil {
		return next
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &cachedClient{Client: next, cache: cache, ttl: ttl, metrics: m, log: logger}
}

// CacheKey is stable across processes for the same provider, prompt version and page bytes.
func CacheKey(provider string, img Image) string {
	return "nfe:extract:" + provider + ":" + PromptVersion + ":" + Fingerprint(img)
}

func (c *cachedClient) Extract(ctx context.Context, img Image) (string, error) {
	key := CacheKey(c.Provider(), img)
	if b, ok, err := c.cache.Get(ctx, key); err != nil {
		c.log.Warn("llm.cache.get_error", "key", key, "error", err)
	} else if ok {
		c.metrics.ObserveCache(true)
		c.log.Debug("llm.cache.hit", "key", key, "page", img.Page)
		return string(b), nil
	}
	c.metrics.ObserveCache(false)

	out, err := c.Client.Extract(ctx, img)
	if err != nil {
		return "", err
	}
	if json.Valid([]byte(StripCodeFence(out))) {
		if err := c.cache.Set(ctx, key, []byte(out), c.ttl); err != nil {
			c.log.Warn("llm.cache.set_error", "key", key, "error", err)
		}
	}
	return out, nil
}
