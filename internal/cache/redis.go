package cache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"delivery-backend/internal/config"
)

// Key prefixes for cached list responses
const (
	RequestsPrefix   = "requests:"
	DeliveriesPrefix = "deliveries:"

	ListTTL = 2 * time.Minute

	// generationPrefix keys must not match the list prefixes above, or
	// InvalidatePattern would delete the counters.
	generationPrefix = "listgen:"
)

var errStaleGeneration = errors.New("generation changed")

// Cache is a read-through cache for list responses. A nil *Cache, or one
// without a client, is a valid no-op so callers never branch on whether
// Redis is configured.
type Cache struct {
	client redis.UniversalClient
	log    logrus.FieldLogger
}

// New connects to Redis. When redis is disabled it returns a nil cache and no
// error. A failed ping is returned so the caller can decide to degrade.
func New(cfg *config.Config, log logrus.FieldLogger) (*Cache, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(err, "redis ping")
	}
	return NewWithClient(client, log), nil
}

func NewWithClient(client redis.UniversalClient, log logrus.FieldLogger) *Cache {
	return &Cache{client: client, log: log.WithField("component", "cache")}
}

func (c *Cache) enabled() bool {
	return c != nil && c.client != nil
}

// Get returns cached data for a key
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	if !c.enabled() {
		return nil, false
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.WithError(err).WithField("key", key).Debug("[Cache] Get failed")
		}
		return nil, false
	}
	return data, true
}

func generationKey(prefix string) string {
	return generationPrefix + prefix
}

// Generation returns the current generation of the lists under prefix. Lists
// are cached per generation; ok is false when Redis cannot say, and the
// caller should not cache.
func (c *Cache) Generation(ctx context.Context, prefix string) (int64, bool) {
	if !c.enabled() {
		return 0, false
	}
	gen, err := c.client.Get(ctx, generationKey(prefix)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		c.log.WithError(err).WithField("prefix", prefix).Debug("[Cache] Generation read failed")
		return 0, false
	}
	return gen, true
}

// SetIfGeneration stores data only while prefix is still at gen. A list read
// that overlapped an invalidation is dropped instead of caching the old rows.
func (c *Cache) SetIfGeneration(ctx context.Context, prefix string, gen int64, key string, data []byte, ttl time.Duration) bool {
	if !c.enabled() {
		return false
	}
	genKey := generationKey(prefix)
	err := c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != gen {
			return errStaleGeneration
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, ttl)
			return nil
		})
		return err
	}, genKey)
	switch {
	case err == nil:
		return true
	case errors.Is(err, errStaleGeneration), errors.Is(err, redis.TxFailedErr):
		c.log.WithField("key", key).Debug("[Cache] Skipped stale list")
	default:
		c.log.WithError(err).WithField("key", key).Debug("[Cache] Set failed")
	}
	return false
}

// invalidate bumps the generation first so in-flight reads of the old one
// cannot store, then drops the old entries.
func (c *Cache) invalidate(ctx context.Context, prefix string) {
	if !c.enabled() {
		return
	}
	if err := c.client.Incr(ctx, generationKey(prefix)).Err(); err != nil {
		c.log.WithError(err).WithField("prefix", prefix).Warn("[Cache] Generation bump failed")
	}
	c.InvalidatePattern(ctx, prefix+"*")
}

// InvalidatePattern removes all keys matching a glob pattern
func (c *Cache) InvalidatePattern(ctx context.Context, pattern string) {
	if !c.enabled() {
		return
	}
	var keys []string
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.log.WithError(err).WithField("pattern", pattern).Warn("[Cache] Scan failed")
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.log.WithError(err).WithField("pattern", pattern).Warn("[Cache] Invalidate failed")
	}
}

// InvalidateRequests clears cached request listings.
// Called on every request mutation, including propagated status changes.
func (c *Cache) InvalidateRequests(ctx context.Context) {
	c.invalidate(ctx, RequestsPrefix)
}

// InvalidateDeliveries clears cached delivery listings.
func (c *Cache) InvalidateDeliveries(ctx context.Context) {
	c.invalidate(ctx, DeliveriesPrefix)
}

// Ping reports whether Redis answers.
func (c *Cache) Ping(ctx context.Context) error {
	if !c.enabled() {
		return errors.New("redis not configured")
	}
	return c.client.Ping(ctx).Err()
}

func (c *Cache) Enabled() bool {
	return c.enabled()
}

func (c *Cache) Close() error {
	if !c.enabled() {
		return nil
	}
	return c.client.Close()
}
