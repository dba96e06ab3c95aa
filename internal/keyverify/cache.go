package keyverify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// Cache stores successful verification results in redis for a short TTL to
// keep repeated requests from the same client off the verification service.
// Only valid results are cached so a revoked key is re-checked immediately
// after the TTL and an invalid key never sticks.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache constructs a verification cache backed by redis.
func NewCache(addr, password string, ttl time.Duration) *Cache {
	if addr == "" {
		return nil
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Cache{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: password}),
		ttl:    ttl,
	}
}

// cacheKey derives the redis key for a bearer key. The raw key is never
// stored or used as a key name.
func cacheKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return "keyverify:" + hex.EncodeToString(sum[:])
}

// Get returns a cached result for the key, if present.
func (c *Cache) Get(ctx context.Context, key string) (Result, bool) {
	if c == nil || c.client == nil {
		return Result{}, false
	}
	raw, errGet := c.client.Get(ctx, cacheKey(key)).Bytes()
	if errGet != nil {
		if errGet != redis.Nil {
			log.WithError(errGet).Debug("verification cache read failed")
		}
		return Result{}, false
	}
	var result Result
	if errUnmarshal := json.Unmarshal(raw, &result); errUnmarshal != nil {
		return Result{}, false
	}
	return result, true
}

// Put stores a verification result. Failures are logged and ignored; the
// cache is an optimization, never an authority.
func (c *Cache) Put(ctx context.Context, key string, result Result) {
	if c == nil || c.client == nil {
		return
	}
	raw, errMarshal := json.Marshal(result)
	if errMarshal != nil {
		return
	}
	if errSet := c.client.Set(ctx, cacheKey(key), raw, c.ttl).Err(); errSet != nil {
		log.WithError(errSet).Debug("verification cache write failed")
	}
}
