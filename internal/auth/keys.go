package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// DefaultKeyID names the key derived from JWT_SECRET.
const DefaultKeyID = "default"

// RedisKeysHash holds rotating signing keys as kid -> secret.
const RedisKeysHash = "auth:signing_keys"

var ErrUnknownKey = errors.New("unknown signing key")

// KeySource loads the current verification keys by kid.
type KeySource interface {
	Keys(ctx context.Context) (map[string][]byte, error)
}

// StaticKeys is a fixed key set.
type StaticKeys map[string][]byte

func (s StaticKeys) Keys(context.Context) (map[string][]byte, error) {
	return s, nil
}

// ParseStaticKeys builds the static set from the default secret and a
// "kid:secret,kid:secret" list.
func ParseStaticKeys(defaultSecret, list string) (StaticKeys, error) {
	keys := StaticKeys{}
	if defaultSecret != "" {
		keys[DefaultKeyID] = []byte(defaultSecret)
	}
	for _, pair := range strings.Split(list, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		kid, secret, ok := strings.Cut(pair, ":")
		if !ok || kid == "" || secret == "" {
			return nil, fmt.Errorf("invalid JWT_KEYS entry %q", pair)
		}
		keys[kid] = []byte(secret)
	}
	return keys, nil
}

// RedisKeys reads keys from a Redis hash so they can rotate without a deploy.
type RedisKeys struct {
	rdb  *redis.Client
	hash string
}

func NewRedisKeys(rdb *redis.Client) *RedisKeys {
	return &RedisKeys{rdb: rdb, hash: RedisKeysHash}
}

func (r *RedisKeys) Keys(ctx context.Context) (map[string][]byte, error) {
	vals, err := r.rdb.HGetAll(ctx, r.hash).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(vals))
	for kid, secret := range vals {
		out[kid] = []byte(secret)
	}
	return out, nil
}

// Chain merges sources in order; later sources override earlier kids. A
// failing source is logged and skipped so a Redis outage keeps static keys.
type Chain []KeySource

func (c Chain) Keys(ctx context.Context) (map[string][]byte, error) {
	out := map[string][]byte{}
	var firstErr error
	loaded := 0
	for _, src := range c {
		keys, err := src.Keys(ctx)
		if err != nil {
			log.WithError(err).Warn("[AUTH] key source failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		loaded++
		for kid, k := range keys {
			out[kid] = k
		}
	}
	if loaded == 0 && firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

// KeyCache holds verification keys for a bounded time. A lookup refreshes the
// set when it has expired or the kid is unknown, at most once per lookup.
type KeyCache struct {
	src KeySource
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	keys    map[string][]byte
	fetched time.Time
}

func NewKeyCache(src KeySource, ttl time.Duration) *KeyCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &KeyCache{src: src, ttl: ttl, now: time.Now}
}

// Lookup returns the key for kid.
func (c *KeyCache) Lookup(ctx context.Context, kid string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	refreshed := false
	if c.keys == nil || c.now().Sub(c.fetched) >= c.ttl {
		if err := c.refreshLocked(ctx); err != nil {
			return nil, err
		}
		refreshed = true
	}
	if k, ok := c.keys[kid]; ok {
		return k, nil
	}
	if !refreshed {
		if err := c.refreshLocked(ctx); err != nil {
			return nil, err
		}
		if k, ok := c.keys[kid]; ok {
			return k, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKey, kid)
}

// Invalidate drops the cached set; the next lookup reloads it.
func (c *KeyCache) Invalidate() {
	c.mu.Lock()
	c.keys = nil
	c.mu.Unlock()
}

func (c *KeyCache) refreshLocked(ctx context.Context) error {
	keys, err := c.src.Keys(ctx)
	if err != nil {
		return fmt.Errorf("load signing keys: %w", err)
	}
	c.keys = keys
	c.fetched = c.now()
	return nil
}
