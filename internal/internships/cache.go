package internships

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultCacheTTL is how long a scrape result is reused.
const DefaultCacheTTL = 10 * time.Minute

// Cache holds encoded scrape results: an in-memory tier, plus Redis when
// configured so results survive restarts and are shared between replicas.
type Cache struct {
	l1  sync.Map // key -> cacheEntry
	rdb *redis.Client
	ttl time.Duration
	now func() time.Time
}

type cacheEntry struct {
	data      []byte
	expiresAt time.Time
}

// NewCache returns an in-memory cache, backed by Redis when redisURL is set
// and reachable. An unusable Redis is logged and skipped.
func NewCache(ctx context.Context, redisURL string, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	c := &Cache{ttl: ttl, now: time.Now}
	if redisURL == "" {
		return c
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Printf("Warning: internships cache: invalid REDIS_URL, using memory only: %v", err)
		return c
	}
	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Printf("Warning: internships cache: redis unreachable, using memory only: %v", err)
		_ = rdb.Close()
		return c
	}
	log.Printf("internships cache: redis connected (%s)", opts.Addr)
	c.rdb = rdb
	return c
}

func cacheKey(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.Join(parts, "|"))))
	return fmt.Sprintf("internships:%x", sum[:12])
}

// Get checks memory, then Redis. A Redis hit repopulates memory.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	if v, ok := c.l1.Load(key); ok {
		e := v.(cacheEntry)
		if c.now().Before(e.expiresAt) {
			return e.data, true
		}
		c.l1.Delete(key)
	}
	if c.rdb == nil {
		return nil, false
	}
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	c.l1.Store(key, cacheEntry{data: data, expiresAt: c.now().Add(c.ttl)})
	return data, true
}

func (c *Cache) Set(ctx context.Context, key string, data []byte) {
	c.l1.Store(key, cacheEntry{data: data, expiresAt: c.now().Add(c.ttl)})
	if c.rdb == nil {
		return
	}
	if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
		log.Printf("internships cache: redis set: %v", err)
	}
}

func (c *Cache) Close() error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}
