package cache

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis"
	gocache "github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"github.com/robertlestak/wallet-ledger/internal/config"
	log "github.com/sirupsen/logrus"
)

var ErrMiss = errors.New("cache miss")

const (
	TokensPrefix   = "tokens"
	PricesPrefix   = "prices"
	HoldersPrefix  = "holders"
	MetadataPrefix = "metadata"
)

type backend interface {
	get(key string) ([]byte, error)
	set(key string, val []byte, ttl time.Duration) error
	del(key string) error
}

// Cache stores JSON documents for the dashboard lookups.
type Cache struct {
	b   backend
	ttl time.Duration
}

// Key builds a <kind>:<chain>:<key> cache key. Addresses are case-insensitive.
func Key(kind, chain, key string) string {
	return fmt.Sprintf("%s:%s:%s", kind, chain, strings.ToLower(key))
}

// New connects to redis when REDIS_HOST is set and falls back to an in-process cache.
func New(cfg *config.Config) (*Cache, error) {
	l := log.WithFields(log.Fields{
		"package": "cache",
		"func":    "New",
	})
	if cfg.RedisHost == "" {
		l.Info("REDIS_HOST not set, using in-memory cache")
		return NewMemory(cfg.CacheTTL), nil
	}
	l.Info("Initializing redis client")
	client := redis.NewClient(&redis.Options{
		Addr:        fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password:    cfg.RedisPassword,
		DB:          0,
		DialTimeout: 30 * time.Second,
		ReadTimeout: 30 * time.Second,
	})
	if err := client.Ping().Err(); err != nil {
		l.Error("Failed to connect to redis")
		return nil, errors.Wrap(err, "redis ping")
	}
	l.Info("Connected to redis")
	return &Cache{b: &redisBackend{client: client}, ttl: cfg.CacheTTL}, nil
}

func NewMemory(ttl time.Duration) *Cache {
	return &Cache{
		b:   &memoryBackend{c: gocache.New(ttl, 2*ttl)},
		ttl: ttl,
	}
}

// GetJSON decodes the value at key into v. A missing or expired key returns ErrMiss.
func (c *Cache) GetJSON(key string, v interface{}) error {
	l := log.WithFields(log.Fields{
		"package": "cache",
		"func":    "GetJSON",
		"key":     key,
	})
	jd, err := c.b.get(key)
	if err == ErrMiss {
		l.Debug("miss")
		return err
	}
	if err != nil {
		l.Error(err)
		return err
	}
	if err := json.Unmarshal(jd, v); err != nil {
		l.Error(err)
		return err
	}
	l.Debug("hit")
	return nil
}

func (c *Cache) SetJSON(key string, v interface{}) error {
	l := log.WithFields(log.Fields{
		"package": "cache",
		"func":    "SetJSON",
		"key":     key,
	})
	jd, err := json.Marshal(v)
	if err != nil {
		l.Error(err)
		return err
	}
	if err := c.b.set(key, jd, c.ttl); err != nil {
		l.Error(err)
		return err
	}
	return nil
}

func (c *Cache) Del(key string) error {
	return c.b.del(key)
}

type redisBackend struct {
	client *redis.Client
}

func (r *redisBackend) get(key string) ([]byte, error) {
	jd, err := r.client.Get(key).Bytes()
	if err == redis.Nil {
		return nil, ErrMiss
	}
	return jd, err
}

func (r *redisBackend) set(key string, val []byte, ttl time.Duration) error {
	return r.client.Set(key, val, ttl).Err()
}

func (r *redisBackend) del(key string) error {
	return r.client.Del(key).Err()
}

type memoryBackend struct {
	c *gocache.Cache
}

func (m *memoryBackend) get(key string) ([]byte, error) {
	v, ok := m.c.Get(key)
	if !ok {
		return nil, ErrMiss
	}
	return v.([]byte), nil
}

func (m *memoryBackend) set(key string, val []byte, ttl time.Duration) error {
	m.c.Set(key, val, ttl)
	return nil
}

func (m *memoryBackend) del(key string) error {
	m.c.Delete(key)
	return nil
}
