package resilience

import (
	"net/http"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/redis/go-redis/v9"
)

// RedisPoolConfig sizes the alert publisher's Redis pool. A batch run makes a
// handful of sequential calls, so the pool is small.
type RedisPoolConfig struct {
	PoolSize        int
	MinIdleConns    int
	ConnMaxIdleTime time.Duration
	MaxRetries      int
	MinRetryBackoff time.Duration
	MaxRetryBackoff time.Duration
	DialTimeout     time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	PoolTimeout     time.Duration
}

// DefaultRedisPoolConfig returns the pool used by the CLI.
func DefaultRedisPoolConfig() RedisPoolConfig {
	return RedisPoolConfig{
		PoolSize:        4,
		MinIdleConns:    1,
		ConnMaxIdleTime: 5 * time.Minute,
		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    5 * time.Second,
		PoolTimeout:     6 * time.Second,
	}
}

// Apply copies the pool settings onto opt, leaving address and auth alone.
func (c RedisPoolConfig) Apply(opt *redis.Options) {
	opt.PoolSize = c.PoolSize
	opt.MinIdleConns = c.MinIdleConns
	opt.ConnMaxIdleTime = c.ConnMaxIdleTime
	opt.MaxRetries = c.MaxRetries
	opt.MinRetryBackoff = c.MinRetryBackoff
	opt.MaxRetryBackoff = c.MaxRetryBackoff
	opt.DialTimeout = c.DialTimeout
	opt.ReadTimeout = c.ReadTimeout
	opt.WriteTimeout = c.WriteTimeout
	opt.PoolTimeout = c.PoolTimeout
}

// ElasticsearchPoolConfig holds the case indexer's transport and retry
// settings.
type ElasticsearchPoolConfig struct {
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	MaxRetries          int
	// RetryOnStatus lists HTTP statuses the client retries by itself.
	RetryOnStatus    []int
	RetryInitialWait time.Duration
}

// DefaultElasticsearchPoolConfig returns the settings used by the CLI.
func DefaultElasticsearchPoolConfig() ElasticsearchPoolConfig {
	return ElasticsearchPoolConfig{
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
		MaxRetries:          3,
		RetryOnStatus:       []int{502, 503, 504, 429},
		RetryInitialWait:    100 * time.Millisecond,
	}
}

// Apply sets the transport and the client-side retry policy on cfg. Waits
// grow quadratically from RetryInitialWait.
func (c ElasticsearchPoolConfig) Apply(cfg *elasticsearch.Config) {
	cfg.Transport = &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConnsPerHost: c.MaxIdleConnsPerHost,
		IdleConnTimeout:     c.IdleConnTimeout,
	}
	cfg.MaxRetries = c.MaxRetries
	cfg.RetryOnStatus = c.RetryOnStatus
	wait := c.RetryInitialWait
	cfg.RetryBackoff = func(attempt int) time.Duration {
		return time.Duration(attempt*attempt) * wait
	}
}
