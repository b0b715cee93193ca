package resilience

import (
	"net"
	"net/http"
	"time"
)

// TimeoutConfig centralises the deadlines used by one pipeline run, grouped
// by collaborator.
type TimeoutConfig struct {
	Feed    FeedTimeouts    `yaml:"feed"`
	Store   StoreTimeouts   `yaml:"store"`
	Publish PublishTimeouts `yaml:"publish"`
}

// FeedTimeouts bound the outbound MediaWiki requests.
type FeedTimeouts struct {
	// Fetch is the single deadline for a whole feed fetch, all pages included.
	Fetch time.Duration `yaml:"fetch"`
	// Connect is the maximum time to establish a TCP connection.
	Connect        time.Duration `yaml:"connect"`
	TLSHandshake   time.Duration `yaml:"tls_handshake"`
	ResponseHeader time.Duration `yaml:"response_header"`
	IdleConn       time.Duration `yaml:"idle_conn"`
}

// StoreTimeouts bound event store calls.
type StoreTimeouts struct {
	Append time.Duration `yaml:"append"`
	Query  time.Duration `yaml:"query"`
}

// PublishTimeouts bound each downstream sink call, per attempt.
type PublishTimeouts struct {
	Redis         time.Duration `yaml:"redis"`
	Elasticsearch time.Duration `yaml:"elasticsearch"`
	Kafka         time.Duration `yaml:"kafka"`
}

// For returns the per-attempt deadline for the named sink.
func (p PublishTimeouts) For(sink string) time.Duration {
	switch sink {
	case "redis":
		return p.Redis
	case "elasticsearch":
		return p.Elasticsearch
	case "kafka":
		return p.Kafka
	default:
		return 10 * time.Second
	}
}

// DefaultTimeoutConfig returns the defaults. The feed fetch timeout matches
// the 15 second budget the Wikimedia API is polled with.
func DefaultTimeoutConfig() TimeoutConfig {
	return TimeoutConfig{
		Feed: FeedTimeouts{
			Fetch:          15 * time.Second,
			Connect:        5 * time.Second,
			TLSHandshake:   5 * time.Second,
			ResponseHeader: 10 * time.Second,
			IdleConn:       90 * time.Second,
		},
		Store: StoreTimeouts{
			Append: 30 * time.Second,
			Query:  30 * time.Second,
		},
		Publish: PublishTimeouts{
			Redis:         5 * time.Second,
			Elasticsearch: 10 * time.Second,
			Kafka:         10 * time.Second,
		},
	}
}

// WithFeedTimeout returns a copy of cfg whose fetch deadline is d, if set.
func (c TimeoutConfig) WithFeedTimeout(d time.Duration) TimeoutConfig {
	if d > 0 {
		c.Feed.Fetch = d
	}
	return c
}

// NewHTTPClient builds the feed's HTTP client from the feed timeouts.
func (t FeedTimeouts) NewHTTPClient() *http.Client {
	return &http.Client{
		Timeout: t.Fetch,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   t.Connect,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   t.TLSHandshake,
			ResponseHeaderTimeout: t.ResponseHeader,
			IdleConnTimeout:       t.IdleConn,
			MaxIdleConns:          10,
		},
	}
}
