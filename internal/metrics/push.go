package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Pusher sends the default registry to a Prometheus Pushgateway. One-shot
// commands use it since they exit before anything could scrape them.
type Pusher struct {
	url      string
	job      string
	gatherer prometheus.Gatherer
	client   *http.Client
}

// NewPusher returns nil when url is empty so callers can push
// unconditionally.
func NewPusher(url, job string) *Pusher {
	if url == "" {
		return nil
	}
	if job == "" {
		job = "editwarcatcher"
	}
	return &Pusher{
		url:      url,
		job:      job,
		gatherer: prometheus.DefaultGatherer,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Push replaces the job's metrics on the gateway, grouped by mode.
func (p *Pusher) Push(mode string) error {
	if p == nil {
		return nil
	}
	err := push.New(p.url, p.job).
		Client(p.client).
		Gatherer(p.gatherer).
		Grouping("mode", mode).
		Push()
	if err != nil {
		return fmt.Errorf("push metrics to %s: %w", p.url, err)
	}
	return nil
}
