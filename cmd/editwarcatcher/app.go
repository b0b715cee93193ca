package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Agnikulu/EditWarCatcher/internal/config"
	"github.com/Agnikulu/EditWarCatcher/internal/ingestor"
	"github.com/Agnikulu/EditWarCatcher/internal/kafka"
	"github.com/Agnikulu/EditWarCatcher/internal/metrics"
	"github.com/Agnikulu/EditWarCatcher/internal/processor"
	"github.com/Agnikulu/EditWarCatcher/internal/report"
	"github.com/Agnikulu/EditWarCatcher/internal/resilience"
	"github.com/Agnikulu/EditWarCatcher/internal/storage"
)

const separator = "================================================================================"

// app holds everything a subcommand needs, built once from config.
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	features *config.FeatureFlags
	store    *storage.RevertStore
	feed     ingestor.Feed
	breaker  *ingestor.BreakerFeed
	alerts   *storage.RedisAlerts
	pipeline *processor.Pipeline
	pusher   *metrics.Pusher

	closers []func() error
}

type appOptions struct {
	withFeed    bool
	withBreaker bool
}

func newApp(ctx context.Context, flags *rootFlags, opts appOptions) (*app, error) {
	cfg, err := config.LoadConfig(flags.configPath)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	if flags.format != "" {
		cfg.Report.Format = flags.format
	}

	logger := initLogger(cfg, os.Stderr)
	logger.Info().Str("config", flags.configPath).Msg("Starting EditWarCatcher")

	metrics.InitMetrics()

	a := &app{
		cfg:      cfg,
		logger:   logger,
		features: config.NewFeatureFlagsFromConfig(&cfg.Features, logger),
		pusher:   metrics.NewPusher(cfg.Metrics.PushgatewayURL, cfg.Metrics.Job),
	}

	renderer, err := report.NewRenderer(cfg.Report.Format)
	if err != nil {
		return nil, err
	}

	a.store, err = storage.NewRevertStore(cfg.Store, logger)
	if err != nil {
		return nil, fmt.Errorf("open revert store: %w", err)
	}
	a.closers = append(a.closers, a.store.Close)

	timeouts := resilience.DefaultTimeoutConfig().WithFeedTimeout(cfg.Feed.Timeout)
	pipelineOpts := []processor.Option{
		processor.WithFeatureFlags(a.features),
		processor.WithTimeouts(timeouts),
	}
	pipelineOpts = append(pipelineOpts, a.connectPublishers(ctx)...)

	var feed processor.Feed
	if opts.withFeed {
		a.feed, err = ingestor.NewFeed(&cfg.Feed, timeouts.Feed, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		feed = a.feed
		if opts.withBreaker {
			a.breaker = ingestor.NewBreakerFeed(a.feed, cfg.Feed.BreakerFailures, cfg.Feed.BreakerTimeout, logger)
			feed = a.breaker
		}
	}

	a.pipeline = processor.NewPipeline(feed, a.store, renderer, cfg.Detection, logger, pipelineOpts...)
	return a, nil
}

// connectPublishers wires every enabled sink. A sink that cannot be reached
// at startup is switched off for this process instead of failing it.
func (a *app) connectPublishers(ctx context.Context) []processor.Option {
	var opts []processor.Option
	timeouts := resilience.DefaultTimeoutConfig().Publish

	if a.features.IsEnabled(config.FeatureRedisAlerts) {
		client, err := initRedis(ctx, a.cfg, timeouts.Redis)
		if err != nil {
			a.features.DisableFeature(config.FeatureRedisAlerts, err.Error())
		} else {
			a.closers = append(a.closers, client.Close)
			a.alerts = storage.NewRedisAlerts(client, a.cfg.Redis.StreamMaxLen, a.cfg.Redis.DedupeTTL, a.logger)
			opts = append(opts, processor.WithCasePublisher(config.FeatureRedisAlerts, a.alerts))
		}
	}

	if a.features.IsEnabled(config.FeatureElasticsearchIndexing) {
		esCtx, cancel := context.WithTimeout(ctx, timeouts.Elasticsearch)
		es, err := storage.NewElasticsearchClient(esCtx, &a.cfg.Elasticsearch, a.logger)
		cancel()
		if err != nil {
			a.features.DisableFeature(config.FeatureElasticsearchIndexing, err.Error())
		} else {
			opts = append(opts, processor.WithCasePublisher(config.FeatureElasticsearchIndexing, es))
		}
	}

	if a.features.IsEnabled(config.FeatureKafkaEvents) {
		producer, err := kafka.NewProducer(&a.cfg.Kafka, a.logger)
		if err != nil {
			a.features.DisableFeature(config.FeatureKafkaEvents, err.Error())
		} else {
			a.closers = append(a.closers, producer.Close)
			opts = append(opts, processor.WithEventPublisher(config.FeatureKafkaEvents, producer))
		}
	}

	return opts
}

// pushMetrics sends this process's metrics to the Pushgateway, if one is
// configured. Failure is logged only.
func (a *app) pushMetrics(mode string) {
	if err := a.pusher.Push(mode); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to push metrics")
	}
}

// Close releases stores and clients in reverse order of creation.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// writeReport prints the report framed by separator lines, to report.output
// when set and stdout otherwise.
func (a *app) writeReport(stdout io.Writer, res *processor.RunResult) error {
	framed := "\n" + separator + "\n\n" + res.Report + "\n" + separator + "\n"

	if a.cfg.Report.Output == "" {
		_, err := io.WriteString(stdout, framed)
		return err
	}
	if err := os.WriteFile(a.cfg.Report.Output, []byte(res.Report), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	a.logger.Info().Str("path", a.cfg.Report.Output).Msg("Report written")
	return nil
}

// initLogger builds the process logger from config.
func initLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Logging.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	if cfg.Logging.Format == "pretty" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	return zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str("service", "editwarcatcher").
		Str("version", version).
		Logger()
}

// initRedis parses the URL and checks the server answers.
func initRedis(ctx context.Context, cfg *config.Config, timeout time.Duration) (*redis.Client, error) {
	opt, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	resilience.DefaultRedisPoolConfig().Apply(opt)

	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}
