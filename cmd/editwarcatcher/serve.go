package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Agnikulu/EditWarCatcher/internal/api"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(flags *rootFlags) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the pipeline on an interval and serve /health, /metrics and /report",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), flags, appOptions{withFeed: true, withBreaker: true})
			if err != nil {
				return err
			}
			defer a.Close()

			if interval > 0 {
				a.cfg.Serve.Interval = interval
			}
			return a.serve(cmd.Context())
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 0, "Time between runs (overrides serve.interval)")
	return cmd
}

// serve runs the pipeline loop and the HTTP server until ctx is cancelled or
// either of them fails.
func (a *app) serve(ctx context.Context) error {
	opts := api.Options{
		Reverts:      a.store,
		Features:     a.features,
		BreakerState: a.breaker.State,
		Version:      version,
	}
	if a.alerts != nil {
		opts.Alerts = a.alerts
	}
	srv := api.NewServer(a.pipeline, opts, a.logger).HTTPServer(a.cfg.Serve.Port)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		a.logger.Info().Msg("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return a.loop(ctx)
	})

	err := g.Wait()
	a.logger.Info().Msg("EditWarCatcher shutdown complete")
	return err
}

// loop runs the pipeline immediately and then on every tick. Runs are
// sequential. A failed run is logged and the loop carries on.
func (a *app) loop(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.Serve.Interval)
	defer ticker.Stop()

	a.logger.Info().Dur("interval", a.cfg.Serve.Interval).Msg("Starting run loop")
	for {
		if res, err := a.pipeline.Run(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			a.logger.Error().Err(err).Msg("Run failed")
		} else {
			a.logger.Info().
				Str("run_id", res.RunID).
				Int("violations", len(res.Findings.Violations)).
				Int("mutual", len(res.Findings.Mutual)).
				Msg("Run finished")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
