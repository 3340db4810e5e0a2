package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/market-brief/internal/api"
	"github.com/sells-group/market-brief/internal/cache"
	"github.com/sells-group/market-brief/internal/clock"
	"github.com/sells-group/market-brief/internal/monitoring"
	"github.com/sells-group/market-brief/internal/scheduler"
)

const (
	jobTimeout      = 15 * time.Minute
	shutdownTimeout = 30 * time.Second
	sweepInterval   = time.Minute
)

var (
	servePort       int
	serveNoSchedule bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the market analysis API and run the daily jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		sched := scheduler.New(env.Boundary.Location(), jobTimeout)
		if cfg.Schedule.Enabled && !serveNoSchedule {
			syncAt, err := clock.ParseTimeOfDay(cfg.Schedule.PriceSync)
			if err != nil {
				return eris.Wrap(err, "parse schedule.price_sync")
			}
			if err := scheduler.RegisterDefaults(sched, env.Service, env.Syncer, env.Boundary, syncAt, cfg.Schedule.SyncDays); err != nil {
				return err
			}
			sched.Start()
		}

		collector := monitoring.NewCollector(env.Service, env.Breakers)
		checker := monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
		go checker.Run(ctx)

		if env.Memory != nil {
			go sweepLoop(ctx, env.Memory, sweepInterval)
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr: fmt.Sprintf(":%d", port),
			Handler: api.NewRouter(env.Service, env.Boundary, api.Config{
				CORSOrigins:    cfg.Server.CORSOrigins,
				MaxAsOfAgeDays: cfg.Server.MaxAsOfAgeDays,
				Store:          env.Store,
				Circuits:       env.Breakers,
			}),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			zap.L().Info("starting server", zap.Int("port", port))
			errCh <- srv.ListenAndServe()
		}()

		var serveErr error
		select {
		case <-ctx.Done():
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				serveErr = eris.Wrap(err, "server listen")
			}
		}

		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := sched.Stop(shutdownCtx); err != nil {
			zap.L().Warn("scheduler stop", zap.Error(err))
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zap.L().Warn("server shutdown", zap.Error(err))
		}

		// Generations outlive the requests that started them; let them
		// persist before env.Close releases the store.
		drainCtx, drainCancel := context.WithTimeout(context.Background(), secs(cfg.Generation.TimeoutSecs))
		defer drainCancel()
		if err := env.Service.Drain(drainCtx); err != nil {
			zap.L().Warn("generation drain", zap.Error(err))
		}
		return serveErr
	},
}

// sweepLoop drops expired entries from the in-process cache until ctx ends.
func sweepLoop(ctx context.Context, mem *cache.MemoryStore, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := mem.Sweep(); n > 0 {
				zap.L().Debug("cache sweep", zap.Int("removed", n))
			}
		}
	}
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveNoSchedule, "no-schedule", false, "do not run the daily jobs")
	rootCmd.AddCommand(serveCmd)
}
