package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfabric/fabricsync/pkg/engine"
	"github.com/openfabric/fabricsync/pkg/telemetry"
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync scheduler",
		Long: `Run fabricsync as a long-lived service: every sync-enabled fabric is
synced on its interval, drop zones are watched for hand-dropped manifests,
and Prometheus metrics are served. Runs until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}

			metrics, err := telemetry.NewMetrics(telemetry.MetricsConfig{
				Enabled:       cfg.Telemetry.MetricsEnabled,
				ListenAddress: cfg.Telemetry.MetricsListenAddress,
				Namespace:     "fabricsync",
			})
			if err != nil {
				return fmt.Errorf("build metrics: %w", err)
			}
			if cfg.Telemetry.MetricsEnabled {
				go func() {
					if err := metrics.ListenAndServe(); err != nil {
						logger.WithError(err).Error("metrics endpoint failed")
					}
				}()
			}

			tracer, err := newTracer(cfg)
			if err != nil {
				return fmt.Errorf("build tracer: %w", err)
			}
			defer func() {
				if err := tracer.Shutdown(context.Background()); err != nil {
					logger.WithError(err).Warn("trace provider shutdown failed")
				}
			}()

			orch, pipeline, err := buildOrchestrator(cfg, store, logger, metrics, tracer)
			if err != nil {
				return err
			}

			scheduler, err := engine.NewScheduler(engine.SchedulerConfig{
				Store:        store,
				Runner:       orch,
				Logger:       logger,
				Workers:      cfg.Scheduler.Workers,
				TickInterval: cfg.Scheduler.TickInterval,
				QueueSize:    cfg.Scheduler.QueueSize,
			})
			if err != nil {
				return err
			}

			watcher, err := engine.NewDropZoneWatcher(scheduler, logger)
			if err != nil {
				return err
			}
			fabrics, err := store.ListSyncEnabledFabrics(ctx)
			if err != nil {
				return err
			}
			for _, fabric := range fabrics {
				layout := pipeline.Layout(fabric.ID)
				if err := layout.Ensure(); err != nil {
					return err
				}
				if err := watcher.Watch(fabric.ID, layout.DropDir()); err != nil {
					logger.WithFabricID(fabric.ID).WithError(err).Warn("drop zone not watchable")
				}
			}
			go watcher.Run()

			if cfg.Scheduler.Enabled {
				if err := scheduler.Start(ctx); err != nil {
					return err
				}
			} else {
				log.Warn().Msg("Scheduler disabled, only watching drop zones")
			}
			log.Info().Int("fabrics", len(fabrics)).Msg("fabricsync serving")

			<-ctx.Done()
			log.Info().Msg("Shutting down")
			if cfg.Scheduler.Enabled {
				scheduler.Stop()
			}
			return watcher.Stop()
		},
	}
	return cmd
}
