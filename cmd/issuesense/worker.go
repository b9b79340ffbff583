package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/issuesense/config"
	"github.com/mohammad-safakhou/issuesense/internal/queue"
	"github.com/mohammad-safakhou/issuesense/internal/runtime"
)

func workerCMD(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Drain the embedding queue on the configured cron schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(*cfgPath)

			ctx, stop := runtime.ShutdownContext(context.Background())
			defer stop()

			a, err := newApp(ctx, cfg, "worker")
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			logger := newLogger("SCHED")
			runtime.ServeMetrics(ctx, a.telemetry.Registry, cfg.Telemetry.MetricsPort, logger)

			qc := cfg.Queue
			sched, err := queue.NewScheduler(logger, a.processor, a.rdb, queue.SchedulerOptions{
				Cron:         qc.Cron,
				TickInterval: qc.TickInterval,
				MaxPerRun:    qc.MaxPerRun,
				LockTTL:      qc.TickLockTTL,
				LockKey:      qc.Key + ":tick-lock",
			})
			if err != nil {
				return err
			}
			sched.Run(ctx)
			return nil
		},
	}
}
