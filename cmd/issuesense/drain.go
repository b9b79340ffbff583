package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/issuesense/config"
	"github.com/mohammad-safakhou/issuesense/internal/runtime"
)

func drainCMD(cfgPath *string) *cobra.Command {
	var limit int
	drain := &cobra.Command{
		Use:   "drain",
		Short: "Process due embedding jobs once and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(*cfgPath)
			if !cmd.Flags().Changed("limit") {
				limit = cfg.Queue.MaxPerRun
			}

			ctx, stop := runtime.ShutdownContext(context.Background())
			defer stop()

			a, err := newApp(ctx, cfg, "drain")
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			res, err := a.processor.ProcessQueue(ctx, limit, time.Now())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	drain.Flags().IntVar(&limit, "limit", 0, "max jobs to process, 0 for no limit (default queue.max_per_run)")
	return drain
}
