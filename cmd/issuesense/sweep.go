package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/issuesense/config"
	"github.com/mohammad-safakhou/issuesense/internal/runtime"
	"github.com/mohammad-safakhou/issuesense/internal/store"
)

func sweepCMD(cfgPath *string) *cobra.Command {
	var (
		limit int
		owner string
		repo  string
	)
	sweep := &cobra.Command{
		Use:   "sweep",
		Short: "Re-enqueue documents still waiting for an embedding",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(*cfgPath)

			ctx, stop := runtime.ShutdownContext(context.Background())
			defer stop()

			a, err := newApp(ctx, cfg, "sweep")
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			n, err := a.ingest.Sweep(ctx, store.PendingFilter{Owner: owner, Repo: repo}, limit)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "re-enqueued %d documents\n", n)
			return nil
		},
	}
	sweep.Flags().IntVar(&limit, "limit", 100, "max documents to re-enqueue")
	sweep.Flags().StringVar(&owner, "owner", "", "only this organization or user")
	sweep.Flags().StringVar(&repo, "repo", "", "only this repository")
	return sweep
}
