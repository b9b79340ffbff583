package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/issuesense/config"
	"github.com/mohammad-safakhou/issuesense/internal/runtime"
	"github.com/mohammad-safakhou/issuesense/internal/server"
)

func serveCMD(cfgPath *string) *cobra.Command {
	var addr string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the GitHub webhook server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(*cfgPath)
			if addr == "" {
				addr = cfg.Server.Address
			}

			ctx, stop := runtime.ShutdownContext(context.Background())
			defer stop()

			a, err := newApp(ctx, cfg, "server")
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			engine, err := a.engine()
			if err != nil {
				return err
			}
			jwtSecret, err := runtime.LoadJWTSecret(cfg)
			if err != nil && !errors.Is(err, runtime.ErrNoJWTSecret) {
				return err
			}
			logger := newLogger("SERVER")
			if len(jwtSecret) == 0 {
				logger.Printf("warn: server.jwt_secret not set; /api routes disabled")
			}

			srv := server.New(logger, a.ingest, engine, a.processor, server.Options{
				WebhookSecret:  []byte(cfg.Server.WebhookSecret),
				BotLogin:       cfg.GitHub.BotLogin,
				JWTSecret:      jwtSecret,
				RequestTimeout: cfg.General.RequestTimeout,
				MaxPerRun:      cfg.Queue.MaxPerRun,
				Registry:       a.telemetry.Registry,
			})
			return srv.Run(ctx, addr)
		},
	}
	serve.Flags().StringVar(&addr, "addr", "", "listen address (default server.address)")
	return serve
}
