package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/issuesense/config"
	"github.com/mohammad-safakhou/issuesense/internal/runtime"
)

func tokenCMD(cfgPath *string) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
		scopes  []string
	)
	token := &cobra.Command{
		Use:   "token",
		Short: "Issue an operator token for the /api routes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(*cfgPath)
			secret, err := runtime.LoadJWTSecret(cfg)
			if err != nil {
				return err
			}
			tok, err := runtime.SignJWT(subject, secret, ttl, scopes...)
			if err != nil {
				return fmt.Errorf("sign token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	token.Flags().StringVar(&subject, "subject", "operator", "token subject")
	token.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	token.Flags().StringSliceVar(&scopes, "scope", []string{runtime.ScopeQueueDrain}, "granted scopes")
	return token
}
