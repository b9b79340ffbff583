package main

import (
	"os"

	"github.com/spf13/cobra"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	var cfgPath string
	root := &cobra.Command{
		Use:          "issuesense",
		Short:        "GitHub duplicate detection and similarity annotation bot",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config/config.json)")

	root.AddCommand(
		serveCMD(&cfgPath),
		workerCMD(&cfgPath),
		drainCMD(&cfgPath),
		sweepCMD(&cfgPath),
		migrateCMD(&cfgPath),
		tokenCMD(&cfgPath),
	)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
