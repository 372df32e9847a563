// Package main provides the imgoptd binary: an edge daemon in front of an
// image optimization proxy. It detects client device profiles, selects
// output format and quality, builds upstream requests, and serves results
// from a partitioned cache with graceful fallback.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/meigma/imgopt/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		listen     string
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "imgoptd",
		Short: "Image optimization edge daemon",
		Long: `imgoptd sits in front of an image optimization proxy. It detects client
device capabilities from request headers, selects output format and quality,
builds upstream transform requests, and serves responses from a partitioned
cache with stale and placeholder fallbacks.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Listen = listen
			}

			srv, err := newServer(cfg, logger)
			if err != nil {
				return err
			}
			return srv.run(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "listen address (overrides config)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	return cmd
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	cfg := config.Default()
	cfg.ProxyBase = os.Getenv("IMGOPT_PROXY_BASE")
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
