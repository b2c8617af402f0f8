// Package cmd defines the CLI commands for the anycrawl executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackronrau/AnyCrawl-sub001/internal/config"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "anycrawl",
		Short: "Self-hosted scraping, search and crawling service",
		Long: `anycrawl exposes an HTTP API for scrape, search and crawl jobs.
Submissions are validated, queued per engine, and executed by bounded worker
pools. Terminal jobs are billed against a credit ledger and their results
served back from the job store.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"path to a YAML config file; unset reads ANYCRAWL_* env vars and defaults")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// Execute is the entry point used by main.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, fmt.Errorf("load configuration: %w", err)
	}
	return cfg, nil
}
