package cmd

import (
	"github.com/spf13/cobra"

	"github.com/jackronrau/AnyCrawl-sub001/internal/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server and worker pools",
		Long: `Serve assembles the service from configuration and blocks until it
receives SIGINT or SIGTERM, then drains in-flight work before exiting.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			app, err := server.New(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer app.Close()
			return app.Run(cmd.Context())
		},
	}
}
