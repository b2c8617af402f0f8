package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is stamped by the build:
//
//	go build -ldflags "-X github.com/jackronrau/AnyCrawl-sub001/cmd.version=v1.2.3"
var version = "dev"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the anycrawl version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
