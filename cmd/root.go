package cmd

import (
	"github.com/spf13/cobra"

	"video-restore/config"
)

func Root(config *config.Config) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "video-restore",
		Short: "video restoration job service",
	}
	rootCmd.AddCommand(server(config))
	rootCmd.AddCommand(migrate(config))
	return rootCmd
}
