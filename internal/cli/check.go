package cli

import (
	"github.com/spf13/cobra"
)

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate configuration and print the watched accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().CheckConfig(cmd.OutOrStdout())
	},
}
