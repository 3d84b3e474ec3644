package cli

import (
	"github.com/spf13/cobra"
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete read and dismissed notifications past the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Purge(cmd.Context())
	},
}
