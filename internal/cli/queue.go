package cli

import (
	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect or drain the retry queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending deliveries and the error log",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ShowQueue(cmd.Context())
	},
}

var queueProcessCmd = &cobra.Command{
	Use:   "process",
	Short: "Redeliver queued notifications now",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ProcessQueue(cmd.Context())
	},
}

var queueClearErrorsCmd = &cobra.Command{
	Use:   "clear-errors",
	Short: "Empty the error log",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ClearErrors(cmd.Context())
	},
}

var queueClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop every pending delivery",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ClearQueue(cmd.Context())
	},
}

func init() {
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueProcessCmd)
	queueCmd.AddCommand(queueClearErrorsCmd)
	queueCmd.AddCommand(queueClearCmd)
}
