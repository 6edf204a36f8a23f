package cli

import (
	"github.com/spf13/cobra"
)

var enableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Request delivery permission and enable daily notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Enable(cmd.Context())
	},
}

var disableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Disable daily notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Disable(cmd.Context())
	},
}

var testNotificationCmd = &cobra.Command{
	Use:   "test-notification",
	Short: "Send a one-off message through the configured channels",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().TestNotification(cmd.Context())
	},
}
