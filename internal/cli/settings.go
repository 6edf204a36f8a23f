package cli

import (
	"github.com/spf13/cobra"

	"utility-balance-alerts/internal/app"
)

var (
	settingsThreshold string
	settingsTime      string
	settingsEnabled   bool
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change notification settings",
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ShowSettings(cmd.Context())
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Update threshold, notification time or the enabled flag",
	RunE: func(cmd *cobra.Command, args []string) error {
		var opts app.SettingsOptions
		if cmd.Flags().Changed("threshold") {
			opts.Threshold = &settingsThreshold
		}
		if cmd.Flags().Changed("time") {
			opts.Time = &settingsTime
		}
		if cmd.Flags().Changed("enabled") {
			opts.Enabled = &settingsEnabled
		}
		return getApp().UpdateSettings(cmd.Context(), opts)
	},
}

var settingsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget stored settings and fall back to configured defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ResetSettings(cmd.Context())
	},
}

func init() {
	settingsSetCmd.Flags().StringVar(&settingsThreshold, "threshold", "", "Low balance threshold, e.g. 150.50")
	settingsSetCmd.Flags().StringVar(&settingsTime, "time", "", "Daily check time HH:MM (UTC+6)")
	settingsSetCmd.Flags().BoolVar(&settingsEnabled, "enabled", false, "Enable or disable notifications")

	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsSetCmd)
	settingsCmd.AddCommand(settingsResetCmd)
}
