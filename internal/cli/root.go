package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"utility-balance-alerts/internal/app"
	"utility-balance-alerts/internal/config"
	"utility-balance-alerts/internal/logging"
)

// exitDisabled tells scripts that the check was refused, not that it failed.
const exitDisabled = 2

var (
	cfgFile       string
	logLevel      string
	storageDriver string
	sqlitePath    string
	appHandle     *app.App
)

var rootCmd = &cobra.Command{
	Use:   "balancewatch",
	Short: "Daily utility balance checks with deduplicated alerts",
	Long: `balancewatch checks every configured utility account once a day at the
notification time (UTC+6) and alerts when a balance falls below the threshold
or cannot be read. The same alert is sent at most once per account per day.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadApp,
}

// loadApp builds the shared App once per process from config, env and flags.
func loadApp(cmd *cobra.Command, _ []string) error {
	if appHandle != nil {
		appHandle.Out = cmd.OutOrStdout()
		return nil
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if storageDriver != "" {
		cfg.Storage.Driver = storageDriver
	}
	if sqlitePath != "" {
		cfg.Storage.SQLitePath = sqlitePath
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	appHandle = app.NewApp(cfg, logging.NewLogger(cfg.Logging))
	appHandle.Out = cmd.OutOrStdout()
	return nil
}

// Execute runs the root command and maps errors to exit codes.
func Execute() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "balancewatch: %v\n", err)
	if errors.Is(err, app.ErrDisabled) {
		os.Exit(exitDisabled)
	}
	os.Exit(1)
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to configuration file")
	flags.StringVar(&logLevel, "log-level", "", "Override log level defined in config")
	flags.StringVar(&storageDriver, "storage", "", "Override storage.driver (memory, sqlite, postgres)")
	flags.StringVar(&sqlitePath, "db", "", "Override storage.sqlite_path")

	rootCmd.AddCommand(
		runCmd,
		checkCmd,
		enableCmd,
		disableCmd,
		testNotificationCmd,
		settingsCmd,
		statusCmd,
		historyCmd,
		queueCmd,
		simulateCmd,
		versionCmd,
	)
}

// getApp returns the App built by loadApp.
func getApp() *app.App {
	if appHandle == nil {
		panic("balancewatch: command ran before its configuration was loaded")
	}
	return appHandle
}
