package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"stage2-screener/internal/app"
	"stage2-screener/internal/config"
	"stage2-screener/internal/logging"
)

var (
	cfgFile   string
	envFile   string
	logLevel  string
	profile   string
	appHandle *app.App
	overrides = newScreeningOverrides()
)

var rootCmd = &cobra.Command{
	Use:           "screener",
	Short:         "Screen KRX equities for stage-2 breakouts",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if appHandle != nil || cmd.Name() == versionCmd.Name() {
			return nil
		}

		if err := loadDotEnv(envFile); err != nil {
			return err
		}

		cfg, err := config.Load(cfgFile, profile)
		if err != nil {
			return err
		}
		if err := overrides.apply(cfg); err != nil {
			return err
		}

		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}

		logger := logging.NewLogger(cfg.Logging)
		appHandle = app.NewApp(cfg, logger)
		appHandle.Out = cmd.OutOrStdout()
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Dotenv file loaded before configuration")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level defined in config")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "Screening profile: full, strict or quick")
	rootCmd.PersistentFlags().AddFlagSet(overrides.flags)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(chartCmd)
	rootCmd.AddCommand(testAlertCmd)
	rootCmd.AddCommand(ledgerCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadDotEnv reads path into the environment without overriding variables already set.
// A missing file is not an error.
func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func getApp() *app.App {
	if appHandle == nil {
		panic("application not initialized; PersistentPreRunE not executed")
	}
	return appHandle
}
