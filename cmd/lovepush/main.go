package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"lovepush/internal/config"
)

var (
	cfgPath string
	envFile string
)

var rootCmd = &cobra.Command{
	Use:           "lovepush",
	Short:         "Daily love message service",
	Long:          "lovepush serves the daily message API, sends web push broadcasts and delivers the message once a day on the configured platform.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(*cobra.Command, []string) error {
		return config.LoadDotEnv(envFile)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "./config.yaml", "path to config (yaml or json)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with secrets; skipped when missing")

	rootCmd.AddCommand(serveCmd, todayCmd, sendCmd, vapidCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
