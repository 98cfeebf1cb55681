package main

import (
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "hazelsync",
	Short: "Bidirectional chat sync between Hazel and external providers",
	Long:  "hazelsync mirrors messages, reactions, and threads between Hazel channels and external chat platforms (Discord, Telegram, Lark), keeping both sides consistent through idempotent event receipts.",
	Run: func(cmd *cobra.Command, args []string) {
		runServe()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: config.toml or $CONFIG_PATH)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(backfillCmd())
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		return v
	}
	return ""
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
