package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/icf-orlp-cals-open/adapt-authoring/internal/config"
	"github.com/icf-orlp-cals-open/adapt-authoring/internal/version"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "assetd",
	Short:         "Adapt authoring asset service",
	Long:          "assetd ingests, indexes and serves course assets for the authoring tool.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the build version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "assetd %s\n", version.Get())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (defaults to $CONFIG_PATH or config.toml)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	path := configPath
	if path == "" {
		path = config.PathFromEnv()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
