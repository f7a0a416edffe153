package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/goodtune/sitepulse/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the SitePulse configuration file for syntax and semantic errors.`,
	RunE:  runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration validation failed: %v\n", err)
		return err
	}

	green := color.New(color.FgGreen, color.Bold)
	green.Printf("✓ Configuration is valid: %s\n", configPath)

	fmt.Printf("  Bridge:    %s:%d\n", cfg.Server.BindAddress, cfg.Server.BridgePort)
	fmt.Printf("  Metrics:   %s:%d\n", cfg.Server.BindAddress, cfg.Server.MetricsPort)
	fmt.Printf("  Collector: %s\n", cfg.Collector.BaseURL)
	fmt.Printf("  Storage:   %s", cfg.Storage.Type)
	if cfg.Storage.Type == "redis" {
		fmt.Printf(" (%s:%d)", cfg.Storage.Redis.Host, cfg.Storage.Redis.Port)
	} else {
		fmt.Printf(" (%s)", cfg.Storage.Path)
	}
	fmt.Println()
	fmt.Printf("  Retention: %d days\n", cfg.Retention.TotalsDays)

	return nil
}
