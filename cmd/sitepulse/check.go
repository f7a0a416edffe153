package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/goodtune/sitepulse/internal/config"
	"github.com/goodtune/sitepulse/internal/policy"
	"github.com/goodtune/sitepulse/internal/storage"
)

var (
	checkDate             string
	checkTrackingDisabled bool
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Inspect tracking decisions and accumulated totals",
	Long:  `Check what tracking decisions SitePulse would make for a page, or inspect the accumulated daily totals.`,
}

var checkPolicyCmd = &cobra.Command{
	Use:   "policy URL",
	Short: "Check whether a page would be tracked",
	Long:  `Check whether SitePulse would count screen time for the given page URL.`,
	Example: `  sitepulse -c config.yaml check policy https://www.example.com/docs
  sitepulse check policy --tracking-disabled https://www.example.com/`,
	Args: cobra.ExactArgs(1),
	RunE: runCheckPolicy,
}

var checkTotalsCmd = &cobra.Command{
	Use:   "totals",
	Short: "Show accumulated daily totals",
	Long:  `Show the per-site screen time accumulated for a given day.`,
	Example: `  sitepulse check totals
  sitepulse check totals --date 2026-08-30`,
	RunE: runCheckTotals,
}

func init() {
	checkPolicyCmd.Flags().BoolVar(&checkTrackingDisabled, "tracking-disabled", false, "Evaluate as if the tracking flag were off")
	checkTotalsCmd.Flags().StringVar(&checkDate, "date", "", "Day to inspect (YYYY-MM-DD) - defaults to today")

	checkCmd.AddCommand(checkPolicyCmd)
	checkCmd.AddCommand(checkTotalsCmd)
	rootCmd.AddCommand(checkCmd)
}

func runCheckPolicy(cmd *cobra.Command, args []string) error {
	parsedURL, err := url.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid URL: %s", args[0])
	}

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Create a quiet logger for check mode
	logger := zerolog.New(os.Stderr).Level(zerolog.ErrorLevel).With().Timestamp().Logger()

	policyEngine, err := policy.NewEngine(cfg.Policy.PolicyDir, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize policy engine: %w", err)
	}

	input := policy.Input{
		Scheme:          parsedURL.Scheme,
		Hostname:        parsedURL.Hostname(),
		TrackingEnabled: !checkTrackingDisabled,
	}
	trackable := policyEngine.Trackable(context.Background(), input)

	printPolicyResult(parsedURL, input, trackable)

	return nil
}

func runCheckTotals(cmd *cobra.Command, args []string) error {
	dateKey := checkDate
	if dateKey == "" {
		dateKey = time.Now().Format(storage.DateKeyFormat)
	}
	if _, err := time.Parse(storage.DateKeyFormat, dateKey); err != nil {
		return fmt.Errorf("invalid date %q, expected YYYY-MM-DD", checkDate)
	}

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	totals, err := store.Totals().ListDay(context.Background(), dateKey)
	if err != nil {
		return fmt.Errorf("failed to read totals: %w", err)
	}

	printTotals(dateKey, totals)

	return nil
}

// printPolicyResult prints the policy check result with colors
func printPolicyResult(u *url.URL, input policy.Input, trackable bool) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	red := color.New(color.FgRed, color.Bold)

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	cyan.Println("TRACKING POLICY CHECK")
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	fmt.Printf("URL:      %s\n", u)
	fmt.Printf("Scheme:   %s\n", input.Scheme)
	fmt.Printf("Hostname: %s\n", input.Hostname)
	fmt.Printf("Tracking: %v\n", input.TrackingEnabled)
	fmt.Println()

	cyan.Print("Decision: ")
	if trackable {
		green.Println("TRACK")
		fmt.Println("          → Screen time will be counted for this page")
		fmt.Println("          → A visit event will be seeded on navigation")
	} else {
		red.Println("IGNORE")
		fmt.Println("          → No screen time will be counted")
		fmt.Println("          → No visit event will be sent")
	}
	fmt.Println()
}

// printTotals prints the daily totals with colors
func printTotals(dateKey string, totals []storage.DailyTotal) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	cyan.Printf("DAILY TOTALS  %s\n", dateKey)
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	if len(totals) == 0 {
		fmt.Println("No screen time recorded for this day.")
		fmt.Println()
		return
	}

	var day int64
	for _, total := range totals {
		green.Printf("%10s", formatSeconds(total.TotalSeconds))
		fmt.Printf("  %s\n", total.Hostname)
		day += total.TotalSeconds
	}
	fmt.Println()
	fmt.Printf("Total: %s across %d sites\n", formatSeconds(day), len(totals))
	fmt.Println()
}

// formatSeconds renders a second count as h/m/s
func formatSeconds(seconds int64) string {
	d := time.Duration(seconds) * time.Second
	if d >= time.Hour {
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	}
	if d >= time.Minute {
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%ds", seconds)
}
