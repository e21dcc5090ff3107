package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/foxzi/sendry-ab/internal/abtest"
	"github.com/foxzi/sendry-ab/internal/app"
	"github.com/foxzi/sendry-ab/internal/config"
)

var (
	cfgFile   string
	jsonOut   bool
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "sendry-ab",
	Short: "Sendry A/B - campaign testing engine",
	Long:  `Sendry A/B splits campaign recipients across variants, evaluates the results and declares winners.`,
	// Usage is noise for lifecycle errors such as a rejected split
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the auto-winner sweep and the metrics server",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE:  runMigrate,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration commands",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE:  runConfigValidate,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("sendry-ab version %s\n", version)
		if commit != "unknown" {
			fmt.Printf("  commit: %s\n", commit)
		}
		if buildTime != "unknown" {
			fmt.Printf("  built:  %s\n", buildTime)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "print results as JSON")

	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(serveCmd, migrateCmd, configCmd, versionCmd)
}

func loadConfig() (*config.Config, error) {
	if cfgFile == "" {
		return nil, fmt.Errorf("config file is required (use -c flag)")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// openApp opens storage for a one-shot command. Logs go to stderr so
// command output stays parseable.
func openApp() (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	a, err := app.NewWithLogger(cfg, app.SetupLogger(cfg.Logging, os.Stderr))
	if err != nil {
		return nil, fmt.Errorf("failed to open application: %w", err)
	}
	return a, nil
}

// withApp runs fn against an opened application and closes it afterwards
func withApp(fn func(ctx context.Context, a *app.App) error) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	return describe(fn(context.Background(), a))
}

// describe prefixes lifecycle errors with their kind
func describe(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", abtest.KindOf(err), err)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	return application.Run(context.Background())
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Opening the application applies the migrations
	a, err := app.NewWithLogger(cfg, app.SetupLogger(cfg.Logging, os.Stderr))
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	defer a.Close()

	fmt.Printf("Database migrated: %s\n", cfg.Database.Path)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	if cfgFile == "" {
		return fmt.Errorf("config file is required (use -c flag)")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("configuration is invalid: %w", err)
	}

	fmt.Printf("Configuration is valid\n")
	fmt.Printf("  Database: %s\n", cfg.Database.Path)
	fmt.Printf("  Outbox: %s\n", cfg.Outbox.Path)
	fmt.Printf("  Sweep: enabled=%v interval=%s concurrency=%d\n", cfg.Sweep.Enabled, cfg.Sweep.Interval, cfg.Sweep.Concurrency)
	fmt.Printf("  P-value: %s\n", cfg.Statistics.PValue)
	if cfg.Metrics.Enabled {
		fmt.Printf("  Metrics: %s%s\n", cfg.Metrics.ListenAddr, cfg.Metrics.Path)
	}

	return nil
}
