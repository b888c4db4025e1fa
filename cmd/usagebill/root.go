package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/artpar/usagebill/app"
	"github.com/artpar/usagebill/bootstrap"
)

var (
	// Global flags
	cfgFile   string
	useMemory bool
	seedFile  string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "usagebill",
	Short: "Usage-based billing draft invoice engine",
	Long: `usagebill turns raw usage events into draft invoice amounts.

Events are aggregated per metric, priced by the components of the
customer's plan version, adjusted by the version's price adjustment
and rounded to two decimal places.

Quick start:
  usagebill seed examples.yaml   # Load organizations, plans and events
  usagebill serve                # Start the HTTP API

Management:
  usagebill draft     # Compute a draft invoice from the command line
  usagebill plans     # Inspect plan versions and set adjustments
  usagebill keys      # Manage organization API keys
  usagebill validate  # Validate configuration`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "usagebill.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVar(&useMemory, "memory", false, "use the in-memory store")
	rootCmd.PersistentFlags().StringVar(&seedFile, "seed", "", "seed file to apply before running the command")
}

// openApp wires the application without starting the server. Logs go to
// stderr so command output stays clean.
func openApp(ctx context.Context) (*bootstrap.App, error) {
	a, err := bootstrap.New(bootstrap.Options{
		ConfigPath: cfgFile,
		Memory:     useMemory,
		Version:    version,
		LogOutput:  os.Stderr,
	})
	if err != nil {
		return nil, fmt.Errorf("error initializing: %w", err)
	}

	if seedFile != "" {
		if _, err := applySeed(ctx, a, seedFile); err != nil {
			a.Shutdown()
			return nil, err
		}
	}
	return a, nil
}

func applySeed(ctx context.Context, a *bootstrap.App, path string) (app.SeedSummary, error) {
	f, err := app.LoadSeedFile(path)
	if err != nil {
		return app.SeedSummary{}, err
	}
	summary, err := a.Seeder.Apply(ctx, f)
	if err != nil {
		return summary, fmt.Errorf("apply seed file: %w", err)
	}
	return summary, nil
}

const (
	checkMark = "\033[32m✓\033[0m"
	crossMark = "\033[31m✗\033[0m"
)
