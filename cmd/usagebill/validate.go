package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/artpar/usagebill/adapters/redis"
	"github.com/artpar/usagebill/adapters/sqlite"
	"github.com/artpar/usagebill/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration before deployment",
	Long: `Validate the usagebill configuration file.

Checks:
  - YAML syntax is valid
  - Values are in range
  - Database opens and migrates (optional)
  - Redis answers (optional, cache mode redis only)

Examples:
  usagebill validate
  usagebill validate --config /etc/usagebill/usagebill.yaml --check-database`,
	RunE: runValidate,
}

var (
	validateCheckDatabase bool
	validateCheckRedis    bool
)

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVar(&validateCheckDatabase, "check-database", false, "check that the database opens and migrates")
	validateCmd.Flags().BoolVar(&validateCheckRedis, "check-redis", false, "check that redis is reachable")
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Validating %s...\n\n", cfgFile)

	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		fmt.Fprintf(out, "  %s Config file exists\n", crossMark)
		return fmt.Errorf("config file not found: %s", cfgFile)
	}
	fmt.Fprintf(out, "  %s Config file exists\n", checkMark)

	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(out, "  %s Config valid\n", crossMark)
		return fmt.Errorf("config error: %w", err)
	}
	fmt.Fprintf(out, "  %s Config valid\n", checkMark)

	fmt.Fprintf(out, "  %s Listen: %s\n", checkMark, cfg.Server.Addr())
	fmt.Fprintf(out, "  %s Database: %s (%s)\n", checkMark, cfg.Database.DSN, cfg.Database.Driver)
	fmt.Fprintf(out, "  %s Plan cache: %s\n", checkMark, cfg.Cache.Mode)
	fmt.Fprintf(out, "  %s Draft workers: %d, timeout %s\n", checkMark, cfg.Draft.Workers, cfg.Draft.Timeout)

	if validateCheckDatabase && cfg.Database.Driver == "sqlite" {
		if err := checkDatabase(cfg.Database.DSN); err != nil {
			fmt.Fprintf(out, "  %s Database opens\n", crossMark)
			fmt.Fprintf(out, "      Error: %v\n", err)
		} else {
			fmt.Fprintf(out, "  %s Database opens\n", checkMark)
		}
	}

	if validateCheckRedis && cfg.Cache.Mode == "redis" {
		if err := checkRedis(cmd.Context(), cfg.Cache.Redis); err != nil {
			fmt.Fprintf(out, "  %s Redis reachable\n", crossMark)
			fmt.Fprintf(out, "      Error: %v\n", err)
		} else {
			fmt.Fprintf(out, "  %s Redis reachable\n", checkMark)
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Configuration is valid.")
	return nil
}

func checkDatabase(dsn string) error {
	store, err := sqlite.OpenStore(dsn)
	if err != nil {
		return err
	}
	return store.Close()
}

func checkRedis(ctx context.Context, cfg config.RedisConfig) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cache, err := redis.New(ctx, redis.Config{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	if err != nil {
		return err
	}
	return cache.Close()
}
