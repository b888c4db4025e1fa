package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed <file.yaml>",
	Short: "Load organizations, plans, subscriptions and events from a YAML file",
	Long: `Load billing data from a YAML seed file into the configured store.

The file lists organizations, api_keys, metrics, plan_versions,
subscriptions and events. Event times may be RFC3339 or relative to
now (for example -24h).

Examples:
  usagebill seed examples.yaml
  usagebill seed fixtures/acme.yaml --config /etc/usagebill/usagebill.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Shutdown()

	summary, err := applySeed(cmd.Context(), a, args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s Seeded %s\n", checkMark, args[0])
	fmt.Fprintf(out, "  organizations: %d\n", summary.Organizations)
	fmt.Fprintf(out, "  api keys:      %d\n", summary.APIKeys)
	fmt.Fprintf(out, "  metrics:       %d\n", summary.Metrics)
	fmt.Fprintf(out, "  plan versions: %d\n", summary.PlanVersions)
	fmt.Fprintf(out, "  subscriptions: %d\n", summary.Subscriptions)
	fmt.Fprintf(out, "  events:        %d\n", summary.Events)
	return nil
}
