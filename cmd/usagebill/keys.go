package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage API keys",
	Long: `Manage organization API keys.

Keys authenticate calls to the HTTP API and scope them to one
organization. The raw key is shown once, at creation.

Examples:
  usagebill keys list --org org_1
  usagebill keys create --org org_1 --name billing-service
  usagebill keys revoke key_abc123`,
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List API keys of an organization",
	RunE:  runKeysList,
}

var keysCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new API key",
	RunE:  runKeysCreate,
}

var keysRevokeCmd = &cobra.Command{
	Use:   "revoke <key-id>",
	Short: "Revoke an API key",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeysRevoke,
}

var (
	keyOrgID string
	keyName  string
)

func init() {
	rootCmd.AddCommand(keysCmd)

	keysCmd.AddCommand(keysListCmd)
	keysCmd.AddCommand(keysCreateCmd)
	keysCmd.AddCommand(keysRevokeCmd)

	keysListCmd.Flags().StringVar(&keyOrgID, "org", "", "organization ID (required)")
	keysListCmd.MarkFlagRequired("org")
	keysCreateCmd.Flags().StringVar(&keyOrgID, "org", "", "organization ID (required)")
	keysCreateCmd.Flags().StringVar(&keyName, "name", "", "key name (optional)")
	keysCreateCmd.MarkFlagRequired("org")
}

func runKeysList(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Shutdown()

	keys, err := a.Keys.List(cmd.Context(), keyOrgID)
	if err != nil {
		return fmt.Errorf("failed to list keys: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(keys) == 0 {
		fmt.Fprintf(out, "No keys found for organization %s.\n", keyOrgID)
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Create a key with: usagebill keys create --org=<organization-id>")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPREFIX\tNAME\tSTATUS\tCREATED")
	fmt.Fprintln(w, "--\t------\t----\t------\t-------")

	for _, k := range keys {
		status := "active"
		if k.RevokedAt != nil {
			status = "revoked"
		}
		created := k.CreatedAt.Format("2006-01-02")
		fmt.Fprintf(w, "%s\t%s...\t%s\t%s\t%s\n", k.ID, k.Prefix, k.Name, status, created)
	}

	return w.Flush()
}

func runKeysCreate(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Shutdown()

	raw, k, err := a.Keys.Create(cmd.Context(), keyOrgID, keyName)
	if err != nil {
		return fmt.Errorf("failed to create key: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s Created API key for organization %s\n", checkMark, keyOrgID)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "API Key (save this, shown once):")
	fmt.Fprintf(out, "  %s\n", raw)
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Key ID: %s\n", k.ID)
	return nil
}

func runKeysRevoke(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Shutdown()

	if err := a.Keys.Revoke(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("failed to revoke key: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s Revoked key: %s\n", checkMark, args[0])
	return nil
}
