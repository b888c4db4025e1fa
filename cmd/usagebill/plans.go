package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/artpar/usagebill/domain/billing"
)

var plansCmd = &cobra.Command{
	Use:   "plans",
	Short: "Inspect plan versions and manage price adjustments",
	Long: `Inspect plan versions and manage their price adjustments.

A plan version has priced components and at most one price adjustment.
Setting an adjustment replaces the previous one.

Examples:
  usagebill plans get pv_1
  usagebill plans adjust --version pv_1 --type percentage --amount -1
  usagebill plans adjust --version pv_1 --type fixed --amount -2.50 --name "Loyalty"
  usagebill plans adjust --version pv_1 --type none`,
}

var plansGetCmd = &cobra.Command{
	Use:   "get <version-id>",
	Short: "Show a plan version with its components",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlansGet,
}

var plansAdjustCmd = &cobra.Command{
	Use:   "adjust",
	Short: "Set the price adjustment of a plan version",
	RunE:  runPlansAdjust,
}

var (
	adjustVersion     string
	adjustType        string
	adjustAmount      string
	adjustName        string
	adjustDescription string
)

func init() {
	rootCmd.AddCommand(plansCmd)

	plansCmd.AddCommand(plansGetCmd)
	plansCmd.AddCommand(plansAdjustCmd)

	plansAdjustCmd.Flags().StringVar(&adjustVersion, "version", "", "plan version ID (required)")
	plansAdjustCmd.Flags().StringVar(&adjustType, "type", "", "percentage, fixed, price_override or none (required)")
	plansAdjustCmd.Flags().StringVar(&adjustAmount, "amount", "", "signed amount (required unless --type none)")
	plansAdjustCmd.Flags().StringVar(&adjustName, "name", "", "adjustment name")
	plansAdjustCmd.Flags().StringVar(&adjustDescription, "description", "", "adjustment description")
	plansAdjustCmd.MarkFlagRequired("version")
	plansAdjustCmd.MarkFlagRequired("type")
}

func runPlansGet(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Shutdown()

	v, err := a.Plans.Load(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Plan version %s: %s v%d (organization %s)\n", v.ID, v.PlanName, v.Version, v.OrganizationID)
	if v.Adjustment.IsNone() {
		fmt.Fprintln(out, "Adjustment: none")
	} else {
		fmt.Fprintf(out, "Adjustment: %s %s %s\n", v.Adjustment.Type, v.Adjustment.Amount, v.Adjustment.Name)
	}
	fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "COMPONENT\tMETRIC\tAGGREGATION\tFREE\tCOST/BATCH\tUNITS/BATCH")
	fmt.Fprintln(w, "---------\t------\t-----------\t----\t----------\t-----------")
	for _, c := range v.Components {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			c.ID, c.Metric.ID, c.Metric.Aggregation, c.FreeUnits, c.CostPerBatch, c.UnitsPerBatch)
	}
	return w.Flush()
}

func runPlansAdjust(cmd *cobra.Command, args []string) error {
	typ, err := billing.ParseAdjustmentType(adjustType)
	if err != nil {
		return err
	}
	amount := decimal.Zero
	switch {
	case adjustAmount != "":
		if amount, err = decimal.NewFromString(adjustAmount); err != nil {
			return fmt.Errorf("--amount: invalid decimal %q", adjustAmount)
		}
	case typ != billing.AdjustmentNone:
		return fmt.Errorf("--amount is required for %s adjustments", typ)
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Shutdown()

	adj := billing.PriceAdjustment{
		Type:        typ,
		Amount:      amount,
		Name:        adjustName,
		Description: adjustDescription,
	}
	if err := a.PlanAdmin.SetAdjustment(cmd.Context(), adjustVersion, adj); err != nil {
		return err
	}

	if adj.IsNone() {
		fmt.Fprintf(cmd.OutOrStdout(), "%s Cleared adjustment on %s\n", checkMark, adjustVersion)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s Set %s adjustment %s on %s\n", checkMark, typ, amount, adjustVersion)
	return nil
}
