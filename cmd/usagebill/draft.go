package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/artpar/usagebill/app"
	"github.com/artpar/usagebill/domain/billing"
)

var draftCmd = &cobra.Command{
	Use:   "draft",
	Short: "Compute the draft invoice for a customer",
	Long: `Compute the draft invoice lines for a customer's active subscriptions.

Nothing is written; the draft reflects the events recorded so far.
--start and --end narrow the aggregation window and accept RFC3339
times or durations relative to now.

Examples:
  usagebill draft --org org_1 --customer cus_1
  usagebill draft --org org_1 --customer cus_1 --start -48h --end now
  usagebill draft --org org_1 --customer cus_1 --json`,
	RunE: runDraft,
}

var (
	draftOrg      string
	draftCustomer string
	draftStart    string
	draftEnd      string
	draftJSON     bool
)

func init() {
	rootCmd.AddCommand(draftCmd)

	draftCmd.Flags().StringVar(&draftOrg, "org", "", "organization ID (required)")
	draftCmd.Flags().StringVar(&draftCustomer, "customer", "", "customer ID (required)")
	draftCmd.Flags().StringVar(&draftStart, "start", "", "window start (RFC3339 or relative)")
	draftCmd.Flags().StringVar(&draftEnd, "end", "", "window end (RFC3339 or relative)")
	draftCmd.Flags().BoolVar(&draftJSON, "json", false, "print JSON instead of a table")
	draftCmd.MarkFlagRequired("org")
	draftCmd.MarkFlagRequired("customer")
}

func runDraft(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Shutdown()

	now := time.Now().UTC()
	req := app.DraftRequest{OrganizationID: draftOrg, CustomerID: draftCustomer}
	if draftStart != "" {
		t, err := app.ParseTime(draftStart, now)
		if err != nil {
			return fmt.Errorf("--start: %w", err)
		}
		req.WindowStart = &t
	}
	if draftEnd != "" {
		t, err := app.ParseTime(draftEnd, now)
		if err != nil {
			return fmt.Errorf("--end: %w", err)
		}
		req.WindowEnd = &t
	}

	lines, err := a.Draft.GetDraftInvoice(cmd.Context(), req)
	if err != nil {
		return err
	}

	if draftJSON {
		return writeDraftJSON(cmd.OutOrStdout(), draftCustomer, lines)
	}
	writeDraftTable(cmd.OutOrStdout(), lines)
	return nil
}

type draftJSONLine struct {
	SubscriptionID string               `json:"subscription_id"`
	PlanVersionID  string               `json:"plan_version_id"`
	PeriodStart    time.Time            `json:"period_start"`
	PeriodEnd      time.Time            `json:"period_end"`
	Subtotal       string               `json:"subtotal"`
	Adjustment     string               `json:"adjustment,omitempty"`
	CostDue        string               `json:"cost_due"`
	Components     []draftJSONBreakdown `json:"components"`
}

type draftJSONBreakdown struct {
	ComponentID   string `json:"component_id"`
	BillableUnits string `json:"billable_units"`
	Cost          string `json:"cost"`
}

func writeDraftJSON(w io.Writer, customerID string, lines []billing.DraftLine) error {
	doc := struct {
		CustomerID string          `json:"customer_id"`
		Lines      []draftJSONLine `json:"lines"`
		TotalDue   string          `json:"total_due"`
	}{
		CustomerID: customerID,
		Lines: lo.Map(lines, func(l billing.DraftLine, _ int) draftJSONLine {
			out := draftJSONLine{
				SubscriptionID: l.SubscriptionID,
				PlanVersionID:  l.PlanVersionID,
				PeriodStart:    l.PeriodStart,
				PeriodEnd:      l.PeriodEnd,
				Subtotal:       l.Subtotal.String(),
				CostDue:        billing.FormatAmount(l.CostDue),
				Components: lo.Map(l.Components, func(c billing.ComponentLine, _ int) draftJSONBreakdown {
					return draftJSONBreakdown{
						ComponentID:   c.ComponentID,
						BillableUnits: c.BillableUnits.String(),
						Cost:          c.Cost.String(),
					}
				}),
			}
			if !l.Adjustment.IsNone() {
				out.Adjustment = fmt.Sprintf("%s %s", l.Adjustment.Type, l.Adjustment.Amount)
			}
			return out
		}),
		TotalDue: billing.FormatAmount(billing.TotalDue(lines)),
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func writeDraftTable(out io.Writer, lines []billing.DraftLine) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, l := range lines {
		fmt.Fprintf(w, "Subscription %s (plan version %s)\n", l.SubscriptionID, l.PlanVersionID)
		fmt.Fprintf(w, "Period %s to %s\n", l.PeriodStart.Format(time.RFC3339), l.PeriodEnd.Format(time.RFC3339))
		fmt.Fprintln(w, "COMPONENT\tMETRIC\tUSAGE\tBILLABLE\tCOST")
		fmt.Fprintln(w, "---------\t------\t-----\t--------\t----")
		for _, c := range l.Components {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", c.ComponentID, c.MetricID, c.Usage, c.BillableUnits, c.Cost)
		}
		fmt.Fprintf(w, "\t\t\tsubtotal\t%s\n", l.Subtotal)
		if !l.Adjustment.IsNone() {
			fmt.Fprintf(w, "\t\t\t%s\t%s\n", l.Adjustment.Type, l.Adjustment.Amount)
		}
		fmt.Fprintf(w, "\t\t\tcost due\t%s\n", billing.FormatAmount(l.CostDue))
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "Total due: %s\n", billing.FormatAmount(billing.TotalDue(lines)))
	w.Flush()
}
