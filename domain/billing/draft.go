package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// ComponentLine is the priced breakdown of one plan component.
type ComponentLine struct {
	ComponentID   string
	MetricID      string
	Usage         decimal.Decimal
	BillableUnits decimal.Decimal
	Cost          decimal.Decimal // unrounded
}

// DraftLine is the computed, unpersisted invoice line for one subscription.
type DraftLine struct {
	SubscriptionID string
	CustomerID     string
	PlanVersionID  string
	PeriodStart    time.Time
	PeriodEnd      time.Time
	Components     []ComponentLine
	Subtotal       decimal.Decimal // unrounded sum of component costs
	Adjustment     PriceAdjustment
	CostDue        decimal.Decimal // rounded to two places
}

// TotalDue sums CostDue across lines.
// This is a PURE function.
func TotalDue(lines []DraftLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.CostDue)
	}
	return total
}
