package plan

import (
	"github.com/shopspring/decimal"

	"github.com/artpar/usagebill/domain/billing"
)

// Charge is the cost of one component for a usage quantity.
type Charge struct {
	ComponentID   string
	MetricID      string
	Usage         decimal.Decimal
	BillableUnits decimal.Decimal
	Batches       decimal.Decimal
	Cost          decimal.Decimal
}

// Line converts the charge into a draft invoice breakdown line.
func (c Charge) Line() billing.ComponentLine {
	return billing.ComponentLine{
		ComponentID:   c.ComponentID,
		MetricID:      c.MetricID,
		Usage:         c.Usage,
		BillableUnits: c.BillableUnits,
		Cost:          c.Cost,
	}
}

// PriceComponent prices usage q against c:
//
//	billable = max(q - free, 0)
//	batches  = ceil(billable / units_per_batch)
//	cost     = batches * cost_per_batch
//
// Partial batches are charged in full. No rounding is applied.
// This is a PURE function.
func PriceComponent(c Component, q decimal.Decimal) (Charge, error) {
	if err := c.Validate(); err != nil {
		return Charge{}, err
	}

	billable := q.Sub(c.FreeUnits)
	if billable.IsNegative() {
		billable = decimal.Zero
	}
	batches := ceilDiv(billable, c.UnitsPerBatch)

	return Charge{
		ComponentID:   c.ID,
		MetricID:      c.Metric.ID,
		Usage:         q,
		BillableUnits: billable,
		Batches:       batches,
		Cost:          batches.Mul(c.CostPerBatch),
	}, nil
}

// ceilDiv divides exactly and rounds the quotient up. d must be positive.
func ceilDiv(n, d decimal.Decimal) decimal.Decimal {
	q, r := n.QuoRem(d, 0)
	if r.IsPositive() {
		q = q.Add(decimal.NewFromInt(1))
	}
	return q
}

// Quote is the unrounded subtotal of a plan version with its breakdown.
type Quote struct {
	Charges  []Charge
	Subtotal decimal.Decimal
}

// Lines returns the breakdown as draft invoice lines.
func (q Quote) Lines() []billing.ComponentLine {
	out := make([]billing.ComponentLine, len(q.Charges))
	for i, c := range q.Charges {
		out[i] = c.Line()
	}
	return out
}

// Subtotal prices every component of v with the usage in quantities, keyed by
// metric ID. Components without usage are priced at zero usage. Components
// are summed in (CreatedAt, ID) order.
// This is a PURE function.
func Subtotal(v Version, quantities map[string]decimal.Decimal) (Quote, error) {
	components := SortedComponents(v.Components)
	quote := Quote{
		Charges:  make([]Charge, 0, len(components)),
		Subtotal: decimal.Zero,
	}
	for _, c := range components {
		q, ok := quantities[c.Metric.ID]
		if !ok {
			q = decimal.Zero
		}
		charge, err := PriceComponent(c, q)
		if err != nil {
			return Quote{}, err
		}
		quote.Charges = append(quote.Charges, charge)
		quote.Subtotal = quote.Subtotal.Add(charge.Cost)
	}
	return quote, nil
}
