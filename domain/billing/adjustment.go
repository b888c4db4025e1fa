package billing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrInvalidAdjustment is returned for adjustments with an unknown type.
var ErrInvalidAdjustment = errors.New("invalid price adjustment")

// AdjustmentType tags the variant held by a PriceAdjustment.
type AdjustmentType string

const (
	AdjustmentNone       AdjustmentType = ""
	AdjustmentPercentage AdjustmentType = "PERCENTAGE"
	AdjustmentFixed      AdjustmentType = "FIXED"
	AdjustmentOverride   AdjustmentType = "PRICE_OVERRIDE"
)

// ParseAdjustmentType accepts the canonical names case-insensitively.
// "none" and "" both map to AdjustmentNone.
func ParseAdjustmentType(s string) (AdjustmentType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "NONE":
		return AdjustmentNone, nil
	case string(AdjustmentPercentage):
		return AdjustmentPercentage, nil
	case string(AdjustmentFixed):
		return AdjustmentFixed, nil
	case string(AdjustmentOverride), "OVERRIDE":
		return AdjustmentOverride, nil
	default:
		return AdjustmentNone, fmt.Errorf("%w: unknown type %q", ErrInvalidAdjustment, s)
	}
}

// PriceAdjustment is the single pricing override attached to a plan version.
// The zero value is "no adjustment".
type PriceAdjustment struct {
	Type        AdjustmentType
	Amount      decimal.Decimal // signed
	Name        string
	Description string
}

// NoAdjustment returns the empty adjustment.
func NoAdjustment() PriceAdjustment { return PriceAdjustment{} }

// Percentage scales the subtotal by (1 + amount/100). -1 is a 1% discount.
func Percentage(amount decimal.Decimal) PriceAdjustment {
	return PriceAdjustment{Type: AdjustmentPercentage, Amount: amount}
}

// Fixed adds amount to the subtotal. Negative amounts are discounts.
func Fixed(amount decimal.Decimal) PriceAdjustment {
	return PriceAdjustment{Type: AdjustmentFixed, Amount: amount}
}

// Override replaces the subtotal with amount.
func Override(amount decimal.Decimal) PriceAdjustment {
	return PriceAdjustment{Type: AdjustmentOverride, Amount: amount}
}

// IsNone reports whether no adjustment is configured.
func (a PriceAdjustment) IsNone() bool { return a.Type == AdjustmentNone }

// Validate rejects unknown adjustment types.
func (a PriceAdjustment) Validate() error {
	switch a.Type {
	case AdjustmentNone, AdjustmentPercentage, AdjustmentFixed, AdjustmentOverride:
		return nil
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidAdjustment, a.Type)
	}
}

var hundred = decimal.NewFromInt(100)

// Apply returns the adjusted amount without rounding.
// This is a PURE function.
func (a PriceAdjustment) Apply(subtotal decimal.Decimal) decimal.Decimal {
	switch a.Type {
	case AdjustmentPercentage:
		factor := decimal.NewFromInt(1).Add(a.Amount.Div(hundred))
		return subtotal.Mul(factor)
	case AdjustmentFixed:
		return subtotal.Add(a.Amount)
	case AdjustmentOverride:
		return a.Amount
	default:
		return subtotal
	}
}

// Policy holds organization-wide rules applied after the adjustment.
type Policy struct {
	ClampNegative bool // floor the amount due at zero
}

// CostDue applies the adjustment, the policy and the final rounding.
// Rounding happens exactly once, here, to two places with ties away from zero.
// This is a PURE function.
func CostDue(subtotal decimal.Decimal, adj PriceAdjustment, p Policy) decimal.Decimal {
	due := adj.Apply(subtotal)
	if p.ClampNegative && due.IsNegative() {
		due = decimal.Zero
	}
	return RoundMoney(due)
}

// RoundMoney rounds to cents, ties away from zero.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// FormatAmount renders an amount with exactly two decimal places.
// This is a PURE function.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}
