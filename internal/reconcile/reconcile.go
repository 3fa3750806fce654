// Package reconcile enforces the receipt arithmetic
// subtotal + tax + tip + miscellaneous ≈ total on a normalized record.
package reconcile

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/zombor/expense-extractor/internal/expense"
)

var (
	// Tolerance is the absolute difference, in currency units, still considered a match.
	Tolerance = decimal.NewFromInt(1)
	// MismatchPenalty scales confidence when the arithmetic cannot be reconciled.
	MismatchPenalty = 0.7
)

// Outcome describes what Record changed.
type Outcome struct {
	// Derived is set when a missing subtotal was computed from the total and
	// all three charges.
	Derived bool
	// TipExcluded is set when the sum only matches with the tip left out,
	// i.e. the tip was paid on top of the printed total.
	TipExcluded bool
	// Mismatch is set when fields were nulled and confidence reduced.
	Mismatch bool
	// Nulled lists the fields cleared because of a mismatch.
	Nulled   []string
	Warnings []string
}

// Record reconciles rec in place. It never queries anything and never raises confidence.
func Record(rec *expense.Record) Outcome {
	var out Outcome
	if rec == nil || rec.Total == nil {
		return out
	}
	total := dec(rec.Total)
	charges := sum(rec.Tax, rec.Tip, rec.Miscellaneous)

	if rec.Subtotal == nil {
		derived := total.Sub(charges)
		if derived.IsNegative() {
			mismatch(rec, &out, "charges exceed the total")
			return out
		}
		// an unknown charge would be folded into the subtotal
		if rec.Tax == nil || rec.Tip == nil || rec.Miscellaneous == nil {
			return out
		}
		f, _ := derived.Round(2).Float64()
		rec.Subtotal = &f
		out.Derived = true
		return out
	}

	full := dec(rec.Subtotal).Add(charges)
	if within(full, total) {
		return out
	}
	if rec.Tip != nil && within(full.Sub(dec(rec.Tip)), total) {
		out.TipExcluded = true
		return out
	}
	if full.LessThan(total) && (rec.Tax == nil || rec.Tip == nil || rec.Miscellaneous == nil) {
		// an unreported charge can explain the gap
		out.Warnings = append(out.Warnings, fmt.Sprintf("line amounts sum to %s, short of total %s", full.StringFixed(2), total.StringFixed(2)))
		return out
	}
	mismatch(rec, &out, fmt.Sprintf("line amounts sum to %s but total is %s", full.StringFixed(2), total.StringFixed(2)))
	return out
}

func mismatch(rec *expense.Record, out *Outcome, reason string) {
	total := dec(rec.Total)
	if rec.Subtotal != nil {
		rec.Subtotal = nil
		out.Nulled = append(out.Nulled, "subtotal")
	}
	for _, f := range []struct {
		name string
		ptr  **float64
	}{
		{"tax", &rec.Tax},
		{"tip", &rec.Tip},
		{"miscellaneous", &rec.Miscellaneous},
	} {
		if *f.ptr != nil && dec(*f.ptr).GreaterThan(total) {
			*f.ptr = nil
			out.Nulled = append(out.Nulled, f.name)
		}
	}
	rec.Confidence *= MismatchPenalty
	out.Mismatch = true
	out.Warnings = append(out.Warnings, "amounts do not reconcile: "+reason)
}

func within(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(Tolerance)
}

func sum(vs ...*float64) decimal.Decimal {
	total := decimal.Zero
	for _, v := range vs {
		total = total.Add(dec(v))
	}
	return total
}

func dec(v *float64) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromFloat(*v)
}
