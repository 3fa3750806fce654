// Package normalize canonicalizes dates, amounts and currency codes. It is used
// to post-process model output and as the basis of the basic extraction fallback.
package normalize

import (
	"math"
	"strings"
	"time"

	"github.com/zombor/expense-extractor/internal/expense"
)

// FallbackCurrency is used when no default currency is configured.
const FallbackCurrency = "INR"

// Normalizer holds the two pieces of process-wide policy the rules depend on:
// the clock used for year validation and the last-resort currency.
type Normalizer struct {
	Now             func() time.Time
	DefaultCurrency string
}

// New returns a Normalizer using the wall clock.
func New(defaultCurrency string) *Normalizer {
	return &Normalizer{Now: time.Now, DefaultCurrency: defaultCurrency}
}

func (n *Normalizer) now() time.Time {
	if n == nil || n.Now == nil {
		return time.Now()
	}
	return n.Now()
}

func (n *Normalizer) defaultCurrency() string {
	if n == nil {
		return FallbackCurrency
	}
	c := strings.ToUpper(strings.TrimSpace(n.DefaultCurrency))
	if !isCurrencyCode(c) {
		return FallbackCurrency
	}
	return c
}

// Record turns a model candidate into a normalized record. text is the OCR
// text the candidate was derived from and hint the caller's currency hint.
func (n *Normalizer) Record(c expense.Candidate, text, hint string) expense.Record {
	return expense.Record{
		Merchant:      Text(c.Merchant),
		Date:          n.DatePtr(c.Date),
		Subtotal:      Money(c.Subtotal),
		Tax:           Money(c.Tax),
		Tip:           Money(c.Tip),
		Miscellaneous: Money(c.Miscellaneous),
		Total:         Money(c.Total),
		Currency:      n.Currency(text, c.Currency, hint),
		Items:         Items(c.Items),
		PaymentMethod: Text(c.PaymentMethod),
		InvoiceNumber: Text(c.InvoiceNumber),
		BillNumber:    Text(c.BillNumber),
		SerialNumber:  Text(c.SerialNumber),
		Confidence:    Confidence(c.Confidence),
		OriginalText:  text,
	}
}

// Text trims s and maps empty or "null"-like strings to nil.
func Text(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	switch strings.ToLower(v) {
	case "", "null", "none", "n/a", "na", "unknown":
		return nil
	}
	return &v
}

// Money re-validates an already numeric amount.
func Money(v *float64) *float64 {
	if v == nil {
		return nil
	}
	return Amount(*v)
}

// Items drops unnamed lines, normalizes prices and keeps at most expense.MaxItems.
func Items(in []expense.Item) []expense.Item {
	out := make([]expense.Item, 0, len(in))
	for _, it := range in {
		name := strings.TrimSpace(it.Name)
		if name == "" {
			continue
		}
		out = append(out, expense.Item{Name: name, Price: Money(it.Price)})
		if len(out) == expense.MaxItems {
			break
		}
	}
	return out
}

// Confidence clamps c into [0, 1].
func Confidence(c float64) float64 {
	switch {
	case math.IsNaN(c), c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}
