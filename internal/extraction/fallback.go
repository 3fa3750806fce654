package extraction

import (
	"regexp"
	"strings"

	"github.com/zombor/expense-extractor/internal/expense"
	"github.com/zombor/expense-extractor/internal/normalize"
)

// FallbackConfidence is the fixed confidence of a heuristic extraction.
const FallbackConfidence = 0.3

var (
	totalPattern     = regexp.MustCompile(`(?i)\b(grand\s+total|total|amount|sum|balance|due)\b[^\d\n]{0,25}(\d[\d,]*(?:\.\d{1,2})?)`)
	labelledDate     = regexp.MustCompile(`(?i)date\s*[:\-]?\s*(\d{1,4}[/\-.]\d{1,2}[/\-.]\d{2,4})`)
	bareDate         = regexp.MustCompile(`\b(\d{4}-\d{1,2}-\d{1,2}|\d{1,2}[/\-]\d{1,2}[/\-]\d{2,4})\b`)
	numericLine      = regexp.MustCompile(`^[\d\s\W]+$`)
	merchantExcluded = []string{
		"feedback", "survey", "www.", "http", "tell us", "how did we do",
		"receipt", "welcome", "thank you", "customer copy", "tax invoice",
	}
)

// Basic extracts what it can from text with regular expressions. It always
// succeeds and always reports FallbackConfidence.
func Basic(n *normalize.Normalizer, text, currencyHint string) expense.Record {
	rec := expense.Record{
		Merchant:     basicMerchant(text),
		Total:        basicTotal(text),
		Currency:     n.Currency(text, nil, currencyHint),
		Items:        []expense.Item{},
		Confidence:   FallbackConfidence,
		OriginalText: text,
	}
	if d := basicDate(text); d != "" {
		rec.Date = n.Date(d)
	}
	return rec
}

// totalRank orders total labels; a stronger label wins regardless of position.
var totalRank = map[string]int{
	"grand total": 4,
	"total":       3,
	"amount":      2,
	"sum":         2,
	"balance":     1,
	"due":         1,
}

// paymentWords mark lines describing how the bill was settled, not what it came to.
var paymentWords = []string{"change", "tendered", "cash", "paid"}

// basicTotal returns the amount with the strongest total label, the last
// one on ties. Subtotals and payment lines are skipped.
func basicTotal(text string) *float64 {
	var (
		best *float64
		rank int
	)
	for _, m := range totalPattern.FindAllStringSubmatchIndex(text, -1) {
		label := strings.ToLower(text[max(0, m[0]-4):m[1]])
		if strings.Contains(label, "sub") || isPaymentLine(text, m[0]) {
			continue
		}
		r := totalRank[strings.Join(strings.Fields(strings.ToLower(text[m[2]:m[3]])), " ")]
		if r < rank {
			continue
		}
		if v := normalize.AmountString(text[m[4]:m[5]]); v != nil {
			best, rank = v, r
		}
	}
	return best
}

func isPaymentLine(text string, at int) bool {
	start := strings.LastIndexByte(text[:at], '\n') + 1
	end := len(text)
	if i := strings.IndexByte(text[at:], '\n'); i >= 0 {
		end = at + i
	}
	line := strings.ToLower(text[start:end])
	for _, w := range paymentWords {
		if strings.Contains(line, w) {
			return true
		}
	}
	return false
}

func basicDate(text string) string {
	if m := labelledDate.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	if m := bareDate.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return ""
}

// basicMerchant picks the first line that plausibly names a business.
func basicMerchant(text string) *string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if len(line) < 3 || len(line) > 49 {
			continue
		}
		if numericLine.MatchString(line) || strings.Contains(line, "$") {
			continue
		}
		lower := strings.ToLower(line)
		excluded := false
		for _, word := range merchantExcluded {
			if strings.Contains(lower, word) {
				excluded = true
				break
			}
		}
		if excluded {
			continue
		}
		return &line
	}
	return nil
}
