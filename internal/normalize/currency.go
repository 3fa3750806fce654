package normalize

import (
	"regexp"
	"slices"
	"strings"
)

// AllowedCurrencies is the set of codes accepted from a model response.
var AllowedCurrencies = []string{
	"INR", "USD", "EUR", "GBP", "HKD", "SGD", "AUD", "AED", "JPY",
	"CAD", "CNY", "CHF", "NZD", "MYR", "THB",
}

type currencyRule struct {
	code    string
	pattern *regexp.Regexp
}

// textRules are evaluated in order; the first match wins. Prefixed dollar
// variants come before USD, whose bare "$" must not follow a letter.
var textRules = []currencyRule{
	{"INR", regexp.MustCompile(`(?i)₹|\brs\.?\s*\d|\brs\.(\s|$)|\binr\b|\brupees?\b`)},
	{"HKD", regexp.MustCompile(`(?i)\bhk\s?\$|\bhkd\b|hong\s+kong`)},
	{"SGD", regexp.MustCompile(`(?i)\bs\$|\bsgd\b|singapore`)},
	{"AUD", regexp.MustCompile(`(?i)\ba\$|\bau\$|\baud\b|australia`)},
	{"USD", regexp.MustCompile(`(?i)\busd\b|\bus\$|(^|[^a-z$])\$`)},
	{"GBP", regexp.MustCompile(`(?i)£|\bgbp\b|\bpounds?\b`)},
	{"EUR", regexp.MustCompile(`(?i)€|\beur\b|\beuros?\b`)},
	{"AED", regexp.MustCompile(`(?i)\baed\b|\bdhs?\b|dirhams?`)},
	{"JPY", regexp.MustCompile(`(?i)¥|円|\bjpy\b|\byen\b`)},
	{"CAD", regexp.MustCompile(`(?i)\bc\$|\bcad\b`)},
	{"NZD", regexp.MustCompile(`(?i)\bnz\$|\bnzd\b`)},
}

var (
	indianTaxPattern = regexp.MustCompile(`(?i)\b(cgst|sgst|igst|utgst|gstin)\b`)
	currencyCode     = regexp.MustCompile(`^[A-Z]{3}$`)
)

// Currency resolves the currency for a receipt. The first source with a
// signal wins: symbols or keywords in text, Indian GST identifiers, the
// model's answer if allow-listed, the caller hint, then the configured default.
func (n *Normalizer) Currency(text string, model *string, hint string) string {
	if c := CurrencyFromText(text); c != "" {
		return c
	}
	if model != nil {
		if c := strings.ToUpper(strings.TrimSpace(*model)); IsAllowedCurrency(c) {
			return c
		}
	}
	if c := strings.ToUpper(strings.TrimSpace(hint)); isCurrencyCode(c) {
		return c
	}
	return n.defaultCurrency()
}

// CurrencyFromText returns the currency evidenced by text, or "" if none is.
func CurrencyFromText(text string) string {
	for _, rule := range textRules {
		if rule.pattern.MatchString(text) {
			return rule.code
		}
	}
	if indianTaxPattern.MatchString(text) {
		return "INR"
	}
	return ""
}

// IsAllowedCurrency reports whether code is in AllowedCurrencies.
func IsAllowedCurrency(code string) bool {
	return slices.Contains(AllowedCurrencies, code)
}

func isCurrencyCode(c string) bool {
	return currencyCode.MatchString(c)
}
