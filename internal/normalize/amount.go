package normalize

import (
	"encoding/json"
	"math"
	"regexp"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

var numberPattern = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)

// Amount coerces v into a non-negative amount rounded to two decimals.
// Negative, non-finite and unparsable values yield nil.
func Amount(v any) *float64 {
	switch t := v.(type) {
	case nil:
		return nil
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil
		}
		return fromDecimal(decimal.NewFromFloat(t))
	case float32:
		return Amount(float64(t))
	case int:
		return fromDecimal(decimal.NewFromInt(int64(t)))
	case int64:
		return fromDecimal(decimal.NewFromInt(t))
	case json.Number:
		return AmountString(t.String())
	case string:
		return AmountString(t)
	}
	return nil
}

// AmountString parses a numeric-looking string such as "Rs. 1,234.50" or "$12".
func AmountString(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	loc := numberPattern.FindStringIndex(s)
	if loc == nil {
		return nil
	}
	// keep a leading decimal point (".95") unless it ends an abbreviation ("Rs.450")
	if start := loc[0]; start > 0 && s[start-1] == '.' && (start == 1 || !unicode.IsLetter(rune(s[start-2]))) {
		loc[0]--
	}
	prefix, suffix := s[:loc[0]], s[loc[1]:]
	if strings.ContainsAny(prefix, "-(") || strings.HasPrefix(strings.TrimSpace(suffix), "-") {
		return nil
	}

	d, err := decimal.NewFromString(stripSeparators(s[loc[0]:loc[1]]))
	if err != nil {
		return nil
	}
	return fromDecimal(d)
}

// stripSeparators removes thousands separators. A single comma followed by
// exactly two digits and no dot is treated as a decimal comma.
func stripSeparators(num string) string {
	if !strings.Contains(num, ",") {
		return num
	}
	if !strings.Contains(num, ".") && strings.Count(num, ",") == 1 {
		idx := strings.LastIndex(num, ",")
		if len(num)-idx-1 == 2 {
			return num[:idx] + "." + num[idx+1:]
		}
	}
	return strings.ReplaceAll(num, ",", "")
}

func fromDecimal(d decimal.Decimal) *float64 {
	if d.IsNegative() {
		return nil
	}
	f, _ := d.Round(2).Float64()
	return &f
}
