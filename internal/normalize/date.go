package normalize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	dateSeparators = regexp.MustCompile(`[\s/\-.,]+`)
	ordinalSuffix  = regexp.MustCompile(`(?i)^(\d{1,2})(st|nd|rd|th)$`)
	isoTimestamp   = regexp.MustCompile(`^(\d{4}-\d{1,2}-\d{1,2})T`)
)

var monthNames = map[string]time.Month{
	"jan": time.January, "january": time.January,
	"feb": time.February, "february": time.February,
	"mar": time.March, "march": time.March,
	"apr": time.April, "april": time.April,
	"may": time.May,
	"jun": time.June, "june": time.June,
	"jul": time.July, "july": time.July,
	"aug": time.August, "august": time.August,
	"sep": time.September, "sept": time.September, "september": time.September,
	"oct": time.October, "october": time.October,
	"nov": time.November, "november": time.November,
	"dec": time.December, "december": time.December,
}

// number is a numeric date component along with how many digits it was written with.
type number struct {
	value  int
	digits int
}

// DatePtr is Date for an optional input.
func (n *Normalizer) DatePtr(s *string) *string {
	if s == nil {
		return nil
	}
	return n.Date(*s)
}

// Date canonicalizes a date string. Complete dates become YYYY-MM-DD. Dates
// missing a component become a partial token ("Oct 19", "Oct 2023" or
// "19, 2023") and are never completed with a guessed value. Anything failing
// calendar validation yields nil.
func (n *Normalizer) Date(s string) *string {
	var (
		month   time.Month
		numbers []number
	)
	s = strings.TrimSpace(s)
	if m := isoTimestamp.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	for _, tok := range dateSeparators.Split(s, -1) {
		if tok == "" || strings.Contains(tok, ":") {
			continue
		}
		if m := ordinalSuffix.FindStringSubmatch(tok); m != nil {
			tok = m[1]
		}
		if v, err := strconv.Atoi(tok); err == nil {
			numbers = append(numbers, number{value: v, digits: len(tok)})
			continue
		}
		if m, ok := monthNames[strings.ToLower(tok)]; ok && month == 0 {
			month = m
		}
		// other words (weekdays, AM/PM, labels) are ignored
	}

	if month != 0 {
		return n.textMonth(month, numbers)
	}
	return n.numeric(numbers)
}

func (n *Normalizer) textMonth(month time.Month, nums []number) *string {
	switch len(nums) {
	case 1:
		v := nums[0]
		if v.digits == 4 {
			if !n.validYear(v.value) {
				return nil
			}
			return strPtr(fmt.Sprintf("%s %d", monthAbbrev(month), v.value))
		}
		if v.digits > 2 || v.value < 1 || v.value > daysIn(month, 2024) {
			return nil
		}
		return strPtr(fmt.Sprintf("%s %d", monthAbbrev(month), v.value))
	case 2:
		day, year := nums[0], nums[1]
		if day.digits == 4 {
			day, year = year, day
		}
		return n.full(n.expandYear(year), int(month), day.value)
	}
	return nil
}

func (n *Normalizer) numeric(nums []number) *string {
	switch len(nums) {
	case 2:
		a, b := nums[0], nums[1]
		switch {
		case a.digits <= 2 && b.digits == 4:
			if a.value < 1 || a.value > 31 || !n.validYear(b.value) {
				return nil
			}
			return strPtr(fmt.Sprintf("%d, %d", a.value, b.value))
		case a.digits == 4 && b.digits <= 2:
			if b.value < 1 || b.value > 12 || !n.validYear(a.value) {
				return nil
			}
			return strPtr(fmt.Sprintf("%s %d", monthAbbrev(time.Month(b.value)), a.value))
		}
	case 3:
		a, b, c := nums[0], nums[1], nums[2]
		if a.digits == 4 {
			return n.full(a.value, b.value, c.value)
		}
		if c.digits != 2 && c.digits != 4 {
			return nil
		}
		year := n.expandYear(c)
		day, month := a.value, b.value
		if a.value <= 12 && b.value > 12 {
			day, month = b.value, a.value
		}
		return n.full(year, month, day)
	}
	return nil
}

func (n *Normalizer) full(year, month, day int) *string {
	if month < 1 || month > 12 || !n.validYear(year) {
		return nil
	}
	if day < 1 || day > daysIn(time.Month(month), year) {
		return nil
	}
	return strPtr(fmt.Sprintf("%04d-%02d-%02d", year, month, day))
}

// expandYear applies the 50-year pivot to two-digit years.
func (n *Normalizer) expandYear(y number) int {
	if y.digits != 2 {
		return y.value
	}
	if y.value > 50 {
		return 1900 + y.value
	}
	return 2000 + y.value
}

func (n *Normalizer) validYear(y int) bool {
	return y >= 1900 && y <= n.now().Year()+1
}

func daysIn(m time.Month, year int) int {
	return time.Date(year, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func monthAbbrev(m time.Month) string {
	return m.String()[:3]
}

func strPtr(s string) *string { return &s }
