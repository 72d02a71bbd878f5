package receiptscan

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// currency-marked amounts like "Rp 1.250.000" or "IDR 1,250,000.00"
	currencyRE = regexp.MustCompile(`(?i)(?:rp|idr)\s*\.?\s*([0-9]{1,3}(?:[.,][0-9]{3})+(?:[.,][0-9]{2})?|[0-9]{3,12}(?:[.,][0-9]{2})?)`)
	// bare grouped amounts like "1.250.000"
	groupedRE = regexp.MustCompile(`[0-9]{1,3}(?:[.,][0-9]{3})+(?:[.,][0-9]{2})?`)
	centsRE   = regexp.MustCompile(`[.,][0-9]{2}$`)
)

// FindCandidates scans OCR text for amount-looking substrings, currency
// marked matches first.
func FindCandidates(text string) []string {
	var out []string
	seen := map[string]bool{}
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, m := range currencyRE.FindAllStringSubmatch(text, -1) {
		add(m[1])
	}
	for _, m := range groupedRE.FindAllString(text, -1) {
		add(m)
	}
	return out
}

// ParseAmount normalizes a matched substring into a whole-unit amount.
// A trailing separator followed by exactly two digits is treated as a
// decimal part and dropped (10.000,00 -> 10000).
func ParseAmount(found string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(found)
	if trimmed == "" {
		return decimal.Zero, fmt.Errorf("empty match")
	}
	if centsRE.MatchString(trimmed) {
		lastDot := strings.LastIndex(trimmed, ".")
		lastComma := strings.LastIndex(trimmed, ",")
		cut := lastDot
		if lastComma > lastDot {
			cut = lastComma
		}
		trimmed = trimmed[:cut]
	}
	digits := onlyDigits(trimmed)
	if digits == "" {
		return decimal.Zero, fmt.Errorf("no digits extracted from %q", found)
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", digits, err)
	}
	if n < 0 {
		n = -n
	}
	return decimal.NewFromInt(n), nil
}

func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
