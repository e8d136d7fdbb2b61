// Package utils provides shared utility functions.
package utils

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseLocaleDecimal parses a locale-formatted number such as "71,300" or
// "-1.25" or "+0.40". Thousands separators and surrounding spaces are ignored;
// an empty or non-numeric string is an error, never a silent zero.
func ParseLocaleDecimal(s string) (decimal.Decimal, error) {
	cleaned := strings.TrimSpace(s)
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	cleaned = strings.TrimPrefix(cleaned, "+")
	cleaned = strings.TrimSuffix(cleaned, "%")
	if cleaned == "" {
		return decimal.Zero, fmt.Errorf("empty number %q", s)
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid number %q: %w", s, err)
	}
	return d, nil
}

// FormatPercent formats a percentage with an explicit sign for non-negative
// values: "+1.50%", "-0.25%", "+0.00%".
func FormatPercent(value decimal.Decimal) string {
	sign := ""
	if !value.IsNegative() {
		sign = "+"
	}
	return sign + value.StringFixed(2) + "%"
}

// FormatPrice formats a price with comma thousands separators, dropping the
// fraction when it is zero: "71,300", "189.45".
func FormatPrice(value decimal.Decimal) string {
	negative := value.IsNegative()
	str := value.Abs().StringFixed(2)
	parts := strings.SplitN(str, ".", 2)
	intPart, decPart := parts[0], parts[1]

	result := groupThousands(intPart)
	if decPart != "00" {
		result += "." + decPart
	}
	if negative {
		result = "-" + result
	}
	return result
}

func groupThousands(s string) string {
	n := len(s)
	if n <= 3 {
		return s
	}

	var b strings.Builder
	head := n % 3
	if head > 0 {
		b.WriteString(s[:head])
	}
	for i := head; i < n; i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}
