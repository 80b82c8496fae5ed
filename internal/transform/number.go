package transform

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

func applyStringToNumber(c StringToNumber, src any) Result {
	if src == nil {
		return value(nil)
	}

	var s string
	switch v := src.(type) {
	case string:
		s = v
	case float64:
		s = strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		s = strconv.Itoa(v)
	case int64:
		s = strconv.FormatInt(v, 10)
	case bool:
		return fail("cannot parse boolean %v as a number", v)
	default:
		return fail("cannot parse %T as a number", src)
	}

	raw := strings.TrimSpace(s)
	if c.StripCurrency {
		raw = stripCurrency(raw)
	}
	if raw == "" {
		return fail("cannot parse %q as a number", s)
	}

	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return fail("cannot parse %q as a number", s)
	}
	if c.ParseInteger {
		t := math.Trunc(f)
		// float64(math.MaxInt64) rounds up to 2^63, which is out of range.
		if t < math.MinInt64 || t >= math.MaxInt64 {
			return fail("%q is out of range for an integer", s)
		}
		return value(int64(t))
	}
	return value(f)
}

// stripCurrency keeps only [0-9.,-] and then drops the comma grouping
// separators so "$1,234.50" becomes "1234.50".
func stripCurrency(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' || r == '-' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// FormatNumber renders a number back into its string form, used when
// inverting string_to_number during a pull.
func FormatNumber(v any) (string, error) {
	switch n := v.(type) {
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64), nil
	case int64:
		return strconv.FormatInt(n, 10), nil
	case int:
		return strconv.Itoa(n), nil
	default:
		return "", fmt.Errorf("not a number: %T", v)
	}
}
