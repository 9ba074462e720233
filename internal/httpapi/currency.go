package httpapi

import (
	"math"
	"strconv"
	"strings"
)

// parseCurrency accepts an amount as a JSON number or as a Brazilian-format
// currency string ("R$ 1.234,56", "1234.56", "1.234"). Separator roles are
// disambiguated by position: the rightmost of comma/dot is the decimal mark,
// and a lone dot with other than two trailing digits is a thousands separator.
func parseCurrency(v any) (float64, bool) {
	switch x := v.(type) {
	case nil:
		return 0, false
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return 0, false
		}
		return x, true
	case string:
		return parseCurrencyString(x)
	default:
		return 0, false
	}
}

func parseCurrencyString(in string) (float64, bool) {
	raw := strings.Join(strings.Fields(in), "")
	if up := strings.ToUpper(raw); strings.HasPrefix(up, "R$") {
		raw = raw[2:]
	}
	if raw == "" {
		return 0, false
	}

	hasComma := strings.Contains(raw, ",")
	hasDot := strings.Contains(raw, ".")
	normalized := raw
	switch {
	case hasComma && hasDot:
		if strings.LastIndex(raw, ",") > strings.LastIndex(raw, ".") {
			normalized = strings.ReplaceAll(raw, ".", "")
			normalized = strings.Replace(normalized, ",", ".", 1)
		} else {
			normalized = strings.ReplaceAll(raw, ",", "")
		}
	case hasComma:
		normalized = strings.Replace(raw, ",", ".", 1)
	case hasDot:
		decimals := len(raw) - strings.LastIndex(raw, ".") - 1
		if decimals == 2 {
			normalized = raw
		} else {
			normalized = strings.ReplaceAll(raw, ".", "")
		}
	}

	n, err := strconv.ParseFloat(normalized, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}
