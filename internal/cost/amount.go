package cost

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var amountRe = regexp.MustCompile(`(\d[\d,]*(?:\.\d+)?)\s*([kK]\b)?`)

var thousand = decimal.NewFromInt(1000)

// ParseAmount reads the first dollar figure in s ("$7,500", "7500.00",
// "$7.5k"). Commas are digit grouping.
func ParseAmount(s string) (decimal.Decimal, bool) {
	m := amountRe.FindStringSubmatch(s)
	if m == nil {
		return decimal.Zero, false
	}
	return toDecimal(m)
}

// ParseRange reads a "low-high" figure ("$800–$1,200", "800 to 1200").
// A single figure is returned as both bounds; bounds come back ordered.
func ParseRange(s string) (low, high decimal.Decimal, ok bool) {
	matches := amountRe.FindAllStringSubmatch(s, 2)
	if len(matches) == 0 {
		return decimal.Zero, decimal.Zero, false
	}
	low, ok = toDecimal(matches[0])
	if !ok {
		return decimal.Zero, decimal.Zero, false
	}
	high = low
	if len(matches) == 2 {
		if h, ok2 := toDecimal(matches[1]); ok2 {
			high = h
		}
	}
	if high.LessThan(low) {
		low, high = high, low
	}
	return low, high, true
}

func toDecimal(m []string) (decimal.Decimal, bool) {
	d, err := decimal.NewFromString(strings.ReplaceAll(m[1], ",", ""))
	if err != nil {
		return decimal.Zero, false
	}
	if m[2] != "" {
		d = d.Mul(thousand)
	}
	return d, true
}

// FormatUSD renders d as "$7,200" (cents shown only when non-zero).
func FormatUSD(d decimal.Decimal) string {
	neg := d.IsNegative()
	d = d.Abs().Round(2)

	whole := d.Truncate(0)
	digits := whole.String()
	var b strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}

	out := "$" + b.String()
	if frac := d.Sub(whole); !frac.IsZero() {
		out += strings.TrimPrefix(frac.StringFixed(2), "0")
	}
	if neg {
		out = "-" + out
	}
	return out
}
