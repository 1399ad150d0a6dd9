package narrative

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rawblock/fundflow-engine/internal/catalog"
)

// FormatAddress shortens long addresses to first6...last4.
func FormatAddress(addr string) string {
	if len(addr) > 12 {
		return addr[:6] + "..." + addr[len(addr)-4:]
	}
	return addr
}

// FormatAddresses formats up to limit addresses and marks the rest with "...".
func FormatAddresses(addrs []string, limit int) string {
	shown := addrs
	if len(shown) > limit {
		shown = shown[:limit]
	}
	parts := make([]string, len(shown))
	for i, a := range shown {
		parts[i] = FormatAddress(a)
	}
	out := strings.Join(parts, ", ")
	if len(addrs) > limit {
		out += "..."
	}
	return out
}

// FormatTimestamp renders t in the reader's date convention (UTC).
func FormatTimestamp(lang string, t time.Time) string {
	if lang == catalog.LangJA {
		return t.UTC().Format("2006年01月02日 15:04")
	}
	return t.UTC().Format("2006-01-02 15:04")
}

// FormatTimeframe picks the largest unit that fits: minutes below an hour,
// hours below a day, days below a week, weeks otherwise. Values truncate.
func FormatTimeframe(t *catalog.Templates, lang string, seconds float64) string {
	hours := seconds / 3600
	var unit string
	var value int
	switch {
	case hours < 1:
		unit, value = "minutes", int(hours*60)
	case hours < 24:
		unit, value = "hours", int(hours)
	case hours < 168:
		unit, value = "days", int(hours/24)
	default:
		unit, value = "weeks", int(hours/168)
	}
	return fill(t.Timeframe(lang, unit), map[string]string{"value": strconv.Itoa(value)})
}

// FormatAmount renders a decimal with four places.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(4)
}

func formatFloat(f float64, places int) string {
	return strconv.FormatFloat(f, 'f', places, 64)
}

func percent(f float64) string {
	return fmt.Sprintf("%.0f", f*100)
}

// fill substitutes {name} placeholders. Unknown placeholders stay as written.
func fill(tpl string, values map[string]string) string {
	if len(values) == 0 {
		return tpl
	}
	pairs := make([]string, 0, len(values)*2)
	for k, v := range values {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tpl)
}
