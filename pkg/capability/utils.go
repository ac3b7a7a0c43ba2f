package capability

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/entrhq/sitebridge/pkg/types"
)

// MaxSleep caps Utils.Sleep so a script cannot park a call indefinitely.
const MaxSleep = 60 * time.Second

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
}

// Utils holds the small helper functions adapters get. It has no state.
type Utils struct{}

// Sleep pauses for d or until ctx is done.
func (Utils) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	if d > MaxSleep {
		d = MaxSleep
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return types.Wrap(types.CodeUnknown, ctx.Err(), "sleep interrupted")
	}
}

// ParseDate accepts ISO 8601 dates and MM/DD/YYYY. It returns nil when s
// matches neither.
func (Utils) ParseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

// FormatCurrency renders amount in US dollars, e.g. $1,234.50.
func (Utils) FormatCurrency(amount float64) string {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return "$0.00"
	}
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	whole, frac, _ := strings.Cut(strconv.FormatFloat(amount, 'f', 2, 64), ".")

	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return sign + "$" + b.String() + "." + frac
}

// ParseAmount strips currency symbols, thousands separators and whitespace
// and parses the rest. ok is false when nothing numeric remains.
func (Utils) ParseAmount(s string) (float64, bool) {
	cleaned := strings.Map(func(r rune) rune {
		if r == '$' || r == ',' || unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	if cleaned == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
