package tax

import (
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const defaultDecimals int32 = 18

// unix seconds below this bound, milliseconds above
const millisThreshold = 10000000000

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05 MST",
	"2006-01-02",
}

// parseTimestamp accepts unix seconds, unix milliseconds or an ISO date.
// The second return is false when the input was unusable and now was returned.
func parseTimestamp(s string, now time.Time) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return now.UTC(), false
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		if v < millisThreshold {
			return time.Unix(v, 0).UTC(), true
		}
		return time.UnixMilli(v).UTC(), true
	}
	for _, l := range timeLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return t.UTC(), true
		}
	}
	return now.UTC(), false
}

// parseBaseUnits parses an integer amount in base units, decimal or 0x hex.
// ok is false when the input was present but unusable.
func parseBaseUnits(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, true
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		b, ok := new(big.Int).SetString(s[2:], 16)
		if !ok {
			return decimal.Zero, false
		}
		return decimal.NewFromBigInt(b, 0), true
	}
	d, err := decimal.NewFromString(s)
	if err != nil || d.IsNegative() {
		return decimal.Zero, false
	}
	return d, true
}

// parseDecimals falls back to 18 on empty, zero or garbage input.
func parseDecimals(s string) (int32, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultDecimals, true
	}
	v, err := strconv.ParseInt(s, 10, 32)
	if err != nil || v < 0 {
		return defaultDecimals, false
	}
	if v == 0 {
		return defaultDecimals, true
	}
	return int32(v), true
}

func parseBlockNumber(s string) int64 {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 0, 64)
	if err != nil {
		return 0
	}
	return v
}

// parseFee is lenient: anything unparseable is zero.
func parseFee(s string) decimal.Decimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// normalizeAmount converts base units to token units.
func normalizeAmount(value string, decimals int32) (decimal.Decimal, bool) {
	d, ok := parseBaseUnits(value)
	return d.Shift(-decimals), ok
}
