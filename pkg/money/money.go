package money

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Amounts are stored as int64 minor units with two decimal places.
// "99.99" parses to 9999; Format(9999) renders "99.99".

var (
	ErrInvalidAmount = errors.New("invalid_amount")
)

const maxMinor = int64(999999999999999) // 10^13 major units, far above any real charge

// Parse converts a decimal string into minor units. At most two fraction
// digits are accepted and the amount must be strictly positive.
func Parse(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" || strings.HasPrefix(value, "-") || strings.HasPrefix(value, "+") {
		return 0, ErrInvalidAmount
	}

	whole := value
	frac := ""
	if idx := strings.IndexByte(value, '.'); idx >= 0 {
		whole = value[:idx]
		frac = value[idx+1:]
	}

	if whole == "" || len(frac) > 2 {
		return 0, ErrInvalidAmount
	}

	major, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	// Bound before converting to minor units so the multiplication below
	// cannot wrap around.
	if major > maxMinor/100 {
		return 0, ErrInvalidAmount
	}

	minor := int64(0)
	if frac != "" {
		parsed, err := strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, ErrInvalidAmount
		}
		if len(frac) == 1 {
			parsed *= 10
		}
		minor = parsed
	}

	total := major*100 + minor
	if total <= 0 || total > maxMinor {
		return 0, ErrInvalidAmount
	}

	return total, nil
}

// Format renders minor units as a two-decimal string.
func Format(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}
