package payment

import (
	"errors"
	"strconv"
	"strings"
)

var ErrInvalidAmount = errors.New("invalid amount")

// MinorUnits converts a decimal amount such as "1,500.5" into paisa/cents.
func MinorUnits(amount string) (int64, error) {
	amount = strings.ReplaceAll(strings.TrimSpace(amount), ",", "")
	if amount == "" {
		return 0, ErrInvalidAmount
	}
	whole, frac, _ := strings.Cut(amount, ".")
	if len(frac) > 2 {
		if strings.Trim(frac[2:], "0") != "" {
			return 0, ErrInvalidAmount
		}
		frac = frac[:2]
	}
	for len(frac) < 2 {
		frac += "0"
	}
	if whole == "" {
		whole = "0"
	}
	w, err := strconv.ParseUint(whole, 10, 63)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	f, err := strconv.ParseUint(frac, 10, 8)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	return int64(w)*100 + int64(f), nil
}

// SameAmount compares two decimal amounts numerically.
func SameAmount(a, b string) bool {
	x, err := MinorUnits(a)
	if err != nil {
		return false
	}
	y, err := MinorUnits(b)
	if err != nil {
		return false
	}
	return x == y
}
