package registry

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// MicroPerTari is the number of micro units in one tXTR
const MicroPerTari = 1_000_000

const amountDecimals = 6

// ParseAmount converts a decimal tXTR string such as "10.5" to micro units.
// At most six fractional digits are accepted and the result must be
// positive.
func ParseAmount(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("amount is empty")
	}

	whole, frac, hasFrac := strings.Cut(s, ".")
	if whole == "" || (hasFrac && frac == "") {
		return 0, fmt.Errorf("invalid amount format %q", s)
	}
	if len(frac) > amountDecimals {
		return 0, fmt.Errorf("amount has more than %d decimal places", amountDecimals)
	}
	for _, part := range []string{whole, frac} {
		for _, r := range part {
			if r < '0' || r > '9' {
				return 0, fmt.Errorf("invalid amount format %q", s)
			}
		}
	}

	w, err := strconv.ParseUint(whole, 10, 64)
	if err != nil || w > math.MaxUint64/MicroPerTari {
		return 0, fmt.Errorf("amount %q out of range", s)
	}
	var f uint64
	if frac != "" {
		f, _ = strconv.ParseUint(frac+strings.Repeat("0", amountDecimals-len(frac)), 10, 64)
	}

	micro := w*MicroPerTari + f
	if micro < w*MicroPerTari {
		return 0, fmt.Errorf("amount %q out of range", s)
	}
	if micro == 0 {
		return 0, errors.New("amount must be greater than 0")
	}
	return micro, nil
}

// FormatAmount renders micro units as "12.345678 tXTR"
func FormatAmount(micro uint64) string {
	return fmt.Sprintf("%d.%06d tXTR", micro/MicroPerTari, micro%MicroPerTari)
}
