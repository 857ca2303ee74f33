package config

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// ParseUnits converts a decimal string such as "1250.5" into base units with
// the given number of decimals. More fractional digits than decimals is an
// error rather than a silent truncation.
func ParseUnits(value string, decimals uint8) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return new(uint256.Int), nil
	}
	whole, frac, hasFrac := strings.Cut(trimmed, ".")
	if hasFrac && frac == "" {
		return nil, fmt.Errorf("amount %q: empty fractional part", value)
	}
	if len(frac) > int(decimals) {
		return nil, fmt.Errorf("amount %q: more than %d fractional digits", value, decimals)
	}
	if whole == "" {
		whole = "0"
	}
	digits := whole + frac + strings.Repeat("0", int(decimals)-len(frac))
	digits = strings.TrimLeft(digits, "0")
	if digits == "" {
		return new(uint256.Int), nil
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return nil, fmt.Errorf("amount %q: invalid digit %q", value, r)
		}
	}
	out, err := uint256.FromDecimal(digits)
	if err != nil {
		return nil, fmt.Errorf("amount %q: %w", value, err)
	}
	return out, nil
}
