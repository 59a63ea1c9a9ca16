package utils

import (
	"fmt"
	"math/big"
	"strings"
)

// FormatAmount renders base units as a human-readable decimal string.
func FormatAmount(amount *big.Int, decimals int) string {
	if amount == nil || amount.Sign() == 0 {
		return "0"
	}

	divisor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	whole := new(big.Int).Div(amount, divisor)
	remainder := new(big.Int).Mod(amount, divisor)

	if remainder.Sign() == 0 {
		return whole.String()
	}

	frac := fmt.Sprintf("%0*s", decimals, remainder.String())
	frac = strings.TrimRight(frac, "0")
	return whole.String() + "." + frac
}

// ParseAmount converts a decimal string to base units exactly. Floats
// are never involved; a fraction longer than decimals is rejected.
func ParseAmount(s string, decimals int) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty amount")
	}
	if strings.HasPrefix(s, "-") {
		return nil, fmt.Errorf("negative amount %q", s)
	}

	whole := s
	frac := ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if len(frac) > decimals {
		return nil, fmt.Errorf("amount %q exceeds %d decimal places", s, decimals)
	}
	if whole == "" {
		whole = "0"
	}

	// Pad the fraction out to full precision and glue.
	digits := whole + frac + strings.Repeat("0", decimals-len(frac))
	amount, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return amount, nil
}
