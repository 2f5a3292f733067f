package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseAmount validates a base-unit amount and returns its canonical form.
// Amounts must be non-negative decimals; Cosmos shares may carry a
// fractional part, so fractions are accepted.
func ParseAmount(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("%w: empty amount", ErrChain)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return "", fmt.Errorf("%w: malformed amount %q", ErrChain, raw)
	}
	if d.IsNegative() {
		return "", fmt.Errorf("%w: negative amount %q", ErrChain, raw)
	}
	return d.String(), nil
}

// FormatUnits renders a base-unit amount with the given number of decimals,
// e.g. ("1500000", 6) -> "1.5". Invalid input is returned unchanged.
func FormatUnits(amount string, decimals int) string {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return amount
	}
	if decimals <= 0 {
		return d.String()
	}
	return d.Shift(int32(-decimals)).String()
}
