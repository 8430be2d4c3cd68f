// Package security provides input validation and secret redaction.
package security

import (
	"regexp"
	"strings"

	apperrors "ensemble-trader/internal/errors"
)

// NSE trading symbols: letters, digits, '&' and '-' (M&M, BAJAJ-AUTO).
var symbolPattern = regexp.MustCompile(`^[A-Z0-9&-]{1,20}$`)

// NormalizeSymbol trims and upper-cases a trading symbol and rejects anything
// that cannot be an exchange symbol.
func NormalizeSymbol(raw string) (string, error) {
	symbol := strings.ToUpper(strings.TrimSpace(raw))
	if symbol == "" {
		return "", apperrors.NewValidationError("symbol", raw, "symbol is required")
	}
	if !symbolPattern.MatchString(symbol) {
		return "", apperrors.NewValidationError("symbol", raw, "symbol must be 1-20 characters of A-Z, 0-9, & or -")
	}
	return symbol, nil
}
