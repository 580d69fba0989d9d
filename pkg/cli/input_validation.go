// Package cli validates command-line values before they reach the config
package cli

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	symbolPattern    = regexp.MustCompile(`^[A-Z0-9]{5,20}$`)
	timeframePattern = regexp.MustCompile(`^[1-9][0-9]*[mhd]$`)
	errMalicious     = errors.New("potentially malicious input detected")
)

// ValidateInput checks for potentially malicious input patterns in free-form
// values such as file paths
func ValidateInput(input string) error {
	// Check for command injection patterns
	if strings.Contains(input, ";") || strings.Contains(input, "&&") || strings.Contains(input, "||") {
		return errMalicious
	}

	// Check for path traversal
	if strings.Contains(input, "../") || strings.Contains(input, "..\\") {
		return errMalicious
	}

	return nil
}

// ValidateSymbol accepts venue symbols such as BTCUSDT (case-insensitive)
func ValidateSymbol(symbol string) error {
	if symbol == "" {
		return nil
	}
	if !symbolPattern.MatchString(strings.ToUpper(symbol)) {
		return fmt.Errorf("invalid symbol %q: expected 5-20 letters or digits", symbol)
	}
	return nil
}

// ValidateTimeframe accepts kline intervals such as 15m, 1h or 1d
func ValidateTimeframe(tf string) error {
	if tf == "" {
		return nil
	}
	if !timeframePattern.MatchString(tf) {
		return fmt.Errorf("invalid timeframe %q: expected a number followed by m, h or d", tf)
	}
	return nil
}
