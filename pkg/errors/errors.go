package apperrors

import (
	"context"
	"errors"
	"net"
)

// Standardized Venue Errors
var (
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrOrderRejected         = errors.New("order rejected")
	ErrRateLimitExceeded     = errors.New("rate limit exceeded")
	ErrNetwork               = errors.New("network error")
	ErrInvalidSymbol         = errors.New("invalid symbol")
	ErrAuthenticationFailed  = errors.New("authentication failed")
	ErrExchangeMaintenance   = errors.New("exchange maintenance")
	ErrOrderNotFound         = errors.New("order not found")
	ErrDuplicateOrder        = errors.New("duplicate order")
	ErrInvalidOrderParameter = errors.New("invalid order parameter")
	ErrSystemOverload        = errors.New("system overload")
	ErrTimestampOutOfBounds  = errors.New("timestamp out of bounds")
	ErrPositionUnavailable   = errors.New("position unavailable")
)

// Execution outcomes
var (
	ErrNormalizationFailed = errors.New("normalization failed")
	ErrEntryFailed         = errors.New("entry order failed")
	ErrEntryTimeout        = errors.New("entry order not filled in time")
	ErrVerificationFailed  = errors.New("position verification failed")
	ErrProtectionFailed    = errors.New("protective order failed")
	ErrProtectionGap       = errors.New("position open without protection")
	ErrSagaInFlight        = errors.New("saga already in flight")
)

// IsTransient reports whether err is worth retrying with the same inputs
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrNetwork) || errors.Is(err, ErrRateLimitExceeded) ||
		errors.Is(err, ErrSystemOverload) || errors.Is(err, ErrExchangeMaintenance) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// IsValidation reports whether err is a venue-limit violation that must not be retried
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidOrderParameter) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrInvalidSymbol) ||
		errors.Is(err, ErrNormalizationFailed)
}
