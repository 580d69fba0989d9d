package binance

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	apperrors "signalbot/pkg/errors"

	"github.com/adshao/go-binance/v2/common"
)

// Error is a venue rejection carrying the raw code and the mapped sentinel
type Error struct {
	Code    int64
	Message string
	Kind    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("binance error %d: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Kind
}

// classify maps go-binance failures onto the apperrors taxonomy
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return &Error{Code: apiErr.Code, Message: apiErr.Message, Kind: kindForCode(apiErr.Code, apiErr.Message)}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", apperrors.ErrNetwork, err)
	}
	return err
}

func kindForCode(code int64, msg string) error {
	switch code {
	case -2011, -2013:
		return apperrors.ErrOrderNotFound
	case -1021:
		return apperrors.ErrTimestampOutOfBounds
	case -1022, -2014, -2015:
		return apperrors.ErrAuthenticationFailed
	case -2018, -2019:
		return apperrors.ErrInsufficientFunds
	case -1003, -1015:
		return apperrors.ErrRateLimitExceeded
	case -1001, -1007:
		return apperrors.ErrNetwork
	case -1008:
		return apperrors.ErrSystemOverload
	case -1121, -4141:
		return apperrors.ErrInvalidSymbol
	case -2012, -4116:
		return apperrors.ErrDuplicateOrder
	case -2010, -2021, -2022:
		return apperrors.ErrOrderRejected
	}

	if strings.Contains(msg, "Unknown order") {
		return apperrors.ErrOrderNotFound
	}
	// -11xx request parameter errors and -4xxx order filter violations
	if (code <= -1100 && code >= -1199) || (code <= -4000 && code >= -4999) || code == -1013 {
		return apperrors.ErrInvalidOrderParameter
	}
	return nil
}
