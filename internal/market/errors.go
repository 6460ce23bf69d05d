package market

import "errors"

// MarketError is a business-rule violation. It is reported to the caller as
// is, never retried, and is always raised before any balance mutation.
type MarketError struct {
	Reason string
}

func (e *MarketError) Error() string {
	return e.Reason
}

var (
	ErrMinimalAmount       = &MarketError{Reason: "minimal trading amount"}
	ErrInsufficientFunds   = &MarketError{Reason: "insufficient funds"}
	ErrPairDisabled        = &MarketError{Reason: "trading pair disabled"}
	ErrPairNotFound        = &MarketError{Reason: "trading pair not found"}
	ErrCurrencyDisabled    = &MarketError{Reason: "currency disabled"}
	ErrCurrencyNotFound    = &MarketError{Reason: "currency not found"}
	ErrInvalidPrice        = &MarketError{Reason: "invalid price"}
	ErrAmountOutOfRange    = &MarketError{Reason: "amount out of range"}
	ErrInvalidSide         = &MarketError{Reason: "invalid order side"}
	ErrAlreadyClosed       = &MarketError{Reason: "already closed"}
	ErrOrderNotFound       = &MarketError{Reason: "order not found"}
	ErrNotOwner            = &MarketError{Reason: "order belongs to another account"}
	ErrMinimalWithdraw     = &MarketError{Reason: "minimal withdraw amount"}
	ErrWithdrawUnsupported = &MarketError{Reason: "withdrawal not supported"}
	ErrInvalidAddress      = &MarketError{Reason: "invalid address"}
)

// ErrInternal signals a broken matching invariant. It is a defect of the
// engine, not a problem with the request.
var ErrInternal = errors.New("internal error")

// IsMarketError reports whether err wraps a MarketError.
func IsMarketError(err error) bool {
	var me *MarketError
	return errors.As(err, &me)
}
