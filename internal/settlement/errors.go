package settlement

import (
	"fmt"

	"exchange-core/internal/market"
)

// Error is a failure of the external wallet daemon.
type Error struct {
	Op string
	// TxID is set when the daemon accepted a send before the failure; the
	// funds may have left the wallet.
	TxID string
	Err  error
}

func (e *Error) Error() string {
	if e.TxID != "" {
		return fmt.Sprintf("settlement %s (tx %s): %v", e.Op, e.TxID, e.Err)
	}
	return fmt.Sprintf("settlement %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// RPCError is an error object returned by the daemon.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// ErrReserveShort means the daemon's confirmed balance cannot cover a
// withdrawal right now.
var ErrReserveShort = &market.MarketError{Reason: "withdrawal temporarily unavailable"}
