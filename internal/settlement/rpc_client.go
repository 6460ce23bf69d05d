// Package settlement moves funds between the virtual ledger and the external
// cryptocurrency network through a wallet daemon speaking JSON-RPC.
package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"exchange-core/internal/config"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Client defines the wallet daemon operations the exchange relies on.
type Client interface {
	GetConfirmedBalance(ctx context.Context, walletRef string, minConf int) (decimal.Decimal, error)
	SendToAddress(ctx context.Context, walletRef, address string, amount decimal.Decimal) (*SentTransaction, error)
	GenerateAddress(ctx context.Context, walletRef string) (string, error)
	ListTransactions(ctx context.Context, walletRef string, count, skip int) ([]Transaction, error)
}

// SentTransaction describes an accepted send.
type SentTransaction struct {
	TxID   string
	Amount decimal.Decimal
	// Fee is the network fee paid by the hot wallet.
	Fee decimal.Decimal
	// Synthetic is set when the record was built locally because the daemon
	// could not describe the transaction it had just accepted.
	Synthetic bool
}

// Transaction is one wallet transaction as listed by the daemon.
type Transaction struct {
	TxID          string          `json:"txid"`
	Address       string          `json:"address"`
	Category      string          `json:"category"`
	Amount        decimal.Decimal `json:"amount"`
	Fee           decimal.Decimal `json:"fee"`
	Confirmations int             `json:"confirmations"`
	Time          int64           `json:"time"`
}

// CategoryReceive marks incoming transactions.
const CategoryReceive = "receive"

// RecoveryPolicy decides what SendToAddress reports when the daemon accepted
// a send but the follow-up lookup of that transaction failed.
type RecoveryPolicy interface {
	Recover(txid string, requested decimal.Decimal, lookupErr error) (*SentTransaction, error)
}

// SyntheticRecovery reports the send as requested with no network fee.
type SyntheticRecovery struct{}

func (SyntheticRecovery) Recover(txid string, requested decimal.Decimal, _ error) (*SentTransaction, error) {
	return &SentTransaction{TxID: txid, Amount: requested, Fee: decimal.Zero, Synthetic: true}, nil
}

// StrictRecovery reports the failed lookup as an error carrying the txid.
type StrictRecovery struct{}

func (StrictRecovery) Recover(txid string, _ decimal.Decimal, lookupErr error) (*SentTransaction, error) {
	return nil, &Error{Op: "gettransaction", TxID: txid, Err: lookupErr}
}

// RecoveryFor maps the configuration switch to a policy.
func RecoveryFor(synthetic bool) RecoveryPolicy {
	if synthetic {
		return SyntheticRecovery{}
	}
	return StrictRecovery{}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
	ID     json.RawMessage `json:"id"`
}

// RPCClient is a JSON-RPC client for a bitcoind-compatible wallet daemon.
// It implements the Client interface.
type RPCClient struct {
	client     *resty.Client
	limiter    *rate.Limiter
	recovery   RecoveryPolicy
	maxRetries int
	backoff    time.Duration
	logger     *zap.Logger
}

// ensure RPCClient implements the interface
var _ Client = (*RPCClient)(nil)

// NewRPCClient creates a daemon client.
func NewRPCClient(cfg config.Settlement, recovery RecoveryPolicy, logger *zap.Logger) *RPCClient {
	client := resty.New().
		SetBaseURL(cfg.URL).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")
	if cfg.User != "" {
		client.SetBasicAuth(cfg.User, cfg.Password)
	}
	if recovery == nil {
		recovery = SyntheticRecovery{}
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}
	// rate.Limit is requests per second.
	limit := rate.Limit(cfg.RateLimit)
	if cfg.RateLimit <= 0 {
		limit = rate.Inf
	}

	return &RPCClient{
		client:     client,
		limiter:    rate.NewLimiter(limit, cfg.RateLimitBurst),
		recovery:   recovery,
		maxRetries: maxRetries,
		backoff:    time.Second,
		logger:     logger.Named("settlement"),
	}
}

// GetConfirmedBalance returns the wallet balance with at least minConf confirmations.
func (c *RPCClient) GetConfirmedBalance(ctx context.Context, walletRef string, minConf int) (decimal.Decimal, error) {
	var balance decimal.Decimal
	if err := c.call(ctx, walletRef, "getbalance", []any{"*", minConf}, &balance, true); err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}

// SendToAddress submits a payment and describes the resulting transaction.
// The send itself is never retried once the request may have reached the daemon.
func (c *RPCClient) SendToAddress(ctx context.Context, walletRef, address string, amount decimal.Decimal) (*SentTransaction, error) {
	var txid string
	if err := c.call(ctx, walletRef, "sendtoaddress", []any{address, json.Number(amount.String())}, &txid, false); err != nil {
		return nil, err
	}
	if txid == "" {
		return nil, &Error{Op: "sendtoaddress", Err: errors.New("empty transaction id")}
	}

	var tx struct {
		TxID   string          `json:"txid"`
		Amount decimal.Decimal `json:"amount"`
		Fee    decimal.Decimal `json:"fee"`
	}
	if err := c.call(ctx, walletRef, "gettransaction", []any{txid}, &tx, true); err != nil {
		c.logger.Warn("Transaction lookup failed after send",
			zap.String("txid", txid),
			zap.Error(err))
		return c.recovery.Recover(txid, amount, err)
	}

	// The daemon reports outgoing amounts and fees as negative numbers.
	return &SentTransaction{TxID: txid, Amount: tx.Amount.Abs(), Fee: tx.Fee.Abs()}, nil
}

// GenerateAddress asks the daemon for a fresh receiving address.
func (c *RPCClient) GenerateAddress(ctx context.Context, walletRef string) (string, error) {
	var address string
	if err := c.call(ctx, walletRef, "getnewaddress", []any{}, &address, false); err != nil {
		return "", err
	}
	if address == "" {
		return "", &Error{Op: "getnewaddress", Err: errors.New("empty address")}
	}
	return address, nil
}

// ListTransactions lists up to count of the most recent wallet transactions
// after skipping skip of them.
func (c *RPCClient) ListTransactions(ctx context.Context, walletRef string, count, skip int) ([]Transaction, error) {
	var txs []Transaction
	if err := c.call(ctx, walletRef, "listtransactions", []any{"*", count, skip}, &txs, true); err != nil {
		return nil, err
	}
	return txs, nil
}

func walletPath(walletRef string) string {
	if walletRef == "" {
		return "/"
	}
	return "/wallet/" + url.PathEscape(walletRef)
}

// call executes one RPC and decodes its result, wrapping every failure in an *Error.
func (c *RPCClient) call(ctx context.Context, walletRef, method string, params []any, result any, idempotent bool) error {
	body := rpcRequest{JSONRPC: "1.0", ID: uuid.NewString(), Method: method, Params: params}
	req := c.client.R().SetContext(ctx).SetBody(body)

	raw, err := c.doRequest(ctx, walletPath(walletRef), req, idempotent)
	if err != nil {
		return &Error{Op: method, Err: err}
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return &Error{Op: method, Err: fmt.Errorf("failed to decode result: %w", err)}
	}
	return nil
}

// doRequest handles the actual request execution with rate limiting and retry logic.
// Requests that are not idempotent are only retried when the daemon refused them
// outright with 429.
func (c *RPCClient) doRequest(ctx context.Context, path string, req *resty.Request, idempotent bool) (json.RawMessage, error) {
	var (
		resp *resty.Response
		err  error
	)

	for i := 0; i < c.maxRetries; i++ {
		// Wait for the rate limiter
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		c.logger.Debug("Executing request", zap.String("url", c.client.BaseURL+path))
		resp, err = req.Post(path)

		if resp != nil && len(resp.Body()) > 0 {
			var out rpcResponse
			if jsonErr := json.Unmarshal(resp.Body(), &out); jsonErr == nil {
				// bitcoind answers RPC errors with a 500 and an error object.
				if out.Error != nil {
					return nil, out.Error
				}
				if !resp.IsError() {
					return out.Result, nil
				}
			}
		}

		shouldRetry := false
		var retryAfter time.Duration

		switch {
		case err == nil && !resp.IsError():
			return nil, fmt.Errorf("malformed response: %s", resp.String())
		case resp != nil && resp.StatusCode() == http.StatusTooManyRequests:
			shouldRetry = true
			if seconds, err := strconv.Atoi(resp.Header().Get("Retry-After")); err == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		case resp != nil && resp.StatusCode() >= 500:
			shouldRetry = idempotent
		case err != nil:
			// Network or other client-side errors
			shouldRetry = idempotent
		}

		if !shouldRetry {
			if err != nil {
				return nil, fmt.Errorf("request failed: %w", err)
			}
			return nil, fmt.Errorf("request failed with status %s: %s", resp.Status(), resp.String())
		}

		if retryAfter == 0 {
			// Exponential backoff: 1x, 2x, 4x the base delay
			retryAfter = time.Duration(math.Pow(2, float64(i))) * c.backoff
		}

		c.logger.Warn("Request failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		select {
		case <-time.After(retryAfter):
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err == nil && resp != nil {
		err = fmt.Errorf("status %s", resp.Status())
	}
	return nil, fmt.Errorf("request failed after %d attempts: %w", c.maxRetries, err)
}
