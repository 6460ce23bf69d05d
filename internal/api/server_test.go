package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"exchange-core/internal/admin"
	"exchange-core/internal/config"
	"exchange-core/internal/database"
	"exchange-core/internal/fees"
	"exchange-core/internal/history"
	"exchange-core/internal/ledger"
	"exchange-core/internal/lock"
	"exchange-core/internal/market"
	"exchange-core/internal/models"
	"exchange-core/internal/settlement"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockClient struct {
	mock.Mock
}

func (m *mockClient) GetConfirmedBalance(ctx context.Context, walletRef string, minConf int) (decimal.Decimal, error) {
	args := m.Called(ctx, walletRef, minConf)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *mockClient) SendToAddress(ctx context.Context, walletRef, address string, amount decimal.Decimal) (*settlement.SentTransaction, error) {
	args := m.Called(ctx, walletRef, address, amount)
	sent, _ := args.Get(0).(*settlement.SentTransaction)
	return sent, args.Error(1)
}

func (m *mockClient) GenerateAddress(ctx context.Context, walletRef string) (string, error) {
	args := m.Called(ctx, walletRef)
	return args.String(0), args.Error(1)
}

func (m *mockClient) ListTransactions(ctx context.Context, walletRef string, count, skip int) ([]settlement.Transaction, error) {
	args := m.Called(ctx, walletRef, count, skip)
	txs, _ := args.Get(0).([]settlement.Transaction)
	return txs, args.Error(1)
}

type fixture struct {
	handler http.Handler
	repo    *database.Repository
	ledger  *ledger.Ledger
	client  *mockClient
}

func setupServer(t *testing.T, adminEnabled bool) *fixture {
	t.Helper()
	db, err := database.OpenInMemory()
	require.NoError(t, err)
	repo := database.NewRepository(db)
	logger := zap.NewNop()
	locks := lock.NewManager()
	led := ledger.New(logger)
	collector := fees.NewCollector(repo, locks, logger)
	client := &mockClient{}

	hist := history.NewService(repo, locks, history.Options{Periods: []time.Duration{time.Hour}}, logger)
	ctx, cancel := context.WithCancel(context.Background())
	hist.Start(ctx)
	t.Cleanup(func() {
		cancel()
		hist.Wait()
	})

	svc := Services{
		Repo:        repo,
		Engine:      market.NewEngine(repo, locks, led, collector, hist, market.ExemptEither, logger),
		Ledger:      led,
		Fees:        collector,
		History:     hist,
		Withdrawals: settlement.NewWithdrawals(repo, locks, led, collector, client, 6, logger),
		Deposits:    settlement.NewDeposits(repo, locks, led, client, 6, 50, logger),
		Admin:       admin.NewService(repo, locks, logger),
	}
	cfg := config.Server{Port: 0, AllowedOrigins: []string{"*"}, Admin: adminEnabled}
	return &fixture{
		handler: NewServer(cfg, svc, logger).Handler(),
		repo:    repo,
		ledger:  led,
		client:  client,
	}
}

func (f *fixture) do(t *testing.T, method, path string, account uint, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if account != 0 {
		req.Header.Set(accountHeader, fmt.Sprint(account))
	}
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&v), rr.Body.String())
	return v
}

func (f *fixture) fund(t *testing.T, accountID, currencyID uint, amount string) {
	t.Helper()
	w, err := f.ledger.Wallet(f.repo, accountID, currencyID)
	require.NoError(t, err)
	_, err = f.ledger.AddBalance(f.repo, w.ID, decimal.RequireFromString(amount))
	require.NoError(t, err)
}

type scenario struct {
	btc, usd, pair, alice, bob uint
}

// setupMarket configures BTC/USD and two accounts through the admin endpoints.
func (f *fixture) setupMarket(t *testing.T) scenario {
	t.Helper()
	rr := f.do(t, http.MethodPost, "/api/admin/currencies", 0, map[string]any{
		"code": "btc", "class": "CRYPTO", "wallet_ref": "hot-btc", "enabled": true,
		"withdraw_fee_percent": "0.5", "min_withdraw_amount": "0.01",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	btc := decodeBody[models.Currency](t, rr)
	assert.Equal(t, "BTC", btc.Code)

	rr = f.do(t, http.MethodPost, "/api/admin/currencies", 0, map[string]any{"code": "USD", "enabled": true})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	usd := decodeBody[models.Currency](t, rr)
	assert.Equal(t, models.ClassVirtual, usd.Class)

	rr = f.do(t, http.MethodPost, "/api/admin/pairs", 0, map[string]any{
		"base_currency_id": btc.ID, "quote_currency_id": usd.ID,
		"min_trade_amount": "0.001", "trading_fee_percent": "0", "enabled": true,
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	pair := decodeBody[models.TradingPair](t, rr)

	var ids []uint
	for _, name := range []string{"alice", "bob"} {
		rr = f.do(t, http.MethodPost, "/api/admin/accounts", 0, map[string]any{"name": name})
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
		ids = append(ids, decodeBody[models.Account](t, rr).ID)
	}
	return scenario{btc: btc.ID, usd: usd.ID, pair: pair.ID, alice: ids[0], bob: ids[1]}
}

func TestHealth(t *testing.T) {
	f := setupServer(t, false)
	rr := f.do(t, http.MethodGet, "/health", 0, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "OK\n", rr.Body.String())
}

func TestRequireAccount(t *testing.T) {
	f := setupServer(t, false)
	rr := f.do(t, http.MethodGet, "/api/balances", 0, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/balances", nil)
	req.Header.Set(accountHeader, "abc")
	rr = httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAdminDisabled(t *testing.T) {
	f := setupServer(t, false)
	rr := f.do(t, http.MethodPost, "/api/admin/currencies", 0, map[string]any{"code": "BTC"})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestOrders(t *testing.T) {
	f := setupServer(t, true)
	m := f.setupMarket(t)
	f.fund(t, m.alice, m.usd, "300")
	f.fund(t, m.bob, m.btc, "2")

	rr := f.do(t, http.MethodPost, "/api/orders", m.bob, map[string]any{
		"pair_id": m.pair, "side": "SELL", "amount": "2", "price": "100",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	ask := decodeBody[models.Order](t, rr)
	assert.Equal(t, models.StatusOpen, ask.Status)

	rr = f.do(t, http.MethodGet, fmt.Sprintf("/api/pairs/%d/depth", m.pair), 0, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	depth := decodeBody[depthResponse](t, rr)
	assert.Empty(t, depth.Bids)
	require.Len(t, depth.Asks, 1)
	assert.Equal(t, "2", depth.Asks[0].Amount.String())

	rr = f.do(t, http.MethodPost, "/api/orders", m.alice, map[string]any{
		"pair_id": m.pair, "side": "BUY", "amount": "1", "price": "150",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	bid := decodeBody[models.Order](t, rr)
	assert.Equal(t, models.StatusCompleted, bid.Status)
	assert.Equal(t, "100", bid.Total.String(), "trades at the resting price")

	rr = f.do(t, http.MethodGet, "/api/balances", m.alice, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	balances := map[uint]string{}
	for _, w := range decodeBody[[]models.VirtualWallet](t, rr) {
		balances[w.CurrencyID] = w.Balance.String()
	}
	assert.Equal(t, "1", balances[m.btc])
	assert.Equal(t, "200", balances[m.usd])

	rr = f.do(t, http.MethodGet, "/api/orders", m.bob, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decodeBody[[]models.Order](t, rr), 1)

	orderPath := fmt.Sprintf("/api/orders/%d", ask.ID)
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodDelete, orderPath, m.alice, nil).Code)
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodGet, orderPath, m.alice, nil).Code)

	rr = f.do(t, http.MethodDelete, orderPath, m.bob, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, models.StatusPartiallyCancelled, decodeBody[models.Order](t, rr).Status)

	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodDelete, orderPath, m.bob, nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodDelete, "/api/orders/999", m.bob, nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodDelete, "/api/orders/x", m.bob, nil).Code)

	testCases := []struct {
		name   string
		body   any
		status int
	}{
		{"Below minimum", map[string]any{"pair_id": m.pair, "side": "BUY", "amount": "0.0001", "price": "1"}, http.StatusBadRequest},
		{"Bad side", map[string]any{"pair_id": m.pair, "side": "HOLD", "amount": "1", "price": "1"}, http.StatusBadRequest},
		{"Insufficient funds", map[string]any{"pair_id": m.pair, "side": "BUY", "amount": "10", "price": "100"}, http.StatusBadRequest},
		{"Unknown pair", map[string]any{"pair_id": 999, "side": "BUY", "amount": "1", "price": "1"}, http.StatusNotFound},
		{"Malformed", "not an order", http.StatusBadRequest},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rr := f.do(t, http.MethodPost, "/api/orders", m.alice, tc.body)
			assert.Equal(t, tc.status, rr.Code, rr.Body.String())
			assert.NotEmpty(t, decodeBody[errorBody](t, rr).Error)
		})
	}
}

func TestCandles(t *testing.T) {
	f := setupServer(t, true)
	m := f.setupMarket(t)
	f.fund(t, m.alice, m.usd, "100")
	f.fund(t, m.bob, m.btc, "1")

	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/orders", m.bob, map[string]any{
		"pair_id": m.pair, "side": "SELL", "amount": "1", "price": "100",
	}).Code)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/orders", m.alice, map[string]any{
		"pair_id": m.pair, "side": "BUY", "amount": "1", "price": "100",
	}).Code)

	path := fmt.Sprintf("/api/pairs/%d/candles?period=1h", m.pair)
	assert.Eventually(t, func() bool {
		rr := f.do(t, http.MethodGet, path, 0, nil)
		var cs []models.Candle
		return rr.Code == http.StatusOK && json.NewDecoder(rr.Body).Decode(&cs) == nil && len(cs) == 1
	}, time.Second, 5*time.Millisecond)

	rr := f.do(t, http.MethodGet, fmt.Sprintf("/api/pairs/%d/candles?period=7m", m.pair), 0, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(t, http.MethodGet, "/api/pairs", 0, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	pairs := decodeBody[[]models.TradingPair](t, rr)
	require.Len(t, pairs, 1)
	assert.Equal(t, "100", pairs[0].LastPrice.String())
}

func TestWithdrawals(t *testing.T) {
	f := setupServer(t, true)
	m := f.setupMarket(t)
	f.fund(t, m.alice, m.btc, "2")
	f.client.On("GetConfirmedBalance", mock.Anything, "hot-btc", 6).Return(decimal.NewFromInt(1), nil)
	f.client.On("SendToAddress", mock.Anything, "hot-btc", "bc1qdest", mock.Anything).
		Return(&settlement.SentTransaction{TxID: "tx1", Amount: decimal.NewFromInt(1), Fee: decimal.Zero}, nil)

	rr := f.do(t, http.MethodPost, "/api/withdrawals", m.alice, map[string]any{
		"currency_id": m.btc, "address": "bc1qdest", "amount": "1",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	w := decodeBody[models.Withdrawal](t, rr)
	assert.Equal(t, models.WithdrawalSent, w.Status)
	assert.Equal(t, "tx1", w.TxID)

	path := fmt.Sprintf("/api/withdrawals/%d", w.ID)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, path, m.alice, nil).Code)
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodGet, path, m.bob, nil).Code)

	// The daemon holds only 1 BTC.
	rr = f.do(t, http.MethodPost, "/api/withdrawals", m.alice, map[string]any{
		"currency_id": m.btc, "address": "bc1qdest", "amount": "1.5",
	})
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code, rr.Body.String())

	rr = f.do(t, http.MethodPost, "/api/withdrawals", m.alice, map[string]any{
		"currency_id": m.usd, "address": "x", "amount": "1",
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(t, http.MethodGet, fmt.Sprintf("/api/admin/currencies/%d/fees", m.btc), 0, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	collected := decodeBody[map[string]any](t, rr)
	assert.Equal(t, "0.005", collected["collected"])
}

func TestDepositAddresses(t *testing.T) {
	f := setupServer(t, true)
	m := f.setupMarket(t)
	f.client.On("GenerateAddress", mock.Anything, "hot-btc").Return("bc1qfresh", nil).Once()

	rr := f.do(t, http.MethodPost, "/api/deposit-addresses", m.alice, map[string]any{"currency_id": m.btc})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, "bc1qfresh", decodeBody[models.DepositAddress](t, rr).Address)

	rr = f.do(t, http.MethodGet, fmt.Sprintf("/api/deposit-addresses?currency_id=%d", m.btc), m.alice, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decodeBody[[]models.DepositAddress](t, rr), 1)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/deposit-addresses", m.alice, nil).Code)
	f.client.AssertExpectations(t)
}

func TestAdminEndpoints(t *testing.T) {
	f := setupServer(t, true)
	m := f.setupMarket(t)

	rr := f.do(t, http.MethodPost, "/api/admin/currencies", 0, map[string]any{"code": "BTC"})
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = f.do(t, http.MethodPost, "/api/admin/pairs", 0, map[string]any{
		"base_currency_id": m.btc, "quote_currency_id": m.btc,
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	pairPath := fmt.Sprintf("/api/admin/pairs/%d", m.pair)
	rr = f.do(t, http.MethodPatch, pairPath, 0, map[string]any{"trading_fee_percent": "100"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(t, http.MethodPatch, pairPath, 0, map[string]any{"enabled": false, "trading_fee_percent": "0.25"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	pair := decodeBody[models.TradingPair](t, rr)
	assert.False(t, pair.Enabled)
	assert.Equal(t, "0.25", pair.TradingFeePercent.String())

	f.fund(t, m.alice, m.usd, "100")
	rr = f.do(t, http.MethodPost, "/api/orders", m.alice, map[string]any{
		"pair_id": m.pair, "side": "BUY", "amount": "1", "price": "1",
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(t, http.MethodPatch, fmt.Sprintf("/api/admin/currencies/%d", m.btc), 0, map[string]any{"min_withdraw_amount": "0.1"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "0.1", decodeBody[models.Currency](t, rr).MinWithdrawAmount.String())

	rr = f.do(t, http.MethodPut, fmt.Sprintf("/api/admin/accounts/%d/fee-exempt", m.bob), 0, map[string]any{"fee_exempt": true})
	assert.Equal(t, http.StatusNoContent, rr.Code)
	acct, err := f.repo.Account(m.bob)
	require.NoError(t, err)
	assert.True(t, acct.FeeExempt)

	rr = f.do(t, http.MethodPatch, "/api/admin/pairs/999", 0, map[string]any{"enabled": true})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
