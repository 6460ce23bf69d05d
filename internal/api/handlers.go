package api

import (
	"fmt"
	"net/http"
	"slices"
	"time"

	"exchange-core/internal/market"
	"exchange-core/internal/models"
	"exchange-core/internal/settlement"

	"github.com/shopspring/decimal"
)

func (s *Server) listCurrencies(w http.ResponseWriter, r *http.Request) {
	cs, err := s.svc.Repo.WithContext(r.Context()).Currencies()
	if err != nil {
		s.fail(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, cs)
}

func (s *Server) listPairs(w http.ResponseWriter, r *http.Request) {
	pairs, err := s.svc.Repo.WithContext(r.Context()).Pairs()
	if err != nil {
		s.fail(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, pairs)
}

type depthResponse struct {
	Bids []market.Level `json:"bids"`
	Asks []market.Level `json:"asks"`
}

// depth returns both sides of the book, best price first.
func (s *Server) depth(w http.ResponseWriter, r *http.Request) {
	pairID, err := pathID(r, "pairID")
	if err != nil {
		s.fail(w, r, err, nil)
		return
	}
	levels, err := queryInt(r, "levels", 50)
	if err != nil {
		s.fail(w, r, err, nil)
		return
	}
	bids, err := s.svc.Engine.Depth(r.Context(), pairID, models.SideBuy, levels)
	if err != nil {
		s.fail(w, r, err, nil)
		return
	}
	asks, err := s.svc.Engine.Depth(r.Context(), pairID, models.SideSell, levels)
	if err != nil {
		s.fail(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, depthResponse{Bids: nonNil(bids), Asks: nonNil(asks)})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func (s *Server) candles(w http.ResponseWriter, r *http.Request) {
	pairID, err := pathID(r, "pairID")
	if err != nil {
		s.fail(w, r, err, nil)
		return
	}
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		s.fail(w, r, err, nil)
		return
	}
	period, err := time.ParseDuration(r.URL.Query().Get("period"))
	if err != nil || !slices.Contains(s.svc.History.Periods(), period) {
		s.fail(w, r, fmt.Errorf("%w: unsupported period", errBadRequest), nil)
		return
	}
	cs, err := s.svc.History.Candles(r.Context(), pairID, period, limit)
	if err != nil {
		s.fail(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(cs))
}

type orderRequest struct {
	PairID uint            `json:"pair_id"`
	Side   models.Side     `json:"side"`
	Amount decimal.Decimal `json:"amount"`
	Price  decimal.Decimal `json:"price"`
}

func (s *Server) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err, nil)
		return
	}
	o, err := s.svc.Engine.ExecuteOrder(r.Context(), market.OrderRequest{
		AccountID: accountID(r),
		PairID:    req.PairID,
		Side:      req.Side,
		Amount:    req.Amount,
		Price:     req.Price,
	})
	if err != nil {
		s.fail(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (s *Server) listOrders(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		s.fail(w, r, err, nil)
		return
	}
	orders, err := s.svc.Repo.WithContext(r.Context()).AccountOrders(accountID(r), limit)
	if err != nil {
		s.fail(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(orders))
}

// ownOrder loads an order of the calling account.
func (s *Server) ownOrder(r *http.Request) (*models.Order, error) {
	id, err := pathID(r, "orderID")
	if err != nil {
		return nil, err
	}
	o, err := s.svc.Engine.Order(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if o.AccountID != accountID(r) {
		return nil, market.ErrNotOwner
	}
	return o, nil
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.ownOrder(r)
	if err != nil {
		s.fail(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) cancelOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.ownOrder(r)
	if err != nil {
		s.fail(w, r, err, nil)
		return
	}
	cancelled, err := s.svc.Engine.CancelOrder(r.Context(), o.ID)
	if err != nil {
		s.fail(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, cancelled)
}

func (s *Server) balances(w http.ResponseWriter, r *http.Request) {
	wallets, err := s.svc.Ledger.Balances(s.svc.Repo.WithContext(r.Context()), accountID(r))
	if err != nil {
		s.fail(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(wallets))
}

type withdrawRequest struct {
	CurrencyID uint            `json:"currency_id"`
	Address    string          `json:"address"`
	Amount     decimal.Decimal `json:"amount"`
}

func (s *Server) withdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err, nil)
		return
	}
	record, err := s.svc.Withdrawals.Withdraw(r.Context(), settlement.WithdrawRequest{
		AccountID:  accountID(r),
		CurrencyID: req.CurrencyID,
		Address:    req.Address,
		Amount:     req.Amount,
	})
	if err != nil {
		// The record, when present, tells the caller whether the debit stands.
		var data any
		if record != nil {
			data = record
		}
		s.fail(w, r, err, data)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

func (s *Server) getWithdrawal(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "withdrawalID")
	if err != nil {
		s.fail(w, r, err, nil)
		return
	}
	record, err := s.svc.Withdrawals.Withdrawal(r.Context(), id)
	if err != nil {
		s.fail(w, r, err, nil)
		return
	}
	if record.AccountID != accountID(r) {
		s.fail(w, r, market.ErrNotOwner, nil)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

type addressRequest struct {
	CurrencyID uint `json:"currency_id"`
}

func (s *Server) issueAddress(w http.ResponseWriter, r *http.Request) {
	var req addressRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err, nil)
		return
	}
	da, err := s.svc.Deposits.IssueAddress(r.Context(), accountID(r), req.CurrencyID)
	if err != nil {
		s.fail(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusCreated, da)
}

func (s *Server) listAddresses(w http.ResponseWriter, r *http.Request) {
	currencyID, err := queryInt(r, "currency_id", 0)
	if err != nil || currencyID <= 0 {
		s.fail(w, r, fmt.Errorf("%w: currency_id is required", errBadRequest), nil)
		return
	}
	addrs, err := s.svc.Deposits.Addresses(r.Context(), accountID(r), uint(currencyID))
	if err != nil {
		s.fail(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(addrs))
}
