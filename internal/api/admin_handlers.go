package api

import (
	"net/http"

	"exchange-core/internal/admin"
	"exchange-core/internal/models"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

func (s *Server) adminRoutes(r chi.Router) {
	r.Post("/accounts", s.createAccount)
	r.Put("/accounts/{accountID}/fee-exempt", s.setFeeExempt)
	r.Get("/currencies", s.listCurrencies)
	r.Post("/currencies", s.createCurrency)
	r.Patch("/currencies/{currencyID}", s.updateCurrency)
	r.Get("/currencies/{currencyID}/fees", s.collectedFees)
	r.Post("/pairs", s.createPair)
	r.Patch("/pairs/{pairID}", s.updatePair)
}

type accountRequest struct {
	Name      string `json:"name"`
	FeeExempt bool   `json:"fee_exempt"`
}

func (s *Server) createAccount(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err, nil)
		return
	}
	a, err := s.svc.Admin.CreateAccount(r.Context(), req.Name, req.FeeExempt)
	if err != nil {
		s.fail(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) setFeeExempt(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "accountID")
	if err != nil {
		s.fail(w, r, err, nil)
		return
	}
	var req struct {
		FeeExempt bool `json:"fee_exempt"`
	}
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err, nil)
		return
	}
	if err := s.svc.Admin.SetFeeExempt(r.Context(), id, req.FeeExempt); err != nil {
		s.fail(w, r, err, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type currencyRequest struct {
	Code               string               `json:"code"`
	Class              models.CurrencyClass `json:"class"`
	WalletRef          string               `json:"wallet_ref"`
	WithdrawFeePercent decimal.Decimal      `json:"withdraw_fee_percent"`
	MinWithdrawAmount  decimal.Decimal      `json:"min_withdraw_amount"`
	Enabled            bool                 `json:"enabled"`
}

func (s *Server) createCurrency(w http.ResponseWriter, r *http.Request) {
	var req currencyRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err, nil)
		return
	}
	c, err := s.svc.Admin.CreateCurrency(r.Context(), admin.CurrencySpec(req))
	if err != nil {
		s.fail(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// currencyPatch carries the tunable fields; absent fields are left alone.
type currencyPatch struct {
	Enabled            *bool            `json:"enabled"`
	WithdrawFeePercent *decimal.Decimal `json:"withdraw_fee_percent"`
	MinWithdrawAmount  *decimal.Decimal `json:"min_withdraw_amount"`
}

func (s *Server) updateCurrency(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "currencyID")
	if err != nil {
		s.fail(w, r, err, nil)
		return
	}
	var req currencyPatch
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err, nil)
		return
	}
	ctx := r.Context()
	if req.WithdrawFeePercent != nil {
		err = s.svc.Admin.SetWithdrawFee(ctx, id, *req.WithdrawFeePercent)
	}
	if err == nil && req.MinWithdrawAmount != nil {
		err = s.svc.Admin.SetMinWithdrawAmount(ctx, id, *req.MinWithdrawAmount)
	}
	if err == nil && req.Enabled != nil {
		err = s.svc.Admin.SetCurrencyEnabled(ctx, id, *req.Enabled)
	}
	if err != nil {
		s.fail(w, r, err, nil)
		return
	}
	c, err := s.svc.Repo.WithContext(ctx).Currency(id)
	if err != nil {
		s.fail(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) collectedFees(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "currencyID")
	if err != nil {
		s.fail(w, r, err, nil)
		return
	}
	amount, err := s.svc.Fees.Collected(r.Context(), id)
	if err != nil {
		s.fail(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"currency_id": id, "collected": amount})
}

type pairRequest struct {
	BaseCurrencyID    uint            `json:"base_currency_id"`
	QuoteCurrencyID   uint            `json:"quote_currency_id"`
	MinTradeAmount    decimal.Decimal `json:"min_trade_amount"`
	TradingFeePercent decimal.Decimal `json:"trading_fee_percent"`
	Enabled           bool            `json:"enabled"`
}

func (s *Server) createPair(w http.ResponseWriter, r *http.Request) {
	var req pairRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err, nil)
		return
	}
	p, err := s.svc.Admin.CreatePair(r.Context(), admin.PairSpec(req))
	if err != nil {
		s.fail(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

type pairPatch struct {
	Enabled           *bool            `json:"enabled"`
	TradingFeePercent *decimal.Decimal `json:"trading_fee_percent"`
	MinTradeAmount    *decimal.Decimal `json:"min_trade_amount"`
}

func (s *Server) updatePair(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "pairID")
	if err != nil {
		s.fail(w, r, err, nil)
		return
	}
	var req pairPatch
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err, nil)
		return
	}
	ctx := r.Context()
	if req.TradingFeePercent != nil {
		err = s.svc.Admin.SetTradingFee(ctx, id, *req.TradingFeePercent)
	}
	if err == nil && req.MinTradeAmount != nil {
		err = s.svc.Admin.SetMinTradeAmount(ctx, id, *req.MinTradeAmount)
	}
	if err == nil && req.Enabled != nil {
		err = s.svc.Admin.SetPairEnabled(ctx, id, *req.Enabled)
	}
	if err != nil {
		s.fail(w, r, err, nil)
		return
	}
	p, err := s.svc.Repo.WithContext(ctx).Pair(id)
	if err != nil {
		s.fail(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
