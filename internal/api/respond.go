package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"exchange-core/internal/admin"
	"exchange-core/internal/database"
	"exchange-core/internal/market"
	"exchange-core/internal/settlement"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const accountHeader = "X-Account-ID"

type ctxKey struct{}

var (
	errBadRequest = errors.New("bad request")
	errNoAccount  = errors.New("missing or invalid " + accountHeader + " header")
)

// requireAccount reads the caller's account id set by the upstream gateway.
func requireAccount(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseUint(r.Header.Get(accountHeader), 10, 64)
		if err != nil || id == 0 {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: errNoAccount.Error()})
			return
		}
		ctx := context.WithValue(r.Context(), ctxKey{}, uint(id))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func accountID(r *http.Request) uint {
	id, _ := r.Context().Value(ctxKey{}).(uint)
	return id
}

type errorBody struct {
	Error string `json:"error"`
	Data  any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusOf maps core errors onto HTTP statuses.
func statusOf(err error) int {
	var se *settlement.Error
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, market.ErrOrderNotFound),
		errors.Is(err, market.ErrPairNotFound),
		errors.Is(err, market.ErrCurrencyNotFound),
		errors.Is(err, admin.ErrCurrencyMissing),
		errors.Is(err, database.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, market.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, market.ErrAlreadyClosed),
		errors.Is(err, admin.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, settlement.ErrReserveShort):
		return http.StatusServiceUnavailable
	case market.IsMarketError(err),
		errors.Is(err, admin.ErrInvalidFee),
		errors.Is(err, admin.ErrInvalidAmount),
		errors.Is(err, admin.ErrInvalidCode),
		errors.Is(err, admin.ErrInvalidClass),
		errors.Is(err, admin.ErrSameCurrency),
		errors.Is(err, admin.ErrInvalidName):
		return http.StatusBadRequest
	case errors.As(err, &se):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with its mapped status. data, when not nil, is returned
// alongside the error.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error, data any) {
	status := statusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		msg = http.StatusText(status)
	}
	writeJSON(w, status, errorBody{Error: msg, Data: data})
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid body: %v", errBadRequest, err)
	}
	return nil
}

func pathID(r *http.Request, name string) (uint, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, name), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s", errBadRequest, name)
	}
	return uint(id), nil
}

func queryInt(r *http.Request, name string, fallback int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s", errBadRequest, name)
	}
	return n, nil
}
