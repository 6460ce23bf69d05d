// Package api is the REST surface of the exchange core. Authentication is
// done upstream: the gateway passes the caller's account id in the
// X-Account-ID header.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"exchange-core/internal/admin"
	"exchange-core/internal/config"
	"exchange-core/internal/database"
	"exchange-core/internal/fees"
	"exchange-core/internal/history"
	"exchange-core/internal/ledger"
	"exchange-core/internal/market"
	"exchange-core/internal/settlement"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// Services are the core operations behind the endpoints.
type Services struct {
	Repo        *database.Repository
	Engine      *market.Engine
	Ledger      *ledger.Ledger
	Fees        *fees.Collector
	History     *history.Service
	Withdrawals *settlement.Withdrawals
	Deposits    *settlement.Deposits
	Admin       *admin.Service
}

// Server provides the HTTP interface of the exchange core.
type Server struct {
	server *http.Server
	svc    Services
	logger *zap.Logger
}

// NewServer creates a new Server and mounts its routes.
func NewServer(cfg config.Server, svc Services, logger *zap.Logger) *Server {
	s := &Server{
		svc:    svc,
		logger: logger.Named("api-server"),
	}
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.routes(cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) routes(cfg config.Server) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", accountHeader},
		MaxAge:         300,
	}))

	r.Get("/health", s.healthHandler)

	r.Route("/api", func(r chi.Router) {
		r.Get("/currencies", s.listCurrencies)
		r.Get("/pairs", s.listPairs)
		r.Get("/pairs/{pairID}/depth", s.depth)
		r.Get("/pairs/{pairID}/candles", s.candles)

		r.Group(func(r chi.Router) {
			r.Use(requireAccount)
			r.Post("/orders", s.placeOrder)
			r.Get("/orders", s.listOrders)
			r.Get("/orders/{orderID}", s.getOrder)
			r.Delete("/orders/{orderID}", s.cancelOrder)
			r.Get("/balances", s.balances)
			r.Post("/withdrawals", s.withdraw)
			r.Get("/withdrawals/{withdrawalID}", s.getWithdrawal)
			r.Post("/deposit-addresses", s.issueAddress)
			r.Get("/deposit-addresses", s.listAddresses)
		})

		if cfg.Admin {
			r.Route("/admin", s.adminRoutes)
		}
	})
	return r
}

// Start runs the HTTP server in a new goroutine.
func (s *Server) Start() {
	s.logger.Info("Starting API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server failed", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server...")
	return s.server.Shutdown(ctx)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("Request served",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}
