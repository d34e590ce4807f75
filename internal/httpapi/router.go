// Package httpapi wires the HTTP surface of the reconciliation service.
// It keeps handlers thin, delegating business rules to the service layer.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	chi "github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/tinoosan/recon/internal/service/allocator"
	"github.com/tinoosan/recon/internal/service/balance"
	"github.com/tinoosan/recon/internal/service/ledger"
	"github.com/tinoosan/recon/internal/service/matcher"
	"github.com/tinoosan/recon/internal/storage"
)

// Server wires handlers and middleware using Chi. All business state lives
// behind the storage contract; the server composes the services over it.
type Server struct {
	store      storage.Store
	matcherSvc matcher.Service
	ledgerSvc  ledger.Service
	allocSvc   allocator.Service
	balanceSvc balance.Service
	log        *slog.Logger
	rt         *chi.Mux
	now        func() time.Time
	matchOpts  matcher.Options
}

// Option adjusts server construction.
type Option func(*Server)

// WithMatcherDefaults sets the default candidate-search window and amount
// tolerance applied when a request does not override them.
func WithMatcherDefaults(windowDays int, toleranceMinor int64) Option {
	return func(s *Server) {
		s.matchOpts = matcher.Options{WindowDays: windowDays, ToleranceMinor: toleranceMinor}
	}
}

// New constructs the HTTP server with routes and middleware.
// The logger is used by request/response logging and panic recovery.
func New(store storage.Store, logger *slog.Logger, opts ...Option) *Server {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(requestLogger(logger))
	r.Use(recoverer(logger))
	r.Use(metricsMiddleware)

	s := &Server{
		store:      store,
		matcherSvc: matcher.New(store),
		ledgerSvc:  ledger.New(store, nil),
		allocSvc:   allocator.New(store, nil),
		balanceSvc: balance.New(store, logger),
		log:        logger,
		rt:         r,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

// Handler exposes the configured http.Handler.
func (s *Server) Handler() http.Handler { return s.rt }

// routes declares the public HTTP API endpoints and attaches any per-route middleware.
func (s *Server) routes() {
	// Bank lines (v1)
	s.rt.With(s.validatePostBankLine()).Post("/v1/bank-lines", s.postBankLine)
	s.rt.Get("/v1/bank-lines/unexplained", s.listUnexplained)
	s.rt.Get("/v1/bank-lines/{id}", s.getBankLine)
	s.rt.Get("/v1/bank-lines/{id}/candidates", s.getCandidates)
	s.rt.Get("/v1/bank-lines/{id}/entries", s.getBankLineEntries)
	s.rt.Post("/v1/bank-lines/{id}/auto-link", s.postAutoLink)
	s.rt.Post("/v1/bank-lines/{id}/surrogate", s.postSurrogateReceipt)
	// Records (v1)
	s.rt.With(s.validatePostReceipt()).Post("/v1/receipts", s.postReceipt)
	s.rt.Patch("/v1/receipts/{id}/bank-line", s.patchReceiptBankLine)
	s.rt.With(s.validatePostPayment()).Post("/v1/payments", s.postPayment)
	s.rt.Patch("/v1/payments/{id}/bank-line", s.patchPaymentBankLine)
	s.rt.Patch("/v1/payments/{id}/booking", s.patchPaymentBooking)
	s.rt.Patch("/v1/payments/{id}/amount", s.patchPaymentAmount)
	// Bookings (v1)
	s.rt.With(s.validatePostBooking()).Post("/v1/bookings", s.postBooking)
	s.rt.Get("/v1/bookings/{id}", s.getBooking)
	s.rt.Post("/v1/bookings/{id}/recalculate", s.recalculateBooking)
	s.rt.Post("/v1/bookings/recalculate", s.recalculateAllBookings)
	// Ledger (v1)
	s.rt.With(s.validatePostLink()).Post("/v1/links", s.postLink)
	s.rt.Delete("/v1/links/{id}", s.deleteLink)
	s.rt.With(s.validatePostAllocation()).Post("/v1/allocations", s.postAllocation)
	// Export (v1)
	s.rt.Get("/v1/export/ledger", s.exportLedger)
	// Health and metrics (unversioned)
	s.rt.Get("/healthz", s.healthz)
	s.rt.Get("/readyz", s.readyz)
	s.rt.Method(http.MethodGet, "/metrics", metricsHandler())
}
