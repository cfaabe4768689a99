// Package web exposes the allocator over HTTP for worker processes and
// dashboards. Risk rejections ride back as normal 200 responses with
// approved=false; only infrastructure failures become HTTP errors.
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/zipaJopa/capalloc/internal/domain"
)

// Service is the allocator surface the HTTP layer needs.
type Service interface {
	RequestCapital(ctx context.Context, strategy string, requested decimal.Decimal, positionID string) (domain.CapitalGrant, error)
	ReportTradeClose(ctx context.Context, strategy, positionID string, pnl decimal.Decimal) error
	Rebalance(ctx context.Context) error
	State(ctx context.Context) (*domain.Ledger, error)
}

// Server is the allocator HTTP server.
type Server struct {
	addr    string
	service Service
	logger  *zap.Logger
	router  *chi.Mux
}

// NewServer wires routes and middleware around the allocator service.
func NewServer(addr string, service Service, logger *zap.Logger) *Server {
	s := &Server{
		addr:    addr,
		service: service,
		logger:  logger,
		router:  chi.NewRouter(),
	}

	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(30 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Post("/capital/request", s.handleRequestCapital)
		r.Post("/trades/close", s.handleTradeClose)
		r.Post("/rebalance", s.handleRebalance)
		r.Get("/state", s.handleState)
		r.Get("/audit", s.handleAudit)
	})
	s.router.Get("/healthz", s.handleHealth)

	return s
}

// Handler exposes the router, used by tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the HTTP server and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("allocator API listening", zap.String("addr", s.addr))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)))
	})
}
