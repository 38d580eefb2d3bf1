// Package api exposes the reservation service over HTTP/JSON.
package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"cabinbook/internal/apperr"
	"cabinbook/internal/booking"
	"cabinbook/internal/report"
)

// Config configures the HTTP server.
type Config struct {
	Port      int
	APIKeys   []string
	RateLimit float64 // requests per second per client; 0 disables
	Burst     int
}

// Server routes API calls to the booking service and reports.
type Server struct {
	booking *booking.Service
	reports *report.Reports
	cfg     Config
	logger  zerolog.Logger
	mux     *http.ServeMux

	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter

	server *http.Server
}

func NewServer(svc *booking.Service, reports *report.Reports, cfg Config, logger zerolog.Logger) *Server {
	s := &Server{
		booking:  svc,
		reports:  reports,
		cfg:      cfg,
		logger:   logger.With().Str("component", "api").Logger(),
		mux:      http.NewServeMux(),
		limiters: make(map[string]*rate.Limiter),
	}
	s.routes()
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/v1/availability", s.handleAvailability)
	s.mux.HandleFunc("GET /api/v1/alternatives", s.handleAlternatives)

	s.mux.HandleFunc("POST /api/v1/reservations", s.handleCreate)
	s.mux.HandleFunc("GET /api/v1/reservations/{id}", s.handleGet)
	s.mux.HandleFunc("GET /api/v1/reservations/{id}/actions", s.handleActions)
	s.mux.HandleFunc("POST /api/v1/reservations/{id}/approve", s.handleApprove)
	s.mux.HandleFunc("POST /api/v1/reservations/{id}/reject", s.handleReject)
	s.mux.HandleFunc("POST /api/v1/reservations/{id}/cancel", s.handleCancel)
	s.mux.HandleFunc("POST /api/v1/reservations/{id}/reassign", s.handleReassign)
	s.mux.HandleFunc("POST /api/v1/admin/assignments", s.handleAssign)

	s.mux.HandleFunc("GET /api/v1/requesters/{id}/reservations", s.handleRequesterReservations)

	s.mux.HandleFunc("GET /api/v1/reports/pending", s.handlePending)
	s.mux.HandleFunc("GET /api/v1/reports/urgent", s.handleUrgent)
	s.mux.HandleFunc("GET /api/v1/reports/stats", s.handleStats)
	s.mux.HandleFunc("GET /api/v1/reports/popular-interval", s.handlePopularInterval)
	s.mux.HandleFunc("GET /api/v1/reports/status/{status}", s.handleByStatus)
	s.mux.HandleFunc("GET /api/v1/reports/priority/{priority}", s.handleByPriority)
	s.mux.HandleFunc("GET /api/v1/reports/range", s.handleRange)
	s.mux.HandleFunc("GET /api/v1/reports/export.xlsx", s.handleExport)
}

// Handler returns the routed handler wrapped in auth and rate limiting.
func (s *Server) Handler() http.Handler {
	return s.withAuth(s.withRateLimit(s.mux))
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	s.logger.Info().Str("addr", s.server.Addr).Msg("api server started")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) withAuth(next http.Handler) http.Handler {
	if len(s.cfg.APIKeys) == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-Api-Key")
		if key == "" || !s.validKey(key) {
			writeError(w, http.StatusUnauthorized, apperr.KindAccessDenied, "missing or invalid api key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) validKey(key string) bool {
	for _, k := range s.cfg.APIKeys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1 {
			return true
		}
	}
	return false
}

func (s *Server) withRateLimit(next http.Handler) http.Handler {
	if s.cfg.RateLimit <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiterFor(clientKey(r)).Allow() {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "too_many_requests", "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) limiterFor(key string) *rate.Limiter {
	s.limitersMu.Lock()
	defer s.limitersMu.Unlock()
	l, ok := s.limiters[key]
	if !ok {
		burst := s.cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		l = rate.NewLimiter(rate.Limit(s.cfg.RateLimit), burst)
		s.limiters[key] = l
	}
	return l
}

// clientKey identifies the caller: the API key when present, the remote
// host otherwise.
func clientKey(r *http.Request) string {
	if key := r.Header.Get("X-Api-Key"); key != "" {
		return "key:" + key
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
