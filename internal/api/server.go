// Package api exposes the operational HTTP surface: booking CRUD for the
// front desk, queue inspection and resolution, exports and health.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"studiosync/internal/config"
	"studiosync/internal/database"
	"studiosync/internal/export"
	"studiosync/internal/models"
	"studiosync/internal/service"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

type Server struct {
	cfg      config.APIConfig
	bookings *service.BookingService
	queue    service.QueueKicker
	exporter *export.Exporter
	server   *http.Server
	limiter  *rateLimiter
	logger   *zerolog.Logger
}

func NewServer(cfg config.APIConfig, bookings *service.BookingService, queue service.QueueKicker, exporter *export.Exporter, logger *zerolog.Logger) *Server {
	srv := &Server{
		cfg:      cfg,
		bookings: bookings,
		queue:    queue,
		exporter: exporter,
		limiter:  newRateLimiter(cfg),
		logger:   logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", srv.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/bookings", srv.handleBookings)
	mux.HandleFunc("/api/bookings/", srv.handleBookingByID)
	mux.HandleFunc("/api/conflicts/check", srv.handleConflictCheck)
	mux.HandleFunc("/api/queue/failed", srv.handleQueueFailed)
	mux.HandleFunc("/api/queue/kick", srv.handleQueueKick)
	mux.HandleFunc("/api/queue/", srv.handleQueueItem)
	mux.HandleFunc("/api/export/bookings", srv.handleExportBookings)

	handler := srv.loggingMiddleware(srv.rateLimitMiddleware(mux))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	return srv
}

func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("http api listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler returns the configured handler chain; used by tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleBookings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		bookings, err := s.bookings.ListBookings(r.Context(), strings.TrimSpace(r.URL.Query().Get("date")))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to list bookings")
			return
		}
		if bookings == nil {
			bookings = []models.Booking{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"bookings": bookings})

	case http.MethodPost:
		booking, ok := decodeBooking(w, r)
		if !ok {
			return
		}
		result, err := s.bookings.CreateBooking(r.Context(), booking)
		if err != nil {
			s.writeBookingError(w, err, result)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"booking": booking, "conflict": result})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleBookingByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/bookings/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		booking, err := s.bookings.GetBooking(r.Context(), id)
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, "booking not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to get booking")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"booking": booking})

	case http.MethodPut:
		booking, ok := decodeBooking(w, r)
		if !ok {
			return
		}
		booking.ID = id
		result, err := s.bookings.UpdateBooking(r.Context(), booking)
		if err != nil {
			s.writeBookingError(w, err, result)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"booking": booking, "conflict": result})

	case http.MethodDelete:
		err := s.bookings.CancelBooking(r.Context(), id)
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, "booking not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to cancel booking")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleConflictCheck previews the severity a save would get without
// writing anything.
func (s *Server) handleConflictCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	booking, ok := decodeBooking(w, r)
	if !ok {
		return
	}
	result, err := s.bookings.CheckConflicts(r.Context(), booking)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conflict": result})
}

func (s *Server) handleQueueFailed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	items, err := s.bookings.FailedSyncItems(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list failed items")
		return
	}
	if items == nil {
		items = []models.SyncQueueItem{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// handleQueueKick asks the queue manager for an immediate drain; the host
// calls this when connectivity returns.
func (s *Server) handleQueueKick(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.queue.Kick()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "kicked"})
}

func (s *Server) handleQueueItem(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/queue/")
	id, action, found := strings.Cut(rest, "/")
	if !found || action != "resolve" || id == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	err := s.bookings.ResolveFailedSync(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, "sync item not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

func (s *Server) handleExportBookings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	path, err := s.exporter.WriteBookingsReport(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"file": path})
}

// writeBookingError maps service failures onto HTTP: a blocked save is a
// 409 carrying the full conflict result, everything else is a 400/404.
func (s *Server) writeBookingError(w http.ResponseWriter, err error, result any) {
	var conflictErr *service.ConflictError
	if errors.As(err, &conflictErr) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":    conflictErr.Error(),
			"conflict": conflictErr.Result,
		})
		return
	}
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, "booking not found")
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}

func decodeBooking(w http.ResponseWriter, r *http.Request) (*models.Booking, bool) {
	var booking models.Booking
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&booking); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return nil, false
	}
	return &booking, true
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.RPS > 0 {
			if !s.limiter.getLimiter(clientKey(r)).Allow() {
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return "unknown"
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
