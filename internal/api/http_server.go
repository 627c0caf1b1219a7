package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"carinspect/internal/config"
	"carinspect/internal/domain"
	"carinspect/internal/metrics"
	"carinspect/internal/realtime"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Dependencies are the collaborators of the HTTP API. Presence, Hub and Ready are optional.
type Dependencies struct {
	Service  domain.InspectionService
	Presence domain.PresenceRepository
	Hub      *realtime.Hub
	Ready    func(ctx context.Context) error
	Logger   *zerolog.Logger
}

// HTTPServer serves the inspection REST API.
type HTTPServer struct {
	cfg      config.APIConfig
	booking  config.BookingConfig
	svc      domain.InspectionService
	presence domain.PresenceRepository
	hub      *realtime.Hub
	ready    func(ctx context.Context) error
	tokens   *TokenManager
	limiter  *rateLimiter
	router   *mux.Router
	server   *http.Server
	logger   *zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, booking config.BookingConfig, deps Dependencies) *HTTPServer {
	logger := deps.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	httpLogger := logger.With().Str("component", "http").Logger()

	s := &HTTPServer{
		cfg:      cfg,
		booking:  booking,
		svc:      deps.Service,
		presence: deps.Presence,
		hub:      deps.Hub,
		ready:    deps.Ready,
		tokens:   NewTokenManager(cfg.Auth),
		limiter:  newRateLimiter(cfg.RateLimit),
		logger:   &httpLogger,
	}
	s.router = s.routes()

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *HTTPServer) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.requestLogging, s.rateLimit)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.handleReady).Methods(http.MethodGet)

	api := r.PathPrefix("/api/inspections").Subrouter()
	api.Use(s.authenticate)

	// Fixed paths first so they are not captured by /{id}.
	api.HandleFunc("/book", s.handleBook).Methods(http.MethodPost)
	api.HandleFunc("/available-slots", s.handleAvailableSlots).Methods(http.MethodGet)
	api.HandleFunc("/my-inspections", s.handleMyInspections).Methods(http.MethodGet)
	api.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(s.adminOnly)
	admin.HandleFunc("/all", s.handleListAll).Methods(http.MethodGet)
	admin.HandleFunc("/export", s.handleExport).Methods(http.MethodGet)
	admin.HandleFunc("/{id}/confirm", s.handleConfirm).Methods(http.MethodPut)
	admin.HandleFunc("/{id}/start", s.handleStart).Methods(http.MethodPut)
	admin.HandleFunc("/{id}/complete", s.handleComplete).Methods(http.MethodPut)

	api.HandleFunc("/{id}", s.handleGet).Methods(http.MethodGet)
	api.HandleFunc("/{id}/reschedule", s.handleReschedule).Methods(http.MethodPut)
	api.HandleFunc("/{id}/cancel", s.handleCancel).Methods(http.MethodPut)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, codeNotFound, "route not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})
	return r
}

// Handler exposes the router, mainly for tests.
func (s *HTTPServer) Handler() http.Handler { return s.router }

// Tokens exposes the token manager so operators can mint tokens.
func (s *HTTPServer) Tokens() *TokenManager { return s.tokens }

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tpl
			}
		}
		metrics.IncHTTP(endpoint)

		s.logger.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func (s *HTTPServer) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.allow(remoteHost(r)) {
			writeError(w, http.StatusTooManyRequests, codeRateLimited, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// allowBooking applies the per-user booking attempt limit kept in the presence store.
func (s *HTTPServer) allowBooking(ctx context.Context, userID int64) error {
	if s.presence == nil || s.booking.RateLimit <= 0 {
		return nil
	}
	window := time.Duration(s.booking.RateWindow) * time.Second
	allowed, err := s.presence.CheckRateLimit(ctx, fmt.Sprintf("booking:%d", userID), s.booking.RateLimit, window)
	if err != nil {
		s.logger.Warn().Err(err).Int64("customer_id", userID).Msg("booking rate limit check failed")
		return nil
	}
	if !allowed {
		return domain.ErrRateLimited
	}
	return nil
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("readiness check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
