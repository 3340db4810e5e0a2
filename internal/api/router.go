// Package api serves analyses over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/market-brief/internal/clock"
	"github.com/sells-group/market-brief/internal/coordinator"
	"github.com/sells-group/market-brief/internal/model"
)

// Service is what the handlers need from the coordinator layer.
type Service interface {
	Snapshot(ctx context.Context, market model.Market, asOf *time.Time) (coordinator.Outcome[model.Snapshot], error)
	Drivers(ctx context.Context, market model.Market, asOf *time.Time) (coordinator.Outcome[model.DriverAttribution], error)
	Events(ctx context.Context, market model.Market, asOf *time.Time, windowDays int) (coordinator.Outcome[model.EventTimeline], error)
	Regime(ctx context.Context, market model.Market, asOf *time.Time) (coordinator.Outcome[model.RegimeState], error)
	Stats() map[model.AnalysisType]map[coordinator.Counter]int64
}

// Pinger reports backend reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CircuitSource reports upstream breaker states.
type CircuitSource interface {
	States() map[string]string
}

// Config holds optional router dependencies.
type Config struct {
	CORSOrigins []string
	// MaxAsOfAgeDays bounds how far back asOf may reach. Default 365.
	MaxAsOfAgeDays int
	// Store is pinged by /health. Nil reports "unknown".
	Store Pinger
	// Circuits are included in /metrics when set.
	Circuits CircuitSource
}

type handler struct {
	svc        Service
	boundary   *clock.Boundary
	maxAsOfAge int
	store      Pinger
	circuits   CircuitSource
}

const defaultMaxAsOfAgeDays = 365

// NewRouter mounts the market endpoints, /health and /metrics.
func NewRouter(svc Service, b *clock.Boundary, cfg Config) http.Handler {
	maxAge := cfg.MaxAsOfAgeDays
	if maxAge <= 0 {
		maxAge = defaultMaxAsOfAgeDays
	}
	h := &handler{svc: svc, boundary: b, maxAsOfAge: maxAge, store: cfg.Store, circuits: cfg.Circuits}

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		ExposedHeaders: []string{headerSource, headerDegraded},
		MaxAge:         300,
	}))

	r.Get("/health", h.health)
	r.Get("/metrics", h.metrics)
	r.Route("/api/v1/market", func(r chi.Router) {
		r.Get("/snapshot", h.snapshot)
		r.Get("/drivers", h.drivers)
		r.Get("/events", h.events)
		r.Get("/regime", h.regime)
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	return r
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]string{"status": "ok", "store": "unknown"}
	status := http.StatusOK
	if h.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := h.store.Ping(ctx); err != nil {
			zap.L().Warn("api: store ping failed", zap.Error(err))
			resp["status"] = "degraded"
			resp["store"] = "unreachable"
			status = http.StatusServiceUnavailable
		} else {
			resp["store"] = "ok"
		}
	}
	writeJSON(w, status, resp)
}

func (h *handler) metrics(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{"outcomes": h.svc.Stats()}
	if h.circuits != nil {
		resp["circuits"] = h.circuits.States()
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Info("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("query", r.URL.RawQuery),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
