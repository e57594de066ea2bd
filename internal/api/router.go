// Package api serves exploration sessions over HTTP.
//
// Route table:
//
//	POST   /api/{barrierType}/sessions      create a session for a unit selection
//	GET    /api/sessions/{id}               current snapshot
//	POST   /api/sessions/{id}/actions       apply SET_FILTER / RESET_FILTERS
//	POST   /api/sessions/{id}/restore       replace filters from a query fragment
//	GET    /api/sessions/{id}/export        filter query fragment
//	GET    /api/sessions/{id}/ids           ids of barriers passing all filters
//	GET    /api/sessions/{id}/download      filtered barriers as XLSX
//	DELETE /api/sessions/{id}               end a session
//	GET    /api/tiers/decode?packed=N       decode a packed tier value
//	GET    /health                          store and session health
//	GET    /metrics                         Prometheus scrape endpoint
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sells-group/barrier-explorer/internal/config"
	"github.com/sells-group/barrier-explorer/internal/metrics"
	"github.com/sells-group/barrier-explorer/internal/session"
	"github.com/sells-group/barrier-explorer/internal/tier"
)

// Pinger reports store reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server holds the dependencies of the HTTP handlers.
type Server struct {
	sessions *session.Manager
	store    Pinger
	codec    *tier.Codec
	metrics  *metrics.Metrics
}

// NewServer creates a Server.
func NewServer(sessions *session.Manager, store Pinger, codec *tier.Codec, m *metrics.Metrics) *Server {
	return &Server{sessions: sessions, store: store, codec: codec, metrics: m}
}

// NewRouter builds the HTTP handler with all routes and middleware.
//
// Middleware chain (outermost first):
//
//	RequestID → RealIP → Recoverer → Metrics → CORS → RateLimit → handler
func NewRouter(s *Server, cfg config.ServerConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(Metrics(s.metrics))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(RateLimit(cfg.RateLimit, cfg.RateBurst))

	r.Get("/health", s.health)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(2 * time.Minute))
		r.Post("/{barrierType}/sessions", s.createSession)
		r.Get("/tiers/decode", s.decodeTiers)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", s.getSession)
			r.Delete("/", s.deleteSession)
			r.Post("/actions", s.dispatch)
			r.Post("/restore", s.restore)
			r.Get("/export", s.export)
			r.Get("/ids", s.filteredIDs)
			r.Get("/download", s.download)
		})
	})
	return r
}
