// Package server wires the HTTP router, middleware, and the Proxy
// Handler: the request path spec §4.5 describes from "decode the
// Anthropic-shaped body" through "hand the translated stream back to the
// client", adapted from the teacher's own server package.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/howard-nolan/claudeproxy/internal/backend"
	"github.com/howard-nolan/claudeproxy/internal/cluster"
	"github.com/howard-nolan/claudeproxy/internal/config"
	"github.com/howard-nolan/claudeproxy/internal/logging"
	"github.com/howard-nolan/claudeproxy/internal/tracing"
)

// Server holds the HTTP router and every dependency the Proxy Handler
// needs. Where the teacher's Server kept a model->Provider registry, this
// one keeps a single backend.Client: model routing within a backend
// (which node, which schema dialect) is each Client's own concern, not
// the server's, since spec §4.5 dispatches on backend kind, not model name.
type Server struct {
	router chi.Router
	cfg    *config.Config
	log    *logging.Logger

	client        backend.Client
	clusterRouter *cluster.Router // nil unless cfg.Backend == config.BackendCluster
	trace         *tracing.Recorder
}

// New builds a Server, wires its routes and middleware, and returns it
// ready to use as an http.Handler — mirrors the teacher's New, generalized
// to the dependencies this gateway actually needs instead of a model
// registry.
func New(cfg *config.Config, log *logging.Logger, client backend.Client, router *cluster.Router, trace *tracing.Recorder) *Server {
	s := &Server{
		cfg:           cfg,
		log:           log,
		client:        client,
		clusterRouter: router,
		trace:         trace,
	}
	s.routes()
	return s
}

// routes builds the chi router with all middleware and route definitions,
// the same single-method-gathers-the-routing-table shape as the teacher.
func (s *Server) routes() {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(concurrencyLimiter(s.cfg.Server.MaxConcurrentRequests))

	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/v1/cluster/status", s.handleClusterStatus)
	r.Post("/v1/messages", s.handleMessages)

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// requestDeadlines layers the two distinct timeouts spec §5 names: a total
// request budget and a separate, shorter time-to-first-byte budget the
// Proxy Handler enforces itself (see handler.go's streamResponse) since
// net/http has no first-byte primitive of its own.
func (s *Server) requestDeadlines() (total, firstByte time.Duration) {
	total = s.cfg.Server.RequestTimeout
	firstByte = s.cfg.Server.FirstByteTimeout
	if total <= 0 {
		total = 10 * time.Minute
	}
	if firstByte <= 0 {
		firstByte = 2 * time.Minute
	}
	return total, firstByte
}
