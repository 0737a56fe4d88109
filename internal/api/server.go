package api

import (
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shehryarbajwa/cloud-workstations/internal/logging"
	"github.com/shehryarbajwa/cloud-workstations/internal/proxy"
	"github.com/shehryarbajwa/cloud-workstations/internal/ratelimit"
)

// RouterOptions collects what SetupRoutes wires in besides the launch handler
type RouterOptions struct {
	Catalog     *CatalogHandler
	Proxy       *proxy.Server
	RateLimiter *ratelimit.Limiter
	Gatherer    prometheus.Gatherer
	Logger      *log.Logger
}

// SetupRoutes configures all HTTP routes
func (h *Handler) SetupRoutes(opts RouterOptions) *mux.Router {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	r := mux.NewRouter()

	// Launch endpoints (rate limited)
	launch := r.NewRoute().Subrouter()
	if opts.RateLimiter != nil {
		launch.Use(RateLimitMiddleware(opts.RateLimiter))
	}
	launch.HandleFunc("/api/workstation/launch", h.LaunchWorkstation).Methods("POST", "OPTIONS")
	launch.HandleFunc("/v1/workstations", h.LaunchWorkstation).Methods("POST", "OPTIONS")

	api := r.PathPrefix("/api/workstation").Subrouter()
	if opts.Catalog != nil {
		api.HandleFunc("/catalog", opts.Catalog.GetCatalog).Methods("GET", "OPTIONS")
	}
	if opts.Proxy != nil {
		api.HandleFunc("/{id}/connect", connectHandler(opts.Proxy)).Methods("GET")
	}

	r.HandleFunc("/healthz", h.Health).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})).Methods("GET")

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	r.Use(LoggingMiddleware(opts.Logger))
	r.Use(corsMiddleware)

	return r
}
