package admin

import (
	"net/http"
	"time"
)

// Router wraps the HTTP mux and provides route configuration.
type Router struct {
	mux      *http.ServeMux
	handlers *Handlers
	metrics  MetricsRecorder
}

// NewRouter creates a router with every route configured. metricsHandler serves
// /metrics and may be nil.
func NewRouter(h *Handlers, metricsHandler http.Handler, m MetricsRecorder) *Router {
	if m == nil {
		m = NoOpMetrics{}
	}
	r := &Router{
		mux:      http.NewServeMux(),
		handlers: h,
		metrics:  m,
	}
	r.setupRoutes(metricsHandler)
	return r
}

func (r *Router) setupRoutes(metricsHandler http.Handler) {
	r.mux.HandleFunc("/api/v1/rules/refresh", r.handlers.RefreshRules)
	r.mux.HandleFunc("/api/v1/rules/state/clear", r.handlers.ClearRuleState)
	r.mux.HandleFunc("/api/v1/cache/clear", r.handlers.ClearCache)
	r.mux.HandleFunc("/api/v1/evaluate", r.handlers.Evaluate)

	r.mux.HandleFunc("/api/v1/silences", r.handlers.GetSilence)
	r.mux.HandleFunc("/api/v1/silences/reset", r.handlers.ResetSilence)
	r.mux.HandleFunc("/api/v1/silences/escalation", r.handlers.CheckEscalation)

	r.mux.HandleFunc("/api/v1/alerts/handle", r.handlers.HandleAlert)
	r.mux.HandleFunc("/api/v1/alerts/read", r.handlers.MarkAsRead)
	r.mux.HandleFunc("/api/v1/alerts/pending", r.handlers.PendingAlerts)
	r.mux.HandleFunc("/api/v1/alerts/recent", r.handlers.RecentAlerts)
	r.mux.HandleFunc("/api/v1/alerts/count", r.handlers.CountAlerts)

	r.mux.HandleFunc("/api/v1/statistics", r.handlers.Statistics)
	r.mux.HandleFunc("/health", r.handlers.Health)
	if metricsHandler != nil {
		r.mux.Handle("/metrics", metricsHandler)
	}
}

// Handler returns the mux wrapped in the CORS and metrics middleware.
func (r *Router) Handler() http.Handler {
	return corsMiddleware(metricsMiddleware(r.metrics)(r.mux))
}

// NewServer creates an HTTP server for the router.
func NewServer(port string, r *Router) *http.Server {
	return &http.Server{
		Addr:         ":" + port,
		Handler:      r.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}
