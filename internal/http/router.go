package http

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/josinaldojr/docs-chat-rag/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type RouterOptions struct {
	CORSOrigins []string
	// Limiter is shared by the chat routes; nil disables rate limiting.
	Limiter *rate.Limiter
	Metrics *metrics.Metrics
	// Gatherer backs GET /metrics; nil leaves the route out.
	Gatherer prometheus.Gatherer
	Log      *zap.Logger
}

func NewRouter(h *Handler, opts RouterOptions) http.Handler {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}

	r := mux.NewRouter()
	r.Use(routeTemplateMiddleware)

	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	chat := r.NewRoute().Subrouter()
	chat.Use(rateLimitMiddleware(opts.Limiter))
	chat.HandleFunc("/chat/", h.Chat).Methods(http.MethodPost)
	chat.HandleFunc("/chat", h.Chat).Methods(http.MethodPost)
	chat.HandleFunc("/chat/stream", h.ChatStream).Methods(http.MethodPost)

	return requestIDMiddleware(accessLogMiddleware(opts.Log, opts.Metrics)(corsMiddleware(opts.CORSOrigins)(r)))
}
