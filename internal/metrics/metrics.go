package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/josinaldojr/docs-chat-rag/internal/rag"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "docs_chat"

// Metrics holds the service collectors. A nil *Metrics records nothing.
type Metrics struct {
	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
	stageLatency *prometheus.HistogramVec
	stageErrors  *prometheus.CounterVec
	retrieved    prometheus.Histogram
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		httpLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		stageLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_stage_duration_seconds",
			Help:      "Latency of the retrieve and generate stages.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"stage"}),
		stageErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_stage_errors_total",
			Help:      "Failed retrieve and generate calls.",
		}, []string{"stage"}),
		retrieved: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieved_documents",
			Help:      "Documents returned per retrieval.",
			Buckets:   []float64{0, 1, 2, 4, 8, 16},
		}),
	}
}

func (m *Metrics) ObserveRequest(route string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.httpLatency.WithLabelValues(route).Observe(d.Seconds())
}

func (m *Metrics) observeStage(stage string, start time.Time, err error) {
	m.stageLatency.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	if err != nil {
		m.stageErrors.WithLabelValues(stage).Inc()
	}
}

// Retriever wraps r so every call is timed.
func (m *Metrics) Retriever(r rag.Retriever) rag.Retriever {
	if m == nil {
		return r
	}
	return &instrumentedRetriever{next: r, m: m}
}

// LLM wraps c so every Generate and Stream call is timed.
func (m *Metrics) LLM(c rag.LLMClient) rag.LLMClient {
	if m == nil {
		return c
	}
	return &instrumentedLLM{next: c, m: m}
}

type instrumentedRetriever struct {
	next rag.Retriever
	m    *Metrics
}

func (r *instrumentedRetriever) Retrieve(ctx context.Context, question string) ([]rag.Document, error) {
	start := time.Now()
	docs, err := r.next.Retrieve(ctx, question)
	r.m.observeStage("retrieve", start, err)
	if err == nil {
		r.m.retrieved.Observe(float64(len(docs)))
	}
	return docs, err
}

type instrumentedLLM struct {
	next rag.LLMClient
	m    *Metrics
}

func (l *instrumentedLLM) Generate(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	out, err := l.next.Generate(ctx, prompt)
	l.m.observeStage("generate", start, err)
	return out, err
}

func (l *instrumentedLLM) Stream(ctx context.Context, prompt string, onDelta func(string) error) error {
	start := time.Now()
	err := l.next.Stream(ctx, prompt, onDelta)
	l.m.observeStage("stream", start, err)
	return err
}
