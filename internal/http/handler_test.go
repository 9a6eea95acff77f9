package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/josinaldojr/docs-chat-rag/internal/metrics"
	"github.com/josinaldojr/docs-chat-rag/internal/rag"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/time/rate"
)

type stubRetriever struct {
	mu    sync.Mutex
	docs  []rag.Document
	err   error
	calls []string
}

func (s *stubRetriever) Retrieve(_ context.Context, question string) ([]rag.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, question)
	return s.docs, s.err
}

// stubLLM replies with a fixed answer, or streams chunks and then returns
// streamErr.
type stubLLM struct {
	mu        sync.Mutex
	reply     string
	err       error
	chunks    []string
	streamErr error
	prompts   []string
}

func (s *stubLLM) Generate(_ context.Context, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, prompt)
	return s.reply, s.err
}

func (s *stubLLM) Stream(_ context.Context, prompt string, onDelta func(string) error) error {
	s.mu.Lock()
	s.prompts = append(s.prompts, prompt)
	s.mu.Unlock()
	for _, c := range s.chunks {
		if err := onDelta(c); err != nil {
			return err
		}
	}
	return s.streamErr
}

type fixture struct {
	retriever *stubRetriever
	llm       *stubLLM
	router    http.Handler
}

func newFixture(t *testing.T, handlerOpts HandlerOptions, routerOpts RouterOptions) *fixture {
	t.Helper()
	f := &fixture{
		retriever: &stubRetriever{docs: []rag.Document{{Content: "X is a thing."}, {Content: "More about X."}}},
		llm:       &stubLLM{reply: "\n  X is a thing.  \n", chunks: []string{" X is ", "a thing. "}},
	}
	if routerOpts.CORSOrigins == nil {
		routerOpts.CORSOrigins = []string{"http://localhost", "http://localhost:3000"}
	}
	routerOpts.Log = zap.NewNop()

	h := NewHandler(rag.NewService(f.retriever, f.llm), zap.NewNop(), handlerOpts)
	f.router = NewRouter(h, routerOpts)
	return f
}

func (f *fixture) post(path, body string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decodeAnswer(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp, 1)
	answer, ok := resp["answer"].(string)
	require.True(t, ok)
	return answer
}

func TestChat(t *testing.T) {
	t.Run("answers from retrieved documents", func(t *testing.T) {
		f := newFixture(t, HandlerOptions{}, RouterOptions{})

		w := f.post("/chat/", `{"question": "What is X?"}`)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		assert.Equal(t, "X is a thing.", decodeAnswer(t, w))

		assert.Equal(t, []string{"What is X?"}, f.retriever.calls)
		require.Len(t, f.llm.prompts, 1)
		assert.Contains(t, f.llm.prompts[0], "X is a thing.\n\nMore about X.")
		assert.Contains(t, f.llm.prompts[0], "What is X?")
	})

	t.Run("empty question runs the pipeline", func(t *testing.T) {
		f := newFixture(t, HandlerOptions{}, RouterOptions{})

		w := f.post("/chat/", `{"question": ""}`)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, []string{""}, f.retriever.calls)
		assert.Len(t, f.llm.prompts, 1)
	})

	t.Run("path without trailing slash", func(t *testing.T) {
		f := newFixture(t, HandlerOptions{}, RouterOptions{})

		w := f.post("/chat", `{"question": "q"}`)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("rejects bad bodies before the pipeline", func(t *testing.T) {
		bodies := map[string]string{
			"missing field": `{}`,
			"other field":   `{"query": "What is X?"}`,
			"null question": `{"question": null}`,
			"wrong type":    `{"question": 42}`,
			"malformed":     `{"question": `,
			"empty body":    ``,
		}
		for name, body := range bodies {
			t.Run(name, func(t *testing.T) {
				f := newFixture(t, HandlerOptions{}, RouterOptions{})

				w := f.post("/chat/", body)

				assert.Equal(t, http.StatusBadRequest, w.Code)
				assert.Empty(t, f.retriever.calls)
				assert.Empty(t, f.llm.prompts)
			})
		}
	})

	t.Run("missing field names the json field", func(t *testing.T) {
		f := newFixture(t, HandlerOptions{}, RouterOptions{})

		w := f.post("/chat/", `{}`)
		assert.Contains(t, w.Body.String(), "question is required")
	})

	t.Run("retrieval failure is a server error", func(t *testing.T) {
		f := newFixture(t, HandlerOptions{}, RouterOptions{})
		f.retriever.err = errors.New("index unavailable")

		w := f.post("/chat/", `{"question": "q"}`)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "index unavailable")
		assert.Empty(t, f.llm.prompts)
	})

	t.Run("blank completion is an empty answer", func(t *testing.T) {
		f := newFixture(t, HandlerOptions{}, RouterOptions{})
		f.llm.reply = "  \n"

		w := f.post("/chat/", `{"question": "q"}`)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "", decodeAnswer(t, w))
	})

	t.Run("generation failure is a server error", func(t *testing.T) {
		f := newFixture(t, HandlerOptions{}, RouterOptions{})
		f.llm.err = errors.New("quota exceeded")

		w := f.post("/chat/", `{"question": "q"}`)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})

	t.Run("wrong method", func(t *testing.T) {
		f := newFixture(t, HandlerOptions{}, RouterOptions{})

		w := httptest.NewRecorder()
		f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/chat/", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})

	t.Run("same body gives same answer", func(t *testing.T) {
		f := newFixture(t, HandlerOptions{}, RouterOptions{})

		first := decodeAnswer(t, f.post("/chat/", `{"question": "What is X?"}`))
		second := decodeAnswer(t, f.post("/chat/", `{"question": "What is X?"}`))

		assert.Equal(t, first, second)
		assert.Equal(t, f.llm.prompts[0], f.llm.prompts[1])
	})
}

func TestChatLimits(t *testing.T) {
	t.Run("question length", func(t *testing.T) {
		f := newFixture(t, HandlerOptions{MaxQuestionLength: 5}, RouterOptions{})

		w := f.post("/chat/", `{"question": "abcdef"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Empty(t, f.retriever.calls)

		w = f.post("/chat/", `{"question": "héllo"}`)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("rate limit", func(t *testing.T) {
		f := newFixture(t, HandlerOptions{}, RouterOptions{Limiter: rate.NewLimiter(rate.Every(time.Hour), 1)})

		assert.Equal(t, http.StatusOK, f.post("/chat/", `{"question": "q"}`).Code)

		w := f.post("/chat/", `{"question": "q"}`)
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Len(t, f.retriever.calls, 1)

		health := httptest.NewRecorder()
		f.router.ServeHTTP(health, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, health.Code)
	})

	t.Run("timeout reaches the pipeline", func(t *testing.T) {
		var deadline bool
		svc := serviceFunc(func(ctx context.Context) {
			_, deadline = ctx.Deadline()
		})
		h := NewHandler(svc, zap.NewNop(), HandlerOptions{RequestTimeout: time.Minute})
		router := NewRouter(h, RouterOptions{Log: zap.NewNop()})

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/chat/", strings.NewReader(`{"question":"q"}`)))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.True(t, deadline)
	})
}

// serviceFunc is a ChatService that only inspects the context.
type serviceFunc func(ctx context.Context)

func (f serviceFunc) Ask(ctx context.Context, _ rag.Query) (*rag.Answer, error) {
	f(ctx)
	return &rag.Answer{}, nil
}

func (f serviceFunc) AskStream(ctx context.Context, _ rag.Query, _ func(string) error) (*rag.Answer, error) {
	f(ctx)
	return &rag.Answer{}, nil
}

func TestCORS(t *testing.T) {
	f := newFixture(t, HandlerOptions{}, RouterOptions{})

	t.Run("allowed origin", func(t *testing.T) {
		w := f.post("/chat/", `{"question": "q"}`, "Origin", "http://localhost:3000")

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	})

	t.Run("other origin gets no grant", func(t *testing.T) {
		w := f.post("/chat/", `{"question": "q"}`, "Origin", "http://evil.example")

		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("preflight allows any method and header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/chat/", nil)
		req.Header.Set("Origin", "http://localhost")
		req.Header.Set("Access-Control-Request-Method", http.MethodDelete)
		req.Header.Set("Access-Control-Request-Headers", "X-Custom-Header")
		w := httptest.NewRecorder()

		f.router.ServeHTTP(w, req)

		assert.Less(t, w.Code, 300)
		assert.Equal(t, "http://localhost", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), http.MethodDelete)
		assert.NotEmpty(t, w.Header().Get("Access-Control-Allow-Headers"))
		assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	})

	t.Run("no configured origins falls back to localhost", func(t *testing.T) {
		h := NewHandler(rag.NewService(&stubRetriever{}, &stubLLM{reply: "a"}), zap.NewNop(), HandlerOptions{})
		router := NewRouter(h, RouterOptions{})

		send := func(origin string) *httptest.ResponseRecorder {
			req := httptest.NewRequest(http.MethodPost, "/chat/", strings.NewReader(`{"question": "q"}`))
			req.Header.Set("Origin", origin)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			return w
		}

		assert.Empty(t, send("http://evil.example").Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "http://localhost:3000", send("http://localhost:3000").Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestChatStream(t *testing.T) {
	t.Run("streams deltas then the trimmed answer", func(t *testing.T) {
		f := newFixture(t, HandlerOptions{}, RouterOptions{})

		w := f.post("/chat/stream", `{"question": "What is X?"}`)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
		assert.Equal(t,
			"data: {\"delta\":\" X is \"}\n\n"+
				"data: {\"delta\":\"a thing. \"}\n\n"+
				"event: done\ndata: {\"answer\":\"X is a thing.\"}\n\n",
			w.Body.String())
	})

	t.Run("failure before output is a server error", func(t *testing.T) {
		f := newFixture(t, HandlerOptions{}, RouterOptions{})
		f.retriever.err = errors.New("index unavailable")

		w := f.post("/chat/stream", `{"question": "q"}`)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})

	t.Run("failure mid-stream ends with an error event", func(t *testing.T) {
		f := newFixture(t, HandlerOptions{}, RouterOptions{})
		f.llm.streamErr = errors.New("connection reset")

		w := f.post("/chat/stream", `{"question": "q"}`)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.True(t, strings.HasSuffix(w.Body.String(), "event: error\ndata: {\"error\":\"generation failed\"}\n\n"))
	})

	t.Run("bad body", func(t *testing.T) {
		f := newFixture(t, HandlerOptions{}, RouterOptions{})

		w := f.post("/chat/stream", `{}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHealthAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := newFixture(t, HandlerOptions{}, RouterOptions{Metrics: metrics.New(reg), Gatherer: reg})

	health := httptest.NewRecorder()
	f.router.ServeHTTP(health, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, health.Code)
	assert.Equal(t, "ok", health.Body.String())

	require.Equal(t, http.StatusOK, f.post("/chat/", `{"question": "q"}`).Code)

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `docs_chat_http_requests_total{code="200",route="/chat/"} 1`)
}

func TestRequestID(t *testing.T) {
	f := newFixture(t, HandlerOptions{}, RouterOptions{})

	w := f.post("/chat/", `{"question": "q"}`)
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))

	w = f.post("/chat/", `{"question": "q"}`, requestIDHeader, "abc-123")
	assert.Equal(t, "abc-123", w.Header().Get(requestIDHeader))
}

func TestAccessLog(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	log := zap.New(core)
	reg := prometheus.NewRegistry()

	f := newFixture(t, HandlerOptions{}, RouterOptions{})
	f.router = NewRouter(
		NewHandler(rag.NewService(f.retriever, f.llm), log, HandlerOptions{}),
		RouterOptions{Metrics: metrics.New(reg), Gatherer: reg, Log: log},
	)

	get := func(path string) int {
		w := httptest.NewRecorder()
		f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w.Code
	}

	require.Equal(t, http.StatusNotFound, get("/nope"))
	require.Equal(t, http.StatusMethodNotAllowed, get("/chat/"))
	require.Equal(t, http.StatusOK, f.post("/chat/", `{"question": "q"}`).Code)

	t.Run("unmatched requests are counted", func(t *testing.T) {
		body := httptest.NewRecorder()
		f.router.ServeHTTP(body, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		out := body.Body.String()

		assert.Contains(t, out, `docs_chat_http_requests_total{code="404",route="unmatched"} 1`)
		assert.Contains(t, out, `docs_chat_http_requests_total{code="405",route="unmatched"} 1`)
		assert.Contains(t, out, `docs_chat_http_requests_total{code="200",route="/chat/"} 1`)
	})

	t.Run("every request is logged", func(t *testing.T) {
		var statuses []int64
		for _, e := range logs.FilterMessage("request").All() {
			statuses = append(statuses, e.ContextMap()["status"].(int64))
		}
		assert.Subset(t, statuses, []int64{404, 405, 200})
	})

	t.Run("answer log carries the document count", func(t *testing.T) {
		answered := logs.FilterMessage("chat answered").All()
		require.Len(t, answered, 1)
		assert.Equal(t, int64(2), answered[0].ContextMap()["documents"])
	})
}
