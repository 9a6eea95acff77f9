package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/josinaldojr/docs-chat-rag/internal/rag"
	"go.uber.org/zap"
)

// ChatService is the pipeline the handler drives.
type ChatService interface {
	Ask(ctx context.Context, q rag.Query) (*rag.Answer, error)
	AskStream(ctx context.Context, q rag.Query, onDelta func(string) error) (*rag.Answer, error)
}

// ChatRequest
// Body of POST /chat/. Question is a pointer so a missing field can be told
// apart from an empty string.
type ChatRequest struct {
	Question *string `json:"question" validate:"required"`
}

type ChatResponse struct {
	Answer string `json:"answer"`
}

type HandlerOptions struct {
	// MaxQuestionLength caps the question in runes; 0 means no limit.
	MaxQuestionLength int
	// RequestTimeout bounds the pipeline; 0 means no timeout.
	RequestTimeout time.Duration
}

type Handler struct {
	svc      ChatService
	log      *zap.Logger
	validate *validator.Validate
	opts     HandlerOptions
}

func NewHandler(svc ChatService, log *zap.Logger, opts HandlerOptions) *Handler {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Handler{
		svc:      svc,
		log:      log,
		validate: v,
		opts:     opts,
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	q, ok := h.decode(w, r)
	if !ok {
		return
	}

	ctx, cancel := h.pipelineContext(r)
	defer cancel()

	ans, err := h.svc.Ask(ctx, q)
	if err != nil {
		h.log.Error("chat pipeline failed", zap.String("request_id", RequestID(ctx)), zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	h.log.Info("chat answered",
		zap.String("request_id", RequestID(ctx)),
		zap.Int("documents", ans.Documents),
		zap.Int("answer_len", len(ans.Text)),
	)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(ChatResponse{Answer: ans.Text})
}

// ChatStream answers over Server-Sent Events: one "data" event per
// fragment, then a "done" event carrying the trimmed answer.
func (h *Handler) ChatStream(w http.ResponseWriter, r *http.Request) {
	q, ok := h.decode(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx, cancel := h.pipelineContext(r)
	defer cancel()

	started := false
	start := func() {
		if started {
			return
		}
		started = true
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
	}

	ans, err := h.svc.AskStream(ctx, q, func(delta string) error {
		start()
		if err := writeEvent(w, "", map[string]string{"delta": delta}); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		h.log.Error("chat stream failed", zap.String("request_id", RequestID(ctx)), zap.Error(err))
		if !started {
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		_ = writeEvent(w, "error", map[string]string{"error": "generation failed"})
		flusher.Flush()
		return
	}

	h.log.Info("chat streamed",
		zap.String("request_id", RequestID(ctx)),
		zap.Int("documents", ans.Documents),
		zap.Int("answer_len", len(ans.Text)),
	)
	start()
	_ = writeEvent(w, "done", ChatResponse{Answer: ans.Text})
	flusher.Flush()
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (rag.Query, bool) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return rag.Query{}, false
	}

	if err := h.validate.Struct(req); err != nil {
		http.Error(w, validationMessage(err), http.StatusBadRequest)
		return rag.Query{}, false
	}

	q := *req.Question
	if limit := h.opts.MaxQuestionLength; limit > 0 && utf8.RuneCountInString(q) > limit {
		http.Error(w, fmt.Sprintf("question must be at most %d characters", limit), http.StatusBadRequest)
		return rag.Query{}, false
	}

	return rag.Query{Question: q}, true
}

func (h *Handler) pipelineContext(r *http.Request) (context.Context, context.CancelFunc) {
	if h.opts.RequestTimeout > 0 {
		return context.WithTimeout(r.Context(), h.opts.RequestTimeout)
	}
	return context.WithCancel(r.Context())
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", fe.Field()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s validation failed on '%s' tag", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}

func writeEvent(w http.ResponseWriter, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if event != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
