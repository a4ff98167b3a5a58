package usecase

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"vision-agent/internal/domain"
	"vision-agent/internal/memory"
	"vision-agent/internal/metrics"
	"vision-agent/internal/session"
)

const (
	defaultInferenceTimeout = 30 * time.Second
	defaultMaxImageBytes    = 10 << 20
)

type InferenceClient interface {
	Describe(ctx context.Context, in domain.InferenceRequest) (string, error)
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// Options tunes the orchestrator. Zero values select defaults.
type Options struct {
	ContextWindow    int
	InferenceTimeout time.Duration
	MaxImageBytes    int
	Logger           *slog.Logger
}

// AnalyzeService resolves sessions, builds prompts from memory, calls the
// model and records the resulting turn. It never branches on memory kind.
type AnalyzeService struct {
	store            session.Store
	llm              InferenceClient
	logger           *slog.Logger
	contextWindow    int
	inferenceTimeout time.Duration
	maxImageBytes    int
}

type AnalyzeInput struct {
	Image      domain.Image
	Question   string
	SessionID  string
	MemoryKind string
}

type AnalyzeOutput struct {
	Analysis   string
	SessionID  string
	MemoryKind domain.MemoryKind
	Stats      domain.MemoryStats
}

type MemoryOutput struct {
	SessionID  string
	MemoryKind domain.MemoryKind
	Stats      domain.MemoryStats
	Created    bool
}

// NewAnalyzeService wires the orchestrator. llm may be nil, in which case
// Analyze reports the service as unavailable.
func NewAnalyzeService(store session.Store, llm InferenceClient, opts Options) (*AnalyzeService, error) {
	if store == nil {
		return nil, errors.New("usecase: session store must not be nil")
	}
	if opts.ContextWindow <= 0 {
		opts.ContextWindow = memory.DefaultWindow
	}
	if opts.InferenceTimeout <= 0 {
		opts.InferenceTimeout = defaultInferenceTimeout
	}
	if opts.MaxImageBytes <= 0 {
		opts.MaxImageBytes = defaultMaxImageBytes
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &AnalyzeService{
		store:            store,
		llm:              llm,
		logger:           opts.Logger,
		contextWindow:    opts.ContextWindow,
		inferenceTimeout: opts.InferenceTimeout,
		maxImageBytes:    opts.MaxImageBytes,
	}, nil
}

func (s *AnalyzeService) Analyze(ctx context.Context, in AnalyzeInput) (out AnalyzeOutput, err error) {
	defer func() { metrics.AnalyzeTotal.WithLabelValues(resultLabel(err)).Inc() }()

	question := normalizeQuestion(in.Question)
	if len(in.Image.Data) == 0 {
		return AnalyzeOutput{}, newError(ErrorInvalidInput, "empty_image", nil)
	}
	if len(in.Image.Data) > s.maxImageBytes {
		return AnalyzeOutput{}, newError(ErrorInvalidInput, "image_too_large", nil)
	}
	kind, err := domain.ParseMemoryKind(in.MemoryKind, "")
	if err != nil {
		return AnalyzeOutput{}, newError(ErrorInvalidInput, "invalid_memory_type", err)
	}
	if s.llm == nil {
		return AnalyzeOutput{}, newError(ErrorServiceUnavailable, "inference_not_configured", nil)
	}

	sess, created, err := s.store.Resolve(ctx, strings.TrimSpace(in.SessionID), kind)
	if err != nil {
		return AnalyzeOutput{}, newError(ErrorInternal, "session_resolve_error", err)
	}
	if created {
		s.logger.Info("created session", "session_id", sess.ID, "memory_type", sess.Kind())
	}

	history := sess.Memory.RenderContext(s.contextWindow)
	plan := buildPrompt(question, history)
	s.logger.Info("sending inference request",
		"session_id", sess.ID,
		"question_mode", question != "",
		"image_bytes", len(in.Image.Data),
		"history_chars", len(history),
	)

	callCtx, cancel := context.WithTimeout(ctx, s.inferenceTimeout)
	start := time.Now()
	answer, err := s.llm.Describe(callCtx, domain.InferenceRequest{
		Prompt:      plan.text,
		Image:       in.Image,
		MaxTokens:   plan.maxTokens,
		Temperature: plan.temperature,
	})
	cancel()
	if err != nil {
		return AnalyzeOutput{}, inferenceError(err)
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return AnalyzeOutput{}, newError(ErrorUpstream, "inference_empty_response", nil)
	}
	s.logger.Info("inference response received", "session_id", sess.ID, "elapsed", time.Since(start))

	// The reply is already paid for; record it even if the caller went away.
	appendCtx, cancelAppend := context.WithTimeout(context.WithoutCancel(ctx), s.inferenceTimeout)
	defer cancelAppend()
	if err := sess.Memory.AppendTurn(appendCtx, domain.Turn{Human: humanMessage(question), AI: answer}); err != nil {
		return AnalyzeOutput{}, newError(ErrorInternal, "memory_append_error", err)
	}

	return AnalyzeOutput{
		Analysis:   answer,
		SessionID:  sess.ID,
		MemoryKind: sess.Kind(),
		Stats:      sess.Memory.Stats().WithoutContent(),
	}, nil
}

// CurrentMemory returns the stats for id, creating a session when id is
// empty or unknown.
func (s *AnalyzeService) CurrentMemory(ctx context.Context, id string) (MemoryOutput, error) {
	sess, created, err := s.store.Resolve(ctx, strings.TrimSpace(id), "")
	if err != nil {
		return MemoryOutput{}, newError(ErrorInternal, "session_resolve_error", err)
	}
	return memoryOutput(sess, created), nil
}

func (s *AnalyzeService) MemoryStats(ctx context.Context, id string) (MemoryOutput, error) {
	sess, err := s.store.Get(ctx, strings.TrimSpace(id))
	if err != nil {
		return MemoryOutput{}, storeError(err, "session_lookup_error")
	}
	return memoryOutput(sess, false), nil
}

// ClearMemory empties the session's memory in place. The memory kind is kept.
func (s *AnalyzeService) ClearMemory(ctx context.Context, id string) (MemoryOutput, error) {
	sess, err := s.store.Get(ctx, strings.TrimSpace(id))
	if err != nil {
		return MemoryOutput{}, storeError(err, "session_lookup_error")
	}
	sess.Memory.Clear()
	s.logger.Info("cleared session memory", "session_id", sess.ID)
	return memoryOutput(sess, false), nil
}

func (s *AnalyzeService) CreateSession(ctx context.Context, memoryKind string) (MemoryOutput, error) {
	kind, err := domain.ParseMemoryKind(memoryKind, "")
	if err != nil {
		return MemoryOutput{}, newError(ErrorInvalidInput, "invalid_memory_type", err)
	}
	sess, err := s.store.Create(ctx, kind)
	if err != nil {
		return MemoryOutput{}, newError(ErrorInternal, "session_create_error", err)
	}
	s.logger.Info("created session", "session_id", sess.ID, "memory_type", sess.Kind())
	return memoryOutput(sess, true), nil
}

func (s *AnalyzeService) DeleteSession(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, strings.TrimSpace(id)); err != nil {
		return storeError(err, "session_delete_error")
	}
	s.logger.Info("deleted session", "session_id", id)
	return nil
}

func memoryOutput(sess *session.Session, created bool) MemoryOutput {
	return MemoryOutput{
		SessionID:  sess.ID,
		MemoryKind: sess.Kind(),
		Stats:      sess.Memory.Stats(),
		Created:    created,
	}
}

func storeError(err error, reason string) *Error {
	if errors.Is(err, session.ErrNotFound) {
		return newError(ErrorNotFound, "session_not_found", err)
	}
	return newError(ErrorInternal, reason, err)
}

func inferenceError(err error) *Error {
	switch {
	case errors.Is(err, domain.ErrInferenceNotConfigured):
		return newError(ErrorServiceUnavailable, "inference_not_configured", err)
	case errors.Is(err, context.DeadlineExceeded):
		return newError(ErrorUpstream, "inference_timeout", err)
	}
	if status, ok := upstreamStatusCode(err); ok && status == http.StatusTooManyRequests {
		return newError(ErrorUpstream, "inference_rate_limited", err)
	}
	return newError(ErrorUpstream, "inference_error", err)
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	var ucErr *Error
	if errors.As(err, &ucErr) {
		return string(ucErr.Code)
	}
	return string(ErrorInternal)
}
