package memory

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"vision-agent/internal/domain"
	"vision-agent/internal/metrics"
)

// DefaultSummaryMaxChars bounds the rolling summary when no limit is given.
const DefaultSummaryMaxChars = 2000

const truncatedMarker = "...\n"

// Summarizer folds a new turn into an existing summary.
type Summarizer interface {
	Summarize(ctx context.Context, previous string, turn domain.Turn) (string, error)
}

// LocalSummarizer appends the turn to the summary and keeps only the most
// recent MaxChars characters, cut on a line boundary.
type LocalSummarizer struct {
	MaxChars int
}

func (l LocalSummarizer) Summarize(_ context.Context, previous string, turn domain.Turn) (string, error) {
	next := humanLabel + oneLine(turn.Human) + "\n" + aiLabel + oneLine(turn.AI)
	if prev := strings.TrimSpace(previous); prev != "" {
		next = prev + "\n" + next
	}
	return clampTail(next, l.MaxChars), nil
}

// clampTail keeps the end of s so that the result, marker included, is at
// most max runes long.
func clampTail(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	keep := max - utf8.RuneCountInString(truncatedMarker)
	if keep <= 0 {
		return string(r[len(r)-max:])
	}
	tail := string(r[len(r)-keep:])
	if i := strings.IndexByte(tail, '\n'); i >= 0 && i < len(tail)-1 {
		tail = tail[i+1:]
	}
	return truncatedMarker + tail
}

// Summary keeps a single rolling digest of the conversation.
type Summary struct {
	mu         sync.Mutex
	summarizer Summarizer
	fallback   LocalSummarizer
	logger     *slog.Logger
	text       string
}

// NewSummary returns an empty summary memory. When summarizer is nil or
// fails, turns are folded in with the local heuristic.
func NewSummary(summarizer Summarizer, maxChars int, logger *slog.Logger) *Summary {
	if maxChars <= 0 {
		maxChars = DefaultSummaryMaxChars
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Summary{
		summarizer: summarizer,
		fallback:   LocalSummarizer{MaxChars: maxChars},
		logger:     logger,
	}
}

func (s *Summary) Kind() domain.MemoryKind {
	return domain.MemorySummary
}

// AppendTurn holds the memory lock for the whole compression step, so
// concurrent appends to one summary are applied one after another.
func (s *Summary) AppendTurn(ctx context.Context, turn domain.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := ""
	if s.summarizer != nil {
		out, err := s.summarizer.Summarize(ctx, s.text, turn)
		switch {
		case err != nil:
			s.logger.Warn("summary compression failed, using local summary", "err", err)
		case strings.TrimSpace(out) == "":
			s.logger.Warn("summary compression returned empty text, using local summary")
		default:
			next = clampTail(strings.TrimSpace(out), s.fallback.MaxChars)
		}
	}
	if next == "" {
		if s.summarizer != nil {
			metrics.SummaryFallbacks.Inc()
		}
		next, _ = s.fallback.Summarize(ctx, s.text, turn)
	}
	s.text = next
	return nil
}

func (s *Summary) RenderContext(_ int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text
}

func (s *Summary) Stats() domain.MemoryStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	chars := utf8.RuneCountInString(s.text)
	count := 0
	if s.text != "" {
		count = 1
	}
	return domain.MemoryStats{
		MessageCount:   count,
		Characters:     chars,
		TokensEstimate: domain.EstimateTokens(chars),
		MemoryType:     domain.MemorySummary,
		Summary:        s.text,
	}
}

func (s *Summary) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.text = ""
}
