// Package memory implements the per-session conversation memory: a verbatim
// transcript and a rolling summary behind a single interface.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"vision-agent/internal/domain"
)

// DefaultWindow is the number of recent turns rendered from a transcript
// when the caller does not ask for a specific window.
const DefaultWindow = 5

const (
	humanLabel = "Human: "
	aiLabel    = "AI: "
)

// Memory is the capability set shared by every memory kind. Implementations
// are safe for concurrent use; a turn is always appended as a pair.
type Memory interface {
	Kind() domain.MemoryKind
	AppendTurn(ctx context.Context, turn domain.Turn) error
	// RenderContext returns history formatted for a prompt, or "" when there
	// is none. window only applies to kinds with per-turn granularity.
	RenderContext(window int) string
	Stats() domain.MemoryStats
	Clear()
}

// Factory builds empty memories of a requested kind.
type Factory struct {
	summarizer      Summarizer
	summaryMaxChars int
	logger          *slog.Logger
}

// NewFactory returns a Factory. A nil summarizer makes summary memories use
// the local heuristic only.
func NewFactory(summarizer Summarizer, summaryMaxChars int, logger *slog.Logger) *Factory {
	if summaryMaxChars <= 0 {
		summaryMaxChars = DefaultSummaryMaxChars
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{
		summarizer:      summarizer,
		summaryMaxChars: summaryMaxChars,
		logger:          logger,
	}
}

func (f *Factory) New(kind domain.MemoryKind) (Memory, error) {
	switch kind {
	case domain.MemoryTranscript:
		return NewTranscript(), nil
	case domain.MemorySummary:
		return NewSummary(f.summarizer, f.summaryMaxChars, f.logger), nil
	default:
		return nil, fmt.Errorf("memory: unsupported kind %q", kind)
	}
}

func label(role domain.Role) string {
	if role == domain.RoleHuman {
		return humanLabel
	}
	return aiLabel
}

// oneLine collapses all whitespace so an utterance renders as a single line.
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
