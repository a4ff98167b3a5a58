package memory

import (
	"context"
	"strings"
	"sync"
	"unicode/utf8"

	"vision-agent/internal/domain"
)

// Transcript keeps every utterance in arrival order. It grows without bound
// and is windowed at render time.
type Transcript struct {
	mu       sync.Mutex
	messages []domain.Utterance
}

func NewTranscript() *Transcript {
	return &Transcript{}
}

func (t *Transcript) Kind() domain.MemoryKind {
	return domain.MemoryTranscript
}

func (t *Transcript) AppendTurn(_ context.Context, turn domain.Turn) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = append(t.messages,
		domain.Utterance{Role: domain.RoleHuman, Content: turn.Human},
		domain.Utterance{Role: domain.RoleAI, Content: turn.AI},
	)
	return nil
}

// RenderContext returns the last window turns, oldest first, one labelled
// line per utterance.
func (t *Transcript) RenderContext(window int) string {
	if window <= 0 {
		window = DefaultWindow
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.messages) == 0 {
		return ""
	}
	start := len(t.messages) - 2*window
	if start < 0 {
		start = 0
	}

	var b strings.Builder
	for i, m := range t.messages[start:] {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(label(m.Role))
		b.WriteString(oneLine(m.Content))
	}
	return b.String()
}

func (t *Transcript) Stats() domain.MemoryStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	chars := 0
	for _, m := range t.messages {
		chars += utf8.RuneCountInString(m.Content)
	}
	messages := make([]domain.Utterance, len(t.messages))
	copy(messages, t.messages)

	return domain.MemoryStats{
		MessageCount:   len(t.messages),
		Characters:     chars,
		TokensEstimate: domain.EstimateTokens(chars),
		MemoryType:     domain.MemoryTranscript,
		Messages:       messages,
	}
}

func (t *Transcript) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = nil
}
