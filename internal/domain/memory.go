package domain

import (
	"fmt"
	"strings"
)

// MemoryKind selects how a session remembers its conversation.
type MemoryKind string

const (
	// MemoryTranscript keeps every utterance verbatim.
	MemoryTranscript MemoryKind = "buffer"
	// MemorySummary keeps a single rolling digest.
	MemorySummary MemoryKind = "summary"
)

// ParseMemoryKind maps a wire value to a MemoryKind. An empty value yields
// def; "transcript" is accepted as an alias of "buffer".
func ParseMemoryKind(raw string, def MemoryKind) (MemoryKind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return def, nil
	case string(MemoryTranscript), "transcript":
		return MemoryTranscript, nil
	case string(MemorySummary):
		return MemorySummary, nil
	default:
		return "", fmt.Errorf("domain: unknown memory type %q", raw)
	}
}

// MemoryStats is a read-only view over a memory's contents.
type MemoryStats struct {
	MessageCount   int         `json:"message_count"`
	Characters     int         `json:"characters"`
	TokensEstimate int         `json:"tokens_estimate"`
	MemoryType     MemoryKind  `json:"memory_type"`
	Messages       []Utterance `json:"messages,omitempty"`
	Summary        string      `json:"summary,omitempty"`
}

// WithoutContent drops the raw transcript or summary from the stats.
func (s MemoryStats) WithoutContent() MemoryStats {
	s.Messages = nil
	s.Summary = ""
	return s
}

// EstimateTokens approximates a token count as one token per four
// characters. It is intentionally crude and not a tokenizer.
func EstimateTokens(chars int) int {
	return chars / 4
}
