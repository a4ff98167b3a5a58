package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"vision-agent/internal/domain"
)

type stubSummarizer struct {
	out      string
	err      error
	calls    int
	previous []string
}

func (s *stubSummarizer) Summarize(_ context.Context, previous string, _ domain.Turn) (string, error) {
	s.calls++
	s.previous = append(s.previous, previous)
	return s.out, s.err
}

func appendTurns(t *testing.T, m Memory, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		require.NoError(t, m.AppendTurn(context.Background(), domain.Turn{
			Human: fmt.Sprintf("question %d", i),
			AI:    fmt.Sprintf("answer %d", i),
		}))
	}
}

func TestFactory_New(t *testing.T) {
	f := NewFactory(nil, 0, nil)

	m, err := f.New(domain.MemoryTranscript)
	require.NoError(t, err)
	require.Equal(t, domain.MemoryTranscript, m.Kind())

	m, err = f.New(domain.MemorySummary)
	require.NoError(t, err)
	require.Equal(t, domain.MemorySummary, m.Kind())

	_, err = f.New("vector")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported kind")
}

func TestFreshMemory_RendersEmpty(t *testing.T) {
	for _, m := range []Memory{NewTranscript(), NewSummary(nil, 0, nil)} {
		require.Equal(t, "", m.RenderContext(DefaultWindow), "kind=%s", m.Kind())
		stats := m.Stats()
		require.Zero(t, stats.MessageCount)
		require.Zero(t, stats.Characters)
		require.Zero(t, stats.TokensEstimate)
		require.Equal(t, m.Kind(), stats.MemoryType)
	}
}

func TestTranscript_AppendTurn_CountsPairs(t *testing.T) {
	m := NewTranscript()
	appendTurns(t, m, 3)

	stats := m.Stats()
	require.Equal(t, 6, stats.MessageCount)
	require.Len(t, stats.Messages, 6)
	require.Equal(t, domain.Utterance{Role: domain.RoleHuman, Content: "question 1"}, stats.Messages[0])
	require.Equal(t, domain.Utterance{Role: domain.RoleAI, Content: "answer 1"}, stats.Messages[1])
}

func TestTranscript_Stats_CharactersAndTokens(t *testing.T) {
	m := NewTranscript()
	require.NoError(t, m.AppendTurn(context.Background(), domain.Turn{Human: "What color is the car?", AI: "The car is red."}))

	stats := m.Stats()
	require.Equal(t, 22+15, stats.Characters)
	require.Equal(t, (22+15)/4, stats.TokensEstimate)
}

func TestTranscript_RenderContext_Window(t *testing.T) {
	m := NewTranscript()
	appendTurns(t, m, 7)

	lines := strings.Split(m.RenderContext(2), "\n")
	require.Equal(t, []string{
		"Human: question 6",
		"AI: answer 6",
		"Human: question 7",
		"AI: answer 7",
	}, lines)

	lines = strings.Split(m.RenderContext(0), "\n")
	require.Len(t, lines, 2*DefaultWindow)
	require.Equal(t, "Human: question 3", lines[0])

	lines = strings.Split(m.RenderContext(50), "\n")
	require.Len(t, lines, 14)
	require.Equal(t, "Human: question 1", lines[0])
	require.Equal(t, "AI: answer 7", lines[13])
}

func TestTranscript_RenderContext_FlattensMultilineContent(t *testing.T) {
	m := NewTranscript()
	require.NoError(t, m.AppendTurn(context.Background(), domain.Turn{Human: "line one\nline two", AI: "a\n\n b"}))

	require.Equal(t, "Human: line one line two\nAI: a b", m.RenderContext(1))
	// stored content stays verbatim
	require.Equal(t, "line one\nline two", m.Stats().Messages[0].Content)
}

func TestTranscript_Clear_KeepsKind(t *testing.T) {
	m := NewTranscript()
	appendTurns(t, m, 2)
	m.Clear()

	stats := m.Stats()
	require.Zero(t, stats.MessageCount)
	require.Zero(t, stats.Characters)
	require.Equal(t, domain.MemoryTranscript, stats.MemoryType)
	require.Equal(t, "", m.RenderContext(DefaultWindow))
}

func TestTranscript_ConcurrentAppends_StayPaired(t *testing.T) {
	m := NewTranscript()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = m.AppendTurn(context.Background(), domain.Turn{Human: fmt.Sprintf("q%d", i), AI: fmt.Sprintf("a%d", i)})
		}(i)
	}
	wg.Wait()

	msgs := m.Stats().Messages
	require.Len(t, msgs, 100)
	for i := 0; i < len(msgs); i += 2 {
		require.Equal(t, domain.RoleHuman, msgs[i].Role)
		require.Equal(t, domain.RoleAI, msgs[i+1].Role)
		require.Equal(t, "a"+strings.TrimPrefix(msgs[i].Content, "q"), msgs[i+1].Content)
	}
}

func TestSummary_LocalFallback_WhenNoSummarizer(t *testing.T) {
	m := NewSummary(nil, 0, nil)
	require.NoError(t, m.AppendTurn(context.Background(), domain.Turn{Human: "What color is the car?", AI: "The car is red."}))

	ctx := m.RenderContext(DefaultWindow)
	require.Equal(t, "Human: What color is the car?\nAI: The car is red.", ctx)

	stats := m.Stats()
	require.Equal(t, 1, stats.MessageCount)
	require.Equal(t, utf8.RuneCountInString(ctx), stats.Characters)
	require.Equal(t, ctx, stats.Summary)
	require.Nil(t, stats.Messages)
}

func TestSummary_UsesSummarizer(t *testing.T) {
	s := &stubSummarizer{out: "  The user asked about a red car.  "}
	m := NewSummary(s, 0, nil)
	appendTurns(t, m, 2)

	require.Equal(t, 2, s.calls)
	require.Equal(t, []string{"", "The user asked about a red car."}, s.previous)
	require.Equal(t, "The user asked about a red car.", m.RenderContext(0))
}

func TestSummary_SummarizerFailure_FallsBackLocally(t *testing.T) {
	s := &stubSummarizer{err: errors.New("upstream down")}
	m := NewSummary(s, 0, nil)
	appendTurns(t, m, 1)
	require.Equal(t, "Human: question 1\nAI: answer 1", m.RenderContext(0))

	s.err = nil
	s.out = "   "
	appendTurns(t, m, 1)
	require.Contains(t, m.RenderContext(0), "question 1")
	require.Equal(t, 1, m.Stats().MessageCount)
}

func TestSummary_StaysBounded(t *testing.T) {
	m := NewSummary(nil, 120, nil)
	appendTurns(t, m, 40)

	text := m.RenderContext(0)
	require.LessOrEqual(t, utf8.RuneCountInString(text), 120)
	require.True(t, strings.HasPrefix(text, truncatedMarker))
	require.True(t, strings.HasSuffix(text, "AI: answer 40"))
	require.NotContains(t, text, "question 1\n")
}

func TestSummary_ClampsModelOutput(t *testing.T) {
	s := &stubSummarizer{out: strings.Repeat("x", 500)}
	m := NewSummary(s, 100, nil)
	appendTurns(t, m, 1)
	require.LessOrEqual(t, utf8.RuneCountInString(m.RenderContext(0)), 100)
}

func TestSummary_Clear_KeepsKind(t *testing.T) {
	m := NewSummary(nil, 0, nil)
	appendTurns(t, m, 3)
	m.Clear()

	require.Equal(t, "", m.RenderContext(0))
	stats := m.Stats()
	require.Zero(t, stats.MessageCount)
	require.Zero(t, stats.Characters)
	require.Equal(t, domain.MemorySummary, stats.MemoryType)
}

func TestClampTail(t *testing.T) {
	require.Equal(t, "short", clampTail("short", 10))
	require.Equal(t, "anything", clampTail("anything", 0))
	require.Equal(t, "cdef", clampTail("abcdef", 4))
	require.Equal(t, "...\nline3", clampTail("line1\nline2\nline3", 10))
}
