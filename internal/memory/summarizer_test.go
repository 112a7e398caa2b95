package memory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/uhwio/whatsappaibot/internal/domain"
	"github.com/uhwio/whatsappaibot/internal/store"
	"github.com/uhwio/whatsappaibot/internal/upstream"
)

type fakeConverser struct {
	mu      sync.Mutex
	calls   int
	prompts []string
	reply   string
	err     error
}

func (f *fakeConverser) Converse(_ context.Context, turns []domain.Turn) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.prompts = append(f.prompts, turns[len(turns)-1].Text)
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

type summarizerHarness struct {
	store   *store.SQLiteStore
	conv    *fakeConverser
	client  *upstream.Client
	summ    *Summarizer
	now     time.Time
	breaker *upstream.Breaker
}

func newSummarizerHarness(t *testing.T, cfg Config) *summarizerHarness {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "memory.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	h := &summarizerHarness{
		store: repo,
		conv:  &fakeConverser{reply: "user enjoys hiking"},
		now:   time.Unix(1_700_000_000, 0),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h.breaker = upstream.NewBreaker(upstream.DefaultBreakerConfig(), func() time.Time { return h.now })
	h.client = upstream.NewClient(h.conv, h.breaker, upstream.Config{MaxRetries: 1, BaseSleep: time.Millisecond, Timeout: time.Second}, logger)
	h.summ = NewSummarizer(repo, h.client, h.conv, h.breaker, cfg, logger)
	h.summ.now = func() time.Time { return h.now }
	return h
}

func (h *summarizerHarness) appendTurns(t *testing.T, userID string, pairs int) {
	t.Helper()
	ctx := context.Background()
	if err := h.store.SetMode(ctx, userID, domain.ModeChat); err != nil {
		t.Fatalf("SetMode failed: %v", err)
	}
	for i := 0; i < pairs; i++ {
		if err := h.store.AppendExchange(ctx, userID, fmt.Sprintf("question %d", i), fmt.Sprintf("answer %d", i)); err != nil {
			t.Fatalf("AppendExchange failed: %v", err)
		}
	}
}

func (h *summarizerHarness) session(t *testing.T, userID string) *domain.Session {
	t.Helper()
	sess, err := h.store.GetSession(context.Background(), userID)
	if err != nil || sess == nil {
		t.Fatalf("GetSession: sess=%v err=%v", sess, err)
	}
	return sess
}

func TestSummarizeAdvancesPointerPastTail(t *testing.T) {
	t.Parallel()
	h := newSummarizerHarness(t, Config{TailWindow: 8, MinNewTurns: 20, MaxChunk: 60, MaxChars: 3500})
	ctx := context.Background()

	h.appendTurns(t, "u1", 15) // 30 turns

	folded, err := h.summ.MaybeSummarize(ctx, "u1")
	if err != nil || !folded {
		t.Fatalf("expected fold, got folded=%v err=%v", folded, err)
	}
	sess := h.session(t, "u1")
	if sess.SummarizedUpTo != 22 {
		t.Fatalf("expected summarizedUpTo 22, got %d", sess.SummarizedUpTo)
	}
	if sess.Summary != "user enjoys hiking" || sess.LastSummaryAt == nil {
		t.Fatalf("unexpected summary state: %+v", sess)
	}
	if h.conv.calls != 1 {
		t.Fatalf("expected a single upstream call, got %d", h.conv.calls)
	}
	if !strings.Contains(h.conv.prompts[0], "User: question 0") || strings.Contains(h.conv.prompts[0], "question 11") {
		t.Fatalf("prompt must contain exactly the folded chunk:\n%s", h.conv.prompts[0])
	}

	// Below threshold: nothing happens.
	h.appendTurns(t, "u1", 3)
	h.now = h.now.Add(time.Hour)
	folded, err = h.summ.MaybeSummarize(ctx, "u1")
	if err != nil || folded {
		t.Fatalf("expected no fold below threshold, got folded=%v err=%v", folded, err)
	}
	if got := h.session(t, "u1").SummarizedUpTo; got != 22 {
		t.Fatalf("pointer moved below threshold: %d", got)
	}
	if h.conv.calls != 1 {
		t.Fatalf("no upstream call expected below threshold, got %d", h.conv.calls)
	}
}

func TestSummarizeCapsChunk(t *testing.T) {
	t.Parallel()
	h := newSummarizerHarness(t, Config{TailWindow: 4, MinNewTurns: 10, MaxChunk: 12, MaxChars: 3500})

	h.appendTurns(t, "u1", 20) // 40 turns, 36 eligible

	if folded, err := h.summ.MaybeSummarize(context.Background(), "u1"); err != nil || !folded {
		t.Fatalf("expected fold: folded=%v err=%v", folded, err)
	}
	if got := h.session(t, "u1").SummarizedUpTo; got != 12 {
		t.Fatalf("expected chunk capped at 12, got %d", got)
	}
}

func TestSummarizeRespectsCooldown(t *testing.T) {
	t.Parallel()
	h := newSummarizerHarness(t, Config{TailWindow: 2, MinNewTurns: 4, MaxChunk: 4, MaxChars: 3500, Cooldown: time.Minute})
	ctx := context.Background()

	h.appendTurns(t, "u1", 10)
	if folded, _ := h.summ.MaybeSummarize(ctx, "u1"); !folded {
		t.Fatal("expected first fold")
	}
	h.now = h.now.Add(30 * time.Second)
	if folded, _ := h.summ.MaybeSummarize(ctx, "u1"); folded {
		t.Fatal("fold inside cooldown must be skipped")
	}
	h.now = h.now.Add(31 * time.Second)
	if folded, _ := h.summ.MaybeSummarize(ctx, "u1"); !folded {
		t.Fatal("expected fold after cooldown")
	}
	if got := h.session(t, "u1").SummarizedUpTo; got != 8 {
		t.Fatalf("expected pointer at 8, got %d", got)
	}
}

func TestSummarizeSkipsWhileBreakerQuiet(t *testing.T) {
	t.Parallel()
	h := newSummarizerHarness(t, Config{TailWindow: 2, MinNewTurns: 4, MaxChunk: 60, MaxChars: 3500})

	h.appendTurns(t, "u1", 5)
	h.breaker.Trip()

	folded, err := h.summ.MaybeSummarize(context.Background(), "u1")
	if err != nil || folded {
		t.Fatalf("expected skip, got folded=%v err=%v", folded, err)
	}
	if h.conv.calls != 0 {
		t.Fatalf("no upstream call allowed while breaker is quiet, got %d", h.conv.calls)
	}
}

func TestSummarizeFailureLeavesPointer(t *testing.T) {
	t.Parallel()
	h := newSummarizerHarness(t, Config{TailWindow: 2, MinNewTurns: 4, MaxChunk: 60, MaxChars: 3500})
	ctx := context.Background()

	h.appendTurns(t, "u1", 5)
	h.conv.err = errors.New("connection reset")

	folded, err := h.summ.MaybeSummarize(ctx, "u1")
	if err != nil || folded {
		t.Fatalf("expected deferred fold, got folded=%v err=%v", folded, err)
	}
	sess := h.session(t, "u1")
	if sess.SummarizedUpTo != 0 || sess.Summary != "" || sess.LastSummaryAt != nil {
		t.Fatalf("failure must leave summary state untouched: %+v", sess)
	}

	// Same chunk is retried once upstream recovers.
	h.conv.err = nil
	if folded, _ := h.summ.MaybeSummarize(ctx, "u1"); !folded {
		t.Fatal("expected retry to fold")
	}
	if got := h.session(t, "u1").SummarizedUpTo; got != 8 {
		t.Fatalf("expected pointer at 8, got %d", got)
	}
}

func TestSummarizeBlankReplyIsFailure(t *testing.T) {
	t.Parallel()
	h := newSummarizerHarness(t, Config{TailWindow: 2, MinNewTurns: 4, MaxChunk: 60, MaxChars: 3500})

	h.appendTurns(t, "u1", 5)
	h.conv.reply = "   "

	if folded, _ := h.summ.MaybeSummarize(context.Background(), "u1"); folded {
		t.Fatal("blank summary must not be applied")
	}
	if got := h.session(t, "u1").SummarizedUpTo; got != 0 {
		t.Fatalf("pointer moved on blank summary: %d", got)
	}
}

func TestSummarizeTruncatesToCap(t *testing.T) {
	t.Parallel()
	h := newSummarizerHarness(t, Config{TailWindow: 2, MinNewTurns: 4, MaxChunk: 60, MaxChars: 50})

	h.appendTurns(t, "u1", 5)
	h.conv.reply = strings.Repeat("very long summary ", 20)

	if folded, _ := h.summ.MaybeSummarize(context.Background(), "u1"); !folded {
		t.Fatal("expected fold")
	}
	summary := h.session(t, "u1").Summary
	if n := utf8.RuneCountInString(summary); n > 50 {
		t.Fatalf("summary has %d chars, cap is 50", n)
	}
	if !strings.HasSuffix(summary, TruncationMarker) {
		t.Fatalf("expected truncation marker, got %q", summary)
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	if got := Truncate("  short  ", 10); got != "short" {
		t.Fatalf("expected trimmed text, got %q", got)
	}
	got := Truncate("héllo wörld and more", 8)
	if utf8.RuneCountInString(got) > 8 || !strings.HasSuffix(got, TruncationMarker) {
		t.Fatalf("unexpected truncation %q", got)
	}
	if got := Truncate("anything", 0); got != "" {
		t.Fatalf("zero cap must yield empty string, got %q", got)
	}
}
