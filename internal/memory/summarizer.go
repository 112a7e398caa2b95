package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/uhwio/whatsappaibot/internal/domain"
	"github.com/uhwio/whatsappaibot/internal/upstream"
)

// TruncationMarker ends a summary that had to be cut to fit the cap.
const TruncationMarker = "…"

var errBlankSummary = errors.New("model returned a blank summary")

// SummaryStore is the subset of the session store the summarizer needs.
type SummaryStore interface {
	GetSession(ctx context.Context, userID string) (*domain.Session, error)
	TurnRange(ctx context.Context, userID string, from, to int) ([]domain.Turn, error)
	ApplySummary(ctx context.Context, userID string, createdAt time.Time, expectedUpTo, newUpTo int, summary string, at time.Time) (bool, error)
}

// Runner executes an upstream operation under retry and breaker protection.
type Runner interface {
	Do(ctx context.Context, op string, fn func(ctx context.Context) error) upstream.ErrorKind
}

// Gate reports whether the upstream dependency is under pressure.
type Gate interface {
	Quiet() bool
}

// Config controls when and how much to fold.
type Config struct {
	TailWindow  int
	MinNewTurns int
	MaxChunk    int
	MaxChars    int
	Cooldown    time.Duration
}

// Summarizer folds turns older than the tail window into the rolling summary.
type Summarizer struct {
	store  SummaryStore
	runner Runner
	conv   upstream.Converser
	gate   Gate
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// NewSummarizer creates a Summarizer.
func NewSummarizer(store SummaryStore, runner Runner, conv upstream.Converser, gate Gate, cfg Config, logger *slog.Logger) *Summarizer {
	if cfg.MinNewTurns <= 0 {
		cfg.MinNewTurns = 24
	}
	if cfg.MaxChunk <= 0 {
		cfg.MaxChunk = 60
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = 3500
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Summarizer{
		store:  store,
		runner: runner,
		conv:   conv,
		gate:   gate,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// MaybeSummarize folds the next chunk of unsummarized turns when enough have
// piled up, the per-user cooldown has passed, and the upstream is not under
// pressure. It reports whether the summary was advanced. On any failure the
// pointer stays put and the same chunk is eligible next time.
func (s *Summarizer) MaybeSummarize(ctx context.Context, userID string) (bool, error) {
	sess, err := s.store.GetSession(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("load session: %w", err)
	}
	if sess == nil {
		return false, nil
	}

	if sess.Unsummarized(s.cfg.TailWindow) < s.cfg.MinNewTurns {
		return false, nil
	}
	now := s.now()
	if sess.LastSummaryAt != nil && now.Sub(*sess.LastSummaryAt) < s.cfg.Cooldown {
		return false, nil
	}
	if s.gate != nil && s.gate.Quiet() {
		s.logger.Debug("skipping summarization while upstream is under pressure", "user_id", userID)
		return false, nil
	}

	from := sess.SummarizedUpTo
	to := sess.TurnCount - s.cfg.TailWindow
	if to-from > s.cfg.MaxChunk {
		to = from + s.cfg.MaxChunk
	}
	chunk, err := s.store.TurnRange(ctx, userID, from, to)
	if err != nil {
		return false, fmt.Errorf("load turns: %w", err)
	}
	if len(chunk) != to-from {
		// History changed underneath us, e.g. a reset. Try again later.
		return false, nil
	}

	prompt := FoldPrompt(sess.Summary, chunk, s.cfg.MaxChars)
	var summary string
	kind := s.runner.Do(ctx, "summarize", func(ctx context.Context) error {
		text, err := s.conv.Converse(ctx, []domain.Turn{domain.UserTurn(prompt)})
		if err != nil {
			return err
		}
		if strings.TrimSpace(text) == "" {
			return errBlankSummary
		}
		summary = text
		return nil
	})
	if kind != upstream.KindNone {
		s.logger.Info("summarization deferred", "user_id", userID, "reason", kind.String())
		return false, nil
	}

	summary = Truncate(summary, s.cfg.MaxChars)
	applied, err := s.store.ApplySummary(ctx, userID, sess.CreatedAt, from, to, summary, now)
	if err != nil {
		return false, fmt.Errorf("apply summary: %w", err)
	}
	if applied {
		s.logger.Info("conversation summarized", "user_id", userID, "summarized_up_to", to, "folded", to-from)
	}
	return applied, nil
}

// FoldPrompt asks the model to merge the existing summary with a transcript.
func FoldPrompt(summary string, turns []domain.Turn, maxChars int) string {
	if summary == "" {
		summary = "(none)"
	}
	var b strings.Builder
	b.WriteString("Update the running memory summary of this conversation.\n")
	b.WriteString("Rules:\n")
	b.WriteString("- Merge the current summary with the new transcript into one summary.\n")
	b.WriteString("- Do NOT quote verbatim.\n")
	b.WriteString("- Do NOT store phone numbers or identifiable details.\n")
	fmt.Fprintf(&b, "- Keep it under %d characters.\n\n", maxChars)
	b.WriteString("Current summary:\n")
	b.WriteString(summary)
	b.WriteString("\n\nNew transcript:\n")
	b.WriteString(Transcript(turns))
	b.WriteString("\nReturn ONLY the updated summary.")
	return b.String()
}

// Transcript renders turns one per line as "User: ..." / "Assistant: ...".
func Transcript(turns []domain.Turn) string {
	var b strings.Builder
	for _, t := range turns {
		switch t.Role {
		case domain.RoleAssistant:
			b.WriteString("Assistant: ")
		default:
			b.WriteString("User: ")
		}
		b.WriteString(strings.TrimSpace(t.Text))
		b.WriteByte('\n')
	}
	return b.String()
}

// Truncate trims s and cuts it to at most maxChars characters, ending with
// TruncationMarker when anything was dropped.
func Truncate(s string, maxChars int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= maxChars {
		return s
	}
	if maxChars <= 0 {
		return ""
	}
	keep := maxChars - utf8.RuneCountInString(TruncationMarker)
	if keep < 0 {
		keep = 0
	}
	runes := []rune(s)
	return strings.TrimRight(string(runes[:keep]), " \t\r\n") + TruncationMarker
}
