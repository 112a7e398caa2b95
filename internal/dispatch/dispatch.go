// Package dispatch routes one inbound WhatsApp event through deduplication,
// per-user cooldown, mode selection, commands and the chat or image path.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uhwio/whatsappaibot/internal/domain"
	"github.com/uhwio/whatsappaibot/internal/memory"
	"github.com/uhwio/whatsappaibot/internal/store"
	"github.com/uhwio/whatsappaibot/internal/upstream"
	"github.com/uhwio/whatsappaibot/internal/whatsapp"
)

// Kind discriminates inbound events.
type Kind int

const (
	// KindText is a typed message.
	KindText Kind = iota
	// KindSelection is the answer to a choice prompt.
	KindSelection
	// KindOther is media, location, reactions and the like.
	KindOther
)

// Event is one inbound message.
type Event struct {
	MessageID   string
	From        string // raw sender; used only to reply
	Kind        Kind
	Text        string
	SelectionID string
	RawType     string
}

// Outcome is what Handle did with an event.
type Outcome string

// Outcomes reported by Handle.
const (
	OutcomeIgnored     Outcome = "ignored"
	OutcomeDuplicate   Outcome = "duplicate"
	OutcomeDropped     Outcome = "dropped"
	OutcomePrompted    Outcome = "prompted"
	OutcomeModeSet     Outcome = "mode_set"
	OutcomeHelp        Outcome = "help"
	OutcomeReset       Outcome = "reset"
	OutcomeChat        Outcome = "chat"
	OutcomeImage       Outcome = "image"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeFailed      Outcome = "failed"
	OutcomeStoreFailed Outcome = "store_failed"
)

// Deduplicator claims message ids.
type Deduplicator interface {
	MarkProcessedOnce(ctx context.Context, id string) bool
}

// CooldownGuard spaces messages from one user.
type CooldownGuard interface {
	Allow(ctx context.Context, userID string) (bool, error)
}

// SessionStore is the subset of the store the dispatcher uses.
type SessionStore interface {
	GetSession(ctx context.Context, userID string) (*domain.Session, error)
	SetMode(ctx context.Context, userID string, mode domain.Mode) error
	DeleteSession(ctx context.Context, userID string) error
	RecentTurns(ctx context.Context, userID string, n int) ([]domain.Turn, error)
	AppendExchange(ctx context.Context, userID, userText, assistantText string) error
	MarkRateLimitNotice(ctx context.Context, userID string, now time.Time, minInterval time.Duration) (bool, error)
}

// ChatClient is the protected generative text call.
type ChatClient interface {
	Call(ctx context.Context, turns []domain.Turn) (string, upstream.ErrorKind)
}

// Summarizer folds old turns after a reply.
type Summarizer interface {
	MaybeSummarize(ctx context.Context, userID string) (bool, error)
}

// ImageService generates an image and returns its uploaded media id.
type ImageService interface {
	Generate(ctx context.Context, prompt string) (string, upstream.ErrorKind)
}

// MessageChannel sends replies. Failures are logged and never retried.
type MessageChannel interface {
	SendText(ctx context.Context, to, body string) error
	SendChoicePrompt(ctx context.Context, to, body string, choices []whatsapp.Choice) error
	SendImage(ctx context.Context, to, mediaID, caption string) error
}

// UserIDer maps a raw sender to the stored user id.
type UserIDer interface {
	UserID(sender string) string
}

// Config tunes the dispatcher.
type Config struct {
	TailWindow              int
	RateLimitNoticeInterval time.Duration
}

// Deps are the dispatcher's collaborators. Images and Summarizer may be nil.
type Deps struct {
	Dedup      Deduplicator
	Cooldown   CooldownGuard
	Store      SessionStore
	Chat       ChatClient
	Summarizer Summarizer
	Images     ImageService
	Intent     IntentClassifier
	Channel    MessageChannel
	Identity   UserIDer
}

// Dispatcher handles inbound events.
type Dispatcher struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

var modeChoices = []whatsapp.Choice{
	{ID: string(domain.ModeChat), Title: "Chat"},
	{ID: string(domain.ModeImage), Title: "Images"},
}

// New creates a Dispatcher.
func New(deps Deps, cfg Config, logger *slog.Logger) *Dispatcher {
	if deps.Intent == nil {
		deps.Intent = NewKeywordClassifier(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{deps: deps, cfg: cfg, logger: logger, now: time.Now}
}

// Handle processes one event and reports what happened.
func (d *Dispatcher) Handle(ctx context.Context, ev Event) Outcome {
	log := d.logger.With("trace_id", uuid.NewString(), "message_id", ev.MessageID)

	if ev.Kind == KindOther {
		log.Info("ignoring unsupported message", "type", ev.RawType)
		return OutcomeIgnored
	}
	if ev.From == "" {
		log.Warn("event without sender")
		return OutcomeIgnored
	}

	if !d.deps.Dedup.MarkProcessedOnce(ctx, ev.MessageID) {
		log.Debug("duplicate delivery")
		return OutcomeDuplicate
	}

	userID := d.deps.Identity.UserID(ev.From)
	log = log.With("user_id", userID)

	ok, err := d.deps.Cooldown.Allow(ctx, userID)
	if err != nil {
		log.Error("cooldown check failed", "error", err)
		d.send(ctx, log, ev.From, replyFailed)
		return OutcomeStoreFailed
	}
	if !ok {
		log.Debug("message inside cooldown window")
		return OutcomeDropped
	}

	if ev.Kind == KindSelection {
		return d.handleSelection(ctx, log, ev, userID)
	}

	sess, err := d.deps.Store.GetSession(ctx, userID)
	if err != nil {
		log.Error("failed to load session", "error", err)
		d.send(ctx, log, ev.From, replyFailed)
		return OutcomeStoreFailed
	}
	if sess == nil || !sess.HasMode() {
		d.prompt(ctx, log, ev.From)
		return OutcomePrompted
	}

	text := strings.TrimSpace(ev.Text)
	if out, handled := d.handleCommand(ctx, log, ev.From, userID, text); handled {
		return out
	}

	if sess.Mode == domain.ModeImage || d.deps.Intent.WantsImage(text) {
		return d.handleImage(ctx, log, ev.From, userID, imagePrompt(text))
	}
	return d.handleChat(ctx, log, ev.From, sess, text)
}

func (d *Dispatcher) handleSelection(ctx context.Context, log *slog.Logger, ev Event, userID string) Outcome {
	mode, ok := domain.ParseMode(ev.SelectionID)
	if !ok {
		log.Warn("unknown selection", "selection_id", ev.SelectionID)
		d.prompt(ctx, log, ev.From)
		return OutcomePrompted
	}
	return d.setMode(ctx, log, ev.From, userID, mode)
}

func (d *Dispatcher) setMode(ctx context.Context, log *slog.Logger, to, userID string, mode domain.Mode) Outcome {
	if err := d.deps.Store.SetMode(ctx, userID, mode); err != nil {
		log.Error("failed to set mode", "error", err)
		d.send(ctx, log, to, replyFailed)
		return OutcomeStoreFailed
	}
	log.Info("mode set", "mode", mode)
	if mode == domain.ModeImage {
		d.send(ctx, log, to, replyModeImage)
	} else {
		d.send(ctx, log, to, replyModeChat)
	}
	return OutcomeModeSet
}

func (d *Dispatcher) handleCommand(ctx context.Context, log *slog.Logger, to, userID, text string) (Outcome, bool) {
	fields := strings.Fields(strings.ToLower(text))
	if len(fields) == 0 {
		return "", false
	}
	switch fields[0] {
	case "/reset":
		if err := d.deps.Store.DeleteSession(ctx, userID); err != nil {
			log.Error("failed to reset session", "error", err)
			d.send(ctx, log, to, replyFailed)
			return OutcomeStoreFailed, true
		}
		log.Info("session reset")
		d.send(ctx, log, to, replyReset)
		return OutcomeReset, true
	case "/mode":
		if len(fields) != 2 {
			d.send(ctx, log, to, replyModeUsage)
			return OutcomeHelp, true
		}
		mode, ok := domain.ParseMode(fields[1])
		if !ok {
			d.send(ctx, log, to, replyModeUsage)
			return OutcomeHelp, true
		}
		return d.setMode(ctx, log, to, userID, mode), true
	case "/help":
		d.send(ctx, log, to, replyHelp)
		return OutcomeHelp, true
	}
	return "", false
}

func (d *Dispatcher) handleImage(ctx context.Context, log *slog.Logger, to, userID, prompt string) Outcome {
	if prompt == "" {
		d.send(ctx, log, to, replyImageUsage)
		return OutcomeHelp
	}
	if d.deps.Images == nil {
		log.Warn("image generation not configured")
		d.send(ctx, log, to, replyFailed)
		return OutcomeFailed
	}
	mediaID, kind := d.deps.Images.Generate(ctx, prompt)
	switch kind {
	case upstream.KindNone:
		if err := d.deps.Channel.SendImage(ctx, to, mediaID, ""); err != nil {
			log.Warn("failed to send image", "error", err)
		}
		return OutcomeImage
	case upstream.KindRateLimit:
		return d.rateLimited(ctx, log, to, userID)
	default:
		d.send(ctx, log, to, replyFailed)
		return OutcomeFailed
	}
}

func (d *Dispatcher) handleChat(ctx context.Context, log *slog.Logger, to string, sess *domain.Session, text string) Outcome {
	k := d.cfg.TailWindow
	tail, err := d.deps.Store.RecentTurns(ctx, sess.UserID, k)
	if err != nil {
		log.Error("failed to load recent turns", "error", err)
		d.send(ctx, log, to, replyFailed)
		return OutcomeStoreFailed
	}

	reply, kind := d.deps.Chat.Call(ctx, memory.Assemble(sess.Summary, tail, text, k))
	switch kind {
	case upstream.KindNone:
	case upstream.KindRateLimit:
		return d.rateLimited(ctx, log, to, sess.UserID)
	default:
		d.send(ctx, log, to, replyFailed)
		return OutcomeFailed
	}

	if err := d.deps.Store.AppendExchange(ctx, sess.UserID, text, reply); err != nil {
		if !errors.Is(err, store.ErrSessionGone) {
			log.Error("failed to append exchange", "error", err)
			d.send(ctx, log, to, replyFailed)
			return OutcomeStoreFailed
		}
		log.Info("session reset while replying; exchange not stored")
	}
	d.send(ctx, log, to, reply)

	if d.deps.Summarizer != nil {
		if _, err := d.deps.Summarizer.MaybeSummarize(ctx, sess.UserID); err != nil {
			log.Warn("summarization failed", "error", err)
		}
	}
	return OutcomeChat
}

// imagePrompt strips the explicit /image command.
func imagePrompt(text string) string {
	const cmd = "/image"
	if len(text) >= len(cmd) && strings.EqualFold(text[:len(cmd)], cmd) {
		return strings.TrimSpace(text[len(cmd):])
	}
	return text
}

func (d *Dispatcher) rateLimited(ctx context.Context, log *slog.Logger, to, userID string) Outcome {
	notify, err := d.deps.Store.MarkRateLimitNotice(ctx, userID, d.now(), d.cfg.RateLimitNoticeInterval)
	if err != nil {
		log.Warn("failed to record rate limit notice", "error", err)
		notify = true
	}
	if notify {
		d.send(ctx, log, to, replyRateLimited)
	}
	return OutcomeRateLimited
}

func (d *Dispatcher) prompt(ctx context.Context, log *slog.Logger, to string) {
	if err := d.deps.Channel.SendChoicePrompt(ctx, to, replyModePrompt, modeChoices); err != nil {
		log.Warn("failed to send mode prompt", "error", err)
	}
}

func (d *Dispatcher) send(ctx context.Context, log *slog.Logger, to, body string) {
	if err := d.deps.Channel.SendText(ctx, to, body); err != nil {
		log.Warn("failed to send reply", "error", err)
	}
}
