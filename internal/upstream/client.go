package upstream

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/uhwio/whatsappaibot/internal/domain"
)

// EmptyReplyPlaceholder replaces a blank model reply.
const EmptyReplyPlaceholder = "ok"

// Converser is the generative text dependency. The last turn is the new message.
type Converser interface {
	Converse(ctx context.Context, turns []domain.Turn) (string, error)
}

// ErrorKind is the outcome of a protected call.
type ErrorKind int

const (
	// KindNone means the call succeeded.
	KindNone ErrorKind = iota
	// KindRateLimit means the breaker is open or the quota is exhausted.
	KindRateLimit
	// KindOther means retries were exhausted or the failure was permanent.
	KindOther
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindRateLimit:
		return "rate_limit"
	default:
		return "other"
	}
}

// Config bounds retries.
type Config struct {
	MaxRetries int
	BaseSleep  time.Duration
	Timeout    time.Duration
}

// Client retries transient failures and trips the breaker on quota errors.
type Client struct {
	conv    Converser
	breaker *Breaker
	cfg     Config
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewClient wires a Converser behind breaker.
func NewClient(conv Converser, breaker *Breaker, cfg Config, logger *slog.Logger) *Client {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseSleep <= 0 {
		cfg.BaseSleep = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		conv:    conv,
		breaker: breaker,
		cfg:     cfg,
		logger:  logger,
		sleep:   sleepCtx,
	}
}

// Breaker exposes the shared breaker.
func (c *Client) Breaker() *Breaker {
	return c.breaker
}

// Call sends turns to the model and returns a non-empty reply, or the kind
// of failure.
func (c *Client) Call(ctx context.Context, turns []domain.Turn) (string, ErrorKind) {
	var reply string
	kind := c.Do(ctx, "converse", func(ctx context.Context) error {
		text, err := c.conv.Converse(ctx, turns)
		if err != nil {
			return err
		}
		reply = text
		return nil
	})
	if kind != KindNone {
		return "", kind
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		reply = EmptyReplyPlaceholder
	}
	return reply, KindNone
}

// Do runs fn under the breaker and retry policy. Each attempt gets its own
// timeout; no lock is held while fn runs.
func (c *Client) Do(ctx context.Context, op string, fn func(ctx context.Context) error) ErrorKind {
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		if ok, until := c.breaker.Allow(); !ok {
			c.logger.Debug("upstream short-circuited", "op", op, "open_until", until)
			return KindRateLimit
		}

		attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		err := fn(attemptCtx)
		cancel()
		if err == nil {
			c.breaker.Succeed()
			return KindNone
		}

		switch class := Classify(err); class {
		case ClassQuota:
			until := c.breaker.Trip()
			c.logger.Warn("upstream quota exhausted, breaker open",
				"op", op, "attempt", attempt, "open_until", until, "error", err)
			return KindRateLimit
		case ClassPermanent:
			c.logger.Warn("upstream call failed permanently", "op", op, "attempt", attempt, "error", err)
			return KindOther
		default:
			c.logger.Warn("upstream call failed, will retry",
				"op", op, "attempt", attempt, "max_attempts", c.cfg.MaxRetries, "error", err)
		}

		if attempt == c.cfg.MaxRetries {
			break
		}
		delay := c.cfg.BaseSleep * time.Duration(1<<(attempt-1))
		if err := c.sleep(ctx, delay); err != nil {
			return KindOther
		}
	}
	return KindOther
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
