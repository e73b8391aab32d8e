package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/LeventeLantos/chat-delivery/internal/cache"
	"github.com/LeventeLantos/chat-delivery/internal/model"
	"github.com/LeventeLantos/chat-delivery/internal/phone"
)

// Transport is the per-session handle to the chat platform.
type Transport interface {
	IsAuthenticated() bool
	SendMessage(ctx context.Context, to string, content model.Content) (model.SendReceipt, error)
	RefreshPresence(ctx context.Context) error
	model.MediaDownloader
}

// OutboundStore is the part of the message store the sender writes to.
type OutboundStore interface {
	InsertOutbound(ctx context.Context, msg model.Message) (bool, error)
}

type SenderConfig struct {
	MaxAttempts    int
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	SyncMultiplier int
	AttemptTimeout time.Duration
	StoreTimeout   time.Duration
	CountryCode    string
	AddressSuffix  string
}

func (c SenderConfig) withDefaults() SenderConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Minute
	}
	if c.MaxBackoff < c.BaseBackoff {
		c.MaxBackoff = c.BaseBackoff
	}
	if c.SyncMultiplier <= 0 {
		c.SyncMultiplier = 1
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 20 * time.Second
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 5 * time.Second
	}
	return c
}

// Waiter blocks for d or until ctx is done.
type Waiter func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Sender transmits outbound messages with classified, bounded retries and
// records each confirmed transmission in the message store.
type Sender struct {
	store  OutboundStore
	seen   cache.DedupCache
	events EventSink
	cfg    SenderConfig
	wait   Waiter
	now    func() time.Time
}

func NewSender(store OutboundStore, events EventSink, cfg SenderConfig) *Sender {
	return &Sender{
		store:  store,
		seen:   cache.NoopCache{},
		events: events,
		cfg:    cfg.withDefaults(),
		wait:   sleepCtx,
		now:    time.Now,
	}
}

// WithCache marks every sent id as seen so the transport's echo of our own
// message is skipped by the inbound path.
func (s *Sender) WithCache(c cache.DedupCache) *Sender {
	if c != nil {
		s.seen = c
	}
	return s
}

func (s *Sender) WithWaiter(w Waiter) *Sender {
	if w != nil {
		s.wait = w
	}
	return s
}

// Backoff returns the delay before the given attempt (attempt >= 2). The
// sync multiplier applies once any earlier attempt failed with a sync
// error. The result never exceeds MaxBackoff.
func (s *Sender) Backoff(attempt int, synced bool) time.Duration {
	if attempt < 2 {
		return 0
	}
	limit := s.cfg.MaxBackoff
	d := s.cfg.BaseBackoff
	for i := 2; i < attempt && d < limit; i++ {
		d *= 2
	}
	if synced && d < limit {
		if m := time.Duration(s.cfg.SyncMultiplier); d > limit/m {
			d = limit
		} else {
			d *= m
		}
	}
	return min(d, limit)
}

// Send normalizes recipient, transmits content over handle and stores the
// outbound record once the transport confirms it.
func (s *Sender) Send(ctx context.Context, sessionID string, handle Transport, recipient string, content model.Content) (model.SendReceipt, error) {
	started := s.now()

	to, err := phone.Address(recipient, s.cfg.CountryCode, s.cfg.AddressSuffix)
	if err != nil {
		s.finish("invalid_number", started)
		s.events.Emit(ctx, warn("send.invalid_recipient",
			slog.String("session_id", sessionID),
			slog.String("recipient", recipient),
			errAttr(err),
		))
		return model.SendReceipt{}, err
	}

	var (
		lastErr   error
		lastClass ErrorClass
		syncSeen  bool
	)
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := s.Backoff(attempt, syncSeen)
			if err := s.wait(ctx, delay); err != nil {
				s.finish("failed", started)
				return model.SendReceipt{}, &SendFailedError{Attempts: attempt - 1, Class: lastClass, Cause: err}
			}
		}

		// Checked every attempt so a logged-out session fails fast.
		if !handle.IsAuthenticated() {
			s.finish("not_authenticated", started)
			s.events.Emit(ctx, warn("send.not_authenticated",
				slog.String("session_id", sessionID),
				slog.String("to", to),
				slog.Int("attempt", attempt),
			))
			return model.SendReceipt{}, ErrNotAuthenticated
		}

		if attempt > 1 && lastClass == ClassSyncDesync {
			s.refreshPresence(ctx, sessionID, handle, attempt)
		}

		rcpt, err := s.attempt(ctx, handle, to, content)
		elapsed := s.now().Sub(started)
		if err == nil {
			sendAttemptsCounter.WithLabelValues("ok").Inc()
			s.events.Emit(ctx, info("send.attempt",
				slog.String("session_id", sessionID),
				slog.String("to", to),
				slog.Int("attempt", attempt),
				slog.Duration("elapsed", elapsed),
				slog.String("class", "ok"),
				slog.String("message_id", rcpt.MessageID),
			))
			if rcpt.Timestamp.IsZero() {
				rcpt.Timestamp = s.now()
			}
			s.record(ctx, sessionID, to, content, rcpt)
			s.finish("ok", started)
			return rcpt, nil
		}

		class := ClassifyError(err)
		sendAttemptsCounter.WithLabelValues(string(class)).Inc()
		s.events.Emit(ctx, warn("send.attempt",
			slog.String("session_id", sessionID),
			slog.String("to", to),
			slog.Int("attempt", attempt),
			slog.Duration("elapsed", elapsed),
			slog.String("class", string(class)),
			errAttr(err),
		))
		lastErr, lastClass = err, class
		if class == ClassSyncDesync {
			syncSeen = true
		}

		if !class.Retryable() {
			s.finish("failed", started)
			return model.SendReceipt{}, &SendFailedError{Attempts: attempt, Class: class, Cause: err}
		}
	}

	s.finish("failed", started)
	s.events.Emit(ctx, errorEvent("send.exhausted",
		slog.String("session_id", sessionID),
		slog.String("to", to),
		slog.Int("attempts", s.cfg.MaxAttempts),
		slog.String("class", string(lastClass)),
		errAttr(lastErr),
	))
	return model.SendReceipt{}, &SendFailedError{Attempts: s.cfg.MaxAttempts, Class: lastClass, Cause: lastErr}
}

func (s *Sender) attempt(ctx context.Context, handle Transport, to string, content model.Content) (model.SendReceipt, error) {
	actx, cancel := context.WithTimeout(ctx, s.cfg.AttemptTimeout)
	defer cancel()
	return handle.SendMessage(actx, to, content)
}

func (s *Sender) refreshPresence(ctx context.Context, sessionID string, handle Transport, attempt int) {
	rctx, cancel := context.WithTimeout(ctx, s.cfg.AttemptTimeout)
	defer cancel()
	if err := handle.RefreshPresence(rctx); err != nil {
		s.events.Emit(ctx, warn("send.presence_refresh_failed",
			slog.String("session_id", sessionID),
			slog.Int("attempt", attempt),
			errAttr(err),
		))
	}
}

// record stores a transmitted message. Failures are logged only: the message
// has already reached the remote party.
func (s *Sender) record(ctx context.Context, sessionID, to string, content model.Content, rcpt model.SendReceipt) {
	if rcpt.MessageID == "" {
		s.events.Emit(ctx, warn("send.store_skipped",
			slog.String("session_id", sessionID),
			slog.String("to", to),
			slog.String("reason", "empty provider message id"),
		))
		return
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.StoreTimeout)
	defer cancel()

	remote, err := phone.FromAddress(to, s.cfg.CountryCode)
	if err != nil {
		remote = to
	}

	msg := model.Message{
		SessionID:         sessionID,
		ProviderMessageID: rcpt.MessageID,
		RemoteID:          remote,
		FromMe:            true,
		ContentType:       model.ContentText,
		Media:             content.Media,
		Status:            model.Sent,
		Timestamp:         rcpt.Timestamp,
	}
	if content.Text != "" {
		text := content.Text
		msg.Content = &text
	}
	if content.Media != nil {
		msg.ContentType = model.ContentTypeForMIME(content.Media.Type)
	}

	if _, err := s.store.InsertOutbound(sctx, msg); err != nil {
		s.events.Emit(ctx, errorEvent("send.store_failed",
			slog.String("session_id", sessionID),
			slog.String("message_id", rcpt.MessageID),
			errAttr(err),
		))
	}
	if err := s.seen.MarkSeen(sctx, sessionID, rcpt.MessageID); err != nil {
		s.events.Emit(ctx, warn("send.cache_failed",
			slog.String("session_id", sessionID),
			slog.String("message_id", rcpt.MessageID),
			errAttr(err),
		))
	}
}

func (s *Sender) finish(result string, started time.Time) {
	sendResultsCounter.WithLabelValues(result).Inc()
	sendDurationHist.WithLabelValues(result).Observe(s.now().Sub(started).Seconds())
}

// SendResult is delivered by SendAsync.
type SendResult struct {
	Receipt model.SendReceipt
	Err     error
}

// SendAsync runs Send on its own goroutine so a retrying send never holds up
// the caller. The channel receives exactly one result.
func (s *Sender) SendAsync(ctx context.Context, sessionID string, handle Transport, recipient string, content model.Content) <-chan SendResult {
	out := make(chan SendResult, 1)
	go func() {
		rcpt, err := s.Send(ctx, sessionID, handle, recipient, content)
		out <- SendResult{Receipt: rcpt, Err: err}
	}()
	return out
}

// IsNotAuthenticated reports whether err means the session must be paired
// again.
func IsNotAuthenticated(err error) bool {
	return errors.Is(err, ErrNotAuthenticated)
}
