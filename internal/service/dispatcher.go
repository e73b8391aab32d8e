package service

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/LeventeLantos/chat-delivery/internal/client"
	"github.com/LeventeLantos/chat-delivery/internal/model"
)

// Decider is the external conversation-decision service.
type Decider interface {
	Decide(ctx context.Context, req client.DecisionRequest) (client.DecisionResponse, error)
}

// Replier sends a reply through the reliable outbound path.
type Replier interface {
	Send(ctx context.Context, sessionID string, handle Transport, recipient string, content model.Content) (model.SendReceipt, error)
}

type OutcomeKind int

const (
	NoReply OutcomeKind = iota
	Reply
	DispatchFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case Reply:
		return "reply"
	case DispatchFailed:
		return "dispatch_failed"
	default:
		return "no_reply"
	}
}

// Outcome is the result of one dispatch. Text is set for Reply and Cause for
// DispatchFailed.
type Outcome struct {
	Kind  OutcomeKind
	Text  string
	Cause error
}

// Dispatcher bridges inbound messages to the decision service and relays
// replies back through the sender.
type Dispatcher struct {
	decider Decider
	replier Replier
	events  EventSink
	timeout time.Duration

	wg sync.WaitGroup
}

func NewDispatcher(decider Decider, replier Replier, events EventSink, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Dispatcher{
		decider: decider,
		replier: replier,
		events:  events,
		timeout: timeout,
	}
}

// Dispatch makes one bounded call to the decision service.
func (d *Dispatcher) Dispatch(ctx context.Context, req client.DecisionRequest) Outcome {
	dctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	resp, err := d.decider.Decide(dctx, req)
	dispatchDurationHist.Observe(time.Since(start).Seconds())

	var out Outcome
	switch {
	case err != nil:
		out = Outcome{Kind: DispatchFailed, Cause: err}
	case strings.TrimSpace(resp.Reply) == "":
		out = Outcome{Kind: NoReply}
	default:
		out = Outcome{Kind: Reply, Text: resp.Reply}
	}
	dispatchOutcomesCounter.WithLabelValues(out.Kind.String()).Inc()
	return out
}

// HandleInbound dispatches one stored inbound message. A reply is relayed on
// its own goroutine so the session's event loop is never held by retries.
func (d *Dispatcher) HandleInbound(ctx context.Context, sessionID string, handle Transport, sender, text string, media []model.MediaRef) {
	if strings.TrimSpace(text) == "" && len(media) == 0 {
		return
	}

	out := d.Dispatch(ctx, client.DecisionRequest{
		SessionID: sessionID,
		Sender:    sender,
		Text:      text,
		Media:     media,
	})

	switch out.Kind {
	case DispatchFailed:
		d.events.Emit(ctx, warn("dispatch.failed",
			slog.String("session_id", sessionID),
			slog.String("sender", sender),
			errAttr(out.Cause),
		))
	case NoReply:
		d.events.Emit(ctx, Event{Name: "dispatch.no_reply", Level: slog.LevelDebug, Attrs: []slog.Attr{
			slog.String("session_id", sessionID),
			slog.String("sender", sender),
		}})
	case Reply:
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.relay(context.WithoutCancel(ctx), sessionID, handle, sender, out.Text)
		}()
	}
}

func (d *Dispatcher) relay(ctx context.Context, sessionID string, handle Transport, sender, text string) {
	rcpt, err := d.replier.Send(ctx, sessionID, handle, sender, model.Content{Text: text})
	if err != nil {
		d.events.Emit(ctx, errorEvent("dispatch.reply_failed",
			slog.String("session_id", sessionID),
			slog.String("sender", sender),
			errAttr(err),
		))
		return
	}
	d.events.Emit(ctx, info("dispatch.replied",
		slog.String("session_id", sessionID),
		slog.String("sender", sender),
		slog.String("message_id", rcpt.MessageID),
	))
}

// Wait blocks until every in-flight reply has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
