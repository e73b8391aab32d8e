package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/LeventeLantos/chat-delivery/internal/cache"
	"github.com/LeventeLantos/chat-delivery/internal/model"
	"github.com/LeventeLantos/chat-delivery/internal/phone"
)

// InboundStore is the part of the message store the processor writes to.
type InboundStore interface {
	InsertInbound(ctx context.Context, msg model.Message) (bool, error)
}

// MediaMaterializer turns an inbound media payload into a durable reference.
// It returns nil when the event carries nothing to download.
type MediaMaterializer interface {
	Materialize(ctx context.Context, sessionID string, dl model.MediaDownloader, ev model.InboundEvent) (*model.MediaRef, error)
}

// ConversationHandler receives every newly stored inbound message from a
// remote party.
type ConversationHandler interface {
	HandleInbound(ctx context.Context, sessionID string, handle Transport, sender, text string, media []model.MediaRef)
}

type ProcessorConfig struct {
	CountryCode  string
	MediaTimeout time.Duration
}

// Processor ingests inbound transport events for all sessions. Handle must
// be called from the session's single event loop.
type Processor struct {
	store  InboundStore
	media  MediaMaterializer
	convo  ConversationHandler
	seen   cache.DedupCache
	events EventSink
	cfg    ProcessorConfig
}

func NewProcessor(store InboundStore, media MediaMaterializer, convo ConversationHandler, events EventSink, cfg ProcessorConfig) *Processor {
	if cfg.MediaTimeout <= 0 {
		cfg.MediaTimeout = 30 * time.Second
	}
	return &Processor{
		store:  store,
		media:  media,
		convo:  convo,
		seen:   cache.NoopCache{},
		events: events,
		cfg:    cfg,
	}
}

func (p *Processor) WithCache(c cache.DedupCache) *Processor {
	if c != nil {
		p.seen = c
	}
	return p
}

// Handle stores ev and forwards it to the conversation handler. A storage
// failure is returned; every other failure is logged and absorbed.
func (p *Processor) Handle(ctx context.Context, sessionID string, ev model.InboundEvent, handle Transport) error {
	if !addressable(ev) {
		inboundEventsCounter.WithLabelValues("discarded").Inc()
		p.events.Emit(ctx, Event{Name: "inbound.discarded", Level: slog.LevelDebug, Attrs: []slog.Attr{
			slog.String("session_id", sessionID),
			slog.String("message_id", ev.ProviderMessageID),
			slog.String("remote", ev.RemoteID),
		}})
		return nil
	}

	seen, err := p.seen.Seen(ctx, sessionID, ev.ProviderMessageID)
	if err != nil {
		p.events.Emit(ctx, warn("inbound.cache_failed",
			slog.String("session_id", sessionID),
			slog.String("message_id", ev.ProviderMessageID),
			errAttr(err),
		))
	} else if seen {
		inboundEventsCounter.WithLabelValues("duplicate").Inc()
		return nil
	}

	contentType, text := ExtractContent(ev.Payload)
	sender := senderID(ev.RemoteID, p.cfg.CountryCode)

	msg := model.Message{
		SessionID:         sessionID,
		ProviderMessageID: ev.ProviderMessageID,
		RemoteID:          sender,
		FromMe:            ev.FromMe,
		ContentType:       contentType,
		Content:           text,
		Status:            model.Delivered,
		Timestamp:         ev.Timestamp,
	}
	if contentType != model.ContentText && contentType != model.ContentUnknown {
		msg.Media = p.materialize(ctx, sessionID, handle, ev)
	}

	inserted, err := p.store.InsertInbound(ctx, msg)
	if err != nil {
		inboundEventsCounter.WithLabelValues("storage_error").Inc()
		p.events.Emit(ctx, errorEvent("inbound.store_failed",
			slog.String("session_id", sessionID),
			slog.String("message_id", ev.ProviderMessageID),
			slog.String("remote", sender),
			errAttr(err),
		))
		return fmt.Errorf("store inbound %s: %w", ev.ProviderMessageID, err)
	}
	if err := p.seen.MarkSeen(ctx, sessionID, ev.ProviderMessageID); err != nil {
		p.events.Emit(ctx, warn("inbound.cache_failed",
			slog.String("session_id", sessionID),
			slog.String("message_id", ev.ProviderMessageID),
			errAttr(err),
		))
	}
	if !inserted {
		inboundEventsCounter.WithLabelValues("duplicate").Inc()
		return nil
	}
	inboundEventsCounter.WithLabelValues("stored").Inc()

	p.events.Emit(ctx, info("inbound.stored",
		slog.String("session_id", sessionID),
		slog.String("message_id", ev.ProviderMessageID),
		slog.String("remote", sender),
		slog.String("content_type", string(contentType)),
		slog.Bool("from_me", ev.FromMe),
		slog.Bool("has_media", msg.Media != nil),
	))

	// Operator-authored messages are only recorded.
	if ev.FromMe || p.convo == nil {
		return nil
	}

	var body string
	if text != nil {
		body = *text
	}
	var media []model.MediaRef
	if msg.Media != nil {
		media = append(media, *msg.Media)
	}
	p.convo.HandleInbound(ctx, sessionID, handle, sender, body, media)
	return nil
}

func (p *Processor) materialize(ctx context.Context, sessionID string, handle Transport, ev model.InboundEvent) *model.MediaRef {
	if p.media == nil {
		return nil
	}
	mctx, cancel := context.WithTimeout(ctx, p.cfg.MediaTimeout)
	defer cancel()

	ref, err := p.media.Materialize(mctx, sessionID, handle, ev)
	if err != nil {
		p.events.Emit(ctx, warn("inbound.media_failed",
			slog.String("session_id", sessionID),
			slog.String("message_id", ev.ProviderMessageID),
			errAttr(err),
		))
		return nil
	}
	return ref
}

// ExtractContent picks the content type and text of a payload: plain text,
// then extended text, then the type's caption, then a placeholder.
func ExtractContent(p model.Payload) (model.ContentType, *string) {
	if p.Conversation != "" {
		return model.ContentText, strPtr(p.Conversation)
	}
	if p.ExtendedText != nil && p.ExtendedText.Text != "" {
		return model.ContentText, strPtr(p.ExtendedText.Text)
	}
	if m, ct := p.Media(); m != nil {
		if m.Caption != "" {
			return ct, strPtr(m.Caption)
		}
		return ct, strPtr(placeholder(ct))
	}
	if p.Contact != nil {
		if p.Contact.DisplayName != "" {
			return model.ContentContact, strPtr(p.Contact.DisplayName)
		}
		return model.ContentContact, strPtr(placeholder(model.ContentContact))
	}
	if p.Location != nil {
		if p.Location.Name != "" {
			return model.ContentLocation, strPtr(p.Location.Name)
		}
		return model.ContentLocation, strPtr(placeholder(model.ContentLocation))
	}
	return model.ContentUnknown, nil
}

func placeholder(ct model.ContentType) string {
	s := string(ct)
	return "[" + strings.ToUpper(s[:1]) + s[1:] + "]"
}

func addressable(ev model.InboundEvent) bool {
	remote := strings.TrimSpace(ev.RemoteID)
	return remote != "" && ev.ProviderMessageID != "" && remote != "status@broadcast"
}

// senderID returns the canonical number for a one-to-one address and the
// address itself for anything that is not a phone number (groups).
func senderID(remote, countryCode string) string {
	if id, err := phone.FromAddress(remote, countryCode); err == nil {
		return id
	}
	return strings.TrimSpace(remote)
}

func strPtr(s string) *string { return &s }
