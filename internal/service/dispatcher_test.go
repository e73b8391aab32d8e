package service_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeventeLantos/chat-delivery/internal/client"
	"github.com/LeventeLantos/chat-delivery/internal/logger"
	"github.com/LeventeLantos/chat-delivery/internal/model"
	"github.com/LeventeLantos/chat-delivery/internal/service"
)

func TestDispatcher_Dispatch_MapsOutcomes(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	sender := service.NewSender(newFakeStore(), sink, defaultSenderConfig())

	out := service.NewDispatcher(&fakeDecider{reply: "On it."}, sender, sink, time.Second).
		Dispatch(context.Background(), client.DecisionRequest{SessionID: "s1", Sender: "27821234567", Text: "hi"})
	assert.Equal(t, service.Reply, out.Kind)
	assert.Equal(t, "On it.", out.Text)

	out = service.NewDispatcher(&fakeDecider{reply: "  "}, sender, sink, time.Second).
		Dispatch(context.Background(), client.DecisionRequest{})
	assert.Equal(t, service.NoReply, out.Kind)

	cause := errors.New("503")
	out = service.NewDispatcher(&fakeDecider{err: cause}, sender, sink, time.Second).
		Dispatch(context.Background(), client.DecisionRequest{})
	assert.Equal(t, service.DispatchFailed, out.Kind)
	assert.ErrorIs(t, out.Cause, cause)
	assert.Equal(t, "dispatch_failed", out.Kind.String())
}

func TestDispatcher_HandleInbound_RelaysReply(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	sink := &recordingSink{}
	ft := newFakeTransport()
	decider := &fakeDecider{reply: "Thanks, a technician is on the way."}
	sender := service.NewSender(store, sink, defaultSenderConfig())
	d := service.NewDispatcher(decider, sender, sink, time.Second)

	media := []model.MediaRef{{URL: "https://cdn.example.com/a.jpg", Type: "image/jpeg"}}
	d.HandleInbound(context.Background(), "s1", ft, "27821234567", "geyser burst", media)
	d.Wait()

	reqs := decider.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, client.DecisionRequest{SessionID: "s1", Sender: "27821234567", Text: "geyser burst", Media: media}, reqs[0])

	assert.Equal(t, []string{"27821234567@s.whatsapp.net"}, ft.sentTo)
	require.Len(t, ft.contents, 1)
	assert.Equal(t, "Thanks, a technician is on the way.", ft.contents[0].Text)

	out := store.outboundRecords()
	require.Len(t, out, 1)
	assert.Equal(t, "27821234567", out[0].RemoteID)
	assert.Len(t, sink.named("dispatch.replied"), 1)
}

func TestDispatcher_HandleInbound_ReplyOutlivesCallerContext(t *testing.T) {
	t.Parallel()

	ft := newFakeTransport()
	sink := &recordingSink{}
	sender := service.NewSender(newFakeStore(), sink, defaultSenderConfig())
	d := service.NewDispatcher(&fakeDecider{reply: "ok"}, sender, sink, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	d.HandleInbound(ctx, "s1", ft, "27821234567", "hi", nil)
	cancel()
	d.Wait()

	assert.Equal(t, 1, ft.calls())
}

func TestDispatcher_HandleInbound_NoReplyDoesNotSend(t *testing.T) {
	t.Parallel()

	ft := newFakeTransport()
	sink := &recordingSink{}
	sender := service.NewSender(newFakeStore(), sink, defaultSenderConfig())
	d := service.NewDispatcher(&fakeDecider{}, sender, sink, time.Second)

	d.HandleInbound(context.Background(), "s1", ft, "27821234567", "thanks!", nil)
	d.Wait()

	assert.Zero(t, ft.calls())
}

func TestDispatcher_HandleInbound_ReplyFailureIsLogged(t *testing.T) {
	t.Parallel()

	ft := newFakeTransport()
	ft.authenticated.Store(false)
	sink := &recordingSink{}
	sender := service.NewSender(newFakeStore(), sink, defaultSenderConfig())
	d := service.NewDispatcher(&fakeDecider{reply: "hello"}, sender, sink, time.Second)

	d.HandleInbound(context.Background(), "s1", ft, "27821234567", "hi", nil)
	d.Wait()

	failed := sink.named("dispatch.reply_failed")
	require.Len(t, failed, 1)
	msg, _ := failed[0].Get("error")
	assert.Contains(t, msg, "not authenticated")
}

func TestDispatcher_HandleInbound_SkipsEmptyContent(t *testing.T) {
	t.Parallel()

	decider := &fakeDecider{reply: "?"}
	sink := &recordingSink{}
	d := service.NewDispatcher(decider, service.NewSender(newFakeStore(), sink, defaultSenderConfig()), sink, time.Second)

	d.HandleInbound(context.Background(), "s1", newFakeTransport(), "27821234567", "  ", nil)
	d.Wait()

	assert.Empty(t, decider.requests())
}

func TestSlogSink_WritesEventName(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	sink := service.NewSlogSink(logger.NewWithWriter(&buf, "debug"))
	sink.Emit(context.Background(), service.Event{
		Name:  "send.attempt",
		Level: slog.LevelWarn,
		Attrs: []slog.Attr{slog.Int("attempt", 2), slog.String("class", "timeout")},
	})

	var rec map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec))
	assert.Equal(t, "send.attempt", rec["msg"])
	assert.Equal(t, "WARN", rec["level"])
	assert.EqualValues(t, 2, rec["attempt"])
	assert.Equal(t, "timeout", rec["class"])
}
