package service_test

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/LeventeLantos/chat-delivery/internal/client"
	"github.com/LeventeLantos/chat-delivery/internal/model"
	"github.com/LeventeLantos/chat-delivery/internal/service"
)

type fakeTransport struct {
	authenticated atomic.Bool

	mu         sync.Mutex
	sendErrs   []error // returned in order; success once exhausted
	sentTo     []string
	contents   []model.Content
	refreshes  int
	refreshErr error
	afterSend  func(call int)
	download   []byte
}

func newFakeTransport(errs ...error) *fakeTransport {
	ft := &fakeTransport{sendErrs: errs}
	ft.authenticated.Store(true)
	return ft
}

func (f *fakeTransport) IsAuthenticated() bool { return f.authenticated.Load() }

func (f *fakeTransport) SendMessage(ctx context.Context, to string, content model.Content) (model.SendReceipt, error) {
	f.mu.Lock()
	call := len(f.sentTo) + 1
	f.sentTo = append(f.sentTo, to)
	f.contents = append(f.contents, content)
	var err error
	if call <= len(f.sendErrs) {
		err = f.sendErrs[call-1]
	}
	hook := f.afterSend
	f.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	if err != nil {
		return model.SendReceipt{}, err
	}
	return model.SendReceipt{
		MessageID: "OUT-" + to,
		Timestamp: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}, nil
}

func (f *fakeTransport) RefreshPresence(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	return f.refreshErr
}

func (f *fakeTransport) DownloadMedia(ctx context.Context, ev model.InboundEvent) ([]byte, error) {
	return f.download, nil
}

func (f *fakeTransport) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sentTo)
}

func (f *fakeTransport) refreshCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshes
}

type fakeStore struct {
	mu       sync.Mutex
	inbound  []model.Message
	outbound []model.Message
	keys     map[string]bool
	err      error
}

func newFakeStore() *fakeStore {
	return &fakeStore{keys: map[string]bool{}}
}

func (s *fakeStore) insert(dst *[]model.Message, msg model.Message) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	key := msg.SessionID + "/" + msg.ProviderMessageID
	if s.keys[key] {
		return false, nil
	}
	s.keys[key] = true
	*dst = append(*dst, msg)
	return true, nil
}

func (s *fakeStore) InsertInbound(ctx context.Context, msg model.Message) (bool, error) {
	return s.insert(&s.inbound, msg)
}

func (s *fakeStore) InsertOutbound(ctx context.Context, msg model.Message) (bool, error) {
	msg.FromMe = true
	return s.insert(&s.outbound, msg)
}

func (s *fakeStore) inboundCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inbound)
}

func (s *fakeStore) outboundRecords() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Message(nil), s.outbound...)
}

type recordingSink struct {
	mu     sync.Mutex
	events []service.Event
}

func (r *recordingSink) Emit(ctx context.Context, ev service.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingSink) named(name string) []service.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []service.Event
	for _, ev := range r.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

// recordingWaiter records backoff delays without sleeping.
type recordingWaiter struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (w *recordingWaiter) wait(ctx context.Context, d time.Duration) error {
	w.mu.Lock()
	w.delays = append(w.delays, d)
	w.mu.Unlock()
	return ctx.Err()
}

func (w *recordingWaiter) recorded() []time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]time.Duration(nil), w.delays...)
}

type fakeDecider struct {
	mu    sync.Mutex
	reqs  []client.DecisionRequest
	reply string
	err   error
}

func (d *fakeDecider) Decide(ctx context.Context, req client.DecisionRequest) (client.DecisionResponse, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reqs = append(d.reqs, req)
	if d.err != nil {
		return client.DecisionResponse{}, d.err
	}
	return client.DecisionResponse{Success: true, Reply: d.reply}, nil
}

func (d *fakeDecider) requests() []client.DecisionRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]client.DecisionRequest(nil), d.reqs...)
}

type fakeMaterializer struct {
	ref *model.MediaRef
	err error
}

func (m fakeMaterializer) Materialize(ctx context.Context, sessionID string, dl model.MediaDownloader, ev model.InboundEvent) (*model.MediaRef, error) {
	return m.ref, m.err
}

func defaultSenderConfig() service.SenderConfig {
	return service.SenderConfig{
		MaxAttempts:    3,
		BaseBackoff:    100 * time.Millisecond,
		SyncMultiplier: 2,
		AttemptTimeout: time.Second,
		CountryCode:    "27",
		AddressSuffix:  "@s.whatsapp.net",
	}
}
