package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/LeventeLantos/chat-delivery/internal/model"
	"github.com/LeventeLantos/chat-delivery/internal/service"
)

// Conn is a live transport connection for one session.
type Conn interface {
	service.Transport
	Events() <-chan model.TransportEvent
	Close() error
}

// DialFunc opens the transport connection for a session.
type DialFunc func(ctx context.Context, sessionID string) (Conn, error)

type entry struct {
	session     model.Session
	pairingCode string
	conn        Conn
	cancel      context.CancelFunc
	done        chan struct{}
}

// Registry holds the live sessions of this process and hands out their
// transport handles.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Handle returns the session's transport handle, if it is live.
func (r *Registry) Handle(id string) (service.Transport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok || e.conn == nil {
		return nil, false
	}
	return e.conn, true
}

// Get returns a snapshot of the session.
func (r *Registry) Get(id string) (model.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return model.Session{}, false
	}
	return e.session, true
}

func (r *Registry) PairingCode(id string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[id]; ok {
		return e.pairingCode
	}
	return ""
}

// List returns snapshots of all sessions ordered by id.
func (r *Registry) List() []model.Session {
	r.mu.RLock()
	out := make([]model.Session, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.session)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) put(e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[e.session.ID] = e
}

func (r *Registry) entry(id string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// setStatus updates the session and returns the new snapshot. An empty phone
// keeps the known one.
func (r *Registry) setStatus(id string, status model.SessionStatus, phone string) (model.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return model.Session{}, false
	}
	e.session.Status = status
	if phone != "" {
		e.session.Phone = phone
	}
	if status != model.SessionAwaitingPairing {
		e.pairingCode = ""
	}
	e.session.UpdatedAt = time.Now().UTC()
	return e.session, true
}

func (r *Registry) setPairingCode(id, code string) (model.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return model.Session{}, false
	}
	e.pairingCode = code
	e.session.Status = model.SessionAwaitingPairing
	e.session.UpdatedAt = time.Now().UTC()
	return e.session, true
}
