package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"github.com/LeventeLantos/chat-delivery/internal/model"
	"github.com/LeventeLantos/chat-delivery/internal/phone"
	"github.com/LeventeLantos/chat-delivery/internal/repo"
	"github.com/LeventeLantos/chat-delivery/internal/service"
)

var ErrUnknownSession = errors.New("unknown session")

const reconcileParallelism = 8

var (
	inboundFailuresCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chat_delivery",
		Name:      "inbound_unrecorded_total",
		Help:      "Inbound events that could not be recorded.",
	})

	sessionStartsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chat_delivery",
		Name:      "session_starts_total",
		Help:      "Session connection attempts by result.",
	}, []string{"result"})
)

// InboundHandler processes one inbound message event.
type InboundHandler interface {
	Handle(ctx context.Context, sessionID string, ev model.InboundEvent, handle service.Transport) error
}

// StatusUpdater applies delivery receipts to stored outbound messages.
type StatusUpdater interface {
	UpdateStatus(ctx context.Context, sessionID, providerMessageID string, status model.Status) error
}

// Supervisor owns the transport connection of every session and runs one
// ordered event loop per session.
type Supervisor struct {
	registry *Registry
	sessions repo.SessionRepository
	statuses StatusUpdater
	inbound  InboundHandler
	dial     DialFunc
	logger   *slog.Logger

	countryCode string

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
	wg      sync.WaitGroup
}

func NewSupervisor(registry *Registry, sessions repo.SessionRepository, statuses StatusUpdater, inbound InboundHandler, dial DialFunc, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		registry: registry,
		sessions: sessions,
		statuses: statuses,
		inbound:  inbound,
		dial:     dial,
		logger:   logger.With("component", "session_supervisor"),
		locks:    make(map[string]*sync.Mutex),
	}
}

// WithCountryCode sets the default country code used to canonicalize the
// phone number a transport reports for its account.
func (s *Supervisor) WithCountryCode(cc string) *Supervisor {
	s.countryCode = cc
	return s
}

// lock serializes Start and Stop for one session id; different sessions
// proceed independently.
func (s *Supervisor) lock(sessionID string) func() {
	s.locksMu.Lock()
	mu, ok := s.locks[sessionID]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[sessionID] = mu
	}
	s.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

func (s *Supervisor) Registry() *Registry { return s.registry }

// Start connects the session unless it is already live. A failed dial leaves
// the session registered as disconnected so Reconcile retries it.
func (s *Supervisor) Start(ctx context.Context, sessionID, ownerID string) (model.Session, error) {
	defer s.lock(sessionID)()

	if e, ok := s.registry.entry(sessionID); ok {
		cur, _ := s.registry.Get(sessionID)
		if e.conn != nil && cur.Status != model.SessionDisconnected && cur.Status != model.SessionLoggedOut {
			return cur, nil
		}
		if ownerID == "" {
			ownerID = cur.OwnerID
		}
		if e.cancel != nil {
			e.cancel()
		}
		if e.conn != nil {
			_ = e.conn.Close()
		}
		if e.done != nil {
			<-e.done
		}
	}

	sess := model.Session{
		ID:        sessionID,
		OwnerID:   ownerID,
		Status:    model.SessionConnecting,
		UpdatedAt: time.Now().UTC(),
	}
	if prev, err := s.sessions.GetSession(ctx, sessionID); err == nil && prev != nil {
		sess.Phone = prev.Phone
		if sess.OwnerID == "" {
			sess.OwnerID = prev.OwnerID
		}
	}
	if err := s.sessions.UpsertSession(ctx, sess); err != nil {
		return model.Session{}, err
	}

	conn, err := s.dial(ctx, sessionID)
	if err != nil {
		sessionStartsCounter.WithLabelValues("dial_error").Inc()
		sess.Status = model.SessionDisconnected
		s.registry.put(&entry{session: sess})
		s.persist(ctx, sess)
		s.logger.Warn("session dial failed", "session_id", sessionID, "error", err)
		return sess, fmt.Errorf("start session %s: %w", sessionID, err)
	}
	sessionStartsCounter.WithLabelValues("ok").Inc()

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e := &entry{
		session: sess,
		conn:    conn,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	s.registry.put(e)

	s.wg.Add(1)
	go s.run(loopCtx, e)

	s.logger.Info("session started", "session_id", sessionID)
	return sess, nil
}

// Stop closes the session's connection and forgets it.
func (s *Supervisor) Stop(ctx context.Context, sessionID string) error {
	defer s.lock(sessionID)()

	e, ok := s.registry.entry(sessionID)
	if ok {
		s.registry.remove(sessionID)
	}
	if !ok {
		return ErrUnknownSession
	}

	if e.cancel != nil {
		e.cancel()
	}
	if e.conn != nil {
		_ = e.conn.Close()
	}
	if e.done != nil {
		select {
		case <-e.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	sess := e.session
	if sess.Status != model.SessionLoggedOut {
		sess.Status = model.SessionDisconnected
	}
	sess.UpdatedAt = time.Now().UTC()
	s.persist(ctx, sess)
	s.logger.Info("session stopped", "session_id", sessionID)
	return nil
}

// Resume restarts every persisted session that has not logged out. It
// returns the number of sessions connected.
func (s *Supervisor) Resume(ctx context.Context) (int, error) {
	all, err := s.sessions.ListSessions(ctx)
	if err != nil {
		return 0, err
	}

	started := 0
	for _, sess := range all {
		if sess.Status == model.SessionLoggedOut {
			continue
		}
		if _, err := s.Start(ctx, sess.ID, sess.OwnerID); err != nil {
			continue
		}
		started++
	}
	return started, nil
}

// Reconcile reconnects registered sessions whose connection has dropped.
// Sessions are redialed concurrently, at most reconcileParallelism at once.
func (s *Supervisor) Reconcile(ctx context.Context) error {
	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	g.SetLimit(reconcileParallelism)
	for _, sess := range s.registry.List() {
		if sess.Status != model.SessionDisconnected {
			continue
		}
		g.Go(func() error {
			if _, err := s.Start(ctx, sess.ID, sess.OwnerID); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Wait blocks until every event loop has returned.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

// Shutdown closes all connections and waits for their loops to finish.
func (s *Supervisor) Shutdown(ctx context.Context) {
	for _, sess := range s.registry.List() {
		if err := s.Stop(ctx, sess.ID); err != nil && !errors.Is(err, ErrUnknownSession) {
			s.logger.Warn("session stop failed", "session_id", sess.ID, "error", err)
		}
	}
	s.wg.Wait()
}

func (s *Supervisor) run(ctx context.Context, e *entry) {
	defer s.wg.Done()
	defer close(e.done)

	id := e.session.ID
	events := e.conn.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				s.ended(ctx, e)
				return
			}
			s.handle(ctx, id, e.conn, ev)
		}
	}
}

func (s *Supervisor) handle(ctx context.Context, id string, conn Conn, ev model.TransportEvent) {
	switch ev.Kind {
	case model.EventMessage:
		if ev.Message == nil {
			return
		}
		if err := s.inbound.Handle(ctx, id, *ev.Message, conn); err != nil {
			inboundFailuresCounter.Inc()
			s.logger.Error("inbound event not recorded",
				"session_id", id,
				"message_id", ev.Message.ProviderMessageID,
				"error", err,
			)
		}
	case model.EventState:
		if sess, ok := s.registry.setStatus(id, ev.State, s.canonicalPhone(id, ev.Phone)); ok {
			s.persist(ctx, sess)
			s.logger.Info("session state changed", "session_id", id, "status", ev.State)
		}
	case model.EventPairing:
		if sess, ok := s.registry.setPairingCode(id, ev.PairingCode); ok {
			s.persist(ctx, sess)
			s.logger.Info("session awaiting pairing", "session_id", id)
		}
	case model.EventReceipt:
		if ev.Receipt == nil || s.statuses == nil {
			return
		}
		if err := s.statuses.UpdateStatus(ctx, id, ev.Receipt.ProviderMessageID, ev.Receipt.Status); err != nil {
			s.logger.Warn("delivery receipt not applied",
				"session_id", id,
				"message_id", ev.Receipt.ProviderMessageID,
				"error", err,
			)
		}
	}
}

// canonicalPhone returns "" for a missing or unusable number so the known
// one is kept.
func (s *Supervisor) canonicalPhone(id, raw string) string {
	if raw == "" {
		return ""
	}
	canonical, err := phone.FromAddress(raw, s.countryCode)
	if err != nil {
		s.logger.Warn("session phone not recognised", "session_id", id, "phone", raw, "error", err)
		return ""
	}
	return canonical
}

func (s *Supervisor) ended(ctx context.Context, e *entry) {
	id := e.session.ID
	if cur, ok := s.registry.entry(id); !ok || cur != e {
		return
	}
	cur, _ := s.registry.Get(id)
	status := model.SessionDisconnected
	if cur.Status == model.SessionLoggedOut {
		status = model.SessionLoggedOut
	}
	if sess, ok := s.registry.setStatus(id, status, ""); ok {
		s.persist(ctx, sess)
	}
	s.logger.Info("session connection ended", "session_id", id, "status", status)
}

func (s *Supervisor) persist(ctx context.Context, sess model.Session) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.sessions.UpsertSession(pctx, sess); err != nil {
		s.logger.Error("session status not persisted", "session_id", sess.ID, "status", sess.Status, "error", err)
	}
}
