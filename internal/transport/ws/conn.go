package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/LeventeLantos/chat-delivery/internal/model"
)

var ErrClosed = errors.New("transport connection closed")

const writeWait = 10 * time.Second

type Dialer struct {
	URL              string
	Token            string
	HandshakeTimeout time.Duration
	Logger           *slog.Logger
}

// Dial opens the bridge connection for one session.
func (d *Dialer) Dial(ctx context.Context, sessionID string) (*Conn, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, fmt.Errorf("parse transport url: %w", err)
	}
	q := u.Query()
	q.Set("session", sessionID)
	u.RawQuery = q.Encode()

	header := http.Header{}
	if d.Token != "" {
		header.Set("Authorization", "Bearer "+d.Token)
	}

	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
	}

	wsConn, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial transport: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial transport: %w", err)
	}

	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return newConn(sessionID, wsConn, logger.With("component", "ws_transport", "session_id", sessionID)), nil
}

// Conn is one session's bridge connection. A single goroutine reads frames;
// writes are serialized. Unsolicited frames are queued without bound and
// delivered in order on Events, so a slow consumer never delays the acks
// that in-flight requests are waiting for.
type Conn struct {
	sessionID string
	ws        *websocket.Conn
	logger    *slog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	cond    *sync.Cond
	pending map[string]chan Frame
	queue   []model.TransportEvent
	state   model.SessionStatus
	closed  bool
	err     error

	events    chan model.TransportEvent
	done      chan struct{}
	stop      chan struct{}
	doneOnce  sync.Once
	closeOnce sync.Once
}

func newConn(sessionID string, wsConn *websocket.Conn, logger *slog.Logger) *Conn {
	c := &Conn{
		sessionID: sessionID,
		ws:        wsConn,
		logger:    logger,
		pending:   make(map[string]chan Frame),
		state:     model.SessionConnecting,
		events:    make(chan model.TransportEvent),
		done:      make(chan struct{}),
		stop:      make(chan struct{}),
	}
	c.cond = sync.NewCond(&c.mu)
	go c.readLoop()
	go c.pump()
	return c
}

// Events is the session's ordered event stream. It is closed once the
// connection ends and every queued event has been delivered.
func (c *Conn) Events() <-chan model.TransportEvent { return c.events }

// Done is closed when the connection has ended.
func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) State() model.SessionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) IsAuthenticated() bool {
	return c.State() == model.SessionConnected
}

// Err returns the reason the connection ended, if it has.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Conn) SendMessage(ctx context.Context, to string, content model.Content) (model.SendReceipt, error) {
	reply, err := c.request(ctx, Frame{Type: frameSend, To: to, Content: &content})
	if err != nil {
		return model.SendReceipt{}, err
	}
	return model.SendReceipt{MessageID: reply.MessageID, Timestamp: reply.Timestamp}, nil
}

func (c *Conn) RefreshPresence(ctx context.Context) error {
	_, err := c.request(ctx, Frame{Type: framePresence})
	return err
}

func (c *Conn) DownloadMedia(ctx context.Context, ev model.InboundEvent) ([]byte, error) {
	reply, err := c.request(ctx, Frame{Type: frameDownload, Event: &ev})
	if err != nil {
		return nil, err
	}
	return reply.Data, nil
}

// Close ends the connection. Events still queued are dropped.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.stop)
		c.writeMu.Lock()
		_ = c.ws.SetWriteDeadline(time.Now().Add(time.Second))
		_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) request(ctx context.Context, f Frame) (Frame, error) {
	f.Ref = uuid.NewString()
	reply := make(chan Frame, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Frame{}, ErrClosed
	}
	c.pending[f.Ref] = reply
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, f.Ref)
		c.mu.Unlock()
	}()

	if err := c.write(ctx, f); err != nil {
		return Frame{}, err
	}

	select {
	case r := <-reply:
		if r.Type == frameError {
			if r.Error == nil {
				return Frame{}, &RemoteError{Code: "unknown", Message: "bridge returned an empty error"}
			}
			return Frame{}, &RemoteError{Code: r.Error.Code, Message: r.Error.Message}
		}
		return r, nil
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case <-c.done:
		return Frame{}, ErrClosed
	}
}

func (c *Conn) write(ctx context.Context, f Frame) error {
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.ws.WriteJSON(f)
}

func (c *Conn) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.shutdown(err)
			return
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.logger.Warn("dropping malformed frame", "error", err)
			continue
		}
		c.route(f)
	}
}

func (c *Conn) route(f Frame) {
	switch f.Type {
	case frameAck, frameError:
		c.mu.Lock()
		reply, ok := c.pending[f.Ref]
		c.mu.Unlock()
		if ok {
			reply <- f
		} else {
			c.logger.Debug("reply for unknown ref", "ref", f.Ref, "type", f.Type)
		}
	case frameMessage:
		if f.Event == nil {
			return
		}
		c.enqueue(model.TransportEvent{Kind: model.EventMessage, Message: f.Event})
	case frameState:
		c.mu.Lock()
		c.state = f.State
		c.mu.Unlock()
		c.enqueue(model.TransportEvent{Kind: model.EventState, State: f.State, Phone: f.Phone})
	case frameQR:
		c.mu.Lock()
		c.state = model.SessionAwaitingPairing
		c.mu.Unlock()
		c.enqueue(model.TransportEvent{Kind: model.EventPairing, State: model.SessionAwaitingPairing, PairingCode: f.Code})
	case frameReceipt:
		if f.Receipt == nil {
			return
		}
		c.enqueue(model.TransportEvent{Kind: model.EventReceipt, Receipt: f.Receipt})
	default:
		c.logger.Debug("ignoring frame", "type", f.Type)
	}
}

func (c *Conn) enqueue(ev model.TransportEvent) {
	c.mu.Lock()
	c.queue = append(c.queue, ev)
	c.mu.Unlock()
	c.cond.Signal()
}

func (c *Conn) pump() {
	defer close(c.events)
	for {
		c.mu.Lock()
		for len(c.queue) == 0 && !c.closed {
			c.cond.Wait()
		}
		if len(c.queue) == 0 {
			c.mu.Unlock()
			return
		}
		ev := c.queue[0]
		c.queue[0] = model.TransportEvent{}
		c.queue = c.queue[1:]
		c.mu.Unlock()

		select {
		case c.events <- ev:
		case <-c.stop:
			return
		}
	}
}

func (c *Conn) shutdown(err error) {
	c.mu.Lock()
	c.closed = true
	if c.state != model.SessionLoggedOut {
		c.state = model.SessionDisconnected
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		err = nil
	}
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()

	c.cond.Broadcast()
	c.doneOnce.Do(func() { close(c.done) })
	_ = c.ws.Close()

	if err != nil {
		c.logger.Info("transport connection ended", "error", err)
	}
}
