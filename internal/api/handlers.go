package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/LeventeLantos/chat-delivery/internal/model"
	"github.com/LeventeLantos/chat-delivery/internal/phone"
	"github.com/LeventeLantos/chat-delivery/internal/repo"
	"github.com/LeventeLantos/chat-delivery/internal/scheduler"
	"github.com/LeventeLantos/chat-delivery/internal/service"
	"github.com/LeventeLantos/chat-delivery/internal/session"
)

// SessionControl starts and stops session connections.
type SessionControl interface {
	Start(ctx context.Context, sessionID, ownerID string) (model.Session, error)
	Stop(ctx context.Context, sessionID string) error
}

// SessionLookup reads the live session table.
type SessionLookup interface {
	Get(id string) (model.Session, bool)
	List() []model.Session
	PairingCode(id string) string
	Handle(id string) (service.Transport, bool)
}

// MessageSender runs a send on its own goroutine and delivers one result.
type MessageSender interface {
	SendAsync(ctx context.Context, sessionID string, handle service.Transport, recipient string, content model.Content) <-chan service.SendResult
}

type Handler struct {
	sched    *scheduler.Scheduler
	control  SessionControl
	sessions SessionLookup
	messages repo.MessageRepository
	sender   MessageSender
	logger   *slog.Logger
}

func NewHandler(s *scheduler.Scheduler, control SessionControl, sessions SessionLookup, messages repo.MessageRepository, sender MessageSender, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		sched:    s,
		control:  control,
		sessions: sessions,
		messages: messages,
		sender:   sender,
		logger:   logger.With("component", "api"),
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	h.writeSchedulerState(w)
}

func (h *Handler) SchedulerStart(w http.ResponseWriter, r *http.Request) {
	h.sched.Start()
	h.writeSchedulerState(w)
}

func (h *Handler) SchedulerStop(w http.ResponseWriter, r *http.Request) {
	h.sched.Stop()
	h.writeSchedulerState(w)
}

func (h *Handler) writeSchedulerState(w http.ResponseWriter) {
	body := map[string]any{
		"running":  h.sched.IsRunning(),
		"interval": h.sched.Interval().String(),
	}
	if last := h.sched.LastTick(); !last.IsZero() {
		body["lastTick"] = last
	}
	writeJSON(w, http.StatusOK, body)
}

type sessionView struct {
	model.Session
	PairingCode string `json:"pairingCode,omitempty"`
}

func (h *Handler) view(s model.Session) sessionView {
	return sessionView{Session: s, PairingCode: h.sessions.PairingCode(s.ID)}
}

func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	all := h.sessions.List()
	items := make([]sessionView, 0, len(all))
	for _, s := range all {
		items = append(items, h.view(s))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type startRequest struct {
	OwnerID string `json:"ownerId"`
}

func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req startRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	sess, err := h.control.Start(r.Context(), id, req.OwnerID)
	if err != nil {
		h.logger.WarnContext(r.Context(), "session start failed", "session_id", id, "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.view(sess))
}

func (h *Handler) StopSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.control.Stop(r.Context(), id); err != nil {
		if errors.Is(err, session.ErrUnknownSession) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": model.SessionDisconnected})
}

func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit := parseInt(r.URL.Query().Get("limit"), 50)
	offset := parseInt(r.URL.Query().Get("offset"), 0)

	items, err := h.messages.ListMessages(r.Context(), id, limit, offset)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []model.Message{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type sendRequest struct {
	To    string          `json:"to"`
	Text  string          `json:"text"`
	Media *model.MediaRef `json:"media,omitempty"`
}

// SendMessage is the user-initiated send path. The send is detached from the
// request: if the client goes away or the request times out while retries
// are still running, the send carries on and 202 is returned.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Text == "" && (req.Media == nil || req.Media.URL == "") {
		writeError(w, http.StatusBadRequest, "text or media is required")
		return
	}

	handle, ok := h.sessions.Handle(id)
	if !ok {
		if _, known := h.sessions.Get(id); known {
			writeError(w, http.StatusConflict, service.ErrNotAuthenticated.Error())
			return
		}
		writeError(w, http.StatusNotFound, session.ErrUnknownSession.Error())
		return
	}

	result := h.sender.SendAsync(context.WithoutCancel(r.Context()), id, handle, req.To, model.Content{Text: req.Text, Media: req.Media})
	select {
	case res := <-result:
		if res.Err != nil {
			writeError(w, sendStatus(res.Err), res.Err.Error())
			return
		}
		writeJSON(w, http.StatusOK, res.Receipt)
	case <-r.Context().Done():
		h.logger.WarnContext(r.Context(), "send still in progress after request ended", "session_id", id)
		writeJSON(w, http.StatusAccepted, map[string]any{"status": "pending"})
	}
}

func sendStatus(err error) int {
	var failed *service.SendFailedError
	switch {
	case errors.Is(err, phone.ErrInvalidPhoneNumber):
		return http.StatusBadRequest
	case service.IsNotAuthenticated(err):
		return http.StatusConflict
	case errors.As(err, &failed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func parseInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
