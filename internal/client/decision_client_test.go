package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/LeventeLantos/chat-delivery/internal/model"
)

func TestDecisionClient_Decide_Success(t *testing.T) {
	t.Parallel()

	type gotReq struct {
		Method        string
		Path          string
		ContentType   string
		Authorization string
		RequestID     string
		Body          []byte
	}

	var captured gotReq

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.Method = r.Method
		captured.Path = r.URL.Path
		captured.ContentType = r.Header.Get("Content-Type")
		captured.Authorization = r.Header.Get("Authorization")
		captured.RequestID = r.Header.Get("X-Request-ID")

		b, _ := ioReadAll(r)
		captured.Body = b

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"reply":"Thanks, we logged your incident."}`))
	}))
	defer srv.Close()

	c := NewDecisionClient(srv.URL+"/", "secret", time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	resp, err := c.Decide(ctx, DecisionRequest{
		SessionID: "s1",
		Sender:    "27821234567",
		Text:      "the geyser is leaking",
		Media:     []model.MediaRef{{URL: "https://cdn.example.com/x.jpg", Type: "image/jpeg"}},
	})
	if err != nil {
		t.Fatalf("Decide() error: %v", err)
	}
	if resp.Reply != "Thanks, we logged your incident." {
		t.Fatalf("unexpected reply %q", resp.Reply)
	}

	if captured.Method != http.MethodPost {
		t.Fatalf("expected method POST, got %q", captured.Method)
	}
	if captured.Path != "/v1/conversations/messages" {
		t.Fatalf("unexpected path %q", captured.Path)
	}
	if captured.ContentType != "application/json" {
		t.Fatalf("expected Content-Type application/json, got %q", captured.ContentType)
	}
	if captured.Authorization != "Bearer secret" {
		t.Fatalf("expected bearer token, got %q", captured.Authorization)
	}
	if captured.RequestID == "" {
		t.Fatalf("expected X-Request-ID header")
	}

	var req DecisionRequest
	if err := json.Unmarshal(captured.Body, &req); err != nil {
		t.Fatalf("failed to decode request json: %v body=%q", err, string(captured.Body))
	}
	if req.SessionID != "s1" || req.Sender != "27821234567" || req.Text != "the geyser is leaking" {
		t.Fatalf("unexpected request %+v", req)
	}
	if len(req.Media) != 1 || req.Media[0].URL != "https://cdn.example.com/x.jpg" {
		t.Fatalf("expected media refs to be forwarded, got %+v", req.Media)
	}
}

func TestDecisionClient_Decide_NoReply(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	resp, err := NewDecisionClient(srv.URL, "", time.Second).Decide(context.Background(), DecisionRequest{SessionID: "s1"})
	if err != nil {
		t.Fatalf("Decide() error: %v", err)
	}
	if resp.Reply != "" {
		t.Fatalf("expected empty reply, got %q", resp.Reply)
	}
}

func TestDecisionClient_Decide_Non2xx_ReturnsErrorWithBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	_, err := NewDecisionClient(srv.URL, "", time.Second).Decide(context.Background(), DecisionRequest{})
	if err == nil {
		t.Fatalf("expected error, got nil")
	}

	msg := err.Error()
	if !strings.Contains(msg, "unexpected status code: 502") {
		t.Fatalf("expected error to mention status code, got: %v", err)
	}
	if !strings.Contains(msg, `body="upstream down"`) {
		t.Fatalf("expected error to include body, got: %v", err)
	}
}

func TestDecisionClient_Decide_InvalidJSON_ReturnsErrorWithBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("THIS IS NOT JSON"))
	}))
	defer srv.Close()

	_, err := NewDecisionClient(srv.URL, "", time.Second).Decide(context.Background(), DecisionRequest{})
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "failed to decode json") {
		t.Fatalf("expected decode error, got: %v", err)
	}
}

func TestDecisionClient_Decide_SuccessFalse_ReturnsError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"error":"intent model unavailable"}`))
	}))
	defer srv.Close()

	_, err := NewDecisionClient(srv.URL, "", time.Second).Decide(context.Background(), DecisionRequest{})
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "intent model unavailable") {
		t.Fatalf("expected service error text, got: %v", err)
	}
}

func TestDecisionClient_Decide_ContextCanceled(t *testing.T) {
	t.Parallel()

	// Server that intentionally blocks longer than our context deadline.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewDecisionClient(srv.URL, "", time.Second).Decide(ctx, DecisionRequest{})
	if err == nil {
		t.Fatalf("expected error, got nil")
	}

	lower := strings.ToLower(err.Error())
	if !strings.Contains(lower, "context") && !strings.Contains(lower, "deadline") {
		t.Fatalf("expected context/deadline error, got: %v", err)
	}
}

func ioReadAll(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}
