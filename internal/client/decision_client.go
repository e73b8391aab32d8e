package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/LeventeLantos/chat-delivery/internal/model"
)

const decisionPath = "/v1/conversations/messages"

// DecisionClient calls the external conversation-decision service.
type DecisionClient struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewDecisionClient(baseURL, token string, timeout time.Duration) *DecisionClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &DecisionClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

type DecisionRequest struct {
	SessionID string           `json:"sessionId"`
	Sender    string           `json:"sender"`
	Text      string           `json:"text"`
	Media     []model.MediaRef `json:"media,omitempty"`
}

type DecisionResponse struct {
	Success bool   `json:"success"`
	Reply   string `json:"reply,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (c *DecisionClient) Decide(ctx context.Context, in DecisionRequest) (DecisionResponse, error) {
	reqBody, err := json.Marshal(in)
	if err != nil {
		return DecisionResponse{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+decisionPath, bytes.NewReader(reqBody))
	if err != nil {
		return DecisionResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return DecisionResponse{}, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return DecisionResponse{}, fmt.Errorf("unexpected status code: %d body=%q", resp.StatusCode, string(body))
	}

	var dr DecisionResponse
	if err := json.Unmarshal(body, &dr); err != nil {
		return DecisionResponse{}, fmt.Errorf("failed to decode json: %w body=%q", err, string(body))
	}
	if !dr.Success {
		return dr, fmt.Errorf("decision service reported failure: %q", dr.Error)
	}

	return dr, nil
}
