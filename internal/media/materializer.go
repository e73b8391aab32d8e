package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/LeventeLantos/chat-delivery/internal/model"
)

var ErrEmptyMedia = errors.New("transport returned empty media")

// HTTPMaterializer downloads inbound media through the session's transport
// and uploads it to an object-storage endpoint that answers with a durable
// URL.
type HTTPMaterializer struct {
	uploadURL string
	token     string
	client    *http.Client
}

func NewHTTPMaterializer(uploadURL, token string, timeout time.Duration) *HTTPMaterializer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPMaterializer{
		uploadURL: strings.TrimRight(uploadURL, "/"),
		token:     token,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

type uploadResponse struct {
	URL string `json:"url"`
}

// Materialize returns nil when the event has no downloadable media or no
// upload endpoint is configured.
func (m *HTTPMaterializer) Materialize(ctx context.Context, sessionID string, dl model.MediaDownloader, ev model.InboundEvent) (*model.MediaRef, error) {
	payload, ct := ev.Payload.Media()
	if payload == nil || m.uploadURL == "" {
		return nil, nil
	}

	data, err := dl.DownloadMedia(ctx, ev)
	if err != nil {
		return nil, fmt.Errorf("download %s media: %w", ct, err)
	}
	if len(data) == 0 {
		return nil, ErrEmptyMedia
	}

	mtype := mimetype.Detect(data)
	mime := mtype.String()
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	if mime == "application/octet-stream" && payload.Mimetype != "" {
		mime = payload.Mimetype
	}

	object := url.PathEscape(sessionID) + "/" + uuid.NewString() + mtype.Extension()
	durable, err := m.upload(ctx, object, mime, data)
	if err != nil {
		return nil, err
	}

	return &model.MediaRef{
		URL:      durable,
		Type:     mime,
		FileName: payload.FileName,
	}, nil
}

func (m *HTTPMaterializer) upload(ctx context.Context, object, mime string, data []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, m.uploadURL+"/"+object, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mime)
	if m.token != "" {
		req.Header.Set("Authorization", "Bearer "+m.token)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("unexpected status code: %d body=%q", resp.StatusCode, string(body))
	}

	var ur uploadResponse
	if err := json.Unmarshal(body, &ur); err != nil {
		return "", fmt.Errorf("failed to decode json: %w body=%q", err, string(body))
	}
	if ur.URL == "" {
		return "", fmt.Errorf("missing url in response body=%q", string(body))
	}
	return ur.URL, nil
}
