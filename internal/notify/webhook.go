package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// WebhookSink posts replies to a chat webhook. Messages go as a JSON
// {"content": ...} body, files as a multipart upload.
type WebhookSink struct {
	url    string
	client *http.Client
}

// NewWebhookSink posts to url with the given per-request timeout.
func NewWebhookSink(url string, timeout time.Duration) *WebhookSink {
	return &WebhookSink{url: url, client: &http.Client{Timeout: timeout}}
}

// SendMessage implements Sink.
func (w *WebhookSink) SendMessage(ctx context.Context, text string) error {
	body, err := json.Marshal(map[string]string{"content": text})
	if err != nil {
		return err
	}
	return w.post(ctx, "application/json", bytes.NewReader(body))
}

// SendFile implements Sink.
func (w *WebhookSink) SendFile(ctx context.Context, name string, data []byte) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}
	return w.post(ctx, mw.FormDataContentType(), &buf)
}

func (w *WebhookSink) post(ctx context.Context, contentType string, body io.Reader) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, body)
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}
