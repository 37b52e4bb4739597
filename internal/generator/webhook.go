// Package generator forwards pitch requests to the external generation webhook.
package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Request is the payload the webhook expects.
type Request struct {
	IdeaDescription string `json:"idea_description"`
	Tone            string `json:"tone"`
}

// Result is the generated pitch returned by the webhook.
type Result struct {
	Idea  string `json:"idea"`
	Tone  string `json:"tone"`
	Pitch string `json:"pitch"`
}

// StatusError reports a non-2xx webhook response.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook request failed: %d", e.StatusCode)
}

var (
	// ErrEmptyPitch indicates the webhook answered without any pitch text.
	ErrEmptyPitch = errors.New("webhook returned an empty pitch")
	// ErrInvalidResponse indicates the webhook body was not the expected JSON.
	ErrInvalidResponse = errors.New("webhook returned an invalid response")
)

const maxResponseBytes = 1 << 20

// Webhook calls the generation webhook over HTTP. It does not retry.
type Webhook struct {
	url    string
	secret string
	client *http.Client
}

// NewWebhook creates a webhook client. A zero timeout leaves the request
// bounded only by the caller's context.
func NewWebhook(url, secret string, timeout time.Duration) *Webhook {
	return &Webhook{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: timeout},
	}
}

// NewWebhookWithClient creates a webhook client around an existing HTTP client.
func NewWebhookWithClient(url, secret string, client *http.Client) *Webhook {
	return &Webhook{url: url, secret: secret, client: client}
}

// Generate sends the idea and tone to the webhook and returns its pitch.
func (w *Webhook) Generate(ctx context.Context, req Request) (Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Result{}, fmt.Errorf("marshal webhook request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build webhook request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if w.secret != "" {
		httpReq.Header.Set("X-Webhook-Secret", w.secret)
	}

	resp, err := w.client.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("call webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return Result{}, &StatusError{StatusCode: resp.StatusCode}
	}

	var result Result
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&result); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	if strings.TrimSpace(result.Pitch) == "" {
		return Result{}, ErrEmptyPitch
	}
	if strings.TrimSpace(result.Idea) == "" {
		result.Idea = req.IdeaDescription
	}
	if strings.TrimSpace(result.Tone) == "" {
		result.Tone = req.Tone
	}
	return result, nil
}
