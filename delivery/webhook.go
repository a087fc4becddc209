package delivery

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"
)

// signatureHeader carries the hex HMAC-SHA256 of the request body.
const signatureHeader = "X-Docex-Signature"

// WebhookConnector POSTs payloads to an HTTP endpoint, optionally
// signing each request body with HMAC-SHA256.
type WebhookConnector struct {
	url     string
	secret  []byte
	headers map[string]string
	client  *http.Client
}

// WebhookOption configures a WebhookConnector.
type WebhookOption func(*WebhookConnector)

// WithSigningSecret enables HMAC-SHA256 signing of request bodies.
func WithSigningSecret(secret []byte) WebhookOption {
	return func(w *WebhookConnector) { w.secret = secret }
}

// WithHeaders sets extra headers sent with every request.
func WithHeaders(h map[string]string) WebhookOption {
	return func(w *WebhookConnector) { w.headers = h }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) WebhookOption {
	return func(w *WebhookConnector) { w.client = c }
}

// NewWebhookConnector creates a webhook connector targeting url.
func NewWebhookConnector(url string, opts ...WebhookOption) *WebhookConnector {
	w := &WebhookConnector{
		url:    url,
		client: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Type returns "webhook".
func (w *WebhookConnector) Type() string { return "webhook" }

// Deliver POSTs data to the configured endpoint. Any status outside
// 2xx is a failed attempt; the response code and a body excerpt are
// returned for diagnosis either way.
func (w *WebhookConnector) Deliver(ctx context.Context, subjectID string, data []byte, metadata map[string]string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("webhook: build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Docex-Subject", subjectID)
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}
	for k, v := range metadata {
		req.Header.Set("X-Docex-Meta-"+k, v)
	}

	if len(w.secret) > 0 {
		mac := hmac.New(sha256.New, w.secret)
		mac.Write(data)
		req.Header.Set(signatureHeader, hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webhook: post to %s: %w", w.url, err)
	}
	defer resp.Body.Close()

	// Cap the echoed body; responses are diagnostic only.
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	res := &Result{
		ResponseCode: resp.StatusCode,
		ResponseData: string(body),
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return res, fmt.Errorf("webhook: endpoint returned %d", resp.StatusCode)
	}
	return res, nil
}

// Sign computes the hex HMAC-SHA256 signature for a body, exposed so
// receivers can verify webhook payloads.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
