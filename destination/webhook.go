// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package destination

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	apperrors "github.com/soothill/alert-destinations/pkg/errors"
	"github.com/soothill/alert-destinations/pkg/metrics"
)

// maxResponseBody caps how much of a webhook response is kept for logging.
const maxResponseBody = 64 * 1024

// WebhookOption configures the HTTP transport shared by webhook destinations.
type WebhookOption func(*webhookClient)

// WithTimeout overrides the request timeout.
func WithTimeout(timeout time.Duration) WebhookOption {
	return func(w *webhookClient) {
		w.client.Timeout = timeout
	}
}

// WithHTTPClient replaces the HTTP client. The client's own timeout is used
// as is.
func WithHTTPClient(client *http.Client) WebhookOption {
	return func(w *webhookClient) {
		w.client = client
	}
}

// webhookClient posts JSON payloads to incoming webhooks
type webhookClient struct {
	client *http.Client
}

func newWebhookClient(opts ...WebhookOption) *webhookClient {
	w := &webhookClient{
		client: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// post sends payload to webhookURL and classifies every failure.
//
// A completed request always yields a Response, even when the status code is
// not 200; the accompanying error then has KindStatus.
func (w *webhookClient) post(ctx context.Context, destType, webhookURL string, payload any) (*Response, error) {
	target, err := parseWebhookURL(webhookURL)
	if err != nil {
		return nil, apperrors.NewNotificationError(destType, apperrors.KindRequest, err)
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, apperrors.NewNotificationError(destType, apperrors.KindSerialization,
			fmt.Errorf("failed to marshal payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(jsonData))
	if err != nil {
		return nil, apperrors.NewNotificationError(destType, apperrors.KindRequest,
			fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			err = fmt.Errorf("%w: %w", apperrors.ErrTimeout, err)
		}
		return nil, apperrors.NewNotificationError(destType, apperrors.KindNetwork,
			apperrors.NewNetworkError("post", target.Host, err))
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, apperrors.NewNotificationError(destType, apperrors.KindNetwork,
			apperrors.NewNetworkError("read response", target.Host, err))
	}

	metrics.WebhookResponses.WithLabelValues(destType, strconv.Itoa(resp.StatusCode)).Inc()

	result := &Response{StatusCode: resp.StatusCode, Body: string(body)}
	if resp.StatusCode != http.StatusOK {
		return result, apperrors.NewStatusError(destType, resp.StatusCode)
	}
	return result, nil
}

// parseWebhookURL rejects URLs that can never be posted to.
func parseWebhookURL(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, apperrors.ErrMissingURL
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid webhook url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("invalid webhook url: unsupported scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("invalid webhook url: missing host")
	}
	return parsed, nil
}

// isTimeout reports whether a transport error is a client or context timeout.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
