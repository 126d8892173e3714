package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Sender delivers JSON payloads to consumer endpoints with signing and
// bounded retries. The zero value is not usable; construct with NewSender.
type Sender struct {
	client *http.Client
}

// NewSender creates a sender with a pooled HTTP client suitable for
// repeated deliveries to the same endpoints.
func NewSender() *Sender {
	return &Sender{
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// NewSenderWithClient creates a sender using the given HTTP client.
// A nil client falls back to the default.
func NewSenderWithClient(client *http.Client) *Sender {
	if client == nil {
		return NewSender()
	}
	return &Sender{client: client}
}

// Send marshals data to JSON and POSTs it to endpoint. Temporary
// failures (network errors, 5xx, 408/425/429) are retried up to the
// configured limit with backoff between attempts; other 4xx responses
// fail immediately as permanent. The context bounds the whole call,
// including backoff sleeps.
func (s *Sender) Send(ctx context.Context, endpoint string, data any, opts ...SendOption) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("%w: marshal payload: %w", ErrInvalidPayload, err)
	}

	if err := validateEndpoint(endpoint); err != nil {
		return err
	}

	options := defaultSendOptions()
	for _, opt := range opts {
		opt(options)
	}

	client := s.client
	if options.httpClient != nil {
		client = options.httpClient
	}

	var lastErr error
	for attempt := 0; attempt <= options.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(options.backoffStrategy.NextInterval(attempt)):
			}
		}

		status, err := s.attemptDelivery(ctx, client, endpoint, payload, options)
		if err == nil {
			return nil
		}
		lastErr = err

		if isPermanentStatus(status) {
			return fmt.Errorf("%w: %w", ErrPermanentFailure, err)
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrDeliveryFailed, options.maxRetries+1, lastErr)
}

// validateEndpoint rejects non-HTTP targets before any request is made.
func validateEndpoint(endpoint string) error {
	if endpoint == "" {
		return fmt.Errorf("%w: URL is required", ErrInvalidURL)
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q is not supported", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidURL)
	}
	return nil
}

func (s *Sender) attemptDelivery(ctx context.Context, client *http.Client, endpoint string, payload []byte, options *sendOptions) (int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, options.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "billingkit/1.0")
	for k, v := range options.headers {
		req.Header.Set(k, v)
	}

	if options.signatureSecret != "" {
		sig, err := SignPayload(options.signatureSecret, payload)
		if err != nil {
			return 0, err
		}
		for k, v := range sig.Headers() {
			req.Header.Set(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		if reqCtx.Err() == context.DeadlineExceeded {
			return 0, fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		return 0, fmt.Errorf("%w: %w", ErrTemporaryFailure, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp.StatusCode, nil
	}

	// The response body tail is kept for error context; newlines are
	// stripped so the message stays a single log line.
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	msg := fmt.Sprintf("endpoint returned status %d", resp.StatusCode)
	if len(body) > 0 {
		detail := strings.ReplaceAll(string(body), "\n", " ")
		if len(detail) > 200 {
			detail = detail[:200] + "..."
		}
		msg += ": " + detail
	}
	return resp.StatusCode, fmt.Errorf("%s", msg)
}

// isPermanentStatus reports whether a status code will not change on
// retry. 408, 425 and 429 are transient despite being 4xx.
func isPermanentStatus(status int) bool {
	if status < 400 || status >= 500 {
		return false
	}
	switch status {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return false
	}
	return true
}
