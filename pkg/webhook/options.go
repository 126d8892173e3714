package webhook

import (
	"net/http"
	"time"
)

type sendOptions struct {
	timeout         time.Duration
	headers         map[string]string
	httpClient      *http.Client
	maxRetries      int
	backoffStrategy BackoffStrategy
	signatureSecret string
}

func defaultSendOptions() *sendOptions {
	return &sendOptions{
		timeout:         10 * time.Second,
		headers:         make(map[string]string),
		maxRetries:      3,
		backoffStrategy: DefaultBackoffStrategy(),
	}
}

// SendOption configures a single Send call.
type SendOption func(*sendOptions)

// WithTimeout caps each delivery attempt. Defaults to 10 seconds.
func WithTimeout(timeout time.Duration) SendOption {
	return func(o *sendOptions) {
		if timeout > 0 {
			o.timeout = timeout
		}
	}
}

// WithHeader adds a custom header to the request. Content-Type and the
// signature headers are set automatically.
func WithHeader(key, value string) SendOption {
	return func(o *sendOptions) {
		if key != "" && value != "" {
			o.headers[key] = value
		}
	}
}

// WithSignature signs the request with the given secret, attaching the
// X-Billingkit-Signature, X-Billingkit-Timestamp and X-Billingkit-Delivery
// headers.
func WithSignature(secret string) SendOption {
	return func(o *sendOptions) {
		o.signatureSecret = secret
	}
}

// WithMaxRetries sets how many times a failed delivery is retried.
// Defaults to 3. Permanent failures are never retried.
func WithMaxRetries(n int) SendOption {
	return func(o *sendOptions) {
		if n >= 0 {
			o.maxRetries = n
		}
	}
}

// WithNoRetry delivers exactly once.
func WithNoRetry() SendOption {
	return func(o *sendOptions) {
		o.maxRetries = 0
	}
}

// WithBackoff sets the delay strategy between retries.
func WithBackoff(strategy BackoffStrategy) SendOption {
	return func(o *sendOptions) {
		if strategy != nil {
			o.backoffStrategy = strategy
		}
	}
}

// WithHTTPClient overrides the sender's HTTP client for this call.
func WithHTTPClient(client *http.Client) SendOption {
	return func(o *sendOptions) {
		if client != nil {
			o.httpClient = client
		}
	}
}
