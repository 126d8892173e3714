package billing

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/billing"
)

// Providers cap webhook payloads well under 1 MiB; anything larger is not a
// legitimate delivery.
const maxWebhookBody = 1 << 20

// signatureHeaders maps provider names to the request header carrying the
// payload signature.
var signatureHeaders = map[string]string{
	billing.ProviderStripe:       "Stripe-Signature",
	billing.ProviderPaddle:       "Paddle-Signature",
	billing.ProviderLemonSqueezy: "X-Signature",
}

// Engine is the lifecycle surface the HTTP layer drives.
type Engine interface {
	HandleWebhook(ctx context.Context, providerName string, payload []byte, signature string) (*billing.WebhookResult, error)
	CreateCheckoutSession(ctx context.Context, params billing.CheckoutParams) (*billing.CheckoutSession, error)
	CreateCustomerPortalSession(ctx context.Context, tenantID uuid.UUID, providerName, returnURL string) (*billing.PortalSession, error)
	CancelSubscription(ctx context.Context, providerName, providerSubscriptionID string) error
}

// Handler exposes the billing engine over HTTP.
type Handler struct {
	engine Engine
	log    *slog.Logger
}

// HandlerOption configures optional Handler dependencies.
type HandlerOption func(*Handler)

// WithHandlerLogger sets the logger used for request-level errors.
func WithHandlerLogger(log *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if log != nil {
			h.log = log
		}
	}
}

// NewHandler creates the HTTP handler set. Panics on nil engine.
func NewHandler(engine Engine, opts ...HandlerOption) *Handler {
	if engine == nil {
		panic("billing handler: engine is required")
	}
	h := &Handler{
		engine: engine,
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle returns the routed handler tree.
func (h *Handler) Handle() http.Handler {
	r := chi.NewRouter()
	r.Post("/webhooks/{provider}", h.handleWebhook)
	r.Post("/checkout-sessions", h.createCheckoutSession)
	r.Post("/portal-sessions", h.createPortalSession)
	r.Post("/subscriptions/{provider}/{subscriptionID}/cancel", h.cancelSubscription)
	return r
}

type webhookResponse struct {
	Processed bool   `json:"processed"`
	Duplicate bool   `json:"duplicate,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Message   string `json:"message,omitempty"`
}

// handleWebhook accepts one provider delivery. Status codes steer provider
// retry behavior: 2xx acknowledges (including duplicates and no-ops), 4xx
// marks the delivery permanently bad, 5xx asks the provider to redeliver.
func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")
	header, ok := signatureHeaders[providerName]
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown_provider", "unknown billing provider")
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "webhook payload exceeds limit")
			return
		}
		writeError(w, http.StatusBadRequest, "unreadable_payload", "could not read webhook payload")
		return
	}

	result, err := h.engine.HandleWebhook(r.Context(), providerName, payload, r.Header.Get(header))
	switch {
	case errors.Is(err, billing.ErrWebhookVerificationFailed):
		writeError(w, http.StatusBadRequest, "verification_failed", "webhook signature verification failed")
	case errors.Is(err, billing.ErrMalformedPayload):
		writeError(w, http.StatusBadRequest, "malformed_payload", "webhook payload could not be parsed")
	case errors.Is(err, billing.ErrUnknownProvider):
		writeError(w, http.StatusBadRequest, "unknown_provider", "unknown billing provider")
	case err != nil:
		h.log.ErrorContext(r.Context(), "webhook processing failed",
			"provider", providerName, "error", err)
		writeError(w, http.StatusInternalServerError, "processing_failed", "webhook processing failed, retry later")
	default:
		writeJSON(w, http.StatusOK, webhookResponse{
			Processed: result.Processed,
			Duplicate: result.Duplicate,
			EventType: result.EventType,
			Message:   result.Message,
		})
	}
}

type checkoutSessionRequest struct {
	TenantID   uuid.UUID `json:"tenant_id"`
	Provider   string    `json:"provider"`
	PriceID    string    `json:"price_id"`
	SuccessURL string    `json:"success_url"`
	CancelURL  string    `json:"cancel_url"`
}

func (req checkoutSessionRequest) validate() map[string]string {
	fields := map[string]string{}
	if req.TenantID == uuid.Nil {
		fields["tenant_id"] = "required"
	}
	if req.Provider == "" {
		fields["provider"] = "required"
	}
	if req.PriceID == "" {
		fields["price_id"] = "required"
	}
	if req.SuccessURL == "" {
		fields["success_url"] = "required"
	}
	if len(fields) == 0 {
		return nil
	}
	return fields
}

func (h *Handler) createCheckoutSession(w http.ResponseWriter, r *http.Request) {
	var req checkoutSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if fields := req.validate(); fields != nil {
		writeValidationError(w, fields)
		return
	}

	session, err := h.engine.CreateCheckoutSession(r.Context(), billing.CheckoutParams{
		TenantID:   req.TenantID,
		Provider:   req.Provider,
		PriceID:    req.PriceID,
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
	})
	switch {
	case errors.Is(err, billing.ErrUnknownProvider):
		writeError(w, http.StatusBadRequest, "unknown_provider", "unknown billing provider")
	case errors.Is(err, billing.ErrPriceNotFound):
		writeError(w, http.StatusNotFound, "price_not_found", "price is not in the catalog")
	case errors.Is(err, billing.ErrTenantNotFound):
		writeError(w, http.StatusNotFound, "tenant_not_found", "tenant does not exist")
	case err != nil:
		h.log.ErrorContext(r.Context(), "checkout session creation failed",
			"provider", req.Provider, "tenant_id", req.TenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "checkout_failed", "could not create checkout session")
	default:
		writeJSON(w, http.StatusCreated, map[string]string{
			"session_id": session.SessionID,
			"url":        session.URL,
		})
	}
}

type portalSessionRequest struct {
	TenantID  uuid.UUID `json:"tenant_id"`
	Provider  string    `json:"provider"`
	ReturnURL string    `json:"return_url"`
}

func (req portalSessionRequest) validate() map[string]string {
	fields := map[string]string{}
	if req.TenantID == uuid.Nil {
		fields["tenant_id"] = "required"
	}
	if req.Provider == "" {
		fields["provider"] = "required"
	}
	if len(fields) == 0 {
		return nil
	}
	return fields
}

func (h *Handler) createPortalSession(w http.ResponseWriter, r *http.Request) {
	var req portalSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if fields := req.validate(); fields != nil {
		writeValidationError(w, fields)
		return
	}

	session, err := h.engine.CreateCustomerPortalSession(r.Context(), req.TenantID, req.Provider, req.ReturnURL)
	switch {
	case errors.Is(err, billing.ErrUnknownProvider):
		writeError(w, http.StatusBadRequest, "unknown_provider", "unknown billing provider")
	case errors.Is(err, billing.ErrNoActiveCustomer):
		writeError(w, http.StatusNotFound, "no_payment_customer", "tenant has no payment customer at this provider")
	case err != nil:
		h.log.ErrorContext(r.Context(), "portal session creation failed",
			"provider", req.Provider, "tenant_id", req.TenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "portal_failed", "could not create portal session")
	default:
		writeJSON(w, http.StatusCreated, map[string]string{"url": session.URL})
	}
}

// cancelSubscription requests remote cancellation. The local subscription
// stays untouched until the provider's webhook confirms the transition, so
// success is 202 rather than 200.
func (h *Handler) cancelSubscription(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")
	subscriptionID := chi.URLParam(r, "subscriptionID")

	err := h.engine.CancelSubscription(r.Context(), providerName, subscriptionID)
	switch {
	case errors.Is(err, billing.ErrUnknownProvider):
		writeError(w, http.StatusBadRequest, "unknown_provider", "unknown billing provider")
	case err != nil:
		h.log.ErrorContext(r.Context(), "remote cancellation failed",
			"provider", providerName, "subscription_id", subscriptionID, "error", err)
		writeError(w, http.StatusBadGateway, "cancellation_failed", "provider rejected the cancellation request")
	default:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancellation_requested"})
	}
}

type errorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxWebhookBody)).Decode(v); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid_body", "request body is not valid JSON")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

func writeValidationError(w http.ResponseWriter, fields map[string]string) {
	writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
		Error:  "validation_failed",
		Fields: fields,
	})
}
