package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	stripe "github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/solara-energy/api/internal/platform/httpx"
	"github.com/solara-energy/api/internal/services"
)

const (
	maxWebhookBodySize    = 64 * 1024
	stripeSignatureHeader = "Stripe-Signature"
	referenceMetadataKey  = "paymentReference"
)

// WebhookHandlers receives gateway callbacks and drives order lifecycle
// transitions. Mismatched or replayed references are acknowledged with 200 so
// the gateway stops retrying; only transient failures return 5xx.
type WebhookHandlers struct {
	orders       services.OrderService
	stripeSecret string
	logger       func(ctx context.Context, event string, fields map[string]any)
}

// WebhookHandlersDeps wires webhook handler dependencies.
type WebhookHandlersDeps struct {
	Orders              services.OrderService
	StripeSigningSecret string
	Logger              func(ctx context.Context, event string, fields map[string]any)
}

// NewWebhookHandlers constructs webhook handlers validating required dependencies.
func NewWebhookHandlers(deps WebhookHandlersDeps) (*WebhookHandlers, error) {
	if deps.Orders == nil {
		return nil, errors.New("webhook handlers: order service is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &WebhookHandlers{
		orders:       deps.Orders,
		stripeSecret: strings.TrimSpace(deps.StripeSigningSecret),
		logger:       logger,
	}, nil
}

// Routes registers webhook endpoints under the provided router.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments/stripe", h.handleStripe)
}

func (h *WebhookHandlers) handleStripe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "webhook body is required", http.StatusBadRequest))
		return
	}

	event, err := h.verifyStripeEvent(body, r.Header.Get(stripeSignatureHeader))
	if err != nil {
		h.logger(ctx, "webhooks.stripe.signature_invalid", map[string]any{"error": err.Error()})
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
		return
	}

	switch string(event.Type) {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		h.handleSessionCompleted(ctx, w, event)
	case "checkout.session.async_payment_failed", "payment_intent.payment_failed":
		h.handlePaymentFailed(ctx, w, event)
	case "checkout.session.expired":
		// A closed or expired session is a pause, not a cancellation; the
		// order stays pending so the buyer can resume payment.
		h.logger(ctx, "webhooks.stripe.session_expired", map[string]any{"eventId": event.ID})
		writeJSONResponse(w, http.StatusOK, map[string]any{"received": true})
	default:
		h.logger(ctx, "webhooks.stripe.ignored", map[string]any{"type": string(event.Type)})
		writeJSONResponse(w, http.StatusOK, map[string]any{"received": true})
	}
}

func (h *WebhookHandlers) verifyStripeEvent(body []byte, signature string) (stripe.Event, error) {
	if h.stripeSecret == "" {
		// No signing secret configured (local development with the CLI
		// forwarding); accept the payload as-is.
		var event stripe.Event
		if err := json.Unmarshal(body, &event); err != nil {
			return stripe.Event{}, err
		}
		return event, nil
	}
	return webhook.ConstructEvent(body, signature, h.stripeSecret)
}

func (h *WebhookHandlers) handleSessionCompleted(ctx context.Context, w http.ResponseWriter, event stripe.Event) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "malformed checkout session payload", http.StatusBadRequest))
		return
	}

	if session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		h.logger(ctx, "webhooks.stripe.session_unpaid", map[string]any{
			"eventId":       event.ID,
			"paymentStatus": string(session.PaymentStatus),
		})
		writeJSONResponse(w, http.StatusOK, map[string]any{"received": true})
		return
	}

	cmd := services.PaymentOutcomeCommand{
		Reference: session.Metadata[referenceMetadataKey],
		Provider:  "stripe",
		Amount:    session.AmountTotal,
		Currency:  strings.ToUpper(string(session.Currency)),
		GatewayResponse: map[string]any{
			"eventId":   event.ID,
			"sessionId": session.ID,
		},
	}
	h.applyOutcome(ctx, w, event.ID, cmd, h.orders.MarkPaid)
}

func (h *WebhookHandlers) handlePaymentFailed(ctx context.Context, w http.ResponseWriter, event stripe.Event) {
	reference := ""
	response := map[string]any{"eventId": event.ID}

	switch string(event.Type) {
	case "payment_intent.payment_failed":
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "malformed payment intent payload", http.StatusBadRequest))
			return
		}
		reference = intent.Metadata[referenceMetadataKey]
		response["intentId"] = intent.ID
		if intent.LastPaymentError != nil {
			response["failureCode"] = string(intent.LastPaymentError.Code)
		}
	default:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "malformed checkout session payload", http.StatusBadRequest))
			return
		}
		reference = session.Metadata[referenceMetadataKey]
		response["sessionId"] = session.ID
	}

	cmd := services.PaymentOutcomeCommand{
		Reference:       reference,
		Provider:        "stripe",
		GatewayResponse: response,
	}
	h.applyOutcome(ctx, w, event.ID, cmd, h.orders.MarkPaymentFailed)
}

// applyOutcome runs the lifecycle transition and maps its failures onto
// webhook-appropriate responses: reference mismatches and invalid states are
// acknowledged so the gateway does not retry what will never succeed.
func (h *WebhookHandlers) applyOutcome(ctx context.Context, w http.ResponseWriter, eventID string, cmd services.PaymentOutcomeCommand, apply func(context.Context, services.PaymentOutcomeCommand) (services.Order, error)) {
	order, err := apply(ctx, cmd)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrOrderReferenceMismatch), errors.Is(err, services.ErrOrderInvalidState):
			h.logger(ctx, "webhooks.stripe.outcome_discarded", map[string]any{
				"eventId":   eventID,
				"reference": cmd.Reference,
				"error":     err.Error(),
			})
			writeJSONResponse(w, http.StatusOK, map[string]any{"received": true})
		default:
			h.logger(ctx, "webhooks.stripe.outcome_failed", map[string]any{
				"eventId":   eventID,
				"reference": cmd.Reference,
				"error":     err.Error(),
			})
			httpx.WriteError(ctx, w, httpx.NewError("webhook_error", "failed to apply payment outcome", http.StatusInternalServerError))
		}
		return
	}

	h.logger(ctx, "webhooks.stripe.outcome_applied", map[string]any{
		"eventId":       eventID,
		"orderId":       order.ID,
		"status":        string(order.Status),
		"paymentStatus": string(order.PaymentStatus),
	})
	writeJSONResponse(w, http.StatusOK, map[string]any{"received": true, "orderId": order.ID})
}
