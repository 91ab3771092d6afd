package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/solara-energy/api/internal/domain"
	"github.com/solara-energy/api/internal/platform/auth"
	"github.com/solara-energy/api/internal/platform/httpx"
	"github.com/solara-energy/api/internal/services"
)

const maxCheckoutRequestBody = 16 * 1024

// CheckoutHandlers exposes the place-order endpoint. Guests are allowed
// through so the identity service can provision an account for them.
type CheckoutHandlers struct {
	authn    *auth.Authenticator
	checkout services.CheckoutService
}

// NewCheckoutHandlers constructs checkout handlers with optional authentication.
func NewCheckoutHandlers(authn *auth.Authenticator, checkout services.CheckoutService) *CheckoutHandlers {
	return &CheckoutHandlers{
		authn:    authn,
		checkout: checkout,
	}
}

// Routes registers checkout endpoints under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.OptionalAuth())
	}
	group.Post("/orders", h.placeOrder)
}

type addressRequest struct {
	FullName   string `json:"fullName"`
	Phone      string `json:"phone"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

type contactRequest struct {
	Email    string `json:"email"`
	FullName string `json:"fullName"`
	Phone    string `json:"phone"`
}

type placeOrderRequest struct {
	CartID          string          `json:"cartId"`
	Contact         contactRequest  `json:"contact"`
	ShippingAddress addressRequest  `json:"shippingAddress"`
	BillingAddress  *addressRequest `json:"billingAddress"`
	Currency        string          `json:"currency"`
	PaymentMethod   string          `json:"paymentMethod"`
	Gateway         string          `json:"gateway"`
	SuccessURL      string          `json:"successUrl"`
	CancelURL       string          `json:"cancelUrl"`
}

type placeOrderResponse struct {
	Order      orderPayload           `json:"order"`
	Payment    *paymentSessionPayload `json:"payment,omitempty"`
	SignInLink string                 `json:"signInLink,omitempty"`
}

type paymentSessionPayload struct {
	SessionID   string `json:"sessionId"`
	Provider    string `json:"provider"`
	RedirectURL string `json:"redirectUrl"`
}

func (h *CheckoutHandlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxCheckoutRequestBody)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
		}
		return
	}

	var req placeOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	cmd := services.PlaceOrderCommand{
		CartID: strings.TrimSpace(req.CartID),
		Contact: domain.BuyerContact{
			Email:    req.Contact.Email,
			FullName: req.Contact.FullName,
			Phone:    req.Contact.Phone,
		},
		ShippingAddress:  addressFromRequest(req.ShippingAddress),
		Currency:         req.Currency,
		PaymentMethod:    req.PaymentMethod,
		PreferredGateway: req.Gateway,
		SuccessURL:       req.SuccessURL,
		CancelURL:        req.CancelURL,
	}
	if req.BillingAddress != nil {
		billing := addressFromRequest(*req.BillingAddress)
		cmd.BillingAddress = &billing
	}
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity != nil {
		cmd.AuthenticatedUID = strings.TrimSpace(identity.UID)
	}

	result, err := h.checkout.PlaceOrder(ctx, cmd)
	if err != nil {
		writeCheckoutError(ctx, w, result, err)
		return
	}

	response := placeOrderResponse{
		Order:      buildOrderPayload(result.Order),
		SignInLink: result.SignInLink,
	}
	if result.RedirectURL != "" {
		response.Payment = &paymentSessionPayload{
			SessionID:   result.SessionID,
			Provider:    result.GatewayProvider,
			RedirectURL: result.RedirectURL,
		}
	}
	writeJSONResponse(w, http.StatusCreated, response)
}

// writeCheckoutError maps service failures onto the wire. Gateway failures
// after the order was written still include the order so the client can send
// the buyer to their order history to retry payment.
func writeCheckoutError(ctx context.Context, w http.ResponseWriter, result services.PlaceOrderResult, err error) {
	switch {
	case errors.Is(err, services.ErrCheckoutInvalidInput), errors.Is(err, services.ErrIdentityInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutCartEmpty):
		httpx.WriteError(ctx, w, httpx.NewError("cart_empty", "cart has no items", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrIdentityAccountExists):
		httpx.WriteError(ctx, w, httpx.NewError("account_exists", "an account with this email already exists; please sign in", http.StatusConflict))
	case errors.Is(err, services.ErrIdentityProvisionFailed):
		httpx.WriteError(ctx, w, httpx.NewError("identity_provision_failed", "could not create an account for this checkout", http.StatusBadGateway))
	case errors.Is(err, services.ErrCheckoutPersistFailed):
		httpx.WriteError(ctx, w, httpx.NewError("order_persist_failed", "order could not be saved", http.StatusInternalServerError))
	case errors.Is(err, services.ErrGatewayUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("gateway_unavailable", "no payment gateway is available for this currency", http.StatusServiceUnavailable).
			WithDetails(resumableOrderDetails(result)))
	case errors.Is(err, services.ErrPaymentInitFailed):
		httpx.WriteError(ctx, w, httpx.NewError("payment_init_failed", "payment session could not be created", http.StatusBadGateway).
			WithDetails(resumableOrderDetails(result)))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "failed to place order", http.StatusInternalServerError))
	}
}

func resumableOrderDetails(result services.PlaceOrderResult) map[string]any {
	if result.Order.ID == "" {
		return nil
	}
	return map[string]any{
		"orderId":     result.Order.ID,
		"orderNumber": result.Order.OrderNumber,
	}
}

func addressFromRequest(req addressRequest) domain.Address {
	addr := domain.Address{
		FullName: strings.TrimSpace(req.FullName),
		Phone:    strings.TrimSpace(req.Phone),
		Line1:    strings.TrimSpace(req.Line1),
		City:     strings.TrimSpace(req.City),
		State:    strings.TrimSpace(req.State),
		Country:  strings.ToUpper(strings.TrimSpace(req.Country)),
	}
	if line2 := strings.TrimSpace(req.Line2); line2 != "" {
		addr.Line2 = &line2
	}
	if postal := strings.TrimSpace(req.PostalCode); postal != "" {
		addr.PostalCode = &postal
	}
	return addr
}
