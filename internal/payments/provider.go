package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status enumerates the normalised payment states shared across gateways.
type Status string

const (
	// StatusPending indicates the payment is awaiting customer action or gateway confirmation.
	StatusPending Status = "pending"
	// StatusSucceeded indicates the gateway reports the payment as captured.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the gateway reports a terminal failure.
	StatusFailed Status = "failed"
)

// ErrUnsupportedProvider is returned when the router cannot locate a gateway.
var ErrUnsupportedProvider = errors.New("payments: unsupported provider")

// LineItem describes a single order line forwarded to the gateway.
type LineItem struct {
	Name     string
	SKU      string
	Quantity int64
	Amount   int64
	Currency string
}

// InitRequest captures the payload required to start a payment at a gateway.
// Reference is the portal-generated payment reference carried as metadata so
// gateway callbacks can be matched back to the order.
type InitRequest struct {
	Reference      string
	Amount         int64
	Currency       string
	CustomerEmail  string
	SuccessURL     string
	CancelURL      string
	Metadata       map[string]string
	IdempotencyKey string
	Items          []LineItem
}

// PaymentSession represents the gateway session handed back to the client.
type PaymentSession struct {
	ID          string
	Provider    string
	Reference   string
	RedirectURL string
	IntentID    string
	ExpiresAt   time.Time
	Raw         map[string]any
}

// LookupRequest identifies a payment for reconciliation.
type LookupRequest struct {
	IntentID string
}

// PaymentDetails normalises gateway specific fields for storage.
type PaymentDetails struct {
	Provider   string
	IntentID   string
	Reference  string
	Status     Status
	Amount     int64
	Currency   string
	CapturedAt *time.Time
	Raw        map[string]any
}

// Provider defines the contract gateway adapters implement.
type Provider interface {
	InitializePayment(ctx context.Context, req InitRequest) (PaymentSession, error)
	LookupPayment(ctx context.Context, req LookupRequest) (PaymentDetails, error)
}

// Router selects the gateway for a payment based on currency routes and an
// optional preferred provider hint.
type Router struct {
	providers       map[string]Provider
	defaultProvider string
	currencyRoutes  map[string]string
}

// RouterOption configures optional behaviour when building a Router.
type RouterOption func(*Router)

// WithDefaultProvider overrides the default gateway for currencies without
// explicit routing.
func WithDefaultProvider(provider string) RouterOption {
	return func(r *Router) {
		r.defaultProvider = provider
	}
}

// WithCurrencyRoutes configures static currency to gateway mappings.
func WithCurrencyRoutes(routes map[string]string) RouterOption {
	return func(r *Router) {
		if len(routes) == 0 {
			return
		}
		if r.currencyRoutes == nil {
			r.currencyRoutes = make(map[string]string, len(routes))
		}
		for currency, provider := range routes {
			r.currencyRoutes[strings.ToUpper(strings.TrimSpace(currency))] = strings.TrimSpace(provider)
		}
	}
}

// NewRouter constructs a Router over the supplied gateway adapters.
func NewRouter(providers map[string]Provider, opts ...RouterOption) (*Router, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	registered := make(map[string]Provider, len(providers))
	for key, provider := range providers {
		name := strings.ToLower(strings.TrimSpace(key))
		if name == "" || provider == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", key)
		}
		registered[name] = provider
	}
	r := &Router{providers: registered}
	if _, ok := registered["stripe"]; ok {
		r.defaultProvider = "stripe"
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// RouteContext defines the hints available when selecting a gateway.
type RouteContext struct {
	PreferredProvider string
	Currency          string
}

// Resolve returns the gateway name selected for the given context.
func (r *Router) Resolve(route RouteContext) (string, error) {
	name, _, err := r.resolveProvider(route)
	return name, err
}

func (r *Router) resolveProvider(route RouteContext) (string, Provider, error) {
	if r == nil || len(r.providers) == 0 {
		return "", nil, errors.New("payments: no providers registered")
	}
	if preferred := strings.ToLower(strings.TrimSpace(route.PreferredProvider)); preferred != "" {
		if p, ok := r.providers[preferred]; ok {
			return preferred, p, nil
		}
	}
	if currency := strings.ToUpper(strings.TrimSpace(route.Currency)); currency != "" && r.currencyRoutes != nil {
		if name, ok := r.currencyRoutes[currency]; ok {
			name = strings.ToLower(strings.TrimSpace(name))
			if p, ok := r.providers[name]; ok {
				return name, p, nil
			}
		}
	}
	if def := strings.ToLower(strings.TrimSpace(r.defaultProvider)); def != "" {
		if p, ok := r.providers[def]; ok {
			return def, p, nil
		}
	}
	if len(r.providers) == 1 {
		for name, p := range r.providers {
			return name, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// InitializePayment delegates to the resolved gateway.
func (r *Router) InitializePayment(ctx context.Context, route RouteContext, req InitRequest) (PaymentSession, error) {
	name, provider, err := r.resolveProvider(route)
	if err != nil {
		return PaymentSession{}, err
	}
	session, err := provider.InitializePayment(ctx, req)
	if err != nil {
		return PaymentSession{}, err
	}
	session.Provider = name
	if session.Reference == "" {
		session.Reference = req.Reference
	}
	return session, nil
}

// LookupPayment delegates to the resolved gateway.
func (r *Router) LookupPayment(ctx context.Context, route RouteContext, req LookupRequest) (PaymentDetails, error) {
	_, provider, err := r.resolveProvider(route)
	if err != nil {
		return PaymentDetails{}, err
	}
	return provider.LookupPayment(ctx, req)
}
