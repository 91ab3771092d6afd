package services

import (
	"context"
	"time"

	domain "github.com/solara-energy/api/internal/domain"
	"github.com/solara-energy/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	SortOrder          = domain.SortOrder
	CartSnapshot       = domain.CartSnapshot
	CartLineItem       = domain.CartLineItem
	Address            = domain.Address
	BuyerContact       = domain.BuyerContact
	Order              = domain.Order
	OrderItem          = domain.OrderItem
	OrderStatus        = domain.OrderStatus
	PaymentStatus      = domain.PaymentStatus
	PaymentTransaction = domain.PaymentTransaction
	SystemHealthReport = domain.SystemHealthReport
)

// IdentityService resolves the buyer identity a checkout runs under. Guests
// are provisioned a passwordless account before any order state is written.
type IdentityService interface {
	Resolve(ctx context.Context, cmd ResolveIdentityCommand) (ResolvedIdentity, error)
}

// ResolveIdentityCommand carries either an authenticated subject or the
// contact details supplied on a guest checkout form.
type ResolveIdentityCommand struct {
	AuthenticatedUID string
	Contact          BuyerContact
}

// ResolvedIdentity is the buyer the order will belong to.
type ResolvedIdentity struct {
	BuyerID     string
	Email       string
	FullName    string
	Provisioned bool
	SignInLink  string
}

// CounterService allocates human-readable order numbers.
type CounterService interface {
	NextOrderNumber(ctx context.Context) (string, error)
}

// CheckoutService turns a cart into a pending order and opens a payment
// session with the routed gateway.
type CheckoutService interface {
	PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (PlaceOrderResult, error)
}

// PlaceOrderCommand captures everything the checkout form submits. CartID
// names the cart document to freeze; guests must supply it because their
// buyer UID does not exist until the order provisions one.
type PlaceOrderCommand struct {
	AuthenticatedUID string
	CartID           string
	Contact          BuyerContact
	ShippingAddress  Address
	BillingAddress   *Address
	Currency         string
	PaymentMethod    string
	PreferredGateway string
	SuccessURL       string
	CancelURL        string
}

// PlaceOrderResult is handed back to the client so it can redirect the buyer
// to the gateway-hosted payment page.
type PlaceOrderResult struct {
	Order           Order
	RedirectURL     string
	SessionID       string
	GatewayProvider string
	SignInLink      string
}

// OrderService encapsulates order reads and lifecycle transitions, including
// the gateway callback paths.
type OrderService interface {
	GetOrder(ctx context.Context, orderID string, opts OrderReadOptions) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	MarkPaid(ctx context.Context, cmd PaymentOutcomeCommand) (Order, error)
	MarkPaymentFailed(ctx context.Context, cmd PaymentOutcomeCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error)
}

// OrderReadOptions narrows what a read returns and who may see it.
type OrderReadOptions struct {
	BuyerID           string
	IncludePayments   bool
	AllowUnrestricted bool
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	BuyerID       string
	Status        []OrderStatus
	PaymentStatus []PaymentStatus
	CreatedFrom   *time.Time
	CreatedTo     *time.Time
	Pagination    Pagination
	Sort          SortOrder
}

// PaymentOutcomeCommand reports a definitive gateway outcome for an order,
// located by the payment reference issued at checkout.
type PaymentOutcomeCommand struct {
	Reference       string
	Provider        string
	Amount          int64
	Currency        string
	GatewayResponse map[string]any
}

// CancelOrderCommand voids an order before payment completes.
type CancelOrderCommand struct {
	OrderID string
	BuyerID string
	Actor   string
	Reason  string
}

// OrderStatusTransitionCommand moves an order along the fulfilment flow.
type OrderStatusTransitionCommand struct {
	OrderID string
	Target  OrderStatus
	Actor   string
}

// SystemService reports readiness of downstream dependencies.
type SystemService interface {
	Health(ctx context.Context) (SystemHealthReport, error)
}

func toRepositoryListFilter(filter OrderListFilter) repositories.OrderListFilter {
	out := repositories.OrderListFilter{
		BuyerID:       filter.BuyerID,
		Status:        filter.Status,
		PaymentStatus: filter.PaymentStatus,
		Pagination:    filter.Pagination,
		Sort:          filter.Sort,
	}
	if filter.CreatedFrom != nil || filter.CreatedTo != nil {
		out.CreatedAt = &domain.RangeQuery[time.Time]{From: filter.CreatedFrom, To: filter.CreatedTo}
	}
	return out
}
