package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/solara-energy/api/internal/domain"
	"github.com/solara-energy/api/internal/payments"
	"github.com/solara-energy/api/internal/repositories"
)

const (
	orderIDPrefix     = "ord_"
	orderItemIDPrefix = "itm_"
	paymentRefPrefix  = "pay_"

	cancelReasonPersistFailed = "persist_failed"
)

var (
	// ErrCheckoutInvalidInput indicates the caller supplied invalid checkout parameters.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutUnavailable indicates checkout dependencies are currently unavailable.
	ErrCheckoutUnavailable = errors.New("checkout: unavailable")
	// ErrCheckoutCartEmpty indicates the buyer's cart holds no lines.
	ErrCheckoutCartEmpty = errors.New("checkout: cart is empty")
	// ErrCheckoutPersistFailed indicates the order or its items could not be written.
	ErrCheckoutPersistFailed = errors.New("checkout: order persist failed")
	// ErrGatewayUnavailable indicates no payment gateway serves the requested currency.
	ErrGatewayUnavailable = errors.New("checkout: gateway unavailable")
	// ErrPaymentInitFailed indicates the routed gateway rejected session creation.
	ErrPaymentInitFailed = errors.New("checkout: payment initialisation failed")
)

// paymentInitiator abstracts payments.Router for easier testing.
type paymentInitiator interface {
	InitializePayment(ctx context.Context, route payments.RouteContext, req payments.InitRequest) (payments.PaymentSession, error)
}

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Carts    repositories.CartRepository
	Orders   repositories.OrderRepository
	Identity IdentityService
	Numbers  CounterService
	Gateway  paymentInitiator

	DefaultCurrency    string
	TaxRateBasisPoints int64
	ShippingFees       map[string]int64
	SuccessURL         string
	CancelURL          string

	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	carts    repositories.CartRepository
	orders   repositories.OrderRepository
	identity IdentityService
	numbers  CounterService
	gateway  paymentInitiator

	defaultCurrency string
	taxBasisPoints  int64
	shippingFees    map[string]int64
	successURL      string
	cancelURL       string

	now    func() time.Time
	nextID func() string
	logger func(ctx context.Context, event string, fields map[string]any)
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Carts == nil {
		return nil, errors.New("checkout service: cart repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order repository is required")
	}
	if deps.Identity == nil {
		return nil, errors.New("checkout service: identity service is required")
	}
	if deps.Numbers == nil {
		return nil, errors.New("checkout service: counter service is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("checkout service: payment gateway is required")
	}

	currency := strings.ToUpper(strings.TrimSpace(deps.DefaultCurrency))
	if currency == "" {
		return nil, errors.New("checkout service: default currency is required")
	}
	if deps.TaxRateBasisPoints < 0 {
		return nil, errors.New("checkout service: tax rate must not be negative")
	}

	fees := make(map[string]int64, len(deps.ShippingFees))
	for code, amount := range deps.ShippingFees {
		fees[strings.ToUpper(strings.TrimSpace(code))] = amount
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	nextID := deps.IDGenerator
	if nextID == nil {
		nextID = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &checkoutService{
		carts:           deps.Carts,
		orders:          deps.Orders,
		identity:        deps.Identity,
		numbers:         deps.Numbers,
		gateway:         deps.Gateway,
		defaultCurrency: currency,
		taxBasisPoints:  deps.TaxRateBasisPoints,
		shippingFees:    fees,
		successURL:      strings.TrimSpace(deps.SuccessURL),
		cancelURL:       strings.TrimSpace(deps.CancelURL),
		now: func() time.Time {
			return clock().UTC()
		},
		nextID: nextID,
		logger: logger,
	}, nil
}

// PlaceOrder resolves the buyer, freezes the cart into an order, and opens a
// payment session. Identity and assembly failures abort before any order row
// exists; once the order is written a gateway failure leaves it pending so
// the buyer can resume payment later.
func (s *checkoutService) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (PlaceOrderResult, error) {
	if s == nil || s.carts == nil || s.orders == nil {
		return PlaceOrderResult{}, ErrCheckoutUnavailable
	}

	currency := strings.ToUpper(strings.TrimSpace(cmd.Currency))
	if currency == "" {
		currency = s.defaultCurrency
	}
	if err := validateShippingAddress(cmd.ShippingAddress); err != nil {
		return PlaceOrderResult{}, err
	}
	method := strings.TrimSpace(cmd.PaymentMethod)
	if method == "" {
		method = "card"
	}

	cartID := strings.TrimSpace(cmd.CartID)
	if strings.TrimSpace(cmd.AuthenticatedUID) == "" && cartID == "" {
		return PlaceOrderResult{}, fmt.Errorf("%w: cart id is required for guest checkout", ErrCheckoutInvalidInput)
	}

	identity, err := s.identity.Resolve(ctx, ResolveIdentityCommand{
		AuthenticatedUID: cmd.AuthenticatedUID,
		Contact:          cmd.Contact,
	})
	if err != nil {
		return PlaceOrderResult{}, err
	}

	cart, err := s.loadCart(ctx, cartID, identity)
	if err != nil {
		return PlaceOrderResult{}, err
	}

	now := s.now()
	orderID := orderIDPrefix + s.nextID()
	reference := paymentRefPrefix + s.nextID()

	items, subtotal, err := s.assembleItems(orderID, cart.Items, currency)
	if err != nil {
		return PlaceOrderResult{}, err
	}
	tax := subtotal * s.taxBasisPoints / 10000
	shipping := s.shippingFees[currency]

	billing := cmd.ShippingAddress
	if cmd.BillingAddress != nil {
		billing = *cmd.BillingAddress
	}

	order := domain.Order{
		ID:               orderID,
		BuyerID:          identity.BuyerID,
		Status:           domain.OrderStatusPending,
		PaymentStatus:    domain.PaymentStatusPending,
		Subtotal:         subtotal,
		Tax:              tax,
		ShippingFee:      shipping,
		Total:            subtotal + tax + shipping,
		Currency:         currency,
		ShippingAddress:  cmd.ShippingAddress,
		BillingAddress:   billing,
		PaymentMethod:    method,
		PaymentReference: &reference,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	order, err = s.insertWithNumber(ctx, order)
	if err != nil {
		return PlaceOrderResult{}, err
	}

	if err := s.orders.InsertItems(ctx, order.ID, items); err != nil {
		s.rollbackToCancelled(ctx, order, now)
		return PlaceOrderResult{}, fmt.Errorf("%w: items: %v", ErrCheckoutPersistFailed, err)
	}
	order.Items = items

	s.logger(ctx, "checkout.order.created", map[string]any{
		"orderId":     order.ID,
		"orderNumber": order.OrderNumber,
		"buyerId":     order.BuyerID,
		"total":       order.Total,
		"currency":    order.Currency,
	})

	session, err := s.gateway.InitializePayment(ctx, payments.RouteContext{
		PreferredProvider: cmd.PreferredGateway,
		Currency:          currency,
	}, s.buildInitRequest(order, reference, identity, cmd, items))
	if err != nil {
		s.logger(ctx, "checkout.payment.init_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
		if errors.Is(err, payments.ErrUnsupportedProvider) {
			return PlaceOrderResult{Order: order}, fmt.Errorf("%w: currency %s", ErrGatewayUnavailable, currency)
		}
		return PlaceOrderResult{Order: order}, fmt.Errorf("%w: %v", ErrPaymentInitFailed, err)
	}

	return PlaceOrderResult{
		Order:           order,
		RedirectURL:     session.RedirectURL,
		SessionID:       session.ID,
		GatewayProvider: session.Provider,
		SignInLink:      identity.SignInLink,
	}, nil
}

// loadCart fetches the cart to freeze. When the caller names a cart that was
// built before the buyer had an account, the cart is re-keyed onto the
// resolved buyer so the post-payment clear finds it under the buyer's UID.
func (s *checkoutService) loadCart(ctx context.Context, cartID string, identity ResolvedIdentity) (domain.CartSnapshot, error) {
	key := cartID
	if key == "" {
		key = identity.BuyerID
	}

	cart, err := s.carts.Get(ctx, key)
	if err != nil {
		if isNotFound(err) {
			return domain.CartSnapshot{}, ErrCheckoutCartEmpty
		}
		return domain.CartSnapshot{}, fmt.Errorf("%w: load cart: %v", ErrCheckoutUnavailable, err)
	}
	if len(cart.Items) == 0 {
		return domain.CartSnapshot{}, ErrCheckoutCartEmpty
	}
	if key == identity.BuyerID {
		return cart, nil
	}

	rekeyed := cart
	rekeyed.ID = identity.BuyerID
	rekeyed.BuyerID = identity.BuyerID
	saved, err := s.carts.Upsert(ctx, rekeyed)
	if err != nil {
		return domain.CartSnapshot{}, fmt.Errorf("%w: adopt cart: %v", ErrCheckoutUnavailable, err)
	}
	if err := s.carts.Clear(ctx, key); err != nil {
		// The adopted copy is authoritative; the stale document only lingers.
		s.logger(ctx, "checkout.cart.orphan_not_cleared", map[string]any{
			"cartId": key,
			"error":  err.Error(),
		})
	}
	s.logger(ctx, "checkout.cart.adopted", map[string]any{
		"cartId":  key,
		"buyerId": identity.BuyerID,
	})
	return saved, nil
}

// insertWithNumber allocates an order number and writes the header, retrying
// exactly once with a fresh number when the ledger reports a duplicate.
func (s *checkoutService) insertWithNumber(ctx context.Context, order domain.Order) (domain.Order, error) {
	for attempt := 0; attempt < 2; attempt++ {
		number, err := s.numbers.NextOrderNumber(ctx)
		if err != nil {
			return domain.Order{}, fmt.Errorf("%w: order number: %v", ErrCheckoutPersistFailed, err)
		}
		order.OrderNumber = number

		err = s.orders.Insert(ctx, order)
		if err == nil {
			return order, nil
		}
		if isConflict(err) && attempt == 0 {
			s.logger(ctx, "checkout.order.number_conflict", map[string]any{"orderNumber": number})
			continue
		}
		return domain.Order{}, fmt.Errorf("%w: header: %v", ErrCheckoutPersistFailed, err)
	}
	return domain.Order{}, fmt.Errorf("%w: order number exhausted retries", ErrCheckoutPersistFailed)
}

// rollbackToCancelled voids a header whose items failed to persist. An order
// with zero items must never surface to the buyer as confirmed. The move goes
// through the same transition table that governs every other status write.
func (s *checkoutService) rollbackToCancelled(ctx context.Context, order domain.Order, now time.Time) {
	if !canTransition(order.Status, domain.OrderStatusCancelled) {
		s.logger(ctx, "checkout.order.rollback_failed", map[string]any{
			"orderId": order.ID,
			"error":   fmt.Sprintf("illegal transition %s -> %s", order.Status, domain.OrderStatusCancelled),
		})
		return
	}
	reason := cancelReasonPersistFailed
	order.Status = domain.OrderStatusCancelled
	order.CancelReason = &reason
	order.CancelledAt = &now
	order.UpdatedAt = now
	if err := s.orders.Update(ctx, order); err != nil {
		s.logger(ctx, "checkout.order.rollback_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
		return
	}
	s.logger(ctx, "checkout.order.rolled_back", map[string]any{"orderId": order.ID})
}

func (s *checkoutService) assembleItems(orderID string, lines []domain.CartLineItem, currency string) ([]domain.OrderItem, int64, error) {
	items := make([]domain.OrderItem, 0, len(lines))
	var subtotal int64
	for _, line := range lines {
		if line.Quantity <= 0 {
			return nil, 0, fmt.Errorf("%w: quantity for %s", ErrCheckoutInvalidInput, line.ProductID)
		}
		unit, ok := line.UnitPrices[currency]
		if !ok {
			return nil, 0, fmt.Errorf("%w: no %s price for %s", ErrCheckoutInvalidInput, currency, line.ProductID)
		}
		total := unit * int64(line.Quantity)
		items = append(items, domain.OrderItem{
			ID:          orderItemIDPrefix + s.nextID(),
			OrderID:     orderID,
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			ProductSKU:  line.ProductSKU,
			Quantity:    line.Quantity,
			UnitPrice:   unit,
			TotalPrice:  total,
		})
		subtotal += total
	}
	return items, subtotal, nil
}

func (s *checkoutService) buildInitRequest(order domain.Order, reference string, identity ResolvedIdentity, cmd PlaceOrderCommand, items []domain.OrderItem) payments.InitRequest {
	successURL := strings.TrimSpace(cmd.SuccessURL)
	if successURL == "" {
		successURL = s.successURL
	}
	cancelURL := strings.TrimSpace(cmd.CancelURL)
	if cancelURL == "" {
		cancelURL = s.cancelURL
	}

	lines := make([]payments.LineItem, 0, len(items))
	for _, item := range items {
		lines = append(lines, payments.LineItem{
			Name:     item.ProductName,
			SKU:      item.ProductSKU,
			Quantity: int64(item.Quantity),
			Amount:   item.UnitPrice,
		})
	}

	return payments.InitRequest{
		Reference:      reference,
		Amount:         order.Total,
		Currency:       order.Currency,
		CustomerEmail:  identity.Email,
		SuccessURL:     successURL,
		CancelURL:      cancelURL,
		IdempotencyKey: reference,
		Metadata: map[string]string{
			"orderId":     order.ID,
			"orderNumber": order.OrderNumber,
		},
		Items: lines,
	}
}

func validateShippingAddress(addr domain.Address) error {
	switch {
	case strings.TrimSpace(addr.FullName) == "":
		return fmt.Errorf("%w: shipping full name is required", ErrCheckoutInvalidInput)
	case strings.TrimSpace(addr.Line1) == "":
		return fmt.Errorf("%w: shipping address line is required", ErrCheckoutInvalidInput)
	case strings.TrimSpace(addr.City) == "":
		return fmt.Errorf("%w: shipping city is required", ErrCheckoutInvalidInput)
	case strings.TrimSpace(addr.Country) == "":
		return fmt.Errorf("%w: shipping country is required", ErrCheckoutInvalidInput)
	}
	return nil
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func isConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}
