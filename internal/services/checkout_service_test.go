package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	domain "github.com/solara-energy/api/internal/domain"
	"github.com/solara-energy/api/internal/payments"
)

func testCart(buyerID string) domain.CartSnapshot {
	return domain.CartSnapshot{
		ID:      buyerID,
		BuyerID: buyerID,
		Items: []domain.CartLineItem{
			{
				ProductID:   "prod-panel-450",
				ProductName: "450W Mono Panel",
				ProductSKU:  "PNL-450",
				Quantity:    2,
				UnitPrices:  map[string]int64{"NGN": 50000, "USD": 120},
			},
		},
		UpdatedAt: time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC),
	}
}

func testShippingAddress() domain.Address {
	return domain.Address{
		FullName: "Ada Obi",
		Phone:    "+2348030000000",
		Line1:    "4 Marina Road",
		City:     "Lagos",
		State:    "Lagos",
		Country:  "NG",
	}
}

func newCheckoutService(t *testing.T, deps CheckoutServiceDeps) CheckoutService {
	t.Helper()
	if deps.DefaultCurrency == "" {
		deps.DefaultCurrency = "NGN"
	}
	if deps.TaxRateBasisPoints == 0 {
		deps.TaxRateBasisPoints = 750
	}
	if deps.ShippingFees == nil {
		deps.ShippingFees = map[string]int64{"NGN": 5000}
	}
	if deps.Identity == nil {
		deps.Identity = &stubIdentityService{}
	}
	if deps.Numbers == nil {
		deps.Numbers = &stubNumberService{}
	}
	if deps.Gateway == nil {
		deps.Gateway = &stubGateway{}
	}
	if deps.Clock == nil {
		deps.Clock = func() time.Time {
			return time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
		}
	}
	svc, err := NewCheckoutService(deps)
	if err != nil {
		t.Fatalf("NewCheckoutService: %v", err)
	}
	return svc
}

func TestPlaceOrderSuccess(t *testing.T) {
	ctx := context.Background()
	carts := &stubCartRepository{
		getFunc: func(_ context.Context, buyerID string) (domain.CartSnapshot, error) {
			return testCart(buyerID), nil
		},
	}
	orders := &stubOrderRepository{}
	gateway := &stubGateway{}

	svc := newCheckoutService(t, CheckoutServiceDeps{
		Carts:      carts,
		Orders:     orders,
		Gateway:    gateway,
		SuccessURL: "https://portal.example.com/pay/success",
		CancelURL:  "https://portal.example.com/pay/cancel",
	})

	result, err := svc.PlaceOrder(ctx, PlaceOrderCommand{
		AuthenticatedUID: "buyer-1",
		ShippingAddress:  testShippingAddress(),
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	if len(orders.inserted) != 1 {
		t.Fatalf("expected 1 order insert, got %d", len(orders.inserted))
	}
	order := orders.inserted[0]
	if order.Subtotal != 100000 {
		t.Fatalf("expected subtotal 100000, got %d", order.Subtotal)
	}
	if order.Tax != 7500 {
		t.Fatalf("expected tax 7500, got %d", order.Tax)
	}
	if order.ShippingFee != 5000 {
		t.Fatalf("expected shipping 5000, got %d", order.ShippingFee)
	}
	if order.Total != 112500 {
		t.Fatalf("expected total 112500, got %d", order.Total)
	}
	if order.Status != domain.OrderStatusPending || order.PaymentStatus != domain.PaymentStatusPending {
		t.Fatalf("unexpected initial statuses %s/%s", order.Status, order.PaymentStatus)
	}
	if order.OrderNumber != "ORD-000001" {
		t.Fatalf("unexpected order number %s", order.OrderNumber)
	}
	if order.PaymentReference == nil || !strings.HasPrefix(*order.PaymentReference, "pay_") {
		t.Fatalf("expected stored payment reference, got %v", order.PaymentReference)
	}

	items := orders.items[order.ID]
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	if items[0].UnitPrice != 50000 || items[0].TotalPrice != 100000 {
		t.Fatalf("unexpected item pricing %+v", items[0])
	}

	if gateway.lastReq.Reference != *order.PaymentReference {
		t.Fatalf("gateway reference %q does not match stored %q", gateway.lastReq.Reference, *order.PaymentReference)
	}
	if gateway.lastReq.Amount != 112500 {
		t.Fatalf("expected gateway amount 112500, got %d", gateway.lastReq.Amount)
	}
	if gateway.lastReq.Metadata["orderId"] != order.ID {
		t.Fatalf("expected orderId metadata, got %v", gateway.lastReq.Metadata)
	}
	if gateway.lastRoute.Currency != "NGN" {
		t.Fatalf("expected NGN route, got %q", gateway.lastRoute.Currency)
	}
	if result.RedirectURL == "" || result.SessionID == "" {
		t.Fatalf("expected session details, got %+v", result)
	}
	if len(carts.cleared) != 0 {
		t.Fatalf("cart must not be cleared before payment, got %v", carts.cleared)
	}
}

func TestPlaceOrderGuestUsesSubmittedCart(t *testing.T) {
	ctx := context.Background()
	carts := &stubCartRepository{
		getFunc: func(_ context.Context, cartID string) (domain.CartSnapshot, error) {
			if cartID != "cart-sess-1" {
				return domain.CartSnapshot{}, notFoundError("cart not found")
			}
			return testCart(cartID), nil
		},
	}
	orders := &stubOrderRepository{}
	identity := &stubIdentityService{
		resolveFunc: func(_ context.Context, cmd ResolveIdentityCommand) (ResolvedIdentity, error) {
			if cmd.AuthenticatedUID != "" {
				t.Fatalf("guest resolve must not carry a uid, got %q", cmd.AuthenticatedUID)
			}
			return ResolvedIdentity{
				BuyerID:     "guest-uid-1",
				Email:       cmd.Contact.Email,
				Provisioned: true,
				SignInLink:  "https://portal.example.com/signin",
			}, nil
		},
	}

	svc := newCheckoutService(t, CheckoutServiceDeps{
		Carts:    carts,
		Orders:   orders,
		Identity: identity,
	})
	result, err := svc.PlaceOrder(ctx, PlaceOrderCommand{
		CartID:          "cart-sess-1",
		Contact:         BuyerContact{Email: "ada@example.com", FullName: "Ada Obi"},
		ShippingAddress: testShippingAddress(),
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	if len(orders.inserted) != 1 {
		t.Fatalf("expected 1 order insert, got %d", len(orders.inserted))
	}
	if orders.inserted[0].BuyerID != "guest-uid-1" {
		t.Fatalf("expected order owned by provisioned buyer, got %q", orders.inserted[0].BuyerID)
	}
	if result.SignInLink == "" {
		t.Fatalf("expected sign-in link for provisioned buyer")
	}

	if len(carts.upserted) != 1 || carts.upserted[0].BuyerID != "guest-uid-1" {
		t.Fatalf("expected cart re-keyed onto guest-uid-1, got %+v", carts.upserted)
	}
	if len(carts.cleared) != 1 || carts.cleared[0] != "cart-sess-1" {
		t.Fatalf("expected session cart document removed, got %v", carts.cleared)
	}
}

func TestPlaceOrderGuestRequiresCartID(t *testing.T) {
	orders := &stubOrderRepository{}
	svc := newCheckoutService(t, CheckoutServiceDeps{
		Carts:  &stubCartRepository{},
		Orders: orders,
	})

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderCommand{
		Contact:         BuyerContact{Email: "ada@example.com", FullName: "Ada Obi"},
		ShippingAddress: testShippingAddress(),
	})
	if !errors.Is(err, ErrCheckoutInvalidInput) {
		t.Fatalf("expected ErrCheckoutInvalidInput, got %v", err)
	}
	if len(orders.inserted) != 0 {
		t.Fatalf("no order may be written without a cart reference")
	}
}

func TestPlaceOrderCartAdoptionFailureIsUnavailable(t *testing.T) {
	carts := &stubCartRepository{
		getFunc: func(_ context.Context, cartID string) (domain.CartSnapshot, error) {
			return testCart(cartID), nil
		},
		upsertFunc: func(context.Context, domain.CartSnapshot) (domain.CartSnapshot, error) {
			return domain.CartSnapshot{}, unavailableError("write failed")
		},
	}
	orders := &stubOrderRepository{}
	svc := newCheckoutService(t, CheckoutServiceDeps{Carts: carts, Orders: orders})

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderCommand{
		CartID:          "cart-sess-2",
		Contact:         BuyerContact{Email: "ada@example.com", FullName: "Ada Obi"},
		ShippingAddress: testShippingAddress(),
	})
	if !errors.Is(err, ErrCheckoutUnavailable) {
		t.Fatalf("expected ErrCheckoutUnavailable, got %v", err)
	}
	if len(orders.inserted) != 0 {
		t.Fatalf("adoption failure must leave zero order rows")
	}
}

func TestPlaceOrderEmptyCart(t *testing.T) {
	orders := &stubOrderRepository{}
	carts := &stubCartRepository{
		getFunc: func(_ context.Context, buyerID string) (domain.CartSnapshot, error) {
			return domain.CartSnapshot{BuyerID: buyerID}, nil
		},
	}
	svc := newCheckoutService(t, CheckoutServiceDeps{Carts: carts, Orders: orders})

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderCommand{
		AuthenticatedUID: "buyer-1",
		ShippingAddress:  testShippingAddress(),
	})
	if !errors.Is(err, ErrCheckoutCartEmpty) {
		t.Fatalf("expected ErrCheckoutCartEmpty, got %v", err)
	}
	if len(orders.inserted) != 0 {
		t.Fatalf("no order may be written for an empty cart")
	}
}

func TestPlaceOrderMissingCartReadsAsEmpty(t *testing.T) {
	svc := newCheckoutService(t, CheckoutServiceDeps{
		Carts:  &stubCartRepository{},
		Orders: &stubOrderRepository{},
	})

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderCommand{
		AuthenticatedUID: "buyer-1",
		ShippingAddress:  testShippingAddress(),
	})
	if !errors.Is(err, ErrCheckoutCartEmpty) {
		t.Fatalf("expected ErrCheckoutCartEmpty, got %v", err)
	}
}

func TestPlaceOrderIdentityErrorAbortsBeforeWrites(t *testing.T) {
	orders := &stubOrderRepository{}
	identity := &stubIdentityService{
		resolveFunc: func(context.Context, ResolveIdentityCommand) (ResolvedIdentity, error) {
			return ResolvedIdentity{}, fmt.Errorf("%w: ada@example.com", ErrIdentityAccountExists)
		},
	}
	svc := newCheckoutService(t, CheckoutServiceDeps{
		Carts:    &stubCartRepository{},
		Orders:   orders,
		Identity: identity,
	})

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderCommand{
		Contact:         BuyerContact{Email: "ada@example.com", FullName: "Ada Obi"},
		ShippingAddress: testShippingAddress(),
	})
	if !errors.Is(err, ErrIdentityAccountExists) {
		t.Fatalf("expected ErrIdentityAccountExists, got %v", err)
	}
	if len(orders.inserted) != 0 {
		t.Fatalf("identity failure must leave zero order rows")
	}
}

func TestPlaceOrderRetriesDuplicateOrderNumberOnce(t *testing.T) {
	numbers := &stubNumberService{}
	numbers.nextFunc = func(context.Context) (string, error) {
		return fmt.Sprintf("ORD-%06d", numbers.calls), nil
	}

	attempts := 0
	orders := &stubOrderRepository{
		insertFunc: func(_ context.Context, order domain.Order) error {
			attempts++
			if attempts == 1 {
				return conflictError("order number taken")
			}
			return nil
		},
	}
	carts := &stubCartRepository{
		getFunc: func(_ context.Context, buyerID string) (domain.CartSnapshot, error) {
			return testCart(buyerID), nil
		},
	}

	svc := newCheckoutService(t, CheckoutServiceDeps{Carts: carts, Orders: orders, Numbers: numbers})
	result, err := svc.PlaceOrder(context.Background(), PlaceOrderCommand{
		AuthenticatedUID: "buyer-1",
		ShippingAddress:  testShippingAddress(),
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 insert attempts, got %d", attempts)
	}
	if result.Order.OrderNumber != "ORD-000002" {
		t.Fatalf("expected fresh number on retry, got %s", result.Order.OrderNumber)
	}
}

func TestPlaceOrderConcurrentCheckoutsGetDistinctNumbers(t *testing.T) {
	var sequence int64
	numbers := &stubNumberService{
		nextFunc: func(context.Context) (string, error) {
			return fmt.Sprintf("ORD-%06d", atomic.AddInt64(&sequence, 1)), nil
		},
	}

	var mu sync.Mutex
	taken := make(map[string]bool)
	orders := &stubOrderRepository{
		insertFunc: func(_ context.Context, order domain.Order) error {
			mu.Lock()
			defer mu.Unlock()
			if taken[order.OrderNumber] {
				return conflictError("order number taken")
			}
			taken[order.OrderNumber] = true
			return nil
		},
	}
	carts := &stubCartRepository{
		getFunc: func(_ context.Context, cartID string) (domain.CartSnapshot, error) {
			return testCart(cartID), nil
		},
	}

	svc := newCheckoutService(t, CheckoutServiceDeps{Carts: carts, Orders: orders, Numbers: numbers})

	const workers = 16
	results := make(chan string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			result, err := svc.PlaceOrder(context.Background(), PlaceOrderCommand{
				AuthenticatedUID: fmt.Sprintf("buyer-%d", n),
				ShippingAddress:  testShippingAddress(),
			})
			if err != nil {
				t.Errorf("PlaceOrder: %v", err)
				return
			}
			results <- result.Order.OrderNumber
		}(i)
	}
	wg.Wait()
	close(results)

	seen := make(map[string]bool, workers)
	for number := range results {
		if seen[number] {
			t.Fatalf("two orders share number %s", number)
		}
		seen[number] = true
	}
	if len(seen) != workers {
		t.Fatalf("expected %d distinct order numbers, got %d", workers, len(seen))
	}
}

func TestPlaceOrderSecondDuplicateIsPersistFailure(t *testing.T) {
	orders := &stubOrderRepository{
		insertFunc: func(context.Context, domain.Order) error {
			return conflictError("order number taken")
		},
	}
	carts := &stubCartRepository{
		getFunc: func(_ context.Context, buyerID string) (domain.CartSnapshot, error) {
			return testCart(buyerID), nil
		},
	}

	svc := newCheckoutService(t, CheckoutServiceDeps{Carts: carts, Orders: orders})
	_, err := svc.PlaceOrder(context.Background(), PlaceOrderCommand{
		AuthenticatedUID: "buyer-1",
		ShippingAddress:  testShippingAddress(),
	})
	if !errors.Is(err, ErrCheckoutPersistFailed) {
		t.Fatalf("expected ErrCheckoutPersistFailed, got %v", err)
	}
}

func TestPlaceOrderRollsBackWhenItemsFail(t *testing.T) {
	orders := &stubOrderRepository{
		insertItemsFunc: func(context.Context, string, []domain.OrderItem) error {
			return unavailableError("bulk write failed")
		},
	}
	carts := &stubCartRepository{
		getFunc: func(_ context.Context, buyerID string) (domain.CartSnapshot, error) {
			return testCart(buyerID), nil
		},
	}

	svc := newCheckoutService(t, CheckoutServiceDeps{Carts: carts, Orders: orders})
	_, err := svc.PlaceOrder(context.Background(), PlaceOrderCommand{
		AuthenticatedUID: "buyer-1",
		ShippingAddress:  testShippingAddress(),
	})
	if !errors.Is(err, ErrCheckoutPersistFailed) {
		t.Fatalf("expected ErrCheckoutPersistFailed, got %v", err)
	}

	if len(orders.updated) != 1 {
		t.Fatalf("expected rollback update, got %d", len(orders.updated))
	}
	rolled := orders.updated[0]
	if rolled.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled status, got %s", rolled.Status)
	}
	if rolled.CancelReason == nil || *rolled.CancelReason != "persist_failed" {
		t.Fatalf("expected persist_failed reason, got %v", rolled.CancelReason)
	}
}

func TestRollbackRefusesIllegalTransition(t *testing.T) {
	orders := &stubOrderRepository{}
	svc := newCheckoutService(t, CheckoutServiceDeps{
		Carts:  &stubCartRepository{},
		Orders: orders,
	}).(*checkoutService)

	svc.rollbackToCancelled(context.Background(), domain.Order{
		ID:     "ord_x",
		Status: domain.OrderStatusDelivered,
	}, time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))

	if len(orders.updated) != 0 {
		t.Fatalf("delivered order must not be rewritten to cancelled, got %d updates", len(orders.updated))
	}
}

func TestPlaceOrderGatewayUnavailableLeavesOrderPending(t *testing.T) {
	orders := &stubOrderRepository{}
	carts := &stubCartRepository{
		getFunc: func(_ context.Context, buyerID string) (domain.CartSnapshot, error) {
			return testCart(buyerID), nil
		},
	}
	gateway := &stubGateway{
		initFunc: func(context.Context, payments.RouteContext, payments.InitRequest) (payments.PaymentSession, error) {
			return payments.PaymentSession{}, fmt.Errorf("route: %w", payments.ErrUnsupportedProvider)
		},
	}

	svc := newCheckoutService(t, CheckoutServiceDeps{Carts: carts, Orders: orders, Gateway: gateway})
	result, err := svc.PlaceOrder(context.Background(), PlaceOrderCommand{
		AuthenticatedUID: "buyer-1",
		ShippingAddress:  testShippingAddress(),
	})
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
	}
	if len(orders.updated) != 0 {
		t.Fatalf("gateway failure must not modify the order, got %d updates", len(orders.updated))
	}
	if result.Order.ID == "" || result.Order.Status != domain.OrderStatusPending {
		t.Fatalf("expected resumable pending order, got %+v", result.Order)
	}
}

func TestPlaceOrderGatewayErrorMapsToInitFailed(t *testing.T) {
	carts := &stubCartRepository{
		getFunc: func(_ context.Context, buyerID string) (domain.CartSnapshot, error) {
			return testCart(buyerID), nil
		},
	}
	gateway := &stubGateway{
		initFunc: func(context.Context, payments.RouteContext, payments.InitRequest) (payments.PaymentSession, error) {
			return payments.PaymentSession{}, errors.New("stripe: api error")
		},
	}

	svc := newCheckoutService(t, CheckoutServiceDeps{Carts: carts, Orders: &stubOrderRepository{}, Gateway: gateway})
	_, err := svc.PlaceOrder(context.Background(), PlaceOrderCommand{
		AuthenticatedUID: "buyer-1",
		ShippingAddress:  testShippingAddress(),
	})
	if !errors.Is(err, ErrPaymentInitFailed) {
		t.Fatalf("expected ErrPaymentInitFailed, got %v", err)
	}
}

func TestPlaceOrderRejectsMissingCurrencyPrice(t *testing.T) {
	carts := &stubCartRepository{
		getFunc: func(_ context.Context, buyerID string) (domain.CartSnapshot, error) {
			cart := testCart(buyerID)
			cart.Items[0].UnitPrices = map[string]int64{"USD": 120}
			return cart, nil
		},
	}

	svc := newCheckoutService(t, CheckoutServiceDeps{Carts: carts, Orders: &stubOrderRepository{}})
	_, err := svc.PlaceOrder(context.Background(), PlaceOrderCommand{
		AuthenticatedUID: "buyer-1",
		ShippingAddress:  testShippingAddress(),
	})
	if !errors.Is(err, ErrCheckoutInvalidInput) {
		t.Fatalf("expected ErrCheckoutInvalidInput, got %v", err)
	}
}

func TestPlaceOrderValidatesShippingAddress(t *testing.T) {
	svc := newCheckoutService(t, CheckoutServiceDeps{
		Carts:  &stubCartRepository{},
		Orders: &stubOrderRepository{},
	})

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderCommand{
		AuthenticatedUID: "buyer-1",
		ShippingAddress:  domain.Address{FullName: "Ada Obi"},
	})
	if !errors.Is(err, ErrCheckoutInvalidInput) {
		t.Fatalf("expected ErrCheckoutInvalidInput, got %v", err)
	}
}
