package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/solara-energy/api/internal/domain"
	"github.com/solara-energy/api/internal/platform/events"
	"github.com/solara-energy/api/internal/repositories"
)

const (
	orderEventPaid          = "order.paid"
	orderEventPaymentFailed = "order.payment_failed"
	orderEventCancelled     = "order.cancelled"
	orderEventStatusChanged = "order.status.changed"

	transactionIDPrefix = "txn_"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates concurrent modification prevented the write.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderReferenceMismatch indicates a gateway callback carried a reference
	// that does not match the order's stored payment reference.
	ErrOrderReferenceMismatch = errors.New("order: payment reference mismatch")
)

// A paid order never moves back to pending or cancelled through this table;
// refunds are an administrative flow outside the portal core.
var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:    {domain.OrderStatusProcessing, domain.OrderStatusCancelled},
	domain.OrderStatusProcessing: {domain.OrderStatusShipped},
	domain.OrderStatusShipped:    {domain.OrderStatusDelivered},
}

// OrderEventPublisher publishes order lifecycle events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, message events.OrderEventMessage) (string, error)
}

// OrderServiceDeps wires the dependencies required by the order service.
type OrderServiceDeps struct {
	Orders       repositories.OrderRepository
	Transactions repositories.PaymentTransactionRepository
	Carts        repositories.CartRepository
	Publisher    OrderEventPublisher
	Clock        func() time.Time
	IDGenerator  func() string
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders       repositories.OrderRepository
	transactions repositories.PaymentTransactionRepository
	carts        repositories.CartRepository
	publisher    OrderEventPublisher
	clock        func() time.Time
	nextID       func() string
	logger       func(ctx context.Context, event string, fields map[string]any)
}

// NewOrderService constructs an OrderService validating required dependencies.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Transactions == nil {
		return nil, errors.New("order service: transaction repository is required")
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

	return &orderService{
		orders:       deps.Orders,
		transactions: deps.Transactions,
		carts:        deps.Carts,
		publisher:    deps.Publisher,
		clock: func() time.Time {
			return clock().UTC()
		},
		nextID: nextID,
		logger: logger,
	}, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string, opts OrderReadOptions) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if !opts.AllowUnrestricted && order.BuyerID != strings.TrimSpace(opts.BuyerID) {
		// Scope violations read as absence so order ids cannot be probed.
		return Order{}, ErrOrderNotFound
	}
	if !opts.IncludePayments {
		order.Transactions = nil
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	page, err := s.orders.List(ctx, toRepositoryListFilter(filter))
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// MarkPaid applies a verified gateway success callback. A duplicate success
// for an already paid order is a no-op so at-least-once delivery never
// surfaces as an error; any reference or amount mismatch is rejected with
// ErrOrderReferenceMismatch and leaves the order untouched.
func (s *orderService) MarkPaid(ctx context.Context, cmd PaymentOutcomeCommand) (Order, error) {
	order, err := s.findByReference(ctx, cmd.Reference)
	if err != nil {
		return Order{}, err
	}

	if order.PaymentStatus == domain.PaymentStatusPaid {
		s.logger(ctx, "orders.paid.duplicate", map[string]any{"orderId": order.ID})
		return order, nil
	}
	if cmd.Amount > 0 && cmd.Amount != order.Total {
		return Order{}, fmt.Errorf("%w: amount %d does not match order total %d", ErrOrderReferenceMismatch, cmd.Amount, order.Total)
	}
	if !canTransition(order.Status, domain.OrderStatusProcessing) {
		return Order{}, fmt.Errorf("%w: %s -> %s", ErrOrderInvalidState, order.Status, domain.OrderStatusProcessing)
	}

	now := s.clock()
	txn := domain.PaymentTransaction{
		ID:              transactionIDPrefix + s.nextID(),
		OrderID:         order.ID,
		Reference:       cmd.Reference,
		PaymentMethod:   order.PaymentMethod,
		Amount:          order.Total,
		Currency:        order.Currency,
		Status:          domain.TransactionStatusSuccess,
		GatewayResponse: cmd.GatewayResponse,
		CreatedAt:       now,
	}
	if err := s.transactions.Append(ctx, txn); err != nil {
		if !isConflict(err) {
			return Order{}, s.mapRepositoryError(err)
		}
		// A success row already exists; fall through and converge the header.
		s.logger(ctx, "orders.paid.transaction_exists", map[string]any{"orderId": order.ID})
	}

	order.Status = domain.OrderStatusProcessing
	order.PaymentStatus = domain.PaymentStatusPaid
	order.PaidAt = &now
	order.UpdatedAt = now
	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.clearCart(ctx, order.BuyerID, order.ID)
	s.publishEvent(ctx, orderEventPaid, order)
	return order, nil
}

// MarkPaymentFailed records a definitive gateway failure. Only the payment
// status flips to failed; Status deliberately stays pending so the buyer can
// retry payment from their order history, and a later success callback moves
// the order forward through the normal pending -> processing transition.
func (s *orderService) MarkPaymentFailed(ctx context.Context, cmd PaymentOutcomeCommand) (Order, error) {
	order, err := s.findByReference(ctx, cmd.Reference)
	if err != nil {
		return Order{}, err
	}
	if order.PaymentStatus == domain.PaymentStatusPaid {
		s.logger(ctx, "orders.payment_failed.after_paid", map[string]any{"orderId": order.ID})
		return order, nil
	}

	now := s.clock()
	txn := domain.PaymentTransaction{
		ID:              transactionIDPrefix + s.nextID(),
		OrderID:         order.ID,
		Reference:       cmd.Reference,
		PaymentMethod:   order.PaymentMethod,
		Amount:          order.Total,
		Currency:        order.Currency,
		Status:          domain.TransactionStatusFailed,
		GatewayResponse: cmd.GatewayResponse,
		CreatedAt:       now,
	}
	if err := s.transactions.Append(ctx, txn); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	order.PaymentStatus = domain.PaymentStatusFailed
	order.UpdatedAt = now
	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, orderEventPaymentFailed, order)
	return order, nil
}

func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if buyerID := strings.TrimSpace(cmd.BuyerID); buyerID != "" && order.BuyerID != buyerID {
		return Order{}, ErrOrderNotFound
	}
	if order.Status == domain.OrderStatusCancelled {
		return order, nil
	}
	if !canTransition(order.Status, domain.OrderStatusCancelled) {
		return Order{}, fmt.Errorf("%w: %s -> %s", ErrOrderInvalidState, order.Status, domain.OrderStatusCancelled)
	}

	now := s.clock()
	reason := strings.TrimSpace(cmd.Reason)
	if reason == "" {
		reason = "buyer_request"
	}
	order.Status = domain.OrderStatusCancelled
	order.CancelReason = &reason
	order.CancelledAt = &now
	order.UpdatedAt = now
	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, orderEventCancelled, order)
	return order, nil
}

func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if cmd.Target == "" {
		return Order{}, fmt.Errorf("%w: target status is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if order.Status == cmd.Target {
		return order, nil
	}
	if !canTransition(order.Status, cmd.Target) {
		return Order{}, fmt.Errorf("%w: %s -> %s", ErrOrderInvalidState, order.Status, cmd.Target)
	}

	order.Status = cmd.Target
	order.UpdatedAt = s.clock()
	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, "orders.status.changed", map[string]any{
		"orderId": order.ID,
		"status":  string(order.Status),
		"actor":   strings.TrimSpace(cmd.Actor),
	})
	s.publishEvent(ctx, orderEventStatusChanged, order)
	return order, nil
}

func (s *orderService) findByReference(ctx context.Context, reference string) (Order, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return Order{}, fmt.Errorf("%w: reference is required", ErrOrderReferenceMismatch)
	}

	order, err := s.orders.FindByPaymentReference(ctx, reference)
	if err != nil {
		if isNotFound(err) {
			return Order{}, fmt.Errorf("%w: unknown reference", ErrOrderReferenceMismatch)
		}
		return Order{}, s.mapRepositoryError(err)
	}
	if order.PaymentReference == nil || *order.PaymentReference != reference {
		return Order{}, fmt.Errorf("%w: stored reference differs", ErrOrderReferenceMismatch)
	}
	return order, nil
}

// clearCart empties the buyer's cart after a confirmed payment. Failures are
// logged only; the paid order is already durable.
func (s *orderService) clearCart(ctx context.Context, buyerID, orderID string) {
	if s.carts == nil {
		return
	}
	if err := s.carts.Clear(ctx, buyerID); err != nil {
		s.logger(ctx, "orders.cart.clear_failed", map[string]any{
			"orderId": orderID,
			"buyerId": buyerID,
			"error":   err.Error(),
		})
	}
}

func (s *orderService) publishEvent(ctx context.Context, event string, order domain.Order) {
	if s.publisher == nil {
		return
	}
	_, err := s.publisher.PublishOrderEvent(ctx, events.OrderEventMessage{
		Event:         event,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		BuyerID:       order.BuyerID,
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		Total:         order.Total,
		Currency:      order.Currency,
		OccurredAt:    s.clock(),
	})
	if err != nil {
		s.logger(ctx, "orders.event.publish_failed", map[string]any{
			"event":   event,
			"orderId": order.ID,
			"error":   err.Error(),
		})
	}
}

func (s *orderService) mapRepositoryError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrOrderNotFound
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		}
	}
	return err
}

func canTransition(current, target domain.OrderStatus) bool {
	return slices.Contains(orderStateTransitions[current], target)
}
