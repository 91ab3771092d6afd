package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/solara-energy/api/internal/domain"
	"github.com/solara-energy/api/internal/platform/auth"
	"github.com/solara-energy/api/internal/services"
)

type stubOrderService struct {
	getFn        func(context.Context, string, services.OrderReadOptions) (services.Order, error)
	listFn       func(context.Context, services.OrderListFilter) (domain.CursorPage[services.Order], error)
	markPaidFn   func(context.Context, services.PaymentOutcomeCommand) (services.Order, error)
	markFailedFn func(context.Context, services.PaymentOutcomeCommand) (services.Order, error)
	cancelFn     func(context.Context, services.CancelOrderCommand) (services.Order, error)
	transitionFn func(context.Context, services.OrderStatusTransitionCommand) (services.Order, error)
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID string, opts services.OrderReadOptions) (services.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, orderID, opts)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) ListOrders(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[services.Order]{}, nil
}

func (s *stubOrderService) MarkPaid(ctx context.Context, cmd services.PaymentOutcomeCommand) (services.Order, error) {
	if s.markPaidFn != nil {
		return s.markPaidFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) MarkPaymentFailed(ctx context.Context, cmd services.PaymentOutcomeCommand) (services.Order, error) {
	if s.markFailedFn != nil {
		return s.markFailedFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) Cancel(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) TransitionStatus(ctx context.Context, cmd services.OrderStatusTransitionCommand) (services.Order, error) {
	if s.transitionFn != nil {
		return s.transitionFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func sampleOrder() services.Order {
	ref := "pay_abc"
	return services.Order{
		ID:               "ord_123",
		OrderNumber:      "ORD-000123",
		BuyerID:          "user-1",
		Status:           domain.OrderStatusPending,
		PaymentStatus:    domain.PaymentStatusPending,
		Subtotal:         100000,
		Tax:              7500,
		ShippingFee:      5000,
		Total:            112500,
		Currency:         "NGN",
		PaymentMethod:    "card",
		PaymentReference: &ref,
		ShippingAddress: domain.Address{
			FullName: "Ada Obi",
			Line1:    "4 Marina Road",
			City:     "Lagos",
			Country:  "NG",
		},
		CreatedAt: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func orderRouter(service services.OrderService) chi.Router {
	handler := NewOrderHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)
	return router
}

func TestOrderHandlersListOrdersSuccess(t *testing.T) {
	var capturedFilter services.OrderListFilter
	service := &stubOrderService{
		listFn: func(_ context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
			capturedFilter = filter
			return domain.CursorPage[services.Order]{
				Items:         []services.Order{sampleOrder()},
				NextPageToken: "tok-next",
			}, nil
		},
	}
	router := orderRouter(service)

	req := httptest.NewRequest(http.MethodGet, "/orders?status=pending,processing&page_size=10&page_token=tok123&created_after=2025-03-01T00:00:00Z", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if capturedFilter.BuyerID != "user-1" {
		t.Fatalf("expected buyer filter user-1, got %s", capturedFilter.BuyerID)
	}
	if len(capturedFilter.Status) != 2 {
		t.Fatalf("expected 2 status filters, got %v", capturedFilter.Status)
	}
	if capturedFilter.Pagination.PageSize != 10 || capturedFilter.Pagination.PageToken != "tok123" {
		t.Fatalf("unexpected pagination %+v", capturedFilter.Pagination)
	}
	if capturedFilter.CreatedFrom == nil {
		t.Fatalf("expected created_after filter to be set")
	}

	var body struct {
		Items         []orderSummaryPayload `json:"items"`
		NextPageToken string                `json:"next_page_token"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(body.Items) != 1 || body.Items[0].OrderNumber != "ORD-000123" {
		t.Fatalf("unexpected items %+v", body.Items)
	}
	if body.NextPageToken != "tok-next" {
		t.Fatalf("expected next page token, got %q", body.NextPageToken)
	}
}

func TestOrderHandlersListOrdersRejectsUnknownStatus(t *testing.T) {
	router := orderRouter(&stubOrderService{})

	req := httptest.NewRequest(http.MethodGet, "/orders?status=sideways", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestOrderHandlersListOrdersUnauthenticated(t *testing.T) {
	router := orderRouter(&stubOrderService{})

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestOrderHandlersGetOrderSuccess(t *testing.T) {
	var capturedOpts services.OrderReadOptions
	service := &stubOrderService{
		getFn: func(_ context.Context, orderID string, opts services.OrderReadOptions) (services.Order, error) {
			capturedOpts = opts
			if orderID != "ord_123" {
				t.Fatalf("unexpected order id %s", orderID)
			}
			return sampleOrder(), nil
		},
	}
	router := orderRouter(service)

	req := httptest.NewRequest(http.MethodGet, "/orders/ord_123", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if capturedOpts.BuyerID != "user-1" || !capturedOpts.IncludePayments {
		t.Fatalf("unexpected read options %+v", capturedOpts)
	}
	if capturedOpts.AllowUnrestricted {
		t.Fatalf("plain buyers must stay scoped")
	}

	var body orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body.Order.Total != 112500 || body.Order.PaymentReference != "pay_abc" {
		t.Fatalf("unexpected payload %+v", body.Order)
	}
}

func TestOrderHandlersGetOrderNotFound(t *testing.T) {
	service := &stubOrderService{
		getFn: func(context.Context, string, services.OrderReadOptions) (services.Order, error) {
			return services.Order{}, services.ErrOrderNotFound
		},
	}
	router := orderRouter(service)

	req := httptest.NewRequest(http.MethodGet, "/orders/ord_missing", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestOrderHandlersCancelSuccess(t *testing.T) {
	var capturedCmd services.CancelOrderCommand
	service := &stubOrderService{
		cancelFn: func(_ context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
			capturedCmd = cmd
			order := sampleOrder()
			order.Status = domain.OrderStatusCancelled
			return order, nil
		},
	}
	router := orderRouter(service)

	req := httptest.NewRequest(http.MethodPost, "/orders/ord_123/cancel", strings.NewReader(`{"reason":"changed my mind"}`))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if capturedCmd.OrderID != "ord_123" || capturedCmd.BuyerID != "user-1" || capturedCmd.Reason != "changed my mind" {
		t.Fatalf("unexpected command %+v", capturedCmd)
	}
}

func TestOrderHandlersCancelInvalidState(t *testing.T) {
	service := &stubOrderService{
		cancelFn: func(context.Context, services.CancelOrderCommand) (services.Order, error) {
			return services.Order{}, services.ErrOrderInvalidState
		},
	}
	router := orderRouter(service)

	req := httptest.NewRequest(http.MethodPost, "/orders/ord_123/cancel", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestOrderHandlersTransitionStatus(t *testing.T) {
	var capturedCmd services.OrderStatusTransitionCommand
	service := &stubOrderService{
		transitionFn: func(_ context.Context, cmd services.OrderStatusTransitionCommand) (services.Order, error) {
			capturedCmd = cmd
			order := sampleOrder()
			order.Status = cmd.Target
			return order, nil
		},
	}
	router := orderRouter(service)

	req := httptest.NewRequest(http.MethodPost, "/orders/ord_123/status", strings.NewReader(`{"status":"shipped"}`))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "staff-1", Roles: []string{auth.RoleStaff}}))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if capturedCmd.Target != domain.OrderStatusShipped || capturedCmd.Actor != "staff-1" {
		t.Fatalf("unexpected command %+v", capturedCmd)
	}
}

func TestOrderHandlersTransitionRejectsUnknownStatus(t *testing.T) {
	router := orderRouter(&stubOrderService{})

	req := httptest.NewRequest(http.MethodPost, "/orders/ord_123/status", strings.NewReader(`{"status":"teleported"}`))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "staff-1", Roles: []string{auth.RoleStaff}}))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}
