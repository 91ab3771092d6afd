package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// CartLineItem is a single read-only line of the cart snapshot handed to checkout.
// Unit prices are keyed by upper-case ISO currency code, in the minor currency unit.
type CartLineItem struct {
	ProductID   string
	ProductName string
	ProductSKU  string
	Quantity    int
	UnitPrices  map[string]int64
}

// CartSnapshot is the immutable view of a buyer's cart at the moment checkout starts.
type CartSnapshot struct {
	ID        string
	BuyerID   string
	Items     []CartLineItem
	UpdatedAt time.Time
}

// Address represents the postal address value embedded in orders.
type Address struct {
	FullName   string
	Phone      string
	Line1      string
	Line2      *string
	City       string
	State      string
	PostalCode *string
	Country    string
}

// OrderStatus enumerates valid fulfilment states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order is created and awaits payment.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusProcessing indicates payment succeeded and fulfilment can begin.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped indicates the order has left the warehouse.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the order reached the buyer.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates the order was voided before payment completed.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// PaymentStatus enumerates payment states tracked alongside the order status.
type PaymentStatus string

const (
	// PaymentStatusPending indicates no definitive gateway outcome has been recorded.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusPaid indicates a verified gateway success was applied exactly once.
	PaymentStatusPaid PaymentStatus = "paid"
	// PaymentStatusFailed indicates the payment attempt failed terminally.
	PaymentStatusFailed PaymentStatus = "failed"
)

// Order captures the persisted order header. Monetary fields are minor
// currency units and are locked at creation time; Total always equals
// Subtotal + Tax + ShippingFee.
type Order struct {
	ID               string
	OrderNumber      string
	BuyerID          string
	Status           OrderStatus
	PaymentStatus    PaymentStatus
	Subtotal         int64
	Tax              int64
	ShippingFee      int64
	Total            int64
	Currency         string
	ShippingAddress  Address
	BillingAddress   Address
	PaymentMethod    string
	PaymentReference *string
	CancelReason     *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	PaidAt           *time.Time
	CancelledAt      *time.Time
	Items            []OrderItem
	Transactions     []PaymentTransaction
}

// OrderItem mirrors a cart line at the time of checkout. Product name and SKU
// are denormalised so later catalog edits never alter historical orders.
type OrderItem struct {
	ID          string
	OrderID     string
	ProductID   string
	ProductName string
	ProductSKU  string
	Quantity    int
	UnitPrice   int64
	TotalPrice  int64
}

// TransactionStatus enumerates recorded gateway outcomes.
type TransactionStatus string

const (
	// TransactionStatusSuccess records a captured payment.
	TransactionStatusSuccess TransactionStatus = "success"
	// TransactionStatusFailed records a definitive gateway failure.
	TransactionStatusFailed TransactionStatus = "failed"
)

// PaymentTransaction is an append-only audit record of a gateway attempt with
// a definitive outcome. An order holds at most one success transaction.
type PaymentTransaction struct {
	ID              string
	OrderID         string
	Reference       string
	PaymentMethod   string
	Amount          int64
	Currency        string
	Status          TransactionStatus
	GatewayResponse map[string]any
	CreatedAt       time.Time
}

// BuyerContact carries the contact details supplied at checkout, used to
// provision an account for guests and to notify the buyer.
type BuyerContact struct {
	Email    string
	FullName string
	Phone    string
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	Environment string
	GeneratedAt time.Time
}
