package repositories

import (
	"context"
	"time"

	domain "github.com/solara-energy/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Carts() CartRepository
	Orders() OrderRepository
	PaymentTransactions() PaymentTransactionRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// CartRepository reads cart snapshots assembled by the storefront and clears
// them after a successful payment. Cart documents are keyed by the buyer UID
// for signed-in carts and by the storefront session id for anonymous ones.
type CartRepository interface {
	Get(ctx context.Context, cartID string) (domain.CartSnapshot, error)
	Upsert(ctx context.Context, cart domain.CartSnapshot) (domain.CartSnapshot, error)
	Clear(ctx context.Context, cartID string) error
}

// OrderRepository persists order headers and line items. Insert enforces
// order number uniqueness and surfaces duplicates as a conflict error.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	InsertItems(ctx context.Context, orderID string, items []domain.OrderItem) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByPaymentReference(ctx context.Context, reference string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// PaymentTransactionRepository stores the append-only gateway attempt log
// underneath an order document.
type PaymentTransactionRepository interface {
	Append(ctx context.Context, txn domain.PaymentTransaction) error
	List(ctx context.Context, orderID string) ([]domain.PaymentTransaction, error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// OrderListFilter narrows order listings for buyers and back office views.
type OrderListFilter struct {
	BuyerID       string
	Status        []domain.OrderStatus
	PaymentStatus []domain.PaymentStatus
	CreatedAt     *domain.RangeQuery[time.Time]
	Pagination    domain.Pagination
	Sort          domain.SortOrder
}
