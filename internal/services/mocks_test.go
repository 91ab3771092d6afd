package services

import (
	"context"
	"errors"
	"sync"

	firebaseauth "firebase.google.com/go/v4/auth"

	domain "github.com/solara-energy/api/internal/domain"
	"github.com/solara-energy/api/internal/payments"
	"github.com/solara-energy/api/internal/platform/events"
	"github.com/solara-energy/api/internal/repositories"
)

// repoError implements repositories.RepositoryError for test scenarios.
type repoError struct {
	msg         string
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *repoError) Error() string       { return e.msg }
func (e *repoError) IsNotFound() bool    { return e.notFound }
func (e *repoError) IsConflict() bool    { return e.conflict }
func (e *repoError) IsUnavailable() bool { return e.unavailable }

func notFoundError(msg string) error    { return &repoError{msg: msg, notFound: true} }
func conflictError(msg string) error    { return &repoError{msg: msg, conflict: true} }
func unavailableError(msg string) error { return &repoError{msg: msg, unavailable: true} }

type stubCartRepository struct {
	getFunc    func(ctx context.Context, cartID string) (domain.CartSnapshot, error)
	upsertFunc func(ctx context.Context, cart domain.CartSnapshot) (domain.CartSnapshot, error)
	clearFunc  func(ctx context.Context, cartID string) error

	mu       sync.Mutex
	upserted []domain.CartSnapshot
	cleared  []string
}

func (s *stubCartRepository) Get(ctx context.Context, cartID string) (domain.CartSnapshot, error) {
	if s.getFunc != nil {
		return s.getFunc(ctx, cartID)
	}
	return domain.CartSnapshot{}, notFoundError("cart not found")
}

func (s *stubCartRepository) Upsert(ctx context.Context, cart domain.CartSnapshot) (domain.CartSnapshot, error) {
	s.mu.Lock()
	s.upserted = append(s.upserted, cart)
	s.mu.Unlock()
	if s.upsertFunc != nil {
		return s.upsertFunc(ctx, cart)
	}
	return cart, nil
}

func (s *stubCartRepository) Clear(ctx context.Context, buyerID string) error {
	s.cleared = append(s.cleared, buyerID)
	if s.clearFunc != nil {
		return s.clearFunc(ctx, buyerID)
	}
	return nil
}

type stubOrderRepository struct {
	insertFunc      func(ctx context.Context, order domain.Order) error
	insertItemsFunc func(ctx context.Context, orderID string, items []domain.OrderItem) error
	updateFunc      func(ctx context.Context, order domain.Order) error
	findByIDFunc    func(ctx context.Context, orderID string) (domain.Order, error)
	findByRefFunc   func(ctx context.Context, reference string) (domain.Order, error)
	listFunc        func(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error)

	mu       sync.Mutex
	inserted []domain.Order
	items    map[string][]domain.OrderItem
	updated  []domain.Order
}

func (s *stubOrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if s.insertFunc != nil {
		if err := s.insertFunc(ctx, order); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.inserted = append(s.inserted, order)
	s.mu.Unlock()
	return nil
}

func (s *stubOrderRepository) InsertItems(ctx context.Context, orderID string, items []domain.OrderItem) error {
	if s.insertItemsFunc != nil {
		if err := s.insertItemsFunc(ctx, orderID, items); err != nil {
			return err
		}
	}
	s.mu.Lock()
	if s.items == nil {
		s.items = make(map[string][]domain.OrderItem)
	}
	s.items[orderID] = items
	s.mu.Unlock()
	return nil
}

func (s *stubOrderRepository) Update(ctx context.Context, order domain.Order) error {
	if s.updateFunc != nil {
		if err := s.updateFunc(ctx, order); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.updated = append(s.updated, order)
	s.mu.Unlock()
	return nil
}

func (s *stubOrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if s.findByIDFunc != nil {
		return s.findByIDFunc(ctx, orderID)
	}
	return domain.Order{}, notFoundError("order not found")
}

func (s *stubOrderRepository) FindByPaymentReference(ctx context.Context, reference string) (domain.Order, error) {
	if s.findByRefFunc != nil {
		return s.findByRefFunc(ctx, reference)
	}
	return domain.Order{}, notFoundError("order not found")
}

func (s *stubOrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if s.listFunc != nil {
		return s.listFunc(ctx, filter)
	}
	return domain.CursorPage[domain.Order]{}, nil
}

type stubTransactionRepository struct {
	appendFunc func(ctx context.Context, txn domain.PaymentTransaction) error
	listFunc   func(ctx context.Context, orderID string) ([]domain.PaymentTransaction, error)
	appended   []domain.PaymentTransaction
}

func (s *stubTransactionRepository) Append(ctx context.Context, txn domain.PaymentTransaction) error {
	if s.appendFunc != nil {
		if err := s.appendFunc(ctx, txn); err != nil {
			return err
		}
	}
	s.appended = append(s.appended, txn)
	return nil
}

func (s *stubTransactionRepository) List(ctx context.Context, orderID string) ([]domain.PaymentTransaction, error) {
	if s.listFunc != nil {
		return s.listFunc(ctx, orderID)
	}
	return nil, nil
}

type stubCounterRepository struct {
	nextFunc func(ctx context.Context, counterID string, step int64) (int64, error)
}

func (s *stubCounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	if s.nextFunc != nil {
		return s.nextFunc(ctx, counterID, step)
	}
	return 0, errors.New("next not configured")
}

type stubIdentityService struct {
	resolveFunc func(ctx context.Context, cmd ResolveIdentityCommand) (ResolvedIdentity, error)
}

func (s *stubIdentityService) Resolve(ctx context.Context, cmd ResolveIdentityCommand) (ResolvedIdentity, error) {
	if s.resolveFunc != nil {
		return s.resolveFunc(ctx, cmd)
	}
	return ResolvedIdentity{BuyerID: "buyer-1", Email: "buyer@example.com"}, nil
}

type stubNumberService struct {
	nextFunc func(ctx context.Context) (string, error)

	mu    sync.Mutex
	calls int
}

func (s *stubNumberService) NextOrderNumber(ctx context.Context) (string, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.nextFunc != nil {
		return s.nextFunc(ctx)
	}
	return "ORD-000001", nil
}

type stubGateway struct {
	initFunc func(ctx context.Context, route payments.RouteContext, req payments.InitRequest) (payments.PaymentSession, error)

	mu        sync.Mutex
	lastReq   payments.InitRequest
	lastRoute payments.RouteContext
}

func (s *stubGateway) InitializePayment(ctx context.Context, route payments.RouteContext, req payments.InitRequest) (payments.PaymentSession, error) {
	s.mu.Lock()
	s.lastRoute = route
	s.lastReq = req
	s.mu.Unlock()
	if s.initFunc != nil {
		return s.initFunc(ctx, route, req)
	}
	return payments.PaymentSession{
		ID:          "cs_test_1",
		Provider:    "stripe",
		Reference:   req.Reference,
		RedirectURL: "https://pay.example.com/cs_test_1",
	}, nil
}

type stubPublisher struct {
	publishFunc func(ctx context.Context, message events.OrderEventMessage) (string, error)
	published   []events.OrderEventMessage
}

func (s *stubPublisher) PublishOrderEvent(ctx context.Context, message events.OrderEventMessage) (string, error) {
	s.published = append(s.published, message)
	if s.publishFunc != nil {
		return s.publishFunc(ctx, message)
	}
	return "msg-1", nil
}

type stubDirectory struct {
	getUserFunc        func(ctx context.Context, uid string) (*firebaseauth.UserRecord, error)
	getUserByEmailFunc func(ctx context.Context, email string) (*firebaseauth.UserRecord, error)
	createUserFunc     func(ctx context.Context, email, displayName, phone string) (*firebaseauth.UserRecord, error)
	signInLinkFunc     func(ctx context.Context, email, redirectURL string) (string, error)
}

func (s *stubDirectory) GetUser(ctx context.Context, uid string) (*firebaseauth.UserRecord, error) {
	if s.getUserFunc != nil {
		return s.getUserFunc(ctx, uid)
	}
	return nil, errors.New("get user not configured")
}

func (s *stubDirectory) GetUserByEmail(ctx context.Context, email string) (*firebaseauth.UserRecord, error) {
	if s.getUserByEmailFunc != nil {
		return s.getUserByEmailFunc(ctx, email)
	}
	return nil, errors.New("get user by email not configured")
}

func (s *stubDirectory) CreateUser(ctx context.Context, email, displayName, phone string) (*firebaseauth.UserRecord, error) {
	if s.createUserFunc != nil {
		return s.createUserFunc(ctx, email, displayName, phone)
	}
	return nil, errors.New("create user not configured")
}

func (s *stubDirectory) EmailSignInLink(ctx context.Context, email, redirectURL string) (string, error) {
	if s.signInLinkFunc != nil {
		return s.signInLinkFunc(ctx, email, redirectURL)
	}
	return "https://portal.example.com/signin", nil
}
