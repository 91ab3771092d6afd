package firestore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/solara-energy/api/internal/domain"
	pfirestore "github.com/solara-energy/api/internal/platform/firestore"
	"github.com/solara-energy/api/internal/repositories"
)

const (
	ordersCollection       = "orders"
	orderNumbersCollection = "orderNumbers"
	orderItemsSubcol       = "items"
	transactionsSubcol     = "transactions"
)

// OrderRepository persists order headers, line items, and the order number
// uniqueness ledger within Firestore.
type OrderRepository struct {
	base     *pfirestore.BaseRepository[orderDocument]
	provider *pfirestore.Provider
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil)
	return &OrderRepository{base: base, provider: provider}, nil
}

// Insert writes the order header together with an orderNumbers ledger entry
// in one transaction. A duplicate order number surfaces as a conflict error.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	number := strings.TrimSpace(order.OrderNumber)
	if number == "" {
		return errors.New("order repository: order number is required")
	}

	doc := encodeOrderDocument(order)

	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		client, err := r.provider.Client(ctx)
		if err != nil {
			return err
		}
		orderRef := client.Collection(ordersCollection).Doc(orderID)
		numberRef := client.Collection(orderNumbersCollection).Doc(number)

		if err := tx.Create(numberRef, map[string]any{
			"orderId":   orderID,
			"createdAt": doc.CreatedAt,
		}); err != nil {
			return err
		}
		return tx.Create(orderRef, doc)
	})
}

// InsertItems writes the order line items underneath the order document.
func (r *OrderRepository) InsertItems(ctx context.Context, orderID string, items []domain.OrderItem) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	if len(items) == 0 {
		return nil
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	itemsRef := client.Collection(ordersCollection).Doc(orderID).Collection(orderItemsSubcol)

	writer := client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(items))
	for _, item := range items {
		itemID := strings.TrimSpace(item.ID)
		if itemID == "" {
			writer.End()
			return errors.New("order repository: order item id is required")
		}
		job, err := writer.Create(itemsRef.Doc(itemID), encodeOrderItemDocument(item))
		if err != nil {
			writer.End()
			return pfirestore.WrapError("orders.items.create", err)
		}
		jobs = append(jobs, job)
	}
	writer.End()

	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			return pfirestore.WrapError("orders.items.create", err)
		}
	}
	return nil
}

// Update replaces the order header document.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	_, err := r.base.Set(ctx, orderID, encodeOrderDocument(order))
	return err
}

// FindByID loads the order header and hydrates line items and payment transactions.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}

	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	order := decodeOrderDocument(doc.ID, doc.Data)

	items, err := r.loadItems(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items

	txns, err := r.loadTransactions(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Transactions = txns

	return order, nil
}

// FindByPaymentReference resolves the order that owns the given payment
// reference. A missing match surfaces as a not-found error.
func (r *OrderRepository) FindByPaymentReference(ctx context.Context, reference string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return domain.Order{}, errors.New("order repository: payment reference is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("paymentReference", "==", reference).Limit(1)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, pfirestore.WrapError("orders.findByPaymentReference",
			status.Errorf(codes.NotFound, "no order holds payment reference %s", reference))
	}
	return r.FindByID(ctx, docs[0].ID)
}

// List returns order headers matching the filter, most recent first, with a
// cursor token when more pages remain. Line items are not hydrated.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	limit := filter.Pagination.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		tokenTime, tokenID, err := decodeOrderListToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("order repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	statuses := normaliseOrderStatuses(filter.Status)
	paymentStatuses := normalisePaymentStatuses(filter.PaymentStatus)
	direction := firestore.Desc
	if filter.Sort == domain.SortAsc {
		direction = firestore.Asc
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if buyerID := strings.TrimSpace(filter.BuyerID); buyerID != "" {
			q = q.Where("buyerId", "==", buyerID)
		}
		if len(statuses) == 1 {
			q = q.Where("status", "==", statuses[0])
		} else if len(statuses) > 1 {
			q = q.Where("status", "in", statuses)
		}
		if len(paymentStatuses) == 1 {
			q = q.Where("paymentStatus", "==", paymentStatuses[0])
		} else if len(paymentStatuses) > 1 {
			q = q.Where("paymentStatus", "in", paymentStatuses)
		}
		if filter.CreatedAt != nil {
			if filter.CreatedAt.From != nil && !filter.CreatedAt.From.IsZero() {
				q = q.Where("createdAt", ">=", filter.CreatedAt.From.UTC())
			}
			if filter.CreatedAt.To != nil && !filter.CreatedAt.To.IsZero() {
				q = q.Where("createdAt", "<=", filter.CreatedAt.To.UTC())
			}
		}

		q = q.OrderBy("createdAt", direction).OrderBy(firestore.DocumentID, direction)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	nextToken := ""
	if limit > 0 && len(docs) == fetchLimit {
		last := docs[len(docs)-1]
		tokenTime := last.Data.CreatedAt
		if tokenTime.IsZero() {
			tokenTime = last.CreateTime
		}
		nextToken = encodeOrderListToken(tokenTime, last.ID)
		docs = docs[:len(docs)-1]
	}

	items := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		items = append(items, decodeOrderDocument(doc.ID, doc.Data))
	}
	return domain.CursorPage[domain.Order]{Items: items, NextPageToken: nextToken}, nil
}

func (r *OrderRepository) loadItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}

	iter := client.Collection(ordersCollection).Doc(orderID).
		Collection(orderItemsSubcol).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var items []domain.OrderItem
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("orders.items.query", err)
		}
		var doc orderItemDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("order repository: decode item %s: %w", snap.Ref.ID, err)
		}
		items = append(items, decodeOrderItemDocument(snap.Ref.ID, orderID, doc))
	}
	return items, nil
}

func (r *OrderRepository) loadTransactions(ctx context.Context, orderID string) ([]domain.PaymentTransaction, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}

	iter := client.Collection(ordersCollection).Doc(orderID).
		Collection(transactionsSubcol).
		OrderBy("createdAt", firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var txns []domain.PaymentTransaction
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("orders.transactions.query", err)
		}
		var doc paymentTransactionDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("order repository: decode transaction %s: %w", snap.Ref.ID, err)
		}
		txns = append(txns, decodePaymentTransactionDocument(snap.Ref.ID, orderID, doc))
	}
	return txns, nil
}

type orderDocument struct {
	OrderNumber      string          `firestore:"orderNumber"`
	BuyerID          string          `firestore:"buyerId"`
	Status           string          `firestore:"status"`
	PaymentStatus    string          `firestore:"paymentStatus"`
	Subtotal         int64           `firestore:"subtotal"`
	Tax              int64           `firestore:"tax"`
	ShippingFee      int64           `firestore:"shippingFee"`
	Total            int64           `firestore:"total"`
	Currency         string          `firestore:"currency"`
	ShippingAddress  addressDocument `firestore:"shippingAddress"`
	BillingAddress   addressDocument `firestore:"billingAddress"`
	PaymentMethod    string          `firestore:"paymentMethod,omitempty"`
	PaymentReference string          `firestore:"paymentReference,omitempty"`
	CancelReason     string          `firestore:"cancelReason,omitempty"`
	CreatedAt        time.Time       `firestore:"createdAt"`
	UpdatedAt        time.Time       `firestore:"updatedAt"`
	PaidAt           *time.Time      `firestore:"paidAt,omitempty"`
	CancelledAt      *time.Time      `firestore:"cancelledAt,omitempty"`
}

type addressDocument struct {
	FullName   string `firestore:"fullName"`
	Phone      string `firestore:"phone"`
	Line1      string `firestore:"line1"`
	Line2      string `firestore:"line2,omitempty"`
	City       string `firestore:"city"`
	State      string `firestore:"state"`
	PostalCode string `firestore:"postalCode,omitempty"`
	Country    string `firestore:"country"`
}

type orderItemDocument struct {
	ProductID   string `firestore:"productId"`
	ProductName string `firestore:"productName"`
	ProductSKU  string `firestore:"productSku"`
	Quantity    int    `firestore:"quantity"`
	UnitPrice   int64  `firestore:"unitPrice"`
	TotalPrice  int64  `firestore:"totalPrice"`
}

func encodeOrderDocument(order domain.Order) orderDocument {
	doc := orderDocument{
		OrderNumber:     strings.TrimSpace(order.OrderNumber),
		BuyerID:         strings.TrimSpace(order.BuyerID),
		Status:          string(order.Status),
		PaymentStatus:   string(order.PaymentStatus),
		Subtotal:        order.Subtotal,
		Tax:             order.Tax,
		ShippingFee:     order.ShippingFee,
		Total:           order.Total,
		Currency:        strings.ToUpper(strings.TrimSpace(order.Currency)),
		ShippingAddress: encodeAddressDocument(order.ShippingAddress),
		BillingAddress:  encodeAddressDocument(order.BillingAddress),
		PaymentMethod:   strings.TrimSpace(order.PaymentMethod),
		CreatedAt:       order.CreatedAt.UTC(),
		UpdatedAt:       order.UpdatedAt.UTC(),
	}
	if order.PaymentReference != nil {
		doc.PaymentReference = strings.TrimSpace(*order.PaymentReference)
	}
	if order.CancelReason != nil {
		doc.CancelReason = strings.TrimSpace(*order.CancelReason)
	}
	if order.PaidAt != nil {
		paidAt := order.PaidAt.UTC()
		doc.PaidAt = &paidAt
	}
	if order.CancelledAt != nil {
		cancelledAt := order.CancelledAt.UTC()
		doc.CancelledAt = &cancelledAt
	}
	return doc
}

func decodeOrderDocument(id string, doc orderDocument) domain.Order {
	order := domain.Order{
		ID:              id,
		OrderNumber:     doc.OrderNumber,
		BuyerID:         doc.BuyerID,
		Status:          domain.OrderStatus(doc.Status),
		PaymentStatus:   domain.PaymentStatus(doc.PaymentStatus),
		Subtotal:        doc.Subtotal,
		Tax:             doc.Tax,
		ShippingFee:     doc.ShippingFee,
		Total:           doc.Total,
		Currency:        doc.Currency,
		ShippingAddress: decodeAddressDocument(doc.ShippingAddress),
		BillingAddress:  decodeAddressDocument(doc.BillingAddress),
		PaymentMethod:   doc.PaymentMethod,
		CreatedAt:       doc.CreatedAt,
		UpdatedAt:       doc.UpdatedAt,
		PaidAt:          doc.PaidAt,
		CancelledAt:     doc.CancelledAt,
	}
	if doc.PaymentReference != "" {
		ref := doc.PaymentReference
		order.PaymentReference = &ref
	}
	if doc.CancelReason != "" {
		reason := doc.CancelReason
		order.CancelReason = &reason
	}
	return order
}

func encodeAddressDocument(addr domain.Address) addressDocument {
	doc := addressDocument{
		FullName: strings.TrimSpace(addr.FullName),
		Phone:    strings.TrimSpace(addr.Phone),
		Line1:    strings.TrimSpace(addr.Line1),
		City:     strings.TrimSpace(addr.City),
		State:    strings.TrimSpace(addr.State),
		Country:  strings.ToUpper(strings.TrimSpace(addr.Country)),
	}
	if addr.Line2 != nil {
		doc.Line2 = strings.TrimSpace(*addr.Line2)
	}
	if addr.PostalCode != nil {
		doc.PostalCode = strings.TrimSpace(*addr.PostalCode)
	}
	return doc
}

func decodeAddressDocument(doc addressDocument) domain.Address {
	addr := domain.Address{
		FullName: doc.FullName,
		Phone:    doc.Phone,
		Line1:    doc.Line1,
		City:     doc.City,
		State:    doc.State,
		Country:  doc.Country,
	}
	if doc.Line2 != "" {
		line2 := doc.Line2
		addr.Line2 = &line2
	}
	if doc.PostalCode != "" {
		postal := doc.PostalCode
		addr.PostalCode = &postal
	}
	return addr
}

func encodeOrderItemDocument(item domain.OrderItem) orderItemDocument {
	return orderItemDocument{
		ProductID:   strings.TrimSpace(item.ProductID),
		ProductName: strings.TrimSpace(item.ProductName),
		ProductSKU:  strings.TrimSpace(item.ProductSKU),
		Quantity:    item.Quantity,
		UnitPrice:   item.UnitPrice,
		TotalPrice:  item.TotalPrice,
	}
}

func decodeOrderItemDocument(id, orderID string, doc orderItemDocument) domain.OrderItem {
	return domain.OrderItem{
		ID:          id,
		OrderID:     orderID,
		ProductID:   doc.ProductID,
		ProductName: doc.ProductName,
		ProductSKU:  doc.ProductSKU,
		Quantity:    doc.Quantity,
		UnitPrice:   doc.UnitPrice,
		TotalPrice:  doc.TotalPrice,
	}
}

func encodeOrderListToken(createdAt time.Time, docID string) string {
	payload := fmt.Sprintf("%s|%s", createdAt.UTC().Format(time.RFC3339Nano), docID)
	return base64.RawURLEncoding.EncodeToString([]byte(payload))
}

func decodeOrderListToken(token string) (time.Time, string, error) {
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return time.Time{}, "", err
	}
	parts := strings.SplitN(string(data), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, "", errors.New("invalid token structure")
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, "", err
	}
	return ts, parts[1], nil
}

func normaliseOrderStatuses(statuses []domain.OrderStatus) []string {
	if len(statuses) == 0 {
		return nil
	}
	out := make([]string, 0, len(statuses))
	seen := make(map[string]struct{}, len(statuses))
	for _, s := range statuses {
		trimmed := strings.ToLower(strings.TrimSpace(string(s)))
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}

func normalisePaymentStatuses(statuses []domain.PaymentStatus) []string {
	if len(statuses) == 0 {
		return nil
	}
	out := make([]string, 0, len(statuses))
	seen := make(map[string]struct{}, len(statuses))
	for _, s := range statuses {
		trimmed := strings.ToLower(strings.TrimSpace(string(s)))
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}
