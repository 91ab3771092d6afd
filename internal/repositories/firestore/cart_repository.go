package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/solara-energy/api/internal/domain"
	pfirestore "github.com/solara-energy/api/internal/platform/firestore"
	"github.com/solara-energy/api/internal/repositories"
)

const cartsCollection = "carts"

// CartRepository persists cart snapshots keyed by buyer ID.
type CartRepository struct {
	base *pfirestore.BaseRepository[cartDocument]
}

var _ repositories.CartRepository = (*CartRepository)(nil)

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[cartDocument](provider, cartsCollection, nil, nil)
	return &CartRepository{base: base}, nil
}

// Get loads the cart snapshot for the given buyer.
func (r *CartRepository) Get(ctx context.Context, buyerID string) (domain.CartSnapshot, error) {
	if r == nil || r.base == nil {
		return domain.CartSnapshot{}, errors.New("cart repository not initialised")
	}
	buyerID = strings.TrimSpace(buyerID)
	if buyerID == "" {
		return domain.CartSnapshot{}, errors.New("cart repository: buyer id is required")
	}

	doc, err := r.base.Get(ctx, buyerID)
	if err != nil {
		return domain.CartSnapshot{}, err
	}

	items := make([]domain.CartLineItem, 0, len(doc.Data.Items))
	for _, item := range doc.Data.Items {
		items = append(items, domain.CartLineItem{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			ProductSKU:  item.ProductSKU,
			Quantity:    item.Quantity,
			UnitPrices:  cloneMoneyMap(item.UnitPrices),
		})
	}

	updatedAt := doc.Data.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = doc.UpdateTime
	}

	return domain.CartSnapshot{
		ID:        doc.ID,
		BuyerID:   doc.ID,
		Items:     items,
		UpdatedAt: updatedAt,
	}, nil
}

// Upsert replaces the buyer's cart snapshot.
func (r *CartRepository) Upsert(ctx context.Context, cart domain.CartSnapshot) (domain.CartSnapshot, error) {
	if r == nil || r.base == nil {
		return domain.CartSnapshot{}, errors.New("cart repository not initialised")
	}
	buyerID := strings.TrimSpace(cart.BuyerID)
	if buyerID == "" {
		buyerID = strings.TrimSpace(cart.ID)
	}
	if buyerID == "" {
		return domain.CartSnapshot{}, errors.New("cart repository: buyer id is required")
	}

	now := cart.UpdatedAt.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}

	items := make([]cartItemDocument, 0, len(cart.Items))
	for _, item := range cart.Items {
		items = append(items, cartItemDocument{
			ProductID:   strings.TrimSpace(item.ProductID),
			ProductName: strings.TrimSpace(item.ProductName),
			ProductSKU:  strings.TrimSpace(item.ProductSKU),
			Quantity:    item.Quantity,
			UnitPrices:  cloneMoneyMap(item.UnitPrices),
		})
	}

	result, err := r.base.Set(ctx, buyerID, cartDocument{
		Items:     items,
		UpdatedAt: now,
	})
	if err != nil {
		return domain.CartSnapshot{}, err
	}

	saved := cart
	saved.ID = buyerID
	saved.BuyerID = buyerID
	saved.UpdatedAt = result.UpdateTime
	return saved, nil
}

// Clear removes the buyer's cart. Clearing an absent cart is not an error.
func (r *CartRepository) Clear(ctx context.Context, buyerID string) error {
	if r == nil || r.base == nil {
		return errors.New("cart repository not initialised")
	}
	buyerID = strings.TrimSpace(buyerID)
	if buyerID == "" {
		return errors.New("cart repository: buyer id is required")
	}
	return r.base.Delete(ctx, buyerID)
}

type cartDocument struct {
	Items     []cartItemDocument `firestore:"items"`
	UpdatedAt time.Time          `firestore:"updatedAt"`
}

type cartItemDocument struct {
	ProductID   string           `firestore:"productId"`
	ProductName string           `firestore:"productName"`
	ProductSKU  string           `firestore:"productSku"`
	Quantity    int              `firestore:"quantity"`
	UnitPrices  map[string]int64 `firestore:"unitPrices"`
}

func cloneMoneyMap(values map[string]int64) map[string]int64 {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]int64, len(values))
	for currency, amount := range values {
		out[strings.ToUpper(strings.TrimSpace(currency))] = amount
	}
	return out
}
