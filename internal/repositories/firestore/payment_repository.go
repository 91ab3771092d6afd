package firestore

import (
	"context"
	"errors"
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

// PaymentTransactionRepository stores the append-only gateway attempt log as
// a subcollection of the owning order.
type PaymentTransactionRepository struct {
	provider *pfirestore.Provider
}

var _ repositories.PaymentTransactionRepository = (*PaymentTransactionRepository)(nil)

// NewPaymentTransactionRepository constructs a Firestore-backed transaction log.
func NewPaymentTransactionRepository(provider *pfirestore.Provider) (*PaymentTransactionRepository, error) {
	if provider == nil {
		return nil, errors.New("payment transaction repository requires firestore provider")
	}
	return &PaymentTransactionRepository{provider: provider}, nil
}

// Append records a gateway attempt. A second success record for the same
// order is rejected as a conflict so replayed confirmations never double-log.
func (r *PaymentTransactionRepository) Append(ctx context.Context, txn domain.PaymentTransaction) error {
	if r == nil || r.provider == nil {
		return errors.New("payment transaction repository not initialised")
	}
	orderID := strings.TrimSpace(txn.OrderID)
	if orderID == "" {
		return errors.New("payment transaction repository: order id is required")
	}
	txnID := strings.TrimSpace(txn.ID)
	if txnID == "" {
		return errors.New("payment transaction repository: transaction id is required")
	}

	doc := encodePaymentTransactionDocument(txn)

	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		client, err := r.provider.Client(ctx)
		if err != nil {
			return err
		}
		transactions := client.Collection(ordersCollection).Doc(orderID).Collection(transactionsSubcol)

		if txn.Status == domain.TransactionStatusSuccess {
			iter := tx.Documents(transactions.Where("status", "==", string(domain.TransactionStatusSuccess)).Limit(1))
			defer iter.Stop()
			_, err := iter.Next()
			if err == nil {
				return status.Errorf(codes.AlreadyExists, "order %s already has a success transaction", orderID)
			}
			if !errors.Is(err, iterator.Done) {
				return err
			}
		}

		return tx.Create(transactions.Doc(txnID), doc)
	})
}

// List returns the gateway attempt log for the order, oldest first.
func (r *PaymentTransactionRepository) List(ctx context.Context, orderID string) ([]domain.PaymentTransaction, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("payment transaction repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, errors.New("payment transaction repository: order id is required")
	}

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
			return nil, pfirestore.WrapError("orders.transactions.decode", err)
		}
		txns = append(txns, decodePaymentTransactionDocument(snap.Ref.ID, orderID, doc))
	}
	return txns, nil
}

type paymentTransactionDocument struct {
	Reference       string         `firestore:"reference"`
	PaymentMethod   string         `firestore:"paymentMethod"`
	Amount          int64          `firestore:"amount"`
	Currency        string         `firestore:"currency"`
	Status          string         `firestore:"status"`
	GatewayResponse map[string]any `firestore:"gatewayResponse,omitempty"`
	CreatedAt       time.Time      `firestore:"createdAt"`
}

func encodePaymentTransactionDocument(txn domain.PaymentTransaction) paymentTransactionDocument {
	return paymentTransactionDocument{
		Reference:       strings.TrimSpace(txn.Reference),
		PaymentMethod:   strings.TrimSpace(txn.PaymentMethod),
		Amount:          txn.Amount,
		Currency:        strings.ToUpper(strings.TrimSpace(txn.Currency)),
		Status:          string(txn.Status),
		GatewayResponse: txn.GatewayResponse,
		CreatedAt:       txn.CreatedAt.UTC(),
	}
}

func decodePaymentTransactionDocument(id, orderID string, doc paymentTransactionDocument) domain.PaymentTransaction {
	return domain.PaymentTransaction{
		ID:              id,
		OrderID:         orderID,
		Reference:       doc.Reference,
		PaymentMethod:   doc.PaymentMethod,
		Amount:          doc.Amount,
		Currency:        doc.Currency,
		Status:          domain.TransactionStatus(doc.Status),
		GatewayResponse: doc.GatewayResponse,
		CreatedAt:       doc.CreatedAt,
	}
}
