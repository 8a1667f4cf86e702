package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/gastrohub/billing-service/internal/domain/model"
)

// TransactionRepository is the append-only monetary ledger. Entries are
// never updated except for a bounded pending -> completed/failed move.
type TransactionRepository interface {
	Create(ctx context.Context, tx *model.Transaction) error
	UpdateStatus(ctx context.Context, id int64, status model.TransactionStatus, gatewayTransactionID string) error
	ListBySubscription(ctx context.Context, subscriptionID uuid.UUID, limit int) ([]*model.Transaction, error)
}
