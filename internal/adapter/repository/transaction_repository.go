package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/gastrohub/billing-service/internal/domain/model"
	"github.com/gastrohub/billing-service/internal/domain/repository"
)

type transactionRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewTransactionRepository creates a new transaction ledger repository
func NewTransactionRepository(db *gorm.DB, logger *zap.Logger) repository.TransactionRepository {
	return &transactionRepository{
		db:     db,
		logger: logger,
	}
}

func (r *transactionRepository) Create(ctx context.Context, tx *model.Transaction) error {
	if err := r.db.WithContext(ctx).Create(tx).Error; err != nil {
		r.logger.Error("Failed to create transaction",
			zap.String("subscription_id", tx.SubscriptionID.String()),
			zap.String("type", string(tx.Type)),
			zap.Int64("amount_cents", tx.AmountCents),
			zap.Error(err))
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

// UpdateStatus moves a pending entry to completed or failed once the
// gateway settles an asynchronous charge. Amounts are never updated.
func (r *transactionRepository) UpdateStatus(ctx context.Context, id int64, status model.TransactionStatus, gatewayTransactionID string) error {
	updates := map[string]interface{}{
		"status": status,
	}
	if gatewayTransactionID != "" {
		updates["gateway_transaction_id"] = gatewayTransactionID
	}

	err := r.db.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("id = ? AND status = ?", id, model.TransactionStatusPending).
		Updates(updates).Error
	if err != nil {
		r.logger.Error("Failed to update transaction status",
			zap.Int64("transaction_id", id),
			zap.String("status", string(status)),
			zap.Error(err))
		return fmt.Errorf("failed to update transaction status: %w", err)
	}
	return nil
}

func (r *transactionRepository) ListBySubscription(ctx context.Context, subscriptionID uuid.UUID, limit int) ([]*model.Transaction, error) {
	var txs []*model.Transaction
	q := r.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&txs).Error; err != nil {
		r.logger.Error("Failed to list transactions",
			zap.String("subscription_id", subscriptionID.String()),
			zap.Error(err))
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return txs, nil
}
