package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	creditdomain "github.com/smallbiznis/botledger/internal/credit/domain"
	"github.com/smallbiznis/botledger/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() creditdomain.Repository {
	return &repo{}
}

func (r *repo) FindBalance(ctx context.Context, db *gorm.DB, orgID, featureID snowflake.ID) (*creditdomain.CreditBalance, error) {
	var balance creditdomain.CreditBalance
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, feature_id, balance, version, created_at, updated_at
		 FROM credit_balances
		 WHERE org_id = ? AND feature_id = ?`,
		orgID,
		featureID,
	).Scan(&balance).Error
	if err != nil {
		return nil, err
	}
	if balance.ID == 0 {
		return nil, nil
	}
	return &balance, nil
}

func (r *repo) InsertBalance(ctx context.Context, db *gorm.DB, balance *creditdomain.CreditBalance) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO credit_balances (id, org_id, feature_id, balance, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		balance.ID,
		balance.OrgID,
		balance.FeatureID,
		balance.Balance,
		balance.Version,
		balance.CreatedAt,
		balance.UpdatedAt,
	).Error
}

func (r *repo) ApplyDelta(ctx context.Context, db *gorm.DB, id snowflake.ID, version, delta int64, at time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE credit_balances
		 SET balance = balance + ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ? AND balance + ? >= 0`,
		delta,
		at,
		id,
		version,
		delta,
	)
	return result.RowsAffected, result.Error
}

func (r *repo) ListBalances(ctx context.Context, db *gorm.DB, afterID snowflake.ID, limit int) ([]creditdomain.CreditBalance, error) {
	var balances []creditdomain.CreditBalance
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, feature_id, balance, version, created_at, updated_at
		 FROM credit_balances
		 WHERE id > ?
		 ORDER BY id ASC
		 LIMIT ?`,
		afterID,
		limit,
	).Scan(&balances).Error
	return balances, err
}

func (r *repo) InsertTransaction(ctx context.Context, db *gorm.DB, tx *creditdomain.CreditTransaction) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO credit_transactions (id, balance_id, org_id, feature_id, type, amount, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID,
		tx.BalanceID,
		tx.OrgID,
		tx.FeatureID,
		tx.Type,
		tx.Amount,
		tx.Metadata,
		tx.CreatedAt,
	).Error
}

func (r *repo) ListTransactionsBetween(ctx context.Context, db *gorm.DB, balanceID snowflake.ID, txType creditdomain.TransactionType, from, to time.Time) ([]creditdomain.CreditTransaction, error) {
	var txs []creditdomain.CreditTransaction
	err := db.WithContext(ctx).Raw(
		`SELECT id, balance_id, org_id, feature_id, type, amount, metadata, created_at
		 FROM credit_transactions
		 WHERE balance_id = ? AND type = ? AND created_at >= ? AND created_at < ?
		 ORDER BY id ASC`,
		balanceID,
		txType,
		from,
		to,
	).Scan(&txs).Error
	return txs, err
}

func (r *repo) ListTransactionsByType(ctx context.Context, db *gorm.DB, balanceID snowflake.ID, txType creditdomain.TransactionType) ([]creditdomain.CreditTransaction, error) {
	var txs []creditdomain.CreditTransaction
	err := db.WithContext(ctx).Raw(
		`SELECT id, balance_id, org_id, feature_id, type, amount, metadata, created_at
		 FROM credit_transactions
		 WHERE balance_id = ? AND type = ?
		 ORDER BY id ASC`,
		balanceID,
		txType,
	).Scan(&txs).Error
	return txs, err
}

// ListTransactions pages newest first. Snowflake ids are time ordered so the cursor only needs the id.
func (r *repo) ListTransactions(ctx context.Context, db *gorm.DB, balanceID snowflake.ID, cursor *pagination.Cursor, limit int) ([]creditdomain.CreditTransaction, error) {
	query := db.WithContext(ctx).
		Model(&creditdomain.CreditTransaction{}).
		Where("balance_id = ?", balanceID)
	if cursor != nil {
		query = query.Where("id < ?", cursor.ID)
	}

	var txs []creditdomain.CreditTransaction
	err := query.Order("id DESC").Limit(limit).Find(&txs).Error
	return txs, err
}

func (r *repo) SumTransactions(ctx context.Context, db *gorm.DB, balanceID snowflake.ID) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount), 0) FROM credit_transactions WHERE balance_id = ?`,
		balanceID,
	).Scan(&total).Error
	return total, err
}
