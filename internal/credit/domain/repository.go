package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/botledger/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	FindBalance(ctx context.Context, db *gorm.DB, orgID, featureID snowflake.ID) (*CreditBalance, error)
	InsertBalance(ctx context.Context, db *gorm.DB, balance *CreditBalance) error
	// ApplyDelta adds delta when the version matches and the result stays non-negative.
	// It returns the number of rows changed.
	ApplyDelta(ctx context.Context, db *gorm.DB, id snowflake.ID, version, delta int64, at time.Time) (int64, error)
	ListBalances(ctx context.Context, db *gorm.DB, afterID snowflake.ID, limit int) ([]CreditBalance, error)

	InsertTransaction(ctx context.Context, db *gorm.DB, tx *CreditTransaction) error
	// ListTransactionsBetween returns transactions of the given type created in [from, to).
	ListTransactionsBetween(ctx context.Context, db *gorm.DB, balanceID snowflake.ID, txType TransactionType, from, to time.Time) ([]CreditTransaction, error)
	ListTransactionsByType(ctx context.Context, db *gorm.DB, balanceID snowflake.ID, txType TransactionType) ([]CreditTransaction, error)
	ListTransactions(ctx context.Context, db *gorm.DB, balanceID snowflake.ID, cursor *pagination.Cursor, limit int) ([]CreditTransaction, error)
	SumTransactions(ctx context.Context, db *gorm.DB, balanceID snowflake.ID) (int64, error)
}
