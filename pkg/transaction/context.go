package transaction

import (
	"context"

	"gorm.io/gorm"
)

type txKey struct{}

// WithTransaction 把事务放进 ctx，之后的仓储调用都走同一个事务
func WithTransaction(ctx context.Context, tx *gorm.DB) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

func fromContext(ctx context.Context) (*gorm.DB, bool) {
	tx, ok := ctx.Value(txKey{}).(*gorm.DB)
	return tx, ok && tx != nil
}

// InTransaction ctx 是否已携带事务
func InTransaction(ctx context.Context) bool {
	_, ok := fromContext(ctx)
	return ok
}

// GetTransactionOrDB ctx 中有事务时返回事务，否则返回 defaultDB
// sqlite 内存库只有一个连接，事务内必须用这里返回的连接，否则会互相等待
func GetTransactionOrDB(ctx context.Context, defaultDB *gorm.DB) *gorm.DB {
	if tx, ok := fromContext(ctx); ok {
		return tx.WithContext(ctx)
	}
	return defaultDB.WithContext(ctx)
}
