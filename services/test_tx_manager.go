package services

import (
	"context"
)

// TestTransactionManager implements TransactionManager for tests. It executes
// the function directly so mock-backed services can be exercised without a
// database connection.
type TestTransactionManager struct{}

func (tm *TestTransactionManager) WithTransaction(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}
