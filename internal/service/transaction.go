package service

import "context"

// TransactionManager runs fn atomically. Repositories called with the ctx
// passed to fn take part in the same transaction; nested calls join it.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
