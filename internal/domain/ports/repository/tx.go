package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

// Tx is an opaque storage transaction handed from TransactionManager to the
// repositories. The postgres adapter passes a pgx.Tx.
type Tx interface{}

// NoTX runs a repository call on the pool instead of a transaction.
var NoTX Tx

// TransactionManager runs fn inside one transaction. A nil error from fn
// commits; anything else rolls back and is returned unchanged. Repositories
// lock rows with SELECT ... FOR UPDATE only when given a live tx.
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
