package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

type Tx interface{}

var NoTX interface{}

// TransactionManager executes a function within a database transaction,
// passing the underlying transaction handle via the `tx` argument.
//
// Use-case interfaces stay clean of storage types; repositories that accept a
// Tx detect the concrete handle implementation-side and MUST gracefully accept
// nil (non-transactional path). The concrete type is infra-defined (pgx.Tx for
// Postgres).
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
