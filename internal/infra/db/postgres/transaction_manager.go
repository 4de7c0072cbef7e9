package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"coursepay/internal/domain"
	"coursepay/internal/domain/ports/repository"
)

var _ repository.TransactionManager = (*TxManager)(nil)

// TxManager hands repositories a pgx.Tx through repository.Tx.
type TxManager struct {
	pool *pgxpool.Pool
}

func NewTxManager(pool *pgxpool.Pool) *TxManager {
	return &TxManager{pool: pool}
}

// WithTx commits when fn returns nil. An error or a panic from fn rolls back;
// the panic is re-raised after the rollback.
func (m *TxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) (err error) {
	tx, err := m.pool.BeginTx(ctx, txOpt)
	if err != nil {
		return mapErr(err)
	}
	committed := false
	defer func() {
		if !committed {
			// the request ctx may already be done; rollback must still reach the server
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	if err = fn(ctx, tx); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return mapErr(err)
	}
	committed = true
	return nil
}

// executor is what pgx.Tx, *pgxpool.Conn and *pgxpool.Pool have in common.
type executor interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func getExecutor(pool *pgxpool.Pool, tx repository.Tx) (executor, error) {
	if tx == nil {
		if pool == nil {
			return nil, domain.ErrInvalidArgument
		}
		return pool, nil
	}
	if ex, ok := tx.(executor); ok {
		return ex, nil
	}
	return nil, fmt.Errorf("%T: %w", tx, domain.ErrInvalidExecContext)
}

func execSQL(ctx context.Context, pool *pgxpool.Pool, tx repository.Tx, q string, args ...any) (pgconn.CommandTag, error) {
	ex, err := getExecutor(pool, tx)
	if err != nil {
		return nil, err
	}
	tag, err := ex.Exec(ctx, q, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	return tag, nil
}

func pickRow(ctx context.Context, pool *pgxpool.Pool, tx repository.Tx, q string, args ...any) (pgx.Row, error) {
	ex, err := getExecutor(pool, tx)
	if err != nil {
		return nil, err
	}
	return ex.QueryRow(ctx, q, args...), nil
}

func queryRows(ctx context.Context, pool *pgxpool.Pool, tx repository.Tx, q string, args ...any) (pgx.Rows, error) {
	ex, err := getExecutor(pool, tx)
	if err != nil {
		return nil, err
	}
	rows, err := ex.Query(ctx, q, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	return rows, nil
}

// mapErr translates driver errors into domain errors. Anything that is not a
// known domain condition is reported as storage unavailability so callers can
// ask the gateway to redeliver.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return domain.ErrNotFound
	case errors.Is(err, domain.ErrInvalidArgument),
		errors.Is(err, domain.ErrInvalidExecContext),
		errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrVersionConflict),
		errors.Is(err, domain.ErrStorageUnavailable):
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%s: %w", pgErr.ConstraintName, domain.ErrAlreadyExists)
		case "22P02", "23502", "23514": // invalid_text_representation, not_null, check
			return fmt.Errorf("%s: %w", pgErr.Message, domain.ErrInvalidArgument)
		}
	}
	return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
}
