package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/shopspring/decimal"

	"coursepay/internal/domain"
	"coursepay/internal/domain/model"
	"coursepay/internal/domain/ports/repository"
)

var _ repository.PaymentLedger = (*paymentRepo)(nil)

type paymentRepo struct {
	pool *pgxpool.Pool
	tm   *TxManager
	now  func() time.Time
}

func NewPaymentRepo(pool *pgxpool.Pool) *paymentRepo {
	return &paymentRepo{pool: pool, tm: NewTxManager(pool), now: time.Now}
}

const paymentColumns = `transaction_id, gateway, reference_id, user_id, course_id, amount::text, currency,
gateway_status, normalized_status, grant_state, raw_payload, created_at, updated_at`

// UpsertByTransactionID inserts the first observation of a transaction or merges a
// later one into the locked row. Concurrent callers for the same key serialize on
// the unique index (insert) or the row lock (update).
func (r *paymentRepo) UpsertByTransactionID(ctx context.Context, gateway, transactionID string, f model.LedgerFields) (*model.UpsertResult, error) {
	if gateway == "" || transactionID == "" {
		return nil, domain.ErrInvalidArgument
	}
	var res *model.UpsertResult
	err := r.tm.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ctx context.Context, tx repository.Tx) error {
		now := r.now().UTC()
		fresh := f.MergeInto(model.PaymentRecord{ID: transactionID, Gateway: gateway, CreatedAt: now}, now)

		const ins = `
INSERT INTO payments (
  transaction_id, gateway, reference_id, user_id, course_id, amount, currency,
  gateway_status, normalized_status, grant_state, raw_payload, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6::numeric,$7,$8,$9,$10,$11,$12,$13)
ON CONFLICT (gateway, transaction_id) DO NOTHING;`
		tag, err := execSQL(ctx, r.pool, tx, ins, recordArgs(&fresh)...)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 1 {
			res = &model.UpsertResult{Record: &fresh, Inserted: true}
			return nil
		}

		current, err := r.FindByTransactionID(ctx, tx, gateway, transactionID)
		if err != nil {
			return err
		}
		merged := f.MergeInto(*current, now)

		const upd = `
UPDATE payments SET
  reference_id=$3, user_id=$4, course_id=$5, amount=$6::numeric, currency=$7,
  gateway_status=$8, normalized_status=$9, grant_state=$10, raw_payload=$11, updated_at=$13
WHERE transaction_id=$1 AND gateway=$2;`
		if _, err := execSQL(ctx, r.pool, tx, upd, recordArgs(&merged)...); err != nil {
			return err
		}
		res = &model.UpsertResult{Record: &merged, PreviousStatus: current.NormalizedStatus}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (r *paymentRepo) FindByTransactionID(ctx context.Context, tx repository.Tx, gateway, transactionID string) (*model.PaymentRecord, error) {
	q := `SELECT ` + paymentColumns + ` FROM payments WHERE gateway=$1 AND transaction_id=$2`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	q += ";"
	row, err := pickRow(ctx, r.pool, tx, q, gateway, transactionID)
	if err != nil {
		return nil, err
	}
	p, err := scanPayment(row)
	if err != nil {
		return nil, mapErr(err)
	}
	return p, nil
}

// MarkGrant only moves rows that are SUCCEEDED with a pending grant.
func (r *paymentRepo) MarkGrant(ctx context.Context, tx repository.Tx, gateway, transactionID string, state model.GrantState) (bool, error) {
	if state == model.GrantStateNone || state == model.GrantStatePending {
		return false, domain.ErrInvalidArgument
	}
	const q = `
UPDATE payments
   SET grant_state = $3,
       updated_at = NOW()
 WHERE gateway = $1
   AND transaction_id = $2
   AND normalized_status = 'SUCCEEDED'
   AND grant_state = 'pending';`
	tag, err := execSQL(ctx, r.pool, tx, q, gateway, transactionID, string(state))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() >= 1, nil
}

func (r *paymentRepo) ReopenGrant(ctx context.Context, tx repository.Tx, gateway, transactionID string) (bool, error) {
	const q = `
UPDATE payments
   SET grant_state = 'pending',
       updated_at = NOW()
 WHERE gateway = $1
   AND transaction_id = $2
   AND normalized_status = 'SUCCEEDED'
   AND grant_state = 'undecodable';`
	tag, err := execSQL(ctx, r.pool, tx, q, gateway, transactionID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *paymentRepo) ListPendingGrants(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.PaymentRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `SELECT ` + paymentColumns + ` FROM payments
WHERE normalized_status='SUCCEEDED' AND grant_state='pending' AND updated_at < $1
ORDER BY updated_at ASC LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.PaymentRecord
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, mapErr(err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}
	return out, nil
}

func recordArgs(p *model.PaymentRecord) []interface{} {
	return []interface{}{
		p.ID, p.Gateway, p.ReferenceID, nullIfEmpty(p.UserID), p.CourseID, p.Amount.String(), p.Currency,
		p.GatewayStatus, string(p.NormalizedStatus), string(p.GrantState), p.RawPayload, p.CreatedAt, p.UpdatedAt,
	}
}

func scanPayment(row pgx.Row) (*model.PaymentRecord, error) {
	var (
		p      model.PaymentRecord
		userID *string
		amount string
		status string
		grant  string
	)
	if err := row.Scan(&p.ID, &p.Gateway, &p.ReferenceID, &userID, &p.CourseID, &amount, &p.Currency,
		&p.GatewayStatus, &status, &grant, &p.RawPayload, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if userID != nil {
		p.UserID = *userID
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, errors.Join(domain.ErrInvalidArgument, err)
	}
	p.Amount = d
	p.NormalizedStatus = model.PaymentStatus(status)
	p.GrantState = model.GrantState(grant)
	return &p, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
