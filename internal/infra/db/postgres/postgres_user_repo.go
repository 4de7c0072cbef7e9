package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"coursepay/internal/domain"
	"coursepay/internal/domain/model"
	"coursepay/internal/domain/ports/repository"
)

var _ repository.UserDirectory = (*PostgresUserRepo)(nil)

type PostgresUserRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresUserRepo(pool *pgxpool.Pool) *PostgresUserRepo {
	return &PostgresUserRepo{pool: pool}
}

const userColumns = `id, email, name, purchased_courses::text, applied_payment_ids, version, created_at, updated_at`

// Save inserts or updates the profile columns. Entitlements only change through
// UpdateEntitlements.
func (r *PostgresUserRepo) Save(ctx context.Context, tx repository.Tx, u *model.User) error {
	const q = `
INSERT INTO users (id, email, name, created_at, updated_at)
VALUES ($1,$2,$3,$4,$4)
ON CONFLICT (id) DO UPDATE SET email=$2, name=$3, updated_at=NOW();`
	_, err := execSQL(ctx, r.pool, tx, q, u.ID, u.Email, u.Name, u.CreatedAt)
	return err
}

func (r *PostgresUserRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE id=$1`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	return r.findOne(ctx, tx, q+";", id)
}

func (r *PostgresUserRepo) FindByEmail(ctx context.Context, tx repository.Tx, email string) (*model.User, error) {
	return r.findOne(ctx, tx, `SELECT `+userColumns+` FROM users WHERE lower(email)=lower($1);`, email)
}

func (r *PostgresUserRepo) findOne(ctx context.Context, tx repository.Tx, q string, arg interface{}) (*model.User, error) {
	row, err := pickRow(ctx, r.pool, tx, q, arg)
	if err != nil {
		return nil, err
	}
	var (
		u   model.User
		raw string
	)
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &raw, &u.AppliedPaymentIDs, &u.Version, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, mapErr(err)
	}
	ents, err := model.DecodeEntitlements([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("user %s: %w", u.ID, err)
	}
	u.PurchasedCourses = ents
	return &u, nil
}

func (r *PostgresUserRepo) FindIDBySuffix(ctx context.Context, tx repository.Tx, suffix string) (string, error) {
	if suffix == "" {
		return "", domain.ErrInvalidArgument
	}
	rows, err := queryRows(ctx, r.pool, tx, `SELECT id FROM users WHERE right(id, $2) = $1 LIMIT 2;`, suffix, model.CompactSuffixLen)
	if err != nil {
		return "", err
	}
	return uniqueID(rows, "user", suffix)
}

// UpdateEntitlements writes the new state only when nobody bumped version since
// the caller read it.
func (r *PostgresUserRepo) UpdateEntitlements(ctx context.Context, tx repository.Tx, userID string, expectedVersion int64, ents model.Entitlements, appliedPaymentIDs []string) error {
	if ents == nil {
		ents = model.Entitlements{}
	}
	if appliedPaymentIDs == nil {
		appliedPaymentIDs = []string{}
	}
	b, err := json.Marshal(ents)
	if err != nil {
		return fmt.Errorf("encode purchased courses: %w", err)
	}
	const q = `
UPDATE users
   SET purchased_courses = $3::jsonb,
       applied_payment_ids = $4,
       version = version + 1,
       updated_at = NOW()
 WHERE id = $1
   AND version = $2;`
	tag, err := execSQL(ctx, r.pool, tx, q, userID, expectedVersion, string(b), appliedPaymentIDs)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrVersionConflict
	}
	return nil
}

// uniqueID drains rows and returns the single id found; zero or several matches
// are reported as not found.
func uniqueID(rows pgx.Rows, what, suffix string) (string, error) {
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", mapErr(err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return "", mapErr(err)
	}
	switch len(ids) {
	case 1:
		return ids[0], nil
	case 0:
		return "", fmt.Errorf("%s suffix %q: %w", what, suffix, domain.ErrNotFound)
	default:
		return "", fmt.Errorf("%s suffix %q is ambiguous: %w", what, suffix, domain.ErrNotFound)
	}
}
