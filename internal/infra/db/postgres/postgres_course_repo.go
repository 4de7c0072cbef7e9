package postgres

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"

	"coursepay/internal/domain"
	"coursepay/internal/domain/model"
	"coursepay/internal/domain/ports/repository"
)

var _ repository.CourseCatalog = (*courseRepo)(nil)

type courseRepo struct{ pool *pgxpool.Pool }

func NewCourseRepo(pool *pgxpool.Pool) *courseRepo {
	return &courseRepo{pool: pool}
}

func (r *courseRepo) Save(ctx context.Context, tx repository.Tx, c *model.Course) error {
	const q = `
INSERT INTO courses (id, title, price_idr, published, created_at)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (id) DO UPDATE SET title=$2, price_idr=$3, published=$4;`
	_, err := execSQL(ctx, r.pool, tx, q, c.ID, c.Title, c.PriceIDR, c.Published, c.CreatedAt)
	return err
}

func (r *courseRepo) FindByID(ctx context.Context, id string) (*model.Course, error) {
	const q = `SELECT id, title, price_idr, published, created_at FROM courses WHERE id=$1;`
	row, err := pickRow(ctx, r.pool, nil, q, id)
	if err != nil {
		return nil, err
	}
	var c model.Course
	if err := row.Scan(&c.ID, &c.Title, &c.PriceIDR, &c.Published, &c.CreatedAt); err != nil {
		return nil, mapErr(err)
	}
	return &c, nil
}

func (r *courseRepo) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := queryRows(ctx, r.pool, nil, `SELECT id FROM courses WHERE published ORDER BY id;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, mapErr(err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}
	return ids, nil
}

func (r *courseRepo) FindIDBySuffix(ctx context.Context, suffix string) (string, error) {
	if suffix == "" {
		return "", domain.ErrInvalidArgument
	}
	rows, err := queryRows(ctx, r.pool, nil, `SELECT id FROM courses WHERE right(id, $2) = $1 LIMIT 2;`, suffix, model.CompactSuffixLen)
	if err != nil {
		return "", err
	}
	return uniqueID(rows, "course", suffix)
}
