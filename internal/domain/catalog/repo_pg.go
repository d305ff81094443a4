package catalog

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/clinic/internal/platform/db"
)

type repoPG struct {
	pool  *pgxpool.Pool
	table string
}

// NewRepo returns the repository for the catalog of kind.
func NewRepo(pool *pgxpool.Pool, kind Kind) Repository {
	return &repoPG{pool: pool, table: pgx.Identifier{tables[kind]}.Sanitize()}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const itemCols = `id, code, name, unit, unit_price, active, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, item *Item) error {
	item.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO `+r.table+` (id, code, name, unit, unit_price, active)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at, updated_at`,
		item.ID, item.Code, item.Name, item.Unit, item.UnitPrice, item.Active,
	).Scan(&item.CreatedAt, &item.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Item, error) {
	return scanItem(r.conn(ctx).QueryRow(ctx, `SELECT `+itemCols+` FROM `+r.table+` WHERE id = $1`, id))
}

func (r *repoPG) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*Item, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+itemCols+` FROM `+r.table+` WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items, _, err := collectItems(rows, 0)
	return items, err
}

func (r *repoPG) Update(ctx context.Context, item *Item) error {
	return r.conn(ctx).QueryRow(ctx, `
		UPDATE `+r.table+` SET code=$2, name=$3, unit=$4, unit_price=$5, active=$6, updated_at=NOW()
		WHERE id = $1
		RETURNING created_at, updated_at`,
		item.ID, item.Code, item.Name, item.Unit, item.UnitPrice, item.Active,
	).Scan(&item.CreatedAt, &item.UpdatedAt)
}

func (r *repoPG) List(ctx context.Context, activeOnly bool, search string, limit, offset int) ([]*Item, int, error) {
	where := `WHERE ($1 = FALSE OR active) AND ($2 = '' OR code ILIKE '%' || $2 || '%' OR name ILIKE '%' || $2 || '%')`

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM `+r.table+` `+where, activeOnly, search).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count %s: %w", r.table, err)
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+itemCols+` FROM `+r.table+` `+where+` ORDER BY name LIMIT $3 OFFSET $4`,
		activeOnly, search, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectItems(rows, total)
}

func scanItem(row pgx.Row) (*Item, error) {
	var it Item
	if err := row.Scan(&it.ID, &it.Code, &it.Name, &it.Unit, &it.UnitPrice, &it.Active, &it.CreatedAt, &it.UpdatedAt); err != nil {
		return nil, err
	}
	return &it, nil
}

func collectItems(rows pgx.Rows, total int) ([]*Item, int, error) {
	var items []*Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, it)
	}
	return items, total, rows.Err()
}
