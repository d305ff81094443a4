package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/clinic/internal/domain/workflow"
	"github.com/clinic/clinic/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
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

const (
	lineService    = "SERVICE"
	lineMedication = "MEDICATION"
)

const invoiceCols = `id, medical_record_id, patient_id, status, service_total, medication_total, total,
	issued_by, issued_at, paid_by, paid_at`

var lineColumns = []string{"id", "invoice_id", "kind", "position", "item_id", "name", "quantity", "unit_price", "total"}

func (r *repoPG) Create(ctx context.Context, inv *Invoice) error {
	inv.ID = uuid.New()
	q := r.conn(ctx)
	err := q.QueryRow(ctx, `
		INSERT INTO invoice (id, medical_record_id, patient_id, status, service_total, medication_total, total, issued_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING issued_at`,
		inv.ID, inv.MedicalRecordID, inv.PatientID, inv.Status,
		inv.ServiceTotal, inv.MedicationTotal, inv.Total, inv.IssuedBy,
	).Scan(&inv.IssuedAt)
	if err != nil {
		return err
	}

	var rows [][]interface{}
	add := func(kind string, lines []workflow.PricedLine) {
		for i, l := range lines {
			rows = append(rows, []interface{}{
				uuid.New(), inv.ID, kind, int32(i), l.ItemID, l.Name, l.Quantity, l.UnitPrice, l.Total,
			})
		}
	}
	add(lineService, inv.ServiceLines)
	add(lineMedication, inv.MedicationLines)
	if len(rows) == 0 {
		return nil
	}

	n, err := q.CopyFrom(ctx, pgx.Identifier{"invoice_line"}, lineColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("copy invoice lines: %w", err)
	}
	if int(n) != len(rows) {
		return fmt.Errorf("copy invoice lines: wrote %d of %d", n, len(rows))
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return r.load(ctx, `SELECT `+invoiceCols+` FROM invoice WHERE id = $1`, id)
}

func (r *repoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return r.load(ctx, `SELECT `+invoiceCols+` FROM invoice WHERE id = $1 FOR UPDATE`, id)
}

func (r *repoPG) GetByRecord(ctx context.Context, recordID uuid.UUID) (*Invoice, error) {
	return r.load(ctx, `SELECT `+invoiceCols+` FROM invoice WHERE medical_record_id = $1`, recordID)
}

func (r *repoPG) load(ctx context.Context, sql string, arg interface{}) (*Invoice, error) {
	inv, err := scanInvoice(r.conn(ctx).QueryRow(ctx, sql, arg))
	if err != nil {
		return nil, err
	}
	if err := r.loadLines(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

func (r *repoPG) loadLines(ctx context.Context, inv *Invoice) error {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT kind, item_id, name, quantity, unit_price, total
		FROM invoice_line WHERE invoice_id = $1 ORDER BY kind DESC, position`, inv.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	inv.ServiceLines = []workflow.PricedLine{}
	inv.MedicationLines = []workflow.PricedLine{}
	for rows.Next() {
		var kind string
		var l workflow.PricedLine
		if err := rows.Scan(&kind, &l.ItemID, &l.Name, &l.Quantity, &l.UnitPrice, &l.Total); err != nil {
			return err
		}
		if kind == lineService {
			inv.ServiceLines = append(inv.ServiceLines, l)
		} else {
			inv.MedicationLines = append(inv.MedicationLines, l)
		}
	}
	return rows.Err()
}

func (r *repoPG) MarkPaid(ctx context.Context, inv *Invoice, by string) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE invoice SET status = 'PAID', paid_by = $2, paid_at = NOW()
		WHERE id = $1 AND status = 'ISSUED'
		RETURNING status, paid_by, paid_at`, inv.ID, by,
	).Scan(&inv.Status, &inv.PaidBy, &inv.PaidAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("invoice %s is no longer ISSUED: %w", inv.ID, workflow.ErrInvalidTransition)
	}
	return err
}

func (r *repoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Invoice, int, error) {
	where, args := filterSQL(f)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM invoice`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	n := len(args)
	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx,
		fmt.Sprintf(`SELECT %s FROM invoice%s ORDER BY issued_at DESC LIMIT $%d OFFSET $%d`, invoiceCols, where, n+1, n+2),
		args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, inv)
	}
	return out, total, rows.Err()
}

func filterSQL(f Filter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.PatientID != uuid.Nil {
		add("patient_id = $%d", f.PatientID)
	}
	if f.PaidFrom != nil {
		add("paid_at >= $%d", *f.PaidFrom)
	}
	if f.PaidTo != nil {
		add("paid_at < $%d", *f.PaidTo)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.MedicalRecordID, &inv.PatientID, &inv.Status,
		&inv.ServiceTotal, &inv.MedicationTotal, &inv.Total,
		&inv.IssuedBy, &inv.IssuedAt, &inv.PaidBy, &inv.PaidAt)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}
