package finance

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/pkg/money"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

// ledger selects rows of incomes or expenses with the handler's name.
func ledger(table string, f ListFilter) *goqu.SelectDataset {
	ds := db.Goqu.From(goqu.T(table).As("t")).
		LeftJoin(goqu.T("users").As("u"), goqu.On(goqu.I("u.id").Eq(goqu.I("t.handled_by"))))
	if f.From != nil {
		ds = ds.Where(goqu.I("t.date").Gte(f.From.Format(DayLayout)))
	}
	if f.To != nil {
		ds = ds.Where(goqu.I("t.date").Lte(f.To.Format(DayLayout)))
	}
	return ds
}

var handlerName = goqu.L("COALESCE(TRIM(u.first_name || ' ' || u.last_name), '')")

func (r *repoPG) page(ctx context.Context, table string, f ListFilter, cols []interface{}, scan func(pgx.Rows) error) (int, money.Cents, error) {
	base := ledger(table, f)
	q := r.conn(ctx)

	countSQL, countArgs, err := base.Select(
		goqu.COUNT(goqu.Star()),
		goqu.Cast(goqu.COALESCE(goqu.SUM(goqu.I("t.amount_cents")), 0), "BIGINT"),
	).Prepared(true).ToSQL()
	if err != nil {
		return 0, 0, fmt.Errorf("build %s count: %w", table, err)
	}
	var (
		total int
		sum   int64
	)
	if err := q.QueryRow(ctx, countSQL, countArgs...).Scan(&total, &sum); err != nil {
		return 0, 0, fmt.Errorf("count %s: %w", table, err)
	}

	ds := base.Select(cols...).Order(goqu.I("t.date").Desc(), goqu.I("t.created_at").Desc())
	if f.Limit > 0 {
		ds = ds.Limit(uint(f.Limit)).Offset(uint(f.Offset))
	}
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return 0, 0, fmt.Errorf("build %s query: %w", table, err)
	}
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return 0, 0, fmt.Errorf("list %s: %w", table, err)
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return 0, 0, err
		}
	}
	return total, money.Cents(sum), rows.Err()
}

// -- Incomes --

func (r *repoPG) CreateIncome(ctx context.Context, in *Income) error {
	in.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO incomes (id, reason, handled_by, received_from, payment_method, amount_cents, description, date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`,
		in.ID, in.Reason, in.HandledBy, in.ReceivedFrom, in.PaymentMethod,
		int64(in.Amount), in.Description, in.Date.Time()).Scan(&in.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert income: %w", err)
	}
	return nil
}

var incomeColumns = []interface{}{
	goqu.I("t.id"), goqu.I("t.reason"), goqu.I("t.handled_by"), handlerName,
	goqu.I("t.received_from"), goqu.I("t.payment_method"), goqu.I("t.amount_cents"),
	goqu.I("t.description"), goqu.I("t.date"), goqu.I("t.created_at"),
}

func (r *repoPG) ListIncomes(ctx context.Context, f ListFilter) ([]*Income, int, money.Cents, error) {
	var items []*Income
	total, sum, err := r.page(ctx, "incomes", f, incomeColumns, func(rows pgx.Rows) error {
		var (
			in     Income
			amount int64
			date   time.Time
		)
		if err := rows.Scan(&in.ID, &in.Reason, &in.HandledBy, &in.HandledByName,
			&in.ReceivedFrom, &in.PaymentMethod, &amount, &in.Description, &date, &in.CreatedAt); err != nil {
			return err
		}
		in.Amount, in.Date = money.Cents(amount), Day(date)
		items = append(items, &in)
		return nil
	})
	return items, total, sum, err
}

// -- Expenses --

func (r *repoPG) CreateExpense(ctx context.Context, ex *Expense) error {
	ex.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO expenses (id, reason, handled_by, paid_to, payment_method, amount_cents, description, receipt_number, date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at`,
		ex.ID, ex.Reason, ex.HandledBy, ex.PaidTo, ex.PaymentMethod,
		int64(ex.Amount), ex.Description, ex.ReceiptNumber, ex.Date.Time()).Scan(&ex.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert expense: %w", err)
	}
	return nil
}

var expenseColumns = []interface{}{
	goqu.I("t.id"), goqu.I("t.reason"), goqu.I("t.handled_by"), handlerName,
	goqu.I("t.paid_to"), goqu.I("t.payment_method"), goqu.I("t.amount_cents"),
	goqu.I("t.description"), goqu.I("t.receipt_number"), goqu.I("t.date"), goqu.I("t.created_at"),
}

func (r *repoPG) ListExpenses(ctx context.Context, f ListFilter) ([]*Expense, int, money.Cents, error) {
	var items []*Expense
	total, sum, err := r.page(ctx, "expenses", f, expenseColumns, func(rows pgx.Rows) error {
		var (
			ex     Expense
			amount int64
			date   time.Time
		)
		if err := rows.Scan(&ex.ID, &ex.Reason, &ex.HandledBy, &ex.HandledByName,
			&ex.PaidTo, &ex.PaymentMethod, &amount, &ex.Description, &ex.ReceiptNumber, &date, &ex.CreatedAt); err != nil {
			return err
		}
		ex.Amount, ex.Date = money.Cents(amount), Day(date)
		items = append(items, &ex)
		return nil
	})
	return items, total, sum, err
}

// -- Summary --

func (r *repoPG) bucketSums(ctx context.Context, table, unit string, from, to time.Time) (map[time.Time]money.Cents, error) {
	// date_trunc on a DATE yields a timestamp; cast back so buckets are days.
	bucket := goqu.Cast(goqu.Func("date_trunc", unit, goqu.C("date")), "DATE")
	query, args, err := db.Goqu.From(table).
		Select(bucket.As("bucket"), goqu.Cast(goqu.SUM(goqu.C("amount_cents")), "BIGINT")).
		Where(goqu.C("date").Gte(from.Format(DayLayout)), goqu.C("date").Lte(to.Format(DayLayout))).
		GroupBy(goqu.I("bucket")).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build %s sums: %w", table, err)
	}
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sum %s by %s: %w", table, unit, err)
	}
	defer rows.Close()

	out := map[time.Time]money.Cents{}
	for rows.Next() {
		var (
			b   time.Time
			sum int64
		)
		if err := rows.Scan(&b, &sum); err != nil {
			return nil, err
		}
		out[time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)] = money.Cents(sum)
	}
	return out, rows.Err()
}

func (r *repoPG) Sums(ctx context.Context, unit string, from, to time.Time) (map[time.Time]money.Cents, map[time.Time]money.Cents, error) {
	incomes, err := r.bucketSums(ctx, "incomes", unit, from, to)
	if err != nil {
		return nil, nil, err
	}
	expenses, err := r.bucketSums(ctx, "expenses", unit, from, to)
	if err != nil {
		return nil, nil, err
	}
	return incomes, expenses, nil
}
