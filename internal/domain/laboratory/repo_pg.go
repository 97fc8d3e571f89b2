package laboratory

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/pkg/apperr"
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

func requestsDataset() *goqu.SelectDataset {
	return db.Goqu.From(goqu.T("test_requests").As("t")).
		Join(goqu.T("users").As("pu"), goqu.On(goqu.I("pu.id").Eq(goqu.I("t.patient_id")))).
		Join(goqu.T("users").As("du"), goqu.On(goqu.I("du.id").Eq(goqu.I("t.doctor_id"))))
}

var requestColumns = []interface{}{
	goqu.I("t.id"), goqu.I("t.appointment_id"),
	goqu.I("t.patient_id"), goqu.L("TRIM(pu.first_name || ' ' || pu.last_name)"),
	goqu.I("t.doctor_id"), goqu.L("TRIM(du.first_name || ' ' || du.last_name)"),
	goqu.I("t.test_name"), goqu.I("t.notes"), goqu.I("t.result"), goqu.I("t.is_completed"),
	goqu.I("t.completed_by"), goqu.I("t.completed_at"), goqu.I("t.created_at"),
}

func scanRequest(row pgx.Row) (*TestRequest, error) {
	var t TestRequest
	err := row.Scan(&t.ID, &t.AppointmentID, &t.PatientID, &t.PatientName, &t.DoctorID, &t.DoctorName,
		&t.TestName, &t.Notes, &t.Result, &t.IsCompleted, &t.CompletedBy, &t.CompletedAt, &t.CreatedAt)
	return &t, err
}

func (r *repoPG) Create(ctx context.Context, t *TestRequest) error {
	t.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO test_requests (id, appointment_id, patient_id, doctor_id, test_name, notes)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		t.ID, t.AppointmentID, t.PatientID, t.DoctorID, t.TestName, t.Notes).Scan(&t.CreatedAt)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return apperr.NotFound("patient not found")
		}
		return fmt.Errorf("insert test request: %w", err)
	}
	return nil
}

func (r *repoPG) Get(ctx context.Context, id uuid.UUID) (*TestRequest, error) {
	query, args, err := requestsDataset().Select(requestColumns...).
		Where(goqu.I("t.id").Eq(id.String())).Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build test request query: %w", err)
	}
	t, err := scanRequest(r.conn(ctx).QueryRow(ctx, query, args...))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("Test request not found.")
	}
	if err != nil {
		return nil, fmt.Errorf("get test request: %w", err)
	}
	return t, nil
}

func (r *repoPG) List(ctx context.Context, f Filter) ([]*TestRequest, int, error) {
	base := requestsDataset()
	if f.PatientID != nil {
		base = base.Where(goqu.I("t.patient_id").Eq(f.PatientID.String()))
	}
	if f.DoctorID != nil {
		base = base.Where(goqu.I("t.doctor_id").Eq(f.DoctorID.String()))
	}
	switch f.Status {
	case StatusPending:
		base = base.Where(goqu.I("t.is_completed").IsFalse())
	case StatusCompleted:
		base = base.Where(goqu.I("t.is_completed").IsTrue())
	}
	q := r.conn(ctx)

	countSQL, countArgs, err := base.Select(goqu.COUNT(goqu.Star())).Prepared(true).ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build test request count: %w", err)
	}
	var total int
	if err := q.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count test requests: %w", err)
	}

	// Pending work is served oldest first; history newest first.
	order := goqu.I("t.created_at").Desc()
	if f.Status == StatusPending {
		order = goqu.I("t.created_at").Asc()
	}
	ds := base.Select(requestColumns...).Order(order, goqu.I("t.id").Asc())
	if f.Limit > 0 {
		ds = ds.Limit(uint(f.Limit)).Offset(uint(f.Offset))
	}
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build test request query: %w", err)
	}
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list test requests: %w", err)
	}
	defer rows.Close()

	var items []*TestRequest
	for rows.Next() {
		t, err := scanRequest(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, t)
	}
	return items, total, rows.Err()
}

func (r *repoPG) Complete(ctx context.Context, id, by uuid.UUID, result string) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE test_requests
		SET result = $3, is_completed = TRUE, completed_by = $2, completed_at = NOW()
		WHERE id = $1 AND NOT is_completed`, id, by, result)
	if err != nil {
		return false, fmt.Errorf("complete test request: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
