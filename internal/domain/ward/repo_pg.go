package ward

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

// -- Wards and rooms --

func (r *repoPG) CreateWard(ctx context.Context, w *Ward) error {
	w.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO wards (id, name, description) VALUES ($1, $2, $3)
		RETURNING created_at`,
		w.ID, w.Name, w.Description).Scan(&w.CreatedAt)
	if err != nil {
		if db.IsUniqueViolation(err, "wards_name_key") {
			return apperr.Conflict("a ward named %q already exists", w.Name)
		}
		return fmt.Errorf("insert ward: %w", err)
	}
	return nil
}

const wardSelect = `
	SELECT w.id, w.name, w.description, w.created_at,
		(SELECT COUNT(*) FROM rooms r WHERE r.ward_id = w.id),
		(SELECT COUNT(*) FROM beds b JOIN rooms r ON r.id = b.room_id WHERE r.ward_id = w.id),
		(SELECT COUNT(*) FROM beds b JOIN rooms r ON r.id = b.room_id WHERE r.ward_id = w.id AND b.is_occupied)
	FROM wards w`

func scanWard(row pgx.Row) (*Ward, error) {
	var w Ward
	err := row.Scan(&w.ID, &w.Name, &w.Description, &w.CreatedAt, &w.RoomCount, &w.TotalBeds, &w.OccupiedBeds)
	return &w, err
}

func (r *repoPG) GetWard(ctx context.Context, id uuid.UUID) (*Ward, error) {
	w, err := scanWard(r.conn(ctx).QueryRow(ctx, wardSelect+` WHERE w.id = $1`, id))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("ward not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get ward: %w", err)
	}
	return w, nil
}

func (r *repoPG) ListWards(ctx context.Context) ([]*Ward, error) {
	rows, err := r.conn(ctx).Query(ctx, wardSelect+` ORDER BY w.name`)
	if err != nil {
		return nil, fmt.Errorf("list wards: %w", err)
	}
	defer rows.Close()

	var items []*Ward
	for rows.Next() {
		w, err := scanWard(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, w)
	}
	return items, rows.Err()
}

func (r *repoPG) CreateRoom(ctx context.Context, room *Room) error {
	room.ID = uuid.New()
	q := r.conn(ctx)
	err := q.QueryRow(ctx, `
		INSERT INTO rooms (id, ward_id, name, bed_count) VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		room.ID, room.WardID, room.Name, room.BedCount).Scan(&room.CreatedAt)
	if err != nil {
		if db.IsUniqueViolation(err, "rooms_ward_name_key") {
			return apperr.Conflict("room %q already exists in this ward", room.Name)
		}
		if db.IsForeignKeyViolation(err) {
			return apperr.NotFound("ward not found")
		}
		return fmt.Errorf("insert room: %w", err)
	}

	room.Beds = make([]*Bed, 0, room.BedCount)
	batch := &pgx.Batch{}
	for n := 1; n <= room.BedCount; n++ {
		b := &Bed{ID: uuid.New(), RoomID: room.ID, Number: n}
		room.Beds = append(room.Beds, b)
		batch.Queue(`INSERT INTO beds (id, room_id, number) VALUES ($1, $2, $3)`, b.ID, b.RoomID, b.Number)
	}
	if err := r.sendBatch(ctx, batch); err != nil {
		return fmt.Errorf("insert beds: %w", err)
	}
	return nil
}

func (r *repoPG) sendBatch(ctx context.Context, b *pgx.Batch) error {
	var br pgx.BatchResults
	if tx := db.TxFromContext(ctx); tx != nil {
		br = tx.SendBatch(ctx, b)
	} else {
		br = r.pool.SendBatch(ctx, b)
	}
	return br.Close()
}

// -- Beds --

func (r *repoPG) LockBed(ctx context.Context, id uuid.UUID) (*Bed, error) {
	var b Bed
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, room_id, number, is_occupied, patient_id
		FROM beds WHERE id = $1 FOR UPDATE`, id).
		Scan(&b.ID, &b.RoomID, &b.Number, &b.IsOccupied, &b.PatientID)
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("bed not found")
	}
	if err != nil {
		return nil, fmt.Errorf("lock bed: %w", err)
	}
	return &b, nil
}

func (r *repoPG) SetBedPatient(ctx context.Context, bedID uuid.UUID, patientID *uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE beds SET patient_id = $2, is_occupied = ($2::uuid IS NOT NULL)
		WHERE id = $1`,
		bedID, patientID)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return apperr.Conflict("patient already occupies a bed")
		}
		return fmt.Errorf("update bed: %w", err)
	}
	return nil
}

func (r *repoPG) BedLayout(ctx context.Context) ([]*BedSlot, error) {
	query, args, err := db.Goqu.From(goqu.T("wards").As("w")).
		LeftJoin(goqu.T("rooms").As("r"), goqu.On(goqu.I("r.ward_id").Eq(goqu.I("w.id")))).
		LeftJoin(goqu.T("beds").As("b"), goqu.On(goqu.I("b.room_id").Eq(goqu.I("r.id")))).
		LeftJoin(goqu.T("users").As("u"), goqu.On(goqu.I("u.id").Eq(goqu.I("b.patient_id")))).
		Select(
			goqu.I("w.id"), goqu.I("w.name"), goqu.I("r.id"), goqu.I("r.name"),
			goqu.I("b.id"), goqu.I("b.number"), goqu.L("COALESCE(b.is_occupied, FALSE)"),
			goqu.L("NULLIF(TRIM(CONCAT_WS(' ', u.first_name, u.last_name)), '')"),
		).
		Order(goqu.I("w.name").Asc(), goqu.I("r.name").Asc(), goqu.I("b.number").Asc()).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build bed layout query: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("bed layout: %w", err)
	}
	defer rows.Close()

	var slots []*BedSlot
	for rows.Next() {
		var s BedSlot
		if err := rows.Scan(&s.WardID, &s.WardName, &s.RoomID, &s.RoomName,
			&s.BedID, &s.BedNumber, &s.Occupied, &s.PatientName); err != nil {
			return nil, err
		}
		slots = append(slots, &s)
	}
	return slots, rows.Err()
}

func (r *repoPG) BedCounts(ctx context.Context) (int, int, error) {
	query, args, err := db.Goqu.From("beds").
		Select(goqu.COUNT(goqu.Star()), goqu.L("COUNT(*) FILTER (WHERE is_occupied)")).
		Prepared(true).ToSQL()
	if err != nil {
		return 0, 0, fmt.Errorf("build bed count query: %w", err)
	}
	var total, occupied int
	if err := r.conn(ctx).QueryRow(ctx, query, args...).Scan(&total, &occupied); err != nil {
		return 0, 0, fmt.Errorf("count beds: %w", err)
	}
	return total, occupied, nil
}

// -- Admissions --

func (r *repoPG) CreateAdmission(ctx context.Context, a *Admission) error {
	a.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO admissions (id, patient_id, bed_id, admitted_by, reason)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING admitted_at`,
		a.ID, a.PatientID, a.BedID, a.AdmittedBy, a.Reason).Scan(&a.AdmittedAt)
	if err != nil {
		if db.IsUniqueViolation(err, "admissions_open_patient_key") {
			return apperr.Conflict("patient is already admitted")
		}
		if db.IsUniqueViolation(err, "admissions_open_bed_key") {
			return apperr.Conflict("bed is already occupied")
		}
		return fmt.Errorf("insert admission: %w", err)
	}
	return nil
}

func admissionsDataset() *goqu.SelectDataset {
	return db.Goqu.From(goqu.T("admissions").As("a")).
		Join(goqu.T("users").As("u"), goqu.On(goqu.I("u.id").Eq(goqu.I("a.patient_id")))).
		Join(goqu.T("beds").As("b"), goqu.On(goqu.I("b.id").Eq(goqu.I("a.bed_id")))).
		Join(goqu.T("rooms").As("r"), goqu.On(goqu.I("r.id").Eq(goqu.I("b.room_id")))).
		Join(goqu.T("wards").As("w"), goqu.On(goqu.I("w.id").Eq(goqu.I("r.ward_id"))))
}

var admissionColumns = []interface{}{
	goqu.I("a.id"), goqu.I("a.patient_id"), goqu.L("TRIM(CONCAT_WS(' ', u.first_name, u.last_name))"),
	goqu.I("a.bed_id"), goqu.I("b.number"), goqu.I("r.name"), goqu.I("w.name"),
	goqu.I("a.admitted_by"), goqu.I("a.reason"), goqu.I("a.admitted_at"),
	goqu.I("a.discharged_at"), goqu.I("a.discharged_by"), goqu.I("a.discharge_notes"),
}

func scanAdmission(row pgx.Row) (*Admission, error) {
	var a Admission
	err := row.Scan(&a.ID, &a.PatientID, &a.PatientName, &a.BedID, &a.BedNumber, &a.RoomName, &a.WardName,
		&a.AdmittedBy, &a.Reason, &a.AdmittedAt, &a.DischargedAt, &a.DischargedBy, &a.DischargeNotes)
	return &a, err
}

func (r *repoPG) getAdmission(ctx context.Context, ds *goqu.SelectDataset) (*Admission, error) {
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build admission query: %w", err)
	}
	a, err := scanAdmission(r.conn(ctx).QueryRow(ctx, query, args...))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("admission not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get admission: %w", err)
	}
	return a, nil
}

func (r *repoPG) GetAdmission(ctx context.Context, id uuid.UUID) (*Admission, error) {
	return r.getAdmission(ctx, admissionsDataset().Select(admissionColumns...).
		Where(goqu.I("a.id").Eq(id.String())))
}

func (r *repoPG) LockAdmission(ctx context.Context, id uuid.UUID) (*Admission, error) {
	return r.getAdmission(ctx, admissionsDataset().Select(admissionColumns...).
		Where(goqu.I("a.id").Eq(id.String())).
		ForUpdate(goqu.Wait, goqu.T("a")))
}

func (r *repoPG) OpenAdmissionFor(ctx context.Context, patientID uuid.UUID) (*Admission, error) {
	return r.getAdmission(ctx, admissionsDataset().Select(admissionColumns...).
		Where(goqu.I("a.patient_id").Eq(patientID.String()), goqu.I("a.discharged_at").IsNull()))
}

func (r *repoPG) CloseAdmission(ctx context.Context, id, by uuid.UUID, notes *string) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE admissions SET discharged_at = NOW(), discharged_by = $2, discharge_notes = $3
		WHERE id = $1 AND discharged_at IS NULL`,
		id, by, notes)
	if err != nil {
		return fmt.Errorf("close admission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict("patient has already been discharged")
	}
	return nil
}

func (r *repoPG) ListAdmissions(ctx context.Context, f AdmissionFilter) ([]*Admission, int, error) {
	base := admissionsDataset()
	if f.PatientID != nil {
		base = base.Where(goqu.I("a.patient_id").Eq(f.PatientID.String()))
	}
	if f.Open != nil {
		if *f.Open {
			base = base.Where(goqu.I("a.discharged_at").IsNull())
		} else {
			base = base.Where(goqu.I("a.discharged_at").IsNotNull())
		}
	}

	q := r.conn(ctx)
	countSQL, countArgs, err := base.Select(goqu.COUNT(goqu.Star())).Prepared(true).ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build admission count: %w", err)
	}
	var total int
	if err := q.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count admissions: %w", err)
	}

	ds := base.Select(admissionColumns...).Order(goqu.I("a.admitted_at").Desc())
	if f.Limit > 0 {
		ds = ds.Limit(uint(f.Limit)).Offset(uint(f.Offset))
	}
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build admission query: %w", err)
	}
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list admissions: %w", err)
	}
	defer rows.Close()

	var items []*Admission
	for rows.Next() {
		a, err := scanAdmission(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

func (r *repoPG) PeriodCounts(ctx context.Context, unit string, discharged bool, since time.Time) (map[time.Time]int, error) {
	col := "admitted_at"
	if discharged {
		col = "discharged_at"
	}
	period := goqu.Func("date_trunc", unit, goqu.C(col))
	query, args, err := db.Goqu.From("admissions").
		Select(period.As("period"), goqu.COUNT(goqu.Star())).
		Where(goqu.C(col).IsNotNull(), goqu.C(col).Gte(since)).
		GroupBy(goqu.I("period")).
		Order(goqu.I("period").Asc()).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build period count query: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("count admissions by %s: %w", unit, err)
	}
	defer rows.Close()

	out := map[time.Time]int{}
	for rows.Next() {
		var (
			p time.Time
			n int
		)
		if err := rows.Scan(&p, &n); err != nil {
			return nil, err
		}
		out[p] = n
	}
	return out, rows.Err()
}
