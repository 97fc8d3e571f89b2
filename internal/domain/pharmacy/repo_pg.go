package pharmacy

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
	"github.com/hms/hms/pkg/money"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

func connFor(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return pool
}

func idStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

// =========== Drugs ===========

type drugRepoPG struct{ pool *pgxpool.Pool }

func NewDrugRepoPG(pool *pgxpool.Pool) DrugRepository {
	return &drugRepoPG{pool: pool}
}

const drugCols = `id, name, dosage, form, manufacturer, quantity, price_cents, created_at, updated_at`

func scanDrug(row pgx.Row) (*Drug, error) {
	var (
		d     Drug
		price int64
	)
	err := row.Scan(&d.ID, &d.Name, &d.Dosage, &d.Form, &d.Manufacturer, &d.Quantity, &price, &d.CreatedAt, &d.UpdatedAt)
	d.PriceForEach = money.Cents(price)
	return &d, err
}

func (r *drugRepoPG) Create(ctx context.Context, d *Drug) error {
	d.ID = uuid.New()
	err := connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO drugs (id, name, dosage, form, manufacturer, quantity, price_cents)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		d.ID, d.Name, d.Dosage, d.Form, d.Manufacturer, d.Quantity, int64(d.PriceForEach)).
		Scan(&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert drug: %w", err)
	}
	return nil
}

func (r *drugRepoPG) Update(ctx context.Context, d *Drug) error {
	err := connFor(ctx, r.pool).QueryRow(ctx, `
		UPDATE drugs SET name = $2, dosage = $3, form = $4, manufacturer = $5,
			quantity = $6, price_cents = $7, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		d.ID, d.Name, d.Dosage, d.Form, d.Manufacturer, d.Quantity, int64(d.PriceForEach)).Scan(&d.UpdatedAt)
	if db.IsNoRows(err) {
		return apperr.NotFound("Drug not found.")
	}
	if err != nil {
		return fmt.Errorf("update drug: %w", err)
	}
	return nil
}

func (r *drugRepoPG) Get(ctx context.Context, id uuid.UUID) (*Drug, error) {
	d, err := scanDrug(connFor(ctx, r.pool).QueryRow(ctx, `SELECT `+drugCols+` FROM drugs WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("Drug not found.")
	}
	if err != nil {
		return nil, fmt.Errorf("get drug: %w", err)
	}
	return d, nil
}

func (r *drugRepoPG) List(ctx context.Context, search string, limit, offset int) ([]*Drug, int, error) {
	base := db.Goqu.From("drugs")
	if search != "" {
		base = base.Where(goqu.C("name").ILike("%" + search + "%"))
	}
	q := connFor(ctx, r.pool)

	countSQL, countArgs, err := base.Select(goqu.COUNT(goqu.Star())).Prepared(true).ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build drug count: %w", err)
	}
	var total int
	if err := q.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count drugs: %w", err)
	}

	ds := base.Select(goqu.L(drugCols)).Order(goqu.L("lower(name)").Asc(), goqu.C("id").Asc())
	if limit > 0 {
		ds = ds.Limit(uint(limit)).Offset(uint(offset))
	}
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build drug query: %w", err)
	}
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list drugs: %w", err)
	}
	defer rows.Close()

	var items []*Drug
	for rows.Next() {
		d, err := scanDrug(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, d)
	}
	return items, total, rows.Err()
}

func (r *drugRepoPG) Lock(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*Drug, error) {
	rows, err := connFor(ctx, r.pool).Query(ctx,
		`SELECT `+drugCols+` FROM drugs WHERE id = ANY($1::uuid[]) ORDER BY id FOR UPDATE`, idStrings(ids))
	if err != nil {
		return nil, fmt.Errorf("lock drugs: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID]*Drug, len(ids))
	for rows.Next() {
		d, err := scanDrug(rows)
		if err != nil {
			return nil, err
		}
		out[d.ID] = d
	}
	return out, rows.Err()
}

func (r *drugRepoPG) Take(ctx context.Context, id uuid.UUID, qty int) error {
	tag, err := connFor(ctx, r.pool).Exec(ctx, `
		UPDATE drugs SET quantity = quantity - $2, updated_at = NOW()
		WHERE id = $1 AND quantity >= $2`, id, qty)
	if err != nil {
		return fmt.Errorf("take drug stock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict("insufficient stock")
	}
	return nil
}

// =========== Medical records and treatments ===========

type recordRepoPG struct{ pool *pgxpool.Pool }

func NewRecordRepoPG(pool *pgxpool.Pool) RecordRepository {
	return &recordRepoPG{pool: pool}
}

func recordsDataset() *goqu.SelectDataset {
	return db.Goqu.From(goqu.T("medical_records").As("m")).
		Join(goqu.T("users").As("pu"), goqu.On(goqu.I("pu.id").Eq(goqu.I("m.patient_id")))).
		Join(goqu.T("users").As("du"), goqu.On(goqu.I("du.id").Eq(goqu.I("m.doctor_id"))))
}

var recordColumns = []interface{}{
	goqu.I("m.id"), goqu.I("m.appointment_id"), goqu.I("m.patient_id"),
	goqu.L("TRIM(pu.first_name || ' ' || pu.last_name)"),
	goqu.I("m.doctor_id"), goqu.L("TRIM(du.first_name || ' ' || du.last_name)"),
	goqu.I("m.diagnosis"), goqu.I("m.symptoms"), goqu.I("m.notes"),
	goqu.I("m.is_treatment_created"), goqu.I("m.created_at"),
}

func scanRecord(row pgx.Row) (*MedicalRecord, error) {
	var m MedicalRecord
	err := row.Scan(&m.ID, &m.AppointmentID, &m.PatientID, &m.PatientName,
		&m.DoctorID, &m.DoctorName, &m.Diagnosis, &m.Symptoms, &m.Notes,
		&m.IsTreatmentCreated, &m.CreatedAt)
	return &m, err
}

func (r *recordRepoPG) Create(ctx context.Context, m *MedicalRecord) error {
	m.ID = uuid.New()
	err := connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO medical_records (id, appointment_id, patient_id, doctor_id, diagnosis, symptoms, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`,
		m.ID, m.AppointmentID, m.PatientID, m.DoctorID, m.Diagnosis, m.Symptoms, m.Notes).Scan(&m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert medical record: %w", err)
	}
	return nil
}

// treatmentsFor loads treatments of the given records keyed by record id.
func treatmentsFor(ctx context.Context, q queryable, recordIDs []uuid.UUID) (map[uuid.UUID][]*Treatment, error) {
	out := map[uuid.UUID][]*Treatment{}
	if len(recordIDs) == 0 {
		return out, nil
	}
	rows, err := q.Query(ctx, `
		SELECT t.id, t.medical_record_id, t.drug_id, d.name, t.dosage, t.frequency, t.duration,
			t.quantity, t.instructions, t.sent_to_pharmacy, t.created_at
		FROM treatments t JOIN drugs d ON d.id = t.drug_id
		WHERE t.medical_record_id = ANY($1::uuid[])
		ORDER BY t.created_at, t.id`, idStrings(recordIDs))
	if err != nil {
		return nil, fmt.Errorf("list treatments: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var t Treatment
		if err := rows.Scan(&t.ID, &t.MedicalRecordID, &t.DrugID, &t.DrugName, &t.Dosage, &t.Frequency,
			&t.Duration, &t.Quantity, &t.Instructions, &t.SentToPharmacy, &t.CreatedAt); err != nil {
			return nil, err
		}
		out[t.MedicalRecordID] = append(out[t.MedicalRecordID], &t)
	}
	return out, rows.Err()
}

func (r *recordRepoPG) Get(ctx context.Context, id uuid.UUID) (*MedicalRecord, error) {
	query, args, err := recordsDataset().Select(recordColumns...).
		Where(goqu.I("m.id").Eq(id.String())).Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build record query: %w", err)
	}
	q := connFor(ctx, r.pool)
	m, err := scanRecord(q.QueryRow(ctx, query, args...))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("Medical record not found.")
	}
	if err != nil {
		return nil, fmt.Errorf("get medical record: %w", err)
	}
	ts, err := treatmentsFor(ctx, q, []uuid.UUID{m.ID})
	if err != nil {
		return nil, err
	}
	m.Treatments = ts[m.ID]
	if m.Treatments == nil {
		m.Treatments = []*Treatment{}
	}
	return m, nil
}

func (r *recordRepoPG) List(ctx context.Context, f RecordFilter) ([]*MedicalRecord, int, error) {
	base := recordsDataset()
	if f.PatientID != nil {
		base = base.Where(goqu.I("m.patient_id").Eq(f.PatientID.String()))
	}
	if f.DoctorID != nil {
		base = base.Where(goqu.I("m.doctor_id").Eq(f.DoctorID.String()))
	}
	q := connFor(ctx, r.pool)

	countSQL, countArgs, err := base.Select(goqu.COUNT(goqu.Star())).Prepared(true).ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build record count: %w", err)
	}
	var total int
	if err := q.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count medical records: %w", err)
	}

	ds := base.Select(recordColumns...).Order(goqu.I("m.created_at").Desc(), goqu.I("m.id").Asc())
	if f.Limit > 0 {
		ds = ds.Limit(uint(f.Limit)).Offset(uint(f.Offset))
	}
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build record query: %w", err)
	}
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list medical records: %w", err)
	}
	var (
		items []*MedicalRecord
		ids   []uuid.UUID
	)
	for rows.Next() {
		m, err := scanRecord(rows)
		if err != nil {
			rows.Close()
			return nil, 0, err
		}
		items = append(items, m)
		ids = append(ids, m.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	ts, err := treatmentsFor(ctx, q, ids)
	if err != nil {
		return nil, 0, err
	}
	for _, m := range items {
		if m.Treatments = ts[m.ID]; m.Treatments == nil {
			m.Treatments = []*Treatment{}
		}
	}
	return items, total, nil
}

func (r *recordRepoPG) SetTreatmentCreated(ctx context.Context, id uuid.UUID) error {
	_, err := connFor(ctx, r.pool).Exec(ctx,
		`UPDATE medical_records SET is_treatment_created = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("flag treatment created: %w", err)
	}
	return nil
}

func (r *recordRepoPG) CreateTreatment(ctx context.Context, t *Treatment) error {
	t.ID = uuid.New()
	err := connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO treatments (id, medical_record_id, drug_id, dosage, frequency, duration, quantity, instructions)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`,
		t.ID, t.MedicalRecordID, t.DrugID, t.Dosage, t.Frequency, t.Duration, t.Quantity, t.Instructions).
		Scan(&t.CreatedAt)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return apperr.NotFound("Drug not found.")
		}
		return fmt.Errorf("insert treatment: %w", err)
	}
	return nil
}

func (r *recordRepoPG) MarkSentToPharmacy(ctx context.Context, recordID uuid.UUID) (int64, error) {
	tag, err := connFor(ctx, r.pool).Exec(ctx, `
		UPDATE treatments SET sent_to_pharmacy = TRUE
		WHERE medical_record_id = $1 AND NOT sent_to_pharmacy`, recordID)
	if err != nil {
		return 0, fmt.Errorf("mark treatments sent: %w", err)
	}
	return tag.RowsAffected(), nil
}

// =========== Referrals and sales ===========

type referralRepoPG struct{ pool *pgxpool.Pool }

func NewReferralRepoPG(pool *pgxpool.Pool) ReferralRepository {
	return &referralRepoPG{pool: pool}
}

func referralsDataset() *goqu.SelectDataset {
	return db.Goqu.From(goqu.T("pharmacy_referrals").As("r")).
		Join(goqu.T("medical_records").As("m"), goqu.On(goqu.I("m.id").Eq(goqu.I("r.medical_record_id")))).
		Join(goqu.T("users").As("pu"), goqu.On(goqu.I("pu.id").Eq(goqu.I("r.patient_id"))))
}

var referralColumns = []interface{}{
	goqu.I("r.id"), goqu.I("r.medical_record_id"), goqu.I("r.patient_id"),
	goqu.L("TRIM(pu.first_name || ' ' || pu.last_name)"),
	goqu.I("r.referred_by"), goqu.I("m.diagnosis"), goqu.I("r.is_payment_done"),
	goqu.I("r.bulk_sale_id"), goqu.I("r.created_at"),
}

func scanReferral(row pgx.Row) (*Referral, error) {
	var rf Referral
	err := row.Scan(&rf.ID, &rf.MedicalRecordID, &rf.PatientID, &rf.PatientName,
		&rf.ReferredBy, &rf.Diagnosis, &rf.IsPaymentDone, &rf.BulkSaleID, &rf.CreatedAt)
	return &rf, err
}

func (r *referralRepoPG) Create(ctx context.Context, rf *Referral) error {
	rf.ID = uuid.New()
	err := connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO pharmacy_referrals (id, medical_record_id, patient_id, referred_by)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		rf.ID, rf.MedicalRecordID, rf.PatientID, rf.ReferredBy).Scan(&rf.CreatedAt)
	if err != nil {
		if db.IsUniqueViolation(err, "pharmacy_referrals_medical_record_id_key") {
			return apperr.Conflict("medical record has already been sent to the pharmacy")
		}
		return fmt.Errorf("insert referral: %w", err)
	}
	return nil
}

func (r *referralRepoPG) one(ctx context.Context, ds *goqu.SelectDataset) (*Referral, error) {
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build referral query: %w", err)
	}
	q := connFor(ctx, r.pool)
	rf, err := scanReferral(q.QueryRow(ctx, query, args...))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("Referral not found.")
	}
	if err != nil {
		return nil, fmt.Errorf("get referral: %w", err)
	}
	ts, err := treatmentsFor(ctx, q, []uuid.UUID{rf.MedicalRecordID})
	if err != nil {
		return nil, err
	}
	if rf.Treatments = ts[rf.MedicalRecordID]; rf.Treatments == nil {
		rf.Treatments = []*Treatment{}
	}
	return rf, nil
}

func (r *referralRepoPG) Get(ctx context.Context, id uuid.UUID) (*Referral, error) {
	return r.one(ctx, referralsDataset().Select(referralColumns...).Where(goqu.I("r.id").Eq(id.String())))
}

func (r *referralRepoPG) Lock(ctx context.Context, id uuid.UUID) (*Referral, error) {
	return r.one(ctx, referralsDataset().Select(referralColumns...).
		Where(goqu.I("r.id").Eq(id.String())).
		ForUpdate(goqu.Wait, goqu.T("r")))
}

func (r *referralRepoPG) List(ctx context.Context, f ReferralFilter) ([]*Referral, int, error) {
	base := referralsDataset()
	switch f.Status {
	case ReferralsPending:
		base = base.Where(goqu.I("r.is_payment_done").IsFalse())
	case ReferralsPaid:
		base = base.Where(goqu.I("r.is_payment_done").IsTrue())
	}
	q := connFor(ctx, r.pool)

	countSQL, countArgs, err := base.Select(goqu.COUNT(goqu.Star())).Prepared(true).ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build referral count: %w", err)
	}
	var total int
	if err := q.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count referrals: %w", err)
	}

	ds := base.Select(referralColumns...).Order(goqu.I("r.created_at").Asc(), goqu.I("r.id").Asc())
	if f.Limit > 0 {
		ds = ds.Limit(uint(f.Limit)).Offset(uint(f.Offset))
	}
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build referral query: %w", err)
	}
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list referrals: %w", err)
	}
	var (
		items     []*Referral
		recordIDs []uuid.UUID
	)
	for rows.Next() {
		rf, err := scanReferral(rows)
		if err != nil {
			rows.Close()
			return nil, 0, err
		}
		items = append(items, rf)
		recordIDs = append(recordIDs, rf.MedicalRecordID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	ts, err := treatmentsFor(ctx, q, recordIDs)
	if err != nil {
		return nil, 0, err
	}
	for _, rf := range items {
		if rf.Treatments = ts[rf.MedicalRecordID]; rf.Treatments == nil {
			rf.Treatments = []*Treatment{}
		}
	}
	return items, total, nil
}

func (r *referralRepoPG) MarkPaid(ctx context.Context, id uuid.UUID, saleID string) (bool, error) {
	tag, err := connFor(ctx, r.pool).Exec(ctx, `
		UPDATE pharmacy_referrals SET is_payment_done = TRUE, bulk_sale_id = $2
		WHERE id = $1 AND NOT is_payment_done`, id, saleID)
	if err != nil {
		return false, fmt.Errorf("mark referral paid: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *referralRepoPG) Deliver(ctx context.Context, items []*DeliveredMedication) error {
	batch := &pgx.Batch{}
	for _, it := range items {
		it.ID = uuid.New()
		batch.Queue(`
			INSERT INTO delivered_medications
				(id, referral_id, treatment_id, drug_id, quantity, unit_price_cents, total_price_cents, bulk_sale_id, dispensed_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING created_at`,
			it.ID, it.ReferralID, it.TreatmentID, it.DrugID, it.Quantity,
			int64(it.UnitPrice), int64(it.TotalPrice), it.BulkSaleID, it.DispensedBy)
	}
	br := connFor(ctx, r.pool).SendBatch(ctx, batch)
	for _, it := range items {
		if err := br.QueryRow().Scan(&it.CreatedAt); err != nil {
			br.Close()
			return fmt.Errorf("insert delivered medication: %w", err)
		}
	}
	return br.Close()
}

func (r *referralRepoPG) SaleItems(ctx context.Context, saleID string) ([]*DeliveredMedication, error) {
	rows, err := connFor(ctx, r.pool).Query(ctx, `
		SELECT dm.id, dm.referral_id, dm.treatment_id, dm.drug_id, d.name, dm.quantity,
			dm.unit_price_cents, dm.total_price_cents, dm.bulk_sale_id, dm.dispensed_by, dm.created_at
		FROM delivered_medications dm JOIN drugs d ON d.id = dm.drug_id
		WHERE dm.bulk_sale_id = $1
		ORDER BY dm.created_at, dm.id`, saleID)
	if err != nil {
		return nil, fmt.Errorf("list sale items: %w", err)
	}
	defer rows.Close()

	var items []*DeliveredMedication
	for rows.Next() {
		var (
			it           DeliveredMedication
			unit, totalC int64
		)
		if err := rows.Scan(&it.ID, &it.ReferralID, &it.TreatmentID, &it.DrugID, &it.DrugName, &it.Quantity,
			&unit, &totalC, &it.BulkSaleID, &it.DispensedBy, &it.CreatedAt); err != nil {
			return nil, err
		}
		it.UnitPrice, it.TotalPrice = money.Cents(unit), money.Cents(totalC)
		items = append(items, &it)
	}
	return items, rows.Err()
}
