package appointment

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

func connFor(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return pool
}

// =========== Appointment Repository ===========

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

var appointmentColumns = []interface{}{
	goqu.I("a.id"), goqu.I("a.patient_id"), goqu.I("a.doctor_id"), goqu.I("a.nurse_id"),
	goqu.I("a.appointment_date"), goqu.L("COALESCE(a.reason, '')"), goqu.I("a.status"),
	goqu.I("a.is_patient_available"), goqu.I("a.is_vitals_taken"), goqu.I("a.is_doctor_with_patient"),
	goqu.I("a.is_doctor_done_with_patient"), goqu.I("a.is_medical_history_recorded"),
	goqu.I("a.has_patient_left"), goqu.I("a.created_at"), goqu.I("a.updated_at"),
	goqu.I("pu.email"), goqu.L("COALESCE(pu.first_name, '')"), goqu.L("COALESCE(pu.last_name, '')"),
	goqu.I("du.email"), goqu.L("COALESCE(du.first_name, '')"), goqu.L("COALESCE(du.last_name, '')"),
	goqu.I("nu.email"), goqu.I("nu.first_name"), goqu.I("nu.last_name"),
}

func appointmentsDataset() *goqu.SelectDataset {
	return db.Goqu.From(goqu.T("appointments").As("a")).
		Join(goqu.T("users").As("pu"), goqu.On(goqu.I("pu.id").Eq(goqu.I("a.patient_id")))).
		Join(goqu.T("users").As("du"), goqu.On(goqu.I("du.id").Eq(goqu.I("a.doctor_id")))).
		LeftJoin(goqu.T("users").As("nu"), goqu.On(goqu.I("nu.id").Eq(goqu.I("a.nurse_id"))))
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var (
		a                         Appointment
		patient, doctor           Party
		nurseEmail, nFirst, nLast *string
	)
	err := row.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.NurseID,
		&a.AppointmentDate, &a.Reason, &a.Status,
		&a.IsPatientAvailable, &a.IsVitalsTaken, &a.IsDoctorWithPatient,
		&a.IsDoctorDoneWithPatient, &a.IsMedicalHistoryRecorded,
		&a.HasPatientLeft, &a.CreatedAt, &a.UpdatedAt,
		&patient.Email, &patient.FirstName, &patient.LastName,
		&doctor.Email, &doctor.FirstName, &doctor.LastName,
		&nurseEmail, &nFirst, &nLast)
	if err != nil {
		return nil, err
	}
	patient.ID, doctor.ID = a.PatientID, a.DoctorID
	a.Patient, a.Doctor = &patient, &doctor
	if a.NurseID != nil && nurseEmail != nil {
		n := Party{ID: *a.NurseID, Email: *nurseEmail}
		if nFirst != nil {
			n.FirstName = *nFirst
		}
		if nLast != nil {
			n.LastName = *nLast
		}
		a.Nurse = &n
	}
	a.FormattedDate = a.AppointmentDate.Format(DateLayout)
	return &a, nil
}

func (r *repoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	if a.Status == "" {
		a.Status = StatusPending
	}
	err := connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, appointment_date, reason, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`,
		a.ID, a.PatientID, a.DoctorID, a.AppointmentDate, a.Reason, a.Status).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if db.IsUniqueViolation(err, "appointments_doctor_date_key") {
			return apperr.Conflict("the doctor already has an appointment at that time")
		}
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	query, args, err := appointmentsDataset().Select(appointmentColumns...).
		Where(goqu.I("a.id").Eq(id.String())).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build appointment query: %w", err)
	}
	a, err := scanAppointment(connFor(ctx, r.pool).QueryRow(ctx, query, args...))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("appointment not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return a, nil
}

func (r *repoPG) List(ctx context.Context, f Filter) ([]*Appointment, int, error) {
	base := appointmentsDataset()
	if f.PatientID != nil {
		base = base.Where(goqu.I("a.patient_id").Eq(f.PatientID.String()))
	}
	if f.DoctorID != nil {
		base = base.Where(goqu.I("a.doctor_id").Eq(f.DoctorID.String()))
	}
	if f.Status != "" {
		base = base.Where(goqu.I("a.status").Eq(f.Status))
	}
	if f.From != nil {
		base = base.Where(goqu.I("a.appointment_date").Gte(*f.From))
	}
	if f.To != nil {
		base = base.Where(goqu.I("a.appointment_date").Lt(f.To.AddDate(0, 0, 1)))
	}

	q := connFor(ctx, r.pool)

	countSQL, countArgs, err := base.Select(goqu.COUNT(goqu.Star())).Prepared(true).ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build appointment count: %w", err)
	}
	var total int
	if err := q.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count appointments: %w", err)
	}

	order := goqu.I("a.appointment_date").Desc()
	if f.Ascending {
		order = goqu.I("a.appointment_date").Asc()
	}
	ds := base.Select(appointmentColumns...).Order(order, goqu.I("a.id").Asc())
	if f.Limit > 0 {
		ds = ds.Limit(uint(f.Limit)).Offset(uint(f.Offset))
	}
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build appointment query: %w", err)
	}
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()

	var items []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

func (r *repoPG) SetFlag(ctx context.Context, id uuid.UUID, u FlagUpdate) (bool, error) {
	set := goqu.Record{string(u.Flag): true, "updated_at": goqu.L("NOW()")}
	if u.NurseID != nil {
		set["nurse_id"] = u.NurseID.String()
	}
	if u.Status != "" {
		set["status"] = u.Status
	}
	query, args, err := db.Goqu.Update("appointments").Set(set).
		Where(goqu.C("id").Eq(id.String()), goqu.C(string(u.Flag)).IsFalse()).
		Prepared(true).ToSQL()
	if err != nil {
		return false, fmt.Errorf("build flag update: %w", err)
	}
	tag, err := connFor(ctx, r.pool).Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("set appointment %s: %w", u.Flag, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) UpdateStatus(ctx context.Context, id uuid.UUID, from, to string) (bool, error) {
	tag, err := connFor(ctx, r.pool).Exec(ctx, `
		UPDATE appointments SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2`,
		id, from, to)
	if err != nil {
		return false, fmt.Errorf("update appointment status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// =========== Vital Repository ===========

type vitalRepoPG struct{ pool *pgxpool.Pool }

func NewVitalRepoPG(pool *pgxpool.Pool) VitalRepository {
	return &vitalRepoPG{pool: pool}
}

func (r *vitalRepoPG) Create(ctx context.Context, v *Vital) error {
	v.ID = uuid.New()
	err := connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO vitals (id, patient_id, appointment_id, recorded_by, temperature,
			blood_pressure, pulse_rate, respiratory_rate, weight, height,
			oxygen_saturation, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING recorded_at`,
		v.ID, v.PatientID, v.AppointmentID, v.RecordedBy, v.Temperature,
		v.BloodPressure, v.PulseRate, v.RespiratoryRate, v.Weight, v.Height,
		v.OxygenSaturation, v.Notes).Scan(&v.RecordedAt)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return apperr.Validation("patient or appointment does not exist")
		}
		return fmt.Errorf("insert vital: %w", err)
	}
	return nil
}

func (r *vitalRepoPG) ListForPatient(ctx context.Context, patientID uuid.UUID) ([]*Vital, error) {
	rows, err := connFor(ctx, r.pool).Query(ctx, `
		SELECT v.id, v.patient_id, v.appointment_id, v.recorded_by,
			COALESCE(TRIM(CONCAT_WS(' ', ru.first_name, ru.last_name)), ''),
			v.temperature::float8, v.blood_pressure, v.pulse_rate, v.respiratory_rate,
			v.weight::float8, v.height::float8, v.oxygen_saturation, v.notes, v.recorded_at
		FROM vitals v
		LEFT JOIN users ru ON ru.id = v.recorded_by
		WHERE v.patient_id = $1
		ORDER BY v.recorded_at DESC`,
		patientID)
	if err != nil {
		return nil, fmt.Errorf("list vitals: %w", err)
	}
	defer rows.Close()

	var items []*Vital
	for rows.Next() {
		var v Vital
		if err := rows.Scan(&v.ID, &v.PatientID, &v.AppointmentID, &v.RecordedBy, &v.RecordedByName,
			&v.Temperature, &v.BloodPressure, &v.PulseRate, &v.RespiratoryRate,
			&v.Weight, &v.Height, &v.OxygenSaturation, &v.Notes, &v.RecordedAt); err != nil {
			return nil, err
		}
		items = append(items, &v)
	}
	return items, rows.Err()
}
