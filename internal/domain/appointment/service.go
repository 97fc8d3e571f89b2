package appointment

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/domain/accounts"
	"github.com/hms/hms/internal/domain/notification"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/pkg/apperr"
)

// notificationDate is the time format used in notification messages.
const notificationDate = "2006-01-02 15:04"

// Directory resolves users from the accounts domain.
type Directory interface {
	GetUser(ctx context.Context, id uuid.UUID) (*accounts.User, error)
	GetUserByEmail(ctx context.Context, email string) (*accounts.User, error)
	ActiveByRole(ctx context.Context, role string) ([]*accounts.User, error)
	NursesInDepartmentOf(ctx context.Context, doctorID uuid.UUID) ([]*accounts.User, error)
	ListDoctors(ctx context.Context, departmentID *uuid.UUID) ([]*accounts.User, error)
}

// Notifier stores notifications inside the caller's transaction and pushes
// them once committed.
type Notifier interface {
	Record(ctx context.Context, sender *uuid.UUID, title, message string, to []notification.Recipient) (*notification.Notification, error)
	Deliver(ctx context.Context, to []notification.Recipient)
}

// Pusher asks an open client to reload one appointment.
type Pusher interface {
	Detail(ctx context.Context, email string, appointmentID uuid.UUID)
}

type Tracker interface {
	Track(ctx context.Context, userID uuid.UUID, action, details string)
}

type Service struct {
	repo      Repository
	vitals    VitalRepository
	tx        db.Transactor
	directory Directory
	notifier  Notifier
	pusher    Pusher
	tracker   Tracker
	loc       *time.Location
	now       func() time.Time
	logger    zerolog.Logger
}

type Deps struct {
	Repo      Repository
	Vitals    VitalRepository
	Tx        db.Transactor
	Directory Directory
	Notifier  Notifier
	Pusher    Pusher // optional
	Tracker   Tracker
	// Location interprets client dates. Defaults to UTC.
	Location *time.Location
	Logger   zerolog.Logger
}

func NewService(d Deps) *Service {
	loc := d.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		repo:      d.Repo,
		vitals:    d.Vitals,
		tx:        d.Tx,
		directory: d.Directory,
		notifier:  d.Notifier,
		pusher:    d.Pusher,
		tracker:   d.Tracker,
		loc:       loc,
		now:       time.Now,
		logger:    d.Logger,
	}
}

func recipient(u *accounts.User) notification.Recipient {
	return notification.Recipient{ID: u.ID, Email: u.Email}
}

func partyRecipient(p *Party) notification.Recipient {
	return notification.Recipient{ID: p.ID, Email: p.Email}
}

// notice is a notification recorded in a transaction and delivered after it commits.
type notice struct {
	title   string
	message string
	to      []notification.Recipient
}

func (s *Service) record(ctx context.Context, sender uuid.UUID, n *notice) error {
	if n == nil || len(n.to) == 0 {
		return nil
	}
	_, err := s.notifier.Record(ctx, &sender, n.title, n.message, n.to)
	return err
}

func (s *Service) deliver(ctx context.Context, n *notice) {
	if n != nil {
		s.notifier.Deliver(ctx, n.to)
	}
}

// pushDetail sends the changed appointment to each of its parties.
func (s *Service) pushDetail(ctx context.Context, a *Appointment) {
	if s.pusher == nil || a == nil {
		return
	}
	seen := map[string]bool{}
	for _, p := range []*Party{a.Patient, a.Doctor, a.Nurse} {
		if p == nil || p.Email == "" || seen[p.Email] {
			continue
		}
		seen[p.Email] = true
		s.pusher.Detail(ctx, p.Email, a.ID)
	}
}

// -- Booking --

func (s *Service) parseAppointmentDate(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if t, err := time.ParseInLocation(DateLayout, v, s.loc); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Time{}, apperr.Validation("Invalid date format. Use dd-mm-yyyy HH:MM (e.g. 20-12-2023 14:30)")
}

func (s *Service) resolveDoctor(ctx context.Context, req BookRequest) (*accounts.User, error) {
	if req.DoctorID != nil {
		doc, err := s.directory.GetUser(ctx, *req.DoctorID)
		if apperr.Is(err, apperr.KindNotFound) {
			return nil, apperr.NotFound("Doctor not found")
		}
		if err != nil {
			return nil, err
		}
		if doc.Role != auth.RoleDoctor || !doc.IsActive {
			return nil, apperr.NotFound("Doctor not found")
		}
		return doc, nil
	}

	name := strings.TrimSpace(req.DoctorFirstName)
	if name == "" {
		return nil, apperr.Validation("doctor_id or doctor_first_name is required")
	}
	doctors, err := s.directory.ListDoctors(ctx, nil)
	if err != nil {
		return nil, err
	}
	var match []*accounts.User
	for _, d := range doctors {
		if strings.EqualFold(d.FirstName, name) {
			match = append(match, d)
		}
	}
	switch len(match) {
	case 0:
		return nil, apperr.NotFound("Doctor not found")
	case 1:
		return match[0], nil
	default:
		return nil, apperr.Conflict("more than one doctor is named %s, book by doctor_id", name)
	}
}

// Book creates a pending appointment for the patient and notifies the doctor.
func (s *Service) Book(ctx context.Context, actor Actor, req BookRequest) (*Appointment, error) {
	if actor.Role != auth.RolePatient {
		return nil, apperr.Forbidden("Only patients can book appointments")
	}
	if strings.TrimSpace(req.AppointmentDate) == "" {
		return nil, apperr.Validation("appointment_date is required")
	}
	date, err := s.parseAppointmentDate(req.AppointmentDate)
	if err != nil {
		return nil, err
	}
	if !date.After(s.now()) {
		return nil, apperr.Validation("Appointment must be in future")
	}
	doctor, err := s.resolveDoctor(ctx, req)
	if err != nil {
		return nil, err
	}
	patient, err := s.directory.GetUser(ctx, actor.ID)
	if err != nil {
		return nil, err
	}

	a := &Appointment{
		PatientID:       actor.ID,
		DoctorID:        doctor.ID,
		AppointmentDate: date,
		Reason:          strings.TrimSpace(req.Reason),
		Status:          StatusPending,
	}
	n := &notice{
		title: "New Appointment",
		message: fmt.Sprintf("You have a new appointment with %s on %s.",
			patient.FullName(), date.In(s.loc).Format(notificationDate)),
		to: []notification.Recipient{recipient(doctor)},
	}

	var booked *Appointment
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, a); err != nil {
			return err
		}
		if err := s.record(ctx, actor.ID, n); err != nil {
			return err
		}
		booked, err = s.repo.GetByID(ctx, a.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.deliver(ctx, n)
	s.tracker.Track(ctx, actor.ID, "book_appointment",
		fmt.Sprintf("Booked appointment %s with Dr. %s", booked.ID, doctor.FullName()))
	return booked, nil
}

// -- Queries --

// PatientAppointments lists the patient's appointments by date. With
// upcoming set only appointments from the start of today are returned.
func (s *Service) PatientAppointments(ctx context.Context, patientID uuid.UUID, upcoming bool) ([]*Appointment, error) {
	f := Filter{PatientID: &patientID, Ascending: true}
	if upcoming {
		y, m, d := s.now().In(s.loc).Date()
		today := time.Date(y, m, d, 0, 0, 0, 0, s.loc)
		f.From = &today
	}
	items, _, err := s.repo.List(ctx, f)
	if items == nil && err == nil {
		items = []*Appointment{}
	}
	return items, err
}

// ParseDay parses a DD-MM-YYYY day filter in the service location.
func (s *Service) ParseDay(field, v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(DayLayout, v, s.loc)
	if err != nil {
		return nil, apperr.ValidationFields(map[string]string{field: "Date has wrong format. Use dd-mm-yyyy."})
	}
	return &t, nil
}

// DoctorAppointments lists the doctor's appointments, newest first.
func (s *Service) DoctorAppointments(ctx context.Context, doctorID uuid.UUID, f Filter) ([]*Appointment, int, error) {
	f.DoctorID = &doctorID
	f.PatientID = nil
	f.Status = strings.ToLower(f.Status)
	if f.Status != "" && !validStatus(f.Status) {
		return nil, 0, apperr.Validation("invalid status %q", f.Status)
	}
	items, total, err := s.repo.List(ctx, f)
	if items == nil && err == nil {
		items = []*Appointment{}
	}
	return items, total, err
}

// ListAll lists every appointment for administrative reporting.
func (s *Service) ListAll(ctx context.Context, f Filter) ([]*Appointment, int, error) {
	f.Status = strings.ToLower(f.Status)
	if f.Status != "" && !validStatus(f.Status) {
		return nil, 0, apperr.Validation("invalid status %q", f.Status)
	}
	items, total, err := s.repo.List(ctx, f)
	if items == nil && err == nil {
		items = []*Appointment{}
	}
	return items, total, err
}

func canView(a *Appointment, actor Actor) bool {
	switch actor.Role {
	case auth.RoleAdmin, auth.RoleNurse:
		return true
	}
	return a.Involves(actor.ID)
}

// Get returns an appointment the actor takes part in. Nurses and admins
// may read any appointment.
func (s *Service) Get(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(a, actor) {
		return nil, apperr.Forbidden("you are not part of this appointment")
	}
	return a, nil
}

// GetInternal loads an appointment without access checks.
func (s *Service) GetInternal(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetByID(ctx, id)
}

// ActorByEmail builds an actor for connections identified only by email.
func (s *Service) ActorByEmail(ctx context.Context, email string) (Actor, error) {
	u, err := s.directory.GetUserByEmail(ctx, email)
	if err != nil {
		return Actor{}, err
	}
	return Actor{ID: u.ID, Email: u.Email, Role: u.Role}, nil
}

// -- Progress flags --

type transition struct {
	flag   Flag
	action string
	// allow reports whether the actor may perform the transition.
	allow func(a *Appointment, actor Actor) error
	// ready checks the state the flag depends on.
	ready  func(a *Appointment) error
	update func(actor Actor) FlagUpdate
	notice func(ctx context.Context, a *Appointment, actor Actor) (*notice, error)
}

// advance sets a progress flag. A flag that is already set returns the
// current appointment without notifying anyone; the conditional update
// guarantees a single notification under concurrent calls.
func (s *Service) advance(ctx context.Context, actor Actor, id uuid.UUID, t transition) (*Appointment, error) {
	var (
		current *Appointment
		n       *notice
		changed bool
	)
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		a, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := t.allow(a, actor); err != nil {
			return err
		}
		if a.Has(t.flag) {
			current = a
			return nil
		}
		if t.ready != nil {
			if err := t.ready(a); err != nil {
				return err
			}
		}

		u := FlagUpdate{Flag: t.flag}
		if t.update != nil {
			u = t.update(actor)
			u.Flag = t.flag
		}
		changed, err = s.repo.SetFlag(ctx, id, u)
		if err != nil {
			return err
		}
		if changed && t.notice != nil {
			if n, err = t.notice(ctx, a, actor); err != nil {
				return err
			}
			if err := s.record(ctx, actor.ID, n); err != nil {
				return err
			}
		}
		current, err = s.repo.GetByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.deliver(ctx, n)
		s.pushDetail(ctx, current)
		s.tracker.Track(ctx, actor.ID, t.action, fmt.Sprintf("%s on appointment %s", t.flag, id))
	}
	return current, nil
}

func requireState(ok bool, format string, args ...interface{}) error {
	if !ok {
		return apperr.Conflict(format, args...)
	}
	return nil
}

func patientOrNurse(a *Appointment, actor Actor) error {
	if actor.Role == auth.RoleNurse || (actor.Role == auth.RolePatient && a.PatientID == actor.ID) {
		return nil
	}
	return apperr.Forbidden("only the patient or a nurse can do this")
}

func appointmentDoctor(a *Appointment, actor Actor) error {
	if actor.Role == auth.RoleDoctor && a.DoctorID == actor.ID {
		return nil
	}
	return apperr.Forbidden("only the appointment's doctor can do this")
}

func (s *Service) formatDate(a *Appointment) string {
	return a.AppointmentDate.In(s.loc).Format(notificationDate)
}

// MarkPatientAvailable notifies the doctor and the nurses of the doctor's department.
func (s *Service) MarkPatientAvailable(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	return s.advance(ctx, actor, id, transition{
		flag:   FlagPatientAvailable,
		action: "mark_patient_available",
		allow:  patientOrNurse,
		ready: func(a *Appointment) error {
			return requireState(a.Status == StatusConfirmed, "appointment must be confirmed, it is %s", a.Status)
		},
		notice: func(ctx context.Context, a *Appointment, _ Actor) (*notice, error) {
			nurses, err := s.directory.NursesInDepartmentOf(ctx, a.DoctorID)
			if err != nil {
				return nil, err
			}
			to := []notification.Recipient{partyRecipient(a.Doctor)}
			for _, nu := range nurses {
				to = append(to, recipient(nu))
			}
			return &notice{
				title: "Patient Available",
				message: fmt.Sprintf("%s is now available for their appointment scheduled on %s. Ready for vitals check.",
					a.Patient.FullName(), s.formatDate(a)),
				to: to,
			}, nil
		},
	})
}

// MarkVitalsTaken records the calling nurse as the appointment nurse.
func (s *Service) MarkVitalsTaken(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	return s.advance(ctx, actor, id, transition{
		flag:   FlagVitalsTaken,
		action: "mark_vitals_taken",
		allow: func(_ *Appointment, actor Actor) error {
			if actor.Role != auth.RoleNurse {
				return apperr.Forbidden("only nurses can record vitals")
			}
			return nil
		},
		ready: func(a *Appointment) error {
			return requireState(a.IsPatientAvailable, "patient is not yet available")
		},
		update: func(actor Actor) FlagUpdate {
			id := actor.ID
			return FlagUpdate{NurseID: &id}
		},
		notice: func(ctx context.Context, a *Appointment, actor Actor) (*notice, error) {
			nurseName := "Nurse"
			nurse, err := s.directory.GetUser(ctx, actor.ID)
			if err != nil {
				s.logger.Warn().Err(err).Stringer("nurse_id", actor.ID).Msg("look up nurse name")
			} else if nurse.FullName() != "" {
				nurseName = nurse.FullName()
			}
			return &notice{
				title: "Vitals Taken",
				message: fmt.Sprintf("Vitals have been taken by %s for the appointment between %s and Dr. %s scheduled on %s.",
					nurseName, a.Patient.FullName(), a.Doctor.FullName(), s.formatDate(a)),
				to: []notification.Recipient{partyRecipient(a.Doctor), partyRecipient(a.Patient)},
			}, nil
		},
	})
}

func (s *Service) MarkDoctorWithPatient(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	return s.advance(ctx, actor, id, transition{
		flag:   FlagDoctorWithPatient,
		action: "mark_doctor_with_patient",
		allow:  appointmentDoctor,
		ready: func(a *Appointment) error {
			return requireState(a.IsVitalsTaken, "vitals have not been taken")
		},
		notice: func(_ context.Context, a *Appointment, _ Actor) (*notice, error) {
			return &notice{
				title: "Doctor With Patient",
				message: fmt.Sprintf("Dr. %s is now seeing you for your appointment scheduled on %s.",
					a.Doctor.FullName(), s.formatDate(a)),
				to: []notification.Recipient{partyRecipient(a.Patient)},
			}, nil
		},
	})
}

// MarkDoctorDone completes the appointment and alerts the pharmacists.
func (s *Service) MarkDoctorDone(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	return s.advance(ctx, actor, id, transition{
		flag:   FlagDoctorDone,
		action: "mark_doctor_done_with_patient",
		allow:  appointmentDoctor,
		ready: func(a *Appointment) error {
			return requireState(a.IsDoctorWithPatient, "doctor is not with the patient")
		},
		update: func(Actor) FlagUpdate {
			return FlagUpdate{Status: StatusCompleted}
		},
		notice: func(ctx context.Context, a *Appointment, _ Actor) (*notice, error) {
			pharmacists, err := s.directory.ActiveByRole(ctx, auth.RolePharmacist)
			if err != nil {
				return nil, err
			}
			to := make([]notification.Recipient, 0, len(pharmacists))
			for _, p := range pharmacists {
				to = append(to, recipient(p))
			}
			return &notice{
				title: "Consultation Completed",
				message: fmt.Sprintf("Dr. %s has finished the consultation with %s scheduled on %s.",
					a.Doctor.FullName(), a.Patient.FullName(), s.formatDate(a)),
				to: to,
			}, nil
		},
	})
}

// MarkMedicalHistoryRecorded is called when the doctor files a medical
// record for the appointment. It joins the caller's transaction.
func (s *Service) MarkMedicalHistoryRecorded(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	return s.advance(ctx, actor, id, transition{
		flag:   FlagMedicalHistoryRecorded,
		action: "mark_medical_history_recorded",
		allow:  appointmentDoctor,
		ready: func(a *Appointment) error {
			return requireState(a.IsDoctorWithPatient, "doctor is not with the patient")
		},
	})
}

func (s *Service) MarkPatientLeft(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	return s.advance(ctx, actor, id, transition{
		flag:   FlagPatientLeft,
		action: "mark_patient_left",
		allow:  patientOrNurse,
		ready: func(a *Appointment) error {
			return requireState(a.IsPatientAvailable, "patient was never marked available")
		},
		notice: func(_ context.Context, a *Appointment, _ Actor) (*notice, error) {
			return &notice{
				title: "Patient Left",
				message: fmt.Sprintf("%s has left the hospital after the appointment scheduled on %s.",
					a.Patient.FullName(), s.formatDate(a)),
				to: []notification.Recipient{partyRecipient(a.Doctor)},
			}, nil
		},
	})
}

// -- Status --

// UpdateStatus applies a doctor's status change to one of their appointments.
func (s *Service) UpdateStatus(ctx context.Context, actor Actor, id uuid.UUID, status string) (*Appointment, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	if status == "" {
		return nil, apperr.Validation("Status field is required")
	}
	if !validStatus(status) {
		return nil, apperr.Validation("Invalid status. Valid choices: pending, confirmed, cancelled, completed")
	}
	return s.changeStatus(ctx, actor, id, status)
}

func (s *Service) Confirm(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	return s.changeStatus(ctx, actor, id, StatusConfirmed)
}

// Cancel may be called by the appointment's doctor or its patient.
func (s *Service) Cancel(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	return s.changeStatus(ctx, actor, id, StatusCancelled)
}

var statusTitles = map[string]string{
	StatusPending:   "Appointment Pending",
	StatusConfirmed: "Appointment Confirmed",
	StatusCancelled: "Appointment Cancelled",
	StatusCompleted: "Appointment Completed",
}

func (s *Service) changeStatus(ctx context.Context, actor Actor, id uuid.UUID, status string) (*Appointment, error) {
	var (
		current *Appointment
		n       *notice
		from    string
	)
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		a, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		byDoctor := actor.Role == auth.RoleDoctor && a.DoctorID == actor.ID
		byPatient := actor.Role == auth.RolePatient && a.PatientID == actor.ID
		switch {
		case byDoctor:
		case byPatient && status == StatusCancelled:
		default:
			return apperr.NotFound("Appointment not found or not authorized")
		}
		from = a.Status
		if !canTransition(a.Status, status) {
			return apperr.Validation("Cannot change status from %s to %s", a.Status, status)
		}
		ok, err := s.repo.UpdateStatus(ctx, id, a.Status, status)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.Conflict("appointment was modified concurrently, reload and retry")
		}

		to, other := a.Patient, "Dr. "+a.Doctor.FullName()
		if byPatient {
			to, other = a.Doctor, a.Patient.FullName()
		}
		n = &notice{
			title: statusTitles[status],
			message: fmt.Sprintf("Your appointment scheduled on %s was %s by %s.",
				s.formatDate(a), status, other),
			to: []notification.Recipient{partyRecipient(to)},
		}
		if err := s.record(ctx, actor.ID, n); err != nil {
			return err
		}
		current, err = s.repo.GetByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.deliver(ctx, n)
	s.pushDetail(ctx, current)
	s.tracker.Track(ctx, actor.ID, "update_appointment_status",
		fmt.Sprintf("Appointment %s: %s -> %s", id, from, status))
	return current, nil
}

// -- Vitals --

var bloodPressurePattern = regexp.MustCompile(`^\d{2,3}/\d{2,3}$`)

func validateVital(req CreateVitalRequest) map[string]string {
	fields := map[string]string{}
	if req.Temperature == nil && req.BloodPressure == nil && req.PulseRate == nil &&
		req.RespiratoryRate == nil && req.Weight == nil && req.Height == nil && req.OxygenSaturation == nil {
		fields["non_field_errors"] = "At least one measurement is required."
	}
	if v := req.Temperature; v != nil && (*v < 30 || *v > 45) {
		fields["temperature"] = "Temperature must be between 30 and 45 °C."
	}
	if v := req.BloodPressure; v != nil && !bloodPressurePattern.MatchString(*v) {
		fields["blood_pressure"] = "Blood pressure must look like 120/80."
	}
	if v := req.PulseRate; v != nil && (*v < 20 || *v > 250) {
		fields["pulse_rate"] = "Pulse rate must be between 20 and 250."
	}
	if v := req.RespiratoryRate; v != nil && (*v < 5 || *v > 80) {
		fields["respiratory_rate"] = "Respiratory rate must be between 5 and 80."
	}
	if v := req.Weight; v != nil && (*v <= 0 || *v > 700) {
		fields["weight"] = "Weight must be between 0 and 700 kg."
	}
	if v := req.Height; v != nil && (*v <= 0 || *v > 300) {
		fields["height"] = "Height must be between 0 and 300 cm."
	}
	if v := req.OxygenSaturation; v != nil && (*v < 0 || *v > 100) {
		fields["oxygen_saturation"] = "Oxygen saturation must be between 0 and 100."
	}
	return fields
}

// CreateVital records a patient's vital signs, optionally tied to an appointment.
func (s *Service) CreateVital(ctx context.Context, actor Actor, req CreateVitalRequest) (*Vital, error) {
	if actor.Role != auth.RoleNurse && actor.Role != auth.RoleDoctor {
		return nil, apperr.Forbidden("only nurses and doctors can record vitals")
	}
	if req.PatientID == nil && req.AppointmentID == nil {
		return nil, apperr.ValidationFields(map[string]string{"patient_id": "This field is required."})
	}
	if fields := validateVital(req); len(fields) > 0 {
		return nil, apperr.ValidationFields(fields)
	}

	var patientID uuid.UUID
	if req.AppointmentID != nil {
		a, err := s.repo.GetByID(ctx, *req.AppointmentID)
		if err != nil {
			return nil, err
		}
		if req.PatientID != nil && *req.PatientID != a.PatientID {
			return nil, apperr.ValidationFields(map[string]string{"patient_id": "Patient does not match the appointment."})
		}
		patientID = a.PatientID
	} else {
		p, err := s.directory.GetUser(ctx, *req.PatientID)
		if apperr.Is(err, apperr.KindNotFound) {
			return nil, apperr.ValidationFields(map[string]string{"patient_id": "Patient does not exist."})
		}
		if err != nil {
			return nil, err
		}
		if p.Role != auth.RolePatient {
			return nil, apperr.ValidationFields(map[string]string{"patient_id": "User is not a patient."})
		}
		patientID = p.ID
	}

	recorder := actor.ID
	v := &Vital{
		PatientID:        patientID,
		AppointmentID:    req.AppointmentID,
		RecordedBy:       &recorder,
		Temperature:      req.Temperature,
		BloodPressure:    req.BloodPressure,
		PulseRate:        req.PulseRate,
		RespiratoryRate:  req.RespiratoryRate,
		Weight:           req.Weight,
		Height:           req.Height,
		OxygenSaturation: req.OxygenSaturation,
		Notes:            req.Notes,
	}
	if err := s.vitals.Create(ctx, v); err != nil {
		return nil, err
	}
	s.tracker.Track(ctx, actor.ID, "create_patient_vital", fmt.Sprintf("Recorded vitals for patient %s", patientID))
	return v, nil
}

// PatientVitals lists a patient's vitals, newest first. Patients may only
// read their own.
func (s *Service) PatientVitals(ctx context.Context, actor Actor, patientID uuid.UUID) ([]*Vital, error) {
	switch actor.Role {
	case auth.RoleDoctor, auth.RoleNurse, auth.RoleAdmin:
	case auth.RolePatient:
		if actor.ID != patientID {
			return nil, apperr.Forbidden("patients can only view their own vitals")
		}
	default:
		return nil, apperr.Forbidden("you cannot view patient vitals")
	}
	items, err := s.vitals.ListForPatient(ctx, patientID)
	if items == nil && err == nil {
		items = []*Vital{}
	}
	return items, err
}
