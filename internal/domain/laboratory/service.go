package laboratory

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/domain/accounts"
	"github.com/hms/hms/internal/domain/appointment"
	"github.com/hms/hms/internal/domain/notification"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/pkg/apperr"
)

type Appointments interface {
	GetInternal(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
}

type Directory interface {
	GetUser(ctx context.Context, id uuid.UUID) (*accounts.User, error)
}

type Notifier interface {
	Record(ctx context.Context, sender *uuid.UUID, title, message string, to []notification.Recipient) (*notification.Notification, error)
	Deliver(ctx context.Context, to []notification.Recipient)
}

type Tracker interface {
	Track(ctx context.Context, userID uuid.UUID, action, details string)
}

type Service struct {
	repo         Repository
	tx           db.Transactor
	appointments Appointments
	directory    Directory
	notifier     Notifier
	tracker      Tracker
}

func NewService(repo Repository, tx db.Transactor, appointments Appointments, directory Directory, notifier Notifier, tracker Tracker) *Service {
	return &Service{
		repo:         repo,
		tx:           tx,
		appointments: appointments,
		directory:    directory,
		notifier:     notifier,
		tracker:      tracker,
	}
}

// CreateTestRequest orders a test for a patient. When an appointment is
// given the patient is taken from it and the appointment must be the
// requesting doctor's.
func (s *Service) CreateTestRequest(ctx context.Context, actor appointment.Actor, req CreateRequest) (*TestRequest, error) {
	fields := map[string]string{}
	name := strings.TrimSpace(req.TestName)
	if name == "" {
		fields["test_name"] = "This field is required."
	}
	if req.AppointmentID == nil && req.PatientID == nil {
		fields["patient_id"] = "Either patient_id or appointment_id is required."
	}
	if len(fields) > 0 {
		return nil, apperr.ValidationFields(fields)
	}

	t := &TestRequest{DoctorID: actor.ID, TestName: name}
	if req.Notes != nil {
		if n := strings.TrimSpace(*req.Notes); n != "" {
			t.Notes = &n
		}
	}

	if req.AppointmentID != nil {
		a, err := s.appointments.GetInternal(ctx, *req.AppointmentID)
		if err != nil {
			return nil, err
		}
		if a.DoctorID != actor.ID {
			return nil, apperr.Forbidden("you are not the doctor on this appointment")
		}
		if req.PatientID != nil && *req.PatientID != a.PatientID {
			return nil, apperr.ValidationFields(map[string]string{"patient_id": "Patient does not match the appointment."})
		}
		t.AppointmentID = &a.ID
		t.PatientID = a.PatientID
	} else {
		p, err := s.directory.GetUser(ctx, *req.PatientID)
		if apperr.Is(err, apperr.KindNotFound) {
			return nil, apperr.NotFound("patient not found")
		}
		if err != nil {
			return nil, err
		}
		if p.Role != auth.RolePatient {
			return nil, apperr.ValidationFields(map[string]string{"patient_id": "User is not a patient."})
		}
		t.PatientID = p.ID
	}

	if err := s.repo.Create(ctx, t); err != nil {
		return nil, err
	}
	created, err := s.repo.Get(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	s.tracker.Track(ctx, actor.ID, "create_test_request",
		fmt.Sprintf("Requested %s for %s", created.TestName, created.PatientName))
	return created, nil
}

// ListTestRequests shows lab technicians the work queue, doctors the
// requests they made and patients their own.
func (s *Service) ListTestRequests(ctx context.Context, actor appointment.Actor, f Filter) ([]*TestRequest, int, error) {
	switch f.Status {
	case "":
	case StatusPending, StatusCompleted, StatusAll:
	default:
		return nil, 0, apperr.Validation("status must be one of pending, completed, all")
	}
	switch actor.Role {
	case auth.RoleLabTech:
		if f.Status == "" {
			f.Status = StatusPending
		}
	case auth.RoleDoctor:
		f.DoctorID = &actor.ID
	case auth.RolePatient:
		if f.PatientID != nil && *f.PatientID != actor.ID {
			return nil, 0, apperr.Forbidden("you cannot view these test requests")
		}
		f.PatientID = &actor.ID
	case auth.RoleAdmin:
	default:
		return nil, 0, apperr.Forbidden("you cannot view test requests")
	}
	if f.Status == "" {
		f.Status = StatusAll
	}
	items, total, err := s.repo.List(ctx, f)
	if items == nil && err == nil {
		items = []*TestRequest{}
	}
	return items, total, err
}

func (s *Service) GetTestRequest(ctx context.Context, actor appointment.Actor, id uuid.UUID) (*TestRequest, error) {
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch actor.Role {
	case auth.RoleLabTech, auth.RoleAdmin:
	case auth.RoleDoctor:
		if t.DoctorID != actor.ID {
			return nil, apperr.Forbidden("you cannot view this test request")
		}
	case auth.RolePatient:
		if t.PatientID != actor.ID {
			return nil, apperr.Forbidden("you cannot view this test request")
		}
	default:
		return nil, apperr.Forbidden("you cannot view this test request")
	}
	return t, nil
}

// CompleteTestRequest records the result once. The requesting doctor and
// the patient are notified after the result is stored.
func (s *Service) CompleteTestRequest(ctx context.Context, actor appointment.Actor, id uuid.UUID, req CompleteRequest) (*TestRequest, error) {
	result := strings.TrimSpace(req.Result)
	if result == "" {
		return nil, apperr.ValidationFields(map[string]string{"result": "This field is required."})
	}

	var (
		done *TestRequest
		to   []notification.Recipient
	)
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		t, err := s.repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if t.IsCompleted {
			return apperr.Conflict("test request is already completed")
		}
		ok, err := s.repo.Complete(ctx, id, actor.ID, result)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.Conflict("test request is already completed")
		}
		if done, err = s.repo.Get(ctx, id); err != nil {
			return err
		}

		for _, uid := range []uuid.UUID{done.DoctorID, done.PatientID} {
			u, err := s.directory.GetUser(ctx, uid)
			if err != nil {
				return err
			}
			to = append(to, notification.Recipient{ID: u.ID, Email: u.Email})
		}
		msg := fmt.Sprintf("The result of the %s test for %s is ready.", done.TestName, done.PatientName)
		_, err = s.notifier.Record(ctx, &actor.ID, "Lab Result Ready", msg, to)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.notifier.Deliver(ctx, to)
	s.tracker.Track(ctx, actor.ID, "complete_test_request",
		fmt.Sprintf("Completed %s for %s", done.TestName, done.PatientName))
	return done, nil
}
