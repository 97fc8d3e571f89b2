package ward

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/domain/accounts"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/pkg/apperr"
)

// MaxBedsPerRoom bounds the beds created with a room.
const MaxBedsPerRoom = 100

// Statistic periods and how far back each one looks.
const (
	PeriodWeekly  = "weekly"
	PeriodMonthly = "monthly"
	PeriodYearly  = "yearly"
)

type periodWindow struct {
	unit string
	back time.Duration
}

var periodWindows = map[string]periodWindow{
	PeriodWeekly:  {unit: "week", back: 12 * 7 * 24 * time.Hour},
	PeriodMonthly: {unit: "month", back: 365 * 24 * time.Hour},
	PeriodYearly:  {unit: "year", back: 1825 * 24 * time.Hour},
}

type Directory interface {
	GetUser(ctx context.Context, id uuid.UUID) (*accounts.User, error)
}

type Tracker interface {
	Track(ctx context.Context, userID uuid.UUID, action, details string)
}

type Service struct {
	repo      Repository
	tx        db.Transactor
	directory Directory
	tracker   Tracker
	now       func() time.Time
}

func NewService(repo Repository, tx db.Transactor, directory Directory, tracker Tracker) *Service {
	return &Service{repo: repo, tx: tx, directory: directory, tracker: tracker, now: time.Now}
}

// -- Wards and rooms --

func (s *Service) CreateWard(ctx context.Context, actorID uuid.UUID, req CreateWardRequest) (*Ward, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperr.ValidationFields(map[string]string{"name": "This field is required."})
	}
	w := &Ward{Name: name, Description: req.Description}
	if err := s.repo.CreateWard(ctx, w); err != nil {
		return nil, err
	}
	s.tracker.Track(ctx, actorID, "create_ward", "Created ward "+name)
	return w, nil
}

func (s *Service) ListWards(ctx context.Context) ([]*Ward, error) {
	items, err := s.repo.ListWards(ctx)
	if items == nil && err == nil {
		items = []*Ward{}
	}
	return items, err
}

// CreateRoom adds a room to a ward together with its numbered beds.
func (s *Service) CreateRoom(ctx context.Context, actorID uuid.UUID, req CreateRoomRequest) (*Room, error) {
	fields := map[string]string{}
	name := strings.TrimSpace(req.Name)
	if req.WardID == nil {
		fields["ward_id"] = "This field is required."
	}
	if name == "" {
		fields["name"] = "This field is required."
	}
	if req.BedCount <= 0 {
		fields["bed_count"] = "Bed count must be greater than zero."
	} else if req.BedCount > MaxBedsPerRoom {
		fields["bed_count"] = fmt.Sprintf("Bed count cannot exceed %d.", MaxBedsPerRoom)
	}
	if len(fields) > 0 {
		return nil, apperr.ValidationFields(fields)
	}

	room := &Room{WardID: *req.WardID, Name: name, BedCount: req.BedCount}
	var ward *Ward
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		if ward, err = s.repo.GetWard(ctx, room.WardID); err != nil {
			return err
		}
		return s.repo.CreateRoom(ctx, room)
	})
	if err != nil {
		return nil, err
	}
	s.tracker.Track(ctx, actorID, "create_room",
		fmt.Sprintf("Created room %s with %d beds in ward %s", name, room.BedCount, ward.Name))
	return room, nil
}

// -- Admissions --

// Admit places a patient in a free bed. The bed row is locked for the
// duration of the transaction so two admissions cannot claim it.
func (s *Service) Admit(ctx context.Context, actorID uuid.UUID, req AdmitRequest) (*Admission, error) {
	fields := map[string]string{}
	if req.PatientID == nil {
		fields["patient_id"] = "This field is required."
	}
	if req.BedID == nil {
		fields["bed_id"] = "This field is required."
	}
	if len(fields) > 0 {
		return nil, apperr.ValidationFields(fields)
	}

	patient, err := s.directory.GetUser(ctx, *req.PatientID)
	if apperr.Is(err, apperr.KindNotFound) {
		return nil, apperr.NotFound("patient not found")
	}
	if err != nil {
		return nil, err
	}
	if patient.Role != auth.RolePatient {
		return nil, apperr.ValidationFields(map[string]string{"patient_id": "User is not a patient."})
	}

	a := &Admission{PatientID: patient.ID, BedID: *req.BedID, AdmittedBy: &actorID, Reason: req.Reason}
	var admitted *Admission
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		bed, err := s.repo.LockBed(ctx, a.BedID)
		if err != nil {
			return err
		}
		if bed.IsOccupied {
			return apperr.Conflict("bed is already occupied")
		}
		if _, err := s.repo.OpenAdmissionFor(ctx, patient.ID); err == nil {
			return apperr.Conflict("patient is already admitted")
		} else if !apperr.Is(err, apperr.KindNotFound) {
			return err
		}
		if err := s.repo.SetBedPatient(ctx, bed.ID, &patient.ID); err != nil {
			return err
		}
		if err := s.repo.CreateAdmission(ctx, a); err != nil {
			return err
		}
		admitted, err = s.repo.GetAdmission(ctx, a.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.tracker.Track(ctx, actorID, "admit_patient",
		fmt.Sprintf("Admitted %s to %s / %s / Bed %d", patient.FullName(), admitted.WardName, admitted.RoomName, admitted.BedNumber))
	return admitted, nil
}

// Discharge closes an open admission and frees its bed in one transaction.
func (s *Service) Discharge(ctx context.Context, actorID, admissionID uuid.UUID, req DischargeRequest) (*Admission, error) {
	var discharged *Admission
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		a, err := s.repo.LockAdmission(ctx, admissionID)
		if err != nil {
			return err
		}
		if !a.Open() {
			return apperr.Conflict("patient has already been discharged")
		}
		if err := s.repo.CloseAdmission(ctx, a.ID, actorID, req.Notes); err != nil {
			return err
		}
		if _, err := s.repo.LockBed(ctx, a.BedID); err != nil {
			return err
		}
		if err := s.repo.SetBedPatient(ctx, a.BedID, nil); err != nil {
			return err
		}
		discharged, err = s.repo.GetAdmission(ctx, a.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.tracker.Track(ctx, actorID, "discharge_patient",
		fmt.Sprintf("Discharged %s from %s / %s / Bed %d", discharged.PatientName, discharged.WardName, discharged.RoomName, discharged.BedNumber))
	return discharged, nil
}

func (s *Service) ListAdmissions(ctx context.Context, f AdmissionFilter) ([]*Admission, int, error) {
	items, total, err := s.repo.ListAdmissions(ctx, f)
	if items == nil && err == nil {
		items = []*Admission{}
	}
	return items, total, err
}

// -- Reporting --

// BedCounts returns the total and occupied bed counts.
func (s *Service) BedCounts(ctx context.Context) (int, int, error) {
	return s.repo.BedCounts(ctx)
}

func occupancyPercentage(occupied, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(occupied)/float64(total)*1000) / 10
}

// Occupancy returns bed totals and every ward with its rooms and beds,
// sorted by ward name, room name and bed number.
func (s *Service) Occupancy(ctx context.Context) (*Occupancy, error) {
	slots, err := s.repo.BedLayout(ctx)
	if err != nil {
		return nil, err
	}

	out := &Occupancy{Wards: []*WardView{}}
	wards := map[uuid.UUID]*WardView{}
	rooms := map[uuid.UUID]*RoomView{}
	for _, sl := range slots {
		w, ok := wards[sl.WardID]
		if !ok {
			w = &WardView{Name: sl.WardName, Rooms: []*RoomView{}}
			wards[sl.WardID] = w
			out.Wards = append(out.Wards, w)
		}
		if sl.RoomID == nil {
			continue
		}
		r, ok := rooms[*sl.RoomID]
		if !ok {
			r = &RoomView{Name: *sl.RoomName, Beds: []*BedView{}}
			rooms[*sl.RoomID] = r
			w.Rooms = append(w.Rooms, r)
		}
		if sl.BedID == nil {
			continue
		}
		b := &BedView{
			Label:    fmt.Sprintf("Bed %d", *sl.BedNumber),
			Number:   *sl.BedNumber,
			Occupied: sl.Occupied,
			BedID:    *sl.BedID,
		}
		if sl.Occupied {
			b.Patient = sl.PatientName
		}
		r.Beds = append(r.Beds, b)

		out.Summary.TotalBeds++
		if sl.Occupied {
			out.Summary.OccupiedBeds++
		}
	}

	sort.SliceStable(out.Wards, func(i, j int) bool { return out.Wards[i].Name < out.Wards[j].Name })
	for _, w := range out.Wards {
		sort.SliceStable(w.Rooms, func(i, j int) bool { return w.Rooms[i].Name < w.Rooms[j].Name })
		for _, r := range w.Rooms {
			sort.SliceStable(r.Beds, func(i, j int) bool { return r.Beds[i].Number < r.Beds[j].Number })
		}
	}
	out.Summary.AvailableBeds = out.Summary.TotalBeds - out.Summary.OccupiedBeds
	out.Summary.OccupancyPercentage = occupancyPercentage(out.Summary.OccupiedBeds, out.Summary.TotalBeds)
	return out, nil
}

// mergePeriods joins admission and discharge counts into one list ordered by period.
func mergePeriods(admitted, discharged map[time.Time]int) []PeriodCount {
	byPeriod := map[time.Time]*PeriodCount{}
	for p, n := range admitted {
		byPeriod[p] = &PeriodCount{Period: p, Admitted: n}
	}
	for p, n := range discharged {
		if pc, ok := byPeriod[p]; ok {
			pc.Discharged = n
		} else {
			byPeriod[p] = &PeriodCount{Period: p, Discharged: n}
		}
	}
	out := make([]PeriodCount, 0, len(byPeriod))
	for _, pc := range byPeriod {
		out = append(out, *pc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period.Before(out[j].Period) })
	return out
}

// AdmissionStats returns admitted and discharged counts per period for the
// requested period, or for all periods when period is empty.
func (s *Service) AdmissionStats(ctx context.Context, period string) (map[string][]PeriodCount, error) {
	periods := []string{PeriodWeekly, PeriodMonthly, PeriodYearly}
	if period != "" {
		if _, ok := periodWindows[period]; !ok {
			return nil, apperr.Validation("period must be one of weekly, monthly, yearly")
		}
		periods = []string{period}
	}

	now := s.now()
	out := make(map[string][]PeriodCount, len(periods))
	for _, p := range periods {
		w := periodWindows[p]
		since := now.Add(-w.back)
		admitted, err := s.repo.PeriodCounts(ctx, w.unit, false, since)
		if err != nil {
			return nil, err
		}
		discharged, err := s.repo.PeriodCounts(ctx, w.unit, true, since)
		if err != nil {
			return nil, err
		}
		out[p] = mergePeriods(admitted, discharged)
	}
	return out, nil
}
