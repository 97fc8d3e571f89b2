package ward

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hms/hms/internal/domain/accounts"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/pkg/apperr"
)

var fixedNow = time.Date(2030, 3, 13, 9, 0, 0, 0, time.UTC)

type fixture struct {
	svc     *Service
	repo    *memRepo
	tracker *recordingTracker
	clock   time.Time

	admin, nurse, patient, patient2 *accounts.User
}

func newFixture() *fixture {
	f := &fixture{tracker: &recordingTracker{}, clock: fixedNow}
	f.repo = newMemRepo(func() time.Time { return f.clock })
	dir := &memDirectory{users: map[uuid.UUID]*accounts.User{}}
	add := func(email, first, last, role string) *accounts.User {
		u := &accounts.User{ID: uuid.New(), Email: email, FirstName: first, LastName: last, Role: role, IsActive: true}
		dir.users[u.ID] = u
		f.repo.names[u.ID] = u.FullName()
		return u
	}
	f.admin = add("admin@hms.test", "Ada", "Min", auth.RoleAdmin)
	f.nurse = add("nurse@hms.test", "Carla", "Espinosa", auth.RoleNurse)
	f.patient = add("pat@hms.test", "Pat", "Lee", auth.RolePatient)
	f.patient2 = add("pat2@hms.test", "Sam", "Ray", auth.RolePatient)

	f.svc = NewService(f.repo, &serialTx{}, dir, f.tracker)
	f.svc.now = func() time.Time { return f.clock }
	return f
}

// room creates a ward with one room of n beds and returns the beds in order.
func (f *fixture) room(t *testing.T, ward, room string, n int) []*Bed {
	t.Helper()
	ctx := context.Background()
	w, err := f.svc.CreateWard(ctx, f.admin.ID, CreateWardRequest{Name: ward})
	require.NoError(t, err)
	r, err := f.svc.CreateRoom(ctx, f.admin.ID, CreateRoomRequest{WardID: &w.ID, Name: room, BedCount: n})
	require.NoError(t, err)
	return r.Beds
}

func (f *fixture) admit(patient *accounts.User, bed *Bed) (*Admission, error) {
	return f.svc.Admit(context.Background(), f.nurse.ID, AdmitRequest{PatientID: &patient.ID, BedID: &bed.ID})
}

func TestCreateWardAndRoom(t *testing.T) {
	f := newFixture()
	beds := f.room(t, "General", "Room A", 3)

	require.Len(t, beds, 3)
	for i, b := range beds {
		assert.Equal(t, i+1, b.Number)
		assert.False(t, b.IsOccupied)
	}
	wards, err := f.svc.ListWards(context.Background())
	require.NoError(t, err)
	require.Len(t, wards, 1)
	assert.Equal(t, 1, wards[0].RoomCount)
	assert.Equal(t, 3, wards[0].TotalBeds)
	assert.Equal(t, []string{"create_ward", "create_room"}, f.tracker.actions)
}

func TestCreateWard_Validation(t *testing.T) {
	f := newFixture()
	_, err := f.svc.CreateWard(context.Background(), f.admin.ID, CreateWardRequest{Name: "  "})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.svc.CreateWard(context.Background(), f.admin.ID, CreateWardRequest{Name: "ICU"})
	require.NoError(t, err)
	_, err = f.svc.CreateWard(context.Background(), f.admin.ID, CreateWardRequest{Name: "icu"})
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestCreateRoom_Validation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.CreateRoom(ctx, f.admin.ID, CreateRoomRequest{})
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Contains(t, e.Fields, "ward_id")
	assert.Contains(t, e.Fields, "name")
	assert.Contains(t, e.Fields, "bed_count")

	missing := uuid.New()
	_, err = f.svc.CreateRoom(ctx, f.admin.ID, CreateRoomRequest{WardID: &missing, Name: "A", BedCount: 2})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	f.room(t, "General", "Room A", 1)
	wards, _ := f.svc.ListWards(ctx)
	_, err = f.svc.CreateRoom(ctx, f.admin.ID, CreateRoomRequest{WardID: &wards[0].ID, Name: "room a", BedCount: 1})
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	_, err = f.svc.CreateRoom(ctx, f.admin.ID, CreateRoomRequest{WardID: &wards[0].ID, Name: "B", BedCount: MaxBedsPerRoom + 1})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestAdmitAndDischarge(t *testing.T) {
	f := newFixture()
	beds := f.room(t, "General", "Room A", 2)

	a, err := f.admit(f.patient, beds[0])
	require.NoError(t, err)
	assert.Equal(t, "Pat Lee", a.PatientName)
	assert.Equal(t, "General", a.WardName)
	assert.Equal(t, "Room A", a.RoomName)
	assert.Equal(t, 1, a.BedNumber)
	assert.True(t, a.Open())

	bed := f.repo.beds[beds[0].ID]
	assert.True(t, bed.IsOccupied)
	require.NotNil(t, bed.PatientID)
	assert.Equal(t, f.patient.ID, *bed.PatientID)

	notes := "recovered"
	f.clock = fixedNow.Add(48 * time.Hour)
	d, err := f.svc.Discharge(context.Background(), f.nurse.ID, a.ID, DischargeRequest{Notes: &notes})
	require.NoError(t, err)
	assert.False(t, d.Open())
	assert.Equal(t, "recovered", *d.DischargeNotes)
	assert.False(t, f.repo.beds[beds[0].ID].IsOccupied)
	assert.Nil(t, f.repo.beds[beds[0].ID].PatientID)

	_, err = f.svc.Discharge(context.Background(), f.nurse.ID, a.ID, DischargeRequest{})
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	// The freed bed can be used again.
	_, err = f.admit(f.patient2, beds[0])
	require.NoError(t, err)
}

func TestAdmit_Rejections(t *testing.T) {
	f := newFixture()
	beds := f.room(t, "General", "Room A", 2)
	ctx := context.Background()

	_, err := f.svc.Admit(ctx, f.nurse.ID, AdmitRequest{})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.admit(f.nurse, beds[0])
	assert.True(t, apperr.Is(err, apperr.KindValidation), "staff cannot be admitted")

	ghost := &accounts.User{ID: uuid.New()}
	_, err = f.admit(ghost, beds[0])
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = f.admit(f.patient, &Bed{ID: uuid.New()})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = f.admit(f.patient, beds[0])
	require.NoError(t, err)

	_, err = f.admit(f.patient2, beds[0])
	assert.True(t, apperr.Is(err, apperr.KindConflict), "occupied bed")

	_, err = f.admit(f.patient, beds[1])
	assert.True(t, apperr.Is(err, apperr.KindConflict), "already admitted")
	assert.False(t, f.repo.beds[beds[1].ID].IsOccupied)
}

func TestAdmit_ConcurrentSingleBed(t *testing.T) {
	f := newFixture()
	beds := f.room(t, "General", "Room A", 1)

	dir := f.svc.directory.(*memDirectory)
	var patients []*accounts.User
	for i := 0; i < 10; i++ {
		u := &accounts.User{ID: uuid.New(), FirstName: "P", Role: auth.RolePatient}
		dir.users[u.ID] = u
		patients = append(patients, u)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted, conflicts := 0, 0
	for _, p := range patients {
		wg.Add(1)
		go func(p *accounts.User) {
			defer wg.Done()
			_, err := f.admit(p, beds[0])
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				admitted++
			} else if apperr.Is(err, apperr.KindConflict) {
				conflicts++
			}
		}(p)
	}
	wg.Wait()

	assert.Equal(t, 1, admitted)
	assert.Equal(t, 9, conflicts)
	open := true
	items, total, err := f.svc.ListAdmissions(context.Background(), AdmissionFilter{Open: &open})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, *f.repo.beds[beds[0].ID].PatientID, items[0].PatientID)
}

func TestOccupancy(t *testing.T) {
	f := newFixture()
	icu := f.room(t, "ICU", "Bay 2", 2)
	ctx := context.Background()
	wards, _ := f.svc.ListWards(ctx)
	_, err := f.svc.CreateRoom(ctx, f.admin.ID, CreateRoomRequest{WardID: &wards[0].ID, Name: "Bay 1", BedCount: 1})
	require.NoError(t, err)
	_, err = f.svc.CreateWard(ctx, f.admin.ID, CreateWardRequest{Name: "Annex"})
	require.NoError(t, err)

	_, err = f.admit(f.patient, icu[1])
	require.NoError(t, err)

	o, err := f.svc.Occupancy(ctx)
	require.NoError(t, err)
	assert.Equal(t, OccupancySummary{TotalBeds: 3, OccupiedBeds: 1, AvailableBeds: 2, OccupancyPercentage: 33.3}, o.Summary)

	require.Len(t, o.Wards, 2)
	assert.Equal(t, "Annex", o.Wards[0].Name)
	assert.Empty(t, o.Wards[0].Rooms)
	rooms := o.Wards[1].Rooms
	require.Len(t, rooms, 2)
	assert.Equal(t, "Bay 1", rooms[0].Name)
	assert.Equal(t, "Bay 2", rooms[1].Name)
	require.Len(t, rooms[1].Beds, 2)
	assert.Equal(t, "Bed 1", rooms[1].Beds[0].Label)
	assert.Nil(t, rooms[1].Beds[0].Patient)
	assert.Equal(t, "Bed 2", rooms[1].Beds[1].Label)
	require.NotNil(t, rooms[1].Beds[1].Patient)
	assert.Equal(t, "Pat Lee", *rooms[1].Beds[1].Patient)
}

func TestOccupancyPercentage(t *testing.T) {
	assert.Equal(t, 0.0, occupancyPercentage(0, 0))
	assert.Equal(t, 66.7, occupancyPercentage(2, 3))
	assert.Equal(t, 100.0, occupancyPercentage(4, 4))
}

func TestAdmissionStats(t *testing.T) {
	f := newFixture()
	beds := f.room(t, "General", "Room A", 2)
	ctx := context.Background()

	f.clock = time.Date(2030, 1, 15, 10, 0, 0, 0, time.UTC)
	a, err := f.admit(f.patient, beds[0])
	require.NoError(t, err)
	f.clock = time.Date(2030, 2, 20, 10, 0, 0, 0, time.UTC)
	_, err = f.svc.Discharge(ctx, f.nurse.ID, a.ID, DischargeRequest{})
	require.NoError(t, err)
	_, err = f.admit(f.patient2, beds[1])
	require.NoError(t, err)

	f.clock = fixedNow
	stats, err := f.svc.AdmissionStats(ctx, "")
	require.NoError(t, err)
	assert.Len(t, stats, 3)

	monthly := stats[PeriodMonthly]
	require.Len(t, monthly, 2)
	assert.Equal(t, time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC), monthly[0].Period)
	assert.Equal(t, PeriodCount{Period: monthly[0].Period, Admitted: 1}, monthly[0])
	assert.Equal(t, 1, monthly[1].Admitted)
	assert.Equal(t, 1, monthly[1].Discharged)

	yearly := stats[PeriodYearly]
	require.Len(t, yearly, 1)
	assert.Equal(t, 2, yearly[0].Admitted)
	assert.Equal(t, 1, yearly[0].Discharged)

	only, err := f.svc.AdmissionStats(ctx, PeriodWeekly)
	require.NoError(t, err)
	assert.Len(t, only, 1)
	assert.Contains(t, only, PeriodWeekly)

	_, err = f.svc.AdmissionStats(ctx, "hourly")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestMergePeriods(t *testing.T) {
	jan := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2030, 2, 1, 0, 0, 0, 0, time.UTC)
	out := mergePeriods(map[time.Time]int{feb: 2}, map[time.Time]int{jan: 1, feb: 1})
	assert.Equal(t, []PeriodCount{
		{Period: jan, Discharged: 1},
		{Period: feb, Admitted: 2, Discharged: 1},
	}, out)
}
