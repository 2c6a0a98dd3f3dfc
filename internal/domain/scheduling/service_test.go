package scheduling

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/qrmedi/qrmedi/internal/domain/identity"
	"github.com/qrmedi/qrmedi/internal/platform/access"
	"github.com/qrmedi/qrmedi/internal/platform/apperr"
)

// -- Mock Repository --

// mockApptRepo enforces the live-slot uniqueness under its mutex, the way
// the partial unique index does in Postgres.
type mockApptRepo struct {
	mu    sync.Mutex
	store map[uuid.UUID]*Appointment
}

func newMockApptRepo() *mockApptRepo {
	return &mockApptRepo{store: make(map[uuid.UUID]*Appointment)}
}

func (m *mockApptRepo) slotTakenLocked(doctorID uuid.UUID, date, tm string) bool {
	for _, a := range m.store {
		if a.DoctorID == doctorID && a.Date == date && a.Time == tm && a.Status != StatusCancelled {
			return true
		}
	}
	return false
}

func (m *mockApptRepo) Create(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.slotTakenLocked(a.DoctorID, a.Date, a.Time) {
		return apperr.SlotTaken()
	}
	a.ID = uuid.New()
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	c := *a
	m.store[a.ID] = &c
	return nil
}

func (m *mockApptRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.store[id]
	if !ok {
		return nil, apperr.NotFound("appointment")
	}
	c := *a
	return &c, nil
}

func (m *mockApptRepo) Transition(_ context.Context, a *Appointment, from Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.store[a.ID]
	if !ok || existing.Status != from {
		return false, nil
	}
	c := *a
	m.store[a.ID] = &c
	return true, nil
}

func (m *mockApptRepo) SlotTaken(_ context.Context, doctorID uuid.UUID, date, tm string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.slotTakenLocked(doctorID, date, tm), nil
}

func (m *mockApptRepo) list(keep func(*Appointment) bool) []*Appointment {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*Appointment{}
	for _, a := range m.store {
		if keep(a) {
			c := *a
			out = append(out, &c)
		}
	}
	return out
}

func (m *mockApptRepo) ListByPatient(_ context.Context, patientID uuid.UUID) ([]*Appointment, error) {
	return m.list(func(a *Appointment) bool { return a.PatientID == patientID }), nil
}

func (m *mockApptRepo) ListByDoctor(_ context.Context, doctorID uuid.UUID) ([]*Appointment, error) {
	return m.list(func(a *Appointment) bool { return a.DoctorID == doctorID }), nil
}

func (m *mockApptRepo) CountByStatus(_ context.Context) (map[Status]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := map[Status]int{}
	for _, a := range m.store {
		counts[a.Status]++
	}
	return counts, nil
}

type mockDirectory map[uuid.UUID]*identity.User

func (d mockDirectory) Lookup(_ context.Context, id uuid.UUID) (*identity.User, error) {
	u, ok := d[id]
	if !ok {
		return nil, apperr.NotFound("user")
	}
	c := *u
	return &c, nil
}

func (d mockDirectory) add(name, email string, role access.Role) *identity.User {
	u := &identity.User{ID: uuid.New(), Name: name, Email: email, Role: role, Active: true}
	d[u.ID] = u
	return u
}

// -- Fixture --

type fixture struct {
	svc   *Service
	repo  *mockApptRepo
	dir   mockDirectory
	alice *identity.User
	carol *identity.User
	bob   *identity.User
	dana  *identity.User
	admin *identity.User
}

// newFixture pins "today" to 2025-05-20 so the 2025-06-01 bookings are in
// the future.
func newFixture() *fixture {
	dir := mockDirectory{}
	f := &fixture{
		repo:  newMockApptRepo(),
		dir:   dir,
		alice: dir.add("Alice", "alice@example.com", access.RolePatient),
		carol: dir.add("Carol", "carol@example.com", access.RolePatient),
		bob:   dir.add("Dr. Bob", "bob@example.com", access.RoleDoctor),
		dana:  dir.add("Dr. Dana", "dana@example.com", access.RoleDoctor),
		admin: dir.add("Admin", "admin@example.com", access.RoleAdmin),
	}
	f.svc = NewService(f.repo, dir, access.NewAuthorizer(access.Policy{}), zerolog.Nop())
	f.svc.SetClock(func() time.Time { return time.Date(2025, 5, 20, 15, 0, 0, 0, time.UTC) }, time.UTC)
	return f
}

func (f *fixture) book(patient, doctor *identity.User, date, tm string) (*Appointment, error) {
	return f.svc.Book(context.Background(), patient.Caller(), BookRequest{
		PatientID: patient.ID, DoctorID: doctor.ID, Date: date, Time: tm, Purpose: "Checkup",
	})
}

func (f *fixture) mustBook(t *testing.T, patient, doctor *identity.User, date, tm string) *Appointment {
	t.Helper()
	a, err := f.book(patient, doctor, date, tm)
	if err != nil {
		t.Fatalf("Book(%s %s) error: %v", date, tm, err)
	}
	return a
}

func expectKind(t *testing.T, err error, kind apperr.Kind) {
	t.Helper()
	if !apperr.Is(err, kind) {
		t.Fatalf("expected %s error, got %v", kind, err)
	}
}

// -- Book --

func TestBook_DoubleBookingScenario(t *testing.T) {
	f := newFixture()

	a := f.mustBook(t, f.alice, f.bob, "2025-06-01", "09:00")
	if a.Status != StatusScheduled {
		t.Errorf("expected scheduled, got %s", a.Status)
	}
	if a.PatientName != "Alice" || a.DoctorName != "Dr. Bob" {
		t.Errorf("expected name snapshots, got %q / %q", a.PatientName, a.DoctorName)
	}

	_, err := f.book(f.alice, f.bob, "2025-06-01", "09:00")
	expectKind(t, err, apperr.KindSlotTaken)

	_, err = f.book(f.carol, f.bob, "2025-06-01", "09:00")
	expectKind(t, err, apperr.KindSlotTaken)

	f.mustBook(t, f.alice, f.bob, "2025-06-01", "09:20")

	// Same time with another doctor is a different slot.
	f.mustBook(t, f.carol, f.dana, "2025-06-01", "09:00")
}

func TestBook_ConcurrentDoubleBooking(t *testing.T) {
	f := newFixture()
	patients := make([]*identity.User, 16)
	for i := range patients {
		patients[i] = f.dir.add("P", "p@example.com", access.RolePatient)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		booked  int
		taken   int
		unknown []error
	)
	for _, p := range patients {
		wg.Add(1)
		go func(p *identity.User) {
			defer wg.Done()
			_, err := f.book(p, f.bob, "2025-06-01", "10:00")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				booked++
			case apperr.Is(err, apperr.KindSlotTaken):
				taken++
			default:
				unknown = append(unknown, err)
			}
		}(p)
	}
	wg.Wait()

	if booked != 1 || taken != len(patients)-1 || len(unknown) != 0 {
		t.Fatalf("expected 1 booking and %d slot_taken, got %d / %d / %v", len(patients)-1, booked, taken, unknown)
	}
}

func TestBook_CancelledSlotIsFreed(t *testing.T) {
	f := newFixture()
	a := f.mustBook(t, f.alice, f.bob, "2025-06-01", "11:00")
	if _, err := f.svc.Cancel(context.Background(), f.alice.Caller(), a.ID); err != nil {
		t.Fatalf("Cancel() error: %v", err)
	}
	f.mustBook(t, f.carol, f.bob, "2025-06-01", "11:00")
}

func TestBook_PastDate(t *testing.T) {
	f := newFixture()

	_, err := f.book(f.alice, f.bob, "2025-05-19", "09:00")
	expectKind(t, err, apperr.KindPastDate)

	// Today counts, even for a time that has already passed.
	f.mustBook(t, f.alice, f.bob, "2025-05-20", "08:00")
}

func TestBook_TodayFollowsConfiguredZone(t *testing.T) {
	f := newFixture()
	tokyo := time.FixedZone("JST", 9*60*60)
	// 2025-05-20 15:00 UTC is already 2025-05-21 in Tokyo.
	f.svc.SetClock(func() time.Time { return time.Date(2025, 5, 20, 15, 0, 0, 0, time.UTC) }, tokyo)

	_, err := f.book(f.alice, f.bob, "2025-05-20", "09:00")
	expectKind(t, err, apperr.KindPastDate)
}

func TestBook_Validation(t *testing.T) {
	f := newFixture()
	cases := []struct {
		name string
		date string
		tm   string
	}{
		{"bad date", "01/06/2025", "09:00"},
		{"bad time", "2025-06-01", "9am"},
		{"single digit hour", "2025-06-01", "9:00"},
		{"hour out of range", "2025-06-01", "25:00"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.book(f.alice, f.bob, tc.date, tc.tm)
			expectKind(t, err, apperr.KindValidation)
		})
	}

	_, err := f.svc.Book(context.Background(), f.alice.Caller(), BookRequest{
		PatientID: f.alice.ID, DoctorID: f.bob.ID, Date: "2025-06-01", Time: "09:00",
	})
	expectKind(t, err, apperr.KindValidation)
}

func TestBook_Participants(t *testing.T) {
	f := newFixture()

	_, err := f.book(f.alice, f.carol, "2025-06-01", "09:00")
	expectKind(t, err, apperr.KindNotFound)

	_, err = f.svc.Book(context.Background(), f.alice.Caller(), BookRequest{
		PatientID: f.alice.ID, DoctorID: uuid.New(), Date: "2025-06-01", Time: "09:00", Purpose: "x",
	})
	expectKind(t, err, apperr.KindNotFound)

	_, err = f.svc.Book(context.Background(), f.alice.Caller(), BookRequest{
		PatientID: f.carol.ID, DoctorID: f.bob.ID, Date: "2025-06-01", Time: "09:00", Purpose: "x",
	})
	expectKind(t, err, apperr.KindForbidden)

	_, err = f.svc.Book(context.Background(), f.bob.Caller(), BookRequest{
		PatientID: f.alice.ID, DoctorID: f.bob.ID, Date: "2025-06-01", Time: "09:00", Purpose: "x",
	})
	expectKind(t, err, apperr.KindForbidden)

	f.dir[f.bob.ID].Active = false
	_, err = f.book(f.alice, f.bob, "2025-06-01", "09:00")
	expectKind(t, err, apperr.KindNotFound)
}

func TestBook_AdminOnBehalfOfPatient(t *testing.T) {
	f := newFixture()
	a, err := f.svc.Book(context.Background(), f.admin.Caller(), BookRequest{
		PatientID: f.alice.ID, DoctorID: f.bob.ID, Date: "2025-06-01", Time: "09:00", Purpose: "Referral",
	})
	if err != nil {
		t.Fatalf("admin booking: %v", err)
	}
	if a.PatientID != f.alice.ID {
		t.Errorf("expected booking for alice, got %s", a.PatientID)
	}
}

func TestBook_NameSnapshotSurvivesRename(t *testing.T) {
	f := newFixture()
	a := f.mustBook(t, f.alice, f.bob, "2025-06-01", "09:00")
	f.dir[f.bob.ID].Name = "Dr. Robert"

	got, err := f.svc.Get(context.Background(), f.alice.Caller(), a.ID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.DoctorName != "Dr. Bob" {
		t.Errorf("expected snapshot name, got %s", got.DoctorName)
	}
}

func TestGet_Visibility(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a := f.mustBook(t, f.alice, f.bob, "2025-06-01", "09:00")

	for _, u := range []*identity.User{f.alice, f.bob, f.admin} {
		if _, err := f.svc.Get(ctx, u.Caller(), a.ID); err != nil {
			t.Errorf("Get(%s) error: %v", u.Name, err)
		}
	}
	for _, u := range []*identity.User{f.carol, f.dana} {
		_, err := f.svc.Get(ctx, u.Caller(), a.ID)
		expectKind(t, err, apperr.KindNotFound)
	}
}

// -- Transitions --

func TestCancel_Transitions(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a := f.mustBook(t, f.alice, f.bob, "2025-06-01", "09:00")

	got, err := f.svc.Cancel(ctx, f.alice.Caller(), a.ID)
	if err != nil {
		t.Fatalf("Cancel() error: %v", err)
	}
	if got.Status != StatusCancelled {
		t.Errorf("expected cancelled, got %s", got.Status)
	}

	_, err = f.svc.Cancel(ctx, f.alice.Caller(), a.ID)
	expectKind(t, err, apperr.KindInvalidTransition)

	_, err = f.svc.Complete(ctx, f.bob.Caller(), a.ID, "")
	expectKind(t, err, apperr.KindInvalidTransition)
}

func TestCancel_CompletedFails(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a := f.mustBook(t, f.alice, f.bob, "2025-06-01", "09:00")

	got, err := f.svc.Complete(ctx, f.bob.Caller(), a.ID, "  BP normal ")
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}
	if got.Status != StatusCompleted || got.Notes == nil || *got.Notes != "BP normal" {
		t.Errorf("unexpected completion %+v", got)
	}

	_, err = f.svc.Cancel(ctx, f.alice.Caller(), a.ID)
	expectKind(t, err, apperr.KindInvalidTransition)
}

func TestTransitions_Access(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a := f.mustBook(t, f.alice, f.bob, "2025-06-01", "09:00")

	_, err := f.svc.Cancel(ctx, f.carol.Caller(), a.ID)
	expectKind(t, err, apperr.KindForbidden)
	_, err = f.svc.Cancel(ctx, f.dana.Caller(), a.ID)
	expectKind(t, err, apperr.KindForbidden)

	_, err = f.svc.Complete(ctx, f.alice.Caller(), a.ID, "")
	expectKind(t, err, apperr.KindForbidden)
	_, err = f.svc.Complete(ctx, f.admin.Caller(), a.ID, "")
	expectKind(t, err, apperr.KindForbidden)
	_, err = f.svc.Complete(ctx, f.dana.Caller(), a.ID, "")
	expectKind(t, err, apperr.KindForbidden)

	if _, err := f.svc.Cancel(ctx, f.admin.Caller(), a.ID); err != nil {
		t.Errorf("admin cancel: %v", err)
	}

	_, err = f.svc.Cancel(ctx, f.admin.Caller(), uuid.New())
	expectKind(t, err, apperr.KindNotFound)
}

func TestTransition_LostRace(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a := f.mustBook(t, f.alice, f.bob, "2025-06-01", "09:00")

	// Another writer completes the visit between our read and our write.
	done := *a
	done.Status = StatusCompleted
	if ok, _ := f.repo.Transition(ctx, &done, StatusScheduled); !ok {
		t.Fatal("setup transition failed")
	}
	stale := *a
	ok, err := f.repo.Transition(ctx, &Appointment{ID: stale.ID, Status: StatusCancelled}, StatusScheduled)
	if err != nil || ok {
		t.Fatalf("expected conditional update to miss, got %v, %v", ok, err)
	}
	_, err = f.svc.Cancel(ctx, f.alice.Caller(), a.ID)
	expectKind(t, err, apperr.KindInvalidTransition)
}

// -- Listing --

func TestListByPatient_Ordering(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.mustBook(t, f.alice, f.bob, "2025-06-02", "09:00")
	f.mustBook(t, f.alice, f.bob, "2025-06-01", "14:00")
	f.mustBook(t, f.alice, f.dana, "2025-06-01", "09:30")
	f.mustBook(t, f.alice, f.bob, "2025-07-15", "08:00")
	f.mustBook(t, f.carol, f.bob, "2025-06-01", "10:00")

	upcoming, err := f.svc.ListByPatient(ctx, f.alice.Caller(), f.alice.ID, ListFilter{})
	if err != nil {
		t.Fatalf("ListByPatient() error: %v", err)
	}
	want := []string{"2025-06-01 09:30", "2025-06-01 14:00", "2025-06-02 09:00", "2025-07-15 08:00"}
	assertOrder(t, upcoming, want)

	recent, err := f.svc.ListByPatient(ctx, f.alice.Caller(), f.alice.ID, ListFilter{Order: SortMostRecent})
	if err != nil {
		t.Fatalf("ListByPatient() error: %v", err)
	}
	want = []string{"2025-07-15 08:00", "2025-06-02 09:00", "2025-06-01 09:30", "2025-06-01 14:00"}
	assertOrder(t, recent, want)
}

func assertOrder(t *testing.T, appts []*Appointment, want []string) {
	t.Helper()
	if len(appts) != len(want) {
		t.Fatalf("expected %d appointments, got %d", len(want), len(appts))
	}
	for i, a := range appts {
		if got := a.Date + " " + a.Time; got != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], got)
		}
	}
}

func TestListByDoctor_StatusFilterAndAccess(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a := f.mustBook(t, f.alice, f.bob, "2025-06-01", "09:00")
	f.mustBook(t, f.carol, f.bob, "2025-06-01", "09:20")
	if _, err := f.svc.Cancel(ctx, f.alice.Caller(), a.ID); err != nil {
		t.Fatalf("Cancel() error: %v", err)
	}

	live, err := f.svc.ListByDoctor(ctx, f.bob.Caller(), f.bob.ID, ListFilter{Status: StatusScheduled})
	if err != nil {
		t.Fatalf("ListByDoctor() error: %v", err)
	}
	if len(live) != 1 || live[0].PatientID != f.carol.ID {
		t.Errorf("expected carol's booking only, got %+v", live)
	}

	_, err = f.svc.ListByDoctor(ctx, f.dana.Caller(), f.bob.ID, ListFilter{})
	expectKind(t, err, apperr.KindForbidden)
	_, err = f.svc.ListByPatient(ctx, f.carol.Caller(), f.alice.ID, ListFilter{})
	expectKind(t, err, apperr.KindForbidden)
	_, err = f.svc.ListByDoctor(ctx, f.bob.Caller(), f.bob.ID, ListFilter{Status: "pending"})
	expectKind(t, err, apperr.KindValidation)
	_, err = f.svc.ListByDoctor(ctx, f.bob.Caller(), f.bob.ID, ListFilter{Order: "sideways"})
	expectKind(t, err, apperr.KindValidation)
}

func TestCountByStatus(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a := f.mustBook(t, f.alice, f.bob, "2025-06-01", "09:00")
	f.mustBook(t, f.carol, f.bob, "2025-06-01", "09:20")
	f.svc.Cancel(ctx, f.alice.Caller(), a.ID)

	counts, err := f.svc.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("CountByStatus() error: %v", err)
	}
	if counts[StatusScheduled] != 1 || counts[StatusCancelled] != 1 {
		t.Errorf("unexpected counts %v", counts)
	}
}
