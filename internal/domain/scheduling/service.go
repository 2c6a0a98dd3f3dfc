package scheduling

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/qrmedi/qrmedi/internal/domain/identity"
	"github.com/qrmedi/qrmedi/internal/platform/access"
	"github.com/qrmedi/qrmedi/internal/platform/apperr"
	"github.com/qrmedi/qrmedi/internal/platform/metrics"
)

// UserDirectory looks users up without an access check.
type UserDirectory interface {
	Lookup(ctx context.Context, id uuid.UUID) (*identity.User, error)
}

type Service struct {
	appts   AppointmentRepository
	users   UserDirectory
	authz   *access.Authorizer
	metrics *metrics.Metrics
	logger  zerolog.Logger
	now     func() time.Time
	loc     *time.Location
}

func NewService(appts AppointmentRepository, users UserDirectory, authz *access.Authorizer, logger zerolog.Logger) *Service {
	return &Service{
		appts:  appts,
		users:  users,
		authz:  authz,
		logger: logger.With().Str("component", "scheduling").Logger(),
		now:    time.Now,
		loc:    time.UTC,
	}
}

func (s *Service) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// SetClock sets the clock and the zone in which "today" is computed.
func (s *Service) SetClock(now func() time.Time, loc *time.Location) {
	s.now = now
	s.loc = loc
}

func (s *Service) today() string {
	return s.now().In(s.loc).Format(DateLayout)
}

// Book reserves a slot for a patient. The date must be today or later;
// the time of day is not compared.
func (s *Service) Book(ctx context.Context, caller access.Caller, req BookRequest) (*Appointment, error) {
	req.normalize()
	if err := req.validate(); err != nil {
		return nil, err
	}
	if err := s.authz.Check(caller, access.AppointmentBook, access.Target{PatientID: req.PatientID}); err != nil {
		return nil, err
	}
	// Both sides are YYYY-MM-DD, so string order is date order.
	if req.Date < s.today() {
		s.metrics.Booking("past_date")
		return nil, apperr.PastDate(req.Date)
	}

	patient, err := s.member(ctx, req.PatientID, access.RolePatient)
	if err != nil {
		return nil, err
	}
	doctor, err := s.member(ctx, req.DoctorID, access.RoleDoctor)
	if err != nil {
		return nil, err
	}

	taken, err := s.appts.SlotTaken(ctx, req.DoctorID, req.Date, req.Time)
	if err != nil {
		return nil, err
	}
	if taken {
		s.metrics.Booking("slot_taken")
		return nil, apperr.SlotTaken()
	}

	a := &Appointment{
		PatientID:   patient.ID,
		PatientName: patient.Name,
		DoctorID:    doctor.ID,
		DoctorName:  doctor.Name,
		Date:        req.Date,
		Time:        req.Time,
		Status:      StatusScheduled,
		Purpose:     req.Purpose,
	}
	// The storage constraint still decides races the pre-check missed.
	if err := s.appts.Create(ctx, a); err != nil {
		if apperr.Is(err, apperr.KindSlotTaken) {
			s.metrics.Booking("slot_taken")
		}
		return nil, err
	}
	s.metrics.Booking("booked")
	s.logger.Info().
		Str("appointment_id", a.ID.String()).
		Str("doctor_id", a.DoctorID.String()).
		Str("date", a.Date).
		Str("time", a.Time).
		Msg("appointment booked")
	return a, nil
}

// member resolves id to an active user with the given role.
func (s *Service) member(ctx context.Context, id uuid.UUID, role access.Role) (*identity.User, error) {
	u, err := s.users.Lookup(ctx, id)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return nil, apperr.NotFound(string(role))
		}
		return nil, err
	}
	if u.Role != role || !u.Active {
		return nil, apperr.NotFound(string(role))
	}
	return u, nil
}

// Get returns an appointment to its patient, its doctor or an admin; to
// anyone else it does not exist.
func (s *Service) Get(ctx context.Context, caller access.Caller, id uuid.UUID) (*Appointment, error) {
	a, err := s.appts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authz.CheckVisible(caller, access.AppointmentRead, a.Target(), "appointment"); err != nil {
		return nil, err
	}
	return a, nil
}

// Cancel frees the slot. The booking patient, the assigned doctor or an
// admin may cancel.
func (s *Service) Cancel(ctx context.Context, caller access.Caller, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, caller, id, StatusCancelled, access.AppointmentCancel, nil)
}

// Complete closes a visit. Only the assigned doctor may complete it.
func (s *Service) Complete(ctx context.Context, caller access.Caller, id uuid.UUID, notes string) (*Appointment, error) {
	var n *string
	if notes = strings.TrimSpace(notes); notes != "" {
		n = &notes
	}
	return s.transition(ctx, caller, id, StatusCompleted, access.AppointmentComplete, n)
}

func (s *Service) transition(ctx context.Context, caller access.Caller, id uuid.UUID, to Status, action access.Action, notes *string) (*Appointment, error) {
	a, err := s.appts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authz.Check(caller, action, a.Target()); err != nil {
		return nil, err
	}
	from := a.Status
	if !from.CanTransitionTo(to) {
		return nil, apperr.InvalidTransition(string(from), string(to))
	}

	a.Status = to
	if notes != nil {
		a.Notes = notes
	}
	ok, err := s.appts.Transition(ctx, a, from)
	if err != nil {
		return nil, err
	}
	if !ok {
		current, err := s.appts.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, apperr.InvalidTransition(string(current.Status), string(to))
	}
	s.logger.Info().
		Str("appointment_id", id.String()).
		Str("status", string(to)).
		Str("by", caller.ID.String()).
		Msg("appointment status changed")
	return a, nil
}

func (s *Service) ListByPatient(ctx context.Context, caller access.Caller, patientID uuid.UUID, f ListFilter) ([]*Appointment, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}
	if err := s.authz.Check(caller, access.AppointmentRead, access.Target{PatientID: patientID}); err != nil {
		return nil, err
	}
	appts, err := s.appts.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	return f.apply(appts), nil
}

func (s *Service) ListByDoctor(ctx context.Context, caller access.Caller, doctorID uuid.UUID, f ListFilter) ([]*Appointment, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}
	if err := s.authz.Check(caller, access.AppointmentRead, access.Target{DoctorID: doctorID}); err != nil {
		return nil, err
	}
	appts, err := s.appts.ListByDoctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	return f.apply(appts), nil
}

// CountByStatus backs the admin dashboard.
func (s *Service) CountByStatus(ctx context.Context) (map[Status]int, error) {
	return s.appts.CountByStatus(ctx)
}
