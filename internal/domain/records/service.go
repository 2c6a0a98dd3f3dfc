package records

import (
	"context"
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
	records RecordRepository
	users   UserDirectory
	authz   *access.Authorizer
	metrics *metrics.Metrics
	logger  zerolog.Logger
	now     func() time.Time
	loc     *time.Location
}

func NewService(records RecordRepository, users UserDirectory, authz *access.Authorizer, logger zerolog.Logger) *Service {
	return &Service{
		records: records,
		users:   users,
		authz:   authz,
		logger:  logger.With().Str("component", "records").Logger(),
		now:     time.Now,
		loc:     time.UTC,
	}
}

func (s *Service) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// SetClock sets the clock and zone used for default record dates.
func (s *Service) SetClock(now func() time.Time, loc *time.Location) {
	s.now = now
	s.loc = loc
}

func (s *Service) today() string {
	return s.now().In(s.loc).Format(DateLayout)
}

// AddRecord files a record for patientID. A doctor caller becomes the
// record's author; patients may only file for themselves.
func (s *Service) AddRecord(ctx context.Context, caller access.Caller, patientID uuid.UUID, f RecordFields) (*MedicalRecord, error) {
	if err := s.authz.Check(caller, access.RecordCreate, access.Target{PatientID: patientID}); err != nil {
		return nil, err
	}
	f.normalize(s.today())
	if err := f.validate(); err != nil {
		return nil, err
	}
	if _, err := s.patient(ctx, patientID); err != nil {
		return nil, err
	}

	rec := &MedicalRecord{
		PatientID:     patientID,
		Title:         f.Title,
		Type:          f.Type,
		Date:          f.Date,
		Description:   f.Description,
		Prescriptions: f.Prescriptions,
		AttachmentRef: f.AttachmentRef,
	}
	if caller.Role == access.RoleDoctor {
		doc, err := s.users.Lookup(ctx, caller.ID)
		if err != nil {
			return nil, err
		}
		rec.AuthoringDoctorID = &doc.ID
		rec.AuthoringDoctorName = doc.Name
	}
	if err := s.records.Create(ctx, rec); err != nil {
		return nil, err
	}
	s.metrics.RecordOperation("create")
	s.logger.Info().
		Str("record_id", rec.ID.String()).
		Str("patient_id", patientID.String()).
		Str("by", caller.ID.String()).
		Msg("medical record added")
	return rec, nil
}

// patient resolves id to an existing patient account.
func (s *Service) patient(ctx context.Context, id uuid.UUID) (*identity.User, error) {
	u, err := s.users.Lookup(ctx, id)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return nil, apperr.NotFound("patient")
		}
		return nil, err
	}
	if u.Role != access.RolePatient {
		return nil, apperr.NotFound("patient")
	}
	return u, nil
}

// Get returns a record to a caller who may read it. Callers unrelated to the
// record get not_found, the same as for an unknown id.
func (s *Service) Get(ctx context.Context, caller access.Caller, id uuid.UUID) (*MedicalRecord, error) {
	rec, err := s.records.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authz.CheckVisible(caller, access.RecordRead, rec.Target(), "medical record"); err != nil {
		return nil, err
	}
	return rec, nil
}

// Lookup fetches a record without an access check.
func (s *Service) Lookup(ctx context.Context, id uuid.UUID) (*MedicalRecord, error) {
	return s.records.GetByID(ctx, id)
}

// UpdateRecord applies patch after authorizing every field group it touches.
func (s *Service) UpdateRecord(ctx context.Context, caller access.Caller, id uuid.UUID, patch RecordPatch) (*MedicalRecord, error) {
	if patch.empty() {
		return nil, apperr.Validation("nothing to update", nil)
	}
	rec, err := s.records.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, act := range patch.actions() {
		if err := s.authz.Check(caller, act, rec.Target()); err != nil {
			return nil, err
		}
	}
	if err := patch.apply(rec); err != nil {
		return nil, err
	}
	if err := s.records.Update(ctx, rec); err != nil {
		return nil, err
	}
	s.metrics.RecordOperation("update")
	return rec, nil
}

// DeleteRecord removes a record. Only its author or an admin may do so.
// Scan history for the record is kept.
func (s *Service) DeleteRecord(ctx context.Context, caller access.Caller, id uuid.UUID) error {
	rec, err := s.records.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.authz.Check(caller, access.RecordDelete, rec.Target()); err != nil {
		return err
	}
	if err := s.records.Delete(ctx, id); err != nil {
		return err
	}
	s.metrics.RecordOperation("delete")
	s.logger.Info().Str("record_id", id.String()).Str("by", caller.ID.String()).Msg("medical record deleted")
	return nil
}

// ListByPatient returns every record of the patient in the order filed.
func (s *Service) ListByPatient(ctx context.Context, caller access.Caller, patientID uuid.UUID) ([]*MedicalRecord, error) {
	if err := s.authz.Check(caller, access.RecordRead, access.Target{PatientID: patientID}); err != nil {
		return nil, err
	}
	return s.records.ListByPatient(ctx, patientID)
}

// ListAuthoredByDoctor returns the distinct patients doctorID has written
// records for.
func (s *Service) ListAuthoredByDoctor(ctx context.Context, doctorID uuid.UUID) ([]uuid.UUID, error) {
	return s.records.PatientsAuthoredBy(ctx, doctorID)
}

// PatientRoster resolves a doctor's patients. Doctors see their own roster;
// anyone else needs the admin user listing permission.
func (s *Service) PatientRoster(ctx context.Context, caller access.Caller, doctorID uuid.UUID) ([]*identity.User, error) {
	if caller.ID != doctorID {
		if err := s.authz.Check(caller, access.UserList, access.Target{}); err != nil {
			return nil, err
		}
	}
	ids, err := s.records.PatientsAuthoredBy(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	roster := make([]*identity.User, 0, len(ids))
	for _, id := range ids {
		u, err := s.users.Lookup(ctx, id)
		if err != nil {
			if apperr.Is(err, apperr.KindNotFound) {
				continue
			}
			return nil, err
		}
		roster = append(roster, u)
	}
	return roster, nil
}

// Count backs the admin dashboard.
func (s *Service) Count(ctx context.Context) (int, error) {
	return s.records.Count(ctx)
}
