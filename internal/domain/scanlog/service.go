package scanlog

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/qrmedi/qrmedi/internal/domain/identity"
	"github.com/qrmedi/qrmedi/internal/domain/records"
	"github.com/qrmedi/qrmedi/internal/platform/access"
	"github.com/qrmedi/qrmedi/internal/platform/apperr"
	"github.com/qrmedi/qrmedi/internal/platform/metrics"
	"github.com/qrmedi/qrmedi/internal/platform/qrcode"
)

// RecordSource looks records up without an access check.
type RecordSource interface {
	Lookup(ctx context.Context, id uuid.UUID) (*records.MedicalRecord, error)
}

// UserDirectory looks users up without an access check.
type UserDirectory interface {
	Lookup(ctx context.Context, id uuid.UUID) (*identity.User, error)
}

type Service struct {
	logs    ScanLogRepository
	records RecordSource
	users   UserDirectory
	codec   *qrcode.Codec
	authz   *access.Authorizer
	metrics *metrics.Metrics
	logger  zerolog.Logger
	now     func() time.Time
	loc     *time.Location
	quota   int
	ttl     time.Duration
}

func NewService(logs ScanLogRepository, recs RecordSource, users UserDirectory, codec *qrcode.Codec, authz *access.Authorizer, logger zerolog.Logger) *Service {
	return &Service{
		logs:    logs,
		records: recs,
		users:   users,
		codec:   codec,
		authz:   authz,
		logger:  logger.With().Str("component", "scanlog").Logger(),
		now:     time.Now,
		loc:     time.UTC,
	}
}

func (s *Service) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// SetClock sets the clock and the zone whose midnight resets scan quotas.
func (s *Service) SetClock(now func() time.Time, loc *time.Location) {
	s.now = now
	s.loc = loc
}

// SetDailyQuota caps scans per record per day. Zero disables the cap.
func (s *Service) SetDailyQuota(limit int) {
	s.quota = limit
}

// SetPayloadTTL makes codes older than ttl scan as invalid. Zero disables
// expiry.
func (s *Service) SetPayloadTTL(ttl time.Duration) {
	s.ttl = ttl
}

func (s *Service) startOfDay() time.Time {
	t := s.now().In(s.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, s.loc)
}

// LogScan appends a scan of recordID by caller without a code in hand. Only
// the record's patient, its author and admins may do this; anyone else would
// be spending the record's quota on a record they cannot see.
func (s *Service) LogScan(ctx context.Context, caller access.Caller, recordID uuid.UUID, ip string) (*QrScanLog, error) {
	rec, err := s.records.Lookup(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if err := s.authz.CheckVisible(caller, access.ScanLog, rec.Target(), "medical record"); err != nil {
		return nil, err
	}
	return s.appendScan(ctx, caller, rec, ip)
}

func (s *Service) appendScan(ctx context.Context, caller access.Caller, rec *records.MedicalRecord, ip string) (*QrScanLog, error) {
	l := &QrScanLog{
		RecordID:        rec.ID,
		ScannedByUserID: caller.ID,
		ScannedAt:       s.now().UTC(),
	}
	if ip != "" {
		l.SourceIP = &ip
	}
	if err := s.logs.Append(ctx, l, Quota{Limit: s.quota, Since: s.startOfDay()}); err != nil {
		if apperr.Is(err, apperr.KindScanQuotaExceeded) {
			s.metrics.Scan(string(qrcode.KindRecordSummary), "quota_exceeded")
			s.logger.Warn().Str("record_id", rec.ID.String()).Int("limit", s.quota).Msg("scan quota exceeded")
		}
		return nil, err
	}
	s.logger.Info().
		Str("record_id", rec.ID.String()).
		Str("scanned_by", caller.ID.String()).
		Msg("qr scan")
	return l, nil
}

// ListByRecord returns the scans of one record, oldest first. The record's
// patient, its author and admins may read it.
func (s *Service) ListByRecord(ctx context.Context, caller access.Caller, recordID uuid.UUID) ([]*QrScanLog, error) {
	rec, err := s.records.Lookup(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if err := s.authz.CheckVisible(caller, access.ScanRead, rec.Target(), "medical record"); err != nil {
		return nil, err
	}
	logs, err := s.logs.ListByRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if logs == nil {
		logs = []*QrScanLog{}
	}
	return logs, nil
}

// Search lists scans across all records, newest first. Admin only.
func (s *Service) Search(ctx context.Context, caller access.Caller, f SearchFilter, limit, offset int) ([]*QrScanLog, int, error) {
	if err := s.authz.Check(caller, access.ScanRead, access.Target{}); err != nil {
		return nil, 0, err
	}
	w, err := f.resolve(s.loc)
	if err != nil {
		return nil, 0, err
	}
	return s.logs.Search(ctx, w, limit, offset)
}

// Count returns all scans and the scans since local midnight.
func (s *Service) Count(ctx context.Context) (total, today int, err error) {
	if total, err = s.logs.Count(ctx, time.Time{}); err != nil {
		return 0, 0, err
	}
	if today, err = s.logs.Count(ctx, s.startOfDay()); err != nil {
		return 0, 0, err
	}
	return total, today, nil
}

// Scan decodes a QR payload and resolves it against live data. Codes that do
// not decode, have expired or point at something that is gone produce an
// invalid result rather than an error.
func (s *Service) Scan(ctx context.Context, caller access.Caller, raw, ip string) (*ScanResult, error) {
	p, err := s.codec.Decode(raw)
	if err != nil {
		if apperr.Is(err, apperr.KindParse) {
			s.metrics.Scan("unknown", "invalid")
			s.logger.Debug().Err(err).Msg("undecodable qr payload")
			return invalid(invalidCodeMessage), nil
		}
		return nil, err
	}
	if p.Expired(s.now(), s.ttl) {
		s.metrics.Scan(string(p.Kind), "expired")
		return invalid(invalidCodeMessage), nil
	}

	if p.Kind == qrcode.KindRecordSummary {
		return s.scanRecord(ctx, caller, p, ip)
	}
	return s.scanPatient(ctx, caller, p)
}

func (s *Service) scanRecord(ctx context.Context, caller access.Caller, p qrcode.Payload, ip string) (*ScanResult, error) {
	rec, err := s.records.Lookup(ctx, p.EntityID())
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			s.metrics.Scan(string(p.Kind), "stale")
			return invalid("record no longer exists"), nil
		}
		return nil, err
	}
	if err := s.authz.Check(caller, access.ScanCreate, rec.Target()); err != nil {
		return nil, err
	}
	l, err := s.appendScan(ctx, caller, rec, ip)
	if err != nil {
		return nil, err
	}
	s.metrics.Scan(string(p.Kind), "ok")

	// The summary is what the code itself carries; live detail needs read access.
	summary := *p.Record
	res := &ScanResult{Valid: true, Kind: p.Kind, Summary: &summary, Log: l}
	if s.authz.Authorize(caller, access.RecordRead, rec.Target()).Allowed {
		res.Record = rec
	}
	return res, nil
}

func (s *Service) scanPatient(ctx context.Context, caller access.Caller, p qrcode.Payload) (*ScanResult, error) {
	u, err := s.users.Lookup(ctx, p.EntityID())
	if err != nil && !apperr.Is(err, apperr.KindNotFound) {
		return nil, err
	}
	if u == nil || !u.Active || u.Role != access.RolePatient || u.Patient == nil {
		s.metrics.Scan(string(p.Kind), "stale")
		return invalid("patient no longer exists"), nil
	}
	if err := s.authz.Check(caller, access.ScanCreate, access.Target{PatientID: u.ID}); err != nil {
		return nil, err
	}
	s.metrics.Scan(string(p.Kind), "ok")
	s.logger.Info().
		Str("kind", string(p.Kind)).
		Str("patient_id", u.ID.String()).
		Str("scanned_by", caller.ID.String()).
		Msg("qr scan")

	view := patientView(u, p.Kind == qrcode.KindEmergency)
	return &ScanResult{Valid: true, Kind: p.Kind, Patient: &view}, nil
}

func patientView(u *identity.User, withAllergies bool) PatientView {
	v := PatientView{ID: u.ID, Name: u.Name}
	if u.Patient != nil {
		v.BloodGroup = u.Patient.BloodGroup
		v.EmergencyContactName = u.Patient.EmergencyContactName
		v.EmergencyContactPhone = u.Patient.EmergencyContactPhone
		if withAllergies {
			v.Allergies = u.Patient.Allergies
		}
	}
	return v
}

// PatientCode encodes an emergency or patient-summary code for a patient.
// Callers who may read the patient may mint it.
func (s *Service) PatientCode(ctx context.Context, caller access.Caller, patientID uuid.UUID, kind qrcode.Kind) (string, error) {
	if err := s.authz.Check(caller, access.UserRead, access.UserTarget(patientID)); err != nil {
		return "", err
	}
	u, err := s.users.Lookup(ctx, patientID)
	if err != nil {
		return "", err
	}
	if u.Role != access.RolePatient || u.Patient == nil {
		return "", apperr.NotFound("patient")
	}
	info := qrcode.PatientInfo{
		ID:                    u.ID,
		Name:                  u.Name,
		BloodGroup:            u.Patient.BloodGroup,
		EmergencyContactName:  u.Patient.EmergencyContactName,
		EmergencyContactPhone: u.Patient.EmergencyContactPhone,
		Allergies:             u.Patient.Allergies,
	}
	payload, err := s.codec.EncodePatient(kind, info, s.now())
	if err != nil {
		return "", err
	}
	s.metrics.QREncoded(string(kind))
	return payload, nil
}

// RecordCode encodes a record-summary code for a record the caller can read.
func (s *Service) RecordCode(ctx context.Context, caller access.Caller, recordID uuid.UUID) (string, error) {
	rec, err := s.records.Lookup(ctx, recordID)
	if err != nil {
		return "", err
	}
	if err := s.authz.CheckVisible(caller, access.RecordRead, rec.Target(), "medical record"); err != nil {
		return "", err
	}
	payload, err := s.codec.EncodeRecord(recordInfo(rec), s.now())
	if err != nil {
		return "", err
	}
	s.metrics.QREncoded(string(qrcode.KindRecordSummary))
	return payload, nil
}
