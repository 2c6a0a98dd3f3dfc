package scanlog

import (
	"time"

	"github.com/google/uuid"

	"github.com/qrmedi/qrmedi/internal/domain/records"
	"github.com/qrmedi/qrmedi/internal/platform/apperr"
	"github.com/qrmedi/qrmedi/internal/platform/qrcode"
)

// QrScanLog is one access to a record through its QR code. Rows are never
// updated or deleted, and outlive the record they point at.
type QrScanLog struct {
	ID              uuid.UUID `json:"id"`
	RecordID        uuid.UUID `json:"record_id"`
	ScannedByUserID uuid.UUID `json:"scanned_by"`
	ScannedAt       time.Time `json:"scanned_at"`
	SourceIP        *string   `json:"source_ip,omitempty"`
}

// Quota caps how many scans a record may collect since a point in time.
// A zero Limit means no cap.
type Quota struct {
	Limit int
	Since time.Time
}

// SearchFilter narrows the admin scan listing. RecordID matches any part of
// the record id; ScannedBy is the full id of the scanning user; Date is a
// YYYY-MM-DD day in the service's zone.
type SearchFilter struct {
	RecordID  string
	ScannedBy string
	Date      string
}

// window is the resolved form of SearchFilter handed to the repository.
type window struct {
	RecordID  string
	ScannedBy uuid.UUID
	From      time.Time
	To        time.Time
}

func (f SearchFilter) resolve(loc *time.Location) (window, error) {
	w := window{RecordID: f.RecordID}
	if f.ScannedBy != "" {
		id, err := uuid.Parse(f.ScannedBy)
		if err != nil {
			return w, apperr.Field("scanned_by", "must be a user id")
		}
		w.ScannedBy = id
	}
	if f.Date == "" {
		return w, nil
	}
	day, err := time.ParseInLocation(records.DateLayout, f.Date, loc)
	if err != nil {
		return w, apperr.Field("date", "must be a date in YYYY-MM-DD format")
	}
	w.From = day
	w.To = day.AddDate(0, 0, 1)
	return w, nil
}

const invalidCodeMessage = "invalid code"

// PatientView is what a scanner sees after decoding a patient code. It is
// built from the live profile, not from the snapshot inside the code.
type PatientView struct {
	ID                    uuid.UUID `json:"id"`
	Name                  string    `json:"name"`
	BloodGroup            string    `json:"blood_group,omitempty"`
	EmergencyContactName  string    `json:"emergency_contact_name,omitempty"`
	EmergencyContactPhone string    `json:"emergency_contact_phone,omitempty"`
	Allergies             []string  `json:"allergies,omitempty"`
}

// ScanResult is the outcome of decoding a QR payload. An unreadable, stale or
// dangling code yields Valid false and a message; it is never an error.
type ScanResult struct {
	Valid   bool                   `json:"valid"`
	Message string                 `json:"message,omitempty"`
	Kind    qrcode.Kind            `json:"kind,omitempty"`
	Summary *qrcode.RecordInfo     `json:"summary,omitempty"`
	Record  *records.MedicalRecord `json:"record,omitempty"`
	Patient *PatientView           `json:"patient,omitempty"`
	Log     *QrScanLog             `json:"log,omitempty"`
}

func invalid(msg string) *ScanResult {
	return &ScanResult{Valid: false, Message: msg}
}

func recordInfo(rec *records.MedicalRecord) qrcode.RecordInfo {
	return qrcode.RecordInfo{
		ID:        rec.ID,
		PatientID: rec.PatientID,
		Title:     rec.Title,
		Type:      string(rec.Type),
		Date:      rec.Date,
	}
}
