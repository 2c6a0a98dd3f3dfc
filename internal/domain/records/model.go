package records

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/qrmedi/qrmedi/internal/platform/access"
	"github.com/qrmedi/qrmedi/internal/platform/apperr"
)

type RecordType string

const (
	TypeDiagnosis    RecordType = "diagnosis"
	TypePrescription RecordType = "prescription"
	TypeTest         RecordType = "test"
	TypeTreatment    RecordType = "treatment"
	TypeOther        RecordType = "other"
)

var validRecordTypes = map[RecordType]bool{
	TypeDiagnosis: true, TypePrescription: true, TypeTest: true,
	TypeTreatment: true, TypeOther: true,
}

// DateLayout is the wire and storage form of a record date.
const DateLayout = "2006-01-02"

// MedicalRecord is a single clinical entry owned by one patient.
// AuthoringDoctorName is a snapshot taken when the record is filed.
type MedicalRecord struct {
	ID                  uuid.UUID  `json:"id"`
	PatientID           uuid.UUID  `json:"patient_id"`
	Title               string     `json:"title"`
	Type                RecordType `json:"type"`
	Date                string     `json:"date"`
	Description         string     `json:"description"`
	AuthoringDoctorID   *uuid.UUID `json:"authoring_doctor_id,omitempty"`
	AuthoringDoctorName string     `json:"authoring_doctor_name,omitempty"`
	Prescriptions       []string   `json:"prescriptions"`
	AttachmentRef       *string    `json:"attachment_ref,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// Target is the access-control view of r.
func (r *MedicalRecord) Target() access.Target {
	t := access.Target{PatientID: r.PatientID}
	if r.AuthoringDoctorID != nil {
		t.DoctorID = *r.AuthoringDoctorID
	}
	return t
}

// RecordFields is the input to AddRecord. An empty Date means today.
type RecordFields struct {
	Title         string     `json:"title"`
	Type          RecordType `json:"type"`
	Date          string     `json:"date"`
	Description   string     `json:"description"`
	Prescriptions []string   `json:"prescriptions"`
	AttachmentRef *string    `json:"attachment_ref,omitempty"`
}

func (f *RecordFields) normalize(today string) {
	f.Title = strings.TrimSpace(f.Title)
	f.Date = strings.TrimSpace(f.Date)
	if f.Date == "" {
		f.Date = today
	}
	if f.Type == "" {
		f.Type = TypeOther
	}
	f.Prescriptions = cleanList(f.Prescriptions)
	f.AttachmentRef = cleanRef(f.AttachmentRef)
}

func (f *RecordFields) validate() error {
	fields := map[string]string{}
	validateCore(f.Title, f.Type, f.Date, fields)
	if len(fields) > 0 {
		return apperr.Validation("invalid record", fields)
	}
	return nil
}

func validateCore(title string, typ RecordType, date string, fields map[string]string) {
	if title == "" {
		fields["title"] = "is required"
	}
	if !validRecordTypes[typ] {
		fields["type"] = "must be diagnosis, prescription, test, treatment or other"
	}
	if _, err := time.Parse(DateLayout, date); err != nil {
		fields["date"] = "must be YYYY-MM-DD"
	}
}

// RecordPatch updates a record in place. Fields fall into three groups that
// are authorized separately: clinical (title, type, date, prescriptions),
// description, and attachment. An empty AttachmentRef clears it.
type RecordPatch struct {
	Title         *string     `json:"title,omitempty"`
	Type          *RecordType `json:"type,omitempty"`
	Date          *string     `json:"date,omitempty"`
	Prescriptions *[]string   `json:"prescriptions,omitempty"`
	Description   *string     `json:"description,omitempty"`
	AttachmentRef *string     `json:"attachment_ref,omitempty"`
}

func (p *RecordPatch) touchesClinical() bool {
	return p.Title != nil || p.Type != nil || p.Date != nil || p.Prescriptions != nil
}

func (p *RecordPatch) empty() bool {
	return !p.touchesClinical() && p.Description == nil && p.AttachmentRef == nil
}

// actions lists the access actions the patch requires.
func (p *RecordPatch) actions() []access.Action {
	var acts []access.Action
	if p.touchesClinical() {
		acts = append(acts, access.RecordUpdateClinical)
	}
	if p.Description != nil {
		acts = append(acts, access.RecordUpdateDescription)
	}
	if p.AttachmentRef != nil {
		acts = append(acts, access.RecordUpdateAttachment)
	}
	return acts
}

func (p *RecordPatch) apply(r *MedicalRecord) error {
	if p.Title != nil {
		r.Title = strings.TrimSpace(*p.Title)
	}
	if p.Type != nil {
		r.Type = *p.Type
	}
	if p.Date != nil {
		r.Date = strings.TrimSpace(*p.Date)
	}
	if p.Prescriptions != nil {
		r.Prescriptions = cleanList(*p.Prescriptions)
	}
	if p.Description != nil {
		r.Description = *p.Description
	}
	if p.AttachmentRef != nil {
		r.AttachmentRef = cleanRef(p.AttachmentRef)
	}

	fields := map[string]string{}
	validateCore(r.Title, r.Type, r.Date, fields)
	if len(fields) > 0 {
		return apperr.Validation("invalid record", fields)
	}
	return nil
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func cleanRef(ref *string) *string {
	if ref == nil {
		return nil
	}
	v := strings.TrimSpace(*ref)
	if v == "" {
		return nil
	}
	return &v
}
