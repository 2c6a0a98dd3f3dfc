package records

import (
	"context"

	"github.com/google/uuid"
)

// RecordRepository persists medical records. Listing order is insertion
// order; GetByID returns apperr not_found for unknown ids.
type RecordRepository interface {
	Create(ctx context.Context, r *MedicalRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*MedicalRecord, error)
	Update(ctx context.Context, r *MedicalRecord) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*MedicalRecord, error)
	// PatientsAuthoredBy returns each patient the doctor has written for
	// once, ordered by the first record the doctor filed for them.
	PatientsAuthoredBy(ctx context.Context, doctorID uuid.UUID) ([]uuid.UUID, error)
	Count(ctx context.Context) (int, error)
}
