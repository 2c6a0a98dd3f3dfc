package scheduling

import (
	"context"

	"github.com/google/uuid"
)

// AppointmentRepository stores appointments. Create must reject a second
// live booking of the same slot with apperr slot_taken, atomically with the
// insert.
type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// Transition moves a from one status to a.Status only if it is still
	// in from. It reports false when another writer got there first.
	Transition(ctx context.Context, a *Appointment, from Status) (bool, error)
	SlotTaken(ctx context.Context, doctorID uuid.UUID, date, time string) (bool, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Appointment, error)
	ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*Appointment, error)
	CountByStatus(ctx context.Context) (map[Status]int, error)
}
