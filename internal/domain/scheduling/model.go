package scheduling

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/qrmedi/qrmedi/internal/platform/access"
	"github.com/qrmedi/qrmedi/internal/platform/apperr"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

var validStatuses = map[Status]bool{
	StatusScheduled: true, StatusCompleted: true, StatusCancelled: true,
}

// Completed and cancelled are terminal.
var transitions = map[Status]map[Status]bool{
	StatusScheduled: {StatusCompleted: true, StatusCancelled: true},
}

func (s Status) CanTransitionTo(to Status) bool {
	return transitions[s][to]
}

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// Appointment occupies the (doctor, date, time) slot until cancelled.
// Patient and doctor names are snapshots taken at booking time.
type Appointment struct {
	ID          uuid.UUID `json:"id"`
	PatientID   uuid.UUID `json:"patient_id"`
	PatientName string    `json:"patient_name"`
	DoctorID    uuid.UUID `json:"doctor_id"`
	DoctorName  string    `json:"doctor_name"`
	Date        string    `json:"date"`
	Time        string    `json:"time"`
	Status      Status    `json:"status"`
	Purpose     string    `json:"purpose"`
	Notes       *string   `json:"notes,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (a *Appointment) Target() access.Target {
	return access.Target{PatientID: a.PatientID, DoctorID: a.DoctorID}
}

type BookRequest struct {
	PatientID uuid.UUID `json:"patient_id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	Date      string    `json:"date"`
	Time      string    `json:"time"`
	Purpose   string    `json:"purpose"`
}

func (r *BookRequest) normalize() {
	r.Date = strings.TrimSpace(r.Date)
	r.Time = strings.TrimSpace(r.Time)
	r.Purpose = strings.TrimSpace(r.Purpose)
}

func (r *BookRequest) validate() error {
	fields := map[string]string{}
	if r.PatientID == uuid.Nil {
		fields["patient_id"] = "is required"
	}
	if r.DoctorID == uuid.Nil {
		fields["doctor_id"] = "is required"
	}
	if _, err := time.Parse(DateLayout, r.Date); err != nil {
		fields["date"] = "must be YYYY-MM-DD"
	}
	if _, err := time.Parse(TimeLayout, r.Time); err != nil || len(r.Time) != len(TimeLayout) {
		fields["time"] = "must be HH:MM"
	}
	if r.Purpose == "" {
		fields["purpose"] = "is required"
	}
	if len(fields) > 0 {
		return apperr.Validation("invalid booking", fields)
	}
	return nil
}

// SortOrder selects how appointment listings are ordered.
type SortOrder string

const (
	// SortUpcoming orders by date then time, both ascending.
	SortUpcoming SortOrder = "upcoming"
	// SortMostRecent orders by date descending; same-day visits stay in
	// time order.
	SortMostRecent SortOrder = "recent"
)

// Sort orders appts in place. Date and time strings sort lexically in their
// fixed-width layouts.
func Sort(appts []*Appointment, order SortOrder) {
	sort.SliceStable(appts, func(i, j int) bool {
		a, b := appts[i], appts[j]
		if a.Date != b.Date {
			if order == SortMostRecent {
				return a.Date > b.Date
			}
			return a.Date < b.Date
		}
		return a.Time < b.Time
	})
}

type ListFilter struct {
	Status Status
	Order  SortOrder
}

func (f *ListFilter) validate() error {
	if f.Status != "" && !validStatuses[f.Status] {
		return apperr.Field("status", "must be scheduled, completed or cancelled")
	}
	switch f.Order {
	case "":
		f.Order = SortUpcoming
	case SortUpcoming, SortMostRecent:
	default:
		return apperr.Field("order", "must be upcoming or recent")
	}
	return nil
}

func (f ListFilter) apply(appts []*Appointment) []*Appointment {
	out := appts[:0:0]
	for _, a := range appts {
		if f.Status == "" || a.Status == f.Status {
			out = append(out, a)
		}
	}
	Sort(out, f.Order)
	return out
}
