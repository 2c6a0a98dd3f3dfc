package admin

import (
	"github.com/qrmedi/qrmedi/internal/domain/scheduling"
	"github.com/qrmedi/qrmedi/internal/platform/access"
)

// Stats is the admin dashboard summary. Every role and every appointment
// status is present, zero when nothing matches.
type Stats struct {
	Users        map[access.Role]int       `json:"users"`
	Records      int                       `json:"records"`
	Appointments map[scheduling.Status]int `json:"appointments"`
	Scans        int                       `json:"scans"`
	ScansToday   int                       `json:"scans_today"`
}

func newStats() *Stats {
	s := &Stats{
		Users: map[access.Role]int{
			access.RolePatient: 0,
			access.RoleDoctor:  0,
			access.RoleAdmin:   0,
		},
		Appointments: map[scheduling.Status]int{
			scheduling.StatusScheduled: 0,
			scheduling.StatusCompleted: 0,
			scheduling.StatusCancelled: 0,
		},
	}
	return s
}
