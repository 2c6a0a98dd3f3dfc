// Package access derives the operations a caller may perform from the
// caller's role and its relation to the target entity.
//
// Decisions come from a static table keyed by (role, action, relation). A
// rule registered with RelationAny applies regardless of the relation.
package access

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/qrmedi/qrmedi/internal/platform/apperr"
)

type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleDoctor, RoleAdmin:
		return true
	}
	return false
}

// Caller is the authenticated identity attached to a request.
type Caller struct {
	ID   uuid.UUID `json:"id"`
	Role Role      `json:"role"`
}

type Action string

const (
	UserRead       Action = "user.read"
	UserList       Action = "user.list"
	UserCreate     Action = "user.create"
	UserUpdate     Action = "user.update"
	UserSetRole    Action = "user.set_role"
	UserDeactivate Action = "user.deactivate"

	RecordCreate            Action = "record.create"
	RecordRead              Action = "record.read"
	RecordUpdateClinical    Action = "record.update_clinical"
	RecordUpdateDescription Action = "record.update_description"
	RecordUpdateAttachment  Action = "record.update_attachment"
	RecordDelete            Action = "record.delete"

	AppointmentBook     Action = "appointment.book"
	AppointmentRead     Action = "appointment.read"
	AppointmentCancel   Action = "appointment.cancel"
	AppointmentComplete Action = "appointment.complete"

	ScanCreate Action = "scan.create"
	ScanLog    Action = "scan.log"
	ScanRead   Action = "scan.read"

	StatsRead Action = "stats.read"
)

type Relation string

const (
	RelationSelf    Relation = "self"
	RelationOwns    Relation = "owns"
	RelationAuthors Relation = "authors"
	RelationNone    Relation = "none"
	RelationAny     Relation = "*"
)

// Target describes the entity an action applies to. Only the fields that
// make sense for the entity are set: UserID for users, PatientID/DoctorID for
// records and appointments.
type Target struct {
	UserID    uuid.UUID
	PatientID uuid.UUID
	DoctorID  uuid.UUID
}

// UserTarget is the target for actions on a user account.
func UserTarget(id uuid.UUID) Target { return Target{UserID: id} }

// RelationOf returns how caller relates to target. The first matching
// relation wins: self, owns, authors, none.
func RelationOf(caller Caller, t Target) Relation {
	if caller.ID == uuid.Nil {
		return RelationNone
	}
	switch caller.ID {
	case t.UserID:
		return RelationSelf
	case t.PatientID:
		return RelationOwns
	case t.DoctorID:
		return RelationAuthors
	}
	return RelationNone
}

// Policy holds the configurable parts of the rule table.
type Policy struct {
	// AdminClinicalEdit lets admins rewrite a record's clinical description.
	AdminClinicalEdit bool
}

type ruleKey struct {
	role     Role
	action   Action
	relation Relation
}

// Decision is the outcome of an authorization check.
type Decision struct {
	Allowed bool
	Reason  string
}

// Err returns nil for an allowed decision and a forbidden error otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return apperr.Forbidden(d.Reason)
}

type Authorizer struct {
	rules map[ruleKey]bool
}

// NewAuthorizer builds the rule table for the given policy.
func NewAuthorizer(p Policy) *Authorizer {
	a := &Authorizer{rules: make(map[ruleKey]bool)}

	// Users.
	a.allow(RolePatient, UserRead, RelationSelf)
	a.allow(RolePatient, UserUpdate, RelationSelf)
	a.allow(RoleDoctor, UserRead, RelationAny)
	a.allow(RoleDoctor, UserUpdate, RelationSelf)

	// Records. Patients may file their own entries and touch the
	// non-clinical parts of them; clinical fields belong to the author.
	a.allow(RolePatient, RecordCreate, RelationOwns)
	a.allow(RolePatient, RecordRead, RelationOwns)
	a.allow(RolePatient, RecordUpdateDescription, RelationOwns)
	a.allow(RolePatient, RecordUpdateAttachment, RelationOwns)
	a.allow(RoleDoctor, RecordCreate, RelationAny)
	a.allow(RoleDoctor, RecordRead, RelationAny)
	a.allow(RoleDoctor, RecordUpdateClinical, RelationAuthors)
	a.allow(RoleDoctor, RecordUpdateDescription, RelationAuthors)
	a.allow(RoleDoctor, RecordUpdateAttachment, RelationAuthors)
	a.allow(RoleDoctor, RecordDelete, RelationAuthors)

	// Appointments.
	a.allow(RolePatient, AppointmentBook, RelationOwns)
	a.allow(RolePatient, AppointmentRead, RelationOwns)
	a.allow(RolePatient, AppointmentCancel, RelationOwns)
	a.allow(RoleDoctor, AppointmentRead, RelationAuthors)
	a.allow(RoleDoctor, AppointmentCancel, RelationAuthors)
	a.allow(RoleDoctor, AppointmentComplete, RelationAuthors)

	// Scans. Anyone holding a signed code may scan it; logging by bare
	// record id is limited to the people the record belongs to, since it
	// spends the record's daily quota.
	for _, r := range []Role{RolePatient, RoleDoctor, RoleAdmin} {
		a.allow(r, ScanCreate, RelationAny)
	}
	a.allow(RolePatient, ScanLog, RelationOwns)
	a.allow(RoleDoctor, ScanLog, RelationAuthors)
	a.allow(RolePatient, ScanRead, RelationOwns)
	a.allow(RoleDoctor, ScanRead, RelationAuthors)

	// Admins bypass relation checks, except for completing visits and,
	// unless the policy says otherwise, rewriting clinical descriptions.
	for _, act := range []Action{
		UserRead, UserList, UserCreate, UserUpdate, UserSetRole, UserDeactivate,
		RecordCreate, RecordRead, RecordUpdateClinical, RecordUpdateAttachment, RecordDelete,
		AppointmentBook, AppointmentRead, AppointmentCancel,
		ScanLog, ScanRead, StatsRead,
	} {
		a.allow(RoleAdmin, act, RelationAny)
	}
	if p.AdminClinicalEdit {
		a.allow(RoleAdmin, RecordUpdateDescription, RelationAny)
	}

	return a
}

func (a *Authorizer) allow(role Role, action Action, rel Relation) {
	a.rules[ruleKey{role, action, rel}] = true
}

// Authorize evaluates the rule table for caller performing action on target.
func (a *Authorizer) Authorize(caller Caller, action Action, target Target) Decision {
	if !caller.Role.Valid() {
		return Decision{Reason: "unknown role"}
	}
	rel := RelationOf(caller, target)
	if a.rules[ruleKey{caller.Role, action, rel}] || a.rules[ruleKey{caller.Role, action, RelationAny}] {
		return Decision{Allowed: true}
	}
	return Decision{Reason: fmt.Sprintf("%s may not %s", caller.Role, action)}
}

// Check is Authorize followed by Decision.Err.
func (a *Authorizer) Check(caller Caller, action Action, target Target) error {
	return a.Authorize(caller, action, target).Err()
}

// CheckVisible is Check for an entity that was just loaded by id. A caller
// with no relation to it is told it does not exist.
func (a *Authorizer) CheckVisible(caller Caller, action Action, target Target, entity string) error {
	d := a.Authorize(caller, action, target)
	if d.Allowed {
		return nil
	}
	if RelationOf(caller, target) == RelationNone {
		return apperr.NotFound(entity)
	}
	return d.Err()
}
