package access

import (
	"testing"

	"github.com/google/uuid"

	"github.com/qrmedi/qrmedi/internal/platform/apperr"
)

func TestRelationOf(t *testing.T) {
	me := uuid.New()
	other := uuid.New()
	caller := Caller{ID: me, Role: RolePatient}

	cases := []struct {
		name   string
		target Target
		want   Relation
	}{
		{"self", Target{UserID: me}, RelationSelf},
		{"owns", Target{PatientID: me, DoctorID: other}, RelationOwns},
		{"authors", Target{PatientID: other, DoctorID: me}, RelationAuthors},
		{"none", Target{PatientID: other}, RelationNone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := RelationOf(caller, tc.target); got != tc.want {
				t.Errorf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestRelationOf_AnonymousCaller(t *testing.T) {
	if got := RelationOf(Caller{}, Target{UserID: uuid.Nil}); got != RelationNone {
		t.Errorf("anonymous caller must have no relation, got %s", got)
	}
}

func TestAuthorize_Table(t *testing.T) {
	a := NewAuthorizer(Policy{})
	patient := Caller{ID: uuid.New(), Role: RolePatient}
	otherPatient := uuid.New()
	doctor := Caller{ID: uuid.New(), Role: RoleDoctor}
	admin := Caller{ID: uuid.New(), Role: RoleAdmin}

	own := Target{PatientID: patient.ID, DoctorID: doctor.ID}
	foreign := Target{PatientID: otherPatient, DoctorID: uuid.New()}

	cases := []struct {
		name   string
		caller Caller
		action Action
		target Target
		want   bool
	}{
		{"patient reads own record", patient, RecordRead, own, true},
		{"patient reads foreign record", patient, RecordRead, foreign, false},
		{"patient edits own description", patient, RecordUpdateDescription, own, true},
		{"patient edits own clinical fields", patient, RecordUpdateClinical, own, false},
		{"patient edits foreign description", patient, RecordUpdateDescription, foreign, false},
		{"patient deletes own record", patient, RecordDelete, own, false},
		{"author edits clinical fields", doctor, RecordUpdateClinical, own, true},
		{"non-author edits clinical fields", doctor, RecordUpdateClinical, foreign, false},
		{"author deletes record", doctor, RecordDelete, own, true},
		{"doctor reads any record", doctor, RecordRead, foreign, true},
		{"admin edits clinical fields", admin, RecordUpdateClinical, foreign, true},
		{"admin edits description without policy", admin, RecordUpdateDescription, foreign, false},
		{"admin deletes record", admin, RecordDelete, foreign, true},
		{"patient books for self", patient, AppointmentBook, Target{PatientID: patient.ID}, true},
		{"patient books for someone else", patient, AppointmentBook, Target{PatientID: otherPatient}, false},
		{"doctor books", doctor, AppointmentBook, Target{PatientID: otherPatient}, false},
		{"assigned doctor completes", doctor, AppointmentComplete, own, true},
		{"other doctor completes", doctor, AppointmentComplete, foreign, false},
		{"admin completes", admin, AppointmentComplete, own, false},
		{"patient cancels own", patient, AppointmentCancel, own, true},
		{"admin cancels", admin, AppointmentCancel, foreign, true},
		{"patient updates self", patient, UserUpdate, UserTarget(patient.ID), true},
		{"patient updates other user", patient, UserUpdate, UserTarget(otherPatient), false},
		{"patient sets role", patient, UserSetRole, UserTarget(patient.ID), false},
		{"admin sets role", admin, UserSetRole, UserTarget(otherPatient), true},
		{"anyone scans", patient, ScanCreate, foreign, true},
		{"patient logs own record", patient, ScanLog, own, true},
		{"patient logs foreign record", patient, ScanLog, foreign, false},
		{"author logs record", doctor, ScanLog, own, true},
		{"other doctor logs record", doctor, ScanLog, foreign, false},
		{"admin logs record", admin, ScanLog, foreign, true},
		{"patient reads own scan log", patient, ScanRead, own, true},
		{"patient reads foreign scan log", patient, ScanRead, foreign, false},
		{"doctor reads stats", doctor, StatsRead, Target{}, false},
		{"admin reads stats", admin, StatsRead, Target{}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := a.Authorize(tc.caller, tc.action, tc.target)
			if d.Allowed != tc.want {
				t.Errorf("expected allowed=%v, got %v (%s)", tc.want, d.Allowed, d.Reason)
			}
		})
	}
}

func TestAuthorize_AdminClinicalEditPolicy(t *testing.T) {
	admin := Caller{ID: uuid.New(), Role: RoleAdmin}
	target := Target{PatientID: uuid.New(), DoctorID: uuid.New()}

	strict := NewAuthorizer(Policy{})
	if strict.Authorize(admin, RecordUpdateDescription, target).Allowed {
		t.Error("expected admin description edits to be denied by default")
	}
	lenient := NewAuthorizer(Policy{AdminClinicalEdit: true})
	if !lenient.Authorize(admin, RecordUpdateDescription, target).Allowed {
		t.Error("expected admin description edits to be allowed by policy")
	}
}

func TestAuthorize_UnknownRole(t *testing.T) {
	a := NewAuthorizer(Policy{})
	d := a.Authorize(Caller{ID: uuid.New(), Role: "nurse"}, RecordRead, Target{})
	if d.Allowed {
		t.Fatal("unknown role must be denied")
	}
}

func TestDecisionErr(t *testing.T) {
	a := NewAuthorizer(Policy{})
	err := a.Check(Caller{ID: uuid.New(), Role: RolePatient}, StatsRead, Target{})
	if !apperr.Is(err, apperr.KindForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if err := a.Check(Caller{ID: uuid.New(), Role: RoleAdmin}, StatsRead, Target{}); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestCheckVisible(t *testing.T) {
	a := NewAuthorizer(Policy{})
	patient := Caller{ID: uuid.New(), Role: RolePatient}
	doctor := Caller{ID: uuid.New(), Role: RoleDoctor}
	own := Target{PatientID: patient.ID, DoctorID: doctor.ID}
	foreign := Target{PatientID: uuid.New(), DoctorID: uuid.New()}

	if err := a.CheckVisible(patient, RecordRead, own, "medical record"); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	err := a.CheckVisible(patient, RecordRead, foreign, "medical record")
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("unrelated caller: expected not found, got %v", err)
	}
	// Related but not permitted stays forbidden.
	err = a.CheckVisible(patient, RecordDelete, own, "medical record")
	if !apperr.Is(err, apperr.KindForbidden) {
		t.Fatalf("related caller: expected forbidden, got %v", err)
	}
}
