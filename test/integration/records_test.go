//go:build integration

package integration

import (
	"context"
	"fmt"
	"testing"

	"github.com/qrmedi/qrmedi/internal/domain/identity"
	"github.com/qrmedi/qrmedi/internal/domain/records"
	"github.com/qrmedi/qrmedi/internal/platform/apperr"
)

func TestRecords_InsertionOrderAndPatch(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	alice := s.patient(t, "Alice")
	bob := s.doctor(t, "Bob")

	var ids []string
	for _, title := range []string{"Annual Physical", "Blood panel", "Flu shot"} {
		rec, err := s.records.AddRecord(ctx, bob.Caller(), alice.ID, records.RecordFields{
			Title: title, Type: records.TypeTest, Date: "2026-01-15", Prescriptions: []string{"rest"},
		})
		if err != nil {
			t.Fatalf("AddRecord(%s) error: %v", title, err)
		}
		if rec.AuthoringDoctorName != "Bob" {
			t.Errorf("expected author name snapshot, got %q", rec.AuthoringDoctorName)
		}
		ids = append(ids, rec.ID.String())
	}

	list, err := s.records.ListByPatient(ctx, alice.Caller(), alice.ID)
	if err != nil {
		t.Fatalf("ListByPatient() error: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 records, got %d", len(list))
	}
	for i, rec := range list {
		if rec.ID.String() != ids[i] {
			t.Errorf("position %d: expected %s, got %s", i, ids[i], rec.ID)
		}
	}
	if list[0].Date != "2026-01-15" || len(list[0].Prescriptions) != 1 {
		t.Errorf("fields did not round-trip: %+v", list[0])
	}

	desc := "Feeling better"
	patched, err := s.records.UpdateRecord(ctx, alice.Caller(), list[1].ID, records.RecordPatch{Description: &desc})
	if err != nil {
		t.Fatalf("UpdateRecord() error: %v", err)
	}
	if patched.Description != desc || patched.Title != "Blood panel" {
		t.Errorf("unexpected patch result %+v", patched)
	}
}

func TestRecords_DeleteKeepsScanHistory(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	alice := s.patient(t, "Alice")
	bob := s.doctor(t, "Bob")

	rec, err := s.records.AddRecord(ctx, bob.Caller(), alice.ID, records.RecordFields{Title: "X-ray"})
	if err != nil {
		t.Fatalf("AddRecord() error: %v", err)
	}
	if _, err := s.scans.LogScan(ctx, bob.Caller(), rec.ID, "10.1.1.1"); err != nil {
		t.Fatalf("LogScan() error: %v", err)
	}
	if err := s.records.DeleteRecord(ctx, bob.Caller(), rec.ID); err != nil {
		t.Fatalf("DeleteRecord() error: %v", err)
	}
	if _, err := s.records.Get(ctx, bob.Caller(), rec.ID); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("expected not found after delete, got %v", err)
	}

	total, _, err := s.scans.Count(ctx)
	if err != nil || total != 1 {
		t.Errorf("expected the scan log to survive, got %d (%v)", total, err)
	}
}

func TestRecords_PatientRoster(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	alice := s.patient(t, "Alice")
	carol := s.patient(t, "Carol")
	bob := s.doctor(t, "Bob")

	for i, patient := range []*identity.User{carol, alice, carol} {
		if _, err := s.records.AddRecord(ctx, bob.Caller(), patient.ID, records.RecordFields{Title: fmt.Sprintf("visit %d", i)}); err != nil {
			t.Fatalf("AddRecord() error: %v", err)
		}
	}

	roster, err := s.records.PatientRoster(ctx, bob.Caller(), bob.ID)
	if err != nil {
		t.Fatalf("PatientRoster() error: %v", err)
	}
	if len(roster) != 2 || roster[0].ID != carol.ID || roster[1].ID != alice.ID {
		t.Errorf("expected carol then alice, got %d patients", len(roster))
	}
}
