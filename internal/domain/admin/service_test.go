package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/qrmedi/qrmedi/internal/domain/scheduling"
	"github.com/qrmedi/qrmedi/internal/platform/access"
	"github.com/qrmedi/qrmedi/internal/platform/apperr"
	"github.com/qrmedi/qrmedi/internal/platform/auth"
)

type stubCounts struct {
	roles    map[access.Role]int
	records  int
	statuses map[scheduling.Status]int
	scans    int
	today    int
	err      error
}

func (s *stubCounts) CountByRole(context.Context) (map[access.Role]int, error) {
	return s.roles, nil
}

func (s *stubCounts) Count(context.Context) (int, error) {
	return s.records, nil
}

func (s *stubCounts) CountByStatus(context.Context) (map[scheduling.Status]int, error) {
	return s.statuses, s.err
}

type stubScans struct{ total, today int }

func (s stubScans) Count(context.Context) (int, int, error) {
	return s.total, s.today, nil
}

func newTestService(c *stubCounts) *Service {
	return NewService(c, c, c, stubScans{c.scans, c.today}, access.NewAuthorizer(access.Policy{}), zerolog.Nop())
}

var admin = access.Caller{ID: uuid.New(), Role: access.RoleAdmin}

func TestStats(t *testing.T) {
	svc := newTestService(&stubCounts{
		roles:    map[access.Role]int{access.RolePatient: 4, access.RoleDoctor: 2},
		records:  7,
		statuses: map[scheduling.Status]int{scheduling.StatusScheduled: 3},
		scans:    12,
		today:    5,
	})

	stats, err := svc.Stats(context.Background(), admin)
	if err != nil {
		t.Fatalf("Stats() error: %v", err)
	}
	if stats.Users[access.RolePatient] != 4 || stats.Users[access.RoleDoctor] != 2 {
		t.Errorf("unexpected user counts %v", stats.Users)
	}
	if n, ok := stats.Users[access.RoleAdmin]; !ok || n != 0 {
		t.Errorf("expected admin role present with 0, got %v", stats.Users)
	}
	if stats.Records != 7 || stats.Scans != 12 || stats.ScansToday != 5 {
		t.Errorf("unexpected totals %+v", stats)
	}
	if stats.Appointments[scheduling.StatusScheduled] != 3 || len(stats.Appointments) != 3 {
		t.Errorf("unexpected appointment counts %v", stats.Appointments)
	}
}

func TestStats_AdminOnly(t *testing.T) {
	svc := newTestService(&stubCounts{})
	for _, role := range []access.Role{access.RolePatient, access.RoleDoctor} {
		_, err := svc.Stats(context.Background(), access.Caller{ID: uuid.New(), Role: role})
		if !apperr.Is(err, apperr.KindForbidden) {
			t.Errorf("%s: expected forbidden, got %v", role, err)
		}
	}
}

func TestStats_PropagatesErrors(t *testing.T) {
	boom := errors.New("connection reset")
	svc := newTestService(&stubCounts{err: boom})
	if _, err := svc.Stats(context.Background(), admin); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped repository error, got %v", err)
	}
}

func TestHandler_GetStats(t *testing.T) {
	h := NewHandler(newTestService(&stubCounts{records: 1}))
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/stats", nil)
	req = req.WithContext(auth.WithCaller(req.Context(), admin))
	rec := httptest.NewRecorder()

	if err := h.GetStats(e.NewContext(req, rec)); err != nil {
		t.Fatalf("GetStats() error: %v", err)
	}
	var body map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &body)
	for _, key := range []string{"users", "records", "appointments", "scans", "scans_today"} {
		if _, ok := body[key]; !ok {
			t.Errorf("response is missing %q", key)
		}
	}
}
