package records

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/qrmedi/qrmedi/internal/platform/access"
	"github.com/qrmedi/qrmedi/internal/platform/apperr"
	"github.com/qrmedi/qrmedi/internal/platform/auth"
)

func newRequest(e *echo.Echo, method, target, body string, caller access.Caller) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = req.WithContext(auth.WithCaller(req.Context(), caller))
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestHandler_CreateRecord(t *testing.T) {
	f := newFixture(access.Policy{})
	h := NewHandler(f.svc)
	e := echo.New()

	body := `{"patient_id":"` + f.alice.ID.String() + `","title":"Annual Physical","type":"diagnosis","date":"2026-09-30"}`
	c, rec := newRequest(e, http.MethodPost, "/api/v1/records", body, f.bob.Caller())
	if err := h.CreateRecord(c); err != nil {
		t.Fatalf("CreateRecord() error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var got MedicalRecord
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.PatientID != f.alice.ID || got.Title != "Annual Physical" {
		t.Errorf("unexpected record %+v", got)
	}
}

func TestHandler_CreateRecord_PatientDefaultsToSelf(t *testing.T) {
	f := newFixture(access.Policy{})
	h := NewHandler(f.svc)
	e := echo.New()

	c, rec := newRequest(e, http.MethodPost, "/api/v1/records", `{"title":"Home BP reading"}`, f.alice.Caller())
	if err := h.CreateRecord(c); err != nil {
		t.Fatalf("CreateRecord() error: %v", err)
	}
	var got MedicalRecord
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.PatientID != f.alice.ID {
		t.Errorf("expected record filed for alice, got %s", got.PatientID)
	}

	c, _ = newRequest(e, http.MethodPost, "/api/v1/records", `{"title":"x"}`, f.bob.Caller())
	err := h.CreateRecord(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Errorf("doctor without patient_id: expected 400, got %v", err)
	}
}

func TestHandler_ListRecords(t *testing.T) {
	f := newFixture(access.Policy{})
	h := NewHandler(f.svc)
	e := echo.New()
	f.add(t, f.bob, f.alice, "one")
	f.add(t, f.bob, f.alice, "two")

	c, rec := newRequest(e, http.MethodGet, "/api/v1/records?patient_id="+f.alice.ID.String(), "", f.bob.Caller())
	if err := h.ListRecords(c); err != nil {
		t.Fatalf("ListRecords() error: %v", err)
	}
	var resp struct {
		Data  []MedicalRecord `json:"data"`
		Total int             `json:"total"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Total != 2 || resp.Data[0].Title != "one" || resp.Data[1].Title != "two" {
		t.Errorf("unexpected listing %+v", resp)
	}

	c, _ = newRequest(e, http.MethodGet, "/api/v1/records?patient_id="+f.alice.ID.String(), "", f.carol.Caller())
	if err := h.ListRecords(c); !apperr.Is(err, apperr.KindForbidden) {
		t.Errorf("expected forbidden for another patient, got %v", err)
	}

	c, _ = newRequest(e, http.MethodGet, "/api/v1/records?patient_id=nope", "", f.bob.Caller())
	if err := h.ListRecords(c); err == nil {
		t.Error("expected error for malformed patient_id")
	}
}

func TestHandler_UpdateAndDeleteRecord(t *testing.T) {
	f := newFixture(access.Policy{})
	h := NewHandler(f.svc)
	e := echo.New()
	r := f.add(t, f.bob, f.alice, "Annual Physical")

	c, rec := newRequest(e, http.MethodPatch, "/", `{"description":"all clear"}`, f.alice.Caller())
	c.SetParamNames("id")
	c.SetParamValues(r.ID.String())
	if err := h.UpdateRecord(c); err != nil {
		t.Fatalf("UpdateRecord() error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	c, rec = newRequest(e, http.MethodDelete, "/", "", f.bob.Caller())
	c.SetParamNames("id")
	c.SetParamValues(r.ID.String())
	if err := h.DeleteRecord(c); err != nil {
		t.Fatalf("DeleteRecord() error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}

	c, _ = newRequest(e, http.MethodGet, "/", "", f.bob.Caller())
	c.SetParamNames("id")
	c.SetParamValues(r.ID.String())
	if err := h.GetRecord(c); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("expected not found after delete, got %v", err)
	}
}

func TestHandler_PatientRoster(t *testing.T) {
	f := newFixture(access.Policy{})
	h := NewHandler(f.svc)
	e := echo.New()
	f.add(t, f.bob, f.alice, "Annual Physical")

	c, rec := newRequest(e, http.MethodGet, "/", "", f.bob.Caller())
	c.SetParamNames("id")
	c.SetParamValues(f.bob.ID.String())
	if err := h.PatientRoster(c); err != nil {
		t.Fatalf("PatientRoster() error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), f.alice.ID.String()) {
		t.Errorf("expected alice in roster, got %s", rec.Body.String())
	}
}
