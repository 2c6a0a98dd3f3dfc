package scheduling

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/qrmedi/qrmedi/internal/platform/access"
	"github.com/qrmedi/qrmedi/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/appointments", h.BookAppointment)
	api.GET("/appointments", h.ListAppointments)
	api.GET("/appointments/:id", h.GetAppointment)
	api.PATCH("/appointments/:id", h.UpdateAppointment)
}

type statusRequest struct {
	Status Status `json:"status"`
	Notes  string `json:"notes"`
}

func (h *Handler) BookAppointment(c echo.Context) error {
	caller, err := auth.CallerFrom(c)
	if err != nil {
		return err
	}
	var req BookRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.PatientID == uuid.Nil && caller.Role == access.RolePatient {
		req.PatientID = caller.ID
	}
	a, err := h.svc.Book(c.Request().Context(), caller, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, a)
}

// ListAppointments lists by patient_id or doctor_id. Without either, the
// caller's own appointments are listed.
func (h *Handler) ListAppointments(c echo.Context) error {
	caller, err := auth.CallerFrom(c)
	if err != nil {
		return err
	}
	f := ListFilter{
		Status: Status(c.QueryParam("status")),
		Order:  SortOrder(c.QueryParam("order")),
	}
	ctx := c.Request().Context()

	var appts []*Appointment
	switch {
	case c.QueryParam("patient_id") != "":
		id, err := uuid.Parse(c.QueryParam("patient_id"))
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		appts, err = h.svc.ListByPatient(ctx, caller, id, f)
		if err != nil {
			return err
		}
	case c.QueryParam("doctor_id") != "":
		id, err := uuid.Parse(c.QueryParam("doctor_id"))
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid doctor_id")
		}
		appts, err = h.svc.ListByDoctor(ctx, caller, id, f)
		if err != nil {
			return err
		}
	case caller.Role == access.RolePatient:
		appts, err = h.svc.ListByPatient(ctx, caller, caller.ID, f)
		if err != nil {
			return err
		}
	case caller.Role == access.RoleDoctor:
		appts, err = h.svc.ListByDoctor(ctx, caller, caller.ID, f)
		if err != nil {
			return err
		}
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id or doctor_id is required")
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"data":  appts,
		"total": len(appts),
	})
}

func (h *Handler) GetAppointment(c echo.Context) error {
	caller, err := auth.CallerFrom(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	a, err := h.svc.Get(c.Request().Context(), caller, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

// UpdateAppointment accepts {"status":"cancelled"} or
// {"status":"completed","notes":"..."}.
func (h *Handler) UpdateAppointment(c echo.Context) error {
	caller, err := auth.CallerFrom(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	var a *Appointment
	switch req.Status {
	case StatusCancelled:
		a, err = h.svc.Cancel(c.Request().Context(), caller, id)
	case StatusCompleted:
		a, err = h.svc.Complete(c.Request().Context(), caller, id, req.Notes)
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "status must be cancelled or completed")
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}
