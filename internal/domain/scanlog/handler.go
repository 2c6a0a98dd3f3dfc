package scanlog

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/qrmedi/qrmedi/internal/platform/auth"
	"github.com/qrmedi/qrmedi/internal/platform/qrcode"
	"github.com/qrmedi/qrmedi/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/scans", h.CreateScan)
	api.GET("/scans", h.ListScans)

	// A trailing ".png" on the id asks for the rendered symbol.
	api.GET("/qr/patients/:id", h.PatientCode)
	api.GET("/qr/records/:id", h.RecordCode)
}

type scanRequest struct {
	RecordID *uuid.UUID `json:"record_id,omitempty"`
	Payload  string     `json:"payload,omitempty"`
}

// CreateScan logs a scan by record id, or decodes a raw QR payload. A
// payload that does not decode answers 200 with valid=false.
func (h *Handler) CreateScan(c echo.Context) error {
	caller, err := auth.CallerFrom(c)
	if err != nil {
		return err
	}
	var req scanRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	switch {
	case req.Payload != "":
		res, err := h.svc.Scan(c.Request().Context(), caller, req.Payload, c.RealIP())
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, res)
	case req.RecordID != nil && *req.RecordID != uuid.Nil:
		l, err := h.svc.LogScan(c.Request().Context(), caller, *req.RecordID, c.RealIP())
		if err != nil {
			return err
		}
		return c.JSON(http.StatusCreated, l)
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "record_id or payload is required")
	}
}

// ListScans returns one record's history when record_id is a full id and no
// other filter is given. Anything else is an admin search.
func (h *Handler) ListScans(c echo.Context) error {
	caller, err := auth.CallerFrom(c)
	if err != nil {
		return err
	}
	recordID := strings.TrimSpace(c.QueryParam("record_id"))
	date := strings.TrimSpace(c.QueryParam("date"))
	scannedBy := strings.TrimSpace(c.QueryParam("scanned_by"))

	if date == "" && scannedBy == "" {
		if id, err := uuid.Parse(recordID); err == nil {
			logs, err := h.svc.ListByRecord(c.Request().Context(), caller, id)
			if err != nil {
				return err
			}
			return c.JSON(http.StatusOK, map[string]interface{}{
				"data":  logs,
				"total": len(logs),
			})
		}
	}

	pg := pagination.FromContext(c)
	logs, total, err := h.svc.Search(c.Request().Context(), caller, SearchFilter{RecordID: recordID, ScannedBy: scannedBy, Date: date}, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	if logs == nil {
		logs = []*QrScanLog{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(logs, total, pg.Limit, pg.Offset).WithLinks(c))
}

type codeResponse struct {
	Kind    qrcode.Kind `json:"kind"`
	Payload string      `json:"payload"`
}

func (h *Handler) PatientCode(c echo.Context) error {
	caller, err := auth.CallerFrom(c)
	if err != nil {
		return err
	}
	id, png, err := codeParam(c)
	if err != nil {
		return err
	}
	kind := qrcode.KindEmergency
	if k := c.QueryParam("kind"); k != "" {
		kind = qrcode.Kind(k)
	}
	payload, err := h.svc.PatientCode(c.Request().Context(), caller, id, kind)
	if err != nil {
		return err
	}
	return respondCode(c, kind, payload, png)
}

func (h *Handler) RecordCode(c echo.Context) error {
	caller, err := auth.CallerFrom(c)
	if err != nil {
		return err
	}
	id, png, err := codeParam(c)
	if err != nil {
		return err
	}
	payload, err := h.svc.RecordCode(c.Request().Context(), caller, id)
	if err != nil {
		return err
	}
	return respondCode(c, qrcode.KindRecordSummary, payload, png)
}

func codeParam(c echo.Context) (uuid.UUID, bool, error) {
	raw := c.Param("id")
	png := strings.HasSuffix(raw, ".png")
	id, err := uuid.Parse(strings.TrimSuffix(raw, ".png"))
	if err != nil {
		return uuid.Nil, false, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, png, nil
}

func respondCode(c echo.Context, kind qrcode.Kind, payload string, png bool) error {
	if !png {
		return c.JSON(http.StatusOK, codeResponse{Kind: kind, Payload: payload})
	}
	size := 0
	if raw := c.QueryParam("size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "size must be an integer")
		}
		size = n
	}
	img, err := qrcode.Render(payload, size)
	if err != nil {
		return err
	}
	c.Response().Header().Set("Cache-Control", "no-store")
	return c.Blob(http.StatusOK, "image/png", img)
}
