package ward

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/pkg/apperr"
	"github.com/hms/hms/pkg/pagination"
	"github.com/hms/hms/pkg/response"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(hm, accountant *echo.Group) {
	clinical := auth.RequireRole(auth.RoleNurse, auth.RoleDoctor)
	admin := auth.RequireRole(auth.RoleAdmin)
	reporting := auth.RequireRole(auth.RoleAccountant)

	hm.POST("/admit_patient", h.Admit, clinical)
	hm.PATCH("/discharge_patient/:admission_id", h.Discharge, clinical)
	hm.POST("/discharge_patient/:admission_id", h.Discharge, clinical)
	hm.GET("/admissions", h.ListAdmissions, clinical)

	accountant.POST("/create-ward", h.CreateWard, admin)
	accountant.GET("/wards", h.ListWards, admin)
	accountant.POST("/create-room", h.CreateRoom, admin)
	accountant.GET("/bed-occupancy-details", h.Occupancy, reporting)
	accountant.GET("/admission-discharge-stats", h.AdmissionStats, reporting)
}

func actorID(c echo.Context) uuid.UUID {
	return auth.UserIDFromContext(c.Request().Context())
}

func (h *Handler) CreateWard(c echo.Context) error {
	var req CreateWardRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	w, err := h.svc.CreateWard(c.Request().Context(), actorID(c), req)
	if err != nil {
		return err
	}
	return response.Created(c, "Ward created", w)
}

func (h *Handler) ListWards(c echo.Context) error {
	items, err := h.svc.ListWards(c.Request().Context())
	if err != nil {
		return err
	}
	return response.OK(c, items)
}

func (h *Handler) CreateRoom(c echo.Context) error {
	var req CreateRoomRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	r, err := h.svc.CreateRoom(c.Request().Context(), actorID(c), req)
	if err != nil {
		return err
	}
	return response.Created(c, "Room created with "+strconv.Itoa(r.BedCount)+" beds", r)
}

func (h *Handler) Admit(c echo.Context) error {
	var req AdmitRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	a, err := h.svc.Admit(c.Request().Context(), actorID(c), req)
	if err != nil {
		return err
	}
	return response.Created(c, "Patient admitted", a)
}

func (h *Handler) Discharge(c echo.Context) error {
	id, err := uuid.Parse(c.Param("admission_id"))
	if err != nil {
		return apperr.Validation("invalid admission_id")
	}
	var req DischargeRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	a, err := h.svc.Discharge(c.Request().Context(), actorID(c), id, req)
	if err != nil {
		return err
	}
	return response.WithMessage(c, "Patient discharged", a)
}

// ListAdmissions accepts patient_id and status=open|closed filters.
func (h *Handler) ListAdmissions(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := AdmissionFilter{Limit: pg.Limit, Offset: pg.Offset}
	if v := c.QueryParam("patient_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return apperr.Validation("invalid patient_id")
		}
		f.PatientID = &id
	}
	switch c.QueryParam("status") {
	case "":
	case "open":
		open := true
		f.Open = &open
	case "closed":
		open := false
		f.Open = &open
	default:
		return apperr.Validation("status must be open or closed")
	}

	items, total, err := h.svc.ListAdmissions(c.Request().Context(), f)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Occupancy(c echo.Context) error {
	o, err := h.svc.Occupancy(c.Request().Context())
	if err != nil {
		return err
	}
	return response.OK(c, o)
}

func (h *Handler) AdmissionStats(c echo.Context) error {
	stats, err := h.svc.AdmissionStats(c.Request().Context(), c.QueryParam("period"))
	if err != nil {
		return err
	}
	return response.OK(c, stats)
}
