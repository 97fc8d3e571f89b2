package laboratory

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/domain/appointment"
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

func (h *Handler) RegisterRoutes(hm *echo.Group) {
	labtech := auth.RequireRole(auth.RoleLabTech)

	hm.POST("/create_test_request", h.Create, auth.RequireRole(auth.RoleDoctor))
	hm.GET("/test_requests", h.List)
	hm.GET("/test_requests/:id", h.Get)
	hm.PATCH("/complete_test_request/:id", h.Complete, labtech)
	hm.POST("/complete_test_request/:id", h.Complete, labtech)
}

func (h *Handler) Create(c echo.Context) error {
	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	t, err := h.svc.CreateTestRequest(c.Request().Context(), appointment.ActorFromContext(c), req)
	if err != nil {
		return err
	}
	return response.Created(c, "Test request created", t)
}

// List accepts status=pending|completed|all and, for staff, patient_id.
func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := Filter{Status: c.QueryParam("status"), Limit: pg.Limit, Offset: pg.Offset}
	if v := c.QueryParam("patient_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return apperr.Validation("invalid patient_id")
		}
		f.PatientID = &id
	}
	items, total, err := h.svc.ListTestRequests(c.Request().Context(), appointment.ActorFromContext(c), f)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.Validation("invalid id")
	}
	t, err := h.svc.GetTestRequest(c.Request().Context(), appointment.ActorFromContext(c), id)
	if err != nil {
		return err
	}
	return response.OK(c, t)
}

func (h *Handler) Complete(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.Validation("invalid id")
	}
	var req CompleteRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	t, err := h.svc.CompleteTestRequest(c.Request().Context(), appointment.ActorFromContext(c), id, req)
	if err != nil {
		return err
	}
	return response.WithMessage(c, "Test result recorded", t)
}
