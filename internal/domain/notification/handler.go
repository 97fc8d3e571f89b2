package notification

import (
	"net/http"

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

func (h *Handler) RegisterRoutes(hm *echo.Group) {
	hm.GET("/notifications", h.List)
	hm.POST("/notifications/read-all", h.MarkAllRead)
	hm.POST("/notifications/:id/read", h.MarkRead)
}

type listResponse struct {
	*pagination.Response
	UnreadCount int `json:"unread_count"`
}

func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()
	pg := pagination.FromContext(c)

	items, total, unread, err := h.svc.List(ctx, auth.UserIDFromContext(ctx), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, listResponse{
		Response:    pagination.NewResponse(items, total, pg.Limit, pg.Offset),
		UnreadCount: unread,
	})
}

func (h *Handler) MarkRead(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.Validation("invalid notification id")
	}
	ctx := c.Request().Context()
	if err := h.svc.MarkRead(ctx, id, auth.UserIDFromContext(ctx)); err != nil {
		return err
	}
	return response.Message(c, "Notification marked as read")
}

func (h *Handler) MarkAllRead(c echo.Context) error {
	ctx := c.Request().Context()
	n, err := h.svc.MarkAllRead(ctx, auth.UserIDFromContext(ctx))
	if err != nil {
		return err
	}
	return response.WithMessage(c, "Notifications marked as read", map[string]int64{"updated": n})
}
