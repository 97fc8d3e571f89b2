package finance

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/pkg/apperr"
	"github.com/hms/hms/pkg/money"
	"github.com/hms/hms/pkg/pagination"
	"github.com/hms/hms/pkg/response"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(accountant *echo.Group) {
	role := auth.RequireRole(auth.RoleAccountant)

	accountant.GET("/incomes", h.ListIncomes, role)
	accountant.POST("/create-income", h.CreateIncome, role)
	accountant.GET("/expenses", h.ListExpenses, role)
	accountant.POST("/create-expenses", h.CreateExpense, role)
	accountant.GET("/financial-summary", h.Summary, role)
}

type ledgerResponse struct {
	pagination.Response
	TotalIncome   *money.Cents `json:"total_income,omitempty"`
	TotalExpenses *money.Cents `json:"total_expenses,omitempty"`
}

func listFilter(c echo.Context) (ListFilter, pagination.Params, error) {
	pg := pagination.FromContext(c)
	f := ListFilter{Limit: pg.Limit, Offset: pg.Offset}
	var err error
	if f.From, err = ParseDay("start_date", c.QueryParam("start_date")); err != nil {
		return f, pg, err
	}
	if f.To, err = ParseDay("end_date", c.QueryParam("end_date")); err != nil {
		return f, pg, err
	}
	return f, pg, nil
}

// ListIncomes returns incomes newest first, with the total over every
// matching row.
func (h *Handler) ListIncomes(c echo.Context) error {
	f, pg, err := listFilter(c)
	if err != nil {
		return err
	}
	items, total, sum, err := h.svc.ListIncomes(c.Request().Context(), f)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ledgerResponse{
		Response:    *pagination.NewResponse(items, total, pg.Limit, pg.Offset),
		TotalIncome: &sum,
	})
}

func (h *Handler) ListExpenses(c echo.Context) error {
	f, pg, err := listFilter(c)
	if err != nil {
		return err
	}
	items, total, sum, err := h.svc.ListExpenses(c.Request().Context(), f)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ledgerResponse{
		Response:      *pagination.NewResponse(items, total, pg.Limit, pg.Offset),
		TotalExpenses: &sum,
	})
}

func (h *Handler) CreateIncome(c echo.Context) error {
	var req CreateIncomeRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	in, err := h.svc.CreateIncome(c.Request().Context(), auth.UserIDFromContext(c.Request().Context()), req)
	if err != nil {
		return err
	}
	return response.Created(c, "Income created successfully.", in)
}

func (h *Handler) CreateExpense(c echo.Context) error {
	var req CreateExpenseRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	ex, err := h.svc.CreateExpense(c.Request().Context(), auth.UserIDFromContext(c.Request().Context()), req)
	if err != nil {
		return err
	}
	return response.Created(c, "Expense created successfully.", ex)
}

func (h *Handler) Summary(c echo.Context) error {
	start, err := ParseDay("start_date", c.QueryParam("start_date"))
	if err != nil {
		return err
	}
	end, err := ParseDay("end_date", c.QueryParam("end_date"))
	if err != nil {
		return err
	}
	sum, err := h.svc.Summary(c.Request().Context(), c.QueryParam("period"), start, end)
	if err != nil {
		return err
	}
	return response.OK(c, sum)
}
