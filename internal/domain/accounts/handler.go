package accounts

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

// RegisterRoutes mounts the account, profile and user administration routes.
func (h *Handler) RegisterRoutes(accounts, hm, accountant *echo.Group) {
	accounts.POST("/register", h.Register)
	accounts.POST("/login", h.Login)
	accounts.POST("/logout", h.Logout)
	accounts.POST("/regenerate-code", h.RegenerateCode)
	accounts.POST("/verify-code", h.VerifyCode)
	accounts.POST("/forgot-password", h.ForgotPassword)
	accounts.POST("/reset-password", h.ResetPassword)
	accounts.POST("/change-password", h.ChangePassword)

	hm.GET("/my-info", h.MyInfo)
	hm.PUT("/update-profile", h.UpdateProfile)
	hm.PATCH("/update-profile", h.UpdateProfile)
	hm.GET("/departments", h.ListDepartments)
	hm.POST("/departments", h.CreateDepartment, auth.RequireRole(auth.RoleAdmin))
	hm.GET("/doctors", h.ListDoctors)

	admin := auth.RequireRole(auth.RoleAdmin)
	accountant.GET("/non-superusers", h.ListNonSuperusers, admin)
	accountant.GET("/users/:id", h.GetUser, admin)
	accountant.PUT("/update-user-role/:id", h.UpdateUserRole, admin)
	accountant.PATCH("/update-user-role/:id", h.UpdateUserRole, admin)
	accountant.GET("/roles", h.ListRoles, admin)
}

type emailRequest struct {
	Email string `json:"email"`
}

type verifyRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

func bind(c echo.Context, v interface{}) error {
	if err := c.Bind(v); err != nil {
		return apperr.Validation("invalid request body")
	}
	return nil
}

func pathID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid id %q", c.Param("id"))
	}
	return id, nil
}

func (h *Handler) Register(c echo.Context) error {
	var req RegisterRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	u, err := h.svc.Register(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return response.Created(c, "Registration successful. A verification code has been sent to your email.", u)
}

func (h *Handler) Login(c echo.Context) error {
	var req LoginRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	res, err := h.svc.Login(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return response.WithMessage(c, "Login successful", res)
}

func (h *Handler) Logout(c echo.Context) error {
	ctx := c.Request().Context()
	if err := h.svc.Logout(ctx, auth.UserIDFromContext(ctx)); err != nil {
		return err
	}
	return response.Message(c, "Logged out successfully")
}

func (h *Handler) RegenerateCode(c echo.Context) error {
	var req emailRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.Email == "" {
		return apperr.ValidationFields(map[string]string{"email": "This field is required."})
	}
	if err := h.svc.RegenerateCode(c.Request().Context(), req.Email); err != nil {
		return err
	}
	return response.Message(c, "A new verification code has been sent to your email")
}

func (h *Handler) VerifyCode(c echo.Context) error {
	var req verifyRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.Email == "" || req.Code == "" {
		return apperr.Validation("email and code are required")
	}
	u, err := h.svc.VerifyCode(c.Request().Context(), req.Email, req.Code)
	if err != nil {
		return err
	}
	return response.WithMessage(c, "Account verified successfully", u)
}

func (h *Handler) ForgotPassword(c echo.Context) error {
	var req emailRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.Email == "" {
		return apperr.ValidationFields(map[string]string{"email": "This field is required."})
	}
	if err := h.svc.ForgotPassword(c.Request().Context(), req.Email); err != nil {
		return err
	}
	return response.Message(c, "A password reset code has been sent to your email")
}

func (h *Handler) ResetPassword(c echo.Context) error {
	var req ResetPasswordRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := h.svc.ResetPassword(c.Request().Context(), req); err != nil {
		return err
	}
	return response.Message(c, "Password has been reset successfully")
}

func (h *Handler) ChangePassword(c echo.Context) error {
	var req ChangePasswordRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	if err := h.svc.ChangePassword(ctx, auth.UserIDFromContext(ctx), req); err != nil {
		return err
	}
	return response.Message(c, "Password changed successfully")
}

func (h *Handler) MyInfo(c echo.Context) error {
	ctx := c.Request().Context()
	u, err := h.svc.GetUser(ctx, auth.UserIDFromContext(ctx))
	if err != nil {
		return err
	}
	return response.OK(c, u)
}

func (h *Handler) UpdateProfile(c echo.Context) error {
	var req UpdateProfileRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	u, err := h.svc.UpdateProfile(ctx, auth.UserIDFromContext(ctx), req)
	if err != nil {
		return err
	}
	return response.WithMessage(c, "Profile updated successfully", u)
}

func (h *Handler) ListDepartments(c echo.Context) error {
	items, err := h.svc.ListDepartments(c.Request().Context())
	if err != nil {
		return err
	}
	return response.OK(c, items)
}

func (h *Handler) CreateDepartment(c echo.Context) error {
	var req CreateDepartmentRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	d, err := h.svc.CreateDepartment(ctx, auth.UserIDFromContext(ctx), req)
	if err != nil {
		return err
	}
	return response.Created(c, "Department created", d)
}

// ListDoctors accepts an optional department filter.
func (h *Handler) ListDoctors(c echo.Context) error {
	var dept *uuid.UUID
	if v := c.QueryParam("department"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return apperr.Validation("invalid department id")
		}
		dept = &id
	}
	items, err := h.svc.ListDoctors(c.Request().Context(), dept)
	if err != nil {
		return err
	}
	return response.OK(c, items)
}

func (h *Handler) ListNonSuperusers(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := UserFilter{
		Role:   c.QueryParam("role"),
		Search: c.QueryParam("search"),
		Limit:  pg.Limit,
		Offset: pg.Offset,
	}
	items, total, err := h.svc.ListNonSuperusers(c.Request().Context(), f)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetUser(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	u, err := h.svc.GetUser(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return response.OK(c, u)
}

func (h *Handler) UpdateUserRole(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req UpdateRoleRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	u, err := h.svc.UpdateUserRole(ctx, auth.UserIDFromContext(ctx), id, req.Role)
	if err != nil {
		return err
	}
	return response.WithMessage(c, "User role updated successfully", u)
}

func (h *Handler) ListRoles(c echo.Context) error {
	roles, err := h.svc.ListRoles(c.Request().Context())
	if err != nil {
		return err
	}
	return response.OK(c, roles)
}
