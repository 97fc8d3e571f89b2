package pharmacy

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

func (h *Handler) RegisterRoutes(hm, accountant *echo.Group) {
	doctor := auth.RequireRole(auth.RoleDoctor)
	pharmacist := auth.RequireRole(auth.RolePharmacist)

	accountant.POST("/create-drug", h.CreateDrug, pharmacist)
	accountant.PUT("/update-drug/:id", h.UpdateDrug, pharmacist)
	accountant.PATCH("/update-drug/:id", h.UpdateDrug, pharmacist)

	hm.GET("/drugs", h.ListDrugs)
	hm.GET("/drugs/:id", h.GetDrug)

	hm.POST("/create_medical_record", h.CreateMedicalRecord, doctor)
	hm.GET("/medical_records", h.ListMedicalRecords)
	hm.GET("/medical_records/:id", h.GetMedicalRecord)
	hm.POST("/create_treatment", h.CreateTreatment, doctor)
	hm.POST("/send_to_pharmacy/:record_id", h.SendToPharmacy, doctor)

	hm.GET("/pharmacy_referrals", h.ListReferrals, pharmacist)
	hm.GET("/pharmacy_referrals/:id", h.GetReferral, pharmacist)
	hm.POST("/dispense_and_pay", h.DispenseAndPay, pharmacist)
	hm.GET("/sales/:bulk_sale_id", h.GetSale, auth.RequireRole(auth.RolePharmacist, auth.RoleAccountant))
}

func parseID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid %s", name)
	}
	return id, nil
}

func userID(c echo.Context) uuid.UUID {
	return auth.UserIDFromContext(c.Request().Context())
}

// -- Drugs --

func (h *Handler) CreateDrug(c echo.Context) error {
	var req DrugRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	d, err := h.svc.CreateDrug(c.Request().Context(), userID(c), req)
	if err != nil {
		return err
	}
	return response.Created(c, "Drug created successfully.", d)
}

func (h *Handler) UpdateDrug(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req DrugRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	d, err := h.svc.UpdateDrug(c.Request().Context(), userID(c), id, req)
	if err != nil {
		return err
	}
	return response.WithMessage(c, "Drug updated successfully.", d)
}

// ListDrugs accepts a name search and pagination.
func (h *Handler) ListDrugs(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListDrugs(c.Request().Context(), c.QueryParam("search"), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetDrug(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	d, err := h.svc.GetDrug(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return response.OK(c, d)
}

// -- Records --

func (h *Handler) CreateMedicalRecord(c echo.Context) error {
	var req CreateMedicalRecordRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	m, err := h.svc.CreateMedicalRecord(c.Request().Context(), appointment.ActorFromContext(c), req)
	if err != nil {
		return err
	}
	return response.Created(c, "Medical record created", m)
}

func (h *Handler) ListMedicalRecords(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := RecordFilter{Limit: pg.Limit, Offset: pg.Offset}
	if v := c.QueryParam("patient_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return apperr.Validation("invalid patient_id")
		}
		f.PatientID = &id
	}
	items, total, err := h.svc.ListMedicalRecords(c.Request().Context(), appointment.ActorFromContext(c), f)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetMedicalRecord(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	m, err := h.svc.GetMedicalRecord(c.Request().Context(), appointment.ActorFromContext(c), id)
	if err != nil {
		return err
	}
	return response.OK(c, m)
}

func (h *Handler) CreateTreatment(c echo.Context) error {
	var req CreateTreatmentRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	t, err := h.svc.CreateTreatment(c.Request().Context(), appointment.ActorFromContext(c), req)
	if err != nil {
		return err
	}
	return response.Created(c, "Treatment created", t)
}

func (h *Handler) SendToPharmacy(c echo.Context) error {
	id, err := parseID(c, "record_id")
	if err != nil {
		return err
	}
	r, err := h.svc.SendToPharmacy(c.Request().Context(), appointment.ActorFromContext(c), id)
	if err != nil {
		return err
	}
	return response.Created(c, "Patient referred to the pharmacy", r)
}

// -- Pharmacy --

// ListReferrals accepts status=pending|paid|all, defaulting to pending.
func (h *Handler) ListReferrals(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListReferrals(c.Request().Context(),
		ReferralFilter{Status: c.QueryParam("status"), Limit: pg.Limit, Offset: pg.Offset})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetReferral(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	r, err := h.svc.GetReferral(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return response.OK(c, r)
}

func (h *Handler) DispenseAndPay(c echo.Context) error {
	var req DispenseRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	sale, err := h.svc.DispenseAndPay(c.Request().Context(), userID(c), req)
	if err != nil {
		return err
	}
	return response.Created(c, "Sale "+sale.BulkSaleID+" completed", sale)
}

func (h *Handler) GetSale(c echo.Context) error {
	sale, err := h.svc.GetSale(c.Request().Context(), c.Param("bulk_sale_id"))
	if err != nil {
		return err
	}
	return response.OK(c, sale)
}
