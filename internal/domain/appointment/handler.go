package appointment

import (
	"context"
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

func (h *Handler) RegisterRoutes(hm, accountant *echo.Group) {
	patient := auth.RequireRole(auth.RolePatient)
	doctor := auth.RequireRole(auth.RoleDoctor)
	clinical := auth.RequireRole(auth.RoleDoctor, auth.RoleNurse)

	hm.POST("/book_appointment", h.Book, patient)
	hm.GET("/patient_appointments", h.PatientAppointments, patient)
	hm.GET("/doctor_appointments", h.DoctorAppointments, doctor)
	hm.GET("/appointments/:id", h.Get)

	for path, fn := range map[string]echo.HandlerFunc{
		"/mark_available/:id":                h.MarkPatientAvailable,
		"/mark_patient_left/:id":             h.MarkPatientLeft,
		"/mark_vitals_taken/:id":             h.MarkVitalsTaken,
		"/mark_doctor_with_patient/:id":      h.MarkDoctorWithPatient,
		"/mark_doctor_done_with_patient/:id": h.MarkDoctorDone,
	} {
		hm.POST(path, fn)
		hm.PATCH(path, fn)
	}

	hm.PATCH("/confirm_appointment/:id", h.Confirm, doctor)
	hm.PATCH("/cancel_appointment/:id", h.Cancel, auth.RequireRole(auth.RoleDoctor, auth.RolePatient))
	hm.PATCH("/update_appointment_status/:id", h.UpdateStatus, doctor)

	hm.POST("/create_patient_vital", h.CreateVital, clinical)
	hm.GET("/patient_vitals/:patient_id/", h.PatientVitals)

	accountant.GET("/appointments", h.ListAll, auth.RequireRole(auth.RoleAccountant))
}

// ActorFromContext builds the service actor from the authenticated identity.
func ActorFromContext(c echo.Context) Actor {
	ctx := c.Request().Context()
	a := Actor{ID: auth.UserIDFromContext(ctx), Email: auth.EmailFromContext(ctx)}
	if roles := auth.RolesFromContext(ctx); len(roles) > 0 {
		a.Role = roles[0]
	}
	return a
}

func parseID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid %s", name)
	}
	return id, nil
}

type listResponse struct {
	Status string      `json:"status"`
	Count  int         `json:"count"`
	Data   interface{} `json:"data"`
}

func (h *Handler) Book(c echo.Context) error {
	var req BookRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	a, err := h.svc.Book(c.Request().Context(), ActorFromContext(c), req)
	if err != nil {
		return err
	}
	return response.Created(c, "Appointment booked with Dr. "+a.Doctor.FirstName, a)
}

func (h *Handler) PatientAppointments(c echo.Context) error {
	actor := ActorFromContext(c)
	items, err := h.svc.PatientAppointments(c.Request().Context(), actor.ID, c.QueryParam("upcoming") == "true")
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, listResponse{Status: response.StatusSuccess, Count: len(items), Data: items})
}

func (h *Handler) filterFromQuery(c echo.Context) (Filter, error) {
	f := Filter{Status: c.QueryParam("status")}
	var err error
	if f.From, err = h.svc.ParseDay("from", c.QueryParam("from")); err != nil {
		return f, err
	}
	if f.To, err = h.svc.ParseDay("to", c.QueryParam("to")); err != nil {
		return f, err
	}
	return f, nil
}

// DoctorAppointments accepts status, from and to (dd-mm-yyyy) filters.
func (h *Handler) DoctorAppointments(c echo.Context) error {
	f, err := h.filterFromQuery(c)
	if err != nil {
		return err
	}
	items, total, err := h.svc.DoctorAppointments(c.Request().Context(), ActorFromContext(c).ID, f)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, listResponse{Status: response.StatusSuccess, Count: total, Data: items})
}

func (h *Handler) ListAll(c echo.Context) error {
	f, err := h.filterFromQuery(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	f.Limit, f.Offset = pg.Limit, pg.Offset

	for key, dst := range map[string]**uuid.UUID{"doctor_id": &f.DoctorID, "patient_id": &f.PatientID} {
		if v := c.QueryParam(key); v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				return apperr.Validation("invalid %s", key)
			}
			*dst = &id
		}
	}

	items, total, err := h.svc.ListAll(c.Request().Context(), f)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Get(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	a, err := h.svc.Get(c.Request().Context(), ActorFromContext(c), id)
	if err != nil {
		return err
	}
	return response.OK(c, a)
}

type actionFunc func(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error)

func (h *Handler) run(c echo.Context, message string, fn actionFunc) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	a, err := fn(c.Request().Context(), ActorFromContext(c), id)
	if err != nil {
		return err
	}
	return response.WithMessage(c, message, a)
}

func (h *Handler) MarkPatientAvailable(c echo.Context) error {
	return h.run(c, "Patient marked as available", h.svc.MarkPatientAvailable)
}

func (h *Handler) MarkPatientLeft(c echo.Context) error {
	return h.run(c, "Patient marked as left", h.svc.MarkPatientLeft)
}

func (h *Handler) MarkVitalsTaken(c echo.Context) error {
	return h.run(c, "Vitals marked as taken", h.svc.MarkVitalsTaken)
}

func (h *Handler) MarkDoctorWithPatient(c echo.Context) error {
	return h.run(c, "Doctor is now with the patient", h.svc.MarkDoctorWithPatient)
}

func (h *Handler) MarkDoctorDone(c echo.Context) error {
	return h.run(c, "Doctor is done with the patient", h.svc.MarkDoctorDone)
}

func (h *Handler) Confirm(c echo.Context) error {
	return h.run(c, "Appointment confirmed", h.svc.Confirm)
}

func (h *Handler) Cancel(c echo.Context) error {
	return h.run(c, "Appointment cancelled", h.svc.Cancel)
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	var req StatusRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	a, err := h.svc.UpdateStatus(c.Request().Context(), ActorFromContext(c), id, req.Status)
	if err != nil {
		return err
	}
	return response.WithMessage(c, "Appointment status updated to "+a.Status, a)
}

func (h *Handler) CreateVital(c echo.Context) error {
	var req CreateVitalRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	v, err := h.svc.CreateVital(c.Request().Context(), ActorFromContext(c), req)
	if err != nil {
		return err
	}
	return response.Created(c, "Vitals recorded", v)
}

func (h *Handler) PatientVitals(c echo.Context) error {
	patientID, err := parseID(c, "patient_id")
	if err != nil {
		return err
	}
	items, err := h.svc.PatientVitals(c.Request().Context(), ActorFromContext(c), patientID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, listResponse{Status: response.StatusSuccess, Count: len(items), Data: items})
}
