package accounts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/middleware"
)

func newTestServer(f *fixture) *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = middleware.ErrorHandler(zerolog.Nop())
	NewHandler(f.svc).RegisterRoutes(e.Group("/accounts"), e.Group("/healthManagement"), e.Group("/accountant"))
	return e
}

func do(ctx context.Context, e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHandler_Register(t *testing.T) {
	f := newFixture()
	e := newTestServer(f)

	rec := do(context.Background(), e, http.MethodPost, "/accounts/register",
		`{"email":"pat@hms.test","first_name":"Pat","last_name":"Lee","password":"long-enough","password2":"long-enough"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	body := decode(t, rec)
	assert.Equal(t, "success", body["status"])
	data := body["data"].(map[string]interface{})
	assert.Equal(t, "pat@hms.test", data["email"])
	assert.NotContains(t, data, "PasswordHash")
}

func TestHandler_RegisterValidationEnvelope(t *testing.T) {
	e := newTestServer(newFixture())

	rec := do(context.Background(), e, http.MethodPost, "/accounts/register", `{"email":"bad"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "error", body["status"])
	errs := body["errors"].(map[string]interface{})
	assert.Contains(t, errs, "email")
	assert.Contains(t, errs, "password")
}

func TestHandler_MalformedBody(t *testing.T) {
	e := newTestServer(newFixture())
	rec := do(context.Background(), e, http.MethodPost, "/accounts/login", `{`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_LoginAndMyInfo(t *testing.T) {
	f := newFixture()
	e := newTestServer(f)
	u := f.activeUser(t)

	rec := do(context.Background(), e, http.MethodPost, "/accounts/login", `{"email":"jane.doe@example.com","password":"s3cret-pass"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	data := decode(t, rec)["data"].(map[string]interface{})
	assert.NotEmpty(t, data["token"])
	assert.Equal(t, u.Email, data["user_info"].(map[string]interface{})["email"])

	ctx := auth.WithIdentity(context.Background(), u.ID, u.Email, auth.RolePatient)
	rec = do(ctx, e, http.MethodGet, "/healthManagement/my-info", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, u.Email, decode(t, rec)["data"].(map[string]interface{})["email"])
}

func TestHandler_AdminRoutesRequireAdmin(t *testing.T) {
	f := newFixture()
	e := newTestServer(f)
	u := f.activeUser(t)

	patient := auth.WithIdentity(context.Background(), u.ID, u.Email, auth.RolePatient)
	rec := do(patient, e, http.MethodPut, "/accountant/update-user-role/"+u.ID.String(), `{"role":"doctor"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	admin := auth.WithIdentity(context.Background(), u.ID, "root@hms.test", auth.RoleAdmin)
	rec = do(admin, e, http.MethodPut, "/accountant/update-user-role/"+u.ID.String(), `{"role":"doctor"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "doctor", decode(t, rec)["data"].(map[string]interface{})["role"])

	rec = do(admin, e, http.MethodGet, "/accountant/users/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(admin, e, http.MethodGet, "/accountant/non-superusers?role=doctor", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode(t, rec)["total"])
}

func TestHandler_ListDoctorsBadDepartment(t *testing.T) {
	e := newTestServer(newFixture())
	rec := do(context.Background(), e, http.MethodGet, "/healthManagement/doctors?department=x", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
