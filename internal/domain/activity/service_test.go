package activity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hms/hms/pkg/apperr"
)

type mockRepo struct {
	items   []*Activity
	err     error
	lastFil Filter
}

func (m *mockRepo) Create(_ context.Context, a *Activity) error {
	if m.err != nil {
		return m.err
	}
	a.ID = uuid.New()
	a.CreatedAt = time.Now()
	m.items = append(m.items, a)
	return nil
}

func (m *mockRepo) List(_ context.Context, f Filter) ([]*Activity, int, error) {
	m.lastFil = f
	return m.items, len(m.items), nil
}

func TestTrack(t *testing.T) {
	repo := &mockRepo{}
	svc := NewService(repo, zerolog.Nop())
	uid := uuid.New()

	svc.Track(context.Background(), uid, "create_ward", "Ward A")

	require.Len(t, repo.items, 1)
	assert.Equal(t, uid, *repo.items[0].UserID)
	assert.Equal(t, "create_ward", repo.items[0].Action)
}

func TestTrack_AnonymousAndFailure(t *testing.T) {
	repo := &mockRepo{}
	svc := NewService(repo, zerolog.Nop())

	svc.Track(context.Background(), uuid.Nil, "login_failed", "x@hms.test")
	require.Len(t, repo.items, 1)
	assert.Nil(t, repo.items[0].UserID)

	repo.err = errors.New("db down")
	assert.NotPanics(t, func() { svc.Track(context.Background(), uuid.New(), "a", "b") })
}

func TestHandler_ListFilters(t *testing.T) {
	repo := &mockRepo{}
	h := NewHandler(NewService(repo, zerolog.Nop()))
	uid := uuid.New()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/accountant/activities?user_id="+uid.String()+"&from=2024-01-01&to=2024-01-31&action=ward", nil)
	rec := httptest.NewRecorder()

	require.NoError(t, h.List(e.NewContext(req, rec)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, uid, *repo.lastFil.UserID)
	assert.Equal(t, "ward", repo.lastFil.Action)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), *repo.lastFil.To)
	assert.JSONEq(t, `{"status":"success","data":[],"total":0,"limit":20,"offset":0,"has_more":false}`, rec.Body.String())
}

func TestHandler_ListBadDate(t *testing.T) {
	h := NewHandler(NewService(&mockRepo{}, zerolog.Nop()))
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?from=01-01-2024", nil)

	err := h.List(e.NewContext(req, httptest.NewRecorder()))
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}
