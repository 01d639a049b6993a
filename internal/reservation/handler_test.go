package reservation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/msaedi/instructly-sub008/internal/apperr"
	"github.com/msaedi/instructly-sub008/internal/auth"
	"github.com/msaedi/instructly-sub008/internal/settlement"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) Create(ctx context.Context, actor auth.Actor, req CreateRequest) (*ReservationResponse, error) {
	args := m.Called(ctx, actor, req)
	resp, _ := args.Get(0).(*ReservationResponse)
	return resp, args.Error(1)
}

func (m *MockService) Get(ctx context.Context, actor auth.Actor, id int64) (*ReservationResponse, error) {
	args := m.Called(ctx, actor, id)
	resp, _ := args.Get(0).(*ReservationResponse)
	return resp, args.Error(1)
}

func (m *MockService) ListForOwnerDay(ctx context.Context, actor auth.Actor, ownerID int64, date time.Time) ([]Reservation, error) {
	args := m.Called(ctx, actor, ownerID, date)
	out, _ := args.Get(0).([]Reservation)
	return out, args.Error(1)
}

func (m *MockService) Confirm(ctx context.Context, actor auth.Actor, id int64) (*ReservationResponse, error) {
	args := m.Called(ctx, actor, id)
	resp, _ := args.Get(0).(*ReservationResponse)
	return resp, args.Error(1)
}

func (m *MockService) Complete(ctx context.Context, actor auth.Actor, id int64, req CompleteRequest) (*ReservationResponse, error) {
	args := m.Called(ctx, actor, id, req)
	resp, _ := args.Get(0).(*ReservationResponse)
	return resp, args.Error(1)
}

func (m *MockService) Cancel(ctx context.Context, actor auth.Actor, id int64, req CancelRequest) (*CancelResponse, error) {
	args := m.Called(ctx, actor, id, req)
	resp, _ := args.Get(0).(*CancelResponse)
	return resp, args.Error(1)
}

func (m *MockService) Reschedule(ctx context.Context, actor auth.Actor, id int64, req RescheduleRequest) (*RescheduleResponse, error) {
	args := m.Called(ctx, actor, id, req)
	resp, _ := args.Get(0).(*RescheduleResponse)
	return resp, args.Error(1)
}

func (m *MockService) ReportNoShow(ctx context.Context, actor auth.Actor, id int64, req NoShowRequest) (*NoShowResponse, error) {
	args := m.Called(ctx, actor, id, req)
	resp, _ := args.Get(0).(*NoShowResponse)
	return resp, args.Error(1)
}

func (m *MockService) DisputeNoShow(ctx context.Context, actor auth.Actor, id int64, req DisputeRequest) (*NoShowResponse, error) {
	args := m.Called(ctx, actor, id, req)
	resp, _ := args.Get(0).(*NoShowResponse)
	return resp, args.Error(1)
}

func (m *MockService) ResolveNoShow(ctx context.Context, actor auth.Actor, id int64, req ResolveRequest) (*NoShowResponse, error) {
	args := m.Called(ctx, actor, id, req)
	resp, _ := args.Get(0).(*NoShowResponse)
	return resp, args.Error(1)
}

func (m *MockService) AuthorizeScheduled(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockService) CompleteScheduled(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockService) ExpireNoShow(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

func setupRouter(svc Service, actor *auth.Actor) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(svc)
	r := gin.New()
	if actor != nil {
		r.Use(func(c *gin.Context) {
			auth.SetActor(c, *actor)
			c.Next()
		})
	}
	r.POST("/reservations", h.Create)
	r.GET("/reservations/:id", h.Get)
	r.POST("/reservations/:id/complete", h.Complete)
	r.POST("/reservations/:id/cancel", h.Cancel)
	r.POST("/reservations/:id/no-show/resolve", h.ResolveNoShow)
	r.GET("/owners/:ownerID/reservations", h.ListForOwnerDay)
	return r
}

func TestHandler_Create(t *testing.T) {
	svc := new(MockService)
	req := CreateRequest{OfferingID: 11, Date: "2030-01-02", StartTime: "10:00", EndTime: "11:00", DeliveryMode: ModeOnline}
	svc.On("Create", mock.Anything, student, req).
		Return(&ReservationResponse{Reservation: &Reservation{ID: 42, Status: StatusPending}}, nil)

	body := `{"offering_id":11,"date":"2030-01-02","start_time":"10:00","end_time":"11:00","delivery_mode":"online"}`
	w := httptest.NewRecorder()
	setupRouter(svc, &student).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/reservations", strings.NewReader(body)))

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"pending"`)
}

func TestHandler_Create_ValidationFailure(t *testing.T) {
	svc := new(MockService)

	body := `{"offering_id":11,"date":"2030-01-02","start_time":"10am","end_time":"11:00","delivery_mode":"carrier_pigeon"}`
	w := httptest.NewRecorder()
	setupRouter(svc, &student).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/reservations", strings.NewReader(body)))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "VALIDATION_ERROR")
	svc.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandler_Create_ConflictStatus(t *testing.T) {
	svc := new(MockService)
	svc.On("Create", mock.Anything, student, mock.Anything).
		Return(nil, apperr.CapacityConflict("requested time overlaps another reservation", ErrOverlap))

	body := `{"offering_id":11,"date":"2030-01-02","start_time":"10:00","end_time":"11:00","delivery_mode":"in_person"}`
	w := httptest.NewRecorder()
	setupRouter(svc, &student).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/reservations", strings.NewReader(body)))

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "CAPACITY_CONFLICT")
}

func TestHandler_Unauthenticated(t *testing.T) {
	svc := new(MockService)

	w := httptest.NewRecorder()
	setupRouter(svc, nil).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/reservations/42", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandler_Get_BadID(t *testing.T) {
	svc := new(MockService)

	w := httptest.NewRecorder()
	setupRouter(svc, &student).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/reservations/abc", nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_Cancel_WithoutBody(t *testing.T) {
	svc := new(MockService)
	svc.On("Cancel", mock.Anything, student, int64(42), CancelRequest{}).Return(&CancelResponse{
		Reservation: &Reservation{ID: 42, Status: StatusCancelled},
		Settlement:  &settlement.Result{Decision: settlement.Decision{Tier: settlement.TierCredit, CreditCents: 6000}},
	}, nil)

	w := httptest.NewRecorder()
	setupRouter(svc, &student).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/reservations/42/cancel", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"cancelled"`)
	svc.AssertExpectations(t)
}

func TestHandler_Cancel_ExternalFailure(t *testing.T) {
	svc := new(MockService)
	svc.On("Cancel", mock.Anything, student, int64(42), CancelRequest{}).
		Return(nil, apperr.ExternalOperation("settlement needs manual review", nil))

	w := httptest.NewRecorder()
	setupRouter(svc, &student).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/reservations/42/cancel", nil))

	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestHandler_Complete_Override(t *testing.T) {
	svc := new(MockService)
	svc.On("Complete", mock.Anything, admin, int64(42), CompleteRequest{Override: true}).
		Return(&ReservationResponse{Reservation: &Reservation{ID: 42, Status: StatusCompleted}}, nil)

	w := httptest.NewRecorder()
	setupRouter(svc, &admin).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/reservations/42/complete", strings.NewReader(`{"override":true}`)))

	assert.Equal(t, http.StatusOK, w.Code)
	svc.AssertExpectations(t)
}

func TestHandler_ResolveNoShow_RequiresOutcome(t *testing.T) {
	svc := new(MockService)

	w := httptest.NewRecorder()
	setupRouter(svc, &admin).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/reservations/42/no-show/resolve", strings.NewReader(`{}`)))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	svc.AssertNotCalled(t, "ResolveNoShow", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandler_ListForOwnerDay(t *testing.T) {
	svc := new(MockService)
	svc.On("ListForOwnerDay", mock.Anything, instructor, int64(3), lessonDay).Return([]Reservation{}, nil)

	w := httptest.NewRecorder()
	setupRouter(svc, &instructor).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/owners/3/reservations?date=2030-01-02", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}
