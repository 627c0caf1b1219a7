package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"carinspect/internal/config"
	"carinspect/internal/database"
	"carinspect/internal/domain"
	"carinspect/internal/models"
	"carinspect/internal/repository"
	"carinspect/internal/service"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

var testAuth = config.APIAuthConfig{
	Enabled:   true,
	JWTSecret: "test-secret",
	Issuer:    "carinspect-test",
	TokenTTL:  time.Hour,
}

type apiFixture struct {
	srv      *HTTPServer
	db       *database.DB
	customer *models.User
	other    *models.User
	admin    *models.User
	car      *models.Car
	day      string
}

func newAPIFixture(t *testing.T, booking config.BookingConfig, presence domain.PresenceRepository) *apiFixture {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	f := &apiFixture{db: db}
	f.customer = &models.User{Name: "Ann", Email: "ann@example.com"}
	f.other = &models.User{Name: "Bob", Email: "bob@example.com"}
	f.admin = &models.User{Name: "Ivan", Email: "ivan@example.com", Role: models.RoleAdmin}
	for _, u := range []*models.User{f.customer, f.other, f.admin} {
		require.NoError(t, db.CreateUser(ctx, u))
	}
	f.car = &models.Car{OwnerID: f.other.ID, Make: "Mazda", Model: "3", Status: models.CarStatusApproved, IsActive: true}
	require.NoError(t, db.CreateCar(ctx, f.car))

	svc := service.NewInspectionService(db, db, nil, 90, time.UTC, &logger)
	f.srv = NewHTTPServer(config.APIConfig{Auth: testAuth}, booking, Dependencies{
		Service:  svc,
		Presence: presence,
		Logger:   &logger,
	})
	f.day = models.DateOf(time.Now().UTC()).AddDate(0, 0, 2).Format(models.DateLayout)
	return f
}

func (f *apiFixture) token(t *testing.T, u *models.User) string {
	t.Helper()
	token, err := f.srv.Tokens().Issue(u.ID, u.Role)
	require.NoError(t, err)
	return token
}

func (f *apiFixture) do(t *testing.T, method, path string, as *models.User, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if as != nil {
		req.Header.Set("Authorization", "Bearer "+f.token(t, as))
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) bookBody(start string) map[string]any {
	return map[string]any{
		"carId":          f.car.ID,
		"inspectionDate": f.day,
		"timeSlot":       map[string]string{"startTime": start, "period": "morning"},
		"customerNotes":  "check brakes",
	}
}

type inspectionEnvelope struct {
	Inspection struct {
		ID             string `json:"id"`
		Ref            string `json:"ref"`
		Status         string `json:"status"`
		InspectionDate string `json:"inspectionDate"`
		TimeSlot       struct {
			StartTime string `json:"startTime"`
			EndTime   string `json:"endTime"`
		} `json:"timeSlot"`
	} `json:"inspection"`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealthEndpoints(t *testing.T) {
	f := newAPIFixture(t, config.BookingConfig{}, nil)

	rec := f.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = f.do(t, http.MethodGet, "/readyz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	f.srv.ready = func(context.Context) error { return errors.New("db down") }
	rec = f.do(t, http.MethodGet, "/readyz", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAuthentication(t *testing.T) {
	f := newAPIFixture(t, config.BookingConfig{}, nil)

	rec := f.do(t, http.MethodGet, "/api/inspections/my-inspections", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, codeUnauthorized, decode[errorBody](t, rec).Code)

	req := httptest.NewRequest(http.MethodGet, "/api/inspections/my-inspections", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec = httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Query token is accepted for event streams.
	req = httptest.NewRequest(http.MethodGet, "/api/inspections/my-inspections?token="+f.token(t, f.customer), nil)
	rec = httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/inspections/admin/all", f.customer, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/inspections/admin/all", f.admin, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBookingFlow(t *testing.T) {
	f := newAPIFixture(t, config.BookingConfig{}, nil)

	rec := f.do(t, http.MethodPost, "/api/inspections/book", f.customer, f.bookBody("09:00"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	booked := decode[inspectionEnvelope](t, rec)
	id := booked.Inspection.ID
	assert.Equal(t, "pending", booked.Inspection.Status)
	assert.Equal(t, f.day, booked.Inspection.InspectionDate)
	assert.Equal(t, "09:30", booked.Inspection.TimeSlot.EndTime)
	assert.Contains(t, booked.Inspection.Ref, "INS-")

	rec = f.do(t, http.MethodPost, "/api/inspections/book", f.other, f.bookBody("09:00"))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, codeSlotUnavailable, decode[errorBody](t, rec).Code)

	rec = f.do(t, http.MethodGet, "/api/inspections/available-slots?date="+f.day, f.other, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	slots := decode[struct {
		Date  string                      `json:"date"`
		Slots []models.PeriodAvailability `json:"slots"`
	}](t, rec)
	assert.Equal(t, f.day, slots.Date)
	require.Len(t, slots.Slots, 3)
	assert.Equal(t, models.PeriodMorning, slots.Slots[0].Period)
	assert.Equal(t, 1, slots.Slots[0].BookedSlots)
	assert.Len(t, slots.Slots[0].AvailableSlots, 5)

	rec = f.do(t, http.MethodGet, "/api/inspections/"+id, f.other, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/inspections/"+id, f.customer, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/inspections/missing-id", f.admin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPut, "/api/inspections/admin/"+id+"/complete", f.admin, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, codeInvalidState, decode[errorBody](t, rec).Code)

	rec = f.do(t, http.MethodPut, "/api/inspections/admin/"+id+"/confirm", f.admin, map[string]any{"inspectorId": f.customer.ID})
	assert.Equal(t, codeInvalidInspector, decode[errorBody](t, rec).Code)

	rec = f.do(t, http.MethodPut, "/api/inspections/admin/"+id+"/confirm", f.admin, map[string]any{"inspectorId": f.admin.ID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "confirmed", decode[inspectionEnvelope](t, rec).Inspection.Status)

	rec = f.do(t, http.MethodPut, "/api/inspections/admin/"+id+"/start", f.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "in-progress", decode[inspectionEnvelope](t, rec).Inspection.Status)

	report := map[string]any{
		"inspectionReport": map[string]any{"overallCondition": "good", "estimatedValue": 12000},
		"inspectorNotes":   "minor scratches",
	}
	rec = f.do(t, http.MethodPut, "/api/inspections/admin/"+id+"/complete", f.admin, report)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "completed", decode[inspectionEnvelope](t, rec).Inspection.Status)

	rec = f.do(t, http.MethodPut, "/api/inspections/"+id+"/cancel", f.customer, map[string]string{"reason": "changed mind"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, codeAlreadyCompleted, decode[errorBody](t, rec).Code)

	rec = f.do(t, http.MethodGet, "/api/inspections/my-inspections?status=completed", f.customer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[pageView](t, rec)
	assert.Equal(t, 1, page.Pagination.TotalInspections)
	require.Len(t, page.Inspections, 1)
	assert.Equal(t, id, page.Inspections[0].ID)
}

func TestRescheduleAndCancel(t *testing.T) {
	f := newAPIFixture(t, config.BookingConfig{}, nil)

	rec := f.do(t, http.MethodPost, "/api/inspections/book", f.customer, f.bookBody("10:00"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := decode[inspectionEnvelope](t, rec).Inspection.ID

	move := map[string]any{
		"newDate":     f.day,
		"newTimeSlot": map[string]string{"startTime": "14:00", "period": "afternoon"},
		"reason":      "traffic",
	}
	rec = f.do(t, http.MethodPut, "/api/inspections/"+id+"/reschedule", f.other, move)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPut, "/api/inspections/"+id+"/reschedule", f.customer, map[string]any{
		"newDate":     f.day,
		"newTimeSlot": map[string]string{"startTime": "14:00", "period": "afternoon"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, codeValidation, decode[errorBody](t, rec).Code)

	rec = f.do(t, http.MethodPut, "/api/inspections/"+id+"/reschedule", f.customer, move)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	moved := decode[inspectionEnvelope](t, rec)
	assert.Equal(t, "rescheduled", moved.Inspection.Status)
	assert.Equal(t, "14:00", moved.Inspection.TimeSlot.StartTime)

	rec = f.do(t, http.MethodPut, "/api/inspections/"+id+"/cancel", f.customer, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "cancelled", decode[inspectionEnvelope](t, rec).Inspection.Status)

	day, err := models.ParseDate(f.day)
	require.NoError(t, err)
	calendar, err := f.db.FindCalendarDay(context.Background(), day, models.PeriodAfternoon)
	require.NoError(t, err)
	slot, ok := calendar.FindSlot("14:00")
	require.True(t, ok)
	assert.False(t, slot.IsBooked)
}

func TestRequestValidation(t *testing.T) {
	f := newAPIFixture(t, config.BookingConfig{}, nil)
	yesterday := models.DateOf(time.Now().UTC()).AddDate(0, 0, -1).Format(models.DateLayout)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"MissingDate", http.MethodGet, "/api/inspections/available-slots", nil, http.StatusBadRequest, codeValidation},
		{"MalformedDate", http.MethodGet, "/api/inspections/available-slots?date=01-06-2025", nil, http.StatusBadRequest, codeValidation},
		{"FarFutureSlots", http.MethodGet, "/api/inspections/available-slots?date=9999-12-31", nil, http.StatusBadRequest, codeValidation},
		{"PastSlots", http.MethodGet, "/api/inspections/available-slots?date=" + yesterday, nil, http.StatusBadRequest, codePastDate},
		{"UnknownPeriod", http.MethodPost, "/api/inspections/book", map[string]any{
			"carId": 1, "inspectionDate": f.day, "timeSlot": map[string]string{"startTime": "09:00", "period": "evening"},
		}, http.StatusBadRequest, codeValidation},
		{"MissingCar", http.MethodPost, "/api/inspections/book", map[string]any{
			"inspectionDate": f.day, "timeSlot": map[string]string{"startTime": "09:00", "period": "morning"},
		}, http.StatusBadRequest, codeValidation},
		{"UnknownField", http.MethodPost, "/api/inspections/book", map[string]any{"bogus": true}, http.StatusBadRequest, codeValidation},
		{"UnknownCar", http.MethodPost, "/api/inspections/book", map[string]any{
			"carId": 999, "inspectionDate": f.day, "timeSlot": map[string]string{"startTime": "09:00", "period": "morning"},
		}, http.StatusNotFound, codeCarNotFound},
		{"SlotMissing", http.MethodPost, "/api/inspections/book", map[string]any{
			"carId": 1, "inspectionDate": f.day, "timeSlot": map[string]string{"startTime": "09:10", "period": "morning"},
		}, http.StatusBadRequest, codeSlotNotFound},
		{"BadStatusFilter", http.MethodGet, "/api/inspections/admin/all?status=lost", nil, http.StatusBadRequest, codeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			as := f.customer
			if tt.name == "BadStatusFilter" {
				as = f.admin
			}
			rec := f.do(t, tt.method, tt.path, as, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decode[errorBody](t, rec).Code)
		})
	}
}

func TestBookingRateLimit(t *testing.T) {
	f := newAPIFixture(t, config.BookingConfig{RateLimit: 1, RateWindow: 60}, repository.NewMemoryPresenceRepository())

	rec := f.do(t, http.MethodPost, "/api/inspections/book", f.customer, f.bookBody("09:00"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/inspections/book", f.customer, f.bookBody("09:30"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, codeRateLimited, decode[errorBody](t, rec).Code)

	rec = f.do(t, http.MethodPost, "/api/inspections/book", f.other, f.bookBody("09:30"))
	assert.Equal(t, http.StatusCreated, rec.Code, "limit is per user")
}

func TestHTTPRateLimit(t *testing.T) {
	logger := zerolog.New(io.Discard)
	srv := NewHTTPServer(config.APIConfig{Auth: testAuth, RateLimit: config.APIRateLimitConfig{RPS: 0.001, Burst: 2}},
		config.BookingConfig{}, Dependencies{Logger: &logger})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestExport(t *testing.T) {
	f := newAPIFixture(t, config.BookingConfig{}, nil)
	for _, start := range []string{"09:00", "09:30", "10:00"} {
		rec := f.do(t, http.MethodPost, "/api/inspections/book", f.customer, f.bookBody(start))
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	rec := f.do(t, http.MethodGet, fmt.Sprintf("/api/inspections/admin/export?startDate=%s&endDate=%s", f.day, f.day), f.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), ".xlsx")

	book, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer book.Close()

	rows, err := book.GetRows(exportSheet)
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, "Reference", rows[1][0])
	for _, row := range rows[2:] {
		assert.Contains(t, row[0], "INS-")
		assert.Equal(t, f.day, row[1])
		assert.Equal(t, "pending", row[5])
	}

	rec = f.do(t, http.MethodGet, "/api/inspections/admin/export", f.customer, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestEventsWithoutHub(t *testing.T) {
	f := newAPIFixture(t, config.BookingConfig{}, nil)
	rec := f.do(t, http.MethodGet, "/api/inspections/events", f.customer, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{domain.ErrSlotUnavailable, http.StatusConflict, codeSlotUnavailable},
		{fmt.Errorf("wrapped: %w", domain.ErrPastDate), http.StatusBadRequest, codePastDate},
		{domain.ErrForbidden, http.StatusForbidden, codeForbidden},
		{domain.ErrNotFound, http.StatusNotFound, codeNotFound},
		{domain.ErrCarNotFound, http.StatusNotFound, codeCarNotFound},
		{domain.ErrAlreadyCompleted, http.StatusBadRequest, codeAlreadyCompleted},
		{domain.ErrRateLimited, http.StatusTooManyRequests, codeRateLimited},
		{domain.InvalidPeriod("evening"), http.StatusBadRequest, codeValidation},
		{errors.New("disk full"), http.StatusInternalServerError, codeInternal},
	}
	for _, tt := range tests {
		status, code := classify(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.Equal(t, tt.code, code, tt.err.Error())
	}
}

func TestInternalErrorHidesDetails(t *testing.T) {
	logger := zerolog.New(io.Discard)
	rec := httptest.NewRecorder()
	writeServiceError(rec, &logger, errors.New("pq: password authentication failed"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal server error", decode[errorBody](t, rec).Error)
}
