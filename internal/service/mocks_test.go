package service

import (
	"context"
	"time"

	"carinspect/internal/models"

	"github.com/stretchr/testify/mock"
)

type mockCalendar struct {
	mock.Mock
}

func (m *mockCalendar) FindCalendarDay(ctx context.Context, date time.Time, period models.Period) (*models.CalendarDay, error) {
	args := m.Called(ctx, date, period)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CalendarDay), args.Error(1)
}

func (m *mockCalendar) FindCalendarDaysForDate(ctx context.Context, date time.Time) ([]*models.CalendarDay, error) {
	args := m.Called(ctx, date)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.CalendarDay), args.Error(1)
}

func (m *mockCalendar) EnsureCalendarDay(ctx context.Context, date time.Time, period models.Period) (*models.CalendarDay, error) {
	args := m.Called(ctx, date, period)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CalendarDay), args.Error(1)
}

func (m *mockCalendar) EnsureCalendarDate(ctx context.Context, date time.Time) ([]*models.CalendarDay, error) {
	args := m.Called(ctx, date)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.CalendarDay), args.Error(1)
}

func (m *mockCalendar) ReserveSlot(ctx context.Context, dayID int64, startTime, inspectionID string) (bool, error) {
	args := m.Called(ctx, dayID, startTime, inspectionID)
	return args.Bool(0), args.Error(1)
}

func (m *mockCalendar) ReleaseSlot(ctx context.Context, date time.Time, period models.Period, startTime string) error {
	return m.Called(ctx, date, period, startTime).Error(0)
}

func (m *mockCalendar) SlotHolder(ctx context.Context, dayID int64, startTime string) (string, error) {
	args := m.Called(ctx, dayID, startTime)
	if fn, ok := args.Get(0).(func() string); ok {
		return fn(), args.Error(1)
	}
	return args.String(0), args.Error(1)
}

type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) CreateInspection(ctx context.Context, inspection *models.Inspection) error {
	return m.Called(ctx, inspection).Error(0)
}

func (m *mockRepo) GetInspection(ctx context.Context, id string) (*models.Inspection, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Inspection), args.Error(1)
}

func (m *mockRepo) UpdateInspection(ctx context.Context, inspection *models.Inspection) error {
	return m.Called(ctx, inspection).Error(0)
}

func (m *mockRepo) ListInspections(ctx context.Context, filter models.InspectionFilter) ([]*models.Inspection, int, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]*models.Inspection), args.Int(1), args.Error(2)
}

func (m *mockRepo) GetCar(ctx context.Context, id int64) (*models.Car, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Car), args.Error(1)
}

func (m *mockRepo) GetUser(ctx context.Context, id int64) (*models.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *mockRepo) ListAdmins(ctx context.Context) ([]*models.User, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.User), args.Error(1)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishJSON(eventType string, payload interface{}) error {
	return m.Called(eventType, payload).Error(0)
}
