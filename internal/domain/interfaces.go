package domain

import (
	"context"
	"time"

	"carinspect/internal/models"
)

// CalendarStore persists calendar days and performs the atomic slot transitions.
type CalendarStore interface {
	FindCalendarDay(ctx context.Context, date time.Time, period models.Period) (*models.CalendarDay, error)
	FindCalendarDaysForDate(ctx context.Context, date time.Time) ([]*models.CalendarDay, error)
	EnsureCalendarDay(ctx context.Context, date time.Time, period models.Period) (*models.CalendarDay, error)
	EnsureCalendarDate(ctx context.Context, date time.Time) ([]*models.CalendarDay, error)
	ReserveSlot(ctx context.Context, calendarDayID int64, startTime, inspectionID string) (bool, error)
	ReleaseSlot(ctx context.Context, date time.Time, period models.Period, startTime string) error
	SlotHolder(ctx context.Context, calendarDayID int64, startTime string) (string, error)
}

type InspectionRepository interface {
	CreateInspection(ctx context.Context, inspection *models.Inspection) error
	GetInspection(ctx context.Context, id string) (*models.Inspection, error)
	UpdateInspection(ctx context.Context, inspection *models.Inspection) error
	ListInspections(ctx context.Context, filter models.InspectionFilter) ([]*models.Inspection, int, error)
}

type CarRepository interface {
	GetCar(ctx context.Context, id int64) (*models.Car, error)
}

type UserRepository interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
	ListAdmins(ctx context.Context) ([]*models.User, error)
}

// Repository groups the non-calendar stores used by the inspection service.
type Repository interface {
	InspectionRepository
	CarRepository
	UserRepository
}

type NotificationQueue interface {
	CreateNotificationTask(ctx context.Context, task *models.NotificationTask) error
	GetPendingNotificationTasks(ctx context.Context, limit int) ([]models.NotificationTask, error)
	ClaimNotificationTask(ctx context.Context, id int64, lease time.Duration) (bool, error)
	UpdateNotificationTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error
}

// PresenceRepository tracks which users have live push connections.
type PresenceRepository interface {
	AddConnection(ctx context.Context, userID int64, connID string) error
	RemoveConnection(ctx context.Context, userID int64, connID string) error
	IsOnline(ctx context.Context, userID int64) (bool, error)
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// EmailMessage is one rendered outgoing email.
type EmailMessage struct {
	ToName    string `json:"to_name"`
	ToAddress string `json:"to_address"`
	Subject   string `json:"subject"`
	PlainText string `json:"plain_text"`
	HTML      string `json:"html"`
}

type Mailer interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// NotificationEnqueuer accepts emails for asynchronous delivery.
type NotificationEnqueuer interface {
	EnqueueEmail(ctx context.Context, taskType, inspectionID string, msg EmailMessage) error
}

type InspectionService interface {
	BookInspection(ctx context.Context, req BookRequest) (*models.Inspection, error)
	GetAvailableSlots(ctx context.Context, date time.Time) ([]models.PeriodAvailability, error)
	RescheduleInspection(ctx context.Context, req RescheduleRequest) (*models.Inspection, error)
	ConfirmInspection(ctx context.Context, id string, actor Actor, inspectorID *int64) (*models.Inspection, error)
	StartInspection(ctx context.Context, id string) (*models.Inspection, error)
	CompleteInspection(ctx context.Context, id string, actor Actor, report *models.InspectionReport, notes string) (*models.Inspection, error)
	CancelInspection(ctx context.Context, id string, actor Actor, reason string) (*models.Inspection, error)
	GetInspection(ctx context.Context, id string, actor Actor) (*models.Inspection, error)
	ListMyInspections(ctx context.Context, customerID int64, status string, page, limit int) (*models.InspectionPage, error)
	ListInspections(ctx context.Context, filter models.InspectionFilter) (*models.InspectionPage, error)
}

// Actor is the authenticated caller of a lifecycle operation.
type Actor struct {
	UserID int64
	Role   models.Role
}

func (a Actor) IsAdmin() bool { return a.Role == models.RoleAdmin }

// CanAccess reports whether the actor may read or modify the inspection.
func (a Actor) CanAccess(i *models.Inspection) bool {
	return a.IsAdmin() || i.IsOwnedBy(a.UserID)
}

type BookRequest struct {
	CustomerID int64
	CarID      int64
	Date       time.Time
	Period     models.Period
	StartTime  string
	EndTime    string
	Notes      string
}

type RescheduleRequest struct {
	InspectionID string
	Actor        Actor
	NewDate      time.Time
	NewPeriod    models.Period
	NewStartTime string
	NewEndTime   string
	Reason       string
}
