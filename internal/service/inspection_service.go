package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"carinspect/internal/domain"
	"carinspect/internal/events"
	"carinspect/internal/metrics"
	"carinspect/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// reverifyTimeout bounds the read that settles an unknown reservation outcome.
const reverifyTimeout = 5 * time.Second

// InspectionService is the booking engine and the inspection lifecycle.
// Slot exclusivity is delegated to the calendar store's conditional update;
// the service holds no locks of its own.
type InspectionService struct {
	calendar       domain.CalendarStore
	repo           domain.Repository
	eventBus       domain.EventPublisher
	maxBookingDays int
	loc            *time.Location
	now            func() time.Time
	logger         *zerolog.Logger
}

func NewInspectionService(
	calendar domain.CalendarStore,
	repo domain.Repository,
	eventBus domain.EventPublisher,
	maxBookingDays int,
	loc *time.Location,
	logger *zerolog.Logger,
) *InspectionService {
	if maxBookingDays <= 0 {
		maxBookingDays = models.DefaultMaxBookingDays
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &InspectionService{
		calendar:       calendar,
		repo:           repo,
		eventBus:       eventBus,
		maxBookingDays: maxBookingDays,
		loc:            loc,
		now:            time.Now,
		logger:         logger,
	}
}

// Today returns the current calendar date in the service timezone.
func (s *InspectionService) Today() time.Time {
	return models.DateOf(s.now().In(s.loc))
}

func (s *InspectionService) validateDate(date time.Time) error {
	if date.IsZero() {
		return domain.InvalidDate("date", "")
	}
	day := models.DateOf(date)
	today := s.Today()
	if day.Before(today) {
		return domain.ErrPastDate
	}
	if day.After(today.AddDate(0, 0, s.maxBookingDays)) {
		return domain.NewValidationError("date", "must be within %d days from today", s.maxBookingDays)
	}
	return nil
}

func parsePeriod(p models.Period) (models.Period, error) {
	period, ok := models.ParsePeriod(string(p))
	if !ok {
		return "", domain.InvalidPeriod(string(p))
	}
	return period, nil
}

func checkLength(field, value string, limit int) error {
	if utf8.RuneCountInString(value) > limit {
		return domain.NewValidationError(field, "must be at most %d characters", limit)
	}
	return nil
}

// BookInspection reserves the requested slot and creates a pending inspection holding it.
func (s *InspectionService) BookInspection(ctx context.Context, req domain.BookRequest) (*models.Inspection, error) {
	if req.CustomerID == 0 {
		return nil, domain.NewValidationError("customerId", "is required")
	}
	if req.CarID == 0 {
		return nil, domain.NewValidationError("carId", "is required")
	}
	startTime := strings.TrimSpace(req.StartTime)
	if startTime == "" {
		return nil, domain.NewValidationError("startTime", "is required")
	}
	if err := checkLength("notes", req.Notes, models.MaxCustomerNotesLength); err != nil {
		return nil, err
	}
	period, err := parsePeriod(req.Period)
	if err != nil {
		return nil, err
	}
	if err := s.validateDate(req.Date); err != nil {
		return nil, err
	}
	date := models.DateOf(req.Date)

	car, err := s.repo.GetCar(ctx, req.CarID)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && !car.IsBookable()) {
		return nil, domain.ErrCarNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load car: %w", err)
	}

	inspection := &models.Inspection{
		ID:             uuid.NewString(),
		CustomerID:     req.CustomerID,
		CarID:          car.ID,
		InspectionDate: date,
		Status:         models.StatusPending,
		CustomerNotes:  strings.TrimSpace(req.Notes),
	}

	slot, err := s.acquire(ctx, date, period, startTime, req.EndTime, inspection.ID)
	if err != nil {
		if errors.Is(err, domain.ErrSlotUnavailable) {
			metrics.IncBooking("conflict")
		} else {
			metrics.IncBooking("rejected")
		}
		return nil, err
	}
	inspection.TimeSlot = slot

	if err := s.repo.CreateInspection(ctx, inspection); err != nil {
		s.releaseHold(ctx, date, period, startTime, inspection.ID)
		metrics.IncBooking("error")
		return nil, fmt.Errorf("create inspection: %w", err)
	}

	metrics.IncBooking("success")
	metrics.IncTransition(string(models.StatusPending))
	s.logger.Info().
		Str("inspection_id", inspection.ID).
		Int64("customer_id", inspection.CustomerID).
		Str("date", date.Format(models.DateLayout)).
		Str("period", string(period)).
		Str("start_time", startTime).
		Msg("inspection booked")

	s.publishEvent(events.EventInspectionBooked, inspection, req.CustomerID, "")
	return inspection, nil
}

// acquire ensures the calendar day, locates the slot and reserves it for inspectionID.
func (s *InspectionService) acquire(ctx context.Context, date time.Time, period models.Period, startTime, endTime, inspectionID string) (models.TimeSlot, error) {
	day, err := s.calendar.EnsureCalendarDay(ctx, date, period)
	if err != nil {
		return models.TimeSlot{}, fmt.Errorf("ensure calendar day: %w", err)
	}

	slot, ok := day.FindSlot(startTime)
	if !ok {
		return models.TimeSlot{}, domain.ErrSlotNotFound
	}
	if endTime = strings.TrimSpace(endTime); endTime != "" && endTime != slot.EndTime {
		return models.TimeSlot{}, domain.NewValidationError("endTime", "slot %s ends at %s", slot.StartTime, slot.EndTime)
	}

	reserved, err := s.calendar.ReserveSlot(ctx, day.ID, startTime, inspectionID)
	if err != nil {
		reserved, err = s.reverify(ctx, day.ID, startTime, inspectionID, err)
		if err != nil {
			return models.TimeSlot{}, err
		}
	}
	if !reserved {
		metrics.IncSlotConflict()
		s.logger.Debug().
			Str("date", date.Format(models.DateLayout)).
			Str("period", string(period)).
			Str("start_time", startTime).
			Msg("slot already taken")
		return models.TimeSlot{}, domain.ErrSlotUnavailable
	}

	return models.TimeSlot{StartTime: slot.StartTime, EndTime: slot.EndTime, Period: period}, nil
}

// reverify settles a reservation whose outcome is unknown by reading the slot holder.
func (s *InspectionService) reverify(ctx context.Context, dayID int64, startTime, inspectionID string, cause error) (bool, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reverifyTimeout)
	defer cancel()

	holder, err := s.calendar.SlotHolder(ctx, dayID, startTime)
	if err != nil {
		s.logger.Error().Err(err).Str("inspection_id", inspectionID).Msg("reservation outcome unknown")
		return false, fmt.Errorf("reserve slot: %w", cause)
	}
	if holder == inspectionID {
		s.logger.Warn().Err(cause).Str("inspection_id", inspectionID).Msg("reservation succeeded despite error")
		return true, nil
	}
	if holder == "" {
		return false, fmt.Errorf("reserve slot: %w", cause)
	}
	return false, nil
}

// releaseHold frees a slot on a path where the caller's context may already be done.
func (s *InspectionService) releaseHold(ctx context.Context, date time.Time, period models.Period, startTime, inspectionID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reverifyTimeout)
	defer cancel()

	if err := s.calendar.ReleaseSlot(ctx, date, period, startTime); err != nil {
		s.logger.Error().Err(err).
			Str("inspection_id", inspectionID).
			Str("date", date.Format(models.DateLayout)).
			Str("period", string(period)).
			Str("start_time", startTime).
			Msg("failed to release slot")
	}
}

// release frees the slot currently held by the inspection.
func (s *InspectionService) release(ctx context.Context, inspection *models.Inspection) {
	s.releaseHold(ctx, inspection.InspectionDate, inspection.TimeSlot.Period, inspection.TimeSlot.StartTime, inspection.ID)
}

// RescheduleInspection moves the inspection to a new slot. The new slot is
// reserved before the old one is released, so a failed attempt keeps the
// original hold.
func (s *InspectionService) RescheduleInspection(ctx context.Context, req domain.RescheduleRequest) (*models.Inspection, error) {
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, domain.NewValidationError("reason", "is required")
	}
	if err := checkLength("reason", reason, models.MaxRescheduleReasonLength); err != nil {
		return nil, err
	}
	startTime := strings.TrimSpace(req.NewStartTime)
	if startTime == "" {
		return nil, domain.NewValidationError("newStartTime", "is required")
	}
	period, err := parsePeriod(req.NewPeriod)
	if err != nil {
		return nil, err
	}

	inspection, err := s.repo.GetInspection(ctx, req.InspectionID)
	if err != nil {
		return nil, err
	}
	if !req.Actor.CanAccess(inspection) {
		return nil, domain.ErrForbidden
	}
	switch inspection.Status {
	case models.StatusCompleted:
		return nil, domain.ErrAlreadyCompleted
	case models.StatusPending, models.StatusConfirmed, models.StatusRescheduled:
	default:
		return nil, domain.ErrInvalidState
	}
	if err := s.validateDate(req.NewDate); err != nil {
		return nil, err
	}
	date := models.DateOf(req.NewDate)

	if date.Equal(inspection.InspectionDate) && period == inspection.TimeSlot.Period && startTime == inspection.TimeSlot.StartTime {
		return nil, domain.ErrSlotUnavailable
	}

	slot, err := s.acquire(ctx, date, period, startTime, req.NewEndTime, inspection.ID)
	if err != nil {
		return nil, err
	}

	previous := &models.RescheduleRecord{
		Date:     inspection.InspectionDate,
		TimeSlot: inspection.TimeSlot,
		Reason:   reason,
	}
	inspection.RescheduledFrom = previous
	inspection.InspectionDate = date
	inspection.TimeSlot = slot
	inspection.Status = models.StatusRescheduled

	if err := s.repo.UpdateInspection(ctx, inspection); err != nil {
		s.releaseHold(ctx, date, period, startTime, inspection.ID)
		return nil, fmt.Errorf("update inspection: %w", err)
	}
	s.releaseHold(ctx, previous.Date, previous.TimeSlot.Period, previous.TimeSlot.StartTime, inspection.ID)

	metrics.IncTransition(string(models.StatusRescheduled))
	s.logger.Info().
		Str("inspection_id", inspection.ID).
		Str("date", date.Format(models.DateLayout)).
		Str("period", string(period)).
		Str("start_time", startTime).
		Str("previous_date", previous.Date.Format(models.DateLayout)).
		Str("previous_start_time", previous.TimeSlot.StartTime).
		Msg("inspection rescheduled")

	s.publishEvent(events.EventInspectionRescheduled, inspection, req.Actor.UserID, reason)
	return inspection, nil
}

// ConfirmInspection accepts a pending or rescheduled inspection, optionally assigning an inspector.
func (s *InspectionService) ConfirmInspection(ctx context.Context, id string, actor domain.Actor, inspectorID *int64) (*models.Inspection, error) {
	inspection, err := s.repo.GetInspection(ctx, id)
	if err != nil {
		return nil, err
	}
	if inspection.Status != models.StatusPending && inspection.Status != models.StatusRescheduled {
		return nil, domain.ErrInvalidState
	}

	if inspectorID != nil {
		inspector, err := s.repo.GetUser(ctx, *inspectorID)
		if errors.Is(err, domain.ErrNotFound) || (err == nil && !inspector.IsAdmin()) {
			return nil, domain.ErrInvalidInspector
		}
		if err != nil {
			return nil, fmt.Errorf("load inspector: %w", err)
		}
		assigned := inspector.ID
		inspection.InspectorID = &assigned
	}

	confirmedAt := s.now().UTC()
	inspection.Status = models.StatusConfirmed
	inspection.ConfirmedAt = &confirmedAt

	if err := s.repo.UpdateInspection(ctx, inspection); err != nil {
		return nil, fmt.Errorf("update inspection: %w", err)
	}

	metrics.IncTransition(string(models.StatusConfirmed))
	s.logger.Info().
		Str("inspection_id", inspection.ID).
		Int64("actor_id", actor.UserID).
		Msg("inspection confirmed")

	s.publishEvent(events.EventInspectionConfirmed, inspection, actor.UserID, "")
	return inspection, nil
}

// StartInspection marks a confirmed inspection as in progress. The slot stays held.
func (s *InspectionService) StartInspection(ctx context.Context, id string) (*models.Inspection, error) {
	inspection, err := s.repo.GetInspection(ctx, id)
	if err != nil {
		return nil, err
	}
	if inspection.Status != models.StatusConfirmed {
		return nil, domain.ErrInvalidState
	}

	inspection.Status = models.StatusInProgress
	if err := s.repo.UpdateInspection(ctx, inspection); err != nil {
		return nil, fmt.Errorf("update inspection: %w", err)
	}

	metrics.IncTransition(string(models.StatusInProgress))
	s.logger.Info().Str("inspection_id", inspection.ID).Msg("inspection started")
	return inspection, nil
}

// CompleteInspection attaches the report and frees the slot.
func (s *InspectionService) CompleteInspection(ctx context.Context, id string, actor domain.Actor, report *models.InspectionReport, notes string) (*models.Inspection, error) {
	notes = strings.TrimSpace(notes)
	if err := checkLength("inspectorNotes", notes, models.MaxInspectorNotesLength); err != nil {
		return nil, err
	}
	if err := report.Validate(); err != nil {
		return nil, domain.NewValidationError("inspectionReport", "%v", err)
	}

	inspection, err := s.repo.GetInspection(ctx, id)
	if err != nil {
		return nil, err
	}
	if inspection.Status != models.StatusConfirmed && inspection.Status != models.StatusInProgress {
		return nil, domain.ErrInvalidState
	}

	completedAt := s.now().UTC()
	inspection.Status = models.StatusCompleted
	inspection.CompletedAt = &completedAt
	inspection.Report = report
	if notes != "" {
		inspection.InspectorNotes = notes
	}

	if err := s.repo.UpdateInspection(ctx, inspection); err != nil {
		return nil, fmt.Errorf("update inspection: %w", err)
	}
	s.release(ctx, inspection)

	metrics.IncTransition(string(models.StatusCompleted))
	s.logger.Info().Str("inspection_id", inspection.ID).Msg("inspection completed")

	s.publishEvent(events.EventInspectionCompleted, inspection, actor.UserID, "")
	return inspection, nil
}

// CancelInspection ends a non-terminal inspection and frees its slot.
func (s *InspectionService) CancelInspection(ctx context.Context, id string, actor domain.Actor, reason string) (*models.Inspection, error) {
	reason = strings.TrimSpace(reason)
	if err := checkLength("reason", reason, models.MaxRescheduleReasonLength); err != nil {
		return nil, err
	}

	inspection, err := s.repo.GetInspection(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.CanAccess(inspection) {
		return nil, domain.ErrForbidden
	}
	switch inspection.Status {
	case models.StatusCompleted:
		return nil, domain.ErrAlreadyCompleted
	case models.StatusCancelled:
		return nil, domain.ErrInvalidState
	}

	inspection.Status = models.StatusCancelled
	if reason != "" {
		inspection.InspectorNotes = reason
	}

	if err := s.repo.UpdateInspection(ctx, inspection); err != nil {
		return nil, fmt.Errorf("update inspection: %w", err)
	}
	s.release(ctx, inspection)

	metrics.IncTransition(string(models.StatusCancelled))
	s.logger.Info().
		Str("inspection_id", inspection.ID).
		Int64("actor_id", actor.UserID).
		Msg("inspection cancelled")

	s.publishEvent(events.EventInspectionCancelled, inspection, actor.UserID, reason)
	return inspection, nil
}

// GetAvailableSlots returns the free slots of every period of date, generating the day if needed.
// Dates beyond the booking horizon are rejected like bookings are.
func (s *InspectionService) GetAvailableSlots(ctx context.Context, date time.Time) ([]models.PeriodAvailability, error) {
	if err := s.validateDate(date); err != nil {
		return nil, err
	}

	days, err := s.calendar.EnsureCalendarDate(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("ensure calendar date: %w", err)
	}

	out := make([]models.PeriodAvailability, 0, len(days))
	for _, day := range days {
		out = append(out, day.Availability())
	}
	return out, nil
}

// WarmUpCalendar ensures calendar days from today for the given number of days.
func (s *InspectionService) WarmUpCalendar(ctx context.Context, days int) (int, error) {
	today := s.Today()
	for i := 0; i < days; i++ {
		if _, err := s.calendar.EnsureCalendarDate(ctx, today.AddDate(0, 0, i)); err != nil {
			return i, fmt.Errorf("warm up %s: %w", today.AddDate(0, 0, i).Format(models.DateLayout), err)
		}
	}
	return days, nil
}

func (s *InspectionService) GetInspection(ctx context.Context, id string, actor domain.Actor) (*models.Inspection, error) {
	inspection, err := s.repo.GetInspection(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.CanAccess(inspection) {
		return nil, domain.ErrForbidden
	}
	return inspection, nil
}

func (s *InspectionService) ListMyInspections(ctx context.Context, customerID int64, status string, page, limit int) (*models.InspectionPage, error) {
	filter := models.InspectionFilter{CustomerID: customerID, Page: page, Limit: limit}
	if status != "" {
		st, ok := models.ParseInspectionStatus(status)
		if !ok {
			return nil, domain.NewValidationError("status", "unknown status %q", status)
		}
		filter.Statuses = []models.InspectionStatus{st}
	}
	return s.ListInspections(ctx, filter)
}

func (s *InspectionService) ListInspections(ctx context.Context, filter models.InspectionFilter) (*models.InspectionPage, error) {
	filter.Normalize()
	if filter.StartDate != nil && filter.EndDate != nil && filter.EndDate.Before(*filter.StartDate) {
		return nil, domain.NewValidationError("endDate", "must not be before startDate")
	}

	items, total, err := s.repo.ListInspections(ctx, filter)
	if err != nil {
		return nil, err
	}
	return models.NewInspectionPage(items, total, filter.Page, filter.Limit), nil
}

func (s *InspectionService) publishEvent(eventType string, inspection *models.Inspection, changedByID int64, reason string) {
	if s.eventBus == nil {
		return
	}

	snapshot := *inspection
	payload := events.InspectionEventPayload{
		Inspection:  &snapshot,
		ChangedByID: changedByID,
		Reason:      reason,
	}

	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Str("inspection_id", inspection.ID).Msg("publish event error")
	}
}
