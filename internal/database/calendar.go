package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"carinspect/internal/domain"
	"carinspect/internal/models"
	"carinspect/internal/slots"
)

const calendarDaySelect = `SELECT d.id, d.date, d.period, d.max_slots, d.is_active, d.created_at, d.updated_at,
		s.start_time, s.end_time, s.is_booked, s.booked_by
	FROM calendar_days d
	JOIN calendar_slots s ON s.calendar_day_id = d.id`

const periodOrder = `CASE d.period WHEN 'morning' THEN 0 WHEN 'afternoon' THEN 1 ELSE 2 END`

// FindCalendarDay returns the active calendar day for (date, period) or domain.ErrNotFound.
func (db *DB) FindCalendarDay(ctx context.Context, date time.Time, period models.Period) (*models.CalendarDay, error) {
	query := calendarDaySelect + `
	WHERE d.date = ? AND d.period = ? AND d.is_active = ?
	ORDER BY s.position`
	days, err := db.queryCalendarDays(ctx, query, formatDate(date), string(period), true)
	if err != nil {
		return nil, err
	}
	if len(days) == 0 {
		return nil, domain.ErrNotFound
	}
	return days[0], nil
}

// FindCalendarDaysForDate returns all active periods of a date, morning first.
func (db *DB) FindCalendarDaysForDate(ctx context.Context, date time.Time) ([]*models.CalendarDay, error) {
	query := calendarDaySelect + `
	WHERE d.date = ? AND d.is_active = ?
	ORDER BY ` + periodOrder + `, s.position`
	return db.queryCalendarDays(ctx, query, formatDate(date), true)
}

func (db *DB) queryCalendarDays(ctx context.Context, query string, args ...any) ([]*models.CalendarDay, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query calendar days: %w", err)
	}
	defer rows.Close()

	var days []*models.CalendarDay
	var current *models.CalendarDay
	for rows.Next() {
		var (
			day      models.CalendarDay
			dateStr  string
			period   string
			slot     models.Slot
			bookedBy sql.NullString
		)
		if err := rows.Scan(
			&day.ID, &dateStr, &period, &day.MaxSlots, &day.IsActive, &day.CreatedAt, &day.UpdatedAt,
			&slot.StartTime, &slot.EndTime, &slot.IsBooked, &bookedBy,
		); err != nil {
			return nil, fmt.Errorf("failed to scan calendar day: %w", err)
		}
		slot.BookedBy = bookedBy.String

		if current == nil || current.ID != day.ID {
			if day.Date, err = parseDate(dateStr); err != nil {
				return nil, err
			}
			day.Period = models.Period(period)
			current = &day
			days = append(days, current)
		}
		current.Slots = append(current.Slots, slot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate calendar days: %w", err)
	}
	return days, nil
}

// EnsureCalendarDay returns the active calendar day for (date, period), generating
// all three periods of the date when none exist yet. Concurrent callers converge on
// a single record per key through the unique index on (date, period).
func (db *DB) EnsureCalendarDay(ctx context.Context, date time.Time, period models.Period) (*models.CalendarDay, error) {
	if _, ok := models.ParsePeriod(string(period)); !ok {
		return nil, domain.InvalidPeriod(string(period))
	}

	day, err := db.FindCalendarDay(ctx, date, period)
	if err == nil {
		return day, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	if err := db.createCalendarDays(ctx, date); err != nil {
		return nil, err
	}
	return db.FindCalendarDay(ctx, date, period)
}

// EnsureCalendarDate makes sure every period of date exists and returns them in order.
func (db *DB) EnsureCalendarDate(ctx context.Context, date time.Time) ([]*models.CalendarDay, error) {
	days, err := db.FindCalendarDaysForDate(ctx, date)
	if err != nil {
		return nil, err
	}
	if len(days) == len(models.Periods) {
		return days, nil
	}

	if err := db.createCalendarDays(ctx, date); err != nil {
		return nil, err
	}
	return db.FindCalendarDaysForDate(ctx, date)
}

// createCalendarDays inserts the generated periods of date that do not exist yet.
// A period created concurrently by another caller is skipped, not reported.
func (db *DB) createCalendarDays(ctx context.Context, date time.Time) error {
	tx, err := db.beginTx(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC()
	for _, draft := range slots.Generate(date) {
		var dayID int64
		err := tx.QueryRowContext(ctx, `INSERT INTO calendar_days (date, period, max_slots, is_active, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT DO NOTHING
			RETURNING id`,
			formatDate(draft.Date), string(draft.Period), draft.MaxSlots, true, now, now,
		).Scan(&dayID)
		if errors.Is(err, sql.ErrNoRows) || isUniqueViolation(err) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to create calendar day: %w", err)
		}

		for pos, slot := range draft.Slots {
			_, err := tx.ExecContext(ctx, `INSERT INTO calendar_slots (calendar_day_id, position, start_time, end_time, is_booked, booked_by, updated_at)
				VALUES (?, ?, ?, ?, ?, NULL, ?)`,
				dayID, pos, slot.StartTime, slot.EndTime, false, now,
			)
			if err != nil {
				return fmt.Errorf("failed to create calendar slot: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return nil
		}
		return fmt.Errorf("failed to commit calendar days: %w", err)
	}

	if db.logger != nil {
		db.logger.Debug().Str("date", formatDate(date)).Msg("calendar days generated")
	}
	return nil
}

// ReserveSlot books the slot for inspectionID only if it is currently free.
// It is a single conditional update; false means the slot was taken or missing.
func (db *DB) ReserveSlot(ctx context.Context, calendarDayID int64, startTime, inspectionID string) (bool, error) {
	res, err := db.ExecContext(ctx, `UPDATE calendar_slots
		SET is_booked = ?, booked_by = ?, updated_at = ?
		WHERE calendar_day_id = ? AND start_time = ? AND is_booked = ?`,
		true, inspectionID, time.Now().UTC(), calendarDayID, startTime, false,
	)
	if err != nil {
		return false, fmt.Errorf("failed to reserve slot: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

// ReleaseSlot frees the slot. Releasing a free or unknown slot is a no-op.
func (db *DB) ReleaseSlot(ctx context.Context, date time.Time, period models.Period, startTime string) error {
	_, err := db.ExecContext(ctx, `UPDATE calendar_slots
		SET is_booked = ?, booked_by = NULL, updated_at = ?
		WHERE start_time = ? AND calendar_day_id IN (
			SELECT id FROM calendar_days WHERE date = ? AND period = ? AND is_active = ?
		)`,
		false, time.Now().UTC(), startTime, formatDate(date), string(period), true,
	)
	if err != nil {
		return fmt.Errorf("failed to release slot: %w", err)
	}
	return nil
}

// SlotHolder returns the inspection id holding the slot, or "" when it is free.
func (db *DB) SlotHolder(ctx context.Context, calendarDayID int64, startTime string) (string, error) {
	var bookedBy sql.NullString
	err := db.QueryRowContext(ctx,
		`SELECT booked_by FROM calendar_slots WHERE calendar_day_id = ? AND start_time = ?`,
		calendarDayID, startTime,
	).Scan(&bookedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read slot holder: %w", err)
	}
	return bookedBy.String, nil
}
