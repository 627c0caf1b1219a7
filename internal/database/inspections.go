package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"carinspect/internal/domain"
	"carinspect/internal/models"
)

const inspectionColumns = `id, customer_id, car_id, inspection_date, period, start_time, end_time, status,
	inspector_id, customer_notes, inspector_notes, report, rescheduled_from,
	confirmed_at, completed_at, is_active, created_at, updated_at`

func (db *DB) CreateInspection(ctx context.Context, inspection *models.Inspection) error {
	report, rescheduled, err := encodeInspectionJSON(inspection)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	_, err = db.ExecContext(ctx, `INSERT INTO inspections (`+inspectionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inspection.ID,
		inspection.CustomerID,
		inspection.CarID,
		formatDate(inspection.InspectionDate),
		string(inspection.TimeSlot.Period),
		inspection.TimeSlot.StartTime,
		inspection.TimeSlot.EndTime,
		string(inspection.Status),
		nullableInt64(inspection.InspectorID),
		inspection.CustomerNotes,
		inspection.InspectorNotes,
		report,
		rescheduled,
		inspection.ConfirmedAt,
		inspection.CompletedAt,
		true,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create inspection: %w", err)
	}

	inspection.IsActive = true
	inspection.CreatedAt = now
	inspection.UpdatedAt = now
	return nil
}

func (db *DB) GetInspection(ctx context.Context, id string) (*models.Inspection, error) {
	row := db.QueryRowContext(ctx, `SELECT `+inspectionColumns+` FROM inspections WHERE id = ? AND is_active = ?`, id, true)
	inspection, err := scanInspection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get inspection: %w", err)
	}
	return inspection, nil
}

// UpdateInspection overwrites every mutable field of the inspection.
func (db *DB) UpdateInspection(ctx context.Context, inspection *models.Inspection) error {
	report, rescheduled, err := encodeInspectionJSON(inspection)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	res, err := db.ExecContext(ctx, `UPDATE inspections SET
			inspection_date = ?, period = ?, start_time = ?, end_time = ?, status = ?,
			inspector_id = ?, customer_notes = ?, inspector_notes = ?, report = ?, rescheduled_from = ?,
			confirmed_at = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND is_active = ?`,
		formatDate(inspection.InspectionDate),
		string(inspection.TimeSlot.Period),
		inspection.TimeSlot.StartTime,
		inspection.TimeSlot.EndTime,
		string(inspection.Status),
		nullableInt64(inspection.InspectorID),
		inspection.CustomerNotes,
		inspection.InspectorNotes,
		report,
		rescheduled,
		inspection.ConfirmedAt,
		inspection.CompletedAt,
		now,
		inspection.ID,
		true,
	)
	if err != nil {
		return fmt.Errorf("failed to update inspection: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	inspection.UpdatedAt = now
	return nil
}

// ListInspections returns one page of matching inspections, newest first, and the total match count.
func (db *DB) ListInspections(ctx context.Context, filter models.InspectionFilter) ([]*models.Inspection, int, error) {
	filter.Normalize()

	where := []string{"is_active = ?"}
	args := []any{true}
	if len(filter.Statuses) > 0 {
		marks := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "status IN ("+strings.Join(marks, ", ")+")")
	}
	if filter.CustomerID != 0 {
		where = append(where, "customer_id = ?")
		args = append(args, filter.CustomerID)
	}
	if filter.InspectorID != 0 {
		where = append(where, "inspector_id = ?")
		args = append(args, filter.InspectorID)
	}
	if filter.StartDate != nil {
		where = append(where, "inspection_date >= ?")
		args = append(args, formatDate(*filter.StartDate))
	}
	if filter.EndDate != nil {
		where = append(where, "inspection_date <= ?")
		args = append(args, formatDate(*filter.EndDate))
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM inspections WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count inspections: %w", err)
	}

	pageArgs := append(append([]any{}, args...), filter.Limit, filter.Offset())
	rows, err := db.QueryContext(ctx, `SELECT `+inspectionColumns+` FROM inspections WHERE `+clause+`
		ORDER BY created_at DESC, id ASC LIMIT ? OFFSET ?`, pageArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list inspections: %w", err)
	}
	defer rows.Close()

	var out []*models.Inspection
	for rows.Next() {
		inspection, err := scanInspection(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan inspection: %w", err)
		}
		out = append(out, inspection)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate inspections: %w", err)
	}
	return out, total, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInspection(row rowScanner) (*models.Inspection, error) {
	var (
		i           models.Inspection
		dateStr     string
		period      string
		status      string
		inspectorID sql.NullInt64
		report      sql.NullString
		rescheduled sql.NullString
	)
	err := row.Scan(
		&i.ID, &i.CustomerID, &i.CarID, &dateStr, &period, &i.TimeSlot.StartTime, &i.TimeSlot.EndTime, &status,
		&inspectorID, &i.CustomerNotes, &i.InspectorNotes, &report, &rescheduled,
		&i.ConfirmedAt, &i.CompletedAt, &i.IsActive, &i.CreatedAt, &i.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if i.InspectionDate, err = parseDate(dateStr); err != nil {
		return nil, err
	}
	i.TimeSlot.Period = models.Period(period)
	i.Status = models.InspectionStatus(status)
	if inspectorID.Valid {
		id := inspectorID.Int64
		i.InspectorID = &id
	}
	if report.Valid && report.String != "" {
		i.Report = &models.InspectionReport{}
		if err := json.Unmarshal([]byte(report.String), i.Report); err != nil {
			return nil, fmt.Errorf("decode report: %w", err)
		}
	}
	if rescheduled.Valid && rescheduled.String != "" {
		i.RescheduledFrom = &models.RescheduleRecord{}
		if err := json.Unmarshal([]byte(rescheduled.String), i.RescheduledFrom); err != nil {
			return nil, fmt.Errorf("decode rescheduled_from: %w", err)
		}
	}
	return &i, nil
}

func encodeInspectionJSON(i *models.Inspection) (report, rescheduled sql.NullString, err error) {
	if i.Report != nil {
		raw, err := json.Marshal(i.Report)
		if err != nil {
			return report, rescheduled, fmt.Errorf("encode report: %w", err)
		}
		report = sql.NullString{String: string(raw), Valid: true}
	}
	if i.RescheduledFrom != nil {
		raw, err := json.Marshal(i.RescheduledFrom)
		if err != nil {
			return report, rescheduled, fmt.Errorf("encode rescheduled_from: %w", err)
		}
		rescheduled = sql.NullString{String: string(raw), Valid: true}
	}
	return report, rescheduled, nil
}

func nullableInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
