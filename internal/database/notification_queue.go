package database

import (
	"context"
	"fmt"
	"time"

	"carinspect/internal/models"
)

const notificationColumns = `id, task_type, inspection_id, recipient, payload, status, retry_count, last_error, created_at, processed_at, next_retry_at`

func (db *DB) CreateNotificationTask(ctx context.Context, task *models.NotificationTask) error {
	if task.Status == "" {
		task.Status = models.TaskStatusPending
	}
	now := time.Now().UTC()
	err := db.QueryRowContext(ctx, `INSERT INTO notification_queue
			(task_type, inspection_id, recipient, payload, status, retry_count, last_error, created_at, next_retry_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		task.TaskType,
		task.InspectionID,
		task.Recipient,
		task.Payload,
		task.Status,
		task.RetryCount,
		task.LastError,
		now,
		task.NextRetryAt,
	).Scan(&task.ID)
	if err != nil {
		return fmt.Errorf("failed to create notification task: %w", err)
	}
	task.CreatedAt = now
	return nil
}

// GetPendingNotificationTasks returns due tasks, including claims whose lease has run out.
func (db *DB) GetPendingNotificationTasks(ctx context.Context, limit int) ([]models.NotificationTask, error) {
	query := `SELECT ` + notificationColumns + `
		FROM notification_queue
		WHERE status IN (?, ?, ?) AND (next_retry_at IS NULL OR next_retry_at <= ?)
		ORDER BY created_at ASC, id ASC LIMIT ?`
	return db.queryNotificationTasks(ctx, query,
		models.TaskStatusPending, models.TaskStatusRetry, models.TaskStatusProcessing, time.Now().UTC(), limit)
}

// ClaimNotificationTask marks a due task as processing until lease passes.
// It reports false when the task is finished, not due yet, or held by another worker.
func (db *DB) ClaimNotificationTask(ctx context.Context, id int64, lease time.Duration) (bool, error) {
	now := time.Now().UTC()
	res, err := db.ExecContext(ctx, `UPDATE notification_queue
		SET status = ?, next_retry_at = ?
		WHERE id = ? AND status IN (?, ?, ?) AND (next_retry_at IS NULL OR next_retry_at <= ?)`,
		models.TaskStatusProcessing, now.Add(lease), id,
		models.TaskStatusPending, models.TaskStatusRetry, models.TaskStatusProcessing, now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim notification task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to claim notification task: %w", err)
	}
	return n == 1, nil
}

func (db *DB) GetFailedNotificationTasks(ctx context.Context) ([]models.NotificationTask, error) {
	query := `SELECT ` + notificationColumns + ` FROM notification_queue WHERE status = ? ORDER BY created_at DESC, id DESC`
	return db.queryNotificationTasks(ctx, query, models.TaskStatusFailed)
}

func (db *DB) queryNotificationTasks(ctx context.Context, query string, args ...any) ([]models.NotificationTask, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query notification tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.NotificationTask
	for rows.Next() {
		var t models.NotificationTask
		err := rows.Scan(
			&t.ID, &t.TaskType, &t.InspectionID, &t.Recipient, &t.Payload, &t.Status, &t.RetryCount,
			&t.LastError, &t.CreatedAt, &t.ProcessedAt, &t.NextRetryAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (db *DB) UpdateNotificationTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error {
	var query string
	var args []any
	now := time.Now().UTC()

	var lastError *string
	if errMsg != "" {
		lastError = &errMsg
	}

	switch status {
	case models.TaskStatusRetry:
		query = `UPDATE notification_queue SET status = ?, last_error = ?, next_retry_at = ?, retry_count = retry_count + 1 WHERE id = ?`
		args = []any{status, lastError, nextRetryAt, id}
	case models.TaskStatusCompleted, models.TaskStatusFailed:
		query = `UPDATE notification_queue SET status = ?, last_error = ?, next_retry_at = ?, processed_at = ? WHERE id = ?`
		args = []any{status, lastError, nextRetryAt, now, id}
	default:
		query = `UPDATE notification_queue SET status = ?, last_error = ?, next_retry_at = ? WHERE id = ?`
		args = []any{status, lastError, nextRetryAt, id}
	}

	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update notification task status: %w", err)
	}
	return nil
}
