package models

import "time"

// NotificationTask is an outbox row for one outgoing email.
type NotificationTask struct {
	ID           int64      `json:"id"`
	TaskType     string     `json:"task_type"`
	InspectionID string     `json:"inspection_id"`
	Recipient    string     `json:"recipient"`
	Payload      string     `json:"payload"`
	Status       string     `json:"status"`
	RetryCount   int        `json:"retry_count"`
	LastError    *string    `json:"last_error"`
	CreatedAt    time.Time  `json:"created_at"`
	ProcessedAt  *time.Time `json:"processed_at"`
	NextRetryAt  *time.Time `json:"next_retry_at"`
}
