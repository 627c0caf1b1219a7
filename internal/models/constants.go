package models

import "time"

const (
	// DateLayout is the storage and wire format of calendar dates.
	DateLayout = "2006-01-02"

	// ClockLayout is the format of slot start/end times.
	ClockLayout = "15:04"

	// DefaultMaxSlots is the capacity hint stored on every calendar day.
	DefaultMaxSlots = 16

	// SlotDuration is the length of one bookable window.
	SlotDuration = 30 * time.Minute

	// DefaultMaxBookingDays limits how far ahead an inspection can be booked.
	DefaultMaxBookingDays = 90

	// DefaultWarmupDays is how many days ahead the scheduler pre-generates.
	DefaultWarmupDays = 14

	// Text limits for free-form inspection fields.
	MaxCustomerNotesLength    = 500
	MaxInspectorNotesLength   = 1000
	MaxRescheduleReasonLength = 300

	DefaultPage      = 1
	DefaultPageLimit = 10
	MaxPageLimit     = 100

	// DefaultBookingRateLimit is the number of booking attempts per user per window.
	DefaultBookingRateLimit  = 10
	DefaultBookingRateWindow = 60 // seconds

	// WorkerQueueSize is the in-memory fallback queue size of the notification worker.
	WorkerQueueSize = 128
)

// Notification task statuses.
const (
	TaskStatusPending    = "pending"
	TaskStatusRetry      = "retry"
	TaskStatusProcessing = "processing"
	TaskStatusCompleted  = "completed"
	TaskStatusFailed     = "failed"
)
