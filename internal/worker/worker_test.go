package worker

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"carinspect/internal/database"
	"carinspect/internal/domain"
	"carinspect/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var testMessage = domain.EmailMessage{
	ToName:    "Ann",
	ToAddress: "ann@example.com",
	Subject:   "Inspection booked",
	PlainText: "see you",
}

func TestProcessTaskSuccess(t *testing.T) {
	db := newTestDB(t)
	mailer := &fakeMailer{}
	worker := NewNotificationWorker(db, mailer, nil, RetryPolicy{}, nil)

	ctx := context.Background()
	if err := worker.EnqueueEmail(ctx, "inspection.booked", "insp-1", testMessage); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	task, ok := worker.tryLocalQueue()
	if !ok {
		t.Fatalf("expected task in local queue")
	}
	if task.Recipient != "ann@example.com" || task.InspectionID != "insp-1" {
		t.Fatalf("unexpected task: %+v", task)
	}
	worker.processTask(ctx, &task)

	status, retryCount, nextRetry := loadTaskStatus(t, db, task.ID)
	if status != models.TaskStatusCompleted {
		t.Fatalf("expected status=completed, got %s", status)
	}
	if retryCount != 0 {
		t.Fatalf("expected retry_count=0, got %d", retryCount)
	}
	if nextRetry.Valid {
		t.Fatalf("expected next_retry_at NULL on success")
	}
	if got := mailer.sent(); len(got) != 1 || got[0].Subject != "Inspection booked" {
		t.Fatalf("expected one sent message, got %+v", got)
	}
}

func TestProcessTaskDeliversOnce(t *testing.T) {
	db := newTestDB(t)
	mailer := &fakeMailer{}
	worker := NewNotificationWorker(db, mailer, nil, RetryPolicy{}, nil)

	ctx := context.Background()
	if err := worker.EnqueueEmail(ctx, "inspection.booked", "insp-dup", testMessage); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// The poller sees the task before the queued copy is consumed.
	polled, err := db.GetPendingNotificationTasks(ctx, 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(polled) != 1 {
		t.Fatalf("expected 1 polled task, got %d", len(polled))
	}
	worker.processTask(ctx, &polled[0])

	queued, ok := worker.tryLocalQueue()
	if !ok {
		t.Fatalf("expected task in local queue")
	}
	worker.processTask(ctx, &queued)

	if n := len(mailer.sent()); n != 1 {
		t.Fatalf("expected exactly one delivery, got %d", n)
	}
	status, _, _ := loadTaskStatus(t, db, queued.ID)
	if status != models.TaskStatusCompleted {
		t.Fatalf("expected status=completed, got %s", status)
	}
}

func TestProcessTaskRetry(t *testing.T) {
	db := newTestDB(t)
	mailer := &fakeMailer{err: errors.New("boom")}
	worker := NewNotificationWorker(db, mailer, nil, RetryPolicy{MaxRetries: 3, InitialDelay: time.Second}, nil)

	ctx := context.Background()
	if err := worker.EnqueueEmail(ctx, "inspection.booked", "insp-2", testMessage); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	task, ok := worker.tryLocalQueue()
	if !ok {
		t.Fatalf("expected task in local queue")
	}
	worker.processTask(ctx, &task)

	status, retryCount, nextRetry := loadTaskStatus(t, db, task.ID)
	if status != models.TaskStatusRetry {
		t.Fatalf("expected status=retry, got %s", status)
	}
	if retryCount != 1 {
		t.Fatalf("expected retry_count=1, got %d", retryCount)
	}
	if !nextRetry.Valid || nextRetry.Time.Before(time.Now()) {
		t.Fatalf("expected next_retry_at in future, got %v", nextRetry)
	}

	// Not due yet, so polling does not return it.
	pending, err := db.GetPendingNotificationTasks(ctx, 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no due tasks, got %d", len(pending))
	}
}

func TestProcessTaskFail(t *testing.T) {
	db := newTestDB(t)
	mailer := &fakeMailer{err: errors.New("fatal")}
	worker := NewNotificationWorker(db, mailer, nil, RetryPolicy{MaxRetries: 1}, nil)

	ctx := context.Background()
	_ = worker.EnqueueEmail(ctx, "inspection.booked", "insp-3", testMessage)
	task, _ := worker.tryLocalQueue()
	worker.processTask(ctx, &task)

	status, _, _ := loadTaskStatus(t, db, task.ID)
	if status != models.TaskStatusFailed {
		t.Fatalf("expected status=failed, got %s", status)
	}
}

func TestProcessTaskBadPayload(t *testing.T) {
	db := newTestDB(t)
	mailer := &fakeMailer{}
	worker := NewNotificationWorker(db, mailer, nil, RetryPolicy{}, nil)

	ctx := context.Background()
	task := models.NotificationTask{TaskType: "inspection.booked", Payload: "not json"}
	if err := db.CreateNotificationTask(ctx, &task); err != nil {
		t.Fatalf("create: %v", err)
	}
	worker.processTask(ctx, &task)

	status, _, _ := loadTaskStatus(t, db, task.ID)
	if status != models.TaskStatusFailed {
		t.Fatalf("expected status=failed, got %s", status)
	}
	if len(mailer.sent()) != 0 {
		t.Fatalf("nothing should be sent")
	}
}

func TestEnqueueEmailValidation(t *testing.T) {
	worker := NewNotificationWorker(newTestDB(t), &fakeMailer{}, nil, RetryPolicy{}, nil)
	ctx := context.Background()

	if err := worker.EnqueueEmail(ctx, "", "x", testMessage); err == nil {
		t.Fatalf("expected error for empty task type")
	}
	if err := worker.EnqueueEmail(ctx, "inspection.booked", "x", domain.EmailMessage{Subject: "no one"}); err == nil {
		t.Fatalf("expected error for missing recipient")
	}
}

func TestRedisQueueAndDeadLetter(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer s.Close()
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	db := newTestDB(t)
	mailer := &fakeMailer{err: errors.New("rejected")}
	worker := NewNotificationWorker(db, mailer, client, RetryPolicy{MaxRetries: 1}, nil)
	ctx := context.Background()

	if err := worker.EnqueueEmail(ctx, "inspection.confirmed", "insp-4", testMessage); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, ok := worker.tryLocalQueue(); ok {
		t.Fatalf("task should go to redis, not memory")
	}

	task, ok := worker.tryRedis(ctx)
	if !ok {
		t.Fatalf("expected task from redis")
	}
	if task.TaskType != "inspection.confirmed" || task.ID == 0 {
		t.Fatalf("unexpected task: %+v", task)
	}

	worker.processTask(ctx, &task)

	dead, err := s.List(DefaultDeadLetterKey)
	if err != nil {
		t.Fatalf("deadletter list: %v", err)
	}
	if len(dead) != 1 {
		t.Fatalf("expected 1 deadletter entry, got %d", len(dead))
	}
}

func TestStartDrainsQueue(t *testing.T) {
	db := newTestDB(t)
	mailer := &fakeMailer{}
	worker := NewNotificationWorker(db, mailer, nil, RetryPolicy{}, nil)
	worker.pollInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Persisted but never queued: picked up by polling.
	orphan := models.NotificationTask{TaskType: "inspection.booked", Recipient: "x@example.com", Payload: `{"to_address":"x@example.com","subject":"s"}`}
	if err := db.CreateNotificationTask(ctx, &orphan); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := worker.EnqueueEmail(ctx, "inspection.booked", "insp-5", testMessage); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	done := make(chan struct{})
	go func() {
		worker.Start(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for len(mailer.sent()) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if n := len(mailer.sent()); n < 2 {
		t.Fatalf("expected both tasks delivered, got %d", n)
	}
}

func TestRetryPolicyNextDelay(t *testing.T) {
	policy := RetryPolicy{InitialDelay: time.Second, BackoffFactor: 2, MaxDelay: 5 * time.Second}
	d1 := policy.NextDelay(1)
	d2 := policy.NextDelay(2)
	d3 := policy.NextDelay(5)

	if d1 != time.Second {
		t.Fatalf("attempt1 expected 1s, got %s", d1)
	}
	if d2 != 2*time.Second {
		t.Fatalf("attempt2 expected 2s, got %s", d2)
	}
	if d3 != 5*time.Second {
		t.Fatalf("attempt5 expected capped 5s, got %s", d3)
	}
	if d := (RetryPolicy{}).NextDelay(0); d != time.Second {
		t.Fatalf("zero policy expected 1s, got %s", d)
	}

	defaults := RetryPolicy{}.withDefaults()
	if defaults.MaxRetries != 5 || defaults.MaxDelay != 5*time.Minute {
		t.Fatalf("unexpected defaults: %+v", defaults)
	}
	if defaults.Exhausted(4) || !defaults.Exhausted(5) {
		t.Fatalf("expected the fifth attempt to be the last")
	}

	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.FixedZone("MSK", 3*3600))
	if at := defaults.NextAttemptAt(now, 3); !at.Equal(now.Add(8*time.Second)) || at.Location() != time.UTC {
		t.Fatalf("unexpected next attempt time %s", at)
	}
}

func TestDecodePayload(t *testing.T) {
	t.Run("ValidPayload", func(t *testing.T) {
		decoded, err := decodePayload(`{"to_address":"a@b.c","subject":"hi"}`)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if decoded.ToAddress != "a@b.c" || decoded.Subject != "hi" {
			t.Fatalf("unexpected decoded payload: %+v", decoded)
		}
	})

	t.Run("InvalidPayload", func(t *testing.T) {
		if _, err := decodePayload(`invalid json`); err == nil {
			t.Fatalf("expected error for invalid json")
		}
	})
}

// Helpers

type fakeMailer struct {
	mu       sync.Mutex
	err      error
	messages []domain.EmailMessage
}

func (f *fakeMailer) Send(ctx context.Context, msg domain.EmailMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeMailer) sent() []domain.EmailMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.EmailMessage(nil), f.messages...)
}

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worker.db")
	logger := zerolog.New(io.Discard)
	db, err := database.NewDB(path, &logger)
	if err != nil {
		t.Fatalf("new db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func loadTaskStatus(t *testing.T, db *database.DB, id int64) (status string, retryCount int, nextRetry sql.NullTime) {
	t.Helper()
	row := db.QueryRowContext(context.Background(), `SELECT status, retry_count, next_retry_at FROM notification_queue WHERE id = ?`, id)
	if err := row.Scan(&status, &retryCount, &nextRetry); err != nil {
		t.Fatalf("scan task: %v", err)
	}
	return status, retryCount, nextRetry
}
