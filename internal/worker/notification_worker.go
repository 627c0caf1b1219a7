package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"carinspect/internal/domain"
	"carinspect/internal/metrics"
	"carinspect/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	DefaultQueueKey      = "notifications:queue"
	DefaultDeadLetterKey = "notifications:deadletter"

	// claimLease bounds how long a crashed worker can hold a task.
	claimLease = 5 * time.Minute
)

// NotificationWorker delivers outbox emails. Every task is persisted first and
// then handed over through Redis, an in-process channel, or DB polling.
type NotificationWorker struct {
	store         domain.NotificationQueue
	mailer        domain.Mailer
	redis         *redis.Client
	retryPolicy   RetryPolicy
	queue         chan models.NotificationTask
	redisQueueKey string
	deadLetterKey string
	pollInterval  time.Duration
	batchSize     int
	logger        *zerolog.Logger
}

// NewNotificationWorker builds a worker with sane defaults.
func NewNotificationWorker(store domain.NotificationQueue, mailer domain.Mailer, redisClient *redis.Client, retry RetryPolicy, logger *zerolog.Logger) *NotificationWorker {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &NotificationWorker{
		store:         store,
		mailer:        mailer,
		redis:         redisClient,
		retryPolicy:   retry.withDefaults(),
		queue:         make(chan models.NotificationTask, models.WorkerQueueSize),
		redisQueueKey: DefaultQueueKey,
		deadLetterKey: DefaultDeadLetterKey,
		pollInterval:  2 * time.Second,
		batchSize:     20,
		logger:        logger,
	}
}

// EnqueueEmail persists the message to the outbox and schedules delivery.
func (w *NotificationWorker) EnqueueEmail(ctx context.Context, taskType, inspectionID string, msg domain.EmailMessage) error {
	if taskType == "" {
		return errors.New("task type is required")
	}
	if msg.ToAddress == "" {
		return errors.New("recipient address is required")
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	task := models.NotificationTask{
		TaskType:     taskType,
		InspectionID: inspectionID,
		Recipient:    msg.ToAddress,
		Payload:      string(payload),
		Status:       models.TaskStatusPending,
	}
	if err := w.store.CreateNotificationTask(ctx, &task); err != nil {
		return fmt.Errorf("persist notification task: %w", err)
	}

	if w.redis != nil {
		if err := w.pushRedis(ctx, w.redisQueueKey, task); err != nil {
			w.logger.Warn().Err(err).Int64("task_id", task.ID).Msg("redis push failed, fallback to memory queue")
		} else {
			return nil
		}
	}

	select {
	case w.queue <- task:
	default:
		w.logger.Warn().Int64("task_id", task.ID).Msg("in-memory queue full, task left to polling")
	}

	return nil
}

// Start runs the delivery loop until ctx is done.
func (w *NotificationWorker) Start(ctx context.Context) {
	w.logger.Info().Msg("notification worker started")
	defer w.logger.Info().Msg("notification worker stopped")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if t, ok := w.tryLocalQueue(); ok {
			w.processTask(ctx, &t)
			continue
		}

		if t, ok := w.tryRedis(ctx); ok {
			w.processTask(ctx, &t)
			continue
		}

		tasks, err := w.store.GetPendingNotificationTasks(ctx, w.batchSize)
		if err != nil {
			if ctx.Err() == nil {
				w.logger.Error().Err(err).Msg("fetch pending notifications")
			}
			w.sleep(ctx)
			continue
		}
		if len(tasks) == 0 {
			w.sleep(ctx)
			continue
		}

		for i := range tasks {
			w.processTask(ctx, &tasks[i])
		}
	}
}

func (w *NotificationWorker) sleep(ctx context.Context) {
	timer := time.NewTimer(w.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (w *NotificationWorker) tryLocalQueue() (models.NotificationTask, bool) {
	select {
	case t := <-w.queue:
		return t, true
	default:
		return models.NotificationTask{}, false
	}
}

func (w *NotificationWorker) tryRedis(ctx context.Context) (models.NotificationTask, bool) {
	if w.redis == nil {
		return models.NotificationTask{}, false
	}
	res, err := w.redis.BRPop(ctx, time.Second, w.redisQueueKey).Result()
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, redis.Nil) {
			return models.NotificationTask{}, false
		}
		w.logger.Error().Err(err).Msg("redis BRPOP error")
		return models.NotificationTask{}, false
	}
	if len(res) != 2 {
		return models.NotificationTask{}, false
	}
	var task models.NotificationTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		w.logger.Error().Err(err).Msg("decode redis task")
		return models.NotificationTask{}, false
	}
	return task, true
}

func (w *NotificationWorker) processTask(ctx context.Context, task *models.NotificationTask) {
	claimed, err := w.store.ClaimNotificationTask(ctx, task.ID, claimLease)
	if err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("claim notification task")
		return
	}
	if !claimed {
		w.logger.Debug().Int64("task_id", task.ID).Msg("task already handled, skipping")
		return
	}

	msg, err := decodePayload(task.Payload)
	if err != nil {
		w.failTask(ctx, task, fmt.Errorf("decode payload: %w", err))
		return
	}

	if err := w.mailer.Send(ctx, msg); err != nil {
		w.retryOrFail(ctx, task, err)
		return
	}

	metrics.IncNotification("sent")
	if err := w.store.UpdateNotificationTaskStatus(ctx, task.ID, models.TaskStatusCompleted, "", nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark completed")
	}
}

func (w *NotificationWorker) retryOrFail(ctx context.Context, task *models.NotificationTask, cause error) {
	attempt := task.RetryCount + 1
	if w.retryPolicy.Exhausted(attempt) {
		w.failTask(ctx, task, cause)
		return
	}

	metrics.IncNotification("retry")
	nextTime := w.retryPolicy.NextAttemptAt(time.Now(), attempt)
	w.logger.Warn().Err(cause).
		Int64("task_id", task.ID).
		Str("inspection_id", task.InspectionID).
		Int("attempt", attempt).
		Time("next_retry_at", nextTime).
		Msg("notification delivery failed, will retry")
	if err := w.store.UpdateNotificationTaskStatus(ctx, task.ID, models.TaskStatusRetry, cause.Error(), &nextTime); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark retry")
	}
}

func (w *NotificationWorker) failTask(ctx context.Context, task *models.NotificationTask, cause error) {
	metrics.IncNotification("failed")
	w.logger.Error().Err(cause).
		Int64("task_id", task.ID).
		Str("inspection_id", task.InspectionID).
		Str("task_type", task.TaskType).
		Msg("notification delivery failed permanently")
	if err := w.store.UpdateNotificationTaskStatus(ctx, task.ID, models.TaskStatusFailed, cause.Error(), nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark failed")
	}
	if w.redis != nil {
		if err := w.pushRedis(ctx, w.deadLetterKey, *task); err != nil {
			w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("deadletter push")
		}
	}
}

func decodePayload(raw string) (domain.EmailMessage, error) {
	var msg domain.EmailMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return msg, err
	}
	if msg.ToAddress == "" {
		return msg, errors.New("recipient address missing")
	}
	return msg, nil
}

func (w *NotificationWorker) pushRedis(ctx context.Context, key string, task models.NotificationTask) error {
	if w.redis == nil {
		return errors.New("redis client is nil")
	}
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return w.redis.LPush(ctx, key, data).Err()
}
