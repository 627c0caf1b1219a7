package database

import (
	"context"
	"testing"
	"time"

	"carinspect/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotificationQueue(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	task := &models.NotificationTask{
		TaskType:     "inspection.booked",
		InspectionID: "abc",
		Recipient:    "ann@example.com",
		Payload:      `{"subject":"hi"}`,
	}
	require.NoError(t, db.CreateNotificationTask(ctx, task))
	assert.NotZero(t, task.ID)
	assert.Equal(t, models.TaskStatusPending, task.Status)

	tasks, err := db.GetPendingNotificationTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, task.ID, tasks[0].ID)
	assert.Equal(t, "ann@example.com", tasks[0].Recipient)
	assert.Nil(t, tasks[0].LastError)

	// A retry scheduled in the future is not picked up yet.
	later := time.Now().UTC().Add(time.Hour)
	require.NoError(t, db.UpdateNotificationTaskStatus(ctx, task.ID, models.TaskStatusRetry, "smtp timeout", &later))
	tasks, err = db.GetPendingNotificationTasks(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, tasks)

	past := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, db.UpdateNotificationTaskStatus(ctx, task.ID, models.TaskStatusRetry, "smtp timeout", &past))
	tasks, err = db.GetPendingNotificationTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, 2, tasks[0].RetryCount)
	require.NotNil(t, tasks[0].LastError)
	assert.Equal(t, "smtp timeout", *tasks[0].LastError)

	require.NoError(t, db.UpdateNotificationTaskStatus(ctx, task.ID, models.TaskStatusFailed, "gave up", nil))
	tasks, err = db.GetPendingNotificationTasks(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, tasks)

	failed, err := db.GetFailedNotificationTasks(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.NotNil(t, failed[0].ProcessedAt)
}

func TestClaimNotificationTask(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	task := &models.NotificationTask{TaskType: "inspection.booked", Recipient: "ann@example.com", Payload: `{}`}
	require.NoError(t, db.CreateNotificationTask(ctx, task))

	claimed, err := db.ClaimNotificationTask(ctx, task.ID, time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = db.ClaimNotificationTask(ctx, task.ID, time.Minute)
	require.NoError(t, err)
	assert.False(t, claimed, "a held task cannot be claimed twice")

	tasks, err := db.GetPendingNotificationTasks(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, tasks)

	require.NoError(t, db.UpdateNotificationTaskStatus(ctx, task.ID, models.TaskStatusCompleted, "", nil))
	claimed, err = db.ClaimNotificationTask(ctx, task.ID, time.Minute)
	require.NoError(t, err)
	assert.False(t, claimed)

	// An expired lease makes the task due again.
	stale := &models.NotificationTask{TaskType: "inspection.booked", Recipient: "bob@example.com", Payload: `{}`}
	require.NoError(t, db.CreateNotificationTask(ctx, stale))
	claimed, err = db.ClaimNotificationTask(ctx, stale.ID, -time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)

	tasks, err = db.GetPendingNotificationTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, models.TaskStatusProcessing, tasks[0].Status)

	claimed, err = db.ClaimNotificationTask(ctx, stale.ID, time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)
}
