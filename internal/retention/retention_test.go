package retention

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatloom/pkg/config"
	"chatloom/pkg/logger"
	"chatloom/pkg/models"
	"chatloom/pkg/store"
)

func TestMain(m *testing.M) {
	logger.Init("error")
	os.Exit(m.Run())
}

func openTestStore(t *testing.T) {
	t.Helper()
	require.NoError(t, store.Open(t.TempDir()))
	t.Cleanup(func() { _ = store.Close() })
}

func seedDeletedThread(t *testing.T, id string, deletedAgo time.Duration) {
	t.Helper()
	require.NoError(t, store.CreateThread(models.Thread{ID: id, WorkspaceID: "ws1"}))
	require.NoError(t, store.SaveMessage(models.Message{
		ID:        id + "-m1",
		Thread:    id,
		Role:      models.RoleUser,
		CreatedTS: time.Now().UTC().UnixNano(),
	}))
	require.NoError(t, store.SoftDeleteThread(id))
	if deletedAgo > 0 {
		// backdate the deletion so the thread is old enough to purge
		th, err := store.GetThreadByID(id)
		require.NoError(t, err)
		th.DeletedTS = time.Now().UTC().Add(-deletedAgo).UnixNano()
		require.NoError(t, store.PutThread(*th))
	}
}

func TestParsePeriod(t *testing.T) {
	d, err := parsePeriod("30d")
	require.NoError(t, err)
	assert.Equal(t, 30*24*time.Hour, d)

	d, err = parsePeriod("72h")
	require.NoError(t, err)
	assert.Equal(t, 72*time.Hour, d)

	_, err = parsePeriod("")
	assert.Error(t, err)
	_, err = parsePeriod("soon")
	assert.Error(t, err)
}

func TestPeriodBelowMinimumRejected(t *testing.T) {
	_, err := effectivePeriod(config.RetentionConfig{Period: "1h"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "below minimum")

	// an explicit lower minimum allows it
	_, err = effectivePeriod(config.RetentionConfig{Period: "1h", MinPeriod: "30m"})
	assert.NoError(t, err)
}

func TestRunOncePurgesOnlyExpiredSoftDeletes(t *testing.T) {
	openTestStore(t)
	seedDeletedThread(t, "old", 60*24*time.Hour)
	seedDeletedThread(t, "fresh", 0)
	require.NoError(t, store.CreateThread(models.Thread{ID: "live", WorkspaceID: "ws1"}))

	cfg := config.RetentionConfig{Enabled: true, Period: "30d"}
	require.NoError(t, RunOnce(context.Background(), cfg))

	_, err := store.GetThreadByID("old")
	assert.True(t, errors.Is(err, store.ErrNotFound))

	fresh, err := store.GetThreadByID("fresh")
	require.NoError(t, err)
	assert.True(t, fresh.Deleted)

	_, err = store.GetThreadByID("live")
	assert.NoError(t, err)
}

func TestRunOnceDryRunPurgesNothing(t *testing.T) {
	openTestStore(t)
	seedDeletedThread(t, "old", 60*24*time.Hour)

	cfg := config.RetentionConfig{Enabled: true, Period: "30d", DryRun: true}
	require.NoError(t, RunOnce(context.Background(), cfg))

	th, err := store.GetThreadByID("old")
	require.NoError(t, err)
	assert.True(t, th.Deleted)
}

func TestStartDisabledIsNoop(t *testing.T) {
	cancel, err := Start(context.Background(), config.RetentionConfig{})
	require.NoError(t, err)
	cancel()
}

func TestStartRejectsBadCron(t *testing.T) {
	_, err := Start(context.Background(), config.RetentionConfig{Enabled: true, Cron: "not a cron", Period: "30d"})
	assert.Error(t, err)
}
