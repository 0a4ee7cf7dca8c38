package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/movearn/tracking-backend/internal/models"
)

func newTestManager(hooks Hooks) *Manager {
	return NewManager(nil, nil, hooks, time.Hour, testLogger())
}

func TestManager_StartIngestStop(t *testing.T) {
	m := newTestManager(Hooks{})
	ctx := context.Background()

	snapshot, err := m.Start(ctx, "user-1", models.ActivityRun)
	require.NoError(t, err)
	assert.Equal(t, models.SessionActive, snapshot.State)

	base := time.Now()
	snapshot, err = m.Ingest("user-1", sampleAt(46.0, 8.0, base))
	require.NoError(t, err)
	assert.Equal(t, 1, snapshot.SamplesAccepted)

	summary, err := m.Stop("user-1")
	require.NoError(t, err)
	require.NotNil(t, summary)
	assert.Equal(t, "user-1", summary.UserID)
	assert.Equal(t, 1, summary.SamplesAccepted)
}

func TestManager_UnknownUser(t *testing.T) {
	m := newTestManager(Hooks{})

	_, err := m.Ingest("ghost", sampleAt(46.0, 8.0, time.Now()))
	assert.ErrorIs(t, err, ErrNoSession)

	_, err = m.Stop("ghost")
	assert.ErrorIs(t, err, ErrNoSession)

	_, err = m.Snapshot("ghost")
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestManager_IngestAfterStop(t *testing.T) {
	m := newTestManager(Hooks{})
	ctx := context.Background()

	_, err := m.Start(ctx, "user-1", models.ActivityRun)
	require.NoError(t, err)
	_, err = m.Stop("user-1")
	require.NoError(t, err)

	_, err = m.Ingest("user-1", sampleAt(46.0, 8.0, time.Now()))
	assert.ErrorIs(t, err, ErrNotActive)
}

func TestManager_OneSessionPerUser(t *testing.T) {
	m := newTestManager(Hooks{})
	ctx := context.Background()

	first, err := m.Start(ctx, "user-1", models.ActivityRun)
	require.NoError(t, err)

	// Повторный старт той же активности не создает новый забег
	second, err := m.Start(ctx, "user-1", models.ActivityRun)
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, second.SessionID)
}

func TestManager_ActivityChangeAfterStop(t *testing.T) {
	m := newTestManager(Hooks{})
	ctx := context.Background()

	first, err := m.Start(ctx, "user-1", models.ActivityWalk)
	require.NoError(t, err)
	_, err = m.Stop("user-1")
	require.NoError(t, err)

	// Новая активность после остановки означает новую сессию с другими порогами
	second, err := m.Start(ctx, "user-1", models.ActivityRide)
	require.NoError(t, err)
	assert.NotEqual(t, first.SessionID, second.SessionID)
	assert.Equal(t, models.ActivityRide, second.Activity)
}

func TestManager_SubscribeReceivesEvents(t *testing.T) {
	m := newTestManager(Hooks{})
	ctx := context.Background()

	events, cancel := m.Subscribe("user-1")
	defer cancel()

	_, err := m.Start(ctx, "user-1", models.ActivityRun)
	require.NoError(t, err)
	_, err = m.Ingest("user-1", sampleAt(46.0, 8.0, time.Now()))
	require.NoError(t, err)
	_, err = m.Stop("user-1")
	require.NoError(t, err)

	var received []EventType
	timeout := time.After(time.Second)
	for len(received) < 3 {
		select {
		case e := <-events:
			received = append(received, e.Type)
		case <-timeout:
			t.Fatalf("expected 3 events, got %v", received)
		}
	}

	assert.Equal(t, []EventType{EventStarted, EventSnapshot, EventStopped}, received)
}

func TestManager_SubscribeCancelClosesChannel(t *testing.T) {
	m := newTestManager(Hooks{})

	events, cancel := m.Subscribe("user-1")
	cancel()

	_, ok := <-events
	assert.False(t, ok, "cancel must close the event channel")

	// Повторный cancel безопасен
	cancel()
}

func TestManager_EventsScopedToUser(t *testing.T) {
	m := newTestManager(Hooks{})
	ctx := context.Background()

	events, cancel := m.Subscribe("user-2")
	defer cancel()

	_, err := m.Start(ctx, "user-1", models.ActivityRun)
	require.NoError(t, err)

	select {
	case e := <-events:
		t.Fatalf("user-2 must not receive user-1 events, got %v", e.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestManager_CleanupIdle(t *testing.T) {
	m := NewManager(nil, nil, Hooks{}, time.Nanosecond, testLogger())
	ctx := context.Background()

	_, err := m.Start(ctx, "user-1", models.ActivityRun)
	require.NoError(t, err)
	_, err = m.Start(ctx, "user-2", models.ActivityRun)
	require.NoError(t, err)
	_, err = m.Stop("user-1")
	require.NoError(t, err)

	time.Sleep(time.Millisecond)
	removed := m.CleanupIdle()

	assert.Equal(t, 1, removed)

	// Активная сессия уцелела
	_, err = m.Snapshot("user-2")
	assert.NoError(t, err)

	// Завершенная выгружена
	_, err = m.Snapshot("user-1")
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestManager_Stats(t *testing.T) {
	m := newTestManager(Hooks{})
	ctx := context.Background()

	_, err := m.Start(ctx, "user-1", models.ActivityRun)
	require.NoError(t, err)
	_, err = m.Start(ctx, "user-2", models.ActivityWalk)
	require.NoError(t, err)
	_, err = m.Stop("user-2")
	require.NoError(t, err)

	stats := m.Stats()
	assert.Equal(t, 2, stats["sessions_total"])
	assert.Equal(t, 1, stats["sessions_active"])
}
