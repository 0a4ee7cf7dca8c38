package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/movearn/tracking-backend/internal/models"
)

// fakeHistoryRepo собирает записи в память для проверки writer'а
type fakeHistoryRepo struct {
	mu           sync.Mutex
	summaries    []*models.SessionSummary
	batches      map[string][]models.Sample
	summaryFails int
	summaryCalls int
}

func newFakeHistoryRepo() *fakeHistoryRepo {
	return &fakeHistoryRepo{batches: make(map[string][]models.Sample)}
}

func (f *fakeHistoryRepo) Ping(ctx context.Context) error { return nil }
func (f *fakeHistoryRepo) Close() error                   { return nil }

func (f *fakeHistoryRepo) SaveSessionSummary(ctx context.Context, summary *models.SessionSummary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaryCalls++
	if f.summaryFails > 0 {
		f.summaryFails--
		return fmt.Errorf("mysql unavailable")
	}
	f.summaries = append(f.summaries, summary)
	return nil
}

func (f *fakeHistoryRepo) GetSessionSummary(ctx context.Context, sessionID string) (*models.SessionSummary, error) {
	return nil, nil
}

func (f *fakeHistoryRepo) GetUserSessions(ctx context.Context, userID string, limit int) ([]*models.SessionSummary, error) {
	return nil, nil
}

func (f *fakeHistoryRepo) SaveTrackPointsBatch(ctx context.Context, sessionID string, points []models.Sample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches[sessionID] = append(f.batches[sessionID], points...)
	return nil
}

func (f *fakeHistoryRepo) GetSessionTrack(ctx context.Context, sessionID string, limit int) ([]models.Sample, error) {
	return nil, nil
}

func (f *fakeHistoryRepo) CleanupOldTracks(ctx context.Context, olderThan time.Duration) error {
	return nil
}

func (f *fakeHistoryRepo) GetStats(ctx context.Context) (map[string]interface{}, error) {
	return nil, nil
}

func (f *fakeHistoryRepo) summaryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.summaries)
}

func (f *fakeHistoryRepo) pointCount(sessionID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches[sessionID])
}

func testWriterConfig() *HistoryWriterConfig {
	return &HistoryWriterConfig{
		BatchSize:     3,
		FlushInterval: 20 * time.Millisecond,
		ChannelBuffer: 100,
		MaxRetries:    3,
		RetryDelay:    time.Millisecond,
	}
}

func makeSummary(sessionID string) *models.SessionSummary {
	now := time.Now()
	return &models.SessionSummary{
		SessionID:       sessionID,
		UserID:          "user-1",
		Activity:        models.ActivityRun,
		StartedAt:       now.Add(-30 * time.Minute),
		StoppedAt:       now,
		TotalDistanceKm: 5.2,
		SamplesAccepted: 900,
	}
}

func TestHistoryWriter_SummaryWritten(t *testing.T) {
	repo := newFakeHistoryRepo()
	hw := NewHistoryWriter(repo, testLogger(), testWriterConfig())
	defer hw.Shutdown()

	require.NoError(t, hw.QueueSummary(makeSummary("s-1")))

	assert.Eventually(t, func() bool {
		return repo.summaryCount() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestHistoryWriter_SummaryRetries(t *testing.T) {
	repo := newFakeHistoryRepo()
	repo.summaryFails = 2

	hw := NewHistoryWriter(repo, testLogger(), testWriterConfig())
	defer hw.Shutdown()

	require.NoError(t, hw.QueueSummary(makeSummary("s-retry")))

	assert.Eventually(t, func() bool {
		return repo.summaryCount() == 1
	}, time.Second, 5*time.Millisecond)

	repo.mu.Lock()
	defer repo.mu.Unlock()
	assert.Equal(t, 3, repo.summaryCalls)
}

func TestHistoryWriter_PointsFlushedBySize(t *testing.T) {
	repo := newFakeHistoryRepo()
	config := testWriterConfig()
	config.FlushInterval = time.Hour // сброс только по размеру батча

	hw := NewHistoryWriter(repo, testLogger(), config)
	defer hw.Shutdown()

	for i := 0; i < config.BatchSize; i++ {
		require.NoError(t, hw.QueueTrackPoint("s-1", models.Sample{
			Position:  models.GeoPoint{Latitude: 46.52, Longitude: 6.57},
			Timestamp: time.Now().Add(time.Duration(i) * time.Second),
		}))
	}

	assert.Eventually(t, func() bool {
		return repo.pointCount("s-1") == config.BatchSize
	}, time.Second, 5*time.Millisecond)
}

func TestHistoryWriter_PointsFlushedByTimer(t *testing.T) {
	repo := newFakeHistoryRepo()
	hw := NewHistoryWriter(repo, testLogger(), testWriterConfig())
	defer hw.Shutdown()

	require.NoError(t, hw.QueueTrackPoint("s-2", models.Sample{
		Position:  models.GeoPoint{Latitude: 46.52, Longitude: 6.57},
		Timestamp: time.Now(),
	}))

	assert.Eventually(t, func() bool {
		return repo.pointCount("s-2") == 1
	}, time.Second, 5*time.Millisecond)
}

func TestHistoryWriter_ShutdownDrainsQueues(t *testing.T) {
	repo := newFakeHistoryRepo()
	config := testWriterConfig()
	config.FlushInterval = time.Hour

	hw := NewHistoryWriter(repo, testLogger(), config)

	require.NoError(t, hw.QueueSummary(makeSummary("s-final")))
	require.NoError(t, hw.QueueTrackPoint("s-final", models.Sample{
		Position:  models.GeoPoint{Latitude: 46.52, Longitude: 6.57},
		Timestamp: time.Now(),
	}))

	hw.Shutdown()

	assert.Equal(t, 1, repo.summaryCount())
	assert.Equal(t, 1, repo.pointCount("s-final"))
}
