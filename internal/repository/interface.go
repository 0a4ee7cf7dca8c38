package repository

import (
	"context"
	"time"

	"github.com/movearn/tracking-backend/internal/models"
)

// ActiveMover активная сессия рядом с точкой запроса
type ActiveMover struct {
	UserID   string              `json:"user_id"`
	Position models.GeoPoint     `json:"position"`
	Activity models.ActivityType `json:"activity"`
	// Расстояние от центра запроса
	DistanceKm float64 `json:"distance_km"`
}

// LeaderboardEntry строка регионального зачета дистанции
type LeaderboardEntry struct {
	UserID     string  `json:"user_id"`
	DistanceKm float64 `json:"distance_km"`
}

// LiveRepository горячее состояние трекинга (Redis)
type LiveRepository interface {
	// Проверка соединения
	Ping(ctx context.Context) error
	Close() error

	// Состояние сессий
	SaveSessionState(ctx context.Context, snapshot *models.SessionSnapshot) error
	GetSessionState(ctx context.Context, userID string) (*models.SessionSnapshot, error)
	RemoveActiveSession(ctx context.Context, userID string) error

	// Точки трека текущего забега
	AppendTrackPoint(ctx context.Context, sessionID string, sample models.Sample) error
	GetTrack(ctx context.Context, sessionID string) ([]models.Sample, error)

	// Активные сессии вокруг точки
	GetNearbyMovers(ctx context.Context, center models.GeoPoint, radiusKm float64) ([]*ActiveMover, error)

	// Региональный зачет дистанции
	AddRegionDistance(ctx context.Context, region, userID string, distanceKm float64) error
	GetRegionLeaders(ctx context.Context, region string, limit int) ([]LeaderboardEntry, error)

	// Статистика
	GetStats(ctx context.Context) (map[string]interface{}, error)
}

// HistoryRepository история завершенных сессий (MySQL)
type HistoryRepository interface {
	// Проверка соединения
	Ping(ctx context.Context) error
	Close() error

	// Итоги сессий
	SaveSessionSummary(ctx context.Context, summary *models.SessionSummary) error
	GetSessionSummary(ctx context.Context, sessionID string) (*models.SessionSummary, error)
	GetUserSessions(ctx context.Context, userID string, limit int) ([]*models.SessionSummary, error)

	// Треки завершенных сессий
	SaveTrackPointsBatch(ctx context.Context, sessionID string, points []models.Sample) error
	GetSessionTrack(ctx context.Context, sessionID string, limit int) ([]models.Sample, error)

	// Обслуживание
	CleanupOldTracks(ctx context.Context, olderThan time.Duration) error
	GetStats(ctx context.Context) (map[string]interface{}, error)
}

// Ensure implementations
var _ LiveRepository = (*RedisRepository)(nil)
var _ HistoryRepository = (*MySQLRepository)(nil)
