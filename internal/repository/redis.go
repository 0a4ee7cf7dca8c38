package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/movearn/tracking-backend/internal/config"
	"github.com/movearn/tracking-backend/internal/metrics"
	"github.com/movearn/tracking-backend/internal/models"
	"github.com/movearn/tracking-backend/pkg/utils"
	"github.com/redis/go-redis/v9"
)

const (
	// Геоиндекс активных сессий: member = userID
	ActiveSessionsGeoKey = "sessions:geo"

	// Префиксы ключей
	SessionPrefix     = "session:" // session:{userID} - состояние сессии
	TrackPrefix       = "track:"   // track:{sessionID} - точки текущего забега
	LeaderboardPrefix = "lb:"      // lb:{geohash4} - региональный зачет
	AuthTokenPrefix   = "auth:token:"

	// TTL для данных
	SessionTTL     = 12 * time.Hour
	TrackTTL       = 24 * time.Hour
	LeaderboardTTL = 7 * 24 * time.Hour
	AuthTokenTTL   = 1 * time.Hour
)

// sessionRecord компактное состояние сессии для Redis (история хранится
// отдельным списком track:{sessionID})
type sessionRecord struct {
	SessionID       string              `json:"session_id"`
	UserID          string              `json:"user_id"`
	Activity        models.ActivityType `json:"activity"`
	State           models.SessionState `json:"state"`
	Location        *models.Sample      `json:"location,omitempty"`
	TotalDistanceKm float64             `json:"total_distance_km"`
	StartedAt       time.Time           `json:"started_at"`
	StoppedAt       time.Time           `json:"stopped_at,omitempty"`
	SamplesAccepted int                 `json:"samples_accepted"`
	SamplesRejected int                 `json:"samples_rejected"`
}

// RedisRepository горячее состояние трекинга в Redis
type RedisRepository struct {
	client         *redis.Client
	logger         *utils.Logger
	config         *config.RedisConfig
	maxTrackPoints int
}

// NewRedisRepository создает новый Redis репозиторий
func NewRedisRepository(cfg *config.RedisConfig, maxTrackPoints int, logger *utils.Logger) (*RedisRepository, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if maxTrackPoints <= 0 {
		maxTrackPoints = 999
	}

	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opt.Password = cfg.Password
	opt.DB = cfg.DB
	opt.PoolSize = cfg.PoolSize
	opt.MinIdleConns = cfg.MinIdleConns
	opt.ConnMaxIdleTime = 30 * time.Minute
	opt.DialTimeout = 10 * time.Second
	opt.ReadTimeout = 3 * time.Second
	opt.WriteTimeout = 3 * time.Second

	return &RedisRepository{
		client:         redis.NewClient(opt),
		logger:         logger,
		config:         cfg,
		maxTrackPoints: maxTrackPoints,
	}, nil
}

// Ping проверяет соединение с Redis
func (r *RedisRepository) Ping(ctx context.Context) error {
	if _, err := r.client.Ping(ctx).Result(); err != nil {
		metrics.RedisConnectionStatus.Set(0)
		return fmt.Errorf("redis ping failed: %w", err)
	}
	metrics.RedisConnectionStatus.Set(1)
	return nil
}

// Close закрывает соединение с Redis
func (r *RedisRepository) Close() error {
	return r.client.Close()
}

// GetClient возвращает Redis клиент для внешнего использования (кеш аутентификации)
func (r *RedisRepository) GetClient() *redis.Client {
	return r.client
}

// SaveSessionState сохраняет состояние сессии и позицию в геоиндексе.
// Idle-сессии из геоиндекса убираются: на карте рядом показываются только активные.
func (r *RedisRepository) SaveSessionState(ctx context.Context, snapshot *models.SessionSnapshot) error {
	if snapshot == nil {
		return fmt.Errorf("snapshot cannot be nil")
	}

	start := time.Now()

	record := sessionRecord{
		SessionID:       snapshot.SessionID,
		UserID:          snapshot.UserID,
		Activity:        snapshot.Activity,
		State:           snapshot.State,
		Location:        snapshot.Location,
		TotalDistanceKm: snapshot.TotalDistanceKm,
		StartedAt:       snapshot.StartedAt,
		StoppedAt:       snapshot.StoppedAt,
		SamplesAccepted: snapshot.SamplesAccepted,
		SamplesRejected: snapshot.SamplesRejected,
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal session record: %w", err)
	}

	pipe := r.client.Pipeline()
	pipe.Set(ctx, SessionPrefix+snapshot.UserID, data, SessionTTL)

	if snapshot.State == models.SessionActive && snapshot.Location != nil && geoIndexable(snapshot.Location.Position) {
		pipe.GeoAdd(ctx, ActiveSessionsGeoKey, &redis.GeoLocation{
			Name:      snapshot.UserID,
			Latitude:  snapshot.Location.Position.Latitude,
			Longitude: snapshot.Location.Position.Longitude,
		})
	} else {
		pipe.ZRem(ctx, ActiveSessionsGeoKey, snapshot.UserID)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		metrics.RedisOperationErrors.WithLabelValues("save_session").Inc()
		return fmt.Errorf("failed to save session state: %w", err)
	}

	metrics.RedisOperationDuration.WithLabelValues("save_session").Observe(time.Since(start).Seconds())
	return nil
}

// GetSessionState возвращает сохраненное состояние сессии пользователя
func (r *RedisRepository) GetSessionState(ctx context.Context, userID string) (*models.SessionSnapshot, error) {
	start := time.Now()

	data, err := r.client.Get(ctx, SessionPrefix+userID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		metrics.RedisOperationErrors.WithLabelValues("get_session").Inc()
		return nil, fmt.Errorf("failed to get session state: %w", err)
	}

	var record sessionRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session record: %w", err)
	}

	metrics.RedisOperationDuration.WithLabelValues("get_session").Observe(time.Since(start).Seconds())

	return &models.SessionSnapshot{
		SessionID:       record.SessionID,
		UserID:          record.UserID,
		Activity:        record.Activity,
		State:           record.State,
		Location:        record.Location,
		TotalDistanceKm: record.TotalDistanceKm,
		StartedAt:       record.StartedAt,
		StoppedAt:       record.StoppedAt,
		SamplesAccepted: record.SamplesAccepted,
		SamplesRejected: record.SamplesRejected,
	}, nil
}

// RemoveActiveSession убирает пользователя из геоиндекса активных сессий
func (r *RedisRepository) RemoveActiveSession(ctx context.Context, userID string) error {
	if err := r.client.ZRem(ctx, ActiveSessionsGeoKey, userID).Err(); err != nil {
		metrics.RedisOperationErrors.WithLabelValues("remove_active").Inc()
		return fmt.Errorf("failed to remove active session: %w", err)
	}
	return nil
}

// AppendTrackPoint добавляет точку в трек забега с ограничением длины списка
func (r *RedisRepository) AppendTrackPoint(ctx context.Context, sessionID string, sample models.Sample) error {
	data, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("failed to marshal track point: %w", err)
	}

	key := TrackPrefix + sessionID
	pipe := r.client.Pipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, int64(-r.maxTrackPoints), -1)
	pipe.Expire(ctx, key, TrackTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		metrics.RedisOperationErrors.WithLabelValues("append_track").Inc()
		return fmt.Errorf("failed to append track point: %w", err)
	}
	return nil
}

// GetTrack возвращает сохраненные точки трека забега в хронологическом порядке
func (r *RedisRepository) GetTrack(ctx context.Context, sessionID string) ([]models.Sample, error) {
	raw, err := r.client.LRange(ctx, TrackPrefix+sessionID, 0, -1).Result()
	if err != nil {
		metrics.RedisOperationErrors.WithLabelValues("get_track").Inc()
		return nil, fmt.Errorf("failed to get track: %w", err)
	}

	points := make([]models.Sample, 0, len(raw))
	for _, item := range raw {
		var sample models.Sample
		if err := json.Unmarshal([]byte(item), &sample); err != nil {
			r.logger.WithField("error", err).Warn("Skipping corrupted track point")
			continue
		}
		points = append(points, sample)
	}
	return points, nil
}

// GetNearbyMovers возвращает активные сессии в радиусе от точки
func (r *RedisRepository) GetNearbyMovers(ctx context.Context, center models.GeoPoint, radiusKm float64) ([]*ActiveMover, error) {
	start := time.Now()

	locations, err := r.client.GeoSearchLocation(ctx, ActiveSessionsGeoKey, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  center.Longitude,
			Latitude:   center.Latitude,
			Radius:     radiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
		},
		WithCoord: true,
		WithDist:  true,
	}).Result()
	if err != nil {
		metrics.RedisOperationErrors.WithLabelValues("nearby").Inc()
		return nil, fmt.Errorf("failed to search nearby movers: %w", err)
	}

	movers := make([]*ActiveMover, 0, len(locations))
	for _, loc := range locations {
		mover := &ActiveMover{
			UserID: loc.Name,
			Position: models.GeoPoint{
				Latitude:  loc.Latitude,
				Longitude: loc.Longitude,
			},
			DistanceKm: loc.Dist,
			Activity:   models.ActivityUnknown,
		}

		// Активность дочитывается из состояния сессии, потеря не критична
		if state, err := r.GetSessionState(ctx, loc.Name); err == nil && state != nil {
			mover.Activity = state.Activity
		}

		movers = append(movers, mover)
	}

	metrics.RedisOperationDuration.WithLabelValues("nearby").Observe(time.Since(start).Seconds())
	return movers, nil
}

// AddRegionDistance зачитывает дистанцию пользователю в региональном зачете
func (r *RedisRepository) AddRegionDistance(ctx context.Context, region, userID string, distanceKm float64) error {
	if distanceKm <= 0 {
		return nil
	}

	key := LeaderboardPrefix + region
	pipe := r.client.Pipeline()
	pipe.ZIncrBy(ctx, key, distanceKm, userID)
	pipe.Expire(ctx, key, LeaderboardTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		metrics.RedisOperationErrors.WithLabelValues("region_distance").Inc()
		return fmt.Errorf("failed to add region distance: %w", err)
	}
	return nil
}

// GetRegionLeaders возвращает лидеров регионального зачета по дистанции
func (r *RedisRepository) GetRegionLeaders(ctx context.Context, region string, limit int) ([]LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 10
	}

	results, err := r.client.ZRevRangeWithScores(ctx, LeaderboardPrefix+region, 0, int64(limit-1)).Result()
	if err != nil {
		metrics.RedisOperationErrors.WithLabelValues("region_leaders").Inc()
		return nil, fmt.Errorf("failed to get region leaders: %w", err)
	}

	entries := make([]LeaderboardEntry, 0, len(results))
	for _, item := range results {
		userID, ok := item.Member.(string)
		if !ok {
			continue
		}
		entries = append(entries, LeaderboardEntry{
			UserID:     userID,
			DistanceKm: item.Score,
		})
	}
	return entries, nil
}

// GetStats возвращает статистику хранилища
func (r *RedisRepository) GetStats(ctx context.Context) (map[string]interface{}, error) {
	active, err := r.client.ZCard(ctx, ActiveSessionsGeoKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}

	return map[string]interface{}{
		"active_sessions_indexed": active,
	}, nil
}

// geoIndexable проверяет, помещаются ли координаты в Redis GEO индекс.
// Ограничение Redis GEO: lat в [-85.05112878, 85.05112878]
func geoIndexable(p models.GeoPoint) bool {
	if math.IsNaN(p.Latitude) || math.IsNaN(p.Longitude) ||
		math.IsInf(p.Latitude, 0) || math.IsInf(p.Longitude, 0) {
		return false
	}
	return p.Latitude >= -85.05112878 && p.Latitude <= 85.05112878 &&
		p.Longitude >= -180 && p.Longitude <= 180
}
