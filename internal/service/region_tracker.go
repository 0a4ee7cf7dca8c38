package service

import (
	"context"
	"sync"
	"time"

	"github.com/movearn/tracking-backend/internal/models"
	"github.com/movearn/tracking-backend/internal/repository"
	"github.com/movearn/tracking-backend/pkg/utils"
)

// Точность geohash для региональных лидербордов. Ячейка precision 4 это
// примерно 39x20 км, достаточно для масштаба "город/район".
const regionGeohashPrecision = 4

// RegionTracker привязывает засчитанную дистанцию к географическим регионам
// (ячейкам geohash) и ведет по ним лидерборды пользователей.
type RegionTracker struct {
	mu      sync.RWMutex
	live    repository.LiveRepository
	logger  *utils.Logger
	regions map[string]string // sessionID -> текущий geohash региона
}

// NewRegionTracker создает трекер регионов
func NewRegionTracker(live repository.LiveRepository, logger *utils.Logger) *RegionTracker {
	return &RegionTracker{
		live:    live,
		logger:  logger,
		regions: make(map[string]string),
	}
}

// RecordMovement засчитывает отрезок дистанции текущему региону сессии.
// При пересечении границы ячейки geohash регион сессии обновляется.
func (rt *RegionTracker) RecordMovement(ctx context.Context, snapshot *models.SessionSnapshot, legKm float64) {
	if snapshot == nil || snapshot.Location == nil || legKm <= 0 {
		return
	}

	region := snapshot.Location.Position.Geohash(regionGeohashPrecision)

	rt.mu.Lock()
	prev, known := rt.regions[snapshot.SessionID]
	if region != prev {
		rt.regions[snapshot.SessionID] = region
	}
	rt.mu.Unlock()

	if known && region != prev {
		rt.logger.WithFields(map[string]interface{}{
			"session_id":  snapshot.SessionID,
			"user_id":     snapshot.UserID,
			"from_region": prev,
			"to_region":   region,
		}).Debug("Session crossed region boundary")
	}

	opCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := rt.live.AddRegionDistance(opCtx, region, snapshot.UserID, legKm); err != nil {
		rt.logger.WithFields(map[string]interface{}{
			"region":  region,
			"user_id": snapshot.UserID,
			"error":   err,
		}).Warn("Failed to credit distance to region leaderboard")
	}
}

// ForgetSession убирает сессию из карты регионов после остановки
func (rt *RegionTracker) ForgetSession(sessionID string) {
	rt.mu.Lock()
	delete(rt.regions, sessionID)
	rt.mu.Unlock()
}

// CurrentRegion возвращает текущий регион сессии, если он известен
func (rt *RegionTracker) CurrentRegion(sessionID string) (string, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	region, ok := rt.regions[sessionID]
	return region, ok
}
