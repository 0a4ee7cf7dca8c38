package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/movearn/tracking-backend/internal/auth"
	"github.com/movearn/tracking-backend/internal/models"
	"github.com/movearn/tracking-backend/internal/repository"
	"github.com/movearn/tracking-backend/internal/session"
	"github.com/movearn/tracking-backend/pkg/utils"
)

// Точность geohash региона лидерборда, согласована с region tracker
const leaderboardGeohashPrecision = 4

// RESTHandler обработчик REST API endpoints
type RESTHandler struct {
	manager *session.Manager
	live    repository.LiveRepository
	// nil, если MySQL не сконфигурирован
	history repository.HistoryRepository
	logger  *utils.Logger
	timeout time.Duration
}

// NewRESTHandler создает новый REST handler
func NewRESTHandler(manager *session.Manager, live repository.LiveRepository, history repository.HistoryRepository, logger *utils.Logger) *RESTHandler {
	return &RESTHandler{
		manager: manager,
		live:    live,
		history: history,
		logger:  logger,
		timeout: 30 * time.Second,
	}
}

// HealthCheck возвращает состояние сервиса и его зависимостей
// GET /health
func (h *RESTHandler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	redisOK := h.live.Ping(ctx) == nil
	mysqlOK := true
	if h.history != nil {
		mysqlOK = h.history.Ping(ctx) == nil
	}

	status := http.StatusOK
	if !redisOK {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"status":    map[bool]string{true: "ok", false: "degraded"}[redisOK && mysqlOK],
		"redis":     redisOK,
		"mysql":     mysqlOK,
		"sessions":  h.manager.Stats(),
		"timestamp": time.Now().Unix(),
	})
}

// startSessionRequest тело запроса на старт сессии
type startSessionRequest struct {
	Activity string `json:"activity"`
}

// StartSession запускает сессию отслеживания для текущего пользователя
// POST /api/v1/sessions/start
func (h *RESTHandler) StartSession(c *gin.Context) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":    "unauthorized",
			"message": "Authentication required",
		})
		return
	}

	var req startSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "invalid_body",
			"message": "Request body must be valid JSON",
		})
		return
	}

	activity := models.ParseActivityType(req.Activity)

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	snapshot, err := h.manager.Start(ctx, userID, activity)
	if err != nil {
		h.logger.WithFields(map[string]interface{}{
			"user_id": userID,
			"error":   err,
		}).Error("Failed to start tracking session")
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "start_failed",
			"message": "Failed to start tracking session",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"session": snapshot})
}

// StopSession завершает активную сессию пользователя
// POST /api/v1/sessions/stop
func (h *RESTHandler) StopSession(c *gin.Context) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":    "unauthorized",
			"message": "Authentication required",
		})
		return
	}

	summary, err := h.manager.Stop(userID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "session_not_found",
			"message": "No tracking session for user",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"summary": summary})
}

// GetCurrentSession возвращает снимок текущей сессии пользователя
// GET /api/v1/sessions/current
func (h *RESTHandler) GetCurrentSession(c *gin.Context) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":    "unauthorized",
			"message": "Authentication required",
		})
		return
	}

	snapshot, err := h.manager.Snapshot(userID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "session_not_found",
			"message": "No tracking session for user",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"session": snapshot})
}

// GetSessionHistory возвращает завершенные сессии пользователя
// GET /api/v1/sessions?limit=20
func (h *RESTHandler) GetSessionHistory(c *gin.Context) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":    "unauthorized",
			"message": "Authentication required",
		})
		return
	}

	if h.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"code":    "history_unavailable",
			"message": "Session history storage is not configured",
		})
		return
	}

	limit := 20
	if v := c.Query("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 || parsed > 100 {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "invalid_limit",
				"message": "Limit must be between 1 and 100",
			})
			return
		}
		limit = parsed
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	sessions, err := h.history.GetUserSessions(ctx, userID, limit)
	if err != nil {
		h.logger.WithField("error", err).Error("Failed to get user sessions")
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "internal_error",
			"message": "Failed to retrieve sessions",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// GetSession возвращает итог завершенной сессии
// GET /api/v1/sessions/:id
func (h *RESTHandler) GetSession(c *gin.Context) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":    "unauthorized",
			"message": "Authentication required",
		})
		return
	}

	if h.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"code":    "history_unavailable",
			"message": "Session history storage is not configured",
		})
		return
	}

	sessionID := c.Param("id")

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	summary, err := h.history.GetSessionSummary(ctx, sessionID)
	if err != nil {
		h.logger.WithField("error", err).Error("Failed to get session summary")
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "internal_error",
			"message": "Failed to retrieve session",
		})
		return
	}

	if summary == nil || !h.canViewSession(c, summary.UserID, userID) {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "session_not_found",
			"message": "Session not found",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"summary": summary})
}

// GetSessionTrack возвращает трек сессии.
// Для текущего забега точки читаются из Redis, для завершенного из MySQL.
// GET /api/v1/sessions/:id/track?limit=1000
func (h *RESTHandler) GetSessionTrack(c *gin.Context) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":    "unauthorized",
			"message": "Authentication required",
		})
		return
	}

	sessionID := c.Param("id")

	limit := 1000
	if v := c.Query("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 || parsed > 10000 {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "invalid_limit",
				"message": "Limit must be between 1 and 10000",
			})
			return
		}
		limit = parsed
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	// Сначала горячий трек текущего забега
	points, err := h.live.GetTrack(ctx, sessionID)
	if err != nil {
		h.logger.WithField("error", err).Error("Failed to get live track")
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "internal_error",
			"message": "Failed to retrieve track",
		})
		return
	}

	if len(points) > 0 && !h.canViewLiveTrack(c, sessionID, userID) {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "session_not_found",
			"message": "Session not found",
		})
		return
	}

	if len(points) == 0 && h.history != nil {
		summary, err := h.history.GetSessionSummary(ctx, sessionID)
		if err != nil {
			h.logger.WithField("error", err).Error("Failed to get session summary")
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "internal_error",
				"message": "Failed to retrieve track",
			})
			return
		}
		if summary == nil || !h.canViewSession(c, summary.UserID, userID) {
			c.JSON(http.StatusNotFound, gin.H{
				"code":    "session_not_found",
				"message": "Session not found",
			})
			return
		}

		points, err = h.history.GetSessionTrack(ctx, sessionID, limit)
		if err != nil {
			h.logger.WithField("error", err).Error("Failed to get session track")
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "internal_error",
				"message": "Failed to retrieve track",
			})
			return
		}
	}

	if len(points) > limit {
		points = points[len(points)-limit:]
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id": sessionID,
		"points":     points,
		"count":      len(points),
	})
}

// positionRequest тело запроса с показанием позиции
type positionRequest struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
	// Unix миллисекунды от устройства
	Timestamp      int64   `json:"timestamp"`
	AccuracyMeters float64 `json:"accuracy_m"`
	SpeedMps       float64 `json:"speed_mps"`
}

// PostPosition принимает показание позиции через HTTP.
// Резервный канал для клиентов без MQTT.
// POST /api/v1/position
func (h *RESTHandler) PostPosition(c *gin.Context) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":    "unauthorized",
			"message": "Authentication required",
		})
		return
	}

	var req positionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "invalid_body",
			"message": "Request body must be valid JSON",
		})
		return
	}

	sample := models.Sample{
		Position: models.GeoPoint{
			Latitude:  req.Latitude,
			Longitude: req.Longitude,
		},
		Timestamp:      time.UnixMilli(req.Timestamp),
		AccuracyMeters: req.AccuracyMeters,
		SpeedMps:       req.SpeedMps,
	}

	if err := sample.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "invalid_sample",
			"message": err.Error(),
		})
		return
	}

	snapshot, err := h.manager.Ingest(userID, sample)
	if errors.Is(err, session.ErrNotActive) {
		c.JSON(http.StatusConflict, gin.H{
			"code":    "session_not_active",
			"message": "Tracking session is stopped, start a new one",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "session_not_found",
			"message": "No tracking session for user",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"session": snapshot})
}

// GetNearbyMovers возвращает активные сессии вокруг точки
// GET /api/v1/nearby?lat=46.5&lon=15.6&radius=10
func (h *RESTHandler) GetNearbyMovers(c *gin.Context) {
	lat, err := strconv.ParseFloat(c.Query("lat"), 64)
	if err != nil || lat < -90 || lat > 90 {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "invalid_latitude",
			"message": "Latitude must be between -90 and 90",
		})
		return
	}

	lon, err := strconv.ParseFloat(c.Query("lon"), 64)
	if err != nil || lon < -180 || lon > 180 {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "invalid_longitude",
			"message": "Longitude must be between -180 and 180",
		})
		return
	}

	radius, err := strconv.Atoi(c.Query("radius"))
	if err != nil || radius < 1 || radius > 100 {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "invalid_radius",
			"message": "Radius must be between 1 and 100 km",
		})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	center := models.GeoPoint{Latitude: lat, Longitude: lon}

	movers, err := h.live.GetNearbyMovers(ctx, center, float64(radius))
	if err != nil {
		h.logger.WithField("error", err).Error("Failed to get nearby movers")
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "internal_error",
			"message": "Failed to retrieve nearby movers",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"movers": movers,
		"count":  len(movers),
	})
}

// GetLeaderboard возвращает региональный зачет дистанции.
// Регион задается либо напрямую geohash, либо координатами.
// GET /api/v1/leaderboard?region=u2ed или ?lat=46.5&lon=15.6
func (h *RESTHandler) GetLeaderboard(c *gin.Context) {
	region := c.Query("region")
	if region == "" {
		lat, latErr := strconv.ParseFloat(c.Query("lat"), 64)
		lon, lonErr := strconv.ParseFloat(c.Query("lon"), 64)
		if latErr != nil || lonErr != nil || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "invalid_region",
				"message": "Either region or valid lat/lon is required",
			})
			return
		}
		point := models.GeoPoint{Latitude: lat, Longitude: lon}
		region = point.Geohash(leaderboardGeohashPrecision)
	}

	if len(region) > leaderboardGeohashPrecision {
		region = region[:leaderboardGeohashPrecision]
	}

	limit := 10
	if v := c.Query("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 || parsed > 100 {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "invalid_limit",
				"message": "Limit must be between 1 and 100",
			})
			return
		}
		limit = parsed
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	leaders, err := h.live.GetRegionLeaders(ctx, region, limit)
	if err != nil {
		h.logger.WithField("error", err).Error("Failed to get region leaders")
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "internal_error",
			"message": "Failed to retrieve leaderboard",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"region":  region,
		"leaders": leaders,
	})
}

// canViewLiveTrack проверяет право читать горячий трек. Владелец известен
// только менеджеру: Redis хранит трек по sessionID без пользователя.
func (h *RESTHandler) canViewLiveTrack(c *gin.Context, sessionID, requesterID string) bool {
	if snapshot, err := h.manager.Snapshot(requesterID); err == nil && snapshot.SessionID == sessionID {
		return true
	}
	if user, ok := auth.GetUser(c); ok && user.IsAdmin() {
		return true
	}
	return false
}

// canViewSession проверяет право смотреть чужую сессию
func (h *RESTHandler) canViewSession(c *gin.Context, ownerID, requesterID string) bool {
	if ownerID == requesterID {
		return true
	}
	if user, ok := auth.GetUser(c); ok && user.IsAdmin() {
		return true
	}
	return false
}
