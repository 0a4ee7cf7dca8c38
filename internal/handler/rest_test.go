package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/movearn/tracking-backend/internal/models"
	"github.com/movearn/tracking-backend/internal/repository"
	"github.com/movearn/tracking-backend/internal/session"
	"github.com/movearn/tracking-backend/pkg/utils"
)

// MockLiveRepository для тестирования
type MockLiveRepository struct {
	mock.Mock
}

func (m *MockLiveRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockLiveRepository) Close() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockLiveRepository) SaveSessionState(ctx context.Context, snapshot *models.SessionSnapshot) error {
	args := m.Called(ctx, snapshot)
	return args.Error(0)
}

func (m *MockLiveRepository) GetSessionState(ctx context.Context, userID string) (*models.SessionSnapshot, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SessionSnapshot), args.Error(1)
}

func (m *MockLiveRepository) RemoveActiveSession(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *MockLiveRepository) AppendTrackPoint(ctx context.Context, sessionID string, sample models.Sample) error {
	args := m.Called(ctx, sessionID, sample)
	return args.Error(0)
}

func (m *MockLiveRepository) GetTrack(ctx context.Context, sessionID string) ([]models.Sample, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Sample), args.Error(1)
}

func (m *MockLiveRepository) GetNearbyMovers(ctx context.Context, center models.GeoPoint, radiusKm float64) ([]*repository.ActiveMover, error) {
	args := m.Called(ctx, center, radiusKm)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*repository.ActiveMover), args.Error(1)
}

func (m *MockLiveRepository) AddRegionDistance(ctx context.Context, region, userID string, distanceKm float64) error {
	args := m.Called(ctx, region, userID, distanceKm)
	return args.Error(0)
}

func (m *MockLiveRepository) GetRegionLeaders(ctx context.Context, region string, limit int) ([]repository.LeaderboardEntry, error) {
	args := m.Called(ctx, region, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]repository.LeaderboardEntry), args.Error(1)
}

func (m *MockLiveRepository) GetStats(ctx context.Context) (map[string]interface{}, error) {
	args := m.Called(ctx)
	return args.Get(0).(map[string]interface{}), args.Error(1)
}

// MockHistoryRepository для тестирования
type MockHistoryRepository struct {
	mock.Mock
}

func (m *MockHistoryRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockHistoryRepository) Close() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockHistoryRepository) SaveSessionSummary(ctx context.Context, summary *models.SessionSummary) error {
	args := m.Called(ctx, summary)
	return args.Error(0)
}

func (m *MockHistoryRepository) GetSessionSummary(ctx context.Context, sessionID string) (*models.SessionSummary, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SessionSummary), args.Error(1)
}

func (m *MockHistoryRepository) GetUserSessions(ctx context.Context, userID string, limit int) ([]*models.SessionSummary, error) {
	args := m.Called(ctx, userID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.SessionSummary), args.Error(1)
}

func (m *MockHistoryRepository) SaveTrackPointsBatch(ctx context.Context, sessionID string, points []models.Sample) error {
	args := m.Called(ctx, sessionID, points)
	return args.Error(0)
}

func (m *MockHistoryRepository) GetSessionTrack(ctx context.Context, sessionID string, limit int) ([]models.Sample, error) {
	args := m.Called(ctx, sessionID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Sample), args.Error(1)
}

func (m *MockHistoryRepository) CleanupOldTracks(ctx context.Context, olderThan time.Duration) error {
	args := m.Called(ctx, olderThan)
	return args.Error(0)
}

func (m *MockHistoryRepository) GetStats(ctx context.Context) (map[string]interface{}, error) {
	args := m.Called(ctx)
	return args.Get(0).(map[string]interface{}), args.Error(1)
}

// authStub подставляет user_id в контекст вместо настоящего middleware
func authStub(userID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("user_id", userID)
		c.Next()
	}
}

func setupTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}

func newTestHandler(live repository.LiveRepository, history repository.HistoryRepository) (*RESTHandler, *session.Manager) {
	logger := utils.NewLogger("error", "text")
	manager := session.NewManager(nil, nil, session.Hooks{}, time.Hour, logger)
	return NewRESTHandler(manager, live, history, logger), manager
}

func TestRESTHandler_StartSession(t *testing.T) {
	mockLive := &MockLiveRepository{}
	handler, _ := newTestHandler(mockLive, nil)

	router := setupTestRouter()
	router.POST("/api/v1/sessions/start", authStub("user-1"), handler.StartSession)

	body := bytes.NewBufferString(`{"activity":"run"}`)
	req := httptest.NewRequest("POST", "/api/v1/sessions/start", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)

	var response struct {
		Session models.SessionSnapshot `json:"session"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))

	assert.Equal(t, "user-1", response.Session.UserID)
	assert.Equal(t, models.ActivityRun, response.Session.Activity)
	assert.Equal(t, models.SessionActive, response.Session.State)
	assert.NotEmpty(t, response.Session.SessionID)
	assert.Zero(t, response.Session.TotalDistanceKm)
}

func TestRESTHandler_StartSession_Unauthorized(t *testing.T) {
	mockLive := &MockLiveRepository{}
	handler, _ := newTestHandler(mockLive, nil)

	router := setupTestRouter()
	router.POST("/api/v1/sessions/start", handler.StartSession)

	body := bytes.NewBufferString(`{"activity":"run"}`)
	req := httptest.NewRequest("POST", "/api/v1/sessions/start", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRESTHandler_StopSession_NoSession(t *testing.T) {
	mockLive := &MockLiveRepository{}
	handler, _ := newTestHandler(mockLive, nil)

	router := setupTestRouter()
	router.POST("/api/v1/sessions/stop", authStub("user-1"), handler.StopSession)

	req := httptest.NewRequest("POST", "/api/v1/sessions/stop", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRESTHandler_SessionLifecycle(t *testing.T) {
	mockLive := &MockLiveRepository{}
	handler, manager := newTestHandler(mockLive, nil)

	router := setupTestRouter()
	router.POST("/api/v1/sessions/start", authStub("user-1"), handler.StartSession)
	router.POST("/api/v1/position", authStub("user-1"), handler.PostPosition)
	router.POST("/api/v1/sessions/stop", authStub("user-1"), handler.StopSession)
	router.GET("/api/v1/sessions/current", authStub("user-1"), handler.GetCurrentSession)

	// Старт
	startBody := bytes.NewBufferString(`{"activity":"walk"}`)
	req := httptest.NewRequest("POST", "/api/v1/sessions/start", startBody)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	// Две позиции на расстоянии около 111 метров за минуту
	base := time.Now().Add(-2 * time.Minute)
	positions := []string{
		fmt.Sprintf(`{"lat":46.0,"lon":8.0,"timestamp":%d}`, base.UnixMilli()),
		fmt.Sprintf(`{"lat":46.001,"lon":8.0,"timestamp":%d}`, base.Add(time.Minute).UnixMilli()),
	}
	for _, p := range positions {
		req = httptest.NewRequest("POST", "/api/v1/position", bytes.NewBufferString(p))
		req.Header.Set("Content-Type", "application/json")
		w = httptest.NewRecorder()
		router.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
	}

	// Текущее состояние содержит накопленную дистанцию
	req = httptest.NewRequest("GET", "/api/v1/sessions/current", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var current struct {
		Session models.SessionSnapshot `json:"session"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &current))
	assert.Equal(t, 2, current.Session.SamplesAccepted)
	assert.InDelta(t, 0.111, current.Session.TotalDistanceKm, 0.002)

	// Стоп возвращает итог
	req = httptest.NewRequest("POST", "/api/v1/sessions/stop", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var stopped struct {
		Summary models.SessionSummary `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stopped))
	assert.Equal(t, "user-1", stopped.Summary.UserID)
	assert.InDelta(t, 0.111, stopped.Summary.TotalDistanceKm, 0.002)

	// Сессия после остановки заморожена
	snapshot, err := manager.Snapshot("user-1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionIdle, snapshot.State)
}

func TestRESTHandler_PostPosition_NoSession(t *testing.T) {
	mockLive := &MockLiveRepository{}
	handler, _ := newTestHandler(mockLive, nil)

	router := setupTestRouter()
	router.POST("/api/v1/position", authStub("user-1"), handler.PostPosition)

	body := bytes.NewBufferString(fmt.Sprintf(`{"lat":46.0,"lon":8.0,"timestamp":%d}`, time.Now().UnixMilli()))
	req := httptest.NewRequest("POST", "/api/v1/position", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRESTHandler_PostPosition_InvalidSample(t *testing.T) {
	mockLive := &MockLiveRepository{}
	handler, manager := newTestHandler(mockLive, nil)

	_, err := manager.Start(context.Background(), "user-1", models.ActivityRun)
	require.NoError(t, err)

	router := setupTestRouter()
	router.POST("/api/v1/position", authStub("user-1"), handler.PostPosition)

	// Широта за пределами диапазона
	body := bytes.NewBufferString(fmt.Sprintf(`{"lat":95.0,"lon":8.0,"timestamp":%d}`, time.Now().UnixMilli()))
	req := httptest.NewRequest("POST", "/api/v1/position", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "invalid_sample", response["code"])
}

func TestRESTHandler_PostPosition_SessionStopped(t *testing.T) {
	mockLive := &MockLiveRepository{}
	handler, manager := newTestHandler(mockLive, nil)

	_, err := manager.Start(context.Background(), "user-1", models.ActivityRun)
	require.NoError(t, err)
	_, err = manager.Stop("user-1")
	require.NoError(t, err)

	router := setupTestRouter()
	router.POST("/api/v1/position", authStub("user-1"), handler.PostPosition)

	body := bytes.NewBufferString(fmt.Sprintf(`{"lat":46.0,"lon":8.0,"timestamp":%d}`, time.Now().UnixMilli()))
	req := httptest.NewRequest("POST", "/api/v1/position", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	// Остановленная сессия отличима от отсутствующей
	assert.Equal(t, http.StatusConflict, w.Code)

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "session_not_active", response["code"])
}

func TestRESTHandler_GetSessionTrack_Owner(t *testing.T) {
	mockLive := &MockLiveRepository{}
	handler, manager := newTestHandler(mockLive, nil)

	snapshot, err := manager.Start(context.Background(), "user-1", models.ActivityRun)
	require.NoError(t, err)

	points := []models.Sample{
		{Position: models.GeoPoint{Latitude: 46.0, Longitude: 8.0}, Timestamp: time.Now()},
	}
	mockLive.On("GetTrack", mock.Anything, snapshot.SessionID).Return(points, nil)

	router := setupTestRouter()
	router.GET("/api/v1/sessions/:id/track", authStub("user-1"), handler.GetSessionTrack)

	req := httptest.NewRequest("GET", "/api/v1/sessions/"+snapshot.SessionID+"/track", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, float64(1), response["count"])
}

func TestRESTHandler_GetSessionTrack_NotOwner(t *testing.T) {
	mockLive := &MockLiveRepository{}
	handler, manager := newTestHandler(mockLive, nil)

	// Активный забег другого пользователя
	snapshot, err := manager.Start(context.Background(), "someone-else", models.ActivityRun)
	require.NoError(t, err)

	points := []models.Sample{
		{Position: models.GeoPoint{Latitude: 46.0, Longitude: 8.0}, Timestamp: time.Now()},
	}
	mockLive.On("GetTrack", mock.Anything, snapshot.SessionID).Return(points, nil)

	router := setupTestRouter()
	router.GET("/api/v1/sessions/:id/track", authStub("user-1"), handler.GetSessionTrack)

	req := httptest.NewRequest("GET", "/api/v1/sessions/"+snapshot.SessionID+"/track", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	// Чужой горячий трек выглядит как несуществующий
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRESTHandler_GetNearbyMovers(t *testing.T) {
	mockLive := &MockLiveRepository{}
	handler, _ := newTestHandler(mockLive, nil)

	center := models.GeoPoint{Latitude: 46.0, Longitude: 8.0}
	movers := []*repository.ActiveMover{
		{
			UserID:     "user-2",
			Position:   models.GeoPoint{Latitude: 46.01, Longitude: 8.0},
			Activity:   models.ActivityRide,
			DistanceKm: 1.1,
		},
	}
	mockLive.On("GetNearbyMovers", mock.Anything, center, 10.0).Return(movers, nil)

	router := setupTestRouter()
	router.GET("/api/v1/nearby", handler.GetNearbyMovers)

	req := httptest.NewRequest("GET", "/api/v1/nearby?lat=46.0&lon=8.0&radius=10", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, float64(1), response["count"])

	mockLive.AssertExpectations(t)
}

func TestRESTHandler_GetNearbyMovers_InvalidParams(t *testing.T) {
	mockLive := &MockLiveRepository{}
	handler, _ := newTestHandler(mockLive, nil)

	router := setupTestRouter()
	router.GET("/api/v1/nearby", handler.GetNearbyMovers)

	tests := []struct {
		name         string
		queryParams  string
		expectedCode string
	}{
		{
			name:         "Missing latitude",
			queryParams:  "lon=8.0&radius=10",
			expectedCode: "invalid_latitude",
		},
		{
			name:         "Latitude too high",
			queryParams:  "lat=91.0&lon=8.0&radius=10",
			expectedCode: "invalid_latitude",
		},
		{
			name:         "Longitude too low",
			queryParams:  "lat=46.0&lon=-181.0&radius=10",
			expectedCode: "invalid_longitude",
		},
		{
			name:         "Radius too large",
			queryParams:  "lat=46.0&lon=8.0&radius=101",
			expectedCode: "invalid_radius",
		},
		{
			name:         "Missing radius",
			queryParams:  "lat=46.0&lon=8.0",
			expectedCode: "invalid_radius",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/v1/nearby?"+tt.queryParams, nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusBadRequest, w.Code)

			var response map[string]interface{}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
			assert.Equal(t, tt.expectedCode, response["code"])
		})
	}
}

func TestRESTHandler_GetLeaderboard_ByRegion(t *testing.T) {
	mockLive := &MockLiveRepository{}
	handler, _ := newTestHandler(mockLive, nil)

	leaders := []repository.LeaderboardEntry{
		{UserID: "user-1", DistanceKm: 42.5},
		{UserID: "user-2", DistanceKm: 17.3},
	}
	mockLive.On("GetRegionLeaders", mock.Anything, "u0qj", 10).Return(leaders, nil)

	router := setupTestRouter()
	router.GET("/api/v1/leaderboard", handler.GetLeaderboard)

	req := httptest.NewRequest("GET", "/api/v1/leaderboard?region=u0qj", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response struct {
		Region  string                         `json:"region"`
		Leaders []repository.LeaderboardEntry `json:"leaders"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "u0qj", response.Region)
	require.Len(t, response.Leaders, 2)
	assert.Equal(t, "user-1", response.Leaders[0].UserID)

	mockLive.AssertExpectations(t)
}

func TestRESTHandler_GetLeaderboard_ByCoordinates(t *testing.T) {
	mockLive := &MockLiveRepository{}
	handler, _ := newTestHandler(mockLive, nil)

	// Регион вычисляется как geohash точки
	point := models.GeoPoint{Latitude: 46.0, Longitude: 8.0}
	region := point.Geohash(leaderboardGeohashPrecision)

	mockLive.On("GetRegionLeaders", mock.Anything, region, 10).Return([]repository.LeaderboardEntry{}, nil)

	router := setupTestRouter()
	router.GET("/api/v1/leaderboard", handler.GetLeaderboard)

	req := httptest.NewRequest("GET", "/api/v1/leaderboard?lat=46.0&lon=8.0", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	mockLive.AssertExpectations(t)
}

func TestRESTHandler_GetSessionHistory(t *testing.T) {
	mockLive := &MockLiveRepository{}
	mockHistory := &MockHistoryRepository{}
	handler, _ := newTestHandler(mockLive, mockHistory)

	sessions := []*models.SessionSummary{
		{SessionID: "ses-1", UserID: "user-1", Activity: models.ActivityRun, TotalDistanceKm: 5.0},
	}
	mockHistory.On("GetUserSessions", mock.Anything, "user-1", 20).Return(sessions, nil)

	router := setupTestRouter()
	router.GET("/api/v1/sessions", authStub("user-1"), handler.GetSessionHistory)

	req := httptest.NewRequest("GET", "/api/v1/sessions", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, float64(1), response["count"])

	mockHistory.AssertExpectations(t)
}

func TestRESTHandler_GetSessionHistory_NoStorage(t *testing.T) {
	mockLive := &MockLiveRepository{}
	handler, _ := newTestHandler(mockLive, nil)

	router := setupTestRouter()
	router.GET("/api/v1/sessions", authStub("user-1"), handler.GetSessionHistory)

	req := httptest.NewRequest("GET", "/api/v1/sessions", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRESTHandler_GetSession_NotOwner(t *testing.T) {
	mockLive := &MockLiveRepository{}
	mockHistory := &MockHistoryRepository{}
	handler, _ := newTestHandler(mockLive, mockHistory)

	summary := &models.SessionSummary{SessionID: "ses-1", UserID: "someone-else"}
	mockHistory.On("GetSessionSummary", mock.Anything, "ses-1").Return(summary, nil)

	router := setupTestRouter()
	router.GET("/api/v1/sessions/:id", authStub("user-1"), handler.GetSession)

	req := httptest.NewRequest("GET", "/api/v1/sessions/ses-1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	// Чужая сессия выглядит как несуществующая
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRESTHandler_HealthCheck(t *testing.T) {
	mockLive := &MockLiveRepository{}
	handler, _ := newTestHandler(mockLive, nil)

	mockLive.On("Ping", mock.Anything).Return(nil)

	router := setupTestRouter()
	router.GET("/health", handler.HealthCheck)

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "ok", response["status"])
	assert.Equal(t, true, response["redis"])
}
