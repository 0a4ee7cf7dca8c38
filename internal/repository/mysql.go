package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/movearn/tracking-backend/internal/config"
	"github.com/movearn/tracking-backend/internal/metrics"
	"github.com/movearn/tracking-backend/internal/models"
	"github.com/movearn/tracking-backend/pkg/utils"
)

// MySQLRepository история завершенных сессий и их треков.
// Схема:
//
//	sessions(session_id PK, user_id, activity, started_at, stopped_at,
//	         distance_km, samples_accepted, samples_rejected)
//	track_points(id PK AUTO_INCREMENT, session_id, latitude, longitude,
//	             accuracy_m, speed_mps, recorded_at)
type MySQLRepository struct {
	db     *sql.DB
	logger *utils.Logger
	config *config.MySQLConfig
}

// NewMySQLRepository создает новый MySQL репозиторий
func NewMySQLRepository(cfg *config.MySQLConfig, logger *utils.Logger) (*MySQLRepository, error) {
	if cfg == nil {
		return nil, fmt.Errorf("mysql config cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("mysql DSN is required")
	}

	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	// Настройки connection pool
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(1 * time.Hour)

	return &MySQLRepository{
		db:     db,
		logger: logger,
		config: cfg,
	}, nil
}

// Ping проверяет соединение с MySQL
func (r *MySQLRepository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		metrics.MySQLConnectionStatus.Set(0)
		return err
	}
	metrics.MySQLConnectionStatus.Set(1)
	return nil
}

// Close закрывает соединение с MySQL
func (r *MySQLRepository) Close() error {
	return r.db.Close()
}

// SaveSessionSummary сохраняет итог завершенной сессии.
// Повторная запись того же session_id обновляет итог (идемпотентность при ретраях).
func (r *MySQLRepository) SaveSessionSummary(ctx context.Context, summary *models.SessionSummary) error {
	if summary == nil {
		return fmt.Errorf("summary cannot be nil")
	}

	query := `
		INSERT INTO sessions (
			session_id, user_id, activity, started_at, stopped_at,
			distance_km, samples_accepted, samples_rejected
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			stopped_at = VALUES(stopped_at),
			distance_km = VALUES(distance_km),
			samples_accepted = VALUES(samples_accepted),
			samples_rejected = VALUES(samples_rejected)
	`

	_, err := r.db.ExecContext(ctx, query,
		summary.SessionID, summary.UserID, summary.Activity.String(),
		summary.StartedAt, summary.StoppedAt,
		summary.TotalDistanceKm, summary.SamplesAccepted, summary.SamplesRejected,
	)
	if err != nil {
		metrics.MySQLWriteErrors.WithLabelValues("sessions").Inc()
		return fmt.Errorf("failed to save session summary: %w", err)
	}

	r.logger.WithFields(map[string]interface{}{
		"session_id":  summary.SessionID,
		"user_id":     summary.UserID,
		"distance_km": summary.TotalDistanceKm,
	}).Debug("Session summary saved to MySQL")

	return nil
}

// GetSessionSummary возвращает итог сессии по ее ID
func (r *MySQLRepository) GetSessionSummary(ctx context.Context, sessionID string) (*models.SessionSummary, error) {
	query := `
		SELECT session_id, user_id, activity, started_at, stopped_at,
		       distance_km, samples_accepted, samples_rejected
		FROM sessions
		WHERE session_id = ?
	`

	var (
		summary  models.SessionSummary
		activity string
	)

	err := r.db.QueryRowContext(ctx, query, sessionID).Scan(
		&summary.SessionID, &summary.UserID, &activity,
		&summary.StartedAt, &summary.StoppedAt,
		&summary.TotalDistanceKm, &summary.SamplesAccepted, &summary.SamplesRejected,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session summary: %w", err)
	}

	summary.Activity = models.ParseActivityType(activity)
	return &summary, nil
}

// GetUserSessions возвращает последние завершенные сессии пользователя
func (r *MySQLRepository) GetUserSessions(ctx context.Context, userID string, limit int) ([]*models.SessionSummary, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT session_id, user_id, activity, started_at, stopped_at,
		       distance_km, samples_accepted, samples_rejected
		FROM sessions
		WHERE user_id = ?
		ORDER BY stopped_at DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query user sessions: %w", err)
	}
	defer rows.Close()

	var summaries []*models.SessionSummary
	for rows.Next() {
		var (
			summary  models.SessionSummary
			activity string
		)
		err := rows.Scan(
			&summary.SessionID, &summary.UserID, &activity,
			&summary.StartedAt, &summary.StoppedAt,
			&summary.TotalDistanceKm, &summary.SamplesAccepted, &summary.SamplesRejected,
		)
		if err != nil {
			r.logger.WithField("error", err).Warn("Failed to scan session row")
			continue
		}
		summary.Activity = models.ParseActivityType(activity)
		summaries = append(summaries, &summary)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session rows: %w", err)
	}

	return summaries, nil
}

// SaveTrackPointsBatch сохраняет точки трека одной сессии одним INSERT
func (r *MySQLRepository) SaveTrackPointsBatch(ctx context.Context, sessionID string, points []models.Sample) error {
	if len(points) == 0 {
		return nil
	}

	start := time.Now()

	query := `
		INSERT INTO track_points (
			session_id, latitude, longitude, accuracy_m, speed_mps, recorded_at
		) VALUES ` + generatePlaceholders(len(points), 6)

	args := make([]interface{}, 0, len(points)*6)
	for _, p := range points {
		args = append(args,
			sessionID,
			p.Position.Latitude, p.Position.Longitude,
			p.AccuracyMeters, p.SpeedMps, p.Timestamp,
		)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		metrics.MySQLWriteErrors.WithLabelValues("track_points").Inc()
		return fmt.Errorf("failed to save track points batch: %w", err)
	}

	metrics.MySQLBatchSize.WithLabelValues("track_points").Observe(float64(len(points)))
	metrics.MySQLBatchDuration.WithLabelValues("track_points").Observe(time.Since(start).Seconds())

	return nil
}

// GetSessionTrack возвращает точки трека завершенной сессии
func (r *MySQLRepository) GetSessionTrack(ctx context.Context, sessionID string, limit int) ([]models.Sample, error) {
	if limit <= 0 {
		limit = 1000
	}

	query := `
		SELECT latitude, longitude, accuracy_m, speed_mps, recorded_at
		FROM track_points
		WHERE session_id = ?
		ORDER BY recorded_at ASC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query session track: %w", err)
	}
	defer rows.Close()

	var points []models.Sample
	for rows.Next() {
		var p models.Sample
		err := rows.Scan(
			&p.Position.Latitude, &p.Position.Longitude,
			&p.AccuracyMeters, &p.SpeedMps, &p.Timestamp,
		)
		if err != nil {
			r.logger.WithField("error", err).Warn("Failed to scan track point row")
			continue
		}
		points = append(points, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating track point rows: %w", err)
	}

	return points, nil
}

// CleanupOldTracks удаляет точки треков старше указанного возраста
func (r *MySQLRepository) CleanupOldTracks(ctx context.Context, olderThan time.Duration) error {
	cutoff := time.Now().Add(-olderThan)

	result, err := r.db.ExecContext(ctx,
		"DELETE FROM track_points WHERE recorded_at < ?", cutoff)
	if err != nil {
		return fmt.Errorf("failed to cleanup old tracks: %w", err)
	}

	if affected, err := result.RowsAffected(); err == nil && affected > 0 {
		r.logger.WithField("removed", affected).Info("Cleaned up old track points")
	}

	return nil
}

// GetStats возвращает статистику истории
func (r *MySQLRepository) GetStats(ctx context.Context) (map[string]interface{}, error) {
	var sessions, points int64

	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions").Scan(&sessions); err != nil {
		return nil, fmt.Errorf("failed to count sessions: %w", err)
	}
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM track_points").Scan(&points); err != nil {
		return nil, fmt.Errorf("failed to count track points: %w", err)
	}

	return map[string]interface{}{
		"sessions_total":     sessions,
		"track_points_total": points,
	}, nil
}

// generatePlaceholders строит "(?, ...), (?, ...)" для мультистрочного INSERT
func generatePlaceholders(rows, cols int) string {
	row := "(" + strings.TrimSuffix(strings.Repeat("?, ", cols), ", ") + ")"
	parts := make([]string, rows)
	for i := range parts {
		parts[i] = row
	}
	return strings.Join(parts, ", ")
}
