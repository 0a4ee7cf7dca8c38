package reward

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/movearn/tracking-backend/internal/metrics"
	"github.com/movearn/tracking-backend/internal/models"
)

// Sink отправляет итоги завершенных сессий в сервис начисления наград.
// Начисление токенов считается на стороне reward-сервиса, здесь только
// доставка итоговой дистанции.
type Sink struct {
	endpoint   string
	httpClient *http.Client
	maxRetries int
	retryDelay time.Duration
	logger     *logrus.Logger
}

// dispatchPayload тело запроса к reward-сервису
type dispatchPayload struct {
	SessionID       string  `json:"session_id"`
	UserID          string  `json:"user_id"`
	Activity        string  `json:"activity"`
	DistanceKm      float64 `json:"distance_km"`
	DurationSeconds int64   `json:"duration_seconds"`
	StartedAt       int64   `json:"started_at"`
	StoppedAt       int64   `json:"stopped_at"`
}

// NewSink создает sink для отправки итогов сессий.
// Пустой endpoint означает, что отправка отключена.
func NewSink(endpoint string, timeout time.Duration, maxRetries int, retryDelay time.Duration, logger *logrus.Logger) *Sink {
	return &Sink{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		logger:     logger,
	}
}

// Enabled сообщает, настроен ли reward-сервис
func (s *Sink) Enabled() bool {
	return s.endpoint != ""
}

// Dispatch отправляет итог сессии с повторами при сбоях
func (s *Sink) Dispatch(ctx context.Context, summary *models.SessionSummary) error {
	if !s.Enabled() {
		metrics.RewardDispatches.WithLabelValues("skipped").Inc()
		return nil
	}

	payload := dispatchPayload{
		SessionID:       summary.SessionID,
		UserID:          summary.UserID,
		Activity:        summary.Activity.String(),
		DistanceKm:      summary.TotalDistanceKm,
		DurationSeconds: int64(summary.StoppedAt.Sub(summary.StartedAt).Seconds()),
		StartedAt:       summary.StartedAt.UnixMilli(),
		StoppedAt:       summary.StoppedAt.UnixMilli(),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal reward payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(s.retryDelay):
			case <-ctx.Done():
				metrics.RewardDispatches.WithLabelValues("error").Inc()
				return ctx.Err()
			}
		}

		lastErr = s.post(ctx, body)
		if lastErr == nil {
			metrics.RewardDispatches.WithLabelValues("success").Inc()
			s.logger.WithFields(logrus.Fields{
				"session_id":  summary.SessionID,
				"user_id":     summary.UserID,
				"distance_km": summary.TotalDistanceKm,
			}).Info("Dispatched session summary to reward service")
			return nil
		}

		s.logger.WithFields(logrus.Fields{
			"session_id": summary.SessionID,
			"attempt":    attempt + 1,
			"error":      lastErr,
		}).Warn("Reward dispatch attempt failed")
	}

	metrics.RewardDispatches.WithLabelValues("error").Inc()
	return fmt.Errorf("reward dispatch failed after %d attempts: %w", s.maxRetries+1, lastErr)
}

// post выполняет один HTTP запрос к reward-сервису
func (s *Sink) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, "POST", s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "M2E-Tracking/1.0")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach reward service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return fmt.Errorf("reward service returned status %d: %s", resp.StatusCode, string(respBody))
}
