package models

import (
	"fmt"
	"time"
)

// Sample представляет одно сырое показание позиции от источника
type Sample struct {
	Position GeoPoint `json:"position"`

	// Время показания от устройства, не время приема сервером
	Timestamp time.Time `json:"timestamp"`

	// Погрешность датчика в метрах, 0 = неизвестна
	AccuracyMeters float64 `json:"accuracy_meters,omitempty"`

	// Мгновенная скорость по данным датчика (м/с), 0 = неизвестна
	SpeedMps float64 `json:"speed_mps,omitempty"`
}

// Validate проверяет корректность сэмпла
func (s Sample) Validate() error {
	if err := s.Position.Validate(); err != nil {
		return fmt.Errorf("position: %w", err)
	}
	if s.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	if s.AccuracyMeters < 0 {
		return fmt.Errorf("accuracy must not be negative: %f", s.AccuracyMeters)
	}
	return nil
}

// ElapsedSince возвращает время, прошедшее с другого сэмпла
func (s Sample) ElapsedSince(prev Sample) time.Duration {
	return s.Timestamp.Sub(prev.Timestamp)
}
