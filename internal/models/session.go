package models

import (
	"time"
)

// SessionState состояние сессии отслеживания
type SessionState string

const (
	SessionIdle   SessionState = "idle"
	SessionActive SessionState = "active"
)

// SessionSnapshot неизменяемый срез состояния сессии для потребителей
// (карта, статистика, начисление наград). История копируется при снятии среза.
type SessionSnapshot struct {
	SessionID string       `json:"session_id"`
	UserID    string       `json:"user_id"`
	Activity  ActivityType `json:"activity"`
	State     SessionState `json:"state"`

	// Отображаемая текущая позиция. Двигается и сэмплами ниже порога
	// минимального перемещения, и одноразовым чтением источника при старте,
	// поэтому может не совпадать с последней точкой History. nil, пока
	// позиция неизвестна
	Location *Sample `json:"location,omitempty"`

	// Принятые сэмплы в хронологическом порядке
	History []Sample `json:"history"`

	// Сумма Haversine-расстояний последовательных пар History
	TotalDistanceKm float64 `json:"total_distance_km"`

	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at,omitempty"`

	SamplesAccepted int `json:"samples_accepted"`
	SamplesRejected int `json:"samples_rejected"`
}

// IsTracking сообщает, идет ли накопление дистанции
func (s *SessionSnapshot) IsTracking() bool {
	return s.State == SessionActive
}

// Duration возвращает продолжительность сессии
func (s *SessionSnapshot) Duration() time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	end := s.StoppedAt
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(s.StartedAt)
}

// ReconstructedDistanceKm пересчитывает дистанцию по истории.
// Для корректной сессии совпадает с TotalDistanceKm с точностью до float.
func (s *SessionSnapshot) ReconstructedDistanceKm() float64 {
	if len(s.History) < 2 {
		return 0
	}

	total := 0.0
	for i := 1; i < len(s.History); i++ {
		total += s.History[i-1].Position.DistanceTo(s.History[i].Position)
	}
	return total
}

// SessionSummary итог завершенной сессии для истории и начисления наград
type SessionSummary struct {
	SessionID       string       `json:"session_id"`
	UserID          string       `json:"user_id"`
	Activity        ActivityType `json:"activity"`
	StartedAt       time.Time    `json:"started_at"`
	StoppedAt       time.Time    `json:"stopped_at"`
	TotalDistanceKm float64      `json:"total_distance_km"`
	SamplesAccepted int          `json:"samples_accepted"`
	SamplesRejected int          `json:"samples_rejected"`
}
