package session

import (
	"github.com/movearn/tracking-backend/internal/models"
)

// EventType тип события сессии
type EventType string

const (
	// EventStarted сессия перешла в состояние active
	EventStarted EventType = "started"
	// EventSnapshot принят сэмпл, состояние обновлено
	EventSnapshot EventType = "snapshot"
	// EventRejection сэмпл отброшен фильтром (подозрительное перемещение)
	EventRejection EventType = "rejection"
	// EventStopped сессия завершена, снимок финальный
	EventStopped EventType = "stopped"
)

// Event событие жизненного цикла сессии для потребителей (WebSocket, UI)
type Event struct {
	Type     EventType               `json:"type"`
	UserID   string                  `json:"user_id"`
	Snapshot *models.SessionSnapshot `json:"snapshot,omitempty"`

	// Причина отказа для EventRejection
	Reason string `json:"reason,omitempty"`

	// Человекочитаемое пояснение ("suspicious movement detected...")
	Message string `json:"message,omitempty"`
}
