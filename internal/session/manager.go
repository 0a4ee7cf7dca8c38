package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/movearn/tracking-backend/internal/filter"
	"github.com/movearn/tracking-backend/internal/models"
	"github.com/movearn/tracking-backend/internal/source"
	"github.com/movearn/tracking-backend/pkg/utils"
)

var (
	// ErrNoSession у пользователя нет сессии (ни активной, ни завершенной в памяти)
	ErrNoSession = errors.New("no tracking session for user")

	// ErrNotActive сессия пользователя не активна
	ErrNotActive = errors.New("tracking session is not active")
)

// Размер буфера канала подписчика событий. Медленный подписчик теряет
// промежуточные события, но не блокирует обработку сэмплов.
const subscriberBuffer = 64

// Manager реестр сессий отслеживания: одна сессия на пользователя.
// Создается в composition root и передается потребителям по ссылке,
// без глобального состояния уровня пакета.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*TrackingSession

	subMu       sync.RWMutex
	subscribers map[string]map[int]chan Event
	nextSubID   int

	plausibility *filter.PlausibilityFilter
	positions    source.PositionSource
	hooks        Hooks
	idleTTL      time.Duration
	logger       *utils.Logger
}

// NewManager создает менеджер сессий. positions может быть nil.
// hooks.OnEvent менеджер занимает под собственную шину событий;
// OnMovement и OnStop прокидываются в сессии как есть.
func NewManager(plausibility *filter.PlausibilityFilter, positions source.PositionSource, hooks Hooks, idleTTL time.Duration, logger *utils.Logger) *Manager {
	if plausibility == nil {
		plausibility = filter.NewPlausibilityFilter(nil)
	}
	if idleTTL <= 0 {
		idleTTL = 12 * time.Hour
	}

	m := &Manager{
		sessions:     make(map[string]*TrackingSession),
		subscribers:  make(map[string]map[int]chan Event),
		plausibility: plausibility,
		positions:    positions,
		idleTTL:      idleTTL,
		logger:       logger,
	}

	m.hooks = Hooks{
		OnEvent:    m.publish,
		OnMovement: hooks.OnMovement,
		OnStop:     hooks.OnStop,
	}

	return m
}

// Start запускает (или перезапускает) сессию пользователя.
// Для уже активной сессии возвращает текущий снимок без изменений.
func (m *Manager) Start(ctx context.Context, userID string, activity models.ActivityType) (*models.SessionSnapshot, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	m.mu.Lock()
	sess, ok := m.sessions[userID]
	// Смена активности между забегами требует новой сессии: от типа
	// активности зависят пороги фильтра
	if !ok || (!sess.IsActive() && sess.Activity() != activity) {
		sess = NewTrackingSession(userID, activity, m.plausibility, m.positions, m.hooks, m.logger)
		m.sessions[userID] = sess
	}
	m.mu.Unlock()

	if err := sess.Start(ctx); err != nil {
		return nil, err
	}

	return sess.Snapshot(), nil
}

// Ingest направляет сэмпл в активную сессию пользователя
func (m *Manager) Ingest(userID string, sample models.Sample) (*models.SessionSnapshot, error) {
	sess, err := m.get(userID)
	if err != nil {
		return nil, err
	}
	if !sess.IsActive() {
		return nil, ErrNotActive
	}

	sess.Ingest(sample)
	return sess.Snapshot(), nil
}

// Stop завершает сессию пользователя. Для уже завершенной возвращает nil summary.
func (m *Manager) Stop(userID string) (*models.SessionSummary, error) {
	sess, err := m.get(userID)
	if err != nil {
		return nil, err
	}
	return sess.Stop(), nil
}

// Snapshot возвращает срез состояния сессии пользователя
func (m *Manager) Snapshot(userID string) (*models.SessionSnapshot, error) {
	sess, err := m.get(userID)
	if err != nil {
		return nil, err
	}
	return sess.Snapshot(), nil
}

// Subscribe подписывает потребителя на события пользователя.
// Возвращенная функция отменяет подписку; канал закрывает менеджер.
func (m *Manager) Subscribe(userID string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	m.subMu.Lock()
	m.nextSubID++
	id := m.nextSubID
	if m.subscribers[userID] == nil {
		m.subscribers[userID] = make(map[int]chan Event)
	}
	m.subscribers[userID][id] = ch
	m.subMu.Unlock()

	cancel := func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		if subs, ok := m.subscribers[userID]; ok {
			if _, ok := subs[id]; ok {
				delete(subs, id)
				close(ch)
			}
			if len(subs) == 0 {
				delete(m.subscribers, userID)
			}
		}
	}

	return ch, cancel
}

// publish рассылает событие подписчикам пользователя без блокировки
func (m *Manager) publish(event Event) {
	m.subMu.RLock()
	defer m.subMu.RUnlock()

	for _, ch := range m.subscribers[event.UserID] {
		select {
		case ch <- event:
		default:
			// Подписчик не успевает, событие пропускается
		}
	}
}

// CleanupIdle выгружает Idle-сессии, завершенные раньше idleTTL.
// Снимок завершенного забега после выгрузки доступен только из хранилища.
func (m *Manager) CleanupIdle() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	removed := 0

	for userID, sess := range m.sessions {
		if sess.IsActive() {
			continue
		}
		// Сессии без stoppedAt еще не стартовали, их не трогаем
		stoppedAt := sess.StoppedAt()
		if !stoppedAt.IsZero() && now.Sub(stoppedAt) > m.idleTTL {
			delete(m.sessions, userID)
			removed++
		}
	}

	if removed > 0 {
		m.logger.WithField("removed", removed).Debug("Cleaned up idle tracking sessions")
	}

	return removed
}

// RunCleanup периодически вызывает CleanupIdle до отмены контекста
func (m *Manager) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CleanupIdle()
		}
	}
}

// Stats возвращает сводку по сессиям в памяти
func (m *Manager) Stats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	active := 0
	for _, sess := range m.sessions {
		if sess.IsActive() {
			active++
		}
	}

	return map[string]interface{}{
		"sessions_total":  len(m.sessions),
		"sessions_active": active,
	}
}

func (m *Manager) get(userID string) (*TrackingSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[userID]
	if !ok {
		return nil, ErrNoSession
	}
	return sess, nil
}
