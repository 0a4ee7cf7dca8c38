package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/movearn/tracking-backend/internal/filter"
	"github.com/movearn/tracking-backend/internal/metrics"
	"github.com/movearn/tracking-backend/internal/models"
	"github.com/movearn/tracking-backend/internal/source"
	"github.com/movearn/tracking-backend/pkg/utils"
)

// Интервал между warn-логами об отброшенных сэмплах одной сессии
const rejectionLogInterval = 30 * time.Second

// Hooks колбэки, вызываемые сессией при изменении состояния.
// Устанавливаются менеджером: публикация событий, запись в Redis,
// начисление наград при завершении.
type Hooks struct {
	// OnEvent вызывается для каждого события сессии
	OnEvent func(Event)

	// OnMovement вызывается при зачете нового отрезка дистанции
	OnMovement func(snapshot *models.SessionSnapshot, legKm float64)

	// OnStop вызывается один раз при переходе Active -> Idle
	OnStop func(summary models.SessionSummary)
}

// TrackingSession сессия непрерывного отслеживания одного пользователя.
//
// Владеет состоянием Idle/Active, историей принятых сэмплов и накопителем
// дистанции. Все операции сериализуются мьютексом: решение по каждому
// сэмплу зависит от предыдущей принятой точки, параллельная обработка
// нарушила бы инвариант монотонности дистанции.
type TrackingSession struct {
	mu sync.Mutex

	sessionID string
	userID    string
	activity  models.ActivityType

	state        models.SessionState
	history      []models.Sample
	totalKm      float64
	lastAccepted *models.Sample

	// Отображаемая текущая позиция. Обновляется и правдоподобными сэмплами
	// ниже порога минимального перемещения, и одноразовым чтением при старте
	current *models.Sample

	startedAt time.Time
	stoppedAt time.Time
	accepted  int
	rejected  int

	plausibility *filter.PlausibilityFilter
	positions    source.PositionSource
	subscription source.Subscription

	hooks  Hooks
	logger *utils.Logger

	lastRejectionLog time.Time
}

// NewTrackingSession создает сессию в состоянии Idle.
// positions может быть nil: тогда сэмплы поступают только через Ingest
// (HTTP-клиенты, сами читающие геолокацию устройства).
func NewTrackingSession(userID string, activity models.ActivityType, plausibility *filter.PlausibilityFilter, positions source.PositionSource, hooks Hooks, logger *utils.Logger) *TrackingSession {
	if plausibility == nil {
		plausibility = filter.NewPlausibilityFilter(nil)
	}

	return &TrackingSession{
		sessionID:    uuid.NewString(),
		userID:       userID,
		activity:     activity,
		state:        models.SessionIdle,
		plausibility: plausibility,
		positions:    positions,
		hooks:        hooks,
		logger: logger.WithFields(map[string]interface{}{
			"user_id":  userID,
			"activity": activity,
		}),
	}
}

// Start переводит сессию в состояние Active и начинает новый забег.
// Повторный Start активной сессии не делает ничего. При недоступности источника
// позиций сессия остается в Idle, состояние прошлого забега не трогается.
func (s *TrackingSession) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == models.SessionActive {
		s.logger.WithField("session_id", s.sessionID).Debug("Start called on active session, ignoring")
		return nil
	}

	// Одноразовое чтение текущей позиции до сброса состояния: если источник
	// обязателен и недоступен, сессия должна остаться нетронутой
	var initial *models.Sample
	if s.positions != nil {
		sample, err := s.positions.Current(ctx, s.userID)
		switch {
		case err == nil:
			initial = sample
		case errors.Is(err, source.ErrNoFix):
			// Позиции еще нет, это не ошибка старта
		default:
			return fmt.Errorf("position source: %w", err)
		}
	}

	// Свежий забег: прошлое состояние обнуляется только здесь
	s.sessionID = uuid.NewString()
	s.history = nil
	s.totalKm = 0
	s.lastAccepted = nil
	s.current = initial
	s.accepted = 0
	s.rejected = 0
	s.startedAt = time.Now()
	s.stoppedAt = time.Time{}
	s.state = models.SessionActive

	if s.positions != nil {
		sub, err := s.positions.Subscribe(s.userID, s.Ingest)
		if err != nil {
			s.state = models.SessionIdle
			return fmt.Errorf("subscribe to position source: %w", err)
		}
		s.subscription = sub
	}

	metrics.SessionsStarted.Inc()
	metrics.ActiveSessions.Inc()

	s.logger.WithField("session_id", s.sessionID).Info("Tracking session started")
	s.emit(Event{
		Type:     EventStarted,
		UserID:   s.userID,
		Snapshot: s.snapshotLocked(),
	})

	return nil
}

// Ingest обрабатывает один сырой сэмпл. Вызывается колбэком подписки
// источника либо HTTP-обработчиком. Отказ фильтра не ошибка: сессия
// продолжает работу, отказ учитывается в метриках и событиях.
func (s *TrackingSession) Ingest(sample models.Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	metrics.SamplesIngested.Inc()

	// Защита от опоздавшего колбэка после Stop: Idle-состояние заморожено
	if s.state != models.SessionActive {
		metrics.SamplesRejected.WithLabelValues("session_idle").Inc()
		return
	}

	if err := sample.Validate(); err != nil {
		s.rejected++
		metrics.SamplesRejected.WithLabelValues("malformed").Inc()
		s.logRejection("malformed sample", map[string]interface{}{"error": err})
		return
	}

	// Первый сэмпл забега принимается безусловно: сравнивать не с чем
	if s.lastAccepted == nil {
		s.accept(sample, 0)
		return
	}

	verdict := s.plausibility.Check(*s.lastAccepted, sample, s.activity)

	if !verdict.Reasonable {
		s.rejected++
		metrics.SamplesRejected.WithLabelValues(string(verdict.Reason)).Inc()
		s.logRejection(verdict.Describe(), map[string]interface{}{
			"lat":         sample.Position.Latitude,
			"lon":         sample.Position.Longitude,
			"distance_km": verdict.DistanceKm,
			"elapsed":     verdict.Elapsed.String(),
		})
		s.emit(Event{
			Type:    EventRejection,
			UserID:  s.userID,
			Reason:  string(verdict.Reason),
			Message: "suspicious movement detected - distance may not be credited",
		})
		return
	}

	if !verdict.CreditsDistance() {
		// GPS-дрожание на месте: двигаем только отображаемую позицию
		sampleCopy := sample
		s.current = &sampleCopy
		metrics.SamplesRejected.WithLabelValues(string(verdict.Reason)).Inc()
		return
	}

	s.accept(sample, verdict.DistanceKm)
}

// accept зачитывает сэмпл: история, накопитель, события. Вызывается под мьютексом.
func (s *TrackingSession) accept(sample models.Sample, legKm float64) {
	sampleCopy := sample
	s.history = append(s.history, sample)
	s.totalKm += legKm
	s.lastAccepted = &sampleCopy
	s.current = &sampleCopy
	s.accepted++

	metrics.SamplesAccepted.Inc()
	if legKm > 0 {
		metrics.DistanceCreditedKm.Add(legKm)
	}

	snapshot := s.snapshotLocked()
	if s.hooks.OnMovement != nil {
		s.hooks.OnMovement(snapshot, legKm)
	}
	s.emit(Event{
		Type:     EventSnapshot,
		UserID:   s.userID,
		Snapshot: snapshot,
	})
}

// Stop завершает забег. Повторный Stop не делает ничего и возвращает nil.
// История и дистанция остаются читаемыми до следующего Start.
func (s *TrackingSession) Stop() *models.SessionSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != models.SessionActive {
		s.logger.WithField("session_id", s.sessionID).Debug("Stop called on idle session, ignoring")
		return nil
	}

	if s.subscription != nil {
		s.subscription.Unsubscribe()
		s.subscription = nil
	}

	s.state = models.SessionIdle
	s.stoppedAt = time.Now()

	metrics.SessionsStopped.Inc()
	metrics.ActiveSessions.Dec()
	metrics.SessionDistanceKm.Observe(s.totalKm)

	summary := models.SessionSummary{
		SessionID:       s.sessionID,
		UserID:          s.userID,
		Activity:        s.activity,
		StartedAt:       s.startedAt,
		StoppedAt:       s.stoppedAt,
		TotalDistanceKm: s.totalKm,
		SamplesAccepted: s.accepted,
		SamplesRejected: s.rejected,
	}

	s.logger.WithFields(map[string]interface{}{
		"session_id":        s.sessionID,
		"total_distance_km": s.totalKm,
		"samples_accepted":  s.accepted,
		"samples_rejected":  s.rejected,
		"duration":          s.stoppedAt.Sub(s.startedAt).String(),
	}).Info("Tracking session stopped")

	if s.hooks.OnStop != nil {
		s.hooks.OnStop(summary)
	}
	s.emit(Event{
		Type:     EventStopped,
		UserID:   s.userID,
		Snapshot: s.snapshotLocked(),
	})

	return &summary
}

// Snapshot возвращает неизменяемый срез текущего состояния
func (s *TrackingSession) Snapshot() *models.SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// UserID возвращает владельца сессии
func (s *TrackingSession) UserID() string {
	return s.userID
}

// Activity возвращает тип активности сессии
func (s *TrackingSession) Activity() models.ActivityType {
	return s.activity
}

// IsActive сообщает, идет ли накопление
func (s *TrackingSession) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == models.SessionActive
}

// StoppedAt возвращает время завершения последнего забега (zero, если активна)
func (s *TrackingSession) StoppedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stoppedAt
}

// snapshotLocked собирает срез состояния. Вызывается под мьютексом.
func (s *TrackingSession) snapshotLocked() *models.SessionSnapshot {
	historyCopy := make([]models.Sample, len(s.history))
	copy(historyCopy, s.history)

	var location *models.Sample
	if s.current != nil {
		locationCopy := *s.current
		location = &locationCopy
	}

	return &models.SessionSnapshot{
		SessionID:       s.sessionID,
		UserID:          s.userID,
		Activity:        s.activity,
		State:           s.state,
		Location:        location,
		History:         historyCopy,
		TotalDistanceKm: s.totalKm,
		StartedAt:       s.startedAt,
		StoppedAt:       s.stoppedAt,
		SamplesAccepted: s.accepted,
		SamplesRejected: s.rejected,
	}
}

// emit отправляет событие обработчику, если он установлен
func (s *TrackingSession) emit(event Event) {
	if s.hooks.OnEvent != nil {
		s.hooks.OnEvent(event)
	}
}

// logRejection пишет warn-лог об отказе не чаще rejectionLogInterval
func (s *TrackingSession) logRejection(msg string, fields map[string]interface{}) {
	now := time.Now()
	if now.Sub(s.lastRejectionLog) < rejectionLogInterval {
		s.logger.WithFields(fields).Debug("Sample rejected: " + msg)
		return
	}
	s.lastRejectionLog = now
	s.logger.WithFields(fields).Warn("Sample rejected: " + msg)
}
