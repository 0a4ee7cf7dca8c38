package filter

import (
	"fmt"
	"time"

	"github.com/movearn/tracking-backend/internal/models"
)

// Reason причина решения фильтра, используется в метриках и логах вызывающего кода
type Reason string

const (
	ReasonOK               Reason = "ok"
	ReasonNonMonotonicTime Reason = "non_monotonic_time"
	ReasonImplausibleSpeed Reason = "implausible_speed"
	ReasonPoorAccuracy     Reason = "poor_accuracy"
	ReasonBelowMinMovement Reason = "below_min_movement"
)

// Verdict результат проверки одного сэмпла-кандидата
type Verdict struct {
	// Физически возможное перемещение. Сэмплы с Reasonable=false отбрасываются целиком
	Reasonable bool

	Reason Reason

	// Перемещение от предыдущей принятой точки
	DistanceKm float64
	Elapsed    time.Duration

	// Разрешенный лимит перемещения с учетом буфера (м)
	AllowedMeters float64
}

// CreditsDistance сообщает, должен ли сэмпл попасть в историю и накопитель.
// Правдоподобный сэмпл ниже порога минимального перемещения обновляет только
// отображаемую позицию.
func (v Verdict) CreditsDistance() bool {
	return v.Reasonable && v.Reason == ReasonOK
}

// Describe возвращает человекочитаемое описание вердикта для логов
func (v Verdict) Describe() string {
	if v.Reasonable {
		return fmt.Sprintf("%s: %.1fm in %s", v.Reason, v.DistanceKm*1000, v.Elapsed)
	}
	return fmt.Sprintf("%s: %.1fm in %s exceeds allowed %.1fm",
		v.Reason, v.DistanceKm*1000, v.Elapsed, v.AllowedMeters)
}

// PlausibilityFilter чистая функция решения "возможно ли такое перемещение".
// Состояния не имеет, логирование и учет отказов лежат на вызывающем.
type PlausibilityFilter struct {
	config *Config
}

// NewPlausibilityFilter создает фильтр с заданной конфигурацией
func NewPlausibilityFilter(config *Config) *PlausibilityFilter {
	if config == nil {
		config = DefaultConfig()
	}
	return &PlausibilityFilter{config: config}
}

// Check решает, правдоподобен ли кандидат относительно предыдущей принятой точки.
// Первый сэмпл сессии фильтр не видит: его принимает сессия безусловно.
func (f *PlausibilityFilter) Check(prev, candidate models.Sample, activity models.ActivityType) Verdict {
	distanceKm := prev.Position.DistanceTo(candidate.Position)
	elapsed := candidate.ElapsedSince(prev)

	verdict := Verdict{
		DistanceKm: distanceKm,
		Elapsed:    elapsed,
	}

	// Нулевой или отрицательный интервал: сбой часов либо доставка вне порядка
	if elapsed <= 0 {
		verdict.Reasonable = false
		verdict.Reason = ReasonNonMonotonicTime
		return verdict
	}

	if f.config.MaxAccuracyMeters > 0 && candidate.AccuracyMeters > f.config.MaxAccuracyMeters {
		verdict.Reasonable = false
		verdict.Reason = ReasonPoorAccuracy
		return verdict
	}

	maxSpeed := f.config.GetMaxSpeed(activity)
	maxPossibleMeters := elapsed.Seconds() * maxSpeed
	allowedMeters := maxPossibleMeters * f.config.SpeedBuffer
	verdict.AllowedMeters = allowedMeters

	distanceMeters := distanceKm * 1000
	if distanceMeters > allowedMeters {
		verdict.Reasonable = false
		verdict.Reason = ReasonImplausibleSpeed
		return verdict
	}

	verdict.Reasonable = true
	if distanceMeters < f.config.MinMovementMeters {
		verdict.Reason = ReasonBelowMinMovement
	} else {
		verdict.Reason = ReasonOK
	}

	return verdict
}
