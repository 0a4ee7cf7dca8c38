package filter

import (
	"github.com/movearn/tracking-backend/internal/models"
)

// Config пороги фильтра правдоподобности
type Config struct {
	// Потолки скорости по типам активности (м/с)
	MaxSpeeds map[models.ActivityType]float64 `json:"max_speeds"`

	// Потолок для активностей, отсутствующих в MaxSpeeds (м/с)
	DefaultMaxSpeedMps float64 `json:"default_max_speed_mps"`

	// Буферный коэффициент к потолку скорости (1.2 = +20% на GPS-дрожание)
	SpeedBuffer float64 `json:"speed_buffer"`

	// Минимальное перемещение для зачета точки в историю (м)
	MinMovementMeters float64 `json:"min_movement_meters"`

	// Максимальная приемлемая погрешность сэмпла (м), 0 = не проверять
	MaxAccuracyMeters float64 `json:"max_accuracy_meters"`
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() *Config {
	return &Config{
		MaxSpeeds: map[models.ActivityType]float64{
			models.ActivityWalk: 4,  // Быстрая ходьба с запасом
			models.ActivityRun:  10, // Спринт
			models.ActivityRide: 25, // Велосипед на спуске
		},
		DefaultMaxSpeedMps: 35, // ~126 км/ч, отсекает телепортацию, терпит транспорт
		SpeedBuffer:        1.2,
		MinMovementMeters:  5,
		MaxAccuracyMeters:  0,
	}
}

// GetMaxSpeed возвращает потолок скорости для типа активности (м/с)
func (c *Config) GetMaxSpeed(activity models.ActivityType) float64 {
	if speed, ok := c.MaxSpeeds[activity]; ok {
		return speed
	}
	return c.DefaultMaxSpeedMps
}
