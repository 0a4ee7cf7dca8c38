package models

// ActivityType тип активности пользователя
type ActivityType string

const (
	ActivityUnknown ActivityType = "unknown"
	ActivityWalk    ActivityType = "walk"
	ActivityRun     ActivityType = "run"
	ActivityRide    ActivityType = "ride"
)

// ParseActivityType возвращает тип активности по строке, unknown для нераспознанных
func ParseActivityType(s string) ActivityType {
	switch ActivityType(s) {
	case ActivityWalk, ActivityRun, ActivityRide:
		return ActivityType(s)
	default:
		return ActivityUnknown
	}
}

// String возвращает строковое представление типа активности
func (a ActivityType) String() string {
	return string(a)
}
