package utils

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger обертка над logrus с неизменяемыми полями
type Logger struct {
	entry *logrus.Entry
}

// NewLogger создает новый логгер с заданным уровнем и форматом ("json" или "text")
func NewLogger(level, format string) *Logger {
	base := logrus.New()
	base.SetOutput(os.Stdout)

	switch strings.ToLower(format) {
	case "json":
		base.SetFormatter(&logrus.JSONFormatter{})
	default:
		base.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	parsed, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		parsed = logrus.InfoLevel
	}
	base.SetLevel(parsed)

	return &Logger{entry: logrus.NewEntry(base)}
}

// WithField добавляет поле к логгеру
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{entry: l.entry.WithField(key, value)}
}

// WithFields добавляет несколько полей к логгеру
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return &Logger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

// WithError добавляет поле error к логгеру
func (l *Logger) WithError(err error) *Logger {
	return &Logger{entry: l.entry.WithError(err)}
}

// Entry возвращает нижележащий logrus.Entry (для пакетов, работающих с logrus напрямую)
func (l *Logger) Entry() *logrus.Entry {
	return l.entry
}

// Debug логирует сообщение уровня debug
func (l *Logger) Debug(msg string) { l.entry.Debug(msg) }

// Debugf логирует форматированное сообщение уровня debug
func (l *Logger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }

// Info логирует сообщение уровня info
func (l *Logger) Info(msg string) { l.entry.Info(msg) }

// Infof логирует форматированное сообщение уровня info
func (l *Logger) Infof(format string, args ...interface{}) { l.entry.Infof(format, args...) }

// Warn логирует сообщение уровня warn
func (l *Logger) Warn(msg string) { l.entry.Warn(msg) }

// Warnf логирует форматированное сообщение уровня warn
func (l *Logger) Warnf(format string, args ...interface{}) { l.entry.Warnf(format, args...) }

// Error логирует сообщение уровня error
func (l *Logger) Error(msg string) { l.entry.Error(msg) }

// Errorf логирует форматированное сообщение уровня error
func (l *Logger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

// Fatal логирует сообщение уровня fatal и завершает программу
func (l *Logger) Fatal(msg string) { l.entry.Fatal(msg) }

// Fatalf логирует форматированное сообщение уровня fatal и завершает программу
func (l *Logger) Fatalf(format string, args ...interface{}) { l.entry.Fatalf(format, args...) }

// defaultLogger используется пакетными функциями ниже
var defaultLogger = NewLogger("info", "text")

// SetDefaultLogger устанавливает логгер по умолчанию
func SetDefaultLogger(logger *Logger) {
	defaultLogger = logger
}

// Debug логирует сообщение уровня debug через логгер по умолчанию
func Debug(msg string) { defaultLogger.Debug(msg) }

// Debugf логирует форматированное сообщение уровня debug через логгер по умолчанию
func Debugf(format string, args ...interface{}) { defaultLogger.Debugf(format, args...) }

// Info логирует сообщение уровня info через логгер по умолчанию
func Info(msg string) { defaultLogger.Info(msg) }

// Infof логирует форматированное сообщение уровня info через логгер по умолчанию
func Infof(format string, args ...interface{}) { defaultLogger.Infof(format, args...) }

// Warn логирует сообщение уровня warn через логгер по умолчанию
func Warn(msg string) { defaultLogger.Warn(msg) }

// Warnf логирует форматированное сообщение уровня warn через логгер по умолчанию
func Warnf(format string, args ...interface{}) { defaultLogger.Warnf(format, args...) }

// Error логирует сообщение уровня error через логгер по умолчанию
func Error(msg string) { defaultLogger.Error(msg) }

// Errorf логирует форматированное сообщение уровня error через логгер по умолчанию
func Errorf(format string, args ...interface{}) { defaultLogger.Errorf(format, args...) }

// Fatal логирует сообщение уровня fatal и завершает программу
func Fatal(msg string) { defaultLogger.Fatal(msg) }

// Fatalf логирует форматированное сообщение уровня fatal и завершает программу
func Fatalf(format string, args ...interface{}) { defaultLogger.Fatalf(format, args...) }
