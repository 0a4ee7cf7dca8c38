package source

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	nmea "github.com/adrianmo/go-nmea"
	"github.com/movearn/tracking-backend/internal/models"
	"github.com/movearn/tracking-backend/pkg/utils"
)

// Форматы полезной нагрузки позиционных сообщений
const (
	FormatJSON = "json"
	FormatNMEA = "nmea"
)

const knotsToMps = 0.514444

// positionPayload JSON-формат сэмпла от мобильных клиентов
type positionPayload struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
	// Unix-время в миллисекундах
	Timestamp int64 `json:"timestamp"`
	// Погрешность в метрах (опционально)
	AccuracyMeters float64 `json:"accuracy_m,omitempty"`
	// Мгновенная скорость в м/с (опционально)
	SpeedMps float64 `json:"speed_mps,omitempty"`
}

// Parser разбирает позиционные сообщения трекеров.
// Поддерживает JSON от мобильных клиентов и сырые NMEA RMC предложения
// от аппаратных GPS-трекеров.
type Parser struct {
	logger *utils.Logger
}

// NewParser создает парсер позиционных сообщений
func NewParser(logger *utils.Logger) *Parser {
	return &Parser{logger: logger}
}

// ParseTopic извлекает ID пользователя из топика вида m2e/t/{userID}/loc
func (p *Parser) ParseTopic(topic string) (string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != "m2e" || parts[1] != "t" || parts[3] != "loc" {
		return "", fmt.Errorf("unexpected topic format: %s", topic)
	}
	if parts[2] == "" || parts[2] == "+" {
		return "", fmt.Errorf("empty user id in topic: %s", topic)
	}
	return parts[2], nil
}

// Parse разбирает полезную нагрузку в сэмпл.
// Возвращает сэмпл, формат сообщения и ошибку разбора.
func (p *Parser) Parse(payload []byte) (*models.Sample, string, error) {
	trimmed := strings.TrimSpace(string(payload))
	if trimmed == "" {
		return nil, "", fmt.Errorf("empty payload")
	}

	if strings.HasPrefix(trimmed, "$") {
		sample, err := p.parseNMEA(trimmed)
		return sample, FormatNMEA, err
	}

	sample, err := p.parseJSON(payload)
	return sample, FormatJSON, err
}

// parseJSON разбирает JSON-формат мобильных клиентов
func (p *Parser) parseJSON(payload []byte) (*models.Sample, error) {
	var raw positionPayload
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("invalid json payload: %w", err)
	}

	if raw.Timestamp <= 0 {
		return nil, fmt.Errorf("missing or invalid timestamp: %d", raw.Timestamp)
	}

	sample := &models.Sample{
		Position: models.GeoPoint{
			Latitude:  raw.Latitude,
			Longitude: raw.Longitude,
		},
		Timestamp:      time.UnixMilli(raw.Timestamp).UTC(),
		AccuracyMeters: raw.AccuracyMeters,
		SpeedMps:       raw.SpeedMps,
	}

	if err := sample.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sample: %w", err)
	}

	return sample, nil
}

// parseNMEA разбирает RMC-предложение аппаратного GPS-трекера
func (p *Parser) parseNMEA(sentence string) (*models.Sample, error) {
	parsed, err := nmea.Parse(sentence)
	if err != nil {
		return nil, fmt.Errorf("invalid nmea sentence: %w", err)
	}

	rmc, ok := parsed.(nmea.RMC)
	if !ok {
		return nil, fmt.Errorf("unsupported nmea sentence type: %s", parsed.DataType())
	}

	if rmc.Validity != nmea.ValidRMC {
		return nil, fmt.Errorf("nmea fix is void")
	}

	timestamp, err := rmcTimestamp(rmc)
	if err != nil {
		return nil, err
	}

	sample := &models.Sample{
		Position: models.GeoPoint{
			Latitude:  rmc.Latitude,
			Longitude: rmc.Longitude,
		},
		Timestamp: timestamp,
		SpeedMps:  rmc.Speed * knotsToMps,
	}

	if err := sample.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sample: %w", err)
	}

	return sample, nil
}

// rmcTimestamp собирает время UTC из полей даты и времени RMC
func rmcTimestamp(rmc nmea.RMC) (time.Time, error) {
	if !rmc.Date.Valid || !rmc.Time.Valid {
		return time.Time{}, fmt.Errorf("nmea sentence has no valid date/time")
	}

	return time.Date(
		2000+rmc.Date.YY, time.Month(rmc.Date.MM), rmc.Date.DD,
		rmc.Time.Hour, rmc.Time.Minute, rmc.Time.Second,
		rmc.Time.Millisecond*int(time.Millisecond),
		time.UTC,
	), nil
}
