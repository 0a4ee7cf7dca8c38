package benchmarks

// Бенчмарки разбора позиционных сообщений
//
// Ожидаемые результаты (цели производительности):
// - Parse JSON: < 2 µs/op (основной формат мобильных клиентов)
// - Parse NMEA RMC: < 5 µs/op (аппаратные трекеры)
// - ParseTopic: < 200 ns/op, вызывается на каждое MQTT сообщение

import (
	"fmt"
	"testing"
	"time"

	"github.com/movearn/tracking-backend/internal/source"
	"github.com/movearn/tracking-backend/pkg/utils"
)

func newBenchParser() *source.Parser {
	return source.NewParser(utils.NewLogger("error", "text"))
}

// BenchmarkParseJSON benchmarks mobile client payload parsing
func BenchmarkParseJSON(b *testing.B) {
	p := newBenchParser()
	payload := []byte(fmt.Sprintf(
		`{"lat":46.5197,"lon":6.6323,"timestamp":%d,"accuracy_m":5.5,"speed_mps":2.8}`,
		time.Now().UnixMilli(),
	))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = p.Parse(payload)
	}
}

// BenchmarkParseNMEA benchmarks hardware tracker RMC parsing
func BenchmarkParseNMEA(b *testing.B) {
	p := newBenchParser()
	payload := []byte("$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*6A")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = p.Parse(payload)
	}
}

// BenchmarkParseTopic benchmarks user ID extraction from MQTT topics
func BenchmarkParseTopic(b *testing.B) {
	p := newBenchParser()
	topic := "m2e/t/user-8f3a2c/loc"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = p.ParseTopic(topic)
	}
}
