package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Конфигурация тестовых данных
type TestConfig struct {
	BrokerURL   string
	UserIDs     []string
	Formats     []string
	PublishRate time.Duration
	MaxMessages int
	ClientID    string
	RandomSeed  int64
	StartLat    float64
	StartLon    float64
	SpeedMps    float64
}

// TestPublisher публикует тестовые позиционные сообщения
type TestPublisher struct {
	client mqtt.Client
	config *TestConfig
	rand   *rand.Rand
	movers map[string]*MoverState // Состояние симулированных спортсменов
}

// MoverState состояние симулированного спортсмена для реалистичного движения
type MoverState struct {
	UserID     string
	Latitude   float64
	Longitude  float64
	SpeedMps   float64
	Heading    float64
	LastUpdate time.Time
}

func main() {
	// Параметры командной строки
	var (
		brokerURL   = flag.String("broker", "tcp://localhost:1883", "MQTT broker URL")
		userIDsStr  = flag.String("users", "runner-1,runner-2,rider-1", "User IDs (comma-separated)")
		formatsStr  = flag.String("formats", "json,nmea", "Payload formats to publish (comma-separated)")
		rate        = flag.Duration("rate", 2*time.Second, "Publish rate per mover")
		maxMessages = flag.Int("max", 0, "Max messages (0 = unlimited)")
		clientID    = flag.String("client", "m2e-test-publisher", "MQTT client ID")
		seed        = flag.Int64("seed", time.Now().UnixNano(), "Random seed")
		lat         = flag.Float64("lat", 46.0, "Start latitude")
		lon         = flag.Float64("lon", 13.0, "Start longitude")
		speed       = flag.Float64("speed", 3.0, "Movement speed m/s")
	)
	flag.Parse()

	config := &TestConfig{
		BrokerURL:   *brokerURL,
		UserIDs:     parseStringSlice(*userIDsStr),
		Formats:     parseStringSlice(*formatsStr),
		PublishRate: *rate,
		MaxMessages: *maxMessages,
		ClientID:    *clientID,
		RandomSeed:  *seed,
		StartLat:    *lat,
		StartLon:    *lon,
		SpeedMps:    *speed,
	}

	// Создание и запуск тестового издателя
	publisher, err := NewTestPublisher(config)
	if err != nil {
		log.Fatalf("Ошибка создания издателя: %v", err)
	}

	fmt.Printf("🚀 Начинаем публикацию тестовых позиционных сообщений\n")
	fmt.Printf("📡 Брокер: %s\n", config.BrokerURL)
	fmt.Printf("🏃 Пользователи: %v\n", config.UserIDs)
	fmt.Printf("📦 Форматы: %v\n", config.Formats)
	fmt.Printf("⏱️  Частота: %v на пользователя\n", config.PublishRate)
	fmt.Printf("🌍 Стартовая позиция: %.4f, %.4f\n", config.StartLat, config.StartLon)
	if config.MaxMessages > 0 {
		fmt.Printf("🔢 Максимум сообщений: %d\n", config.MaxMessages)
	}
	fmt.Println()

	// Обработка сигналов для graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Запуск издателя
	done := make(chan bool)
	go func() {
		publisher.Start()
		done <- true
	}()

	select {
	case <-sigChan:
		fmt.Println("\n⏹️  Получен сигнал завершения...")
		publisher.Stop()
	case <-done:
		fmt.Println("\n✅ Публикация завершена")
	}

	fmt.Println("👋 До свидания!")
}

// NewTestPublisher создает новый тестовый издатель
func NewTestPublisher(config *TestConfig) (*TestPublisher, error) {
	// Создание MQTT клиента
	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.BrokerURL)
	opts.SetClientID(config.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)

	client := mqtt.NewClient(opts)

	// Подключение к брокеру
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("ошибка подключения к MQTT брокеру: %w", token.Error())
	}

	fmt.Println("✅ Подключен к MQTT брокеру")

	// Инициализация состояния спортсменов
	rng := rand.New(rand.NewSource(config.RandomSeed))
	movers := make(map[string]*MoverState)

	for _, userID := range config.UserIDs {
		movers[userID] = &MoverState{
			UserID:     userID,
			Latitude:   config.StartLat + rng.Float64()*0.01 - 0.005,
			Longitude:  config.StartLon + rng.Float64()*0.01 - 0.005,
			SpeedMps:   config.SpeedMps * (0.8 + rng.Float64()*0.4),
			Heading:    rng.Float64() * 360,
			LastUpdate: time.Now(),
		}
	}

	return &TestPublisher{
		client: client,
		config: config,
		rand:   rng,
		movers: movers,
	}, nil
}

// Start запускает публикацию сообщений
func (p *TestPublisher) Start() {
	messageCount := 0
	ticker := time.NewTicker(p.config.PublishRate)
	defer ticker.Stop()

	for range ticker.C {
		// Публикуем сообщение для каждого спортсмена
		for _, mover := range p.movers {
			format := p.config.Formats[p.rand.Intn(len(p.config.Formats))]

			// Обновляем состояние для реалистичности
			p.updateMoverState(mover)

			if err := p.publishMessage(mover, format); err != nil {
				log.Printf("❌ Ошибка публикации: %v", err)
			} else {
				messageCount++
				if messageCount%10 == 0 {
					fmt.Printf("📤 Опубликовано сообщений: %d\n", messageCount)
				}
			}

			// Проверяем лимит сообщений
			if p.config.MaxMessages > 0 && messageCount >= p.config.MaxMessages {
				fmt.Printf("🏁 Достигнут лимит сообщений: %d\n", messageCount)
				return
			}
		}
	}
}

// Stop останавливает издателя
func (p *TestPublisher) Stop() {
	if p.client.IsConnected() {
		p.client.Disconnect(1000)
		fmt.Println("🔌 Отключен от MQTT брокера")
	}
}

// updateMoverState обновляет состояние спортсмена для симуляции движения
func (p *TestPublisher) updateMoverState(mover *MoverState) {
	now := time.Now()
	dt := now.Sub(mover.LastUpdate).Seconds()
	mover.LastUpdate = now

	distance := mover.SpeedMps * dt // метры

	// Обновление позиции (упрощенно, без учета кривизны Земли)
	headingRad := mover.Heading * math.Pi / 180
	latDelta := distance * math.Cos(headingRad) / 111111.0 // ~111км на градус
	lonDelta := distance * math.Sin(headingRad) / (111111.0 * math.Cos(mover.Latitude*math.Pi/180))

	mover.Latitude += latDelta
	mover.Longitude += lonDelta

	// Случайные изменения курса
	if p.rand.Float64() < 0.2 {
		mover.Heading += p.rand.Float64()*60 - 30
		if mover.Heading < 0 {
			mover.Heading += 360
		}
		if mover.Heading >= 360 {
			mover.Heading -= 360
		}
	}

	// Случайные изменения скорости в пределах ±20%
	if p.rand.Float64() < 0.1 {
		mover.SpeedMps *= 0.9 + p.rand.Float64()*0.2
		if mover.SpeedMps < 0.5 {
			mover.SpeedMps = 0.5
		}
	}
}

// publishMessage публикует позиционное сообщение выбранного формата
func (p *TestPublisher) publishMessage(mover *MoverState, format string) error {
	topic := fmt.Sprintf("m2e/t/%s/loc", mover.UserID)

	var payload []byte
	var err error
	switch format {
	case "json":
		payload, err = p.createJSONPayload(mover)
	case "nmea":
		payload = []byte(p.createNMEAPayload(mover))
	default:
		return fmt.Errorf("неподдерживаемый формат: %s", format)
	}
	if err != nil {
		return fmt.Errorf("ошибка создания payload: %w", err)
	}

	token := p.client.Publish(topic, 0, false, payload)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("ошибка публикации в топик %s: %w", topic, token.Error())
	}

	// Логирование для отладки
	fmt.Printf("📡 %s -> %s: %s\n", mover.UserID, topic, string(payload[:min(48, len(payload))]))

	return nil
}

// createJSONPayload создает JSON payload мобильного клиента
func (p *TestPublisher) createJSONPayload(mover *MoverState) ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"lat":        mover.Latitude,
		"lon":        mover.Longitude,
		"timestamp":  time.Now().UnixMilli(),
		"accuracy_m": 3 + p.rand.Float64()*10,
		"speed_mps":  mover.SpeedMps,
	})
}

// createNMEAPayload создает RMC-предложение аппаратного трекера
func (p *TestPublisher) createNMEAPayload(mover *MoverState) string {
	now := time.Now().UTC()

	latDeg := math.Abs(mover.Latitude)
	latBody := fmt.Sprintf("%02d%07.4f", int(latDeg), (latDeg-math.Floor(latDeg))*60)
	latHemi := "N"
	if mover.Latitude < 0 {
		latHemi = "S"
	}

	lonDeg := math.Abs(mover.Longitude)
	lonBody := fmt.Sprintf("%03d%07.4f", int(lonDeg), (lonDeg-math.Floor(lonDeg))*60)
	lonHemi := "E"
	if mover.Longitude < 0 {
		lonHemi = "W"
	}

	speedKnots := mover.SpeedMps / 0.514444

	body := fmt.Sprintf("GPRMC,%s,A,%s,%s,%s,%s,%05.1f,%05.1f,%s,,",
		now.Format("150405"),
		latBody, latHemi,
		lonBody, lonHemi,
		speedKnots, mover.Heading,
		now.Format("020106"),
	)

	return fmt.Sprintf("$%s*%02X", body, nmeaChecksum(body))
}

// nmeaChecksum вычисляет XOR-контрольную сумму предложения без $ и *
func nmeaChecksum(body string) byte {
	var sum byte
	for i := 0; i < len(body); i++ {
		sum ^= body[i]
	}
	return sum
}

// Вспомогательные функции

func parseStringSlice(s string) []string {
	if s == "" {
		return []string{}
	}
	return strings.Split(s, ",")
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
