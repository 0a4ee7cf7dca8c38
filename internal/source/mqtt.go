package source

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/movearn/tracking-backend/internal/config"
	"github.com/movearn/tracking-backend/internal/metrics"
	"github.com/movearn/tracking-backend/internal/models"
	"github.com/movearn/tracking-backend/pkg/utils"
)

// MQTTSource источник позиций поверх MQTT: трекеры публикуют сэмплы в
// топики m2e/t/{userID}/loc, источник раздает их подписанным сессиям.
//
// Сообщения одного пользователя доставляются последовательно: обработчик
// вызывается прямо из колбэка paho, без горутины на сообщение, а клиент
// настраивается с OrderMatters. Перестановка сэмплов местами сломала бы
// решение фильтра правдоподобности.
type MQTTSource struct {
	client mqtt.Client
	config *config.MQTTConfig
	logger *utils.Logger
	parser *Parser

	mu          sync.RWMutex
	connected   bool
	lastFix     map[string]models.Sample
	handlers    map[string]map[int]func(models.Sample)
	nextHandler int
}

// mqttSubscription подписка одной сессии на поток пользователя
type mqttSubscription struct {
	src    *MQTTSource
	userID string
	id     int
}

// Unsubscribe снимает подписку. Не ждет завершения колбэков: опоздавший
// сэмпл отфильтрует сама сессия по своему состоянию.
func (s *mqttSubscription) Unsubscribe() {
	s.src.mu.Lock()
	defer s.src.mu.Unlock()
	if handlers, ok := s.src.handlers[s.userID]; ok {
		delete(handlers, s.id)
		if len(handlers) == 0 {
			delete(s.src.handlers, s.userID)
		}
	}
}

// NewMQTTSource создает MQTT источник позиций
func NewMQTTSource(cfg *config.MQTTConfig, logger *utils.Logger) (*MQTTSource, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	s := &MQTTSource{
		config:   cfg,
		logger:   logger,
		parser:   NewParser(logger),
		lastFix:  make(map[string]models.Sample),
		handlers: make(map[string]map[int]func(models.Sample)),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.URL)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(cfg.CleanSession)
	opts.SetOrderMatters(cfg.OrderMatters)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		s.mu.Lock()
		s.connected = true
		s.mu.Unlock()

		s.logger.WithField("broker", cfg.URL).Info("Connected to MQTT broker")
		metrics.MQTTConnectionStatus.Set(1)

		// Подписка на топик после каждого (пере)подключения
		if token := client.Subscribe(cfg.TopicPrefix, 1, s.messageHandler); token.Wait() && token.Error() != nil {
			s.logger.WithFields(map[string]interface{}{
				"topic": cfg.TopicPrefix,
				"error": token.Error(),
			}).Error("Failed to subscribe to topic")
		} else {
			s.logger.WithField("topic", cfg.TopicPrefix).Info("Subscribed to MQTT topic")
		}
	})

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		s.mu.Lock()
		s.connected = false
		s.mu.Unlock()

		s.logger.WithField("error", err).Warn("Lost connection to MQTT broker")
		metrics.MQTTConnectionStatus.Set(0)
	})

	s.client = mqtt.NewClient(opts)

	return s, nil
}

// Connect подключается к MQTT брокеру
func (s *MQTTSource) Connect() error {
	s.logger.WithField("broker", s.config.URL).Info("Connecting to MQTT broker")

	token := s.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	// Ждем подтверждения подключения
	timeout := time.After(10 * time.Second)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-timeout:
			return fmt.Errorf("connection timeout")
		case <-ticker.C:
			if s.IsConnected() {
				return nil
			}
		}
	}
}

// Disconnect отключается от MQTT брокера
func (s *MQTTSource) Disconnect() {
	s.logger.Info("Disconnecting from MQTT broker")
	if s.client.IsConnected() {
		s.client.Disconnect(1000)
	}
}

// IsConnected проверяет статус подключения
func (s *MQTTSource) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected && s.client.IsConnected()
}

// Current возвращает последнюю известную позицию пользователя (одноразовое чтение)
func (s *MQTTSource) Current(ctx context.Context, userID string) (*models.Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.connected {
		return nil, ErrUnavailable
	}

	fix, ok := s.lastFix[userID]
	if !ok {
		return nil, ErrNoFix
	}

	fixCopy := fix
	return &fixCopy, nil
}

// Subscribe подписывает обработчик на поток сэмплов пользователя
func (s *MQTTSource) Subscribe(userID string, fn func(models.Sample)) (Subscription, error) {
	if fn == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextHandler++
	id := s.nextHandler
	if s.handlers[userID] == nil {
		s.handlers[userID] = make(map[int]func(models.Sample))
	}
	s.handlers[userID][id] = fn

	return &mqttSubscription{src: s, userID: userID, id: id}, nil
}

// messageHandler разбирает входящее сообщение и раздает сэмпл подписчикам
func (s *MQTTSource) messageHandler(client mqtt.Client, msg mqtt.Message) {
	topic := msg.Topic()

	userID, err := s.parser.ParseTopic(topic)
	if err != nil {
		s.logger.WithFields(map[string]interface{}{
			"topic": topic,
			"error": err,
		}).Debug("Skipping message with unexpected topic")
		return
	}

	sample, format, err := s.parser.Parse(msg.Payload())
	if err != nil {
		s.logger.WithFields(map[string]interface{}{
			"topic":        topic,
			"payload_size": len(msg.Payload()),
			"error":        err,
		}).Warn("Failed to parse position payload")
		metrics.MQTTParseErrors.Inc()
		return
	}

	metrics.MQTTMessagesReceived.WithLabelValues(format).Inc()

	s.mu.Lock()
	s.lastFix[userID] = *sample
	handlers := make([]func(models.Sample), 0, len(s.handlers[userID]))
	for _, fn := range s.handlers[userID] {
		handlers = append(handlers, fn)
	}
	s.mu.Unlock()

	// Вызов вне блокировки источника, но в порядке доставки брокером
	for _, fn := range handlers {
		fn(*sample)
	}

	s.logger.WithFields(map[string]interface{}{
		"topic":   topic,
		"user_id": userID,
		"format":  format,
	}).Debug("Position sample dispatched")
}

// Stats возвращает статистику источника
func (s *MQTTSource) Stats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]interface{}{
		"connected":    s.connected,
		"client_id":    s.config.ClientID,
		"broker_url":   s.config.URL,
		"topic_prefix": s.config.TopicPrefix,
		"known_users":  len(s.lastFix),
		"subscribers":  len(s.handlers),
	}
}
