package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/movearn/tracking-backend/internal/auth"
	"github.com/movearn/tracking-backend/internal/metrics"
	"github.com/movearn/tracking-backend/internal/session"
	"github.com/movearn/tracking-backend/pkg/utils"
)

const (
	// Интервал heartbeat ping
	pingInterval = 30 * time.Second
	// Дедлайн чтения, сбрасывается на каждый pong
	pongWait = 60 * time.Second
	// Дедлайн записи одного сообщения
	writeWait = 10 * time.Second
	// Буфер исходящих сообщений клиента
	clientSendBuffer = 256
)

// WebSocketHandler стримит события сессии пользователю в реальном времени
type WebSocketHandler struct {
	upgrader websocket.Upgrader
	manager  *session.Manager
	logger   *utils.Logger
}

// wsClient одно WebSocket соединение
type wsClient struct {
	conn    *websocket.Conn
	send    chan []byte
	handler *WebSocketHandler
	userID  string
}

// NewWebSocketHandler создает новый WebSocket handler
func NewWebSocketHandler(manager *session.Manager, logger *utils.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// TODO: Добавить проверку Origin для production
				return true
			},
		},
		manager: manager,
		logger:  logger,
	}
}

// HandleWebSocket обрабатывает WebSocket подключения.
// Клиент получает поток событий собственной сессии: started, snapshot,
// rejection, stopped.
func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":    "unauthorized",
			"message": "Authentication required",
		})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithField("error", err).Error("Failed to upgrade to WebSocket")
		return
	}

	client := &wsClient{
		conn:    conn,
		send:    make(chan []byte, clientSendBuffer),
		handler: h,
		userID:  userID,
	}

	events, cancel := h.manager.Subscribe(userID)

	h.logger.WithFields(map[string]interface{}{
		"user_id":   userID,
		"client_ip": c.ClientIP(),
	}).Info("WebSocket client connected")

	metrics.WebSocketConnections.Inc()

	// Welcome кладется в буфер до запуска pumps, чтобы не гоняться
	// с закрытием send в eventPump
	client.sendWelcome()

	go client.writePump()
	go client.readPump(cancel)
	go client.eventPump(events)
}

// sendWelcome отправляет текущий снимок сессии, если она есть
func (c *wsClient) sendWelcome() {
	welcome := gin.H{
		"type":        "welcome",
		"server_time": time.Now().Unix(),
	}

	if snapshot, err := c.handler.manager.Snapshot(c.userID); err == nil {
		welcome["session"] = snapshot
	}

	data, err := json.Marshal(welcome)
	if err != nil {
		c.handler.logger.WithField("error", err).Error("Failed to marshal welcome message")
		return
	}

	select {
	case c.send <- data:
	default:
		c.handler.logger.Warn("Welcome message dropped, send buffer full")
	}
}

// eventPump пересылает события сессии в канал отправки
func (c *wsClient) eventPump(events <-chan session.Event) {
	for event := range events {
		data, err := json.Marshal(event)
		if err != nil {
			c.handler.logger.WithField("error", err).Error("Failed to marshal session event")
			continue
		}

		select {
		case c.send <- data:
		default:
			// Медленный клиент, событие теряется. Клиент восстановит
			// состояние по следующему snapshot.
			c.handler.logger.WithFields(logrus.Fields{
				"user_id": c.userID,
				"type":    event.Type,
			}).Warn("Dropped session event, client send buffer full")
		}
	}

	// Канал событий закрыт, закрываем и соединение
	close(c.send)
}

// readPump обрабатывает входящие сообщения и следит за pong
func (c *wsClient) readPump(cancel func()) {
	defer func() {
		cancel()
		c.conn.Close()
		metrics.WebSocketConnections.Dec()
		c.handler.logger.WithField("user_id", c.userID).Debug("WebSocket client disconnected")
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.handler.logger.WithField("error", err).Error("WebSocket read error")
			}
			return
		}
		// Входящие данные игнорируются, позиции принимаются через MQTT
		// или POST /position
	}
}

// writePump отправляет сообщения клиенту и шлет heartbeat ping
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				metrics.WebSocketErrors.Inc()
				return
			}

			metrics.WebSocketMessagesOut.WithLabelValues("event").Inc()

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				metrics.WebSocketErrors.Inc()
				return
			}

			metrics.WebSocketMessagesOut.WithLabelValues("ping").Inc()
		}
	}
}
