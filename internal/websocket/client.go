package websocket

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rajivgeraev/skillmates-api/internal/apperr"
	"github.com/rajivgeraev/skillmates-api/internal/db"
	"github.com/rajivgeraev/skillmates-api/internal/state"
)

const (
	// Максимальное время ожидания для pong от клиента
	pongWait = 60 * time.Second

	// Отправлять ping-сообщения клиенту с этим интервалом
	pingPeriod = (pongWait * 9) / 10

	writeWait = 10 * time.Second

	// Максимальный размер сообщения от клиента
	maxMessageSize = 64 * 1024

	// Размер буфера для отправляемых сообщений
	writeBufferSize = 256
)

// Client представляет собой отдельное WebSocket соединение со своей сессией
type Client struct {
	ID          uuid.UUID
	UserID      string
	conn        *websocket.Conn
	send        chan []byte // Буферизованный канал исходящих сообщений
	manager     *Manager
	session     *state.Session
	unsubscribe func()
	closeChan   chan struct{}
	closeOnce   sync.Once
}

// NewClient создает новый экземпляр Client
func NewClient(session *state.Session, conn *websocket.Conn, manager *Manager) *Client {
	c := &Client{
		ID:        uuid.New(),
		UserID:    session.Caller().UserID,
		conn:      conn,
		send:      make(chan []byte, writeBufferSize),
		manager:   manager,
		session:   session,
		closeChan: make(chan struct{}),
	}
	c.unsubscribe = session.Subscribe(c.onChange)
	return c
}

// Start запускает клиентские горутины для чтения и записи
func (c *Client) Start() {
	c.manager.AddClient(c)

	// Первое событие - текущее состояние сессии
	c.push(EventSnapshot, "", c.session.Snapshot())

	go c.readPump()
	go c.writePump()
}

// readPump обрабатывает входящие сообщения от клиента
func (c *Client) readPump() {
	defer c.teardown()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("Неожиданное закрытие соединения %s: %v", c.ID, err)
			}
			return
		}
		c.handleIncomingMessage(message)
	}
}

// writePump отправляет сообщения клиенту
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("Ошибка записи в соединение %s: %v", c.ID, err)
				return
			}
		case <-ticker.C:
			// Отправляем ping для поддержания соединения
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closeChan:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// teardown отписывает клиента и завершает сессию
func (c *Client) teardown() {
	c.closeOnce.Do(func() {
		c.unsubscribe()
		c.session.SignOut()
		c.manager.RemoveClient(c.ID)
		c.conn.Close()
		close(c.closeChan)
	})
}

type sendPayload struct {
	Content string `json:"content"`
}

// handleIncomingMessage обрабатывает входящие сообщения от клиента
func (c *Client) handleIncomingMessage(message []byte) {
	var event Event
	if err := json.Unmarshal(message, &event); err != nil {
		c.pushError("", apperr.Validation("Некорректный формат события"))
		return
	}

	// Отправитель всегда пользователь соединения
	if event.UserID != "" && event.UserID != c.UserID {
		log.Printf("Несовпадение userID в событии: %s vs %s", event.UserID, c.UserID)
		c.pushError(event.ThreadID, apperr.Unauthorized("Нельзя действовать от имени другого пользователя"))
		return
	}

	ctx, cancel := db.Bound(c.manager.Context())
	defer cancel()

	switch event.Type {
	case EventOpenThread:
		if event.ThreadID == "" {
			c.pushError("", apperr.Validation("Не указан ID чата"))
			return
		}
		if err := c.session.OpenThread(ctx, event.ThreadID); err != nil {
			c.pushError(event.ThreadID, err)
		}
	case EventCloseThread:
		c.session.CloseThread()
	case EventSendMessage:
		var p sendPayload
		if len(event.Payload) > 0 {
			if err := json.Unmarshal(event.Payload, &p); err != nil {
				c.pushError(event.ThreadID, apperr.Validation("Некорректное содержимое сообщения"))
				return
			}
		}
		if _, err := c.session.SendMessage(ctx, p.Content); err != nil {
			c.pushError(event.ThreadID, err)
		}
	default:
		c.pushError("", apperr.Validation("Неизвестный тип события: "+string(event.Type)))
	}
}

// onChange переводит изменения сессии в события соединения
func (c *Client) onChange(ch state.Change) {
	threadID := ch.Snapshot.ThreadID
	switch ch.Kind {
	case state.ChangeMessage:
		c.push(EventNewMessage, threadID, ch.Message)
	case state.ChangeRequest:
		c.push(EventRequestReceived, "", ch.Request)
	case state.ChangeAnnouncement:
		c.push(EventAnnouncement, "", ch.Announcement)
	default:
		c.push(EventSnapshot, threadID, ch.Snapshot)
	}
}

func (c *Client) pushError(threadID string, err error) {
	c.push(EventError, threadID, map[string]any{
		"kind":  apperr.KindOf(err),
		"error": apperr.MessageOf(err),
	})
}

func (c *Client) push(t EventType, threadID string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Printf("Ошибка сериализации события %s: %v", t, err)
		return
	}
	eventJSON, err := json.Marshal(Event{
		Type:      t,
		ThreadID:  threadID,
		UserID:    c.UserID,
		Timestamp: time.Now(),
		Payload:   raw,
	})
	if err != nil {
		log.Printf("Ошибка сериализации события %s: %v", t, err)
		return
	}

	select {
	case <-c.closeChan:
	case c.send <- eventJSON:
	default:
		// Канал заполнен, клиент слишком медленный - закрываем соединение
		log.Printf("Канал отправки клиента %s заполнен, закрываем соединение", c.ID)
		go c.teardown()
	}
}
