package websocket

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rajivgeraev/skillmates-api/internal/models"
	"github.com/rajivgeraev/skillmates-api/internal/state"
)

// SessionFactory создает состояние для нового соединения
type SessionFactory func() *state.Session

// Manager представляет центральный менеджер для всех WebSocket соединений
type Manager struct {
	clients      map[uuid.UUID]*Client
	clientsMutex sync.RWMutex
	userClients  map[string]map[uuid.UUID]bool // userID -> map[clientID]bool
	userMutex    sync.RWMutex
	newSession   SessionFactory
	ctx          context.Context
	cancel       context.CancelFunc
}

// EventType определяет тип события WebSocket
type EventType string

const (
	// События сервера
	EventSnapshot        EventType = "snapshot"
	EventNewMessage      EventType = "new_message"
	EventRequestReceived EventType = "request_received"
	EventAnnouncement    EventType = "announcement"
	EventError           EventType = "error"

	// События клиента
	EventOpenThread  EventType = "open_thread"
	EventCloseThread EventType = "close_thread"
	EventSendMessage EventType = "send_message"
)

// Event представляет структуру сообщения для WebSocket
type Event struct {
	Type      EventType       `json:"type"`
	ThreadID  string          `json:"thread_id,omitempty"`
	UserID    string          `json:"user_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewManager создает новый экземпляр Manager
func NewManager(newSession SessionFactory) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		clients:     make(map[uuid.UUID]*Client),
		userClients: make(map[string]map[uuid.UUID]bool),
		newSession:  newSession,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Context завершается при остановке менеджера
func (m *Manager) Context() context.Context {
	return m.ctx
}

// AddClient регистрирует нового клиента
func (m *Manager) AddClient(client *Client) {
	m.clientsMutex.Lock()
	m.clients[client.ID] = client
	m.clientsMutex.Unlock()

	m.userMutex.Lock()
	if _, exists := m.userClients[client.UserID]; !exists {
		m.userClients[client.UserID] = make(map[uuid.UUID]bool)
	}
	m.userClients[client.UserID][client.ID] = true
	m.userMutex.Unlock()

	log.Printf("WebSocket клиент %s подключён для пользователя %s", client.ID, client.UserID)
}

// RemoveClient удаляет клиента
func (m *Manager) RemoveClient(clientID uuid.UUID) {
	m.clientsMutex.Lock()
	client, exists := m.clients[clientID]
	delete(m.clients, clientID)
	m.clientsMutex.Unlock()

	if !exists {
		return
	}

	userID := client.UserID

	m.userMutex.Lock()
	if clients, ok := m.userClients[userID]; ok {
		delete(clients, clientID)
		// Последнее соединение пользователя
		if len(clients) == 0 {
			delete(m.userClients, userID)
		}
	}
	m.userMutex.Unlock()

	log.Printf("WebSocket клиент %s отключён для пользователя %s", clientID, userID)
}

// Online сообщает, сколько соединений открыто у пользователя
func (m *Manager) Online(userID string) int {
	m.userMutex.RLock()
	defer m.userMutex.RUnlock()
	return len(m.userClients[userID])
}

// Count возвращает число открытых соединений
func (m *Manager) Count() int {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()
	return len(m.clients)
}

// Connect создает сессию для вызывающего и входит в неё
func (m *Manager) Connect(ctx context.Context, caller models.Caller) (*state.Session, error) {
	session := m.newSession()
	if err := session.SignIn(ctx, caller); err != nil {
		return nil, err
	}
	return session, nil
}

// Shutdown корректно завершает работу менеджера WebSocket
func (m *Manager) Shutdown() {
	m.cancel()

	m.clientsMutex.Lock()
	clients := make([]*Client, 0, len(m.clients))
	for _, client := range m.clients {
		clients = append(clients, client)
	}
	m.clientsMutex.Unlock()

	for _, client := range clients {
		client.conn.Close()
	}
}
