package websocket

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/rajivgeraev/skillmates-api/internal/apperr"
	"github.com/rajivgeraev/skillmates-api/internal/db"
	"github.com/rajivgeraev/skillmates-api/internal/models"
	"github.com/rajivgeraev/skillmates-api/internal/utils"
)

// CallerResolver определяет вызывающего по токену сессии
type CallerResolver interface {
	Caller(ctx context.Context, token string) (models.Caller, error)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// NewRouter создает маршрутизатор WebSocket-сервера
func NewRouter(m *Manager, resolver CallerResolver, apiKey string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "connections": m.Count()})
	})
	r.Get("/ws", m.serveWS(resolver, apiKey))

	return r
}

// serveWS проверяет ключ и токен, после чего открывает соединение с сессией
// пользователя. Браузер не может передать заголовки при открытии WebSocket,
// поэтому ключ и токен принимаются и в параметрах запроса.
func (m *Manager) serveWS(resolver CallerResolver, apiKey string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("apikey")
		if key == "" {
			key = r.URL.Query().Get("apikey")
		}
		if key == "" || subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) != 1 {
			writeError(w, apperr.Unauthorized("Неверный или отсутствующий apikey"))
			return
		}

		token := r.URL.Query().Get("token")
		if token == "" {
			token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if token == "" {
			writeError(w, apperr.Unauthorized("Не передан токен сессии"))
			return
		}

		ctx, cancel := db.Bound(r.Context())
		defer cancel()

		caller, err := resolver.Caller(ctx, token)
		if err != nil {
			writeError(w, err)
			return
		}

		session, err := m.Connect(ctx, caller)
		if err != nil {
			log.Printf("Ошибка открытия сессии для %s: %v", caller.UserID, err)
			writeError(w, err)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("Ошибка установки WebSocket соединения: %v", err)
			session.SignOut()
			return
		}

		NewClient(session, conn, m).Start()
	}
}

func writeError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	status := utils.StatusFor(kind)
	if kind == apperr.KindUnauthorized {
		status = http.StatusUnauthorized
	}
	writeJSON(w, status, map[string]any{
		"success": false,
		"kind":    kind,
		"error":   apperr.MessageOf(err),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("Ошибка записи ответа: %v", err)
	}
}
