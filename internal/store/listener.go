package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/lib/pq"

	"github.com/rajivgeraev/skillmates-api/internal/db"
)

const (
	minReconnectInterval = 10 * time.Second
	maxReconnectInterval = time.Minute
	listenerPingPeriod   = 90 * time.Second
)

type insertNotice struct {
	Table string `json:"table"`
	ID    string `json:"id"`
}

// ChangeFeed получает уведомления о вставках из канала LISTEN/NOTIFY
// и раздаёт подписчикам полные записи. pq.Listener сам переподключается
// после обрыва соединения.
type ChangeFeed struct {
	*Hub
	listener *pq.Listener
	fetch    func(ctx context.Context, collection, id string) (Row, error)
}

// NewChangeFeed подключается к бэкенду и начинает слушать канал вставок
func NewChangeFeed(dsn string) (*ChangeFeed, error) {
	reportProblem := func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.Printf("Ошибка канала уведомлений (событие %d): %v", ev, err)
		}
	}

	listener := pq.NewListener(dsn, minReconnectInterval, maxReconnectInterval, reportProblem)
	if err := listener.Listen(db.NotifyChannel); err != nil {
		listener.Close()
		return nil, fmt.Errorf("ошибка подписки на канал %s: %w", db.NotifyChannel, err)
	}

	return &ChangeFeed{Hub: NewHub(), listener: listener}, nil
}

// Run обрабатывает уведомления до отмены контекста
func (f *ChangeFeed) Run(ctx context.Context) {
	ticker := time.NewTicker(listenerPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case n := <-f.listener.Notify:
			// nil приходит после переподключения: уведомления за время обрыва потеряны
			if n == nil {
				log.Println("Канал уведомлений переподключен")
				continue
			}
			f.handle(ctx, n.Extra)
		case <-ticker.C:
			go func() {
				if err := f.listener.Ping(); err != nil {
					log.Printf("Ping канала уведомлений не прошёл: %v", err)
				}
			}()
		}
	}
}

// Close закрывает соединение слушателя
func (f *ChangeFeed) Close() error {
	return f.listener.Close()
}

func (f *ChangeFeed) handle(ctx context.Context, payload string) {
	var notice insertNotice
	if err := json.Unmarshal([]byte(payload), &notice); err != nil {
		log.Printf("Ошибка разбора уведомления %q: %v", payload, err)
		return
	}
	if !f.Has(notice.Table) || f.fetch == nil {
		return
	}

	row, err := f.fetch(ctx, notice.Table, notice.ID)
	if err != nil {
		log.Printf("Ошибка получения записи %s/%s: %v", notice.Table, notice.ID, err)
		return
	}
	f.Publish(notice.Table, row)
}
