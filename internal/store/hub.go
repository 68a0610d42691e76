package store

import (
	"log"
	"sync"
)

type subscriber struct {
	filter   Filter
	callback func(Row)
}

// Hub раздаёт уведомления о вставках подписчикам коллекций
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]*subscriber
	nextID uint64
}

// NewHub создаёт пустой Hub
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[uint64]*subscriber)}
}

// Subscribe регистрирует обработчик вставок в коллекцию, подходящих под фильтр
func (h *Hub) Subscribe(collection string, filter Filter, callback func(Row)) Subscription {
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	if _, ok := h.subs[collection]; !ok {
		h.subs[collection] = make(map[uint64]*subscriber)
	}
	h.subs[collection][id] = &subscriber{filter: filter, callback: callback}
	h.mu.Unlock()

	return Once(func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if subs, ok := h.subs[collection]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(h.subs, collection)
			}
		}
	})
}

// Has сообщает, есть ли подписчики у коллекции
func (h *Hub) Has(collection string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[collection]) > 0
}

// Count возвращает общее число активных подписок
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, subs := range h.subs {
		n += len(subs)
	}
	return n
}

// Publish вызывает подходящие обработчики. Обработчики вызываются синхронно
// вне блокировки и не должны надолго блокировать.
func (h *Hub) Publish(collection string, row Row) {
	h.mu.RLock()
	var matched []*subscriber
	for _, sub := range h.subs[collection] {
		if Match(row, sub.filter) {
			matched = append(matched, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range matched {
		deliver(sub, row)
	}
}

func deliver(sub *subscriber, row Row) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Паника в обработчике подписки: %v", r)
		}
	}()
	// Каждый подписчик получает свою копию записи
	cp := make(Row, len(row))
	for k, v := range row {
		cp[k] = v
	}
	sub.callback(cp)
}
