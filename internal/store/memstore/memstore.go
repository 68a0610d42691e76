// Package memstore - хранилище в памяти с семантикой бэкенда: серверные id
// и метки времени, уникальные ограничения, уведомления о вставках.
// Используется в тестах сервисов.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rajivgeraev/skillmates-api/internal/apperr"
	"github.com/rajivgeraev/skillmates-api/internal/store"
)

// TimeLayout совпадает с форматом timestamptz в row_to_json
const TimeLayout = "2006-01-02T15:04:05.000000Z07:00"

var defaults = map[string]store.Row{
	store.Users: {
		"availability": "Flexible", "skills_offered": []any{}, "skills_wanted": []any{},
		"rating": 0.0, "reviews": 0.0, "is_public": true, "is_banned": false,
		"is_profile_approved": false, "role": "user",
	},
	store.SwapRequests: {"status": "pending"},
	store.ChatThreads:  {"is_completed": false, "completed_user_ids": []any{}},
	store.Announcements: {
		"type": "info", "is_active": true,
	},
}

type failure struct {
	op  string
	err error
}

// Store - реализация store.Store в памяти
type Store struct {
	mu       sync.Mutex
	rows     map[string][]store.Row
	hub      *store.Hub
	last     time.Time
	failures map[string][]failure
}

// New создаёт пустое хранилище
func New() *Store {
	return &Store{
		rows:     make(map[string][]store.Row),
		hub:      store.NewHub(),
		failures: make(map[string][]failure),
	}
}

// FailNext заставляет следующую операцию op ("select", "insert", "update",
// "delete") над коллекцией вернуть err
func (s *Store) FailNext(collection, op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[collection] = append(s.failures[collection], failure{op: op, err: err})
}

// Subscribers возвращает число активных подписок
func (s *Store) Subscribers() int {
	return s.hub.Count()
}

// Len возвращает число записей коллекции
func (s *Store) Len(collection string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows[collection])
}

func (s *Store) Select(ctx context.Context, collection string, f store.Filter) ([]store.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindTimeout, "контекст завершён", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(collection, "select"); err != nil {
		return nil, err
	}

	out := []store.Row{}
	for _, r := range s.rows[collection] {
		if store.Match(r, f) {
			out = append(out, clone(r))
		}
	}
	store.Sort(out, f.Orders)
	return store.Paginate(out, f.Limit, f.Offset), nil
}

func (s *Store) Insert(ctx context.Context, collection string, row store.Row) (store.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindTimeout, "контекст завершён", err)
	}
	s.mu.Lock()
	if err := s.check(collection, "insert"); err != nil {
		s.mu.Unlock()
		return nil, err
	}

	rec, err := normalize(collection, row)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	for k, v := range defaults[collection] {
		if _, ok := rec[k]; !ok {
			rec[k] = v
		}
	}
	if id, _ := rec["id"].(string); id == "" {
		rec["id"] = uuid.NewString()
	}
	now := s.tick().Format(TimeLayout)
	if _, ok := rec["created_at"]; !ok {
		rec["created_at"] = now
	}
	if store.HasUpdatedAt(collection) {
		rec["updated_at"] = now
	}

	for _, col := range store.UniqueColumns(collection) {
		for _, existing := range s.rows[collection] {
			if store.SameValue(existing[col], rec[col]) {
				s.mu.Unlock()
				return nil, apperr.Conflict("запись уже существует")
			}
		}
	}

	s.rows[collection] = append(s.rows[collection], rec)
	out := clone(rec)
	s.mu.Unlock()

	s.hub.Publish(collection, out)
	return clone(out), nil
}

func (s *Store) Update(ctx context.Context, collection string, f store.Filter, patch store.Row) ([]store.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindTimeout, "контекст завершён", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(collection, "update"); err != nil {
		return nil, err
	}
	if len(f.Conditions) == 0 {
		return nil, fmt.Errorf("обновление %s без условий запрещено", collection)
	}

	p, err := normalize(collection, patch)
	if err != nil {
		return nil, err
	}
	delete(p, "id")
	delete(p, "created_at")

	out := []store.Row{}
	for i, r := range s.rows[collection] {
		if !store.Match(r, f) {
			continue
		}
		for col, v := range p {
			for _, unique := range store.UniqueColumns(collection) {
				if col != unique {
					continue
				}
				for j, other := range s.rows[collection] {
					if j != i && store.SameValue(other[col], v) {
						return nil, apperr.Conflict("запись уже существует")
					}
				}
			}
		}
		for col, v := range p {
			r[col] = v
		}
		if store.HasUpdatedAt(collection) {
			r["updated_at"] = s.tick().Format(TimeLayout)
		}
		s.rows[collection][i] = r
		out = append(out, clone(r))
	}
	if len(out) == 0 {
		return nil, apperr.NotFound("запись не найдена")
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, collection string, f store.Filter) error {
	if err := ctx.Err(); err != nil {
		return apperr.Wrap(apperr.KindTimeout, "контекст завершён", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(collection, "delete"); err != nil {
		return err
	}
	if len(f.Conditions) == 0 {
		return fmt.Errorf("удаление из %s без условий запрещено", collection)
	}

	kept := s.rows[collection][:0]
	removed := 0
	for _, r := range s.rows[collection] {
		if store.Match(r, f) {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	s.rows[collection] = kept
	if removed == 0 {
		return apperr.NotFound("запись не найдена")
	}
	return nil
}

func (s *Store) SubscribeToInserts(collection string, f store.Filter, callback func(store.Row)) (store.Subscription, error) {
	if !store.Known(collection) {
		return nil, fmt.Errorf("неизвестная коллекция: %s", collection)
	}
	return s.hub.Subscribe(collection, f, callback), nil
}

func (s *Store) check(collection, op string) error {
	if !store.Known(collection) {
		return fmt.Errorf("неизвестная коллекция: %s", collection)
	}
	queue := s.failures[collection]
	for i, fl := range queue {
		if fl.op == op {
			s.failures[collection] = append(queue[:i:i], queue[i+1:]...)
			return fl.err
		}
	}
	return nil
}

// tick выдаёт строго возрастающие метки времени с точностью до микросекунды
func (s *Store) tick() time.Time {
	now := time.Now().UTC().Truncate(time.Microsecond)
	if !now.After(s.last) {
		now = s.last.Add(time.Microsecond)
	}
	s.last = now
	return now
}

// normalize оставляет известные колонки и приводит значения к JSON-форме,
// как если бы запись прошла через бэкенд
func normalize(collection string, row store.Row) (store.Row, error) {
	filtered := make(store.Row, len(row))
	for k, v := range row {
		if store.HasColumn(collection, k) {
			if t, ok := v.(time.Time); ok {
				v = t.UTC().Format(TimeLayout)
			}
			filtered[k] = v
		}
	}
	raw, err := json.Marshal(filtered)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации записи %s: %w", collection, err)
	}
	var out store.Row
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("ошибка разбора записи %s: %w", collection, err)
	}
	return out, nil
}

func clone(r store.Row) store.Row {
	raw, _ := json.Marshal(r)
	var out store.Row
	_ = json.Unmarshal(raw, &out)
	return out
}
