package store

import (
	"context"
	"sync"
)

// Коллекции удалённого хранилища
const (
	Users         = "users"
	SwapRequests  = "swap_requests"
	ChatThreads   = "chat_threads"
	ChatMessages  = "chat_messages"
	Announcements = "announcements"
)

// Row - запись коллекции в форме, в которой её отдаёт бэкенд (JSON-объект)
type Row map[string]any

// Store - долговременное хранилище записей с фильтрованными запросами
// и уведомлениями о вставках
type Store interface {
	Select(ctx context.Context, collection string, filter Filter) ([]Row, error)
	Insert(ctx context.Context, collection string, row Row) (Row, error)
	// Update возвращает обновлённые записи; если фильтру не соответствует ни одна,
	// возвращается NotFound
	Update(ctx context.Context, collection string, filter Filter, patch Row) ([]Row, error)
	Delete(ctx context.Context, collection string, filter Filter) error
	SubscribeToInserts(collection string, filter Filter, callback func(Row)) (Subscription, error)
}

// Subscription - открытая подписка. Unsubscribe можно вызывать повторно.
type Subscription interface {
	Unsubscribe()
}

// SubscriptionFunc адаптирует функцию к интерфейсу Subscription
type SubscriptionFunc func()

func (f SubscriptionFunc) Unsubscribe() { f() }

// Once делает Unsubscribe идемпотентным
func Once(fn func()) Subscription {
	var once sync.Once
	return SubscriptionFunc(func() { once.Do(fn) })
}

// columns перечисляет допустимые колонки коллекций. Всё, чего нет в списке,
// отбрасывается до построения запроса.
var columns = map[string][]string{
	Users: {
		"id", "name", "email", "location", "avatar", "bio", "availability",
		"skills_offered", "skills_wanted", "rating", "reviews", "is_public",
		"is_banned", "is_profile_approved", "role", "created_at", "updated_at",
	},
	SwapRequests: {
		"id", "from_user_id", "to_user_id", "offered_skill", "requested_skill", "message",
		"status", "rating_from_sender", "rating_from_recipient", "feedback_from_sender",
		"feedback_from_recipient", "created_at", "updated_at",
	},
	ChatThreads: {
		"id", "request_id", "participant_user_ids", "is_completed", "completed_user_ids", "created_at",
	},
	ChatMessages: {
		"id", "thread_id", "sender_user_id", "content", "created_at",
	},
	Announcements: {
		"id", "title", "message", "type", "is_active", "expires_at", "created_at",
	},
}

// uniqueColumns - уникальные ограничения, которые хранилище обязано соблюдать
var uniqueColumns = map[string][]string{
	Users:       {"email"},
	ChatThreads: {"request_id"},
}

// Collections возвращает имена всех коллекций
func Collections() []string {
	return []string{Users, SwapRequests, ChatThreads, ChatMessages, Announcements}
}

// Columns возвращает допустимые колонки коллекции
func Columns(collection string) []string {
	return columns[collection]
}

// UniqueColumns возвращает уникальные колонки коллекции
func UniqueColumns(collection string) []string {
	return uniqueColumns[collection]
}

// HasColumn проверяет, что колонка существует в коллекции
func HasColumn(collection, column string) bool {
	for _, c := range columns[collection] {
		if c == column {
			return true
		}
	}
	return false
}

// Known проверяет, что коллекция существует
func Known(collection string) bool {
	_, ok := columns[collection]
	return ok
}

// HasUpdatedAt сообщает, ведёт ли коллекция колонку updated_at
func HasUpdatedAt(collection string) bool {
	return HasColumn(collection, "updated_at")
}
