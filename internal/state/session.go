package state

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rajivgeraev/skillmates-api/internal/apperr"
	"github.com/rajivgeraev/skillmates-api/internal/models"
	"github.com/rajivgeraev/skillmates-api/internal/services/chat"
	"github.com/rajivgeraev/skillmates-api/internal/services/request"
	"github.com/rajivgeraev/skillmates-api/internal/store"
)

// Источники данных сессии

type Users interface {
	GetProfile(ctx context.Context, caller models.Caller, userID string) (models.User, error)
	WatchProfile(caller models.Caller, fn func(models.User)) (store.Subscription, error)
}

type Requests interface {
	List(ctx context.Context, caller models.Caller, direction, status string) ([]models.SwapRequest, error)
	SubscribeIncoming(caller models.Caller, fn func(models.SwapRequest)) (store.Subscription, error)
	WatchIncoming(caller models.Caller, fn func([]models.SwapRequest)) (store.Subscription, error)
}

type Announcements interface {
	List(ctx context.Context) ([]models.Announcement, error)
	Subscribe(fn func(models.Announcement)) (store.Subscription, error)
}

type Chats interface {
	GetMessages(ctx context.Context, caller models.Caller, threadID string, limit, offset int) ([]models.ChatMessage, error)
	SendMessage(ctx context.Context, caller models.Caller, threadID, content string) (models.ChatMessage, error)
	Subscribe(ctx context.Context, caller models.Caller, threadID string, fn func(models.ChatMessage)) (store.Subscription, error)
}

// Виды изменений состояния
const (
	ChangeSnapshot     = "snapshot"
	ChangeMessage      = "new_message"
	ChangeRequest      = "request_received"
	ChangeAnnouncement = "announcement"
)

// Snapshot - копия состояния сессии
type Snapshot struct {
	User          *models.User          `json:"user"`
	Announcements []models.Announcement `json:"announcements"`
	Inbox         []models.SwapRequest  `json:"inbox"`
	ThreadID      string                `json:"thread_id,omitempty"`
	Messages      []models.ChatMessage  `json:"messages"`
}

// Change описывает одно изменение и состояние после него
type Change struct {
	Kind         string
	Snapshot     Snapshot
	Message      *models.ChatMessage
	Request      *models.SwapRequest
	Announcement *models.Announcement
}

// Session хранит состояние одного вошедшего пользователя: профиль, объявления,
// входящие предложения и открытый чат. Все подписки принадлежат сессии и
// снимаются при выходе.
type Session struct {
	users         Users
	requests      Requests
	announcements Announcements
	chats         Chats
	now           func() time.Time

	mu        sync.Mutex
	caller    models.Caller
	snap      Snapshot
	subs      []store.Subscription
	threadSub store.Subscription

	lmu       sync.Mutex
	listeners map[uint64]func(Change)
	nextID    uint64
}

// NewSession создает пустую сессию
func NewSession(users Users, requests Requests, announcements Announcements, chats Chats) *Session {
	return &Session{
		users:         users,
		requests:      requests,
		announcements: announcements,
		chats:         chats,
		now:           time.Now,
		listeners:     make(map[uint64]func(Change)),
	}
}

// SignIn загружает данные пользователя и подписывается на новые предложения
// и объявления. Профиль и входящие перечитываются из кэша после каждого
// изменения. Повторный вход сначала завершает прежнюю сессию.
func (s *Session) SignIn(ctx context.Context, caller models.Caller) error {
	if caller.Anonymous() {
		return apperr.Unauthorized("Пользователь не авторизован")
	}
	s.SignOut()

	user, err := s.users.GetProfile(ctx, caller, caller.UserID)
	if err != nil {
		return err
	}
	announcements, err := s.announcements.List(ctx)
	if err != nil {
		return err
	}
	inbox, err := s.requests.List(ctx, caller, request.DirectionIncoming, string(models.StatusPending))
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.caller = caller
	s.snap = Snapshot{
		User:          &user,
		Announcements: append([]models.Announcement(nil), announcements...),
		Inbox:         append([]models.SwapRequest(nil), inbox...),
	}
	s.mu.Unlock()

	var subs []store.Subscription
	fail := func(err error) error {
		for _, sub := range subs {
			sub.Unsubscribe()
		}
		s.SignOut()
		return err
	}

	reqSub, err := s.requests.SubscribeIncoming(caller, func(req models.SwapRequest) {
		s.onRequest(caller.UserID, req)
	})
	if err != nil {
		return fail(err)
	}
	subs = append(subs, reqSub)

	annSub, err := s.announcements.Subscribe(func(a models.Announcement) {
		s.onAnnouncement(caller.UserID, a)
	})
	if err != nil {
		return fail(err)
	}
	subs = append(subs, annSub)

	inboxSub, err := s.requests.WatchIncoming(caller, func(inbox []models.SwapRequest) {
		s.onInbox(caller.UserID, inbox)
	})
	if err != nil {
		return fail(err)
	}
	subs = append(subs, inboxSub)

	profileSub, err := s.users.WatchProfile(caller, func(u models.User) {
		s.onProfile(caller.UserID, u)
	})
	if err != nil {
		return fail(err)
	}
	subs = append(subs, profileSub)

	s.mu.Lock()
	s.subs = append(s.subs, subs...)
	snap := s.copyLocked()
	s.mu.Unlock()

	s.emit(Change{Kind: ChangeSnapshot, Snapshot: snap})
	return nil
}

// SignOut снимает все подписки и очищает состояние
func (s *Session) SignOut() {
	s.mu.Lock()
	signedIn := !s.caller.Anonymous()
	subs := s.subs
	if s.threadSub != nil {
		subs = append(subs, s.threadSub)
	}
	s.subs = nil
	s.threadSub = nil
	s.caller = models.Caller{}
	s.snap = Snapshot{}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
	if signedIn {
		s.emit(Change{Kind: ChangeSnapshot})
	}
}

// Caller возвращает пользователя сессии
func (s *Session) Caller() models.Caller {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.caller
}

// Snapshot возвращает копию текущего состояния
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyLocked()
}

// OpenThread делает чат текущим. Одновременно открыт только один чат:
// подписка на прежний снимается.
func (s *Session) OpenThread(ctx context.Context, threadID string) error {
	s.mu.Lock()
	caller := s.caller
	s.mu.Unlock()
	if caller.Anonymous() {
		return apperr.Unauthorized("Пользователь не авторизован")
	}
	s.CloseThread()

	// Подписываемся до загрузки истории, чтобы не потерять сообщения между ними
	s.mu.Lock()
	s.snap.ThreadID = threadID
	s.snap.Messages = nil
	s.mu.Unlock()

	sub, err := s.chats.Subscribe(ctx, caller, threadID, func(msg models.ChatMessage) {
		s.onMessage(threadID, msg)
	})
	if err != nil {
		s.resetThread(threadID)
		return err
	}

	history, err := s.chats.GetMessages(ctx, caller, threadID, chat.MaxMessageLimit, 0)
	if err != nil {
		sub.Unsubscribe()
		s.resetThread(threadID)
		return err
	}

	s.mu.Lock()
	if s.snap.ThreadID != threadID || s.caller.UserID != caller.UserID {
		s.mu.Unlock()
		sub.Unsubscribe()
		return apperr.InvalidState("Чат был закрыт во время загрузки")
	}
	s.threadSub = sub
	s.snap.Messages = chat.MergeMessages(s.snap.Messages, history)
	snap := s.copyLocked()
	s.mu.Unlock()

	s.emit(Change{Kind: ChangeSnapshot, Snapshot: snap})
	return nil
}

// CloseThread закрывает текущий чат
func (s *Session) CloseThread() {
	s.mu.Lock()
	sub := s.threadSub
	wasOpen := s.snap.ThreadID != ""
	s.threadSub = nil
	s.snap.ThreadID = ""
	s.snap.Messages = nil
	snap := s.copyLocked()
	s.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	if wasOpen {
		s.emit(Change{Kind: ChangeSnapshot, Snapshot: snap})
	}
}

// SendMessage отправляет сообщение в открытый чат. Сообщение сразу
// показывается как неподтверждённое, после ответа заменяется сохранённой
// записью, а при ошибке убирается.
func (s *Session) SendMessage(ctx context.Context, content string) (models.ChatMessage, error) {
	content = strings.TrimSpace(content)

	s.mu.Lock()
	caller, threadID := s.caller, s.snap.ThreadID
	if caller.Anonymous() {
		s.mu.Unlock()
		return models.ChatMessage{}, apperr.Unauthorized("Пользователь не авторизован")
	}
	if threadID == "" {
		s.mu.Unlock()
		return models.ChatMessage{}, apperr.InvalidState("Чат не открыт")
	}
	if content == "" {
		s.mu.Unlock()
		return models.ChatMessage{}, apperr.Validation("Сообщение не может быть пустым")
	}
	echo := models.ChatMessage{
		ThreadID:     threadID,
		SenderUserID: caller.UserID,
		Content:      content,
		CreatedAt:    s.now(),
		TempID:       uuid.NewString(),
		Pending:      true,
	}
	s.snap.Messages = chat.MergeMessages(s.snap.Messages, []models.ChatMessage{echo})
	snap := s.copyLocked()
	s.mu.Unlock()
	s.emit(Change{Kind: ChangeSnapshot, Snapshot: snap})

	msg, err := s.chats.SendMessage(ctx, caller, threadID, content)

	s.mu.Lock()
	if s.snap.ThreadID == threadID {
		s.snap.Messages = dropTemp(s.snap.Messages, echo.TempID)
		if err == nil {
			s.snap.Messages = chat.MergeMessages(s.snap.Messages, []models.ChatMessage{msg})
		}
	}
	snap = s.copyLocked()
	s.mu.Unlock()
	s.emit(Change{Kind: ChangeSnapshot, Snapshot: snap})

	if err != nil {
		log.Printf("Ошибка отправки сообщения в чат %s: %v", threadID, err)
		return models.ChatMessage{}, err
	}
	return msg, nil
}

// Subscribe регистрирует получателя изменений
func (s *Session) Subscribe(fn func(Change)) func() {
	s.lmu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.lmu.Unlock()

	return func() {
		s.lmu.Lock()
		delete(s.listeners, id)
		s.lmu.Unlock()
	}
}

func (s *Session) onMessage(threadID string, msg models.ChatMessage) {
	s.mu.Lock()
	if s.snap.ThreadID != threadID {
		s.mu.Unlock()
		return
	}
	s.snap.Messages = chat.MergeMessages(s.snap.Messages, []models.ChatMessage{msg})
	snap := s.copyLocked()
	s.mu.Unlock()

	s.emit(Change{Kind: ChangeMessage, Snapshot: snap, Message: &msg})
}

func (s *Session) onRequest(userID string, req models.SwapRequest) {
	s.mu.Lock()
	if s.caller.UserID != userID {
		s.mu.Unlock()
		return
	}
	// Перечитанный список мог принести предложение раньше уведомления
	known := false
	for _, r := range s.snap.Inbox {
		if r.ID == req.ID {
			known = true
			break
		}
	}
	if !known && req.Status == models.StatusPending {
		s.snap.Inbox = append([]models.SwapRequest{req}, s.snap.Inbox...)
	}
	snap := s.copyLocked()
	s.mu.Unlock()

	s.emit(Change{Kind: ChangeRequest, Snapshot: snap, Request: &req})
}

// onInbox заменяет входящие перечитанным списком
func (s *Session) onInbox(userID string, inbox []models.SwapRequest) {
	s.mu.Lock()
	if s.caller.UserID != userID || sameRequests(s.snap.Inbox, inbox) {
		s.mu.Unlock()
		return
	}
	s.snap.Inbox = append([]models.SwapRequest(nil), inbox...)
	snap := s.copyLocked()
	s.mu.Unlock()

	s.emit(Change{Kind: ChangeSnapshot, Snapshot: snap})
}

func (s *Session) onProfile(userID string, u models.User) {
	s.mu.Lock()
	if s.caller.UserID != userID || u.ID != userID {
		s.mu.Unlock()
		return
	}
	if cur := s.snap.User; cur != nil && cur.UpdatedAt.Equal(u.UpdatedAt) {
		s.mu.Unlock()
		return
	}
	s.snap.User = &u
	snap := s.copyLocked()
	s.mu.Unlock()

	s.emit(Change{Kind: ChangeSnapshot, Snapshot: snap})
}

func (s *Session) onAnnouncement(userID string, a models.Announcement) {
	s.mu.Lock()
	if s.caller.UserID != userID {
		s.mu.Unlock()
		return
	}
	if !a.LiveAt(s.now()) {
		s.mu.Unlock()
		return
	}
	s.snap.Announcements = append([]models.Announcement{a}, s.snap.Announcements...)
	snap := s.copyLocked()
	s.mu.Unlock()

	s.emit(Change{Kind: ChangeAnnouncement, Snapshot: snap, Announcement: &a})
}

func (s *Session) resetThread(threadID string) {
	s.mu.Lock()
	if s.snap.ThreadID == threadID {
		s.snap.ThreadID = ""
		s.snap.Messages = nil
	}
	s.mu.Unlock()
}

func (s *Session) emit(ch Change) {
	s.lmu.Lock()
	fns := make([]func(Change), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.lmu.Unlock()

	for _, fn := range fns {
		fn(ch)
	}
}

func (s *Session) copyLocked() Snapshot {
	snap := Snapshot{
		ThreadID:      s.snap.ThreadID,
		Announcements: append([]models.Announcement(nil), s.snap.Announcements...),
		Inbox:         append([]models.SwapRequest(nil), s.snap.Inbox...),
		Messages:      append([]models.ChatMessage(nil), s.snap.Messages...),
	}
	if s.snap.User != nil {
		u := *s.snap.User
		snap.User = &u
	}
	return snap
}

func sameRequests(a, b []models.SwapRequest) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].Status != b[i].Status || !a[i].UpdatedAt.Equal(b[i].UpdatedAt) {
			return false
		}
	}
	return true
}

func dropTemp(messages []models.ChatMessage, tempID string) []models.ChatMessage {
	out := messages[:0:0]
	for _, m := range messages {
		if m.TempID != tempID {
			out = append(out, m)
		}
	}
	return out
}
