package chat

import (
	"context"
	"sort"
	"strings"

	"github.com/rajivgeraev/skillmates-api/internal/apperr"
	"github.com/rajivgeraev/skillmates-api/internal/mapper"
	"github.com/rajivgeraev/skillmates-api/internal/models"
	"github.com/rajivgeraev/skillmates-api/internal/query"
	"github.com/rajivgeraev/skillmates-api/internal/store"
)

// Ключи кэша чатов
const OpThreads = "chats.threads"

// Размер страницы сообщений
const (
	DefaultMessageLimit = 50
	MaxMessageLimit     = 200
)

// попытки записать отметку о завершении при гонке двух участников
const completionAttempts = 3

// ChatService представляет сервис для работы с чатами обменов
type ChatService struct {
	store store.Store
	cache *query.Client
}

// NewChatService создает новый экземпляр ChatService
func NewChatService(st store.Store, cache *query.Client) *ChatService {
	return &ChatService{store: st, cache: cache}
}

// GetOrCreateThread возвращает чат обмена, создавая его при первом обращении.
// Одновременные вызовы получают один и тот же чат: request_id уникален,
// проигравший вставку перечитывает запись.
func (s *ChatService) GetOrCreateThread(ctx context.Context, caller models.Caller, requestID string) (models.ChatThread, error) {
	if requestID == "" {
		return models.ChatThread{}, apperr.Validation("Не указан ID обмена")
	}
	rows, err := s.store.Select(ctx, store.SwapRequests, store.Where("id", requestID).Page(1, 0))
	if err != nil {
		return models.ChatThread{}, err
	}
	if len(rows) == 0 {
		return models.ChatThread{}, apperr.NotFound("Обмен не найден")
	}
	req := mapper.RequestFromRow(rows[0])

	if !req.IsParticipant(caller.UserID) {
		return models.ChatThread{}, apperr.Unauthorized("У вас нет доступа к этому чату")
	}
	if req.Status != models.StatusAccepted && req.Status != models.StatusCompleted {
		return models.ChatThread{}, apperr.InvalidState("Чат доступен только для принятого обмена")
	}

	if thread, ok, err := s.FindThread(ctx, requestID); err != nil || ok {
		return thread, err
	}

	row, err := s.store.Insert(ctx, store.ChatThreads, mapper.ThreadToRow(models.ChatThread{
		RequestID:          requestID,
		ParticipantUserIDs: []string{req.FromUserID, req.ToUserID},
		CompletedUserIDs:   []string{},
	}))
	if apperr.KindOf(err) == apperr.KindConflict {
		thread, ok, err := s.FindThread(ctx, requestID)
		if err != nil {
			return models.ChatThread{}, err
		}
		if !ok {
			return models.ChatThread{}, apperr.Conflict("Не удалось создать чат, повторите попытку")
		}
		return thread, nil
	}
	if err != nil {
		return models.ChatThread{}, err
	}

	s.invalidate(req.FromUserID, req.ToUserID)
	return mapper.ThreadFromRow(row), nil
}

// FindThread ищет чат обмена, не создавая его
func (s *ChatService) FindThread(ctx context.Context, requestID string) (models.ChatThread, bool, error) {
	rows, err := s.store.Select(ctx, store.ChatThreads, store.Where("request_id", requestID).Page(1, 0))
	if err != nil {
		return models.ChatThread{}, false, err
	}
	if len(rows) == 0 {
		return models.ChatThread{}, false, nil
	}
	return mapper.ThreadFromRow(rows[0]), true, nil
}

// GetThread возвращает чат участнику
func (s *ChatService) GetThread(ctx context.Context, caller models.Caller, threadID string) (models.ChatThread, error) {
	thread, err := s.loadThread(ctx, threadID)
	if err != nil {
		return models.ChatThread{}, err
	}
	if !thread.IsParticipant(caller.UserID) {
		return models.ChatThread{}, apperr.Unauthorized("У вас нет доступа к этому чату")
	}
	return thread, nil
}

// SendMessage добавляет сообщение в чат и возвращает его в том виде,
// в каком его сохранил бэкенд
func (s *ChatService) SendMessage(ctx context.Context, caller models.Caller, threadID, content string) (models.ChatMessage, error) {
	thread, err := s.GetThread(ctx, caller, threadID)
	if err != nil {
		return models.ChatMessage{}, err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return models.ChatMessage{}, apperr.Validation("Текст сообщения не может быть пустым")
	}
	if thread.IsCompleted {
		return models.ChatMessage{}, apperr.InvalidState("Обмен завершён, чат доступен только для чтения")
	}

	row, err := s.store.Insert(ctx, store.ChatMessages, mapper.MessageToRow(models.ChatMessage{
		ThreadID:     thread.ID,
		SenderUserID: caller.UserID,
		Content:      content,
	}))
	if err != nil {
		return models.ChatMessage{}, err
	}
	return mapper.MessageFromRow(row), nil
}

// GetMessages возвращает страницу сообщений по возрастанию времени
func (s *ChatService) GetMessages(ctx context.Context, caller models.Caller, threadID string, limit, offset int) ([]models.ChatMessage, error) {
	if _, err := s.GetThread(ctx, caller, threadID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultMessageLimit
	} else if limit > MaxMessageLimit {
		limit = MaxMessageLimit
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.store.Select(ctx, store.ChatMessages, store.Where("thread_id", threadID).
		OrderBy("created_at", false).OrderBy("id", false).Page(limit, offset))
	if err != nil {
		return nil, err
	}
	messages := make([]models.ChatMessage, 0, len(rows))
	for _, row := range rows {
		messages = append(messages, mapper.MessageFromRow(row))
	}
	SortMessages(messages)
	return messages, nil
}

// MarkCompleted отмечает, что участник считает обмен завершённым.
// Повторная отметка ничего не меняет; чат завершён, когда отметились оба.
func (s *ChatService) MarkCompleted(ctx context.Context, threadID, userID string) (models.ChatThread, error) {
	for attempt := 0; ; attempt++ {
		thread, err := s.loadThread(ctx, threadID)
		if err != nil {
			return models.ChatThread{}, err
		}
		if !thread.IsParticipant(userID) {
			return models.ChatThread{}, apperr.Unauthorized("У вас нет доступа к этому чату")
		}
		if thread.HasCompleted(userID) {
			return thread, nil
		}

		completed := append(append([]string{}, thread.CompletedUserIDs...), userID)
		next := thread
		next.CompletedUserIDs = completed
		next.IsCompleted = next.CoveredByCompletion()

		// Условие на прежний список защищает от потери отметки второго участника
		rows, err := s.store.Update(ctx, store.ChatThreads,
			store.Where("id", thread.ID).Eq("completed_user_ids", thread.CompletedUserIDs),
			store.Row{"completed_user_ids": completed, "is_completed": next.IsCompleted})
		if err == nil {
			s.invalidate(thread.ParticipantUserIDs...)
			return mapper.ThreadFromRow(rows[0]), nil
		}
		if apperr.KindOf(err) != apperr.KindNotFound || attempt+1 >= completionAttempts {
			return models.ChatThread{}, err
		}
	}
}

// Subscribe подписывает на новые сообщения чата. Сообщения приходят в том же
// виде, что и из GetMessages.
func (s *ChatService) Subscribe(ctx context.Context, caller models.Caller, threadID string, fn func(models.ChatMessage)) (store.Subscription, error) {
	if _, err := s.GetThread(ctx, caller, threadID); err != nil {
		return nil, err
	}
	return s.store.SubscribeToInserts(store.ChatMessages, store.Where("thread_id", threadID), func(row store.Row) {
		fn(mapper.MessageFromRow(row))
	})
}

// ListThreads возвращает чаты пользователя, новые первыми
func (s *ChatService) ListThreads(ctx context.Context, caller models.Caller) ([]models.ChatThread, error) {
	if caller.Anonymous() {
		return nil, apperr.Unauthorized("Пользователь не авторизован")
	}
	return query.Fetch(ctx, s.cache, query.NewKey(OpThreads, caller.UserID), func(ctx context.Context) ([]models.ChatThread, error) {
		rows, err := s.store.Select(ctx, store.ChatThreads,
			store.All().Contains("participant_user_ids", caller.UserID).OrderBy("created_at", true))
		if err != nil {
			return nil, err
		}
		threads := make([]models.ChatThread, 0, len(rows))
		for _, row := range rows {
			threads = append(threads, mapper.ThreadFromRow(row))
		}
		return threads, nil
	})
}

func (s *ChatService) loadThread(ctx context.Context, threadID string) (models.ChatThread, error) {
	if threadID == "" {
		return models.ChatThread{}, apperr.Validation("Не указан ID чата")
	}
	rows, err := s.store.Select(ctx, store.ChatThreads, store.Where("id", threadID).Page(1, 0))
	if err != nil {
		return models.ChatThread{}, err
	}
	if len(rows) == 0 {
		return models.ChatThread{}, apperr.NotFound("Чат не найден")
	}
	return mapper.ThreadFromRow(rows[0]), nil
}

func (s *ChatService) invalidate(userIDs ...string) {
	keys := make([]query.Key, 0, len(userIDs))
	for _, id := range userIDs {
		keys = append(keys, query.NewKey(OpThreads, id))
	}
	s.cache.Invalidate(keys...)
}

// SortMessages упорядочивает сообщения по времени создания, при равенстве по id
func SortMessages(messages []models.ChatMessage) {
	sort.SliceStable(messages, func(i, j int) bool {
		a, b := messages[i], messages[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// MergeMessages объединяет уже показанные и новые сообщения: повтор по id
// заменяется новой версией, результат заново сортируется. Сообщения без id
// (ещё не подтверждённые) сохраняются.
func MergeMessages(existing, incoming []models.ChatMessage) []models.ChatMessage {
	merged := make([]models.ChatMessage, 0, len(existing)+len(incoming))
	index := make(map[string]int, len(existing)+len(incoming))
	for _, list := range [][]models.ChatMessage{existing, incoming} {
		for _, m := range list {
			if m.ID == "" {
				merged = append(merged, m)
				continue
			}
			if i, ok := index[m.ID]; ok {
				merged[i] = m
				continue
			}
			index[m.ID] = len(merged)
			merged = append(merged, m)
		}
	}
	SortMessages(merged)
	return merged
}
