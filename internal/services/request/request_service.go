package request

import (
	"context"
	"log"
	"sort"
	"strings"

	"github.com/rajivgeraev/skillmates-api/internal/apperr"
	"github.com/rajivgeraev/skillmates-api/internal/mapper"
	"github.com/rajivgeraev/skillmates-api/internal/models"
	"github.com/rajivgeraev/skillmates-api/internal/query"
	"github.com/rajivgeraev/skillmates-api/internal/services/chat"
	"github.com/rajivgeraev/skillmates-api/internal/services/user"
	"github.com/rajivgeraev/skillmates-api/internal/store"
)

// Ключи кэша предложений
const OpList = "requests.list"

// Направления выборки предложений
const (
	DirectionIncoming = "incoming"
	DirectionOutgoing = "outgoing"
	DirectionAll      = "all"
)

// transitions - кто может перевести предложение из одного статуса в другой
var transitions = map[models.RequestStatus]map[models.RequestStatus]side{
	models.StatusPending: {
		models.StatusAccepted:  recipientSide,
		models.StatusRejected:  recipientSide,
		models.StatusCancelled: senderSide,
	},
	models.StatusAccepted: {
		models.StatusCompleted: eitherSide,
	},
}

type side int

const (
	senderSide side = iota
	recipientSide
	eitherSide
)

// RequestService представляет сервис для работы с предложениями обмена
type RequestService struct {
	store store.Store
	cache *query.Client
	users *user.UserService
	chats *chat.ChatService
}

// NewRequestService создает новый экземпляр RequestService
func NewRequestService(st store.Store, cache *query.Client, users *user.UserService, chats *chat.ChatService) *RequestService {
	return &RequestService{store: st, cache: cache, users: users, chats: chats}
}

// Draft - данные нового предложения
type Draft struct {
	ToUserID       string `json:"to_user_id"`
	OfferedSkill   string `json:"offered_skill"`
	RequestedSkill string `json:"requested_skill"`
	Message        string `json:"message"`
}

// RatingInput - оценка одной из сторон обмена
type RatingInput struct {
	RequestID    string `json:"-"`
	Rating       int    `json:"rating"`
	Feedback     string `json:"feedback"`
	IsFromSender bool   `json:"is_from_sender"`
}

// Create создает предложение обмена навыками
func (s *RequestService) Create(ctx context.Context, caller models.Caller, d Draft) (models.SwapRequest, error) {
	if caller.Anonymous() {
		return models.SwapRequest{}, apperr.Unauthorized("Пользователь не авторизован")
	}
	d.ToUserID = strings.TrimSpace(d.ToUserID)
	d.OfferedSkill = strings.TrimSpace(d.OfferedSkill)
	d.RequestedSkill = strings.TrimSpace(d.RequestedSkill)
	d.Message = strings.TrimSpace(d.Message)

	if d.ToUserID == "" || d.OfferedSkill == "" || d.RequestedSkill == "" {
		return models.SwapRequest{}, apperr.Validation("Необходимо указать получателя и навыки для обмена")
	}
	if d.ToUserID == caller.UserID {
		return models.SwapRequest{}, apperr.Validation("Вы не можете предложить обмен самому себе")
	}

	sender, err := s.users.Load(ctx, caller.UserID)
	if err != nil {
		return models.SwapRequest{}, err
	}
	if sender.IsBanned {
		return models.SwapRequest{}, apperr.Unauthorized("Ваш профиль заблокирован")
	}
	recipient, err := s.users.Load(ctx, d.ToUserID)
	if err != nil {
		return models.SwapRequest{}, err
	}
	if recipient.IsBanned {
		return models.SwapRequest{}, apperr.Validation("Пользователь заблокирован")
	}
	if !sender.Offers(d.OfferedSkill) {
		return models.SwapRequest{}, apperr.Validation("Вы не предлагаете этот навык")
	}
	if !recipient.Offers(d.RequestedSkill) {
		return models.SwapRequest{}, apperr.Validation("Пользователь не предлагает этот навык")
	}

	// Проверяем, не существует ли уже такое же предложение в ожидании
	existing, err := s.store.Select(ctx, store.SwapRequests, store.Where("from_user_id", caller.UserID).
		Eq("to_user_id", d.ToUserID).
		Eq("offered_skill", d.OfferedSkill).
		Eq("requested_skill", d.RequestedSkill).
		Eq("status", string(models.StatusPending)).
		Page(1, 0))
	if err != nil {
		return models.SwapRequest{}, err
	}
	if len(existing) > 0 {
		return models.SwapRequest{}, apperr.Conflict("Такое предложение обмена уже существует")
	}

	row, err := s.store.Insert(ctx, store.SwapRequests, mapper.NewRequestRow(models.SwapRequest{
		FromUserID:     caller.UserID,
		ToUserID:       d.ToUserID,
		OfferedSkill:   d.OfferedSkill,
		RequestedSkill: d.RequestedSkill,
		Message:        d.Message,
	}))
	if err != nil {
		return models.SwapRequest{}, err
	}
	s.invalidate()
	return mapper.RequestFromRow(row), nil
}

// Get возвращает предложение участнику или администратору
func (s *RequestService) Get(ctx context.Context, caller models.Caller, requestID string) (models.SwapRequest, error) {
	req, err := s.load(ctx, requestID)
	if err != nil {
		return models.SwapRequest{}, err
	}
	if !req.IsParticipant(caller.UserID) && !caller.IsAdmin {
		return models.SwapRequest{}, apperr.Unauthorized("У вас нет доступа к этому предложению")
	}
	if thread, ok, err := s.chats.FindThread(ctx, req.ID); err != nil {
		log.Printf("Ошибка поиска чата обмена %s: %v", req.ID, err)
	} else if ok {
		req.ThreadID = thread.ID
	}
	return req, nil
}

// List возвращает входящие, исходящие или все предложения пользователя,
// новые первыми. Пустой статус или "all" означает любой статус.
func (s *RequestService) List(ctx context.Context, caller models.Caller, direction, status string) ([]models.SwapRequest, error) {
	if caller.Anonymous() {
		return nil, apperr.Unauthorized("Пользователь не авторизован")
	}
	if direction == "" {
		direction = DirectionAll
	}
	if direction != DirectionIncoming && direction != DirectionOutgoing && direction != DirectionAll {
		return nil, apperr.Validation("Недопустимое направление: incoming, outgoing или all")
	}
	if status == "" {
		status = "all"
	}
	if status != "all" && !models.RequestStatus(status).Valid() {
		return nil, apperr.Validation("Недопустимый статус предложения обмена")
	}

	key := query.NewKey(OpList, caller.UserID, direction, status)
	return query.Fetch(ctx, s.cache, key, s.lister(caller.UserID, direction, status))
}

func (s *RequestService) lister(userID, direction, status string) func(context.Context) ([]models.SwapRequest, error) {
	return func(ctx context.Context) ([]models.SwapRequest, error) {
		var filters []store.Filter
		if direction != DirectionOutgoing {
			filters = append(filters, store.Where("to_user_id", userID))
		}
		if direction != DirectionIncoming {
			filters = append(filters, store.Where("from_user_id", userID))
		}

		requests := []models.SwapRequest{}
		for _, f := range filters {
			if status != "all" {
				f = f.Eq("status", status)
			}
			rows, err := s.store.Select(ctx, store.SwapRequests, f.OrderBy("created_at", true))
			if err != nil {
				return nil, err
			}
			for _, row := range rows {
				requests = append(requests, mapper.RequestFromRow(row))
			}
		}
		sort.SliceStable(requests, func(i, j int) bool {
			return requests[i].CreatedAt.After(requests[j].CreatedAt)
		})
		return requests, nil
	}
}

// UpdateStatus переводит предложение в новый статус по таблице переходов.
// При принятии создаётся чат: статус фиксируется первым, а ошибка создания
// чата только логируется, чат будет создан при открытии.
func (s *RequestService) UpdateStatus(ctx context.Context, caller models.Caller, requestID string, status models.RequestStatus) (models.SwapRequest, error) {
	if !status.Valid() {
		return models.SwapRequest{}, apperr.Validation("Недопустимый статус предложения обмена")
	}
	req, err := s.load(ctx, requestID)
	if err != nil {
		return models.SwapRequest{}, err
	}
	if !req.IsParticipant(caller.UserID) {
		return models.SwapRequest{}, apperr.Unauthorized("У вас нет доступа к этому предложению")
	}

	who, ok := transitions[req.Status][status]
	if !ok {
		return models.SwapRequest{}, apperr.InvalidState(
			"Нельзя перевести предложение из статуса " + string(req.Status) + " в " + string(status))
	}
	switch who {
	case recipientSide:
		if caller.UserID != req.ToUserID {
			return models.SwapRequest{}, apperr.Unauthorized("Только получатель предложения может его принять или отклонить")
		}
	case senderSide:
		if caller.UserID != req.FromUserID {
			return models.SwapRequest{}, apperr.Unauthorized("Только отправитель предложения может его отменить")
		}
	}

	if status == models.StatusCompleted {
		return s.completeIfThreadDone(ctx, req)
	}

	updated, err := s.transition(ctx, req, status)
	if err != nil {
		return models.SwapRequest{}, err
	}

	if status == models.StatusAccepted {
		thread, err := s.chats.GetOrCreateThread(ctx, caller, updated.ID)
		if err != nil {
			// Не возвращаем ошибку, т.к. статус уже зафиксирован
			log.Printf("Ошибка создания чата для обмена %s: %v", updated.ID, err)
		} else {
			updated.ThreadID = thread.ID
		}
	}
	return updated, nil
}

// MarkCompleted отмечает завершение обмена одним из участников. Когда
// отметились оба, предложение переходит в completed.
func (s *RequestService) MarkCompleted(ctx context.Context, caller models.Caller, requestID string) (models.SwapRequest, error) {
	req, err := s.load(ctx, requestID)
	if err != nil {
		return models.SwapRequest{}, err
	}
	if !req.IsParticipant(caller.UserID) {
		return models.SwapRequest{}, apperr.Unauthorized("У вас нет доступа к этому предложению")
	}
	if req.Status != models.StatusAccepted && req.Status != models.StatusCompleted {
		return models.SwapRequest{}, apperr.InvalidState("Завершить можно только принятый обмен")
	}

	thread, err := s.chats.GetOrCreateThread(ctx, caller, req.ID)
	if err != nil {
		return models.SwapRequest{}, err
	}
	thread, err = s.chats.MarkCompleted(ctx, thread.ID, caller.UserID)
	if err != nil {
		return models.SwapRequest{}, err
	}
	req.ThreadID = thread.ID

	if req.Status == models.StatusCompleted || !thread.IsCompleted {
		return req, nil
	}
	updated, err := s.transition(ctx, req, models.StatusCompleted)
	if err != nil {
		return models.SwapRequest{}, err
	}
	updated.ThreadID = thread.ID
	return updated, nil
}

// AddRating сохраняет оценку одной из сторон и пересчитывает рейтинг
// оценённого пользователя. Каждая сторона оценивает один раз.
func (s *RequestService) AddRating(ctx context.Context, caller models.Caller, in RatingInput) (models.SwapRequest, error) {
	if in.Rating < 1 || in.Rating > 5 {
		return models.SwapRequest{}, apperr.Validation("Оценка должна быть от 1 до 5")
	}
	req, err := s.load(ctx, in.RequestID)
	if err != nil {
		return models.SwapRequest{}, err
	}

	ratingCol, feedbackCol := "rating_from_sender", "feedback_from_sender"
	author, rated := req.FromUserID, req.ToUserID
	current := req.RatingFromSender
	if !in.IsFromSender {
		ratingCol, feedbackCol = "rating_from_recipient", "feedback_from_recipient"
		author, rated = req.ToUserID, req.FromUserID
		current = req.RatingFromRecipient
	}
	if caller.UserID == "" || caller.UserID != author {
		return models.SwapRequest{}, apperr.Unauthorized("Оценку может оставить только сам участник обмена")
	}

	if req.Status == models.StatusAccepted {
		// Чат мог завершиться, а перевод предложения - не пройти
		if req, err = s.completeIfThreadDone(ctx, req); err != nil && apperr.KindOf(err) != apperr.KindInvalidState {
			return models.SwapRequest{}, err
		}
	}
	if req.Status != models.StatusCompleted {
		return models.SwapRequest{}, apperr.InvalidState("Оценить можно только завершённый обмен")
	}
	if current != nil {
		return models.SwapRequest{}, apperr.AlreadyRated("Вы уже оценили этот обмен")
	}

	patch := store.Row{ratingCol: in.Rating}
	if fb := strings.TrimSpace(in.Feedback); fb != "" {
		patch[feedbackCol] = fb
	}
	rows, err := s.store.Update(ctx, store.SwapRequests,
		store.Where("id", req.ID).Eq("status", string(models.StatusCompleted)).IsNull(ratingCol), patch)
	if apperr.KindOf(err) == apperr.KindNotFound {
		return models.SwapRequest{}, apperr.AlreadyRated("Вы уже оценили этот обмен")
	}
	if err != nil {
		return models.SwapRequest{}, err
	}

	_, err = query.Retry(ctx, query.DefaultRetryPolicy, func(ctx context.Context) (models.User, error) {
		return s.users.RecomputeRating(ctx, rated)
	})
	if err != nil {
		// Оценка сохранена; рейтинг пересчитается при следующей оценке
		log.Printf("Ошибка пересчёта рейтинга пользователя %s: %v", rated, err)
	}

	s.invalidate()
	return mapper.RequestFromRow(rows[0]), nil
}

// Delete удаляет предложение. Удалить может только отправитель и только
// пока обмен не принят и не завершён.
func (s *RequestService) Delete(ctx context.Context, caller models.Caller, requestID string) error {
	req, err := s.load(ctx, requestID)
	if err != nil {
		return err
	}
	if caller.UserID == "" || caller.UserID != req.FromUserID {
		return apperr.Unauthorized("Удалить предложение может только отправитель")
	}
	if req.Status == models.StatusAccepted || req.Status == models.StatusCompleted {
		return apperr.InvalidState("Нельзя удалить принятый или завершённый обмен")
	}

	err = s.store.Delete(ctx, store.SwapRequests, store.Where("id", req.ID).Eq("status", string(req.Status)))
	if apperr.KindOf(err) == apperr.KindNotFound {
		return apperr.InvalidState("Статус предложения изменился, обновите страницу")
	}
	if err != nil {
		return err
	}
	s.invalidate()
	return nil
}

// transition меняет статус при условии, что он не изменился с момента чтения
func (s *RequestService) transition(ctx context.Context, req models.SwapRequest, status models.RequestStatus) (models.SwapRequest, error) {
	rows, err := s.store.Update(ctx, store.SwapRequests,
		store.Where("id", req.ID).Eq("status", string(req.Status)),
		mapper.RequestToRow(models.RequestPatch{Status: &status}))
	if apperr.KindOf(err) == apperr.KindNotFound {
		return models.SwapRequest{}, apperr.InvalidState("Статус предложения изменился, обновите страницу")
	}
	if err != nil {
		return models.SwapRequest{}, err
	}
	s.invalidate()
	return mapper.RequestFromRow(rows[0]), nil
}

// completeIfThreadDone переводит принятый обмен в completed, если оба
// участника отметили завершение в чате
func (s *RequestService) completeIfThreadDone(ctx context.Context, req models.SwapRequest) (models.SwapRequest, error) {
	thread, ok, err := s.chats.FindThread(ctx, req.ID)
	if err != nil {
		return req, err
	}
	if !ok || !thread.IsCompleted {
		return req, apperr.InvalidState("Обмен завершается, когда оба участника отметили завершение")
	}
	updated, err := s.transition(ctx, req, models.StatusCompleted)
	if apperr.KindOf(err) == apperr.KindInvalidState {
		// Параллельный вызов уже перевёл обмен
		updated, err = s.load(ctx, req.ID)
	}
	if err != nil {
		return req, err
	}
	updated.ThreadID = thread.ID
	return updated, nil
}

func (s *RequestService) load(ctx context.Context, requestID string) (models.SwapRequest, error) {
	if requestID == "" {
		return models.SwapRequest{}, apperr.Validation("ID предложения обмена не указан")
	}
	rows, err := s.store.Select(ctx, store.SwapRequests, store.Where("id", requestID).Page(1, 0))
	if err != nil {
		return models.SwapRequest{}, err
	}
	if len(rows) == 0 {
		return models.SwapRequest{}, apperr.NotFound("Предложение обмена не найдено")
	}
	return mapper.RequestFromRow(rows[0]), nil
}

func (s *RequestService) invalidate() {
	s.cache.InvalidateOp(OpList)
}

// SubscribeIncoming подписывает на новые предложения, адресованные вызывающему
func (s *RequestService) SubscribeIncoming(caller models.Caller, fn func(models.SwapRequest)) (store.Subscription, error) {
	if caller.Anonymous() {
		return nil, apperr.Unauthorized("Пользователь не авторизован")
	}
	return s.store.SubscribeToInserts(store.SwapRequests, store.Where("to_user_id", caller.UserID), func(row store.Row) {
		fn(mapper.RequestFromRow(row))
		s.invalidate()
	})
}

// WatchIncoming передаёт fn каждую новую версию входящих ожидающих предложений
// вызывающего. Список перечитывается после любой смены статуса или удаления.
func (s *RequestService) WatchIncoming(caller models.Caller, fn func([]models.SwapRequest)) (store.Subscription, error) {
	if caller.Anonymous() {
		return nil, apperr.Unauthorized("Пользователь не авторизован")
	}
	status := string(models.StatusPending)
	key := query.NewKey(OpList, caller.UserID, DirectionIncoming, status)
	return store.Once(query.Watch(s.cache, key, s.lister(caller.UserID, DirectionIncoming, status), fn)), nil
}
