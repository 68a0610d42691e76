package request

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajivgeraev/skillmates-api/internal/apperr"
	"github.com/rajivgeraev/skillmates-api/internal/config"
	"github.com/rajivgeraev/skillmates-api/internal/models"
	"github.com/rajivgeraev/skillmates-api/internal/query"
	"github.com/rajivgeraev/skillmates-api/internal/services/chat"
	"github.com/rajivgeraev/skillmates-api/internal/services/user"
	"github.com/rajivgeraev/skillmates-api/internal/store"
	"github.com/rajivgeraev/skillmates-api/internal/store/memstore"
)

type fixture struct {
	st       *memstore.Store
	users    *user.UserService
	chats    *chat.ChatService
	requests *RequestService

	anna, boris, banned models.Caller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memstore.New()
	cache := query.New(query.Options{StaleTime: time.Minute})
	t.Cleanup(cache.Close)

	users := user.NewUserService(&config.Config{}, st, cache)
	chats := chat.NewChatService(st, cache)
	f := &fixture{
		st:       st,
		users:    users,
		chats:    chats,
		requests: NewRequestService(st, cache, users, chats),
	}
	f.anna = f.seed(t, "Анна", "anna@example.com", []string{"Guitar"}, false)
	f.boris = f.seed(t, "Борис", "boris@example.com", []string{"Go", "Chess"}, false)
	f.banned = f.seed(t, "Глеб", "gleb@example.com", []string{"Piano"}, true)
	return f
}

func (f *fixture) seed(t *testing.T, name, email string, offers []string, banned bool) models.Caller {
	t.Helper()
	row, err := f.st.Insert(context.Background(), store.Users, store.Row{
		"name": name, "email": email, "skills_offered": offers, "is_banned": banned,
	})
	require.NoError(t, err)
	return models.Caller{UserID: row["id"].(string), Email: email}
}

func (f *fixture) propose(t *testing.T) models.SwapRequest {
	t.Helper()
	req, err := f.requests.Create(context.Background(), f.anna, Draft{
		ToUserID:       f.boris.UserID,
		OfferedSkill:   "Guitar",
		RequestedSkill: "Go",
		Message:        "  Давай меняться  ",
	})
	require.NoError(t, err)
	return req
}

func TestSwapLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := f.propose(t)
	assert.Equal(t, models.StatusPending, req.Status)
	assert.Equal(t, "Давай меняться", req.Message)

	incoming, err := f.requests.List(ctx, f.boris, DirectionIncoming, "pending")
	require.NoError(t, err)
	require.Len(t, incoming, 1)
	assert.Equal(t, req.ID, incoming[0].ID)

	accepted, err := f.requests.UpdateStatus(ctx, f.boris, req.ID, models.StatusAccepted)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, accepted.Status)
	require.NotEmpty(t, accepted.ThreadID, "при принятии создаётся чат")

	// Кэш списка сброшен изменением
	incoming, err = f.requests.List(ctx, f.boris, DirectionIncoming, "pending")
	require.NoError(t, err)
	assert.Empty(t, incoming)

	_, err = f.chats.SendMessage(ctx, f.anna, accepted.ThreadID, "Привет!")
	require.NoError(t, err)

	// Оценить незавершённый обмен нельзя
	_, err = f.requests.AddRating(ctx, f.anna, RatingInput{RequestID: req.ID, Rating: 5, IsFromSender: true})
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))

	half, err := f.requests.MarkCompleted(ctx, f.anna, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, half.Status)

	done, err := f.requests.MarkCompleted(ctx, f.boris, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, done.Status)

	rated, err := f.requests.AddRating(ctx, f.anna, RatingInput{RequestID: req.ID, Rating: 5, Feedback: " Отлично ", IsFromSender: true})
	require.NoError(t, err)
	require.NotNil(t, rated.RatingFromSender)
	assert.Equal(t, 5, *rated.RatingFromSender)
	assert.Equal(t, "Отлично", rated.FeedbackFromSender)

	boris, err := f.users.Load(ctx, f.boris.UserID)
	require.NoError(t, err)
	assert.Equal(t, 5.0, boris.Rating)
	assert.Equal(t, 1, boris.Reviews)

	_, err = f.requests.AddRating(ctx, f.anna, RatingInput{RequestID: req.ID, Rating: 3, IsFromSender: true})
	assert.Equal(t, apperr.KindAlreadyRated, apperr.KindOf(err))

	_, err = f.requests.AddRating(ctx, f.boris, RatingInput{RequestID: req.ID, Rating: 4, IsFromSender: true})
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err), "получатель не может ставить оценку за отправителя")

	_, err = f.requests.AddRating(ctx, f.boris, RatingInput{RequestID: req.ID, Rating: 4})
	require.NoError(t, err)
	anna, err := f.users.Load(ctx, f.anna.UserID)
	require.NoError(t, err)
	assert.Equal(t, 4.0, anna.Rating)

	_, err = f.chats.SendMessage(ctx, f.anna, accepted.ThreadID, "Ещё одно")
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err), "завершённый чат только для чтения")
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		caller models.Caller
		draft  Draft
		kind   apperr.Kind
	}{
		{"без навыков", f.anna, Draft{ToUserID: f.boris.UserID}, apperr.KindValidation},
		{"самому себе", f.anna, Draft{ToUserID: f.anna.UserID, OfferedSkill: "Guitar", RequestedSkill: "Guitar"}, apperr.KindValidation},
		{"чужой навык", f.anna, Draft{ToUserID: f.boris.UserID, OfferedSkill: "Go", RequestedSkill: "Go"}, apperr.KindValidation},
		{"навыка нет у получателя", f.anna, Draft{ToUserID: f.boris.UserID, OfferedSkill: "Guitar", RequestedSkill: "Cooking"}, apperr.KindValidation},
		{"заблокированный получатель", f.anna, Draft{ToUserID: f.banned.UserID, OfferedSkill: "Guitar", RequestedSkill: "Piano"}, apperr.KindValidation},
		{"заблокированный отправитель", f.banned, Draft{ToUserID: f.anna.UserID, OfferedSkill: "Piano", RequestedSkill: "Guitar"}, apperr.KindUnauthorized},
		{"неизвестный получатель", f.anna, Draft{ToUserID: "nobody", OfferedSkill: "Guitar", RequestedSkill: "Go"}, apperr.KindNotFound},
		{"без сессии", models.Caller{}, Draft{ToUserID: f.boris.UserID, OfferedSkill: "Guitar", RequestedSkill: "Go"}, apperr.KindUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.requests.Create(ctx, tc.caller, tc.draft)
			assert.Equal(t, tc.kind, apperr.KindOf(err))
		})
	}
	assert.Equal(t, 0, f.st.Len(store.SwapRequests))
}

func TestCreateRejectsDuplicatePending(t *testing.T) {
	f := newFixture(t)
	f.propose(t)

	_, err := f.requests.Create(context.Background(), f.anna, Draft{
		ToUserID: f.boris.UserID, OfferedSkill: "Guitar", RequestedSkill: "Go",
	})
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	// Другой навык - уже другое предложение
	_, err = f.requests.Create(context.Background(), f.anna, Draft{
		ToUserID: f.boris.UserID, OfferedSkill: "Guitar", RequestedSkill: "Chess",
	})
	assert.NoError(t, err)
}

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		name   string
		prep   []models.RequestStatus // переходы до проверки, от имени допустимой стороны
		actor  string                 // "sender" или "recipient"
		target models.RequestStatus
		kind   apperr.Kind
	}{
		{"получатель принимает", nil, "recipient", models.StatusAccepted, ""},
		{"получатель отклоняет", nil, "recipient", models.StatusRejected, ""},
		{"отправитель отменяет", nil, "sender", models.StatusCancelled, ""},
		{"отправитель не может принять", nil, "sender", models.StatusAccepted, apperr.KindUnauthorized},
		{"получатель не может отменить", nil, "recipient", models.StatusCancelled, apperr.KindUnauthorized},
		{"завершить ожидающее нельзя", nil, "sender", models.StatusCompleted, apperr.KindInvalidState},
		{"из отклонённого назад нельзя", []models.RequestStatus{models.StatusRejected}, "recipient", models.StatusAccepted, apperr.KindInvalidState},
		{"отменить принятое нельзя", []models.RequestStatus{models.StatusAccepted}, "sender", models.StatusCancelled, apperr.KindInvalidState},
		{"в pending вернуть нельзя", []models.RequestStatus{models.StatusAccepted}, "recipient", models.StatusPending, apperr.KindInvalidState},
		{"completed без отметок в чате", []models.RequestStatus{models.StatusAccepted}, "sender", models.StatusCompleted, apperr.KindInvalidState},
		{"неизвестный статус", nil, "recipient", models.RequestStatus("archived"), apperr.KindValidation},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			req := f.propose(t)

			for _, st := range tc.prep {
				actor := f.boris
				if st == models.StatusCancelled {
					actor = f.anna
				}
				_, err := f.requests.UpdateStatus(ctx, actor, req.ID, st)
				require.NoError(t, err)
			}

			actor := f.boris
			if tc.actor == "sender" {
				actor = f.anna
			}
			got, err := f.requests.UpdateStatus(ctx, actor, req.ID, tc.target)
			if tc.kind == "" {
				require.NoError(t, err)
				assert.Equal(t, tc.target, got.Status)
				return
			}
			assert.Equal(t, tc.kind, apperr.KindOf(err))
		})
	}
}

func TestUpdateStatusByOutsider(t *testing.T) {
	f := newFixture(t)
	req := f.propose(t)

	_, err := f.requests.UpdateStatus(context.Background(), f.banned, req.ID, models.StatusAccepted)
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))

	_, err = f.requests.UpdateStatus(context.Background(), f.boris, "missing", models.StatusAccepted)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestAcceptSurvivesThreadFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.propose(t)

	f.st.FailNext(store.ChatThreads, "insert", apperr.New(apperr.KindNetwork, "обрыв соединения"))

	accepted, err := f.requests.UpdateStatus(ctx, f.boris, req.ID, models.StatusAccepted)
	require.NoError(t, err, "статус фиксируется, даже если чат не создался")
	assert.Equal(t, models.StatusAccepted, accepted.Status)
	assert.Empty(t, accepted.ThreadID)
	assert.Equal(t, 0, f.st.Len(store.ChatThreads))

	// Чат создаётся при первом открытии
	thread, err := f.chats.GetOrCreateThread(ctx, f.anna, req.ID)
	require.NoError(t, err)
	assert.Equal(t, req.ID, thread.RequestID)

	got, err := f.requests.Get(ctx, f.anna, req.ID)
	require.NoError(t, err)
	assert.Equal(t, thread.ID, got.ThreadID)
}

func TestRatingHealsStuckCompletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.propose(t)

	accepted, err := f.requests.UpdateStatus(ctx, f.boris, req.ID, models.StatusAccepted)
	require.NoError(t, err)

	// Оба отметили завершение в чате, но предложение осталось accepted
	_, err = f.chats.MarkCompleted(ctx, accepted.ThreadID, f.anna.UserID)
	require.NoError(t, err)
	thread, err := f.chats.MarkCompleted(ctx, accepted.ThreadID, f.boris.UserID)
	require.NoError(t, err)
	require.True(t, thread.IsCompleted)

	rated, err := f.requests.AddRating(ctx, f.boris, RatingInput{RequestID: req.ID, Rating: 4})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, rated.Status)
}

func TestRatingValidation(t *testing.T) {
	f := newFixture(t)
	req := f.propose(t)

	for _, r := range []int{0, 6, -1} {
		_, err := f.requests.AddRating(context.Background(), f.anna, RatingInput{RequestID: req.ID, Rating: r, IsFromSender: true})
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err), "оценка %d", r)
	}
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pending := f.propose(t)
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(f.requests.Delete(ctx, f.boris, pending.ID)))
	require.NoError(t, f.requests.Delete(ctx, f.anna, pending.ID))
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(f.requests.Delete(ctx, f.anna, pending.ID)))

	accepted := f.propose(t)
	_, err := f.requests.UpdateStatus(ctx, f.boris, accepted.ID, models.StatusAccepted)
	require.NoError(t, err)
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(f.requests.Delete(ctx, f.anna, accepted.ID)))

	rejected, err := f.requests.Create(ctx, f.anna, Draft{ToUserID: f.boris.UserID, OfferedSkill: "Guitar", RequestedSkill: "Chess"})
	require.NoError(t, err)
	_, err = f.requests.UpdateStatus(ctx, f.boris, rejected.ID, models.StatusRejected)
	require.NoError(t, err)
	assert.NoError(t, f.requests.Delete(ctx, f.anna, rejected.ID))
}

func TestListDirections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out := f.propose(t)
	// Встречное предложение от Бориса
	in, err := f.requests.Create(ctx, f.boris, Draft{ToUserID: f.anna.UserID, OfferedSkill: "Chess", RequestedSkill: "Guitar"})
	require.NoError(t, err)

	all, err := f.requests.List(ctx, f.anna, DirectionAll, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, in.ID, all[0].ID, "новые первыми")
	assert.Equal(t, out.ID, all[1].ID)

	outgoing, err := f.requests.List(ctx, f.anna, DirectionOutgoing, "all")
	require.NoError(t, err)
	require.Len(t, outgoing, 1)
	assert.Equal(t, out.ID, outgoing[0].ID)

	_, err = f.requests.List(ctx, f.anna, "sideways", "")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	_, err = f.requests.List(ctx, f.anna, DirectionAll, "archived")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestGetAccess(t *testing.T) {
	f := newFixture(t)
	req := f.propose(t)

	_, err := f.requests.Get(context.Background(), f.banned, req.ID)
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))

	admin := models.Caller{UserID: "admin", IsAdmin: true}
	got, err := f.requests.Get(context.Background(), admin, req.ID)
	require.NoError(t, err)
	assert.Equal(t, req.ID, got.ID)
}

func TestSubscribeIncoming(t *testing.T) {
	f := newFixture(t)

	var got []models.SwapRequest
	sub, err := f.requests.SubscribeIncoming(f.boris, func(r models.SwapRequest) {
		got = append(got, r)
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	req := f.propose(t)
	require.Len(t, got, 1)
	assert.Equal(t, req.ID, got[0].ID)

	_, err = f.requests.SubscribeIncoming(models.Caller{}, func(models.SwapRequest) {})
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
}

func TestWatchIncomingFollowsStatusChanges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var mu sync.Mutex
	var last []models.SwapRequest
	seen := 0
	sub, err := f.requests.WatchIncoming(f.boris, func(list []models.SwapRequest) {
		mu.Lock()
		last, seen = list, seen+1
		mu.Unlock()
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	inbox := func() []models.SwapRequest {
		mu.Lock()
		defer mu.Unlock()
		return last
	}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen > 0
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, inbox())

	req := f.propose(t)
	require.Eventually(t, func() bool {
		got := inbox()
		return len(got) == 1 && got[0].ID == req.ID
	}, time.Second, 5*time.Millisecond)

	_, err = f.requests.UpdateStatus(ctx, f.anna, req.ID, models.StatusCancelled)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(inbox()) == 0 }, time.Second, 5*time.Millisecond)

	_, err = f.requests.WatchIncoming(models.Caller{}, func([]models.SwapRequest) {})
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
}
