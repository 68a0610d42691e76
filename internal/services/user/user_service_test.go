package user

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
	"github.com/rajivgeraev/skillmates-api/internal/store"
	"github.com/rajivgeraev/skillmates-api/internal/store/memstore"
)

func newService(t *testing.T) (*UserService, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	cache := query.New(query.Options{StaleTime: time.Minute})
	t.Cleanup(cache.Close)
	cfg := &config.Config{AdminEmails: []string{"admin@skillmates.dev"}}
	return NewUserService(cfg, st, cache), st
}

func seedUser(t *testing.T, st *memstore.Store, row store.Row) models.User {
	t.Helper()
	inserted, err := st.Insert(context.Background(), store.Users, row)
	require.NoError(t, err)
	u, err := (&UserService{store: st}).Load(context.Background(), inserted["id"].(string))
	require.NoError(t, err)
	return u
}

func ptr[T any](v T) *T { return &v }

func TestFindMatchesSkipsBannedAndPrivateUsers(t *testing.T) {
	s, st := newService(t)
	ctx := context.Background()

	me := seedUser(t, st, store.Row{"name": "Анна", "email": "anna@example.com",
		"skills_wanted": []string{"Guitar", "Go"}})
	seedUser(t, st, store.Row{"name": "Борис", "email": "boris@example.com",
		"skills_offered": []string{"Guitar"}, "rating": 3.0})
	top := seedUser(t, st, store.Row{"name": "Вера", "email": "vera@example.com",
		"skills_offered": []string{"Go", "Guitar"}, "rating": 4.0})
	seedUser(t, st, store.Row{"name": "Глеб", "email": "gleb@example.com",
		"skills_offered": []string{"Guitar"}, "is_banned": true})
	seedUser(t, st, store.Row{"name": "Дина", "email": "dina@example.com",
		"skills_offered": []string{"Go"}, "is_public": false})
	seedUser(t, st, store.Row{"name": "Егор", "email": "egor@example.com",
		"skills_offered": []string{"Cooking"}})

	matches, err := s.FindMatches(ctx, models.Caller{UserID: me.ID})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, top.ID, matches[0].User.ID)
	assert.Equal(t, []string{"Guitar", "Go"}, matches[0].MatchingSkills)
	assert.Equal(t, "Борис", matches[1].User.Name)

	_, err = s.FindMatches(ctx, models.Caller{})
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
}

func TestListPublicUsersNewestFirst(t *testing.T) {
	s, st := newService(t)
	first := seedUser(t, st, store.Row{"name": "Анна", "email": "anna@example.com"})
	seedUser(t, st, store.Row{"name": "Скрытый", "email": "hidden@example.com", "is_public": false})
	second := seedUser(t, st, store.Row{"name": "Борис", "email": "boris@example.com"})

	users, err := s.ListPublicUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, second.ID, users[0].ID)
	assert.Equal(t, first.ID, users[1].ID)
}

func TestGetProfileAccess(t *testing.T) {
	s, st := newService(t)
	ctx := context.Background()
	u := seedUser(t, st, store.Row{"name": "Анна", "email": "anna@example.com", "is_public": false})

	got, err := s.GetProfile(ctx, models.Caller{UserID: u.ID}, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "anna@example.com", got.Email)

	_, err = s.GetProfile(ctx, models.Caller{UserID: "someone"}, u.ID)
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))

	_, err = s.GetProfile(ctx, models.Caller{UserID: "admin", IsAdmin: true}, u.ID)
	assert.NoError(t, err)

	_, err = s.GetPublicProfile(ctx, u.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err), "закрытый профиль не виден другим")
}

func TestUpdateProfile(t *testing.T) {
	s, st := newService(t)
	ctx := context.Background()
	u := seedUser(t, st, store.Row{"name": "Анна", "email": "anna@example.com"})
	owner := models.Caller{UserID: u.ID}

	// Прогреваем кэш, чтобы проверить инвалидацию
	_, err := s.GetProfile(ctx, owner, u.ID)
	require.NoError(t, err)

	updated, err := s.UpdateProfile(ctx, owner, models.UserPatch{
		ID:            u.ID,
		Name:          ptr("  Анна К.  "),
		Email:         ptr("Anna.K@Example.com"),
		Availability:  ptr(models.AvailabilityEvening),
		SkillsOffered: []string{" Go ", "Go", ""},
		Rating:        ptr(5.0),
	})
	require.NoError(t, err)
	assert.Equal(t, "Анна К.", updated.Name)
	assert.Equal(t, "anna.k@example.com", updated.Email)
	assert.Equal(t, models.AvailabilityEvening, updated.Availability)
	assert.Equal(t, []string{"Go"}, updated.SkillsOffered)
	assert.Zero(t, updated.Rating, "рейтинг из патча игнорируется")

	cached, err := s.GetProfile(ctx, owner, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Анна К.", cached.Name)
}

func TestUpdateProfileRejections(t *testing.T) {
	s, st := newService(t)
	ctx := context.Background()
	u := seedUser(t, st, store.Row{"name": "Анна", "email": "anna@example.com"})
	owner := models.Caller{UserID: u.ID}

	cases := []struct {
		name   string
		caller models.Caller
		patch  models.UserPatch
		kind   apperr.Kind
	}{
		{"чужой профиль", models.Caller{UserID: "other"}, models.UserPatch{ID: u.ID, Name: ptr("X")}, apperr.KindUnauthorized},
		{"поле администратора", owner, models.UserPatch{ID: u.ID, IsBanned: ptr(true)}, apperr.KindUnauthorized},
		{"пустое имя", owner, models.UserPatch{ID: u.ID, Name: ptr("   ")}, apperr.KindValidation},
		{"email без @", owner, models.UserPatch{ID: u.ID, Email: ptr("anna.example.com")}, apperr.KindValidation},
		{"неизвестная доступность", owner, models.UserPatch{ID: u.ID, Availability: ptr(models.Availability("Never"))}, apperr.KindValidation},
		{"без ID", owner, models.UserPatch{Name: ptr("X")}, apperr.KindValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.UpdateProfile(ctx, tc.caller, tc.patch)
			assert.Equal(t, tc.kind, apperr.KindOf(err))
		})
	}

	admin := models.Caller{UserID: "admin", IsAdmin: true}
	banned, err := s.UpdateProfile(ctx, admin, models.UserPatch{ID: u.ID, IsBanned: ptr(true)})
	require.NoError(t, err)
	assert.True(t, banned.IsBanned)
}

func TestSkillOperations(t *testing.T) {
	s, st := newService(t)
	ctx := context.Background()
	u := seedUser(t, st, store.Row{"name": "Анна", "email": "anna@example.com",
		"skills_offered": []string{"Go", "Guitar", "Cooking"}})
	owner := models.Caller{UserID: u.ID}

	got, err := s.AddSkill(ctx, owner, SkillChange{List: models.SkillsOffered, Skill: " Piano "})
	require.NoError(t, err)
	assert.Equal(t, []string{"Go", "Guitar", "Cooking", "Piano"}, got.SkillsOffered)

	got, err = s.AddSkill(ctx, owner, SkillChange{List: models.SkillsOffered, Skill: "Go"})
	require.NoError(t, err)
	assert.Len(t, got.SkillsOffered, 4, "повторное добавление ничего не меняет")

	got, err = s.UpdateSkill(ctx, owner, SkillChange{List: models.SkillsOffered, Skill: "Guitar", NewSkill: "Bass"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Go", "Bass", "Cooking", "Piano"}, got.SkillsOffered)

	got, err = s.RemoveSkill(ctx, owner, SkillChange{List: models.SkillsOffered, Skill: "Cooking"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Go", "Bass", "Piano"}, got.SkillsOffered)

	got, err = s.AddSkill(ctx, owner, SkillChange{List: models.SkillsWanted, Skill: "Spanish"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Spanish"}, got.SkillsWanted)

	_, err = s.RemoveSkill(ctx, owner, SkillChange{List: models.SkillsOffered, Skill: "Cooking"})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, err = s.UpdateSkill(ctx, owner, SkillChange{List: models.SkillsOffered, Skill: "Go", NewSkill: " "})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = s.AddSkill(ctx, owner, SkillChange{List: "favourite", Skill: "Go"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = s.AddSkill(ctx, models.Caller{UserID: "other"}, SkillChange{UserID: u.ID, List: models.SkillsOffered, Skill: "X"})
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
}

func TestEnsureProfile(t *testing.T) {
	s, st := newService(t)
	ctx := context.Background()

	u, err := s.EnsureProfile(ctx, models.ProfileSeed{
		UserID:        "11111111-1111-1111-1111-111111111111",
		Email:         "Maria@Example.com",
		SkillsOffered: []string{"Go", " Go "},
	})
	require.NoError(t, err)
	assert.Equal(t, "maria", u.Name)
	assert.Equal(t, "maria@example.com", u.Email)
	assert.Equal(t, models.RoleUser, u.Role)
	assert.Equal(t, []string{"Go"}, u.SkillsOffered)

	again, err := s.EnsureProfile(ctx, models.ProfileSeed{UserID: u.ID, Email: "maria@example.com", Name: "Другое"})
	require.NoError(t, err)
	assert.Equal(t, "maria", again.Name, "существующий профиль не перезаписывается")
	assert.Equal(t, 1, st.Len(store.Users))

	admin, err := s.EnsureProfile(ctx, models.ProfileSeed{
		UserID: "22222222-2222-2222-2222-222222222222",
		Email:  "admin@skillmates.dev",
		Name:   "Админ",
	})
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, admin.Role)

	_, err = s.EnsureProfile(ctx, models.ProfileSeed{UserID: "x"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestRecomputeRatingAveragesReceivedRatings(t *testing.T) {
	s, st := newService(t)
	ctx := context.Background()
	u := seedUser(t, st, store.Row{"name": "Анна", "email": "anna@example.com"})

	requests := []store.Row{
		// Анна получатель: оценка отправителя ей
		{"from_user_id": "b", "to_user_id": u.ID, "status": "completed", "rating_from_sender": 5, "rating_from_recipient": 1},
		// Анна отправитель: оценка получателя ей
		{"from_user_id": u.ID, "to_user_id": "c", "status": "completed", "rating_from_recipient": 4, "rating_from_sender": 2},
		{"from_user_id": u.ID, "to_user_id": "d", "status": "completed"},
		{"from_user_id": "e", "to_user_id": u.ID, "status": "completed", "rating_from_sender": 3},
	}
	for _, r := range requests {
		_, err := st.Insert(ctx, store.SwapRequests, r)
		require.NoError(t, err)
	}

	got, err := s.RecomputeRating(ctx, u.ID)
	require.NoError(t, err)
	assert.InDelta(t, 4.0, got.Rating, 1e-9)
	assert.Equal(t, 3, got.Reviews)
}

func TestBackendFailureSurfacesKind(t *testing.T) {
	s, st := newService(t)
	st.FailNext(store.Users, "select", apperr.New(apperr.KindBackendUnavailable, "бэкенд недоступен"))

	_, err := s.Load(context.Background(), "u1")
	assert.Equal(t, apperr.KindBackendUnavailable, apperr.KindOf(err))
}

// racingStore выполняет чужую запись перед первым обновлением
type racingStore struct {
	store.Store
	once sync.Once
	race func()
}

func (r *racingStore) Update(ctx context.Context, collection string, f store.Filter, patch store.Row) ([]store.Row, error) {
	r.once.Do(r.race)
	return r.Store.Update(ctx, collection, f, patch)
}

func TestAddSkillKeepsConcurrentEdit(t *testing.T) {
	st := memstore.New()
	cache := query.New(query.Options{StaleTime: time.Minute})
	t.Cleanup(cache.Close)
	ctx := context.Background()

	u := seedUser(t, st, store.Row{"name": "Анна", "email": "anna@example.com",
		"skills_offered": []string{"Go"}})
	racing := &racingStore{Store: st, race: func() {
		_, err := st.Update(ctx, store.Users, store.Where("id", u.ID),
			store.Row{"skills_offered": []string{"Go", "Rust"}})
		require.NoError(t, err)
	}}
	s := NewUserService(&config.Config{}, racing, cache)

	got, err := s.AddSkill(ctx, models.Caller{UserID: u.ID}, SkillChange{List: models.SkillsOffered, Skill: "Guitar"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Go", "Rust", "Guitar"}, got.SkillsOffered)

	stored, err := s.Load(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Go", "Rust", "Guitar"}, stored.SkillsOffered)
}

func TestRemoveSkillRechecksAfterConcurrentEdit(t *testing.T) {
	st := memstore.New()
	cache := query.New(query.Options{StaleTime: time.Minute})
	t.Cleanup(cache.Close)
	ctx := context.Background()

	u := seedUser(t, st, store.Row{"name": "Анна", "email": "anna@example.com",
		"skills_wanted": []string{"Spanish", "Piano"}})
	racing := &racingStore{Store: st, race: func() {
		_, err := st.Update(ctx, store.Users, store.Where("id", u.ID),
			store.Row{"skills_wanted": []string{"Piano"}})
		require.NoError(t, err)
	}}
	s := NewUserService(&config.Config{}, racing, cache)

	_, err := s.RemoveSkill(ctx, models.Caller{UserID: u.ID}, SkillChange{List: models.SkillsWanted, Skill: "Spanish"})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err), "навык уже удалён другой правкой")

	stored, err := s.Load(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Piano"}, stored.SkillsWanted)
}

func TestWatchProfileFollowsUpdates(t *testing.T) {
	s, st := newService(t)
	ctx := context.Background()
	u := seedUser(t, st, store.Row{"name": "Анна", "email": "anna@example.com"})
	owner := models.Caller{UserID: u.ID}

	var mu sync.Mutex
	var names []string
	sub, err := s.WatchProfile(owner, func(p models.User) {
		mu.Lock()
		names = append(names, p.Name)
		mu.Unlock()
	})
	require.NoError(t, err)

	_, err = s.UpdateProfile(ctx, owner, models.UserPatch{ID: u.ID, Name: ptr("Анна К.")})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(names) > 0 && names[len(names)-1] == "Анна К."
	}, time.Second, 5*time.Millisecond)

	sub.Unsubscribe()
	sub.Unsubscribe()

	_, err = s.WatchProfile(models.Caller{}, func(models.User) {})
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
}
