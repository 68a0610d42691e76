package user

import (
	"context"
	"sort"
	"strings"

	"github.com/rajivgeraev/skillmates-api/internal/apperr"
	"github.com/rajivgeraev/skillmates-api/internal/config"
	"github.com/rajivgeraev/skillmates-api/internal/mapper"
	"github.com/rajivgeraev/skillmates-api/internal/models"
	"github.com/rajivgeraev/skillmates-api/internal/query"
	"github.com/rajivgeraev/skillmates-api/internal/store"
)

// Ключи кэша профилей
const (
	OpProfile = "users.profile"
	OpPublic  = "users.public"
	OpList    = "users.list"
	OpMatches = "users.matches"
)

const skillAttempts = 3

// UserService представляет сервис для работы с профилями
type UserService struct {
	cfg   *config.Config
	store store.Store
	cache *query.Client
}

// NewUserService создает новый экземпляр UserService
func NewUserService(cfg *config.Config, st store.Store, cache *query.Client) *UserService {
	return &UserService{cfg: cfg, store: st, cache: cache}
}

// SkillChange описывает изменение одного навыка
type SkillChange struct {
	UserID   string           `json:"user_id"`
	List     models.SkillList `json:"list"`
	Skill    string           `json:"skill"`
	NewSkill string           `json:"new_skill,omitempty"`
}

// Load читает профиль напрямую из бэкенда, без кэша и проверки прав
func (s *UserService) Load(ctx context.Context, userID string) (models.User, error) {
	if userID == "" {
		return models.User{}, apperr.Validation("Не указан ID пользователя")
	}
	rows, err := s.store.Select(ctx, store.Users, store.Where("id", userID).Page(1, 0))
	if err != nil {
		return models.User{}, err
	}
	if len(rows) == 0 {
		return models.User{}, apperr.NotFound("Пользователь не найден")
	}
	return mapper.UserFromRow(rows[0]), nil
}

func (s *UserService) cached(ctx context.Context, userID string) (models.User, error) {
	return query.Fetch(ctx, s.cache, query.NewKey(OpProfile, userID), s.loader(userID))
}

func (s *UserService) loader(userID string) func(context.Context) (models.User, error) {
	return func(ctx context.Context) (models.User, error) {
		return s.Load(ctx, userID)
	}
}

// WatchProfile передаёт fn профиль вызывающего после каждого его изменения
func (s *UserService) WatchProfile(caller models.Caller, fn func(models.User)) (store.Subscription, error) {
	if caller.Anonymous() {
		return nil, apperr.Unauthorized("Пользователь не авторизован")
	}
	key := query.NewKey(OpProfile, caller.UserID)
	return store.Once(query.Watch(s.cache, key, s.loader(caller.UserID), fn)), nil
}

// GetProfile возвращает полный профиль владельцу или администратору
func (s *UserService) GetProfile(ctx context.Context, caller models.Caller, userID string) (models.User, error) {
	if userID == "" {
		return models.User{}, apperr.Validation("Не указан ID пользователя")
	}
	if !caller.Owns(userID) {
		return models.User{}, apperr.Unauthorized("Нет доступа к профилю")
	}
	return s.cached(ctx, userID)
}

// GetPublicProfile возвращает профиль, только если он публичный и не заблокирован
func (s *UserService) GetPublicProfile(ctx context.Context, userID string) (models.User, error) {
	return query.Fetch(ctx, s.cache, query.NewKey(OpPublic, userID), func(ctx context.Context) (models.User, error) {
		u, err := s.Load(ctx, userID)
		if err != nil {
			return models.User{}, err
		}
		if !u.Visible() {
			return models.User{}, apperr.NotFound("Пользователь не найден")
		}
		return u, nil
	})
}

// ListPublicUsers возвращает публичные незаблокированные профили, новые первыми
func (s *UserService) ListPublicUsers(ctx context.Context) ([]models.User, error) {
	return query.Fetch(ctx, s.cache, query.NewKey(OpList), func(ctx context.Context) ([]models.User, error) {
		rows, err := s.store.Select(ctx, store.Users,
			store.Where("is_public", true).Eq("is_banned", false).OrderBy("created_at", true))
		if err != nil {
			return nil, err
		}
		users := make([]models.User, 0, len(rows))
		for _, row := range rows {
			u := mapper.UserFromRow(row)
			if u.Visible() {
				users = append(users, u)
			}
		}
		return users, nil
	})
}

// UpdateProfile применяет только переданные поля
func (s *UserService) UpdateProfile(ctx context.Context, caller models.Caller, patch models.UserPatch) (models.User, error) {
	if patch.ID == "" {
		return models.User{}, apperr.Validation("Не указан ID пользователя")
	}
	if !caller.Owns(patch.ID) {
		return models.User{}, apperr.Unauthorized("Можно изменять только свой профиль")
	}
	if patch.TouchesAdminFields() && !caller.IsAdmin {
		return models.User{}, apperr.Unauthorized("Это поле может изменить только администратор")
	}
	// Агрегат рейтинга меняет только пересчёт
	patch.Rating, patch.Reviews = nil, nil

	if err := normalizePatch(&patch); err != nil {
		return models.User{}, err
	}

	row := mapper.UserToRow(patch)
	delete(row, "id")
	if len(row) == 0 {
		return s.Load(ctx, patch.ID)
	}

	rows, err := s.store.Update(ctx, store.Users, store.Where("id", patch.ID), row)
	if err != nil {
		return models.User{}, err
	}
	s.invalidate(patch.ID)
	return mapper.UserFromRow(rows[0]), nil
}

// AddSkill добавляет навык. Повторное добавление ничего не меняет.
func (s *UserService) AddSkill(ctx context.Context, caller models.Caller, ch SkillChange) (models.User, error) {
	skill, err := s.checkSkillChange(caller, &ch)
	if err != nil {
		return models.User{}, err
	}
	return s.editSkills(ctx, ch.UserID, ch.List, func(list []string) ([]string, error) {
		if containsString(list, skill) {
			return nil, nil
		}
		return append(append([]string{}, list...), skill), nil
	})
}

// UpdateSkill переименовывает навык, сохраняя его позицию
func (s *UserService) UpdateSkill(ctx context.Context, caller models.Caller, ch SkillChange) (models.User, error) {
	skill, err := s.checkSkillChange(caller, &ch)
	if err != nil {
		return models.User{}, err
	}
	newSkill := strings.TrimSpace(ch.NewSkill)
	if newSkill == "" {
		return models.User{}, apperr.Validation("Новое название навыка не может быть пустым")
	}
	return s.editSkills(ctx, ch.UserID, ch.List, func(list []string) ([]string, error) {
		if !containsString(list, skill) {
			return nil, apperr.NotFound("Навык не найден")
		}
		updated := make([]string, 0, len(list))
		for _, sk := range list {
			if sk == skill {
				sk = newSkill
			}
			updated = append(updated, sk)
		}
		return normalizeSkills(updated), nil
	})
}

// RemoveSkill удаляет навык из списка
func (s *UserService) RemoveSkill(ctx context.Context, caller models.Caller, ch SkillChange) (models.User, error) {
	skill, err := s.checkSkillChange(caller, &ch)
	if err != nil {
		return models.User{}, err
	}
	return s.editSkills(ctx, ch.UserID, ch.List, func(list []string) ([]string, error) {
		if !containsString(list, skill) {
			return nil, apperr.NotFound("Навык не найден")
		}
		updated := make([]string, 0, len(list))
		for _, sk := range list {
			if sk != skill {
				updated = append(updated, sk)
			}
		}
		return updated, nil
	})
}

func (s *UserService) checkSkillChange(caller models.Caller, ch *SkillChange) (string, error) {
	if ch.UserID == "" {
		ch.UserID = caller.UserID
	}
	if !caller.Owns(ch.UserID) {
		return "", apperr.Unauthorized("Можно изменять только свои навыки")
	}
	if ch.List != models.SkillsOffered && ch.List != models.SkillsWanted {
		return "", apperr.Validation("Список навыков должен быть offered или wanted")
	}
	skill := strings.TrimSpace(ch.Skill)
	if skill == "" {
		return "", apperr.Validation("Навык не может быть пустым")
	}
	return skill, nil
}

// editSkills применяет edit к свежему списку навыков. Запись проходит только
// если список не изменился с момента чтения, иначе правка повторяется.
// edit возвращает nil, когда менять нечего.
func (s *UserService) editSkills(ctx context.Context, userID string, list models.SkillList, edit func([]string) ([]string, error)) (models.User, error) {
	column := "skills_offered"
	if list == models.SkillsWanted {
		column = "skills_wanted"
	}
	for attempt := 0; ; attempt++ {
		u, err := s.Load(ctx, userID)
		if err != nil {
			return models.User{}, err
		}
		current := u.Skills(list)
		skills, err := edit(current)
		if err != nil {
			return models.User{}, err
		}
		if skills == nil {
			return u, nil
		}

		patch := models.UserPatch{}
		if list == models.SkillsWanted {
			patch.SkillsWanted = skills
		} else {
			patch.SkillsOffered = skills
		}
		rows, err := s.store.Update(ctx, store.Users,
			store.Where("id", userID).Eq(column, append([]string{}, current...)), mapper.UserToRow(patch))
		if err == nil {
			s.invalidate(userID)
			return mapper.UserFromRow(rows[0]), nil
		}
		if apperr.KindOf(err) != apperr.KindNotFound || attempt+1 >= skillAttempts {
			return models.User{}, err
		}
	}
}

// EnsureProfile возвращает профиль пользователя, создавая его при первом входе.
// Адреса из ADMIN_EMAILS получают роль администратора.
func (s *UserService) EnsureProfile(ctx context.Context, seed models.ProfileSeed) (models.User, error) {
	if seed.UserID == "" || strings.TrimSpace(seed.Email) == "" {
		return models.User{}, apperr.Validation("Для профиля нужны ID и email")
	}

	u, err := s.cached(ctx, seed.UserID)
	if err == nil {
		return u, nil
	}
	if apperr.KindOf(err) != apperr.KindNotFound {
		return models.User{}, err
	}

	email := strings.ToLower(strings.TrimSpace(seed.Email))
	name := strings.TrimSpace(seed.Name)
	if name == "" {
		name, _, _ = strings.Cut(email, "@")
	}
	availability := seed.Availability
	if !availability.Valid() {
		availability = models.AvailabilityFlexible
	}
	role := models.RoleUser
	if s.cfg != nil && s.cfg.IsAdminEmail(email) {
		role = models.RoleAdmin
	}

	patch := models.UserPatch{
		ID:            seed.UserID,
		Name:          &name,
		Email:         &email,
		Availability:  &availability,
		SkillsOffered: normalizeSkills(seed.SkillsOffered),
		SkillsWanted:  normalizeSkills(seed.SkillsWanted),
		Role:          &role,
	}
	if seed.Location != "" {
		patch.Location = &seed.Location
	}
	if seed.Bio != "" {
		patch.Bio = &seed.Bio
	}

	row, err := s.store.Insert(ctx, store.Users, mapper.UserToRow(patch))
	if apperr.KindOf(err) == apperr.KindConflict {
		// Профиль создал параллельный вход
		s.invalidate(seed.UserID)
		return s.Load(ctx, seed.UserID)
	}
	if err != nil {
		return models.User{}, err
	}
	s.invalidate(seed.UserID)
	return mapper.UserFromRow(row), nil
}

// FindMatches возвращает публичных пользователей, которые предлагают хотя бы
// один навык из желаемых вызывающим. Больше совпадений и выше рейтинг - выше в списке.
func (s *UserService) FindMatches(ctx context.Context, caller models.Caller) ([]models.UserMatch, error) {
	if caller.Anonymous() {
		return nil, apperr.Unauthorized("Пользователь не авторизован")
	}
	return query.Fetch(ctx, s.cache, query.NewKey(OpMatches, caller.UserID), func(ctx context.Context) ([]models.UserMatch, error) {
		me, err := s.Load(ctx, caller.UserID)
		if err != nil {
			return nil, err
		}
		users, err := s.ListPublicUsers(ctx)
		if err != nil {
			return nil, err
		}

		matches := []models.UserMatch{}
		for _, u := range users {
			if u.ID == me.ID {
				continue
			}
			var skills []string
			for _, want := range me.SkillsWanted {
				if u.Offers(want) {
					skills = append(skills, want)
				}
			}
			if len(skills) > 0 {
				matches = append(matches, models.UserMatch{User: u, MatchingSkills: skills})
			}
		}
		sort.SliceStable(matches, func(i, j int) bool {
			if len(matches[i].MatchingSkills) != len(matches[j].MatchingSkills) {
				return len(matches[i].MatchingSkills) > len(matches[j].MatchingSkills)
			}
			return matches[i].User.Rating > matches[j].User.Rating
		})
		return matches, nil
	})
}

// RecomputeRating пересчитывает рейтинг пользователя как среднее всех
// полученных им оценок и сохраняет вместе с их числом
func (s *UserService) RecomputeRating(ctx context.Context, userID string) (models.User, error) {
	// Оценки от отправителей, когда пользователь был получателем
	asRecipient, err := s.store.Select(ctx, store.SwapRequests, store.Where("to_user_id", userID))
	if err != nil {
		return models.User{}, err
	}
	// Оценки от получателей, когда пользователь был отправителем
	asSender, err := s.store.Select(ctx, store.SwapRequests, store.Where("from_user_id", userID))
	if err != nil {
		return models.User{}, err
	}

	sum, count := 0, 0
	for _, row := range asRecipient {
		if r := mapper.RequestFromRow(row).RatingFromSender; r != nil {
			sum += *r
			count++
		}
	}
	for _, row := range asSender {
		if r := mapper.RequestFromRow(row).RatingFromRecipient; r != nil {
			sum += *r
			count++
		}
	}

	rating := 0.0
	if count > 0 {
		rating = float64(sum) / float64(count)
	}
	rows, err := s.store.Update(ctx, store.Users, store.Where("id", userID),
		mapper.UserToRow(models.UserPatch{Rating: &rating, Reviews: &count}))
	if err != nil {
		return models.User{}, err
	}
	s.invalidate(userID)
	return mapper.UserFromRow(rows[0]), nil
}

// invalidate сбрасывает всё, что зависит от профиля
func (s *UserService) invalidate(userID string) {
	s.cache.Invalidate(query.NewKey(OpProfile, userID), query.NewKey(OpPublic, userID))
	s.cache.InvalidateOp(OpList, OpMatches)
}

func normalizePatch(p *models.UserPatch) error {
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if name == "" {
			return apperr.Validation("Имя не может быть пустым")
		}
		p.Name = &name
	}
	if p.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*p.Email))
		if email == "" {
			return apperr.Validation("Email не может быть пустым")
		}
		if !strings.Contains(email, "@") {
			return apperr.Validation("Неверный формат email")
		}
		p.Email = &email
	}
	if p.Availability != nil && !p.Availability.Valid() {
		return apperr.Validation("Недопустимое значение availability")
	}
	if p.SkillsOffered != nil {
		p.SkillsOffered = normalizeSkills(p.SkillsOffered)
	}
	if p.SkillsWanted != nil {
		p.SkillsWanted = normalizeSkills(p.SkillsWanted)
	}
	return nil
}

// normalizeSkills обрезает пробелы, убирает пустые значения и повторы,
// сохраняя порядок
func normalizeSkills(skills []string) []string {
	out := make([]string, 0, len(skills))
	seen := make(map[string]bool, len(skills))
	for _, sk := range skills {
		sk = strings.TrimSpace(sk)
		if sk == "" || seen[sk] {
			continue
		}
		seen[sk] = true
		out = append(out, sk)
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
