package announcement

import (
	"context"
	"strings"
	"time"

	"github.com/rajivgeraev/skillmates-api/internal/apperr"
	"github.com/rajivgeraev/skillmates-api/internal/mapper"
	"github.com/rajivgeraev/skillmates-api/internal/models"
	"github.com/rajivgeraev/skillmates-api/internal/query"
	"github.com/rajivgeraev/skillmates-api/internal/store"
)

// OpList - ключ кэша списка объявлений
const OpList = "announcements.list"

// AnnouncementService представляет сервис объявлений администрации
type AnnouncementService struct {
	store store.Store
	cache *query.Client
	now   func() time.Time
}

// NewAnnouncementService создает новый экземпляр AnnouncementService
func NewAnnouncementService(st store.Store, cache *query.Client) *AnnouncementService {
	return &AnnouncementService{store: st, cache: cache, now: time.Now}
}

// Draft - данные нового объявления. IsActive по умолчанию true.
type Draft struct {
	Title     string                  `json:"title"`
	Message   string                  `json:"message"`
	Type      models.AnnouncementType `json:"type"`
	IsActive  *bool                   `json:"is_active"`
	ExpiresAt *time.Time              `json:"expires_at"`
}

// List возвращает активные и не истёкшие объявления, новые первыми
func (s *AnnouncementService) List(ctx context.Context) ([]models.Announcement, error) {
	all, err := query.Fetch(ctx, s.cache, query.NewKey(OpList), func(ctx context.Context) ([]models.Announcement, error) {
		rows, err := s.store.Select(ctx, store.Announcements,
			store.Where("is_active", true).OrderBy("created_at", true))
		if err != nil {
			return nil, err
		}
		list := make([]models.Announcement, 0, len(rows))
		for _, row := range rows {
			list = append(list, mapper.AnnouncementFromRow(row))
		}
		return list, nil
	})
	if err != nil {
		return nil, err
	}

	// Срок действия проверяется при каждом чтении, кэш может быть старше
	now := s.now()
	live := make([]models.Announcement, 0, len(all))
	for _, a := range all {
		if a.LiveAt(now) {
			live = append(live, a)
		}
	}
	return live, nil
}

// Create публикует объявление. Только для администратора.
func (s *AnnouncementService) Create(ctx context.Context, caller models.Caller, d Draft) (models.Announcement, error) {
	if !caller.IsAdmin {
		return models.Announcement{}, apperr.Unauthorized("Публиковать объявления может только администратор")
	}
	a := models.Announcement{
		Title:     strings.TrimSpace(d.Title),
		Message:   strings.TrimSpace(d.Message),
		Type:      d.Type,
		IsActive:  true,
		ExpiresAt: d.ExpiresAt,
	}
	if a.Message == "" {
		return models.Announcement{}, apperr.Validation("Текст объявления не может быть пустым")
	}
	switch a.Type {
	case "":
		a.Type = models.AnnouncementInfo
	case models.AnnouncementInfo, models.AnnouncementWarning, models.AnnouncementEvent:
	default:
		return models.Announcement{}, apperr.Validation("Тип объявления должен быть info, warning или event")
	}
	if d.IsActive != nil {
		a.IsActive = *d.IsActive
	}
	if a.ExpiresAt != nil && !a.ExpiresAt.After(s.now()) {
		return models.Announcement{}, apperr.Validation("Срок действия объявления уже истёк")
	}

	row, err := s.store.Insert(ctx, store.Announcements, mapper.AnnouncementToRow(a))
	if err != nil {
		return models.Announcement{}, err
	}
	s.cache.Invalidate(query.NewKey(OpList))
	return mapper.AnnouncementFromRow(row), nil
}

// Delete удаляет объявление. Только для администратора.
func (s *AnnouncementService) Delete(ctx context.Context, caller models.Caller, id string) error {
	if !caller.IsAdmin {
		return apperr.Unauthorized("Удалять объявления может только администратор")
	}
	if id == "" {
		return apperr.Validation("Не указан ID объявления")
	}
	if err := s.store.Delete(ctx, store.Announcements, store.Where("id", id)); err != nil {
		return err
	}
	s.cache.Invalidate(query.NewKey(OpList))
	return nil
}

// Subscribe подписывает на новые объявления
func (s *AnnouncementService) Subscribe(fn func(models.Announcement)) (store.Subscription, error) {
	return s.store.SubscribeToInserts(store.Announcements, store.Where("is_active", true), func(row store.Row) {
		s.cache.Invalidate(query.NewKey(OpList))
		fn(mapper.AnnouncementFromRow(row))
	})
}
