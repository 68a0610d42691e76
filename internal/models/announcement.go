package models

import "time"

// AnnouncementType - оформление объявления в интерфейсе
type AnnouncementType string

const (
	AnnouncementInfo    AnnouncementType = "info"
	AnnouncementWarning AnnouncementType = "warning"
	AnnouncementEvent   AnnouncementType = "event"
)

// Announcement представляет объявление администрации для всех пользователей
type Announcement struct {
	ID        string           `json:"id"`
	Title     string           `json:"title,omitempty"`
	Message   string           `json:"message"`
	Type      AnnouncementType `json:"type"`
	IsActive  bool             `json:"is_active"`
	ExpiresAt *time.Time       `json:"expires_at,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// LiveAt сообщает, показывается ли объявление в момент now
func (a *Announcement) LiveAt(now time.Time) bool {
	if !a.IsActive {
		return false
	}
	return a.ExpiresAt == nil || a.ExpiresAt.After(now)
}
