package mapper

import (
	"github.com/rajivgeraev/skillmates-api/internal/models"
	"github.com/rajivgeraev/skillmates-api/internal/store"
)

// AnnouncementFromRow переводит запись announcements в объявление
func AnnouncementFromRow(row store.Row) models.Announcement {
	kind := models.AnnouncementType(str(row, "type"))
	switch kind {
	case models.AnnouncementInfo, models.AnnouncementWarning, models.AnnouncementEvent:
	default:
		kind = models.AnnouncementInfo
	}
	return models.Announcement{
		ID:        str(row, "id"),
		Title:     str(row, "title"),
		Message:   str(row, "message"),
		Type:      kind,
		IsActive:  boolean(row, "is_active", true),
		ExpiresAt: optTime(row, "expires_at"),
		CreatedAt: timestamp(row, "created_at"),
	}
}

// AnnouncementToRow готовит запись нового объявления
func AnnouncementToRow(a models.Announcement) store.Row {
	row := store.Row{
		"message":   a.Message,
		"is_active": a.IsActive,
	}
	if a.Title != "" {
		row["title"] = a.Title
	}
	if a.Type != "" {
		row["type"] = string(a.Type)
	}
	if a.ExpiresAt != nil {
		row["expires_at"] = a.ExpiresAt.UTC()
	}
	return row
}
