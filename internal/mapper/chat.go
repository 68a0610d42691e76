package mapper

import (
	"github.com/rajivgeraev/skillmates-api/internal/models"
	"github.com/rajivgeraev/skillmates-api/internal/store"
)

// ThreadFromRow переводит запись chat_threads в чат
func ThreadFromRow(row store.Row) models.ChatThread {
	return models.ChatThread{
		ID:                 str(row, "id"),
		RequestID:          str(row, "request_id"),
		ParticipantUserIDs: strList(row, "participant_user_ids"),
		IsCompleted:        boolean(row, "is_completed", false),
		CompletedUserIDs:   strList(row, "completed_user_ids"),
		CreatedAt:          timestamp(row, "created_at"),
	}
}

// ThreadToRow переводит чат в запись. Пустые поля опускаются.
func ThreadToRow(t models.ChatThread) store.Row {
	row := store.Row{}
	if t.ID != "" {
		row["id"] = t.ID
	}
	if t.RequestID != "" {
		row["request_id"] = t.RequestID
	}
	if t.ParticipantUserIDs != nil {
		row["participant_user_ids"] = append([]string{}, t.ParticipantUserIDs...)
	}
	if t.CompletedUserIDs != nil {
		row["completed_user_ids"] = append([]string{}, t.CompletedUserIDs...)
	}
	if t.IsCompleted {
		row["is_completed"] = true
	}
	return row
}

// MessageFromRow переводит запись chat_messages в сообщение
func MessageFromRow(row store.Row) models.ChatMessage {
	return models.ChatMessage{
		ID:           str(row, "id"),
		ThreadID:     str(row, "thread_id"),
		SenderUserID: str(row, "sender_user_id"),
		Content:      str(row, "content"),
		CreatedAt:    timestamp(row, "created_at"),
	}
}

// MessageToRow готовит запись нового сообщения; id и время назначает бэкенд
func MessageToRow(m models.ChatMessage) store.Row {
	return store.Row{
		"thread_id":      m.ThreadID,
		"sender_user_id": m.SenderUserID,
		"content":        m.Content,
	}
}
