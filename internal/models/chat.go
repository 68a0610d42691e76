package models

import "time"

// ChatThread представляет чат, привязанный к принятому обмену
type ChatThread struct {
	ID                 string    `json:"id"`
	RequestID          string    `json:"request_id"`
	ParticipantUserIDs []string  `json:"participant_user_ids"`
	IsCompleted        bool      `json:"is_completed"`
	CompletedUserIDs   []string  `json:"completed_user_ids"`
	CreatedAt          time.Time `json:"created_at"`
}

// IsParticipant сообщает, является ли пользователь участником чата
func (t *ChatThread) IsParticipant(userID string) bool {
	return userID != "" && containsSkill(t.ParticipantUserIDs, userID)
}

// HasCompleted сообщает, отметил ли пользователь завершение
func (t *ChatThread) HasCompleted(userID string) bool {
	return containsSkill(t.CompletedUserIDs, userID)
}

// CoveredByCompletion сообщает, что все участники отметили завершение
func (t *ChatThread) CoveredByCompletion() bool {
	if len(t.ParticipantUserIDs) == 0 {
		return false
	}
	for _, id := range t.ParticipantUserIDs {
		if !t.HasCompleted(id) {
			return false
		}
	}
	return true
}

// ChatMessage представляет сообщение в чате
type ChatMessage struct {
	ID           string    `json:"id"`
	ThreadID     string    `json:"thread_id"`
	SenderUserID string    `json:"sender_user_id"`
	Content      string    `json:"content"`
	CreatedAt    time.Time `json:"created_at"`

	// Временный идентификатор оптимистичного сообщения, пока сервер его не подтвердил
	TempID  string `json:"temp_id,omitempty"`
	Pending bool   `json:"pending,omitempty"`
}
