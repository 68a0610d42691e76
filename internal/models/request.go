package models

import "time"

// RequestStatus - состояние предложения обмена
type RequestStatus string

const (
	StatusPending   RequestStatus = "pending"
	StatusAccepted  RequestStatus = "accepted"
	StatusRejected  RequestStatus = "rejected"
	StatusCancelled RequestStatus = "cancelled"
	StatusCompleted RequestStatus = "completed"
)

// Valid проверяет, что статус известен
func (s RequestStatus) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusRejected, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

// Terminal сообщает, что статус больше не меняется
func (s RequestStatus) Terminal() bool {
	return s == StatusRejected || s == StatusCancelled || s == StatusCompleted
}

// SwapRequest представляет предложение обменяться навыками
type SwapRequest struct {
	ID                    string        `json:"id"`
	FromUserID            string        `json:"from_user_id"`
	ToUserID              string        `json:"to_user_id"`
	OfferedSkill          string        `json:"offered_skill"`
	RequestedSkill        string        `json:"requested_skill"`
	Message               string        `json:"message,omitempty"`
	Status                RequestStatus `json:"status"`
	RatingFromSender      *int          `json:"rating_from_sender,omitempty"`
	RatingFromRecipient   *int          `json:"rating_from_recipient,omitempty"`
	FeedbackFromSender    string        `json:"feedback_from_sender,omitempty"`
	FeedbackFromRecipient string        `json:"feedback_from_recipient,omitempty"`
	CreatedAt             time.Time     `json:"created_at"`
	UpdatedAt             time.Time     `json:"updated_at"`

	// Дополнительные поля для API
	ThreadID string `json:"thread_id,omitempty"`
}

// IsParticipant сообщает, участвует ли пользователь в обмене
func (r *SwapRequest) IsParticipant(userID string) bool {
	return userID != "" && (r.FromUserID == userID || r.ToUserID == userID)
}

// Counterpart возвращает второго участника обмена
func (r *SwapRequest) Counterpart(userID string) string {
	if r.FromUserID == userID {
		return r.ToUserID
	}
	return r.FromUserID
}

// RequestPatch - частичное обновление предложения
type RequestPatch struct {
	Status                *RequestStatus
	RatingFromSender      *int
	RatingFromRecipient   *int
	FeedbackFromSender    *string
	FeedbackFromRecipient *string
}
