package mapper

import (
	"github.com/rajivgeraev/skillmates-api/internal/models"
	"github.com/rajivgeraev/skillmates-api/internal/store"
)

// RequestFromRow переводит запись swap_requests в предложение обмена
func RequestFromRow(row store.Row) models.SwapRequest {
	status := models.RequestStatus(str(row, "status"))
	if !status.Valid() {
		status = models.StatusPending
	}
	return models.SwapRequest{
		ID:                    str(row, "id"),
		FromUserID:            str(row, "from_user_id"),
		ToUserID:              str(row, "to_user_id"),
		OfferedSkill:          str(row, "offered_skill"),
		RequestedSkill:        str(row, "requested_skill"),
		Message:               str(row, "message"),
		Status:                status,
		RatingFromSender:      optInt(row, "rating_from_sender"),
		RatingFromRecipient:   optInt(row, "rating_from_recipient"),
		FeedbackFromSender:    str(row, "feedback_from_sender"),
		FeedbackFromRecipient: str(row, "feedback_from_recipient"),
		CreatedAt:             timestamp(row, "created_at"),
		UpdatedAt:             timestamp(row, "updated_at"),
	}
}

// NewRequestRow готовит запись для вставки нового предложения
func NewRequestRow(r models.SwapRequest) store.Row {
	row := store.Row{
		"from_user_id":    r.FromUserID,
		"to_user_id":      r.ToUserID,
		"offered_skill":   r.OfferedSkill,
		"requested_skill": r.RequestedSkill,
		"status":          string(models.StatusPending),
	}
	if r.Message != "" {
		row["message"] = r.Message
	}
	return row
}

// RequestToRow переводит частичное обновление в запись
func RequestToRow(p models.RequestPatch) store.Row {
	row := store.Row{}
	if p.Status != nil {
		row["status"] = string(*p.Status)
	}
	setIf(row, "rating_from_sender", p.RatingFromSender)
	setIf(row, "rating_from_recipient", p.RatingFromRecipient)
	setIf(row, "feedback_from_sender", p.FeedbackFromSender)
	setIf(row, "feedback_from_recipient", p.FeedbackFromRecipient)
	return row
}
