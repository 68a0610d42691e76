package request

import (
	"github.com/gofiber/fiber/v3"

	"github.com/rajivgeraev/skillmates-api/internal/db"
	"github.com/rajivgeraev/skillmates-api/internal/models"
	"github.com/rajivgeraev/skillmates-api/internal/utils"
)

// CreateRequest создает новое предложение обмена
func (s *RequestService) CreateRequest(c fiber.Ctx) error {
	var draft Draft
	if err := c.Bind().Body(&draft); err != nil {
		return utils.BadBody(c, err)
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	req, err := s.Create(ctx, utils.CallerFrom(c), draft)
	if err != nil {
		return utils.Fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"request": req,
		"message": "Предложение обмена успешно создано",
	})
}

// GetMyRequests возвращает список входящих и исходящих предложений обмена
func (s *RequestService) GetMyRequests(c fiber.Ctx) error {
	direction := c.Query("type", DirectionAll) // all, incoming, outgoing
	status := c.Query("status", "all")

	ctx, cancel := db.GetContext()
	defer cancel()

	requests, err := s.List(ctx, utils.CallerFrom(c), direction, status)
	if err != nil {
		return utils.Fail(c, err)
	}
	return c.JSON(fiber.Map{
		"success":  true,
		"requests": requests,
		"count":    len(requests),
	})
}

// GetRequest возвращает предложение обмена
func (s *RequestService) GetRequest(c fiber.Ctx) error {
	ctx, cancel := db.GetContext()
	defer cancel()

	req, err := s.Get(ctx, utils.CallerFrom(c), c.Params("id"))
	if err != nil {
		return utils.Fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "request": req})
}

// UpdateRequestStatus обновляет статус предложения обмена
func (s *RequestService) UpdateRequestStatus(c fiber.Ctx) error {
	var requestData struct {
		Status string `json:"status"`
	}
	if err := c.Bind().Body(&requestData); err != nil {
		return utils.BadBody(c, err)
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	req, err := s.UpdateStatus(ctx, utils.CallerFrom(c), c.Params("id"), models.RequestStatus(requestData.Status))
	if err != nil {
		return utils.Fail(c, err)
	}

	// Формируем сообщение в зависимости от нового статуса
	var message string
	switch req.Status {
	case models.StatusAccepted:
		message = "Предложение обмена принято"
	case models.StatusRejected:
		message = "Предложение обмена отклонено"
	case models.StatusCancelled:
		message = "Предложение обмена отменено"
	case models.StatusCompleted:
		message = "Обмен завершён"
	}

	response := fiber.Map{
		"success": true,
		"message": message,
		"request": req,
	}
	// Если был создан чат, включаем его ID в ответ
	if req.ThreadID != "" {
		response["chat_id"] = req.ThreadID
	}
	return c.JSON(response)
}

// CompleteRequest отмечает завершение обмена текущим пользователем
func (s *RequestService) CompleteRequest(c fiber.Ctx) error {
	ctx, cancel := db.GetContext()
	defer cancel()

	req, err := s.MarkCompleted(ctx, utils.CallerFrom(c), c.Params("id"))
	if err != nil {
		return utils.Fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "request": req})
}

// RateRequest сохраняет оценку обмена
func (s *RequestService) RateRequest(c fiber.Ctx) error {
	var in RatingInput
	if err := c.Bind().Body(&in); err != nil {
		return utils.BadBody(c, err)
	}
	in.RequestID = c.Params("id")

	ctx, cancel := db.GetContext()
	defer cancel()

	req, err := s.AddRating(ctx, utils.CallerFrom(c), in)
	if err != nil {
		return utils.Fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "request": req})
}

// DeleteRequest удаляет предложение обмена
func (s *RequestService) DeleteRequest(c fiber.Ctx) error {
	ctx, cancel := db.GetContext()
	defer cancel()

	if err := s.Delete(ctx, utils.CallerFrom(c), c.Params("id")); err != nil {
		return utils.Fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}
