package chat

import (
	"github.com/gofiber/fiber/v3"

	"github.com/rajivgeraev/skillmates-api/internal/db"
	"github.com/rajivgeraev/skillmates-api/internal/utils"
)

// GetChats возвращает все чаты пользователя
func (s *ChatService) GetChats(c fiber.Ctx) error {
	ctx, cancel := db.GetContext()
	defer cancel()

	threads, err := s.ListThreads(ctx, utils.CallerFrom(c))
	if err != nil {
		return utils.Fail(c, err)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"chats":   threads,
		"count":   len(threads),
	})
}

// OpenChat открывает чат обмена. Если при принятии обмена чат не был создан,
// он создаётся здесь.
func (s *ChatService) OpenChat(c fiber.Ctx) error {
	var requestData struct {
		RequestID string `json:"request_id"`
	}
	if err := c.Bind().Body(&requestData); err != nil {
		return utils.BadBody(c, err)
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	thread, err := s.GetOrCreateThread(ctx, utils.CallerFrom(c), requestData.RequestID)
	if err != nil {
		return utils.Fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "chat": thread})
}

// GetChat возвращает чат по ID
func (s *ChatService) GetChat(c fiber.Ctx) error {
	ctx, cancel := db.GetContext()
	defer cancel()

	thread, err := s.GetThread(ctx, utils.CallerFrom(c), c.Params("id"))
	if err != nil {
		return utils.Fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "chat": thread})
}

// GetChatMessages возвращает сообщения чата
func (s *ChatService) GetChatMessages(c fiber.Ctx) error {
	limit := utils.QueryInt(c, "limit", DefaultMessageLimit)
	offset := utils.QueryInt(c, "offset", 0)

	ctx, cancel := db.GetContext()
	defer cancel()

	messages, err := s.GetMessages(ctx, utils.CallerFrom(c), c.Params("id"), limit, offset)
	if err != nil {
		return utils.Fail(c, err)
	}
	return c.JSON(fiber.Map{
		"success":  true,
		"messages": messages,
		"count":    len(messages),
	})
}

// PostMessage отправляет сообщение в чат
func (s *ChatService) PostMessage(c fiber.Ctx) error {
	var requestData struct {
		Content string `json:"content"`
	}
	if err := c.Bind().Body(&requestData); err != nil {
		return utils.BadBody(c, err)
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	message, err := s.SendMessage(ctx, utils.CallerFrom(c), c.Params("id"), requestData.Content)
	if err != nil {
		return utils.Fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"message": message,
	})
}
