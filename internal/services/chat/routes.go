package chat

import "github.com/gofiber/fiber/v3"

// SetupRoutes настраивает маршруты для API чатов
func (s *ChatService) SetupRoutes(app *fiber.App, auth fiber.Handler) {
	// Группа для API чатов
	api := app.Group("/api/chats")

	// Защищенные маршруты (требуют авторизации)
	api.Use(auth)

	// Маршрут для получения всех чатов пользователя
	api.Get("/", s.GetChats)

	// Маршрут для открытия чата обмена
	api.Post("/", s.OpenChat)

	api.Get("/:id", s.GetChat)

	// Маршруты сообщений чата
	api.Get("/:id/messages", s.GetChatMessages)
	api.Post("/:id/messages", s.PostMessage)
}
