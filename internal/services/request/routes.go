package request

import "github.com/gofiber/fiber/v3"

// SetupRoutes настраивает маршруты для API предложений обмена
func (s *RequestService) SetupRoutes(app *fiber.App, auth fiber.Handler) {
	// Группа для API предложений
	api := app.Group("/api/requests")

	// Защищенные маршруты (требуют авторизации)
	api.Use(auth)

	api.Post("/", s.CreateRequest)
	api.Get("/", s.GetMyRequests)
	api.Get("/:id", s.GetRequest)
	api.Delete("/:id", s.DeleteRequest)

	// Переходы состояния
	api.Put("/:id/status", s.UpdateRequestStatus)
	api.Post("/:id/complete", s.CompleteRequest)
	api.Post("/:id/rating", s.RateRequest)
}
