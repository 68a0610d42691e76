package announcement

import "github.com/gofiber/fiber/v3"

// SetupRoutes настраивает маршруты для API объявлений
func (s *AnnouncementService) SetupRoutes(app *fiber.App, auth fiber.Handler) {
	api := app.Group("/api/announcements")
	api.Use(auth)

	api.Get("/", s.GetAnnouncements)
	api.Post("/", s.CreateAnnouncement)
	api.Delete("/:id", s.DeleteAnnouncement)
}
