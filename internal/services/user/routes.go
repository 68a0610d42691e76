package user

import "github.com/gofiber/fiber/v3"

// SetupRoutes настраивает маршруты для API профилей
func (s *UserService) SetupRoutes(app *fiber.App, auth fiber.Handler) {
	api := app.Group("/api/users")

	// Все маршруты требуют авторизации
	api.Use(auth)

	api.Get("/", s.ListUsers)
	api.Get("/me", s.GetMe)
	api.Get("/matches", s.GetMatches)
	api.Get("/:id", s.GetUser)
	api.Patch("/:id", s.PatchUser)

	// Навыки
	api.Post("/:id/skills", s.PostSkill)
	api.Put("/:id/skills", s.PutSkill)
	api.Delete("/:id/skills", s.DeleteSkill)
}
