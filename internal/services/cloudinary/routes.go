package cloudinary

import "github.com/gofiber/fiber/v3"

// SetupRoutes настраивает маршруты загрузки файлов
func (s *CloudinaryService) SetupRoutes(app *fiber.App, auth fiber.Handler) {
	api := app.Group("/api/upload")

	// Защищенные маршруты
	api.Use(auth)

	// Маршрут для получения параметров загрузки аватара
	api.Get("/avatar-params", s.GenerateUploadParams)
}
