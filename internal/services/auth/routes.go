package auth

import "github.com/gofiber/fiber/v3"

// SetupRoutes регистрирует маршруты в Fiber
func (s *AuthService) SetupRoutes(app *fiber.App) {
	api := app.Group("/api/auth")

	api.Post("/signup", s.SignUpHandler)
	api.Post("/signin", s.SignInHandler)
	api.Post("/verify", s.VerifyHandler)
	api.Post("/resend", s.ResendHandler)

	// Маршруты по токену сессии
	api.Get("/session", s.SessionHandler)
	api.Post("/signout", s.SignOutHandler)
}
