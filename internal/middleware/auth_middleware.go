package middleware

import (
	"context"
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/rajivgeraev/skillmates-api/internal/apperr"
	"github.com/rajivgeraev/skillmates-api/internal/db"
	"github.com/rajivgeraev/skillmates-api/internal/models"
	"github.com/rajivgeraev/skillmates-api/internal/utils"
)

// CallerResolver определяет вызывающего по токену сессии
type CallerResolver interface {
	Caller(ctx context.Context, token string) (models.Caller, error)
}

// APIKeyMiddleware пропускает только запросы с публичным ключом бэкенда в заголовке apikey
func APIKeyMiddleware(apiKey string) fiber.Handler {
	return func(c fiber.Ctx) error {
		key := c.Get("apikey")
		if key == "" || subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"kind":    apperr.KindUnauthorized,
				"error":   "Неверный или отсутствующий apikey",
			})
		}
		return c.Next()
	}
}

// AuthMiddleware создаёт middleware для проверки JWT
func AuthMiddleware(resolver CallerResolver) fiber.Handler {
	return func(c fiber.Ctx) error {
		if c.Get("Authorization") == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"kind":    apperr.KindUnauthorized,
				"error":   "Missing authorization header",
			})
		}

		tokenString := BearerToken(c)
		if tokenString == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"kind":    apperr.KindUnauthorized,
				"error":   "Invalid authorization header format",
			})
		}

		ctx, cancel := db.GetContext()
		defer cancel()

		caller, err := resolver.Caller(ctx, tokenString)
		if err != nil {
			if apperr.KindOf(err) == apperr.KindUnauthorized {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"success": false,
					"kind":    apperr.KindUnauthorized,
					"error":   apperr.MessageOf(err),
				})
			}
			return utils.Fail(c, err)
		}

		// Добавляем вызывающего в контекст
		c.Locals(utils.CallerKey, caller)

		return c.Next()
	}
}

// BearerToken достаёт токен из заголовка Authorization
func BearerToken(c fiber.Ctx) string {
	parts := strings.Split(c.Get("Authorization"), " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return parts[1]
}
