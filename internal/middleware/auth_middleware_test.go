package middleware

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajivgeraev/skillmates-api/internal/apperr"
	"github.com/rajivgeraev/skillmates-api/internal/models"
	"github.com/rajivgeraev/skillmates-api/internal/utils"
)

type resolverFunc func(ctx context.Context, token string) (models.Caller, error)

func (f resolverFunc) Caller(ctx context.Context, token string) (models.Caller, error) {
	return f(ctx, token)
}

func newTestApp() *fiber.App {
	resolver := resolverFunc(func(_ context.Context, token string) (models.Caller, error) {
		switch token {
		case "good":
			return models.Caller{UserID: "user-1"}, nil
		case "broken":
			return models.Caller{}, errors.New("база недоступна")
		}
		return models.Caller{}, apperr.Unauthorized("Сессия завершена")
	})

	app := fiber.New()
	app.Use(APIKeyMiddleware("public-key"))
	app.Get("/me", AuthMiddleware(resolver), func(c fiber.Ctx) error {
		return c.SendString(utils.CallerFrom(c).UserID)
	})
	return app
}

func TestAuthMiddleware(t *testing.T) {
	app := newTestApp()

	tests := []struct {
		name   string
		apiKey string
		auth   string
		status int
		body   string
	}{
		{"без apikey", "", "Bearer good", fiber.StatusUnauthorized, ""},
		{"неверный apikey", "other", "Bearer good", fiber.StatusUnauthorized, ""},
		{"без заголовка", "public-key", "", fiber.StatusUnauthorized, ""},
		{"не Bearer", "public-key", "Token good", fiber.StatusUnauthorized, ""},
		{"завершённая сессия", "public-key", "Bearer revoked", fiber.StatusUnauthorized, ""},
		{"сбой проверки", "public-key", "Bearer broken", fiber.StatusInternalServerError, ""},
		{"успех", "public-key", "Bearer good", fiber.StatusOK, "user-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(fiber.MethodGet, "/me", nil)
			if tt.apiKey != "" {
				req.Header.Set("apikey", tt.apiKey)
			}
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}

			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)

			if tt.body != "" {
				b, err := io.ReadAll(resp.Body)
				require.NoError(t, err)
				assert.Equal(t, tt.body, string(b))
			}
		})
	}
}
