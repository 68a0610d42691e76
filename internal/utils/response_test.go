package utils

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajivgeraev/skillmates-api/internal/apperr"
	"github.com/rajivgeraev/skillmates-api/internal/models"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		kind apperr.Kind
		want int
	}{
		{apperr.KindValidation, fiber.StatusBadRequest},
		{apperr.KindUnauthorized, fiber.StatusForbidden},
		{apperr.KindNotFound, fiber.StatusNotFound},
		{apperr.KindConflict, fiber.StatusConflict},
		{apperr.KindAlreadyRated, fiber.StatusConflict},
		{apperr.KindInvalidState, fiber.StatusUnprocessableEntity},
		{apperr.KindTimeout, fiber.StatusGatewayTimeout},
		{apperr.KindNetwork, fiber.StatusBadGateway},
		{apperr.KindBackendUnavailable, fiber.StatusServiceUnavailable},
		{apperr.KindInternal, fiber.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFor(tt.kind))
		})
	}
}

func TestFail(t *testing.T) {
	app := fiber.New()
	app.Get("/conflict", func(c fiber.Ctx) error {
		return Fail(c, apperr.AlreadyRated("Вы уже оценили этот обмен"))
	})
	app.Get("/internal", func(c fiber.Ctx) error {
		return Fail(c, errors.New("pq: connection refused"))
	})

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/conflict", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, false, body["success"])
	assert.Equal(t, string(apperr.KindAlreadyRated), body["kind"])
	assert.Equal(t, "Вы уже оценили этот обмен", body["error"])

	resp, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/internal", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)

	body = nil
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, string(apperr.KindInternal), body["kind"])
}

func TestCallerFromAndQueryInt(t *testing.T) {
	app := fiber.New()
	app.Get("/", func(c fiber.Ctx) error {
		c.Locals(CallerKey, models.Caller{UserID: "user-1"})
		return c.JSON(fiber.Map{
			"user":  CallerFrom(c).UserID,
			"limit": QueryInt(c, "limit", 20),
			"page":  QueryInt(c, "page", 1),
		})
	})

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/?limit=5&page=abc", nil))
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "user-1", body["user"])
	assert.Equal(t, float64(5), body["limit"])
	assert.Equal(t, float64(1), body["page"])
}
