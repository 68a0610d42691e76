package utils

import (
	"log"
	"strconv"

	"github.com/gofiber/fiber/v3"

	"github.com/rajivgeraev/skillmates-api/internal/apperr"
	"github.com/rajivgeraev/skillmates-api/internal/models"
)

// CallerKey - ключ Locals, под которым middleware кладёт вызывающего
const CallerKey = "caller"

// CallerFrom достаёт вызывающего из контекста запроса
func CallerFrom(c fiber.Ctx) models.Caller {
	caller, _ := c.Locals(CallerKey).(models.Caller)
	return caller
}

// StatusFor переводит вид ошибки в HTTP статус
func StatusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return fiber.StatusBadRequest
	case apperr.KindUnauthorized:
		return fiber.StatusForbidden
	case apperr.KindNotFound:
		return fiber.StatusNotFound
	case apperr.KindConflict, apperr.KindAlreadyRated:
		return fiber.StatusConflict
	case apperr.KindInvalidState:
		return fiber.StatusUnprocessableEntity
	case apperr.KindTimeout:
		return fiber.StatusGatewayTimeout
	case apperr.KindNetwork:
		return fiber.StatusBadGateway
	case apperr.KindBackendUnavailable:
		return fiber.StatusServiceUnavailable
	}
	return fiber.StatusInternalServerError
}

// Fail отвечает тегированной ошибкой: {"success": false, "kind", "error"}
func Fail(c fiber.Ctx, err error) error {
	kind := apperr.KindOf(err)
	status := StatusFor(kind)
	if status >= fiber.StatusInternalServerError {
		log.Printf("Ошибка %s %s: %v", c.Method(), c.Path(), err)
	}
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"kind":    kind,
		"error":   apperr.MessageOf(err),
	})
}

// BadBody - ответ на тело запроса, которое не удалось разобрать
func BadBody(c fiber.Ctx, err error) error {
	log.Printf("Ошибка декодирования тела запроса: %v", err)
	return Fail(c, apperr.Validation("Неверный формат данных"))
}

// QueryInt читает целый параметр строки запроса
func QueryInt(c fiber.Ctx, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
