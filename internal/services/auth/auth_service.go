package auth

import (
	"github.com/gofiber/fiber/v3"

	"github.com/rajivgeraev/skillmates-api/internal/auth"
	"github.com/rajivgeraev/skillmates-api/internal/db"
	"github.com/rajivgeraev/skillmates-api/internal/middleware"
	"github.com/rajivgeraev/skillmates-api/internal/models"
	"github.com/rajivgeraev/skillmates-api/internal/utils"
)

// AuthService – структура для обработки авторизации
type AuthService struct {
	provider *auth.Provider
}

// NewAuthService – конструктор AuthService
func NewAuthService(provider *auth.Provider) *AuthService {
	return &AuthService{provider: provider}
}

type credentials struct {
	Email    string             `json:"email"`
	Password string             `json:"password"`
	Code     string             `json:"code"`
	Profile  models.ProfileSeed `json:"profile"`
}

// SignUpHandler регистрирует пользователя и отправляет код подтверждения
func (s *AuthService) SignUpHandler(c fiber.Ctx) error {
	var payload credentials
	if err := c.Bind().Body(&payload); err != nil {
		return utils.BadBody(c, err)
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	session, err := s.provider.SignUp(ctx, payload.Email, payload.Password, payload.Profile)
	if err != nil {
		return utils.Fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"session": session,
		"message": "Код подтверждения отправлен на email",
	})
}

// SignInHandler выполняет вход по email и паролю
func (s *AuthService) SignInHandler(c fiber.Ctx) error {
	var payload credentials
	if err := c.Bind().Body(&payload); err != nil {
		return utils.BadBody(c, err)
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	session, err := s.provider.SignIn(ctx, payload.Email, payload.Password)
	if err != nil {
		return utils.Fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "session": session, "token": session.Token})
}

// VerifyHandler подтверждает email одноразовым кодом
func (s *AuthService) VerifyHandler(c fiber.Ctx) error {
	var payload credentials
	if err := c.Bind().Body(&payload); err != nil {
		return utils.BadBody(c, err)
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	session, err := s.provider.VerifyOneTimeCode(ctx, payload.Email, payload.Code)
	if err != nil {
		return utils.Fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "session": session, "token": session.Token})
}

// ResendHandler отправляет новый код подтверждения
func (s *AuthService) ResendHandler(c fiber.Ctx) error {
	var payload credentials
	if err := c.Bind().Body(&payload); err != nil {
		return utils.BadBody(c, err)
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	if err := s.provider.ResendOneTimeCode(ctx, payload.Email); err != nil {
		return utils.Fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "message": "Если адрес зарегистрирован, код отправлен"})
}

// SessionHandler возвращает текущую сессию
func (s *AuthService) SessionHandler(c fiber.Ctx) error {
	ctx, cancel := db.GetContext()
	defer cancel()

	session, err := s.provider.GetSession(ctx, middleware.BearerToken(c))
	if err != nil {
		return utils.Fail(c, err)
	}
	session.Token = ""
	return c.JSON(fiber.Map{"success": true, "session": session})
}

// SignOutHandler завершает сессию
func (s *AuthService) SignOutHandler(c fiber.Ctx) error {
	ctx, cancel := db.GetContext()
	defer cancel()

	if err := s.provider.SignOut(ctx, middleware.BearerToken(c)); err != nil {
		return utils.Fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}
