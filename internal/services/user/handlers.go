package user

import (
	"context"

	"github.com/gofiber/fiber/v3"

	"github.com/rajivgeraev/skillmates-api/internal/db"
	"github.com/rajivgeraev/skillmates-api/internal/models"
	"github.com/rajivgeraev/skillmates-api/internal/utils"
)

// GetMe возвращает профиль текущего пользователя
func (s *UserService) GetMe(c fiber.Ctx) error {
	caller := utils.CallerFrom(c)

	ctx, cancel := db.GetContext()
	defer cancel()

	u, err := s.GetProfile(ctx, caller, caller.UserID)
	if err != nil {
		return utils.Fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "user": u})
}

// GetUser возвращает полный профиль владельцу и администратору,
// остальным - публичный
func (s *UserService) GetUser(c fiber.Ctx) error {
	caller := utils.CallerFrom(c)
	userID := c.Params("id")

	ctx, cancel := db.GetContext()
	defer cancel()

	var (
		u   models.User
		err error
	)
	if caller.Owns(userID) {
		u, err = s.GetProfile(ctx, caller, userID)
	} else {
		u, err = s.GetPublicProfile(ctx, userID)
	}
	if err != nil {
		return utils.Fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "user": u})
}

// ListUsers возвращает публичные профили
func (s *UserService) ListUsers(c fiber.Ctx) error {
	caller := utils.CallerFrom(c)
	excludeSelf := c.Query("exclude_self") == "true"

	ctx, cancel := db.GetContext()
	defer cancel()

	users, err := s.ListPublicUsers(ctx)
	if err != nil {
		return utils.Fail(c, err)
	}
	if excludeSelf {
		filtered := make([]models.User, 0, len(users))
		for _, u := range users {
			if u.ID != caller.UserID {
				filtered = append(filtered, u)
			}
		}
		users = filtered
	}

	return c.JSON(fiber.Map{
		"success": true,
		"users":   users,
		"count":   len(users),
	})
}

// GetMatches возвращает подходящих для обмена пользователей
func (s *UserService) GetMatches(c fiber.Ctx) error {
	ctx, cancel := db.GetContext()
	defer cancel()

	matches, err := s.FindMatches(ctx, utils.CallerFrom(c))
	if err != nil {
		return utils.Fail(c, err)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"matches": matches,
		"count":   len(matches),
	})
}

// PatchUser обновляет профиль
func (s *UserService) PatchUser(c fiber.Ctx) error {
	var patch models.UserPatch
	if err := c.Bind().Body(&patch); err != nil {
		return utils.BadBody(c, err)
	}
	patch.ID = c.Params("id")

	ctx, cancel := db.GetContext()
	defer cancel()

	u, err := s.UpdateProfile(ctx, utils.CallerFrom(c), patch)
	if err != nil {
		return utils.Fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "user": u})
}

// PostSkill добавляет навык
func (s *UserService) PostSkill(c fiber.Ctx) error {
	return s.changeSkill(c, s.AddSkill)
}

// PutSkill переименовывает навык
func (s *UserService) PutSkill(c fiber.Ctx) error {
	return s.changeSkill(c, s.UpdateSkill)
}

// DeleteSkill удаляет навык. Параметры передаются в строке запроса.
func (s *UserService) DeleteSkill(c fiber.Ctx) error {
	ch := SkillChange{
		UserID: c.Params("id"),
		List:   models.SkillList(c.Query("list")),
		Skill:  c.Query("skill"),
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	u, err := s.RemoveSkill(ctx, utils.CallerFrom(c), ch)
	if err != nil {
		return utils.Fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "user": u})
}

type skillOp func(ctx context.Context, caller models.Caller, ch SkillChange) (models.User, error)

func (s *UserService) changeSkill(c fiber.Ctx, op skillOp) error {
	var ch SkillChange
	if err := c.Bind().Body(&ch); err != nil {
		return utils.BadBody(c, err)
	}
	ch.UserID = c.Params("id")

	ctx, cancel := db.GetContext()
	defer cancel()

	u, err := op(ctx, utils.CallerFrom(c), ch)
	if err != nil {
		return utils.Fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "user": u})
}
