package announcement

import (
	"github.com/gofiber/fiber/v3"

	"github.com/rajivgeraev/skillmates-api/internal/db"
	"github.com/rajivgeraev/skillmates-api/internal/utils"
)

// GetAnnouncements возвращает действующие объявления
func (s *AnnouncementService) GetAnnouncements(c fiber.Ctx) error {
	ctx, cancel := db.GetContext()
	defer cancel()

	list, err := s.List(ctx)
	if err != nil {
		return utils.Fail(c, err)
	}
	return c.JSON(fiber.Map{
		"success":       true,
		"announcements": list,
		"count":         len(list),
	})
}

// CreateAnnouncement публикует объявление
func (s *AnnouncementService) CreateAnnouncement(c fiber.Ctx) error {
	var draft Draft
	if err := c.Bind().Body(&draft); err != nil {
		return utils.BadBody(c, err)
	}

	ctx, cancel := db.GetContext()
	defer cancel()

	a, err := s.Create(ctx, utils.CallerFrom(c), draft)
	if err != nil {
		return utils.Fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "announcement": a})
}

// DeleteAnnouncement удаляет объявление
func (s *AnnouncementService) DeleteAnnouncement(c fiber.Ctx) error {
	ctx, cancel := db.GetContext()
	defer cancel()

	if err := s.Delete(ctx, utils.CallerFrom(c), c.Params("id")); err != nil {
		return utils.Fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}
