package mapper

import (
	"github.com/rajivgeraev/skillmates-api/internal/models"
	"github.com/rajivgeraev/skillmates-api/internal/store"
)

// UserFromRow переводит запись users в профиль
func UserFromRow(row store.Row) models.User {
	availability := models.Availability(str(row, "availability"))
	if !availability.Valid() {
		availability = models.AvailabilityFlexible
	}
	role := models.Role(str(row, "role"))
	if role != models.RoleAdmin {
		role = models.RoleUser
	}

	rating := num(row, "rating")
	if rating < 0 {
		rating = 0
	} else if rating > 5 {
		rating = 5
	}
	reviews := integer(row, "reviews")
	if reviews < 0 {
		reviews = 0
	}

	return models.User{
		ID:                str(row, "id"),
		Name:              str(row, "name"),
		Email:             str(row, "email"),
		Location:          str(row, "location"),
		Avatar:            str(row, "avatar"),
		Bio:               str(row, "bio"),
		Availability:      availability,
		SkillsOffered:     strList(row, "skills_offered"),
		SkillsWanted:      strList(row, "skills_wanted"),
		Rating:            rating,
		Reviews:           reviews,
		IsPublic:          boolean(row, "is_public", true),
		IsBanned:          boolean(row, "is_banned", false),
		IsProfileApproved: boolean(row, "is_profile_approved", false),
		Role:              role,
		CreatedAt:         timestamp(row, "created_at"),
		UpdatedAt:         timestamp(row, "updated_at"),
	}
}

// UserToRow переводит частичное обновление в запись; незаданные поля опускаются
func UserToRow(p models.UserPatch) store.Row {
	row := store.Row{}
	if p.ID != "" {
		row["id"] = p.ID
	}
	setIf(row, "name", p.Name)
	setIf(row, "email", p.Email)
	setIf(row, "location", p.Location)
	setIf(row, "avatar", p.Avatar)
	setIf(row, "bio", p.Bio)
	if p.Availability != nil {
		row["availability"] = string(*p.Availability)
	}
	if p.SkillsOffered != nil {
		row["skills_offered"] = append([]string{}, p.SkillsOffered...)
	}
	if p.SkillsWanted != nil {
		row["skills_wanted"] = append([]string{}, p.SkillsWanted...)
	}
	setIf(row, "is_public", p.IsPublic)
	setIf(row, "is_banned", p.IsBanned)
	setIf(row, "is_profile_approved", p.IsProfileApproved)
	if p.Role != nil {
		row["role"] = string(*p.Role)
	}
	setIf(row, "rating", p.Rating)
	setIf(row, "reviews", p.Reviews)
	return row
}
