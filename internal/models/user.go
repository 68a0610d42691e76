package models

import "time"

// Availability - когда пользователь готов заниматься обменом
type Availability string

const (
	AvailabilityMorning   Availability = "Morning"
	AvailabilityAfternoon Availability = "Afternoon"
	AvailabilityEvening   Availability = "Evening"
	AvailabilityFlexible  Availability = "Flexible"
)

// Valid проверяет, что значение входит в перечисление
func (a Availability) Valid() bool {
	switch a {
	case AvailabilityMorning, AvailabilityAfternoon, AvailabilityEvening, AvailabilityFlexible:
		return true
	}
	return false
}

// Role пользователя. Администратор видит и редактирует больше.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// SkillList - какой из списков навыков меняется
type SkillList string

const (
	SkillsOffered SkillList = "offered"
	SkillsWanted  SkillList = "wanted"
)

// User представляет профиль участника обмена навыками
type User struct {
	ID                string       `json:"id"`
	Name              string       `json:"name"`
	Email             string       `json:"email"`
	Location          string       `json:"location,omitempty"`
	Avatar            string       `json:"avatar,omitempty"`
	Bio               string       `json:"bio,omitempty"`
	Availability      Availability `json:"availability"`
	SkillsOffered     []string     `json:"skills_offered"`
	SkillsWanted      []string     `json:"skills_wanted"`
	Rating            float64      `json:"rating"`
	Reviews           int          `json:"reviews"`
	IsPublic          bool         `json:"is_public"`
	IsBanned          bool         `json:"is_banned"`
	IsProfileApproved bool         `json:"is_profile_approved"`
	Role              Role         `json:"role"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

// Visible сообщает, можно ли показывать профиль другим пользователям
func (u *User) Visible() bool {
	return u.IsPublic && !u.IsBanned
}

// Offers сообщает, предлагает ли пользователь навык
func (u *User) Offers(skill string) bool {
	return containsSkill(u.SkillsOffered, skill)
}

// Skills возвращает нужный список навыков
func (u *User) Skills(list SkillList) []string {
	if list == SkillsWanted {
		return u.SkillsWanted
	}
	return u.SkillsOffered
}

// UserPatch - частичное обновление профиля. nil означает «не трогать».
type UserPatch struct {
	ID                string        `json:"-"`
	Name              *string       `json:"name,omitempty"`
	Email             *string       `json:"email,omitempty"`
	Location          *string       `json:"location,omitempty"`
	Avatar            *string       `json:"avatar,omitempty"`
	Bio               *string       `json:"bio,omitempty"`
	Availability      *Availability `json:"availability,omitempty"`
	SkillsOffered     []string      `json:"skills_offered,omitempty"`
	SkillsWanted      []string      `json:"skills_wanted,omitempty"`
	IsPublic          *bool         `json:"is_public,omitempty"`
	IsBanned          *bool         `json:"is_banned,omitempty"`
	IsProfileApproved *bool         `json:"is_profile_approved,omitempty"`
	Role              *Role         `json:"role,omitempty"`

	// Агрегат рейтинга выставляет только пересчёт, из API эти поля не принимаются
	Rating  *float64 `json:"-"`
	Reviews *int     `json:"-"`
}

// TouchesAdminFields сообщает, меняет ли патч поля, доступные только администратору
func (p *UserPatch) TouchesAdminFields() bool {
	return p.IsBanned != nil || p.IsProfileApproved != nil || p.Role != nil
}

func containsSkill(list []string, skill string) bool {
	for _, s := range list {
		if s == skill {
			return true
		}
	}
	return false
}

// UserMatch - пользователь, который предлагает навыки из списка желаемых
type UserMatch struct {
	User           User     `json:"user"`
	MatchingSkills []string `json:"matching_skills"`
}
