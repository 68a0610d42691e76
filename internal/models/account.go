package models

import "time"

// ProfileSeed - данные, из которых создаётся профиль при первом входе
type ProfileSeed struct {
	UserID        string       `json:"-"`
	Email         string       `json:"-"`
	Name          string       `json:"name,omitempty"`
	Location      string       `json:"location,omitempty"`
	Bio           string       `json:"bio,omitempty"`
	Availability  Availability `json:"availability,omitempty"`
	SkillsOffered []string     `json:"skills_offered,omitempty"`
	SkillsWanted  []string     `json:"skills_wanted,omitempty"`
}

// Account - учётная запись провайдера аутентификации
type Account struct {
	ID             string
	Email          string
	PasswordHash   string
	EmailConfirmed bool
	ProfileSeed    ProfileSeed
	OTPHash        string
	OTPExpiresAt   *time.Time
	OTPAttempts    int
	CreatedAt      time.Time
	LastLoginAt    *time.Time
}

// AuthSession - выданная сессия
type AuthSession struct {
	ID        string
	AccountID string
	LoginTime time.Time
	RevokedAt *time.Time
}

// Session - то, что видит клиент после входа
type Session struct {
	UserID         string    `json:"user_id"`
	Email          string    `json:"email"`
	EmailConfirmed bool      `json:"email_confirmed"`
	SessionID      string    `json:"session_id"`
	Token          string    `json:"token,omitempty"`
	ExpiresAt      time.Time `json:"expires_at"`
}
