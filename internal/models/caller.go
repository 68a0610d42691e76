package models

// Caller - явный контекст вызывающего пользователя, передаётся в сервисы.
// Заменяет глобальное состояние сессии, в тестах подставляется напрямую.
type Caller struct {
	UserID  string
	Email   string
	IsAdmin bool
}

// Owns сообщает, что вызывающий - владелец записи или администратор
func (c Caller) Owns(userID string) bool {
	return c.IsAdmin || (c.UserID != "" && c.UserID == userID)
}

// Anonymous сообщает, что вызов сделан без сессии
func (c Caller) Anonymous() bool {
	return c.UserID == ""
}
