package apperr

import (
	"context"
	"errors"
	"fmt"
)

// Kind - тег результата доменной операции
type Kind string

const (
	KindValidation         Kind = "ValidationError"
	KindUnauthorized       Kind = "Unauthorized"
	KindNotFound           Kind = "NotFound"
	KindConflict           Kind = "Conflict"
	KindAlreadyRated       Kind = "AlreadyRated"
	KindInvalidState       Kind = "InvalidState"
	KindTimeout            Kind = "Timeout"
	KindNetwork            Kind = "NetworkError"
	KindBackendUnavailable Kind = "BackendUnavailable"
	KindInternal           Kind = "Internal"
)

// Error - ожидаемый бизнес-исход операции либо классифицированный сбой бэкенда
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is сравнивает ошибки по виду, чтобы работал errors.Is(err, apperr.ErrNotFound)
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if e.Kind == t.Kind {
		return true
	}
	// AlreadyRated - частный случай конфликта
	return e.Kind == KindAlreadyRated && t.Kind == KindConflict
}

// Сентинелы для errors.Is
var (
	ErrValidation   = &Error{Kind: KindValidation}
	ErrUnauthorized = &Error{Kind: KindUnauthorized}
	ErrNotFound     = &Error{Kind: KindNotFound}
	ErrConflict     = &Error{Kind: KindConflict}
	ErrAlreadyRated = &Error{Kind: KindAlreadyRated}
	ErrInvalidState = &Error{Kind: KindInvalidState}
	ErrTimeout      = &Error{Kind: KindTimeout}
	ErrNetwork      = &Error{Kind: KindNetwork}
)

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func Validation(message string) *Error   { return New(KindValidation, message) }
func Unauthorized(message string) *Error { return New(KindUnauthorized, message) }
func NotFound(message string) *Error     { return New(KindNotFound, message) }
func Conflict(message string) *Error     { return New(KindConflict, message) }
func InvalidState(message string) *Error { return New(KindInvalidState, message) }
func AlreadyRated(message string) *Error { return New(KindAlreadyRated, message) }

// KindOf возвращает тег ошибки. Неклассифицированные ошибки считаются Internal,
// истёкший контекст - Timeout.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindInternal
}

// IsTransient сообщает, можно ли безопасно повторить операцию
func IsTransient(err error) bool {
	switch KindOf(err) {
	case KindTimeout, KindNetwork:
		return true
	}
	return false
}

// MessageOf возвращает сообщение, пригодное для показа пользователю
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return "Внутренняя ошибка сервера"
}
