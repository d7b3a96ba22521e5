package models

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport - соединение потеряно или недоступно
	ErrTransport = errors.New("transport unavailable")
	// ErrTransitionRejected - статус уже не совпадает с ожидаемым (другой участник успел раньше)
	ErrTransitionRejected = errors.New("status transition rejected")
	// ErrSessionUnavailable - сессию чата не удалось получить или создать
	ErrSessionUnavailable = errors.New("chat session unavailable")
	// ErrNotFound - сущность не найдена
	ErrNotFound = errors.New("not found")
	// ErrUnauthenticated - отсутствует или недействителен токен
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden - роль не позволяет выполнить действие
	ErrForbidden = errors.New("forbidden")
	// ErrChatLocked - отправка запрещена текущим статусом или состоянием соединения
	ErrChatLocked = errors.New("chat is read-only")
)

// ValidationError блокирует только конкретное действие
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

// NewValidationError создает ошибку валидации
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation сообщает, является ли err ошибкой валидации
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
