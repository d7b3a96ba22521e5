// Package status описывает жизненный цикл инцидента:
// EM_ABERTO -> ACEITO -> ATENDIDO -> ENCERRADO, плюс прямой переход EM_ABERTO -> ENCERRADO.
package status

import (
	"fmt"

	"github.com/shenikar/incident_dispatch/internal/models"
)

var rank = map[models.Status]int{
	models.StatusOpen:      0,
	models.StatusAccepted:  1,
	models.StatusAttending: 2,
	models.StatusClosed:    3,
}

// IsValid проверяет, что статус известен
func IsValid(s models.Status) bool {
	_, ok := rank[s]
	return ok
}

// Rank возвращает порядковый номер статуса, -1 для неизвестного
func Rank(s models.Status) int {
	r, ok := rank[s]
	if !ok {
		return -1
	}
	return r
}

// IsTerminal - из ENCERRADO переходов нет
func IsTerminal(s models.Status) bool {
	return s == models.StatusClosed
}

// IsChatActive - в этих статусах разрешена отправка сообщений
func IsChatActive(s models.Status) bool {
	return s == models.StatusOpen || s == models.StatusAccepted
}

// CanTransition проверяет переход, который может выполнить сервер.
// ENCERRADO достижим из любого нетерминального статуса, остальные переходы - только на шаг вперед.
func CanTransition(from, to models.Status) bool {
	if !IsValid(from) || !IsValid(to) || IsTerminal(from) {
		return false
	}
	if to == models.StatusClosed {
		return true
	}
	return rank[to] == rank[from]+1
}

// Validate возвращает ошибку валидации для недопустимого перехода
func Validate(from, to models.Status) error {
	if !IsValid(to) {
		return models.NewValidationError("status", fmt.Sprintf("unknown status %q", to))
	}
	if !CanTransition(from, to) {
		return models.NewValidationError("status", fmt.Sprintf("transition %s -> %s is not allowed", from, to))
	}
	return nil
}

// IsForward сообщает, является ли наблюдаемое изменение движением вперед.
// Клиент может пропустить промежуточные статусы, поэтому допускается любой скачок вперед.
func IsForward(from, to models.Status) bool {
	return IsValid(to) && Rank(to) > Rank(from)
}
