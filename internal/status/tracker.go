package status

import (
	"github.com/shenikar/incident_dispatch/internal/models"
)

// ChangeFunc вызывается при каждом принятом изменении статуса
type ChangeFunc func(incidentID string, from, to models.Status)

// ClosedFunc вызывается ровно один раз, когда инцидент становится ENCERRADO
type ClosedFunc func(incidentID string)

// Tracker - единственная клиентская копия статусов инцидентов.
// И менеджер предложений, и менеджер чатов читают статус только отсюда.
// Tracker не потокобезопасен: все вызовы выполняются в цикле событий клиента.
type Tracker struct {
	statuses map[string]models.Status
	onChange []ChangeFunc
	onClosed []ClosedFunc
}

func NewTracker() *Tracker {
	return &Tracker{statuses: make(map[string]models.Status)}
}

// OnChange регистрирует подписчика на изменения
func (t *Tracker) OnChange(fn ChangeFunc) {
	t.onChange = append(t.onChange, fn)
}

// OnClosed регистрирует подписчика на закрытие инцидента.
// Таймаут предложения и закрытие со стороны сервера сходятся в этом событии.
func (t *Tracker) OnClosed(fn ClosedFunc) {
	t.onClosed = append(t.onClosed, fn)
}

// Get возвращает известный статус
func (t *Tracker) Get(incidentID string) (models.Status, bool) {
	s, ok := t.statuses[incidentID]
	return s, ok
}

// ChatActive сообщает, разрешена ли отправка сообщений. Неизвестный статус считается закрытым.
func (t *Tracker) ChatActive(incidentID string) bool {
	s, ok := t.statuses[incidentID]
	return ok && IsChatActive(s)
}

// Observe применяет наблюдаемый статус. Движение назад и повторы игнорируются.
// Возвращает true, если статус изменился.
func (t *Tracker) Observe(incidentID string, s models.Status) bool {
	if !IsValid(s) {
		return false
	}
	prev, known := t.statuses[incidentID]
	if known && !IsForward(prev, s) {
		return false
	}
	t.statuses[incidentID] = s
	for _, fn := range t.onChange {
		fn(incidentID, prev, s)
	}
	if IsTerminal(s) {
		for _, fn := range t.onClosed {
			fn(incidentID)
		}
	}
	return true
}
