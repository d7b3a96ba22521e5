// Package loop - однопоточный цикл событий клиента. Все обработчики компонентов
// выполняются здесь по очереди и до конца, поэтому их состояние не требует блокировок.
package loop

import (
	"context"
	"errors"
	"time"
)

// ErrStopped - цикл уже остановлен
var ErrStopped = errors.New("event loop stopped")

type Loop struct {
	tasks chan func()
	done  chan struct{}
}

func New(buffer int) *Loop {
	if buffer <= 0 {
		buffer = 256
	}
	return &Loop{
		tasks: make(chan func(), buffer),
		done:  make(chan struct{}),
	}
}

// Run выполняет задачи до отмены ctx. Вызывается один раз.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-l.tasks:
			fn()
		}
	}
}

// Done закрывается после остановки цикла
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Post ставит fn в очередь. false - цикл остановлен.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	case l.tasks <- fn:
		return true
	}
}

// Do выполняет fn на цикле и ждет завершения. Нельзя вызывать из самого цикла.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	task := func() {
		defer close(finished)
		fn()
	}
	select {
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	case l.tasks <- task:
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Timer - отменяемый таймер, колбэк которого выполняется на цикле ровно один раз.
// Stop и проверки флагов выполняются только на цикле.
type Timer struct {
	t       *time.Timer
	fired   bool
	stopped bool
}

// AfterFunc вызывает fn на цикле через d, если таймер не остановлен раньше
func (l *Loop) AfterFunc(d time.Duration, fn func()) *Timer {
	tm := &Timer{}
	tm.t = time.AfterFunc(d, func() {
		l.Post(func() {
			if tm.stopped || tm.fired {
				return
			}
			tm.fired = true
			fn()
		})
	})
	return tm
}

// Stop отменяет таймер. false - колбэк уже выполнен или таймер уже остановлен.
func (tm *Timer) Stop() bool {
	if tm.fired || tm.stopped {
		return false
	}
	tm.stopped = true
	tm.t.Stop()
	return true
}

// Fired сообщает, выполнен ли колбэк
func (tm *Timer) Fired() bool {
	return tm.fired
}
