package notify

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Dispatcher отправляет уведомления в фоне: вызывающий не ждёт канал.
type Dispatcher struct {
	n   Notifier
	log logrus.FieldLogger
	wg  sync.WaitGroup
}

func NewDispatcher(n Notifier, log logrus.FieldLogger) *Dispatcher {
	return &Dispatcher{n: n, log: log}
}

// Dispatch не блокирует. Отмена ctx вызывающего попытку не обрывает,
// её ограничивает только таймаут шлюза.
func (d *Dispatcher) Dispatch(ctx context.Context, to Recipient, n Notice) {
	ctx = context.WithoutCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.log.WithField("panic", r).Error("notification dispatch panicked")
			}
		}()
		d.n.Notify(ctx, to, n)
	}()
}

// Wait дожидается всех запущенных отправок (остановка сервиса, тесты).
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
