package connection

import (
	"log/slog"
	"sync"
)

// notifier delivers status events in the order they were pushed. push is
// called under the client lock; flush is called after releasing it. Only one
// goroutine delivers at a time, and a handler that re-enters the client
// has its new events delivered by the outer flush once it returns.
type notifier struct {
	fn     StatusHandler
	logger *slog.Logger

	qmu   sync.Mutex
	queue []StatusEvent

	deliver sync.Mutex
}

func (n *notifier) push(ev StatusEvent) {
	if n.fn == nil {
		return
	}
	n.qmu.Lock()
	n.queue = append(n.queue, ev)
	n.qmu.Unlock()
}

func (n *notifier) flush() {
	if n.fn == nil {
		return
	}
	for {
		if !n.deliver.TryLock() {
			return
		}
		for {
			evs := n.take()
			if len(evs) == 0 {
				break
			}
			for _, ev := range evs {
				n.call(ev)
			}
		}
		n.deliver.Unlock()

		n.qmu.Lock()
		more := len(n.queue) > 0
		n.qmu.Unlock()
		if !more {
			return
		}
	}
}

func (n *notifier) take() []StatusEvent {
	n.qmu.Lock()
	defer n.qmu.Unlock()
	evs := n.queue
	n.queue = nil
	return evs
}

func (n *notifier) call(ev StatusEvent) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("status handler panicked", "status", ev.Status, "panic", r)
		}
	}()
	n.fn(ev)
}
