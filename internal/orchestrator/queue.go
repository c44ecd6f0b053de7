package orchestrator

import (
	"sync"

	"github.com/amishk599/careerscan/internal/model"
)

// eventQueue delivers one run's events to a Notifier in order on its own
// goroutine. Push never blocks on the notifier.
type eventQueue struct {
	notifier model.Notifier

	mu      sync.Mutex
	pending []func(model.Notifier)
	closed  bool
	wake    chan struct{}
	done    chan struct{}
}

func newEventQueue(n model.Notifier) *eventQueue {
	q := &eventQueue{
		notifier: n,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go q.drain()
	return q
}

func (q *eventQueue) progress(p model.RunProgress) {
	q.push(func(n model.Notifier) { n.Progress(p) })
}

func (q *eventQueue) completed(e model.CompletionEvent) {
	q.push(func(n model.Notifier) { n.Completed(e) })
}

func (q *eventQueue) push(ev func(model.Notifier)) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.pending = append(q.pending, ev)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// close stops accepting events and blocks until every queued one is delivered.
func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	<-q.done
}

func (q *eventQueue) drain() {
	defer close(q.done)
	for range q.wake {
		for {
			q.mu.Lock()
			if len(q.pending) == 0 {
				closed := q.closed
				q.mu.Unlock()
				if closed {
					return
				}
				break
			}
			ev := q.pending[0]
			q.pending = q.pending[1:]
			q.mu.Unlock()

			if q.notifier != nil {
				ev(q.notifier)
			}
		}
	}
}
