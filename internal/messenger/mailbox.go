package messenger

import "sync"

// mailbox is an unbounded task queue. Pushing never blocks, so code already
// running on the loop (bus handlers, timers) can post without deadlocking.
type mailbox struct {
	mu     sync.Mutex
	tasks  []func()
	closed bool
	signal chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{signal: make(chan struct{}, 1)}
}

// push queues fn and reports false once the mailbox is closed.
func (mb *mailbox) push(fn func()) bool {
	mb.mu.Lock()
	if mb.closed {
		mb.mu.Unlock()
		return false
	}
	mb.tasks = append(mb.tasks, fn)
	mb.mu.Unlock()

	mb.wake()
	return true
}

// take blocks until tasks are queued. Tasks pushed before close are still
// handed out; after that it returns false.
func (mb *mailbox) take() ([]func(), bool) {
	for {
		mb.mu.Lock()
		if len(mb.tasks) > 0 {
			tasks := mb.tasks
			mb.tasks = nil
			mb.mu.Unlock()
			return tasks, true
		}
		if mb.closed {
			mb.mu.Unlock()
			return nil, false
		}
		mb.mu.Unlock()
		<-mb.signal
	}
}

func (mb *mailbox) close() {
	mb.mu.Lock()
	mb.closed = true
	mb.mu.Unlock()
	mb.wake()
}

func (mb *mailbox) wake() {
	select {
	case mb.signal <- struct{}{}:
	default:
	}
}
