package tab

import (
	"context"
	"errors"
	"sync"
)

var ErrClosed = errors.New("tab is closed")

// loop runs queued functions one at a time on its own goroutine. The inbox
// is unbounded so posting never blocks the caller.
type loop struct {
	mu     sync.Mutex
	inbox  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newLoop() *loop {
	l := &loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go l.run()
	return l
}

// post queue fn, reports false once the loop is stopping
func (l *loop) post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.inbox = append(l.inbox, fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// do runs fn on the loop and waits for it.
func (l *loop) do(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	if !l.post(func() { result <- fn() }) {
		return ErrClosed
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		// fn may have been the last thing the loop ran
		select {
		case err := <-result:
			return err
		default:
			return ErrClosed
		}
	}
}

func (l *loop) run() {
	defer close(l.done)
	for {
		l.mu.Lock()
		batch := l.inbox
		l.inbox = nil
		closed := l.closed
		l.mu.Unlock()

		for _, fn := range batch {
			fn()
		}
		if closed && len(batch) == 0 {
			return
		}
		if len(batch) == 0 {
			<-l.wake
		}
	}
}

// stop refuses new work, drains what is queued and waits for the goroutine.
func (l *loop) stop() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		<-l.done
		return
	}
	l.closed = true
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
	<-l.done
}
