package cache

import (
	"context"
	"sync"
)

// notifier is a rearmable broadcast signal used to wake tailing readers
// when a download makes progress. Each call to fire closes the channel
// returned by the most recent C and installs a fresh one, so a waiter that
// observed the close can call C again to wait for the next event.
type notifier struct {
	mu sync.Mutex
	ch chan struct{}
}

func newNotifier() *notifier {
	return &notifier{ch: make(chan struct{})}
}

func (n *notifier) C() <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ch
}

// fire installs a fresh channel, then closes the previous one, waking every
// goroutine that was waiting on it.
func (n *notifier) fire() {
	n.mu.Lock()
	old := n.ch
	n.ch = make(chan struct{})
	n.mu.Unlock()
	close(old)
}

// future is a one-shot, single-writer result cell. It is used so that the
// first caller to request a download launches the transfer while every
// concurrent caller, and every later caller before the result expires,
// observes the same outcome.
type future struct {
	done   chan struct{}
	result bool
}

func newFuture() *future {
	return &future{done: make(chan struct{})}
}

// resolve must be called exactly once, by the transfer goroutine that f
// was handed to.
func (f *future) resolve(v bool) {
	f.result = v
	close(f.done)
}

func (f *future) wait(ctx context.Context) (bool, error) {
	select {
	case <-f.done:
		return f.result, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
