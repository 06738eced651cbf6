package cache

import (
	"sync"
	"time"
)

// coalescingTrigger lets many concurrent callers ask the expirer to run
// soon without flooding it: repeated Fire calls within the jitter window
// collapse into a single wakeup.
type coalescingTrigger struct {
	mu     sync.Mutex
	gen    int64
	ch     chan struct{}
	jitter time.Duration
}

func newCoalescingTrigger(jitter time.Duration) *coalescingTrigger {
	return &coalescingTrigger{ch: make(chan struct{}, 1), jitter: jitter}
}

// Fire schedules a wakeup after the jitter window, unless a rotate from the
// expirer consuming an earlier wakeup has already superseded this
// generation. Wakeups that land together collapse because the channel
// holds at most one pending wakeup.
func (t *coalescingTrigger) Fire() {
	t.mu.Lock()
	gen := t.gen
	t.mu.Unlock()

	go func() {
		time.Sleep(t.jitter)
		t.mu.Lock()
		stillCurrent := gen == t.gen
		t.mu.Unlock()
		if !stillCurrent {
			return
		}
		select {
		case t.ch <- struct{}{}:
		default:
		}
	}()
}

// rotate must be called by the expirer immediately after consuming a
// wakeup, so that any Fire calls already in flight for the consumed
// generation become no-ops.
func (t *coalescingTrigger) rotate() {
	t.mu.Lock()
	t.gen++
	t.mu.Unlock()
}

func (t *coalescingTrigger) C() <-chan struct{} { return t.ch }
