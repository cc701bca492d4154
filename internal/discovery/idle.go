package discovery

import (
	"context"
	"sync"
	"time"
)

// idleWaiter signals once no requests have been in flight for idleTimeout.
// Grounded on the teacher's onceCloser/collector pattern (internal/capture),
// generalised from a single CDP networkIdle lifecycle event into a
// re-armable timer, since spec §4.3's network-idle condition is
// time-window-based rather than a single browser-reported event.
type idleWaiter struct {
	mu          sync.Mutex
	pending     int
	idleTimeout time.Duration
	timer       *time.Timer
	done        chan struct{}
	closeOnce   sync.Once
}

func newIdleWaiter(idleTimeout time.Duration) *idleWaiter {
	w := &idleWaiter{
		idleTimeout: idleTimeout,
		done:        make(chan struct{}),
	}
	w.arm()
	return w
}

func (w *idleWaiter) requestStarted() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending++
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

func (w *idleWaiter) requestFinished() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending > 0 {
		w.pending--
	}
	if w.pending == 0 {
		w.armLocked()
	}
}

func (w *idleWaiter) arm() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.armLocked()
}

func (w *idleWaiter) armLocked() {
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.idleTimeout, func() {
		w.closeOnce.Do(func() { close(w.done) })
	})
}

// wait blocks until the idle window elapses or ctx is cancelled. Returns
// true if cancelled via ctx rather than reaching idle naturally.
func (w *idleWaiter) wait(ctx context.Context) (timedOut bool) {
	select {
	case <-w.done:
		return false
	case <-ctx.Done():
		return true
	}
}
