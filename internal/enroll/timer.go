package enroll

import (
	"sync"
	"time"
)

// SessionTimer counts active seconds. Elapsed only advances while the timer
// is active and never resets; a new session gets a new timer.
type SessionTimer struct {
	interval time.Duration
	onTick   func(elapsed int)

	mu      sync.Mutex
	elapsed int
	active  bool
	stop    chan struct{}
	done    chan struct{}
}

// NewSessionTimer creates a stopped timer that calls onTick after every
// counted tick
func NewSessionTimer(interval time.Duration, onTick func(elapsed int)) *SessionTimer {
	return &SessionTimer{interval: interval, onTick: onTick}
}

// Start activates the timer and begins ticking every interval
func (t *SessionTimer) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop != nil {
		return
	}
	t.active = true
	t.stop = make(chan struct{})
	t.done = make(chan struct{})
	go t.run(t.stop, t.done)
}

func (t *SessionTimer) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.Tick()
		}
	}
}

// Tick advances elapsed by one if the timer is active. It reports the
// elapsed count and whether it advanced.
func (t *SessionTimer) Tick() (int, bool) {
	t.mu.Lock()
	if !t.active {
		elapsed := t.elapsed
		t.mu.Unlock()
		return elapsed, false
	}
	t.elapsed++
	elapsed := t.elapsed
	t.mu.Unlock()

	if t.onTick != nil {
		t.onTick(elapsed)
	}
	return elapsed, true
}

// Freeze stops elapsed from advancing without stopping the ticker
func (t *SessionTimer) Freeze() {
	t.mu.Lock()
	t.active = false
	t.mu.Unlock()
}

// resume lets elapsed advance again
func (t *SessionTimer) resume() {
	t.mu.Lock()
	t.active = true
	t.mu.Unlock()
}

// Elapsed returns the counted seconds
func (t *SessionTimer) Elapsed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.elapsed
}

// Active reports whether ticks are counted
func (t *SessionTimer) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// Running reports whether the ticker goroutine is scheduled
func (t *SessionTimer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stop != nil
}

// Stop freezes the timer and waits for the ticker goroutine to exit. It is
// safe to call more than once and must not be called from onTick.
func (t *SessionTimer) Stop() {
	t.mu.Lock()
	t.active = false
	stop, done := t.stop, t.done
	t.stop, t.done = nil, nil
	t.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}
