package clock

import (
	"sync"
	"time"
)

// Clock abstracts time operations for testability.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

// Ticker is the subset of *time.Ticker used by stream keep-alives.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Real is a Clock backed by the system clock.
type Real struct{}

// Now returns the current time.
func (Real) Now() time.Time { return time.Now() }

// NewTicker wraps time.NewTicker.
func (Real) NewTicker(d time.Duration) Ticker { return realTicker{time.NewTicker(d)} }

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// Mock is a Clock that always returns a fixed time. Tickers created from a
// Mock only fire when Tick is called.
type Mock struct {
	T time.Time

	mu      sync.Mutex
	tickers []*mockTicker
}

// Now returns the fixed time.
func (m *Mock) Now() time.Time { return m.T }

// NewTicker returns a manually driven ticker.
func (m *Mock) NewTicker(time.Duration) Ticker {
	t := &mockTicker{ch: make(chan time.Time, 1)}
	m.mu.Lock()
	m.tickers = append(m.tickers, t)
	m.mu.Unlock()
	return t
}

// Tick fires every ticker that has not been stopped.
func (m *Mock) Tick() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tickers {
		t.fire(m.T)
	}
}

// Active reports how many tickers are still running.
func (m *Mock) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tickers {
		if !t.isStopped() {
			n++
		}
	}
	return n
}

type mockTicker struct {
	mu      sync.Mutex
	ch      chan time.Time
	stopped bool
}

func (t *mockTicker) C() <-chan time.Time { return t.ch }

func (t *mockTicker) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

func (t *mockTicker) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

func (t *mockTicker) fire(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	select {
	case t.ch <- now:
	default:
	}
}
