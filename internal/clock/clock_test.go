package clock_test

import (
	"testing"
	"time"

	"github.com/jensholdgaard/sealedbid/internal/clock"
)

func TestReal_Now(t *testing.T) {
	clk := clock.Real{}
	before := time.Now()
	got := clk.Now()
	after := time.Now()

	if got.Before(before) || got.After(after) {
		t.Errorf("Real.Now() = %v, expected between %v and %v", got, before, after)
	}
}

func TestReal_NewTicker(t *testing.T) {
	tk := clock.Real{}.NewTicker(time.Millisecond)
	defer tk.Stop()

	select {
	case <-tk.C():
	case <-time.After(time.Second):
		t.Fatal("real ticker did not fire within 1s")
	}
}

func TestMock_Now(t *testing.T) {
	fixed := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	clk := &clock.Mock{T: fixed}

	if got := clk.Now(); !got.Equal(fixed) {
		t.Errorf("Mock.Now() = %v, want %v", got, fixed)
	}
}

func TestMock_Ticker(t *testing.T) {
	clk := &clock.Mock{T: time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)}
	tk := clk.NewTicker(15 * time.Second)

	select {
	case <-tk.C():
		t.Fatal("mock ticker fired before Tick")
	default:
	}

	clk.Tick()
	select {
	case <-tk.C():
	default:
		t.Fatal("mock ticker did not fire after Tick")
	}

	if got := clk.Active(); got != 1 {
		t.Errorf("Active() = %d, want 1", got)
	}
	tk.Stop()
	if got := clk.Active(); got != 0 {
		t.Errorf("Active() after Stop = %d, want 0", got)
	}

	clk.Tick()
	select {
	case <-tk.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}
