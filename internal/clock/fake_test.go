package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func TestFakeNowAndAdvance(t *testing.T) {
	c := NewFake(epoch)

	if got := c.Now(); !got.Equal(epoch) {
		t.Fatalf("Now() = %v, want %v", got, epoch)
	}

	c.Advance(90 * time.Second)

	if got := c.Now(); !got.Equal(epoch.Add(90 * time.Second)) {
		t.Errorf("Now() after Advance = %v", got)
	}
}

func TestFakeAfterFuncFiresOnce(t *testing.T) {
	c := NewFake(epoch)
	calls := 0
	c.AfterFunc(time.Second, func() { calls++ })

	c.Advance(999 * time.Millisecond)
	if calls != 0 {
		t.Fatalf("callback fired early")
	}

	c.Advance(time.Millisecond)
	c.Advance(time.Hour)
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if c.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", c.Pending())
	}
}

func TestFakeAfterFuncStop(t *testing.T) {
	c := NewFake(epoch)
	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })

	if !timer.Stop() {
		t.Fatal("Stop() = false for a pending timer")
	}
	if timer.Stop() {
		t.Error("second Stop() = true")
	}

	c.Advance(time.Minute)
	if fired {
		t.Error("stopped timer fired")
	}
}

func TestFakeAfterFuncSeesDeadlineTime(t *testing.T) {
	c := NewFake(epoch)
	var seen time.Time
	c.AfterFunc(500*time.Millisecond, func() { seen = c.Now() })

	c.Advance(10 * time.Second)

	if !seen.Equal(epoch.Add(500 * time.Millisecond)) {
		t.Errorf("callback saw %v, want deadline time", seen)
	}
}

func TestFakeTicker(t *testing.T) {
	c := NewFake(epoch)
	ticker := c.NewTicker(time.Minute)
	defer ticker.Stop()

	c.Advance(time.Minute)
	select {
	case <-ticker.C:
	default:
		t.Fatal("expected a tick after one interval")
	}

	// Three intervals but a buffer of one: only one tick is queued.
	c.Advance(3 * time.Minute)
	select {
	case <-ticker.C:
	default:
		t.Fatal("expected a tick")
	}
	select {
	case <-ticker.C:
		t.Fatal("ticks should be dropped when the buffer is full")
	default:
	}
}

func TestFakeTimersFireInDeadlineOrder(t *testing.T) {
	c := NewFake(epoch)
	var order []int
	c.AfterFunc(3*time.Second, func() { order = append(order, 3) })
	c.AfterFunc(1*time.Second, func() { order = append(order, 1) })
	c.AfterFunc(2*time.Second, func() { order = append(order, 2) })

	c.Advance(5 * time.Second)

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("order = %v, want [1 2 3]", order)
	}
}
