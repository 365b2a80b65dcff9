package clock

import (
	"testing"
	"time"
)

func TestFakeFiresInDeadlineOrder(t *testing.T) {
	c := NewFake(time.Date(2026, time.October, 1, 12, 0, 0, 0, time.UTC))

	var order []string
	c.AfterFunc(2*time.Second, func() { order = append(order, "b") })
	c.AfterFunc(1*time.Second, func() { order = append(order, "a") })
	stopped := c.AfterFunc(1500*time.Millisecond, func() { order = append(order, "x") })
	if !stopped.Stop() {
		t.Fatal("expected stop to succeed")
	}

	c.Advance(3 * time.Second)

	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("order = %v, want [a b]", order)
	}
	if c.Pending() != 0 {
		t.Fatalf("pending = %d, want 0", c.Pending())
	}
}

func TestFakeRunsTimersArmedByCallbacks(t *testing.T) {
	start := time.Date(2026, time.October, 1, 12, 0, 0, 0, time.UTC)
	c := NewFake(start)

	var firedAt []time.Time
	c.AfterFunc(time.Second, func() {
		firedAt = append(firedAt, c.Now())
		c.AfterFunc(time.Second, func() { firedAt = append(firedAt, c.Now()) })
	})

	c.Advance(5 * time.Second)

	if len(firedAt) != 2 {
		t.Fatalf("fired %d times, want 2", len(firedAt))
	}
	if !firedAt[1].Equal(start.Add(2 * time.Second)) {
		t.Fatalf("second fire at %v, want %v", firedAt[1], start.Add(2*time.Second))
	}
	if !c.Now().Equal(start.Add(5 * time.Second)) {
		t.Fatalf("now = %v, want %v", c.Now(), start.Add(5*time.Second))
	}
}
