package loadtest_test

import (
	"testing"
	"time"

	"github.com/stampede-load/stampede/internal/loadtest"
)

func TestFakeClock_AdvanceFiresWaiters(t *testing.T) {
	clock := loadtest.NewFakeClock(time.Unix(0, 0))

	ch := clock.After(5 * time.Second)

	select {
	case <-ch:
		t.Fatal("After fired before Advance")
	default:
	}

	clock.Advance(4 * time.Second)
	select {
	case <-ch:
		t.Fatal("After fired before its deadline")
	default:
	}

	clock.Advance(1 * time.Second)
	select {
	case now := <-ch:
		if now != time.Unix(5, 0) {
			t.Errorf("fired at %v, want %v", now, time.Unix(5, 0))
		}
	case <-time.After(time.Second):
		t.Fatal("After did not fire once the deadline passed")
	}
}

func TestFakeClock_NonPositiveAfterFiresImmediately(t *testing.T) {
	clock := loadtest.NewFakeClock(time.Unix(0, 0))
	select {
	case <-clock.After(0):
	default:
		t.Fatal("After(0) did not fire immediately")
	}
}

func TestFakeClock_BlockUntil(t *testing.T) {
	clock := loadtest.NewFakeClock(time.Unix(0, 0))

	done := make(chan struct{})
	go func() {
		<-clock.After(time.Second)
		close(done)
	}()

	clock.BlockUntil(1)
	clock.Advance(time.Second)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waiter goroutine never woke")
	}
}
