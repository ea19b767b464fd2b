//go:build linux

package reactor

import (
	"sync/atomic"
	"testing"
	"time"
)

// startTestLoop builds an EventLoop on a fresh goroutine (construction and
// Loop() must share a goroutine, per the one-loop-per-thread invariant) and
// returns it plus a stop func that quits the loop and waits for Loop to
// return.
func startTestLoop(t *testing.T, useEpoll bool) (*EventLoop, func()) {
	t.Helper()
	ready := make(chan *EventLoop, 1)
	done := make(chan struct{})
	go func() {
		loop := NewEventLoop(useEpoll)
		ready <- loop
		loop.Loop()
		loop.Close()
		close(done)
	}()
	loop := <-ready
	return loop, func() {
		loop.Quit()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("EventLoop did not stop within 5s")
		}
	}
}

func TestEventLoopRunInLoopFromOutside(t *testing.T) {
	loop, stop := startTestLoop(t, false)
	defer stop()

	var ran atomic.Bool
	done := make(chan struct{})
	loop.QueueInLoop(func() {
		ran.Store(true)
		close(done)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("queued functor never ran")
	}
	if !ran.Load() {
		t.Fatal("functor did not run")
	}
}

func TestEventLoopRunAfterFiresAndQuits(t *testing.T) {
	loop, stop := startTestLoop(t, false)
	defer stop()

	fired := make(chan time.Time, 1)
	start := time.Now()
	loop.RunAfter(20*time.Millisecond, func() {
		fired <- time.Now()
		loop.Quit()
	})

	select {
	case at := <-fired:
		if d := at.Sub(start); d < 15*time.Millisecond {
			t.Errorf("timer fired too early: %v", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RunAfter callback never fired")
	}
}

func TestEventLoopRunEveryRepeats(t *testing.T) {
	loop, stop := startTestLoop(t, false)
	defer stop()

	var count atomic.Int32
	doneCh := make(chan struct{})
	var id TimerId
	id = loop.RunEvery(10*time.Millisecond, func() {
		if count.Add(1) >= 3 {
			loop.CancelTimer(id)
			close(doneCh)
		}
	})

	select {
	case <-doneCh:
	case <-time.After(2 * time.Second):
		t.Fatalf("only %d repetitions observed", count.Load())
	}
}

func TestEventLoopCancelTimerPreventsFire(t *testing.T) {
	loop, stop := startTestLoop(t, false)
	defer stop()

	fired := make(chan struct{}, 1)
	id := loop.RunAfter(30*time.Millisecond, func() { fired <- struct{}{} })
	loop.RunInLoop(func() { loop.CancelTimer(id) })

	select {
	case <-fired:
		t.Fatal("canceled timer fired anyway")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEventLoopEpollBackend(t *testing.T) {
	loop, stop := startTestLoop(t, true)
	defer stop()

	done := make(chan struct{})
	loop.QueueInLoop(func() { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("epoll-backed loop never ran queued functor")
	}
}
