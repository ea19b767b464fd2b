//go:build linux

package reactor

import (
	"os/signal"
	"runtime/debug"
	"strconv"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

func init() {
	// Ignore SIGPIPE process-wide: a peer resetting the connection mid-write
	// must surface as an EPIPE return from Write, never as process death,
	// matching IgnoreSigPipe in the original's InitEnv.
	signal.Ignore(syscall.SIGPIPE)
}

const pollTimeout = 10 * time.Second

var (
	loopRegistryMu sync.Mutex
	loopRegistry   = make(map[int64]*EventLoop)
)

// curGoroutineID extracts the calling goroutine's numeric id by parsing the
// leading "goroutine N [...]" line of a stack trace. Go has no public
// pthread_self analogue; this is the pragmatic stand-in used only to
// enforce the one-loop-per-thread invariant below, never for scheduling.
func curGoroutineID() int64 {
	var buf [64]byte
	n := runtimeStack(buf[:])
	b := buf[:n]
	// Expected prefix: "goroutine 123 [running]:"
	i := 10 // len("goroutine ")
	j := i
	for j < len(b) && b[j] >= '0' && b[j] <= '9' {
		j++
	}
	id, _ := strconv.ParseInt(string(b[i:j]), 10, 64)
	return id
}

func runtimeStack(buf []byte) int {
	return copy(buf, debug.Stack())
}

// EventLoop is a single-threaded reactor: it owns one demultiplexer, one
// timer queue, and a cross-thread task queue drained once per iteration.
// Exactly one EventLoop may be constructed per goroutine, matching
// Asuka::Net::EventLoop's one-loop-per-thread contract. All Channel and
// timer mutation must happen on the loop's own goroutine; RunInLoop and
// QueueInLoop are the only safe ways in from elsewhere.
type EventLoop struct {
	ownerGoroutine int64
	poller         Poller
	timerQueue     *TimerQueue

	wakeupFD      int
	wakeupChannel *Channel

	mu              sync.Mutex
	pendingFunctors []func()

	looping              bool
	quit                 bool
	eventHandling        bool
	callingPendingFuncs  bool
	iteration            int64
	activeChannels       []*Channel
	currentActiveChannel *Channel

	useEpoll bool
}

// NewEventLoop constructs an EventLoop bound to the calling goroutine. It
// must be Loop()'d from that same goroutine.
func NewEventLoop(useEpoll bool) *EventLoop {
	gid := curGoroutineID()

	loopRegistryMu.Lock()
	if existing := loopRegistry[gid]; existing != nil {
		loopRegistryMu.Unlock()
		obsFatalf("reactor: another EventLoop %p already exists in this goroutine", existing)
	}
	loopRegistryMu.Unlock()

	el := &EventLoop{ownerGoroutine: gid, useEpoll: useEpoll}
	el.poller = newPoller(el, useEpoll)
	el.timerQueue = newTimerQueue(el)

	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		obsSysFatal("eventfd", err)
	}
	el.wakeupFD = fd
	el.wakeupChannel = newChannel(el, fd)
	el.wakeupChannel.SetReadCallback(el.handleWakeupRead)
	el.wakeupChannel.EnableRead()

	loopRegistryMu.Lock()
	loopRegistry[gid] = el
	loopRegistryMu.Unlock()

	return el
}

// IsInLoopThread reports whether the calling goroutine owns this loop.
func (el *EventLoop) IsInLoopThread() bool { return curGoroutineID() == el.ownerGoroutine }

func (el *EventLoop) assertInLoopThread() {
	if !el.IsInLoopThread() {
		obsFatalf("reactor: EventLoop used from a goroutine that does not own it")
	}
}

// Loop runs the reactor until Quit is called. Must be invoked from the
// owning goroutine.
func (el *EventLoop) Loop() {
	el.assertInLoopThread()
	if el.looping {
		obsFatalf("reactor: EventLoop.Loop called re-entrantly")
	}
	el.looping = true
	el.quit = false
	obsTrace("EventLoop starting Loop")

	for !el.quit {
		el.activeChannels = el.activeChannels[:0]
		pollReturnTime := el.poller.Poll(pollTimeout, &el.activeChannels)
		el.iteration++

		el.eventHandling = true
		for _, ch := range el.activeChannels {
			el.currentActiveChannel = ch
			ch.HandleEvent(pollReturnTime)
		}
		el.currentActiveChannel = nil
		el.eventHandling = false

		el.doPendingFunctors()
	}

	obsTrace("EventLoop stopping Loop")
	el.looping = false
}

// Quit schedules the loop to stop after the current or next iteration.
// Safe to call from any goroutine.
func (el *EventLoop) Quit() {
	el.quit = true
	if !el.IsInLoopThread() {
		el.wakeup()
	}
}

// RunInLoop runs fn immediately if called from the loop's own goroutine,
// otherwise defers it via QueueInLoop.
func (el *EventLoop) RunInLoop(fn func()) {
	if el.IsInLoopThread() {
		fn()
	} else {
		el.QueueInLoop(fn)
	}
}

// QueueInLoop always defers fn to run on the loop's goroutine in the
// pending-functor phase that follows channel dispatch, waking the loop if
// necessary.
func (el *EventLoop) QueueInLoop(fn func()) {
	el.mu.Lock()
	el.pendingFunctors = append(el.pendingFunctors, fn)
	el.mu.Unlock()

	if !el.IsInLoopThread() || el.callingPendingFuncs {
		el.wakeup()
	}
}

// RunAt schedules cb to run once at when.
func (el *EventLoop) RunAt(when time.Time, cb TimerCallback) TimerId {
	return el.timerQueue.AddTimer(cb, when, 0)
}

// RunAfter schedules cb to run once after d elapses.
func (el *EventLoop) RunAfter(d time.Duration, cb TimerCallback) TimerId {
	return el.RunAt(time.Now().Add(d), cb)
}

// RunEvery schedules cb to run repeatedly every d, starting after d.
func (el *EventLoop) RunEvery(d time.Duration, cb TimerCallback) TimerId {
	return el.timerQueue.AddTimer(cb, time.Now().Add(d), d)
}

// CancelTimer cancels a previously scheduled timer.
func (el *EventLoop) CancelTimer(id TimerId) {
	el.timerQueue.Cancel(id)
}

// UpdateChannel/RemoveChannel/HasChannel forward to the demultiplexer;
// each asserts it is called on the owning goroutine.
func (el *EventLoop) UpdateChannel(ch *Channel) {
	el.assertInLoopThread()
	el.poller.UpdateChannel(ch)
}

func (el *EventLoop) RemoveChannel(ch *Channel) {
	el.assertInLoopThread()
	if el.eventHandling && el.currentActiveChannel != ch {
		for _, active := range el.activeChannels {
			if active == ch {
				obsFatalf("reactor: cannot remove a channel still pending dispatch in this iteration")
			}
		}
	}
	el.poller.RemoveChannel(ch)
}

func (el *EventLoop) HasChannel(ch *Channel) bool {
	el.assertInLoopThread()
	return el.poller.HasChannel(ch)
}

func (el *EventLoop) doPendingFunctors() {
	el.mu.Lock()
	functors := el.pendingFunctors
	el.pendingFunctors = nil
	el.mu.Unlock()

	el.callingPendingFuncs = true
	for _, fn := range functors {
		fn()
	}
	el.callingPendingFuncs = false
}

func (el *EventLoop) handleWakeupRead(time.Time) {
	var buf [8]byte
	if _, err := unix.Read(el.wakeupFD, buf[:]); err != nil && err != unix.EAGAIN {
		obsSysError("read eventfd", err)
	}
}

func (el *EventLoop) wakeup() {
	var one [8]byte
	one[7] = 1
	if _, err := unix.Write(el.wakeupFD, one[:]); err != nil {
		obsSysError("write eventfd", err)
	}
}

// Close tears down the loop's own descriptors. Must be called after Loop
// returns.
func (el *EventLoop) Close() error {
	loopRegistryMu.Lock()
	delete(loopRegistry, el.ownerGoroutine)
	loopRegistryMu.Unlock()

	el.wakeupChannel.DisableAll()
	el.wakeupChannel.Remove()
	_ = unix.Close(el.wakeupFD)
	_ = el.timerQueue.Close()
	return el.poller.Close()
}
