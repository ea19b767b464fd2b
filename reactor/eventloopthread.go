//go:build linux

package reactor

import (
	"runtime"
	"sync"
)

// ThreadInitCallback runs once on an EventLoopThread's goroutine just
// before its loop starts looping, e.g. to attach per-thread diagnostics.
type ThreadInitCallback func(loop *EventLoop)

// EventLoopThread owns exactly one OS-thread-pinned goroutine running
// exactly one EventLoop, the Go analogue of Asuka::Net::EventLoopThread.
// LockOSThread keeps the loop's goroutine-to-thread binding stable for the
// lifetime of the loop, matching the original's dedicated std::thread.
type EventLoopThread struct {
	initCallback ThreadInitCallback
	useEpoll     bool

	mu      sync.Mutex
	cond    *sync.Cond
	loop    *EventLoop
	started bool
}

// NewEventLoopThread constructs a thread that has not yet been started.
func NewEventLoopThread(useEpoll bool, initCb ThreadInitCallback) *EventLoopThread {
	t := &EventLoopThread{initCallback: initCb, useEpoll: useEpoll}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// StartLoop spawns the thread's goroutine and blocks until its EventLoop
// has been constructed, returning it for cross-thread scheduling.
func (t *EventLoopThread) StartLoop() *EventLoop {
	go t.run()

	t.mu.Lock()
	for t.loop == nil {
		t.cond.Wait()
	}
	loop := t.loop
	t.mu.Unlock()
	return loop
}

func (t *EventLoopThread) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	loop := NewEventLoop(t.useEpoll)

	t.mu.Lock()
	t.loop = loop
	t.started = true
	t.cond.Signal()
	t.mu.Unlock()

	if t.initCallback != nil {
		t.initCallback(loop)
	}
	loop.Loop()
	loop.Close()
}
