//go:build linux

package reactor

import (
	"fmt"

	"golang.org/x/sync/errgroup"
)

// EventLoopThreadPool fans I/O out across numThreads additional
// EventLoopThreads, handing each new connection to one via round robin or
// a caller-supplied hash. This is the Go analogue of
// Asuka::Net::EventLoopThreadPool. With numThreads == 0 the pool degrades
// to the base loop doing everything itself, matching the single-threaded
// configuration in the original.
type EventLoopThreadPool struct {
	baseLoop *EventLoop
	name     string
	useEpoll bool

	started bool
	threads []*EventLoopThread
	loops   []*EventLoop
	next    int
}

// NewEventLoopThreadPool constructs a pool bound to baseLoop; name is used
// only for diagnostics.
func NewEventLoopThreadPool(baseLoop *EventLoop, name string, useEpoll bool) *EventLoopThreadPool {
	return &EventLoopThreadPool{baseLoop: baseLoop, name: name, useEpoll: useEpoll}
}

// Start spins up numThreads EventLoopThreads concurrently via errgroup,
// running initCb on each loop's own goroutine once it is ready, and blocks
// until every thread has reported its loop live.
func (p *EventLoopThreadPool) Start(numThreads int, initCb ThreadInitCallback) error {
	p.baseLoop.assertInLoopThread()
	if p.started {
		return fmt.Errorf("reactor: EventLoopThreadPool %q already started", p.name)
	}
	p.started = true

	p.threads = make([]*EventLoopThread, numThreads)
	p.loops = make([]*EventLoop, numThreads)

	var g errgroup.Group
	for i := 0; i < numThreads; i++ {
		i := i
		t := NewEventLoopThread(p.useEpoll, initCb)
		p.threads[i] = t
		g.Go(func() error {
			p.loops[i] = t.StartLoop()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if numThreads == 0 && initCb != nil {
		initCb(p.baseLoop)
	}
	return nil
}

// GetNextLoop returns the base loop if the pool has no worker threads,
// otherwise the next worker loop in round-robin order.
func (p *EventLoopThreadPool) GetNextLoop() *EventLoop {
	p.baseLoop.assertInLoopThread()
	if len(p.loops) == 0 {
		return p.baseLoop
	}
	loop := p.loops[p.next]
	p.next = (p.next + 1) % len(p.loops)
	return loop
}

// GetLoopForHash deterministically maps hashKey to a worker loop (or the
// base loop if there are none), used when a caller needs a stable
// fd-to-loop assignment instead of round robin.
func (p *EventLoopThreadPool) GetLoopForHash(hashKey int) *EventLoop {
	p.baseLoop.assertInLoopThread()
	if len(p.loops) == 0 {
		return p.baseLoop
	}
	idx := hashKey % len(p.loops)
	if idx < 0 {
		idx += len(p.loops)
	}
	return p.loops[idx]
}

// GetAllLoops returns every worker loop (excluding the base loop), or just
// the base loop when the pool has no workers, used by callers that need to
// fan a task out to all of them.
func (p *EventLoopThreadPool) GetAllLoops() []*EventLoop {
	if len(p.loops) == 0 {
		return []*EventLoop{p.baseLoop}
	}
	return p.loops
}
