//go:build linux

package reactor

import (
	"fmt"
	"strings"
	"time"

	"github.com/vczn/asuka/internal/obs"
	"golang.org/x/sys/unix"
)

// Readiness/interest bitmasks. Values match the POLL*/EPOLL* constants,
// which are required to agree on Linux (epoller.cpp static_asserts this);
// using the unix.POLL* constants directly keeps the poll and epoll back
// ends speaking the same bit language, per §4.D.
const (
	eventNone  = 0
	eventRead  = unix.POLLIN | unix.POLLPRI
	eventWrite = unix.POLLOUT
)

// weakOwner is the minimal interface a Channel's owner must provide so the
// loop can upgrade a weak tie to a strong reference for the duration of one
// dispatch. Go has no native weak pointers with a shared_ptr-style upgrade,
// so the tie is modeled as a func returning alive — false once the owner
// has torn itself down.
type weakOwner func() (alive bool)

// Channel binds one descriptor to its interest mask and per-event
// callbacks on exactly one EventLoop. It does not own fd. This is the Go
// analogue of Asuka::Net::Channel.
type Channel struct {
	loop   *EventLoop
	fd     int
	events int
	revents int
	index  int // demultiplexer back-end bookkeeping; meaning is back-end specific

	tie      weakOwner
	tied     bool
	eventing bool
	addedInLoop bool
	logHup   bool

	readCallback  ReadEventCallback
	writeCallback EventCallback
	closeCallback EventCallback
	errorCallback EventCallback
}

// newChannel constructs a Channel for fd on loop. index starts at -1, which
// both demultiplexer back ends treat as "not yet registered"; they
// normalize it on first update.
func newChannel(loop *EventLoop, fd int) *Channel {
	return &Channel{loop: loop, fd: fd, index: -1, logHup: true}
}

// FD returns the bound descriptor.
func (c *Channel) FD() int { return c.fd }

// Events returns the current interest mask.
func (c *Channel) Events() int { return c.events }

// SetRevents records the readiness mask the demultiplexer observed; called
// only by poller back ends.
func (c *Channel) SetRevents(revents int) { c.revents = revents }

// Index/SetIndex are demultiplexer bookkeeping slots (poll: dense-vector
// slot; epoll: New/Added/Deleted tri-state).
func (c *Channel) Index() int        { return c.index }
func (c *Channel) SetIndex(idx int)   { c.index = idx }

// OwnerLoop returns the loop this channel is bound to.
func (c *Channel) OwnerLoop() *EventLoop { return c.loop }

// IsNoneEvent reports whether the interest mask is empty.
func (c *Channel) IsNoneEvent() bool { return c.events == eventNone }

// IsReading reports read interest.
func (c *Channel) IsReading() bool { return c.events&eventRead != 0 }

// IsWriting reports write interest.
func (c *Channel) IsWriting() bool { return c.events&eventWrite != 0 }

// EnableRead/DisableRead/EnableWrite/DisableWrite/DisableAll mutate
// interest and push the change to the demultiplexer via update().
func (c *Channel) EnableRead() {
	c.events |= eventRead
	c.update()
}

func (c *Channel) DisableRead() {
	c.events &^= eventRead
	c.update()
}

func (c *Channel) EnableWrite() {
	c.events |= eventWrite
	c.update()
}

func (c *Channel) DisableWrite() {
	c.events &^= eventWrite
	c.update()
}

func (c *Channel) DisableAll() {
	c.events = eventNone
	c.update()
}

// SetReadCallback/SetWriteCallback/SetCloseCallback/SetErrorCallback
// install per-event callbacks.
func (c *Channel) SetReadCallback(cb ReadEventCallback)   { c.readCallback = cb }
func (c *Channel) SetWriteCallback(cb EventCallback)      { c.writeCallback = cb }
func (c *Channel) SetCloseCallback(cb EventCallback)      { c.closeCallback = cb }
func (c *Channel) SetErrorCallback(cb EventCallback)      { c.errorCallback = cb }

// SetNotLogHup suppresses the one-time WARN log on an unexpected HUP,
// used by Channels whose owner already logs close events itself.
func (c *Channel) SetNotLogHup() { c.logHup = false }

// Tie ties the channel's dispatch lifetime to owner: before invoking any
// callback, handleEvent checks owner() and skips the event if it reports
// the owner is no longer alive. This is the Go shape of the original's
// weak_ptr<void> tie — there is no pointer to upgrade, just a liveness
// check closed over the real owner.
func (c *Channel) Tie(owner weakOwner) {
	c.tie = owner
	c.tied = true
}

// update forwards the new interest mask to the owning loop's
// demultiplexer. Must run on the owning loop's thread (enforced by
// EventLoop.UpdateChannel).
func (c *Channel) update() {
	c.addedInLoop = true
	c.loop.UpdateChannel(c)
}

// Remove detaches the channel from its loop's demultiplexer. The channel
// must have no interest first; Remove does not close fd.
func (c *Channel) Remove() {
	if !c.IsNoneEvent() {
		obsFatalf("reactor: Channel.Remove called with non-empty interest (fd=%d)", c.fd)
	}
	c.addedInLoop = false
	c.loop.RemoveChannel(c)
}

// HandleEvent dispatches the readiness mask most recently recorded via
// SetRevents, applying the fixed order from §4.E: HUP, NVAL, ERR/NVAL,
// IN/PRI/RDHUP, OUT.
func (c *Channel) HandleEvent(receivedAt time.Time) {
	if c.tied {
		if !c.tie() {
			return
		}
	}
	c.handleEventGuarded(receivedAt)
}

func (c *Channel) handleEventGuarded(receivedAt time.Time) {
	c.eventing = true
	defer func() { c.eventing = false }()

	obsTrace(c.reventsString())

	if c.revents&unix.POLLHUP != 0 && c.revents&unix.POLLIN == 0 {
		if c.logHup {
			obsWarnf("fd = %d channel handle POLLHUP", c.fd)
		}
		if c.closeCallback != nil {
			c.closeCallback()
		}
	}

	if c.revents&unix.POLLNVAL != 0 {
		obsWarnf("fd = %d channel handle POLLNVAL", c.fd)
	}

	if c.revents&(unix.POLLERR|unix.POLLNVAL) != 0 {
		if c.errorCallback != nil {
			c.errorCallback()
		}
	}

	if c.revents&(eventRead|unix.POLLRDHUP) != 0 {
		if c.readCallback != nil {
			c.readCallback(receivedAt)
		}
	}

	if c.revents&eventWrite != 0 {
		if c.writeCallback != nil {
			c.writeCallback()
		}
	}
}

func (c *Channel) reventsString() string { return eventsToString(c.fd, c.revents) }
func (c *Channel) eventsString() string  { return eventsToString(c.fd, c.events) }

func eventsToString(fd, events int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d: ", fd)
	if events&unix.POLLIN != 0 {
		b.WriteString("IN ")
	}
	if events&unix.POLLPRI != 0 {
		b.WriteString("PRI ")
	}
	if events&unix.POLLOUT != 0 {
		b.WriteString("OUT ")
	}
	if events&unix.POLLHUP != 0 {
		b.WriteString("HUP ")
	}
	if events&unix.POLLRDHUP != 0 {
		b.WriteString("RDHUP ")
	}
	if events&unix.POLLERR != 0 {
		b.WriteString("ERR ")
	}
	if events&unix.POLLNVAL != 0 {
		b.WriteString("NVAL ")
	}
	return b.String()
}

// obsFatalf logs at FATAL and terminates the process, same as obsSysFatal,
// so every fatal path in this package agrees on what "fatal" means.
func obsFatalf(format string, args ...any) {
	obs.Fatalf(format, args...)
}
