//go:build linux

package reactor

import (
	"time"

	"golang.org/x/sys/unix"
)

// Tri-state channel index, matching epoller.cpp's kNew/kAdded/kDeleted.
const (
	channelStateNew = iota
	channelStateAdded
	channelStateDeleted
)

const initialEventListSize = 32

// epollPoller wraps one epoll instance. channels maps every fd the poller
// knows about (including deleted-but-not-forgotten ones) to its Channel;
// the event list doubles in size whenever epoll_wait fills it completely,
// matching epoller.cpp's growth policy.
type epollPoller struct {
	loop     *EventLoop
	epollFD  int
	events   []unix.EpollEvent
	channels map[int]*Channel
}

func newEpollPoller(loop *EventLoop) *epollPoller {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		obsSysFatal("epoll_create1", err)
	}
	return &epollPoller{
		loop:     loop,
		epollFD:  fd,
		events:   make([]unix.EpollEvent, initialEventListSize),
		channels: make(map[int]*Channel),
	}
}

func (p *epollPoller) Poll(timeout time.Duration, active *[]*Channel) time.Time {
	obsTracef("epoll: total fd count = %d", len(p.channels))
	n, err := unix.EpollWait(p.epollFD, p.events, int(timeout.Milliseconds()))
	now := time.Now()
	switch {
	case n > 0:
		obsTracef("epoll: %d events happened", n)
		p.fillActiveChannels(n, active)
		if n == len(p.events) {
			p.events = make([]unix.EpollEvent, len(p.events)*2)
		}
	case n == 0:
		obsTrace("epoll: nothing happened")
	default:
		if err != unix.EINTR {
			obsSysError("epoll_wait", err)
		}
	}
	return now
}

func (p *epollPoller) fillActiveChannels(numEvents int, active *[]*Channel) {
	for i := 0; i < numEvents; i++ {
		ev := &p.events[i]
		ch, ok := p.channels[int(ev.Fd)]
		if !ok {
			continue
		}
		ch.SetRevents(int(ev.Events))
		*active = append(*active, ch)
	}
}

func (p *epollPoller) UpdateChannel(ch *Channel) {
	state := ch.Index()
	obsTracef("epoll: fd = %d events = %d state = %d", ch.FD(), ch.Events(), state)

	switch state {
	case channelStateAdded:
		if ch.IsNoneEvent() {
			p.ctl(unix.EPOLL_CTL_DEL, ch)
			ch.SetIndex(channelStateDeleted)
		} else {
			p.ctl(unix.EPOLL_CTL_MOD, ch)
		}
	default: // channelStateNew, channelStateDeleted, or Channel's unset -1 default
		if _, alreadyKnown := p.channels[ch.FD()]; !alreadyKnown {
			p.channels[ch.FD()] = ch
		}
		ch.SetIndex(channelStateAdded)
		p.ctl(unix.EPOLL_CTL_ADD, ch)
	}
}

func (p *epollPoller) RemoveChannel(ch *Channel) {
	obsTracef("epoll: remove fd = %d", ch.FD())
	if ch.Index() == channelStateAdded {
		p.ctl(unix.EPOLL_CTL_DEL, ch)
	}
	delete(p.channels, ch.FD())
	ch.SetIndex(channelStateNew)
}

func (p *epollPoller) HasChannel(ch *Channel) bool {
	found, ok := p.channels[ch.FD()]
	return ok && found == ch
}

func (p *epollPoller) Close() error { return unix.Close(p.epollFD) }

func (p *epollPoller) ctl(op int, ch *Channel) {
	ev := unix.EpollEvent{
		Events: uint32(ch.Events()),
		Fd:     int32(ch.FD()),
	}
	if err := unix.EpollCtl(p.epollFD, op, ch.FD(), &ev); err != nil {
		if op == unix.EPOLL_CTL_DEL {
			obsSysError("epoll_ctl del", err)
		} else {
			obsSysFatal("epoll_ctl", err)
		}
	}
}
