//go:build linux

package reactor

import (
	"time"

	"golang.org/x/sys/unix"
)

// pollPoller maintains a dense vector of pollfd plus an fd -> Channel map,
// the Go analogue of Poller/PollerBase in poller.cpp. A channel with empty
// interest keeps its slot but is marked fd = -(fd+1) so the kernel ignores
// it without disturbing other channels' indices; removal swaps with the
// last element and repairs the moved channel's index.
type pollPoller struct {
	loop     *EventLoop
	pollfds  []unix.PollFd
	channels map[int]*Channel
}

func newPollPoller(loop *EventLoop) *pollPoller {
	return &pollPoller{loop: loop, channels: make(map[int]*Channel)}
}

func (p *pollPoller) Poll(timeout time.Duration, active *[]*Channel) time.Time {
	obsTracef("poll: total fd count = %d", len(p.pollfds))
	n, err := unix.Poll(p.pollfds, int(timeout.Milliseconds()))
	now := time.Now()
	switch {
	case n > 0:
		obsTracef("poll: %d events happened", n)
		p.fillActiveChannels(n, active)
	case n == 0:
		obsTrace("poll: nothing happened")
	default:
		if err != unix.EINTR {
			obsSysError("poll", err)
		}
	}
	return now
}

func (p *pollPoller) fillActiveChannels(numEvents int, active *[]*Channel) {
	found := 0
	for i := range p.pollfds {
		if found >= numEvents {
			break
		}
		pfd := &p.pollfds[i]
		if pfd.Revents == 0 {
			continue
		}
		found++
		fd := int(pfd.Fd)
		if fd < 0 {
			fd = -fd - 1
		}
		ch, ok := p.channels[fd]
		if !ok {
			continue
		}
		ch.SetRevents(int(pfd.Revents))
		*active = append(*active, ch)
	}
}

func (p *pollPoller) UpdateChannel(ch *Channel) {
	obsTracef("poll: fd = %d events = %d index = %d", ch.FD(), ch.Events(), ch.Index())
	if ch.Index() < 0 {
		// A new channel: append to the dense vector.
		idx := len(p.pollfds)
		p.pollfds = append(p.pollfds, unix.PollFd{Fd: int32(ch.FD()), Events: int16(ch.Events())})
		ch.SetIndex(idx)
		p.channels[ch.FD()] = ch
		return
	}
	// An existing channel: update in place, or disable its slot.
	idx := ch.Index()
	pfd := &p.pollfds[idx]
	pfd.Fd = int32(ch.FD())
	pfd.Events = int16(ch.Events())
	pfd.Revents = 0
	if ch.IsNoneEvent() {
		pfd.Fd = int32(-ch.FD() - 1)
	}
}

func (p *pollPoller) RemoveChannel(ch *Channel) {
	obsTracef("poll: remove fd = %d", ch.FD())
	idx := ch.Index()
	last := len(p.pollfds) - 1
	if idx != last {
		movedFD := p.pollfds[last].Fd
		if movedFD < 0 {
			movedFD = -movedFD - 1
		}
		p.pollfds[idx] = p.pollfds[last]
		if moved, ok := p.channels[int(movedFD)]; ok {
			moved.SetIndex(idx)
		}
	}
	p.pollfds = p.pollfds[:last]
	delete(p.channels, ch.FD())
	ch.SetIndex(-1)
}

func (p *pollPoller) HasChannel(ch *Channel) bool {
	found, ok := p.channels[ch.FD()]
	return ok && found == ch
}

func (p *pollPoller) Close() error { return nil }
