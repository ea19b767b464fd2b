//go:build linux

package reactor

import "time"

// Poller is the demultiplexer contract: it translates channel interest
// masks into kernel waits. The poll and epoll back ends are
// observationally equivalent for single-shot level-triggered interest, per
// §4.D.
type Poller interface {
	// Poll blocks up to timeout, filling active with channels whose
	// readiness is non-zero (each channel's revents is updated in place),
	// and returns the wall-clock timestamp sampled immediately after the
	// kernel wait returns. EINTR is swallowed silently.
	Poll(timeout time.Duration, active *[]*Channel) time.Time
	// UpdateChannel idempotently reconciles kernel interest for ch.
	UpdateChannel(ch *Channel)
	// RemoveChannel detaches ch, which must already have empty interest.
	RemoveChannel(ch *Channel)
	// HasChannel reports whether ch is currently registered.
	HasChannel(ch *Channel) bool
	// Close releases the demultiplexer's own descriptor(s).
	Close() error
}

// newPoller selects a back end per useEpoll, matching default_poller.cpp's
// environment-driven choice — here driven by Config.UseEpoll instead of an
// env var, per §6.
func newPoller(loop *EventLoop, useEpoll bool) Poller {
	if useEpoll {
		return newEpollPoller(loop)
	}
	return newPollPoller(loop)
}
