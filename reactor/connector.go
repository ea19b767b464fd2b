//go:build linux

package reactor

import (
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sys/unix"
)

type connectorState int32

const (
	connectorDisconnected connectorState = iota
	connectorConnecting
	connectorConnected
)

// connectResult classifies a non-blocking connect(2)'s errno, matching the
// three-way split in connector.cpp's handle_error/retry logic.
type connectResult int

const (
	connectProceed connectResult = iota // EINPROGRESS/EINTR/EISCONN: wait for writability
	connectRetry                        // transient: back off and try again
	connectFatal                        // programmer/environment error: give up
)

func classifyConnectErrno(errno unix.Errno) connectResult {
	switch errno {
	case 0, unix.EINPROGRESS, unix.EINTR, unix.EISCONN:
		return connectProceed
	case unix.EAGAIN, unix.EADDRINUSE, unix.EADDRNOTAVAIL, unix.ECONNREFUSED, unix.ENETUNREACH, unix.ETIMEDOUT:
		return connectRetry
	default:
		return connectFatal
	}
}

// Connector drives an active (outbound) connection attempt with exponential
// backoff retry, the Go analogue of Asuka::Net::Connector. It does not own
// the resulting TcpConnection; TcpClient does.
type Connector struct {
	loop   *EventLoop
	peer   Endpoint
	wantConnect atomic.Bool
	state  atomic.Int32

	channel *Channel
	retryTimer *TimerId
	hasRetryTimer bool
	backoff backoff.BackOff

	newConnectionCallback func(fd int)
}

// NewConnector builds a Connector targeting peer. Call Start to begin
// connecting.
func NewConnector(loop *EventLoop, peer Endpoint) *Connector {
	c := &Connector{loop: loop, peer: peer}
	c.state.Store(int32(connectorDisconnected))
	c.backoff = newConnectorBackoff()
	return c
}

// newConnectorBackoff matches the spec's 500ms-to-30s doubling retry
// schedule with jitter disabled, so test timing is deterministic.
func newConnectorBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0 // retry forever; TcpClient.Stop cancels via Connector.Stop
	return b
}

// SetNewConnectionCallback installs the callback invoked with a connected fd.
func (c *Connector) SetNewConnectionCallback(cb func(fd int)) { c.newConnectionCallback = cb }

// Start begins (or resumes) connecting. Safe to call from any goroutine.
func (c *Connector) Start() {
	c.wantConnect.Store(true)
	c.loop.QueueInLoop(c.startInLoop)
}

func (c *Connector) startInLoop() {
	c.loop.assertInLoopThread()
	if !c.wantConnect.Load() {
		return
	}
	c.connect()
}

// Restart resets backoff state and reconnects immediately. Must run on the
// loop's goroutine (TcpClient invokes it from a close callback already
// running there).
func (c *Connector) Restart() {
	c.loop.assertInLoopThread()
	c.state.Store(int32(connectorDisconnected))
	c.backoff = newConnectorBackoff()
	c.wantConnect.Store(true)
	c.startInLoop()
}

// Stop halts retrying. Safe to call from any goroutine.
func (c *Connector) Stop() {
	c.wantConnect.Store(false)
	c.loop.QueueInLoop(func() {
		c.loop.assertInLoopThread()
		if connectorState(c.state.Load()) == connectorConnecting {
			c.state.Store(int32(connectorDisconnected))
			sockfd := c.removeAndResetChannel()
			c.closeSocket(sockfd)
		}
	})
}

func (c *Connector) connect() {
	family := unix.AF_INET
	if c.peer.IsIPv6() {
		family = unix.AF_INET6
	}
	sock := newNonblockSocket(family)
	err := sock.Connect(c.peer)
	errno := errnoOf(err)
	if err == nil {
		errno = 0
	}

	switch classifyConnectErrno(errno) {
	case connectProceed:
		c.state.Store(int32(connectorConnecting))
		c.connecting(sock.FD())
	case connectRetry:
		sock.Close()
		obsWarnf("connect to %s failed: %v, retrying", c.peer, err)
		c.scheduleRetry()
	default:
		sock.Close()
		obsFatalf("connect to %s failed fatally: %v", c.peer, err)
	}
}

func (c *Connector) connecting(sockfd int) {
	c.channel = newChannel(c.loop, sockfd)
	c.channel.SetWriteCallback(c.handleWrite)
	c.channel.SetErrorCallback(c.handleError)
	c.channel.EnableWrite()
}

func (c *Connector) handleWrite() {
	if connectorState(c.state.Load()) != connectorConnecting {
		return
	}
	sockfd := c.removeAndResetChannel()
	errno := unix.Errno(socketError(sockfd))

	if errno != 0 {
		obsWarnf("connector SO_ERROR %v on retry", errno)
		c.closeSocket(sockfd)
		c.scheduleRetry()
		return
	}
	if selfConnect(sockfd) {
		obsWarn("connector detected self-connect, retrying")
		c.closeSocket(sockfd)
		c.scheduleRetry()
		return
	}

	c.state.Store(int32(connectorConnected))
	if c.wantConnect.Load() && c.newConnectionCallback != nil {
		c.newConnectionCallback(sockfd)
	} else {
		unix.Close(sockfd)
	}
}

func (c *Connector) handleError() {
	if connectorState(c.state.Load()) != connectorConnecting {
		return
	}
	sockfd := c.removeAndResetChannel()
	errno := unix.Errno(socketError(sockfd))
	obsWarnf("connector SO_ERROR %v", errno)
	c.closeSocket(sockfd)
	c.scheduleRetry()
}

func (c *Connector) removeAndResetChannel() int {
	c.channel.DisableAll()
	c.channel.Remove()
	fd := c.channel.FD()
	// fd itself is closed by the caller once any pending callback finishes;
	// deferring the Channel's own teardown to QueueInLoop avoids destroying
	// it while HandleEvent is still unwinding its dispatch, matching
	// Connector::reset_channel's loop->queue_in_loop.
	c.loop.QueueInLoop(func() { c.channel = nil })
	return fd
}

func (c *Connector) closeSocket(fd int) { unix.Close(fd) }

func (c *Connector) scheduleRetry() {
	c.state.Store(int32(connectorDisconnected))
	if !c.wantConnect.Load() {
		return
	}
	d := c.backoff.NextBackOff()
	obsInfof("connector retrying %s in %s", c.peer, d)
	c.loop.RunAfter(d, func() {
		if c.wantConnect.Load() {
			c.startInLoop()
		}
	})
}

func selfConnect(sockfd int) bool {
	local, err1 := unix.Getsockname(sockfd)
	peer, err2 := unix.Getpeername(sockfd)
	if err1 != nil || err2 != nil {
		return false
	}
	return sockaddrEqual(local, peer)
}

func sockaddrEqual(a, b unix.Sockaddr) bool {
	switch av := a.(type) {
	case *unix.SockaddrInet4:
		bv, ok := b.(*unix.SockaddrInet4)
		return ok && av.Addr == bv.Addr && av.Port == bv.Port
	case *unix.SockaddrInet6:
		bv, ok := b.(*unix.SockaddrInet6)
		return ok && av.Addr == bv.Addr && av.Port == bv.Port
	default:
		return false
	}
}
