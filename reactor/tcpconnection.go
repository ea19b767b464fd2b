//go:build linux

package reactor

import (
	"time"

	"github.com/Masterminds/semver/v3"
	"golang.org/x/sys/unix"
)

// HandshakeCallback fires once a peer's version greeting has been decoded,
// reporting whether it is compatible with ProtocolVersion.
type HandshakeCallback func(conn *TcpConnection, peerVersion *semver.Version, compatible bool)

type connState int32

const (
	stateConnecting connState = iota
	stateConnected
	stateDisconnecting
	stateDisconnected
)

// defaultHighWaterMark matches the original's 60 MiB default, the point at
// which a runaway producer gets pushed back via HighWaterMarkCallback
// instead of growing the output buffer without bound.
const defaultHighWaterMark = 60 * 1024 * 1024

// TcpConnection represents one established TCP connection, the Go analogue
// of Asuka::Net::TcpConnection. It is bound to exactly one EventLoop for
// its entire lifetime; Send/Shutdown/ForceClose are safe from any goroutine
// and marshal onto that loop.
type TcpConnection struct {
	loop  *EventLoop
	name  string
	state connState

	socket  Socket
	channel *Channel

	localAddr Endpoint
	peerAddr  Endpoint

	reading bool

	inputBuffer  *Buffer
	outputBuffer *Buffer

	highWaterMark int

	connectionCallback    ConnectionCallback
	messageCallback       MessageCallback
	writeCompleteCallback WriteCompleteCallback
	highWaterMarkCallback HighWaterMarkCallback
	closeCallback         CloseCallback

	handshakeEnabled  bool
	handshakePending  bool
	handshakeCallback HandshakeCallback

	ctx connectionContext
}

// NewTcpConnection wraps an already-connected sockfd. Acceptor and
// Connector both produce such fds; ConnectEstablished must be called once
// the owner (TcpServer/TcpClient) has finished wiring callbacks.
func NewTcpConnection(loop *EventLoop, name string, sockfd int, local, peer Endpoint) *TcpConnection {
	conn := &TcpConnection{
		loop:                  loop,
		name:                  name,
		state:                 stateConnecting,
		socket:                newSocketFromFD(sockfd),
		localAddr:             local,
		peerAddr:              peer,
		reading:               true,
		inputBuffer:           NewBuffer(0),
		outputBuffer:          NewBuffer(0),
		highWaterMark:         defaultHighWaterMark,
		connectionCallback:    defaultConnectionCallback,
		messageCallback:       defaultMessageCallback,
	}
	conn.channel = newChannel(loop, sockfd)
	conn.channel.SetReadCallback(conn.handleRead)
	conn.channel.SetWriteCallback(conn.handleWrite)
	conn.channel.SetCloseCallback(conn.handleClose)
	conn.channel.SetErrorCallback(conn.handleError)
	conn.socket.SetKeepAlive(true)
	return conn
}

// Name returns the connection's owner-assigned identifier.
func (conn *TcpConnection) Name() string { return conn.name }

// LocalAddress returns the local endpoint.
func (conn *TcpConnection) LocalAddress() Endpoint { return conn.localAddr }

// PeerAddress returns the remote endpoint.
func (conn *TcpConnection) PeerAddress() Endpoint { return conn.peerAddr }

// Connected reports whether the connection is in the Connected state.
func (conn *TcpConnection) Connected() bool { return conn.state == stateConnected }

// Disconnected reports whether the connection has fully torn down.
func (conn *TcpConnection) Disconnected() bool { return conn.state == stateDisconnected }

// OwnerLoop returns the EventLoop this connection is bound to.
func (conn *TcpConnection) OwnerLoop() *EventLoop { return conn.loop }

// SetConnectionCallback/SetMessageCallback/SetWriteCompleteCallback/
// SetHighWaterMarkCallback/SetCloseCallback install the connection's
// callbacks. Must be called before ConnectEstablished.
func (conn *TcpConnection) SetConnectionCallback(cb ConnectionCallback) { conn.connectionCallback = cb }
func (conn *TcpConnection) SetMessageCallback(cb MessageCallback)       { conn.messageCallback = cb }
func (conn *TcpConnection) SetWriteCompleteCallback(cb WriteCompleteCallback) {
	conn.writeCompleteCallback = cb
}
func (conn *TcpConnection) SetHighWaterMarkCallback(cb HighWaterMarkCallback, mark int) {
	conn.highWaterMarkCallback = cb
	conn.highWaterMark = mark
}
func (conn *TcpConnection) SetCloseCallback(cb CloseCallback) { conn.closeCallback = cb }

// EnableHandshake turns on the optional version-greeting preamble: right
// after ConnectEstablished this connection sends a HandshakeGreeting for
// ProtocolVersion and expects one back before the first byte reaches
// MessageCallback. Off by default; must be called before ConnectEstablished.
func (conn *TcpConnection) EnableHandshake() {
	conn.handshakeEnabled = true
	conn.handshakePending = true
}

// SetHandshakeCallback installs the callback fired once the peer's greeting
// has been decoded. Only meaningful when EnableHandshake was called.
func (conn *TcpConnection) SetHandshakeCallback(cb HandshakeCallback) { conn.handshakeCallback = cb }

// SetTcpNoDelay toggles Nagle's algorithm.
func (conn *TcpConnection) SetTcpNoDelay(on bool) { conn.socket.SetNoDelay(on) }

// ConnectEstablished transitions Connecting -> Connected, ties the channel
// to this connection's lifetime, enables read interest, and fires
// connectionCallback. Called once by the owner right after construction.
func (conn *TcpConnection) ConnectEstablished() {
	conn.loop.assertInLoopThread()
	if conn.state != stateConnecting {
		obsFatalf("reactor: ConnectEstablished called twice for %s", conn.name)
	}
	conn.state = stateConnected
	conn.channel.Tie(func() bool { return conn.state != stateDisconnected })
	conn.channel.EnableRead()
	if conn.handshakeEnabled {
		conn.sendInLoop(HandshakeGreeting{Version: ProtocolVersion}.Encode())
	}
	conn.connectionCallback(conn)
}

// ConnectDestroyed transitions to Disconnected and detaches the channel.
// Called once by the owner after the close callback has run.
func (conn *TcpConnection) ConnectDestroyed() {
	conn.loop.assertInLoopThread()
	if conn.state == stateConnected {
		conn.state = stateDisconnected
		conn.channel.DisableAll()
		conn.connectionCallback(conn)
	}
	conn.channel.Remove()
}

// Send queues data for write, coalescing with any already-pending output.
// Safe to call from any goroutine.
func (conn *TcpConnection) Send(data []byte) {
	if conn.state != stateConnected {
		return
	}
	if conn.loop.IsInLoopThread() {
		conn.sendInLoop(data)
		return
	}
	cp := append([]byte(nil), data...)
	conn.loop.QueueInLoop(func() { conn.sendInLoop(cp) })
}

// SendString is a convenience wrapper over Send.
func (conn *TcpConnection) SendString(s string) { conn.Send([]byte(s)) }

func (conn *TcpConnection) sendInLoop(data []byte) {
	conn.loop.assertInLoopThread()
	if conn.state == stateDisconnected {
		obsWarn("giving up sending on a disconnected connection")
		return
	}

	var written int
	if !conn.channel.IsWriting() && conn.outputBuffer.Readable() == 0 {
		n, err := unix.Write(conn.channel.FD(), data)
		if n >= 0 {
			written = n
			if written == len(data) && conn.writeCompleteCallback != nil {
				conn.loop.QueueInLoop(func() { conn.writeCompleteCallback(conn) })
			}
		} else {
			written = 0
			if err != unix.EWOULDBLOCK && err != unix.EAGAIN {
				obsSysError("write", err)
				if err == unix.EPIPE || err == unix.ECONNRESET {
					return
				}
			}
		}
	}

	remaining := data[written:]
	if len(remaining) == 0 {
		return
	}

	queued := conn.outputBuffer.Readable() + len(remaining)
	if queued >= conn.highWaterMark && conn.outputBuffer.Readable() < conn.highWaterMark && conn.highWaterMarkCallback != nil {
		conn.loop.QueueInLoop(func() { conn.highWaterMarkCallback(conn, queued) })
	}
	conn.outputBuffer.Append(remaining)
	if !conn.channel.IsWriting() {
		conn.channel.EnableWrite()
	}
}

// Shutdown half-closes the write side once pending output drains. Safe to
// call from any goroutine.
func (conn *TcpConnection) Shutdown() {
	if conn.state != stateConnected {
		return
	}
	conn.loop.RunInLoop(func() {
		if conn.state == stateConnected {
			conn.state = stateDisconnecting
			if !conn.channel.IsWriting() {
				conn.socket.ShutdownWrite()
			}
		}
	})
}

// ForceClose tears the connection down immediately, ignoring any pending
// output. Safe to call from any goroutine.
func (conn *TcpConnection) ForceClose() {
	if conn.state == stateConnected || conn.state == stateDisconnecting {
		conn.state = stateDisconnecting
		conn.loop.QueueInLoop(conn.forceCloseInLoop)
	}
}

// ForceCloseWithDelay is ForceClose deferred by d, giving a draining peer a
// bounded grace period before the connection is torn down unconditionally.
func (conn *TcpConnection) ForceCloseWithDelay(d time.Duration) {
	if conn.state == stateConnected || conn.state == stateDisconnecting {
		conn.state = stateDisconnecting
		conn.loop.RunAfter(d, conn.ForceClose)
	}
}

func (conn *TcpConnection) forceCloseInLoop() {
	conn.loop.assertInLoopThread()
	if conn.state == stateConnected || conn.state == stateDisconnecting {
		conn.handleClose()
	}
}

// StartRead/StopRead toggle read interest without tearing down the
// connection, used to apply backpressure from the application layer.
func (conn *TcpConnection) StartRead() {
	conn.loop.RunInLoop(func() {
		if !conn.reading {
			conn.channel.EnableRead()
			conn.reading = true
		}
	})
}

func (conn *TcpConnection) StopRead() {
	conn.loop.RunInLoop(func() {
		if conn.reading {
			conn.channel.DisableRead()
			conn.reading = false
		}
	})
}

func (conn *TcpConnection) handleRead(receivedAt time.Time) {
	conn.loop.assertInLoopThread()
	n, err := conn.inputBuffer.ReadFD(conn.channel.FD())
	switch {
	case n > 0:
		if conn.handshakePending {
			if !conn.consumeHandshakeGreeting() {
				return
			}
		}
		if conn.inputBuffer.Readable() > 0 {
			conn.messageCallback(conn, conn.inputBuffer, receivedAt)
		}
	case n == 0:
		conn.handleClose()
	default:
		if err != unix.EAGAIN && err != unix.EWOULDBLOCK {
			obsSysError("read", err)
			conn.handleError()
		}
	}
}

// consumeHandshakeGreeting strips a pending peer greeting off the front of
// inputBuffer once enough bytes have arrived. Returns false if it needs to
// wait for more bytes before any application data can be delivered.
func (conn *TcpConnection) consumeHandshakeGreeting() bool {
	if conn.inputBuffer.Readable() < handshakeGreetingLen {
		return false
	}
	greeting, err := DecodeHandshakeGreeting(conn.inputBuffer.Peek())
	conn.inputBuffer.Retrieve(handshakeGreetingLen)
	conn.handshakePending = false
	if err != nil {
		obsWarnf("%s: malformed handshake greeting: %v", conn.name, err)
		conn.ForceClose()
		return false
	}
	compatible := NegotiateVersion(ProtocolVersion, greeting.Version)
	conn.SetContext(greeting.Version)
	if conn.handshakeCallback != nil {
		conn.handshakeCallback(conn, greeting.Version, compatible)
	}
	if !compatible {
		obsWarnf("%s: incompatible peer protocol version %s (local %s)", conn.name, greeting.Version, ProtocolVersion)
		conn.ForceClose()
		return false
	}
	return true
}

func (conn *TcpConnection) handleWrite() {
	conn.loop.assertInLoopThread()
	if !conn.channel.IsWriting() {
		obsTrace("connection is down, no more writing")
		return
	}
	n, err := unix.Write(conn.channel.FD(), conn.outputBuffer.Peek())
	if err != nil {
		if err != unix.EAGAIN && err != unix.EWOULDBLOCK {
			obsSysError("write", err)
		}
		return
	}
	conn.outputBuffer.Retrieve(n)
	if conn.outputBuffer.Readable() == 0 {
		conn.channel.DisableWrite()
		if conn.writeCompleteCallback != nil {
			conn.loop.QueueInLoop(func() { conn.writeCompleteCallback(conn) })
		}
		if conn.state == stateDisconnecting {
			conn.socket.ShutdownWrite()
		}
	}
}

func (conn *TcpConnection) handleClose() {
	conn.loop.assertInLoopThread()
	obsTracef("fd = %d state = %d", conn.channel.FD(), conn.state)
	if conn.state == stateDisconnected {
		return
	}
	conn.state = stateDisconnected
	conn.channel.DisableAll()
	conn.connectionCallback(conn)
	if conn.closeCallback != nil {
		conn.closeCallback(conn)
	}
}

func (conn *TcpConnection) handleError() {
	errno := unix.Errno(socketError(conn.channel.FD()))
	obsErrorf("TcpConnection %s SO_ERROR %v", conn.name, errno)
}
