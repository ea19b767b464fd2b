package reactor

import "time"

// ReadEventCallback is invoked when a channel becomes readable; receivedAt
// is the timestamp the demultiplexer sampled immediately after its wait
// returned.
type ReadEventCallback func(receivedAt time.Time)

// EventCallback is invoked for write/close/error readiness, none of which
// carry a timestamp.
type EventCallback func()

// TimerCallback is invoked when a Timer expires.
type TimerCallback func()

// ConnectionCallback is invoked on connection-established and
// connection-torn-down transitions.
type ConnectionCallback func(conn *TcpConnection)

// MessageCallback is invoked when bytes have been read into a connection's
// input buffer.
type MessageCallback func(conn *TcpConnection, buf *Buffer, receivedAt time.Time)

// WriteCompleteCallback is invoked once the output buffer fully drains.
type WriteCompleteCallback func(conn *TcpConnection)

// HighWaterMarkCallback is invoked when queued output bytes cross the
// high-water mark on a rising transition.
type HighWaterMarkCallback func(conn *TcpConnection, queuedBytes int)

// CloseCallback is invoked once a connection has fully closed, used
// internally by TcpServer/TcpClient to reap their connection maps.
type CloseCallback func(conn *TcpConnection)

// NewConnectionCallback is invoked by an Acceptor for each accepted fd.
type NewConnectionCallback func(fd int, peer Endpoint)

func defaultConnectionCallback(conn *TcpConnection) {
	obsTracef("%s -> %s is %s", conn.LocalAddress(), conn.PeerAddress(), upDown(conn.Connected()))
}

func defaultMessageCallback(_ *TcpConnection, buf *Buffer, _ time.Time) {
	buf.RetrieveAll()
}

func upDown(connected bool) string {
	if connected {
		return "UP"
	}
	return "DOWN"
}
