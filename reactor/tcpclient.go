//go:build linux

package reactor

import (
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// TcpClient owns a Connector and the single TcpConnection it produces,
// reconnecting through the same Connector on unexpected close. It is the
// Go analogue of Asuka::Net::TcpClient.
type TcpClient struct {
	loop *EventLoop
	name string

	connector *Connector
	retry     atomic.Bool
	connect   atomic.Bool

	mu         sync.Mutex
	connection *TcpConnection
	nextConnID int

	connectionCallback    ConnectionCallback
	messageCallback       MessageCallback
	writeCompleteCallback WriteCompleteCallback

	handshakeEnabled  bool
	handshakeCallback HandshakeCallback
}

// NewTcpClient builds a client that will connect to peer once Connect is
// called.
func NewTcpClient(loop *EventLoop, name string, peer Endpoint) *TcpClient {
	c := &TcpClient{
		loop:               loop,
		name:               name,
		connector:          NewConnector(loop, peer),
		connectionCallback: defaultConnectionCallback,
		messageCallback:    defaultMessageCallback,
	}
	c.connect.Store(true)
	c.connector.SetNewConnectionCallback(c.newConnection)
	return c
}

// SetConnectionCallback/SetMessageCallback/SetWriteCompleteCallback install
// the callbacks propagated to the (re)connected TcpConnection. Must be
// called before Connect.
func (c *TcpClient) SetConnectionCallback(cb ConnectionCallback) { c.connectionCallback = cb }
func (c *TcpClient) SetMessageCallback(cb MessageCallback)       { c.messageCallback = cb }
func (c *TcpClient) SetWriteCompleteCallback(cb WriteCompleteCallback) {
	c.writeCompleteCallback = cb
}

// SetRetry enables or disables automatic reconnection after the current
// connection closes unexpectedly.
func (c *TcpClient) SetRetry(on bool) { c.retry.Store(on) }

// EnableHandshake turns on the version-greeting preamble (see
// TcpConnection.EnableHandshake) for every connection this client makes,
// including reconnects. cb, if non-nil, fires once the peer's greeting has
// been decoded. Must be called before Connect.
func (c *TcpClient) EnableHandshake(cb HandshakeCallback) {
	c.handshakeEnabled = true
	c.handshakeCallback = cb
}

// Connect starts the connector. Safe to call from any goroutine.
func (c *TcpClient) Connect() {
	c.connect.Store(true)
	c.connector.Start()
}

// Disconnect shuts down the current connection gracefully, if any, and
// keeps the client from reconnecting once it closes. A connect attempt or
// backoff retry already in progress is not canceled; Stop does that.
func (c *TcpClient) Disconnect() {
	c.connect.Store(false)
	c.mu.Lock()
	conn := c.connection
	c.mu.Unlock()
	if conn != nil {
		conn.Shutdown()
	}
}

// Stop halts the connector immediately, canceling any in-flight connect
// attempt. The current connection, if any, is left for Disconnect to
// handle separately.
func (c *TcpClient) Stop() {
	c.connect.Store(false)
	c.connector.Stop()
}

// Connection returns the current connection, or nil if none is
// established yet.
func (c *TcpClient) Connection() *TcpConnection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connection
}

func (c *TcpClient) newConnection(sockfd int) {
	c.loop.assertInLoopThread()

	var peer Endpoint
	if sa, err := unix.Getpeername(sockfd); err == nil {
		peer, _ = endpointFromSockaddr(sa)
	}
	var local Endpoint
	if sa, err := unix.Getsockname(sockfd); err == nil {
		local, _ = endpointFromSockaddr(sa)
	}

	c.mu.Lock()
	c.nextConnID++
	name := fmt.Sprintf("%s#%d", c.name, c.nextConnID)
	c.mu.Unlock()

	conn := NewTcpConnection(c.loop, name, sockfd, local, peer)
	conn.SetConnectionCallback(c.connectionCallback)
	conn.SetMessageCallback(c.messageCallback)
	conn.SetWriteCompleteCallback(c.writeCompleteCallback)
	conn.SetCloseCallback(c.removeConnection)
	if c.handshakeEnabled {
		conn.EnableHandshake()
		conn.SetHandshakeCallback(c.handshakeCallback)
	}

	c.mu.Lock()
	c.connection = conn
	c.mu.Unlock()

	conn.ConnectEstablished()
}

func (c *TcpClient) removeConnection(conn *TcpConnection) {
	c.loop.assertInLoopThread()

	c.mu.Lock()
	if c.connection == conn {
		c.connection = nil
	}
	c.mu.Unlock()

	c.loop.QueueInLoop(conn.ConnectDestroyed)

	if c.retry.Load() && c.connect.Load() {
		c.connector.Restart()
	}
}
