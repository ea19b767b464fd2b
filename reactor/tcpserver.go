//go:build linux

package reactor

import (
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// TcpServer owns an Acceptor and an EventLoopThreadPool, accepting
// connections on its base loop and handing each to a worker loop. It is
// the Go analogue of Asuka::Net::TcpServer.
type TcpServer struct {
	baseLoop *EventLoop
	name     string
	local    Endpoint

	acceptor   *Acceptor
	threadPool *EventLoopThreadPool

	mu          sync.Mutex
	connections map[string]*TcpConnection
	nextConnID  int

	connectionCallback    ConnectionCallback
	messageCallback       MessageCallback
	writeCompleteCallback WriteCompleteCallback

	handshakeEnabled  bool
	handshakeCallback HandshakeCallback

	started atomic.Bool
}

// NewTcpServer builds a server that will listen on local once Start is
// called. useEpoll selects the demultiplexer back end for every worker
// loop the thread pool spawns.
func NewTcpServer(baseLoop *EventLoop, name string, local Endpoint, useEpoll bool) *TcpServer {
	s := &TcpServer{
		baseLoop:           baseLoop,
		name:                name,
		local:               local,
		connections:         make(map[string]*TcpConnection),
		connectionCallback:  defaultConnectionCallback,
		messageCallback:     defaultMessageCallback,
	}
	s.acceptor = NewAcceptor(baseLoop, local, true)
	s.acceptor.SetNewConnectionCallback(s.newConnection)
	s.threadPool = NewEventLoopThreadPool(baseLoop, name, useEpoll)
	return s
}

// SetConnectionCallback/SetMessageCallback/SetWriteCompleteCallback install
// the callbacks propagated to every accepted TcpConnection. Must be called
// before Start.
func (s *TcpServer) SetConnectionCallback(cb ConnectionCallback) { s.connectionCallback = cb }
func (s *TcpServer) SetMessageCallback(cb MessageCallback)       { s.messageCallback = cb }
func (s *TcpServer) SetWriteCompleteCallback(cb WriteCompleteCallback) {
	s.writeCompleteCallback = cb
}

// EnableHandshake turns on the version-greeting preamble (see
// TcpConnection.EnableHandshake) for every connection this server accepts
// from now on. cb, if non-nil, fires once per connection once the peer's
// greeting has been decoded. Must be called before Start.
func (s *TcpServer) EnableHandshake(cb HandshakeCallback) {
	s.handshakeEnabled = true
	s.handshakeCallback = cb
}

// Start spins up numThreads worker loops and begins listening. Idempotent:
// calling it more than once is a no-op, matching TcpServer::start's atomic
// started_ guard.
func (s *TcpServer) Start(numThreads int) error {
	if !s.started.CompareAndSwap(false, true) {
		return nil
	}
	if err := s.threadPool.Start(numThreads, nil); err != nil {
		return err
	}
	s.baseLoop.RunInLoop(func() {
		s.acceptor.Listen()
	})
	return nil
}

func (s *TcpServer) newConnection(sockfd int, peer Endpoint) {
	s.baseLoop.assertInLoopThread()
	loop := s.threadPool.GetNextLoop()

	s.mu.Lock()
	s.nextConnID++
	name := fmt.Sprintf("%s-%s#%d", s.name, s.local, s.nextConnID)
	s.mu.Unlock()

	local := s.local
	if la, err := localAddrOf(sockfd); err == nil {
		local = la
	}

	conn := NewTcpConnection(loop, name, sockfd, local, peer)
	conn.SetConnectionCallback(s.connectionCallback)
	conn.SetMessageCallback(s.messageCallback)
	conn.SetWriteCompleteCallback(s.writeCompleteCallback)
	conn.SetCloseCallback(s.removeConnection)
	if s.handshakeEnabled {
		conn.EnableHandshake()
		conn.SetHandshakeCallback(s.handshakeCallback)
	}

	s.mu.Lock()
	s.connections[name] = conn
	s.mu.Unlock()

	loop.RunInLoop(conn.ConnectEstablished)
}

func (s *TcpServer) removeConnection(conn *TcpConnection) {
	s.baseLoop.RunInLoop(func() {
		s.mu.Lock()
		delete(s.connections, conn.Name())
		s.mu.Unlock()
		conn.OwnerLoop().QueueInLoop(conn.ConnectDestroyed)
	})
}

// Connections returns a snapshot of currently tracked connections.
func (s *TcpServer) Connections() []*TcpConnection {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*TcpConnection, 0, len(s.connections))
	for _, c := range s.connections {
		out = append(out, c)
	}
	return out
}

func localAddrOf(fd int) (Endpoint, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return Endpoint{}, err
	}
	return endpointFromSockaddr(sa)
}
