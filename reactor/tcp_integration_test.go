//go:build linux

package reactor

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Masterminds/semver/v3"
)

// startServerLoop builds a base EventLoop for a TcpServer on its own
// goroutine, matching the one-loop-per-thread construction rule.
func startServerLoop(t *testing.T) (*EventLoop, func()) {
	return startTestLoop(t, false)
}

func TestTcpServerEchoRoundTrip(t *testing.T) {
	serverLoop, stopServer := startServerLoop(t)
	defer stopServer()

	local := NewEndpoint(0, false)
	var server *TcpServer
	serverReady := make(chan struct{})
	serverLoop.RunInLoop(func() {
		server = NewTcpServer(serverLoop, "echo", local, false)
		server.SetMessageCallback(func(conn *TcpConnection, buf *Buffer, _ time.Time) {
			conn.Send([]byte(buf.RetrieveAllAsString()))
		})
		if err := server.Start(0); err != nil {
			t.Errorf("server.Start: %v", err)
		}
		close(serverReady)
	})
	<-serverReady

	var boundAddr Endpoint
	addrReady := make(chan struct{})
	serverLoop.RunInLoop(func() {
		boundAddr, _ = localAddrOf(server.acceptor.socket.FD())
		close(addrReady)
	})
	<-addrReady

	clientLoop, stopClient := startTestLoop(t, false)
	defer stopClient()

	peer, err := ParseEndpoint("127.0.0.1", boundAddr.Port())
	if err != nil {
		t.Fatal(err)
	}

	var (
		mu        sync.Mutex
		gotEcho   string
		connected = make(chan *TcpConnection, 1)
	)
	var client *TcpClient
	clientLoop.RunInLoop(func() {
		client = NewTcpClient(clientLoop, "echo-client", peer)
		client.SetConnectionCallback(func(conn *TcpConnection) {
			if conn.Connected() {
				connected <- conn
			}
		})
		client.SetMessageCallback(func(_ *TcpConnection, buf *Buffer, _ time.Time) {
			mu.Lock()
			gotEcho += buf.RetrieveAllAsString()
			mu.Unlock()
		})
		client.Connect()
	})

	var conn *TcpConnection
	select {
	case conn = <-connected:
	case <-time.After(3 * time.Second):
		t.Fatal("client never connected")
	}

	conn.Send([]byte("hello reactor"))

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		got := gotEcho
		mu.Unlock()
		if got == "hello reactor" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("echo never arrived, got %q", gotEcho)
}

func TestTcpServerEchoRoundTripWithHandshake(t *testing.T) {
	serverLoop, stopServer := startServerLoop(t)
	defer stopServer()

	local := NewEndpoint(0, false)
	var server *TcpServer
	var serverSawPeerVersion atomic.Bool
	serverReady := make(chan struct{})
	serverLoop.RunInLoop(func() {
		server = NewTcpServer(serverLoop, "echo-handshake", local, false)
		server.EnableHandshake(func(_ *TcpConnection, peerVersion *semver.Version, compatible bool) {
			serverSawPeerVersion.Store(peerVersion.Equal(ProtocolVersion) && compatible)
		})
		server.SetMessageCallback(func(conn *TcpConnection, buf *Buffer, _ time.Time) {
			conn.Send([]byte(buf.RetrieveAllAsString()))
		})
		if err := server.Start(0); err != nil {
			t.Errorf("server.Start: %v", err)
		}
		close(serverReady)
	})
	<-serverReady

	var boundAddr Endpoint
	addrReady := make(chan struct{})
	serverLoop.RunInLoop(func() {
		boundAddr, _ = localAddrOf(server.acceptor.socket.FD())
		close(addrReady)
	})
	<-addrReady

	clientLoop, stopClient := startTestLoop(t, false)
	defer stopClient()

	peer, err := ParseEndpoint("127.0.0.1", boundAddr.Port())
	if err != nil {
		t.Fatal(err)
	}

	var (
		mu        sync.Mutex
		gotEcho   string
		connected = make(chan *TcpConnection, 1)
	)
	var client *TcpClient
	clientLoop.RunInLoop(func() {
		client = NewTcpClient(clientLoop, "echo-handshake-client", peer)
		client.EnableHandshake(nil)
		client.SetConnectionCallback(func(conn *TcpConnection) {
			if conn.Connected() {
				connected <- conn
			}
		})
		client.SetMessageCallback(func(_ *TcpConnection, buf *Buffer, _ time.Time) {
			mu.Lock()
			gotEcho += buf.RetrieveAllAsString()
			mu.Unlock()
		})
		client.Connect()
	})

	var conn *TcpConnection
	select {
	case conn = <-connected:
	case <-time.After(3 * time.Second):
		t.Fatal("client never connected")
	}

	conn.Send([]byte("hi after handshake"))

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		got := gotEcho
		mu.Unlock()
		if got == "hi after handshake" {
			if v, ok := conn.Context(); ok {
				if ver, ok := v.(*semver.Version); !ok || !ver.Equal(ProtocolVersion) {
					t.Errorf("client context version = %v, want %s", v, ProtocolVersion)
				}
			} else {
				t.Error("client connection context was never set by the handshake")
			}
			waitDeadline := time.Now().Add(time.Second)
			for !serverSawPeerVersion.Load() && time.Now().Before(waitDeadline) {
				time.Sleep(10 * time.Millisecond)
			}
			if !serverSawPeerVersion.Load() {
				t.Error("server handshake callback never observed a compatible peer version")
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("echo never arrived, got %q", gotEcho)
}
