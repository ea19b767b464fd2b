//go:build linux

package reactor

import (
	"fmt"
	"net/netip"

	"golang.org/x/sys/unix"
)

// Socket owns exactly one non-blocking stream descriptor. It is the Go
// analogue of Asuka::Net::Socket: bind/listen/accept/connect are thin
// wrappers around the syscalls, and the descriptor is always closed when
// the Socket is discarded.
type Socket struct {
	fd int
}

// newNonblockSocket creates a non-blocking, close-on-exec stream socket for
// the given address family, mirroring create_nonblock_socket in socket.cpp.
// Failure here is a programmer/environment error and is fatal, per §7.
func newNonblockSocket(family int) Socket {
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		obsSysFatal("socket", err)
	}
	return Socket{fd: fd}
}

// newSocketFromFD wraps an already-open descriptor (e.g. one returned by
// accept(2)) without creating a new one.
func newSocketFromFD(fd int) Socket { return Socket{fd: fd} }

// FD returns the underlying descriptor.
func (s Socket) FD() int { return s.fd }

// Bind binds the socket to localAddr. Fatal on error: per §4.B this is
// caller misuse, not a transient condition.
func (s Socket) Bind(localAddr Endpoint) {
	if err := unix.Bind(s.fd, sockaddrOf(localAddr)); err != nil {
		obsSysFatal("bind", err)
	}
}

// Listen marks the socket as a listening socket with the system-maximum
// backlog (SOMAXCONN), matching Socket::listen.
func (s Socket) Listen() {
	if err := unix.Listen(s.fd, unix.SOMAXCONN); err != nil {
		obsSysFatal("listen", err)
	}
}

// Accept accepts one pending connection, returning the new descriptor and
// the peer's endpoint. On failure it returns -1 and the raw errno so the
// caller (Acceptor) can apply the EMFILE idle-fd trick.
func (s Socket) Accept() (fd int, peer Endpoint, err error) {
	nfd, sa, acceptErr := unix.Accept4(s.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if acceptErr != nil {
		return -1, Endpoint{}, acceptErr
	}
	peer, err = endpointFromSockaddr(sa)
	if err != nil {
		_ = unix.Close(nfd)
		return -1, Endpoint{}, err
	}
	return nfd, peer, nil
}

// Connect issues a non-blocking connect(2) and returns its raw result and
// errno for the Connector to interpret per §4.H.
func (s Socket) Connect(peer Endpoint) error {
	return unix.Connect(s.fd, sockaddrOf(peer))
}

// ShutdownWrite half-closes the write side (SHUT_WR).
func (s Socket) ShutdownWrite() error {
	return unix.Shutdown(s.fd, unix.SHUT_WR)
}

// Close closes the descriptor. Safe to call once; the Socket should not be
// reused afterward.
func (s Socket) Close() error {
	return unix.Close(s.fd)
}

// SetReuseAddr toggles SO_REUSEADDR.
func (s Socket) SetReuseAddr(on bool) {
	setBoolSockopt(s.fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, on, "SO_REUSEADDR")
}

// SetReusePort toggles SO_REUSEPORT.
func (s Socket) SetReusePort(on bool) {
	setBoolSockopt(s.fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, on, "SO_REUSEPORT")
}

// SetKeepAlive toggles SO_KEEPALIVE.
func (s Socket) SetKeepAlive(on bool) {
	setBoolSockopt(s.fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, on, "SO_KEEPALIVE")
}

// SetNoDelay toggles TCP_NODELAY.
func (s Socket) SetNoDelay(on bool) {
	setBoolSockopt(s.fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, on, "TCP_NODELAY")
}

func setBoolSockopt(fd, level, name int, on bool, label string) {
	v := 0
	if on {
		v = 1
	}
	if err := unix.SetsockoptInt(fd, level, name, v); err != nil {
		obsSysError(fmt.Sprintf("setsockopt %s", label), err)
	}
}

// socketError reads SO_ERROR, used after a connect write-readiness event
// resolves.
func socketError(fd int) int {
	v, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return int(errnoOf(err))
	}
	return v
}

func sockaddrOf(e Endpoint) unix.Sockaddr {
	if e.IsIPv6() {
		sa := &unix.SockaddrInet6{Port: int(e.Port())}
		sa.Addr = e.IP().As16()
		return sa
	}
	sa := &unix.SockaddrInet4{Port: int(e.Port())}
	sa.Addr = e.IP().As4()
	return sa
}

func endpointFromSockaddr(sa unix.Sockaddr) (Endpoint, error) {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return Endpoint{addr: netip.AddrFrom4(v.Addr), port: uint16(v.Port)}, nil
	case *unix.SockaddrInet6:
		return Endpoint{addr: netip.AddrFrom16(v.Addr), port: uint16(v.Port)}, nil
	default:
		return Endpoint{}, fmt.Errorf("%w: unsupported sockaddr %T", ErrInvalidAddress, sa)
	}
}

func errnoOf(err error) unix.Errno {
	if e, ok := err.(unix.Errno); ok {
		return e
	}
	return 0
}
