//go:build linux

package reactor

import (
	"time"

	"golang.org/x/sys/unix"
)

// Acceptor owns a listening Socket and Channel, handing each accepted
// connection to a NewConnectionCallback. The idle fd trick below mirrors
// Acceptor::handle_read in acceptor.cpp: accept4 fails with EMFILE once the
// process fd table is exhausted, and a level-triggered epoll/poll would spin
// hot on the still-pending connection forever. Keeping one fd in reserve,
// closing it, accepting (which then succeeds, evicting the reserved slot),
// and immediately closing that connection sheds the pending client instead
// of wedging the loop.
type Acceptor struct {
	loop      *EventLoop
	socket    Socket
	channel   *Channel
	idleFD    int
	listening bool
	newConnCb NewConnectionCallback
}

// NewAcceptor creates a listening socket bound to local, optionally with
// SO_REUSEPORT for load-balanced multi-acceptor setups.
func NewAcceptor(loop *EventLoop, local Endpoint, reusePort bool) *Acceptor {
	family := unix.AF_INET
	if local.IsIPv6() {
		family = unix.AF_INET6
	}
	sock := newNonblockSocket(family)
	sock.SetReuseAddr(true)
	if reusePort {
		sock.SetReusePort(true)
	}
	sock.Bind(local)

	idleFD, err := unix.Open("/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		obsSysFatal("open /dev/null", err)
	}

	a := &Acceptor{loop: loop, socket: sock, idleFD: idleFD}
	a.channel = newChannel(loop, sock.FD())
	a.channel.SetReadCallback(a.handleRead)
	return a
}

// Listen starts listening and enables read interest; new connections arrive
// via the NewConnectionCallback installed with SetNewConnectionCallback.
func (a *Acceptor) Listen() {
	a.loop.assertInLoopThread()
	a.listening = true
	a.socket.Listen()
	a.channel.EnableRead()
}

// SetNewConnectionCallback installs the callback invoked per accepted fd.
func (a *Acceptor) SetNewConnectionCallback(cb NewConnectionCallback) { a.newConnCb = cb }

func (a *Acceptor) handleRead(time.Time) {
	a.loop.assertInLoopThread()
	fd, peer, err := a.socket.Accept()
	if err == nil {
		if a.newConnCb != nil {
			a.newConnCb(fd, peer)
		} else {
			unix.Close(fd)
		}
		return
	}

	obsSysError("accept4", err)
	if err == unix.EMFILE {
		unix.Close(a.idleFD)
		newFD, _, _ := a.socket.Accept()
		if newFD >= 0 {
			unix.Close(newFD)
		}
		a.idleFD, _ = unix.Open("/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0)
	}
}

// Close releases the listening socket and the reserved idle fd.
func (a *Acceptor) Close() error {
	a.channel.DisableAll()
	a.channel.Remove()
	unix.Close(a.idleFD)
	return a.socket.Close()
}
