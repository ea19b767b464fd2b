package reactor

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
)

// ErrInvalidAddress is returned when an endpoint's textual IP cannot be parsed.
var ErrInvalidAddress = errors.New("reactor: invalid address")

// Endpoint is an immutable IPv4 or IPv6 address/port pair. It is the Go
// analogue of Asuka::Net::IpPort: a dual-stack socket address value type
// constructed once and never mutated.
type Endpoint struct {
	addr netip.Addr
	port uint16
}

// NewEndpoint builds a wildcard endpoint for the given port, choosing
// between the IPv4 and IPv6 "any" address.
func NewEndpoint(port uint16, ipv6 bool) Endpoint {
	if ipv6 {
		return Endpoint{addr: netip.IPv6unspecified(), port: port}
	}
	return Endpoint{addr: netip.IPv4Unspecified(), port: port}
}

// ParseEndpoint parses a textual IP address and combines it with port.
// An empty ipText yields the IPv4 wildcard address.
func ParseEndpoint(ipText string, port uint16) (Endpoint, error) {
	if ipText == "" {
		return NewEndpoint(port, false), nil
	}
	addr, err := netip.ParseAddr(ipText)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: %q: %v", ErrInvalidAddress, ipText, err)
	}
	return Endpoint{addr: addr, port: port}, nil
}

// EndpointFromSockaddr builds an Endpoint from a resolved net.Addr, as
// returned by accept(2) or getsockname(2) style calls.
func EndpointFromSockaddr(a net.Addr) (Endpoint, error) {
	tcpAddr, ok := a.(*net.TCPAddr)
	if !ok {
		return Endpoint{}, fmt.Errorf("%w: unsupported sockaddr type %T", ErrInvalidAddress, a)
	}
	addr, ok := netip.AddrFromSlice(tcpAddr.IP)
	if !ok {
		return Endpoint{}, fmt.Errorf("%w: %v", ErrInvalidAddress, tcpAddr.IP)
	}
	return Endpoint{addr: addr.Unmap(), port: uint16(tcpAddr.Port)}, nil
}

// IP returns the address component.
func (e Endpoint) IP() netip.Addr { return e.addr }

// Port returns the port component in host byte order.
func (e Endpoint) Port() uint16 { return e.port }

// IsIPv6 reports whether the address family is IPv6.
func (e Endpoint) IsIPv6() bool { return e.addr.Is6() && !e.addr.Is4In6() }

// String renders "ip:port", using brackets for IPv6 as net.JoinHostPort does.
func (e Endpoint) String() string {
	return net.JoinHostPort(e.addr.String(), fmt.Sprintf("%d", e.port))
}

// NetworkOrderPort returns the port in network byte order, matching the
// original's direct use of sockaddr_in::sin_port.
func (e Endpoint) NetworkOrderPort() uint16 {
	return uint16(e.port<<8) | uint16(e.port>>8)
}

// TCPAddr converts the endpoint to a *net.TCPAddr for use with the stdlib
// net package's resolver-free constructors.
func (e Endpoint) TCPAddr() *net.TCPAddr {
	return &net.TCPAddr{IP: e.addr.AsSlice(), Port: int(e.port)}
}

// Equal reports value equality, used by tests checking the parse/format
// round-trip invariant from §8.
func (e Endpoint) Equal(o Endpoint) bool {
	return e.addr == o.addr && e.port == o.port
}
