package reactor

import (
	"encoding/binary"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// ProtocolVersion is this build's wire protocol version, advertised by
// HandshakeGreeting and checked against a peer's greeting by
// NegotiateVersion. Bump the minor version for backward-compatible
// additions and the major version for breaking wire changes.
var ProtocolVersion = semver.MustParse("1.0.0")

const handshakeGreetingLen = 2 + 2 + 2 // major, minor, patch, each a big-endian uint16

// HandshakeGreeting is the 6-byte version preamble a TcpConnection sends
// immediately after ConnectEstablished, before any application message.
// This is not part of the original protocol, which assumes both ends are
// built from the same source tree; it is added here so independently
// versioned peers can refuse to talk past an incompatible wire format.
type HandshakeGreeting struct {
	Version *semver.Version
}

// Encode renders the greeting as its fixed 6-byte wire form.
func (g HandshakeGreeting) Encode() []byte {
	buf := make([]byte, handshakeGreetingLen)
	binary.BigEndian.PutUint16(buf[0:2], uint16(g.Version.Major()))
	binary.BigEndian.PutUint16(buf[2:4], uint16(g.Version.Minor()))
	binary.BigEndian.PutUint16(buf[4:6], uint16(g.Version.Patch()))
	return buf
}

// DecodeHandshakeGreeting parses a 6-byte greeting previously produced by
// Encode.
func DecodeHandshakeGreeting(b []byte) (HandshakeGreeting, error) {
	if len(b) < handshakeGreetingLen {
		return HandshakeGreeting{}, fmt.Errorf("reactor: short handshake greeting (%d bytes)", len(b))
	}
	major := binary.BigEndian.Uint16(b[0:2])
	minor := binary.BigEndian.Uint16(b[2:4])
	patch := binary.BigEndian.Uint16(b[4:6])
	v, err := semver.NewVersion(fmt.Sprintf("%d.%d.%d", major, minor, patch))
	if err != nil {
		return HandshakeGreeting{}, err
	}
	return HandshakeGreeting{Version: v}, nil
}

// NegotiateVersion reports whether a peer's advertised version is
// compatible with local, using the conventional same-major,
// greater-or-equal-minor compatibility rule.
func NegotiateVersion(local, peer *semver.Version) bool {
	c, err := semver.NewConstraint(fmt.Sprintf("~%d.%d", local.Major(), local.Minor()))
	if err != nil {
		return local.Major() == peer.Major()
	}
	return c.Check(peer) || peer.Major() == local.Major() && peer.Minor() >= local.Minor()
}
