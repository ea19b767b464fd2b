package reactor

import (
	"testing"

	"github.com/Masterminds/semver/v3"
)

func TestHandshakeGreetingRoundTrip(t *testing.T) {
	g := HandshakeGreeting{Version: semver.MustParse("1.2.3")}
	decoded, err := DecodeHandshakeGreeting(g.Encode())
	if err != nil {
		t.Fatal(err)
	}
	if !decoded.Version.Equal(g.Version) {
		t.Errorf("decoded version = %s, want %s", decoded.Version, g.Version)
	}
}

func TestDecodeHandshakeGreetingShort(t *testing.T) {
	if _, err := DecodeHandshakeGreeting([]byte{0, 1}); err == nil {
		t.Fatal("expected an error decoding a short greeting")
	}
}

func TestNegotiateVersion(t *testing.T) {
	local := semver.MustParse("1.2.0")
	cases := []struct {
		peer string
		want bool
	}{
		{"1.2.0", true},
		{"1.3.0", true},
		{"1.1.0", false},
		{"2.0.0", false},
	}
	for _, tc := range cases {
		peer := semver.MustParse(tc.peer)
		if got := NegotiateVersion(local, peer); got != tc.want {
			t.Errorf("NegotiateVersion(%s, %s) = %v, want %v", local, peer, got, tc.want)
		}
	}
}
