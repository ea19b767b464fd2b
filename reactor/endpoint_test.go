package reactor

import "testing"

func TestParseEndpointRoundTrip(t *testing.T) {
	cases := []struct {
		ip   string
		port uint16
	}{
		{"127.0.0.1", 8080},
		{"0.0.0.0", 0},
		{"::1", 9000},
		{"2001:db8::1", 443},
	}
	for _, tc := range cases {
		ep, err := ParseEndpoint(tc.ip, tc.port)
		if err != nil {
			t.Fatalf("ParseEndpoint(%q, %d): %v", tc.ip, tc.port, err)
		}
		if ep.Port() != tc.port {
			t.Errorf("Port() = %d, want %d", ep.Port(), tc.port)
		}
		again, err := ParseEndpoint(ep.IP().String(), ep.Port())
		if err != nil {
			t.Fatalf("re-parse: %v", err)
		}
		if !ep.Equal(again) {
			t.Errorf("round trip mismatch: %v != %v", ep, again)
		}
	}
}

func TestParseEndpointInvalid(t *testing.T) {
	if _, err := ParseEndpoint("not-an-ip", 80); err == nil {
		t.Fatal("expected an error for an unparsable address")
	}
}

func TestNewEndpointWildcard(t *testing.T) {
	v4 := NewEndpoint(80, false)
	if v4.IsIPv6() {
		t.Error("NewEndpoint(80, false) should be IPv4")
	}
	v6 := NewEndpoint(80, true)
	if !v6.IsIPv6() {
		t.Error("NewEndpoint(80, true) should be IPv6")
	}
}

func TestEndpointString(t *testing.T) {
	ep, err := ParseEndpoint("192.0.2.1", 1234)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := ep.String(), "192.0.2.1:1234"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
