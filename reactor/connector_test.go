//go:build linux

package reactor

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func TestClassifyConnectErrno(t *testing.T) {
	cases := []struct {
		errno unix.Errno
		want  connectResult
	}{
		{0, connectProceed},
		{unix.EINPROGRESS, connectProceed},
		{unix.EINTR, connectProceed},
		{unix.EISCONN, connectProceed},
		{unix.EAGAIN, connectRetry},
		{unix.ECONNREFUSED, connectRetry},
		{unix.ENETUNREACH, connectRetry},
		{unix.EACCES, connectFatal},
		{unix.EAFNOSUPPORT, connectFatal},
	}
	for _, tc := range cases {
		if got := classifyConnectErrno(tc.errno); got != tc.want {
			t.Errorf("classifyConnectErrno(%v) = %v, want %v", tc.errno, got, tc.want)
		}
	}
}

func TestConnectorBackoffDoublesUpToCap(t *testing.T) {
	b := newConnectorBackoff()
	want := []time.Duration{
		500 * time.Millisecond,
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second, // capped
		30 * time.Second,
	}
	for i, w := range want {
		got := b.NextBackOff()
		if got != w {
			t.Errorf("backoff step %d = %v, want %v", i, got, w)
		}
	}
}
